package fleet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/ngojclee/proxy-farm-system/shared/models"
)

// BuildNotification turns a rotation into the advisory shown to affected
// users. It has no side effects.
func BuildNotification(deviceID, deviceName, oldAddress, newAddress string, affected []string, at time.Time) models.Notification {
	if deviceName == "" {
		deviceName = deviceID
	}
	users := slices.Clone(affected)
	if users == nil {
		users = []string{}
	}

	return models.Notification{
		Type:              models.NotificationTypeIPChange,
		DeviceID:          deviceID,
		DeviceName:        deviceName,
		OldAddress:        oldAddress,
		NewAddress:        newAddress,
		AffectedUsers:     users,
		Timestamp:         at,
		Message:           fmt.Sprintf("DCOM %s IP changed from %s to %s", deviceName, oldAddress, newAddress),
		ActionRequired:    len(users) > 0,
		RecommendedAction: models.RecommendedAction,
	}
}

// Notifier delivers rotation advisories
type Notifier interface {
	Notify(ctx context.Context, notification models.Notification) error
}

// LogNotifier writes advisories to the log
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a notifier that logs every advisory
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify logs the advisory
func (ln *LogNotifier) Notify(_ context.Context, n models.Notification) error {
	ln.logger.Info(n.Message,
		"type", n.Type,
		"device_id", n.DeviceID,
		"affected_users", len(n.AffectedUsers),
		"action_required", n.ActionRequired)
	return nil
}

// MultiNotifier fans an advisory out to several notifiers
type MultiNotifier []Notifier

// Notify calls every notifier and joins their errors
func (mn MultiNotifier) Notify(ctx context.Context, n models.Notification) error {
	var errs []error
	for _, notifier := range mn {
		if err := notifier.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
