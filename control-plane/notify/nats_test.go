package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ngojclee/proxy-farm-system/shared/models"
)

type published struct {
	subject string
	data    []byte
}

type fakePublisher struct {
	messages []published
	err      error
}

func (fp *fakePublisher) Publish(subject string, data []byte) error {
	if fp.err != nil {
		return fp.err
	}
	fp.messages = append(fp.messages, published{subject: subject, data: data})
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNATSNotifier_Notify(t *testing.T) {
	publisher := &fakePublisher{}
	notifier := NewNATSNotifier(publisher, "proxyfarm.ip_change", testLogger())

	notification := models.Notification{
		Type:           models.NotificationTypeIPChange,
		DeviceID:       "dcom1",
		OldAddress:     "1.2.3.4",
		NewAddress:     "1.2.3.5",
		AffectedUsers:  []string{"alice"},
		Timestamp:      time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		ActionRequired: true,
	}
	require.NoError(t, notifier.Notify(context.Background(), notification))

	require.Len(t, publisher.messages, 1)
	require.Equal(t, "proxyfarm.ip_change.dcom1", publisher.messages[0].subject)

	var decoded models.Notification
	require.NoError(t, json.Unmarshal(publisher.messages[0].data, &decoded))
	require.Equal(t, notification, decoded)

	require.NoError(t, notifier.Close())
}

func TestNATSNotifier_Errors(t *testing.T) {
	boom := errors.New("connection closed")
	notifier := NewNATSNotifier(&fakePublisher{err: boom}, "proxyfarm.ip_change", testLogger())

	err := notifier.Notify(context.Background(), models.Notification{DeviceID: "dcom1"})
	require.ErrorIs(t, err, boom)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = NewNATSNotifier(&fakePublisher{}, "s", testLogger()).Notify(ctx, models.Notification{})
	require.ErrorIs(t, err, context.Canceled)
}
