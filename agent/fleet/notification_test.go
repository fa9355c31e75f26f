package fleet

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ngojclee/proxy-farm-system/shared/models"
)

type recordingNotifier struct {
	sent []models.Notification
	err  error
}

func (rn *recordingNotifier) Notify(_ context.Context, n models.Notification) error {
	rn.sent = append(rn.sent, n)
	return rn.err
}

func TestBuildNotification(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("with affected users", func(t *testing.T) {
		n := BuildNotification("dcom1", "Viettel 1", "1.2.3.4", "1.2.3.5", []string{"alice", "bob"}, at)

		require.Equal(t, models.NotificationTypeIPChange, n.Type)
		require.Equal(t, "dcom1", n.DeviceID)
		require.Equal(t, "Viettel 1", n.DeviceName)
		require.Equal(t, "DCOM Viettel 1 IP changed from 1.2.3.4 to 1.2.3.5", n.Message)
		require.Equal(t, []string{"alice", "bob"}, n.AffectedUsers)
		require.True(t, n.ActionRequired)
		require.Equal(t, models.RecommendedAction, n.RecommendedAction)
		require.Equal(t, at, n.Timestamp)
	})

	t.Run("without affected users", func(t *testing.T) {
		n := BuildNotification("dcom1", "Viettel 1", "1.2.3.4", "1.2.3.5", nil, at)
		require.False(t, n.ActionRequired)
		require.NotNil(t, n.AffectedUsers)
		require.Empty(t, n.AffectedUsers)
	})

	t.Run("name falls back to id", func(t *testing.T) {
		n := BuildNotification("dcom7", "", "unknown", "1.2.3.5", nil, at)
		require.Equal(t, "dcom7", n.DeviceName)
		require.Equal(t, "DCOM dcom7 IP changed from unknown to 1.2.3.5", n.Message)
	})

	t.Run("does not alias the input", func(t *testing.T) {
		users := []string{"alice"}
		n := BuildNotification("dcom1", "", "a", "b", users, at)
		users[0] = "mallory"
		require.Equal(t, []string{"alice"}, n.AffectedUsers)
	})
}

func TestMultiNotifier(t *testing.T) {
	boom := errors.New("boom")
	first := &recordingNotifier{err: boom}
	second := &recordingNotifier{}

	n := BuildNotification("dcom1", "", "a", "b", nil, time.Now())
	err := MultiNotifier{first, NewLogNotifier(testLogger()), second}.Notify(context.Background(), n)

	require.ErrorIs(t, err, boom)
	require.Len(t, first.sent, 1)
	require.Len(t, second.sent, 1)

	require.NoError(t, MultiNotifier{second}.Notify(context.Background(), n))
}
