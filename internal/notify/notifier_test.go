package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ridesync/internal/domain"
)

func newTestNotifier(t *testing.T) (*Notifier, *redis.Client, *test.Hook) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	log, hook := test.NewNullLogger()
	n := NewNotifier(client, log)
	n.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return n, client, hook
}

func receive(t *testing.T, sub *redis.PubSub) Event {
	t.Helper()
	msg, err := sub.ReceiveMessage(context.Background())
	require.NoError(t, err)
	var event Event
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &event))
	return event
}

func TestNotifier_SendNotificationPublishes(t *testing.T) {
	n, client, hook := newTestNotifier(t)
	ctx := context.Background()

	sub := client.Subscribe(ctx, Channel("p-1"))
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	err = n.SendNotification(ctx, "p-1", domain.Notification{
		Type:    domain.NotificationDriverAssigned,
		Title:   "Driver Assigned",
		Message: "A driver has accepted your ride",
		Data:    map[string]interface{}{"ride_id": "r-1"},
	})
	require.NoError(t, err)

	event := receive(t, sub)
	assert.Equal(t, EventNotification, event.Type)
	require.NotNil(t, event.Notification)
	assert.Equal(t, "p-1", event.Notification.RecipientID)
	assert.NotEmpty(t, event.Notification.ID)
	assert.Equal(t, domain.NotificationDriverAssigned, event.Notification.Type)
	assert.Equal(t, "r-1", event.Notification.Data["ride_id"])

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "A driver has accepted your ride", hook.LastEntry().Message)
}

func TestNotifier_PlaySound(t *testing.T) {
	n, client, _ := newTestNotifier(t)
	ctx := context.Background()

	sub := client.Subscribe(ctx, Channel("d-1"))
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, n.PlaySound(ctx, "d-1", domain.SoundNewRequest))

	event := receive(t, sub)
	assert.Equal(t, EventSound, event.Type)
	assert.Equal(t, domain.SoundNewRequest, event.Sound)
	assert.Nil(t, event.Notification)
}

func TestNotifier_SkipsEmptyRecipient(t *testing.T) {
	n := NewNotifier(nil, nil)
	assert.NoError(t, n.SendNotification(context.Background(), "", domain.Notification{Title: "x"}))
	assert.NoError(t, n.PlaySound(context.Background(), "", domain.SoundStatusChange))
	assert.NoError(t, n.SendNotification(context.Background(), "p-1", domain.Notification{Title: "logged only"}))
}
