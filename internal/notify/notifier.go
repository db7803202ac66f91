// Package notify delivers notifications and sound cues to users over Redis
// pub/sub. Connected clients pick them up from their user channel.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"ridesync/internal/domain"
)

const channelPrefix = "notifications:"

// EventType tells notification and sound messages apart on a user channel.
type EventType string

const (
	EventNotification EventType = "notification"
	EventSound        EventType = "sound"
)

// Event is the payload published to a user channel.
type Event struct {
	Type         EventType            `json:"type"`
	Notification *domain.Notification `json:"notification,omitempty"`
	Sound        string               `json:"sound,omitempty"`
	SentAt       time.Time            `json:"sent_at"`
}

// Channel returns the pub/sub channel of a user.
func Channel(userID string) string {
	return channelPrefix + userID
}

// Notifier handles notification delivery.
type Notifier struct {
	client *redis.Client
	log    logrus.FieldLogger
	now    func() time.Time
}

// NewNotifier creates a new Notifier. A nil client only logs.
func NewNotifier(client *redis.Client, log logrus.FieldLogger) *Notifier {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Notifier{
		client: client,
		log:    log.WithField("component", "notifier"),
		now:    time.Now,
	}
}

// SendNotification delivers a notification to userID.
func (n *Notifier) SendNotification(ctx context.Context, userID string, notification domain.Notification) error {
	if userID == "" {
		return nil // No one to notify
	}
	if notification.ID == "" {
		notification.ID = uuid.NewString()
	}
	if notification.RecipientID == "" {
		notification.RecipientID = userID
	}
	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = n.now()
	}

	n.log.WithFields(logrus.Fields{
		"type":      notification.Type,
		"recipient": userID,
		"title":     notification.Title,
	}).Info(notification.Message)

	return n.send(ctx, userID, Event{Type: EventNotification, Notification: &notification})
}

// PlaySound asks the user's clients to play the sound with the given key.
func (n *Notifier) PlaySound(ctx context.Context, userID, key string) error {
	if userID == "" || key == "" {
		return nil
	}
	n.log.WithFields(logrus.Fields{"recipient": userID, "sound": key}).Debug("play sound")
	return n.send(ctx, userID, Event{Type: EventSound, Sound: key})
}

func (n *Notifier) send(ctx context.Context, userID string, event Event) error {
	if n.client == nil {
		return nil
	}
	event.SentAt = n.now()
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return n.client.Publish(ctx, Channel(userID), data).Err()
}
