package redis

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"ridesync/internal/domain"
	"ridesync/internal/store"
)

const presenceChannelPrefix = "presence:ride:"

// ErrPresenceStopped is returned when publishing without a started bridge.
var ErrPresenceStopped = errors.New("presence bridge not started")

// positionMessage is the pub/sub payload of a position update.
type positionMessage struct {
	Role      domain.Role `json:"role"`
	UserID    string      `json:"user_id"`
	Lat       float64     `json:"lat"`
	Lng       float64     `json:"lng"`
	Heading   float64     `json:"heading,omitempty"`
	UpdatedAt time.Time   `json:"updated_at"`
}

func presenceChannel(kind domain.Kind, rideID string) string {
	return presenceChannelPrefix + string(kind) + ":" + rideID
}

// PresenceBridge exchanges live positions of a ride's parties over Redis
// pub/sub. One bridge serves one session.
type PresenceBridge struct {
	client    *redis.Client
	locations *LocationStore
	log       logrus.FieldLogger

	mu     sync.Mutex
	target store.PresenceTarget
	pubsub *redis.PubSub
	done   chan struct{}
}

// NewPresenceBridge creates a new PresenceBridge.
func NewPresenceBridge(client *redis.Client, locations *LocationStore, log logrus.FieldLogger) *PresenceBridge {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &PresenceBridge{
		client:    client,
		locations: locations,
		log:       log.WithField("component", "presence"),
	}
}

// Start subscribes to the ride's position channel. Positions of the other
// parties are replayed from the geo set first, then streamed.
func (b *PresenceBridge) Start(ctx context.Context, target store.PresenceTarget, onDriverMove, onPassengerMove func(domain.Location)) error {
	b.Stop()

	channel := presenceChannel(target.Kind, target.RideID)
	pubsub := b.client.Subscribe(ctx, channel)
	// Wait for the subscription confirmation so no message is lost.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return err
	}

	dispatch := func(role domain.Role, loc domain.Location) {
		switch role {
		case domain.RoleDriver:
			if onDriverMove != nil {
				onDriverMove(loc)
			}
		case domain.RolePassenger:
			if onPassengerMove != nil {
				onPassengerMove(loc)
			}
		}
	}

	if b.locations != nil {
		known, err := b.locations.LastLocations(ctx, target.Kind, target.RideID)
		if err != nil {
			b.log.WithError(err).WithField("ride_id", target.RideID).Warn("load last locations failed")
		}
		for _, p := range known {
			if p.Role != target.Role {
				dispatch(p.Role, domain.Location{Lat: p.Lat, Lng: p.Lng})
			}
		}
	}

	done := make(chan struct{})
	b.mu.Lock()
	b.target = target
	b.pubsub = pubsub
	b.done = done
	b.mu.Unlock()

	go func() {
		defer close(done)
		for msg := range pubsub.Channel() {
			var pos positionMessage
			if err := json.Unmarshal([]byte(msg.Payload), &pos); err != nil {
				b.log.WithError(err).WithField("channel", msg.Channel).Warn("dropping malformed position")
				continue
			}
			if pos.UserID == target.UserID {
				continue
			}
			dispatch(pos.Role, domain.Location{
				Lat:       pos.Lat,
				Lng:       pos.Lng,
				Heading:   pos.Heading,
				UpdatedAt: pos.UpdatedAt,
			})
		}
	}()

	b.log.WithFields(logrus.Fields{"ride_id": target.RideID, "kind": target.Kind}).Debug("presence subscribed")
	return nil
}

// Stop closes the subscription and waits for the reader to exit.
func (b *PresenceBridge) Stop() {
	b.mu.Lock()
	pubsub, done := b.pubsub, b.done
	b.pubsub, b.done = nil, nil
	b.target = store.PresenceTarget{}
	b.mu.Unlock()

	if pubsub == nil {
		return
	}
	if err := pubsub.Close(); err != nil {
		b.log.WithError(err).Warn("presence unsubscribe failed")
	}
	<-done
}

// Publish shares the session user's own position with the other party.
func (b *PresenceBridge) Publish(ctx context.Context, loc domain.Location) error {
	b.mu.Lock()
	target, started := b.target, b.pubsub != nil
	b.mu.Unlock()
	if !started {
		return ErrPresenceStopped
	}

	if loc.UpdatedAt.IsZero() {
		loc.UpdatedAt = time.Now()
	}
	if b.locations != nil {
		if err := b.locations.UpdateLocation(ctx, target.Kind, target.RideID, target.Role, loc.Lat, loc.Lng); err != nil {
			return err
		}
	}

	data, err := json.Marshal(positionMessage{
		Role:      target.Role,
		UserID:    target.UserID,
		Lat:       loc.Lat,
		Lng:       loc.Lng,
		Heading:   loc.Heading,
		UpdatedAt: loc.UpdatedAt,
	})
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, presenceChannel(target.Kind, target.RideID), data).Err()
}
