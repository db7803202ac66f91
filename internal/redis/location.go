package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"ridesync/internal/domain"
)

const rideLocationPrefix = "presence:geo:"

// RideLocationTTL bounds how long a ride's positions outlive its last update.
const RideLocationTTL = 2 * time.Hour

// PartyLocation is the last known position of one party of a ride.
type PartyLocation struct {
	Role domain.Role
	Lat  float64
	Lng  float64
}

// LocationStore keeps the last position of both parties of a ride in a
// per-ride geo set.
type LocationStore struct {
	client *redis.Client
}

// NewLocationStore creates a new LocationStore.
func NewLocationStore(client *redis.Client) *LocationStore {
	return &LocationStore{client: client}
}

func rideLocationKey(kind domain.Kind, rideID string) string {
	return rideLocationPrefix + string(kind) + ":" + rideID
}

// UpdateLocation stores a party's location using GEOADD and refreshes the
// set's expiry.
func (s *LocationStore) UpdateLocation(ctx context.Context, kind domain.Kind, rideID string, role domain.Role, lat, lng float64) error {
	key := rideLocationKey(kind, rideID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.GeoAdd(ctx, key, &redis.GeoLocation{
			Name:      string(role),
			Longitude: lng,
			Latitude:  lat,
		})
		pipe.Expire(ctx, key, RideLocationTTL)
		return nil
	})
	return err
}

// LastLocations returns the known positions of the ride's parties.
func (s *LocationStore) LastLocations(ctx context.Context, kind domain.Kind, rideID string) ([]PartyLocation, error) {
	roles := []string{string(domain.RoleDriver), string(domain.RolePassenger)}
	positions, err := s.client.GeoPos(ctx, rideLocationKey(kind, rideID), roles...).Result()
	if err != nil {
		return nil, err
	}

	locations := make([]PartyLocation, 0, len(positions))
	for i, p := range positions {
		if p == nil {
			continue
		}
		locations = append(locations, PartyLocation{
			Role: domain.Role(roles[i]),
			Lat:  p.Latitude,
			Lng:  p.Longitude,
		})
	}
	return locations, nil
}
