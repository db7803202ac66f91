// Package maps computes routes with the Google Maps Directions API.
package maps

import (
	"context"
	"errors"
	"fmt"

	"googlemaps.github.io/maps"

	"ridesync/internal/domain"
	"ridesync/internal/repository"
)

// ErrNoRoute is returned when the API found no route through the points.
var ErrNoRoute = errors.New("no route found")

// Router implements store.Router on top of the Directions API.
type Router struct {
	client *maps.Client
	mode   maps.Mode
}

// NewRouter creates a Router. Extra client options are appended after the
// API key, which lets tests point the client at a fake server.
func NewRouter(apiKey string, opts ...maps.ClientOption) (*Router, error) {
	client, err := maps.NewClient(append([]maps.ClientOption{maps.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Google Maps client: %w", err)
	}
	return &Router{client: client, mode: maps.TravelModeDriving}, nil
}

// CalculateRoute returns the driving route from origin through waypoints, in
// order, to destination.
func (r *Router) CalculateRoute(ctx context.Context, origin, destination domain.Place, waypoints []domain.Place) (*repository.Route, error) {
	req := &maps.DirectionsRequest{
		Origin:      latLng(origin),
		Destination: latLng(destination),
		Mode:        r.mode,
	}

	// Add waypoints if any
	if len(waypoints) > 0 {
		req.Waypoints = make([]string, len(waypoints))
		for i, wp := range waypoints {
			req.Waypoints[i] = latLng(wp)
		}
	}

	routes, _, err := r.client.Directions(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("directions request failed: %w", err)
	}
	if len(routes) == 0 {
		return nil, ErrNoRoute
	}

	best := routes[0]
	var meters int
	var seconds float64
	for _, leg := range best.Legs {
		meters += leg.Distance.Meters
		seconds += leg.Duration.Seconds()
	}

	return &repository.Route{
		DistanceKm:  float64(meters) / 1000,
		DurationMin: seconds / 60,
		Geometry:    best.OverviewPolyline.Points,
	}, nil
}

func latLng(p domain.Place) string {
	return fmt.Sprintf("%f,%f", p.Lat, p.Lng)
}
