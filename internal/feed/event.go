// Package feed delivers backend change events for the ride collections to a
// session, one subscription at a time.
package feed

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"ridesync/internal/domain"
	"ridesync/internal/repository"
)

// EventType is the kind of row change.
type EventType string

const (
	EventInsert EventType = "insert"
	EventUpdate EventType = "update"
	EventDelete EventType = "delete"
)

// Event is a single row change on one of the ride collections.
type Event struct {
	Collection string
	Kind       domain.Kind
	Type       EventType
	Old        repository.Row
	New        repository.Row
	ReceivedAt time.Time
}

// Row returns the row the event is about: the new row, or the old one for deletes.
func (e Event) Row() repository.Row {
	if e.New != nil {
		return e.New
	}
	return e.Old
}

// RideID returns the id of the changed ride.
func (e Event) RideID() string {
	return repository.RowID(e.Kind, e.Row())
}

// Status returns the status carried by the event row.
func (e Event) Status() domain.RideStatus {
	return domain.RideStatus(repository.RowField(e.Kind, e.Row(), repository.FieldStatus))
}

// PreviousStatus returns the status on the old row, if the transport sent it.
func (e Event) PreviousStatus() domain.RideStatus {
	return domain.RideStatus(repository.RowField(e.Kind, e.Old, repository.FieldStatus))
}

// DriverID returns the driver on the new row.
func (e Event) DriverID() string {
	return repository.RowField(e.Kind, e.New, repository.FieldDriverID)
}

// PreviousDriverID returns the driver on the old row, if the transport sent it.
func (e Event) PreviousDriverID() string {
	return repository.RowField(e.Kind, e.Old, repository.FieldDriverID)
}

// IsNewRequest reports whether the event is a freshly inserted open request.
func (e Event) IsNewRequest() bool {
	return e.Type == EventInsert && e.Status() == domain.RideStatusSearching
}

// AssignsDriver reports whether the event makes driverID the ride's driver.
func (e Event) AssignsDriver(driverID string) bool {
	if driverID == "" || e.Type == EventDelete {
		return false
	}
	return e.DriverID() == driverID && e.PreviousDriverID() != driverID
}

// dedupeKey identifies events that describe the same change.
func (e Event) dedupeKey() string {
	row := e.Row()
	return strings.Join([]string{
		e.Collection,
		string(e.Type),
		e.RideID(),
		string(e.Status()),
		fmt.Sprint(row["updated_at"]),
		e.DriverID(),
	}, "|")
}

// payload is the JSON document published by the ride_changes trigger.
type payload struct {
	Collection string         `json:"collection"`
	Event      string         `json:"event"`
	Old        repository.Row `json:"old"`
	New        repository.Row `json:"new"`
}

// ParseEvent decodes a change notification payload.
func ParseEvent(data []byte, receivedAt time.Time) (Event, error) {
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Event{}, fmt.Errorf("parse change event: %w", err)
	}

	kind, ok := repository.KindForCollection(p.Collection)
	if !ok {
		return Event{}, fmt.Errorf("parse change event: unknown collection %q", p.Collection)
	}

	typ := EventType(strings.ToLower(p.Event))
	switch typ {
	case EventInsert, EventUpdate, EventDelete:
	default:
		return Event{}, fmt.Errorf("parse change event: unknown event %q", p.Event)
	}

	ev := Event{
		Collection: p.Collection,
		Kind:       kind,
		Type:       typ,
		Old:        p.Old,
		New:        p.New,
		ReceivedAt: receivedAt,
	}
	if ev.RideID() == "" {
		return Event{}, fmt.Errorf("parse change event: %s %s without id", p.Collection, typ)
	}
	return ev, nil
}
