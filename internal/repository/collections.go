package repository

import (
	"ridesync/internal/domain"
)

// Row is one backend record decoded from JSON.
type Row map[string]any

// Field names a canonical ride field.
type Field string

const (
	FieldID                 Field = "id"
	FieldStatus             Field = "status"
	FieldPassengerID        Field = "passenger_id"
	FieldDriverID           Field = "driver_id"
	FieldOriginAddress      Field = "origin.address"
	FieldOriginLat          Field = "origin.lat"
	FieldOriginLng          Field = "origin.lng"
	FieldDestinationAddress Field = "destination.address"
	FieldDestinationLat     Field = "destination.lat"
	FieldDestinationLng     Field = "destination.lng"
	FieldStops              Field = "stops"
	FieldCreatedAt          Field = "created_at"
	FieldArrivedAt          Field = "arrived_at"
	FieldStartedAt          Field = "started_at"
	FieldCompletedAt        Field = "completed_at"
	FieldCancelledAt        Field = "cancelled_at"
	FieldEstimatedFare      Field = "fare.estimated"
	FieldActualFare         Field = "fare.actual"
	FieldWaitFee            Field = "fare.wait_fee"
	FieldCancelPenalty      Field = "fare.cancel_penalty"
	FieldPrepaidAmount      Field = "fare.prepaid_amount"
	FieldPaymentMethod      Field = "fare.payment_method"
	FieldPaymentStatus      Field = "fare.payment_status"
	FieldDistanceKm         Field = "distance_km"
	FieldDurationMin        Field = "duration_min"
	FieldVehicleType        Field = "vehicle_type"
	FieldCancelReason       Field = "cancel_reason"
	FieldCancelledBy        Field = "cancelled_by"
	FieldScheduledAt        Field = "scheduled_at"
	FieldHours              Field = "hours"
	FieldRecipientName      Field = "package.recipient_name"
	FieldRecipientPhone     Field = "package.recipient_phone"
	FieldPackageDescription Field = "package.description"
)

// CanonicalFields lists every field a collection mapping must resolve.
var CanonicalFields = []Field{
	FieldID, FieldStatus, FieldPassengerID, FieldDriverID,
	FieldOriginAddress, FieldOriginLat, FieldOriginLng,
	FieldDestinationAddress, FieldDestinationLat, FieldDestinationLng,
	FieldStops,
	FieldCreatedAt, FieldArrivedAt, FieldStartedAt, FieldCompletedAt, FieldCancelledAt,
	FieldEstimatedFare, FieldActualFare, FieldWaitFee, FieldCancelPenalty,
	FieldPrepaidAmount, FieldPaymentMethod, FieldPaymentStatus,
	FieldDistanceKm, FieldDurationMin, FieldVehicleType, FieldCancelReason, FieldCancelledBy,
	FieldScheduledAt, FieldHours,
	FieldRecipientName, FieldRecipientPhone, FieldPackageDescription,
}

// Source resolves a canonical field from a row. Exactly one of Column and
// Derive is set.
type Source struct {
	Column string
	Derive func(Row) any
}

// Resolve returns the value of the field in row.
func (s Source) Resolve(row Row) any {
	if s.Derive != nil {
		return s.Derive(row)
	}
	return row[s.Column]
}

// Mapping describes how one kind is stored.
type Mapping struct {
	Collection    string
	InitialStatus domain.RideStatus
	Columns       map[Field]Source
	// Writes names the column that stores a derived field on insert.
	Writes map[Field]string
}

// Column returns the column f is written to, or "" if f is never stored.
func (m Mapping) Column(f Field) string {
	if c, ok := m.Writes[f]; ok {
		return c
	}
	return m.Columns[f].Column
}

func col(name string) Source { return Source{Column: name} }

func constant(v any) Source {
	return Source{Derive: func(Row) any { return v }}
}

// coalesce falls back to the second column when the first is empty.
func coalesce(primary, fallback string) Source {
	return Source{Derive: func(r Row) any {
		if v, ok := r[primary]; ok && v != nil && v != "" {
			return v
		}
		return r[fallback]
	}}
}

// common are the columns shared by every collection.
func common(overrides map[Field]Source) map[Field]Source {
	cols := map[Field]Source{
		FieldID:                 col("id"),
		FieldStatus:             col("status"),
		FieldPassengerID:        col("passenger_id"),
		FieldDriverID:           col("driver_id"),
		FieldOriginAddress:      col("pickup_address"),
		FieldOriginLat:          col("pickup_lat"),
		FieldOriginLng:          col("pickup_lng"),
		FieldDestinationAddress: col("dropoff_address"),
		FieldDestinationLat:     col("dropoff_lat"),
		FieldDestinationLng:     col("dropoff_lng"),
		FieldStops:              col("stops"),
		FieldCreatedAt:          col("created_at"),
		FieldArrivedAt:          col("arrived_at"),
		FieldStartedAt:          col("started_at"),
		FieldCompletedAt:        col("completed_at"),
		FieldCancelledAt:        col("cancelled_at"),
		FieldEstimatedFare:      col("estimated_fare"),
		FieldActualFare:         col("actual_fare"),
		FieldWaitFee:            col("wait_fee"),
		FieldCancelPenalty:      col("cancellation_fee"),
		FieldPrepaidAmount:      col("prepaid_amount"),
		FieldPaymentMethod:      col("payment_method"),
		FieldPaymentStatus:      col("payment_status"),
		FieldDistanceKm:         col("distance_km"),
		FieldDurationMin:        col("duration_min"),
		FieldVehicleType:        col("vehicle_type"),
		FieldCancelReason:       col("cancel_reason"),
		FieldCancelledBy:        col("cancelled_by"),
		FieldScheduledAt:        constant(nil),
		FieldHours:              constant(nil),
		FieldRecipientName:      constant(nil),
		FieldRecipientPhone:     constant(nil),
		FieldPackageDescription: constant(nil),
	}
	for f, s := range overrides {
		cols[f] = s
	}
	return cols
}

var mappings = map[domain.Kind]Mapping{
	domain.KindImmediate: {
		Collection:    "rides",
		InitialStatus: domain.RideStatusSearching,
		Columns:       common(nil),
	},
	domain.KindScheduled: {
		Collection:    "scheduled_rides",
		InitialStatus: domain.RideStatusPending,
		Columns: common(map[Field]Source{
			FieldEstimatedFare: col("scheduled_fare"),
			FieldScheduledAt:   col("scheduled_at"),
		}),
	},
	domain.KindHourly: {
		Collection:    "hourly_bookings",
		InitialStatus: domain.RideStatusPending,
		Columns: common(map[Field]Source{
			FieldOriginAddress: col("start_location_address"),
			FieldOriginLat:     col("start_location_lat"),
			FieldOriginLng:     col("start_location_lng"),
			// Open-ended bookings return to where they started.
			FieldDestinationAddress: coalesce("end_location_address", "start_location_address"),
			FieldDestinationLat:     coalesce("end_location_lat", "start_location_lat"),
			FieldDestinationLng:     coalesce("end_location_lng", "start_location_lng"),
			FieldEstimatedFare:      col("total_amount"),
			FieldHours:              col("hours_booked"),
		}),
		Writes: map[Field]string{
			FieldDestinationAddress: "end_location_address",
			FieldDestinationLat:     "end_location_lat",
			FieldDestinationLng:     "end_location_lng",
		},
	},
	domain.KindPackage: {
		Collection:    "package_deliveries",
		InitialStatus: domain.RideStatusSearching,
		Columns: common(map[Field]Source{
			FieldPassengerID:        col("sender_id"),
			FieldDestinationAddress: col("delivery_address"),
			FieldDestinationLat:     col("delivery_lat"),
			FieldDestinationLng:     col("delivery_lng"),
			FieldStops:              constant([]any{}),
			FieldEstimatedFare:      col("delivery_fee"),
			FieldRecipientName:      col("recipient_name"),
			FieldRecipientPhone:     col("recipient_phone"),
			FieldPackageDescription: col("package_description"),
		}),
	},
}

// MappingFor returns the storage mapping of kind.
func MappingFor(kind domain.Kind) (Mapping, bool) {
	m, ok := mappings[kind]
	return m, ok
}

// KindForCollection returns the kind stored in collection.
func KindForCollection(collection string) (domain.Kind, bool) {
	for _, kind := range domain.Kinds {
		if mappings[kind].Collection == collection {
			return kind, true
		}
	}
	return "", false
}

// Collections returns the collection names in kind order.
func Collections() []string {
	out := make([]string, 0, len(domain.Kinds))
	for _, kind := range domain.Kinds {
		out = append(out, mappings[kind].Collection)
	}
	return out
}
