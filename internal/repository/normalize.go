package repository

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"ridesync/internal/domain"
)

// timestamp layouts produced by row_to_json for timestamptz and timestamp columns.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z07",
	"2006-01-02T15:04:05.999999999",
}

// Normalize converts a row of kind's collection into a canonical ride.
func Normalize(kind domain.Kind, row Row) (*domain.Ride, error) {
	m, ok := MappingFor(kind)
	if !ok {
		return nil, fmt.Errorf("normalize: unknown kind %q", kind)
	}
	get := func(f Field) any { return m.Columns[f].Resolve(row) }

	ride := &domain.Ride{
		ID:          asString(get(FieldID)),
		Kind:        kind,
		Status:      domain.RideStatus(asString(get(FieldStatus))),
		PassengerID: asString(get(FieldPassengerID)),
		DriverID:    asString(get(FieldDriverID)),
		Origin: domain.Place{
			Address: asString(get(FieldOriginAddress)),
			Lat:     asFloat(get(FieldOriginLat)),
			Lng:     asFloat(get(FieldOriginLng)),
		},
		Destination: domain.Place{
			Address: asString(get(FieldDestinationAddress)),
			Lat:     asFloat(get(FieldDestinationLat)),
			Lng:     asFloat(get(FieldDestinationLng)),
		},
		Stops: asPlaces(get(FieldStops)),
		Timestamps: domain.Timestamps{
			ArrivedAt:   asTime(get(FieldArrivedAt)),
			StartedAt:   asTime(get(FieldStartedAt)),
			CompletedAt: asTime(get(FieldCompletedAt)),
			CancelledAt: asTime(get(FieldCancelledAt)),
		},
		Fare: domain.Fare{
			EstimatedFare: asFloat(get(FieldEstimatedFare)),
			ActualFare:    asFloat(get(FieldActualFare)),
			WaitFee:       asFloat(get(FieldWaitFee)),
			CancelPenalty: asFloat(get(FieldCancelPenalty)),
			PrepaidAmount: asFloat(get(FieldPrepaidAmount)),
			PaymentMethod: domain.PaymentMethod(asString(get(FieldPaymentMethod))),
			PaymentStatus: domain.PaymentStatus(asString(get(FieldPaymentStatus))),
		},
		DistanceKm:   asFloat(get(FieldDistanceKm)),
		DurationMin:  asFloat(get(FieldDurationMin)),
		VehicleType:  asString(get(FieldVehicleType)),
		CancelReason: asString(get(FieldCancelReason)),
		CancelledBy:  asString(get(FieldCancelledBy)),
		ScheduledAt:  asTime(get(FieldScheduledAt)),
		Hours:        asFloat(get(FieldHours)),
	}
	if created := asTime(get(FieldCreatedAt)); created != nil {
		ride.Timestamps.CreatedAt = *created
	}
	if kind == domain.KindPackage {
		ride.Package = &domain.PackageDetails{
			RecipientName:  asString(get(FieldRecipientName)),
			RecipientPhone: asString(get(FieldRecipientPhone)),
			Description:    asString(get(FieldPackageDescription)),
		}
	}
	if ride.Fare.PaymentMethod == "" {
		ride.Fare.PaymentMethod = domain.PaymentMethodCash
	}
	if ride.Fare.PaymentStatus == "" {
		ride.Fare.PaymentStatus = domain.PaymentStatusPending
	}

	if ride.ID == "" {
		return nil, fmt.Errorf("normalize %s: row has no id", m.Collection)
	}
	if !ride.Status.Valid() {
		return nil, fmt.Errorf("normalize %s %s: unknown status %q", m.Collection, ride.ID, ride.Status)
	}
	return ride, nil
}

// RowID returns the id of a raw row of kind's collection.
func RowID(kind domain.Kind, row Row) string {
	m, ok := MappingFor(kind)
	if !ok || row == nil {
		return ""
	}
	return asString(m.Columns[FieldID].Resolve(row))
}

// RowField resolves any canonical field of a raw row as a string.
func RowField(kind domain.Kind, row Row, f Field) string {
	m, ok := MappingFor(kind)
	if !ok || row == nil {
		return ""
	}
	return asString(m.Columns[f].Resolve(row))
}

// InsertRow builds the column values of a new ride. Derived fields are not
// written.
func InsertRow(kind domain.Kind, id string, p CreatePayload, createdAt time.Time) (Row, error) {
	m, ok := MappingFor(kind)
	if !ok {
		return nil, fmt.Errorf("insert: unknown kind %q", kind)
	}

	values := map[Field]any{
		FieldID:            id,
		FieldStatus:        string(m.InitialStatus),
		FieldPassengerID:   p.PassengerID,
		FieldOriginAddress: p.Origin.Address,
		FieldOriginLat:     p.Origin.Lat,
		FieldOriginLng:     p.Origin.Lng,
		FieldCreatedAt:     createdAt.UTC(),
		FieldEstimatedFare: p.EstimatedFare,
		FieldPrepaidAmount: p.PrepaidAmount,
		FieldPaymentMethod: string(paymentMethodOrCash(p.PaymentMethod)),
		FieldPaymentStatus: string(initialPaymentStatus(p)),
		FieldDistanceKm:    p.DistanceKm,
		FieldDurationMin:   p.DurationMin,
	}
	if p.VehicleType != "" {
		values[FieldVehicleType] = p.VehicleType
	}
	if p.Destination != nil {
		values[FieldDestinationAddress] = p.Destination.Address
		values[FieldDestinationLat] = p.Destination.Lat
		values[FieldDestinationLng] = p.Destination.Lng
	}
	if p.ScheduledAt != nil {
		values[FieldScheduledAt] = p.ScheduledAt.UTC()
	}
	if p.Hours > 0 {
		values[FieldHours] = p.Hours
	}
	if p.Package != nil {
		values[FieldRecipientName] = p.Package.RecipientName
		values[FieldRecipientPhone] = p.Package.RecipientPhone
		values[FieldPackageDescription] = p.Package.Description
	}
	stops := p.Stops
	if stops == nil {
		stops = []domain.Place{}
	}
	data, err := json.Marshal(stops)
	if err != nil {
		return nil, fmt.Errorf("insert: encode stops: %w", err)
	}
	values[FieldStops] = string(data)

	row := make(Row, len(values))
	for f, v := range values {
		if column := m.Column(f); column != "" {
			row[column] = v
		}
	}
	return row, nil
}

func paymentMethodOrCash(pm domain.PaymentMethod) domain.PaymentMethod {
	if pm == "" {
		return domain.PaymentMethodCash
	}
	return pm
}

func initialPaymentStatus(p CreatePayload) domain.PaymentStatus {
	if p.PrepaidAmount > 0 {
		return domain.PaymentStatusPrepaid
	}
	return domain.PaymentStatusPending
}

func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

func asFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case json.Number:
		f, _ := t.Float64()
		return f
	case string:
		// numeric columns may be rendered as strings
		f, _ := strconv.ParseFloat(t, 64)
		return f
	}
	return 0
}

func asTime(v any) *time.Time {
	switch t := v.(type) {
	case time.Time:
		return &t
	case string:
		if t == "" {
			return nil
		}
		for _, layout := range timeLayouts {
			if parsed, err := time.Parse(layout, t); err == nil {
				return &parsed
			}
		}
	}
	return nil
}

func asPlaces(v any) []domain.Place {
	var raw []any
	switch t := v.(type) {
	case []any:
		raw = t
	case string:
		if err := json.Unmarshal([]byte(t), &raw); err != nil {
			return []domain.Place{}
		}
	}
	places := make([]domain.Place, 0, len(raw))
	for _, item := range raw {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		places = append(places, domain.Place{
			Address: asString(obj["address"]),
			Lat:     asFloat(obj["lat"]),
			Lng:     asFloat(obj["lng"]),
		})
	}
	return places
}
