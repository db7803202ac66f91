package repository

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ridesync/internal/domain"
)

func TestBusinessRejection_SessionExpiredPattern(t *testing.T) {
	testCases := []struct {
		message string
		expired bool
	}{
		{"JWT expired", true},
		{"invalid token", true},
		{"Session is invalid, please log in again", true},
		{"Invalid Refresh Token: Refresh Token Not Found", true},
		{"user not authenticated", true},
		{"Ride is no longer available", false},
		{"Invalid PIN", false},
	}

	for _, tc := range testCases {
		t.Run(tc.message, func(t *testing.T) {
			err := fmt.Errorf("accept: %w", Reject("accept", tc.message, ""))
			assert.Equal(t, tc.expired, IsSessionExpired(err))
			assert.True(t, IsBusinessRejection(err))
		})
	}
}

func TestReject_FallbackMessage(t *testing.T) {
	err := Reject("cancel", "", "Could not cancel ride")
	assert.EqualError(t, err, "Could not cancel ride")

	err = Reject("cancel", "Ride already completed", "Could not cancel ride")
	assert.EqualError(t, err, "Ride already completed")
}

func TestTransportError_Unwraps(t *testing.T) {
	err := &TransportError{Op: "fetch", Err: ErrOffline}

	assert.True(t, errors.Is(err, ErrOffline))
	assert.True(t, IsTransport(fmt.Errorf("wrapped: %w", err)))
	assert.False(t, IsBusinessRejection(err))
	assert.False(t, IsSessionExpired(err))
}

func TestValidatePayload(t *testing.T) {
	p := createPayload(domain.KindImmediate)
	require.NoError(t, ValidatePayload(domain.KindImmediate, &p))
	assert.Equal(t, domain.KindImmediate, p.Kind)

	hourly := createPayload(domain.KindHourly)
	require.NoError(t, ValidatePayload(domain.KindHourly, &hourly))

	testCases := []struct {
		name  string
		kind  domain.Kind
		mod   func(*CreatePayload)
		field string
	}{
		{"missing origin address", domain.KindImmediate, func(p *CreatePayload) { p.Origin.Address = "" }, "origin.address"},
		{"bad latitude", domain.KindImmediate, func(p *CreatePayload) { p.Origin.Lat = 123 }, "origin.lat"},
		{"missing destination", domain.KindImmediate, func(p *CreatePayload) { p.Destination = nil }, "destination"},
		{"missing fare", domain.KindImmediate, func(p *CreatePayload) { p.EstimatedFare = 0 }, "estimated_fare"},
		{"scheduled without time", domain.KindScheduled, func(p *CreatePayload) { p.ScheduledAt = nil }, "scheduled_at"},
		{"package without details", domain.KindPackage, func(p *CreatePayload) { p.Package = nil }, "package"},
		{"unknown payment method", domain.KindImmediate, func(p *CreatePayload) { p.PaymentMethod = "barter" }, "payment_method"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p := createPayload(tc.kind)
			tc.mod(&p)

			err := ValidatePayload(tc.kind, &p)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.field, verr.Field)
		})
	}
}

func TestValidatePayload_UnknownKind(t *testing.T) {
	p := createPayload(domain.KindImmediate)
	err := ValidatePayload("boat", &p)
	assert.True(t, IsValidation(err))
}
