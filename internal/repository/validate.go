package repository

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"ridesync/internal/domain"
)

var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ValidatePayload checks a ride request before it is sent anywhere.
// It returns a *ValidationError naming the first offending field.
func ValidatePayload(kind domain.Kind, payload *CreatePayload) error {
	if !kind.Valid() {
		return &ValidationError{Field: "kind", Message: fmt.Sprintf("unknown ride kind %q", kind)}
	}
	payload.Kind = kind
	return toValidationError(validate.Struct(payload))
}

// ValidatePlace checks a single stop or address.
func ValidatePlace(p domain.Place) error {
	return toValidationError(validate.Struct(p))
}

func toValidationError(err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &ValidationError{Message: err.Error()}
	}
	fe := verrs[0]
	return &ValidationError{
		Field:   fieldPath(fe.Namespace()),
		Message: fmt.Sprintf("failed %q validation", fe.Tag()),
	}
}

// fieldPath turns "CreatePayload.origin.address" into "origin.address".
func fieldPath(ns string) string {
	parts := strings.Split(ns, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	return strings.ToLower(strings.Join(parts, "."))
}
