package repository

import (
	"errors"
	"fmt"
	"regexp"
)

var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrSessionExpired is matched by business rejections caused by an
	// expired or invalid session.
	ErrSessionExpired = errors.New("session expired")

	// ErrOffline is the cause of transport errors raised while the client is offline.
	ErrOffline = errors.New("client is offline")
)

var sessionExpiredPattern = regexp.MustCompile(`(?i)(jwt|token|session)\s*(is\s+)?(expired|invalid)|invalid\s+(jwt|token|session)|not\s+authenticated|refresh token`)

// TransportError means the backend could not be reached or did not answer.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: backend unreachable: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// BusinessRejection means the backend understood the request and declined it.
// Message is authoritative and meant to be shown verbatim.
type BusinessRejection struct {
	Op      string
	Message string
}

func (e *BusinessRejection) Error() string {
	return e.Message
}

// Is lets errors.Is(err, ErrSessionExpired) match rejections whose message
// indicates an expired session.
func (e *BusinessRejection) Is(target error) bool {
	return target == ErrSessionExpired && sessionExpiredPattern.MatchString(e.Message)
}

// ValidationError is raised before any remote call is made.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Reject builds a BusinessRejection, substituting fallback for an empty message.
func Reject(op, message, fallback string) error {
	if message == "" {
		message = fallback
	}
	return &BusinessRejection{Op: op, Message: message}
}

// IsBusinessRejection reports whether err is a BusinessRejection.
func IsBusinessRejection(err error) bool {
	var br *BusinessRejection
	return errors.As(err, &br)
}

// IsTransport reports whether err is a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsSessionExpired reports whether err should force a logout.
func IsSessionExpired(err error) bool {
	return errors.Is(err, ErrSessionExpired)
}
