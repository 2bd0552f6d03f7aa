// Package services defines the business logic of the video lifecycle.
// This file centralizes service-level error values so handlers can map them
// to HTTP results consistently.
package services

import (
	"strings"

	"github.com/cockroachdb/errors"
)

var (
	// ErrRequestNotFound indicates that the video request does not exist.
	ErrRequestNotFound = errors.New("video request not found")

	// ErrNotDeliverable is returned by Redispatch when the request is not in
	// generated or has no video url.
	ErrNotDeliverable = errors.New("video request is not awaiting delivery")
)

// ValidationError lists the missing or malformed input fields.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "invalid or missing fields: " + strings.Join(e.Fields, ", ")
}

// IsValidation reports whether err is a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
