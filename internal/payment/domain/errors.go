package domain

import (
	"errors"
	"strings"
)

var (
	ErrInvalidSignature      = errors.New("invalid_signature")
	ErrInvalidPayload        = errors.New("invalid_payload")
	ErrInvalidEvent          = errors.New("invalid_event")
	ErrEventAlreadyProcessed = errors.New("event_already_processed")
	ErrEventInFlight         = errors.New("event_in_flight")
	ErrEventNotFound         = errors.New("event_not_found")

	ErrAccountNotFound = errors.New("account_not_found")
	ErrPlanNotFound    = errors.New("plan_not_found")
	ErrMissingMetadata = errors.New("missing_metadata")
	ErrInvalidMetadata = errors.New("invalid_metadata")
	ErrPriceMismatch   = errors.New("price_mismatch")
	ErrNoLineItems     = errors.New("no_line_items")
)

// IsLookupMiss reports errors that mean the event does not apply to local
// state. They are logged and acknowledged, never retried.
func IsLookupMiss(err error) bool {
	return errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrPlanNotFound) ||
		errors.Is(err, ErrMissingMetadata) ||
		errors.Is(err, ErrInvalidMetadata) ||
		errors.Is(err, ErrPriceMismatch) ||
		errors.Is(err, ErrNoLineItems)
}

func trim(value string) string {
	return strings.TrimSpace(value)
}
