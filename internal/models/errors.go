package models

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrNotFound reports that the referenced entity does not exist.
var ErrNotFound = errors.New("not found")

// ValidationError reports malformed caller input.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// Validationf builds a ValidationError.
func Validationf(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// ForbiddenError reports a caller acting on an entity they do not own or
// with a role they do not hold.
type ForbiddenError struct {
	Reason string
}

func (e *ForbiddenError) Error() string { return "forbidden: " + e.Reason }

// InvalidTransitionError reports a state-machine precondition violation.
// Current is the entity's actual state at the time the guarded update lost.
type InvalidTransitionError struct {
	Entity  string
	Current string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: %s is %s", e.Entity, e.Current)
}

// ReservationConflictError reports that a badge application already carries
// an unconsumed reservation owned by another promotion. It is resolved from
// the store's uniqueness violation, never from a prior read.
type ReservationConflictError struct {
	BadgeApplicationID uuid.UUID
	OwningPromotionID  uuid.UUID
}

func (e *ReservationConflictError) Error() string {
	return fmt.Sprintf("badge application %s already reserved by promotion %s",
		e.BadgeApplicationID, e.OwningPromotionID)
}

// RuleShortfall names one unmet requirement rule and how many badges short
// the promotion is.
type RuleShortfall struct {
	Category BadgeCategory `json:"category"`
	Level    BadgeLevel    `json:"level"`
	Missing  int           `json:"missing"`
}

// EligibilityFailedError reports that a promotion does not satisfy its
// requirement template. Missing enumerates every unmet rule.
type EligibilityFailedError struct {
	Missing []RuleShortfall
}

func (e *EligibilityFailedError) Error() string {
	return fmt.Sprintf("promotion not eligible: %d rule(s) unmet", len(e.Missing))
}
