package booking

import (
	"errors"
	"fmt"
)

var (
	ErrPatientNotFound   = errors.New("patient not found")
	ErrClinicianNotFound = errors.New("clinician not found")
	ErrSlotNotFound      = errors.New("slot not found")
	ErrBookingNotFound   = errors.New("booking not found")

	// ErrSlotContended means the slot row lock could not be acquired because
	// a concurrent transaction is evaluating the same slot. Transient: the
	// caller may retry or pick another slot. Never retried internally.
	ErrSlotContended = errors.New("slot is being claimed concurrently")

	ErrBookingFinalized  = errors.New("booking is already cancelled or completed")
	ErrInvalidTransition = errors.New("invalid booking status transition")
	ErrSlotOverlap       = errors.New("slot overlaps an existing slot for this clinician")
	ErrInvalidInterval   = errors.New("slot end time must be after start time")
)

// SlotUnavailableError reports a claim on a slot that is not available,
// carrying the status seen under the lock so callers can show it.
type SlotUnavailableError struct {
	Status SlotStatus
}

func (e *SlotUnavailableError) Error() string {
	return fmt.Sprintf("slot is not available (status %s)", e.Status)
}
