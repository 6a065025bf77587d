package booking

import (
	"time"

	"github.com/google/uuid"
)

type BookingStatus string

const (
	StatusPending   BookingStatus = "pending"
	StatusConfirmed BookingStatus = "confirmed"
	StatusCancelled BookingStatus = "cancelled"
	StatusCompleted BookingStatus = "completed"
)

// IsTerminal reports whether no further lifecycle transitions are allowed.
func (s BookingStatus) IsTerminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

type SlotStatus string

const (
	SlotAvailable SlotStatus = "available"
	SlotBooked    SlotStatus = "booked"
	SlotBlocked   SlotStatus = "blocked"
)

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Clinician struct {
	ID        uuid.UUID
	Name      string
	Specialty *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Slot is a bookable time interval owned by one clinician. The interval is
// half-open [StartTime, EndTime) and never overlaps another slot of the same
// clinician. Version is bumped on every status write so a stale writer can
// never silently overwrite a concurrent one.
type Slot struct {
	ID          uuid.UUID
	ClinicianID uuid.UUID
	StartTime   time.Time
	EndTime     time.Time
	Status      SlotStatus
	Version     int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Booking is a patient's claim on a slot. While the booking is active
// (pending or confirmed) its slot must be booked on its account; a cancelled
// or completed booking keeps the slot id for history only.
type Booking struct {
	ID        uuid.UUID
	PatientID uuid.UUID
	SlotID    *uuid.UUID
	Status    BookingStatus
	Reason    *string
	IsWalkIn  bool
	ExpiresAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// BookingDetail is a booking hydrated with its related rows for display.
type BookingDetail struct {
	Booking
	Slot      *Slot
	Patient   *Patient
	Clinician *Clinician
}
