package booking

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store contains all DB interactions needed by the service. Plain reads run
// outside any transaction; mutations run through WithinTx so the slot and
// booking rows always change together or not at all.
type Store interface {
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetClinicianByID(ctx context.Context, id uuid.UUID) (*Clinician, error)
	GetSlotByID(ctx context.Context, id uuid.UUID) (*Slot, error)
	GetBookingByID(ctx context.Context, id uuid.UUID) (*Booking, error)
	GetBookingDetail(ctx context.Context, id uuid.UUID) (*BookingDetail, error)

	// CreateSlot inserts a new available slot, rejecting intervals that
	// overlap an existing slot of the same clinician.
	CreateSlot(ctx context.Context, clinicianID uuid.UUID, start, end time.Time) (*Slot, error)

	// ListAvailableSlots returns available slots for a clinician within
	// [from, to), ordered by start time. Lock-free read: a listed slot may
	// already be lost to a concurrent claim.
	ListAvailableSlots(ctx context.Context, clinicianID uuid.UUID, from, to time.Time) ([]Slot, error)

	ListBookingsByPatient(ctx context.Context, patientID uuid.UUID) ([]BookingDetail, error)
	ListBookingsByClinician(ctx context.Context, clinicianID uuid.UUID, from, to time.Time) ([]BookingDetail, error)

	// FindExpiredPending returns pending bookings whose hold horizon passed.
	FindExpiredPending(ctx context.Context, now time.Time) ([]Booking, error)

	// WithinTx runs fn inside a single transaction. fn returning an error
	// rolls everything back; otherwise the transaction commits.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the transactional surface the allocator and lifecycle manager write
// through. Implementations must guarantee that LockSlot acquires an
// exclusive, non-blocking lock held until the transaction ends.
type Tx interface {
	// LockSlot locks the slot row without waiting and returns its current
	// state. Returns ErrSlotContended if the lock is held by a concurrent
	// transaction, ErrSlotNotFound if the slot does not exist.
	LockSlot(ctx context.Context, id uuid.UUID) (*Slot, error)

	// MarkSlotBooked conditionally moves the slot to booked and bumps its
	// version. Returns false when the slot was not available anymore, which
	// means a concurrent winner got there first.
	MarkSlotBooked(ctx context.Context, id uuid.UUID) (bool, error)

	// ReleaseSlot unconditionally returns the slot to available. Releasing
	// an already-available slot is a no-op.
	ReleaseSlot(ctx context.Context, id uuid.UUID) error

	InsertBooking(ctx context.Context, b *Booking) error

	// LockBooking reads the booking under an exclusive row lock so terminal
	// state checks and the following update cannot interleave.
	LockBooking(ctx context.Context, id uuid.UUID) (*Booking, error)

	UpdateBooking(ctx context.Context, b *Booking) error
}
