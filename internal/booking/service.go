package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/medflow/booking-engine/internal/notify"
)

// appointmentTimeLayout formats slot times for notification display.
const appointmentTimeLayout = "Mon, 02 Jan 2006 15:04"

// Service is the booking lifecycle manager. It owns booking status
// transitions and routes every slot status change through the allocator,
// keeping both rows consistent inside a single transaction. Notifications
// are dispatched after commit and never gate the result.
type Service struct {
	store      Store
	alloc      *Allocator
	dispatcher notify.Dispatcher
	log        *zap.Logger

	pendingTTL    time.Duration
	notifyTimeout time.Duration
}

func NewService(store Store, alloc *Allocator, dispatcher notify.Dispatcher, log *zap.Logger, pendingTTL, notifyTimeout time.Duration) *Service {
	return &Service{
		store:         store,
		alloc:         alloc,
		dispatcher:    dispatcher,
		log:           log,
		pendingTTL:    pendingTTL,
		notifyTimeout: notifyTimeout,
	}
}

// CreateBooking claims the slot and creates a pending booking in one
// transaction. Exactly one of N concurrent calls against the same slot
// succeeds; the rest fail with SlotUnavailableError or ErrSlotContended.
func (s *Service) CreateBooking(ctx context.Context, patientID, slotID uuid.UUID, reason *string) (*BookingDetail, error) {
	patient, err := s.store.GetPatientByID(ctx, patientID)
	if err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load patient: %w", err)
	}

	var (
		created *Booking
		slot    *Slot
	)

	err = s.store.WithinTx(ctx, func(txCtx context.Context, tx Tx) error {
		claimed, err := s.alloc.Claim(txCtx, tx, slotID)
		if err != nil {
			return err
		}
		slot = claimed

		expiresAt := time.Now().Add(s.pendingTTL)
		b := &Booking{
			ID:        uuid.New(),
			PatientID: patientID,
			SlotID:    &slotID,
			Status:    StatusPending,
			Reason:    reason,
			ExpiresAt: &expiresAt,
		}
		if err := tx.InsertBooking(txCtx, b); err != nil {
			return fmt.Errorf("insert booking: %w", err)
		}

		created = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	clinician, err := s.store.GetClinicianByID(ctx, slot.ClinicianID)
	if err != nil {
		// The booking is committed; a failed hydration read must not undo it.
		s.log.Warn("load clinician after booking commit", zap.Error(err))
	}

	s.dispatchAsync(notify.Event{
		Type:            notify.EventAppointmentBooked,
		BookingID:       created.ID,
		PatientName:     patient.Name,
		ClinicianName:   clinicianName(clinician),
		AppointmentTime: slot.StartTime.Format(appointmentTimeLayout),
		Reason:          stringValue(reason),
	})

	return &BookingDetail{
		Booking:   *created,
		Slot:      slot,
		Patient:   patient,
		Clinician: clinician,
	}, nil
}

// CancelBooking moves the booking to cancelled and releases its slot in one
// transaction. Cancelled and completed bookings cannot be cancelled again.
func (s *Service) CancelBooking(ctx context.Context, bookingID uuid.UUID) (*BookingDetail, error) {
	var cancelled *Booking

	err := s.store.WithinTx(ctx, func(txCtx context.Context, tx Tx) error {
		b, err := tx.LockBooking(txCtx, bookingID)
		if err != nil {
			return err
		}
		if b.Status.IsTerminal() {
			return ErrBookingFinalized
		}

		b.Status = StatusCancelled
		b.ExpiresAt = nil
		if err := tx.UpdateBooking(txCtx, b); err != nil {
			return fmt.Errorf("update booking: %w", err)
		}

		if b.SlotID != nil {
			if err := s.alloc.Release(txCtx, tx, *b.SlotID); err != nil {
				return err
			}
		}

		cancelled = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	detail := s.hydrate(ctx, cancelled)
	s.dispatchAsync(notify.Event{
		Type:            notify.EventAppointmentCancelled,
		BookingID:       cancelled.ID,
		PatientName:     patientName(detail.Patient),
		ClinicianName:   clinicianName(detail.Clinician),
		AppointmentTime: slotTime(detail.Slot),
	})

	return detail, nil
}

// RescheduleBooking swaps the booking onto a new slot, keeping the same
// booking id and resetting it to pending. The new slot is claimed before the
// old one is released so a failed claim leaves booking and old slot exactly
// as they were.
func (s *Service) RescheduleBooking(ctx context.Context, bookingID, newSlotID uuid.UUID, reason *string) (*BookingDetail, error) {
	var (
		updated *Booking
		newSlot *Slot
	)

	err := s.store.WithinTx(ctx, func(txCtx context.Context, tx Tx) error {
		b, err := tx.LockBooking(txCtx, bookingID)
		if err != nil {
			return err
		}
		if b.Status.IsTerminal() {
			return ErrBookingFinalized
		}

		claimed, err := s.alloc.Claim(txCtx, tx, newSlotID)
		if err != nil {
			return err
		}
		newSlot = claimed

		if b.SlotID != nil {
			if err := s.alloc.Release(txCtx, tx, *b.SlotID); err != nil {
				return err
			}
		}

		expiresAt := time.Now().Add(s.pendingTTL)
		b.SlotID = &newSlotID
		b.Status = StatusPending
		b.ExpiresAt = &expiresAt
		if reason != nil {
			b.Reason = reason
		}
		if err := tx.UpdateBooking(txCtx, b); err != nil {
			return fmt.Errorf("update booking: %w", err)
		}

		updated = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	detail := s.hydrate(ctx, updated)
	detail.Slot = newSlot
	s.dispatchAsync(notify.Event{
		Type:            notify.EventAppointmentRescheduled,
		BookingID:       updated.ID,
		PatientName:     patientName(detail.Patient),
		ClinicianName:   clinicianName(detail.Clinician),
		AppointmentTime: newSlot.StartTime.Format(appointmentTimeLayout),
		Reason:          stringValue(reason),
	})

	return detail, nil
}

// UpdateBooking applies a direct lifecycle transition and/or a reason edit
// without touching slot state: pending to confirmed, confirmed to
// completed. A nil status edits the reason against the status read under
// the row lock, so a concurrent transition cannot make the edit fail
// spuriously. Moving to cancelled must go through CancelBooking so the slot
// gets released.
func (s *Service) UpdateBooking(ctx context.Context, bookingID uuid.UUID, status *BookingStatus, reason *string) (*BookingDetail, error) {
	var updated *Booking

	err := s.store.WithinTx(ctx, func(txCtx context.Context, tx Tx) error {
		b, err := tx.LockBooking(txCtx, bookingID)
		if err != nil {
			return err
		}
		if b.Status.IsTerminal() {
			return ErrBookingFinalized
		}

		if status != nil && *status != b.Status {
			if !canTransition(b.Status, *status) {
				return ErrInvalidTransition
			}
			b.Status = *status
			if *status == StatusConfirmed || *status == StatusCompleted {
				b.ExpiresAt = nil
			}
		}
		if reason != nil {
			b.Reason = reason
		}
		if err := tx.UpdateBooking(txCtx, b); err != nil {
			return fmt.Errorf("update booking: %w", err)
		}

		updated = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.hydrate(ctx, updated), nil
}

// canTransition encodes pending -> confirmed -> completed. Cancellation is
// excluded here on purpose: it releases the slot, which only CancelBooking
// does.
func canTransition(from, to BookingStatus) bool {
	switch from {
	case StatusPending:
		return to == StatusConfirmed
	case StatusConfirmed:
		return to == StatusCompleted
	default:
		return false
	}
}

// GetBooking retrieves a fully hydrated booking by ID.
func (s *Service) GetBooking(ctx context.Context, id uuid.UUID) (*BookingDetail, error) {
	detail, err := s.store.GetBookingDetail(ctx, id)
	if err != nil {
		if errors.Is(err, ErrBookingNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get booking: %w", err)
	}
	return detail, nil
}

// ListPatientBookings retrieves all bookings for one patient.
func (s *Service) ListPatientBookings(ctx context.Context, patientID uuid.UUID) ([]BookingDetail, error) {
	if _, err := s.store.GetPatientByID(ctx, patientID); err != nil {
		return nil, err
	}
	details, err := s.store.ListBookingsByPatient(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("list patient bookings: %w", err)
	}
	return details, nil
}

// ListClinicianSchedule retrieves bookings for a clinician within a range.
func (s *Service) ListClinicianSchedule(ctx context.Context, clinicianID uuid.UUID, from, to time.Time) ([]BookingDetail, error) {
	if !to.After(from) {
		return nil, ErrInvalidInterval
	}
	if _, err := s.store.GetClinicianByID(ctx, clinicianID); err != nil {
		return nil, err
	}
	details, err := s.store.ListBookingsByClinician(ctx, clinicianID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list clinician schedule: %w", err)
	}
	return details, nil
}

// ListAvailableSlots lists available slots for a clinician in [from, to),
// ordered by start time. No locks are taken: a listed slot can be lost to a
// concurrent claim, the authoritative check happens in Claim.
func (s *Service) ListAvailableSlots(ctx context.Context, clinicianID uuid.UUID, from, to time.Time) ([]Slot, error) {
	if !to.After(from) {
		return nil, ErrInvalidInterval
	}
	if _, err := s.store.GetClinicianByID(ctx, clinicianID); err != nil {
		return nil, err
	}
	slots, err := s.store.ListAvailableSlots(ctx, clinicianID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list available slots: %w", err)
	}
	return slots, nil
}

// CreateSlot adds a new available slot for a clinician. The interval must be
// non-empty and must not overlap any existing slot of the same clinician.
func (s *Service) CreateSlot(ctx context.Context, clinicianID uuid.UUID, start, end time.Time) (*Slot, error) {
	if !end.After(start) {
		return nil, ErrInvalidInterval
	}
	if _, err := s.store.GetClinicianByID(ctx, clinicianID); err != nil {
		return nil, err
	}
	slot, err := s.store.CreateSlot(ctx, clinicianID, start, end)
	if err != nil {
		if errors.Is(err, ErrSlotOverlap) {
			return nil, err
		}
		return nil, fmt.Errorf("create slot: %w", err)
	}
	return slot, nil
}

// ExpireOverduePending cancels pending bookings whose hold horizon has
// passed and releases their slots. Intended to be called periodically by
// the expiry worker. Each booking is handled in its own transaction so one
// failure does not block the rest of the batch.
func (s *Service) ExpireOverduePending(ctx context.Context) error {
	overdue, err := s.store.FindExpiredPending(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("find expired pending bookings: %w", err)
	}

	for _, candidate := range overdue {
		id := candidate.ID
		err := s.store.WithinTx(ctx, func(txCtx context.Context, tx Tx) error {
			b, err := tx.LockBooking(txCtx, id)
			if err != nil {
				return err
			}
			// Re-check under the lock: the patient may have confirmed or
			// cancelled between the scan and now.
			if b.Status != StatusPending || b.ExpiresAt == nil || b.ExpiresAt.After(time.Now()) {
				return nil
			}

			b.Status = StatusCancelled
			b.ExpiresAt = nil
			if err := tx.UpdateBooking(txCtx, b); err != nil {
				return fmt.Errorf("update booking: %w", err)
			}
			if b.SlotID != nil {
				if err := s.alloc.Release(txCtx, tx, *b.SlotID); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			s.log.Warn("expire pending booking", zap.String("booking_id", id.String()), zap.Error(err))
			continue
		}
		s.log.Info("expired pending booking", zap.String("booking_id", id.String()))
	}

	return nil
}

// dispatchAsync fires a notification without gating the caller. Failures
// are logged and dropped; booking success never depends on delivery.
func (s *Service) dispatchAsync(ev notify.Event) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.notifyTimeout)
		defer cancel()

		if err := s.dispatcher.Dispatch(ctx, ev); err != nil {
			s.log.Warn("notification dispatch failed",
				zap.String("type", ev.Type),
				zap.String("booking_id", ev.BookingID.String()),
				zap.Error(err),
			)
		}
	}()
}

// hydrate loads related rows for display. Read failures downgrade to a
// partial view instead of failing an already-committed mutation.
func (s *Service) hydrate(ctx context.Context, b *Booking) *BookingDetail {
	detail := &BookingDetail{Booking: *b}

	if p, err := s.store.GetPatientByID(ctx, b.PatientID); err == nil {
		detail.Patient = p
	} else {
		s.log.Warn("hydrate patient", zap.String("booking_id", b.ID.String()), zap.Error(err))
	}

	if b.SlotID != nil {
		if slot, err := s.store.GetSlotByID(ctx, *b.SlotID); err == nil {
			detail.Slot = slot
			if c, err := s.store.GetClinicianByID(ctx, slot.ClinicianID); err == nil {
				detail.Clinician = c
			}
		} else {
			s.log.Warn("hydrate slot", zap.String("booking_id", b.ID.String()), zap.Error(err))
		}
	}

	return detail
}

func patientName(p *Patient) string {
	if p == nil {
		return ""
	}
	return p.Name
}

func clinicianName(c *Clinician) string {
	if c == nil {
		return ""
	}
	return c.Name
}

func slotTime(s *Slot) string {
	if s == nil {
		return ""
	}
	return s.StartTime.Format(appointmentTimeLayout)
}

func stringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
