package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/medflow/booking-engine/internal/booking"
)

type CreateBookingRequest struct {
	PatientID string  `json:"patient_id" validate:"required,uuid"`
	SlotID    string  `json:"slot_id" validate:"required,uuid"`
	Reason    *string `json:"reason,omitempty" validate:"omitempty,max=500"`
}

type RescheduleBookingRequest struct {
	SlotID string  `json:"slot_id" validate:"required,uuid"`
	Reason *string `json:"reason,omitempty" validate:"omitempty,max=500"`
}

type UpdateBookingRequest struct {
	Status *string `json:"status,omitempty" validate:"omitempty,oneof=confirmed completed"`
	Reason *string `json:"reason,omitempty" validate:"omitempty,max=500"`
}

type CreateSlotRequest struct {
	ClinicianID string    `json:"clinician_id" validate:"required,uuid"`
	StartTime   time.Time `json:"start_time" validate:"required"`
	EndTime     time.Time `json:"end_time" validate:"required"`
}

type PatientView struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Email string    `json:"email,omitempty"`
}

type ClinicianView struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

type SlotView struct {
	ID          uuid.UUID `json:"id"`
	ClinicianID uuid.UUID `json:"clinician_id"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	Status      string    `json:"status"`
}

type BookingView struct {
	ID       uuid.UUID      `json:"id"`
	Status   string         `json:"status"`
	Reason   *string        `json:"reason,omitempty"`
	IsWalkIn bool           `json:"is_walk_in"`
	Patient  *PatientView   `json:"patient,omitempty"`
	Resource *ClinicianView `json:"resource,omitempty"`
	Slot     *SlotView      `json:"slot"`
}

type CancelBookingResponse struct {
	Message   string     `json:"message"`
	BookingID uuid.UUID  `json:"booking_id"`
	SlotID    *uuid.UUID `json:"slot_id,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toSlotView(s *booking.Slot) *SlotView {
	if s == nil {
		return nil
	}
	return &SlotView{
		ID:          s.ID,
		ClinicianID: s.ClinicianID,
		StartTime:   s.StartTime,
		EndTime:     s.EndTime,
		Status:      string(s.Status),
	}
}

func toBookingView(d *booking.BookingDetail) BookingView {
	view := BookingView{
		ID:       d.ID,
		Status:   string(d.Status),
		Reason:   d.Reason,
		IsWalkIn: d.IsWalkIn,
		Slot:     toSlotView(d.Slot),
	}

	if d.Patient != nil {
		view.Patient = &PatientView{
			ID:   d.Patient.ID,
			Name: d.Patient.Name,
		}
		if d.Patient.Email != nil {
			view.Patient.Email = *d.Patient.Email
		}
	}
	if d.Clinician != nil {
		view.Resource = &ClinicianView{
			ID:   d.Clinician.ID,
			Name: d.Clinician.Name,
		}
	}

	return view
}

func toBookingViews(details []booking.BookingDetail) []BookingView {
	views := make([]BookingView, 0, len(details))
	for i := range details {
		views = append(views, toBookingView(&details[i]))
	}
	return views
}
