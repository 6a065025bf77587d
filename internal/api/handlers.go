package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/medflow/booking-engine/internal/booking"
)

var validate = validator.New()

// BookingService is the slice of the lifecycle manager the handlers need.
type BookingService interface {
	CreateBooking(ctx context.Context, patientID, slotID uuid.UUID, reason *string) (*booking.BookingDetail, error)
	CancelBooking(ctx context.Context, bookingID uuid.UUID) (*booking.BookingDetail, error)
	RescheduleBooking(ctx context.Context, bookingID, newSlotID uuid.UUID, reason *string) (*booking.BookingDetail, error)
	UpdateBooking(ctx context.Context, bookingID uuid.UUID, status *booking.BookingStatus, reason *string) (*booking.BookingDetail, error)
	GetBooking(ctx context.Context, id uuid.UUID) (*booking.BookingDetail, error)
	ListPatientBookings(ctx context.Context, patientID uuid.UUID) ([]booking.BookingDetail, error)
	ListClinicianSchedule(ctx context.Context, clinicianID uuid.UUID, from, to time.Time) ([]booking.BookingDetail, error)
	ListAvailableSlots(ctx context.Context, clinicianID uuid.UUID, from, to time.Time) ([]booking.Slot, error)
	CreateSlot(ctx context.Context, clinicianID uuid.UUID, start, end time.Time) (*booking.Slot, error)
}

func createBookingHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateBookingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
			return
		}

		patientID, _ := uuid.Parse(req.PatientID)
		slotID, _ := uuid.Parse(req.SlotID)

		detail, err := svc.CreateBooking(r.Context(), patientID, slotID, req.Reason)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toBookingView(detail))
	}
}

func getBookingHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}

		detail, err := svc.GetBooking(r.Context(), id)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toBookingView(detail))
	}
}

func updateBookingHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}

		var req UpdateBookingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
			return
		}
		if req.Status == nil && req.Reason == nil {
			writeError(w, http.StatusBadRequest, "validation_failed", "nothing to update")
			return
		}

		var status *booking.BookingStatus
		if req.Status != nil {
			st := booking.BookingStatus(*req.Status)
			status = &st
		}

		detail, err := svc.UpdateBooking(r.Context(), id, status, req.Reason)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toBookingView(detail))
	}
}

func cancelBookingHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}

		detail, err := svc.CancelBooking(r.Context(), id)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, CancelBookingResponse{
			Message:   "booking cancelled",
			BookingID: detail.ID,
			SlotID:    detail.Booking.SlotID,
		})
	}
}

func rescheduleBookingHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}

		var req RescheduleBookingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
			return
		}

		newSlotID, _ := uuid.Parse(req.SlotID)

		detail, err := svc.RescheduleBooking(r.Context(), id, newSlotID, req.Reason)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toBookingView(detail))
	}
}

func listPatientBookingsHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}

		details, err := svc.ListPatientBookings(r.Context(), id)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toBookingViews(details))
	}
}

func createSlotHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateSlotRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
			return
		}

		clinicianID, _ := uuid.Parse(req.ClinicianID)

		slot, err := svc.CreateSlot(r.Context(), clinicianID, req.StartTime, req.EndTime)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toSlotView(slot))
	}
}

func listAvailableSlotsHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}

		day, err := time.Parse("2006-01-02", r.URL.Query().Get("date"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}
		from := day
		to := day.Add(24 * time.Hour)

		slots, err := svc.ListAvailableSlots(r.Context(), id, from, to)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		views := make([]SlotView, 0, len(slots))
		for i := range slots {
			views = append(views, *toSlotView(&slots[i]))
		}
		writeJSON(w, http.StatusOK, views)
	}
}

func listClinicianScheduleHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}

		from, err := time.Parse(time.RFC3339, r.URL.Query().Get("from"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_range", "from must be RFC3339")
			return
		}
		to, err := time.Parse(time.RFC3339, r.URL.Query().Get("to"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_range", "to must be RFC3339")
			return
		}

		details, err := svc.ListClinicianSchedule(r.Context(), id, from, to)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toBookingViews(details))
	}
}

func parseIDParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func handleServiceError(w http.ResponseWriter, err error) {
	var unavailable *booking.SlotUnavailableError

	switch {
	case errors.Is(err, booking.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, booking.ErrClinicianNotFound):
		writeError(w, http.StatusNotFound, "clinician_not_found", err.Error())
	case errors.Is(err, booking.ErrSlotNotFound):
		writeError(w, http.StatusNotFound, "slot_not_found", err.Error())
	case errors.Is(err, booking.ErrBookingNotFound):
		writeError(w, http.StatusNotFound, "booking_not_found", err.Error())
	case errors.As(err, &unavailable):
		writeError(w, http.StatusConflict, "slot_unavailable", err.Error())
	case errors.Is(err, booking.ErrSlotContended):
		writeError(w, http.StatusConflict, "slot_contended", "slot is being claimed by another request, please retry")
	case errors.Is(err, booking.ErrBookingFinalized):
		writeError(w, http.StatusConflict, "booking_finalized", err.Error())
	case errors.Is(err, booking.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, booking.ErrSlotOverlap):
		writeError(w, http.StatusConflict, "slot_overlap", err.Error())
	case errors.Is(err, booking.ErrInvalidInterval):
		writeError(w, http.StatusBadRequest, "invalid_interval", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
