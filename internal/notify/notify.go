// Package notify delivers fire-and-forget booking events to the external
// notification dispatcher. Delivery is at-most-once: a failed dispatch is
// logged by the caller and never retried, and never affects the outcome of
// the booking transaction it describes.
package notify

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	EventAppointmentBooked      = "AppointmentBooked"
	EventAppointmentCancelled   = "AppointmentCancelled"
	EventAppointmentRescheduled = "AppointmentRescheduled"
)

// Event describes a booking outcome for both parties. AppointmentTime is
// pre-formatted for human display; recipients do not need slot access.
type Event struct {
	Type            string    `json:"type"`
	BookingID       uuid.UUID `json:"booking_id"`
	PatientName     string    `json:"patient_name"`
	ClinicianName   string    `json:"clinician_name"`
	AppointmentTime string    `json:"appointment_time,omitempty"`
	Reason          string    `json:"reason,omitempty"`
}

type Dispatcher interface {
	Dispatch(ctx context.Context, ev Event) error
}

// LogDispatcher writes events to the log instead of a transport. Used in
// dev setups without Redis.
type LogDispatcher struct {
	log *zap.Logger
}

func NewLogDispatcher(log *zap.Logger) *LogDispatcher {
	return &LogDispatcher{log: log}
}

func (d *LogDispatcher) Dispatch(_ context.Context, ev Event) error {
	d.log.Info("notification event",
		zap.String("type", ev.Type),
		zap.String("booking_id", ev.BookingID.String()),
		zap.String("patient", ev.PatientName),
		zap.String("clinician", ev.ClinicianName),
		zap.String("appointment_time", ev.AppointmentTime),
	)
	return nil
}
