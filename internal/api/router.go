package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type RouterConfig struct {
	Service BookingService
	PgPool  *pgxpool.Pool
	Redis   *redis.Client
	Log     *zap.Logger
	Env     string
	Version string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Log))

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Route("/bookings", func(r chi.Router) {
		r.Post("/", createBookingHandler(cfg.Service))
		r.Get("/{id}", getBookingHandler(cfg.Service))
		r.Patch("/{id}", updateBookingHandler(cfg.Service))
		r.Post("/{id}/cancel", cancelBookingHandler(cfg.Service))
		r.Post("/{id}/reschedule", rescheduleBookingHandler(cfg.Service))
	})

	r.Get("/patients/{id}/bookings", listPatientBookingsHandler(cfg.Service))

	r.Post("/slots", createSlotHandler(cfg.Service))
	r.Get("/clinicians/{id}/slots", listAvailableSlotsHandler(cfg.Service))
	r.Get("/clinicians/{id}/schedule", listClinicianScheduleHandler(cfg.Service))

	return r
}
