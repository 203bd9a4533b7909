package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/medihub/booking-sync/internal/booking"
	"github.com/medihub/booking-sync/internal/registry"
)

type RouterConfig struct {
	Service   *booking.Service
	PgPool    *pgxpool.Pool
	Redis     *redis.Client
	Transport registry.Transport
	Logger    zerolog.Logger
	Env       string
	Version   string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Transport, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Get("/availability", availabilityHandler(cfg.Service))

	r.Route("/bookings", func(r chi.Router) {
		r.Post("/", createBookingHandler(cfg.Service))
		r.Get("/", listBookingsHandler(cfg.Service))
		r.Get("/{id}", getBookingHandler(cfg.Service))
		r.Post("/{id}/confirm", transitionHandler(cfg.Service, confirm))
		r.Post("/{id}/arrive", transitionHandler(cfg.Service, arrive))
		r.Post("/{id}/start", transitionHandler(cfg.Service, start))
		r.Post("/{id}/complete", transitionHandler(cfg.Service, complete))
		r.Post("/{id}/cancel", transitionHandler(cfg.Service, cancel))
		r.Post("/{id}/reschedule", rescheduleHandler(cfg.Service))
		r.Post("/{id}/resync", resyncHandler(cfg.Service))
	})

	r.Get("/doctors/{id}/bookings", listDoctorDayHandler(cfg.Service))

	return r
}

func confirm(svc *booking.Service, r *http.Request, id uuid.UUID, actor booking.Actor) (*booking.Appointment, error) {
	return svc.Confirm(r.Context(), id, actor)
}

func arrive(svc *booking.Service, r *http.Request, id uuid.UUID, actor booking.Actor) (*booking.Appointment, error) {
	return svc.MarkArrived(r.Context(), id, actor)
}

func start(svc *booking.Service, r *http.Request, id uuid.UUID, actor booking.Actor) (*booking.Appointment, error) {
	return svc.MarkInProgress(r.Context(), id, actor)
}

func complete(svc *booking.Service, r *http.Request, id uuid.UUID, actor booking.Actor) (*booking.Appointment, error) {
	return svc.MarkCompleted(r.Context(), id, actor)
}

func cancel(svc *booking.Service, r *http.Request, id uuid.UUID, actor booking.Actor) (*booking.Appointment, error) {
	return svc.Cancel(r.Context(), id, actor)
}
