package api

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/medihub/booking-sync/internal/registry"
)

type HealthHandler struct {
	pgPool    *pgxpool.Pool
	redis     *redis.Client
	transport registry.Transport
	env       string
	version   string
}

func NewHealthHandler(pgPool *pgxpool.Pool, rdb *redis.Client, transport registry.Transport, env, version string) *HealthHandler {
	return &HealthHandler{
		pgPool:    pgPool,
		redis:     rdb,
		transport: transport,
		env:       env,
		version:   version,
	}
}

type LivenessResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Env     string `json:"env,omitempty"`
}

type ReadinessResponse struct {
	Status       string            `json:"status"`
	Version      string            `json:"version,omitempty"`
	Env          string            `json:"env,omitempty"`
	Transport    string            `json:"registry_transport"`
	Dependencies map[string]string `json:"dependencies"`
}

func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	resp := LivenessResponse{
		Status:  "ok",
		Version: h.version,
		Env:     h.env,
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	deps := make(map[string]string)
	status := "ok"

	// Postgres is the system of record: its loss means not ready.
	pgCtx, pgCancel := context.WithTimeout(ctx, time.Second)
	err := h.pgPool.Ping(pgCtx)
	pgCancel()
	if err != nil {
		deps["postgres"] = "down"
		status = "error"
	} else {
		deps["postgres"] = "ok"
	}

	redisCtx, redisCancel := context.WithTimeout(ctx, time.Second)
	err = h.redis.Ping(redisCtx).Err()
	redisCancel()
	if err != nil {
		deps["redis"] = "down"
		if status == "ok" {
			status = "degraded"
		}
	} else {
		deps["redis"] = "ok"
	}

	// A dead registry only degrades: bookings still succeed locally.
	if h.transport.Mode() == registry.ModeNone {
		deps["registry"] = "local-only"
	} else {
		regCtx, regCancel := context.WithTimeout(ctx, time.Second)
		err = h.transport.Ping(regCtx)
		regCancel()
		if err != nil {
			deps["registry"] = "down"
			if status == "ok" {
				status = "degraded"
			}
		} else {
			deps["registry"] = "ok"
		}
	}

	resp := ReadinessResponse{
		Status:       status,
		Version:      h.version,
		Env:          h.env,
		Transport:    string(h.transport.Mode()),
		Dependencies: deps,
	}

	httpStatus := http.StatusOK
	if status == "error" {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, resp)
}
