// Package http exposes the operator control surface for the dashboard
package http

import (
	stdhttp "net/http"
	"time"

	"sprayer/internal/core/version"
	phttp "sprayer/internal/platform/net/http"
	"sprayer/internal/services/pipeline/domain"
)

// Deps are the handler dependencies
type Deps struct {
	ServiceName string
	StartedAt   time.Time
	Control     domain.ControlPort
}

type handlers struct {
	deps Deps
}

// Register mounts the control routes
func Register(r phttp.Router, d Deps) {
	h := &handlers{deps: d}

	phttp.GetJSON(r, "/healthz", h.health)
	r.Route("/v1", func(r phttp.Router) {
		phttp.GetJSON(r, "/status", h.status)
		phttp.GetJSON(r, "/version", h.version)
		r.Route("/spray", func(r phttp.Router) {
			phttp.PostJSONNoBody(r, "/enable", h.enable)
			phttp.PostJSONNoBody(r, "/disable", h.disable)
			phttp.PostJSONNoBody(r, "/reset", h.reset)
		})
		phttp.PostJSON[PulseInput](r, "/nozzles/pulse", h.pulse)
	})
}

// HealthResponse is the liveness payload
type HealthResponse struct {
	OK      bool   `json:"ok"`
	Service string `json:"service"`
	Started string `json:"started"`
	Now     string `json:"now"`
}

// StatusResponse wraps the pipeline snapshot with process uptime
type StatusResponse struct {
	domain.Status
	UptimeSeconds int64 `json:"uptime_seconds"`
}

// PulseInput manually opens one nozzle for a bounded duration
type PulseInput struct {
	Nozzle     int `json:"nozzle" validate:"gte=0,lte=15"`
	DurationMS int `json:"duration_ms" validate:"gte=10,lte=2000"`
}

func (h *handlers) health(_ *stdhttp.Request) (any, error) {
	return HealthResponse{
		OK:      true,
		Service: h.deps.ServiceName,
		Started: h.deps.StartedAt.UTC().Format(time.RFC3339),
		Now:     time.Now().UTC().Format(time.RFC3339),
	}, nil
}

func (h *handlers) status(r *stdhttp.Request) (any, error) {
	return h.snapshot(r), nil
}

func (h *handlers) version(_ *stdhttp.Request) (any, error) {
	return version.Info(), nil
}

// command handlers return the post-command snapshot so the dashboard can
// render the new state without a second round trip

func (h *handlers) enable(r *stdhttp.Request) (any, error) {
	if err := h.deps.Control.Enable(r.Context()); err != nil {
		return nil, err
	}
	return h.snapshot(r), nil
}

func (h *handlers) disable(r *stdhttp.Request) (any, error) {
	if err := h.deps.Control.Disable(r.Context()); err != nil {
		return nil, err
	}
	return h.snapshot(r), nil
}

func (h *handlers) reset(r *stdhttp.Request) (any, error) {
	if err := h.deps.Control.ResetFailsafe(r.Context()); err != nil {
		return nil, err
	}
	return h.snapshot(r), nil
}

func (h *handlers) pulse(r *stdhttp.Request, in PulseInput) (any, error) {
	open := time.Duration(in.DurationMS) * time.Millisecond
	if err := h.deps.Control.Pulse(r.Context(), in.Nozzle, open); err != nil {
		return nil, err
	}
	return h.snapshot(r), nil
}

func (h *handlers) snapshot(r *stdhttp.Request) StatusResponse {
	return StatusResponse{
		Status:        h.deps.Control.Status(r.Context()),
		UptimeSeconds: int64(time.Since(h.deps.StartedAt) / time.Second),
	}
}
