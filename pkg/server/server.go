// Package server exposes the stage over HTTP for the scanner web UI.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/probelab/sonicstage/pkg/gcode"
	"github.com/probelab/sonicstage/pkg/stage"
)

// Motion is the slice of the stage the HTTP layer drives.
type Motion interface {
	SubmitStep(req stage.StepRequest) error
	StartContinuous(action stage.Action, feed float64, tick time.Duration) error
	StopContinuous(action stage.Action)
	CachedPosition() gcode.Position
	QueryPosition(ctx context.Context) (gcode.Position, error)
	EmergencyStop() error
	Init(ctx context.Context) error
	ScanStart(ctx context.Context) error
	ScanTraverse(ctx context.Context) error
}

var _ Motion = (*stage.Stage)(nil)

// Server maps HTTP requests onto the motion core.
type Server struct {
	motion Motion
}

// NewHandler builds the router.
func NewHandler(m Motion) http.Handler {
	s := &Server{motion: m}

	r := chi.NewRouter()
	r.Post("/api/jog", s.Jog)
	r.Post("/api/continuous/start", s.ContinuousStart)
	r.Post("/api/continuous/stop", s.ContinuousStop)
	r.Get("/api/position", s.Position)
	r.Post("/api/emergency-stop", s.Emergency)
	r.Post("/api/init", s.Init)
	r.Post("/api/scan/start", s.ScanStart)
	r.Post("/api/scan/traverse", s.ScanTraverse)
	r.Get("/healthz", s.Health)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

type jogRequest struct {
	// Direction is an action token: X+ X- Y+ Y- Z+ Z- rot-cw rot-ccw.
	Direction string  `json:"direction"`
	Step      float64 `json:"step"`
	Feed      float64 `json:"feed,omitempty"`
}

type continuousRequest struct {
	Action string  `json:"action"`
	Feed   float64 `json:"feed,omitempty"`
	TickMS float64 `json:"tick_ms,omitempty"`
}

type statusResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

// Jog handles one discrete click.
func (s *Server) Jog(w http.ResponseWriter, r *http.Request) {
	var body jogRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	axis, sign, ok := stage.Action(body.Direction).Vector()
	if !ok {
		httpError(w, http.StatusBadRequest, fmt.Sprintf("invalid direction %q", body.Direction))
		return
	}
	step := body.Step
	if step <= 0 {
		step = 1
	}

	err := s.motion.SubmitStep(stage.StepRequest{
		Axis:   axis,
		Delta:  sign * step,
		Feed:   body.Feed,
		Origin: stage.OriginStep,
	})
	if err != nil {
		slog.Warn("jog rejected", "direction", body.Direction, "err", err)
		httpError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, statusResponse{OK: true, Message: fmt.Sprintf("moved %s by %g", body.Direction, step)})
}

// ContinuousStart begins a hold-to-move session.
func (s *Server) ContinuousStart(w http.ResponseWriter, r *http.Request) {
	var body continuousRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	tick := time.Duration(body.TickMS * float64(time.Millisecond))
	if err := s.motion.StartContinuous(stage.Action(body.Action), body.Feed, tick); err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, statusResponse{OK: true})
}

// ContinuousStop ends a hold; harmless when none is active.
func (s *Server) ContinuousStop(w http.ResponseWriter, r *http.Request) {
	var body continuousRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.motion.StopContinuous(stage.Action(body.Action))
	writeJSON(w, statusResponse{OK: true})
}

// Position returns the cached pose; ?query=1 forces a live query. Values
// are per-axis; axes never resolved since connect are omitted.
func (s *Server) Position(w http.ResponseWriter, r *http.Request) {
	var pos gcode.Position
	if r.URL.Query().Get("query") != "" {
		var err error
		pos, err = s.motion.QueryPosition(r.Context())
		if err != nil {
			httpError(w, http.StatusBadGateway, err.Error())
			return
		}
	} else {
		pos = s.motion.CachedPosition()
	}
	writeJSON(w, pos)
}

func (s *Server) Emergency(w http.ResponseWriter, r *http.Request) {
	if err := s.motion.EmergencyStop(); err != nil {
		httpError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, statusResponse{OK: true, Message: "emergency stop issued"})
}

func (s *Server) Init(w http.ResponseWriter, r *http.Request) {
	if err := s.motion.Init(r.Context()); err != nil {
		slog.Error("init failed", "err", err)
		httpError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, statusResponse{OK: true, Message: "stage initialized"})
}

func (s *Server) ScanStart(w http.ResponseWriter, r *http.Request) {
	if err := s.motion.ScanStart(r.Context()); err != nil {
		httpError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, statusResponse{OK: true})
}

func (s *Server) ScanTraverse(w http.ResponseWriter, r *http.Request) {
	if err := s.motion.ScanTraverse(r.Context()); err != nil {
		httpError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, statusResponse{OK: true})
}

func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("response encode failed", "err", err)
	}
}

func httpError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(statusResponse{OK: false, Message: msg})
}
