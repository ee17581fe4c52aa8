package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/oapi-codegen/runtime"
	"go.uber.org/zap"

	"github.com/dgnsrekt/leadfeed/internal/availability"
	"github.com/dgnsrekt/leadfeed/internal/feed"
	"github.com/dgnsrekt/leadfeed/internal/lead"
	"github.com/dgnsrekt/leadfeed/internal/metrics"
	"github.com/dgnsrekt/leadfeed/internal/quote"
)

const maxBodyBytes = 1 << 20

// Options wires the server's collaborators.
type Options struct {
	Log     *availability.EventLog
	Hub     *feed.Hub
	Leads   *lead.Service
	Quotes  *quote.Calculator
	Runtime *Runtime
	Chaos   *Chaos
	Events  *EventBuffer
	Metrics *metrics.Metrics
}

type Server struct {
	log     *availability.EventLog
	hub     *feed.Hub
	leads   *lead.Service
	quotes  *quote.Calculator
	runtime *Runtime
	chaos   *Chaos
	events  *EventBuffer
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewServer(opts Options, logger *zap.Logger) *Server {
	return &Server{
		log:     opts.Log,
		hub:     opts.Hub,
		leads:   opts.Leads,
		quotes:  opts.Quotes,
		runtime: opts.Runtime,
		chaos:   opts.Chaos,
		events:  opts.Events,
		metrics: opts.Metrics,
		logger:  logger,
	}
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type validationFailedResponse struct {
	Error  string                       `json:"error"`
	Errors map[string]map[string]string `json:"errors"`
}

type healthResponse struct {
	OK      bool   `json:"ok"`
	Release string `json:"release"`
}

type featureFlags struct {
	Uploads     bool `json:"uploads"`
	AdvisorFeed bool `json:"advisorFeed"`
}

type runtimeConfigResponse struct {
	Release      string       `json:"release"`
	FeatureFlags featureFlags `json:"featureFlags"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	h := w.Header()
	h.Set("Content-Type", "application/json; charset=utf-8")
	h.Set("Cache-Control", "no-store")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Referrer-Policy", "no-referrer")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	return io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{OK: true, Release: s.runtime.Release()})
}

func (s *Server) handleRuntimeConfig(w http.ResponseWriter, r *http.Request) {
	flags := s.runtime.Flags()
	writeJSON(w, http.StatusOK, runtimeConfigResponse{
		Release: s.runtime.Release(),
		FeatureFlags: featureFlags{
			Uploads:     flags.Uploads,
			AdvisorFeed: flags.AdvisorFeed,
		},
	})
}

func (s *Server) handleClientEvent(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid_json"})
		return
	}
	if len(body) == 0 {
		body = []byte("{}")
	}
	if !json.Valid(body) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid_json"})
		return
	}

	s.events.Add(json.RawMessage(body))
	s.metrics.ClientEvent()
	writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

func (s *Server) handleResync(w http.ResponseWriter, r *http.Request) {
	var after int64
	if err := runtime.BindQueryParameter("form", true, false, "after", r.URL.Query(), &after); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}
	if after < 0 {
		after = 0
	}

	ev, outcome := s.log.Resync(uint64(after))
	s.metrics.Resync(string(outcome))

	s.logger.Debug("resync",
		zap.Int64("after", after),
		zap.Uint64("seq", ev.Seq),
		zap.String("outcome", string(outcome)),
	)

	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleRateQuote(w http.ResponseWriter, r *http.Request) {
	if _, handled := s.chaos.Apply(w, r, endpointQuote, "quote_service_unavailable"); handled {
		return
	}

	query := r.URL.Query()
	var p quote.Params
	for name, dest := range map[string]any{
		"zip":            &p.Zip,
		"creditRange":    &p.CreditRange,
		"homeValue":      &p.HomeValue,
		"currentBalance": &p.CurrentBalance,
	} {
		if err := runtime.BindQueryParameter("form", true, false, name, query, dest); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid_request", Message: err.Error()})
			return
		}
	}

	writeJSON(w, http.StatusOK, s.quotes.Compute(p))
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	scenarioID := r.Header.Get("X-Scenario-Id")
	if scenarioID != "" {
		w.Header().Set("X-Scenario-Id", scenarioID)
	}

	fault, handled := s.chaos.Apply(w, r, endpointSubmit, "lead_service_unavailable")
	if handled {
		return
	}

	body, err := readBody(w, r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid_json"})
		return
	}
	var sub lead.Submission
	if len(body) > 0 {
		if err := json.Unmarshal(body, &sub); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid_json"})
			return
		}
	}

	if fault == faultValidation {
		writeJSON(w, http.StatusUnprocessableEntity, validationFailedResponse{
			Error:  "validation_failed",
			Errors: lead.ValidationFailure(sub).Groups,
		})
		return
	}

	result, err := s.leads.Submit(r.Context(), sub, scenarioID)
	if err != nil {
		var verr *lead.ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusUnprocessableEntity, validationFailedResponse{
				Error:  "validation_failed",
				Errors: verr.Groups,
			})
			return
		}
		s.logger.Error("submission failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal_error"})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// feedEnabled gates realtime endpoints on the advisorFeed flag.
func (s *Server) feedEnabled(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.runtime.Flags().AdvisorFeed {
			notFound(w, r)
			return
		}
		next(w, r)
	}
}

func notFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, errorResponse{Error: "not_found"})
}
