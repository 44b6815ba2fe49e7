package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ogulcanaydogan/heatwatch/pkg/channels"
	"github.com/ogulcanaydogan/heatwatch/pkg/inbound"
	"github.com/ogulcanaydogan/heatwatch/pkg/model"
	"github.com/ogulcanaydogan/heatwatch/pkg/sequence"
	"github.com/ogulcanaydogan/heatwatch/pkg/storage"
)

// SignatureHeader carries the HMAC-SHA256 of a webhook body as "sha256=<hex>".
const SignatureHeader = "X-Signature-256"

const defaultMaxBody = 1 << 20

// Options configures a Server.
type Options struct {
	// Secret verifies webhook signatures. Empty disables verification.
	Secret string
	// Strict rejects unsigned or badly signed webhooks with 401. Otherwise they are logged and accepted.
	Strict      bool
	MaxBodySize int64
	Gatherer    prometheus.Gatherer
}

// Server exposes provider webhooks, the sequence test API and read-only alert queries.
type Server struct {
	store    storage.Store
	inbound  *inbound.Handler
	sequence *sequence.Orchestrator
	opts     Options
	mux      *http.ServeMux
	logger   *slog.Logger
}

// NewServer creates an API server.
func NewServer(store storage.Store, in *inbound.Handler, seq *sequence.Orchestrator, opts Options, logger *slog.Logger) *Server {
	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = defaultMaxBody
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		store:    store,
		inbound:  in,
		sequence: seq,
		opts:     opts,
		mux:      http.NewServeMux(),
		logger:   logger,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))

	s.mux.Handle("POST /webhooks/voice/keypress", s.signed(s.handleKeypress))
	s.mux.Handle("POST /webhooks/chat/postback", s.signed(s.handlePostback))
	s.mux.Handle("POST /webhooks/status", s.signed(s.handleStatus))

	s.mux.HandleFunc("POST /api/v1/sequences", s.handleStartSequence)
	s.mux.HandleFunc("GET /api/v1/sequences/{id}", s.handleGetSequence)
	s.mux.HandleFunc("DELETE /api/v1/sequences/{id}", s.handleCancelSequence)

	s.mux.HandleFunc("GET /api/v1/alerts", s.handleAlerts)
	s.mux.HandleFunc("GET /api/v1/alerts/{id}", s.handleAlert)
}

// Handler returns the HTTP handler for this server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// signed reads the body, verifies its signature and hands the raw bytes to next.
func (s *Server) signed(next func(http.ResponseWriter, *http.Request, []byte)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.opts.MaxBodySize))
		if err != nil {
			http.Error(w, "failed to read request body", http.StatusRequestEntityTooLarge)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		if s.opts.Secret != "" && !channels.VerifyHMAC(body, r.Header.Get(SignatureHeader), []byte(s.opts.Secret)) {
			if s.opts.Strict {
				s.logger.Warn("webhook signature rejected", "path", r.URL.Path)
				http.Error(w, "invalid signature", http.StatusUnauthorized)
				return
			}
			s.logger.Warn("webhook signature invalid, accepted in permissive mode", "path", r.URL.Path)
		}
		next(w, r, body)
	})
}

func (s *Server) handleKeypress(w http.ResponseWriter, r *http.Request, body []byte) {
	var ev inbound.KeypressEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	res, err := s.inbound.HandleKeypress(r.Context(), ev)
	s.writeResult(w, res, err)
}

type postbackRequest struct {
	EventID string `json:"event_id"`
	UserID  string `json:"user_id"`
	// Data is the URL-encoded postback payload, e.g. "action=done&alert_id=...".
	Data string `json:"data"`
}

func (s *Server) handlePostback(w http.ResponseWriter, r *http.Request, body []byte) {
	var req postbackRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	pb, err := inbound.ParsePostback(req.Data)
	if err != nil {
		s.writeResult(w, inbound.Result{}, err)
		return
	}
	pb.EventID, pb.UserID = req.EventID, req.UserID

	res, err := s.inbound.HandlePostback(r.Context(), pb)
	s.writeResult(w, res, err)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request, body []byte) {
	var cb inbound.StatusCallback
	if err := json.Unmarshal(body, &cb); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	res, err := s.inbound.HandleStatus(r.Context(), cb)
	s.writeResult(w, res, err)
}

func (s *Server) writeResult(w http.ResponseWriter, res inbound.Result, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, res)
	case errors.Is(err, inbound.ErrInvalidEvent), errors.Is(err, inbound.ErrUnknownAction):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, storage.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		s.logger.Error("inbound event", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func (s *Server) handleStartSequence(w http.ResponseWriter, r *http.Request) {
	var req sequence.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.opts.MaxBodySize)).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.DelayMs < 0 {
		http.Error(w, "delay_ms must not be negative", http.StatusBadRequest)
		return
	}

	id, err := s.sequence.Start(r.Context(), req)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		s.logger.Error("start sequence", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"sequence_id": id})
}

func (s *Server) handleGetSequence(w http.ResponseWriter, r *http.Request) {
	v, err := s.sequence.Get(r.PathValue("id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleCancelSequence(w http.ResponseWriter, r *http.Request) {
	err := s.sequence.Cancel(r.PathValue("id"))
	switch {
	case errors.Is(err, sequence.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, sequence.ErrNotRunning):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	q := r.URL.Query()
	filter := model.AlertFilter{
		Date:        q.Get("date"),
		HouseholdID: q.Get("household_id"),
	}
	for _, st := range q["status"] {
		filter.Statuses = append(filter.Statuses, model.AlertStatus(st))
	}

	alerts, err := s.store.ListAlerts(ctx, filter)
	if err != nil {
		s.logger.Error("query alerts", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if alerts == nil {
		alerts = []model.Alert{}
	}
	writeJSON(w, http.StatusOK, alerts)
}

type alertDetail struct {
	Alert         *model.Alert         `json:"alert"`
	Calls         []model.CallLog      `json:"calls"`
	Notifications []model.Notification `json:"notifications"`
}

func (s *Server) handleAlert(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	id := r.PathValue("id")
	alert, err := s.store.GetAlert(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		s.logger.Error("get alert", "alert", id, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	detail := alertDetail{Alert: alert}
	if detail.Calls, err = s.store.ListCalls(ctx, id); err == nil {
		detail.Notifications, err = s.store.ListNotifications(ctx, id)
	}
	if err != nil {
		s.logger.Error("get alert history", "alert", id, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
