package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"i4.energy/across/bgs2/modem"
	"i4.energy/across/bgs2/store"
)

// Server handles incoming HTTP requests for interacting with the
// configured modem instance
type Server struct {
	Logger  *slog.Logger
	Modem   *modem.Modem
	Journal *store.Journal
	Outbox  *Outbox
}

// ServeHTTP implements the http.Handler interface for the Server struct
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /sms", s.handleSMS)
	mux.HandleFunc("POST /outbox", s.handleOutbox)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("POST /ussd", s.handleUSSD)
	mux.HandleFunc("GET /events", s.handleEvents)
	mux.HandleFunc("POST /http", s.handleHTTPGet)
	mux.ServeHTTP(w, r)
}

func (s *Server) sendError(w http.ResponseWriter, message string, statusCode int) {
	if message == "" {
		w.WriteHeader(statusCode)
		return
	}

	type ErrorResponse struct {
		Message string `json:"message"`
	}
	s.sendJSON(w, ErrorResponse{Message: message}, statusCode)
}

func (s *Server) sendJSON(w http.ResponseWriter, v any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.Logger.Warn("Failed to write response", "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "ok")
}

// handleSMS sends a message right away and reports the network reference
func (s *Server) handleSMS(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}
	req, err := decodeSMSRequest(body)
	if err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	ref, err := s.Modem.SendSMS(r.Context(), req.To, req.Message)
	if err != nil {
		s.Logger.Error("Failed to send SMS", "error", err, "to", req.To)
		s.sendError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.Logger.Info("SMS sent successfully", "to", req.To, "message_length", len(req.Message), "reference", ref)
	s.sendJSON(w, map[string]int{"reference": ref}, http.StatusOK)
}

// handleOutbox queues a message for the rate limited sender
func (s *Server) handleOutbox(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}
	req, err := decodeSMSRequest(body)
	if err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}
	id, err := s.Outbox.Enqueue(req)
	if err != nil {
		s.sendError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	s.sendJSON(w, map[string]string{"status": "queued", "id": id}, http.StatusAccepted)
}

type statusResponse struct {
	IMEI         string                   `json:"imei"`
	Registration modem.RegistrationStatus `json:"registration"`
	RSSI         int                      `json:"rssi"`
	SignalDBm    int                      `json:"signal_dbm"`
	Operator     string                   `json:"operator"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var resp statusResponse
	var err error

	if resp.IMEI, err = s.Modem.IMEI(ctx); err != nil {
		s.statusFailed(w, "imei", err)
		return
	}
	if resp.Registration, err = s.Modem.RegistrationStatus(ctx); err != nil {
		s.statusFailed(w, "registration", err)
		return
	}
	q, err := s.Modem.SignalQuality(ctx)
	if err != nil {
		s.statusFailed(w, "signal", err)
		return
	}
	resp.RSSI, resp.SignalDBm = q.RSSI, q.DBm()
	if resp.Operator, err = s.Modem.OperatorName(ctx); err != nil {
		s.statusFailed(w, "operator", err)
		return
	}
	s.sendJSON(w, resp, http.StatusOK)
}

func (s *Server) statusFailed(w http.ResponseWriter, what string, err error) {
	s.Logger.Error("Status query failed", "query", what, "error", err)
	s.sendError(w, err.Error(), http.StatusInternalServerError)
}

// handleUSSD starts a USSD request; the answer arrives as an event
func (s *Server) handleUSSD(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		s.sendError(w, "'code' field is required", http.StatusBadRequest)
		return
	}
	if err := s.Modem.SendUSSD(r.Context(), req.Code); err != nil {
		s.Logger.Error("Failed to send USSD", "error", err, "code", req.Code)
		s.sendError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := store.DefaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.sendError(w, "'limit' must be a positive number", http.StatusBadRequest)
			return
		}
		limit = n
	}
	records, err := s.Journal.Recent(r.Context(), r.URL.Query().Get("kind"), limit)
	if err != nil {
		s.Logger.Error("Failed to read journal", "error", err)
		s.sendError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []store.Record{}
	}
	s.sendJSON(w, records, http.StatusOK)
}

// handleHTTPGet fetches a URL through the modem's Internet service
func (s *Server) handleHTTPGet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.URL == "" {
		s.sendError(w, "'url' field is required", http.StatusBadRequest)
		return
	}

	res, err := s.Modem.HTTPGet(r.Context(), req.URL)
	if err != nil {
		s.Logger.Error("HTTP request through modem failed", "url", req.URL, "error", err)
		s.sendError(w, err.Error(), http.StatusBadGateway)
		return
	}
	status := http.StatusOK
	if res.Aborted {
		status = http.StatusBadGateway
	}
	s.sendJSON(w, res, status)
}
