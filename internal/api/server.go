// Package api exposes the scan engine over HTTP: REST endpoints to start,
// poll, cancel and export scans, plus an SSE stream for live progress.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/vulnverified/blindspot/internal/config"
	"github.com/vulnverified/blindspot/internal/engine"
	"github.com/vulnverified/blindspot/internal/output"
)

// maxRequestBody caps scan creation bodies at 1MB.
const maxRequestBody = 1 << 20

// Server handles the blindspot HTTP API.
type Server struct {
	orch *engine.Orchestrator
	cfg  config.ScanConfig
	log  *zap.Logger
}

// NewServer builds the API server around an orchestrator.
func NewServer(orch *engine.Orchestrator, cfg config.ScanConfig, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{orch: orch, cfg: cfg, log: log}
}

// Router returns the configured HTTP handler.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/api/scans", s.handleStartScan).Methods(http.MethodPost)
	r.HandleFunc("/api/scans/{id}", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/scans/{id}/results", s.handleResults).Methods(http.MethodGet)
	r.HandleFunc("/api/scans/{id}/cancel", s.handleCancel).Methods(http.MethodPost)
	r.HandleFunc("/api/scans/{id}/export", s.handleExport).Methods(http.MethodGet)
	r.HandleFunc("/api/scans/{id}/stream", s.handleStream).Methods(http.MethodGet)
	return r
}

type startScanRequest struct {
	Domains     []string `json:"domains"`
	TimeoutMs   int      `json:"timeout_ms"`
	Concurrency int      `json:"concurrency"`
}

type startScanResponse struct {
	ScanID string `json:"scan_id"`
}

type cancelResponse struct {
	Cancelled bool `json:"cancelled"`
}

type resultsResponse struct {
	Internal     []string `json:"internal"`
	External     []string `json:"external"`
	Combined     []string `json:"combined"`
	Failed       []string `json:"failed"`
	TotalDomains int      `json:"total_domains"`
	Cancelled    bool     `json:"cancelled"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleStartScan(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

	var req startScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	if len(req.Domains) > s.cfg.MaxDomains {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error: fmt.Sprintf("too many domains (max %d)", s.cfg.MaxDomains),
		})
		return
	}

	timeout := time.Duration(req.TimeoutMs) * time.Millisecond
	if req.TimeoutMs == 0 {
		timeout = s.cfg.DefaultTimeout
	}
	concurrency := req.Concurrency
	if concurrency == 0 {
		concurrency = s.cfg.DefaultConcurrency
	}

	id, err := s.orch.StartScan(req.Domains, engine.Options{
		Timeout:     timeout,
		Concurrency: concurrency,
	})
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, startScanResponse{ScanID: id})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.orch.GetScanStatus(mux.Vars(r)["id"])
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	res, err := s.orch.GetScanResults(mux.Vars(r)["id"])
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resultsResponse{
		Internal:     res.InternalDomains(),
		External:     res.ExternalDomains(),
		Combined:     res.Combined(),
		Failed:       append([]string{}, res.Failed...),
		TotalDomains: res.TotalDomains,
		Cancelled:    res.Cancelled,
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := s.orch.GetScanStatus(id); err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cancelResponse{Cancelled: s.orch.CancelScan(id)})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	res, err := s.orch.GetScanResults(mux.Vars(r)["id"])
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	var hosts []string
	switch list := r.URL.Query().Get("list"); list {
	case "internal":
		hosts = res.InternalDomains()
	case "external":
		hosts = res.ExternalDomains()
	case "", "combined":
		hosts = res.Combined()
	default:
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error: fmt.Sprintf("unknown list %q", list),
		})
		return
	}

	prependProtocol := r.URL.Query().Get("protocol") == "true"

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, output.ExportHosts(hosts, prependProtocol))
}

// SSE payloads.

type progressEvent struct {
	ScanID         string   `json:"scanId"`
	Current        int      `json:"current"`
	Total          int      `json:"total"`
	CurrentDomains []string `json:"currentDomains"`
}

type completeEvent struct {
	ScanID  string          `json:"scanId"`
	Results completeSummary `json:"results"`
}

type completeSummary struct {
	InternalCount int `json:"internalCount"`
	ExternalCount int `json:"externalCount"`
	CombinedCount int `json:"combinedCount"`
	TotalDomains  int `json:"totalDomains"`
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	events, unsubscribe, err := s.orch.Subscribe(id)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	defer unsubscribe()

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	completeSent := false
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				// A slow consumer can miss the in-channel completion; replay
				// it from the registry so the stream always ends with one.
				if !completeSent {
					if res, err := s.orch.GetScanResults(id); err == nil {
						sendSSE(w, flusher, engine.EventComplete, completePayload(res))
					}
				}
				return
			}
			switch ev.Type {
			case engine.EventProgress:
				sendSSE(w, flusher, ev.Type, progressEvent{
					ScanID:         ev.Status.ScanID,
					Current:        ev.Status.Completed,
					Total:          ev.Status.Total,
					CurrentDomains: ev.Status.InFlight,
				})
			case engine.EventComplete:
				sendSSE(w, flusher, ev.Type, completePayload(*ev.Results))
				completeSent = true
			}
		case <-r.Context().Done():
			return
		}
	}
}

func completePayload(res engine.Results) completeEvent {
	return completeEvent{
		ScanID: res.ScanID,
		Results: completeSummary{
			InternalCount: len(res.Internal),
			ExternalCount: len(res.External),
			CombinedCount: len(res.Internal) + len(res.External),
			TotalDomains:  res.TotalDomains,
		},
	}
}

func sendSSE(w http.ResponseWriter, flusher http.Flusher, event engine.EventType, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
	flusher.Flush()
}

func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrScanNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "scan not found"})
	case errors.Is(err, engine.ErrScanNotComplete):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "scan not found or not complete"})
	case errors.Is(err, engine.ErrNoDomains),
		errors.Is(err, engine.ErrInvalidTimeout),
		errors.Is(err, engine.ErrInvalidConcurrency):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	default:
		s.log.Error("request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
