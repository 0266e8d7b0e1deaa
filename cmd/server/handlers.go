package main

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/lychee-technology/quarry"
	"go.uber.org/zap"
)

// queryRequest is the wire shape of a query call; strategy arrives as a
// string and is resolved before the request reaches the engine.
type queryRequest struct {
	quarry.PageRequest
	Strategy string `json:"strategy,omitempty"`
}

// handleQuery handles POST /api/v1/query
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req queryRequest
	if err := readJSONBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid json body: %v", err))
		return
	}

	strategy, ok := quarry.ParseSearchStrategy(req.Strategy)
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported search strategy: %s", req.Strategy))
		return
	}
	req.PageRequest.Strategy = strategy

	result, err := s.components.Engine.Query(r.Context(), &req.PageRequest)
	if err != nil {
		writeQuarryError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, result)
}

// suggestRequest is the wire shape of a suggestion call.
type suggestRequest struct {
	Model string `json:"model"`
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

// handleSuggest handles POST /api/v1/suggest
func (s *Server) handleSuggest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req suggestRequest
	if err := readJSONBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid json body: %v", err))
		return
	}

	suggestions, err := s.components.Engine.Suggest(r.Context(), req.Model, req.Query, req.Limit)
	if err != nil {
		writeQuarryError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"suggestions": suggestions})
}

// handleBulkSubmit handles POST /api/v1/bulk
func (s *Server) handleBulkSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req quarry.BulkRequest
	if err := readJSONBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid json body: %v", err))
		return
	}

	jobID, err := s.components.Bulk.Submit(r.Context(), &req)
	if err != nil {
		writeQuarryError(w, err)
		return
	}
	writeSuccess(w, http.StatusAccepted, map[string]any{"job_id": jobID.String()})
}

// jobsHandler dispatches GET /api/v1/jobs/{id} and GET /api/v1/jobs/{id}/events
func (s *Server) jobsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/jobs/"), "/")
	parts := strings.Split(rest, "/")

	jobID, err := uuid.Parse(parts[0])
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid job id: %v", err))
		return
	}

	switch {
	case len(parts) == 1:
		s.handleJobStatus(w, r, jobID)
	case len(parts) == 2 && parts[1] == "events":
		s.handleJobEvents(w, r, jobID)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) handleJobStatus(w http.ResponseWriter, _ *http.Request, jobID uuid.UUID) {
	snapshot, err := s.components.Bulk.Job(jobID)
	if err != nil {
		writeQuarryError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, snapshot)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleJobEvents upgrades the connection and pushes progress events until
// the job reaches a terminal state or the client leaves.
func (s *Server) handleJobEvents(w http.ResponseWriter, r *http.Request, jobID uuid.UUID) {
	if _, err := s.components.Bulk.Job(jobID); err != nil {
		writeQuarryError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		zap.S().Warnw("websocket upgrade failed", "job_id", jobID, "error", err)
		return
	}
	defer conn.Close()

	// Subscribe before reading the snapshot: a terminal event published in
	// between is then either in the snapshot or still in the channel.
	events, cancel := s.components.Bulk.Subscribe(jobID)
	defer cancel()

	snapshot, err := s.components.Bulk.Job(jobID)
	if err != nil {
		return
	}
	if err := conn.WriteJSON(snapshot); err != nil {
		return
	}
	if snapshot.Status == quarry.JobCompleted || snapshot.Status == quarry.JobFailed {
		return
	}

	// The upgrade hijacks the connection, so the request context stops
	// tracking the client. A read pump notices the disconnect instead.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				return
			}
			if event.Status == quarry.JobCompleted || event.Status == quarry.JobFailed {
				return
			}
		case <-gone:
			return
		}
	}
}

// handleHealth handles GET /healthz
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, http.StatusOK, map[string]any{"status": "ok", "models": s.registry.Names()})
}
