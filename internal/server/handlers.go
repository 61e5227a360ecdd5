package server

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/ymiyake/localrag/internal/service"
)

type handlers struct {
	rag       RAG
	reindexer Reindexer
	logger    *slog.Logger

	// reindexMu prevents concurrent rebuilds of the collection.
	reindexMu sync.Mutex
}

type queryRequest struct {
	Question  string `json:"question"`
	SessionID string `json:"session_id,omitempty"`
}

type queryResponse struct {
	Answer           string   `json:"answer"`
	Context          []string `json:"context,omitempty"`
	Degraded         bool     `json:"degraded,omitempty"`
	RetrievalTimeMs  int64    `json:"retrieval_time_ms"`
	GenerationTimeMs int64    `json:"generation_time_ms"`
}

type retrieveRequest struct {
	Question string `json:"question"`
}

type retrieveResponse struct {
	Fragments []string `json:"fragments"`
}

type statusResponse struct {
	FragmentCount int    `json:"fragment_count"`
	Fingerprint   string `json:"fingerprint"`
}

type reindexResponse struct {
	Fingerprint      string `json:"fingerprint"`
	FilesLoaded      int    `json:"files_loaded"`
	FilesSkipped     int    `json:"files_skipped"`
	FilesFailed      int    `json:"files_failed"`
	FragmentsStored  int    `json:"fragments_stored"`
	FragmentsDropped int    `json:"fragments_dropped"`
	DurationMs       int64  `json:"duration_ms"`
}

func (h *handlers) query(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Question == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}

	resp, err := h.rag.Query(r.Context(), service.QueryRequest{
		Question:  req.Question,
		SessionID: req.SessionID,
	})
	if err != nil {
		h.logger.Error("query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	writeJSON(w, http.StatusOK, queryResponse{
		Answer:           resp.Answer,
		Context:          resp.Context,
		Degraded:         resp.Degraded,
		RetrievalTimeMs:  resp.RetrievalTimeMs,
		GenerationTimeMs: resp.GenerationTimeMs,
	})
}

// streamEvent is one server-sent event of a streamed answer.
type streamEvent struct {
	Token    string `json:"token,omitempty"`
	Done     bool   `json:"done,omitempty"`
	Degraded bool   `json:"degraded,omitempty"`
	Error    string `json:"error,omitempty"`
}

func (h *handlers) queryStream(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Question == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	resp, err := h.rag.QueryStream(r.Context(), service.QueryRequest{
		Question:  req.Question,
		SessionID: req.SessionID,
	})
	if err != nil {
		h.logger.Error("stream query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	// No live stream: the whole answer arrives as a single event.
	if resp.Chunks == nil {
		writeSSE(w, streamEvent{Token: resp.Answer, Degraded: resp.Degraded, Done: true})
		flusher.Flush()
		return
	}

	for chunk := range resp.Chunks {
		if chunk.Error != nil {
			writeSSE(w, streamEvent{Error: chunk.Error.Error(), Done: true})
			flusher.Flush()
			return
		}
		writeSSE(w, streamEvent{Token: chunk.Token, Done: chunk.Done})
		flusher.Flush()
		if chunk.Done {
			return
		}
	}

	// Stream ended without a done marker.
	writeSSE(w, streamEvent{Done: true})
	flusher.Flush()
}

func writeSSE(w io.Writer, event streamEvent) {
	data, _ := json.Marshal(event)
	fmt.Fprintf(w, "data: %s\n\n", data)
}

func (h *handlers) retrieve(w http.ResponseWriter, r *http.Request) {
	var req retrieveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Question == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}

	fragments, err := h.rag.Retrieve(r.Context(), req.Question)
	if err != nil {
		h.logger.Error("retrieve failed", "error", err)
		writeError(w, http.StatusInternalServerError, "retrieve failed")
		return
	}
	if fragments == nil {
		fragments = []string{}
	}

	writeJSON(w, http.StatusOK, retrieveResponse{Fragments: fragments})
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	status, err := h.rag.Status(r.Context())
	if err != nil {
		h.logger.Error("status failed", "error", err)
		writeError(w, http.StatusInternalServerError, "status failed")
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{
		FragmentCount: status.FragmentCount,
		Fingerprint:   status.Fingerprint,
	})
}

func (h *handlers) reindex(w http.ResponseWriter, r *http.Request) {
	if !h.reindexMu.TryLock() {
		writeError(w, http.StatusConflict, "reindex already in progress")
		return
	}
	defer h.reindexMu.Unlock()

	summary, err := h.reindexer.Rebuild(r.Context())
	if err != nil {
		h.logger.Error("reindex failed", "error", err)
		writeError(w, http.StatusInternalServerError, "reindex failed")
		return
	}

	writeJSON(w, http.StatusOK, reindexResponse{
		Fingerprint:      summary.Fingerprint,
		FilesLoaded:      summary.FilesLoaded,
		FilesSkipped:     summary.FilesSkipped,
		FilesFailed:      summary.FilesFailed,
		FragmentsStored:  summary.FragmentsStored,
		FragmentsDropped: summary.FragmentsDropped,
		DurationMs:       summary.Duration.Milliseconds(),
	})
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *handlers) ready(w http.ResponseWriter, r *http.Request) {
	if _, err := h.rag.Status(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "vector store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
