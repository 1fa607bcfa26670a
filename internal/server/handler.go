package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/bardusco/clawtrace/internal/audit"
	"github.com/bardusco/clawtrace/internal/fanout"
	"github.com/bardusco/clawtrace/internal/ingest"
	"github.com/bardusco/clawtrace/internal/metrics"
	"github.com/bardusco/clawtrace/internal/pipeline"
)

const maxBodyBytes = 1 << 20

// Pipeline is the write side used by the handlers.
type Pipeline interface {
	Handle(ctx context.Context, ev *ingest.Event) (*audit.Record, error)
	Note(ctx context.Context, text, sessionKey string) (*audit.Record, error)
}

// LedgerReader is the read side used by the handlers.
type LedgerReader interface {
	Tail(n int) ([]string, error)
	Export(ctx context.Context, since time.Time, fn func(line []byte) error) error
}

// Handler serves the dashboard, the live stream and the ledger endpoints.
type Handler struct {
	pipeline    Pipeline
	ledger      LedgerReader
	broadcaster *fanout.Broadcaster
	metrics     *metrics.Metrics
	log         *logrus.Entry
	heartbeat   time.Duration
}

// NewHandler constructs a Handler. metrics may be nil.
func NewHandler(p Pipeline, ledger LedgerReader, b *fanout.Broadcaster, m *metrics.Metrics, log *logrus.Entry, heartbeat time.Duration) *Handler {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Handler{
		pipeline:    p,
		ledger:      ledger,
		broadcaster: b,
		metrics:     m,
		log:         log,
		heartbeat:   heartbeat,
	}
}

// Register mounts the endpoints on r.
func (h *Handler) Register(r chi.Router) {
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	r.Get("/", h.HandleDashboard)
	r.Get("/api/stream", h.HandleStream)
	r.Get("/api/recent", h.HandleRecent)
	r.Get("/api/export", h.HandleExport)
	r.Post("/api/note", h.HandleNote)
	r.Post("/api/hook", h.HandleHook)
}

// HandleDashboard serves the embedded dashboard page.
func (h *Handler) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(dashboardHTML)
}

// HandleStream handles GET /api/stream as server-sent events.
func (h *Handler) HandleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	// Subscribe before the ready frame so no record falls in between.
	sub := h.broadcaster.Subscribe()
	h.metrics.ObserverConnected()
	defer h.metrics.ObserverDisconnected()

	w.WriteHeader(http.StatusOK)
	ready := fanout.Frame{Event: "ready", Data: []byte(fmt.Sprintf(`{"ts":%d}`, time.Now().UnixMilli()))}
	if _, err := ready.WriteTo(w); err != nil {
		h.broadcaster.Unsubscribe(sub)
		return
	}
	flusher.Flush()

	log := h.log.WithField("observer", sub.ID.String())
	log.Debug("observer connected")
	if err := h.broadcaster.Serve(r.Context(), w, flusher, sub, h.heartbeat); err != nil {
		log.WithError(err).Debug("observer disconnected")
		return
	}
	log.Debug("observer disconnected")
}

// HandleRecent handles GET /api/recent?limit=N.
func (h *Handler) HandleRecent(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = n
	}

	lines, err := h.ledger.Tail(limit)
	if err != nil {
		h.log.WithError(err).Error("tail ledger")
		writeError(w, http.StatusInternalServerError, "failed to read ledger")
		return
	}

	entries := make([]any, 0, len(lines))
	for _, line := range lines {
		if json.Valid([]byte(line)) {
			entries = append(entries, json.RawMessage(line))
		} else {
			entries = append(entries, line)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// HandleExport handles GET /api/export?count=N or ?since=TS.
func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var (
		count int
		since time.Time
		err   error
	)
	if v := q.Get("count"); v != "" {
		if count, err = strconv.Atoi(v); err != nil || count <= 0 {
			writeError(w, http.StatusBadRequest, "count must be a positive integer")
			return
		}
	}
	if since, err = audit.ParseSince(q.Get("since")); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="clawtrace-%s.jsonl"`, time.Now().UTC().Format("20060102-150405")))

	if count > 0 {
		lines, err := h.ledger.Tail(count)
		if err != nil {
			h.log.WithError(err).Error("tail ledger for export")
			writeError(w, http.StatusInternalServerError, "failed to read ledger")
			return
		}
		for _, line := range lines {
			if _, err := w.Write([]byte(line + "\n")); err != nil {
				return
			}
		}
		return
	}

	err = h.ledger.Export(r.Context(), since, func(line []byte) error {
		if _, err := w.Write(line); err != nil {
			return err
		}
		_, err := w.Write([]byte{'\n'})
		return err
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		h.log.WithError(err).Debug("export ended early")
	}
}

type noteRequest struct {
	Text           string `json:"text"`
	SessionKey     string `json:"sessionKey"`
	SessionKeySnek string `json:"session_key"`
}

// HandleNote handles POST /api/note.
func (h *Handler) HandleNote(w http.ResponseWriter, r *http.Request) {
	var req noteRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		if err := r.ParseForm(); err != nil {
			writeError(w, http.StatusBadRequest, "invalid form body")
			return
		}
		req.Text = r.PostForm.Get("text")
		req.SessionKey = r.PostForm.Get("sessionKey")
	} else if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.SessionKey == "" {
		req.SessionKey = req.SessionKeySnek
	}

	rec, err := h.pipeline.Note(r.Context(), req.Text, req.SessionKey)
	switch {
	case errors.Is(err, pipeline.ErrNotesDisabled):
		writeError(w, http.StatusForbidden, "notes are disabled")
		return
	case errors.Is(err, pipeline.ErrEmptyNote):
		writeError(w, http.StatusBadRequest, "text is required")
		return
	case err != nil:
		h.log.WithError(err).Error("persist note")
		writeError(w, http.StatusInternalServerError, "failed to persist note")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "entry": rec})
}

// HandleHook handles POST /api/hook, a lifecycle event from the host.
func (h *Handler) HandleHook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	ev, err := ingest.Decode(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec, err := h.pipeline.Handle(r.Context(), ev)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"accepted": true, "persisted": rec != nil})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"ok": false, "error": msg})
}
