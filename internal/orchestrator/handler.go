package orchestrator

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"hls-gateway/internal/platform/metrics"

	"github.com/go-chi/chi/v5"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 64 << 10

// Handler exposes gateway HTTP endpoints using go-chi.
type Handler struct {
	svc     *Service
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewHandler returns a Handler that uses the given Service, Logger, and optional Metrics.
// Metrics may be nil to disable metric recording (e.g. in tests).
func NewHandler(svc *Service, log *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{svc: svc, log: log, metrics: m}
}

// Routes registers every session, source and capture endpoint on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/streams", func(r chi.Router) {
		r.Post("/", h.StartStream)
		r.Get("/", h.ListStreams)
		r.Route("/{session_id}", func(r chi.Router) {
			r.Post("/stop", h.StopStream)
			r.Post("/capture", h.CaptureStream)
			r.Get("/files/{file}", h.GetArtifact)
		})
	})
	r.Get("/sources", h.ListSources)
	r.Put("/sources", h.UpdateSource)
	r.Get("/captures/{file}", h.GetCapture)
	r.Get("/healthz", h.Healthz)
}

// StartStream handles POST /streams.
// Body: { "sourceUrl": "rtsp://cam/1", "label": "Lobby", "notes": "" }.
// Responds once the session is ready, failed or timed out.
func (h *Handler) StartStream(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.log.Debug("invalid start body", slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	res, err := h.svc.StartSession(r.Context(), req)
	h.refreshGauges()
	if err != nil {
		h.fail(w, "start stream failed", err, slog.String("source_url", req.SourceURL))
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// ListStreams handles GET /streams.
func (h *Handler) ListStreams(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.ListActiveSessions())
}

// StopStream handles POST /streams/{session_id}/stop.
func (h *Handler) StopStream(w http.ResponseWriter, r *http.Request) {
	id := SessionID(chi.URLParam(r, "session_id"))
	if err := h.svc.StopSession(id); err != nil {
		h.fail(w, "stop stream failed", err, slog.String("session_id", string(id)))
		return
	}
	h.refreshGauges()
	h.log.Info("stream stopped", slog.String("session_id", string(id)))
	writeJSON(w, http.StatusOK, map[string]string{"sessionId": string(id), "status": string(StatusStopped)})
}

// CaptureStream handles POST /streams/{session_id}/capture.
func (h *Handler) CaptureStream(w http.ResponseWriter, r *http.Request) {
	id := SessionID(chi.URLParam(r, "session_id"))
	res, err := h.svc.Capture(r.Context(), id)
	if err != nil {
		h.fail(w, "capture failed", err, slog.String("session_id", string(id)))
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// GetArtifact handles GET /streams/{session_id}/files/{file}.
func (h *Handler) GetArtifact(w http.ResponseWriter, r *http.Request) {
	id := SessionID(chi.URLParam(r, "session_id"))
	a, err := h.svc.Artifact(id, chi.URLParam(r, "file"))
	if err != nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	f, err := os.Open(a.Path)
	if err != nil {
		// Segments rotate out of the window between lookup and open.
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	w.Header().Set("Content-Type", a.ContentType)
	if a.ContentType == playlistContentType {
		w.Header().Set("Cache-Control", "no-cache")
	}
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

// ListSources handles GET /sources.
func (h *Handler) ListSources(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.ListSavedSources())
}

// UpdateSource handles PUT /sources.
// Body: { "sourceUrl": "rtsp://cam/1", "label": "Lobby", "notes": "east door" }.
func (h *Handler) UpdateSource(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SourceURL string `json:"sourceUrl"`
		Label     string `json:"label"`
		Notes     string `json:"notes"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
		h.log.Debug("invalid source body", slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	rec, err := h.svc.UpdateSavedSourceMetadata(body.SourceURL, body.Label, body.Notes)
	if err != nil {
		h.fail(w, "update source failed", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// GetCapture handles GET /captures/{file}.
func (h *Handler) GetCapture(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "file")
	if !validArtifactName(name) || !strings.EqualFold(filepath.Ext(name), ".jpg") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	path := filepath.Join(h.svc.CapturesDir(), name)
	if !fileExists(path) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	http.ServeFile(w, r, path)
}

// Healthz handles GET /healthz.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "activeSessions": h.svc.ActiveCount()})
}

// fail maps a service error onto its status code and logs it.
func (h *Handler) fail(w http.ResponseWriter, msg string, err error, attrs ...any) {
	code := statusFor(err)
	attrs = append(attrs, slog.Int("status", code), slog.String("error", err.Error()))
	if code >= http.StatusInternalServerError {
		h.log.Error(msg, attrs...)
	} else {
		h.log.Info(msg, attrs...)
	}
	writeError(w, code, err.Error())
}

func (h *Handler) refreshGauges() {
	if h.metrics != nil {
		h.metrics.SetActiveSessions(h.svc.ActiveCount())
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrNotReady):
		return http.StatusConflict
	case errors.Is(err, ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, ErrTranscodeFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
