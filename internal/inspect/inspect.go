// Package inspect serves a read-only HTTP view of a chip: its objects, their
// metadata and activity counters. Key material is never exposed.
package inspect

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/andrei-cloud/go_optiga/internal/chip"
	"github.com/andrei-cloud/go_optiga/pkg/metadata"
)

// Source is the chip state the API reads.
type Source interface {
	Objects() []chip.ObjectInfo
	Metadata(oid uint16) ([]byte, bool)
	ReadPublic(oid uint16) ([]byte, bool)
	Stats() chip.Stats
}

// Handler serves the inspection routes.
type Handler struct {
	src Source
}

// NewHandler returns a Handler reading from src.
func NewHandler(src Source) *Handler {
	return &Handler{src: src}
}

// RegisterRoutes mounts the inspection routes on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.handleHealth)
	r.Get("/objects", h.handleObjects)
	r.Get("/objects/{oid}", h.handleObject)
	r.Get("/objects/{oid}/metadata", h.handleMetadata)
	r.Get("/stats", h.handleStats)
}

// Router returns a chi router with request logging and all routes mounted.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestLogger)
	h.RegisterRoutes(r)

	return r
}

type objectResponse struct {
	OID  string `json:"oid"`
	Data string `json:"data"`
}

type metadataResponse struct {
	OID     string            `json:"oid"`
	Raw     string            `json:"raw"`
	Decoded map[string]string `json:"decoded"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleObjects(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.src.Objects())
}

func (h *Handler) handleObject(w http.ResponseWriter, r *http.Request) {
	oid, ok := parseOID(w, r)
	if !ok {
		return
	}
	data, ok := h.src.ReadPublic(oid)
	if !ok {
		http.Error(w, "object not readable", http.StatusForbidden)

		return
	}
	writeJSON(w, http.StatusOK, objectResponse{OID: chi.URLParam(r, "oid"), Data: hex.EncodeToString(data)})
}

func (h *Handler) handleMetadata(w http.ResponseWriter, r *http.Request) {
	oid, ok := parseOID(w, r)
	if !ok {
		return
	}
	raw, ok := h.src.Metadata(oid)
	if !ok {
		http.Error(w, "unknown object", http.StatusNotFound)

		return
	}
	md, err := metadata.Parse(raw)
	if err != nil {
		http.Error(w, "malformed metadata", http.StatusInternalServerError)

		return
	}
	writeJSON(w, http.StatusOK, metadataResponse{
		OID:     chi.URLParam(r, "oid"),
		Raw:     hex.EncodeToString(raw),
		Decoded: md.Describe(),
	})
}

func (h *Handler) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.src.Stats())
}

func parseOID(w http.ResponseWriter, r *http.Request) (uint16, bool) {
	v, err := strconv.ParseUint(chi.URLParam(r, "oid"), 16, 16)
	if err != nil {
		http.Error(w, "invalid oid", http.StatusBadRequest)

		return 0, false
	}

	return uint16(v), true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Str("event", "inspect_encode_failed").Err(err).Msg("failed to encode response")
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Debug().
			Str("event", "inspect_request").
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("inspect request served")
	})
}
