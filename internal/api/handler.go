package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/eugenenazirov/hparams/internal/hparams"
	"github.com/eugenenazirov/hparams/internal/metrics"
	"github.com/eugenenazirov/hparams/internal/reload"
	"github.com/eugenenazirov/hparams/internal/storage"
)

type contextKey string

const requestIDContextKey contextKey = "requestID"

const maxDocumentBytes = 1 << 20

// Reloader refreshes the stored document from its source.
type Reloader interface {
	Reload(ctx context.Context) error
}

// Handler wires storage, schema and reload dependencies into HTTP handlers.
type Handler struct {
	storage  storage.Storage
	schema   hparams.Schema
	reloader Reloader

	clock func() time.Time
}

// HandlerOption configures Handler behaviour.
type HandlerOption func(*Handler)

// WithClock overrides the time source, primarily for tests.
func WithClock(clock func() time.Time) HandlerOption {
	return func(h *Handler) {
		h.clock = clock
	}
}

// WithReloader enables POST /api/reload.
func WithReloader(r Reloader) HandlerOption {
	return func(h *Handler) {
		h.reloader = r
	}
}

// NewHandler constructs a Handler with the provided dependencies.
func NewHandler(store storage.Storage, schema hparams.Schema, opts ...HandlerOption) *Handler {
	h := &Handler{
		storage: store,
		schema:  schema,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	_ = r
	resp := healthResponse{
		Status:    "ok",
		Timestamp: h.clock(),
	}
	if _, err := h.storage.Current(); err != nil {
		resp.Status = "degraded"
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.current(w)
	if !ok {
		return
	}
	_ = r

	doc := snap.Document
	entries := make([]entryResponse, 0, doc.Len())
	for _, e := range doc.Entries() {
		entries = append(entries, newEntryResponse(e))
	}
	writeJSON(w, http.StatusOK, documentResponse{
		Path:     doc.Path(),
		LoadedAt: snap.LoadedAt,
		Entries:  entries,
	})
}

func (h *Handler) handleGetValue(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.current(w)
	if !ok {
		return
	}

	key := r.PathValue("key")
	doc := snap.Document

	entry, found := doc.Lookup(key)
	if !found {
		err := &hparams.MissingKeyError{Key: key}
		writeError(w, http.StatusNotFound, "Missing key", err.Error())
		return
	}

	kind := entry.Value.Kind()
	if name := r.URL.Query().Get("type"); name != "" {
		parsed, err := hparams.ParseKind(name)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid type", err.Error(), "use one of bool, int, float, string")
			return
		}
		kind = parsed
	}

	value, err := doc.Get(key, kind)
	if err != nil {
		switch {
		case errors.Is(err, hparams.ErrMissingKey):
			writeError(w, http.StatusNotFound, "Missing key", err.Error())
		case errors.Is(err, hparams.ErrTypeMismatch):
			writeError(w, http.StatusUnprocessableEntity, "Type mismatch", err.Error())
		default:
			writeInternalError(w, err)
		}
		return
	}

	writeJSON(w, http.StatusOK, valueResponse{
		Key:   key,
		Type:  value.Kind().String(),
		Value: jsonValue(value),
		Text:  value.String(),
	})
}

func (h *Handler) handleViolations(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.current(w)
	if !ok {
		return
	}
	_ = r

	writeJSON(w, http.StatusOK, newValidationResponse(snap.Document.Validate(h.schema)))
}

func (h *Handler) handleValidate(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxDocumentBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "Invalid request", "document exceeds 1 MiB")
		return
	}

	doc, err := hparams.Parse(data)
	if err != nil {
		if errors.Is(err, hparams.ErrParse) {
			writeError(w, http.StatusBadRequest, "Malformed document", err.Error())
			return
		}
		writeInternalError(w, err)
		return
	}

	violations := doc.Validate(h.schema)
	metrics.ObserveViolations(violations)
	writeJSON(w, http.StatusOK, newValidationResponse(violations))
}

func (h *Handler) handleReload(w http.ResponseWriter, r *http.Request) {
	if h.reloader == nil {
		writeError(w, http.StatusServiceUnavailable, "Reload unavailable", "no document source configured")
		return
	}

	if err := h.reloader.Reload(r.Context()); err != nil {
		resp := errorResponse{
			Error:      "Reload failed",
			Details:    err.Error(),
			Suggestion: "the previous document is still being served",
		}
		var verr *reload.ValidationError
		if errors.As(err, &verr) {
			resp.Violations = newViolations(verr.Violations)
		}
		writeJSON(w, http.StatusUnprocessableEntity, resp)
		return
	}

	h.handleGetDocument(w, r)
}

func (h *Handler) current(w http.ResponseWriter) (storage.Snapshot, bool) {
	snap, err := h.storage.Current()
	if err != nil {
		if errors.Is(err, storage.ErrNoDocument) {
			writeError(w, http.StatusServiceUnavailable, "No document", err.Error())
			return storage.Snapshot{}, false
		}
		writeInternalError(w, err)
		return storage.Snapshot{}, false
	}
	return snap, true
}

func requestIDFromContext(ctx context.Context) string {
	if v := ctx.Value(requestIDContextKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// jsonValue returns the value as a JSON-encodable scalar. Non-finite floats
// have no JSON form and are reported through the canonical text only.
func jsonValue(v hparams.Value) any {
	if v.Kind() == hparams.KindFloat {
		f := v.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
	}
	return v.Interface()
}

func newEntryResponse(e hparams.Entry) entryResponse {
	return entryResponse{
		Key:   e.Key,
		Type:  e.Value.Kind().String(),
		Value: jsonValue(e.Value),
		Text:  e.Value.String(),
		Group: string(e.Group),
		Line:  e.Line,
	}
}

func newViolations(errs []error) []violationResponse {
	out := make([]violationResponse, 0, len(errs))
	for _, err := range errs {
		out = append(out, violationResponse{
			Key:     violationKey(err),
			Kind:    metrics.ViolationKind(err),
			Message: err.Error(),
		})
	}
	return out
}

func newValidationResponse(errs []error) validationResponse {
	return validationResponse{
		Valid:      len(errs) == 0,
		Violations: newViolations(errs),
	}
}

func violationKey(err error) string {
	var missing *hparams.MissingKeyError
	if errors.As(err, &missing) {
		return missing.Key
	}
	var mismatch *hparams.TypeMismatchError
	if errors.As(err, &mismatch) {
		return mismatch.Key
	}
	var invalid *hparams.ValidationError
	if errors.As(err, &invalid) {
		return invalid.Key
	}
	return ""
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

type entryResponse struct {
	Key   string `json:"key"`
	Type  string `json:"type"`
	Value any    `json:"value"`
	Text  string `json:"text"`
	Group string `json:"group,omitempty"`
	Line  int    `json:"line,omitempty"`
}

type documentResponse struct {
	Path     string          `json:"path,omitempty"`
	LoadedAt time.Time       `json:"loadedAt"`
	Entries  []entryResponse `json:"entries"`
}

type valueResponse struct {
	Key   string `json:"key"`
	Type  string `json:"type"`
	Value any    `json:"value"`
	Text  string `json:"text"`
}

type violationResponse struct {
	Key     string `json:"key,omitempty"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type validationResponse struct {
	Valid      bool                `json:"valid"`
	Violations []violationResponse `json:"violations"`
}

type errorResponse struct {
	Error      string              `json:"error"`
	Details    string              `json:"details,omitempty"`
	Suggestion string              `json:"suggestion,omitempty"`
	Violations []violationResponse `json:"violations,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != 0 {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message, details string, suggestion ...string) {
	resp := errorResponse{
		Error:   message,
		Details: details,
	}
	if len(suggestion) > 0 {
		resp.Suggestion = suggestion[0]
	}
	writeJSON(w, status, resp)
}

func writeInternalError(w http.ResponseWriter, err error) {
	writeError(w, http.StatusInternalServerError, "Internal error", err.Error())
}
