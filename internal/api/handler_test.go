package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap/zaptest"

	"github.com/eugenenazirov/hparams/internal/hparams"
	"github.com/eugenenazirov/hparams/internal/reload"
	"github.com/eugenenazirov/hparams/internal/storage"
)

const testDocument = `# dataset
dataset: 'imagenet'
batch_size: 128

# scheduler
lr: 0.001
warmup_epochs: 5
`

type controllableClock struct {
	mu  sync.RWMutex
	now time.Time
}

func newControllableClock(initial time.Time) *controllableClock {
	return &controllableClock{now: initial}
}

func (c *controllableClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

func (c *controllableClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeReloader struct {
	calls int
	err   error
}

func (f *fakeReloader) Reload(context.Context) error {
	f.calls++
	return f.err
}

func testSchema() hparams.Schema {
	return hparams.Schema{
		Fields: []hparams.Field{
			{Key: "dataset", Kind: hparams.KindString, Required: true},
			{Key: "batch_size", Kind: hparams.KindInt, Required: true, Min: hparams.Limit(1)},
			{Key: "lr", Kind: hparams.KindFloat, Required: true, Min: hparams.Limit(0), MinExclusive: true},
			{Key: "warmup_epochs", Kind: hparams.KindInt, Min: hparams.Limit(0)},
		},
	}
}

func newTestStore(t *testing.T, input string, opts ...storage.Option) *storage.MemoryStorage {
	t.Helper()

	doc, err := hparams.Parse([]byte(input))
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	store := storage.NewMemoryStorage(opts...)
	if err := store.Replace(doc); err != nil {
		t.Fatalf("Replace returned error: %v", err)
	}
	return store
}

func setupTestRouter(t *testing.T, opts ...HandlerOption) (http.Handler, *controllableClock) {
	t.Helper()

	clock := newControllableClock(time.Date(2024, 11, 1, 12, 0, 0, 0, time.UTC))
	store := newTestStore(t, testDocument, storage.WithClock(clock.Now))

	handler := NewHandler(store, testSchema(), append([]HandlerOption{WithClock(clock.Now)}, opts...)...)
	logger := zaptest.NewLogger(t)
	router := NewRouter(handler, logger, WithLogging(false), WithRateLimit(0, 0))

	return router, clock
}

func serve(t *testing.T, router http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()

	if err := json.NewDecoder(rec.Body).Decode(out); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}

func TestRequestIDHelpers(t *testing.T) {
	ctx := contextWithRequestID(context.Background(), "abc")
	if got := requestIDFromContext(ctx); got != "abc" {
		t.Fatalf("expected abc, got %s", got)
	}
	resp := httptest.NewRecorder()
	writeInternalError(resp, assertError("boom"))
	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 status, got %d", resp.Code)
	}
}

type assertError string

func (a assertError) Error() string { return string(a) }

func TestHealthEndpoint(t *testing.T) {
	router, clock := setupTestRouter(t)

	rec := serve(t, router, http.MethodGet, "/api/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var body healthResponse
	decode(t, rec, &body)

	if body.Status != "ok" {
		t.Fatalf("expected status ok, got %s", body.Status)
	}
	if !body.Timestamp.Equal(clock.Now()) {
		t.Fatalf("expected timestamp %s, got %s", clock.Now(), body.Timestamp)
	}
}

func TestHealthEndpointDegradedWithoutDocument(t *testing.T) {
	handler := NewHandler(storage.NewMemoryStorage(), testSchema())
	router := NewRouter(handler, zaptest.NewLogger(t), WithLogging(false))

	rec := serve(t, router, http.MethodGet, "/api/health", "")
	var body healthResponse
	decode(t, rec, &body)
	if body.Status != "degraded" {
		t.Fatalf("expected status degraded, got %s", body.Status)
	}

	if rec := serve(t, router, http.MethodGet, "/api/document", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503 without document, got %d", rec.Code)
	}
}

func TestGetDocumentListsEntries(t *testing.T) {
	router, clock := setupTestRouter(t)

	rec := serve(t, router, http.MethodGet, "/api/document", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var body struct {
		LoadedAt time.Time `json:"loadedAt"`
		Entries  []struct {
			Key   string `json:"key"`
			Type  string `json:"type"`
			Text  string `json:"text"`
			Group string `json:"group"`
			Line  int    `json:"line"`
		} `json:"entries"`
	}
	decode(t, rec, &body)

	if !body.LoadedAt.Equal(clock.Now()) {
		t.Fatalf("expected loadedAt %s, got %s", clock.Now(), body.LoadedAt)
	}

	type row struct{ Key, Type, Text, Group string }
	got := make([]row, 0, len(body.Entries))
	for _, e := range body.Entries {
		got = append(got, row{e.Key, e.Type, e.Text, e.Group})
	}
	want := []row{
		{"dataset", "string", "imagenet", "dataset"},
		{"batch_size", "int", "128", "dataset"},
		{"lr", "float", "0.001", "scheduler"},
		{"warmup_epochs", "int", "5", "scheduler"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("entries mismatch (-want +got):\n%s", diff)
	}
	if body.Entries[2].Line != 6 {
		t.Fatalf("expected lr on line 6, got %d", body.Entries[2].Line)
	}
}

func TestGetValue(t *testing.T) {
	router, _ := setupTestRouter(t)

	tests := []struct {
		name       string
		target     string
		wantStatus int
		wantType   string
		wantText   string
	}{
		{name: "native kind", target: "/api/document/lr", wantStatus: http.StatusOK, wantType: "float", wantText: "0.001"},
		{name: "explicit kind", target: "/api/document/batch_size?type=int", wantStatus: http.StatusOK, wantType: "int", wantText: "128"},
		{name: "widened int", target: "/api/document/batch_size?type=float", wantStatus: http.StatusOK, wantType: "float", wantText: "128.0"},
		{name: "missing key", target: "/api/document/momentum", wantStatus: http.StatusNotFound},
		{name: "type mismatch", target: "/api/document/dataset?type=int", wantStatus: http.StatusUnprocessableEntity},
		{name: "lossy narrowing", target: "/api/document/lr?type=int", wantStatus: http.StatusUnprocessableEntity},
		{name: "unknown type", target: "/api/document/lr?type=tensor", wantStatus: http.StatusBadRequest},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			rec := serve(t, router, http.MethodGet, tc.target, "")
			if rec.Code != tc.wantStatus {
				t.Fatalf("expected status %d, got %d: %s", tc.wantStatus, rec.Code, rec.Body.String())
			}
			if tc.wantStatus != http.StatusOK {
				return
			}
			var body valueResponse
			decode(t, rec, &body)
			if body.Type != tc.wantType || body.Text != tc.wantText {
				t.Fatalf("expected %s %s, got %s %s", tc.wantType, tc.wantText, body.Type, body.Text)
			}
		})
	}
}

func TestGetValueReturnsExactFloat(t *testing.T) {
	router, _ := setupTestRouter(t)

	rec := serve(t, router, http.MethodGet, "/api/document/lr?type=float", "")
	var body struct {
		Value float64 `json:"value"`
	}
	decode(t, rec, &body)
	if body.Value != 0.001 {
		t.Fatalf("expected 0.001, got %v", body.Value)
	}
}

func TestViolationsOfCurrentDocument(t *testing.T) {
	router, _ := setupTestRouter(t)

	rec := serve(t, router, http.MethodGet, "/api/document/violations", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var body validationResponse
	decode(t, rec, &body)
	if !body.Valid || len(body.Violations) != 0 {
		t.Fatalf("expected valid document, got %+v", body)
	}
}

func TestValidateReportsEveryViolation(t *testing.T) {
	router, _ := setupTestRouter(t)

	rec := serve(t, router, http.MethodPost, "/api/validate", "batch_size: 0\nlr: 'fast'\nwarmup_epochs: -1\n")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var body validationResponse
	decode(t, rec, &body)
	if body.Valid {
		t.Fatalf("expected document to be invalid")
	}

	type row struct{ Key, Kind string }
	got := make([]row, 0, len(body.Violations))
	for _, v := range body.Violations {
		got = append(got, row{v.Key, v.Kind})
	}
	want := []row{
		{"dataset", "missing_key"},
		{"batch_size", "invalid_value"},
		{"lr", "type_mismatch"},
		{"warmup_epochs", "invalid_value"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("violations mismatch (-want +got):\n%s", diff)
	}
}

func TestValidateRejectsMalformedDocument(t *testing.T) {
	router, _ := setupTestRouter(t)

	rec := serve(t, router, http.MethodPost, "/api/validate", "lr: 0.1\nlr: 0.2\n")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}

	var body errorResponse
	decode(t, rec, &body)
	if !strings.Contains(body.Details, "lr") {
		t.Fatalf("expected details to name the duplicated key, got %q", body.Details)
	}
}

func TestReload(t *testing.T) {
	t.Run("unavailable", func(t *testing.T) {
		router, _ := setupTestRouter(t)
		if rec := serve(t, router, http.MethodPost, "/api/reload", ""); rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected status 503, got %d", rec.Code)
		}
	})

	t.Run("success", func(t *testing.T) {
		reloader := &fakeReloader{}
		router, _ := setupTestRouter(t, WithReloader(reloader))

		rec := serve(t, router, http.MethodPost, "/api/reload", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rec.Code)
		}
		if reloader.calls != 1 {
			t.Fatalf("expected one reload, got %d", reloader.calls)
		}
	})

	t.Run("validation failure", func(t *testing.T) {
		reloader := &fakeReloader{err: &reload.ValidationError{
			Path:       "recipe.yaml",
			Violations: []error{&hparams.MissingKeyError{Key: "lr"}},
		}}
		router, _ := setupTestRouter(t, WithReloader(reloader))

		rec := serve(t, router, http.MethodPost, "/api/reload", "")
		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("expected status 422, got %d", rec.Code)
		}
		var body errorResponse
		decode(t, rec, &body)
		if len(body.Violations) != 1 || body.Violations[0].Key != "lr" {
			t.Fatalf("expected violation for lr, got %+v", body.Violations)
		}
	})

	t.Run("load failure", func(t *testing.T) {
		reloader := &fakeReloader{err: errors.New("load recipe.yaml: boom")}
		router, _ := setupTestRouter(t, WithReloader(reloader))

		if rec := serve(t, router, http.MethodPost, "/api/reload", ""); rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("expected status 422, got %d", rec.Code)
		}
	})
}

func TestJSONValueDropsNonFiniteFloats(t *testing.T) {
	doc, err := hparams.Parse([]byte("a: .inf\nb: 0.5\n"))
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	a, _ := doc.Lookup("a")
	b, _ := doc.Lookup("b")
	if got := jsonValue(a.Value); got != nil {
		t.Fatalf("expected nil for +Inf, got %v", got)
	}
	if got := jsonValue(b.Value); got != 0.5 {
		t.Fatalf("expected 0.5, got %v", got)
	}
}

func TestCorsPreflight(t *testing.T) {
	router, _ := setupTestRouter(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/validate", nil)
	req.Header.Set("Origin", "https://example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Fatalf("expected Access-Control-Allow-Origin header to be set")
	}
}

func TestRequestIDPropagation(t *testing.T) {
	router, _ := setupTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "test-request-id")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got != "test-request-id" {
		t.Fatalf("expected request id header to be echoed, got %s", got)
	}
}
