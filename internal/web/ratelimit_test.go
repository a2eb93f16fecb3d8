package web

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestMemoryRateLimitStore_Counter(t *testing.T) {
	store := NewMemoryRateLimitStore()
	api := store.Counter("api", time.Minute)
	if again := store.Counter("api", time.Minute); again != api {
		t.Error("same scope returned a new counter")
	}
	if upload := store.Counter("upload", time.Minute); upload == api {
		t.Error("different scopes share a counter")
	}
	if n := store.Len(); n != 2 {
		t.Errorf("Len = %d, want 2", n)
	}
}

func TestRateLimitScopesIndependent(t *testing.T) {
	store := NewMemoryRateLimitStore()
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	api := rateLimit(store, "api", 1, time.Minute)(ok)
	upload := rateLimit(store, "upload", 1, time.Minute)(ok)

	send := func(h http.Handler) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:1000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}
	if code := send(api); code != http.StatusNoContent {
		t.Fatalf("api = %d, want 204", code)
	}
	if code := send(upload); code != http.StatusNoContent {
		t.Errorf("upload after api = %d, want 204", code)
	}
	if code := send(api); code != http.StatusTooManyRequests {
		t.Errorf("second api = %d, want 429", code)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	store := NewMemoryRateLimitStore()
	h := rateLimit(store, "api", 2, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	send := func(addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/admin/csv-imports", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	send("10.0.0.1:1000")
	send("10.0.0.1:1001")
	rec := send("10.0.0.1:1002")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("third request = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}
	if resp := decode(t, rec); resp.Success || resp.Code != "RATE001" {
		t.Errorf("response = %+v", resp)
	}

	if rec := send("10.0.0.2:1000"); rec.Code != http.StatusNoContent {
		t.Errorf("other client = %d, want 204", rec.Code)
	}
}

func TestUploadRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Rate.Enabled = true
	cfg.Rate.RequestsPerMinute = 100
	cfg.Rate.UploadLimit = 1
	limits := NewMemoryRateLimitStore()
	ts := newTestServer(t, cfg, WithRateLimitStore(limits))

	uploadOK(t, ts, goodUpload(t))
	rec := ts.do(goodUpload(t))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second upload = %d, want 429", rec.Code)
	}

	// Reads stay under the general limit.
	if rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/admin/csv-imports", nil)); rec.Code != http.StatusOK {
		t.Errorf("list after upload limit = %d, want 200", rec.Code)
	}

	// A second server with its own store does not share counters.
	other := newTestServer(t, cfg)
	uploadOK(t, other, goodUpload(t))
}
