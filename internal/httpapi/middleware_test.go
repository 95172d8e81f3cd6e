package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"carebridge.org/internal/audit"
)

func TestRequestIDGeneratedAndEchoed(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = audit.RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/x", nil))

	if seen == "" {
		t.Fatalf("expected a generated request id in context")
	}
	if got := rr.Header().Get("X-Request-Id"); got != seen {
		t.Fatalf("response header %q does not match context id %q", got, seen)
	}
}

func TestRequestIDHonorsUpstreamHeader(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = audit.RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Request-Id", "rid-from-proxy")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if seen != "rid-from-proxy" {
		t.Fatalf("expected proxy id to pass through, got %q", seen)
	}
}

func TestRateLimitRejectsBurstOverflow(t *testing.T) {
	handler := RateLimit(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), 2, 1)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		handler.ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusOK {
		t.Fatalf("first two requests should pass, got %v", codes)
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Fatalf("third request should be limited, got %v", codes)
	}
}

func TestRateLimitIsPerClient(t *testing.T) {
	handler := RateLimit(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), 1, 1)

	first := httptest.NewRequest(http.MethodGet, "/x", nil)
	first.RemoteAddr = "10.0.0.1:1234"
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, first)
	handler.ServeHTTP(httptest.NewRecorder(), first)

	other := httptest.NewRequest(http.MethodGet, "/x", nil)
	other.RemoteAddr = "10.0.0.2:1234"
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, other)
	if rr.Code != http.StatusOK {
		t.Fatalf("a different client should have its own bucket, got %d", rr.Code)
	}
}

func TestHandlerChainRateLimits(t *testing.T) {
	api := NewAuthority(&fakeAuth{}, nil, ReadyProbe{}, "test", WithRateLimit(2, 1))
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		resp, err := srv.Client().Get(srv.URL + "/healthz")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		resp.Body.Close()
		codes = append(codes, resp.StatusCode)
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusOK {
		t.Fatalf("first two requests should pass, got %v", codes)
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Fatalf("third request should hit the limiter, got %v", codes)
	}
}

func TestCORSPreflight(t *testing.T) {
	handler := CORS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("preflight must not reach the handler")
	}))

	req := httptest.NewRequest(http.MethodOptions, "/conversations", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Fatalf("expected origin echo, got %q", got)
	}
}

func TestExtractBearerToken(t *testing.T) {
	if _, err := extractBearerToken(""); err == nil {
		t.Fatalf("empty header should fail")
	}
	if _, err := extractBearerToken("Basic abc"); err == nil {
		t.Fatalf("wrong scheme should fail")
	}
	tok, err := extractBearerToken("bearer abc123")
	if err != nil || tok != "abc123" {
		t.Fatalf("case-insensitive scheme should work, got %q err %v", tok, err)
	}
}
