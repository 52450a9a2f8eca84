package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestLivenessHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	LivenessHandler()(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "OK" {
		t.Errorf("body = %q, want OK", rec.Body.String())
	}
}

func TestReadinessHandler(t *testing.T) {
	tests := []struct {
		name     string
		result   Result
		wantCode int
		wantBody string
	}{
		{"healthy", Healthy("ok"), http.StatusOK, "OK"},
		{"degraded", Degraded("slow"), http.StatusOK, "DEGRADED"},
		{"unhealthy", Unhealthy("down", nil), http.StatusServiceUnavailable, "UNHEALTHY"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agg := NewAggregator()
			agg.Register("check", staticChecker("check", tt.result))

			rec := httptest.NewRecorder()
			ReadinessHandler(agg)(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if rec.Body.String() != tt.wantBody {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestDetailedHandler(t *testing.T) {
	agg := NewAggregator()
	agg.Register("queue", staticChecker("queue", Healthy("under capacity").WithDetails(map[string]any{
		"queue_length": 2,
	})))
	agg.Register("breaker", staticChecker("breaker", Unhealthy("circuit open", ErrCheckFailed)))

	rec := httptest.NewRecorder()
	DetailedHandler(agg)(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "unhealthy" {
		t.Errorf("status = %q, want unhealthy", resp.Status)
	}
	if len(resp.Checks) != 2 {
		t.Fatalf("checks = %d, want 2", len(resp.Checks))
	}
	if resp.Checks["queue"].Status != "healthy" {
		t.Errorf("queue status = %q", resp.Checks["queue"].Status)
	}
	if resp.Checks["breaker"].Error == "" {
		t.Error("breaker error missing from response")
	}
}

func TestRegisterHandlers(t *testing.T) {
	agg := NewAggregator()
	agg.Register("check", staticChecker("check", Healthy("ok")))

	mux := http.NewServeMux()
	RegisterHandlers(mux, agg)

	srv := httptest.NewServer(mux)
	defer srv.Close()

	for _, path := range []string{"/healthz", "/readyz", "/health"} {
		req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL+path, nil)
		if err != nil {
			t.Fatal(err)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, resp.StatusCode)
		}
	}
}
