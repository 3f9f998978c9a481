package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/parcelhq/trackwise-backend/pkg/logger"
)

func TestLoggingPassesRequestThrough(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "test-logging", Level: logger.ParseLevel("debug"), Output: io.Discard})
	mw := Logging(logg)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	})

	resp := httptest.NewRecorder()
	mw(handler).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/credits/balance", nil))

	if resp.Code != http.StatusTeapot {
		t.Fatalf("expected wrapped writer to forward status, got %d", resp.Code)
	}
	if resp.Body.String() != "short and stout" {
		t.Fatalf("expected body forwarded, got %q", resp.Body.String())
	}
}

func TestLoggingRecordsImplicitOK(t *testing.T) {
	mw := Logging(nil)

	rec := &statusRecorder{ResponseWriter: httptest.NewRecorder()}
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	mw(handler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	if rec.status != http.StatusOK {
		t.Fatalf("expected implicit 200 recorded, got %d", rec.status)
	}
}
