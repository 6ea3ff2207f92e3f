package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/synaptica-ai/decompensation/pkg/common/logger"
)

func TestLoggingRecordsStatusAndRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger.InitWithOutput(&buf, "info")

	handler := Logging(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(RequestIDHeader) == "" {
			t.Error("expected request id on the inbound request")
		}
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/examples/3", nil))

	if rec.Header().Get(RequestIDHeader) == "" {
		t.Fatal("expected request id on the response")
	}
	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected one JSON log line, got %q: %v", buf.String(), err)
	}
	if entry["status"].(float64) != http.StatusTeapot || entry["path"] != "/api/v1/examples/3" {
		t.Fatalf("unexpected log entry %v", entry)
	}
}

func TestRecovery(t *testing.T) {
	var buf bytes.Buffer
	logger.InitWithOutput(&buf, "error")

	handler := Recovery(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}
