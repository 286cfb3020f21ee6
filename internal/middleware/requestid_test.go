package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestRequestIDMiddleware_GeneratesUUID(t *testing.T) {
	var fromCtx string
	handler := NewRequestIDMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fromCtx = RequestIDFromContext(r.Context())
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	header := w.Result().Header.Get(RequestIDHeader)
	if _, err := uuid.Parse(header); err != nil {
		t.Errorf("%s = %q, want UUID: %v", RequestIDHeader, header, err)
	}
	if fromCtx != header {
		t.Errorf("context request id = %q, want %q", fromCtx, header)
	}
}

func TestRequestIDMiddleware_PropagatesClientID(t *testing.T) {
	handler := NewRequestIDMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "edge-abc-123")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if got := w.Result().Header.Get(RequestIDHeader); got != "edge-abc-123" {
		t.Errorf("%s = %q, want %q", RequestIDHeader, got, "edge-abc-123")
	}
}

func TestRequestIDMiddleware_RejectsInvalidClientID(t *testing.T) {
	tests := []struct {
		name string
		id   string
	}{
		{"長すぎるID", strings.Repeat("a", maxRequestIDLength+1)},
		{"空白を含むID", "has space"},
		{"非ASCIIを含むID", "リクエスト"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewRequestIDMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set(RequestIDHeader, tt.id)
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			got := w.Result().Header.Get(RequestIDHeader)
			if got == tt.id {
				t.Error("invalid client id should be replaced")
			}
			if _, err := uuid.Parse(got); err != nil {
				t.Errorf("replacement id %q is not a UUID", got)
			}
		})
	}
}

func TestRequestIDFromContext_Empty(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := RequestIDFromContext(req.Context()); got != "" {
		t.Errorf("RequestIDFromContext = %q, want empty", got)
	}
}
