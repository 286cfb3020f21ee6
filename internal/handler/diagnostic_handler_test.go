package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/newsbrief/internal/supabase"
)

// mockProber はConnectionProberのモック実装。
type mockProber struct {
	probeFn func(ctx context.Context) (int, error)
}

func (m *mockProber) Probe(ctx context.Context) (int, error) {
	if m.probeFn != nil {
		return m.probeFn(ctx)
	}
	return 0, nil
}

func decodeMap(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&m); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	return m
}

func TestDiagnosticHandler_EnvCheck(t *testing.T) {
	const key = "eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9.secret"
	h := NewDiagnosticHandler("https://abc.supabase.co", key, nil, testLogger())
	h.now = func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }

	w := httptest.NewRecorder()
	h.EnvCheck(w, httptest.NewRequest(http.MethodGet, "/api/env-check", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	raw := w.Body.String()
	// 値やその一部は返さない
	if strings.Contains(raw, "supabase.co") || strings.Contains(raw, "eyJ") {
		t.Errorf("response leaks secret values: %s", raw)
	}

	body := decodeMap(t, w)
	if body["timestamp"] != "2025-01-02T03:04:05Z" {
		t.Errorf("timestamp = %v", body["timestamp"])
	}
	url := body["supabaseUrl"].(map[string]interface{})
	if url["exists"] != true || url["length"] != float64(len("https://abc.supabase.co")) {
		t.Errorf("supabaseUrl = %v", url)
	}
	anon := body["supabaseAnonKey"].(map[string]interface{})
	if anon["exists"] != true || anon["length"] != float64(len(key)) {
		t.Errorf("supabaseAnonKey = %v", anon)
	}
}

func TestDiagnosticHandler_EnvCheck_Missing(t *testing.T) {
	h := NewDiagnosticHandler("", "", nil, testLogger())

	w := httptest.NewRecorder()
	h.EnvCheck(w, httptest.NewRequest(http.MethodGet, "/api/env-check", nil))

	body := decodeMap(t, w)
	url := body["supabaseUrl"].(map[string]interface{})
	if url["exists"] != false || url["length"] != float64(0) {
		t.Errorf("supabaseUrl = %v, want not exists", url)
	}
}

func TestDiagnosticHandler_SupabaseTest(t *testing.T) {
	tests := []struct {
		name   string
		prober *mockProber
		check  func(t *testing.T, body map[string]interface{})
	}{
		{
			name:   "行がある場合",
			prober: &mockProber{probeFn: func(ctx context.Context) (int, error) { return 1, nil }},
			check: func(t *testing.T, body map[string]interface{}) {
				if body["success"] != true || body["message"] != "Supabase connection works!" {
					t.Errorf("body = %v", body)
				}
				if body["hasData"] != true || body["dataCount"] != float64(1) {
					t.Errorf("hasData/dataCount = %v/%v", body["hasData"], body["dataCount"])
				}
			},
		},
		{
			name:   "行がない場合",
			prober: &mockProber{},
			check: func(t *testing.T, body map[string]interface{}) {
				if body["success"] != true || body["hasData"] != false || body["dataCount"] != float64(0) {
					t.Errorf("body = %v", body)
				}
			},
		},
		{
			name: "クエリ失敗はバックエンドのメッセージを返す",
			prober: &mockProber{probeFn: func(ctx context.Context) (int, error) {
				return 0, &supabase.Error{StatusCode: 401, Message: "Invalid API key"}
			}},
			check: func(t *testing.T, body map[string]interface{}) {
				if body["success"] != false || body["error"] != "Query failed" {
					t.Errorf("body = %v", body)
				}
				if body["errorMessage"] != "Invalid API key" {
					t.Errorf("errorMessage = %v, want Invalid API key", body["errorMessage"])
				}
			},
		},
		{
			name: "通信エラーは詳細を返さない",
			prober: &mockProber{probeFn: func(ctx context.Context) (int, error) {
				return 0, errors.New(`Get "https://abc.supabase.co/rest/v1/curated_articles?limit=1": dial tcp: connection refused`)
			}},
			check: func(t *testing.T, body map[string]interface{}) {
				if body["errorMessage"] != "backend unreachable" {
					t.Errorf("errorMessage = %v", body["errorMessage"])
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewDiagnosticHandler("https://abc.supabase.co", "key", tt.prober, testLogger())

			w := httptest.NewRecorder()
			h.SupabaseTest(w, httptest.NewRequest(http.MethodGet, "/api/supabase-test", nil))

			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
			}
			tt.check(t, decodeMap(t, w))
		})
	}
}

func TestDiagnosticHandler_SupabaseTest_MissingCredentials(t *testing.T) {
	h := NewDiagnosticHandler("https://abc.supabase.co", "", nil, testLogger())

	w := httptest.NewRecorder()
	h.SupabaseTest(w, httptest.NewRequest(http.MethodGet, "/api/supabase-test", nil))

	body := decodeMap(t, w)
	if body["success"] != false || body["error"] != "Missing credentials" {
		t.Errorf("body = %v", body)
	}
	if body["urlExists"] != true || body["keyExists"] != false {
		t.Errorf("urlExists/keyExists = %v/%v", body["urlExists"], body["keyExists"])
	}
	if _, ok := body["hasData"]; ok {
		t.Error("hasData should be omitted on failure")
	}
}

func TestHealth(t *testing.T) {
	w := httptest.NewRecorder()
	Health(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if got := strings.TrimSpace(w.Body.String()); got != `{"status":"ok"}` {
		t.Errorf("body = %s", got)
	}
}
