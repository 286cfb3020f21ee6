package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/newsbrief/internal/model"
)

// --- モック定義 ---

// mockBriefService はBriefServiceInterfaceのモック実装。
type mockBriefService struct {
	latestFn func(ctx context.Context, language string) (*model.BriefResponse, error)
}

func (m *mockBriefService) Latest(ctx context.Context, language string) (*model.BriefResponse, error) {
	if m.latestFn != nil {
		return m.latestFn(ctx, language)
	}
	return model.NewEmptyBrief(language, time.Time{}), nil
}

// --- テストヘルパー ---

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))
}

// parseAPIErrorResponse はレスポンスボディからAPIErrorレスポンスをパースするヘルパー。
func parseAPIErrorResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var result map[string]string
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return result
}

func sampleBrief() *model.BriefResponse {
	return &model.BriefResponse{
		IsraelRelevant: []model.BriefArticle{
			{ID: 1, Title: "Cabinet meets", Source: "Ynet", SourceInitials: "YN", URL: "https://ynet.example/1", RankPosition: 1, ArticleCount: 3},
		},
		OtherCoverage: []model.BriefArticle{
			{ID: 2, Title: "Markets close", Source: "Unknown", SourceInitials: "UNK", URL: "#", RankPosition: 2, ArticleCount: 1},
		},
		Metadata: model.BriefMetadata{
			TotalArticles:       2,
			IsraelRelevantCount: 1,
			OtherCoverageCount:  1,
			GeneratedAt:         "2025-01-01T00:00:00Z",
			Language:            "he",
		},
	}
}

func newTestBriefHandler(svc BriefServiceInterface) *BriefHandler {
	return NewBriefHandler(svc, BriefHandlerConfig{
		DefaultLanguage: "he",
		CacheMaxAge:     10 * time.Minute,
		SiteURL:         "https://brief.example.com",
	}, testLogger())
}

// --- Latest ---

func TestBriefHandler_Latest_Success(t *testing.T) {
	var gotLanguage string
	h := newTestBriefHandler(&mockBriefService{
		latestFn: func(ctx context.Context, language string) (*model.BriefResponse, error) {
			gotLanguage = language
			return sampleBrief(), nil
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/brief/latest?language=ar", nil)
	w := httptest.NewRecorder()
	h.Latest(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotLanguage != "ar" {
		t.Errorf("language = %q, want %q", gotLanguage, "ar")
	}
	if cc := w.Header().Get("Cache-Control"); cc != "public, max-age=600, s-maxage=600" {
		t.Errorf("Cache-Control = %q", cc)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var resp model.BriefResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Metadata.TotalArticles != 2 || len(resp.IsraelRelevant) != 1 || len(resp.OtherCoverage) != 1 {
		t.Errorf("response = %+v", resp)
	}
	if resp.IsraelRelevant[0].SourceInitials != "YN" {
		t.Errorf("sourceInitials = %q, want YN", resp.IsraelRelevant[0].SourceInitials)
	}
}

func TestBriefHandler_Latest_DefaultLanguage(t *testing.T) {
	var gotLanguage string
	h := newTestBriefHandler(&mockBriefService{
		latestFn: func(ctx context.Context, language string) (*model.BriefResponse, error) {
			gotLanguage = language
			return model.NewEmptyBrief(language, time.Now()), nil
		},
	})

	w := httptest.NewRecorder()
	h.Latest(w, httptest.NewRequest(http.MethodGet, "/api/brief/latest", nil))

	if gotLanguage != "he" {
		t.Errorf("language = %q, want %q", gotLanguage, "he")
	}
	if !strings.Contains(w.Body.String(), `"israelRelevant":[]`) {
		t.Errorf("empty brief should serialize empty arrays: %s", w.Body.String())
	}
}

func TestBriefHandler_Latest_Errors(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantStatus  int
		wantCode    string
		wantMessage string
	}{
		{
			name:        "認証情報の欠落は設定エラー",
			err:         model.NewConfigurationError(),
			wantStatus:  http.StatusInternalServerError,
			wantCode:    model.ErrCodeConfiguration,
			wantMessage: "Server configuration error: Missing database credentials",
		},
		{
			name:        "curated_articlesの取得失敗",
			err:         model.NewCuratedQueryError("permission denied for table curated_articles"),
			wantStatus:  http.StatusInternalServerError,
			wantCode:    model.ErrCodeCuratedQueryFailed,
			wantMessage: "Failed to fetch curated articles: permission denied for table curated_articles",
		},
		{
			name:        "articlesの取得失敗",
			err:         model.NewArticlesQueryError("timeout"),
			wantStatus:  http.StatusInternalServerError,
			wantCode:    model.ErrCodeArticlesQueryFailed,
			wantMessage: "Failed to fetch original articles: timeout",
		},
		{
			name:        "APIError以外は詳細を隠す",
			err:         errors.New("runtime error: index out of range [3]"),
			wantStatus:  http.StatusInternalServerError,
			wantCode:    model.ErrCodeInternal,
			wantMessage: "Failed to fetch latest news brief",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestBriefHandler(&mockBriefService{
				latestFn: func(ctx context.Context, language string) (*model.BriefResponse, error) {
					return nil, tt.err
				},
			})

			w := httptest.NewRecorder()
			h.Latest(w, httptest.NewRequest(http.MethodGet, "/api/brief/latest", nil))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if cc := w.Header().Get("Cache-Control"); cc != "no-store" {
				t.Errorf("Cache-Control = %q, want no-store on error", cc)
			}
			body := parseAPIErrorResponse(t, w)
			if body["code"] != tt.wantCode {
				t.Errorf("code = %q, want %q", body["code"], tt.wantCode)
			}
			if body["message"] != tt.wantMessage {
				t.Errorf("message = %q, want %q", body["message"], tt.wantMessage)
			}
		})
	}
}

// --- LatestRSS ---

func TestBriefHandler_LatestRSS(t *testing.T) {
	h := newTestBriefHandler(&mockBriefService{
		latestFn: func(ctx context.Context, language string) (*model.BriefResponse, error) {
			return sampleBrief(), nil
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/brief/latest.rss?language=he", nil)
	w := httptest.NewRecorder()
	h.LatestRSS(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/rss+xml; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	if cc := w.Header().Get("Cache-Control"); cc != "public, max-age=600, s-maxage=600" {
		t.Errorf("Cache-Control = %q", cc)
	}

	body := w.Body.String()
	for _, want := range []string{
		"<title>News Brief (he)</title>",
		"<link>https://brief.example.com</link>",
		`href="http://example.com/api/brief/latest.rss?language=he"`,
		"<title>Cabinet meets</title>",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("RSS should contain %q:\n%s", want, body)
		}
	}
}

func TestBriefHandler_LatestRSS_Error(t *testing.T) {
	h := newTestBriefHandler(&mockBriefService{
		latestFn: func(ctx context.Context, language string) (*model.BriefResponse, error) {
			return nil, model.NewConfigurationError()
		},
	})

	w := httptest.NewRecorder()
	h.LatestRSS(w, httptest.NewRequest(http.MethodGet, "/api/brief/latest.rss", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
}
