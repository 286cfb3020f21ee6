package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/newsbrief/internal/repository"
)

// DiagnosticHandler は環境変数とバックエンド接続の診断エンドポイント。
// 秘密情報の値や先頭部分は返さない。
type DiagnosticHandler struct {
	supabaseURL     string
	supabaseAnonKey string
	prober          repository.ConnectionProber
	logger          *slog.Logger
	now             func() time.Time
}

// NewDiagnosticHandler はDiagnosticHandlerを生成する。
// proberがnilの場合、接続テストは認証情報の欠落として報告する。
func NewDiagnosticHandler(supabaseURL, supabaseAnonKey string, prober repository.ConnectionProber, logger *slog.Logger) *DiagnosticHandler {
	return &DiagnosticHandler{
		supabaseURL:     supabaseURL,
		supabaseAnonKey: supabaseAnonKey,
		prober:          prober,
		logger:          logger,
		now:             time.Now,
	}
}

type envVarStatus struct {
	Exists bool `json:"exists"`
	Length int  `json:"length"`
}

type envCheckResponse struct {
	Timestamp       string       `json:"timestamp"`
	SupabaseURL     envVarStatus `json:"supabaseUrl"`
	SupabaseAnonKey envVarStatus `json:"supabaseAnonKey"`
}

// EnvCheck はGET /api/env-check を処理する。
func (h *DiagnosticHandler) EnvCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, envCheckResponse{
		Timestamp:       h.now().UTC().Format(time.RFC3339Nano),
		SupabaseURL:     envVarStatus{Exists: h.supabaseURL != "", Length: len(h.supabaseURL)},
		SupabaseAnonKey: envVarStatus{Exists: h.supabaseAnonKey != "", Length: len(h.supabaseAnonKey)},
	})
}

type connectionTestResponse struct {
	Success      bool   `json:"success"`
	Message      string `json:"message,omitempty"`
	HasData      *bool  `json:"hasData,omitempty"`
	DataCount    *int   `json:"dataCount,omitempty"`
	Error        string `json:"error,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
	URLExists    *bool  `json:"urlExists,omitempty"`
	KeyExists    *bool  `json:"keyExists,omitempty"`
}

// SupabaseTest はGET /api/supabase-test を処理する。
// curated_articlesから1行だけ取得して接続を確認する。結果は常に200で返す。
func (h *DiagnosticHandler) SupabaseTest(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")

	if h.prober == nil {
		urlExists, keyExists := h.supabaseURL != "", h.supabaseAnonKey != ""
		writeJSON(w, http.StatusOK, connectionTestResponse{
			Error:     "Missing credentials",
			URLExists: &urlExists,
			KeyExists: &keyExists,
		})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	count, err := h.prober.Probe(ctx)
	if err != nil {
		h.logger.Warn("接続テストに失敗しました", slog.String("error", err.Error()))
		writeJSON(w, http.StatusOK, connectionTestResponse{
			Error:        "Query failed",
			ErrorMessage: repository.ClientMessage(err),
		})
		return
	}

	hasData := count > 0
	writeJSON(w, http.StatusOK, connectionTestResponse{
		Success:   true,
		Message:   "Supabase connection works!",
		HasData:   &hasData,
		DataCount: &count,
	})
}

// Health はGET /health を処理する。
func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
