package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/newsbrief/internal/middleware"
	"github.com/hitoshi/newsbrief/internal/model"
)

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
// APIError以外のエラーの詳細はログのみに記録する。
func handleServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		if middleware.StatusForAPIError(apiErr) >= 500 {
			logger.Error("brief request failed",
				slog.String("code", apiErr.Code),
				slog.String("error", apiErr.Message),
				slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
			)
		}
		middleware.WriteAPIError(w, apiErr)
		return
	}

	logger.Error("internal server error",
		slog.String("error", err.Error()),
		slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
	)
	middleware.WriteInternalServerError(w)
}

// writeJSON はボディをJSONとして書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}
