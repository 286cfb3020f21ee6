package realtime

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// deliveryResult はWebhook応答のHTTPステータスコードに基づく送信結果の分類。
type deliveryResult int

const (
	// deliveryOK は送信成功（2xx）。
	deliveryOK deliveryResult = iota
	// deliveryRetry は再送が必要なステータス（429/5xx）。
	deliveryRetry
	// deliveryGiveUp は再送しても結果が変わらないステータス（その他の4xxなど）。
	deliveryGiveUp
)

const (
	// DefaultWebhookAttempts はWebhook送信の最大試行回数。
	DefaultWebhookAttempts = 3
	// initialWebhookBackoff は指数バックオフの初回遅延。
	initialWebhookBackoff = 500 * time.Millisecond
	// maxWebhookBackoff は指数バックオフの最大遅延。
	maxWebhookBackoff = 5 * time.Second
)

// classifyWebhookStatus はHTTPステータスコードを送信結果に分類する。
func classifyWebhookStatus(statusCode int) deliveryResult {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return deliveryOK
	case statusCode == 429:
		return deliveryRetry
	case statusCode >= 500:
		return deliveryRetry
	default:
		return deliveryGiveUp
	}
}

// newWebhookBackOff はWebhook再送用の指数バックオフを生成する。
// 遅延はinitialから2倍ずつ増加し、maxWebhookBackoffで頭打ちになる。ジッターは付けない。
func newWebhookBackOff(initial time.Duration) *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initial
	bo.RandomizationFactor = 0
	bo.Multiplier = 2
	bo.MaxInterval = maxWebhookBackoff
	bo.Reset()
	return bo
}

// sleepContext はdだけ待機する。ctxが先に終了した場合はそのエラーを返す。
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
