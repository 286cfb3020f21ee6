// Package realtime はcurated_articlesへの行挿入通知の購読を提供する。
// リスナーの状態管理、イベントソース、通知、SSE配信用のハブを含む。
package realtime

import (
	"context"
	"errors"

	"github.com/hitoshi/newsbrief/internal/model"
)

// CuratedTable は購読対象のテーブル名。
const CuratedTable = "curated_articles"

// ErrNotAcknowledged は購読がアクティブ状態の確認応答に到達しなかったことを示す。
// リトライは行わず、呼び出し元が明示的に再開する。
var ErrNotAcknowledged = errors.New("subscription was not acknowledged")

// EventHandler は行挿入イベントを受け取るコールバック。
// ソースの内部goroutineから呼ばれる。
type EventHandler func(model.CuratedInsertEvent)

// Subscription はアクティブな外部購読のハンドル。
type Subscription interface {
	// Close は購読を解除し、内部リソースを解放する。複数回呼んでも安全であること。
	Close() error
}

// Source は言語でフィルタした行挿入イベントの購読を提供する。
type Source interface {
	// Subscribe は購読を開始し、バックエンドの確認応答を受け取った時点で返る。
	// 確認応答が得られない場合はエラーを返す。
	Subscribe(ctx context.Context, language string, onEvent EventHandler) (Subscription, error)
}
