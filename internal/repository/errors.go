package repository

import (
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// UnreachableMessage はバックエンドからエラー応答が得られなかったときにクライアントへ返す理由。
const UnreachableMessage = "backend unreachable"

// QueryError はテーブルへのクエリ失敗を表す。
type QueryError struct {
	Table string
	Err   error
}

// Error はerrorインターフェースを実装する。
func (e *QueryError) Error() string {
	return fmt.Sprintf("%s の取得に失敗しました: %v", e.Table, e.Err)
}

// Unwrap は元のエラーを返す。
func (e *QueryError) Unwrap() error {
	return e.Err
}

// BackendMessage はバックエンドが返したメッセージを返す。
// バックエンド固有のエラーでない場合はUnreachableMessageを返す。
func (e *QueryError) BackendMessage() string {
	return ClientMessage(e.Err)
}

// ClientMessage はクライアントへ返してよいエラー理由を返す。
// 通信エラーの文字列はリクエストURLを含むため返さず、UnreachableMessageに置き換える。
func ClientMessage(err error) string {
	var be interface{ BackendMessage() string }
	if errors.As(err, &be) {
		return be.BackendMessage()
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Message
	}
	return UnreachableMessage
}

func newQueryError(table string, err error) error {
	if err == nil {
		return nil
	}
	return &QueryError{Table: table, Err: err}
}
