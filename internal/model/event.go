package model

import "time"

// CuratedInsertEvent はcurated_articlesへの行挿入通知を表す。
// Realtimeチャネルまたは LISTEN/NOTIFY から配信される。
type CuratedInsertEvent struct {
	Language   string          `json:"language"`
	Record     *CuratedArticle `json:"record,omitempty"`
	ReceivedAt time.Time       `json:"received_at"`
}
