// Package supabase はホスト型バックエンド（Supabase）との通信を提供する。
// PostgRESTのクエリAPIを呼ぶRESTクライアントと、行挿入通知を受け取るRealtimeクライアントを含む。
package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	// restPath はPostgREST APIのパス。
	restPath = "/rest/v1/"
	// maxErrorBodySize はエラーレスポンスとして読み取る最大バイト数。
	maxErrorBodySize = 64 * 1024
)

// ErrMissingCredentials はURLまたは公開キーが未設定の場合のエラー。
var ErrMissingCredentials = errors.New("supabase URL and anon key must be provided")

// Config はバックエンドへの接続設定。
// 起動時に1回検証し、必要なコンポーネントへ明示的に渡す。
type Config struct {
	URL     string
	AnonKey string
}

// Validate はURLと公開キーが両方設定されているかを検証する。
func (c Config) Validate() error {
	if c.URL == "" || c.AnonKey == "" {
		return ErrMissingCredentials
	}
	if _, err := url.Parse(c.URL); err != nil {
		return fmt.Errorf("invalid supabase URL: %w", err)
	}
	return nil
}

// Error はPostgRESTが返したエラーレスポンスを表す。
type Error struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    string `json:"details"`
	Hint       string `json:"hint"`
}

// Error はerrorインターフェースを実装する。
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("supabase: %s (status %d, code %s)", e.Message, e.StatusCode, e.Code)
	}
	return fmt.Sprintf("supabase: %s (status %d)", e.Message, e.StatusCode)
}

// BackendMessage はバックエンドが返したメッセージをそのまま返す。
func (e *Error) BackendMessage() string {
	return e.Message
}

// Client はPostgREST APIのクライアント。
// 読み取り専用のSELECTのみを発行する。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string
	apiKey     string
}

// NewClient はClientの新しいインスタンスを生成する。
// 設定が不完全な場合はクエリを発行する前にErrMissingCredentialsを返す。
func NewClient(cfg Config, httpClient *http.Client, logger *slog.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.AnonKey,
	}, nil
}

// Query はPostgRESTのSELECTクエリを組み立てる。
type Query struct {
	table   string
	columns string
	filters url.Values
	order   []string
	limit   int
}

// From は指定テーブルに対するクエリを生成する。
func From(table string) *Query {
	return &Query{
		table:   table,
		columns: "*",
		filters: url.Values{},
	}
}

// Select は取得するカラムを指定する。
func (q *Query) Select(columns string) *Query {
	q.columns = columns
	return q
}

// Eq は column = value のフィルタを追加する。
func (q *Query) Eq(column, value string) *Query {
	q.filters.Add(column, "eq."+value)
	return q
}

// InInt64 は column IN (ids...) のフィルタを追加する。
func (q *Query) InInt64(column string, ids []int64) *Query {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	q.filters.Add(column, "in.("+strings.Join(parts, ",")+")")
	return q
}

// Order は並び順を追加する。
func (q *Query) Order(column string, ascending bool) *Query {
	dir := "desc"
	if ascending {
		dir = "asc"
	}
	q.order = append(q.order, column+"."+dir)
	return q
}

// Limit は取得件数の上限を指定する。0以下の場合は上限なし。
func (q *Query) Limit(n int) *Query {
	q.limit = n
	return q
}

// Table はクエリ対象のテーブル名を返す。
func (q *Query) Table() string {
	return q.table
}

// Encode はクエリ文字列を返す。
func (q *Query) Encode() string {
	v := url.Values{}
	for k, vals := range q.filters {
		v[k] = append([]string(nil), vals...)
	}
	v.Set("select", q.columns)
	if len(q.order) > 0 {
		v.Set("order", strings.Join(q.order, ","))
	}
	if q.limit > 0 {
		v.Set("limit", strconv.Itoa(q.limit))
	}
	return v.Encode()
}

// Select はクエリを実行し、結果のJSON配列をdestにデコードする。
// 2xx以外のレスポンスは*Errorとして返す。リトライは行わない。
func (c *Client) Select(ctx context.Context, q *Query, dest any) error {
	reqURL := c.baseURL + restPath + url.PathEscape(q.table) + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "Newsbrief/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("Supabase APIの呼び出しに失敗しました",
			slog.String("table", q.table),
			slog.String("error", err.Error()),
		)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := decodeError(resp)
		c.logger.Error("Supabase APIがエラーステータスを返しました",
			slog.String("table", q.table),
			slog.Int("http_status", resp.StatusCode),
			slog.String("code", apiErr.Code),
			slog.String("message", apiErr.Message),
		)
		return apiErr
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}
	return nil
}

// decodeError はエラーレスポンスのボディを*Errorに変換する。
// JSONでない場合はボディ文字列またはステータステキストをメッセージとする。
func decodeError(resp *http.Response) *Error {
	apiErr := &Error{StatusCode: resp.StatusCode}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	if err == nil && len(body) > 0 {
		if jsonErr := json.Unmarshal(body, apiErr); jsonErr != nil {
			apiErr.Message = strings.TrimSpace(string(body))
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}
