package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/websocket"

	"github.com/hitoshi/newsbrief/internal/model"
	"github.com/hitoshi/newsbrief/internal/realtime"
)

const (
	// realtimePath はRealtimeのWebSocketエンドポイントのパス。
	realtimePath = "/realtime/v1/websocket"
	// channelTopic は購読チャネルのトピック名。
	channelTopic = "realtime:curated_articles_changes"
	// defaultHeartbeatInterval はPhoenixのハートビート送信間隔。
	defaultHeartbeatInterval = 25 * time.Second
	// defaultSubscribeTimeout は購読確認応答の待機上限。
	defaultSubscribeTimeout = 10 * time.Second
)

// phoenixMessage はRealtimeサーバーとやり取りするPhoenixチャネルのメッセージ。
type phoenixMessage struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref,omitempty"`
	JoinRef string          `json:"join_ref,omitempty"`
}

// joinPayload はphx_joinのペイロード。
type joinPayload struct {
	Config struct {
		PostgresChanges []postgresChangesFilter `json:"postgres_changes"`
	} `json:"config"`
	AccessToken string `json:"access_token,omitempty"`
}

type postgresChangesFilter struct {
	Event  string `json:"event"`
	Schema string `json:"schema"`
	Table  string `json:"table"`
	Filter string `json:"filter,omitempty"`
}

// replyPayload はphx_replyのペイロード。
type replyPayload struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

// changePayload はpostgres_changesイベントのペイロード。
type changePayload struct {
	Data struct {
		Type   string          `json:"type"`
		Schema string          `json:"schema"`
		Table  string          `json:"table"`
		Record json.RawMessage `json:"record"`
	} `json:"data"`
}

// Realtime はSupabase Realtimeのクライアント。
// 1回のSubscribeごとに1本のWebSocket接続と1つのチャネルを確立する。
type Realtime struct {
	cfg               Config
	logger            *slog.Logger
	subscribeTimeout  time.Duration
	heartbeatInterval time.Duration
	now               func() time.Time
}

// RealtimeOption はRealtimeの設定を変更する。
type RealtimeOption func(*Realtime)

// WithSubscribeTimeout は購読確認応答の待機上限を設定する。
func WithSubscribeTimeout(d time.Duration) RealtimeOption {
	return func(r *Realtime) {
		if d > 0 {
			r.subscribeTimeout = d
		}
	}
}

// WithHeartbeatInterval はハートビート送信間隔を設定する。
func WithHeartbeatInterval(d time.Duration) RealtimeOption {
	return func(r *Realtime) {
		if d > 0 {
			r.heartbeatInterval = d
		}
	}
}

// NewRealtime はRealtimeの新しいインスタンスを生成する。
func NewRealtime(cfg Config, logger *slog.Logger, opts ...RealtimeOption) (*Realtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r := &Realtime{
		cfg:               cfg,
		logger:            logger,
		subscribeTimeout:  defaultSubscribeTimeout,
		heartbeatInterval: defaultHeartbeatInterval,
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// endpoint はWebSocket接続先URLを組み立てる。
func (r *Realtime) endpoint() (string, error) {
	u, err := url.Parse(r.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("invalid supabase URL: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported URL scheme: %s", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + realtimePath
	q := url.Values{}
	q.Set("apikey", r.cfg.AnonKey)
	q.Set("vsn", "1.0.0")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Subscribe はcurated_articlesのINSERTをtarget_languageでフィルタして購読する。
// phx_joinに対するstatus=okの応答を受け取った時点で返る。
func (r *Realtime) Subscribe(ctx context.Context, language string, onEvent realtime.EventHandler) (realtime.Subscription, error) {
	wsURL, err := r.endpoint()
	if err != nil {
		return nil, err
	}

	wsCfg, err := websocket.NewConfig(wsURL, r.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("WebSocket設定の生成に失敗しました: %w", err)
	}

	joinCtx, cancel := context.WithTimeout(ctx, r.subscribeTimeout)
	defer cancel()

	conn, err := wsCfg.DialContext(joinCtx)
	if err != nil {
		return nil, fmt.Errorf("Realtimeへの接続に失敗しました: %w", err)
	}

	ch := &channel{
		conn:     conn,
		language: language,
		onEvent:  onEvent,
		logger:   r.logger,
		now:      r.now,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	deadline, _ := joinCtx.Deadline()
	if err := ch.join(r.cfg.AnonKey, deadline); err != nil {
		conn.Close()
		return nil, err
	}

	ch.wg.Add(1)
	go ch.heartbeatLoop(r.heartbeatInterval)
	go ch.readLoop()

	r.logger.Info("Realtimeチャネルを購読しました",
		slog.String("topic", channelTopic),
		slog.String("language", language),
	)
	return ch, nil
}

// channel はアクティブなRealtimeチャネル。realtime.Subscriptionを実装する。
type channel struct {
	conn     *websocket.Conn
	language string
	onEvent  realtime.EventHandler
	logger   *slog.Logger
	now      func() time.Time

	ref       atomic.Int64
	stop      chan struct{}
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce  sync.Once
	closing    atomic.Bool
	connClosed atomic.Bool
}

func (c *channel) nextRef() string {
	return strconv.FormatInt(c.ref.Add(1), 10)
}

func (c *channel) send(topic, event string, payload any, joinRef string) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	ref := c.nextRef()
	msg := phoenixMessage{Topic: topic, Event: event, Payload: raw, Ref: ref, JoinRef: joinRef}
	if joinRef == "" && event == "phx_join" {
		msg.JoinRef = ref
	}
	return ref, websocket.JSON.Send(c.conn, msg)
}

// join はphx_joinを送信し、対応するphx_replyを待つ。
func (c *channel) join(accessToken string, deadline time.Time) error {
	var payload joinPayload
	payload.AccessToken = accessToken
	payload.Config.PostgresChanges = []postgresChangesFilter{{
		Event:  "INSERT",
		Schema: "public",
		Table:  realtime.CuratedTable,
		Filter: "target_language=eq." + c.language,
	}}

	ref, err := c.send(channelTopic, "phx_join", payload, "")
	if err != nil {
		return fmt.Errorf("phx_joinの送信に失敗しました: %w", err)
	}

	if !deadline.IsZero() {
		c.conn.SetReadDeadline(deadline)
	}
	defer c.conn.SetReadDeadline(time.Time{})

	for {
		var msg phoenixMessage
		if err := websocket.JSON.Receive(c.conn, &msg); err != nil {
			return fmt.Errorf("%w: %v", realtime.ErrNotAcknowledged, err)
		}
		if msg.Event != "phx_reply" || msg.Ref != ref {
			continue
		}
		var reply replyPayload
		if err := json.Unmarshal(msg.Payload, &reply); err != nil {
			return fmt.Errorf("phx_replyのパースに失敗しました: %w", err)
		}
		if reply.Status != "ok" {
			return fmt.Errorf("%w: status=%s response=%s", realtime.ErrNotAcknowledged, reply.Status, string(reply.Response))
		}
		return nil
	}
}

// heartbeatLoop は接続維持のためハートビートを定期送信する。
func (c *channel) heartbeatLoop(interval time.Duration) {
	defer c.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			if _, err := c.send("phoenix", "heartbeat", struct{}{}, ""); err != nil {
				c.logger.Warn("ハートビートの送信に失敗しました",
					slog.String("language", c.language),
					slog.String("error", err.Error()),
				)
				// readLoopを終了させてdoneを閉じる
				c.closeConn()
				return
			}
		}
	}
}

// readLoop はサーバーからのメッセージを受信し、INSERTイベントをハンドラーへ渡す。
// 接続が切れた場合はdoneを閉じて終了する。再接続は行わない。
func (c *channel) readLoop() {
	defer close(c.done)

	for {
		var msg phoenixMessage
		if err := websocket.JSON.Receive(c.conn, &msg); err != nil {
			if !c.closing.Load() {
				c.logger.Warn("Realtime接続が切断されました",
					slog.String("language", c.language),
					slog.String("error", err.Error()),
				)
			}
			return
		}

		switch msg.Event {
		case "postgres_changes":
			c.dispatch(msg.Payload)
		case "phx_error", "phx_close":
			if msg.Topic == channelTopic {
				c.logger.Warn("Realtimeチャネルが閉じられました",
					slog.String("event", msg.Event),
					slog.String("language", c.language),
				)
				return
			}
		}
	}
}

func (c *channel) dispatch(raw json.RawMessage) {
	var change changePayload
	if err := json.Unmarshal(raw, &change); err != nil {
		c.logger.Warn("postgres_changesのパースに失敗しました", slog.String("error", err.Error()))
		return
	}
	if change.Data.Type != "INSERT" || change.Data.Table != realtime.CuratedTable {
		return
	}

	event := model.CuratedInsertEvent{
		Language:   c.language,
		ReceivedAt: c.now().UTC(),
	}
	if len(change.Data.Record) > 0 {
		var record model.CuratedArticle
		if err := json.Unmarshal(change.Data.Record, &record); err == nil {
			// サーバー側フィルタをすり抜けた他言語の行は無視する
			if record.TargetLanguage != "" && record.TargetLanguage != c.language {
				return
			}
			event.Record = &record
		}
	}
	c.onEvent(event)
}

// Done は接続が終了したときに閉じられるチャネルを返す。
func (c *channel) Done() <-chan struct{} {
	return c.done
}

// Close はphx_leaveを送信して接続を閉じる。
func (c *channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		close(c.stop)
		c.wg.Wait()
		if _, sendErr := c.send(channelTopic, "phx_leave", struct{}{}, ""); sendErr != nil {
			c.logger.Debug("phx_leaveの送信に失敗しました", slog.String("error", sendErr.Error()))
		}
		err = c.closeConn()
		<-c.done
	})
	return err
}

// closeConn は接続を一度だけ閉じる。
func (c *channel) closeConn() error {
	if !c.connClosed.CompareAndSwap(false, true) {
		return nil
	}
	return c.conn.Close()
}
