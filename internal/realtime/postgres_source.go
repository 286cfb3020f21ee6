package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/newsbrief/internal/model"
)

const (
	defaultMinReconnect     = 1 * time.Second
	defaultMaxReconnect     = 30 * time.Second
	defaultPGSubscribeLimit = 10 * time.Second
)

// PostgresSource はPostgreSQLのLISTEN/NOTIFYで行挿入イベントを購読する。
// ペイロードはトリガーが送るidとtarget_languageのみのJSONで、言語の絞り込みはクライアント側で行う。
type PostgresSource struct {
	dsn              string
	channel          string
	logger           *slog.Logger
	subscribeTimeout time.Duration
	now              func() time.Time
}

// NewPostgresSource はPostgresSourceを生成する。
func NewPostgresSource(dsn, channel string, subscribeTimeout time.Duration, logger *slog.Logger) *PostgresSource {
	if subscribeTimeout <= 0 {
		subscribeTimeout = defaultPGSubscribeLimit
	}
	return &PostgresSource{
		dsn:              dsn,
		channel:          channel,
		logger:           logger,
		subscribeTimeout: subscribeTimeout,
		now:              time.Now,
	}
}

// Subscribe はLISTENを発行し、接続が確立した時点で返る。
// 接続断は購読の終了として扱い、pq側の自動再接続には任せない。
func (s *PostgresSource) Subscribe(ctx context.Context, language string, onEvent EventHandler) (Subscription, error) {
	sub := &pgSubscription{
		channel:  s.channel,
		language: language,
		logger:   s.logger,
		now:      s.now,
		onEvent:  onEvent,
		done:     make(chan struct{}),
	}

	sub.listener = pq.NewListener(s.dsn, defaultMinReconnect, defaultMaxReconnect, sub.onListenerEvent)

	listened := make(chan error, 1)
	go func() {
		listened <- sub.listener.Listen(s.channel)
	}()

	timer := time.NewTimer(s.subscribeTimeout)
	defer timer.Stop()

	select {
	case err := <-listened:
		if err != nil {
			sub.listener.Close()
			return nil, fmt.Errorf("%w: listen %s: %v", ErrNotAcknowledged, s.channel, err)
		}
	case <-timer.C:
		sub.listener.Close()
		return nil, fmt.Errorf("%w: timed out after %s", ErrNotAcknowledged, s.subscribeTimeout)
	case <-ctx.Done():
		sub.listener.Close()
		return nil, ctx.Err()
	}

	sub.wg.Add(1)
	go sub.receiveLoop()
	return sub, nil
}

type pgSubscription struct {
	channel  string
	language string
	logger   *slog.Logger
	now      func() time.Time
	onEvent  EventHandler

	listener *pq.Listener
	wg       sync.WaitGroup

	done      chan struct{}
	doneOnce  sync.Once
	closeOnce sync.Once
}

func (p *pgSubscription) onListenerEvent(ev pq.ListenerEventType, err error) {
	if ev != pq.ListenerEventDisconnected {
		return
	}
	attrs := []any{slog.String("language", p.language)}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	p.logger.Warn("LISTEN接続が切断されました", attrs...)
	p.markDone()
}

func (p *pgSubscription) markDone() {
	p.doneOnce.Do(func() { close(p.done) })
}

// receiveLoop は通知を受信して言語が一致する行だけをハンドラーへ渡す。
func (p *pgSubscription) receiveLoop() {
	defer p.wg.Done()
	defer p.markDone()

	for n := range p.listener.Notify {
		// nilは再接続を示す
		if n == nil {
			continue
		}
		p.dispatch(n.Extra)
	}
}

func (p *pgSubscription) dispatch(payload string) {
	var record model.CuratedArticle
	if err := json.Unmarshal([]byte(payload), &record); err != nil {
		p.logger.Warn("NOTIFYペイロードのパースに失敗しました",
			slog.String("channel", p.channel),
			slog.String("error", err.Error()),
		)
		return
	}
	if record.TargetLanguage != p.language {
		return
	}
	p.onEvent(model.CuratedInsertEvent{
		Language:   p.language,
		Record:     &record,
		ReceivedAt: p.now().UTC(),
	})
}

// Done は購読が終了したときに閉じられるチャネルを返す。
func (p *pgSubscription) Done() <-chan struct{} {
	return p.done
}

// Close はUNLISTENして接続を閉じる。
func (p *pgSubscription) Close() error {
	var err error
	p.closeOnce.Do(func() {
		err = p.listener.Close()
		p.wg.Wait()
		p.markDone()
	})
	return err
}
