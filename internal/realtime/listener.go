package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/newsbrief/internal/model"
)

// State はリスナーの状態。
type State int

const (
	// StateIdle は購読していない状態。
	StateIdle State = iota
	// StateSubscribing は購読の確認応答を待っている状態。
	StateSubscribing
	// StateListening は購読がアクティブな状態。
	StateListening
)

// String は状態名を返す。
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSubscribing:
		return "subscribing"
	case StateListening:
		return "listening"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

var (
	// ErrAlreadyActive は購読中にStartが呼ばれたことを示す。
	ErrAlreadyActive = errors.New("listener already has an active subscription")
	// ErrStaleHandle は現在の購読に対応しないHandleが渡されたことを示す。
	ErrStaleHandle = errors.New("handle does not match the active subscription")
	// ErrListenerClosed はRunが終了した後に操作されたことを示す。
	ErrListenerClosed = errors.New("listener is closed")
)

// Handle はStartが返す購読のハンドル。Stopに渡して購読を解除する。
type Handle struct {
	ID       string
	Language string
}

// RefreshFunc は新しいバッチの挿入を検知したときに呼ばれるコールバック。
type RefreshFunc func(ctx context.Context, event model.CuratedInsertEvent)

// ListenerOption はListenerの設定を変更する。
type ListenerOption func(*Listener)

// WithNotifier はイベント受信時の通知先を設定する。
func WithNotifier(n Notifier) ListenerOption {
	return func(l *Listener) {
		l.notifier = n
	}
}

// WithStateObserver は状態遷移のたびに呼ばれる関数を設定する。
func WithStateObserver(fn func(language string, state State)) ListenerOption {
	return func(l *Listener) {
		l.observeState = fn
	}
}

// WithEventObserver は受理したイベントごとに呼ばれる関数を設定する。
func WithEventObserver(fn func(event model.CuratedInsertEvent)) ListenerOption {
	return func(l *Listener) {
		l.observeEvent = fn
	}
}

// WithListenerClock は現在時刻の取得関数を設定する。
func WithListenerClock(now func() time.Time) ListenerOption {
	return func(l *Listener) {
		l.now = now
	}
}

// Listener はcurated_articlesへの行挿入を言語でフィルタして購読する。
//
// 購読は常に1つだけで、状態の変更はすべてRunが処理するコマンドチャネルを通じて直列化される。
// 言語の切り替えは購読解除と再購読を1つのコマンドとして実行する。
// 確認応答が得られなかった場合はidleに戻り、再試行はしない。
// idleの間のイベントはバッファしない。
type Listener struct {
	source   Source
	onUpdate RefreshFunc
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time

	observeState func(language string, state State)
	observeEvent func(event model.CuratedInsertEvent)

	commands chan command
	events   chan taggedEvent
	lost     chan uint64
	dispatch chan model.CuratedInsertEvent
	done     chan struct{}

	// Runのgoroutineだけが書き込む
	sub        Subscription
	generation uint64
	handle     Handle

	mu         sync.RWMutex
	state      State
	language   string
	lastUpdate time.Time
}

type taggedEvent struct {
	generation uint64
	event      model.CuratedInsertEvent
}

type commandKind int

const (
	cmdStart commandKind = iota
	cmdStop
	cmdSetLanguage
)

type command struct {
	kind     commandKind
	ctx      context.Context
	language string
	handle   Handle
	reply    chan commandResult
}

type commandResult struct {
	handle Handle
	err    error
}

// NewListener はListenerを生成する。Runを呼ぶまでコマンドは処理されない。
func NewListener(source Source, onUpdate RefreshFunc, logger *slog.Logger, opts ...ListenerOption) *Listener {
	l := &Listener{
		source:       source,
		onUpdate:     onUpdate,
		logger:       logger,
		now:          time.Now,
		observeState: func(string, State) {},
		observeEvent: func(model.CuratedInsertEvent) {},
		commands:     make(chan command),
		events:       make(chan taggedEvent, 64),
		lost:         make(chan uint64, 1),
		dispatch:     make(chan model.CuratedInsertEvent, 64),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Start は指定言語の購読を開始し、確認応答を受け取った時点でHandleを返す。
// すでに購読中の場合はErrAlreadyActiveを返す。
func (l *Listener) Start(ctx context.Context, language string) (Handle, error) {
	return l.send(ctx, command{kind: cmdStart, ctx: ctx, language: language})
}

// Stop はHandleに対応する購読を解除してidleに戻る。
func (l *Listener) Stop(ctx context.Context, h Handle) error {
	_, err := l.send(ctx, command{kind: cmdStop, ctx: ctx, handle: h})
	return err
}

// SetLanguage は現在の購読を解除し、新しい言語で購読し直す。
// idleの場合は新しい言語で購読を開始する。
func (l *Listener) SetLanguage(ctx context.Context, language string) (Handle, error) {
	return l.send(ctx, command{kind: cmdSetLanguage, ctx: ctx, language: language})
}

// State は現在の状態を返す。
func (l *Listener) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Language は現在または直前の購読の言語を返す。
func (l *Listener) Language() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.language
}

// LastUpdate は最後にイベントを受理した時刻を返す。未受信の場合はゼロ値。
func (l *Listener) LastUpdate() time.Time {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastUpdate
}

func (l *Listener) send(ctx context.Context, cmd command) (Handle, error) {
	cmd.reply = make(chan commandResult, 1)
	select {
	case l.commands <- cmd:
	case <-l.done:
		return Handle{}, ErrListenerClosed
	case <-ctx.Done():
		return Handle{}, ctx.Err()
	}

	select {
	case res := <-cmd.reply:
		return res.handle, res.err
	case <-l.done:
		return Handle{}, ErrListenerClosed
	}
}

// Run はコマンドとイベントを処理する。ctxがキャンセルされると購読を解除して戻る。
// 1つのListenerにつき1回だけ呼ぶこと。
func (l *Listener) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		l.dispatchLoop(ctx)
	}()

	defer func() {
		l.teardown()
		close(l.done)
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd := <-l.commands:
			cmd.reply <- l.apply(cmd)
		case te := <-l.events:
			l.accept(te)
		case gen := <-l.lost:
			if gen == l.generation && l.sub != nil {
				l.logger.Warn("購読が切断されました。再開するには再度Startしてください",
					slog.String("language", l.handle.Language),
				)
				l.teardown()
			}
		}
	}
}

func (l *Listener) apply(cmd command) commandResult {
	switch cmd.kind {
	case cmdStart:
		if l.sub != nil {
			return commandResult{handle: l.handle, err: ErrAlreadyActive}
		}
		h, err := l.subscribe(cmd.ctx, cmd.language)
		return commandResult{handle: h, err: err}

	case cmdStop:
		if l.sub == nil || cmd.handle.ID != l.handle.ID {
			return commandResult{err: ErrStaleHandle}
		}
		l.teardown()
		return commandResult{}

	case cmdSetLanguage:
		l.teardown()
		h, err := l.subscribe(cmd.ctx, cmd.language)
		return commandResult{handle: h, err: err}
	}
	return commandResult{err: fmt.Errorf("unknown command: %d", cmd.kind)}
}

// subscribe は新しい世代の購読を確立する。失敗した場合はidleに戻る。
func (l *Listener) subscribe(ctx context.Context, language string) (Handle, error) {
	if language == "" {
		language = string(model.DefaultLanguage)
	}

	l.generation++
	gen := l.generation
	l.setState(language, StateSubscribing)

	sub, err := l.source.Subscribe(ctx, language, func(e model.CuratedInsertEvent) {
		// ソースの受信goroutineを止めないよう、キューが満杯なら破棄する
		select {
		case l.events <- taggedEvent{generation: gen, event: e}:
		case <-l.done:
		default:
			l.logger.Warn("イベントキューが満杯のためイベントを破棄しました",
				slog.String("language", language),
			)
		}
	})
	if err != nil {
		l.setState(language, StateIdle)
		l.logger.Error("購読の開始に失敗しました",
			slog.String("language", language),
			slog.String("error", err.Error()),
		)
		return Handle{}, err
	}

	l.sub = sub
	l.handle = Handle{ID: uuid.NewString(), Language: language}
	l.setState(language, StateListening)

	if d, ok := sub.(interface{ Done() <-chan struct{} }); ok {
		go l.watch(gen, d.Done())
	}

	l.logger.Info("購読を開始しました",
		slog.String("language", language),
		slog.String("handle", l.handle.ID),
	)
	return l.handle, nil
}

// watch は購読の終了を検知してRunに伝える。
func (l *Listener) watch(gen uint64, done <-chan struct{}) {
	select {
	case <-done:
	case <-l.done:
		return
	}
	select {
	case l.lost <- gen:
	case <-l.done:
	}
}

// teardown は現在の購読を解除してidleに戻る。購読がない場合は何もしない。
func (l *Listener) teardown() {
	if l.sub == nil {
		return
	}
	// 以降に届く旧世代のイベントは破棄される
	l.generation++
	if err := l.sub.Close(); err != nil {
		l.logger.Warn("購読の解除に失敗しました",
			slog.String("language", l.handle.Language),
			slog.String("error", err.Error()),
		)
	}
	language := l.handle.Language
	l.sub = nil
	l.handle = Handle{}
	l.setState(language, StateIdle)
}

// accept は現在の世代のイベントだけを受理する。
func (l *Listener) accept(te taggedEvent) {
	if te.generation != l.generation || l.sub == nil {
		return
	}

	ev := te.event
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = l.now().UTC()
	}

	l.mu.Lock()
	l.lastUpdate = ev.ReceivedAt
	l.mu.Unlock()

	l.observeEvent(ev)

	select {
	case l.dispatch <- ev:
	default:
		l.logger.Warn("通知キューが満杯のためイベントを破棄しました",
			slog.String("language", ev.Language),
		)
	}
}

// dispatchLoop は受理したイベントについて通知とリフレッシュを順に実行する。
// 遅い通知先がコマンド処理を止めないようにRunとは別のgoroutineで動く。
func (l *Listener) dispatchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-l.dispatch:
			if l.notifier != nil {
				if err := l.notifier.Notify(ctx, NewNotification(ev)); err != nil {
					l.logger.Warn("通知に失敗しました",
						slog.String("language", ev.Language),
						slog.String("error", err.Error()),
					)
				}
			}
			if l.onUpdate != nil {
				l.onUpdate(ctx, ev)
			}
		}
	}
}

func (l *Listener) setState(language string, state State) {
	l.mu.Lock()
	l.language = language
	l.state = state
	l.mu.Unlock()
	l.observeState(language, state)
}
