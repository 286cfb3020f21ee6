package realtime

import (
	"sync"

	"github.com/hitoshi/newsbrief/internal/model"
)

// defaultClientBuffer はクライアントごとのイベントバッファ数。
const defaultClientBuffer = 8

// Hub は言語ごとにイベントをSSEクライアントへ配信する。
// バッファが満杯のクライアントへのイベントは破棄する。
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[chan model.CuratedInsertEvent]struct{}
	buffer  int
	closed  bool
}

// NewHub はHubを生成する。buffer が0以下の場合は既定値を使う。
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultClientBuffer
	}
	return &Hub{
		clients: make(map[string]map[chan model.CuratedInsertEvent]struct{}),
		buffer:  buffer,
	}
}

// Subscribe は言語のイベントを受け取るチャネルと、購読を解除する関数を返す。
// 解除関数は複数回呼んでも安全。Close後は閉じたチャネルを返す。
func (h *Hub) Subscribe(language string) (<-chan model.CuratedInsertEvent, func()) {
	ch := make(chan model.CuratedInsertEvent, h.buffer)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	set, ok := h.clients[language]
	if !ok {
		set = make(map[chan model.CuratedInsertEvent]struct{})
		h.clients[language] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		// Closeで既に閉じられている場合は何もしない
		if _, ok := h.clients[language][ch]; !ok {
			return
		}
		delete(h.clients[language], ch)
		if len(h.clients[language]) == 0 {
			delete(h.clients, language)
		}
		close(ch)
	}
}

// Close はすべての購読チャネルを閉じ、以降の購読を受け付けない。
// SSEストリームはチャネルが閉じられると終了する。
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for language, set := range h.clients {
		for ch := range set {
			close(ch)
		}
		delete(h.clients, language)
	}
}

// Publish はイベントの言語を購読しているクライアントへ配信し、配信できた数を返す。
func (h *Hub) Publish(event model.CuratedInsertEvent) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for ch := range h.clients[event.Language] {
		select {
		case ch <- event:
			delivered++
		default:
		}
	}
	return delivered
}

// Clients は言語の購読クライアント数を返す。
func (h *Hub) Clients(language string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[language])
}
