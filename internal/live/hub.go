// Package live はコレクション全体の最新スナップショットを購読者へ配信する。
// ストアの変更通知を受けるたびに全件を読み直し、置き換え型のスナップショットとして送る。
package live

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hitoshi/tweetbridge/internal/repository"
)

// Loader はコレクション全件を読み込む。
type Loader[T any] func(ctx context.Context) ([]T, error)

// Hub は1コレクション分のライブ射影。全接続で共有する。
// 配信するスライスは購読者間で共有されるため、購読者は変更してはならない。
type Hub[T any] struct {
	collection string
	load       Loader[T]
	notifier   repository.ChangeNotifier

	// OnSnapshot はスナップショットを1件配信するたびに呼ばれる。nilでもよい。
	OnSnapshot func(collection string)

	mu      sync.Mutex
	subs    map[int]*subscriber[T]
	nextID  int
	dirty   bool
	kick    chan struct{}
	started bool
}

// NewHub はHubを生成する。Startを呼ぶまで変更通知は受け取らない。
func NewHub[T any](collection string, load Loader[T], notifier repository.ChangeNotifier) *Hub[T] {
	return &Hub[T]{
		collection: collection,
		load:       load,
		notifier:   notifier,
		subs:       make(map[int]*subscriber[T]),
		kick:       make(chan struct{}, 1),
	}
}

// Collection はHubが担当するコレクション名を返す。
func (h *Hub[T]) Collection() string { return h.collection }

// Start は変更通知の購読を開始し、ctxが終了するまで配信ループを回す。
func (h *Hub[T]) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.started {
		h.mu.Unlock()
		return fmt.Errorf("hub %s already started", h.collection)
	}
	h.started = true
	h.mu.Unlock()

	changes, err := h.notifier.Watch(ctx, h.collection)
	if err != nil {
		return fmt.Errorf("failed to watch %s: %w", h.collection, err)
	}

	go h.loop(ctx, changes)
	return nil
}

func (h *Hub[T]) loop(ctx context.Context, changes <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case _, ok := <-changes:
			if !ok {
				h.closeAll()
				return
			}
			h.mu.Lock()
			h.dirty = true
			h.mu.Unlock()
		case <-h.kick:
		}
		h.flush(ctx)
	}
}

// flush は全件を1回読み込み、配信が必要な購読者へ送る。
// 変更があれば全員へ、新規購読だけなら新規購読者へのみ送る。
func (h *Hub[T]) flush(ctx context.Context) {
	h.mu.Lock()
	dirty := h.dirty
	h.dirty = false
	var targets []*subscriber[T]
	for _, s := range h.subs {
		if dirty || s.needsInitial {
			s.needsInitial = false
			targets = append(targets, s)
		}
	}
	h.mu.Unlock()

	if len(targets) == 0 {
		return
	}

	items, err := h.load(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Error("failed to reload collection",
			slog.String("collection", h.collection),
			slog.String("error", err.Error()),
		)
		// 次の通知か新規購読で読み直す
		h.mu.Lock()
		for _, s := range targets {
			s.needsInitial = true
		}
		h.mu.Unlock()
		for _, s := range targets {
			s.post(event[T]{err: err})
		}
		return
	}

	for _, s := range targets {
		s.post(event[T]{items: items})
		if h.OnSnapshot != nil {
			h.OnSnapshot(h.collection)
		}
	}
}

// Subscribe は購読を登録し、解除関数を返す。
// 登録直後に現在の全件が1回配信され、以降は変更のたびに全件が配信される。
// 読み込みに失敗した場合はonErrが呼ばれ、購読は継続する。
func (h *Hub[T]) Subscribe(fn func([]T), onErr func(error)) (unsubscribe func()) {
	s := newSubscriber(fn, onErr)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = s
	h.mu.Unlock()

	go s.run()

	select {
	case h.kick <- struct{}{}:
	default:
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			s.stop()
		})
	}
}

// Subscribers は現在の購読者数を返す。
func (h *Hub[T]) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub[T]) closeAll() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[int]*subscriber[T])
	h.mu.Unlock()
	for _, s := range subs {
		s.stop()
	}
}
