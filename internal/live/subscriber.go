package live

import "sync"

type event[T any] struct {
	items []T
	err   error
}

// subscriber は1件分のメールボックスを持つ。未配信の古いスナップショットは新しいもので上書きされる。
type subscriber[T any] struct {
	fn    func([]T)
	onErr func(error)

	needsInitial bool // Hub.muで保護

	mu      sync.Mutex
	pending *event[T]
	notify  chan struct{}
	done    chan struct{}
	once    sync.Once
}

func newSubscriber[T any](fn func([]T), onErr func(error)) *subscriber[T] {
	return &subscriber[T]{
		fn:           fn,
		onErr:        onErr,
		needsInitial: true,
		notify:       make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
}

func (s *subscriber[T]) post(ev event[T]) {
	s.mu.Lock()
	s.pending = &ev
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *subscriber[T]) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.notify:
		}

		s.mu.Lock()
		ev := s.pending
		s.pending = nil
		s.mu.Unlock()

		if ev == nil {
			continue
		}
		select {
		case <-s.done:
			return
		default:
		}

		if ev.err != nil {
			if s.onErr != nil {
				s.onErr(ev.err)
			}
			continue
		}
		s.fn(ev.items)
	}
}

func (s *subscriber[T]) stop() {
	s.once.Do(func() { close(s.done) })
}
