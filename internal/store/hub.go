package store

import (
	"sync"
)

// Hub drives subscriptions for backends without native listeners. Each watcher
// owns a goroutine and a one-slot signal channel: bursts of changes collapse into
// a single re-read, and a slow callback never blocks writers.
type Hub struct {
	mu       sync.Mutex
	next     uint64
	watchers map[uint64]*hubWatcher
	closed   bool
}

type hubWatcher struct {
	collection string
	signal     chan struct{}
	done       chan struct{}
	once       sync.Once
}

func NewHub() *Hub {
	return &Hub{watchers: make(map[uint64]*hubWatcher)}
}

// Add registers emit for collection and schedules the initial emission.
// emit runs on the watcher goroutine, never concurrently with itself.
func (h *Hub) Add(collection string, emit func()) (Cancel, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrClosed
	}
	h.next++
	id := h.next
	w := &hubWatcher{
		collection: collection,
		signal:     make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	h.watchers[id] = w
	h.mu.Unlock()

	w.signal <- struct{}{}
	go w.loop(emit)

	return func() {
		h.mu.Lock()
		delete(h.watchers, id)
		h.mu.Unlock()
		w.stop()
	}, nil
}

// Notify wakes every watcher on collection.
func (h *Hub) Notify(collection string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, w := range h.watchers {
		if w.collection != collection {
			continue
		}
		select {
		case w.signal <- struct{}{}:
		default:
		}
	}
}

// Len reports the number of live watchers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.watchers)
}

func (h *Hub) Close() {
	h.mu.Lock()
	watchers := h.watchers
	h.watchers = make(map[uint64]*hubWatcher)
	h.closed = true
	h.mu.Unlock()

	for _, w := range watchers {
		w.stop()
	}
}

func (w *hubWatcher) stop() {
	w.once.Do(func() { close(w.done) })
}

func (w *hubWatcher) loop(emit func()) {
	for {
		select {
		case <-w.done:
			return
		case <-w.signal:
		}
		select {
		case <-w.done:
			return
		default:
		}
		emit()
	}
}
