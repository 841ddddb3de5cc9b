package docstore

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Mirror is the read-side cache of one collection. Its contents change only when the
// gateway pushes a snapshot, and every push replaces the previous state wholesale.
type Mirror[T any] struct {
	gateway    Gateway
	collection string
	decode     func(Document) (T, error)
	logger     *slog.Logger

	mu        sync.RWMutex
	items     []T
	version   uint64
	lastErr   error
	ready     chan struct{}
	readyOnce sync.Once
	listeners []func([]T)
	stop      func()
}

// NewMirror creates a mirror of collection using decode at the read boundary.
func NewMirror[T any](gateway Gateway, collection string, decode func(Document) (T, error), logger *slog.Logger) *Mirror[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirror[T]{
		gateway:    gateway,
		collection: collection,
		decode:     decode,
		logger:     logger,
		ready:      make(chan struct{}),
	}
}

// Start subscribes to the collection. It returns once the subscription is registered;
// use Ready to wait for the first snapshot.
func (m *Mirror[T]) Start(ctx context.Context) error {
	if m.gateway == nil {
		return errors.New("docstore: mirror gateway missing")
	}
	stop, err := m.gateway.Subscribe(ctx, Target{Collection: m.collection}, m.apply, m.fail)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.stop = stop
	m.mu.Unlock()
	return nil
}

// Stop cancels the subscription.
func (m *Mirror[T]) Stop() {
	m.mu.Lock()
	stop := m.stop
	m.stop = nil
	m.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// Ready is closed after the first snapshot has been applied.
func (m *Mirror[T]) Ready() <-chan struct{} {
	return m.ready
}

// Snapshot returns a copy of the current items and the version that produced them.
func (m *Mirror[T]) Snapshot() ([]T, uint64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]T, len(m.items))
	copy(out, m.items)
	return out, m.version
}

// Err returns the last push error. The items keep their last known state.
func (m *Mirror[T]) Err() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

// OnUpdate registers fn to run after every applied snapshot.
func (m *Mirror[T]) OnUpdate(fn func([]T)) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

func (m *Mirror[T]) apply(snap Snapshot) {
	items := make([]T, 0, len(snap.Docs))
	for _, doc := range snap.Docs {
		item, err := m.decode(doc)
		if err != nil {
			m.logger.Warn("mirror skipped document",
				slog.String("collection", m.collection),
				slog.String("id", doc.ID()),
				slog.Any("error", err))
			continue
		}
		items = append(items, item)
	}

	m.mu.Lock()
	m.items = items
	m.version++
	m.lastErr = nil
	listeners := append([]func([]T){}, m.listeners...)
	m.mu.Unlock()
	m.readyOnce.Do(func() { close(m.ready) })

	for _, fn := range listeners {
		out := make([]T, len(items))
		copy(out, items)
		fn(out)
	}
}

func (m *Mirror[T]) fail(err error) {
	m.logger.Warn("mirror subscription error", slog.String("collection", m.collection), slog.Any("error", err))
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}
