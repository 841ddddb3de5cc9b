package docstore

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Memory is an in-process Gateway. It keeps time.Time as its native temporal type.
type Memory struct {
	mu       sync.RWMutex
	data     map[string]map[string]Document
	counters map[string]int64
	subs     *registry
	closed   bool
}

// NewMemory constructs an empty in-memory gateway.
func NewMemory() *Memory {
	return &Memory{
		data:     make(map[string]map[string]Document),
		counters: make(map[string]int64),
		subs:     newRegistry(),
	}
}

// Create stores doc and returns its id. A non-empty "id" field is used as identity.
func (m *Memory) Create(ctx context.Context, collection string, doc Document) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := doc.ID()
	if id == "" {
		id = uuid.NewString()
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", ErrClosed
	}
	coll := m.collection(collection)
	if _, exists := coll[id]; exists {
		m.mu.Unlock()
		return "", ErrDuplicate
	}
	coll[id] = cloneDocument(stripID(doc))
	m.notifyLocked(collection, id)
	m.mu.Unlock()

	return id, nil
}

// Get returns a copy of the document.
func (m *Memory) Get(ctx context.Context, collection, id string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.data[collection][id]
	if !ok {
		return nil, ErrNotFound
	}
	return withID(doc, id), nil
}

// Update merges partial into the stored document.
func (m *Memory) Update(ctx context.Context, collection, id string, partial Document) error {
	return m.UpdateIf(ctx, collection, id, nil, partial)
}

// UpdateIf merges partial only when every field in expect equals the stored value.
func (m *Memory) UpdateIf(ctx context.Context, collection, id string, expect, partial Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	doc, ok := m.data[collection][id]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	for field, want := range expect {
		if !equalValues(doc[field], want) {
			m.mu.Unlock()
			return ErrConflict
		}
	}
	for k, v := range stripID(partial) {
		doc[k] = clone(v)
	}
	m.notifyLocked(collection, id)
	m.mu.Unlock()

	return nil
}

// Delete removes the document.
func (m *Memory) Delete(ctx context.Context, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	if _, ok := m.data[collection][id]; !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	delete(m.data[collection], id)
	m.notifyLocked(collection, id)
	m.mu.Unlock()

	return nil
}

// Query filters, orders and limits a collection.
func (m *Memory) Query(ctx context.Context, collection string, q Query) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateQuery(q); err != nil {
		return nil, err
	}
	m.mu.RLock()
	docs := m.snapshotLocked(collection, "")
	m.mu.RUnlock()

	out := docs[:0]
	for _, doc := range docs {
		if matchesAll(doc, q.Where) {
			out = append(out, doc)
		}
	}
	if q.OrderBy != "" {
		sort.SliceStable(out, func(i, j int) bool {
			c := compareValues(out[i][q.OrderBy], out[j][q.OrderBy])
			if q.Desc {
				return c > 0
			}
			return c < 0
		})
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// Subscribe registers a listener and immediately delivers the current snapshot.
func (m *Memory) Subscribe(ctx context.Context, target Target, onChange func(Snapshot), onError func(error)) (func(), error) {
	if err := validateTarget(target); err != nil {
		return nil, err
	}
	// Registering under the write lock keeps writes from slipping between the initial
	// snapshot and the first notification.
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	sub := newSubscription(target, onChange, onError)
	cancel := m.subs.add(sub)
	sub.push(Snapshot{Collection: target.Collection, ID: target.ID, Docs: m.snapshotLocked(target.Collection, target.ID)})
	m.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-sub.done:
		}
	}()
	return cancel, nil
}

// Next atomically advances the named counter to max(current, floor) + 1.
func (m *Memory) Next(ctx context.Context, counter string, floor int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	current := m.counters[counter]
	if floor > current {
		current = floor
	}
	current++
	m.counters[counter] = current
	return current, nil
}

// Close stops all subscriptions.
func (m *Memory) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.subs.closeAll()
	return nil
}

func (m *Memory) collection(name string) map[string]Document {
	coll, ok := m.data[name]
	if !ok {
		coll = make(map[string]Document)
		m.data[name] = coll
	}
	return coll
}

// snapshotLocked copies the documents addressed by collection and optional id,
// ordered by id. Callers must hold m.mu.
func (m *Memory) snapshotLocked(collection, id string) []Document {
	coll := m.data[collection]
	if id != "" {
		doc, ok := coll[id]
		if !ok {
			return []Document{}
		}
		return []Document{withID(doc, id)}
	}
	ids := make([]string, 0, len(coll))
	for docID := range coll {
		ids = append(ids, docID)
	}
	sort.Strings(ids)
	out := make([]Document, 0, len(ids))
	for _, docID := range ids {
		out = append(out, withID(coll[docID], docID))
	}
	return out
}

// notifyLocked pushes fresh snapshots to matching subscribers. Callers hold the write
// lock, so pushes reach each subscriber in write order.
func (m *Memory) notifyLocked(collection, id string) {
	for _, sub := range m.subs.matching(collection, id) {
		docs := m.snapshotLocked(collection, sub.target.ID)
		sub.push(Snapshot{Collection: collection, ID: sub.target.ID, Docs: docs})
	}
}

func withID(doc Document, id string) Document {
	out := cloneDocument(doc)
	out[FieldID] = id
	return out
}

func matchesAll(doc Document, filters []Filter) bool {
	for _, f := range filters {
		if !equalValues(doc[f.Field], f.Value) {
			return false
		}
	}
	return true
}

var _ Gateway = (*Memory)(nil)
