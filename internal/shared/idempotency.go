package shared

import (
	"context"
	"errors"
	"time"

	"github.com/anfrage-erp/anfrage/internal/docstore"
)

// IdempotencyStore persists processed keys in the idempotency_keys collection.
type IdempotencyStore struct {
	store docstore.Gateway
	now   func() time.Time
}

// NewIdempotencyStore constructs the store.
func NewIdempotencyStore(store docstore.Gateway) *IdempotencyStore {
	return &IdempotencyStore{store: store, now: time.Now}
}

// ErrIdempotencyConflict indicates a duplicate key.
var ErrIdempotencyConflict = errors.New("idempotent request already processed")

func idempotencyID(key, module string) string {
	return module + ":" + key
}

// CheckAndInsert ensures key uniqueness per module.
func (s *IdempotencyStore) CheckAndInsert(ctx context.Context, key, module string) error {
	if s == nil || s.store == nil {
		return errors.New("idempotency store not initialised")
	}
	if key == "" {
		return errors.New("idempotency key required")
	}
	if module == "" {
		return errors.New("idempotency module required")
	}
	_, err := s.store.Create(ctx, docstore.CollectionIdempotency, docstore.Document{
		docstore.FieldID: idempotencyID(key, module),
		"key":            key,
		"module":         module,
		"createdAt":      s.now().UTC(),
	})
	if errors.Is(err, docstore.ErrDuplicate) {
		return ErrIdempotencyConflict
	}
	return err
}

// Complete records the result produced for key so replays can return it.
func (s *IdempotencyStore) Complete(ctx context.Context, key, module, result string) error {
	if s == nil || key == "" {
		return nil
	}
	return s.store.Update(ctx, docstore.CollectionIdempotency, idempotencyID(key, module), docstore.Document{"result": result})
}

// Result returns the recorded result for key. An empty string means the first call is
// still in progress or failed before completing.
func (s *IdempotencyStore) Result(ctx context.Context, key, module string) (string, error) {
	doc, err := s.store.Get(ctx, docstore.CollectionIdempotency, idempotencyID(key, module))
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", err
	}
	return docstore.String(doc["result"]), nil
}

// Cleanup removes entries older than retention.
func (s *IdempotencyStore) Cleanup(ctx context.Context, olderThan time.Duration) error {
	if s == nil {
		return nil
	}
	cutoff := s.now().Add(-olderThan)
	docs, err := s.store.Query(ctx, docstore.CollectionIdempotency, docstore.Query{OrderBy: "createdAt"})
	if err != nil {
		return err
	}
	for _, doc := range docs {
		created, ok := docstore.Time(doc["createdAt"])
		if ok && !created.Before(cutoff) {
			break
		}
		if err := s.store.Delete(ctx, docstore.CollectionIdempotency, doc.ID()); err != nil && !errors.Is(err, docstore.ErrNotFound) {
			return err
		}
	}
	return nil
}

// Delete removes a key, typically used to roll back failed processing.
func (s *IdempotencyStore) Delete(ctx context.Context, key, module string) error {
	if s == nil {
		return nil
	}
	if key == "" {
		return errors.New("idempotency key required")
	}
	err := s.store.Delete(ctx, docstore.CollectionIdempotency, idempotencyID(key, module))
	if errors.Is(err, docstore.ErrNotFound) {
		return nil
	}
	return err
}
