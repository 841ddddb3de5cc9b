package docstore

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCreateGetUpdateDelete(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	id, err := store.Create(ctx, CollectionSuppliers, Document{"name": "Acme AG"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	doc, err := store.Get(ctx, CollectionSuppliers, id)
	require.NoError(t, err)
	assert.Equal(t, id, doc.ID())
	assert.Equal(t, "Acme AG", doc["name"])

	require.NoError(t, store.Update(ctx, CollectionSuppliers, id, Document{"country": "Schweiz"}))
	doc, err = store.Get(ctx, CollectionSuppliers, id)
	require.NoError(t, err)
	assert.Equal(t, "Acme AG", doc["name"])
	assert.Equal(t, "Schweiz", doc["country"])

	require.NoError(t, store.Delete(ctx, CollectionSuppliers, id))
	_, err = store.Get(ctx, CollectionSuppliers, id)
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, store.Delete(ctx, CollectionSuppliers, id), ErrNotFound)
	require.ErrorIs(t, store.Update(ctx, CollectionSuppliers, id, Document{"x": 1}), ErrNotFound)
}

func TestMemoryCreateWithExplicitID(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	id, err := store.Create(ctx, CollectionIdempotency, Document{FieldID: "requests:abc"})
	require.NoError(t, err)
	assert.Equal(t, "requests:abc", id)

	_, err = store.Create(ctx, CollectionIdempotency, Document{FieldID: "requests:abc"})
	require.ErrorIs(t, err, ErrDuplicate)
}

func TestMemoryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	items := []any{map[string]any{"designation": "Laptop"}}
	id, err := store.Create(ctx, CollectionRequests, Document{"items": items})
	require.NoError(t, err)

	items[0].(map[string]any)["designation"] = "mutated"
	doc, err := store.Get(ctx, CollectionRequests, id)
	require.NoError(t, err)
	stored := doc["items"].([]any)[0].(map[string]any)
	assert.Equal(t, "Laptop", stored["designation"])

	stored["designation"] = "mutated again"
	doc, err = store.Get(ctx, CollectionRequests, id)
	require.NoError(t, err)
	assert.Equal(t, "Laptop", doc["items"].([]any)[0].(map[string]any)["designation"])
}

func TestMemoryUpdateIf(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	id, err := store.Create(ctx, CollectionRequests, Document{"status": "Entwurf", "notes": "keep"})
	require.NoError(t, err)

	err = store.UpdateIf(ctx, CollectionRequests, id, Document{"status": "Gesendet"}, Document{"status": "Abgeschlossen"})
	require.ErrorIs(t, err, ErrConflict)

	require.NoError(t, store.UpdateIf(ctx, CollectionRequests, id, Document{"status": "Entwurf"}, Document{"status": "Gesendet"}))
	doc, err := store.Get(ctx, CollectionRequests, id)
	require.NoError(t, err)
	assert.Equal(t, "Gesendet", doc["status"])
	assert.Equal(t, "keep", doc["notes"])
}

func TestMemoryQueryOrderLimitWhere(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	for i, status := range []string{"Entwurf", "Gesendet", "Entwurf"} {
		_, err := store.Create(ctx, CollectionRequests, Document{
			"n":         i,
			"status":    status,
			"createdAt": base.Add(time.Duration(i) * time.Hour),
		})
		require.NoError(t, err)
	}

	latest, err := store.Query(ctx, CollectionRequests, Query{OrderBy: "createdAt", Desc: true, Limit: 1})
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, 2, latest[0]["n"])

	drafts, err := store.Query(ctx, CollectionRequests, Query{Where: []Filter{{Field: "status", Value: "Entwurf"}}, OrderBy: "createdAt"})
	require.NoError(t, err)
	require.Len(t, drafts, 2)
	assert.Equal(t, 0, drafts[0]["n"])
	assert.Equal(t, 2, drafts[1]["n"])

	_, err = store.Query(ctx, CollectionRequests, Query{OrderBy: "createdAt; DROP"})
	require.ErrorIs(t, err, ErrInvalidField)
}

func TestMemoryNextIsAtomicAndRespectsFloor(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	n, err := store.Next(ctx, "requests", 42)
	require.NoError(t, err)
	assert.Equal(t, int64(43), n)

	n, err = store.Next(ctx, "requests", 42)
	require.NoError(t, err)
	assert.Equal(t, int64(44), n)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[int64]bool)
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := store.Next(ctx, "requests", 0)
			assert.NoError(t, err)
			mu.Lock()
			seen[v] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 50)
}

func TestMemorySubscribeDeliversFullSnapshots(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := NewMemory()

	updates := make(chan Snapshot, 16)
	unsubscribe, err := store.Subscribe(ctx, Target{Collection: CollectionSuppliers}, func(s Snapshot) {
		updates <- s
	}, nil)
	require.NoError(t, err)
	defer unsubscribe()

	first := waitSnapshot(t, updates)
	assert.Empty(t, first.Docs)

	_, err = store.Create(ctx, CollectionSuppliers, Document{"name": "A"})
	require.NoError(t, err)
	_, err = store.Create(ctx, CollectionSuppliers, Document{"name": "B"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		select {
		case s := <-updates:
			return len(s.Docs) == 2
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}

func TestMemorySubscribeSingleDocument(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	id, err := store.Create(ctx, CollectionRequests, Document{"status": "Entwurf"})
	require.NoError(t, err)
	_, err = store.Create(ctx, CollectionRequests, Document{"status": "Entwurf"})
	require.NoError(t, err)

	updates := make(chan Snapshot, 16)
	unsubscribe, err := store.Subscribe(ctx, Target{Collection: CollectionRequests, ID: id}, func(s Snapshot) {
		updates <- s
	}, nil)
	require.NoError(t, err)
	defer unsubscribe()

	first := waitSnapshot(t, updates)
	require.Len(t, first.Docs, 1)
	assert.Equal(t, id, first.Docs[0].ID())

	require.NoError(t, store.Delete(ctx, CollectionRequests, id))
	require.Eventually(t, func() bool {
		select {
		case s := <-updates:
			return len(s.Docs) == 0
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}

func waitSnapshot(t *testing.T, ch <-chan Snapshot) Snapshot {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(time.Second):
		t.Fatal("no snapshot delivered")
	}
	return Snapshot{}
}

func TestMemorySubscribeSettlesOnLatestUnderContention(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	for round := 0; round < 50; round++ {
		collection := fmt.Sprintf("contention-%d", round)
		var mu sync.Mutex
		last := -1
		cancel, err := store.Subscribe(ctx, Target{Collection: collection}, func(s Snapshot) {
			mu.Lock()
			last = len(s.Docs)
			mu.Unlock()
		}, nil)
		require.NoError(t, err)

		var wg sync.WaitGroup
		for i := 0; i < 32; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := store.Create(ctx, collection, Document{"n": i})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		want := 32
		require.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return last == want
		}, time.Second, time.Millisecond, "round %d", round)
		cancel()
	}
}
