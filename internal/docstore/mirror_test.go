package docstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type named struct {
	ID   string
	Name string
}

func decodeNamed(doc Document) (named, error) {
	name := String(doc["name"])
	if name == "" {
		return named{}, errors.New("name missing")
	}
	return named{ID: doc.ID(), Name: name}, nil
}

func TestMirrorFollowsPushedSnapshots(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := NewMemory()
	_, err := store.Create(ctx, CollectionSuppliers, Document{"name": "A"})
	require.NoError(t, err)

	mirror := NewMirror(store, CollectionSuppliers, decodeNamed, nil)
	require.NoError(t, mirror.Start(ctx))
	defer mirror.Stop()

	select {
	case <-mirror.Ready():
	case <-time.After(time.Second):
		t.Fatal("mirror never became ready")
	}
	items, version := mirror.Snapshot()
	require.Len(t, items, 1)
	assert.Equal(t, "A", items[0].Name)
	assert.Equal(t, uint64(1), version)

	id, err := store.Create(ctx, CollectionSuppliers, Document{"name": "B"})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		items, _ := mirror.Snapshot()
		return len(items) == 2
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, store.Delete(ctx, CollectionSuppliers, id))
	require.Eventually(t, func() bool {
		items, _ := mirror.Snapshot()
		return len(items) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestMirrorSkipsUndecodableDocuments(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	_, err := store.Create(ctx, CollectionSuppliers, Document{"name": "ok"})
	require.NoError(t, err)
	_, err = store.Create(ctx, CollectionSuppliers, Document{"country": "no name"})
	require.NoError(t, err)

	mirror := NewMirror(store, CollectionSuppliers, decodeNamed, nil)
	require.NoError(t, mirror.Start(ctx))
	defer mirror.Stop()
	<-mirror.Ready()

	items, _ := mirror.Snapshot()
	require.Len(t, items, 1)
	assert.Equal(t, "ok", items[0].Name)
}

func TestMirrorKeepsLastStateOnError(t *testing.T) {
	mirror := NewMirror(NewMemory(), CollectionSuppliers, decodeNamed, nil)
	mirror.apply(Snapshot{Docs: []Document{{FieldID: "1", "name": "A"}}})

	mirror.fail(errors.New("connection reset"))

	items, _ := mirror.Snapshot()
	require.Len(t, items, 1)
	require.EqualError(t, mirror.Err(), "connection reset")

	mirror.apply(Snapshot{Docs: []Document{}})
	items, _ = mirror.Snapshot()
	assert.Empty(t, items)
	assert.NoError(t, mirror.Err())
}

func TestMirrorNotifiesListeners(t *testing.T) {
	mirror := NewMirror(NewMemory(), CollectionSuppliers, decodeNamed, nil)
	var got []named
	mirror.OnUpdate(func(items []named) { got = items })

	mirror.apply(Snapshot{Docs: []Document{{FieldID: "1", "name": "A"}, {FieldID: "2", "name": "B"}}})
	require.Len(t, got, 2)
	assert.Equal(t, "B", got[1].Name)
}
