package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anfrage-erp/anfrage/internal/docstore"
)

type named struct {
	Name string `json:"name"`
}

func decodeNamed(doc docstore.Document) (named, error) {
	return named{Name: docstore.String(doc["name"])}, nil
}

type decodedFrame struct {
	Collection string  `json:"collection"`
	Version    uint64  `json:"version"`
	Items      []named `json:"items"`
}

func startFeed(t *testing.T) (*docstore.Memory, *Hub, *httptest.Server) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	store := docstore.NewMemory()
	_, err := store.Create(ctx, docstore.CollectionSuppliers, docstore.Document{"name": "Acme"})
	require.NoError(t, err)

	mirror := docstore.NewMirror(store, docstore.CollectionSuppliers, decodeNamed, nil)
	require.NoError(t, mirror.Start(ctx))
	t.Cleanup(mirror.Stop)
	<-mirror.Ready()

	hub := NewHub(nil)
	Attach(hub, docstore.CollectionSuppliers, mirror)

	r := chi.NewRouter()
	NewHandler(hub, nil, func(*http.Request) bool { return true }).MountRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return store, hub, srv
}

func readFrame(t *testing.T, conn *websocket.Conn) decodedFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var f decodedFrame
	require.NoError(t, json.Unmarshal(data, &f))
	return f
}

func TestFeedSendsSnapshotOnConnectAndOnChange(t *testing.T) {
	store, hub, srv := startFeed(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/" + docstore.CollectionSuppliers

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	first := readFrame(t, conn)
	assert.Equal(t, docstore.CollectionSuppliers, first.Collection)
	require.Len(t, first.Items, 1)
	assert.Equal(t, "Acme", first.Items[0].Name)

	require.Eventually(t, func() bool { return hub.Subscribers(docstore.CollectionSuppliers) == 1 }, time.Second, 10*time.Millisecond)

	_, err = store.Create(context.Background(), docstore.CollectionSuppliers, docstore.Document{"name": "Bolt"})
	require.NoError(t, err)

	next := readFrame(t, conn)
	assert.Len(t, next.Items, 2)
	assert.Greater(t, next.Version, first.Version)
}

func TestFeedUnknownCollection(t *testing.T) {
	_, _, srv := startFeed(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/invoices"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestFeedUnregistersClosedClients(t *testing.T) {
	_, hub, srv := startFeed(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/" + docstore.CollectionSuppliers

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	readFrame(t, conn)
	require.Eventually(t, func() bool { return hub.Subscribers(docstore.CollectionSuppliers) == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.Subscribers(docstore.CollectionSuppliers) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestBroadcastDropsSlowClients(t *testing.T) {
	hub := NewHub(nil)
	hub.topics["t"] = func() (any, uint64) { return []named{}, 1 }
	c := hub.register("t")
	for i := 0; i < cap(c.send)+1; i++ {
		hub.Broadcast("t")
	}
	assert.Equal(t, 0, hub.Subscribers("t"))
	_, open := <-c.send
	for open {
		_, open = <-c.send
	}
}
