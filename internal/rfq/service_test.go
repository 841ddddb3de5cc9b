package rfq

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anfrage-erp/anfrage/internal/docstore"
	"github.com/anfrage-erp/anfrage/internal/platform/httpx"
	"github.com/anfrage-erp/anfrage/internal/shared"
)

type staticSuppliers map[string]SupplierSnapshot

func (s staticSuppliers) Snapshot(_ context.Context, id string) (SupplierSnapshot, error) {
	snap, ok := s[id]
	if !ok {
		return SupplierSnapshot{}, ErrSupplierNotFound
	}
	return snap, nil
}

var acme = SupplierSnapshot{
	ID:            "sup-1",
	Name:          "Acme Bürobedarf AG",
	ContactPerson: "Erika Muster",
	Email:         "erika@acme.example",
	Phone:         "+41 71 000 00 00",
	Address:       "Hauptstrasse 1\n8280 Kreuzlingen",
	Country:       "Schweiz",
}

func newTestService(t *testing.T) (*Service, docstore.Gateway) {
	t.Helper()
	store := docstore.NewMemory()
	svc := NewService(store, staticSuppliers{acme.ID: acme}, shared.NewIdempotencyStore(store), nil)
	svc.WithClock(fixedClock(time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)))
	return svc, store
}

func TestCreateRoundTripsItems(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	created, err := svc.Create(ctx, Input{
		SupplierID: acme.ID,
		Items: []ItemInput{
			{Designation: "Laptop", Quantity: 10},
			{Designation: "Dockingstation", Quantity: 10},
		},
	})
	require.NoError(t, err)

	got, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, got.Items, 2)
	assert.Equal(t, "Laptop", got.Items[0].Designation)
	assert.Equal(t, 10.0, got.Items[0].Quantity)
	assert.NotEqual(t, got.Items[0].ID, got.Items[1].ID)
	assert.Equal(t, StatusDraft, got.Status)
	assert.Equal(t, "Anfrage für Acme Bürobedarf AG", got.Title)
	assert.Equal(t, acme, got.Supplier)
	assert.Nil(t, got.ValidUntil)
}

func TestCreateAppliesDefaults(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	req, err := svc.Create(ctx, Input{Items: []ItemInput{{Designation: "  "}}})
	require.NoError(t, err)
	assert.Equal(t, "Anfrage für Unbekannter Lieferant", req.Title)
	assert.Equal(t, PlaceholderDesignation, req.Items[0].Designation)
	assert.Equal(t, 0.0, req.Items[0].Quantity)
	assert.True(t, req.Supplier.Empty())
}

func TestCreateStoresCoercedQuantityAsIs(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	req, err := svc.Create(ctx, Input{Items: []ItemInput{{Designation: "Gutschrift", Quantity: -3}}})
	require.NoError(t, err)
	got, err := svc.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, -3.0, got.Items[0].Quantity)
}

func TestCreateRejectsInvalidInputBeforeWriting(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)

	_, err := svc.Create(ctx, Input{Contact: ContactInput{Email: "not-an-email"}})
	var fields httpx.FieldErrors
	require.ErrorAs(t, err, &fields)
	assert.Contains(t, fields, "contact.email")

	_, err = svc.Create(ctx, Input{SupplierID: "missing"})
	require.ErrorIs(t, err, ErrValidation)

	docs, err := store.Query(ctx, docstore.CollectionRequests, docstore.Query{})
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestCreateWritesNothingWhenNumberingFails(t *testing.T) {
	ctx := context.Background()
	mem := docstore.NewMemory()
	svc := NewService(failingQueryStore{mem}, nil, nil, nil)

	_, err := svc.Create(ctx, Input{})
	require.ErrorIs(t, err, ErrNumberGeneration)
	docs, err := mem.Query(ctx, docstore.CollectionRequests, docstore.Query{})
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestMarkSentFromDraft(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	created, err := svc.Create(ctx, Input{SupplierID: acme.ID, Notes: "Bitte bis Ende Monat", Items: []ItemInput{{Designation: "Laptop", Quantity: 1}}})
	require.NoError(t, err)
	before, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)

	_, err = svc.MarkSent(ctx, created.ID)
	require.NoError(t, err)

	after, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSent, after.Status)
	before.Status = StatusSent
	assert.Equal(t, before, after)
}

func TestMarkSentOnCompletedIsRejected(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	created, err := svc.Create(ctx, Input{})
	require.NoError(t, err)
	_, err = svc.MarkSent(ctx, created.ID)
	require.NoError(t, err)
	_, err = svc.MarkCompleted(ctx, created.ID)
	require.NoError(t, err)

	_, err = svc.MarkSent(ctx, created.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)

	got, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
}

func TestMarkCompletedRequiresSent(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	created, err := svc.Create(ctx, Input{})
	require.NoError(t, err)

	_, err = svc.MarkCompleted(ctx, created.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, err = svc.MarkSent(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestConcurrentStatusChangeIsInvalidTransition(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)
	created, err := svc.Create(ctx, Input{})
	require.NoError(t, err)

	// Another writer moved the request on between read and write.
	require.NoError(t, store.Update(ctx, docstore.CollectionRequests, created.ID, docstore.Document{"status": string(StatusSent)}))
	err = svc.repo.SetStatus(ctx, created.ID, StatusDraft, StatusSent)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestUnknownStoredStatusTransitionsAsDraft(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)
	created := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	legacy, err := store.Create(ctx, docstore.CollectionRequests, docstore.Document{
		"requestNumber": "2024-00001",
		"status":        "Offen",
		"createdAt":     created,
	})
	require.NoError(t, err)
	missing, err := store.Create(ctx, docstore.CollectionRequests, docstore.Document{
		"requestNumber": "2024-00002",
		"createdAt":     created,
	})
	require.NoError(t, err)

	for _, id := range []string{legacy, missing} {
		got, err := svc.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, StatusDraft, got.Status)

		sent, err := svc.MarkSent(ctx, id)
		require.NoError(t, err, id)
		assert.Equal(t, StatusSent, sent.Status)

		stored, err := store.Get(ctx, docstore.CollectionRequests, id)
		require.NoError(t, err)
		assert.Equal(t, string(StatusSent), stored["status"])
	}
}

func TestUnknownStoredStatusStillGuardsConcurrentWrites(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)
	id, err := store.Create(ctx, docstore.CollectionRequests, docstore.Document{
		"requestNumber": "2024-00003",
		"status":        "Offen",
		"createdAt":     time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	current, err := svc.Get(ctx, id)
	require.NoError(t, err)

	require.NoError(t, store.Update(ctx, docstore.CollectionRequests, id, docstore.Document{"status": string(StatusCompleted)}))
	err = svc.repo.setStatusFrom(ctx, id, current.recordedStatus(), StatusSent)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestUpdateKeepsProtectedFields(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	until := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	created, err := svc.Create(ctx, Input{
		ValidUntil: &until,
		Items:      []ItemInput{{Designation: "Laptop", Quantity: 2}},
	})
	require.NoError(t, err)
	_, err = svc.MarkSent(ctx, created.ID)
	require.NoError(t, err)

	updated, err := svc.Update(ctx, created.ID, Input{
		SupplierID: acme.ID,
		Items: []ItemInput{
			{ID: created.Items[0].ID, Designation: "Laptop 14\"", Quantity: 3},
			{Designation: "Maus", Quantity: 3},
		},
		Notes: "Neu",
	})
	require.NoError(t, err)

	assert.Equal(t, created.RequestNumber, updated.RequestNumber)
	assert.True(t, created.CreatedAt.Equal(updated.CreatedAt))
	assert.Equal(t, StatusSent, updated.Status)
	assert.Equal(t, "Anfrage für Acme Bürobedarf AG", updated.Title)
	assert.Equal(t, created.Items[0].ID, updated.Items[0].ID)
	assert.NotEmpty(t, updated.Items[1].ID)
	assert.Nil(t, updated.ValidUntil, "absent validUntil clears the deadline")
	assert.Equal(t, "Neu", updated.Notes)
}

func TestRepositoryUpdateStripsStatus(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	created, err := svc.Create(ctx, Input{})
	require.NoError(t, err)

	err = svc.repo.Update(ctx, created.ID, docstore.Document{
		"status":        string(StatusCompleted),
		"requestNumber": "1999-99999",
		"notes":         "changed",
	})
	require.NoError(t, err)

	got, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDraft, got.Status)
	assert.Equal(t, created.RequestNumber, got.RequestNumber)
	assert.Equal(t, "changed", got.Notes)
}

func TestSupplierSnapshotIsNotLive(t *testing.T) {
	ctx := context.Background()
	suppliers := staticSuppliers{acme.ID: acme}
	store := docstore.NewMemory()
	svc := NewService(store, suppliers, nil, nil)
	created, err := svc.Create(ctx, Input{SupplierID: acme.ID})
	require.NoError(t, err)

	renamed := acme
	renamed.Name = "Acme Holding"
	suppliers[acme.ID] = renamed

	got, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Acme Bürobedarf AG", got.Supplier.Name)
}

func TestUpdateKeepsSnapshotForSameSupplier(t *testing.T) {
	ctx := context.Background()
	suppliers := staticSuppliers{acme.ID: acme}
	svc := NewService(docstore.NewMemory(), suppliers, nil, nil)
	created, err := svc.Create(ctx, Input{SupplierID: acme.ID})
	require.NoError(t, err)

	renamed := acme
	renamed.Name = "Acme Holding"
	suppliers[acme.ID] = renamed

	updated, err := svc.Update(ctx, created.ID, Input{SupplierID: acme.ID, Notes: "Bitte bis Freitag"})
	require.NoError(t, err)
	assert.Equal(t, "Acme Bürobedarf AG", updated.Supplier.Name)
	assert.Equal(t, created.Title, updated.Title)
	assert.Equal(t, "Bitte bis Freitag", updated.Notes)

	delete(suppliers, acme.ID)
	updated, err = svc.Update(ctx, created.ID, Input{SupplierID: " " + acme.ID + " ", Notes: "Neue Frist"})
	require.NoError(t, err)
	assert.Equal(t, "Acme Bürobedarf AG", updated.Supplier.Name)
	assert.Equal(t, "Neue Frist", updated.Notes)
}

func TestUpdateResnapshotsOnSupplierChange(t *testing.T) {
	ctx := context.Background()
	other := acme
	other.ID = "sup-2"
	other.Name = "Beta Werkzeuge GmbH"
	suppliers := staticSuppliers{acme.ID: acme, other.ID: other}
	svc := NewService(docstore.NewMemory(), suppliers, nil, nil)
	created, err := svc.Create(ctx, Input{SupplierID: acme.ID})
	require.NoError(t, err)

	updated, err := svc.Update(ctx, created.ID, Input{SupplierID: other.ID})
	require.NoError(t, err)
	assert.Equal(t, "Beta Werkzeuge GmbH", updated.Supplier.Name)
	assert.Equal(t, "Anfrage für Beta Werkzeuge GmbH", updated.Title)

	cleared, err := svc.Update(ctx, created.ID, Input{})
	require.NoError(t, err)
	assert.Empty(t, cleared.Supplier.ID)
	assert.Equal(t, "Anfrage für Unbekannter Lieferant", cleared.Title)

	_, err = svc.Update(ctx, created.ID, Input{SupplierID: "missing"})
	var fields httpx.FieldErrors
	require.ErrorAs(t, err, &fields)
	assert.Contains(t, fields, "supplierId")
}

func TestDeleteIsHard(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	created, err := svc.Create(ctx, Input{})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, created.ID))
	_, err = svc.Get(ctx, created.ID)
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, svc.Delete(ctx, created.ID), ErrNotFound)
}

func TestCreateIdempotentReplaysResult(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)

	first, replayed, err := svc.CreateIdempotent(ctx, "key-1", Input{Notes: "eins"})
	require.NoError(t, err)
	assert.False(t, replayed)

	second, replayed, err := svc.CreateIdempotent(ctx, "key-1", Input{Notes: "zwei"})
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, first.ID, second.ID)

	docs, err := store.Query(ctx, docstore.CollectionRequests, docstore.Query{})
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestItemIDsDistinctWithinOneMillisecond(t *testing.T) {
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	items := normalizeItems([]ItemInput{{Designation: "a"}, {Designation: "b"}, {Designation: "c"}}, at, false)
	seen := map[string]bool{}
	for _, it := range items {
		seen[it.ID] = true
	}
	assert.Len(t, seen, 3)
	assert.Equal(t, "ITEM-1735689600000-0", items[0].ID)
}
