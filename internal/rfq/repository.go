package rfq

import (
	"context"
	"errors"
	"fmt"

	"github.com/anfrage-erp/anfrage/internal/docstore"
)

// protectedFields are never written through Update.
var protectedFields = []string{"status", "requestNumber", "createdAt"}

// Repository persists requests through the document gateway.
type Repository struct {
	store docstore.Gateway
}

// NewRepository constructs a Repository.
func NewRepository(store docstore.Gateway) *Repository {
	return &Repository{store: store}
}

// Insert stores a new request and returns its id.
func (r *Repository) Insert(ctx context.Context, req Request) (string, error) {
	id, err := r.store.Create(ctx, docstore.CollectionRequests, EncodeRequest(req))
	if err != nil {
		return "", fmt.Errorf("rfq: insert request: %w", err)
	}
	return id, nil
}

// Get loads one request.
func (r *Repository) Get(ctx context.Context, id string) (Request, error) {
	doc, err := r.store.Get(ctx, docstore.CollectionRequests, id)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return Request{}, ErrNotFound
		}
		return Request{}, fmt.Errorf("rfq: get request: %w", err)
	}
	return DecodeRequest(doc)
}

// List returns all requests, newest first.
func (r *Repository) List(ctx context.Context) ([]Request, error) {
	docs, err := r.store.Query(ctx, docstore.CollectionRequests, docstore.Query{OrderBy: "createdAt", Desc: true})
	if err != nil {
		return nil, fmt.Errorf("rfq: list requests: %w", err)
	}
	out := make([]Request, 0, len(docs))
	for _, doc := range docs {
		req, err := DecodeRequest(doc)
		if err != nil {
			continue
		}
		out = append(out, req)
	}
	return out, nil
}

// Update merges the editable fields of partial into the stored request.
func (r *Repository) Update(ctx context.Context, id string, partial docstore.Document) error {
	body := make(docstore.Document, len(partial))
	for k, v := range partial {
		body[k] = v
	}
	for _, f := range protectedFields {
		delete(body, f)
	}
	if err := r.store.Update(ctx, docstore.CollectionRequests, id, body); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("rfq: update request: %w", err)
	}
	return nil
}

// SetStatus writes only the status field, and only while the stored status is still
// from.
func (r *Repository) SetStatus(ctx context.Context, id string, from, to Status) error {
	return r.setStatusFrom(ctx, id, string(from), to)
}

// setStatusFrom is SetStatus against the raw stored value, which may be an unknown
// label or absent (nil).
func (r *Repository) setStatusFrom(ctx context.Context, id string, stored any, to Status) error {
	err := r.store.UpdateIf(ctx, docstore.CollectionRequests, id,
		docstore.Document{"status": stored},
		docstore.Document{"status": string(to)})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, docstore.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, docstore.ErrConflict):
		return ErrInvalidTransition
	}
	return fmt.Errorf("rfq: set status: %w", err)
}

// Delete hard-deletes a request.
func (r *Repository) Delete(ctx context.Context, id string) error {
	if err := r.store.Delete(ctx, docstore.CollectionRequests, id); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("rfq: delete request: %w", err)
	}
	return nil
}
