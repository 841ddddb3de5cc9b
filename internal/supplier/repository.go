package supplier

import (
	"context"
	"errors"
	"fmt"

	"github.com/anfrage-erp/anfrage/internal/docstore"
)

// Repository persists suppliers through the document gateway.
type Repository struct {
	store docstore.Gateway
}

// NewRepository constructs a Repository.
func NewRepository(store docstore.Gateway) *Repository {
	return &Repository{store: store}
}

// Decode converts a stored document into a Supplier.
func Decode(doc docstore.Document) (Supplier, error) {
	if doc.ID() == "" {
		return Supplier{}, errors.New("supplier: document without id")
	}
	return Supplier{
		ID:            doc.ID(),
		Name:          docstore.String(doc["name"]),
		ContactPerson: docstore.String(doc["contactPerson"]),
		Email:         docstore.String(doc["email"]),
		Phone:         docstore.String(doc["phone"]),
		Address:       docstore.String(doc["address"]),
		Country:       docstore.String(doc["country"]),
	}, nil
}

func encode(s Supplier) docstore.Document {
	return docstore.Document{
		"name":          s.Name,
		"contactPerson": s.ContactPerson,
		"email":         s.Email,
		"phone":         s.Phone,
		"address":       s.Address,
		"country":       s.Country,
	}
}

// Insert stores a new supplier.
func (r *Repository) Insert(ctx context.Context, s Supplier) (string, error) {
	id, err := r.store.Create(ctx, docstore.CollectionSuppliers, encode(s))
	if err != nil {
		return "", fmt.Errorf("supplier: insert: %w", err)
	}
	return id, nil
}

// Get loads one supplier.
func (r *Repository) Get(ctx context.Context, id string) (Supplier, error) {
	doc, err := r.store.Get(ctx, docstore.CollectionSuppliers, id)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return Supplier{}, ErrNotFound
		}
		return Supplier{}, fmt.Errorf("supplier: get: %w", err)
	}
	return Decode(doc)
}

// List returns all suppliers ordered by name.
func (r *Repository) List(ctx context.Context) ([]Supplier, error) {
	docs, err := r.store.Query(ctx, docstore.CollectionSuppliers, docstore.Query{OrderBy: "name"})
	if err != nil {
		return nil, fmt.Errorf("supplier: list: %w", err)
	}
	out := make([]Supplier, 0, len(docs))
	for _, doc := range docs {
		s, err := Decode(doc)
		if err != nil {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// Update overwrites the supplier fields.
func (r *Repository) Update(ctx context.Context, s Supplier) error {
	if err := r.store.Update(ctx, docstore.CollectionSuppliers, s.ID, encode(s)); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("supplier: update: %w", err)
	}
	return nil
}

// Delete removes a supplier. Requests keep their embedded snapshot.
func (r *Repository) Delete(ctx context.Context, id string) error {
	if err := r.store.Delete(ctx, docstore.CollectionSuppliers, id); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("supplier: delete: %w", err)
	}
	return nil
}
