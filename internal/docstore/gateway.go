// Package docstore provides the document persistence gateway shared by the request and
// supplier modules, with memory, PostgreSQL and MongoDB backends.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// Well-known collections.
const (
	CollectionRequests    = "requests"
	CollectionSuppliers   = "suppliers"
	CollectionUsers       = "users"
	CollectionSessions    = "sessions"
	CollectionIdempotency = "idempotency_keys"
)

// FieldID is the key under which a document's identity is exposed on read.
const FieldID = "id"

var (
	// ErrNotFound indicates the document does not exist.
	ErrNotFound = errors.New("docstore: document not found")
	// ErrConflict indicates a conditional update precondition failed.
	ErrConflict = errors.New("docstore: precondition failed")
	// ErrDuplicate indicates a document with the same id already exists.
	ErrDuplicate = errors.New("docstore: duplicate document")
	// ErrInvalidField indicates an unsupported field name in a query.
	ErrInvalidField = errors.New("docstore: invalid field name")
	// ErrClosed indicates the gateway has been closed.
	ErrClosed = errors.New("docstore: gateway closed")
)

// Document is a schemaless record. Values keep the provider's native types on read.
type Document map[string]any

// ID returns the document identity or an empty string.
func (d Document) ID() string {
	id, _ := d[FieldID].(string)
	return id
}

// Filter is an equality predicate on a top-level field.
type Filter struct {
	Field string
	Value any
}

// Query selects documents from a collection.
type Query struct {
	Where   []Filter
	OrderBy string
	Desc    bool
	Limit   int
}

// Target addresses a whole collection or, when ID is set, a single document.
type Target struct {
	Collection string
	ID         string
}

// Snapshot is the full current state of a subscription target.
type Snapshot struct {
	Collection string
	ID         string
	Docs       []Document
}

// Gateway is the persistence contract consumed by the domain services.
type Gateway interface {
	Create(ctx context.Context, collection string, doc Document) (string, error)
	Get(ctx context.Context, collection, id string) (Document, error)
	Update(ctx context.Context, collection, id string, partial Document) error
	UpdateIf(ctx context.Context, collection, id string, expect, partial Document) error
	Delete(ctx context.Context, collection, id string) error
	Query(ctx context.Context, collection string, q Query) ([]Document, error)
	Subscribe(ctx context.Context, target Target, onChange func(Snapshot), onError func(error)) (func(), error)
	Next(ctx context.Context, counter string, floor int64) (int64, error)
	Close(ctx context.Context) error
}

var fieldPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func validateField(name string) error {
	if !fieldPattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidField, name)
	}
	return nil
}

func validateQuery(q Query) error {
	if q.OrderBy != "" {
		if err := validateField(q.OrderBy); err != nil {
			return err
		}
	}
	for _, f := range q.Where {
		if err := validateField(f.Field); err != nil {
			return err
		}
	}
	if q.Limit < 0 {
		return fmt.Errorf("docstore: negative limit %d", q.Limit)
	}
	return nil
}

func validateTarget(t Target) error {
	if t.Collection == "" {
		return errors.New("docstore: subscription collection required")
	}
	return nil
}

// stripID removes the identity key so it is never persisted inside the body.
func stripID(doc Document) Document {
	out := make(Document, len(doc))
	for k, v := range doc {
		if k == FieldID {
			continue
		}
		out[k] = v
	}
	return out
}
