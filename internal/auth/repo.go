package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/anfrage-erp/anfrage/internal/docstore"
	"github.com/anfrage-erp/anfrage/internal/shared"
)

// Repository defines persistence operations for auth module.
type Repository interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByID(ctx context.Context, id string) (*User, error)
	CreateUser(ctx context.Context, user User) (string, error)
	CreateSession(ctx context.Context, s LoginSession) error
	DeleteSession(ctx context.Context, id string) error
}

// DocRepository implements Repository on the document gateway.
type DocRepository struct {
	store docstore.Gateway
	now   func() time.Time
}

// NewRepository constructs a gateway-backed repository.
func NewRepository(store docstore.Gateway) *DocRepository {
	return &DocRepository{store: store, now: time.Now}
}

// FindByEmail fetches a user by email, case-insensitively.
func (r *DocRepository) FindByEmail(ctx context.Context, email string) (*User, error) {
	docs, err := r.store.Query(ctx, docstore.CollectionUsers, docstore.Query{
		Where: []docstore.Filter{{Field: "email", Value: normalizeEmail(email)}},
		Limit: 1,
	})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, shared.ErrNotFound
	}
	return decodeUser(docs[0]), nil
}

// FindByID fetches a user by id.
func (r *DocRepository) FindByID(ctx context.Context, id string) (*User, error) {
	doc, err := r.store.Get(ctx, docstore.CollectionUsers, id)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return decodeUser(doc), nil
}

// CreateUser inserts a user. The email must be unused.
func (r *DocRepository) CreateUser(ctx context.Context, user User) (string, error) {
	email := normalizeEmail(user.Email)
	if _, err := r.FindByEmail(ctx, email); err == nil {
		return "", docstore.ErrDuplicate
	} else if !errors.Is(err, shared.ErrNotFound) {
		return "", err
	}
	now := r.now().UTC()
	return r.store.Create(ctx, docstore.CollectionUsers, docstore.Document{
		"email":        email,
		"name":         strings.TrimSpace(user.Name),
		"passwordHash": user.PasswordHash,
		"isActive":     user.IsActive,
		"createdAt":    now,
		"updatedAt":    now,
	})
}

// CreateSession records a login session for auditing.
func (r *DocRepository) CreateSession(ctx context.Context, s LoginSession) error {
	_, err := r.store.Create(ctx, docstore.CollectionSessions, docstore.Document{
		docstore.FieldID: s.ID,
		"userId":         s.UserID,
		"createdAt":      r.now().UTC(),
		"expiresAt":      s.ExpiresAt.UTC(),
		"ip":             s.IP,
		"userAgent":      s.UserAgent,
	})
	return err
}

// DeleteSession removes a session record. Missing records are ignored.
func (r *DocRepository) DeleteSession(ctx context.Context, id string) error {
	err := r.store.Delete(ctx, docstore.CollectionSessions, id)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil
	}
	return err
}

func decodeUser(doc docstore.Document) *User {
	user := &User{
		ID:           doc.ID(),
		Email:        docstore.String(doc["email"]),
		Name:         docstore.String(doc["name"]),
		PasswordHash: docstore.String(doc["passwordHash"]),
	}
	if active, ok := doc["isActive"].(bool); ok {
		user.IsActive = active
	}
	user.CreatedAt, _ = docstore.Time(doc["createdAt"])
	user.UpdatedAt, _ = docstore.Time(doc["updatedAt"])
	return user
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

var _ Repository = (*DocRepository)(nil)
