package rfq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/anfrage-erp/anfrage/internal/docstore"
	"github.com/anfrage-erp/anfrage/internal/platform/httpx"
	"github.com/anfrage-erp/anfrage/internal/shared"
)

// SupplierSource resolves a supplier id into the snapshot embedded in a request.
type SupplierSource interface {
	Snapshot(ctx context.Context, id string) (SupplierSnapshot, error)
}

// ErrSupplierNotFound is returned by a SupplierSource for unknown ids.
var ErrSupplierNotFound = errors.New("supplier not found")

// idempotencyModule scopes idempotency keys of request creation.
const idempotencyModule = "requests"

// Service orchestrates request creation, edits and status transitions.
type Service struct {
	repo        *Repository
	numbers     *Numberer
	suppliers   SupplierSource
	idempotency *shared.IdempotencyStore
	validate    *validator.Validate
	logger      *slog.Logger
	now         func() time.Time
}

// NewService constructs the request service.
func NewService(store docstore.Gateway, suppliers SupplierSource, idem *shared.IdempotencyStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:        NewRepository(store),
		numbers:     NewNumberer(store, nil),
		suppliers:   suppliers,
		idempotency: idem,
		validate:    httpx.NewValidator(),
		logger:      logger,
		now:         time.Now,
	}
}

// WithClock replaces the service clock. Intended for tests and batch tools.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	s.numbers.now = now
	return s
}

// ItemInput is an item as submitted by a form. Quantity is already coerced.
type ItemInput struct {
	ID             string  `json:"id"`
	MaterialNumber string  `json:"materialNumber" validate:"max=64"`
	Designation    string  `json:"designation" validate:"max=200"`
	Description    string  `json:"description" validate:"max=2000"`
	Quantity       float64 `json:"quantity"`
}

// ContactInput is our contact person as submitted.
type ContactInput struct {
	FirstName string `json:"firstName" validate:"max=100"`
	LastName  string `json:"lastName" validate:"max=100"`
	Email     string `json:"email" validate:"omitempty,email"`
	Phone     string `json:"phone" validate:"max=50"`
}

// Input carries the editable fields of a request.
type Input struct {
	SupplierID  string       `json:"supplierId"`
	RequestDate *time.Time   `json:"requestDate"`
	ValidUntil  *time.Time   `json:"validUntil"`
	Contact     ContactInput `json:"contact"`
	Items       []ItemInput  `json:"items" validate:"dive"`
	Notes       string       `json:"notes" validate:"max=5000"`
}

// Create validates input, numbers the request and stores it as a draft.
func (s *Service) Create(ctx context.Context, in Input) (Request, error) {
	if err := s.check(in); err != nil {
		return Request{}, err
	}
	supplier, err := s.resolveSupplier(ctx, in.SupplierID)
	if err != nil {
		return Request{}, err
	}
	number, err := s.numbers.Next(ctx)
	if err != nil {
		s.logger.Error("request number generation failed", slog.Any("error", err))
		return Request{}, err
	}

	now := s.now().UTC()
	created := now
	if in.RequestDate != nil && !in.RequestDate.IsZero() {
		created = in.RequestDate.UTC()
	}
	req := Request{
		RequestNumber: number,
		Title:         TitleFor(supplier),
		Status:        StatusDraft,
		CreatedAt:     created,
		ValidUntil:    cleanTime(in.ValidUntil),
		Supplier:      supplier,
		Items:         normalizeItems(in.Items, now, false),
		Notes:         strings.TrimSpace(in.Notes),
		ContactPerson: contactFrom(in.Contact),
	}
	id, err := s.repo.Insert(ctx, req)
	if err != nil {
		return Request{}, err
	}
	req.ID = id
	s.logger.Info("request created", slog.String("id", id), slog.String("number", number))
	return req, nil
}

// CreateIdempotent behaves like Create but returns the request created by an earlier
// call with the same key instead of creating a second one.
func (s *Service) CreateIdempotent(ctx context.Context, key string, in Input) (Request, bool, error) {
	if key == "" || s.idempotency == nil {
		req, err := s.Create(ctx, in)
		return req, false, err
	}
	if err := s.idempotency.CheckAndInsert(ctx, key, idempotencyModule); err != nil {
		if !errors.Is(err, shared.ErrIdempotencyConflict) {
			return Request{}, false, err
		}
		id, err := s.idempotency.Result(ctx, key, idempotencyModule)
		if err != nil {
			return Request{}, false, err
		}
		if id == "" {
			return Request{}, false, fmt.Errorf("%w: request with this key is still being processed", httpx.ErrConflict)
		}
		req, err := s.repo.Get(ctx, id)
		return req, true, err
	}
	req, err := s.Create(ctx, in)
	if err != nil {
		if derr := s.idempotency.Delete(ctx, key, idempotencyModule); derr != nil {
			s.logger.Warn("release idempotency key", slog.Any("error", derr))
		}
		return Request{}, false, err
	}
	if err := s.idempotency.Complete(ctx, key, idempotencyModule, req.ID); err != nil {
		s.logger.Warn("record idempotency result", slog.Any("error", err))
	}
	return req, false, nil
}

// Preview validates input and returns the unsaved request it would create. No number
// is drawn and nothing is written.
func (s *Service) Preview(ctx context.Context, in Input, number string) (Request, error) {
	if err := s.check(in); err != nil {
		return Request{}, err
	}
	supplier, err := s.resolveSupplier(ctx, in.SupplierID)
	if err != nil {
		return Request{}, err
	}
	return Preview(in, supplier, number, s.now()), nil
}

// Get returns a request by id.
func (s *Service) Get(ctx context.Context, id string) (Request, error) {
	return s.repo.Get(ctx, id)
}

// List returns all requests, newest first.
func (s *Service) List(ctx context.Context) ([]Request, error) {
	return s.repo.List(ctx)
}

// Update replaces the editable fields. Items, notes, contact and validity are rewritten;
// supplier and title change only when a different supplier is selected. Number,
// creation date and status are kept.
func (s *Service) Update(ctx context.Context, id string, in Input) (Request, error) {
	if err := s.check(in); err != nil {
		return Request{}, err
	}
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return Request{}, err
	}
	// The stored snapshot stays until another supplier is selected.
	supplier, title := current.Supplier, current.Title
	if strings.TrimSpace(in.SupplierID) != current.Supplier.ID {
		supplier, err = s.resolveSupplier(ctx, in.SupplierID)
		if err != nil {
			return Request{}, err
		}
		title = TitleFor(supplier)
	}
	partial := docstore.Document{
		"title":         title,
		"supplier":      encodeSupplier(supplier),
		"items":         encodeItems(normalizeItems(in.Items, s.now().UTC(), true)),
		"notes":         strings.TrimSpace(in.Notes),
		"contactPerson": encodeContact(contactFrom(in.Contact)),
		"validUntil":    encodeTime(cleanTime(in.ValidUntil)),
	}
	if err := s.repo.Update(ctx, id, partial); err != nil {
		return Request{}, err
	}
	return s.repo.Get(ctx, id)
}

// Delete removes a request permanently.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("request deleted", slog.String("id", id))
	return nil
}

// MarkSent moves a draft to Sent.
func (s *Service) MarkSent(ctx context.Context, id string) (Request, error) {
	return s.apply(ctx, id, EventSend)
}

// MarkCompleted moves a sent request to Completed.
func (s *Service) MarkCompleted(ctx context.Context, id string) (Request, error) {
	return s.apply(ctx, id, EventComplete)
}

func (s *Service) apply(ctx context.Context, id string, event Event) (Request, error) {
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return Request{}, err
	}
	next, err := Next(current.Status, event)
	if err != nil {
		return current, fmt.Errorf("%w: %s from %s", err, event, current.Status)
	}
	if err := s.repo.setStatusFrom(ctx, id, current.recordedStatus(), next); err != nil {
		return current, err
	}
	s.logger.Info("request status changed",
		slog.String("id", id),
		slog.String("from", string(current.Status)),
		slog.String("to", string(next)))
	current.Status = next
	return current, nil
}

func (s *Service) check(in Input) error {
	if err := s.validate.Struct(in); err != nil {
		return httpx.FieldsFromValidator(err)
	}
	return nil
}

func (s *Service) resolveSupplier(ctx context.Context, id string) (SupplierSnapshot, error) {
	id = strings.TrimSpace(id)
	if id == "" || s.suppliers == nil {
		return SupplierSnapshot{}, nil
	}
	snap, err := s.suppliers.Snapshot(ctx, id)
	if err != nil {
		if errors.Is(err, ErrSupplierNotFound) {
			return SupplierSnapshot{}, httpx.FieldErrors{"supplierId": "Lieferant nicht gefunden."}
		}
		return SupplierSnapshot{}, fmt.Errorf("rfq: resolve supplier: %w", err)
	}
	return snap, nil
}

// ItemID builds a generated item id. The index keeps ids of one submission distinct
// even within the same millisecond.
func ItemID(at time.Time, idx int) string {
	return fmt.Sprintf("ITEM-%d-%d", at.UnixMilli(), idx)
}

func normalizeItems(in []ItemInput, now time.Time, keepIDs bool) []Item {
	items := make([]Item, 0, len(in))
	for i, it := range in {
		item := Item{
			MaterialNumber: strings.TrimSpace(it.MaterialNumber),
			Designation:    strings.TrimSpace(it.Designation),
			Description:    strings.TrimSpace(it.Description),
			Quantity:       it.Quantity,
		}
		if keepIDs {
			item.ID = strings.TrimSpace(it.ID)
		}
		if item.ID == "" {
			item.ID = ItemID(now, i)
		}
		if item.Designation == "" {
			item.Designation = PlaceholderDesignation
		}
		items = append(items, item)
	}
	return items
}

func contactFrom(in ContactInput) *ContactPerson {
	return &ContactPerson{
		FirstName: strings.TrimSpace(in.FirstName),
		LastName:  strings.TrimSpace(in.LastName),
		Email:     strings.TrimSpace(in.Email),
		Phone:     strings.TrimSpace(in.Phone),
	}
}

func cleanTime(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}
