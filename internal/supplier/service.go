package supplier

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/anfrage-erp/anfrage/internal/docstore"
	"github.com/anfrage-erp/anfrage/internal/platform/httpx"
	"github.com/anfrage-erp/anfrage/internal/rfq"
)

// Service manages the supplier directory.
type Service struct {
	repo     *Repository
	validate *validator.Validate
	logger   *slog.Logger
}

// NewService constructs a Service.
func NewService(store docstore.Gateway, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: NewRepository(store), validate: httpx.NewValidator(), logger: logger}
}

// NewMirror builds the read-side cache of the suppliers collection.
func NewMirror(store docstore.Gateway, logger *slog.Logger) *docstore.Mirror[Supplier] {
	return docstore.NewMirror(store, docstore.CollectionSuppliers, Decode, logger)
}

func (s *Service) check(in *Supplier) error {
	in.Name = strings.TrimSpace(in.Name)
	in.ContactPerson = strings.TrimSpace(in.ContactPerson)
	in.Email = strings.TrimSpace(in.Email)
	in.Phone = strings.TrimSpace(in.Phone)
	in.Address = strings.TrimSpace(in.Address)
	in.Country = strings.TrimSpace(in.Country)
	if err := s.validate.Struct(in); err != nil {
		return httpx.FieldsFromValidator(err)
	}
	return nil
}

// Create validates and stores a supplier.
func (s *Service) Create(ctx context.Context, in Supplier) (Supplier, error) {
	in.ID = ""
	if err := s.check(&in); err != nil {
		return Supplier{}, err
	}
	id, err := s.repo.Insert(ctx, in)
	if err != nil {
		return Supplier{}, err
	}
	in.ID = id
	s.logger.Info("supplier created", slog.String("id", id))
	return in, nil
}

// Get returns a supplier.
func (s *Service) Get(ctx context.Context, id string) (Supplier, error) {
	return s.repo.Get(ctx, id)
}

// List returns the directory ordered by name.
func (s *Service) List(ctx context.Context) ([]Supplier, error) {
	return s.repo.List(ctx)
}

// Update validates and overwrites a supplier. Existing requests are not touched.
func (s *Service) Update(ctx context.Context, id string, in Supplier) (Supplier, error) {
	in.ID = id
	if err := s.check(&in); err != nil {
		return Supplier{}, err
	}
	if err := s.repo.Update(ctx, in); err != nil {
		return Supplier{}, err
	}
	return in, nil
}

// Delete removes a supplier.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.repo.Delete(ctx, id)
}

// Snapshot returns the copy of a supplier embedded in requests.
func (s *Service) Snapshot(ctx context.Context, id string) (rfq.SupplierSnapshot, error) {
	sup, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return rfq.SupplierSnapshot{}, rfq.ErrSupplierNotFound
		}
		return rfq.SupplierSnapshot{}, err
	}
	return rfq.SupplierSnapshot{
		ID:            sup.ID,
		Name:          sup.Name,
		ContactPerson: sup.ContactPerson,
		Email:         sup.Email,
		Phone:         sup.Phone,
		Address:       sup.Address,
		Country:       sup.Country,
	}, nil
}
