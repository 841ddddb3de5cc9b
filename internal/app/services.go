package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/anfrage-erp/anfrage/internal/docstore"
	"github.com/anfrage-erp/anfrage/internal/document"
	"github.com/anfrage-erp/anfrage/internal/export"
	"github.com/anfrage-erp/anfrage/internal/observability"
	"github.com/anfrage-erp/anfrage/internal/rfq"
	"github.com/anfrage-erp/anfrage/internal/shared"
	"github.com/anfrage-erp/anfrage/internal/supplier"
	"github.com/anfrage-erp/anfrage/report"
)

// Services is the wired domain layer shared by the server, the worker and the CLI.
type Services struct {
	Config *Config
	Logger *slog.Logger
	Store  docstore.Gateway

	Idempotency    *shared.IdempotencyStore
	Suppliers      *supplier.Service
	SupplierMirror *docstore.Mirror[supplier.Supplier]
	Requests       *rfq.Service
	RequestMirror  *docstore.Mirror[rfq.Request]
	Dashboard      *rfq.Dashboard

	Renderer  *document.Renderer
	Gotenberg *report.Client
	Pipeline  *export.Pipeline
}

// NewServices wires the domain services on top of store. redisClient may be nil, in
// which case exports are guarded in-process only. metrics may be nil.
func NewServices(cfg *Config, logger *slog.Logger, store docstore.Gateway, redisClient *redis.Client, metrics *observability.Metrics) (*Services, error) {
	renderer, err := document.NewRenderer()
	if err != nil {
		return nil, fmt.Errorf("init letter renderer: %w", err)
	}

	idem := shared.NewIdempotencyStore(store)
	suppliers := supplier.NewService(store, logger)
	requests := rfq.NewService(store, suppliers, idem, logger)

	supplierMirror := supplier.NewMirror(store, logger)
	requestMirror := rfq.NewMirror(store, logger)
	dashboard := rfq.NewDashboard(requestMirror, func() int {
		items, _ := supplierMirror.Snapshot()
		return len(items)
	})

	var guard export.Guard = export.NewLocalGuard()
	if redisClient != nil {
		guard = export.NewRedisGuard(redisClient, cfg.ExportLockTTL)
	}
	opts := export.Options{
		Company: cfg.Company(),
		Scale:   cfg.ExportScale,
		Guard:   guard,
		Logger:  logger,
	}
	if metrics != nil {
		opts.Recorder = metrics
	}
	gotenberg := report.NewClient(cfg.GotenbergURL)
	pipeline := export.NewPipeline(requests, renderer, gotenberg, opts)

	return &Services{
		Config:         cfg,
		Logger:         logger,
		Store:          store,
		Idempotency:    idem,
		Suppliers:      suppliers,
		SupplierMirror: supplierMirror,
		Requests:       requests,
		RequestMirror:  requestMirror,
		Dashboard:      dashboard,
		Renderer:       renderer,
		Gotenberg:      gotenberg,
		Pipeline:       pipeline,
	}, nil
}

// StartMirrors subscribes the read-side caches.
func (s *Services) StartMirrors(ctx context.Context) error {
	if err := s.SupplierMirror.Start(ctx); err != nil {
		return fmt.Errorf("start supplier mirror: %w", err)
	}
	if err := s.RequestMirror.Start(ctx); err != nil {
		s.SupplierMirror.Stop()
		return fmt.Errorf("start request mirror: %w", err)
	}
	return nil
}

// StopMirrors cancels the mirror subscriptions.
func (s *Services) StopMirrors() {
	s.RequestMirror.Stop()
	s.SupplierMirror.Stop()
}
