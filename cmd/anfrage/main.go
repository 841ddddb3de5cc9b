package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/anfrage-erp/anfrage/cmd/anfrage/cli"
	"github.com/anfrage-erp/anfrage/internal/app"
	"github.com/anfrage-erp/anfrage/internal/auth"
	"github.com/anfrage-erp/anfrage/internal/export"
	"github.com/anfrage-erp/anfrage/internal/feed"
	"github.com/anfrage-erp/anfrage/internal/observability"
	"github.com/anfrage-erp/anfrage/internal/platform/cache"
	"github.com/anfrage-erp/anfrage/internal/rfq"
	"github.com/anfrage-erp/anfrage/internal/shared"
	"github.com/anfrage-erp/anfrage/internal/supplier"
	"github.com/anfrage-erp/anfrage/internal/view"
	"github.com/anfrage-erp/anfrage/jobs"
	"github.com/anfrage-erp/anfrage/report"
)

const usage = `usage:
  anfrage [serve]              start the HTTP server
  anfrage export <id> [dir]    write request-<number>.pdf into dir
  anfrage jobs archive <id>    enqueue an archive export
  anfrage jobs cleanup         enqueue idempotency key cleanup
  anfrage jobs stats           print queue statistics`

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping server startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	args := os.Args[1:]
	cmd := "serve"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "serve":
		err = serve(ctx, cfg, logger)
	case "export":
		if len(args) < 1 {
			fmt.Fprintln(os.Stderr, usage)
			os.Exit(2)
		}
		dir := cfg.ExportDir
		if len(args) > 1 {
			dir = args[1]
		}
		err = runExport(ctx, cfg, logger, args[0], dir)
		if err != nil {
			logger.Error("export", slog.String("request", args[0]), slog.Any("error", err))
			os.Exit(cli.ExitCode(err))
		}
		return
	case "jobs":
		err = runJobs(ctx, cfg, args)
	case "help", "-h", "--help":
		fmt.Println(usage)
		return
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error(cmd, slog.Any("error", err))
		os.Exit(1)
	}
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	store, closeStore, err := app.OpenStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	metrics := observability.NewMetrics()
	services, err := app.NewServices(cfg, logger, store, redisClient, metrics)
	if err != nil {
		return err
	}
	if err := services.StartMirrors(ctx); err != nil {
		return err
	}
	defer services.StopMirrors()

	sessionManager := shared.NewSessionManager(redisClient, "anfrage_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)

	templates, err := view.NewEngine()
	if err != nil {
		return fmt.Errorf("init templates: %w", err)
	}

	authService := auth.NewService(auth.NewRepository(store))
	authHandler := auth.NewHandler(logger, authService, templates, sessionManager, csrfManager)

	hub := feed.NewHub(logger)
	feed.Attach(hub, "suppliers", services.SupplierMirror)
	feed.Attach(hub, "requests", services.RequestMirror)
	feedHandler := feed.NewHandler(hub, logger, originChecker(cfg))

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		return fmt.Errorf("init job client: %w", err)
	}
	defer jobClient.Close()
	inspector := asynq.NewInspector(redisOpts)
	defer inspector.Close()

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		Templates:       templates,
		SessionManager:  sessionManager,
		CSRFManager:     csrfManager,
		Dashboard:       services.Dashboard,
		AuthHandler:     authHandler,
		SupplierHandler: supplier.NewHandler(logger, services.Suppliers),
		RequestHandler:  rfq.NewHandler(logger, services.Requests, services.Dashboard),
		ExportHandler:   export.NewHandler(logger, services.Pipeline, services.Requests, services.Requests, jobClient),
		FeedHandler:     feedHandler,
		ReportHandler:   report.NewHandler(services.Gotenberg, logger),
		JobHandler:      jobs.NewHandler(inspector, logger),
		Metrics:         metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("store", cfg.StoreDriver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info("shutting down server")
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// originChecker accepts same-host upgrades plus the configured CORS origins.
func originChecker(cfg *app.Config) func(*http.Request) bool {
	allowed := cfg.AllowedOrigins()
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if slices.Contains(allowed, origin) {
			return true
		}
		u, err := url.Parse(origin)
		return err == nil && u.Host == r.Host
	}
}

func runExport(ctx context.Context, cfg *app.Config, logger *slog.Logger, id, dir string) error {
	store, closeStore, err := app.OpenStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	// The export lock is shared with running servers when Redis is reachable.
	var redisClient *redis.Client
	if client, err := cache.New(ctx, cfg.RedisAddr); err != nil {
		logger.Warn("redis unavailable, using in-process export lock", slog.Any("error", err))
	} else {
		redisClient = client
		defer client.Close()
	}

	services, err := app.NewServices(cfg, logger, store, redisClient, nil)
	if err != nil {
		return err
	}
	_, err = cli.RunExport(ctx, services.Pipeline, cli.ExportOptions{RequestID: id, Dir: dir, JSONOutput: cfg.LogFormat == "json"})
	return err
}

func runJobs(ctx context.Context, cfg *app.Config, args []string) error {
	if len(args) == 0 {
		return errors.New(usage)
	}
	jobsCLI, err := cli.NewJobsCLI(cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer jobsCLI.Close()

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	switch args[0] {
	case "archive":
		if len(args) < 2 {
			return errors.New(usage)
		}
		info, err := jobsCLI.Trigger(ctx, jobs.TaskExportArchive, args[1])
		if err != nil {
			return err
		}
		return enc.Encode(map[string]string{"taskId": info.ID, "queue": info.Queue})
	case "cleanup":
		info, err := jobsCLI.Trigger(ctx, jobs.TaskIdempotencyCleanup, "")
		if err != nil {
			return err
		}
		return enc.Encode(map[string]string{"taskId": info.ID, "queue": info.Queue})
	case "stats":
		stats, err := jobsCLI.InspectQueue(ctx)
		if err != nil {
			return err
		}
		return enc.Encode(stats)
	default:
		return fmt.Errorf("unknown jobs command %q\n%s", args[0], usage)
	}
}
