package app

import (
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/anfrage-erp/anfrage/internal/auth"
	"github.com/anfrage-erp/anfrage/internal/export"
	"github.com/anfrage-erp/anfrage/internal/feed"
	"github.com/anfrage-erp/anfrage/internal/observability"
	"github.com/anfrage-erp/anfrage/internal/platform/httpx"
	"github.com/anfrage-erp/anfrage/internal/rfq"
	"github.com/anfrage-erp/anfrage/internal/shared"
	"github.com/anfrage-erp/anfrage/internal/supplier"
	"github.com/anfrage-erp/anfrage/internal/view"
	"github.com/anfrage-erp/anfrage/jobs"
	"github.com/anfrage-erp/anfrage/report"
	"github.com/anfrage-erp/anfrage/web"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	Templates      *view.Engine
	SessionManager *shared.SessionManager
	CSRFManager    *shared.CSRFManager
	Dashboard      *rfq.Dashboard

	AuthHandler     *auth.Handler
	SupplierHandler *supplier.Handler
	RequestHandler  *rfq.Handler
	ExportHandler   *export.Handler
	FeedHandler     *feed.Handler
	ReportHandler   *report.Handler
	JobHandler      *jobs.Handler
	Metrics         *observability.Metrics
}

// NewRouter constructs the chi.Router with the application defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if params.Dashboard != nil {
			if err := params.Dashboard.Err(); err != nil {
				httpx.Problem(w, http.StatusServiceUnavailable, "Unavailable", err.Error())
				return
			}
		}
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	staticFS, err := fs.Sub(web.Static, "static")
	if err != nil {
		params.Logger.Error("create static sub filesystem", slog.Any("error", err))
	} else {
		fileServer := http.StripPrefix("/static/", http.FileServer(http.FS(staticFS)))
		r.Handle("/static/*", staticCacheHandler(fileServer))
	}

	r.Group(func(r chi.Router) {
		r.Use(RequestTimeout(params.Config), middleware.Compress(5))
		r.Get("/", home(params))
		r.Route("/auth", params.AuthHandler.MountRoutes)
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(params.AuthHandler.RequireUser)
		if params.FeedHandler != nil {
			r.Route("/feed", params.FeedHandler.MountRoutes)
		}
		r.Group(func(r chi.Router) {
			r.Use(RequestTimeout(params.Config), middleware.Compress(5))
			r.Route("/suppliers", params.SupplierHandler.MountRoutes)
			r.Route("/requests", func(r chi.Router) {
				params.RequestHandler.MountRoutes(r)
				params.ExportHandler.MountRoutes(r)
			})
			r.Route("/stats", params.RequestHandler.MountStats)
			if params.ReportHandler != nil {
				r.Route("/report", params.ReportHandler.MountRoutes)
			}
			if params.JobHandler != nil {
				r.Route("/jobs", params.JobHandler.MountRoutes)
			}
		})
	})

	return r
}

func home(params RouterParams) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := params.AuthHandler.Current(r)
		if !ok {
			http.Redirect(w, r, "/auth/login", http.StatusSeeOther)
			return
		}
		sess := shared.SessionFromContext(r.Context())
		csrfToken, _ := params.CSRFManager.EnsureToken(sess)
		data := view.TemplateData{
			Title:       "Übersicht",
			CSRFToken:   csrfToken,
			Flash:       sess.PopFlash(),
			CurrentPath: r.URL.Path,
			User:        &user,
		}
		if params.Dashboard != nil {
			data.Data = map[string]any{"Stats": params.Dashboard.Stats()}
		}
		if err := params.Templates.Render(w, http.StatusOK, "pages/home.html", data); err != nil {
			params.Logger.Error("render home", slog.Any("error", err))
		}
	}
}

// staticCacheHandler wraps a file server with Cache-Control headers.
func staticCacheHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=3600")
		next.ServeHTTP(w, r)
	})
}
