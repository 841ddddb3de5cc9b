package auth

import (
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/anfrage-erp/anfrage/internal/platform/httpx"
	"github.com/anfrage-erp/anfrage/internal/shared"
	"github.com/anfrage-erp/anfrage/internal/view"
)

const invalidLogin = "E-Mail oder Passwort ungültig"

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger         *slog.Logger
	service        *Service
	templates      *view.Engine
	sessionManager *shared.SessionManager
	csrfManager    *shared.CSRFManager
	validator      *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, templates *view.Engine, sessions *shared.SessionManager, csrf *shared.CSRFManager) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:         logger,
		service:        service,
		templates:      templates,
		sessionManager: sessions,
		csrfManager:    csrf,
		validator:      httpx.NewValidator(),
	}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/login", h.showLogin)
	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)
	r.Get("/session", h.showSession)
}

type loginForm struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type loginPageData struct {
	Form   loginForm
	Errors map[string]string
}

type sessionView struct {
	Authenticated bool   `json:"authenticated"`
	User          *User  `json:"user,omitempty"`
	CSRFToken     string `json:"csrfToken"`
}

func (h *Handler) showLogin(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess != nil && sess.User() != "" {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	h.renderLogin(w, r, http.StatusOK, loginPageData{})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	asJSON := isJSON(r)
	var form loginForm
	if asJSON {
		if err := httpx.DecodeJSON(r, &form); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		form = loginForm{Email: r.PostFormValue("email"), Password: r.PostFormValue("password")}
	}

	fieldErrs := httpx.FieldErrors{}
	if err := h.validator.Struct(form); err != nil {
		var fe httpx.FieldErrors
		if errors.As(httpx.FieldsFromValidator(err), &fe) {
			fieldErrs = fe
		}
	}

	var user *User
	if len(fieldErrs) == 0 {
		var err error
		user, err = h.service.Authenticate(r.Context(), form.Email, form.Password)
		if err != nil {
			fieldErrs["general"] = invalidLogin
		}
	}
	if len(fieldErrs) > 0 {
		h.logger.Info("login rejected", slog.String("email", form.Email))
		if asJSON {
			httpx.RespondError(w, fieldErrs)
			return
		}
		form.Password = ""
		h.renderLogin(w, r, http.StatusBadRequest, loginPageData{Form: form, Errors: fieldErrs})
		return
	}

	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		h.logger.Error("session missing during login")
		httpx.Problem(w, http.StatusInternalServerError, "Internal Server Error", "session unavailable")
		return
	}
	h.sessionManager.Renew(sess)
	sess.Delete(shared.CSRFSessionKey)
	sess.SetUser(user.ID)
	token, _ := h.csrfManager.EnsureToken(sess)
	expiresAt := time.Now().Add(h.sessionManager.TTL())
	if err := h.service.RegisterSession(r.Context(), sess.ID, user.ID, expiresAt, r.RemoteAddr, r.UserAgent()); err != nil {
		h.logger.Warn("register session", slog.Any("error", err))
	}
	h.logger.Info("login", slog.String("user", user.ID))

	if asJSON {
		httpx.JSON(w, http.StatusOK, sessionView{Authenticated: true, User: user, CSRFToken: token})
		return
	}
	sess.AddFlash(shared.FlashMessage{Kind: "success", Message: "Willkommen zurück"})
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess != nil {
		if err := h.service.RemoveSession(r.Context(), sess.ID); err != nil {
			h.logger.Warn("remove session", slog.Any("error", err))
		}
		h.sessionManager.Destroy(sess)
	}
	if isJSON(r) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	http.Redirect(w, r, "/auth/login", http.StatusSeeOther)
}

func (h *Handler) showSession(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	token, err := h.csrfManager.EnsureToken(sess)
	if err != nil {
		httpx.Problem(w, http.StatusInternalServerError, "Internal Server Error", "session unavailable")
		return
	}
	out := sessionView{CSRFToken: token}
	if id := sess.User(); id != "" {
		if user, err := h.service.Lookup(r.Context(), id); err == nil {
			out.Authenticated = true
			out.User = user
		}
	}
	httpx.JSON(w, http.StatusOK, out)
}

// Current resolves the logged-in, active user of the request session.
func (h *Handler) Current(r *http.Request) (shared.CurrentUser, bool) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil || sess.User() == "" {
		return shared.CurrentUser{}, false
	}
	user, err := h.service.Lookup(r.Context(), sess.User())
	if err != nil {
		if !errors.Is(err, shared.ErrNotFound) {
			h.logger.Error("lookup session user", slog.Any("error", err))
		}
		return shared.CurrentUser{}, false
	}
	return shared.CurrentUser{ID: user.ID, Email: user.Email, Name: user.Name}, true
}

// RequireUser rejects requests without a logged-in, active user and stores the user
// in the request context.
func (h *Handler) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := h.Current(r)
		if !ok {
			httpx.RespondError(w, httpx.ErrUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithUser(r.Context(), user)))
	})
}

func (h *Handler) renderLogin(w http.ResponseWriter, r *http.Request, status int, data loginPageData) {
	sess := shared.SessionFromContext(r.Context())
	csrfToken, _ := h.csrfManager.EnsureToken(sess)
	var flash *shared.FlashMessage
	if sess != nil {
		flash = sess.PopFlash()
	}
	viewData := view.TemplateData{
		Title:       "Anmelden",
		CSRFToken:   csrfToken,
		Flash:       flash,
		CurrentPath: r.URL.Path,
		Data:        data,
	}
	if err := h.templates.Render(w, status, "pages/login.html", viewData); err != nil {
		h.logger.Error("render login", slog.Any("error", err))
	}
}

func isJSON(r *http.Request) bool {
	if ct, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err == nil && ct == "application/json" {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}
