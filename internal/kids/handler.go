package kids

import (
	"errors"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/ghaggin/envelope/internal/config"
	"github.com/ghaggin/envelope/internal/kidsession"
	"github.com/ghaggin/envelope/internal/limiter"
	"github.com/ghaggin/envelope/internal/middleware"
	"github.com/ghaggin/envelope/internal/pin"
	"github.com/ghaggin/envelope/internal/repository"
	"github.com/ghaggin/envelope/internal/route"
	"github.com/ghaggin/envelope/internal/template"
	"github.com/go-chi/chi/v5"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	loginFailedPath = route.KidLoginPath + "?error=1"
	loginLockedPath = route.KidLoginPath + "?locked=1"
)

var errBadCredentials = errors.New("bad child id or pin")

// Handler serves kid sign in and the kid pages.
type Handler struct {
	auth       *kidsession.Authenticator
	repo       repository.Repository
	limiter    *limiter.Limiter
	log        *zap.Logger
	cookieName string
	ttl        time.Duration
	secure     bool
	bypass     bool
}

type Params struct {
	fx.In

	Config        *config.Config
	Authenticator *kidsession.Authenticator
	Repo          repository.Repository
	Limiter       *limiter.Limiter
	Log           *zap.Logger
}

func NewHandler(p Params) (*Handler, error) {
	return &Handler{
		auth:       p.Authenticator,
		repo:       p.Repo,
		limiter:    p.Limiter,
		log:        p.Log,
		cookieName: p.Config.KidSession.CookieName,
		ttl:        p.Config.KidSession.TTL,
		secure:     p.Config.IsProduction(),
		bypass:     p.Config.AuditMode,
	}, nil
}

type loginData struct {
	PageTitle string
	ChildID   string
	Failed    bool
	Locked    bool
}

type pageData struct {
	PageTitle string
	ChildID   string
	Name      string
	Page      string
	Pages     []string
}

func (h *Handler) Routes(r chi.Router) {
	r.Get(route.KidLoginPath, h.loginForm)
	r.Post(route.KidLoginPath, h.login)
	r.Post(route.KidLogoutPath, h.logout)
	r.Get("/kids/{childID}/{page}", h.page)
	r.Get("/kids/{childID}/{page}/*", h.page)
}

func (h *Handler) loginForm(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	h.render(w, r, "kid_login.html", &loginData{
		PageTitle: "kid sign in",
		ChildID:   q.Get("child"),
		Failed:    q.Has("error"),
		Locked:    q.Has("locked"),
	})
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Redirect(w, r, loginFailedPath, http.StatusSeeOther)
		return
	}

	childID := strings.TrimSpace(r.PostFormValue("childId"))
	code := r.PostFormValue("pin")
	if childID == "" || pin.Validate(code) != nil {
		http.Redirect(w, r, loginFailedPath, http.StatusSeeOther)
		return
	}

	ctx := r.Context()
	err := h.limiter.Check(ctx, childID)
	if errors.Is(err, limiter.ErrRateLimited) {
		http.Redirect(w, r, loginLockedPath, http.StatusSeeOther)
		return
	}
	if err != nil {
		h.log.Warn("kid login limiter unavailable", zap.Error(err))
	}

	if err := h.checkPIN(r, childID, code); err != nil {
		h.log.Info("kid login failed", zap.String("child_id", childID), zap.Error(err))
		if err := h.limiter.Fail(ctx, childID); errors.Is(err, limiter.ErrRateLimited) {
			http.Redirect(w, r, loginLockedPath, http.StatusSeeOther)
			return
		} else if err != nil {
			h.log.Warn("recording failed kid login", zap.Error(err))
		}
		http.Redirect(w, r, loginFailedPath, http.StatusSeeOther)
		return
	}

	if err := h.limiter.Reset(ctx, childID); err != nil {
		h.log.Warn("resetting kid login limiter", zap.Error(err))
	}

	token, _, err := h.auth.Issue(childID, h.ttl)
	if err != nil {
		h.log.Error("issuing kid session", zap.Error(err))
		http.Redirect(w, r, loginFailedPath, http.StatusSeeOther)
		return
	}

	http.SetCookie(w, kidsession.Cookie(h.cookieName, token, h.ttl, h.secure))
	http.Redirect(w, r, route.DashboardPath(childID), http.StatusSeeOther)
}

func (h *Handler) checkPIN(r *http.Request, childID, code string) error {
	child, err := h.repo.GetChild(r.Context(), childID)
	if err != nil {
		return err
	}

	ok, err := pin.Verify(code, child.PINHash)
	if err != nil {
		return err
	}
	if !ok {
		return errBadCredentials
	}
	return nil
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, kidsession.ClearCookie(h.cookieName))
	http.Redirect(w, r, route.KidLoginPath, http.StatusSeeOther)
}

func (h *Handler) page(w http.ResponseWriter, r *http.Request) {
	page := chi.URLParam(r, "page")
	if !slices.Contains(route.KidPages, page) {
		http.NotFound(w, r)
		return
	}

	// pages render only for a child verified by Guard.Kids
	childID, ok := middleware.ChildFromContext(r.Context())
	if !ok && !h.bypass {
		w.Header().Set("Cache-Control", "no-store")
		http.Redirect(w, r, route.KidLoginPath, http.StatusSeeOther)
		return
	}
	if !ok {
		childID = chi.URLParam(r, "childID")
		if unescaped, err := url.PathUnescape(childID); err == nil {
			childID = unescaped
		}
	}

	name := childID
	if child, err := h.repo.GetChild(r.Context(), childID); err == nil {
		name = child.Name
	}

	h.render(w, r, "kid_page.html", &pageData{
		PageTitle: page,
		ChildID:   childID,
		Name:      name,
		Page:      page,
		Pages:     route.KidPages,
	})
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, tmpl string, td any) {
	if err := template.Render(w, r, tmpl, td); err != nil {
		h.log.Error("rendering template", zap.String("template", tmpl), zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}
