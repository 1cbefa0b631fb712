package parent

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ghaggin/envelope/internal/middleware"
	"github.com/ghaggin/envelope/internal/model"
	"github.com/ghaggin/envelope/internal/pin"
	"github.com/ghaggin/envelope/internal/repository"
	"github.com/ghaggin/envelope/internal/route"
	"github.com/ghaggin/envelope/internal/template"
	"github.com/go-chi/chi/v5"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var errEmptyName = errors.New("name is required")

// Handler serves the parent pages.
type Handler struct {
	repo     repository.Repository
	sessions *middleware.SessionManager
	saml     *SAML
	log      *zap.Logger
}

type HandlerParams struct {
	fx.In

	Repo     repository.Repository
	Sessions *middleware.SessionManager
	SAML     *SAML
	Log      *zap.Logger
}

func NewHandler(p HandlerParams) (*Handler, error) {
	return &Handler{
		repo:     p.Repo,
		sessions: p.Sessions,
		saml:     p.SAML,
		log:      p.Log,
	}, nil
}

type loginData struct {
	PageTitle  string
	SSOEnabled bool
}

type childrenData struct {
	PageTitle string
	Children  []model.Child
}

// PublicRoutes registers the sign in endpoints.
func (h *Handler) PublicRoutes(r chi.Router) {
	r.Get(route.ParentLoginPath, h.login)
	if h.saml.Enabled() {
		r.HandleFunc("/saml/login", h.saml.HandleStartAuthFlow)
		r.Get("/saml/metadata", h.saml.ServeMetadata)
		r.Post("/saml/acs", h.saml.ServeACS)
	}
}

// Routes registers pages that need a parent session.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
	})
	r.Get("/dashboard", h.dashboard)
	r.Get("/children", h.children)
	r.Post("/children", h.addChild)
	r.Post("/logout", h.logout)
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "login.html", &loginData{
		PageTitle:  "sign in",
		SSOEnabled: h.saml.Enabled(),
	})
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Destroy(r.Context()); err != nil {
		h.log.Error("destroying parent session", zap.Error(err))
	}
	http.Redirect(w, r, route.ParentLoginPath, http.StatusSeeOther)
}

func (h *Handler) dashboard(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "dashboard.html", &template.Data{
		PageTitle: "home",
		UID:       parentUID(r),
	})
}

func (h *Handler) children(w http.ResponseWriter, r *http.Request) {
	children, err := h.repo.ListChildren(r.Context(), parentUID(r))
	if err != nil {
		h.log.Error("listing children", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.render(w, r, "children.html", &childrenData{
		PageTitle: "kids",
		Children:  children,
	})
}

func (h *Handler) addChild(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	name := strings.TrimSpace(r.PostFormValue("name"))
	if name == "" {
		http.Error(w, errEmptyName.Error(), http.StatusBadRequest)
		return
	}

	pinHash, err := pin.Hash(r.PostFormValue("pin"))
	if errors.Is(err, pin.ErrInvalidPIN) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		h.log.Error("hashing pin", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	child := &model.Child{
		ParentID: parentUID(r),
		Name:     name,
		PINHash:  pinHash,
	}
	if err := h.repo.AddChild(r.Context(), child); err != nil {
		h.log.Error("adding child", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.log.Info("child added", zap.String("child_id", child.ID), zap.String("parent_id", child.ParentID))
	http.Redirect(w, r, "/children", http.StatusSeeOther)
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, tmpl string, td any) {
	if err := template.Render(w, r, tmpl, td); err != nil {
		h.log.Error("rendering template", zap.String("template", tmpl), zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

// parentUID is empty when authentication is bypassed.
func parentUID(r *http.Request) string {
	if s, ok := middleware.ParentFromContext(r.Context()); ok {
		return s.UID
	}
	return ""
}
