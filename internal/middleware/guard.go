package middleware

import (
	"net/http"

	"github.com/ghaggin/envelope/internal/config"
	"github.com/ghaggin/envelope/internal/kidsession"
	"github.com/ghaggin/envelope/internal/route"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Verifier checks a raw kid session cookie value.
type Verifier interface {
	Verify(cookieValue string) kidsession.Result
}

// Guard gates kid routes with the kid session cookie and parent pages with
// the parent session. Every rejection is a redirect.
type Guard struct {
	verifier   Verifier
	matcher    *route.Matcher
	sessions   *SessionManager
	cookieName string
	bypass     bool
	log        *zap.Logger
}

type GuardParams struct {
	fx.In

	Config        *config.Config
	Authenticator *kidsession.Authenticator
	Matcher       *route.Matcher
	Sessions      *SessionManager
	Log           *zap.Logger
}

func NewGuard(p GuardParams) (*Guard, error) {
	return newGuard(p.Authenticator, p.Matcher, p.Sessions, p.Config, p.Log), nil
}

func newGuard(v Verifier, m *route.Matcher, s *SessionManager, cfg *config.Config, log *zap.Logger) *Guard {
	if cfg.AuditMode {
		log.Warn("AUDIT_MODE is enabled, all authentication is bypassed")
	}

	return &Guard{
		verifier:   v,
		matcher:    m,
		sessions:   s,
		cookieName: cfg.KidSession.CookieName,
		bypass:     cfg.AuditMode,
		log:        log,
	}
}

// Kids applies the kid session check to kid routes and passes every other
// path through untouched.
func (g *Guard) Kids(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.bypass {
			next.ServeHTTP(w, r)
			return
		}

		requested, ok := g.matcher.Match(route.RoutePath(r))
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		cookie, err := r.Cookie(g.cookieName)
		if err != nil || cookie.Value == "" {
			redirect(w, r, route.KidLoginPath)
			return
		}

		res := g.verifier.Verify(cookie.Value)
		if !res.Valid {
			http.SetCookie(w, kidsession.ClearCookie(g.cookieName))
			redirect(w, r, route.KidLoginPath)
			return
		}

		if res.ChildID != requested {
			g.log.Debug("kid session for another child",
				zap.String("child_id", res.ChildID),
				zap.String("requested", requested),
			)
			redirect(w, r, route.DashboardPath(res.ChildID))
			return
		}

		next.ServeHTTP(w, r.WithContext(withChild(r.Context(), res.ChildID)))
	})
}

// Parents requires an authenticated parent session. It must run inside
// SessionManager.Wrap.
func (g *Guard) Parents(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.bypass {
			next.ServeHTTP(w, r)
			return
		}

		session, err := g.sessions.Get(r.Context())
		if err != nil {
			redirect(w, r, route.ParentLoginPath)
			return
		}

		next.ServeHTTP(w, r.WithContext(withParent(r.Context(), session)))
	})
}

func redirect(w http.ResponseWriter, r *http.Request, target string) {
	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, target, http.StatusSeeOther)
}
