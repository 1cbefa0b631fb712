package route

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
)

const (
	KidLoginPath    = "/kids/login"
	KidLogoutPath   = "/kids/logout"
	ParentLoginPath = "/login"

	childIDParam = "childID"
)

// KidPages are the child dashboard sections gated by the kid session.
var KidPages = []string{"dashboard", "chores", "money", "goals", "invoices", "shop", "wishlist"}

// DashboardPath is the landing page of a child.
func DashboardPath(childID string) string {
	return "/kids/" + url.PathEscape(childID) + "/dashboard"
}

// Matcher decides whether a path is a kid route.
type Matcher struct {
	mux *chi.Mux
}

func NewMatcher() *Matcher {
	noop := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})

	mux := chi.NewRouter()
	for _, page := range KidPages {
		mux.Handle("/kids/{"+childIDParam+"}/"+page, noop)
		mux.Handle("/kids/{"+childIDParam+"}/"+page+"/*", noop)
	}

	return &Matcher{mux: mux}
}

// Match returns the requested child id when path is a kid route. path is in
// the form chi routes on (see RoutePath) and the child id is returned
// unescaped. The match ignores the request method.
func (m *Matcher) Match(path string) (string, bool) {
	rctx := chi.NewRouteContext()
	if !m.mux.Match(rctx, http.MethodGet, path) {
		return "", false
	}

	childID := rctx.URLParam(childIDParam)
	if unescaped, err := url.PathUnescape(childID); err == nil {
		childID = unescaped
	}
	if childID == "" {
		return "", false
	}

	return childID, true
}

// RoutePath is the path chi routes r on: the raw path when the request
// carries escaped separators, the decoded path otherwise.
func RoutePath(r *http.Request) string {
	if r.URL.RawPath != "" {
		return r.URL.RawPath
	}
	return r.URL.Path
}
