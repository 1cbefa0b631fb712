package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/ghaggin/envelope/internal/config"
	"github.com/ghaggin/envelope/internal/kids"
	"github.com/ghaggin/envelope/internal/kidsession"
	"github.com/ghaggin/envelope/internal/limiter"
	"github.com/ghaggin/envelope/internal/middleware"
	"github.com/ghaggin/envelope/internal/model"
	"github.com/ghaggin/envelope/internal/parent"
	"github.com/ghaggin/envelope/internal/pin"
	"github.com/ghaggin/envelope/internal/repository"
	"github.com/ghaggin/envelope/internal/route"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
)

type memRepo map[string]model.Child

func (m memRepo) GetChild(_ context.Context, id string) (*model.Child, error) {
	c, ok := m[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &c, nil
}

func (m memRepo) AddChild(_ context.Context, child *model.Child) error {
	m[child.ID] = *child
	return nil
}

func (m memRepo) ListChildren(context.Context, string) ([]model.Child, error) {
	return nil, nil
}

func newRouter(t *testing.T, auditMode bool) http.Handler {
	t.Helper()
	require := require.New(t)

	cfg := config.Default()
	cfg.AuditMode = auditMode
	log := zap.NewNop()
	clock := clockwork.NewRealClock()

	hash, err := pin.Hash("2468")
	require.NoError(err)
	repo := memRepo{
		"abc123": {ID: "abc123", Name: "Ada", PINHash: hash},
		"xyz789": {ID: "xyz789", Name: "Xavi", PINHash: hash},
	}

	auth, err := kidsession.New(kidsession.Params{Config: cfg, Clock: clock, Log: log})
	require.NoError(err)
	sessions, err := middleware.NewSessionManager(middleware.SessionParams{Config: cfg, Clock: clock})
	require.NoError(err)
	guard, err := middleware.NewGuard(middleware.GuardParams{
		Config:        cfg,
		Authenticator: auth,
		Matcher:       route.NewMatcher(),
		Sessions:      sessions,
		Log:           log,
	})
	require.NoError(err)
	lim, err := limiter.New(limiter.Params{LC: fxtest.NewLifecycle(t), Config: cfg, Log: log})
	require.NoError(err)
	kidsHandler, err := kids.NewHandler(kids.Params{Config: cfg, Authenticator: auth, Repo: repo, Limiter: lim, Log: log})
	require.NoError(err)
	parentHandler, err := parent.NewHandler(parent.HandlerParams{Repo: repo, Sessions: sessions, Log: log})
	require.NoError(err)

	return NewRouter(Params{
		Log:      log,
		Config:   cfg,
		Sessions: sessions,
		Guard:    guard,
		Kids:     kidsHandler,
		Parents:  parentHandler,
	})
}

func do(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func kidLogin(t *testing.T, h http.Handler, childID string) *http.Cookie {
	t.Helper()

	form := url.Values{"childId": {childID}, "pin": {"2468"}}
	req := httptest.NewRequest(http.MethodPost, "/kids/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := do(h, req)
	require.Equal(t, route.DashboardPath(childID), rr.Result().Header.Get("Location"))

	for _, c := range rr.Result().Cookies() {
		if c.Name == "kid_session" {
			return c
		}
	}
	t.Fatal("no kid session cookie")
	return nil
}

func get(path string, cookies ...*http.Cookie) *http.Request {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for _, c := range cookies {
		req.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	}
	return req
}

func Test_healthz(t *testing.T) {
	h := newRouter(t, false)
	assert.Equal(t, http.StatusOK, do(h, get("/healthz")).Code)
}

func Test_kidFlow(t *testing.T) {
	assert := assert.New(t)
	h := newRouter(t, false)

	rr := do(h, get("/kids/abc123/dashboard"))
	assert.Equal(http.StatusSeeOther, rr.Code)
	assert.Equal("/kids/login", rr.Result().Header.Get("Location"))

	cookie := kidLogin(t, h, "abc123")

	rr = do(h, get("/kids/abc123/dashboard", cookie))
	assert.Equal(http.StatusOK, rr.Code)
	assert.Contains(rr.Body.String(), "Ada's dashboard")

	rr = do(h, get("/kids/xyz789/money", cookie))
	assert.Equal(http.StatusSeeOther, rr.Code)
	assert.Equal("/kids/abc123/dashboard", rr.Result().Header.Get("Location"))

	tampered := &http.Cookie{Name: cookie.Name, Value: cookie.Value + "0"}
	rr = do(h, get("/kids/abc123/dashboard", tampered))
	assert.Equal("/kids/login", rr.Result().Header.Get("Location"))
}

func Test_kidFlow_escapedChildID(t *testing.T) {
	assert := assert.New(t)
	h := newRouter(t, false)

	for _, p := range []string{"/kids/ab%2Fc/dashboard", "/kids/ab%2Fc/goals/2", "/kids/abc123%2Fx/money"} {
		rr := do(h, get(p))
		assert.Equal(http.StatusSeeOther, rr.Code, p)
		assert.Equal("/kids/login", rr.Result().Header.Get("Location"), p)
	}

	cookie := kidLogin(t, h, "abc123")
	rr := do(h, get("/kids/ab%2Fc/dashboard", cookie))
	assert.Equal(http.StatusSeeOther, rr.Code)
	assert.Equal("/kids/abc123/dashboard", rr.Result().Header.Get("Location"))
}

func Test_parentPagesIgnoreKidCookie(t *testing.T) {
	h := newRouter(t, false)
	cookie := kidLogin(t, h, "abc123")

	rr := do(h, get("/dashboard", cookie))
	assert.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/login", rr.Result().Header.Get("Location"))

	rr = do(h, get("/login"))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func Test_auditMode(t *testing.T) {
	h := newRouter(t, true)

	rr := do(h, get("/dashboard"))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = do(h, get("/kids/abc123/dashboard"))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "Ada's dashboard")
}
