package middleware

import (
	"context"
	"encoding/gob"
	"errors"
	"net/http"

	"github.com/alexedwards/scs/v2"
	"github.com/ghaggin/envelope/internal/config"
	"github.com/ghaggin/envelope/internal/model"
	"github.com/jonboulle/clockwork"
	"go.uber.org/fx"
)

const (
	sessionKey = "session_key"
)

var (
	errSessionNotFound = errors.New("session not found")
	errSessionExpired  = errors.New("session expired")
)

// SessionManager keeps parent sessions in the scs store.
type SessionManager struct {
	impl   *scs.SessionManager
	clock  clockwork.Clock
	config config.Parent
}

type SessionParams struct {
	fx.In

	Config *config.Config
	Clock  clockwork.Clock
}

func NewSessionManager(p SessionParams) (*SessionManager, error) {
	gob.Register(&model.Session{})

	sm := &SessionManager{
		clock:  p.Clock,
		config: p.Config.Parent,
	}
	sm.impl = scs.New()
	sm.impl.Lifetime = p.Config.Parent.SessionLifetime
	sm.impl.Cookie.Name = "parent_session"
	sm.impl.Cookie.HttpOnly = true
	sm.impl.Cookie.SameSite = http.SameSiteLaxMode
	sm.impl.Cookie.Secure = p.Config.IsProduction()

	return sm, nil
}

func (s *SessionManager) Wrap(next http.Handler) http.Handler {
	return s.impl.LoadAndSave(next)
}

func (s *SessionManager) Get(ctx context.Context) (*model.Session, error) {
	session, ok := s.impl.Get(ctx, sessionKey).(*model.Session)
	if !ok {
		return nil, errSessionNotFound
	}

	if !session.AuthValid || !s.clock.Now().Before(session.AuthExpiration) {
		return nil, errSessionExpired
	}

	return session, nil
}

func (s *SessionManager) SetAuthenticated(ctx context.Context, name string) error {
	// new token on privilege change
	if err := s.impl.RenewToken(ctx); err != nil {
		return err
	}

	session, ok := s.impl.Get(ctx, sessionKey).(*model.Session)
	if !ok {
		session = &model.Session{}
	}

	session.UID = name
	session.AuthValid = true
	session.AuthExpiration = s.clock.Now().Add(s.config.SessionLifetime)

	s.impl.Put(ctx, sessionKey, session)
	return nil
}

func (s *SessionManager) Destroy(ctx context.Context) error {
	return s.impl.Destroy(ctx)
}
