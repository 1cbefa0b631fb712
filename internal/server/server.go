package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/ghaggin/envelope/internal/config"
	"github.com/ghaggin/envelope/internal/kids"
	"github.com/ghaggin/envelope/internal/middleware"
	"github.com/ghaggin/envelope/internal/parent"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Server struct {
	log    *zap.Logger
	server *http.Server
}

type Params struct {
	fx.In

	Log      *zap.Logger
	Config   *config.Config
	Sessions *middleware.SessionManager
	Guard    *middleware.Guard
	Kids     *kids.Handler
	Parents  *parent.Handler
}

func New(p Params) (*Server, error) {
	return &Server{
		log: p.Log,
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", p.Config.Server.Port),
			Handler: NewRouter(p),
		},
	}, nil
}

// NewRouter wires every route behind the session and kid middleware. Parent
// pages additionally require a parent session.
func NewRouter(p Params) http.Handler {
	root := chi.NewRouter()
	root.Use(chimw.Recoverer)
	root.Use(p.Sessions.Wrap)
	root.Use(p.Guard.Kids)

	// No Auth
	root.Group(func(r chi.Router) {
		r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		p.Parents.PublicRoutes(r)
		p.Kids.Routes(r)
	})

	// Parent auth
	root.Group(func(r chi.Router) {
		r.Use(p.Guard.Parents)
		p.Parents.Routes(r)
	})

	return root
}

// RegisterHooks should be invoked by fx
func RegisterHooks(lc fx.Lifecycle, s *Server) {
	lc.Append(fx.Hook{
		OnStart: s.Start,
		OnStop:  s.server.Shutdown,
	})
}

func (s *Server) Start(_ context.Context) error {
	s.log.Info("starting server", zap.String("addr", s.server.Addr))
	go func() {
		err := s.server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("error running server", zap.Error(err))
		}
	}()
	return nil
}
