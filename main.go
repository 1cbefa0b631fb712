package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ghaggin/envelope/internal/config"
	"github.com/ghaggin/envelope/internal/kids"
	"github.com/ghaggin/envelope/internal/kidsession"
	"github.com/ghaggin/envelope/internal/limiter"
	"github.com/ghaggin/envelope/internal/middleware"
	"github.com/ghaggin/envelope/internal/parent"
	"github.com/ghaggin/envelope/internal/repository"
	"github.com/ghaggin/envelope/internal/route"
	"github.com/ghaggin/envelope/internal/server"
	"github.com/jonboulle/clockwork"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	var (
		mode       = flag.String("mode", string(config.ModeServe), "either serve or mint")
		configPath = flag.String("config", "", "path to the yaml config file")
		child      = flag.String("child", "", "child id to mint a kid session for")
		ttl        = flag.Duration("ttl", 0, "lifetime of a minted kid session, defaults to the configured ttl")
	)
	flag.Parse()

	deps := fx.Options(
		fx.Supply(config.Path(*configPath)),
		fx.Provide(
			config.New,
			newLogger,
			clockwork.NewRealClock,
			kidsession.New,
		),
	)

	switch config.Mode(*mode) {
	case config.ModeServe:
		fx.New(
			deps,
			fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
				return &fxevent.ZapLogger{Logger: log.Named("fx")}
			}),
			fx.Provide(
				route.NewMatcher,
				middleware.NewSessionManager,
				middleware.NewGuard,
				repository.NewJSON,
				limiter.New,
				parent.NewSAML,
				parent.NewHandler,
				kids.NewHandler,
				server.New,
			),
			fx.Invoke(server.RegisterHooks),
		).Run()
	case config.ModeMint:
		app := fx.New(
			deps,
			fx.NopLogger,
			fx.Invoke(func(cfg *config.Config, auth *kidsession.Authenticator) error {
				return mint(cfg, auth, *child, *ttl)
			}),
		)
		if err := app.Err(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	default:
		panic("unrecognized mode")
	}
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.IsProduction() {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

// mint prints a signed kid session for local testing.
func mint(cfg *config.Config, auth *kidsession.Authenticator, childID string, ttl time.Duration) error {
	if ttl == 0 {
		ttl = cfg.KidSession.TTL
	}

	token, session, err := auth.Issue(childID, ttl)
	if err != nil {
		return fmt.Errorf("minting kid session: %w", err)
	}

	fmt.Printf("%s=%s\n", cfg.KidSession.CookieName, token)
	fmt.Fprintf(os.Stderr, "expires %s\n", time.UnixMilli(session.ExpiresAt).UTC().Format(time.RFC3339))
	return nil
}
