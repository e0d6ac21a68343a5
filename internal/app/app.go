// Package app wires the environment, the session store and the OpenID
// consumer the way every command needs them.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/andrebq/authopenid/consumer"
	"github.com/andrebq/authopenid/consumer/api"
	"github.com/andrebq/authopenid/consumer/extension"
	"github.com/andrebq/authopenid/env"
	"github.com/andrebq/authopenid/internal/authproxy"
	"github.com/andrebq/authopenid/internal/config"
	"github.com/andrebq/authopenid/internal/logutil"
	"github.com/andrebq/authopenid/web"
	"github.com/gorilla/securecookie"
)

type (
	App struct {
		Env      *env.Environment
		Sessions *web.SQLStore
		Consumer *consumer.Consumer
	}
)

// Open loads the config at cfgPath and the environment at dir. Session
// tables are registered before the OpenID tables.
func Open(ctx context.Context, dir, cfgPath string, create bool, opts ...consumer.Option) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	return OpenWithConfig(ctx, dir, cfg, create, opts...)
}

func OpenWithConfig(ctx context.Context, dir string, cfg config.Config, create bool, opts ...consumer.Option) (*App, error) {
	e, err := env.Open(ctx, dir, cfg, create)
	if err != nil {
		return nil, err
	}
	providers, err := extension.FromNames(cfg.OpenID, cfg.OpenID.ExtensionProviders)
	if err != nil {
		e.Close()
		return nil, err
	}
	sessions := web.NewSQLStore(e)
	e.Register(sessions)
	opts = append([]consumer.Option{consumer.WithExtensionProviders(providers...)}, opts...)
	c, err := consumer.New(e, opts...)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("unable to create OpenID consumer, cause %w", err)
	}
	return &App{Env: e, Sessions: sessions, Consumer: c}, nil
}

func (a *App) Close() error {
	cerr := a.Consumer.Close()
	err := a.Env.Close()
	if err == nil {
		err = cerr
	}
	return err
}

// Handler serves the login endpoints with the visitor session loaded.
// Other requests go to server.upstream, when configured.
func (a *App) Handler() (http.Handler, error) {
	cfg := a.Env.Config()
	h, err := api.New(a.Consumer, web.Href(cfg.Server.BaseURL), api.DefaultPrefix)
	if err != nil {
		return nil, err
	}
	handler := h.Router()
	if cfg.Server.Upstream != "" {
		upstream, err := url.Parse(cfg.Server.Upstream)
		if err != nil {
			return nil, fmt.Errorf("invalid upstream %v, cause %w", cfg.Server.Upstream, err)
		}
		handler = authproxy.AsHandler(handler, api.DefaultPrefix, upstream, cfg.Server.ProtectUpstream)
	}
	secret, err := a.sessionSecret()
	if err != nil {
		return nil, err
	}
	return web.NewManager(a.Sessions, secret, cfg.Server.InsecureCookie).Middleware(handler), nil
}

func (a *App) sessionSecret() ([]byte, error) {
	if secret := a.Env.Config().Server.SessionSecret; secret != "" {
		return []byte(secret), nil
	}
	log := a.Env.Logger()
	log.Warn().Msg("No server.session_secret configured, session cookies will be invalid after a restart")
	secret := securecookie.GenerateRandomKey(32)
	if secret == nil {
		return nil, errors.New("unable to generate a session secret")
	}
	return secret, nil
}

// Cleanup removes expired nonces and associations, and sessions older
// than sessionAge when it is positive.
func (a *App) Cleanup(ctx context.Context, sessionAge time.Duration) error {
	log := logutil.GetOrDefault(ctx)
	nonces, assocs, err := a.Consumer.Store().Cleanup(ctx)
	if err != nil {
		return err
	}
	var sessions int64
	if sessionAge > 0 {
		sessions, err = a.Sessions.Purge(ctx, time.Now().Add(-sessionAge))
		if err != nil {
			return fmt.Errorf("unable to purge sessions, cause %w", err)
		}
	}
	log.Info().Int64("nonces", nonces).Int64("associations", assocs).Int64("sessions", sessions).Msg("Cleanup completed")
	return nil
}
