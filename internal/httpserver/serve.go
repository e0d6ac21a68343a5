package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/andrebq/authopenid/internal/logutil"
	"github.com/google/uuid"
)

// Serve runs handler on bind until ctx is cancelled, every request
// context carries a logger tagged with a request id.
func Serve(ctx context.Context, bind string, handler http.Handler) error {
	server := http.Server{
		Handler:           WithLogger(ctx, handler),
		Addr:              bind,
		ReadTimeout:       time.Minute,
		WriteTimeout:      time.Minute,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       time.Minute * 5,
	}
	err := make(chan error, 1)
	done := make(chan struct{})
	go serveInBackground(ctx, &server, err, done)
	<-done
	return <-err
}

// WithLogger attaches the logger from ctx to each request.
func WithLogger(ctx context.Context, next http.Handler) http.Handler {
	base := logutil.GetOrDefault(ctx)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := base.With().Str("request_id", uuid.NewString()).Str("method", r.Method).Str("path", r.URL.Path).Logger()
		log.Debug().Msg("Request received")
		next.ServeHTTP(w, r.WithContext(logutil.WithLogger(r.Context(), log)))
	})
}

func serveInBackground(ctx context.Context, server *http.Server, firstErr chan<- error, done chan<- struct{}) {
	log := logutil.GetOrDefault(ctx).With().Str("server.addr", server.Addr).Logger()
	defer close(done)
	serverCtx, cancel := context.WithCancel(ctx)
	go func() {
		defer cancel()
		defer close(firstErr)
		log.Info().Msg("Starting HTTP server")
		err := server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			log.Info().Msg("Server closed")
			return
		} else if err != nil {
			select {
			case firstErr <- err:
			default:
			}
			return
		}
	}()
	<-serverCtx.Done()
	if ctx.Err() == nil {
		// server stopped on its own
		return
	}
	log.Info().Msg("Initiating shutdown process")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Shutdown failed")
		return
	}
	log.Info().Msg("Shutdown completed")
}
