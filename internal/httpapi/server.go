// Package httpapi serves the public HTTP surface next to the bot: direct
// download links, a status page, the referral leaderboard, health and
// Prometheus metrics.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/filegate-bot/internal/features/content"
	"serotonyl.ru/filegate-bot/internal/features/settings"
	"serotonyl.ru/filegate-bot/internal/features/users"
)

// topLimit is how many referrers /top returns.
const topLimit = 10

// ContentService is the part of content.Service the download route uses.
type ContentService interface {
	GetItem(ctx context.Context, token string) (*content.Item, error)
	ConsumeDownload(ctx context.Context, token string, userID int64) (*content.Item, error)
	Received(ctx context.Context, token string, userID int64) (bool, error)
}

// FileResolver turns a Telegram file_id into a download URL.
type FileResolver interface {
	FileURL(ctx context.Context, fileID string) (string, error)
}

// SettingsReader exposes the service switches and counters.
type SettingsReader interface {
	Get(ctx context.Context) (settings.Settings, error)
	Stats(ctx context.Context) (settings.Stats, error)
}

// ReferrerBoard lists the most active referrers.
type ReferrerBoard interface {
	TopReferrers(ctx context.Context, limit int) ([]users.User, error)
}

// Deps are the collaborators of the HTTP server.
type Deps struct {
	Content  ContentService
	Files    FileResolver
	Settings SettingsReader
	Users    ReferrerBoard
	Currency string
}

// Server is the HTTP server.
type Server struct {
	deps       Deps
	httpServer *http.Server
}

// New builds the router and the http.Server listening on addr.
func New(addr string, d Deps) *Server {
	s := &Server{deps: d}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Routes returns the chi router. Exposed for tests.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(Metrics)

	r.Get("/", s.handleStatus)
	r.Get("/top", s.handleTop)
	r.Get("/healthz", s.handleHealth)
	r.Get("/f/{token}", s.handleDownload)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.WithFields(log.Fields{
			"component": "http",
			"addr":      s.httpServer.Addr,
		}).Info("HTTP server started")

		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	log.WithField("component", "http").Info("HTTP server stopped")
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).WithField("component", "http").Debug("write response failed")
	}
}
