// Package server exposes extraction sessions over HTTP: login, plant lookups,
// job control, workbook download, sink publishing and a websocket progress
// stream.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/airframesio/epias-extractor/cmd/coordinator"
	"github.com/airframesio/epias-extractor/cmd/epias"
	"github.com/airframesio/epias-extractor/cmd/sinks"
	"github.com/airframesio/epias-extractor/cmd/store"
)

// DefaultSessionTTL drops sessions idle for two hours.
const DefaultSessionTTL = 2 * time.Hour

var (
	ErrSecretRequired = errors.New("server secret is required")
	ErrSessionExpired = errors.New("session expired")
)

// Config wires a Server.
type Config struct {
	// Secret signs session tokens.
	Secret []byte
	// SessionTTL is the inactivity timeout of a session and its jobs.
	SessionTTL time.Duration
	// ClientOptions are applied to the upstream client of every session.
	ClientOptions []epias.Option
	// CoordinatorOptions are applied to the coordinator of every session.
	CoordinatorOptions []coordinator.Option
	// Checkpoints persists job progress; nil keeps it in memory only.
	Checkpoints store.CheckpointStore
	// Sinks receives published jobs; nil disables publishing.
	Sinks *sinks.Fanout
	// Health checks optional dependencies for /api/health.
	Health  map[string]func(context.Context) error
	Version string
	Logger  *slog.Logger
}

// Session is one logged-in user: an upstream client and its jobs.
type Session struct {
	ID          string
	Username    string
	Client      *epias.Client
	Coordinator *coordinator.Coordinator
	CreatedAt   time.Time
}

// Server serves the job-control API.
type Server struct {
	config   Config
	logger   *slog.Logger
	sessions *store.TTLCache[*Session]
	engine   *gin.Engine
	started  time.Time
}

// New builds the server and its routes.
func New(cfg Config) (*Server, error) {
	if len(cfg.Secret) == 0 {
		return nil, ErrSecretRequired
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	s := &Server{
		config:  cfg,
		logger:  logger,
		started: time.Now(),
	}
	s.sessions = store.NewTTLCache[*Session](cfg.SessionTTL, store.WithEvictCallback(s.closeSession))

	interval := cfg.SessionTTL / 10
	if interval < time.Second {
		interval = time.Second
	}
	s.sessions.StartJanitor(interval)

	s.engine = s.routes()
	return s, nil
}

func (s *Server) routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), s.requestLogger())

	engine.GET("/api/health", s.health)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	engine.POST("/api/auth", s.authenticate)

	api := engine.Group("/api")
	api.Use(s.requireSession())
	{
		api.POST("/logout", s.logout)
		api.GET("/session", s.session)

		api.GET("/plants", s.plants)
		api.GET("/plants/:org/uevcb", s.uevcbs)

		api.POST("/jobs", s.startJob)
		api.GET("/jobs", s.listJobs)
		api.GET("/jobs/:id", s.pollJob)
		api.POST("/jobs/:id/resume", s.resumeJob)
		api.GET("/jobs/:id/result", s.jobResult)
		api.GET("/jobs/:id/export", s.exportJob)
		api.POST("/jobs/:id/publish", s.publishJob)
		api.GET("/jobs/:id/events", s.jobEvents)
	}
	return engine
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug(fmt.Sprintf("%s %s %d %v", c.Request.Method, c.FullPath(), c.Writer.Status(), time.Since(start)))
	}
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info(fmt.Sprintf("🌐 Serving job API on http://%s", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("🛑 Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

// Close ends every session, stopping their running jobs.
func (s *Server) Close() {
	s.sessions.Close()
	for _, id := range s.sessions.Keys() {
		s.sessions.Delete(id)
	}
}

// SessionCount returns the number of live sessions.
func (s *Server) SessionCount() int {
	return len(s.sessions.Keys())
}

// JobCount returns the number of live jobs across sessions.
func (s *Server) JobCount() int {
	count := 0
	for _, id := range s.sessions.Keys() {
		if session, ok := s.sessions.Peek(id); ok {
			count += len(session.Coordinator.Jobs())
		}
	}
	return count
}

func (s *Server) newSession(username string) *Session {
	client := epias.NewClient(append([]epias.Option{epias.WithLogger(s.logger)}, s.config.ClientOptions...)...)
	opts := []coordinator.Option{
		coordinator.WithLogger(s.logger),
		coordinator.WithJobTTL(s.config.SessionTTL),
	}
	if s.config.Checkpoints != nil {
		opts = append(opts, coordinator.WithCheckpointStore(s.config.Checkpoints))
	}
	opts = append(opts, s.config.CoordinatorOptions...)

	return &Session{
		Username:    username,
		Client:      client,
		Coordinator: coordinator.New(client, opts...),
		CreatedAt:   time.Now(),
	}
}

func (s *Server) closeSession(id string, session *Session) {
	session.Coordinator.Close()
	s.logger.Info(fmt.Sprintf("🧹 Closed session %s (%s)", id, session.Username))
}
