// Package web serves the marketplace visualisation page and its static
// assets.
package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Defaults
const (
	DefaultAddr      = "0.0.0.0:8000"
	DefaultStaticDir = "visualisation"
	DefaultIndexFile = "marketplace_visualiser.html"
	DefaultMountPath = "/visualisation"

	shutdownTimeout = 10 * time.Second
)

// Config configures the server.
type Config struct {
	Addr      string `mapstructure:"addr"`
	StaticDir string `mapstructure:"static_dir"`
	IndexFile string `mapstructure:"index_file"`
	MountPath string `mapstructure:"mount_path"`
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.StaticDir == "" {
		c.StaticDir = DefaultStaticDir
	}
	if c.IndexFile == "" {
		c.IndexFile = DefaultIndexFile
	}
	if c.MountPath == "" {
		c.MountPath = DefaultMountPath
	}
	c.MountPath = "/" + strings.Trim(c.MountPath, "/")
}

// Validate checks the static directory exists.
func (c *Config) Validate() error {
	info, err := os.Stat(c.StaticDir)
	if err != nil {
		return fmt.Errorf("static dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("static dir %s is not a directory", c.StaticDir)
	}
	if c.MountPath == "/" {
		return fmt.Errorf("mount path must not be the root")
	}
	return nil
}

// Server is the visualiser HTTP server.
type Server struct {
	cfg     Config
	logger  *slog.Logger
	metrics *Metrics
	router  chi.Router
}

// NewServer creates a server. cfg defaults are applied.
func NewServer(cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.ApplyDefaults()
	s := &Server{
		cfg:     cfg,
		logger:  logger,
		metrics: NewMetrics(),
	}
	s.router = s.routes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	// Metrics and logging wrap Recoverer so recovered panics are counted as 500s.
	r.Use(s.metrics.Middleware)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodHead, http.MethodOptions},
		MaxAge:         300,
	}))

	r.Get("/", s.handleIndex)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	mount := s.cfg.MountPath
	assets := http.StripPrefix(mount, http.FileServer(noListingFS{http.Dir(s.cfg.StaticDir)}))
	r.Get(mount, http.RedirectHandler(mount+"/", http.StatusMovedPermanently).ServeHTTP)
	r.Method(http.MethodGet, mount+"/*", assets)
	r.Method(http.MethodHead, mount+"/*", assets)

	return r
}

// handleIndex serves the visualisation page.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	path := filepath.Join(s.cfg.StaticDir, s.cfg.IndexFile)
	f, err := os.Open(path)
	if err != nil {
		s.logger.Error("index file unavailable", slog.String("path", path), slog.String("error", err.Error()))
		http.Error(w, "visualisation page not found", http.StatusNotFound)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		http.Error(w, "visualisation page not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Int("bytes", ww.BytesWritten()),
			slog.Duration("duration", time.Since(start)),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// Run listens on the configured address until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	if err := s.cfg.Validate(); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("visualiser listening",
			slog.String("addr", s.cfg.Addr),
			slog.String("static_dir", s.cfg.StaticDir),
			slog.String("index", s.cfg.IndexFile),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down visualiser")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// noListingFS refuses to open directories that have no index.html, so the
// mount never renders directory listings.
type noListingFS struct {
	fs http.FileSystem
}

func (n noListingFS) Open(name string) (http.File, error) {
	f, err := n.fs.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.IsDir() {
		index, err := n.fs.Open(strings.TrimSuffix(name, "/") + "/index.html")
		if err != nil {
			f.Close()
			return nil, os.ErrNotExist
		}
		index.Close()
	}
	return f, nil
}
