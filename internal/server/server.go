package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/agentsh/linkguard/internal/api"
	"github.com/agentsh/linkguard/internal/config"
	"github.com/agentsh/linkguard/internal/metrics"
	"github.com/agentsh/linkguard/internal/scan"
	"github.com/agentsh/linkguard/pkg/hotreload"
	"github.com/agentsh/linkguard/pkg/ratelimit"
)

const shutdownTimeout = 10 * time.Second

type Server struct {
	core       *Core
	scanner    *scan.Scanner
	metrics    *metrics.Collector
	logger     *slog.Logger
	httpServer *http.Server
	httpLn     net.Listener
}

// New builds the threat list core and the HTTP API and binds the listen address.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	collector := metrics.New()
	core, err := NewCore(cfg.SafeBrowsing, collector)
	if err != nil {
		return nil, err
	}
	scanner, err := scan.New(core.Matcher, cfg.Scan.Allowlist)
	if err != nil {
		return nil, err
	}

	var limiter *ratelimit.Limiter
	if rl := cfg.Server.RateLimit; rl.RequestsPerSecond > 0 {
		limiter = ratelimit.NewLimiter(rl.RequestsPerSecond, rl.Burst)
	}

	app := api.NewApp(api.Options{
		Checker: core.Matcher,
		Scanner: scanner,
		Updater: core.Syncer,
		Lists:   core.Store,
		Metrics: collector,
		Limiter: limiter,
		Logger:  logger,
	})

	if !isLoopbackListenAddr(cfg.Server.Addr) {
		logger.Warn("API has no authentication and listens on a non-loopback address", "addr", cfg.Server.Addr)
	}
	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", cfg.Server.Addr, err)
	}

	return &Server{
		core:    core,
		scanner: scanner,
		metrics: collector,
		logger:  logger,
		httpLn:  ln,
		httpServer: &http.Server{
			Handler:           app.Router(),
			ReadTimeout:       cfg.Server.ReadTimeout,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      cfg.Server.WriteTimeout,
		},
	}, nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() string {
	return s.httpLn.Addr().String()
}

func (s *Server) Core() *Core { return s.core }

// Sync runs one synchronization round and logs the outcome.
func (s *Server) Sync(ctx context.Context) error {
	err := s.core.Syncer.Update(ctx)
	if err != nil {
		s.logger.Error("threat list update failed", "error", err)
		return err
	}
	s.logger.Info("threat lists updated",
		"prefixes", s.core.Store.Size(),
		"minimum_wait", s.core.Syncer.MinimumWait(),
	)
	return nil
}

// WatchConfig reloads the scan allowlist whenever the config file at path
// changes. Other settings need a restart.
func (s *Server) WatchConfig(ctx context.Context, path string) error {
	w, err := hotreload.NewFileWatcher(hotreload.WatcherConfig{
		Path: path,
		OnChange: func(p string) {
			cfg, err := config.Load(p)
			if err != nil {
				s.logger.Warn("config reload failed", "path", p, "error", err)
				return
			}
			if err := s.scanner.SetAllowlist(cfg.Scan.Allowlist); err != nil {
				s.logger.Warn("allowlist reload failed", "path", p, "error", err)
				return
			}
			s.logger.Info("scan allowlist reloaded", "path", p, "patterns", len(cfg.Scan.Allowlist))
		},
	})
	if err != nil {
		return err
	}
	return w.Start(ctx)
}

// Run serves the API until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("serving API", "addr", s.Addr())
		if err := s.httpServer.Serve(s.httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Close releases the listener of a server that was never run.
func (s *Server) Close() error {
	return s.httpLn.Close()
}

func isLoopbackListenAddr(addr string) bool {
	a := strings.TrimSpace(addr)
	if a == "" {
		return false
	}
	// ":8080" binds on all interfaces.
	if strings.HasPrefix(a, ":") {
		return false
	}
	host, _, err := net.SplitHostPort(a)
	if err != nil {
		host = a
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}
