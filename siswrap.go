package siswrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	cfg "github.com/loykin/siswrap/internal/config"
	"github.com/loykin/siswrap/internal/history"
	"github.com/loykin/siswrap/internal/history/factory"
	"github.com/loykin/siswrap/internal/logger"
	"github.com/loykin/siswrap/internal/metrics"
	"github.com/loykin/siswrap/internal/process"
	"github.com/loykin/siswrap/internal/registry"
	"github.com/loykin/siswrap/internal/server"
)

// Version is the service version reported on every launch. It is set at build
// time with -ldflags "-X github.com/loykin/siswrap.Version=...".
var Version = "dev"

// Re-export core types for external consumers.

type Config = cfg.Config

type Record = process.Record

type Kind = process.Kind

type HistorySink = history.Sink

func LoadConfig(path string) (*Config, error) { return cfg.LoadConfig(path) }

// Service owns everything behind one listening address.
type Service struct {
	cfg       *Config
	log       *slog.Logger
	logCloser io.Closer
	jobLogs   *logger.JobLogs
	reg       *registry.Registry
	router    *server.Router
	framework string
	closeOnce sync.Once
	closeErr  error
}

// ServiceOption customises NewService.
type ServiceOption func(*serviceOptions)

type serviceOptions struct {
	logOut io.Writer
	sink   history.Sink
	host   string
}

// WithLogOutput sets where the service logger writes when no log file is configured.
func WithLogOutput(w io.Writer) ServiceOption { return func(o *serviceOptions) { o.logOut = w } }

// WithHistorySink uses sink instead of opening history.dsn.
func WithHistorySink(sink HistorySink) ServiceOption {
	return func(o *serviceOptions) { o.sink = sink }
}

// WithHost overrides the host name reported on jobs.
func WithHost(h string) ServiceOption { return func(o *serviceOptions) { o.host = h } }

// NewService wires a registry, history sink, metrics and router from c.
func NewService(c *Config, opts ...ServiceOption) (*Service, error) {
	if c == nil {
		return nil, errors.New("nil config")
	}
	o := serviceOptions{}
	for _, fn := range opts {
		fn(&o)
	}
	if o.logOut == nil {
		o.logOut = io.Discard
	}
	log, closer, err := logger.New(c.LoggerOptions(), o.logOut)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}

	jobLogs := logger.NewJobLogs(c.JobLog())
	regOpts := []registry.Option{
		registry.WithLogger(log),
		registry.WithSpawner(process.Exec{Env: c.JobEnv(), Logs: jobLogs, OutputLimit: c.Jobs.OutputLimit}),
	}
	if o.host != "" {
		regOpts = append(regOpts, registry.WithHost(o.host))
	}
	sink := o.sink
	if sink == nil && c.History.Enabled {
		if sink, err = factory.NewSinkFromDSN(c.History.DSN); err != nil {
			_ = closer.Close()
			return nil, fmt.Errorf("history: %w", err)
		}
	}
	if sink != nil {
		regOpts = append(regOpts, registry.WithHistory(sink, c.History.Timeout))
	}
	reg := registry.New(regOpts...)

	routerOpts := []server.Option{
		server.WithLogger(log),
		server.WithServiceVersion(Version),
		server.WithVersionProbe(c.Jobs.VersionTimeout),
	}
	if c.Metrics.Enabled {
		h, err := metricsHandler(reg)
		if err != nil {
			_ = reg.Close()
			_ = closer.Close()
			return nil, fmt.Errorf("metrics: %w", err)
		}
		routerOpts = append(routerOpts, server.WithMetrics(c.Metrics.Path, h))
	}
	router := server.NewRouter(reg, c, c.Server.BasePath, routerOpts...)

	return &Service{
		cfg:       c,
		log:       log,
		logCloser: closer,
		jobLogs:   jobLogs,
		reg:       reg,
		router:    router,
		framework: c.Server.Framework,
	}, nil
}

// metricsHandler serves the process-wide job counters together with a
// per-service collector sampling the jobs of reg.
func metricsHandler(reg *registry.Registry) (http.Handler, error) {
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return nil, err
	}
	own := prometheus.NewRegistry()
	if err := own.Register(metrics.NewJobCollector(reg)); err != nil {
		return nil, err
	}
	return metrics.HandlerFor(prometheus.Gatherers{prometheus.DefaultGatherer, own}), nil
}

// Logger is the service logger.
func (s *Service) Logger() *slog.Logger { return s.log }

// Registry exposes the job registry, mainly for embedding.
func (s *Service) Registry() *registry.Registry { return s.reg }

// Handler is the HTTP handler without any listener.
func (s *Service) Handler() http.Handler { return s.router.Handler() }

// Run listens on the configured address and serves until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully
// within server.shutdown_timeout and releases the registry and logger.
func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	srv, err := server.NewServer(ln.Addr().String(), s.framework, s.router)
	if err != nil {
		_ = ln.Close()
		return err
	}
	s.log.Info("siswrap listening", "addr", ln.Addr().String(), "framework", s.framework, "version", Version)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		timeout := s.cfg.Server.ShutdownTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		s.log.Info("shutting down", "timeout", timeout)
		return srv.Shutdown(sctx)
	})
	err = g.Wait()
	if cerr := s.Close(); err == nil {
		err = cerr
	}
	return err
}

// Close releases the history sink and the log files. Running jobs are left alone.
func (s *Service) Close() error {
	s.closeOnce.Do(func() { s.closeErr = errors.Join(s.reg.Close(), s.jobLogs.Close(), s.logCloser.Close()) })
	return s.closeErr
}
