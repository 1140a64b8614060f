package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"dqx0.com/go/minirest/httpx"
	"dqx0.com/go/minirest/internal/admin"
	"dqx0.com/go/minirest/internal/config"
	"dqx0.com/go/minirest/internal/obs"
)

func serveCmd() *cobra.Command {
	var (
		configPath string
		flags      config.Config
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Long: `Run the HTTP server until SIGINT or SIGTERM, then drain in-flight
requests for the configured grace period.

Settings come from the config file (--config) when given; flags that are
set explicitly override it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			if configPath != "" {
				loaded, err := config.Load(configPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			overrideFromFlags(cmd, cfg, &flags)
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, cmd.ErrOrStderr(), nil)
		},
	}

	def := config.Default()
	f := cmd.Flags()
	f.StringVarP(&configPath, "config", "c", "", "Path to a minirest.json config file")
	f.StringVarP(&flags.Addr, "addr", "a", def.Addr, "Address to listen on (ip:port)")
	f.StringVar(&flags.AdminAddr, "admin-addr", "", "Address for /metrics, /healthz and /readyz (empty disables)")
	f.DurationVar((*time.Duration)(&flags.IdleTimeout), "idle-timeout", def.IdleTimeout.Std(), "Close connections idle this long")
	f.DurationVar((*time.Duration)(&flags.HeaderTimeout), "header-timeout", def.HeaderTimeout.Std(), "Maximum time to receive a request header")
	f.DurationVar((*time.Duration)(&flags.BodyTimeout), "body-timeout", def.BodyTimeout.Std(), "Maximum time to receive a request body")
	f.DurationVar((*time.Duration)(&flags.WriteTimeout), "write-timeout", def.WriteTimeout.Std(), "Maximum time to write a response")
	f.DurationVar((*time.Duration)(&flags.ShutdownGrace), "shutdown-grace", def.ShutdownGrace.Std(), "How long shutdown waits for in-flight requests")
	f.IntVar(&flags.MaxHeaderBytes, "max-header-bytes", 0, "Request header limit in bytes (0 for the default)")
	f.Int64Var(&flags.MaxBodyBytes, "max-body-bytes", 0, "Request body limit in bytes (0 for the default)")
	f.StringVar(&flags.Log.Level, "log-level", def.Log.Level, "Log level: debug, info, warn, error")
	f.StringVar(&flags.Log.Format, "log-format", def.Log.Format, "Log format: console, json or text")

	return cmd
}

// overrideFromFlags copies every flag the user set explicitly onto cfg.
func overrideFromFlags(cmd *cobra.Command, cfg, flags *config.Config) {
	set := cmd.Flags().Changed
	if set("addr") {
		cfg.Addr = flags.Addr
	}
	if set("admin-addr") {
		cfg.AdminAddr = flags.AdminAddr
	}
	if set("idle-timeout") {
		cfg.IdleTimeout = flags.IdleTimeout
	}
	if set("header-timeout") {
		cfg.HeaderTimeout = flags.HeaderTimeout
	}
	if set("body-timeout") {
		cfg.BodyTimeout = flags.BodyTimeout
	}
	if set("write-timeout") {
		cfg.WriteTimeout = flags.WriteTimeout
	}
	if set("shutdown-grace") {
		cfg.ShutdownGrace = flags.ShutdownGrace
	}
	if set("max-header-bytes") {
		cfg.MaxHeaderBytes = flags.MaxHeaderBytes
	}
	if set("max-body-bytes") {
		cfg.MaxBodyBytes = flags.MaxBodyBytes
	}
	if set("log-level") {
		cfg.Log.Level = flags.Log.Level
	}
	if set("log-format") {
		cfg.Log.Format = flags.Log.Format
	}
}

// runServe serves until ctx ends, then shuts down within the grace
// period. ready, when non-nil, receives the engine once its routes are
// registered.
func runServe(ctx context.Context, cfg *config.Config, logOut io.Writer, ready chan<- *httpx.Server) error {
	logger := newLogger(cfg, logOut)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	addr, err := httpx.ParseAddress(cfg.Addr)
	if err != nil {
		return err
	}
	srv := httpx.New(cfg.Addr)
	cfg.Apply(srv)
	srv.Logger = logger
	srv.Meter = obs.NewPromMeter(reg, "minirest")
	if err := registerDemoRoutes(srv, time.Now); err != nil {
		return err
	}

	errCh := make(chan error, 2)
	go func() { errCh <- srv.Start(addr) }()

	var adm *admin.Server
	if cfg.AdminAddr != "" {
		adm = admin.NewServer(cfg.AdminAddr, admin.Options{
			Gatherer: reg,
			Target:   srv,
			Routes:   srv.Routes,
			Logger:   logger,
		})
		go func() {
			if err := adm.ListenAndServe(); err != nil {
				errCh <- fmt.Errorf("admin: %w", err)
			}
		}()
	}
	if ready != nil {
		ready <- srv
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Logf(obs.Info, "shutting down, grace %s", cfg.ShutdownGrace)
	case err := <-errCh:
		if !errors.Is(err, httpx.ErrServerClosed) {
			runErr = err
		}
	}

	sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace.Std())
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil && runErr == nil {
		logger.Logf(obs.Warn, "forced close after grace period: %v", err)
		runErr = err
	}
	if adm != nil {
		if err := adm.Shutdown(sctx); err != nil {
			logger.Logf(obs.Warn, "admin shutdown: %v", err)
		}
	}
	if runErr == nil {
		logger.Logf(obs.Info, "stopped")
	}
	return runErr
}

func newLogger(cfg *config.Config, out io.Writer) obs.Logger {
	switch cfg.Log.Format {
	case "json":
		return obs.NewZerolog(out, cfg.LogLevel(), false)
	case "text":
		return obs.StdLogger{L: log.New(out, "", log.LstdFlags|log.Lmicroseconds), Min: cfg.LogLevel(), Pref: "minirest "}
	default:
		return obs.NewZerolog(out, cfg.LogLevel(), true)
	}
}
