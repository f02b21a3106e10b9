package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/stompnet"
	"github.com/luciancaetano/stompnet/broker"
	"github.com/luciancaetano/stompnet/internal/codec"
	"github.com/luciancaetano/stompnet/internal/config"
	"github.com/luciancaetano/stompnet/internal/metrics"
	"github.com/luciancaetano/stompnet/internal/server"
	"github.com/luciancaetano/stompnet/internal/version"
	"github.com/luciancaetano/stompnet/internal/websocket"
)

type serveFlags struct {
	workers     int
	wsAddr      string
	metricsAddr string
	storeDriver string
}

func serveCmd(root *rootOptions) *cobra.Command {
	var f serveFlags

	cmd := &cobra.Command{
		Use:   "serve [port] [tpc|reactor]",
		Short: "Run the STOMP broker",
		Long: `Run the STOMP broker on the given TCP port using the thread-per-client
(tpc) or reactor dispatch strategy. Positional arguments override the
config file.`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			if err := applyServerArgs(&cfg.Server, args); err != nil {
				return err
			}
			f.apply(cmd, cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger, err := newLogger(cfg.Log)
			if err != nil {
				return err
			}
			logger.Info("starting stompd",
				"version", version.Version,
				"commit", version.Commit,
				"mode", cfg.Server.Mode,
				"addr", cfg.Server.Addr,
				"store", cfg.Store.Driver,
			)

			ctx, cancel := signalContext(logger)
			defer cancel()
			return runBroker(ctx, cfg, logger)
		},
	}

	cmd.Flags().IntVar(&f.workers, "workers", 0, "reactor worker pool size")
	cmd.Flags().StringVar(&f.wsAddr, "ws-addr", "", "WebSocket gateway listen address (disabled when empty)")
	cmd.Flags().StringVar(&f.metricsAddr, "metrics-addr", "", "Prometheus endpoint listen address (disabled when empty)")
	cmd.Flags().StringVar(&f.storeDriver, "store", "", "store driver: memory, sqlite or postgres")

	return cmd
}

func (f *serveFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("workers") {
		cfg.Server.Workers = f.workers
	}
	if flags.Changed("ws-addr") {
		cfg.WebSocket.Addr = f.wsAddr
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Addr = f.metricsAddr
	}
	if flags.Changed("store") {
		cfg.Store.Driver = f.storeDriver
	}
}

// applyServerArgs applies the positional [port] [mode] arguments.
func applyServerArgs(cfg *config.ServerConfig, args []string) error {
	if len(args) > 0 {
		port, err := strconv.Atoi(args[0])
		if err != nil || port < 1 || port > 65535 {
			return fmt.Errorf("invalid port %q", args[0])
		}
		host, _, err := net.SplitHostPort(cfg.Addr)
		if err != nil {
			host = ""
		}
		cfg.Addr = net.JoinHostPort(host, strconv.Itoa(port))
	}
	if len(args) > 1 {
		cfg.Mode = config.NormalizeMode(args[1])
		if cfg.Mode != config.ModeThreadPerClient && cfg.Mode != config.ModeReactor {
			return fmt.Errorf("unknown server mode %q: want tpc or reactor", args[1])
		}
	}
	return nil
}

func runBroker(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	st, err := broker.OpenStore(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := broker.NewMetrics(promReg)

	b := broker.New(st,
		broker.WithLogger(logger),
		broker.WithMetrics(m),
		broker.WithStoreTimeout(cfg.Store.Timeout),
	)
	defer b.Close()
	protocol := b.Protocol()

	srv := newTCPServer(cfg.Server, server.Config{
		Protocol: server.Adapt(protocol),
		Codec:    frameCodec(cfg.Server.MaxFrameSize),
		Registry: b.Registry(),
		Logger:   logger,
		Metrics:  m,
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(ctx)
	})

	if cfg.WebSocket.Addr != "" {
		gw := websocket.New(&websocket.ServerConfig{
			Addr:            cfg.WebSocket.Addr,
			Path:            cfg.WebSocket.Path,
			Protocol:        protocol,
			Registry:        b.Registry(),
			RateLimitConfig: wsRateLimit(cfg.WebSocket.RateLimit),
			CheckOrigin:     checkOrigin(cfg.WebSocket.AllowedOrigins),
			MaxFrameSize:    cfg.Server.MaxFrameSize,
			Logger:          logger,
			Metrics:         m,
		})
		g.Go(func() error {
			return gw.Serve(ctx)
		})
	}

	if cfg.Metrics.Addr != "" {
		g.Go(func() error {
			return serveMetrics(ctx, cfg.Metrics, promReg, logger)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("stompd stopped")
	return nil
}

// newTCPServer fills the listener settings of base from cfg and returns the
// configured dispatch strategy.
func newTCPServer(cfg config.ServerConfig, base server.Config) stompnet.Server {
	base.Addr = cfg.Addr
	base.WriteTimeout = cfg.WriteTimeout
	base.Workers = cfg.Workers
	if cfg.AcceptRate.Enabled {
		base.AcceptLimiter = rate.NewLimiter(rate.Limit(cfg.AcceptRate.PerSecond), cfg.AcceptRate.Burst)
	}

	if cfg.Mode == config.ModeReactor {
		return server.NewReactor(base)
	}
	return server.NewThreadPerClient(base)
}

func frameCodec(maxSize int) codec.Factory {
	return func() codec.EncoderDecoder { return codec.NewFrameCodec(maxSize) }
}

func wsRateLimit(rc config.RateConfig) *websocket.RateLimitConfig {
	if !rc.Enabled {
		return websocket.NoRateLimit()
	}
	return &websocket.RateLimitConfig{
		MessagesPerSecond: rate.Limit(rc.PerSecond),
		Burst:             rc.Burst,
		Enabled:           true,
	}
}

// checkOrigin allows the listed origins, every origin for "*", and falls
// back to gorilla's same-host check when the list is empty.
func checkOrigin(allowed []string) websocket.CheckOriginFn {
	if len(allowed) == 0 {
		return nil
	}
	if slices.Contains(allowed, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(allowed, origin)
	}
}

func serveMetrics(ctx context.Context, cfg config.MetricsConfig, g prometheus.Gatherer, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, metrics.Handler(g))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics listening", "addr", cfg.Addr, "path", cfg.Path)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("shutdown metrics server: %w", err)
	}
	return nil
}
