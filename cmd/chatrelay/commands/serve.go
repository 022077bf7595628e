package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"

	"github.com/whisper/chat-relay/internal/config"
	"github.com/whisper/chat-relay/internal/feed"
	"github.com/whisper/chat-relay/internal/logging"
	"github.com/whisper/chat-relay/internal/messaging"
	"github.com/whisper/chat-relay/internal/metrics"
	"github.com/whisper/chat-relay/internal/ratelimit"
	"github.com/whisper/chat-relay/internal/relay"
	"github.com/whisper/chat-relay/internal/session"
	"github.com/whisper/chat-relay/internal/ws"
)

const shutdownTimeout = 10 * time.Second

// serveFlags override the environment when set on the command line.
type serveFlags struct {
	host        string
	port        int
	metricsPort int
	tls         bool
	user        string
	password    string
	natsURL     string
	redisAddr   string
	logLevel    string
}

func serveCmd() *cobra.Command {
	var f serveFlags

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			f.apply(cmd, &cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}

			log := logging.New(os.Stdout, cfg.LogLevel)
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := run(ctx, cfg, log); err != nil {
				log.Error("relay stopped", "error", err)
				return err
			}
			return nil
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.host, "host", "", "interface to listen on")
	fl.IntVar(&f.port, "port", 0, "WebSocket port")
	fl.IntVar(&f.metricsPort, "metrics-port", 0, "Prometheus port (0 disables)")
	fl.BoolVar(&f.tls, "tls", false, "serve TLS (needs RELAY_TLS_CERT_FILE and RELAY_TLS_KEY_FILE)")
	fl.StringVar(&f.user, "user", "", "NATS user")
	fl.StringVar(&f.password, "password", "", "NATS password")
	fl.StringVar(&f.natsURL, "nats-url", "", "mirror updates to this NATS server")
	fl.StringVar(&f.redisAddr, "redis-addr", "", "mirror sessions and share rate limits through this Redis")
	fl.StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error")
	return cmd
}

func (f serveFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	changed := cmd.Flags().Changed
	if changed("host") {
		cfg.Host = f.host
	}
	if changed("port") {
		cfg.Port = f.port
	}
	if changed("metrics-port") {
		cfg.MetricsPort = f.metricsPort
	}
	if changed("tls") {
		cfg.TLS = f.tls
	}
	if changed("user") {
		cfg.User = f.user
	}
	if changed("password") {
		cfg.Password = f.password
	}
	if changed("nats-url") {
		cfg.NATSURL = f.natsURL
	}
	if changed("redis-addr") {
		cfg.RedisAddr = f.redisAddr
	}
	if changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
}

// run wires the relay and blocks until ctx is cancelled or a server fails.
func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	serverName := cfg.ServerName
	if serverName == "" {
		serverName, _ = os.Hostname()
	}

	sessions := session.NewRegistry()
	r := relay.New(log, sessions, feed.New(log))
	if err := r.Initialize(map[string]string{"server": serverName}); err != nil {
		return err
	}

	rule := ratelimit.Rule{Key: ratelimit.RuleMessage.Key, Limit: cfg.MessageLimit, Window: cfg.MessageWindow}
	var opts []ws.TransportOption
	if cfg.RedisAddr != "" {
		mirror, err := session.NewMirror(cfg.RedisAddr, serverName)
		if err != nil {
			return err
		}
		defer mirror.Close()
		opts = append(opts,
			ws.WithMirror(mirror),
			ws.WithLimiter(ratelimit.NewRedisLimiter(mirror.Client(), log), rule))
		log.Info("redis enabled", "addr", cfg.RedisAddr)
	} else {
		local := ratelimit.NewLocalLimiter()
		go local.Cleanup(ctx, time.Minute)
		opts = append(opts, ws.WithLimiter(local, rule))
	}

	transport := ws.NewTransport(ws.ServerConfig{
		ListenAddr:     cfg.ListenAddr(),
		TLSCertFile:    tlsFile(cfg.TLS, cfg.TLSCertFile),
		TLSKeyFile:     tlsFile(cfg.TLS, cfg.TLSKeyFile),
		WorkerPoolSize: cfg.WorkerPoolSize,
		MaxConnections: cfg.MaxConnections,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		MaxFrameSize:   int64(cfg.MaxFrameSize),
		Heartbeat:      ws.DefaultHeartbeatConfig(),
	}, log, r, opts...)

	sinks := feed.Fanout{transport}
	if cfg.NATSURL != "" {
		natsConfig := messaging.DefaultNATSConfig()
		natsConfig.URL = cfg.NATSURL
		natsConfig.Name = serverName
		natsConfig.User = cfg.User
		natsConfig.Password = cfg.Password
		nc, err := messaging.NewNATSClient(natsConfig, log)
		if err != nil {
			return err
		}
		defer nc.Close()
		sinks = append(sinks, messaging.NewUpdateSink(nc))
	}
	r.SetListener(sinks)

	errCh := make(chan error, 2)
	go func() { errCh <- transport.Start() }()

	var metricsServer *http.Server
	if addr := cfg.MetricsAddr(); addr != "" {
		router := chi.NewRouter()
		router.Method(http.MethodGet, "/metrics", metrics.Handler())
		metricsServer = &http.Server{Addr: addr, Handler: router, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			log.Info("metrics listening", "addr", addr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case runErr = <-errCh:
		if runErr != nil {
			runErr = logging.WrapError(runErr, "serve")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := transport.Shutdown(shutdownCtx); err != nil {
		log.Warn("transport shutdown", "error", err)
	}
	if metricsServer != nil {
		_ = metricsServer.Shutdown(shutdownCtx)
	}
	return runErr
}

func tlsFile(enabled bool, path string) string {
	if !enabled {
		return ""
	}
	return path
}
