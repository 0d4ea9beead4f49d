package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"schemaguard/internal/rest"
	"schemaguard/internal/schema/events"

	natsd "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/robfig/cron/v3"
)

type config struct {
	NATSURL       string
	HTTPAddr      string
	SchemaBucket  string
	ConfigBucket  string
	EventPrefix   string
	SweepSchedule string
	Debug         bool
	TestMode      bool
}

func (c *config) load() {
	flag.StringVar(&c.NATSURL, "nats-url", getEnv("NATS_URL", nats.DefaultURL), "NATS server URL")
	flag.StringVar(&c.HTTPAddr, "http-addr", getEnv("HTTP_ADDR", ":8081"), "HTTP server address")
	flag.StringVar(&c.SchemaBucket, "schema-bucket", getEnv("SCHEMA_BUCKET", "SCHEMAS"), "JetStream KV bucket for schema records")
	flag.StringVar(&c.ConfigBucket, "config-bucket", getEnv("CONFIG_BUCKET", "CONFIG"), "JetStream KV bucket for compatibility config")
	flag.StringVar(&c.EventPrefix, "event-prefix", getEnv("EVENT_PREFIX", "schemaguard.events"), "Subject prefix for lifecycle events")
	flag.StringVar(&c.SweepSchedule, "sweep-schedule", getEnv("SWEEP_SCHEDULE", "@hourly"), "Cron schedule for the sunset sweeper")
	flag.BoolVar(&c.Debug, "debug", getEnvBool("DEBUG", false), "Enable debug logging")
	flag.BoolVar(&c.TestMode, "test", getEnvBool("TEST_MODE", false), "Enable test mode with embedded NATS server")
}

type server struct {
	cfg          config
	nc           *nats.Conn
	js           nats.JetStreamContext
	kvSchemas    nats.KeyValue
	kvConfig     nats.KeyValue
	http         *http.Server
	cron         *cron.Cron
	natsServer   *natsd.Server
	embeddedNATS bool
}

func newServer(cfg config) *server {
	return &server{
		cfg:  cfg,
		http: &http.Server{Addr: cfg.HTTPAddr, Handler: rest.Routes()},
	}
}

func main() {
	cfg := config{}
	cfg.load()
	flag.Parse()

	logLevel := slog.LevelInfo
	if cfg.Debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	slog.Info("starting schemaguard", "http_addr", cfg.HTTPAddr, "nats_url", cfg.NATSURL)

	srv := newServer(cfg)
	if err := srv.setup(); err != nil {
		slog.Error("NATS setup failed", "error", err)
		// Continue with in-memory storage so the HTTP surface stays up
		slog.Warn("continuing without persistent storage")
	}

	var pub events.Publisher = events.Noop{}
	if srv.nc != nil {
		pub = events.NewNATSPublisher(srv.nc, cfg.EventPrefix)
	}

	registry := rest.Init(srv.kvSchemas, srv.kvConfig, pub)

	srv.cron = cron.New()
	if _, err := srv.cron.AddFunc(cfg.SweepSchedule, func() {
		if _, err := registry.SweepExpired(time.Now()); err != nil {
			slog.Error("sunset sweep failed", "error", err)
		}
	}); err != nil {
		slog.Error("invalid sweep schedule", "schedule", cfg.SweepSchedule, "error", err)
		os.Exit(1)
	}
	srv.cron.Start()

	go func() {
		slog.Info("HTTP server listening", "addr", cfg.HTTPAddr)
		if err := srv.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	srv.gracefulShutdown(5 * time.Second)
}

func (s *server) startEmbeddedNATS() error {
	slog.Info("starting embedded NATS server for testing")

	tmpDir, err := os.MkdirTemp("", "nats-data-*")
	if err != nil {
		return fmt.Errorf("create temp directory: %w", err)
	}

	opts := &natsd.Options{
		JetStream:  true,
		Port:       4222,
		Host:       "127.0.0.1",
		StoreDir:   tmpDir,
		MaxPayload: 8 * 1024 * 1024, // 8MB
	}

	ns, err := natsd.NewServer(opts)
	if err != nil {
		os.RemoveAll(tmpDir)
		return fmt.Errorf("create embedded NATS server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(5 * time.Second) {
		os.RemoveAll(tmpDir)
		return fmt.Errorf("embedded NATS server failed to start")
	}

	timeout := time.Now().Add(5 * time.Second)
	for time.Now().Before(timeout) {
		if ns.JetStreamEnabled() {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	if !ns.JetStreamEnabled() {
		os.RemoveAll(tmpDir)
		return fmt.Errorf("JetStream failed to start")
	}

	slog.Info("embedded NATS server started")
	s.natsServer = ns
	s.embeddedNATS = true

	return nil
}

func (s *server) setup() error {
	slog.Debug("connecting to NATS", "url", s.cfg.NATSURL)

	nc, err := nats.Connect(s.cfg.NATSURL,
		nats.Name("schemaguard"),
		nats.Timeout(5*time.Second),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			slog.Error("NATS error", "error", err)
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Error("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			slog.Info("NATS reconnected")
		}),
	)

	// Fall back to an embedded server in test mode
	if err != nil && s.cfg.TestMode {
		slog.Info("external NATS unavailable, starting embedded server")

		if err := s.startEmbeddedNATS(); err != nil {
			return fmt.Errorf("start embedded NATS server: %w", err)
		}

		nc, err = nats.Connect(nats.DefaultURL,
			nats.Name("schemaguard"),
			nats.Timeout(5*time.Second),
			nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
				slog.Error("NATS error", "error", err)
			}),
		)
		if err != nil {
			return fmt.Errorf("connect to embedded NATS: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}

	slog.Info("connected to NATS")
	s.nc = nc

	s.js, err = nc.JetStream(nats.PublishAsyncMaxPending(256))
	if err != nil {
		return fmt.Errorf("JetStream context: %w", err)
	}

	maxRetries := 5
	for i := 0; i < maxRetries; i++ {
		slog.Debug("setting up schema bucket", "name", s.cfg.SchemaBucket, "attempt", i+1)
		if s.kvSchemas, err = s.makeBucket(s.cfg.SchemaBucket, "Schema records"); err != nil {
			if i == maxRetries-1 {
				return fmt.Errorf("create schema bucket: %w", err)
			}
			time.Sleep(time.Second)
			continue
		}
		break
	}

	for i := 0; i < maxRetries; i++ {
		slog.Debug("setting up config bucket", "name", s.cfg.ConfigBucket, "attempt", i+1)
		if s.kvConfig, err = s.makeBucket(s.cfg.ConfigBucket, "Compatibility config"); err != nil {
			if i == maxRetries-1 {
				return fmt.Errorf("create config bucket: %w", err)
			}
			time.Sleep(time.Second)
			continue
		}
		break
	}

	slog.Info("NATS setup complete")
	return nil
}

func (s *server) makeBucket(name, desc string) (nats.KeyValue, error) {
	kv, err := s.js.KeyValue(name)
	if err == nats.ErrBucketNotFound {
		slog.Debug("bucket not found, creating", "name", name)
		return s.js.CreateKeyValue(&nats.KeyValueConfig{
			Bucket:      name,
			Description: desc,
			Storage:     nats.FileStorage,
			History:     5,
		})
	}
	return kv, err
}

func (s *server) gracefulShutdown(timeout time.Duration) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	slog.Info("shutting down")
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	if err := s.http.Shutdown(ctx); err != nil {
		slog.Error("HTTP shutdown error", "error", err)
	}
	if s.nc != nil {
		s.nc.Close()
	}
	if s.embeddedNATS && s.natsServer != nil {
		slog.Info("shutting down embedded NATS server")
		s.natsServer.Shutdown()
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1" || v == "yes"
	}
	return def
}
