package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"antigravity2api-go/internal/config"
	"antigravity2api-go/internal/credential"
	"antigravity2api-go/internal/credential/adapter"
	"antigravity2api-go/internal/events"
	"antigravity2api-go/internal/handlers/management"
	"antigravity2api-go/internal/logging"
	"antigravity2api-go/internal/middleware"
	"antigravity2api-go/internal/monitoring"
	"antigravity2api-go/internal/monitoring/tracing"
	"antigravity2api-go/internal/oauth"
	"antigravity2api-go/internal/server"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/mongo"
	mongooptions "go.mongodb.org/mongo-driver/mongo/options"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	debug := flag.Bool("debug", false, "Enable debug mode")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}
	if *debug {
		cfg.Logging.Debug = true
	}

	if err := logging.Setup(cfg); err != nil {
		log.WithError(err).Fatal("failed to configure logging")
	}

	traceShutdown, err := tracing.Init(context.Background())
	if err != nil {
		log.WithError(err).Warn("failed to initialize tracing")
	}
	if traceShutdown != nil {
		defer func() {
			if err := traceShutdown(context.Background()); err != nil {
				log.WithError(err).Warn("failed to shutdown tracing")
			}
		}()
	}

	log.Infof("Starting Antigravity2API-Go (config: %s)", *configPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stateStore, closeStore := buildStateStore(ctx, cfg)
	defer closeStore()

	oauthMgr := oauth.NewManager()

	credMgr := credential.NewManager(credential.Options{
		AuthDir:             cfg.Auth.Dir,
		RefreshAheadSeconds: cfg.Refresh.AheadSeconds,
		RefreshMaxRetries:   cfg.Refresh.MaxRetries,
		Refresher:           oauthMgr,
		StateStore:          stateStore,
	})

	eventHub := events.NewHub()
	credMgr.SetEventPublisher(eventHub)
	if cfg.Logging.Debug {
		eventHub.Subscribe(events.TopicCredentialChanged, func(_ context.Context, evt events.Event) {
			log.WithField("topic", evt.Topic).Debugf("credential change: %v", evt.Payload)
		})
	}

	if err := credMgr.LoadCredentials(); err != nil {
		log.Warnf("Load credentials: %v", err)
	}
	monitoring.CredentialPoolSize.Set(float64(len(credMgr.GetAllCredentials())))

	credMgr.WatchAuthDirectory(ctx)
	middleware.SafeGo("periodic-refresh", func() {
		credMgr.StartPeriodicRefresh(ctx, time.Duration(cfg.Refresh.IntervalSeconds)*time.Second)
	})

	middleware.SafeGo("oauth-session-cleanup", func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				oauthMgr.CleanupExpiredSessions()
			case <-ctx.Done():
				return
			}
		}
	})

	healthChecker := credential.NewHealthChecker(oauthMgr, time.Duration(cfg.Health.TimeoutSeconds)*time.Second)
	admin := management.NewAdminAPIHandler(cfg, credMgr, healthChecker, oauthMgr, eventHub)

	engine := server.Build(cfg, admin)
	srv := &http.Server{Addr: cfg.Addr(), Handler: engine}

	go func() {
		log.Infof("Management API listening on %s", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("http server: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("Shutdown signal received")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("server shutdown")
	}
	log.Info("Server stopped")
}

// buildStateStore picks the configured state backend. Redis wins over Mongo
// when both are configured; with neither, the file source keeps state next to
// the credential files and no extra store is needed.
func buildStateStore(ctx context.Context, cfg *config.Config) (credential.StateStore, func()) {
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			log.WithError(err).Warn("Redis unreachable; falling back to file-based state")
			_ = client.Close()
		} else {
			log.Infof("Using Redis state store at %s", cfg.Redis.Addr)
			store := adapter.NewRedisStateStore(client, cfg.Redis.Prefix, cfg.RedisStateTTL())
			return store, func() { _ = client.Close() }
		}
	}

	if cfg.Mongo.URI != "" {
		client, err := mongo.Connect(ctx, mongooptions.Client().ApplyURI(cfg.Mongo.URI))
		if err != nil {
			log.WithError(err).Warn("MongoDB unreachable; falling back to file-based state")
		} else {
			log.Infof("Using MongoDB state store (db %s)", cfg.Mongo.Database)
			store := adapter.NewMongoStateStore(client.Database(cfg.Mongo.Database), cfg.Mongo.Collection)
			return store, func() { _ = client.Disconnect(context.Background()) }
		}
	}

	return nil, func() {}
}
