// Package app wires the server's components together with fx.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.uber.org/fx"

	"github.com/teamclash/backend/internal/api"
	"github.com/teamclash/backend/internal/config"
	"github.com/teamclash/backend/internal/database"
	"github.com/teamclash/backend/internal/events"
	"github.com/teamclash/backend/internal/game"
	"github.com/teamclash/backend/internal/logger"
	"github.com/teamclash/backend/internal/migrations"
	"github.com/teamclash/backend/internal/redis"
	"github.com/teamclash/backend/internal/store"
	"github.com/teamclash/backend/internal/store/memstore"
	"github.com/teamclash/backend/internal/store/postgres"
	"github.com/teamclash/backend/internal/ws"
)

const connectTimeout = 10 * time.Second

var Module = fx.Options(
	fx.Provide(config.Load),
	fx.Provide(ProvideLogger),
	fx.Provide(ProvideRules),
	fx.Provide(ProvideStore),
	fx.Provide(ProvideRedis),
	// realtime
	fx.Provide(ProvideHub),
	fx.Provide(ProvideBroadcaster),
	fx.Provide(ProvideWSHandler),
	// background
	fx.Provide(ProvideSweeper),
	fx.Invoke(CheckConfig),
	fx.Invoke(StartEventRelay),
	fx.Invoke(RunSweeper),
)

func ProvideLogger(cfg *config.Config) zerolog.Logger {
	return logger.New(cfg.LogLevel)
}

// CheckConfig stops startup on settings that must not reach production.
func CheckConfig(cfg *config.Config, log zerolog.Logger) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if cfg.JWTSecret == config.DefaultJWTSecret {
		log.Warn().Msg("JWT_SECRET not set, using the development default")
	}
	return nil
}

// ProvideRules refuses to start with a capacity that cannot be split evenly.
func ProvideRules(cfg *config.Config) (game.Rules, error) {
	rules := cfg.Rules()
	if err := rules.Validate(); err != nil {
		return game.Rules{}, fmt.Errorf("invalid matchmaking config: %w", err)
	}
	return rules, nil
}

// ProvideStore opens the configured backend. The postgres pool is closed on stop.
func ProvideStore(lc fx.Lifecycle, cfg *config.Config, log zerolog.Logger) (store.Store, error) {
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		log.Warn().Msg("using in-memory store; state is lost on restart")
		return memstore.New(), nil

	case config.StoreDriverPostgres:
		if cfg.MigrateOnStart {
			if err := migrations.Run(cfg.DatabaseURL, migrations.DefaultDir, log); err != nil {
				return nil, fmt.Errorf("run migrations: %w", err)
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()
		db, err := database.Connect(ctx, cfg.DatabaseURL, database.DefaultPool)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				return db.Close()
			},
		})
		log.Info().Msg("connected to postgres")
		return postgres.New(db), nil

	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
}

// ProvideRedis returns nil when REDIS_URL is unset; the server then runs as a
// single replica without the event relay or sweep lease.
func ProvideRedis(lc fx.Lifecycle, cfg *config.Config, log zerolog.Logger) (*goredis.Client, error) {
	if cfg.RedisURL == "" {
		log.Info().Msg("REDIS_URL not set, running single-replica")
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	rdb, err := redis.Connect(ctx, cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return rdb.Close()
		},
	})
	log.Info().Msg("connected to redis")
	return rdb, nil
}

func ProvideHub(log zerolog.Logger) *ws.Hub {
	return ws.NewHub(log)
}

// ProvideBroadcaster publishes through redis when available so every
// replica's hub sees the event; the relay delivers it locally too.
func ProvideBroadcaster(hub *ws.Hub, rdb *goredis.Client, log zerolog.Logger) events.Broadcaster {
	if rdb == nil {
		return hub
	}
	return events.NewRedisPublisher(rdb, events.DefaultChannel, log)
}

func ProvideWSHandler(hub *ws.Hub, st store.Store, bc events.Broadcaster, rules game.Rules, log zerolog.Logger) *ws.Handler {
	return ws.NewHandler(hub, st, bc, rules, log)
}

func ProvideSweeper(cfg *config.Config, st store.Store, bc events.Broadcaster, rules game.Rules, rdb *goredis.Client, log zerolog.Logger) *game.Sweeper {
	opts := []game.SweeperOption{
		game.WithInterval(cfg.SweepInterval()),
		game.WithLogger(log),
	}
	if rdb != nil {
		opts = append(opts, game.WithLease(game.NewRedisLease(rdb, "", leaseOwner())))
	}
	return game.NewSweeper(st, bc, rules, opts...)
}

// StartEventRelay feeds events published by any replica into the local hub.
func StartEventRelay(lc fx.Lifecycle, rdb *goredis.Client, hub *ws.Hub, log zerolog.Logger) {
	if rdb == nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return events.StartRelay(ctx, rdb, events.DefaultChannel, hub, log)
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}

func RunSweeper(lc fx.Lifecycle, sweeper *game.Sweeper) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			sweeper.Start(context.Background())
			return nil
		},
		OnStop: func(context.Context) error {
			sweeper.Stop()
			return nil
		},
	})
}

// RunServer registers the routes and serves HTTP for the app's lifetime.
func RunServer(
	lc fx.Lifecycle,
	cfg *config.Config,
	st store.Store,
	bc events.Broadcaster,
	rules game.Rules,
	wsHandler *ws.Handler,
	log zerolog.Logger,
) {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	api.SetupRoutes(router, api.Deps{
		Config:      cfg,
		Store:       st,
		Broadcaster: bc,
		Rules:       rules,
		WS:          wsHandler,
		Log:         log,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info().Str("addr", srv.Addr).Msg("server starting")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal().Err(err).Msg("server failed")
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info().Msg("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("server shutdown failed")
				return err
			}
			log.Info().Msg("server stopped gracefully")
			return nil
		},
	})
}

func leaseOwner() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return host + "-" + uuid.NewString()[:8]
}
