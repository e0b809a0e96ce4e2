// Package app wires the imlast server runtime: config, logging, HTTP routes, and the realtime gateway.
//
// It is intentionally small and deterministic to keep CI gates strict and behavior predictable.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/yesuf435/imlast/cmd/internal/auth"
	"github.com/yesuf435/imlast/cmd/internal/realtime"
)

// Store is a small app-level lifecycle abstraction.
// It exists to allow DB-backed resources to be closed gracefully.
type Store interface {
	Close(ctx context.Context) error
}

// nopStore is used for in-memory store mode.
type nopStore struct{}

func (nopStore) Close(_ context.Context) error { return nil }

// App is the imlast server runtime: it owns HTTP server wiring and realtime gateway dependencies.
type App struct {
	cfg Config
	log Logger

	store Store

	dbPool    *pgxpool.Pool
	dbEnabled bool

	rdb    *redis.Client
	mirror realtime.PresenceMirror

	registry *realtime.Registry
	ws       *realtime.WSGateway
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel)
	}

	authCfg, err := auth.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	verifier, err := auth.NewJWTVerifier(authCfg)
	if err != nil {
		return nil, err
	}

	st, dbPool, dbEnabled, msgStore, dir, err := newStore(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}

	rdb, mirror, err := newMirror(context.Background(), cfg, log)
	if err != nil {
		if dbPool != nil {
			dbPool.Close()
		}
		return nil, err
	}

	registry := realtime.NewRegistry(log)
	router := realtime.NewRouter(log, registry)
	rooms := realtime.NewRoomSet(log)
	presence := realtime.NewPresenceTracker(log, router, dir.friends, mirror)

	ws, err := realtime.NewWSGateway(log, realtime.WSGatewayDeps{
		Verifier: verifier,
		Registry: registry,
		Router:   router,
		Rooms:    rooms,
		Presence: presence,
		Store:    msgStore,
		Groups:   dir.groups,
	})
	if err != nil {
		if dbPool != nil {
			dbPool.Close()
		}
		if rdb != nil {
			_ = rdb.Close()
		}
		return nil, err
	}

	return &App{
		cfg:       cfg,
		log:       log,
		store:     st,
		dbPool:    dbPool,
		dbEnabled: dbEnabled,
		rdb:       rdb,
		mirror:    mirror,
		registry:  registry,
		ws:        ws,
	}, nil
}

// Run starts the HTTP server plus background loops and blocks until context
// cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.ws)

	var handler http.Handler = mux
	handler = WithCORS(handler, a.cfg, a.log)
	handler = WithSecurityHeaders(handler)
	handler = WithRequestLogging(handler, a.log)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"db_enabled", a.dbEnabled,
		"redis_enabled", a.rdb != nil,
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("server.stop", "reason", "context_done")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	// Keep the Redis online keys alive for users with live connections.
	// The TTL on the mirror keys makes presence self-healing after a crash.
	if rm, ok := a.mirror.(*realtime.RedisMirror); ok {
		g.Go(func() error {
			t := time.NewTicker(rm.TTL() / 2)
			defer t.Stop()

			for {
				select {
				case <-gctx.Done():
					return nil
				case <-t.C:
					users := a.registry.OnlineUsers()
					if len(users) == 0 {
						continue
					}
					refreshCtx, cancel := context.WithTimeout(gctx, 5*time.Second)
					err := rm.Refresh(refreshCtx, users)
					cancel()
					if err != nil {
						a.log.Warn("presence.refresh.fail", "users", len(users), "err", err)
					}
				}
			}
		})
	}

	err := g.Wait()

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if cerr := a.store.Close(closeCtx); cerr != nil {
		a.log.Error("store.close.fail", "err", cerr)
	}
	if a.rdb != nil {
		if cerr := a.rdb.Close(); cerr != nil {
			a.log.Error("redis.close.fail", "err", cerr)
		}
	}

	if err != nil {
		a.log.Error("server.fail", "err", err)
		return err
	}

	a.log.Info("server.stopped")
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// directory bundles the relationship lookups handed to the realtime core.
type directory struct {
	friends realtime.FriendProvider
	groups  realtime.GroupProvider
}

// newStore decides between Postgres-backed persistence and the in-memory dev store.
func newStore(ctx context.Context, cfg Config, log Logger) (Store, *pgxpool.Pool, bool, realtime.MessageStore, directory, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		dir := realtime.NewInMemoryDirectory()
		return nopStore{}, nil, false, realtime.NewInMemoryStore(), directory{friends: dir, groups: dir}, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, false, nil, directory{}, err
	}

	log.Info("db.enabled.postgres_store")

	// Ownership model:
	// - app owns pool lifecycle
	// - PostgresStore.Close() is a no-op
	msgStore, err := realtime.NewPostgresStore(pool, realtime.WithSchema(cfg.DBSchema))
	if err != nil {
		pool.Close()
		return nil, nil, false, nil, directory{}, err
	}

	pgDir, err := realtime.NewPostgresDirectory(pool, realtime.WithDirectorySchema(cfg.DBSchema))
	if err != nil {
		pool.Close()
		return nil, nil, false, nil, directory{}, err
	}

	return dbStore{pool: pool, msgStore: msgStore}, pool, true, msgStore, directory{friends: pgDir, groups: pgDir}, nil
}

// newMirror decides between the Redis presence mirror and local-only presence.
func newMirror(ctx context.Context, cfg Config, log Logger) (*redis.Client, realtime.PresenceMirror, error) {
	if cfg.RedisAddr == "" {
		log.Info("redis.disabled.local_presence")
		return nil, realtime.NoopMirror{}, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, err
	}

	log.Info("redis.enabled.presence_mirror", "addr", cfg.RedisAddr)

	mirror, err := realtime.NewRedisMirror(rdb)
	if err != nil {
		_ = rdb.Close()
		return nil, nil, err
	}
	return rdb, mirror, nil
}

type dbStore struct {
	pool     *pgxpool.Pool
	msgStore realtime.MessageStore
}

func (s dbStore) Close(_ context.Context) error {
	// Current PostgresStore.Close() is a no-op (pool is owned here).
	if s.msgStore != nil {
		_ = s.msgStore.Close()
	}
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
