package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/friendsbet/bet-engine/internal/api"
	"github.com/friendsbet/bet-engine/internal/config"
	"github.com/friendsbet/bet-engine/internal/cronrunner"
	"github.com/friendsbet/bet-engine/internal/events"
	"github.com/friendsbet/bet-engine/internal/lifecycle"
	"github.com/friendsbet/bet-engine/internal/logger"
	"github.com/friendsbet/bet-engine/internal/metrics"
	"github.com/friendsbet/bet-engine/internal/notify"
	"github.com/friendsbet/bet-engine/internal/period"
	"github.com/friendsbet/bet-engine/internal/pool"
	"github.com/friendsbet/bet-engine/internal/store"
	"github.com/friendsbet/bet-engine/internal/wager"
)

func main() {
	configPath := flag.String("config", os.Getenv("BETS_CONFIG"), "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.Log, cfg.App)
	if err != nil {
		fmt.Fprintln(os.Stderr, "init logger:", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("bet-engine failed", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()
	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	if cfg.Database.URL != "" {
		pgCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("parse database url: %w", err)
		}
		if cfg.Database.MaxConns > 0 {
			pgCfg.MaxConns = cfg.Database.MaxConns
		}
		pgPool, err := pgxpool.NewWithConfig(ctx, pgCfg)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		cleanup = append(cleanup, pgPool.Close)

		pg := store.NewPostgresStore(pgPool)
		if err := pg.Ping(ctx); err != nil {
			return fmt.Errorf("ping database: %w", err)
		}
		if cfg.Database.EnsureSchema {
			if err := pg.EnsureSchema(ctx); err != nil {
				return fmt.Errorf("ensure schema: %w", err)
			}
		}
		st = pg
		log.Info("connected to PostgreSQL", zap.Int32("max_conns", pgCfg.MaxConns))
	} else {
		log.Warn("database.url not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	// Redis adds a read-through cache and cross-replica change signals.
	var (
		rdb    *redis.Client
		cached *store.CachedStore
	)
	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		rdb = redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		if cfg.Database.URL != "" {
			cached = store.NewCachedStore(st, rdb, cfg.Redis.CacheTTL)
			st = cached
			log.Info("Redis cache enabled", zap.Duration("ttl", cfg.Redis.CacheTTL))
		}
	}

	// --- Events ---
	var publisher events.Publisher = events.Logging{Log: log.Named("events")}
	if len(cfg.Kafka.Brokers) > 0 {
		w := events.NewWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		cleanup = append(cleanup, func() {
			if err := w.Close(); err != nil {
				log.Warn("close kafka writer", zap.Error(err))
			}
		})
		publisher = events.NewKafkaPublisher(w)
		log.Info("publishing events to Kafka",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.Topic),
		)
	}

	// --- Notifications ---
	hub := notify.NewHub(log)
	go hub.Run(ctx)

	notifiers := notify.Multi{hub}
	var remote *notify.RedisNotifier
	if rdb != nil {
		remote = notify.NewRedisNotifier(rdb, cfg.Redis.Channel, uuid.NewString(), log)
		notifiers = append(notifiers, remote)
	}

	// --- Wager service ---
	wcfg := wager.Config{
		StartingBalance: cfg.Wager.StartingBalance,
		DailyBonus:      cfg.Wager.DailyBonus,
		DefaultAvatar:   cfg.Wager.DefaultAvatar,
		Policy:          lifecycle.Policy{AllowSelfResolve: cfg.Wager.AllowSelfResolve},
		StoreTimeout:    cfg.Wager.StoreTimeout,
		Calendar:        period.NewCalendar(cfg.Wager.Location()),
	}
	opts := []wager.Option{
		wager.WithNotifier(notifiers),
		wager.WithPublisher(publisher),
	}
	if cfg.Wager.PayoutsEnabled {
		opts = append(opts, wager.WithPayout(pool.ProRata))
	}
	svc := wager.NewService(st, wcfg, log, opts...)

	if cfg.Seed.Enabled {
		members := make([]wager.SeedUser, 0, len(cfg.Seed.Users))
		for _, u := range cfg.Seed.Users {
			members = append(members, wager.SeedUser{Name: u.Name, Avatar: u.Avatar})
		}
		seeded, err := svc.Seed(ctx, members, cfg.Seed.Prize)
		if err != nil {
			return fmt.Errorf("seed: %w", err)
		}
		if seeded {
			log.Info("seeded group", zap.Int("users", len(members)))
		}
	}
	if err := svc.Refresh(ctx); err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	if _, err := svc.CheckRollover(ctx); err != nil {
		log.Warn("startup period check failed", zap.Error(err))
	}

	// Another replica changed something: drop cached rows and reload.
	if remote != nil {
		err := remote.Subscribe(ctx, func(ctx context.Context, s notify.Signal) {
			if cached != nil {
				if err := cached.Invalidate(ctx); err != nil {
					log.Warn("cache invalidate failed", zap.Error(err))
				}
			}
			if err := svc.Refresh(ctx); err != nil {
				log.Warn("refresh after remote change failed", zap.String("entity", s.Entity), zap.Error(err))
				return
			}
			hub.Notify(ctx, s)
		})
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", cfg.Redis.Channel, err)
		}
	}

	// --- Scheduled jobs ---
	if cfg.Cron.Enabled {
		runner := cronrunner.New(log, ctx, cfg.Wager.Location())
		if _, err := runner.Add("period-rollover", cfg.Cron.Rollover, func(ctx context.Context) {
			res, err := svc.CheckRollover(ctx)
			if err != nil {
				log.Warn("scheduled period check failed", zap.Error(err))
				return
			}
			if res.Rolled {
				log.Info("period rolled over by schedule", zap.String("period", res.Period))
			}
		}); err != nil {
			return fmt.Errorf("schedule rollover: %w", err)
		}
		runner.Start()
		cleanup = append(cleanup, runner.Stop)
	}

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors(cfg.Server.AllowedOrigin))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","service":%q,"ws_clients":%d}`, cfg.App.Name, hub.Clients())
	})
	r.Handle("/metrics", metrics.Handler())

	handler := api.NewHandler(svc, log)
	r.Route("/api/v1", func(r chi.Router) {
		// Change signals for clients; the socket outlives any request timeout.
		r.Get("/ws", hub.HandleWS)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(cfg.Server.RequestTimeout))
			handler.Register(r)
		})
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("bet-engine listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	log.Info("shutting down bet-engine")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", zap.Error(err))
	}
	return nil
}

func cors(origin string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+api.UserHeader)
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("took", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
