package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"

	"simulacro-engine/internal/app"
	"simulacro-engine/internal/config"
	"simulacro-engine/internal/infra/memory"
	"simulacro-engine/internal/infra/postgres"
	infraredis "simulacro-engine/internal/infra/redis"
	transport "simulacro-engine/internal/transport/http"
)

// deps is the engine wiring chosen from config: Postgres when a URL is set,
// otherwise the in-memory store over the YAML seed; Redis when an address is
// set, otherwise process-local cache and lock.
type deps struct {
	engine   *app.Engine
	locker   app.Locker
	presence transport.Presence
	closers  []func()
}

func (d *deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

func buildDeps(ctx context.Context, cfg config.Config, log *slog.Logger) (*deps, error) {
	d := &deps{}

	var (
		store app.Store
		bank  app.QuestionBank
		dir   app.Directory
	)
	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		d.closers = append(d.closers, pool.Close)
		store = postgres.NewStore(pool, log)
		bank = postgres.NewBank(pool)
		dir = postgres.NewDirectory(pool)
	} else {
		if cfg.Bank.Seed == "" {
			return nil, fmt.Errorf("either postgres.url or bank.seed must be configured")
		}
		seedBank, seedDir, err := memory.LoadSeed(cfg.Bank.Seed)
		if err != nil {
			return nil, err
		}
		log.Warn("postgres not configured, using in-memory store", "seed", cfg.Bank.Seed)
		store, bank, dir = memory.NewStore(), seedBank, seedDir
	}

	bankTTL := config.TTLDuration(cfg.Bank.TTL, 10*time.Minute)
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			d.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		d.closers = append(d.closers, func() { _ = client.Close() })
		bank = infraredis.NewExamCache(client, bank, bankTTL)
		d.locker = infraredis.NewSweepLock(client, "")
		d.presence = infraredis.NewPresence(client, config.TTLDuration(cfg.Redis.PresenceTTL, 30*time.Second))
	} else {
		bank = memory.NewCachedBank(bank, bankTTL)
		d.locker = memory.NewSweepLock()
	}

	d.engine = app.NewEngine(store, bank, dir, app.Options{
		JoinWindow: config.TTLDuration(cfg.Engine.JoinWindow, app.DefaultJoinWindow),
		XP: app.XPWeights{
			Low:    cfg.Engine.XP.Low,
			Medium: cfg.Engine.XP.Medium,
			High:   cfg.Engine.XP.High,
		},
		Logger: log,
	})
	return d, nil
}
