package state

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/ETAnderson/productimporter/internal/db"
	"github.com/ETAnderson/productimporter/internal/migrate"
)

type FactoryConfig struct {
	Backend       string // memory | mysql | sqlite
	MySQLDSN      string
	SQLitePath    string
	RunMigrations bool

	SessionBackend string // store | redis
	RedisURL       string
	SessionTTL     time.Duration
}

type FactoryResult struct {
	Store Store
	DB    *sqlx.DB      // set for mysql and sqlite
	Redis *redis.Client // set when sessions live in redis
}

func (r FactoryResult) Close() error {
	var errs []error
	if r.Redis != nil {
		errs = append(errs, r.Redis.Close())
	}
	if r.DB != nil {
		errs = append(errs, r.DB.Close())
	}
	return errors.Join(errs...)
}

func NewStore(ctx context.Context, cfg FactoryConfig) (FactoryResult, error) {
	res, err := newBaseStore(ctx, cfg)
	if err != nil {
		return FactoryResult{}, err
	}

	switch strings.ToLower(strings.TrimSpace(cfg.SessionBackend)) {
	case "", "store":
		return res, nil

	case "redis":
		if strings.TrimSpace(cfg.RedisURL) == "" {
			_ = res.Close()
			return FactoryResult{}, errors.New("REDIS_URL is required when SESSION_BACKEND=redis")
		}

		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			_ = res.Close()
			return FactoryResult{}, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		client := redis.NewClient(opt)

		c, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		if err := client.Ping(c).Err(); err != nil {
			_ = client.Close()
			_ = res.Close()
			return FactoryResult{}, fmt.Errorf("redis ping: %w", err)
		}

		res.Redis = client
		res.Store = WithSessionStore(res.Store, NewRedisSessionStore(client, cfg.SessionTTL))
		return res, nil

	default:
		_ = res.Close()
		return FactoryResult{}, errors.New("unknown SESSION_BACKEND (use store or redis)")
	}
}

func newBaseStore(ctx context.Context, cfg FactoryConfig) (FactoryResult, error) {
	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	if backend == "" {
		backend = "memory"
	}

	var dbCfg db.Config
	switch backend {
	case "memory":
		return FactoryResult{Store: NewMemoryStore()}, nil

	case db.DialectMySQL:
		if strings.TrimSpace(cfg.MySQLDSN) == "" {
			return FactoryResult{}, errors.New("DB_DSN is required when STATE_BACKEND=mysql")
		}
		dbCfg = db.Config{Dialect: db.DialectMySQL, DSN: cfg.MySQLDSN}

	case db.DialectSQLite:
		dbCfg = db.Config{Dialect: db.DialectSQLite, DSN: cfg.SQLitePath}

	default:
		return FactoryResult{}, errors.New("unknown STATE_BACKEND (use memory, mysql or sqlite)")
	}

	conn, err := db.Open(dbCfg)
	if err != nil {
		return FactoryResult{}, err
	}

	c, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := conn.PingContext(c); err != nil {
		_ = conn.Close()
		return FactoryResult{}, err
	}

	// An in-memory sqlite database has no schema until migrations run.
	if cfg.RunMigrations || backend == db.DialectSQLite {
		if err := migrate.Apply(ctx, conn, dbCfg.Dialect); err != nil {
			_ = conn.Close()
			return FactoryResult{}, fmt.Errorf("migrate: %w", err)
		}
	}

	return FactoryResult{
		Store: NewSQLStore(conn, dbCfg.Dialect),
		DB:    conn,
	}, nil
}
