package cli

import (
	"context"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/graflow"
	"github.com/xraph/graflow/engine"
	"github.com/xraph/graflow/flows/demo"
	"github.com/xraph/graflow/policy"
	"github.com/xraph/graflow/scope"
	"github.com/xraph/graflow/store/memory"
	"github.com/xraph/graflow/store/postgres"
	redisstore "github.com/xraph/graflow/store/redis"
	"github.com/xraph/graflow/store/sqlite"
)

// Store drivers accepted by --store.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// app is an engine opened for the duration of one command.
type app struct {
	eng    *engine.Engine
	redis  *goredis.Client
	logger *slog.Logger
}

// openApp connects the configured store, migrates it and builds an engine
// with the sample flows registered.
func openApp(ctx context.Context, s *Settings) (*app, error) {
	logger := s.Logger()

	primary, err := openStore(ctx, s, logger)
	if err != nil {
		return nil, err
	}

	g, err := graflow.New(
		graflow.WithConfig(s.Config()),
		graflow.WithLogger(logger),
		graflow.WithStore(primary),
	)
	if err != nil {
		_ = primary.Close()
		return nil, err
	}

	a := &app{logger: logger}
	var opts []engine.Option
	if s.Redis.Addr != "" {
		a.redis = goredis.NewClient(&goredis.Options{Addr: s.Redis.Addr})
		rs := redisstore.New(a.redis, redisstore.WithLogger(logger))
		if err := rs.Ping(ctx); err != nil {
			_ = primary.Close()
			_ = a.redis.Close()
			return nil, fmt.Errorf("redis %s: %w", s.Redis.Addr, err)
		}
		opts = append(opts, engine.WithCacheStore(rs), engine.WithLongtermStore(rs))
	}

	eng, err := engine.Build(g, opts...)
	if err != nil {
		_ = primary.Close()
		a.closeRedis()
		return nil, err
	}
	a.eng = eng

	if err := eng.Store().Migrate(ctx); err != nil {
		_ = a.close(ctx)
		return nil, fmt.Errorf("migrate: %w", err)
	}
	demo.Register(eng.Registry())
	return a, nil
}

func openStore(ctx context.Context, s *Settings, logger *slog.Logger) (graflow.Storer, error) {
	switch s.Store.Driver {
	case DriverMemory:
		return memory.New(), nil
	case DriverSQLite:
		return sqlite.Open(s.Store.DSN, sqlite.WithLogger(logger))
	case DriverPostgres:
		return postgres.New(ctx, s.Store.DSN, postgres.WithLogger(logger))
	default:
		return nil, fmt.Errorf("unknown store driver %q", s.Store.Driver)
	}
}

// close stops the engine, which closes the primary store.
func (a *app) close(ctx context.Context) error {
	err := a.eng.Stop(ctx)
	a.closeRedis()
	return err
}

func (a *app) closeRedis() {
	if a.redis == nil {
		return
	}
	if err := a.redis.Close(); err != nil {
		a.logger.Warn("redis close error", slog.String("error", err.Error()))
	}
}

// caller attaches the --subject/--staff identity to ctx.
func caller(ctx context.Context, subject string, staff bool) context.Context {
	return scope.WithRequest(ctx, policy.Request{
		Subject:       subject,
		Authenticated: subject != "",
		Staff:         staff,
	})
}
