package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/kailas-cloud/shopgeo/internal/config"
	"github.com/kailas-cloud/shopgeo/internal/db"
	"github.com/kailas-cloud/shopgeo/internal/db/memory"
	dbRedis "github.com/kailas-cloud/shopgeo/internal/db/redis"
	"github.com/kailas-cloud/shopgeo/internal/domain/record"
	"github.com/kailas-cloud/shopgeo/internal/ingest"
	logpkg "github.com/kailas-cloud/shopgeo/internal/logger"
	searchuc "github.com/kailas-cloud/shopgeo/internal/usecase/search"
)

// app is the composition root shared by the commands.
type app struct {
	env     string
	cfg     config.Config
	logger  *zap.Logger
	dataset *record.Store
}

// bootstrap loads .env, config and logger. The dataset is not loaded.
func bootstrap(opts *globalOptions) (*app, error) {
	if opts.envFile != "" {
		if err := godotenv.Load(opts.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", opts.envFile, err)
		}
	}

	env := opts.env
	if env == "" {
		env = config.GetEnv()
	}

	var (
		cfg config.Config
		err error
	)
	if opts.configPath != "" {
		cfg, err = config.LoadFile(opts.configPath)
	} else {
		cfg, err = config.Load(env)
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if opts.dataDir != "" {
		cfg.Data.Dir = opts.dataDir
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	return &app{env: env, cfg: cfg, logger: logger}, nil
}

// loadDataset ingests the configured data directory.
func (a *app) loadDataset(ctx context.Context) error {
	start := time.Now()
	ds, err := ingest.NewLoader(a.cfg.Data.Dir, a.logger).Load(ctx)
	if err != nil {
		return fmt.Errorf("load dataset: %w", err)
	}
	a.dataset = ds
	a.logger.Info("Dataset loaded",
		zap.String("dir", a.cfg.Data.Dir),
		zap.Duration("took", time.Since(start)),
	)
	return nil
}

// reportIntegrity logs dangling foreign keys and returns them.
func (a *app) reportIntegrity() []record.Dangling {
	dangling := record.CheckIntegrity(a.dataset)
	for _, d := range dangling {
		a.logger.Warn("Dangling reference", zap.String("ref", d.String()))
	}
	return dangling
}

// openCache creates the result cache backend. It returns a nil Store when
// caching is disabled.
func (a *app) openCache(ctx context.Context) (db.Store, error) {
	c := a.cfg.Cache
	switch c.Driver {
	case config.CacheNone:
		return nil, nil
	case config.CacheMemory:
		store, err := memory.NewStore(c.Size)
		if err != nil {
			return nil, fmt.Errorf("create memory store: %w", err)
		}
		return store, nil
	case config.CacheRedis, config.CacheValkey:
		store, err := dbRedis.NewStore(dbRedis.Config{
			Addrs:    c.Addrs,
			Username: c.Username,
			Password: c.Password,
			DB:       c.DB,
		})
		if err != nil {
			return nil, fmt.Errorf("create %s store: %w", c.Driver, err)
		}
		if err := store.WaitForReady(ctx, time.Duration(c.ReadinessTimeout)*time.Second); err != nil {
			store.Close()
			return nil, fmt.Errorf("%s not ready: %w", c.Driver, err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown cache driver %q", c.Driver)
	}
}

func (a *app) searchConfig() searchuc.Config {
	s := a.cfg.Search
	return searchuc.Config{
		DefaultRadius: s.DefaultRadius,
		CandidateCap:  s.CandidateCap,
		ResponseTTL:   time.Duration(s.ResponseTTLSec) * time.Second,
		SubresultTTL:  time.Duration(s.SubresultTTLSec) * time.Second,
	}
}
