package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/coffee-gpt/cgpt/chat"
	"github.com/ZanzyTHEbar/coffee-gpt/cgpt/config"
	"github.com/ZanzyTHEbar/coffee-gpt/cgpt/db"
	"github.com/ZanzyTHEbar/coffee-gpt/cgpt/generation/harness"
	"github.com/ZanzyTHEbar/coffee-gpt/cgpt/generation/harness/adapters"
	ports "github.com/ZanzyTHEbar/coffee-gpt/cgpt/generation/harness/ports"
	"github.com/ZanzyTHEbar/coffee-gpt/cgpt/generation/models"
	"github.com/ZanzyTHEbar/coffee-gpt/cgpt/logging"
	"github.com/ZanzyTHEbar/coffee-gpt/cgpt/photos"
	"github.com/ZanzyTHEbar/coffee-gpt/cgpt/places"
	"github.com/ZanzyTHEbar/coffee-gpt/cgpt/search"
)

// app is the fully wired chat stack shared by serve and chat.
type app struct {
	cfg      *config.Config
	logger   zerolog.Logger
	db       *sql.DB
	rdb      *redis.Client
	factory  *harness.Factory
	provider ports.NamedProvider
	service  *chat.Service
	sessions *chat.Registry
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	var rdb redis.Cmdable
	if cfg.Cache.Backend == "redis" {
		client, err := adapters.NewRedisClient(ctx, cfg.Redis.URL)
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, using in-process caches")
		} else {
			a.rdb = client
			rdb = client
		}
	}

	if cfg.Database.Enabled {
		conn, err := openDatabase(ctx, cfg.Database, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.db = conn
	}

	a.factory = harness.NewFactory(cfg, a.db, rdb, logging.Component(logger, "harness"))

	provider, err := models.NewFromConfig(ctx, cfg.LLM, logging.Component(logger, "models"))
	if err != nil {
		a.Close()
		return nil, err
	}
	a.provider = provider
	logger.Info().Str("provider", provider.Name()).Msg("llm ready")

	llm := chat.NewLLM(a.factory.CreateOrchestrator(provider), a.factory.CreatePolicy(), logger)

	placesClient := places.NewFromConfig(cfg.Places, cfg.Photos, logging.Component(logger, "places"))
	web := search.NewFromConfig(cfg.Search, logging.Component(logger, "search"))

	var resolver chat.PhotoResolver
	if cfg.Photos.Enabled {
		resolver = photos.NewResolver(placesClient, a.factory.CreateCache("photo:"),
			photos.WithTTL(cfg.Photos.TTLSeconds),
			photos.WithLogger(logging.Component(logger, "photos")),
		)
	}

	a.service = chat.NewService(llm.Capabilities(), placesClient, web,
		chat.NewNormalizer(resolver, cfg.Photos.Concurrency),
		chat.WithStore(a.factory.CreateStore()),
		chat.WithRadius(cfg.Places.RadiusMeters),
		chat.WithTranscriptTail(cfg.Session.TranscriptTail),
		chat.WithLogger(logging.Component(logger, "chat")),
	)
	a.sessions = chat.NewRegistry(cfg.Session.MaxSessions)
	return a, nil
}

// openDatabase connects to the transcript log and applies pending migrations.
func openDatabase(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger) (*sql.DB, error) {
	log := logging.Component(logger, "db")
	conn, err := db.Connect(ctx, cfg.DSN, log)
	if err != nil {
		return nil, fmt.Errorf("open transcript database: %w", err)
	}
	if _, err := db.Migrate(ctx, conn, log); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

func (a *app) Close() error {
	var errs []error
	if closer, ok := a.provider.(io.Closer); ok {
		errs = append(errs, closer.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	if a.rdb != nil {
		errs = append(errs, a.rdb.Close())
	}
	return errors.Join(errs...)
}
