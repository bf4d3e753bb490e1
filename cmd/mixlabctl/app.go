package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	sdk "github.com/mixlab/mixlab/sdk/go"
	"github.com/mixlab/mixlab/sdk/go/internal/config"
	"github.com/mixlab/mixlab/sdk/go/session"
)

type app struct {
	cfg    *config.Config
	log    zerolog.Logger
	client *sdk.Client
	store  *session.Store
	stdout io.Writer
	closer func()
}

func splitGlobalFlags(args []string) (string, []string, error) {
	fs := flag.NewFlagSet("mixlabctl", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	configPath := fs.String("config", "", "path to config file")
	if err := fs.Parse(args); err != nil {
		return "", nil, err
	}
	return *configPath, fs.Args(), nil
}

func newApp(ctx context.Context, configPath string, stdout, stderr io.Writer) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg.LogLevel, stderr)

	persister, closer, err := newPersister(cfg.Session)
	if err != nil {
		return nil, err
	}
	store, err := session.Open(ctx, session.Options{
		Persister: persister,
		Key:       cfg.Session.Key,
		Logger:    &logger,
	})
	if err != nil {
		closer()
		return nil, err
	}

	client, err := sdk.Open(ctx, sdk.Config{
		BaseURL:        cfg.BaseURL,
		HTTPClient:     &http.Client{Timeout: cfg.RequestTimeout},
		Session:        store,
		RenewalTimeout: cfg.RenewalTimeout,
		Telemetry:      sdk.ZerologTelemetry(logger),
		UserAgent:      "mixlabctl/" + sdk.Version,
	})
	if err != nil {
		closer()
		return nil, err
	}
	store.Subscribe(func(s session.Session) {
		if s.IsEmpty() {
			logger.Debug().Msg("session_logged_out")
		}
	})
	return &app{cfg: cfg, log: logger, client: client, store: store, stdout: stdout, closer: closer}, nil
}

func (a *app) close() {
	if a.closer != nil {
		a.closer()
	}
}

func newPersister(cfg config.SessionConfig) (session.Persister, func(), error) {
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse redis url: %w", err)
		}
		rdb := redis.NewClient(opts)
		return session.NewRedisPersister(rdb, cfg.RedisPrefix, cfg.RedisTTL), func() { _ = rdb.Close() }, nil
	}
	fp, err := session.NewFilePersister(cfg.StateDir)
	if err != nil {
		return nil, nil, err
	}
	return fp, func() {}, nil
}

func newLogger(level string, w io.Writer) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.WarnLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: w, NoColor: true}).Level(lvl).With().Timestamp().Logger()
}
