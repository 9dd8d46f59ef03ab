package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/sliceline/pizzabot/internal/bot"
	"github.com/sliceline/pizzabot/internal/dispatch"
	"github.com/sliceline/pizzabot/internal/elastic"
	"github.com/sliceline/pizzabot/internal/geo"
	"github.com/sliceline/pizzabot/internal/lockfile"
	"github.com/sliceline/pizzabot/internal/messenger"
	"github.com/sliceline/pizzabot/internal/models"
	"github.com/sliceline/pizzabot/internal/recovery"
	"github.com/sliceline/pizzabot/internal/store"
	"github.com/sliceline/pizzabot/internal/telegram"
	"github.com/sliceline/pizzabot/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for bot state data.
	DefaultStateDir = "/var/lib/pizzabot"
	// DefaultDBFileName is the default SQLite database filename.
	DefaultDBFileName = "pizzabot.db"
	// DefaultListenAddr is the default Messenger webhook address.
	DefaultListenAddr = ":8080"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		slog.Error("Failed to lock state directory", "error", err)
		os.Exit(1)
	}
	defer lock.Release()

	if err := supervise(flags); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("Pizzabot failed to run", "error", err)
		lock.Release()
		os.Exit(1)
	}
	slog.Info("Pizzabot exited successfully")
}

// Supervision constants
const (
	// maxRestarts bounds run-loop restarts before giving up.
	maxRestarts = 5
	// restartBackoff is the initial delay between restarts; it doubles up to
	// restartBackoffCap.
	restartBackoff    = 2 * time.Second
	restartBackoffCap = time.Minute
)

// supervise restarts the run loop after a crash. Per-event errors are handled
// inside the engine and never reach this level; anything that does is a
// transport or store failure worth a fresh start.
func supervise(flags Flags) error {
	backoff := restartBackoff
	for attempt := 1; ; attempt++ {
		err := runSafely(flags)
		if err == nil || errors.Is(err, context.Canceled) {
			return nil
		}
		if attempt >= maxRestarts {
			return err
		}
		slog.Error("Pizzabot run loop failed, restarting", "error", err,
			"attempt", attempt, "backoff", backoff)
		time.Sleep(backoff)
		if backoff < restartBackoffCap {
			backoff *= 2
		}
	}
}

// runSafely converts a run-loop panic into an error the supervisor can retry.
func runSafely(flags Flags) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("run loop panicked: %v", r)
		}
	}()
	return run(flags)
}

// Config holds environment configuration.
type Config struct {
	TelegramToken        string
	TelegramPaymentToken string
	MessengerToken       string
	MessengerVerifyToken string
	MoltinClientID       string
	MoltinClientSecret   string
	YandexAPIKey         string
	DatabaseURL          string
	StateDir             string
	ListenAddr           string
}

// Flags holds command line flag values.
type Flags struct {
	config     Config
	stateDir   *string
	dbDSN      *string
	listenAddr *string
}

// initializeLogger sets up structured logging; debug level is opt-in.
func initializeLogger() {
	level := slog.LevelInfo
	if util.ParseBoolEnv("PIZZABOT_DEBUG", false) {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and
// an optional .env file.
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		TelegramToken:        os.Getenv("TELEGRAM_TOKEN"),
		TelegramPaymentToken: os.Getenv("TELEGRAM_PAYMENT_TOKEN"),
		MessengerToken:       os.Getenv("MESSENGER_TOKEN"),
		MessengerVerifyToken: os.Getenv("MESSENGER_VERIFY_TOKEN"),
		MoltinClientID:       os.Getenv("MOLTIN_CLIENT_ID"),
		MoltinClientSecret:   os.Getenv("MOLTIN_CLIENT_SECRET"),
		YandexAPIKey:         os.Getenv("YANDEX_API_KEY"),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		StateDir:             os.Getenv("PIZZABOT_STATE_DIR"),
		ListenAddr:           os.Getenv("LISTEN_ADDR"),
	}
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
	}
	if config.ListenAddr == "" {
		config.ListenAddr = DefaultListenAddr
	}
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"TELEGRAM_TOKEN_SET", config.TelegramToken != "",
		"TELEGRAM_PAYMENT_TOKEN_SET", config.TelegramPaymentToken != "",
		"MESSENGER_TOKEN_SET", config.MessengerToken != "",
		"MOLTIN_CLIENT_ID_SET", config.MoltinClientID != "",
		"YANDEX_API_KEY_SET", config.YandexAPIKey != "",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"PIZZABOT_STATE_DIR", config.StateDir,
		"LISTEN_ADDR", config.ListenAddr)
	return config
}

// parseCommandLineFlags parses command line arguments with environment
// defaults.
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		config:     config,
		stateDir:   flag.String("state-dir", config.StateDir, "state directory for bot data (overrides $PIZZABOT_STATE_DIR)"),
		dbDSN:      flag.String("db-dsn", config.DatabaseURL, "database DSN for the session store (overrides $DATABASE_URL)"),
		listenAddr: flag.String("listen-addr", config.ListenAddr, "Messenger webhook address (overrides $LISTEN_ADDR)"),
	}
	flag.Parse()

	// Follow an overridden state directory with the default SQLite path.
	if *flags.dbDSN == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
	}

	slog.Debug("flags parsed", "state_dir", *flags.stateDir,
		"db_dsn_set", *flags.dbDSN != "", "listen_addr", *flags.listenAddr)
	return flags
}

// buildStoreOptions picks the store backend from the DSN shape.
func buildStoreOptions(dsn string) []store.Option {
	if dsn == "" {
		slog.Debug("No database DSN provided, will use in-memory store")
		return nil
	}
	if store.DetectDSNType(dsn) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store")
		return []store.Option{store.WithPostgresDSN(dsn)}
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", dsn)
	return []store.Option{store.WithSQLiteDSN(dsn)}
}

// newStore opens the session store for the configured DSN.
func newStore(dsn string) (store.Store, error) {
	opts := buildStoreOptions(dsn)
	if len(opts) == 0 {
		return store.NewInMemoryStore(), nil
	}
	if store.DetectDSNType(dsn) == "postgres" {
		return store.NewPostgresStore(opts...)
	}
	return store.NewSQLiteStore(opts...)
}

// run wires the modules together and serves until a shutdown signal.
func run(flags Flags) error {
	config := flags.config

	st, err := newStore(*flags.dbDSN)
	if err != nil {
		return err
	}
	defer st.Close()

	shop, err := elastic.NewClient(
		elastic.WithCredentials(config.MoltinClientID, config.MoltinClientSecret),
	)
	if err != nil {
		return err
	}
	geocoder, err := geo.NewResolver(geo.WithAPIKey(config.YandexAPIKey))
	if err != nil {
		return err
	}

	tg, err := telegram.NewClient(
		telegram.WithToken(config.TelegramToken),
		telegram.WithPaymentToken(config.TelegramPaymentToken),
	)
	if err != nil {
		return err
	}

	registry := bot.Registry{models.TransportTelegram: tg}

	var fb *messenger.Client
	if config.MessengerToken != "" {
		fb, err = messenger.NewClient(
			messenger.WithAccessToken(config.MessengerToken),
			messenger.WithVerifyToken(config.MessengerVerifyToken),
		)
		if err != nil {
			return err
		}
		registry[models.TransportMessenger] = fb
	} else {
		slog.Info("No Messenger token configured, running Telegram only")
	}

	dispatcher := dispatch.NewDispatcher(st, shop, registry)
	defer dispatcher.Stop()

	engine := bot.NewEngine(st, shop, geocoder, dispatcher, registry)
	defer engine.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Courier jobs are in-memory; rebuild them from persisted sessions
	// before taking traffic.
	if err := recovery.NewRecoverer(st, shop, dispatcher).Recover(ctx); err != nil {
		return err
	}

	errs := make(chan error, 3)
	go func() {
		errs <- tg.Run(ctx)
	}()
	go pump(ctx, engine, tg.Events())

	if fb != nil {
		server := messenger.NewServer(*flags.listenAddr, fb)
		go func() {
			errs <- server.Run(ctx)
		}()
		go pump(ctx, engine, fb.Events())
	}

	slog.Info("Pizzabot is running", "transports", len(registry))
	select {
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
		return nil
	case err := <-errs:
		return err
	}
}

// pump feeds a transport's events into the engine.
func pump(ctx context.Context, engine *bot.Engine, events <-chan models.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			engine.Dispatch(ev)
		}
	}
}
