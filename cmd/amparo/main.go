package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/amparo-care/amparo/internal/api"
	"github.com/amparo-care/amparo/internal/lockfile"
	"github.com/amparo-care/amparo/internal/messaging"
	"github.com/amparo-care/amparo/internal/notify"
	"github.com/amparo-care/amparo/internal/routine"
	"github.com/amparo-care/amparo/internal/scheduler"
	"github.com/amparo-care/amparo/internal/store"
	"github.com/amparo-care/amparo/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for Amparo state data
	DefaultStateDir = "/var/lib/amparo"
	// DefaultIdentityDBFileName is the default SQLite database filename
	DefaultIdentityDBFileName = "amparo.db"
	// DefaultMongoURI is the default MongoDB connection string
	DefaultMongoURI = "mongodb://localhost:27017"
)

// Config holds environment configuration
type Config struct {
	StateDir       string
	MongoURI       string
	MongoDatabase  string
	IdentityDriver string
	IdentityDSN    string
	RedisAddr      string
	RedisPassword  string
	APIAddr        string
	SchedulerOn    bool
	TwilioSID      string
}

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	parseCommandLineFlags(&config)

	// A second scheduler process against the same state would break the
	// at-most-once notification guarantee.
	lock, err := lockfile.AcquireLock(config.StateDir)
	if err != nil {
		slog.Error("Failed to acquire state directory lock", "error", err)
		os.Exit(1)
	}
	defer lock.Release()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, config); err != nil {
		slog.Error("Amparo failed to run", "error", err)
		lock.Release()
		os.Exit(1)
	}
	slog.Info("Amparo exited successfully")
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		StateDir:       os.Getenv("AMPARO_STATE_DIR"),
		MongoURI:       os.Getenv("MONGO_URI"),
		MongoDatabase:  os.Getenv("MONGO_DATABASE"),
		IdentityDriver: os.Getenv("IDENTITY_DB_DRIVER"),
		IdentityDSN:    os.Getenv("DATABASE_URL"),
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		APIAddr:        os.Getenv("API_ADDR"),
		SchedulerOn:    util.ParseBoolEnv("SCHEDULER_ENABLED", true),
		TwilioSID:      os.Getenv("TWILIO_ACCOUNT_SID"),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No AMPARO_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	if config.MongoURI == "" {
		config.MongoURI = DefaultMongoURI
		slog.Debug("No MONGO_URI set, using default", "mongo_uri", config.MongoURI)
	}
	// Without a Postgres DSN, fall back to SQLite in the state directory.
	if config.IdentityDSN == "" {
		config.IdentityDriver = "sqlite3"
		config.IdentityDSN = filepath.Join(config.StateDir, DefaultIdentityDBFileName)
		slog.Debug("No DATABASE_URL provided, defaulting to SQLite", "sqlite_path", config.IdentityDSN)
	} else if config.IdentityDriver == "" {
		config.IdentityDriver = "postgres"
	}

	slog.Debug("environment variables loaded",
		"AMPARO_STATE_DIR", config.StateDir,
		"MONGO_URI_SET", config.MongoURI != "",
		"DATABASE_URL_SET", config.IdentityDSN != "",
		"IDENTITY_DB_DRIVER", config.IdentityDriver,
		"REDIS_ADDR", config.RedisAddr,
		"API_ADDR", config.APIAddr,
		"SCHEDULER_ENABLED", config.SchedulerOn,
		"TWILIO_ACCOUNT_SID_SET", config.TwilioSID != "")

	return config
}

// parseCommandLineFlags lets flags override the environment configuration.
func parseCommandLineFlags(config *Config) {
	flag.StringVar(&config.StateDir, "state-dir", config.StateDir, "Directory for Amparo state data")
	flag.StringVar(&config.MongoURI, "mongo-uri", config.MongoURI, "MongoDB connection URI for routine documents")
	flag.StringVar(&config.IdentityDSN, "identity-dsn", config.IdentityDSN, "Relational DSN for the identity store")
	flag.StringVar(&config.RedisAddr, "redis-addr", config.RedisAddr, "Redis address for the notification channel (empty = in-process)")
	flag.StringVar(&config.APIAddr, "api-addr", config.APIAddr, "API listen address")
	flag.BoolVar(&config.SchedulerOn, "scheduler", config.SchedulerOn, "Run the notification scheduler")
	flag.Parse()
}

func run(ctx context.Context, config Config) error {
	slog.Info("Bootstrapping Amparo with configured modules")

	// Routine document store
	mongoOpts := []store.Option{store.WithDSN(config.MongoURI)}
	if config.MongoDatabase != "" {
		mongoOpts = append(mongoOpts, store.WithDatabase(config.MongoDatabase))
	}
	routineStore, err := store.NewMongoRoutineStore(ctx, mongoOpts...)
	if err != nil {
		return err
	}
	defer routineStore.Close(context.Background())

	// Identity store
	var identityStore store.IdentityStore
	if config.IdentityDriver == "postgres" {
		identityStore, err = store.NewPostgresIdentityStore(store.WithDSN(config.IdentityDSN))
	} else {
		identityStore, err = store.NewSQLiteIdentityStore(store.WithDSN(config.IdentityDSN))
	}
	if err != nil {
		return err
	}
	defer identityStore.Close()

	// Notification channel
	var notifier notify.Notifier
	if config.RedisAddr != "" {
		redisNotifier, err := notify.NewRedisNotifier(ctx,
			notify.WithAddr(config.RedisAddr),
			notify.WithPassword(config.RedisPassword),
		)
		if err != nil {
			return err
		}
		defer redisNotifier.Close()
		notifier = redisNotifier
	} else {
		slog.Warn("REDIS_ADDR not set; events stay in-process and are not fanned out to gateways")
		notifier = notify.NewMemoryNotifier()
	}

	manager := routine.NewManager(routineStore, notifier)

	// Scheduler
	if config.SchedulerOn {
		engine := scheduler.NewEngine(routineStore, notifier)
		if config.TwilioSID != "" {
			sms, err := messaging.NewTwilioSMS()
			if err != nil {
				slog.Warn("Twilio SMS escalation disabled", "error", err)
			} else {
				engine.WithSMSEscalation(sms, identityStore)
				slog.Info("Twilio SMS escalation enabled for failure alerts")
			}
		}
		sched := scheduler.NewScheduler()
		defer sched.Stop()
		if err := engine.Start(sched); err != nil {
			return err
		}
		slog.Info("Scheduler started", "tick", scheduler.TickSpec)
	} else {
		slog.Info("Scheduler disabled by configuration")
	}

	server := api.NewServer(manager, identityStore, notifier, api.WithAddr(config.APIAddr))
	return server.Run(ctx)
}
