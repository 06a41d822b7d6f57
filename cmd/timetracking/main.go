// The timetracking binary is the back-office worker for the time
// entry core: it runs the schema migration on startup and tails the
// audit topic. The TimeEntryService itself is a library package wired
// by the transport front ends.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/cenkalti/backoff/v4"
	"github.com/rachuba/backoffice/internal/timetracking/db"
	"github.com/rachuba/backoffice/internal/timetracking/events"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Config struct for YAML configuration
type Config struct {
	DBHost       string   `yaml:"DB_HOST"`
	DBPort       int      `yaml:"DB_PORT"`
	DBUser       string   `yaml:"DB_USER"`
	DBPassword   string   `yaml:"DB_PASSWORD"`
	DBName       string   `yaml:"DB_NAME"`
	DBSSLMode    string   `yaml:"DB_SSLMODE"`
	KafkaBrokers []string `yaml:"KAFKA_BROKERS"`
	AuditTopic   string   `yaml:"AUDIT_TOPIC"`
	AuditGroupID string   `yaml:"AUDIT_GROUP_ID"`
}

func main() {
	logger := initLogger()
	defer func(logger *zap.Logger) {
		err := logger.Sync()
		if err != nil {
			logger.Error("failed to sync logger", zap.Error(err))
		}
	}(logger)

	cfg, err := loadConfig()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	repo, err := initDatabaseWithRetry(cfg)
	if err != nil {
		log.Fatal("failed to initialize database", err)
	}
	defer repo.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	consumer := events.NewConsumer(cfg.KafkaBrokers, cfg.AuditGroupID, cfg.AuditTopic, logger)
	consumer.RegisterHandler(func(_ context.Context, event events.Event) error {
		logger.Info("audit event",
			zap.String("action", string(event.Action)),
			zap.String("entry_id", event.EntryID.String()),
			zap.String("actor_id", event.ActorID.String()),
		)
		return nil
	})
	consumer.Start(ctx)
	defer consumer.Close()

	logger.Info("time tracking worker ready")
	waitForShutdown(logger)
}

// initLogger initializes a Zap production logger.
func initLogger() *zap.Logger {
	logger, _ := zap.NewProduction()
	return logger
}

// loadConfig loads configuration. Use real config tooling (e.g. Viper) in production.
func loadConfig() (*Config, error) {
	configPath := filepath.Join("internal", "timetracking", "config", "config.yaml")
	file, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}
	var cfg Config
	err = yaml.Unmarshal(file, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// initDatabaseWithRetry opens the repository, retrying with
// exponential backoff while the database comes up.
func initDatabaseWithRetry(cfg *Config) (*db.Repository, error) {
	dbConf := &db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		DBName:   cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}

	var repo *db.Repository
	err := backoff.Retry(func() error {
		var err error
		repo, err = db.NewRepository(dbConf)
		return err
	}, backoff.NewExponentialBackOff())
	return repo, err
}

// waitForShutdown blocks until an interrupt or SIGTERM is received.
func waitForShutdown(logger *zap.Logger) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
}
