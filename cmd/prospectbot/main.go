package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xaenox/prospect-bot/internal/autoreset"
	"github.com/xaenox/prospect-bot/internal/classifier"
	"github.com/xaenox/prospect-bot/internal/inbox"
	"github.com/xaenox/prospect-bot/internal/prospect"
	"github.com/xaenox/prospect-bot/internal/storage"
	"github.com/xaenox/prospect-bot/internal/tasks"
	"github.com/xaenox/prospect-bot/internal/traits"
	"github.com/xaenox/prospect-bot/pkg/config"
)

var (
	configPath string

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "prospectbot",
	Short: "Scores Instagram prospects against your ideal customer traits",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if cfg.Log.Development {
			logger, err = zap.NewDevelopment()
		} else {
			logger, err = zap.NewProduction()
		}
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			logger.Sync()
		}
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to the config file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app holds the services every command shares.
type app struct {
	store     storage.Storage
	traits    *traits.Service
	engine    *classifier.Engine
	tracker   *autoreset.Tracker
	analyzer  *prospect.Analyzer
	autoReset *autoreset.Service
	tasks     *tasks.Service
}

func openStorage() (storage.Storage, error) {
	switch cfg.Database.Driver {
	case config.DriverMemory:
		logger.Info("Using in-memory storage")
		return storage.NewMemoryStorage(), nil
	case config.DriverSQLite:
		logger.Info("Using SQLite storage", zap.String("path", cfg.Database.Path))
		return storage.NewSQLiteStorage(cfg.Database.Path, logger)
	default:
		logger.Info("Using PostgreSQL storage")
		return storage.NewPostgresStorage(storage.DatabaseConfig{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			DBName:   cfg.Database.DBName,
			SSLMode:  cfg.Database.SSLMode,
		}, logger)
	}
}

func newApp() (*app, error) {
	store, err := openStorage()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	llm := classifier.NewGPTStrategy(cfg.OpenAI.APIKey, classifier.LLMConfig{
		Model:         cfg.OpenAI.Model,
		MaxTokens:     cfg.OpenAI.MaxTokens,
		Temperature:   cfg.OpenAI.Temperature,
		MinConfidence: cfg.Classifier.MinConfidence,
		Timeout:       cfg.OpenAI.Timeout,
	}, logger)
	if llm == nil {
		logger.Info("No OpenAI API key configured, classifying with keywords")
	}

	engine := classifier.NewEngine(store, llm, logger)
	tracker := autoreset.NewTracker(store)

	return &app{
		store:     store,
		traits:    traits.NewService(store, logger),
		engine:    engine,
		tracker:   tracker,
		analyzer:  prospect.NewAnalyzer(store, engine, tracker, logger),
		autoReset: autoreset.NewService(store, cfg.AutoReset.DefaultHours, logger),
		tasks:     tasks.NewService(store, logger),
	}, nil
}

func (a *app) newInbox(notifier inbox.Notifier) *inbox.Processor {
	return inbox.NewProcessor(a.store, a.traits, a.analyzer, a.tracker, a.tasks, notifier, logger)
}

func (a *app) Close() error {
	return a.store.Close()
}
