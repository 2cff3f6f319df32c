package main

import (
	"context"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"brokerage-mail-ingestor/internal/audit"
	"brokerage-mail-ingestor/internal/caseengine"
	"brokerage-mail-ingestor/internal/classify"
	"brokerage-mail-ingestor/internal/config"
	"brokerage-mail-ingestor/internal/emailprocessor"
	"brokerage-mail-ingestor/internal/imap"
	"brokerage-mail-ingestor/internal/ingest"
	"brokerage-mail-ingestor/internal/logging"
	"brokerage-mail-ingestor/internal/metrics"
	"brokerage-mail-ingestor/internal/models"
	"brokerage-mail-ingestor/internal/runlock"
	"brokerage-mail-ingestor/internal/store"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "ingestor",
	Short:         "Inbound email ingestion and case linking",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the YAML configuration file (empty to use environment only)")
	rootCmd.AddCommand(runCmd, serveCmd, reconcileCmd, brokerCmd, routingCmd)

	if err := rootCmd.Execute(); err != nil {
		logging.Log.Fatalf("Error: %v", err)
	}
}

// app holds everything a command needs, built from the configuration
type app struct {
	cfg      *models.Config
	store    *store.Store
	redis    *redis.Client
	registry *prometheus.Registry
	ingestor *ingest.Ingestor
}

func loadConfig() (*models.Config, error) {
	path := configPath
	if path != "" {
		if _, err := os.Stat(path); os.IsNotExist(err) && !rootCmd.PersistentFlags().Changed("config") {
			path = ""
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("reading configuration: %w", err)
	}
	logging.Configure(cfg.Logging.Level, cfg.Logging.Format)
	return cfg, nil
}

func newApp(ctx context.Context, cfg *models.Config) (*app, error) {
	s, err := store.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, store: s, registry: prometheus.NewRegistry()}

	classifier, err := newClassifier(ctx, cfg.Vertex)
	if err != nil {
		a.Close()
		return nil, err
	}

	auditLog := audit.NewLogger(s)
	engine := caseengine.NewStoreEngine(s, cfg.CaseEngine)
	processor := emailprocessor.NewProcessor(s, classifier, engine, auditLog, cfg.Ingestion)

	opts := []ingest.Option{
		ingest.WithStaleLister(s),
		ingest.WithMetrics(metrics.New(a.registry)),
		ingest.WithConnectTimeout(cfg.Email.Timeout),
	}
	if cfg.Redis.URL != "" {
		a.redis, err = runlock.Dial(cfg.Redis.URL)
		if err != nil {
			a.Close()
			return nil, err
		}
		opts = append(opts, ingest.WithLock(runlock.New(a.redis, cfg.Redis.LockKey, cfg.Redis.LockTTL)))
	}

	a.ingestor = ingest.New(cfg.Ingestion, ingest.FromAdapter(imap.NewAdapter(cfg.Email)), processor, auditLog, opts...)
	return a, nil
}

// newClassifier picks Vertex AI when enabled and the keyword rules otherwise
func newClassifier(ctx context.Context, cfg models.VertexConfig) (classify.Classifier, error) {
	if !cfg.Enabled {
		logging.Log.Info("Vertex AI disabled, using keyword classifier")
		return classify.NewKeywordClassifier(), nil
	}

	vertex, err := classify.NewVertexClassifier(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating Vertex AI classifier: %w", err)
	}
	logging.Log.Infof("Using Vertex AI model %s in %s", cfg.Model, cfg.Location)
	return vertex, nil
}

func (a *app) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			logging.Log.Warnf("Error closing redis client: %v", err)
		}
	}
	if err := a.store.Close(); err != nil {
		logging.Log.Warnf("Error closing store: %v", err)
	}
}
