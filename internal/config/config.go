package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"brokerage-mail-ingestor/internal/models"

	"gopkg.in/yaml.v2"
)

const (
	DefaultIMAPHost            = "imap.zoho.com"
	DefaultIMAPPort            = 993
	DefaultWindowMinutes       = 60
	DefaultMaxMessages         = 20
	DefaultFolder              = "INBOX"
	DefaultVertexLocation      = "us-central1"
	DefaultVertexModel         = "gemini-1.5-flash"
	DefaultConfidenceThreshold = 0.72
	DefaultSchedule            = "0 */5 * * * *"
	DefaultCallTimeout         = 30 * time.Second
)

// Load reads the configuration from the specified YAML file, applies environment
// overrides and fills defaults. An empty path skips the file.
func Load(filepath string) (*models.Config, error) {
	var config models.Config

	if filepath != "" {
		configFile, err := os.ReadFile(filepath)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(configFile))), &config); err != nil {
			return nil, err
		}
	}

	applyEnv(&config)
	applyDefaults(&config)

	return &config, nil
}

// applyEnv lets process environment override the file, using the variable names
// the portal deployment already sets.
func applyEnv(c *models.Config) {
	c.Ingestion.Enabled = envBool("FEATURE_ENABLE_IMAP", c.Ingestion.Enabled)
	c.Ingestion.WindowMinutes = envInt("IMAP_POLL_WINDOW_MINUTES", c.Ingestion.WindowMinutes)
	c.Ingestion.MaxMessages = envInt("IMAP_MAX_MESSAGES_PER_RUN", c.Ingestion.MaxMessages)
	c.Ingestion.Folder = envString("IMAP_DEFAULT_FOLDER", c.Ingestion.Folder)
	c.Ingestion.Workers = envInt("IMAP_WORKERS", c.Ingestion.Workers)

	c.Email.Host = envString("ZOHO_IMAP_HOST", c.Email.Host)
	c.Email.Port = envInt("ZOHO_IMAP_PORT", c.Email.Port)
	c.Email.Login = envString("ZOHO_IMAP_USER", c.Email.Login)
	c.Email.Password = envString("ZOHO_IMAP_PASS", c.Email.Password)

	c.Vertex.Enabled = envBool("FEATURE_ENABLE_VERTEX", c.Vertex.Enabled)
	c.Vertex.ProjectID = envString("GOOGLE_CLOUD_PROJECT_ID", c.Vertex.ProjectID)
	c.Vertex.Location = envString("GOOGLE_CLOUD_LOCATION", c.Vertex.Location)
	c.Vertex.Model = envString("VERTEX_MODEL_EMAIL", c.Vertex.Model)
	c.Vertex.CredentialsJSON = envString("GOOGLE_APPLICATION_CREDENTIALS_JSON", c.Vertex.CredentialsJSON)
	c.Vertex.ConfidenceThreshold = envFloat("VERTEX_CONFIDENCE_THRESHOLD", c.Vertex.ConfidenceThreshold)

	c.Database.Driver = envString("DATABASE_DRIVER", c.Database.Driver)
	c.Database.URL = envString("DATABASE_URL", c.Database.URL)
	c.Redis.URL = envString("REDIS_URL", c.Redis.URL)
	c.Metrics.Addr = envString("METRICS_ADDR", c.Metrics.Addr)
	c.Logging.Level = envString("LOG_LEVEL", c.Logging.Level)
}

func applyDefaults(c *models.Config) {
	if c.Ingestion.WindowMinutes <= 0 {
		c.Ingestion.WindowMinutes = DefaultWindowMinutes
	}
	if c.Ingestion.MaxMessages <= 0 {
		c.Ingestion.MaxMessages = DefaultMaxMessages
	}
	if strings.TrimSpace(c.Ingestion.Folder) == "" {
		c.Ingestion.Folder = DefaultFolder
	}
	if c.Ingestion.Workers <= 0 {
		c.Ingestion.Workers = 1
	}
	if c.Ingestion.ClassifyTimeout <= 0 {
		c.Ingestion.ClassifyTimeout = DefaultCallTimeout
	}
	if c.Ingestion.LinkTimeout <= 0 {
		c.Ingestion.LinkTimeout = DefaultCallTimeout
	}

	if c.Email.Host == "" {
		c.Email.Host = DefaultIMAPHost
	}
	if c.Email.Port == 0 {
		c.Email.Port = DefaultIMAPPort
	}
	if c.Email.Timeout <= 0 {
		c.Email.Timeout = DefaultCallTimeout
	}

	if c.Vertex.Location == "" {
		c.Vertex.Location = DefaultVertexLocation
	}
	if c.Vertex.Model == "" {
		c.Vertex.Model = DefaultVertexModel
	}
	if c.Vertex.ConfidenceThreshold <= 0 {
		c.Vertex.ConfidenceThreshold = DefaultConfidenceThreshold
	}
	if c.Vertex.Timeout <= 0 {
		c.Vertex.Timeout = DefaultCallTimeout
	}

	if c.CaseEngine.ConfidenceThreshold <= 0 {
		c.CaseEngine.ConfidenceThreshold = c.Vertex.ConfidenceThreshold
	}
	if c.CaseEngine.GroupingWindow <= 0 {
		c.CaseEngine.GroupingWindow = 24 * time.Hour
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.URL == "" && c.Database.Driver == "sqlite" {
		c.Database.URL = "file:ingestor.db"
	}

	if c.Redis.LockKey == "" {
		c.Redis.LockKey = "ingestor:imap:run"
	}
	if c.Redis.LockTTL <= 0 {
		c.Redis.LockTTL = 10 * time.Minute
	}

	if c.Scheduler.Schedule == "" {
		c.Scheduler.Schedule = DefaultSchedule
	}
	if c.Scheduler.RunTimeout <= 0 {
		c.Scheduler.RunTimeout = 5 * time.Minute
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

// envBool only treats the literal "true" as enabled, any other set value disables
func envBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return strings.EqualFold(strings.TrimSpace(v), "true")
	}
	return fallback
}
