package models

import "time"

// Config represents the application configuration
type Config struct {
	Ingestion  IngestionConfig  `yaml:"ingestion"`
	Email      EmailConfig      `yaml:"email"`
	Vertex     VertexConfig     `yaml:"vertex"`
	CaseEngine CaseEngineConfig `yaml:"caseEngine"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// IngestionConfig holds the feature flag and the tunables of one cycle
type IngestionConfig struct {
	Enabled         bool          `yaml:"enabled"`
	WindowMinutes   int           `yaml:"windowMinutes"`
	MaxMessages     int           `yaml:"maxMessages"`
	Folder          string        `yaml:"folder"`
	Workers         int           `yaml:"workers"`
	ClassifyTimeout time.Duration `yaml:"classifyTimeout"`
	LinkTimeout     time.Duration `yaml:"linkTimeout"`
}

// Window returns the look-back window as a duration
func (c IngestionConfig) Window() time.Duration {
	return time.Duration(c.WindowMinutes) * time.Minute
}

// EmailConfig represents IMAP email configuration
type EmailConfig struct {
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	StartTLS bool          `yaml:"startTLS"`
	Login    string        `yaml:"login"`
	Password string        `yaml:"password"`
	Timeout  time.Duration `yaml:"timeout"`
}

// VertexConfig configures the Gemini classifier
type VertexConfig struct {
	Enabled             bool          `yaml:"enabled"`
	ProjectID           string        `yaml:"projectId"`
	Location            string        `yaml:"location"`
	Model               string        `yaml:"model"`
	CredentialsJSON     string        `yaml:"credentialsJson"`
	Endpoint            string        `yaml:"endpoint"`
	ConfidenceThreshold float64       `yaml:"confidenceThreshold"`
	Timeout             time.Duration `yaml:"timeout"`
}

// CaseEngineConfig tunes case grouping and provisional rules
type CaseEngineConfig struct {
	ConfidenceThreshold float64       `yaml:"confidenceThreshold"`
	GroupingWindow      time.Duration `yaml:"groupingWindow"`
}

// DatabaseConfig selects the SQL backend
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	URL    string `yaml:"url"`
}

// RedisConfig configures the optional run lock
type RedisConfig struct {
	URL     string        `yaml:"url"`
	LockKey string        `yaml:"lockKey"`
	LockTTL time.Duration `yaml:"lockTTL"`
}

// SchedulerConfig drives the periodic job
type SchedulerConfig struct {
	Schedule   string        `yaml:"schedule"`
	RunTimeout time.Duration `yaml:"runTimeout"`
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// LoggingConfig configures the logrus logger
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}
