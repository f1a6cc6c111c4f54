// internal/common/config/config.go
package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App           AppConfig               `mapstructure:"app"`
	Database      DatabaseConfig          `mapstructure:"database"`
	Gateways      GatewaysConfig          `mapstructure:"gateways"`
	Assignment    AssignmentConfig        `mapstructure:"assignment"`
	Workers       map[string]WorkerConfig `mapstructure:"workers"`
	Notifications NotificationConfig      `mapstructure:"notifications"`
	Logging       LoggingConfig           `mapstructure:"logging"`
	Metrics       MetricsConfig           `mapstructure:"metrics"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type ElasticsearchConfig struct {
	Addresses  []string `mapstructure:"addresses"`
	Username   string   `mapstructure:"username"`
	Password   string   `mapstructure:"password"`
	SSLEnabled bool     `mapstructure:"ssl_enabled"`
	AuditIndex string   `mapstructure:"audit_index"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// --- Gateway Config ---

// GatewaysConfig holds settings for the external AI service gateways. The
// engine treats both as black boxes reached over HTTP.
type GatewaysConfig struct {
	Redaction      GatewayConfig `mapstructure:"redaction"`
	Classification GatewayConfig `mapstructure:"classification"`
}

type GatewayConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	APIKey     string `mapstructure:"api_key"`
	Timeout    int    `mapstructure:"timeout"`     // milliseconds
	MaxRetries int    `mapstructure:"max_retries"` // bounded attempts before DEPENDENCY_UNAVAILABLE
	Backoff    int    `mapstructure:"backoff"`     // initial backoff, milliseconds
}

// --- Assignment Config ---

// AssignmentConfig drives officer selection and the escalation policy.
type AssignmentConfig struct {
	// CategoryMinLevel maps a service category to the minimum hierarchy
	// level allowed to handle it. Categories not listed default to 1.
	CategoryMinLevel map[string]int `mapstructure:"category_min_level"`

	// EscalateOnReject re-assigns a rejected application to the next
	// hierarchy level instead of finalizing the rejection.
	EscalateOnReject  bool `mapstructure:"escalate_on_reject"`
	MaxHierarchyLevel int  `mapstructure:"max_hierarchy_level"`

	// Retry schedule for CLASSIFIED applications with no eligible officer.
	RetryBackoff    int `mapstructure:"retry_backoff"`     // initial, milliseconds
	RetryBackoffMax int `mapstructure:"retry_backoff_max"` // cap, milliseconds
}

// WorkerConfig holds the core settings applicable to every stage worker.
type WorkerConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	PollInterval int  `mapstructure:"poll_interval"` // milliseconds
	BatchSize    int  `mapstructure:"batch_size"`
	Timeout      int  `mapstructure:"timeout"`     // milliseconds, per claimed application
	MaxRetries   int  `mapstructure:"max_retries"` // bounded attempts per application
}

// NotificationConfig holds settings for the send-notification worker.
type NotificationConfig struct {
	Email struct {
		Enabled   bool   `mapstructure:"enabled"`
		FromEmail string `mapstructure:"from_email"`
	} `mapstructure:"email"`
	SMS struct {
		Enabled  bool   `mapstructure:"enabled"`
		SenderID string `mapstructure:"sender_id"`
	} `mapstructure:"sms"`
	AWS struct {
		Region string `mapstructure:"region"`
	} `mapstructure:"aws"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// MetricsConfig holds the metrics/health listener settings.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}
