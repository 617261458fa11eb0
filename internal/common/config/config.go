// internal/common/config/config.go
package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App        AppConfig               `mapstructure:"app"`
	Server     ServerConfig            `mapstructure:"server"`
	Camunda    CamundaConfig           `mapstructure:"camunda"`
	Database   DatabaseConfig          `mapstructure:"database"`
	Storage    StorageConfig           `mapstructure:"storage"`
	Kafka      KafkaConfig             `mapstructure:"kafka"`
	Submission SubmissionConfig        `mapstructure:"submission"`
	Attempts   AttemptsConfig          `mapstructure:"attempts"`
	Templates  TemplateConfig          `mapstructure:"templates"`
	Workers    map[string]WorkerConfig `mapstructure:"workers"`
	Logging    LoggingConfig           `mapstructure:"logging"`
	Tracing    TracingConfig           `mapstructure:"tracing"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type ServerConfig struct {
	Port            int `mapstructure:"port"`
	ReadTimeout     int `mapstructure:"read_timeout"`     // milliseconds
	WriteTimeout    int `mapstructure:"write_timeout"`    // milliseconds
	ShutdownTimeout int `mapstructure:"shutdown_timeout"` // milliseconds
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf(":%d", s.Port)
}

type CamundaConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	BrokerAddress  string `mapstructure:"broker_address"`
	UsePlaintext   bool   `mapstructure:"use_plaintext"`
	MaxJobsActive  int    `mapstructure:"max_jobs_active"`
	Timeout        int    `mapstructure:"timeout"`         // milliseconds
	RequestTimeout int    `mapstructure:"request_timeout"` // milliseconds
}

type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
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

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// StorageConfig selects and configures the drawing object store.
type StorageConfig struct {
	Backend       string      `mapstructure:"backend"` // minio | s3 | none
	Bucket        string      `mapstructure:"bucket"`
	Prefix        string      `mapstructure:"prefix"`
	PresignTTL    int         `mapstructure:"presign_ttl"`    // milliseconds
	UploadTimeout int         `mapstructure:"upload_timeout"` // milliseconds
	MinIO         MinIOConfig `mapstructure:"minio"`
	S3            S3Config    `mapstructure:"s3"`
}

type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	Region          string `mapstructure:"region"`
}

type S3Config struct {
	Region       string `mapstructure:"region"`
	Endpoint     string `mapstructure:"endpoint"`
	UsePathStyle bool   `mapstructure:"use_path_style"`
}

type KafkaConfig struct {
	Brokers      []string `mapstructure:"brokers"`
	Topic        string   `mapstructure:"topic"`
	BatchTimeout int      `mapstructure:"batch_timeout"` // milliseconds
}

// SubmissionConfig drives extraction, validation and dispatch.
type SubmissionConfig struct {
	Limits             LimitsConfig `mapstructure:"limits"`
	SceneAttribute     string       `mapstructure:"scene_attribute"`
	AcceptedImageTypes []string     `mapstructure:"accepted_image_types"`
	Dispatcher         string       `mapstructure:"dispatcher"` // zeebe | kafka
	MessageName        string       `mapstructure:"message_name"`
	MessageTTL         int          `mapstructure:"message_ttl"` // milliseconds
	DispatchTimeout    int          `mapstructure:"dispatch_timeout"`
}

type LimitsConfig struct {
	MaxImages  int `mapstructure:"max_images"`
	MaxImageKB int `mapstructure:"max_image_kb"`
	MaxTotalKB int `mapstructure:"max_total_kb"`
}

// AttemptsConfig configures the retry prepopulation cache.
type AttemptsConfig struct {
	Backend  string `mapstructure:"backend"` // memory | redis
	Capacity int    `mapstructure:"capacity"`
	TTL      int    `mapstructure:"ttl"` // milliseconds, the tutoring session lifetime
}

type TemplateConfig struct {
	RegistryPath string `mapstructure:"registry_path"`
}

// WorkerConfig holds the core settings applicable to every worker.
type WorkerConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxJobsActive int  `mapstructure:"max_jobs_active"`
	Timeout       int  `mapstructure:"timeout"`     // milliseconds
	MaxRetries    int  `mapstructure:"max_retries"` // For error handling
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

type TracingConfig struct {
	JaegerEndpoint string  `mapstructure:"jaeger_endpoint"`
	SampleRatio    float64 `mapstructure:"sample_ratio"`
}
