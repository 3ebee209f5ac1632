package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	ServiceName string    `mapstructure:"service_name"`
	Env         string    `mapstructure:"env"`
	Port        string    `mapstructure:"port"`
	Database    Database  `mapstructure:"database"`
	AWS         AWS       `mapstructure:"aws"`
	Workflow    Workflow  `mapstructure:"workflow"`
	Telemetry   Telemetry `mapstructure:"telemetry"`
}

type Telemetry struct {
	Enabled      bool   `mapstructure:"enabled"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

type Database struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

type AWS struct {
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	Region          string `mapstructure:"region"`
	EndpointSNS     string `mapstructure:"endpoint_sns"`
	EndpointSQS     string `mapstructure:"endpoint_sqs"`
	SNSTopicArn     string `mapstructure:"sns_topic_arn"`
	ReplyQueueURL   string `mapstructure:"reply_queue_url"`
	QueueURLPrefix  string `mapstructure:"queue_url_prefix"`
}

// Workflow holds orchestration timing knobs. Create steps are slower than
// status updates, so they get a longer timeout and an extra attempt.
type Workflow struct {
	CreateStepTimeout    time.Duration `mapstructure:"create_step_timeout"`
	CreateStepAttempts   int           `mapstructure:"create_step_attempts"`
	UpdateStepTimeout    time.Duration `mapstructure:"update_step_timeout"`
	UpdateStepAttempts   int           `mapstructure:"update_step_attempts"`
	RetryBaseDelay       time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay        time.Duration `mapstructure:"retry_max_delay"`
	CompensationTimeout  time.Duration `mapstructure:"compensation_timeout"`
	CompletedRetention   time.Duration `mapstructure:"completed_retention"`
	SweepInterval        time.Duration `mapstructure:"sweep_interval"`
	PendingGaugeInterval time.Duration `mapstructure:"pending_gauge_interval"`
	EventStoreEnabled    bool          `mapstructure:"event_store_enabled"`
	ReplyConsumerWorkers int           `mapstructure:"reply_consumer_workers"`
	ReplyConsumerEnabled bool          `mapstructure:"reply_consumer_enabled"`
	ShutdownGracePeriod  time.Duration `mapstructure:"shutdown_grace_period"`
}

func ReadConfig() (*Config, error) {
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		return nil, fmt.Errorf("unable to get current file")
	}

	configDir := filepath.Join(filepath.Dir(filename))
	viper.SetConfigName(getConfigName())
	viper.SetConfigType("json")
	viper.AddConfigPath(configDir)

	// Allow environment variables to override config
	viper.AutomaticEnv()
	viper.SetEnvPrefix("ORDER")

	setDefaultsFromEnv()

	if err := viper.ReadInConfig(); err != nil {
		// A config file is optional; defaults and env cover everything.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &config, nil
}

func getConfigName() string {
	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		return "local"
	}
	return env
}

func setDefaultsFromEnv() {
	// Service defaults
	viper.SetDefault("service_name", "orchestrator-service")
	viper.SetDefault("env", getEnv("ENV", "local"))
	viper.SetDefault("port", getEnv("PORT", "8080"))

	// Database defaults
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5433)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "password")
	viper.SetDefault("database.database", "order_system")
	viper.SetDefault("database.ssl_mode", "disable")

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		viper.Set("database.url", dbURL)
	}

	// AWS defaults
	viper.SetDefault("aws.access_key_id", getEnv("AWS_ACCESS_KEY_ID", "test"))
	viper.SetDefault("aws.secret_access_key", getEnv("AWS_SECRET_ACCESS_KEY", "test"))
	viper.SetDefault("aws.region", getEnv("AWS_DEFAULT_REGION", "us-east-1"))
	viper.SetDefault("aws.endpoint_sns", getEnv("AWS_ENDPOINT_URL_SNS", "http://localhost:4566"))
	viper.SetDefault("aws.endpoint_sqs", getEnv("AWS_ENDPOINT_URL_SQS", "http://localhost:4566"))
	viper.SetDefault("aws.sns_topic_arn", getEnv("SNS_TOPIC_ARN", "arn:aws:sns:us-east-1:000000000000:workflow-events"))
	viper.SetDefault("aws.reply_queue_url", getEnv("REPLY_QUEUE_URL", "http://localhost:4566/000000000000/orchestrator.reply"))
	viper.SetDefault("aws.queue_url_prefix", getEnv("QUEUE_URL_PREFIX", "http://localhost:4566/000000000000"))

	// Workflow defaults
	viper.SetDefault("workflow.create_step_timeout", "30s")
	viper.SetDefault("workflow.create_step_attempts", 3)
	viper.SetDefault("workflow.update_step_timeout", "15s")
	viper.SetDefault("workflow.update_step_attempts", 2)
	viper.SetDefault("workflow.retry_base_delay", "1s")
	viper.SetDefault("workflow.retry_max_delay", "30s")
	viper.SetDefault("workflow.compensation_timeout", "15s")
	viper.SetDefault("workflow.completed_retention", "24h")
	viper.SetDefault("workflow.sweep_interval", "1h")
	viper.SetDefault("workflow.pending_gauge_interval", "15s")
	viper.SetDefault("workflow.event_store_enabled", false)
	viper.SetDefault("workflow.reply_consumer_workers", 10)
	viper.SetDefault("workflow.reply_consumer_enabled", true)
	viper.SetDefault("workflow.shutdown_grace_period", "30s")

	// Telemetry defaults
	viper.SetDefault("telemetry.enabled", getEnv("TELEMETRY_ENABLED", "true") == "true")
	viper.SetDefault("telemetry.otlp_endpoint", getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"))
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetDatabaseURL constructs database URL from config
func (c *Config) GetDatabaseURL() string {
	if url := viper.GetString("database.url"); url != "" {
		return url
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
		c.Database.SSLMode,
	)
}
