package config

import (
	"os"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/pkg/errors"
	"go.yaml.in/yaml/v4"
)

// Config: YAML-файл (путь в env configPath) плюс переопределения из окружения.
// env-теги без env-default: незаданная переменная не затирает значение из файла.
// Нулевые значения заменяются дефолтами при сборке приложения.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	SentryBox SentryBoxConfig `yaml:"sentrybox"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host" env:"DB_HOST"`
	Port     int    `yaml:"port" env:"DB_PORT"`
	Username string `yaml:"username" env:"DB_USER"`
	Password string `yaml:"password" env:"DB_PASSWORD"`
	DBName   string `yaml:"name" env:"DB_NAME"`
	SSLMode  string `yaml:"ssl_mode" env:"DB_SSL_MODE"`
}

type KafkaConfig struct {
	Host               string `yaml:"host" env:"KAFKA_HOST"`
	Port               int    `yaml:"port" env:"KAFKA_PORT"`
	TelemetryTopicName string `yaml:"telemetry_topic_name" env:"KAFKA_TELEMETRY_TOPIC"`
	OutcomeTopicName   string `yaml:"outcome_topic_name" env:"KAFKA_OUTCOME_TOPIC"`
	ConsumerGroup      string `yaml:"consumer_group" env:"KAFKA_CONSUMER_GROUP"`
	PublishOutcomes    bool   `yaml:"publish_outcomes" env:"KAFKA_PUBLISH_OUTCOMES"`
}

type RedisConfig struct {
	Host                string `yaml:"host" env:"REDIS_HOST"`
	Port                int    `yaml:"port" env:"REDIS_PORT"`
	Password            string `yaml:"password" env:"REDIS_PASSWORD"`
	DB                  int    `yaml:"db" env:"REDIS_DB"`
	LinkCacheTTLSeconds int    `yaml:"link_cache_ttl_seconds"`
}

type MQTTConfig struct {
	BrokerURL string `yaml:"broker_url" env:"MQTT_BROKER_URL"`
	Topic     string `yaml:"topic" env:"MQTT_TOPIC"`
	ClientID  string `yaml:"client_id" env:"MQTT_CLIENT_ID"`
	Username  string `yaml:"username" env:"MQTT_USERNAME"`
	Password  string `yaml:"password" env:"MQTT_PASSWORD"`
	QoS       int    `yaml:"qos"`
}

type TelegramConfig struct {
	BotToken           string `yaml:"bot_token" env:"TELEGRAM_BOT_TOKEN"`
	ServerURL          string `yaml:"server_url" env:"TELEGRAM_SERVER_URL"`
	SendTimeoutSeconds int    `yaml:"send_timeout_seconds"`
	RequestsPerSecond  int    `yaml:"requests_per_second"`
	// DryRun пишет сообщения в лог вместо отправки.
	DryRun bool `yaml:"dry_run" env:"TELEGRAM_DRY_RUN"`
}

type SentryBoxConfig struct {
	HTTPAddr      string `yaml:"http_addr" env:"HTTP_ADDR"`
	AdminHTTPAddr string `yaml:"admin_http_addr" env:"ADMIN_HTTP_ADDR"`
	GRPCAddr      string `yaml:"grpc_addr" env:"GRPC_ADDR"`
	SwaggerPath   string `yaml:"swagger_path" env:"swaggerPath"`

	// StreamSource: "kafka" | "mqtt" | "none".
	StreamSource    string `yaml:"stream_source" env:"STREAM_SOURCE"`
	DeepLinkBaseURL string `yaml:"deep_link_base_url" env:"DEEP_LINK_BASE_URL"`
	WebhookSecret   string `yaml:"webhook_secret" env:"TESLA_WEBHOOK_SECRET"`

	TestVINs         []string `yaml:"test_vins" env:"TEST_VINS"`
	SimulatedDelayMs int      `yaml:"simulated_delay_ms" env:"SIMULATED_DELAY_MS"`

	RetryIntervalSeconds int `yaml:"retry_interval_seconds"`
	RetryMaxAttempts     int `yaml:"retry_max_attempts"`
	RetryConcurrency     int `yaml:"retry_concurrency"`
	RetryBackoff1Seconds int `yaml:"retry_backoff_1_seconds"`
	RetryBackoff2Seconds int `yaml:"retry_backoff_2_seconds"`
	RetryBackoff3Seconds int `yaml:"retry_backoff_3_seconds"`
	RetryBackoff4Seconds int `yaml:"retry_backoff_4_seconds"`

	CooldownLimit         int `yaml:"cooldown_limit"`
	CooldownWindowSeconds int `yaml:"cooldown_window_seconds"`
}

type LoggingConfig struct {
	Level      string `yaml:"level" env:"LOG_LEVEL"`
	Format     string `yaml:"format" env:"LOG_FORMAT"`
	Output     string `yaml:"output" env:"LOG_OUTPUT"`
	FilePath   string `yaml:"file_path" env:"LOG_FILE_PATH"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" env:"OTEL_ENABLED"`
	Endpoint     string  `yaml:"endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	Insecure     bool    `yaml:"insecure"`
	SamplingRate float64 `yaml:"sampling_rate"`
	Environment  string  `yaml:"environment" env:"DEPLOY_ENV"`
}

// LoadConfig reads filename (skipped when empty) and applies env overrides.
func LoadConfig(filename string) (*Config, error) {
	var config Config

	if filename != "" {
		data, err := os.ReadFile(filename)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read config file")
		}
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal YAML")
		}
	}

	if err := cleanenv.ReadEnv(&config); err != nil {
		return nil, errors.Wrap(err, "failed to apply env overrides")
	}

	return &config, nil
}
