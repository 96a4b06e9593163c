package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	PriceBot PriceBotConfig `yaml:"pricebot"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type KafkaConfig struct {
	Host                  string `yaml:"host"`
	Port                  int    `yaml:"port"`
	PriceCheckedTopicName string `yaml:"price_checked_topic_name"`
	ClaimUpdatedTopicName string `yaml:"claim_updated_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type PriceBotConfig struct {
	HTTPAddr                  string `yaml:"http_addr"`
	KafkaConsumerGroup        string `yaml:"kafka_consumer_group"`
	CurrentPurchaseTTLSeconds int    `yaml:"current_purchase_ttl_seconds"`
	SwaggerPath               string `yaml:"swagger_path"`

	WorkerHTTPAddr string `yaml:"worker_http_addr"`

	WorkerPriceIntervalSeconds   int `yaml:"worker_price_interval_seconds"`
	WorkerFilingIntervalSeconds  int `yaml:"worker_filing_interval_seconds"`
	WorkerExpiryIntervalSeconds  int `yaml:"worker_expiry_interval_seconds"`
	WorkerMailboxIntervalSeconds int `yaml:"worker_mailbox_interval_seconds"`

	WorkerBatchSize             int `yaml:"worker_batch_size"`
	WorkerConcurrency           int `yaml:"worker_concurrency"`
	WorkerLeaseSeconds          int `yaml:"worker_lease_seconds"`
	WorkerRateLimitPerMinute    int `yaml:"worker_rate_limit_per_minute"`
	WorkerRequestTimeoutSeconds int `yaml:"worker_request_timeout_seconds"`

	FilingMaxAgeHours     int `yaml:"filing_max_age_hours"`
	FilingRetryDelayHours int `yaml:"filing_retry_delay_hours"`

	// Scheduling (optional). Defaults: MONITORING 6..12 hours with
	// jitter, settled statuses 30 days, backoff 15m/1h/4h/24h.
	NextCheckMonitoringMinSeconds int `yaml:"next_check_monitoring_min_seconds"`
	NextCheckMonitoringMaxSeconds int `yaml:"next_check_monitoring_max_seconds"`
	NextCheckSettledSeconds       int `yaml:"next_check_settled_seconds"`
	Backoff1Seconds               int `yaml:"backoff_1_seconds"`
	Backoff2Seconds               int `yaml:"backoff_2_seconds"`
	Backoff3Seconds               int `yaml:"backoff_3_seconds"`
	Backoff4Seconds               int `yaml:"backoff_4_seconds"`

	MailQuery        string `yaml:"mail_query"`
	MailLookbackDays int    `yaml:"mail_lookback_days"`
	MailBatchLimit   int    `yaml:"mail_batch_limit"`
	MailboxBaseURL   string `yaml:"mailbox_base_url"`
	MailboxToken     string `yaml:"mailbox_token"`

	UserMailBaseURL string `yaml:"user_mail_base_url"`
	UserMailToken   string `yaml:"user_mail_token"`
	RelayBaseURL    string `yaml:"relay_base_url"`
	RelayAPIKey     string `yaml:"relay_api_key"`
	RelayFrom       string `yaml:"relay_from"`

	PriceAPIBaseURL string   `yaml:"price_api_base_url"`
	PriceAPIKey     string   `yaml:"price_api_key"`
	PriceAPIDomains []string `yaml:"price_api_domains"`

	BrowserBaseURL string `yaml:"browser_base_url"`

	SemanticBaseURL string `yaml:"semantic_base_url"`
	SemanticAPIKey  string `yaml:"semantic_api_key"`
	SemanticModel   string `yaml:"semantic_model"`

	ArtifactsDir string `yaml:"artifacts_dir"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return &config, nil
}
