/*
Copyright 2026 Paychan Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT = "5001"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	SSL       bool   `json:"ssl" envconfig:"PAYCHAN_SERVER_SSL"`
	Secure    bool   `json:"secure" envconfig:"PAYCHAN_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"PAYCHAN_SERVER_SECRET_KEY"`
	Domain    string `json:"domain" envconfig:"PAYCHAN_SERVER_SSL_DOMAIN"`
	Email     string `json:"ssl_email" envconfig:"PAYCHAN_SERVER_SSL_EMAIL"`
	Port      string `json:"port" envconfig:"PAYCHAN_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"PAYCHAN_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns           string `json:"dns" envconfig:"PAYCHAN_REDIS_DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" envconfig:"PAYCHAN_REDIS_SKIP_TLS_VERIFY"`
}

type QueueConfig struct {
	PaymentQueue      string `json:"payment_queue" envconfig:"PAYCHAN_PAYMENT_QUEUE"`
	NumberOfQueues    int    `json:"number_of_queues" envconfig:"PAYCHAN_NUMBER_OF_QUEUES"`
	WebhookQueue      string `json:"webhook_queue" envconfig:"PAYCHAN_WEBHOOK_QUEUE"`
	DisputeQueue      string `json:"dispute_queue" envconfig:"PAYCHAN_DISPUTE_QUEUE"`
	FinalityQueue     string `json:"finality_queue" envconfig:"PAYCHAN_FINALITY_QUEUE"`
	MonitoringPort    string `json:"monitoring_port" envconfig:"PAYCHAN_QUEUE_MONITORING_PORT"`
	MaxRetryAttempts  int    `json:"max_retry_attempts" envconfig:"PAYCHAN_QUEUE_MAX_RETRY_ATTEMPTS"`
	InsufficientFunds bool   `json:"retry_insufficient_funds" envconfig:"PAYCHAN_QUEUE_RETRY_INSUFFICIENT_FUNDS"`
}

// SettlementConfig points the coordinator at the ledger-settlement and
// finality-verification collaborators.
type SettlementConfig struct {
	SubmitterURL      string            `json:"submitter_url" envconfig:"PAYCHAN_SETTLEMENT_SUBMITTER_URL"`
	VerifierURL       string            `json:"verifier_url" envconfig:"PAYCHAN_SETTLEMENT_VERIFIER_URL"`
	Headers           map[string]string `json:"headers"`
	ConfirmationDepth int               `json:"confirmation_depth" envconfig:"PAYCHAN_SETTLEMENT_CONFIRMATION_DEPTH"`
	MaxRetries        uint64            `json:"max_retries" envconfig:"PAYCHAN_SETTLEMENT_MAX_RETRIES"`
	PollIntervalSec   int               `json:"poll_interval_sec" envconfig:"PAYCHAN_SETTLEMENT_POLL_INTERVAL_SEC"`
	TimeoutSec        int               `json:"timeout_sec" envconfig:"PAYCHAN_SETTLEMENT_TIMEOUT_SEC"`
}

// PollInterval returns the finality poll interval as a duration.
func (s SettlementConfig) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalSec) * time.Second
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"PAYCHAN_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"PAYCHAN_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"PAYCHAN_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url"`
}

type Notification struct {
	Slack   SlackWebhook `json:"slack"`
	Webhook struct {
		Url     string            `json:"url"`
		Headers map[string]string `json:"headers"`
	} `json:"webhook"`
}

type Configuration struct {
	ProjectName        string           `json:"project_name" envconfig:"PAYCHAN_PROJECT_NAME"`
	EnableTelemetry    bool             `json:"enable_telemetry" envconfig:"PAYCHAN_ENABLE_TELEMETRY"`
	BackupDir          string           `json:"backup_dir" envconfig:"PAYCHAN_BACKUP_DIR"`
	AwsAccessKeyId     string           `json:"aws_access_key_id"`
	S3Endpoint         string           `json:"s3_endpoint"`
	AwsSecretAccessKey string           `json:"aws_secret_access_key"`
	S3BucketName       string           `json:"s3_bucket_name"`
	S3Region           string           `json:"s3_region"`
	Server             ServerConfig     `json:"server"`
	DataSource         DataSourceConfig `json:"data_source"`
	Redis              RedisConfig      `json:"redis"`
	Queue              QueueConfig      `json:"queue"`
	Settlement         SettlementConfig `json:"settlement"`
	Notification       Notification     `json:"notification"`
	RateLimit          RateLimitConfig  `json:"rate_limit"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}

	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("paychan", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called paychan.json with your config")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Paychan Server"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	// Trim white spaces from fields
	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)

	// Set default value for Port if it's empty
	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	cnf.applyQueueAndSettlementDefaults()

	// Rate limiting is disabled by default (when both RPS and Burst are nil)
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
		log.Printf("Warning: Rate limit burst not specified. Setting default value: %d", defaultBurst)
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
		log.Printf("Warning: Rate limit RPS not specified. Setting default value: %.2f", defaultRPS)
	}

	// Set default cleanup interval if not specified
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800 // 3 hours in seconds
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	return nil
}

func (cnf *Configuration) applyQueueAndSettlementDefaults() {
	if cnf.Queue.PaymentQueue == "" {
		cnf.Queue.PaymentQueue = "new:payment"
	}
	if cnf.Queue.NumberOfQueues <= 0 {
		cnf.Queue.NumberOfQueues = 4
	}
	if cnf.Queue.WebhookQueue == "" {
		cnf.Queue.WebhookQueue = "new:webhook"
	}
	if cnf.Queue.DisputeQueue == "" {
		cnf.Queue.DisputeQueue = "new:dispute-expiry"
	}
	if cnf.Queue.FinalityQueue == "" {
		cnf.Queue.FinalityQueue = "new:finality-check"
	}
	if cnf.Queue.MonitoringPort == "" {
		cnf.Queue.MonitoringPort = "5002"
	}
	if cnf.Queue.MaxRetryAttempts <= 0 {
		cnf.Queue.MaxRetryAttempts = 5
	}

	if cnf.Settlement.ConfirmationDepth <= 0 {
		cnf.Settlement.ConfirmationDepth = 6
	}
	if cnf.Settlement.MaxRetries == 0 {
		cnf.Settlement.MaxRetries = 5
	}
	if cnf.Settlement.PollIntervalSec <= 0 {
		cnf.Settlement.PollIntervalSec = 15
	}
	if cnf.Settlement.TimeoutSec <= 0 {
		cnf.Settlement.TimeoutSec = 30
	}
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	mockConfig.applyQueueAndSettlementDefaults()
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
