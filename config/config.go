package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	mu sync.RWMutex `yaml:"-"`

	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Messaging MessagingConfig `yaml:"messaging"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Outbox    OutboxConfig    `yaml:"outbox"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Cascade   CascadeConfig   `yaml:"cascade"`
	Alarms    AlarmsConfig    `yaml:"alarms"`
	Web       WebConfig       `yaml:"web"`
}

type DatabaseConfig struct {
	Driver   string         `yaml:"driver"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

type RedisConfig struct {
	Address   string `yaml:"address"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

type MessagingConfig struct {
	Kafka           KafkaConfig   `yaml:"kafka"`
	Partition       int           `yaml:"partition"`
	PropsTopic      string        `yaml:"props_topic"`
	ConfigSyncTopic string        `yaml:"config_sync_topic"`
	SensorTopic     string        `yaml:"sensor_exception_topic"`
	MessageTimeout  time.Duration `yaml:"message_timeout"`
}

type KafkaConfig struct {
	Brokers  []string `yaml:"brokers"`
	MinBytes int      `yaml:"min_bytes"`
	MaxBytes int      `yaml:"max_bytes"`
}

// MQTTConfig addresses the broker that carries commands down to base stations.
type MQTTConfig struct {
	Broker             string `yaml:"broker"`
	Port               int    `yaml:"port"`
	ClientID           string `yaml:"client_id"`
	CommandTopicPrefix string `yaml:"command_topic_prefix"`
	QoS                byte   `yaml:"qos"`
}

type OutboxConfig struct {
	DrainInterval time.Duration `yaml:"drain_interval"`
	BatchSize     int           `yaml:"batch_size"`
	MaxRetries    int           `yaml:"max_retries"`
}

type DispatchConfig struct {
	Workers     int           `yaml:"workers"`
	QueueSize   int           `yaml:"queue_size"`
	HTTPTimeout time.Duration `yaml:"http_timeout"`
	StopTimeout time.Duration `yaml:"stop_timeout"`
}

type CascadeConfig struct {
	MaxCategoryDepth int `yaml:"max_category_depth"`
}

type AlarmsConfig struct {
	SMS   SMSConfig   `yaml:"sms"`
	Email EmailConfig `yaml:"email"`
}

// SMSConfig holds Twilio credentials. An empty AccountSID disables SMS alarms.
type SMSConfig struct {
	AccountSID string `yaml:"account_sid"`
	AuthToken  string `yaml:"auth_token"`
	From       string `yaml:"from"`
}

// EmailConfig holds SMTP settings. An empty Host disables e-mail alarms.
type EmailConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	Subject  string `yaml:"subject"`
}

type WebConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

func Defaults() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver: "sqlite",
			SQLite: SQLiteConfig{Path: "intellikeeper.db"},
			Postgres: PostgresConfig{
				Host:     "localhost",
				Port:     5432,
				Database: "intellikeeper",
				User:     "intellikeeper",
				Password: "",
				SSLMode:  "disable",
			},
		},
		Redis: RedisConfig{
			Address:   "localhost:6379",
			KeyPrefix: "intellikeeper",
		},
		Messaging: MessagingConfig{
			Kafka: KafkaConfig{
				Brokers:  []string{"localhost:9092"},
				MinBytes: 1,
				MaxBytes: 10e6,
			},
			Partition:       2,
			PropsTopic:      "saveProps",
			ConfigSyncTopic: "watchConfigSyncReq",
			SensorTopic:     "sensorException",
			MessageTimeout:  30 * time.Second,
		},
		MQTT: MQTTConfig{
			Broker:             "localhost",
			Port:               1883,
			ClientID:           "intellikeeperd",
			CommandTopicPrefix: "intellikeeper/commands",
			QoS:                1,
		},
		Outbox: OutboxConfig{
			DrainInterval: 5 * time.Second,
			BatchSize:     50,
			MaxRetries:    10,
		},
		Dispatch: DispatchConfig{
			Workers:     8,
			QueueSize:   1000,
			HTTPTimeout: 10 * time.Second,
			StopTimeout: 15 * time.Second,
		},
		Cascade: CascadeConfig{
			MaxCategoryDepth: 32,
		},
		Alarms: AlarmsConfig{
			Email: EmailConfig{
				Port:    587,
				Subject: "IntelliKeeper alert",
			},
		},
		Web: WebConfig{
			Host: "0.0.0.0",
			Port: 8084,
		},
	}
}

func Load(path string) (*Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the runtime cannot work with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unsupported database driver %q", c.Database.Driver)
	}
	if c.Messaging.Partition < 0 {
		return fmt.Errorf("config: messaging.partition must be >= 0")
	}
	if c.Messaging.MessageTimeout <= 0 {
		return fmt.Errorf("config: messaging.message_timeout must be positive")
	}
	if c.Dispatch.Workers <= 0 || c.Dispatch.QueueSize <= 0 {
		return fmt.Errorf("config: dispatch.workers and dispatch.queue_size must be positive")
	}
	if c.Cascade.MaxCategoryDepth <= 0 {
		return fmt.Errorf("config: cascade.max_category_depth must be positive")
	}
	if c.Outbox.DrainInterval <= 0 {
		return fmt.Errorf("config: outbox.drain_interval must be positive")
	}
	return nil
}

func (c *Config) Save(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
