// Package config loads matchd settings. Sources are applied in order:
// built-in defaults, an optional YAML file, an optional .env file and
// MATCHD_* environment variables. The result is validated before use.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const envPrefix = "MATCHD_"

type Config struct {
	Engine  EngineConfig  `yaml:"engine"`
	Log     LogConfig     `yaml:"log"`
	Outbox  OutboxConfig  `yaml:"outbox"`
	Kafka   KafkaConfig   `yaml:"kafka"`
	Metrics MetricsConfig `yaml:"metrics"`
}

type EngineConfig struct {
	Aggregation   string `yaml:"aggregation" validate:"omitempty,oneof=on-rest none before-match"`
	DisableCancel bool   `yaml:"disable_cancel"`
	QueueSize     int    `yaml:"queue_size" validate:"gte=0"`
}

type LogConfig struct {
	Level      string `yaml:"level" validate:"oneof=trace debug info warn warning error fatal panic"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `yaml:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `yaml:"max_age_days" validate:"gte=0"`
	Compress   bool   `yaml:"compress"`
	JSON       bool   `yaml:"json"`
}

// OutboxConfig controls the trade outbox. An empty Dir keeps the
// outbox in memory.
type OutboxConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

type KafkaConfig struct {
	Driver     string        `yaml:"driver" validate:"omitempty,oneof=kafka-go sarama"`
	Brokers    []string      `yaml:"brokers" validate:"dive,hostname_port"`
	Topic      string        `yaml:"topic" validate:"required_with=Brokers"`
	Interval   time.Duration `yaml:"interval" validate:"gt=0"`
	MaxRetries uint32        `yaml:"max_retries"`
}

func (k KafkaConfig) Enabled() bool { return len(k.Brokers) > 0 }

type MetricsConfig struct {
	Addr string `yaml:"addr" validate:"omitempty,hostname_port"`
}

func Default() Config {
	return Config{
		Engine: EngineConfig{
			Aggregation: "on-rest",
			QueueSize:   1024,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 7,
		},
		Kafka: KafkaConfig{
			Driver:     "kafka-go",
			Topic:      "trades",
			Interval:   250 * time.Millisecond,
			MaxRetries: 5,
		},
	}
}

// Load resolves the configuration. path may be empty. When envFiles is
// empty a .env in the working directory is read if present; named files
// must exist.
func Load(path string, envFiles ...string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errors.Wrapf(err, "read config %s", path)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, errors.Wrapf(err, "parse config %s", path)
		}
	}

	if len(envFiles) == 0 {
		if _, err := os.Stat(".env"); err == nil {
			envFiles = []string{".env"}
		}
	}
	if len(envFiles) > 0 {
		if err := godotenv.Load(envFiles...); err != nil {
			return Config{}, errors.Wrap(err, "load env file")
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var validate = validator.New()

func Validate(cfg Config) error {
	if err := validate.Struct(cfg); err != nil {
		return errors.Wrap(err, "invalid config")
	}
	return nil
}

func applyEnv(cfg *Config) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	str("AGGREGATION", &cfg.Engine.Aggregation)
	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FILE", &cfg.Log.File)
	str("OUTBOX_DIR", &cfg.Outbox.Dir)
	str("KAFKA_DRIVER", &cfg.Kafka.Driver)
	str("KAFKA_TOPIC", &cfg.Kafka.Topic)
	str("METRICS_ADDR", &cfg.Metrics.Addr)

	if v, ok := lookup("KAFKA_BROKERS"); ok {
		cfg.Kafka.Brokers = splitList(v)
	}

	for key, dst := range map[string]*bool{
		"DISABLE_CANCEL": &cfg.Engine.DisableCancel,
		"OUTBOX_ENABLED": &cfg.Outbox.Enabled,
		"LOG_JSON":       &cfg.Log.JSON,
	} {
		if v, ok := lookup(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return errors.Wrapf(err, "%s%s", envPrefix, key)
			}
			*dst = b
		}
	}

	if v, ok := lookup("QUEUE_SIZE"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrapf(err, "%sQUEUE_SIZE", envPrefix)
		}
		cfg.Engine.QueueSize = n
	}
	if v, ok := lookup("KAFKA_INTERVAL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return errors.Wrapf(err, "%sKAFKA_INTERVAL", envPrefix)
		}
		cfg.Kafka.Interval = d
	}
	if v, ok := lookup("KAFKA_MAX_RETRIES"); ok {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return errors.Wrapf(err, "%sKAFKA_MAX_RETRIES", envPrefix)
		}
		cfg.Kafka.MaxRetries = uint32(n)
	}
	return nil
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(envPrefix + key)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
