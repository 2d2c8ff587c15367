package config

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/kelseyhightower/envconfig"
)

// -----------------------------------------------------------------------------
// Every setting has a default so the server starts with no environment at all.
// Command-line flags in cmd/server override PORT and DB_PATH.
// -----------------------------------------------------------------------------

type Config struct {
	Server ServerConfig
	DB     DBConfig
	Log    LogConfig
	Points PointsConfig
	Kafka  KafkaConfig
	Report ReportConfig
	CORS   CORSConfig
}

type ServerConfig struct {
	Port int `envconfig:"PORT" default:"8080"`
}

type DBConfig struct {
	Path string `envconfig:"DB_PATH" default:"ecosync.db"`
}

type LogConfig struct {
	Level  string `envconfig:"LOG_LEVEL" default:"info"`
	Pretty bool   `envconfig:"LOG_PRETTY" default:"false"`
}

type PointsConfig struct {
	DefaultAward int64  `envconfig:"DEFAULT_AWARD" default:"50"`
	TablePath    string `envconfig:"REWARDS_TABLE_PATH"`
}

type KafkaConfig struct {
	Brokers []string `envconfig:"KAFKA_BROKERS"`
	Topic   string   `envconfig:"KAFKA_TOPIC" default:"points.settlements"`
}

type ReportConfig struct {
	Interval time.Duration `envconfig:"REPORT_INTERVAL" default:"1m"`
}

type CORSConfig struct {
	AllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"http://localhost:3000,http://localhost:5173"`
}

// Validate rejects settings the server cannot run with.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.Newf("PORT out of range: %d", c.Server.Port)
	}
	if c.DB.Path == "" {
		return errors.New("DB_PATH is required")
	}
	if c.Points.DefaultAward <= 0 {
		return errors.Newf("DEFAULT_AWARD must be > 0, got %d", c.Points.DefaultAward)
	}
	if c.Report.Interval <= 0 {
		return errors.Newf("REPORT_INTERVAL must be > 0, got %s", c.Report.Interval)
	}
	return nil
}

func LoadConfig() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, errors.Wrap(err, "failed to process env config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
