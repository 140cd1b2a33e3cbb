// Package config reads runtime configuration from the environment.
package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds runtime configuration for the application.
type Config struct {
	Addr         string        `envconfig:"FINBOOK_ADDR" default:":8080"`
	DBPath       string        `envconfig:"FINBOOK_DB" default:"finbook.db"`
	LogFormat    string        `envconfig:"FINBOOK_LOG_FORMAT" default:"text"`
	ReadTimeout  time.Duration `envconfig:"FINBOOK_READ_TIMEOUT" default:"15s"`
	WriteTimeout time.Duration `envconfig:"FINBOOK_WRITE_TIMEOUT" default:"15s"`

	SessionTTL   time.Duration `envconfig:"FINBOOK_SESSION_TTL" default:"720h"`
	SecureCookie bool          `envconfig:"FINBOOK_SECURE_COOKIE" default:"false"`

	BcryptCost        int `envconfig:"FINBOOK_BCRYPT_COST" default:"10"`
	MinPasswordLength int `envconfig:"FINBOOK_MIN_PASSWORD_LENGTH" default:"8"`

	AuthRateLimit  int           `envconfig:"FINBOOK_AUTH_RATE_LIMIT" default:"10"`
	AuthRateWindow time.Duration `envconfig:"FINBOOK_AUTH_RATE_WINDOW" default:"1m"`

	PredictorURL      string        `envconfig:"FINBOOK_PREDICTOR_URL" default:"http://127.0.0.1:5000"`
	SchedulerIdleTick time.Duration `envconfig:"FINBOOK_SCHEDULER_IDLE_TICK" default:"1m"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
