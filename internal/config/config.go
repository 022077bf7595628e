// Package config loads the relay configuration from the environment (and an
// optional .env file) and validates it.
package config

import (
	"fmt"
	"net"
	"strconv"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

var validate = validator.New()

// Config holds every process-level setting. None of them change how the
// relay routes messages; they only shape the transport around it.
type Config struct {
	Host        string `env:"RELAY_HOST,default=0.0.0.0" validate:"required"`
	Port        int    `env:"RELAY_PORT,default=8080" validate:"min=1,max=65535"`
	MetricsPort int    `env:"RELAY_METRICS_PORT,default=9090" validate:"min=0,max=65535"` // 0 disables

	TLS         bool   `env:"RELAY_TLS"`
	TLSCertFile string `env:"RELAY_TLS_CERT_FILE" validate:"required_if=TLS true"`
	TLSKeyFile  string `env:"RELAY_TLS_KEY_FILE" validate:"required_if=TLS true"`

	// Optional credential pair presented to the NATS broker.
	User     string `env:"RELAY_USER" validate:"required_with=Password"`
	Password string `env:"RELAY_PASSWORD" validate:"required_with=User"`

	NATSURL    string `env:"RELAY_NATS_URL" validate:"omitempty,url"`
	RedisAddr  string `env:"RELAY_REDIS_ADDR" validate:"omitempty,hostname_port"`
	ServerName string `env:"RELAY_SERVER_NAME"`

	WorkerPoolSize int           `env:"RELAY_WORKER_POOL_SIZE,default=256" validate:"min=1"`
	MaxConnections int           `env:"RELAY_MAX_CONNECTIONS,default=100000" validate:"min=1"`
	ReadTimeout    time.Duration `env:"RELAY_READ_TIMEOUT,default=10s" validate:"gte=0"`
	WriteTimeout   time.Duration `env:"RELAY_WRITE_TIMEOUT,default=10s" validate:"gte=0"`
	MaxFrameSize   int           `env:"RELAY_MAX_FRAME_SIZE,default=65536" validate:"min=128"`

	MessageLimit  int           `env:"RELAY_MESSAGE_LIMIT,default=5" validate:"min=1"`
	MessageWindow time.Duration `env:"RELAY_MESSAGE_WINDOW,default=10s" validate:"gt=0"`

	LogLevel string `env:"RELAY_LOG_LEVEL,default=info" validate:"oneof=debug info warn error"`
}

// Load reads an optional .env file from the working directory, then the
// process environment. The result is not validated so that command line
// flags can still override it.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// ListenAddr is the host:port the websocket transport listens on.
func (c Config) ListenAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// MetricsAddr is the host:port of the Prometheus endpoint, or "" when
// metrics are disabled.
func (c Config) MetricsAddr() string {
	if c.MetricsPort == 0 {
		return ""
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(c.MetricsPort))
}
