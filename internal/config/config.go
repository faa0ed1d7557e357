package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	log "github.com/sirupsen/logrus"
)

// EnvProduction is the CAMPRO_ENV value that switches the server into
// production mode.
const EnvProduction = "production"

// Config holds the process configuration decoded from the environment.
type Config struct {
	// APIKey authenticates outbound calls to the analysis service.
	APIKey string `envconfig:"CAMPRO_API_KEY" required:"true"`

	// Port is the HTTP listen port. The --port flag overrides it.
	Port int `envconfig:"PORT" default:"8080"`

	// Env selects the run mode. Only "production" is special.
	Env string `envconfig:"CAMPRO_ENV" default:"development"`

	// AnalysisURL is the base URL of the image analysis service.
	AnalysisURL string `envconfig:"CAMPRO_ANALYSIS_URL" default:"http://127.0.0.1:8000"`

	// LogLevel overrides the default level of the current mode.
	LogLevel string `envconfig:"CAMPRO_LOG_LEVEL"`

	// RequestTimeout bounds outbound calls. Zero means no timeout.
	RequestTimeout time.Duration `envconfig:"CAMPRO_REQUEST_TIMEOUT" default:"0s"`

	// SessionIdleTimeout evicts streamable HTTP sessions that have not been
	// used for this long. Zero keeps sessions until the client closes them.
	SessionIdleTimeout time.Duration `envconfig:"CAMPRO_SESSION_IDLE_TIMEOUT" default:"0s"`

	// MaxImageEdge downscales uploads whose longest edge exceeds it.
	// Zero uploads files unchanged.
	MaxImageEdge int `envconfig:"CAMPRO_MAX_IMAGE_EDGE" default:"0"`
}

// Load reads an optional .env file (outside production) and decodes the
// environment into a Config.
func Load() (*Config, error) {
	return LoadFile(".env")
}

// LoadFile is Load with an explicit dotenv path. Variables already present in
// the environment win over the file.
func LoadFile(envFile string) (*Config, error) {
	var probe struct {
		Env string `envconfig:"CAMPRO_ENV"`
	}
	_ = envconfig.Process("", &probe)

	if probe.Env != EnvProduction && envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			log.Warnf("unable to load %s file: %v", envFile, err)
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values envconfig cannot check on its own.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return errors.New("config: CAMPRO_API_KEY environment variable is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Port)
	}
	if c.AnalysisURL == "" {
		return errors.New("config: CAMPRO_ANALYSIS_URL must not be empty")
	}
	if c.RequestTimeout < 0 || c.SessionIdleTimeout < 0 {
		return errors.New("config: timeouts must not be negative")
	}
	if c.MaxImageEdge < 0 {
		return fmt.Errorf("config: invalid max image edge %d", c.MaxImageEdge)
	}
	return nil
}

// IsProduction reports whether the server runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == EnvProduction
}

// Host is the bind host: all interfaces in production, loopback otherwise.
func (c *Config) Host() string {
	if c.IsProduction() {
		return "0.0.0.0"
	}
	return "localhost"
}

// Addr is the listen address for the HTTP transport.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host(), strconv.Itoa(c.Port))
}
