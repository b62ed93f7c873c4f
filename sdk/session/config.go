package session

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

var (
	ErrMissingAPIURL = errors.New("missing API URL")
	ErrMissingWSURL  = errors.New("missing websocket URL")
)

// Config is the file-loadable part of a session's configuration. Zero
// values fall back to the defaults of the realtime and auth packages.
type Config struct {
	APIURL string `yaml:"apiUrl"`
	WSURL  string `yaml:"wsUrl"`

	// TokenFile persists credentials between runs. Empty keeps them in
	// memory only.
	TokenFile string `yaml:"tokenFile"`

	Realtime RealtimeConfig `yaml:"realtime"`
	Auth     AuthConfig     `yaml:"auth"`
}

type RealtimeConfig struct {
	ConnectTimeout       time.Duration `yaml:"connectTimeout"`
	WriteTimeout         time.Duration `yaml:"writeTimeout"`
	HeartbeatInterval    time.Duration `yaml:"heartbeatInterval"`
	MaxReconnectAttempts int           `yaml:"maxReconnectAttempts"`
	ReconnectBaseDelay   time.Duration `yaml:"reconnectBaseDelay"`
	ReconnectMaxDelay    time.Duration `yaml:"reconnectMaxDelay"`
}

type AuthConfig struct {
	MaxRetries     int           `yaml:"maxRetries"`
	RetryBaseDelay time.Duration `yaml:"retryBaseDelay"`
	RequestTimeout time.Duration `yaml:"requestTimeout"`
}

// LoadConfig reads a YAML config file.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "read config")
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parse config %s", path)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if c.APIURL == "" {
		return ErrMissingAPIURL
	}
	if c.WSURL == "" {
		return ErrMissingWSURL
	}
	return nil
}
