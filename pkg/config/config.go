package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// DirectoryConfig configures the reference session directory server.
type DirectoryConfig struct {
	Port        int    `env:"LOBBYSYNC_DIRECTORY_PORT" envDefault:"9090"`
	DatabaseURL string `env:"LOBBYSYNC_DATABASE_URL" envDefault:"sqlite://lobbysync.db"`
	TLSCertFile string `env:"LOBBYSYNC_DIRECTORY_TLS_CERT_FILE"`
	TLSKeyFile  string `env:"LOBBYSYNC_DIRECTORY_TLS_KEY_FILE"`
	Auth        AuthConfig
}

// AuthConfig selects how bearer tokens are issued and verified.
// When FirebaseProjectID is set Firebase is used, otherwise tokens are
// signed locally with JWTSecret.
type AuthConfig struct {
	FirebaseProjectID string `env:"LOBBYSYNC_FIREBASE_PROJECT_ID"`
	FirebaseAPIKey    string `env:"LOBBYSYNC_FIREBASE_API_KEY"`

	// FirebaseCredentialsFile is a service account key used by the directory.
	FirebaseCredentialsFile string `env:"LOBBYSYNC_FIREBASE_CREDENTIALS_FILE"`

	// PlayerID pins the local player id when tokens are signed locally.
	PlayerID  string        `env:"LOBBYSYNC_PLAYER_ID"`
	JWTSecret string        `env:"LOBBYSYNC_JWT_SECRET" envDefault:"lobbysync-dev-secret"`
	JWTIssuer string        `env:"LOBBYSYNC_JWT_ISSUER" envDefault:"lobbysync"`
	TokenTTL  time.Duration `env:"LOBBYSYNC_TOKEN_TTL" envDefault:"12h"`
}

// PeerConfig configures a host or client peer.
type PeerConfig struct {
	DirectoryURL    string        `env:"LOBBYSYNC_DIRECTORY_URL" envDefault:"http://localhost:9090"`
	AdvertiseHost   string        `env:"LOBBYSYNC_ADVERTISE_HOST" envDefault:"localhost"`
	TickInterval    time.Duration `env:"LOBBYSYNC_TICK_INTERVAL" envDefault:"20ms"`
	RefreshInterval time.Duration `env:"LOBBYSYNC_REFRESH_INTERVAL" envDefault:"2s"`
	StartCountdown  time.Duration `env:"LOBBYSYNC_START_COUNTDOWN" envDefault:"3s"`
	MessageRate     float64       `env:"LOBBYSYNC_MESSAGE_RATE" envDefault:"20"`
	MessageBurst    int           `env:"LOBBYSYNC_MESSAGE_BURST" envDefault:"40"`
	Auth            AuthConfig
}

// LoadDotEnv loads variables from the given files into the environment.
// Missing files are ignored, variables already set are kept.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %v", f, err)
		}
	}
	return nil
}

// ParseEnv loads configuration from environment variables into target.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// LoadDirectoryConfig reads .env (if present) and the environment.
func LoadDirectoryConfig() (*DirectoryConfig, error) {
	if err := LoadDotEnv(); err != nil {
		return nil, err
	}
	cfg := &DirectoryConfig{}
	if err := ParseEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadPeerConfig reads .env (if present) and the environment.
func LoadPeerConfig() (*PeerConfig, error) {
	if err := LoadDotEnv(); err != nil {
		return nil, err
	}
	cfg := &PeerConfig{}
	if err := ParseEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
