package config

import (
	"strings"
	"time"
)

const (
	minPasswordHashCost = 4
	maxPasswordHashCost = 31
)

// RefreshConfig controls token refresh against a remote endpoint.
// An empty Endpoint means tokens are re-minted locally.
type RefreshConfig struct {
	Endpoint  string        `env:"ENDPOINT"`
	TokenPath string        `env:"TOKEN_PATH" envDefault:"token"`
	Timeout   time.Duration `env:"TIMEOUT"    envDefault:"5s"`
	// MaxAge bounds how old a token may be before refresh and restore refuse it.
	MaxAge time.Duration `env:"MAX_AGE" envDefault:"24h"`
}

// DirectoryConfig controls the identity directory used by login.
type DirectoryConfig struct {
	// SeedFile is a YAML file of users. Empty uses the built-in demo users.
	SeedFile         string `env:"SEED_FILE"`
	PasswordHashCost int    `env:"PASSWORD_HASH_COST" envDefault:"10"`
}

// AuthConfig groups credential and login configuration.
type AuthConfig struct {
	// TokenSecret signs bearer credentials. Required outside dev mode.
	TokenSecret string        `env:"TOKEN_SECRET"`
	TokenIssuer string        `env:"TOKEN_ISSUER" envDefault:"rolefusion"`
	TokenTTL    time.Duration `env:"TOKEN_TTL"    envDefault:"1h"`

	Refresh   RefreshConfig   `envPrefix:"REFRESH_"`
	Directory DirectoryConfig `envPrefix:"DIRECTORY_"`
}

// Sanitize applies guardrails to auth configuration values.
func (a *AuthConfig) Sanitize() {
	a.TokenIssuer = strings.TrimSpace(a.TokenIssuer)
	if a.TokenIssuer == "" {
		a.TokenIssuer = "rolefusion"
	}
	if a.TokenTTL < time.Minute {
		a.TokenTTL = time.Minute
	}

	a.Refresh.Endpoint = strings.TrimSpace(a.Refresh.Endpoint)
	a.Refresh.TokenPath = strings.TrimSpace(a.Refresh.TokenPath)
	if a.Refresh.TokenPath == "" {
		a.Refresh.TokenPath = "token"
	}
	if a.Refresh.Timeout <= 0 {
		a.Refresh.Timeout = 5 * time.Second
	}
	if a.Refresh.MaxAge <= 0 {
		a.Refresh.MaxAge = 24 * time.Hour
	}

	a.Directory.SeedFile = strings.TrimSpace(a.Directory.SeedFile)
	if a.Directory.PasswordHashCost < minPasswordHashCost {
		a.Directory.PasswordHashCost = minPasswordHashCost
	}
	if a.Directory.PasswordHashCost > maxPasswordHashCost {
		a.Directory.PasswordHashCost = maxPasswordHashCost
	}
}

// HasTokenSecret reports whether a signing secret was configured.
func (a *AuthConfig) HasTokenSecret() bool {
	return strings.TrimSpace(a.TokenSecret) != ""
}
