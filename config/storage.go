package config

import (
	"fmt"
	"strings"
	"time"
)

// StorageBackend selects where auth state and the bearer token are persisted.
type StorageBackend string

const (
	// StorageBackendMemory keeps state for the lifetime of the process.
	StorageBackendMemory StorageBackend = "memory"
	// StorageBackendFile writes a JSON document to disk.
	StorageBackendFile StorageBackend = "file"
	// StorageBackendRedis stores keys in Redis.
	StorageBackendRedis StorageBackend = "redis"
	// StorageBackendPostgres stores keys in the auth_storage table.
	StorageBackendPostgres StorageBackend = "postgres"
)

// UnmarshalText implements encoding.TextUnmarshaler for StorageBackend.
func (b *StorageBackend) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	switch v {
	case "memory", "file", "redis", "postgres":
		*b = StorageBackend(v)
		return nil
	default:
		return fmt.Errorf("invalid StorageBackend: %q (valid options: memory, file, redis, postgres)", v)
	}
}

// StorageConfig groups persistence configuration.
type StorageConfig struct {
	Backend StorageBackend `env:"STORAGE_BACKEND" envDefault:"memory"`

	// FilePath is used when Backend=file.
	FilePath string `env:"STORAGE_FILE_PATH" envDefault:".rolefusion/state.json"`

	// KeyPrefix namespaces keys in shared redis and postgres backends.
	KeyPrefix string `env:"STORAGE_KEY_PREFIX" envDefault:"rolefusion:"`

	// TTL expires redis keys. Zero keeps them until logout.
	TTL time.Duration `env:"STORAGE_TTL" envDefault:"0s"`

	// EncryptionKey seals persisted values with AES-256-GCM when set
	// (64 hex chars, base64, or 32 raw bytes).
	EncryptionKey string `env:"STORAGE_ENCRYPTION_KEY"`

	Postgres DBConfig    `envPrefix:"DB_"`
	Redis    RedisConfig `envPrefix:"REDIS_"`
}

// Sanitize applies guardrails to storage configuration values.
func (s *StorageConfig) Sanitize() {
	if s.Backend == "" {
		s.Backend = StorageBackendMemory
	}
	s.FilePath = strings.TrimSpace(s.FilePath)
	if s.FilePath == "" {
		s.FilePath = ".rolefusion/state.json"
	}
	if s.TTL < 0 {
		s.TTL = 0
	}
	s.EncryptionKey = strings.TrimSpace(s.EncryptionKey)
}

// IsEncrypted reports whether persisted values are sealed.
func (s *StorageConfig) IsEncrypted() bool {
	return s.EncryptionKey != ""
}

// NeedsPostgres reports whether the configured backend requires a database connection.
func (s *StorageConfig) NeedsPostgres() bool {
	return s.Backend == StorageBackendPostgres
}

// NeedsRedis reports whether the configured backend requires a redis connection.
func (s *StorageConfig) NeedsRedis() bool {
	return s.Backend == StorageBackendRedis
}
