package sealed

import (
	"context"
	"log/slog"

	"github.com/target/rolefusion/internal/ports"
)

// Storage wraps a ports.Storage and encrypts every value it writes.
// Plaintext values written before encryption was enabled are still readable and
// are sealed on the next write.
type Storage struct {
	inner  ports.Storage
	cipher *Cipher
	logger *slog.Logger
}

var _ ports.Storage = (*Storage)(nil)

// NewStorage wraps inner. A nil logger uses slog.Default().
func NewStorage(inner ports.Storage, c *Cipher, logger *slog.Logger) *Storage {
	if inner == nil || c == nil {
		panic("sealed storage requires an inner storage and a cipher")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Storage{inner: inner, cipher: c, logger: logger.With("component", "sealed_storage")}
}

func (s *Storage) Get(ctx context.Context, key string) (string, error) {
	value, err := s.inner.Get(ctx, key)
	if err != nil {
		return "", err
	}
	if !IsSealed(value) {
		s.logger.DebugContext(ctx, "read plaintext value", "key", key)
		return value, nil
	}
	return s.cipher.Open(key, value)
}

func (s *Storage) SetMany(ctx context.Context, values map[string]string) error {
	sealed := make(map[string]string, len(values))
	for k, v := range values {
		ct, err := s.cipher.Seal(k, v)
		if err != nil {
			return err
		}
		sealed[k] = ct
	}
	return s.inner.SetMany(ctx, sealed)
}

func (s *Storage) Delete(ctx context.Context, keys ...string) error {
	return s.inner.Delete(ctx, keys...)
}
