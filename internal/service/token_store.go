package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/target/rolefusion/internal/ports"
)

// Persisted storage keys.
const (
	// StateKey holds the serialized AuthState blob.
	StateKey = "rolefusion.auth"
	// TokenKey holds the bearer credential.
	TokenKey = "rolefusion.token"
	// RateWindowsKey holds the open impersonation start windows. It outlives logout.
	RateWindowsKey = "rolefusion.impersonation_rate"
)

// TokenStore is a plain container for the bearer token. It never inspects the token.
type TokenStore struct {
	storage ports.Storage
}

// NewTokenStore constructs a TokenStore over storage.
func NewTokenStore(storage ports.Storage) *TokenStore {
	if storage == nil {
		panic("token store requires storage")
	}
	return &TokenStore{storage: storage}
}

// Save stores token under TokenKey.
func (t *TokenStore) Save(ctx context.Context, token string) error {
	if err := t.storage.SetMany(ctx, map[string]string{TokenKey: token}); err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	return nil
}

// Read returns the stored token. A missing token is ("", false, nil).
func (t *TokenStore) Read(ctx context.Context) (string, bool, error) {
	token, err := t.storage.Get(ctx, TokenKey)
	if errors.Is(err, ports.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read token: %w", err)
	}
	return token, true, nil
}

// Clear removes the stored token.
func (t *TokenStore) Clear(ctx context.Context) error {
	if err := t.storage.Delete(ctx, TokenKey); err != nil {
		return fmt.Errorf("clear token: %w", err)
	}
	return nil
}
