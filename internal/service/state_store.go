package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	domainauth "github.com/target/rolefusion/internal/domain/auth"
	"github.com/target/rolefusion/internal/ports"
)

// StateStore persists the AuthState blob together with its bearer token.
// An authenticated state and its token are written in one SetMany call; a
// logged-out state removes both keys in one Delete call.
type StateStore struct {
	storage ports.Storage
	tokens  *TokenStore
}

// NewStateStore constructs a StateStore over storage.
func NewStateStore(storage ports.Storage) *StateStore {
	return &StateStore{storage: storage, tokens: NewTokenStore(storage)}
}

// Tokens exposes the token container sharing the same storage.
func (s *StateStore) Tokens() *TokenStore { return s.tokens }

// Save writes state and token as one unit.
func (s *StateStore) Save(ctx context.Context, state domainauth.AuthState, token string) error {
	state = state.Normalize()
	if !state.IsAuthenticated {
		if err := s.storage.Delete(ctx, StateKey, TokenKey); err != nil {
			return fmt.Errorf("delete auth state: %w", err)
		}
		return nil
	}
	if token == "" {
		return errors.New("authenticated state requires a token")
	}

	blob, err := domainauth.MarshalState(state)
	if err != nil {
		return fmt.Errorf("marshal auth state: %w", err)
	}
	if err := s.storage.SetMany(ctx, map[string]string{StateKey: string(blob), TokenKey: token}); err != nil {
		return fmt.Errorf("write auth state: %w", err)
	}
	return nil
}

// Load reads the persisted state and token. A missing blob is LoggedOut with no error.
// A blob that does not decode is returned as an error alongside LoggedOut.
func (s *StateStore) Load(ctx context.Context) (domainauth.AuthState, string, error) {
	blob, err := s.storage.Get(ctx, StateKey)
	if errors.Is(err, ports.ErrKeyNotFound) {
		return domainauth.LoggedOut(), "", nil
	}
	if err != nil {
		return domainauth.LoggedOut(), "", fmt.Errorf("read auth state: %w", err)
	}

	state, err := domainauth.UnmarshalState([]byte(blob))
	if err != nil {
		return domainauth.LoggedOut(), "", fmt.Errorf("decode auth state: %w", err)
	}

	token, _, err := s.tokens.Read(ctx)
	if err != nil {
		return state, "", err
	}
	return state, token, nil
}

// SaveRateWindows writes the open impersonation start windows.
func (s *StateStore) SaveRateWindows(ctx context.Context, windows map[string]RateWindow) error {
	if len(windows) == 0 {
		if err := s.storage.Delete(ctx, RateWindowsKey); err != nil {
			return fmt.Errorf("delete rate windows: %w", err)
		}
		return nil
	}
	blob, err := json.Marshal(windows)
	if err != nil {
		return fmt.Errorf("marshal rate windows: %w", err)
	}
	if err := s.storage.SetMany(ctx, map[string]string{RateWindowsKey: string(blob)}); err != nil {
		return fmt.Errorf("write rate windows: %w", err)
	}
	return nil
}

// LoadRateWindows reads the saved start windows. A missing key is an empty map.
func (s *StateStore) LoadRateWindows(ctx context.Context) (map[string]RateWindow, error) {
	blob, err := s.storage.Get(ctx, RateWindowsKey)
	if errors.Is(err, ports.ErrKeyNotFound) {
		return map[string]RateWindow{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read rate windows: %w", err)
	}
	var windows map[string]RateWindow
	if err := json.Unmarshal([]byte(blob), &windows); err != nil {
		return nil, fmt.Errorf("decode rate windows: %w", err)
	}
	return windows, nil
}
