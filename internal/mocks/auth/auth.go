package auth

// Package auth contains simple hand-written test doubles for auth ports.
// These are lightweight and suitable for unit tests without codegen.

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/target/rolefusion/internal/ports"
)

// Ensure compile-time conformance to ports.
var (
	_ ports.Storage       = (*FlakyStorage)(nil)
	_ ports.RefreshClient = (*StubRefreshClient)(nil)
)

// ErrInjected is the default failure returned by the doubles.
var ErrInjected = errors.New("injected failure")

// FlakyStorage is an in-memory ports.Storage whose operations can be made to fail.
type FlakyStorage struct {
	mu     sync.Mutex
	values map[string]string

	FailGet    bool
	FailSet    bool
	FailDelete bool
	// Err overrides ErrInjected when set.
	Err error

	SetCalls    int
	DeleteCalls int
}

// NewFlakyStorage creates a FlakyStorage that succeeds until told otherwise.
func NewFlakyStorage() *FlakyStorage {
	return &FlakyStorage{values: make(map[string]string)}
}

func (f *FlakyStorage) err() error {
	if f.Err != nil {
		return f.Err
	}
	return ErrInjected
}

func (f *FlakyStorage) Get(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailGet {
		return "", f.err()
	}
	v, ok := f.values[key]
	if !ok {
		return "", ports.ErrKeyNotFound
	}
	return v, nil
}

func (f *FlakyStorage) SetMany(_ context.Context, values map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SetCalls++
	if f.FailSet {
		return f.err()
	}
	for k, v := range values {
		f.values[k] = v
	}
	return nil
}

func (f *FlakyStorage) Delete(_ context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.DeleteCalls++
	if f.FailDelete {
		return f.err()
	}
	for _, k := range keys {
		delete(f.values, k)
	}
	return nil
}

// Put writes a value directly, bypassing failure injection.
func (f *FlakyStorage) Put(key, value string) {
	f.mu.Lock()
	f.values[key] = value
	f.mu.Unlock()
}

// Value reads a value directly, bypassing failure injection.
func (f *FlakyStorage) Value(key string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[key]
	return v, ok
}

// StubRefreshClient returns a canned token or runs RefreshFunc.
type StubRefreshClient struct {
	RefreshFunc func(ctx context.Context, token string) (string, error)
	Token       string
	Err         error

	calls atomic.Int64
}

func (s *StubRefreshClient) Refresh(ctx context.Context, token string) (string, error) {
	s.calls.Add(1)
	if s.RefreshFunc != nil {
		return s.RefreshFunc(ctx, token)
	}
	if s.Err != nil {
		return "", s.Err
	}
	return s.Token, nil
}

// Calls returns how many times Refresh ran.
func (s *StubRefreshClient) Calls() int { return int(s.calls.Load()) }
