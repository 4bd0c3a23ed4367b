package bootstrap

import (
	"io"
	"log/slog"
	"testing"

	"github.com/caarlos0/env/v11"
	"github.com/stretchr/testify/require"

	"github.com/target/rolefusion/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testConfig parses defaults from the environment with cheap hashing and a fixed secret.
func testConfig(t *testing.T, overrides map[string]string) *config.AppConfig {
	t.Helper()
	t.Setenv("DIRECTORY_PASSWORD_HASH_COST", "4")
	t.Setenv("TOKEN_SECRET", "bootstrap-test-secret")
	t.Setenv("STORAGE_BACKEND", "memory")
	for k, v := range overrides {
		t.Setenv(k, v)
	}
	var cfg config.AppConfig
	require.NoError(t, env.Parse(&cfg))
	cfg.Sanitize()
	return &cfg
}
