package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/target/rolefusion/config"
	"github.com/target/rolefusion/internal/bootstrap"
)

// errDenied signals a negative `can` decision; it maps to exit status 1 without a log line.
var errDenied = errors.New("permission denied")

type commandContext struct {
	Logger     *slog.Logger
	LoadConfig func() (config.AppConfig, error)
	Stdin      io.Reader

	// Config is populated by the root command before any subcommand runs.
	Config config.AppConfig
	JSON   bool
}

func main() {
	logger := bootstrap.InitLogger()

	cmdCtx := &commandContext{
		Logger:     logger,
		LoadConfig: bootstrap.LoadConfig,
		Stdin:      os.Stdin,
	}
	root := newRootCmd(cmdCtx)
	if err := root.ExecuteContext(context.Background()); err != nil {
		if !errors.Is(err, errDenied) {
			logger.Error("command failed", "error", err)
		}
		os.Exit(1) //nolint:forbidigo // CLI must propagate command execution failure to callers
	}
}

func newRootCmd(cmdCtx *commandContext) *cobra.Command {
	var verbose bool
	root := &cobra.Command{
		Use:   "rolefusion-admin",
		Short: "Operate the rolefusion auth session from the command line.",
		Long: `rolefusion-admin drives the same auth state machine as the HTTP shell.

State is persisted in the configured storage backend (STORAGE_BACKEND), so a
login in one invocation is still active in the next. The in-memory backend is
replaced with the file backend for CLI use.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level := "warn"
			if verbose {
				level = "debug"
			}
			if err := bootstrap.SetLogLevel(level); err != nil {
				return err
			}
			cfg, err := cmdCtx.LoadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cmdCtx.Config = cfg
			return nil
		},
	}
	root.PersistentFlags().BoolVar(&cmdCtx.JSON, "json", false, "print results as JSON")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newUsersCmd(cmdCtx),
		newPermissionsCmd(cmdCtx),
		newLoginCmd(cmdCtx),
		newWhoamiCmd(cmdCtx),
		newLogoutCmd(cmdCtx),
		newImpersonateCmd(cmdCtx),
		newStopImpersonationCmd(cmdCtx),
		newRefreshCmd(cmdCtx),
		newCanCmd(cmdCtx),
		newAuditCmd(cmdCtx),
		newMigrateCmd(cmdCtx),
	)
	return root
}

// session is one CLI invocation's view of the persisted auth stack.
type session struct {
	auth     *bootstrap.AuthComponents
	backends *bootstrap.Backends
}

// openSession wires storage and the auth service, restoring persisted state.
func openSession(ctx context.Context, cmdCtx *commandContext) (*session, error) {
	cfg := cmdCtx.Config
	if cfg.Storage.Backend == config.StorageBackendMemory {
		cfg.Storage.Backend = config.StorageBackendFile
	}
	if !cfg.Auth.HasTokenSecret() {
		return nil, errors.New("TOKEN_SECRET is required so sessions survive between invocations")
	}
	cfg.Observability.Metrics.Enabled = false

	backends, err := bootstrap.OpenBackends(ctx, cfg.Storage, cmdCtx.Logger)
	if err != nil {
		return nil, err
	}
	storage, err := bootstrap.BuildStorage(cfg.Storage, backends, cmdCtx.Logger)
	if err != nil {
		return nil, errors.Join(err, backends.Close())
	}
	auth, err := bootstrap.BuildAuth(ctx, bootstrap.AuthDeps{
		Config:   &cfg,
		Storage:  storage,
		Backends: backends,
		Logger:   cmdCtx.Logger,
	})
	if err != nil {
		return nil, errors.Join(err, backends.Close())
	}
	return &session{auth: auth, backends: backends}, nil
}

// withSession opens a session for one command and closes it afterwards.
func withSession(cmd *cobra.Command, cmdCtx *commandContext, fn func(s *session) error) (err error) {
	s, err := openSession(cmd.Context(), cmdCtx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.backends.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()
	return fn(s)
}

func readPassword(r io.Reader) (string, error) {
	if r == nil {
		return "", errors.New("no input available for --password-stdin")
	}
	data, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}
