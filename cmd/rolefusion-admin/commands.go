package main

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/target/rolefusion/internal/bootstrap"
	domainauth "github.com/target/rolefusion/internal/domain/auth"
	"github.com/target/rolefusion/internal/service"
)

const defaultCLISource = "cli"

func newUsersCmd(cmdCtx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "users",
		Short: "List directory identities.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd, cmdCtx, func(s *session) error {
				return printIdentities(cmd.OutOrStdout(), cmdCtx.JSON, s.auth.Directory.ListAll())
			})
		},
	}
}

func newPermissionsCmd(cmdCtx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:     "permissions [role]",
		Short:   "Show the permissions of a role, or of the effective user.",
		Example: "rolefusion-admin permissions MANAGER",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				role, err := domainauth.ParseRole(args[0])
				if err != nil {
					return err
				}
				return printPermissions(cmd.OutOrStdout(), cmdCtx.JSON, domainauth.DefaultCatalog().PermissionsFor(role))
			}
			return withSession(cmd, cmdCtx, func(s *session) error {
				s.auth.Service.EnforceImpersonationExpiry(cmd.Context())
				if !s.auth.Service.IsAuthenticated() {
					return errors.New("not logged in")
				}
				return printPermissions(cmd.OutOrStdout(), cmdCtx.JSON, s.auth.Service.Permissions())
			})
		},
	}
}

func newLoginCmd(cmdCtx *commandContext) *cobra.Command {
	var (
		email         string
		password      string
		passwordStdin bool
	)
	cmd := &cobra.Command{
		Use:     "login",
		Short:   "Authenticate against the directory.",
		Example: "echo password | rolefusion-admin login --email admin@example.com --password-stdin",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if passwordStdin {
				p, err := readPassword(cmdCtx.Stdin)
				if err != nil {
					return err
				}
				password = p
			}
			return withSession(cmd, cmdCtx, func(s *session) error {
				view, err := s.auth.Service.Login(cmd.Context(), email, password)
				if err != nil {
					return err
				}
				return printView(cmd.OutOrStdout(), cmdCtx.JSON, view)
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "read the password from stdin")
	cmd.MarkFlagsMutuallyExclusive("password", "password-stdin")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newWhoamiCmd(cmdCtx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the current session.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd, cmdCtx, func(s *session) error {
				return printView(cmd.OutOrStdout(), cmdCtx.JSON, s.auth.Facade.Current(cmd.Context()))
			})
		},
	}
}

func newLogoutCmd(cmdCtx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session and clear persisted state.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd, cmdCtx, func(s *session) error {
				if err := s.auth.Service.Logout(cmd.Context()); err != nil {
					return err
				}
				return writeln(cmd.OutOrStdout(), "logged out")
			})
		},
	}
}

func newImpersonateCmd(cmdCtx *commandContext) *cobra.Command {
	var source string
	cmd := &cobra.Command{
		Use:     "impersonate <email>",
		Short:   "Act as another identity (ADMIN only).",
		Example: "rolefusion-admin impersonate user@example.com",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, cmdCtx, func(s *session) error {
				target, ok := s.auth.Directory.FindByEmail(strings.TrimSpace(args[0]))
				if !ok {
					return fmt.Errorf("no identity with email %q", args[0])
				}
				view, err := s.auth.Service.StartImpersonation(cmd.Context(), service.StartImpersonationInput{
					TargetID:      target.ID,
					SourceAddress: source,
				})
				if err != nil {
					return err
				}
				return printView(cmd.OutOrStdout(), cmdCtx.JSON, view)
			})
		},
	}
	cmd.Flags().StringVar(&source, "source", defaultCLISource, "source address charged against the start quota")
	return cmd
}

func newStopImpersonationCmd(cmdCtx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stop-impersonation",
		Short: "Return to the administrator identity.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd, cmdCtx, func(s *session) error {
				view, err := s.auth.Service.StopImpersonation(cmd.Context())
				if err != nil {
					return err
				}
				return printView(cmd.OutOrStdout(), cmdCtx.JSON, view)
			})
		},
	}
}

func newRefreshCmd(cmdCtx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Renew the bearer credential.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd, cmdCtx, func(s *session) error {
				view, err := s.auth.Service.Refresh(cmd.Context())
				if err != nil {
					return err
				}
				return printView(cmd.OutOrStdout(), cmdCtx.JSON, view)
			})
		},
	}
}

func newCanCmd(cmdCtx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:     "can <permission>",
		Short:   "Check whether the effective user holds a permission.",
		Long:    "Prints allowed or denied. Exits non-zero when denied.",
		Example: "rolefusion-admin can approve",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			perm := domainauth.Permission(strings.ToLower(strings.TrimSpace(args[0])))
			if !slices.Contains(domainauth.AllPermissions(), perm) {
				return fmt.Errorf("unknown permission %q", args[0])
			}
			return withSession(cmd, cmdCtx, func(s *session) error {
				s.auth.Service.EnforceImpersonationExpiry(cmd.Context())
				if s.auth.Service.HasPermission(perm) {
					return writeln(cmd.OutOrStdout(), "allowed")
				}
				if err := writeln(cmd.OutOrStdout(), "denied"); err != nil {
					return err
				}
				return errDenied
			})
		},
	}
}

func newAuditCmd(cmdCtx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "audit [session-id]",
		Short: "Print impersonation audit entries (defaults to the active session).",
		Long: `Print impersonation audit entries.

Entries outlive a single invocation only with the postgres backend; other
backends keep the audit trail in memory.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, cmdCtx, func(s *session) error {
				sessionID := ""
				if len(args) == 1 {
					sessionID = args[0]
				} else if imp := s.auth.Service.View().Impersonation; imp != nil {
					sessionID = imp.SessionID
				}
				if sessionID == "" {
					return errors.New("session id is required when no impersonation is active")
				}
				entries, err := s.auth.Service.AuditTrail(cmd.Context(), sessionID)
				if err != nil {
					return err
				}
				return printAudit(cmd.OutOrStdout(), cmdCtx.JSON, entries)
			})
		},
	}
}

func newMigrateCmd(cmdCtx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the postgres storage and audit migrations.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrate(cmd.Context(), cmdCtx)
		},
	}
}

func runMigrate(ctx context.Context, cmdCtx *commandContext) error {
	db, err := bootstrap.ConnectDB(ctx, bootstrap.DatabaseConfig{
		DBConfig: cmdCtx.Config.Storage.Postgres,
		Logger:   cmdCtx.Logger,
	})
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			cmdCtx.Logger.ErrorContext(ctx, "close database failed", "error", cerr)
		}
	}()
	return bootstrap.RunMigrations(ctx, db, cmdCtx.Logger)
}
