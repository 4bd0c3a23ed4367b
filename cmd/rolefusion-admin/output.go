package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	domainauth "github.com/target/rolefusion/internal/domain/auth"
	"github.com/target/rolefusion/internal/service"
)

func writef(w io.Writer, format string, args ...any) error {
	_, err := fmt.Fprintf(w, format, args...)
	return err
}

func writeln(w io.Writer, args ...any) error {
	_, err := fmt.Fprintln(w, args...)
	return err
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func describe(id *domainauth.Identity) string {
	if id == nil {
		return "-"
	}
	return fmt.Sprintf("%s (%s)", id.Email, id.Role)
}

func joinPermissions(perms []domainauth.Permission) string {
	parts := make([]string, len(perms))
	for i, p := range perms {
		parts[i] = string(p)
	}
	return strings.Join(parts, ", ")
}

func printView(w io.Writer, asJSON bool, view service.View) error {
	if asJSON {
		return writeJSON(w, view)
	}
	if !view.Authenticated {
		return writeln(w, "not logged in")
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	lines := []string{
		"status:\t" + string(view.Status),
		"user:\t" + describe(view.User),
	}
	if imp := view.Impersonation; imp != nil {
		lines = append(lines,
			"acting as:\t"+describe(view.EffectiveUser),
			"session:\t"+imp.SessionID,
			"expires:\t"+imp.ExpiresAt.Format(time.RFC3339),
		)
	}
	lines = append(lines, "permissions:\t"+joinPermissions(view.Permissions))
	for _, line := range lines {
		if err := writeln(tw, line); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func printIdentities(w io.Writer, asJSON bool, ids []domainauth.Identity) error {
	if asJSON {
		return writeJSON(w, ids)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if err := writeln(tw, "ID\tEMAIL\tNAME\tROLE"); err != nil {
		return err
	}
	for _, id := range ids {
		if err := writef(tw, "%s\t%s\t%s\t%s\n", id.ID, id.Email, id.Name, id.Role); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func printPermissions(w io.Writer, asJSON bool, perms []domainauth.Permission) error {
	if asJSON {
		return writeJSON(w, perms)
	}
	for _, p := range perms {
		if err := writeln(w, string(p)); err != nil {
			return err
		}
	}
	return nil
}

func printAudit(w io.Writer, asJSON bool, entries []domainauth.AuditEntry) error {
	if asJSON {
		return writeJSON(w, entries)
	}
	if len(entries) == 0 {
		return writeln(w, "no audit entries")
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if err := writeln(tw, "TIMESTAMP\tACTION\tDETAILS"); err != nil {
		return err
	}
	for _, e := range entries {
		details := "-"
		if len(e.Details) > 0 {
			raw, err := json.Marshal(e.Details)
			if err != nil {
				return fmt.Errorf("encode audit details: %w", err)
			}
			details = string(raw)
		}
		if err := writef(tw, "%s\t%s\t%s\n", e.Timestamp.Format(time.RFC3339), e.Action, details); err != nil {
			return err
		}
	}
	return tw.Flush()
}
