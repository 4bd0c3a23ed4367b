package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/target/rolefusion/internal/clock"
	domainauth "github.com/target/rolefusion/internal/domain/auth"
	apperrors "github.com/target/rolefusion/internal/errors"
	"github.com/target/rolefusion/internal/observability/metrics"
	"github.com/target/rolefusion/internal/ports"
)

// DefaultImpersonationMaxDuration bounds a single impersonation session.
const DefaultImpersonationMaxDuration = time.Hour

// ImpersonationPolicy configures the guard.
type ImpersonationPolicy struct {
	MaxDuration time.Duration
	RateLimit   int
	RateWindow  time.Duration
}

// Runtime carries the ambient collaborators shared by the auth services.
type Runtime struct {
	Clock   ports.Clock  // Optional: defaults to clock.Real
	Logger  *slog.Logger // Optional: defaults to slog.Default()
	Metrics metrics.Sink // Optional: defaults to a no-op sink
}

func (r Runtime) withDefaults() Runtime {
	if r.Clock == nil {
		r.Clock = clock.Real{}
	}
	if r.Logger == nil {
		r.Logger = slog.Default()
	}
	if r.Metrics == nil {
		r.Metrics = metrics.NopSink{}
	}
	return r
}

// ImpersonationGuardOptions groups dependencies for ImpersonationGuard.
type ImpersonationGuardOptions struct {
	Policy  ImpersonationPolicy
	Audit   ports.AuditSink // Required
	Runtime Runtime
}

// ImpersonationGuard holds the impersonation policy: start quotas, the session
// lifetime, and the audit side channel.
type ImpersonationGuard struct {
	limiter     *RateLimiter
	maxDuration time.Duration
	audit       ports.AuditSink
	rt          Runtime
}

// NewImpersonationGuard constructs an ImpersonationGuard.
func NewImpersonationGuard(opts ImpersonationGuardOptions) *ImpersonationGuard {
	if opts.Audit == nil {
		panic("impersonation guard requires an audit sink")
	}
	rt := opts.Runtime.withDefaults()
	maxDuration := opts.Policy.MaxDuration
	if maxDuration <= 0 {
		maxDuration = DefaultImpersonationMaxDuration
	}
	return &ImpersonationGuard{
		limiter:     NewRateLimiter(opts.Policy.RateLimit, opts.Policy.RateWindow, rt.Clock),
		maxDuration: maxDuration,
		audit:       opts.Audit,
		rt:          rt,
	}
}

// MaxDuration returns the session lifetime.
func (g *ImpersonationGuard) MaxDuration() time.Duration { return g.maxDuration }

// Expired reports whether sess has outlived the policy at now.
func (g *ImpersonationGuard) Expired(sess domainauth.ImpersonationSession, now time.Time) bool {
	return domainauth.IsExpired(sess, now, g.maxDuration)
}

// ExpiresAt returns when sess stops being valid.
func (g *ImpersonationGuard) ExpiresAt(sess domainauth.ImpersonationSession) time.Time {
	return sess.StartTime.Add(g.maxDuration)
}

// CheckRate returns a rate limit error when (adminID, sourceAddress) has no starts
// left. It does not count the attempt; RecordStart does that once the start succeeds.
func (g *ImpersonationGuard) CheckRate(adminID, sourceAddress string) error {
	if g.limiter.Check(RateLimitKey(adminID, sourceAddress)) {
		return nil
	}
	return apperrors.RateLimited("too many impersonation attempts; try again later")
}

// RecordStart counts one successful start for (adminID, sourceAddress).
func (g *ImpersonationGuard) RecordStart(adminID, sourceAddress string) {
	g.limiter.Record(RateLimitKey(adminID, sourceAddress))
}

// RateWindows returns the open start windows for persistence.
func (g *ImpersonationGuard) RateWindows() map[string]RateWindow { return g.limiter.Windows() }

// LoadRateWindows merges windows saved by an earlier process.
func (g *ImpersonationGuard) LoadRateWindows(windows map[string]RateWindow) { g.limiter.Load(windows) }

// Remaining returns how many starts (adminID, sourceAddress) has left in its window.
func (g *ImpersonationGuard) Remaining(adminID, sourceAddress string) int {
	return g.limiter.Remaining(RateLimitKey(adminID, sourceAddress))
}

// RetryAt returns when the current window for (adminID, sourceAddress) closes.
func (g *ImpersonationGuard) RetryAt(adminID, sourceAddress string) time.Time {
	return g.limiter.ResetAt(RateLimitKey(adminID, sourceAddress))
}

// PruneRateWindows drops elapsed limiter windows.
func (g *ImpersonationGuard) PruneRateWindows() int { return g.limiter.Prune() }

// Record appends entry to the audit sink and mirrors it to the log.
// Failures are logged and counted; they never reach the caller.
func (g *ImpersonationGuard) Record(ctx context.Context, entry domainauth.AuditEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = g.rt.Clock.Now()
	}

	attrs := []any{
		"session_id", entry.SessionID,
		"action", string(entry.Action),
		"timestamp", entry.Timestamp,
	}
	if len(entry.Details) > 0 {
		attrs = append(attrs, "details", entry.Details)
	}
	g.rt.Logger.InfoContext(ctx, "impersonation audit", attrs...)

	if err := g.audit.Append(ctx, entry); err != nil {
		g.rt.Logger.WarnContext(ctx, "append impersonation audit entry failed",
			"session_id", entry.SessionID,
			"action", string(entry.Action),
			"error", err,
		)
		metrics.EmitAuditError(g.rt.Metrics, string(entry.Action))
	}
}

// Trail returns the audit entries of one session in append order.
func (g *ImpersonationGuard) Trail(ctx context.Context, sessionID string) ([]domainauth.AuditEntry, error) {
	if sessionID == "" {
		return nil, apperrors.ValidationField("session_id", "session id is required")
	}
	entries, err := g.audit.Entries(ctx, sessionID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodePersistence, "read impersonation audit")
	}
	return entries, nil
}
