package config

import (
	"strings"
	"time"
)

// ImpersonationConfig contains the guardrails applied to admin impersonation.
type ImpersonationConfig struct {
	// MaxDuration is how long a session may last before it is stopped automatically.
	MaxDuration time.Duration `env:"IMPERSONATION_MAX_DURATION" envDefault:"1h"`

	// RateLimit is the number of start attempts allowed per admin and source within RateWindow.
	RateLimit  int           `env:"IMPERSONATION_RATE_LIMIT"  envDefault:"5"`
	RateWindow time.Duration `env:"IMPERSONATION_RATE_WINDOW" envDefault:"1h"`

	// SweepSchedule is a cron expression for the expiry sweeper. Empty disables it.
	SweepSchedule string `env:"IMPERSONATION_SWEEP_SCHEDULE" envDefault:"@every 1m"`

	// AuditMaxEntries caps the in-memory audit trail per session.
	AuditMaxEntries int `env:"IMPERSONATION_AUDIT_MAX_ENTRIES" envDefault:"1000"`
}

// Sanitize applies guardrails to impersonation configuration values.
func (c *ImpersonationConfig) Sanitize() {
	if c.MaxDuration < time.Minute {
		c.MaxDuration = time.Minute
	}
	if c.RateLimit < 1 {
		c.RateLimit = 1
	}
	if c.RateWindow < time.Second {
		c.RateWindow = time.Second
	}
	c.SweepSchedule = strings.TrimSpace(c.SweepSchedule)
	if c.AuditMaxEntries < 1 {
		c.AuditMaxEntries = 1
	}
}
