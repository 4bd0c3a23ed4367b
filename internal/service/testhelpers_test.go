package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/target/rolefusion/internal/adapters/auditlog"
	"github.com/target/rolefusion/internal/adapters/directory"
	"github.com/target/rolefusion/internal/adapters/jwtcred"
	"github.com/target/rolefusion/internal/adapters/memstore"
	"github.com/target/rolefusion/internal/clock"
	domainauth "github.com/target/rolefusion/internal/domain/auth"
	"github.com/target/rolefusion/internal/ports"
)

var testStart = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

const (
	adminEmail   = "admin@example.com"
	managerEmail = "manager@example.com"
	userEmail    = "user@example.com"
	adminID      = "user-1"
	managerID    = "user-2"
	userID       = "user-3"
	testSource   = "10.0.0.7"
)

type fixture struct {
	svc     *AuthService
	clock   *clock.Fixed
	storage ports.Storage
	audit   *auditlog.Log
	issuer  *jwtcred.Issuer
	dir     ports.Directory
	metrics *recordingSink
}

type fixtureOption func(*fixtureConfig)

type fixtureConfig struct {
	storage   ports.Storage
	refresher ports.RefreshClient
	dir       ports.Directory
	clock     *clock.Fixed
	issuer    *jwtcred.Issuer
	audit     *auditlog.Log
	policy    ImpersonationPolicy
	wrap      func(ports.CredentialIssuer) ports.CredentialIssuer
}

func withStorage(s ports.Storage) fixtureOption { return func(c *fixtureConfig) { c.storage = s } }

func withRefresher(r ports.RefreshClient) fixtureOption {
	return func(c *fixtureConfig) { c.refresher = r }
}

func withDirectory(d ports.Directory) fixtureOption { return func(c *fixtureConfig) { c.dir = d } }

func withPolicy(p ImpersonationPolicy) fixtureOption { return func(c *fixtureConfig) { c.policy = p } }

// wrapIssuer decorates the issuer handed to the service; f.issuer stays the real one.
func wrapIssuer(fn func(ports.CredentialIssuer) ports.CredentialIssuer) fixtureOption {
	return func(c *fixtureConfig) { c.wrap = fn }
}

// sharing reuses the collaborators of f so a second service sees the same
// storage, directory, signing key, clock and audit log.
func sharing(f *fixture) fixtureOption {
	return func(c *fixtureConfig) {
		c.storage = f.storage
		c.dir = f.dir
		c.clock = f.clock
		c.issuer = f.issuer
		c.audit = f.audit
	}
}

func testDirectory(t *testing.T) *directory.Directory {
	t.Helper()
	dir, err := directory.NewDemo(directory.Options{HashCost: bcrypt.MinCost})
	require.NoError(t, err)
	return dir
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	cfg := fixtureConfig{}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.storage == nil {
		cfg.storage = memstore.New()
	}
	if cfg.dir == nil {
		cfg.dir = testDirectory(t)
	}
	if cfg.clock == nil {
		cfg.clock = clock.NewFixed(testStart)
	}
	if cfg.issuer == nil {
		iss, err := jwtcred.New(jwtcred.Options{Secret: []byte("test-secret"), Issuer: "rolefusion-test"})
		require.NoError(t, err)
		cfg.issuer = iss
	}
	if cfg.audit == nil {
		cfg.audit = auditlog.New(0)
	}

	var issuer ports.CredentialIssuer = cfg.issuer
	if cfg.wrap != nil {
		issuer = cfg.wrap(issuer)
	}

	sink := &recordingSink{}
	rt := Runtime{Clock: cfg.clock, Metrics: sink}
	guard := NewImpersonationGuard(ImpersonationGuardOptions{
		Policy:  cfg.policy,
		Audit:   cfg.audit,
		Runtime: rt,
	})
	svc := NewAuthService(AuthServiceOptions{
		Deps: AuthDeps{
			Directory: cfg.dir,
			Issuer:    issuer,
			Storage:   cfg.storage,
			Guard:     guard,
			Refresher: cfg.refresher,
		},
		Runtime: rt,
	})
	return &fixture{
		svc:     svc,
		clock:   cfg.clock,
		storage: cfg.storage,
		audit:   cfg.audit,
		issuer:  cfg.issuer,
		dir:     cfg.dir,
		metrics: sink,
	}
}

func (f *fixture) login(t *testing.T, email string) View {
	t.Helper()
	v, err := f.svc.Login(context.Background(), email, directory.DemoPassword)
	require.NoError(t, err)
	return v
}

func (f *fixture) impersonate(t *testing.T, targetID string) View {
	t.Helper()
	v, err := f.svc.StartImpersonation(context.Background(), StartImpersonationInput{TargetID: targetID, SourceAddress: testSource})
	require.NoError(t, err)
	return v
}

func (f *fixture) stored(t *testing.T, key string) (string, bool) {
	t.Helper()
	v, err := f.storage.Get(context.Background(), key)
	if errors.Is(err, ports.ErrKeyNotFound) {
		return "", false
	}
	require.NoError(t, err)
	return v, true
}

func (f *fixture) trail(t *testing.T, sessionID string) []domainauth.AuditEntry {
	t.Helper()
	entries, err := f.audit.Entries(context.Background(), sessionID)
	require.NoError(t, err)
	return entries
}

func actions(entries []domainauth.AuditEntry) []domainauth.AuditAction {
	out := make([]domainauth.AuditAction, len(entries))
	for i, e := range entries {
		out[i] = e.Action
	}
	return out
}

// hidingDirectory wraps a Directory and pretends some ids no longer exist.
type hidingDirectory struct {
	ports.Directory
	mu     sync.Mutex
	hidden map[string]bool
}

func newHidingDirectory(inner ports.Directory) *hidingDirectory {
	return &hidingDirectory{Directory: inner, hidden: map[string]bool{}}
}

func (h *hidingDirectory) Hide(id string) {
	h.mu.Lock()
	h.hidden[id] = true
	h.mu.Unlock()
}

func (h *hidingDirectory) FindByID(id string) (domainauth.Identity, bool) {
	h.mu.Lock()
	hidden := h.hidden[id]
	h.mu.Unlock()
	if hidden {
		return domainauth.Identity{}, false
	}
	return h.Directory.FindByID(id)
}

type recordingSink struct {
	mu     sync.Mutex
	counts []recordedCount
	gauges []float64
}

type recordedCount struct {
	name string
	tags map[string]string
}

func (r *recordingSink) Count(name string, _ int64, tags map[string]string) {
	r.mu.Lock()
	r.counts = append(r.counts, recordedCount{name: name, tags: tags})
	r.mu.Unlock()
}

func (r *recordingSink) Gauge(_ string, value float64, _ map[string]string) {
	r.mu.Lock()
	r.gauges = append(r.gauges, value)
	r.mu.Unlock()
}

func (r *recordingSink) Timing(string, time.Duration, map[string]string) {}

func (r *recordingSink) count(name string, match map[string]string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.counts {
		if c.name != name {
			continue
		}
		ok := true
		for k, v := range match {
			if c.tags[k] != v {
				ok = false
				break
			}
		}
		if ok {
			n++
		}
	}
	return n
}
