package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	domainauth "github.com/target/rolefusion/internal/domain/auth"
	apperrors "github.com/target/rolefusion/internal/errors"
	"github.com/target/rolefusion/internal/observability/metrics"
	"github.com/target/rolefusion/internal/ports"
)

// DefaultRefreshMaxAge bounds how old a credential may be and still be refreshed.
const DefaultRefreshMaxAge = 24 * time.Hour

const invalidCredentialsMessage = "invalid email or password"

// Reasons an impersonation session ended, used for audit details and metrics.
const (
	stopReasonStop          = "stop"
	stopReasonLogout        = "logout"
	stopReasonLogin         = "login"
	stopReasonExpired       = "expired"
	stopReasonRefreshFailed = "refresh_failed"
)

// Listener observes committed AuthState snapshots in commit order.
// Listeners run synchronously after the commit lock is released. They may call
// read operations but must not call mutating operations.
type Listener func(domainauth.AuthState)

// AuthDeps are the collaborators AuthService works against.
type AuthDeps struct {
	Directory ports.Directory        // Required
	Issuer    ports.CredentialIssuer // Required
	Storage   ports.Storage          // Required
	Guard     *ImpersonationGuard    // Required
	Refresher ports.RefreshClient    // Optional: credentials are re-minted locally when nil
}

// AuthPolicy tunes AuthService decisions.
type AuthPolicy struct {
	// Catalog defaults to domainauth.DefaultCatalog when it grants no roles.
	Catalog       domainauth.Catalog
	RefreshMaxAge time.Duration
}

// AuthServiceOptions groups dependencies for AuthService.
type AuthServiceOptions struct {
	Deps    AuthDeps
	Policy  AuthPolicy
	Runtime Runtime
}

// AuthService owns the process-wide auth state machine: LoggedOut, LoggedIn and
// LoggedIn+Impersonating. Every mutation builds the complete next state, persists
// it, swaps the in-memory snapshot, and then publishes it to listeners.
type AuthService struct {
	directory     ports.Directory
	issuer        ports.CredentialIssuer
	store         *StateStore
	guard         *ImpersonationGuard
	refresher     ports.RefreshClient
	catalog       domainauth.Catalog
	refreshMaxAge time.Duration
	rt            Runtime

	// commitMu serializes mutations.
	commitMu sync.Mutex

	stateMu sync.RWMutex
	state   domainauth.AuthState
	cred    *domainauth.Credential
	seq     uint64

	pubMu     sync.Mutex
	published uint64

	listenersMu sync.Mutex
	listeners   []subscription
	nextSubID   uint64

	refreshGroup singleflight.Group
}

type subscription struct {
	id uint64
	fn Listener
}

// commitResult is a committed snapshot waiting to be published.
type commitResult struct {
	seq   uint64
	state domainauth.AuthState
}

// StartImpersonationInput groups parameters for starting an impersonation session.
type StartImpersonationInput struct {
	TargetID      string
	SourceAddress string
}

// NewAuthService constructs an AuthService in the LoggedOut state.
// Call Restore to pick up persisted state.
func NewAuthService(opts AuthServiceOptions) *AuthService {
	deps := opts.Deps
	if deps.Directory == nil || deps.Issuer == nil || deps.Storage == nil || deps.Guard == nil {
		panic("auth service requires a directory, issuer, storage and impersonation guard")
	}
	catalog := opts.Policy.Catalog
	if len(catalog.Roles()) == 0 {
		catalog = domainauth.DefaultCatalog()
	}
	maxAge := opts.Policy.RefreshMaxAge
	if maxAge <= 0 {
		maxAge = DefaultRefreshMaxAge
	}
	return &AuthService{
		directory:     deps.Directory,
		issuer:        deps.Issuer,
		store:         NewStateStore(deps.Storage),
		guard:         deps.Guard,
		refresher:     deps.Refresher,
		catalog:       catalog,
		refreshMaxAge: maxAge,
		rt:            opts.Runtime.withDefaults(),
		state:         domainauth.LoggedOut(),
	}
}

// Login authenticates email and password against the directory.
// Failures never reveal whether the email or the password was wrong.
func (s *AuthService) Login(ctx context.Context, email, password string) (view View, err error) {
	start := time.Now()
	defer func() { s.observe(metrics.OpLogin, start, err) }()

	identity, found := s.directory.FindByEmail(email)
	// Unknown emails still pay for one hash comparison.
	verified := s.directory.VerifyPassword(identity, password)
	if strings.TrimSpace(email) == "" || password == "" || !found || !verified {
		return s.View(), apperrors.Authentication(invalidCredentialsMessage)
	}

	s.commitMu.Lock()
	prev := s.Snapshot()
	now := s.rt.Clock.Now()
	next := domainauth.LoggedInAs(identity)
	cred, err := s.issueFor(next, now)
	if err != nil {
		s.commitMu.Unlock()
		return s.viewOf(prev), err
	}
	if prev.Impersonation != nil {
		s.auditStop(ctx, *prev.Impersonation, now, stopReasonLogin)
	}
	c := s.commitLocked(ctx, next, &cred)
	s.commitMu.Unlock()
	s.publish(c)

	s.rt.Logger.InfoContext(ctx, "user logged in", "user_id", identity.ID, "role", string(identity.Role))
	return s.viewOf(c.state), nil
}

// Logout stops any impersonation session, clears the credential and state, and
// removes both persisted keys. Logging out while logged out is a no-op.
func (s *AuthService) Logout(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { s.observe(metrics.OpLogout, start, err) }()

	s.commitMu.Lock()
	prev := s.Snapshot()
	if prev.Status() == domainauth.StatusLoggedOut {
		s.commitMu.Unlock()
		return nil
	}
	if prev.Impersonation != nil {
		s.auditStop(ctx, *prev.Impersonation, s.rt.Clock.Now(), stopReasonLogout)
	}
	c := s.commitLocked(ctx, domainauth.LoggedOut(), nil)
	s.commitMu.Unlock()
	s.publish(c)

	s.rt.Logger.InfoContext(ctx, "user logged out", "user_id", prev.User.ID)
	return nil
}

// IsAuthenticated reports whether a principal is logged in.
func (s *AuthService) IsAuthenticated() bool {
	return s.Snapshot().IsAuthenticated
}

// HasRole compares the true principal's role, never the impersonated one.
func (s *AuthService) HasRole(role domainauth.Role) bool {
	principal, ok := s.Snapshot().TruePrincipal()
	return ok && principal.Role == role
}

// HasPermission checks the effective user's role against the catalog.
// A session past its maximum duration no longer lends its permissions.
func (s *AuthService) HasPermission(perm domainauth.Permission) bool {
	effective, ok := s.effectiveAt(s.Snapshot(), s.rt.Clock.Now())
	return ok && s.catalog.HasPermission(effective.Role, perm)
}

// Permissions returns the effective user's permissions.
func (s *AuthService) Permissions() []domainauth.Permission {
	effective, ok := s.effectiveAt(s.Snapshot(), s.rt.Clock.Now())
	if !ok {
		return []domainauth.Permission{}
	}
	return s.catalog.PermissionsFor(effective.Role)
}

// StartImpersonation lets the admin true principal act as in.TargetID.
func (s *AuthService) StartImpersonation(ctx context.Context, in StartImpersonationInput) (view View, err error) {
	start := time.Now()
	defer func() { s.observe(metrics.OpStartImpersonation, start, err) }()

	s.commitMu.Lock()
	var pending []commitResult
	if c, expired := s.expireLocked(ctx); expired {
		pending = append(pending, c)
	}

	cur := s.Snapshot()
	target, err := s.checkStart(cur, in)
	if err != nil {
		s.commitMu.Unlock()
		s.publish(pending...)
		return s.viewOf(cur), err
	}

	admin := *cur.User
	now := s.rt.Clock.Now()
	sess := domainauth.ImpersonationSession{
		SessionID:        uuid.NewString(),
		OriginalUser:     admin,
		ImpersonatedUser: target,
		StartTime:        now,
	}
	next := domainauth.AuthState{IsAuthenticated: true, User: &admin, Impersonation: &sess}
	cred, err := s.issueFor(next, now)
	if err != nil {
		s.commitMu.Unlock()
		s.publish(pending...)
		return s.viewOf(cur), err
	}
	s.guard.RecordStart(admin.ID, in.SourceAddress)
	s.saveRateWindows(ctx)

	s.guard.Record(ctx, domainauth.AuditEntry{
		SessionID: sess.SessionID,
		Action:    domainauth.AuditStartImpersonation,
		Timestamp: now,
		Details: map[string]any{
			"original_user_id":        admin.ID,
			"original_user_email":     admin.Email,
			"impersonated_user_id":    target.ID,
			"impersonated_user_email": target.Email,
			"source_address":          in.SourceAddress,
		},
	})
	c := s.commitLocked(ctx, next, &cred)
	pending = append(pending, c)
	s.commitMu.Unlock()
	s.publish(pending...)

	s.rt.Logger.InfoContext(ctx, "impersonation started",
		"user_id", admin.ID,
		"impersonated_user_id", target.ID,
		"session_id", sess.SessionID,
	)
	return s.viewOf(c.state), nil
}

// checkStart applies the start preconditions in order. The rate limiter is
// consulted last and only checked; the start is counted once it succeeds.
func (s *AuthService) checkStart(cur domainauth.AuthState, in StartImpersonationInput) (domainauth.Identity, error) {
	admin, ok := cur.TruePrincipal()
	if !ok {
		return domainauth.Identity{}, apperrors.Authorization(apperrors.ReasonNotAuthenticated, "you must be logged in to impersonate another user")
	}
	if admin.Role != domainauth.RoleAdmin {
		return domainauth.Identity{}, apperrors.Authorization(apperrors.ReasonNotAdmin, "only administrators can impersonate other users")
	}
	if cur.Impersonation != nil {
		return domainauth.Identity{}, apperrors.Authorization(apperrors.ReasonAlreadyImpersonating, "stop the current impersonation session before starting another")
	}
	target, ok := s.directory.FindByID(strings.TrimSpace(in.TargetID))
	if !ok {
		return domainauth.Identity{}, apperrors.NotFoundf("user %q not found", in.TargetID)
	}
	if target.ID == admin.ID {
		return domainauth.Identity{}, apperrors.Authorization(apperrors.ReasonSelfImpersonation, "you cannot impersonate yourself")
	}
	if err := s.guard.CheckRate(admin.ID, in.SourceAddress); err != nil {
		return domainauth.Identity{}, err
	}
	return target, nil
}

// StopImpersonation returns to the admin true principal. It is a no-op when not impersonating.
func (s *AuthService) StopImpersonation(ctx context.Context) (view View, err error) {
	start := time.Now()
	s.commitMu.Lock()
	cur := s.Snapshot()
	if cur.Impersonation == nil {
		s.commitMu.Unlock()
		s.observeResult(metrics.OpStopImpersonation, metrics.ResultNoop, start, nil)
		return s.viewOf(cur), nil
	}
	sessionID := cur.Impersonation.SessionID
	c := s.stopLocked(ctx, cur, s.rt.Clock.Now(), stopReasonStop)
	s.commitMu.Unlock()
	s.publish(c)
	s.observe(metrics.OpStopImpersonation, start, nil)

	s.rt.Logger.InfoContext(ctx, "impersonation stopped", "user_id", cur.User.ID, "session_id", sessionID)
	return s.viewOf(c.state), nil
}

// EffectiveUser returns the identity currently acting. An expired impersonation
// session is stopped first, in which case the true admin is returned.
func (s *AuthService) EffectiveUser(ctx context.Context) (domainauth.Identity, bool) {
	s.EnforceImpersonationExpiry(ctx)
	return domainauth.EffectiveUser(s.Snapshot())
}

// TruePrincipal returns the originally authenticated identity.
func (s *AuthService) TruePrincipal() (domainauth.Identity, bool) {
	return s.Snapshot().TruePrincipal()
}

// EnforceImpersonationExpiry stops the active session if it outlived its maximum
// duration and reports whether it did.
func (s *AuthService) EnforceImpersonationExpiry(ctx context.Context) bool {
	cur := s.Snapshot()
	if cur.Impersonation == nil || !s.guard.Expired(*cur.Impersonation, s.rt.Clock.Now()) {
		return false
	}

	s.commitMu.Lock()
	c, expired := s.expireLocked(ctx)
	s.commitMu.Unlock()
	if expired {
		s.publish(c)
	}
	return expired
}

// RecordImpersonatedAction audits a consequential action taken while impersonating.
// It is a no-op when not impersonating and fails with a session-expired error when
// the session has just been stopped for running too long.
func (s *AuthService) RecordImpersonatedAction(ctx context.Context, action string, details map[string]any) error {
	action = strings.TrimSpace(action)
	if action == "" {
		return apperrors.ValidationField("action", "action is required")
	}
	if s.EnforceImpersonationExpiry(ctx) {
		return apperrors.SessionExpired("impersonation session expired")
	}

	cur := s.Snapshot()
	if cur.Impersonation == nil {
		return nil
	}
	sess := *cur.Impersonation
	d := make(map[string]any, len(details)+3)
	for k, v := range details {
		d[k] = v
	}
	d["action"] = action
	d["original_user_id"] = sess.OriginalUser.ID
	d["impersonated_user_id"] = sess.ImpersonatedUser.ID

	s.guard.Record(ctx, domainauth.AuditEntry{
		SessionID: sess.SessionID,
		Action:    domainauth.AuditImpersonatedAction,
		Timestamp: s.rt.Clock.Now(),
		Details:   d,
	})
	return nil
}

// Refresh re-derives the bound identities from the stored credential and replaces
// it with a new one. Any failure logs the caller out and returns a session-expired
// error. Concurrent calls share one refresh.
func (s *AuthService) Refresh(ctx context.Context) (View, error) {
	start := time.Now()
	v, err, _ := s.refreshGroup.Do("refresh", func() (any, error) {
		return s.refresh(ctx)
	})
	s.observe(metrics.OpRefresh, start, err)
	if err != nil {
		return s.View(), err
	}
	return v.(View), nil
}

func (s *AuthService) refresh(ctx context.Context) (View, error) {
	cur, seq := s.snapshotSeq()

	token := s.currentToken(ctx)
	if token == "" {
		return s.failRefresh(ctx, seq, errors.New("no stored credential"))
	}
	claims, err := s.issuer.Parse(token)
	if err != nil {
		return s.failRefresh(ctx, seq, fmt.Errorf("parse credential: %w", err))
	}
	now := s.rt.Clock.Now()
	if age := now.Sub(claims.IssuedAt); age > s.refreshMaxAge {
		return s.failRefresh(ctx, seq, fmt.Errorf("credential is %s old, limit %s", age.Round(time.Second), s.refreshMaxAge))
	}
	if !claimsMatch(cur, claims) {
		return s.failRefresh(ctx, seq, errors.New("credential does not match the current session"))
	}
	next, err := s.rebind(cur)
	if err != nil {
		return s.failRefresh(ctx, seq, err)
	}

	var cred domainauth.Credential
	if s.refresher != nil {
		cred, err = s.remoteRefresh(ctx, token, claims)
	} else {
		cred, err = s.issueFor(next, now)
	}
	if err != nil {
		return s.failRefresh(ctx, seq, err)
	}

	s.commitMu.Lock()
	if _, latest := s.snapshotSeq(); latest != seq {
		// A newer mutation already minted a fresh credential.
		s.commitMu.Unlock()
		return s.View(), nil
	}
	pending := []commitResult{s.commitLocked(ctx, next, &cred)}
	if c, expired := s.expireLocked(ctx); expired {
		pending = append(pending, c)
	}
	s.commitMu.Unlock()
	s.publish(pending...)

	return s.View(), nil
}

func (s *AuthService) remoteRefresh(ctx context.Context, token string, bound domainauth.Claims) (domainauth.Credential, error) {
	fresh, err := s.refresher.Refresh(ctx, token)
	if err != nil {
		return domainauth.Credential{}, fmt.Errorf("remote refresh: %w", err)
	}
	claims, err := s.issuer.Parse(fresh)
	if err != nil {
		return domainauth.Credential{}, fmt.Errorf("parse refreshed credential: %w", err)
	}
	if claims.SubjectID != bound.SubjectID || claims.ActingAsID != bound.ActingAsID || claims.SessionID != bound.SessionID {
		return domainauth.Credential{}, errors.New("refreshed credential is bound to different identities")
	}
	return domainauth.Credential{Token: fresh, IssuedAt: claims.IssuedAt, ExpiresAt: claims.ExpiresAt}, nil
}

// failRefresh logs the caller out unless a newer mutation has replaced the state
// the refresh started from.
func (s *AuthService) failRefresh(ctx context.Context, seq uint64, cause error) (View, error) {
	s.rt.Logger.WarnContext(ctx, "credential refresh failed", "error", cause)

	s.commitMu.Lock()
	cur, latest := s.snapshotSeq()
	if latest != seq {
		s.commitMu.Unlock()
		return s.View(), nil
	}
	var pending []commitResult
	if cur.Status() != domainauth.StatusLoggedOut {
		if cur.Impersonation != nil {
			s.auditStop(ctx, *cur.Impersonation, s.rt.Clock.Now(), stopReasonRefreshFailed)
		}
		pending = append(pending, s.commitLocked(ctx, domainauth.LoggedOut(), nil))
	}
	s.commitMu.Unlock()
	s.publish(pending...)

	return s.viewOf(domainauth.LoggedOut()), apperrors.Wrap(cause, apperrors.ErrCodeSessionExpired, "session expired; please log in again")
}

// Restore loads the persisted state at start-up. Anything that cannot be trusted
// (a corrupt blob, a missing or undecodable credential, identities that no longer
// resolve) restores as LoggedOut.
func (s *AuthService) Restore(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()

	state, token, err := s.store.Load(ctx)
	if err != nil {
		s.rt.Logger.WarnContext(ctx, "restore auth state failed", "error", err)
		metrics.EmitPersistenceError(s.rt.Metrics, "load", err)
		state, token = domainauth.LoggedOut(), ""
	}

	windows, err := s.store.LoadRateWindows(ctx)
	if err != nil {
		s.rt.Logger.WarnContext(ctx, "restore impersonation rate windows failed", "error", err)
		metrics.EmitPersistenceError(s.rt.Metrics, "load_rate_windows", err)
	}
	s.guard.LoadRateWindows(windows)

	next, cred, reason := s.trustRestored(state, token)
	if reason != "" {
		s.rt.Logger.InfoContext(ctx, "discarding persisted auth state", "reason", reason)
	}

	s.commitMu.Lock()
	pending := []commitResult{s.commitLocked(ctx, next, cred)}
	if c, expired := s.expireLocked(ctx); expired {
		pending = append(pending, c)
	}
	s.commitMu.Unlock()
	s.publish(pending...)

	s.observe(metrics.OpRestore, start, nil)
	return nil
}

func (s *AuthService) trustRestored(state domainauth.AuthState, token string) (domainauth.AuthState, *domainauth.Credential, string) {
	if err := state.Validate(); err != nil {
		return domainauth.LoggedOut(), nil, "invalid state: " + err.Error()
	}
	if !state.IsAuthenticated {
		return domainauth.LoggedOut(), nil, ""
	}
	if token == "" {
		return domainauth.LoggedOut(), nil, "missing credential"
	}
	claims, err := s.issuer.Parse(token)
	if err != nil {
		return domainauth.LoggedOut(), nil, "credential does not decode"
	}
	if !claimsMatch(state, claims) {
		return domainauth.LoggedOut(), nil, "credential does not match state"
	}
	if s.rt.Clock.Now().Sub(claims.IssuedAt) > s.refreshMaxAge {
		return domainauth.LoggedOut(), nil, "credential too old"
	}
	next, err := s.rebind(state)
	if err != nil {
		return domainauth.LoggedOut(), nil, err.Error()
	}
	return next, &domainauth.Credential{Token: token, IssuedAt: claims.IssuedAt, ExpiresAt: claims.ExpiresAt}, ""
}

// rebind re-resolves every identity in state through the directory.
func (s *AuthService) rebind(state domainauth.AuthState) (domainauth.AuthState, error) {
	if state.User == nil {
		return domainauth.LoggedOut(), errors.New("not authenticated")
	}
	user, ok := s.directory.FindByID(state.User.ID)
	if !ok {
		return domainauth.LoggedOut(), fmt.Errorf("identity %q no longer resolves", state.User.ID)
	}
	next := domainauth.LoggedInAs(user)
	if imp := state.Impersonation; imp != nil {
		if user.Role != domainauth.RoleAdmin {
			return domainauth.LoggedOut(), fmt.Errorf("identity %q is no longer an administrator", user.ID)
		}
		target, ok := s.directory.FindByID(imp.ImpersonatedUser.ID)
		if !ok {
			return domainauth.LoggedOut(), fmt.Errorf("identity %q no longer resolves", imp.ImpersonatedUser.ID)
		}
		sess := *imp
		sess.OriginalUser = user
		sess.ImpersonatedUser = target
		next.Impersonation = &sess
	}
	return next, nil
}

func claimsMatch(state domainauth.AuthState, claims domainauth.Claims) bool {
	want, ok := domainauth.ClaimsFor(state)
	return ok &&
		want.SubjectID == claims.SubjectID &&
		want.ActingAsID == claims.ActingAsID &&
		want.SessionID == claims.SessionID
}

// Snapshot returns a copy of the current state.
func (s *AuthService) Snapshot() domainauth.AuthState {
	st, _ := s.snapshotSeq()
	return st
}

func (s *AuthService) snapshotSeq() (domainauth.AuthState, uint64) {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state.Clone(), s.seq
}

// View returns the caller-facing projection of the current state.
func (s *AuthService) View() View {
	return s.viewOf(s.Snapshot())
}

// Credential returns the current bearer credential.
func (s *AuthService) Credential() (domainauth.Credential, bool) {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	if s.cred == nil {
		return domainauth.Credential{}, false
	}
	return *s.cred, true
}

// ListImpersonationTargets returns the directory minus the true principal.
func (s *AuthService) ListImpersonationTargets() []domainauth.Identity {
	principal, ok := s.Snapshot().TruePrincipal()
	if !ok {
		return nil
	}
	all := s.directory.ListAll()
	out := make([]domainauth.Identity, 0, len(all))
	for _, id := range all {
		if id.ID != principal.ID {
			out = append(out, id)
		}
	}
	return out
}

// AuditTrail returns the audit entries of one impersonation session.
func (s *AuthService) AuditTrail(ctx context.Context, sessionID string) ([]domainauth.AuditEntry, error) {
	return s.guard.Trail(ctx, sessionID)
}

// ImpersonationQuota returns the true principal's remaining starts from
// sourceAddress and when the current window closes.
func (s *AuthService) ImpersonationQuota(sourceAddress string) (int, time.Time) {
	principal, ok := s.Snapshot().TruePrincipal()
	if !ok {
		return 0, time.Time{}
	}
	return s.guard.Remaining(principal.ID, sourceAddress), s.guard.RetryAt(principal.ID, sourceAddress)
}

// Subscribe registers l for every committed snapshot and returns its unsubscribe func.
func (s *AuthService) Subscribe(l Listener) func() {
	if l == nil {
		return func() {}
	}
	s.listenersMu.Lock()
	s.nextSubID++
	id := s.nextSubID
	s.listeners = append(s.listeners, subscription{id: id, fn: l})
	s.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.listenersMu.Lock()
			defer s.listenersMu.Unlock()
			for i, sub := range s.listeners {
				if sub.id == id {
					s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// expireLocked stops the active session when it is past its maximum duration.
// Callers hold commitMu.
func (s *AuthService) expireLocked(ctx context.Context) (commitResult, bool) {
	cur := s.Snapshot()
	if cur.Impersonation == nil {
		return commitResult{}, false
	}
	now := s.rt.Clock.Now()
	sess := *cur.Impersonation
	if !s.guard.Expired(sess, now) {
		return commitResult{}, false
	}

	elapsed := now.Sub(sess.StartTime)
	s.guard.Record(ctx, domainauth.AuditEntry{
		SessionID: sess.SessionID,
		Action:    domainauth.AuditImpersonationExpired,
		Timestamp: now,
		Details: map[string]any{
			"original_user_id":     sess.OriginalUser.ID,
			"impersonated_user_id": sess.ImpersonatedUser.ID,
			"elapsed_seconds":      elapsed.Seconds(),
			"max_duration_seconds": s.guard.MaxDuration().Seconds(),
		},
	})
	s.rt.Logger.WarnContext(ctx, "impersonation session expired",
		"user_id", sess.OriginalUser.ID,
		"session_id", sess.SessionID,
		"elapsed", elapsed.String(),
	)
	c := s.stopLocked(ctx, cur, now, stopReasonExpired)
	s.observeResult(metrics.OpExpireImpersonation, metrics.ResultSuccess, time.Time{}, nil)
	return c, true
}

// stopLocked commits the admin-only state with a fresh credential. If no
// credential can be minted the principal is logged out instead.
// Callers hold commitMu and cur must be impersonating.
func (s *AuthService) stopLocked(ctx context.Context, cur domainauth.AuthState, now time.Time, reason string) commitResult {
	sess := *cur.Impersonation
	next := domainauth.LoggedInAs(*cur.User)
	cred, err := s.issueFor(next, now)
	s.auditStop(ctx, sess, now, reason)
	if err != nil {
		s.rt.Logger.ErrorContext(ctx, "mint admin credential failed; logging out",
			"user_id", cur.User.ID,
			"session_id", sess.SessionID,
			"error", err,
		)
		return s.commitLocked(ctx, domainauth.LoggedOut(), nil)
	}
	return s.commitLocked(ctx, next, &cred)
}

func (s *AuthService) auditStop(ctx context.Context, sess domainauth.ImpersonationSession, now time.Time, reason string) {
	duration := now.Sub(sess.StartTime)
	s.guard.Record(ctx, domainauth.AuditEntry{
		SessionID: sess.SessionID,
		Action:    domainauth.AuditStopImpersonation,
		Timestamp: now,
		Details: map[string]any{
			"original_user_id":     sess.OriginalUser.ID,
			"impersonated_user_id": sess.ImpersonatedUser.ID,
			"duration_seconds":     duration.Seconds(),
			"reason":               reason,
		},
	})
	metrics.EmitImpersonationEnded(s.rt.Metrics, reason, duration)
}

func (s *AuthService) issueFor(state domainauth.AuthState, now time.Time) (domainauth.Credential, error) {
	claims, ok := domainauth.ClaimsFor(state)
	if !ok {
		return domainauth.Credential{}, apperrors.Internal("cannot issue a credential for a logged-out state")
	}
	cred, err := s.issuer.Issue(claims, now)
	if err != nil {
		return domainauth.Credential{}, apperrors.Wrap(err, apperrors.ErrCodeInternal, "issue credential")
	}
	return cred, nil
}

// commitLocked persists next, then swaps it in. Storage failures are logged and
// counted; the in-memory state stays authoritative. Callers hold commitMu.
func (s *AuthService) commitLocked(ctx context.Context, next domainauth.AuthState, cred *domainauth.Credential) commitResult {
	next = next.Normalize()
	token := ""
	if cred != nil {
		token = cred.Token
	}
	if err := s.store.Save(ctx, next, token); err != nil {
		s.rt.Logger.WarnContext(ctx, "persist auth state failed",
			"status", string(next.Status()),
			"error", err,
		)
		metrics.EmitPersistenceError(s.rt.Metrics, "save", err)
	}

	s.stateMu.Lock()
	s.state = next.Clone()
	if cred != nil {
		c := *cred
		s.cred = &c
	} else {
		s.cred = nil
	}
	s.seq++
	seq := s.seq
	s.stateMu.Unlock()

	metrics.SetImpersonationActive(s.rt.Metrics, next.Impersonation != nil)
	return commitResult{seq: seq, state: next.Clone()}
}

// publish hands committed snapshots to listeners in commit order. Snapshots
// older than one already published are dropped.
func (s *AuthService) publish(results ...commitResult) {
	if len(results) == 0 {
		return
	}
	s.pubMu.Lock()
	defer s.pubMu.Unlock()

	s.listenersMu.Lock()
	subs := make([]subscription, len(s.listeners))
	copy(subs, s.listeners)
	s.listenersMu.Unlock()

	for _, c := range results {
		if c.seq <= s.published {
			continue
		}
		s.published = c.seq
		for _, sub := range subs {
			s.notify(sub, c.state.Clone())
		}
	}
}

func (s *AuthService) notify(sub subscription, state domainauth.AuthState) {
	defer func() {
		if r := recover(); r != nil {
			s.rt.Logger.Error("auth listener panicked", "subscription", sub.id, "panic", r)
		}
	}()
	sub.fn(state)
}

// currentToken returns the in-memory credential, which stays authoritative after a
// failed write. Storage is consulted only when memory holds none.
func (s *AuthService) currentToken(ctx context.Context) string {
	if cred, ok := s.Credential(); ok && cred.Token != "" {
		return cred.Token
	}
	token, ok, err := s.store.Tokens().Read(ctx)
	if err != nil {
		s.rt.Logger.WarnContext(ctx, "read stored credential failed", "error", err)
		metrics.EmitPersistenceError(s.rt.Metrics, "read_token", err)
	}
	if ok {
		return token
	}
	return ""
}

// saveRateWindows persists the start windows. Failures are logged and counted.
func (s *AuthService) saveRateWindows(ctx context.Context) {
	if err := s.store.SaveRateWindows(ctx, s.guard.RateWindows()); err != nil {
		s.rt.Logger.WarnContext(ctx, "save impersonation rate windows failed", "error", err)
		metrics.EmitPersistenceError(s.rt.Metrics, "save_rate_windows", err)
	}
}

// effectiveAt derives the acting identity, ignoring a session past its maximum duration.
func (s *AuthService) effectiveAt(state domainauth.AuthState, now time.Time) (domainauth.Identity, bool) {
	if imp := state.Impersonation; imp != nil && s.guard.Expired(*imp, now) {
		return state.TruePrincipal()
	}
	return domainauth.EffectiveUser(state)
}

func (s *AuthService) observe(op string, start time.Time, err error) {
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
		switch apperrors.GetCode(err) {
		case apperrors.ErrCodeAuthentication, apperrors.ErrCodeAuthorization, apperrors.ErrCodeRateLimited,
			apperrors.ErrCodeNotFound, apperrors.ErrCodeValidation, apperrors.ErrCodeSessionExpired:
			result = metrics.ResultDenied
		}
	}
	s.observeResult(op, result, start, err)
}

func (s *AuthService) observeResult(op, result string, start time.Time, err error) {
	var d time.Duration
	if !start.IsZero() {
		d = time.Since(start)
	}
	metrics.EmitAuthOperation(s.rt.Metrics, metrics.AuthMetric{
		Operation: op,
		Result:    result,
		Reason:    apperrors.GetReason(err),
		Duration:  d,
		Err:       err,
	})
}
