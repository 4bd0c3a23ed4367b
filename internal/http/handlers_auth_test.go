package httpx

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/rolefusion/internal/adapters/directory"
	"github.com/target/rolefusion/internal/service"
)

func TestAuthHandlers_Login(t *testing.T) {
	tests := []struct {
		name       string
		body       any
		wantStatus int
		wantCode   string
	}{
		{
			name:       "valid credentials",
			body:       map[string]string{"email": adminEmail, "password": directory.DemoPassword},
			wantStatus: http.StatusOK,
		},
		{
			name:       "wrong password",
			body:       map[string]string{"email": adminEmail, "password": "nope"},
			wantStatus: http.StatusUnauthorized,
			wantCode:   "invalid_credentials",
		},
		{
			name:       "unknown email",
			body:       map[string]string{"email": "ghost@example.com", "password": directory.DemoPassword},
			wantStatus: http.StatusUnauthorized,
			wantCode:   "invalid_credentials",
		},
		{
			name:       "unknown field",
			body:       map[string]string{"email": adminEmail, "password": directory.DemoPassword, "role": "ADMIN"},
			wantStatus: http.StatusBadRequest,
			wantCode:   "invalid_json",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAPIFixture(t, service.ImpersonationPolicy{})
			rec := f.do(t, http.MethodPost, "/auth/login", tt.body)
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())

			body := decodeBody(t, rec)
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, body["error"])
				assert.False(t, f.svc().IsAuthenticated())
				return
			}
			assert.Equal(t, true, body["authenticated"])
			assert.Equal(t, "logged_in", body["status"])
			assert.NotEmpty(t, body["token"])
			user, ok := body["user"].(map[string]any)
			require.True(t, ok)
			assert.Equal(t, adminID, user["id"])
		})
	}
}

func TestAuthHandlers_LoginMessagesAreIdentical(t *testing.T) {
	f := newAPIFixture(t, service.ImpersonationPolicy{})
	wrongPassword := decodeBody(t, f.do(t, http.MethodPost, "/auth/login",
		map[string]string{"email": adminEmail, "password": "x"}))
	unknownEmail := decodeBody(t, f.do(t, http.MethodPost, "/auth/login",
		map[string]string{"email": "nobody@example.com", "password": "x"}))

	assert.Equal(t, wrongPassword, unknownEmail)
}

func TestAuthHandlers_StatusAndLogout(t *testing.T) {
	f := newAPIFixture(t, service.ImpersonationPolicy{})

	status := decodeBody(t, f.do(t, http.MethodGet, "/auth/status", nil))
	assert.Equal(t, false, status["authenticated"])
	assert.Equal(t, "logged_out", status["status"])

	f.login(t, userEmail)
	status = decodeBody(t, f.do(t, http.MethodGet, "/auth/status", nil))
	assert.Equal(t, true, status["authenticated"])

	rec := f.do(t, http.MethodPost, "/auth/logout", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", decodeBody(t, rec)["status"])
	assert.False(t, f.svc().IsAuthenticated())

	rec = f.do(t, http.MethodPost, "/auth/logout", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "no session, no credential to present")
}

func TestAuthHandlers_Permissions(t *testing.T) {
	f := newAPIFixture(t, service.ImpersonationPolicy{})

	rec := f.do(t, http.MethodGet, "/auth/permissions", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	f.login(t, userEmail)
	rec = f.do(t, http.MethodGet, "/auth/permissions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	perms, ok := decodeBody(t, rec)["permissions"].([]any)
	require.True(t, ok)
	assert.ElementsMatch(t, []any{"read", "create"}, perms)
}

func TestAuthHandlers_UsersRequiresAdmin(t *testing.T) {
	f := newAPIFixture(t, service.ImpersonationPolicy{})

	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/auth/users", nil).Code)

	f.login(t, userEmail)
	rec := f.do(t, http.MethodGet, "/auth/users", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "insufficient_permissions", decodeBody(t, rec)["error"])

	f.login(t, adminEmail)
	rec = f.do(t, http.MethodGet, "/auth/users", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	users, ok := decodeBody(t, rec)["users"].([]any)
	require.True(t, ok)
	require.Len(t, users, 2)
	for _, u := range users {
		assert.NotEqual(t, adminID, u.(map[string]any)["id"])
	}
}

func TestAuthHandlers_ImpersonationLifecycle(t *testing.T) {
	f := newAPIFixture(t, service.ImpersonationPolicy{})
	f.login(t, adminEmail)

	rec := f.do(t, http.MethodPost, "/auth/impersonation", map[string]string{"user_id": userID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, "impersonating", body["status"])
	effective := body["effective_user"].(map[string]any)
	assert.Equal(t, userID, effective["id"])
	imp := body["impersonation"].(map[string]any)
	sessionID := imp["session_id"].(string)
	require.NotEmpty(t, sessionID)
	assert.Equal(t, "4", rec.Header().Get("X-RateLimit-Remaining"))

	// Role checks bind to the true principal: the admin may still list users.
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/auth/users", nil).Code)

	rec = f.do(t, http.MethodPost, "/auth/impersonation", map[string]string{"user_id": managerID})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "already_impersonating", decodeBody(t, rec)["error"])

	rec = f.do(t, http.MethodPost, "/auth/impersonation/actions", map[string]any{
		"action":  "approve_order",
		"details": map[string]any{"order_id": "o-17"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, decodeBody(t, rec)["recorded"])

	rec = f.do(t, http.MethodDelete, "/auth/impersonation", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "logged_in", decodeBody(t, rec)["status"])

	rec = f.do(t, http.MethodGet, "/auth/impersonation/audit?session_id="+sessionID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decodeBody(t, rec)["entries"].([]any)
	require.Len(t, entries, 3)
	actions := make([]string, 0, len(entries))
	for _, e := range entries {
		actions = append(actions, e.(map[string]any)["action"].(string))
	}
	assert.Equal(t, []string{"start_impersonation", "impersonated_action", "stop_impersonation"}, actions)
}

func TestAuthHandlers_StartImpersonationRejections(t *testing.T) {
	tests := []struct {
		name       string
		email      string
		target     string
		wantStatus int
		wantCode   string
	}{
		{name: "not admin", email: userEmail, target: managerID, wantStatus: http.StatusForbidden, wantCode: "insufficient_permissions"},
		{name: "self", email: adminEmail, target: adminID, wantStatus: http.StatusForbidden, wantCode: "self_impersonation"},
		{name: "unknown target", email: adminEmail, target: "user-99", wantStatus: http.StatusNotFound, wantCode: "not_found"},
		{name: "missing target", email: adminEmail, target: " ", wantStatus: http.StatusBadRequest, wantCode: "validation_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAPIFixture(t, service.ImpersonationPolicy{})
			f.login(t, tt.email)

			rec := f.do(t, http.MethodPost, "/auth/impersonation", map[string]string{"user_id": tt.target})
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			assert.Equal(t, tt.wantCode, decodeBody(t, rec)["error"])
			assert.False(t, f.svc().View().IsImpersonating())
		})
	}
}

func TestAuthHandlers_StartImpersonationRateLimited(t *testing.T) {
	f := newAPIFixture(t, service.ImpersonationPolicy{RateLimit: 2, RateWindow: time.Hour})
	f.login(t, adminEmail)

	for i, want := range []string{"1", "0"} {
		rec := f.do(t, http.MethodPost, "/auth/impersonation", map[string]string{"user_id": userID})
		require.Equal(t, http.StatusOK, rec.Code, "attempt %d", i)
		assert.Equal(t, want, rec.Header().Get("X-RateLimit-Remaining"))
		require.Equal(t, http.StatusOK, f.do(t, http.MethodDelete, "/auth/impersonation", nil).Code)
	}

	f.clock.Advance(10 * time.Minute)
	rec := f.do(t, http.MethodPost, "/auth/impersonation", map[string]string{"user_id": userID})
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate_limited", decodeBody(t, rec)["error"])
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "3000", rec.Header().Get("Retry-After"))

	f.clock.Advance(50 * time.Minute)
	rec = f.do(t, http.MethodPost, "/auth/impersonation", map[string]string{"user_id": userID})
	assert.Equal(t, http.StatusOK, rec.Code, "window resets after an hour")
}

func TestAuthHandlers_RecordActionValidation(t *testing.T) {
	f := newAPIFixture(t, service.ImpersonationPolicy{})
	f.login(t, adminEmail)

	rec := f.do(t, http.MethodPost, "/auth/impersonation/actions", map[string]any{"action": ""})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "validation_error", body["error"])
	assert.Equal(t, "action", body["field"])

	rec = f.do(t, http.MethodPost, "/auth/impersonation/actions", map[string]any{"action": "export"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decodeBody(t, rec)["recorded"], "no-op while not impersonating")
}

func TestAuthHandlers_ExpiredImpersonationEndsOnNextRequest(t *testing.T) {
	f := newAPIFixture(t, service.ImpersonationPolicy{MaxDuration: 30 * time.Minute})
	f.login(t, adminEmail)
	require.Equal(t, http.StatusOK,
		f.do(t, http.MethodPost, "/auth/impersonation", map[string]string{"user_id": userID}).Code)

	f.clock.Advance(31 * time.Minute)
	status := decodeBody(t, f.do(t, http.MethodGet, "/auth/status", nil))
	assert.Equal(t, "logged_in", status["status"])
	assert.Nil(t, status["impersonation"])
}

func TestAuthHandlers_AuditRequiresSessionID(t *testing.T) {
	f := newAPIFixture(t, service.ImpersonationPolicy{})
	f.login(t, adminEmail)

	rec := f.do(t, http.MethodGet, "/auth/impersonation/audit", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/auth/impersonation/audit?session_id=unknown", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody(t, rec)["entries"])
}

func TestAuthHandlers_Refresh(t *testing.T) {
	f := newAPIFixture(t, service.ImpersonationPolicy{})

	rec := f.do(t, http.MethodPost, "/auth/refresh", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "authentication_required", decodeBody(t, rec)["error"])

	f.login(t, userEmail)
	before, _ := f.svc().Credential()
	f.clock.Advance(time.Minute)

	rec = f.do(t, http.MethodPost, "/auth/refresh", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["authenticated"])
	assert.NotEqual(t, before.Token, body["token"])
}

func TestAuthHandlers_Routes(t *testing.T) {
	f := newAPIFixture(t, service.ImpersonationPolicy{})

	rec := f.do(t, http.MethodGet, "/auth/routes/users", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "login", body["decision"])
	assert.Equal(t, service.LoginPath, body["redirect"])

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/auth/routes/login", nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/auth/routes/missing", nil).Code)

	f.login(t, userEmail)
	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodGet, "/auth/routes/users", nil).Code)
	routes := decodeBody(t, f.do(t, http.MethodGet, "/auth/routes", nil))["routes"].([]any)
	for _, r := range routes {
		assert.NotEqual(t, "USERS", r.(map[string]any)["key"])
	}

	f.login(t, adminEmail)
	require.Equal(t, http.StatusOK,
		f.do(t, http.MethodPost, "/auth/impersonation", map[string]string{"user_id": userID}).Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/auth/routes/users", nil).Code,
		"route roles bind to the true principal")
}

func TestAuthHandlers_RequireCurrentBearer(t *testing.T) {
	routes := []struct {
		method string
		path   string
		body   any
	}{
		{method: http.MethodPost, path: "/auth/refresh"},
		{method: http.MethodPost, path: "/auth/logout"},
		{method: http.MethodGet, path: "/auth/permissions"},
		{method: http.MethodGet, path: "/auth/users"},
		{method: http.MethodPost, path: "/auth/impersonation", body: map[string]string{"user_id": userID}},
		{method: http.MethodDelete, path: "/auth/impersonation"},
		{method: http.MethodPost, path: "/auth/impersonation/actions", body: map[string]any{"action": "export"}},
		{method: http.MethodGet, path: "/auth/impersonation/audit?session_id=s-1"},
		{method: http.MethodGet, path: "/auth/events"},
	}
	callers := []struct {
		name          string
		authorization func(t *testing.T, f *apiFixture) string
	}{
		{name: "no bearer", authorization: func(*testing.T, *apiFixture) string { return "" }},
		{name: "wrong bearer", authorization: func(*testing.T, *apiFixture) string { return "Bearer not-the-token" }},
		{name: "basic scheme", authorization: func(t *testing.T, f *apiFixture) string {
			cred, ok := f.svc().Credential()
			require.True(t, ok)
			return "Basic " + cred.Token
		}},
		{name: "superseded bearer", authorization: func(t *testing.T, f *apiFixture) string {
			cred, ok := f.svc().Credential()
			require.True(t, ok)
			f.clock.Advance(time.Minute)
			_, err := f.svc().Refresh(context.Background())
			require.NoError(t, err)
			return "Bearer " + cred.Token
		}},
	}

	for _, route := range routes {
		for _, caller := range callers {
			t.Run(route.method+" "+route.path+"/"+caller.name, func(t *testing.T) {
				f := newAPIFixture(t, service.ImpersonationPolicy{})
				f.login(t, adminEmail)
				authorization := caller.authorization(t, f)
				before := f.svc().Snapshot()

				rec := f.doWith(t, route.method, route.path, authorization, route.body)

				require.Equal(t, http.StatusUnauthorized, rec.Code, rec.Body.String())
				assert.Equal(t, `Bearer realm="rolefusion"`, rec.Header().Get("WWW-Authenticate"))
				body := decodeBody(t, rec)
				assert.Equal(t, "authentication_required", body["error"])
				assert.NotContains(t, body, "token")
				assert.Equal(t, before, f.svc().Snapshot(), "the session is untouched")
			})
		}
	}
}

func TestAuthHandlers_OpenRoutesNeedNoBearer(t *testing.T) {
	f := newAPIFixture(t, service.ImpersonationPolicy{})
	f.login(t, adminEmail)

	rec := f.doWith(t, http.MethodGet, "/auth/status", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decodeBody(t, rec)
	assert.Equal(t, true, status["authenticated"])
	assert.NotContains(t, status, "token")

	assert.Equal(t, http.StatusOK, f.doWith(t, http.MethodGet, "/auth/routes", "", nil).Code)
	assert.Equal(t, http.StatusOK, f.doWith(t, http.MethodGet, "/auth/routes/login", "", nil).Code)

	rec = f.doWith(t, http.MethodPost, "/auth/login", "",
		map[string]string{"email": userEmail, "password": directory.DemoPassword})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decodeBody(t, rec)["token"])
}

func TestAuthHandlers_ExpiredImpersonationHandsBackAdminCredential(t *testing.T) {
	f := newAPIFixture(t, service.ImpersonationPolicy{MaxDuration: 30 * time.Minute})
	f.login(t, adminEmail)
	require.Equal(t, http.StatusOK,
		f.do(t, http.MethodPost, "/auth/impersonation", map[string]string{"user_id": userID}).Code)
	impersonating, ok := f.svc().Credential()
	require.True(t, ok)

	f.clock.Advance(31 * time.Minute)
	rec := f.doWith(t, http.MethodGet, "/auth/users", "Bearer "+impersonating.Token, nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	admin, ok := f.svc().Credential()
	require.True(t, ok)
	assert.NotEqual(t, impersonating.Token, admin.Token)
	assert.Equal(t, admin.Token, rec.Header().Get(CredentialHeader))
	assert.False(t, f.svc().View().IsImpersonating())

	rec = f.doWith(t, http.MethodGet, "/auth/users", "Bearer "+impersonating.Token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "the impersonation credential is retired")
}
