package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/rolefusion/internal/adapters/refreshclient"
	domainauth "github.com/target/rolefusion/internal/domain/auth"
	"github.com/target/rolefusion/internal/service"
)

func (f *apiFixture) refreshWith(t *testing.T, authorization string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/token/refresh", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestTokenHandlers_Refresh(t *testing.T) {
	f := newAPIFixture(t, service.ImpersonationPolicy{})
	bound := domainauth.Claims{SubjectID: adminID, ActingAsID: userID, SessionID: "sess-1"}
	cred, err := f.issuer.Issue(bound, f.clock.Now())
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	rec := f.refreshWith(t, "Bearer "+cred.Token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp tokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEqual(t, cred.Token, resp.Token)

	claims, err := f.issuer.Parse(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, bound.SubjectID, claims.SubjectID)
	assert.Equal(t, bound.ActingAsID, claims.ActingAsID)
	assert.Equal(t, bound.SessionID, claims.SessionID)
	assert.Equal(t, f.clock.Now(), claims.IssuedAt)
}

func TestTokenHandlers_Rejects(t *testing.T) {
	f := newAPIFixture(t, service.ImpersonationPolicy{})
	cred, err := f.issuer.Issue(domainauth.Claims{SubjectID: userID}, f.clock.Now())
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		setup  func()
	}{
		{name: "missing header"},
		{name: "wrong scheme", header: "Token " + cred.Token},
		{name: "tampered", header: "Bearer " + cred.Token + "x"},
		{name: "too old", header: "Bearer " + cred.Token, setup: func() { f.clock.Advance(25 * time.Hour) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.setup != nil {
				tt.setup()
			}
			rec := f.refreshWith(t, tt.header)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "invalid_token")
		})
	}
}

func TestTokenHandlers_ServesRefreshClientContract(t *testing.T) {
	f := newAPIFixture(t, service.ImpersonationPolicy{})
	srv := httptest.NewServer(f.handler)
	t.Cleanup(srv.Close)

	client, err := refreshclient.New(refreshclient.Options{Endpoint: srv.URL + "/api/token/refresh"})
	require.NoError(t, err)

	cred, err := f.issuer.Issue(domainauth.Claims{SubjectID: managerID}, f.clock.Now())
	require.NoError(t, err)

	fresh, err := client.Refresh(context.Background(), cred.Token)
	require.NoError(t, err)
	claims, err := f.issuer.Parse(fresh)
	require.NoError(t, err)
	assert.Equal(t, managerID, claims.SubjectID)

	_, err = client.Refresh(context.Background(), "garbage")
	assert.Error(t, err)
}
