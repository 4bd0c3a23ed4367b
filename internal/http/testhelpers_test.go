package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/target/rolefusion/internal/adapters/auditlog"
	"github.com/target/rolefusion/internal/adapters/directory"
	"github.com/target/rolefusion/internal/adapters/jwtcred"
	"github.com/target/rolefusion/internal/adapters/memstore"
	"github.com/target/rolefusion/internal/clock"
	"github.com/target/rolefusion/internal/service"
)

var testStart = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

const (
	adminEmail = "admin@example.com"
	userEmail  = "user@example.com"
	adminID    = "user-1"
	managerID  = "user-2"
	userID     = "user-3"
)

type apiFixture struct {
	facade  *service.AuthFacade
	clock   *clock.Fixed
	issuer  *jwtcred.Issuer
	handler http.Handler
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newAPIFixture(t *testing.T, policy service.ImpersonationPolicy) *apiFixture {
	t.Helper()
	dir, err := directory.NewDemo(directory.Options{HashCost: bcrypt.MinCost})
	require.NoError(t, err)
	iss, err := jwtcred.New(jwtcred.Options{Secret: []byte("http-test-secret"), Issuer: "rolefusion-test"})
	require.NoError(t, err)
	clk := clock.NewFixed(testStart)

	rt := service.Runtime{Clock: clk, Logger: discardLogger()}
	guard := service.NewImpersonationGuard(service.ImpersonationGuardOptions{
		Policy:  policy,
		Audit:   auditlog.New(0),
		Runtime: rt,
	})
	svc := service.NewAuthService(service.AuthServiceOptions{
		Deps: service.AuthDeps{
			Directory: dir,
			Issuer:    iss,
			Storage:   memstore.New(),
			Guard:     guard,
		},
		Runtime: rt,
	})
	facade := service.NewAuthFacade(svc, nil)

	handler := NewRouter(RouterServices{
		Facade: facade,
		Tokens: &TokenHandlers{
			Issuer:  iss,
			MaxAge:  24 * time.Hour,
			Runtime: TokenRuntime{Clock: clk, Logger: discardLogger()},
		},
		Clock:  clk,
		Logger: discardLogger(),
	})
	return &apiFixture{facade: facade, clock: clk, issuer: iss, handler: handler}
}

func (f *apiFixture) svc() *service.AuthService { return f.facade.Service() }

func (f *apiFixture) login(t *testing.T, email string) {
	t.Helper()
	_, err := f.svc().Login(context.Background(), email, directory.DemoPassword)
	require.NoError(t, err)
}

// do sends a request carrying the session's current bearer credential, as the
// logged-in client would.
func (f *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	authorization := ""
	if cred, ok := f.svc().Credential(); ok {
		authorization = "Bearer " + cred.Token
	}
	return f.doWith(t, method, path, authorization, body)
}

// doWith sends a request with the given Authorization header; empty sends none.
func (f *apiFixture) doWith(t *testing.T, method, path, authorization string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}
