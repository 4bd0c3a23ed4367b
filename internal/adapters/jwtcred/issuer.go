package jwtcred

// Package jwtcred signs and verifies bearer credentials as HS256 JWTs.

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	domainauth "github.com/target/rolefusion/internal/domain/auth"
)

// DefaultTTL is used when Options.TTL is zero.
const DefaultTTL = time.Hour

var (
	// ErrInvalidToken is returned for tokens that fail signature, issuer or subject checks.
	ErrInvalidToken = errors.New("invalid credential token")
	errNoSecret     = errors.New("jwtcred: signing secret is required")
)

type tokenClaims struct {
	ActingAs string `json:"act,omitempty"`
	Session  string `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

// Options configures an Issuer.
type Options struct {
	Secret []byte
	Issuer string
	TTL    time.Duration
}

// Issuer implements ports.CredentialIssuer.
type Issuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	parser *jwt.Parser
}

// New creates an Issuer.
func New(opts Options) (*Issuer, error) {
	if len(opts.Secret) == 0 {
		return nil, errNoSecret
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Issuer{
		secret: opts.Secret,
		issuer: opts.Issuer,
		ttl:    ttl,
		// Expiry is judged by the caller, so registered-claim validation is off.
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithoutClaimsValidation(),
		),
	}, nil
}

// TTL returns the lifetime given to issued credentials.
func (i *Issuer) TTL() time.Duration { return i.ttl }

// Issue signs claims. TokenID and lifetimes are filled in from now.
func (i *Issuer) Issue(claims domainauth.Claims, now time.Time) (domainauth.Credential, error) {
	if claims.SubjectID == "" {
		return domainauth.Credential{}, errors.New("issue credential: subject is required")
	}
	issued := now.UTC().Truncate(time.Second)
	expires := issued.Add(i.ttl)
	jti := claims.TokenID
	if jti == "" {
		jti = uuid.NewString()
	}

	tc := tokenClaims{
		ActingAs: claims.ActingAsID,
		Session:  claims.SessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   claims.SubjectID,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, tc).SignedString(i.secret)
	if err != nil {
		return domainauth.Credential{}, fmt.Errorf("sign credential: %w", err)
	}
	return domainauth.Credential{Token: signed, IssuedAt: issued, ExpiresAt: expires}, nil
}

// Parse verifies the signature and issuer and returns the decoded claims.
// Expired tokens decode successfully.
func (i *Issuer) Parse(token string) (domainauth.Claims, error) {
	var tc tokenClaims
	parsed, err := i.parser.ParseWithClaims(token, &tc, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return i.secret, nil
	})
	if err != nil {
		return domainauth.Claims{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return domainauth.Claims{}, ErrInvalidToken
	}
	if i.issuer != "" && tc.Issuer != i.issuer {
		return domainauth.Claims{}, fmt.Errorf("%w: issuer %q", ErrInvalidToken, tc.Issuer)
	}
	if tc.Subject == "" || tc.IssuedAt == nil || tc.ExpiresAt == nil {
		return domainauth.Claims{}, fmt.Errorf("%w: missing subject or lifetime", ErrInvalidToken)
	}
	return domainauth.Claims{
		TokenID:    tc.ID,
		SubjectID:  tc.Subject,
		ActingAsID: tc.ActingAs,
		SessionID:  tc.Session,
		IssuedAt:   tc.IssuedAt.UTC(),
		ExpiresAt:  tc.ExpiresAt.UTC(),
	}, nil
}
