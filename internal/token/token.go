// Package token mints and verifies signed service tokens: short-lived HS256
// credentials the session authority issues so that other parties can act as
// the current user against downstream services.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TTL is the fixed service-token lifetime.
const DefaultTTL = time.Hour

var (
	// ErrNoSigningSecret means the shared signing secret is absent. Minting
	// and verification both refuse to proceed without it.
	ErrNoSigningSecret = errors.New("signing secret is not configured")

	// ErrInvalidToken covers bad signatures, malformed tokens and expiry.
	ErrInvalidToken = errors.New("invalid or expired token")
)

// Identity is the verified subject carried by a service token and attached
// to requests by the validation middleware.
type Identity struct {
	ID       string `json:"userId"`
	Email    string `json:"email"`
	Username string `json:"username"`
	IsAdmin  bool   `json:"isAdmin"`

	// AccessToken is the upstream provider token embedded opaquely at mint
	// time. Neither the issuer nor the verifier interprets it.
	AccessToken string `json:"accessToken,omitempty"`
}

type serviceClaims struct {
	jwt.RegisteredClaims
	Email       string `json:"email"`
	Username    string `json:"username,omitempty"`
	Admin       bool   `json:"admin,omitempty"`
	AccessToken string `json:"access_token,omitempty"`
}

// Issuer mints signed service tokens.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer creates an Issuer signing with secret. An empty secret is allowed
// at construction so services without minting duties can still start; Mint
// fails closed.
func NewIssuer(secret string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// WithClock overrides the issuer's clock. Test hook.
func (i *Issuer) WithClock(now func() time.Time) *Issuer {
	i.now = now
	return i
}

// Mint signs a service token for the given identity. The identity's
// AccessToken field is carried through as an opaque claim.
func (i *Issuer) Mint(identity Identity) (string, error) {
	if len(i.secret) == 0 {
		return "", ErrNoSigningSecret
	}

	now := i.now()
	claims := serviceClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
		Email:       identity.Email,
		Username:    identity.Username,
		Admin:       identity.IsAdmin,
		AccessToken: identity.AccessToken,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign service token: %w", err)
	}
	return signed, nil
}

// Verifier checks service-token signatures and expiry locally, without a
// round trip to the session authority.
type Verifier struct {
	secret []byte
	now    func() time.Time
}

// NewVerifier creates a Verifier for the shared signing secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret), now: time.Now}
}

// WithClock overrides the verifier's clock. Test hook.
func (v *Verifier) WithClock(now func() time.Time) *Verifier {
	v.now = now
	return v
}

// Verify parses and validates raw. It fails closed: a missing secret, an
// unexpected signing method, a bad signature or an expired token all return
// an error and never a partial identity.
func (v *Verifier) Verify(raw string) (*Identity, error) {
	if len(v.secret) == 0 {
		return nil, ErrNoSigningSecret
	}

	var claims serviceClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	return &Identity{
		ID:          claims.Subject,
		Email:       claims.Email,
		Username:    claims.Username,
		IsAdmin:     claims.Admin,
		AccessToken: claims.AccessToken,
	}, nil
}
