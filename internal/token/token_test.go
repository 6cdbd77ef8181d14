package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-signing-secret"

func TestMintAndVerifyRoundTrip(t *testing.T) {
	issuer := NewIssuer(testSecret, time.Hour)
	verifier := NewVerifier(testSecret)

	identity := Identity{
		ID:          "user-42",
		Email:       "a@b.com",
		Username:    "user",
		IsAdmin:     true,
		AccessToken: "upstream-access-token",
	}

	raw, err := issuer.Mint(identity)
	require.NoError(t, err)
	require.NotEmpty(t, raw)

	got, err := verifier.Verify(raw)
	require.NoError(t, err)
	assert.Equal(t, &identity, got)
}

func TestMintWithoutSecretFailsClosed(t *testing.T) {
	issuer := NewIssuer("", time.Hour)
	_, err := issuer.Mint(Identity{ID: "user-1"})
	assert.ErrorIs(t, err, ErrNoSigningSecret)
}

func TestVerifyWithoutSecretFailsClosed(t *testing.T) {
	issuer := NewIssuer(testSecret, time.Hour)
	raw, err := issuer.Mint(Identity{ID: "user-1"})
	require.NoError(t, err)

	_, err = NewVerifier("").Verify(raw)
	assert.ErrorIs(t, err, ErrNoSigningSecret)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	issuer := NewIssuer(testSecret, time.Hour)
	raw, err := issuer.Mint(Identity{ID: "user-1"})
	require.NoError(t, err)

	_, err = NewVerifier("another-secret").Verify(raw)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsGarbage(t *testing.T) {
	_, err := NewVerifier(testSecret).Verify("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestExpiryBoundary(t *testing.T) {
	minted := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	epsilon := time.Second

	issuer := NewIssuer(testSecret, time.Hour).WithClock(func() time.Time { return minted })
	raw, err := issuer.Mint(Identity{ID: "user-1", Email: "a@b.com"})
	require.NoError(t, err)

	justBefore := NewVerifier(testSecret).WithClock(func() time.Time {
		return minted.Add(time.Hour - epsilon)
	})
	_, err = justBefore.Verify(raw)
	assert.NoError(t, err, "token at mint+TTL-epsilon should be valid")

	justAfter := NewVerifier(testSecret).WithClock(func() time.Time {
		return minted.Add(time.Hour + epsilon)
	})
	_, err = justAfter.Verify(raw)
	assert.ErrorIs(t, err, ErrInvalidToken, "token at mint+TTL+epsilon should be rejected")
}

func TestAccessTokenIsOpaque(t *testing.T) {
	issuer := NewIssuer(testSecret, time.Hour)

	// Anything goes in the embedded provider token, including non-JWT data.
	raw, err := issuer.Mint(Identity{ID: "user-1", AccessToken: "gho_\x00binary?&="})
	require.NoError(t, err)

	got, err := NewVerifier(testSecret).Verify(raw)
	require.NoError(t, err)
	assert.Equal(t, "gho_\x00binary?&=", got.AccessToken)
}
