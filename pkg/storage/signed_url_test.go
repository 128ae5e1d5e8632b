package storage

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignedURLSignerRoundTrip(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Hour)
	token, expiresAt, err := signer.Generate("payment-1", "receipts/payment-1.pdf")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	id, path, parsedExpiry, err := signer.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "payment-1", id)
	assert.Equal(t, "receipts/payment-1.pdf", path)
	assert.True(t, expiresAt.Equal(parsedExpiry))
}

func TestSignedURLSignerRejectsTamperedToken(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Hour)
	token, _, err := signer.Generate("payment-1", "receipts/payment-1.pdf")
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	parts[0] = "payment-2"
	_, _, _, err = signer.Parse(strings.Join(parts, "."))
	assert.ErrorIs(t, err, ErrTokenInvalid)

	other := NewSignedURLSigner("other", time.Hour)
	_, _, _, err = other.Parse(token)
	assert.ErrorIs(t, err, ErrTokenInvalid)

	_, _, _, err = signer.Parse("not-a-token")
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestSignedURLSignerScopesDoNotCross(t *testing.T) {
	base := NewSignedURLSigner("secret", time.Hour)
	receipts, exports := base.Scoped("receipt"), base.Scoped("export")

	token, _, err := receipts.Generate("payment-1", "recibo.pdf")
	require.NoError(t, err)

	_, _, _, err = exports.Parse(token)
	assert.ErrorIs(t, err, ErrTokenInvalid)
	_, _, _, err = receipts.Parse(token)
	assert.NoError(t, err)
}

func TestSignedURLSignerExpired(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Hour)
	issued := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	signer.now = func() time.Time { return issued }
	token, _, err := signer.Generate("payment-1", "receipts/payment-1.pdf")
	require.NoError(t, err)

	signer.now = func() time.Time { return issued.Add(2 * time.Hour) }
	_, _, _, err = signer.Parse(token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestSignedURLSignerRequiresSecret(t *testing.T) {
	signer := NewSignedURLSigner("", time.Hour)
	_, _, err := signer.Generate("payment-1", "x.pdf")
	require.Error(t, err)

	_, _, err = NewSignedURLSigner("secret", time.Hour).Generate("a.b", "x.pdf")
	require.Error(t, err)
}
