package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/db"
	apperrors "github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/errors"
	"github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/models"
)

func signed(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "device",
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	s, err := tok.SignedString([]byte("secret"))
	require.NoError(t, err)
	return s
}

func newProvider(t *testing.T) *CredentialProvider {
	t.Helper()
	database, err := db.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, database.Migrate())
	return NewCredentialProvider(db.NewRepository(database.DB))
}

func TestStaticToken(t *testing.T) {
	ctx := context.Background()

	_, err := StaticToken("").Token(ctx)
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	tok, err := StaticToken("opaque").Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "opaque", tok)

	_, err = StaticToken(signed(t, time.Now().Add(-time.Minute))).Token(ctx)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrAuthentication))

	valid := signed(t, time.Now().Add(time.Hour))
	tok, err = StaticToken(valid).Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, valid, tok)
}

func TestCredentialProvider_LoginLogout(t *testing.T) {
	ctx := context.Background()
	p := newProvider(t)

	_, err := p.Token(ctx)
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	cred, err := p.Login(ctx, "https://api.example.com", " tok-1 ")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", cred.Token)

	tok, err := p.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)

	stored, err := p.repo.GetSyncCredential(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, "tok-1", stored.Token)
	assert.Equal(t, "https://api.example.com", stored.Endpoint)

	require.NoError(t, p.Logout(ctx))
	_, err = p.Token(ctx)
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestCredentialProvider_RejectsExpired(t *testing.T) {
	ctx := context.Background()
	p := newProvider(t)

	_, err := p.Login(ctx, "https://api.example.com", "")
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))

	_, err = p.Login(ctx, "https://api.example.com", signed(t, time.Now().Add(-time.Hour)))
	assert.True(t, apperrors.Is(err, apperrors.ErrAuthentication))

	soon := time.Now().Add(time.Hour)
	_, err = p.Login(ctx, "https://api.example.com", signed(t, soon))
	require.NoError(t, err)

	p.now = func() time.Time { return soon.Add(time.Minute) }
	_, err = p.Token(ctx)
	assert.True(t, apperrors.Is(err, apperrors.ErrAuthentication))
}

func TestCredentialProvider_UnreadableToken(t *testing.T) {
	ctx := context.Background()
	p := newProvider(t)

	require.NoError(t, p.repo.SaveSyncCredential(ctx, &models.SyncCredential{
		Endpoint: "https://api.example.com",
		Token:    "plaintext-from-elsewhere",
	}))

	_, err := p.Token(ctx)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrAuthentication))
}
