// Package auth supplies bearer tokens for the remote sync API.
package auth

import (
	"context"
	"database/sql"
	stderrors "errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/crypto"
	"github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/db"
	apperrors "github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/errors"
	"github.com/FranPaulCanteBrun/sistema-cotillon-sub000/internal/models"
)

// ErrNotAuthenticated is returned when no usable credential exists.
var ErrNotAuthenticated = apperrors.New(apperrors.ErrAuthentication, "not authenticated")

// Provider returns the token to send with sync requests.
type Provider interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken always returns the same token. An empty token is treated
// as unauthenticated.
type StaticToken string

// Token implements Provider.
func (s StaticToken) Token(context.Context) (string, error) {
	if s == "" {
		return "", ErrNotAuthenticated
	}
	return checkExpiry(string(s), time.Now())
}

// CredentialProvider reads the token stored by Login. Tokens are sealed
// at rest with a key derived from the device id.
type CredentialProvider struct {
	repo *db.Repository
	now  func() time.Time
}

// NewCredentialProvider creates a provider backed by the sync_credentials table.
func NewCredentialProvider(repo *db.Repository) *CredentialProvider {
	return &CredentialProvider{repo: repo, now: time.Now}
}

// Token implements Provider.
func (p *CredentialProvider) Token(ctx context.Context) (string, error) {
	cred, err := p.repo.GetSyncCredential(ctx)
	if stderrors.Is(err, sql.ErrNoRows) {
		return "", ErrNotAuthenticated
	}
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrDatabase, "failed to read credential", err)
	}
	key, err := p.repo.EnsureDeviceID(ctx)
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrDatabase, "failed to load device id", err)
	}
	token, err := crypto.OpenToken(cred.Token, key)
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrAuthentication, "stored credential cannot be decrypted, log in again", err)
	}
	return checkExpiry(token, p.now())
}

// Login stores a token for endpoint, replacing any previous credential.
func (p *CredentialProvider) Login(ctx context.Context, endpoint, token string) (*models.SyncCredential, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, apperrors.Validation("token is required")
	}
	if _, err := checkExpiry(token, p.now()); err != nil {
		return nil, err
	}

	key, err := p.repo.EnsureDeviceID(ctx)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to load device id", err)
	}
	sealed, err := crypto.SealToken(token, key)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal, "failed to encrypt token", err)
	}

	cred := &models.SyncCredential{Endpoint: endpoint, Token: sealed}
	if err := p.repo.SaveSyncCredential(ctx, cred); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to save credential", err)
	}
	cred.Token = token
	return cred, nil
}

// Logout removes all stored credentials.
func (p *CredentialProvider) Logout(ctx context.Context) error {
	if err := p.repo.DeleteSyncCredentials(ctx); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to delete credentials", err)
	}
	return nil
}

// checkExpiry rejects JWTs whose exp claim has passed. The signature is
// not verified; the server remains the authority. Opaque tokens pass through.
func checkExpiry(token string, now time.Time) (string, error) {
	if strings.Count(token, ".") != 2 {
		return token, nil
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		// Not a JWT after all; let the server decide.
		return token, nil
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return token, nil
	}
	if !exp.Time.After(now) {
		return "", apperrors.New(apperrors.ErrAuthentication, "token expired at "+exp.Time.UTC().Format(time.RFC3339))
	}
	return token, nil
}
