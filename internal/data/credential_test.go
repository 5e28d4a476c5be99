package data

import (
	"context"
	"testing"
	"time"

	"CloudRelay/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptrTime(t time.Time) *time.Time { return &t }

func seedCredential(t *testing.T, repo *CredentialRepo, cred *Credential) *Credential {
	t.Helper()
	if cred.Status == "" {
		cred.Status = CredentialActive
	}
	require.NoError(t, repo.db.Create(cred).Error)
	return cred
}

func TestCredentialRepo_GetCredential(t *testing.T) {
	repo := NewCredentialRepo(newTestDB(t), log.DefaultLogger)
	ctx := context.Background()

	seeded := seedCredential(t, repo, &Credential{
		PrincipalID:           42,
		Provider:              model.ProviderDropbox,
		AccessTokenEncrypted:  "at",
		RefreshTokenEncrypted: "rt",
	})

	got, err := repo.GetCredential(ctx, 42, model.ProviderDropbox)
	require.NoError(t, err)
	assert.Equal(t, seeded.ID, got.ID)
	assert.Equal(t, model.ProviderDropbox, got.Provider)
	assert.Equal(t, model.ErrorKind(""), got.LastErrorKind)

	_, err = repo.GetCredential(ctx, 42, model.ProviderOneDrive)
	require.Error(t, err)
	assert.True(t, IsCredentialNotFound(err))
}

func TestCredentialRepo_ListExpiringCredentials(t *testing.T) {
	repo := NewCredentialRepo(newTestDB(t), log.DefaultLogger)
	ctx := context.Background()
	now := time.Now().UTC()

	later := seedCredential(t, repo, &Credential{PrincipalID: 1, Provider: model.ProviderDropbox, RefreshTokenEncrypted: "rt", ExpiresAt: ptrTime(now.Add(50 * time.Minute))})
	sooner := seedCredential(t, repo, &Credential{PrincipalID: 2, Provider: model.ProviderDropbox, RefreshTokenEncrypted: "rt", ExpiresAt: ptrTime(now.Add(10 * time.Minute))})
	seedCredential(t, repo, &Credential{PrincipalID: 3, Provider: model.ProviderDropbox, RefreshTokenEncrypted: "rt", ExpiresAt: ptrTime(now.Add(3 * time.Hour))})
	seedCredential(t, repo, &Credential{PrincipalID: 4, Provider: model.ProviderDropbox, RefreshTokenEncrypted: "rt", ExpiresAt: ptrTime(now.Add(5 * time.Minute)), Status: CredentialRevoked})
	seedCredential(t, repo, &Credential{PrincipalID: 5, Provider: model.ProviderDropbox, RefreshTokenEncrypted: "rt"})

	creds, err := repo.ListExpiringCredentials(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, creds, 2)
	assert.Equal(t, sooner.ID, creds[0].ID)
	assert.Equal(t, later.ID, creds[1].ID)
}

func TestCredentialRepo_UpdateTokens(t *testing.T) {
	repo := NewCredentialRepo(newTestDB(t), log.DefaultLogger)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	cred := seedCredential(t, repo, &Credential{
		PrincipalID:           7,
		Provider:              model.ProviderGoogleDrive,
		AccessTokenEncrypted:  "old",
		RefreshTokenEncrypted: "keep-me",
		LastErrorKind:         model.ErrorKindTokenExpired,
		ConsecutiveFailures:   4,
	})

	err := repo.UpdateTokens(ctx, cred.ID, model.TokenGrant{AccessToken: "new", ExpiresIn: time.Hour}, now)
	require.NoError(t, err)

	got, err := repo.GetCredential(ctx, 7, model.ProviderGoogleDrive)
	require.NoError(t, err)
	assert.Equal(t, "new", got.AccessTokenEncrypted)
	assert.Equal(t, "keep-me", got.RefreshTokenEncrypted)
	assert.Equal(t, model.ErrorKind(""), got.LastErrorKind)
	assert.Equal(t, int64(0), got.ConsecutiveFailures)
	require.NotNil(t, got.ExpiresAt)
	assert.WithinDuration(t, now.Add(time.Hour), *got.ExpiresAt, time.Second)
	assert.True(t, got.ValidFor(now, 5*time.Minute))

	err = repo.UpdateTokens(ctx, 9999, model.TokenGrant{AccessToken: "x"}, now)
	assert.True(t, IsCredentialNotFound(err))
}

func TestCredentialRepo_RecordError(t *testing.T) {
	repo := NewCredentialRepo(newTestDB(t), log.DefaultLogger)
	ctx := context.Background()

	cred := seedCredential(t, repo, &Credential{PrincipalID: 8, Provider: model.ProviderOneDrive, RefreshTokenEncrypted: "rt"})

	require.NoError(t, repo.RecordError(ctx, cred.ID, model.ErrorKindNetworkError, "dial tcp: refused"))
	got, err := repo.GetCredential(ctx, 8, model.ProviderOneDrive)
	require.NoError(t, err)
	assert.Equal(t, model.ErrorKindNetworkError, got.LastErrorKind)
	assert.Equal(t, CredentialActive, got.Status)
	assert.Equal(t, int64(1), got.ConsecutiveFailures)

	require.NoError(t, repo.RecordError(ctx, cred.ID, model.ErrorKindInvalidCredentials, "invalid_grant"))
	got, err = repo.GetCredential(ctx, 8, model.ProviderOneDrive)
	require.NoError(t, err)
	assert.Equal(t, CredentialError, got.Status)
	assert.Equal(t, int64(2), got.ConsecutiveFailures)
}

func TestCredential_ValidFor(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name     string
		cred     Credential
		expected bool
	}{
		{"no expiry with token", Credential{AccessTokenEncrypted: "at"}, true},
		{"no expiry without token", Credential{}, false},
		{"well ahead", Credential{ExpiresAt: ptrTime(now.Add(time.Hour))}, true},
		{"inside margin", Credential{ExpiresAt: ptrTime(now.Add(2 * time.Minute))}, false},
		{"expired", Credential{ExpiresAt: ptrTime(now.Add(-time.Minute))}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.cred.ValidFor(now, 5*time.Minute))
		})
	}
}
