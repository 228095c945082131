package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xmlangel/testcasecraft-sub009/internal/models"
	"github.com/xmlangel/testcasecraft-sub009/internal/syncerr"
)

func TestCredentialResolver_Resolve(t *testing.T) {
	db := newTestDB(t)
	enc := newTestEncryptor(t)
	cfg := seedConnection(t, db, enc, connectionSeed{
		UserID:    7,
		ServerURL: "jira.example.com/",
		Username:  "tester@example.com",
		Token:     "user-7-token",
		Active:    true,
	})

	r := NewCredentialResolver(db, enc, time.Minute)
	conn, err := r.Resolve(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, cfg.ID, conn.ConfigID)
	assert.Equal(t, "https://jira.example.com", conn.ServerURL)
	assert.Equal(t, "tester@example.com", conn.Username)
	assert.Equal(t, "user-7-token", conn.Token)
}

func TestCredentialResolver_MissingConfig(t *testing.T) {
	db := newTestDB(t)
	enc := newTestEncryptor(t)
	r := NewCredentialResolver(db, enc, time.Minute)

	_, err := r.Resolve(context.Background(), 0)
	assert.ErrorIs(t, err, syncerr.ConfigMissing)

	_, err = r.Resolve(context.Background(), 42)
	assert.ErrorIs(t, err, syncerr.ConfigMissing)
}

func TestCredentialResolver_NeverBorrowsOtherConfigs(t *testing.T) {
	db := newTestDB(t)
	enc := newTestEncryptor(t)
	seedConnection(t, db, enc, connectionSeed{UserID: 1, ServerURL: "https://a.example.com", Username: "a", Token: "a", Active: true})
	seedConnection(t, db, enc, connectionSeed{UserID: 99, ServerURL: "https://shared.example.com", Username: "bot", Token: "s", Active: true, Shared: true})
	seedConnection(t, db, enc, connectionSeed{UserID: 2, ServerURL: "https://b.example.com", Username: "b", Token: "b", Active: false})

	r := NewCredentialResolver(db, enc, time.Minute)

	// user 2 only has an inactive config; neither user 1's nor the shared one is used
	_, err := r.Resolve(context.Background(), 2)
	require.Error(t, err)
	assert.Equal(t, syncerr.KindConfigMissing, syncerr.KindOf(err))

	shared, err := r.ResolveShared(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "bot", shared.Username)
}

func TestCredentialResolver_NoSharedConfig(t *testing.T) {
	db := newTestDB(t)
	enc := newTestEncryptor(t)
	seedConnection(t, db, enc, connectionSeed{UserID: 1, ServerURL: "https://a.example.com", Username: "a", Token: "a", Active: true})

	_, err := NewCredentialResolver(db, enc, 0).ResolveShared(context.Background())
	assert.ErrorIs(t, err, syncerr.ConfigMissing)
}

func TestCredentialResolver_PrefersMostRecentActive(t *testing.T) {
	db := newTestDB(t)
	enc := newTestEncryptor(t)
	old := seedConnection(t, db, enc, connectionSeed{UserID: 3, ServerURL: "https://old.example.com", Username: "old", Token: "t", Active: true})
	require.NoError(t, db.Model(old).UpdateColumn("updated_at", time.Now().Add(-time.Hour)).Error)
	seedConnection(t, db, enc, connectionSeed{UserID: 3, ServerURL: "https://new.example.com", Username: "new", Token: "t", Active: true})

	conn, err := NewCredentialResolver(db, enc, 0).Resolve(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, "new", conn.Username)
}

func TestCredentialResolver_IncompleteConfig(t *testing.T) {
	db := newTestDB(t)
	enc := newTestEncryptor(t)
	seedConnection(t, db, enc, connectionSeed{UserID: 4, ServerURL: "  ", Username: "x", Token: "t", Active: true})

	_, err := NewCredentialResolver(db, enc, 0).Resolve(context.Background(), 4)
	assert.ErrorIs(t, err, syncerr.ConfigMissing)
}

func TestCredentialResolver_DecryptFailure(t *testing.T) {
	db := newTestDB(t)
	enc := newTestEncryptor(t)
	cfg := seedConnection(t, db, enc, connectionSeed{UserID: 5, ServerURL: "https://a.example.com", Username: "a", Token: "t", Active: true})
	require.NoError(t, db.Model(cfg).UpdateColumn("encrypted_token", "garbage").Error)

	_, err := NewCredentialResolver(db, enc, 0).Resolve(context.Background(), 5)
	assert.ErrorIs(t, err, syncerr.EncryptionError)

	_, err = NewCredentialResolver(db, nil, 0).Resolve(context.Background(), 5)
	assert.ErrorIs(t, err, syncerr.EncryptionError)
}

func TestCredentialResolver_CachesUntilConfigChanges(t *testing.T) {
	db := newTestDB(t)
	enc := newTestEncryptor(t)
	cfg := seedConnection(t, db, enc, connectionSeed{UserID: 6, ServerURL: "https://a.example.com", Username: "a", Token: "first", Active: true})

	r := NewCredentialResolver(db, enc, time.Minute)
	conn, err := r.Resolve(context.Background(), 6)
	require.NoError(t, err)
	assert.Equal(t, "first", conn.Token)

	// Replacing the secret without touching updated_at keeps serving the cache.
	second, err := enc.Encrypt("second")
	require.NoError(t, err)
	require.NoError(t, db.Model(cfg).UpdateColumn("encrypted_token", second).Error)
	conn, err = r.Resolve(context.Background(), 6)
	require.NoError(t, err)
	assert.Equal(t, "first", conn.Token)

	// A regular save bumps updated_at, which changes the cache key.
	require.NoError(t, db.Model(&models.ConnectionConfig{}).Where("id = ?", cfg.ID).
		Updates(map[string]interface{}{"encrypted_token": second, "updated_at": time.Now().Add(time.Second)}).Error)
	conn, err = r.Resolve(context.Background(), 6)
	require.NoError(t, err)
	assert.Equal(t, "second", conn.Token)

	r.Purge()
	conn, err = r.Resolve(context.Background(), 6)
	require.NoError(t, err)
	assert.Equal(t, "second", conn.Token)
}
