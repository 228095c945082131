package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/xmlangel/testcasecraft-sub009/internal/models"
	"github.com/xmlangel/testcasecraft-sub009/internal/services/tracker"
	"github.com/xmlangel/testcasecraft-sub009/internal/syncerr"
	"github.com/xmlangel/testcasecraft-sub009/pkg/logger"
	"gorm.io/gorm"
)

const credentialCacheSize = 256

// CredentialResolver finds the active tracker connection for a user and
// decrypts its secret.
type CredentialResolver struct {
	db        *gorm.DB
	encryptor *Encryptor
	// decrypted tokens keyed by config id and last update; nil when disabled
	tokens *expirable.LRU[string, string]
}

// NewCredentialResolver builds a resolver. A ttl of zero disables caching of
// decrypted secrets.
func NewCredentialResolver(db *gorm.DB, encryptor *Encryptor, ttl time.Duration) *CredentialResolver {
	r := &CredentialResolver{db: db, encryptor: encryptor}
	if ttl > 0 {
		r.tokens = expirable.NewLRU[string, string](credentialCacheSize, nil, ttl)
	}
	return r
}

// Resolve returns the acting user's active connection. It never falls back to
// another user's or the shared config.
func (r *CredentialResolver) Resolve(ctx context.Context, userID uint) (tracker.Connection, error) {
	const op = "credential.Resolve"
	if userID == 0 {
		return tracker.Connection{}, syncerr.New(syncerr.KindConfigMissing, op, "no acting user")
	}

	var cfg models.ConnectionConfig
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND is_active = ?", userID, true).
		Order("updated_at DESC").
		First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		logger.Warn().Uint("user_id", userID).Msg("[Credential] No active tracker config for user")
		return tracker.Connection{}, syncerr.Newf(syncerr.KindConfigMissing, op, "no active tracker config for user %d", userID)
	}
	if err != nil {
		return tracker.Connection{}, fmt.Errorf("%s: load config: %w", op, err)
	}
	return r.connection(&cfg)
}

// ResolveShared returns the designated shared connection. Call sites must opt
// in explicitly; Resolve never uses it.
func (r *CredentialResolver) ResolveShared(ctx context.Context) (tracker.Connection, error) {
	const op = "credential.ResolveShared"
	var cfg models.ConnectionConfig
	err := r.db.WithContext(ctx).
		Where("is_shared = ? AND is_active = ?", true, true).
		Order("updated_at DESC").
		First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return tracker.Connection{}, syncerr.New(syncerr.KindConfigMissing, op, "no shared tracker config")
	}
	if err != nil {
		return tracker.Connection{}, fmt.Errorf("%s: load config: %w", op, err)
	}
	return r.connection(&cfg)
}

func (r *CredentialResolver) connection(cfg *models.ConnectionConfig) (tracker.Connection, error) {
	const op = "credential.decrypt"
	if tracker.NormalizeServerURL(cfg.ServerURL) == "" || cfg.Username == "" {
		return tracker.Connection{}, syncerr.Newf(syncerr.KindConfigMissing, op, "tracker config %d is incomplete", cfg.ID)
	}

	cacheKey := fmt.Sprintf("%d:%d", cfg.ID, cfg.UpdatedAt.UnixNano())
	if r.tokens != nil {
		if token, ok := r.tokens.Get(cacheKey); ok {
			return r.toConnection(cfg, token), nil
		}
	}

	if r.encryptor == nil {
		return tracker.Connection{}, syncerr.New(syncerr.KindEncryptionError, op, "encryption key is not configured")
	}
	token, err := r.encryptor.Decrypt(cfg.EncryptedToken)
	if err != nil {
		logger.Error().Err(err).Uint("config_id", cfg.ID).Msg("[Credential] Failed to decrypt tracker secret")
		return tracker.Connection{}, syncerr.Wrap(syncerr.KindEncryptionError, op, err)
	}

	if r.tokens != nil {
		r.tokens.Add(cacheKey, token)
	}
	return r.toConnection(cfg, token), nil
}

func (r *CredentialResolver) toConnection(cfg *models.ConnectionConfig, token string) tracker.Connection {
	return tracker.Connection{
		ConfigID:  cfg.ID,
		ServerURL: tracker.NormalizeServerURL(cfg.ServerURL),
		Username:  cfg.Username,
		Token:     token,
	}
}

// Purge drops every cached secret.
func (r *CredentialResolver) Purge() {
	if r.tokens != nil {
		r.tokens.Purge()
	}
}
