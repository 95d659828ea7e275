package db

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	KeyTypeProduction  = "production"
	KeyTypeDevelopment = "development"
)

// APIKey authorizes a client to report and read errors for one project.
// Keys are never deleted; revocation clears IsActive.
type APIKey struct {
	ID string `gorm:"primaryKey;size:36"`

	CreatedAt time.Time

	// ProjectID is the only project this key may act on.
	ProjectID string `gorm:"index;size:36;not null"`

	// KeyType is production or development.
	KeyType string `gorm:"size:16;not null"`

	// KeyValue is the secret sent in X-API-Key (stored as-is, unique).
	KeyValue string `gorm:"uniqueIndex;size:255;not null"`

	IsActive bool `gorm:"not null"`

	// LastUsedAt is refreshed on every successful verification, best effort.
	LastUsedAt *time.Time
}

func (k *APIKey) BeforeCreate(*gorm.DB) error {
	if k.ID == "" {
		k.ID = uuid.NewString()
	}
	return nil
}

// ValidKeyType reports whether t is production or development.
func ValidKeyType(t string) bool {
	return t == KeyTypeProduction || t == KeyTypeDevelopment
}

func generateKeyValue() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "tiq_" + base64.RawURLEncoding.EncodeToString(b), nil
}

// KeyRepository is the credential store backed by the api_keys table.
type KeyRepository struct {
	db *gorm.DB
}

func NewKeyRepository(db *gorm.DB) *KeyRepository {
	return &KeyRepository{db: db}
}

// FindActive returns the active key with the given value, or ErrNotFound.
// Unknown and revoked keys are indistinguishable.
func (r *KeyRepository) FindActive(ctx context.Context, value string) (*APIKey, error) {
	var key APIKey
	err := r.db.WithContext(ctx).
		Where("key_value = ? AND is_active = ?", value, true).
		First(&key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "find api key")
	}
	return &key, nil
}

// TouchLastUsed stamps last_used_at on the key with the given value.
func (r *KeyRepository) TouchLastUsed(ctx context.Context, value string, at time.Time) error {
	err := r.db.WithContext(ctx).
		Model(&APIKey{}).
		Where("key_value = ?", value).
		Update("last_used_at", at).Error
	return errors.Wrap(err, "touch api key")
}

// Create generates a new active key of the given type for projectID.
func (r *KeyRepository) Create(ctx context.Context, projectID, keyType string) (*APIKey, error) {
	value, err := generateKeyValue()
	if err != nil {
		return nil, errors.Wrap(err, "generate api key")
	}
	key := &APIKey{
		ProjectID: projectID,
		KeyType:   keyType,
		KeyValue:  value,
		IsActive:  true,
	}
	if err := r.db.WithContext(ctx).Create(key).Error; err != nil {
		return nil, errors.Wrap(err, "create api key")
	}
	return key, nil
}

// ListByProject returns every key of a project, newest first, revoked included.
func (r *KeyRepository) ListByProject(ctx context.Context, projectID string) ([]APIKey, error) {
	var keys []APIKey
	err := r.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("created_at DESC").
		Find(&keys).Error
	if err != nil {
		return nil, errors.Wrap(err, "list api keys")
	}
	return keys, nil
}

// Revoke deactivates the key with the given id. Revoking twice is a no-op.
func (r *KeyRepository) Revoke(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).
		Model(&APIKey{}).
		Where("id = ?", id).
		Update("is_active", false)
	if res.Error != nil {
		return errors.Wrap(res.Error, "revoke api key")
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
