package db

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"traceiq/internal/config"
)

var (
	// ErrNotFound is returned when a lookup by id or key value matches nothing.
	ErrNotFound = errors.New("record not found")
	// ErrInvalidStatus is returned for a status outside open, resolved, ignored.
	ErrInvalidStatus = errors.New("invalid status")
)

// Connect opens a GORM database connection using APP_DATABASE_URL (PostgreSQL URL).
func Connect(cfg *config.Config) (*gorm.DB, error) {
	dsn := strings.TrimSpace(cfg.DatabaseURL)
	if dsn == "" {
		return nil, errors.New("APP_DATABASE_URL is required (PostgreSQL URL)")
	}
	if !strings.HasPrefix(dsn, "postgres://") && !strings.HasPrefix(dsn, "postgresql://") {
		return nil, errors.New("APP_DATABASE_URL must be a postgres:// or postgresql:// URL")
	}

	// PrepareStmt: true prevents the GORM postgres migrator from forcing simple protocol
	// for "SELECT * FROM table LIMIT 1", which would otherwise trigger "insufficient arguments".
	return Open(postgres.Open(dsn), &gorm.Config{PrepareStmt: true})
}

// Open opens a connection with the given dialector and migrates the core tables.
// Timestamps are stored in UTC so bucket boundaries compare correctly.
func Open(dialector gorm.Dialector, gcfg *gorm.Config) (*gorm.DB, error) {
	if gcfg.NowFunc == nil {
		gcfg.NowFunc = func() time.Time { return time.Now().UTC() }
	}
	db, err := gorm.Open(dialector, gcfg)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}

	if err := db.AutoMigrate(&Project{}, &APIKey{}, &ErrorRecord{}, &ErrorBucket{}, &User{}); err != nil {
		return nil, errors.Wrap(err, "migrate")
	}

	return db, nil
}

// EnsureBootstrapAdmin makes sure there is at least one admin user
// corresponding to the bootstrap credentials in config. If a user with
// that username already exists, it is left as-is.
func EnsureBootstrapAdmin(db *gorm.DB, cfg *config.Config) error {
	if cfg.AdminUser == "" || cfg.AdminPassword == "" {
		return nil
	}

	var count int64
	if err := db.Model(&User{}).Where("username = ?", cfg.AdminUser).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.AdminPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	admin := &User{
		Username:     cfg.AdminUser,
		PasswordHash: string(hash),
		IsAdmin:      true,
	}

	return db.Create(admin).Error
}

// EnsureBootstrapAPIKey makes sure the internal project and key used for
// self-reporting exist. An existing key with the same value is rebound to
// the internal project and reactivated.
func EnsureBootstrapAPIKey(db *gorm.DB, cfg *config.Config) error {
	if !cfg.SelfReporting() {
		return nil
	}

	var project Project
	if err := db.Where("id = ?", cfg.InternalProjectID).Limit(1).Find(&project).Error; err != nil {
		return err
	}
	if project.ID == "" {
		project = Project{
			ID:          cfg.InternalProjectID,
			Name:        "traceiq",
			Environment: EnvironmentProduction,
		}
		if err := db.Create(&project).Error; err != nil {
			return err
		}
	}

	// Use Find so "not found" doesn't log as error.
	var existing APIKey
	if err := db.Where("key_value = ?", cfg.InternalAPIKey).Limit(1).Find(&existing).Error; err != nil {
		return err
	}
	if existing.ID != "" {
		if existing.ProjectID == project.ID && existing.IsActive {
			return nil
		}
		existing.ProjectID = project.ID
		existing.IsActive = true
		return db.Save(&existing).Error
	}

	return db.Create(&APIKey{
		ProjectID: project.ID,
		KeyType:   KeyTypeProduction,
		KeyValue:  cfg.InternalAPIKey,
		IsActive:  true,
	}).Error
}
