package db

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	EnvironmentProduction  = "Production"
	EnvironmentStaging     = "Staging"
	EnvironmentDevelopment = "Development"
)

// Project groups the errors and API keys of one monitored application.
type Project struct {
	ID string `gorm:"primaryKey;size:36" json:"id"`

	CreatedAt time.Time `json:"created_at"`

	Name string `gorm:"size:128;not null" json:"name"`

	// Environment is one of Production, Staging, Development.
	Environment string `gorm:"size:32;not null" json:"environment"`

	// RetentionDays overrides the collector-wide retention for this
	// project's errors. Nil uses the global setting.
	RetentionDays *int `json:"retention_days"`
}

func (p *Project) BeforeCreate(*gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

// ErrorRecord is the persisted form of a reported error.
// ProjectID always comes from the authenticated key, never from the payload.
type ErrorRecord struct {
	ID string `gorm:"primaryKey;size:36"`

	CreatedAt time.Time `gorm:"index"`

	ProjectID string `gorm:"index;size:36;not null"`

	// Client-supplied strings are stored verbatim, so they get unbounded
	// columns.
	Message    string  `gorm:"type:text;not null"`
	Type       string  `gorm:"type:text;not null"`
	StackTrace *string `gorm:"type:text"`

	// Browser and OS keep the agent name only; versions are not stored.
	Browser *string `gorm:"type:text"`
	OS      *string `gorm:"type:text"`

	Severity    string `gorm:"size:16;not null;index"`
	Status      string `gorm:"size:16;not null"`
	Environment string `gorm:"type:text"`

	// Metadata holds arbitrary key/value pairs attached by the reporting
	// application.
	Metadata datatypes.JSONMap `gorm:"type:json"`
}

func (ErrorRecord) TableName() string { return "errors" }

func (r *ErrorRecord) BeforeCreate(*gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

// ErrorBucket stores pre-aggregated hourly error counts per (project, severity)
// for trend charts. Filled by the aggregation worker.
type ErrorBucket struct {
	ID uint `gorm:"primaryKey"`

	ProjectID   string    `gorm:"uniqueIndex:idx_error_bucket_unique,priority:1;size:36;not null"`
	Severity    string    `gorm:"uniqueIndex:idx_error_bucket_unique,priority:2;size:16;not null"`
	BucketStart time.Time `gorm:"uniqueIndex:idx_error_bucket_unique,priority:3;not null"` // start of the hour (UTC)

	Count int64 `gorm:"not null"`
}
