package db

import (
	"context"

	"github.com/cockroachdb/errors"
	"gorm.io/gorm"
)

// ValidEnvironment reports whether env is a known project environment.
func ValidEnvironment(env string) bool {
	switch env {
	case EnvironmentProduction, EnvironmentStaging, EnvironmentDevelopment:
		return true
	}
	return false
}

type ProjectRepository struct {
	db *gorm.DB
}

func NewProjectRepository(db *gorm.DB) *ProjectRepository {
	return &ProjectRepository{db: db}
}

func (r *ProjectRepository) Create(ctx context.Context, name, environment string) (*Project, error) {
	p := &Project{Name: name, Environment: environment}
	if err := r.db.WithContext(ctx).Create(p).Error; err != nil {
		return nil, errors.Wrap(err, "create project")
	}
	return p, nil
}

func (r *ProjectRepository) List(ctx context.Context) ([]Project, error) {
	var projects []Project
	if err := r.db.WithContext(ctx).Order("created_at DESC").Find(&projects).Error; err != nil {
		return nil, errors.Wrap(err, "list projects")
	}
	return projects, nil
}

// Get returns the project with the given id, or ErrNotFound.
func (r *ProjectRepository) Get(ctx context.Context, id string) (*Project, error) {
	var p Project
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "get project")
	}
	return &p, nil
}

// SetRetention sets or, with nil, clears the project's own retention.
func (r *ProjectRepository) SetRetention(ctx context.Context, id string, days *int) (*Project, error) {
	res := r.db.WithContext(ctx).Model(&Project{}).Where("id = ?", id).Update("retention_days", days)
	if res.Error != nil {
		return nil, errors.Wrap(res.Error, "set project retention")
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return r.Get(ctx, id)
}
