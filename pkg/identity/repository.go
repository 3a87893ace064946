package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/telecheck/platform/pkg/common/models"
	"gorm.io/gorm"
)

var ErrProfileNotFound = errors.New("profile not found")

// ProfileStore abstracts the profile table so the resolver's retry policy is
// testable without a database.
type ProfileStore interface {
	GetByExternalKey(ctx context.Context, key string) (models.Profile, error)
	Create(ctx context.Context, profile models.Profile) (models.Profile, error)
}

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

type ProfileModel struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	ExternalKey string    `gorm:"uniqueIndex"`
	Email       string
	Name        string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (ProfileModel) TableName() string {
	return "profiles"
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&ProfileModel{})
}

func (r *Repository) GetByExternalKey(ctx context.Context, key string) (models.Profile, error) {
	var profile ProfileModel
	err := r.db.WithContext(ctx).Where("external_key = ?", normalizeKey(key)).First(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Profile{}, ErrProfileNotFound
	}
	if err != nil {
		return models.Profile{}, err
	}
	return mapProfileModel(profile), nil
}

func (r *Repository) Create(ctx context.Context, profile models.Profile) (models.Profile, error) {
	record := ProfileModel{
		ID:          profile.ID,
		ExternalKey: normalizeKey(profile.ExternalKey),
		Email:       profile.Email,
		Name:        profile.Name,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}

	if err := r.db.WithContext(ctx).Create(&record).Error; err != nil {
		return models.Profile{}, err
	}
	return mapProfileModel(record), nil
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

func mapProfileModel(profile ProfileModel) models.Profile {
	return models.Profile{
		ID:          profile.ID,
		ExternalKey: profile.ExternalKey,
		Email:       profile.Email,
		Name:        profile.Name,
		CreatedAt:   profile.CreatedAt,
		UpdatedAt:   profile.UpdatedAt,
	}
}
