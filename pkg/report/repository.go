package report

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/telecheck/platform/pkg/common/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrNotFound = errors.New("report not found")

// Store is the durable report table. The schema keeps patient totals as
// independently required columns: they are written explicitly, never derived.
type Store interface {
	Upsert(ctx context.Context, report *models.SavedReport) error
	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.SavedReport, error)
	GetByID(ctx context.Context, id uuid.UUID) (models.SavedReport, error)
	Delete(ctx context.Context, id, userID uuid.UUID) error
}

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

type SavedReportModel struct {
	ID                    uuid.UUID `gorm:"type:uuid;primaryKey"`
	AnalysisID            string    `gorm:"uniqueIndex;not null"`
	UserID                uuid.UUID `gorm:"type:uuid;index;not null"`
	ClinicName            string
	TotalPatients         int               `gorm:"not null"`
	EligiblePatients      int               `gorm:"not null"`
	IneligiblePatients    int               `gorm:"not null"`
	EligibilityPercentage float64           `gorm:"not null"`
	RemotenessBreakdown   datatypes.JSONMap `gorm:"type:jsonb"`
	Within12Months        int
	Between12And24Months  int
	Over24Months          int
	StateBreakdown        datatypes.JSONMap `gorm:"type:jsonb"`
	RawData               datatypes.JSON    `gorm:"type:jsonb"`
	CreatedAt             time.Time
}

func (SavedReportModel) TableName() string {
	return "saved_reports"
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&SavedReportModel{})
}

// Upsert inserts the report, converging on the existing row when the same
// analysis id is saved again. On conflict the stored row keeps its id and
// created_at; both are copied back into report so the caller always holds
// the persisted identity.
func (r *Repository) Upsert(ctx context.Context, report *models.SavedReport) error {
	rawData, err := json.Marshal(report.RawData)
	if err != nil {
		return err
	}

	record := SavedReportModel{
		ID:                    report.ID,
		AnalysisID:            report.AnalysisID,
		UserID:                report.UserID,
		ClinicName:            report.ClinicName,
		TotalPatients:         report.TotalPatients,
		EligiblePatients:      report.EligiblePatients,
		IneligiblePatients:    report.IneligiblePatients,
		EligibilityPercentage: report.EligibilityPercentage,
		RemotenessBreakdown:   toJSONMap(report.RemotenessBreakdown),
		Within12Months:        report.Within12Months,
		Between12And24Months:  report.Between12And24Months,
		Over24Months:          report.Over24Months,
		StateBreakdown:        toJSONMap(report.StateBreakdown),
		RawData:               datatypes.JSON(rawData),
		CreatedAt:             report.CreatedAt,
	}

	err = r.db.WithContext(ctx).Clauses(
		clause.OnConflict{
			Columns:   []clause.Column{{Name: "analysis_id"}},
			UpdateAll: true,
		},
		clause.Returning{Columns: []clause.Column{{Name: "id"}, {Name: "created_at"}}},
	).Create(&record).Error
	if err != nil {
		return err
	}

	report.ID = record.ID
	report.CreatedAt = record.CreatedAt
	return nil
}

func (r *Repository) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.SavedReport, error) {
	var records []SavedReportModel
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}

	reports := make([]models.SavedReport, 0, len(records))
	for _, record := range records {
		reports = append(reports, mapReportModel(record, false))
	}
	return reports, nil
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (models.SavedReport, error) {
	var record SavedReportModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.SavedReport{}, ErrNotFound
	}
	if err != nil {
		return models.SavedReport{}, err
	}
	return mapReportModel(record, true), nil
}

func (r *Repository) Delete(ctx context.Context, id, userID uuid.UUID) error {
	result := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Delete(&SavedReportModel{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func mapReportModel(record SavedReportModel, includeRaw bool) models.SavedReport {
	report := models.SavedReport{
		ID:                    record.ID,
		AnalysisID:            record.AnalysisID,
		UserID:                record.UserID,
		ClinicName:            record.ClinicName,
		TotalPatients:         record.TotalPatients,
		EligiblePatients:      record.EligiblePatients,
		IneligiblePatients:    record.IneligiblePatients,
		EligibilityPercentage: record.EligibilityPercentage,
		RemotenessBreakdown:   fromJSONMap(record.RemotenessBreakdown),
		Within12Months:        record.Within12Months,
		Between12And24Months:  record.Between12And24Months,
		Over24Months:          record.Over24Months,
		StateBreakdown:        fromJSONMap(record.StateBreakdown),
		CreatedAt:             record.CreatedAt,
	}
	if includeRaw && len(record.RawData) > 0 {
		var raw models.AnalysisResult
		if err := json.Unmarshal(record.RawData, &raw); err == nil {
			report.RawData = &raw
		}
	}
	return report
}

func toJSONMap(counts map[string]int) datatypes.JSONMap {
	out := make(datatypes.JSONMap, len(counts))
	for key, count := range counts {
		out[key] = count
	}
	return out
}

func fromJSONMap(values datatypes.JSONMap) map[string]int {
	out := make(map[string]int, len(values))
	for key, value := range values {
		switch v := value.(type) {
		case float64:
			out[key] = int(v)
		case int:
			out[key] = v
		}
	}
	return out
}
