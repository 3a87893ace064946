package report

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/telecheck/platform/pkg/common/kafka"
	"github.com/telecheck/platform/pkg/common/logger"
	"github.com/telecheck/platform/pkg/common/models"
)

type ProfileResolver interface {
	ResolveOrCreateProfile(ctx context.Context, key string) (models.Profile, error)
}

type EventPublisher interface {
	PublishEvent(ctx context.Context, eventType, source string, data map[string]interface{}) error
}

type Service struct {
	store    Store
	resolver ProfileResolver
	events   EventPublisher
}

// NewService wires the report service. events may be nil when no broker is
// configured.
func NewService(store Store, resolver ProfileResolver, events EventPublisher) *Service {
	return &Service{store: store, resolver: resolver, events: events}
}

// SaveReport persists a completed analysis for the practitioner identified by
// userKey. Every denormalized total is written explicitly from the analysis
// result; the insert upserts on the analysis id, so re-saving the same run
// converges on one row.
func (s *Service) SaveReport(ctx context.Context, clinicName string, result *models.AnalysisResult, userKey string) (models.SavedReport, error) {
	if result == nil {
		return models.SavedReport{}, fmt.Errorf("analysis result required")
	}
	if result.AnalysisID == "" {
		return models.SavedReport{}, fmt.Errorf("analysis result has no analysis id")
	}

	profile, err := s.resolver.ResolveOrCreateProfile(ctx, userKey)
	if err != nil {
		return models.SavedReport{}, err
	}

	summary := result.PatientSummary
	saved := models.SavedReport{
		ID:                    uuid.New(),
		AnalysisID:            result.AnalysisID,
		UserID:                profile.ID,
		ClinicName:            clinicName,
		TotalPatients:         summary.TotalPatients,
		EligiblePatients:      summary.TotalEligible,
		IneligiblePatients:    summary.TotalIneligible,
		EligibilityPercentage: summary.EligibilityRate,
		RemotenessBreakdown:   result.GeographicDistribution.RemotenessBreakdown,
		Within12Months:        result.TimeBasedAnalysis.Within12Months.Count,
		Between12And24Months:  result.TimeBasedAnalysis.Between12And24Months.Count,
		Over24Months:          result.TimeBasedAnalysis.Over24Months.Count,
		StateBreakdown:        result.GeographicDistribution.StateBreakdown,
		RawData:               result,
		CreatedAt:             time.Now().UTC(),
	}

	if err := s.store.Upsert(ctx, &saved); err != nil {
		return models.SavedReport{}, fmt.Errorf("failed to save report: %w", err)
	}

	s.publish(ctx, kafka.EventReportSaved, map[string]interface{}{
		"report_id":      saved.ID.String(),
		"analysis_id":    saved.AnalysisID,
		"user_id":        saved.UserID.String(),
		"total_patients": saved.TotalPatients,
	})

	return saved, nil
}

func (s *Service) ListReports(ctx context.Context, userKey string) ([]models.SavedReport, error) {
	profile, err := s.resolver.ResolveOrCreateProfile(ctx, userKey)
	if err != nil {
		return nil, err
	}
	return s.store.ListByUser(ctx, profile.ID)
}

// GetReport returns a report only to its owner.
func (s *Service) GetReport(ctx context.Context, id uuid.UUID, userKey string) (models.SavedReport, error) {
	profile, err := s.resolver.ResolveOrCreateProfile(ctx, userKey)
	if err != nil {
		return models.SavedReport{}, err
	}
	saved, err := s.store.GetByID(ctx, id)
	if err != nil {
		return models.SavedReport{}, err
	}
	if saved.UserID != profile.ID {
		return models.SavedReport{}, ErrNotFound
	}
	return saved, nil
}

func (s *Service) DeleteReport(ctx context.Context, id uuid.UUID, userKey string) error {
	profile, err := s.resolver.ResolveOrCreateProfile(ctx, userKey)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id, profile.ID); err != nil {
		return err
	}

	s.publish(ctx, kafka.EventReportDeleted, map[string]interface{}{
		"report_id": id.String(),
		"user_id":   profile.ID.String(),
	})
	return nil
}

// publish is fire-and-forget: a broker outage never fails the operation.
func (s *Service) publish(ctx context.Context, eventType string, data map[string]interface{}) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishEvent(ctx, eventType, "report-service", data); err != nil {
		logger.Log.WithError(err).WithField("event_type", eventType).Warn("failed to publish event")
	}
}
