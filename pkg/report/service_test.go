package report

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/telecheck/platform/pkg/common/logger"
	"github.com/telecheck/platform/pkg/common/models"
)

func TestMain(m *testing.M) {
	logger.Init()
	m.Run()
}

type fakeStore struct {
	byAnalysisID map[string]models.SavedReport
	upsertErr    error
}

func newFakeStore() *fakeStore {
	return &fakeStore{byAnalysisID: make(map[string]models.SavedReport)}
}

func (s *fakeStore) Upsert(_ context.Context, report *models.SavedReport) error {
	if s.upsertErr != nil {
		return s.upsertErr
	}
	// Mirrors the repository: a conflicting row keeps its id and created_at,
	// which are copied back into the report.
	if existing, ok := s.byAnalysisID[report.AnalysisID]; ok {
		report.ID = existing.ID
		report.CreatedAt = existing.CreatedAt
	}
	s.byAnalysisID[report.AnalysisID] = *report
	return nil
}

func (s *fakeStore) ListByUser(_ context.Context, userID uuid.UUID) ([]models.SavedReport, error) {
	var reports []models.SavedReport
	for _, report := range s.byAnalysisID {
		if report.UserID == userID {
			reports = append(reports, report)
		}
	}
	return reports, nil
}

func (s *fakeStore) GetByID(_ context.Context, id uuid.UUID) (models.SavedReport, error) {
	for _, report := range s.byAnalysisID {
		if report.ID == id {
			return report, nil
		}
	}
	return models.SavedReport{}, ErrNotFound
}

func (s *fakeStore) Delete(_ context.Context, id, userID uuid.UUID) error {
	for key, report := range s.byAnalysisID {
		if report.ID == id && report.UserID == userID {
			delete(s.byAnalysisID, key)
			return nil
		}
	}
	return ErrNotFound
}

type fakeResolver struct {
	profile models.Profile
	err     error
}

func (r *fakeResolver) ResolveOrCreateProfile(_ context.Context, _ string) (models.Profile, error) {
	if r.err != nil {
		return models.Profile{}, r.err
	}
	return r.profile, nil
}

type capturingPublisher struct {
	events []string
}

func (p *capturingPublisher) PublishEvent(_ context.Context, eventType, _ string, _ map[string]interface{}) error {
	p.events = append(p.events, eventType)
	return nil
}

func sampleResult() *models.AnalysisResult {
	return &models.AnalysisResult{
		AnalysisID: uuid.New().String(),
		PatientSummary: models.PatientSummary{
			TotalPatients:   100,
			TotalEligible:   40,
			TotalIneligible: 60,
			EligibilityRate: 40.0,
		},
		GeographicDistribution: models.GeographicDistribution{
			StateBreakdown:      map[string]int{"QLD": 70, "NSW": 30},
			RemotenessBreakdown: map[string]int{"Major Cities": 80, "Remote": 20},
		},
		TimeBasedAnalysis: models.TimeBasedAnalysis{
			Within12Months:       models.TimeBucket{Count: 30, Percentage: 75.0},
			Between12And24Months: models.TimeBucket{Count: 6, Percentage: 15.0},
			Over24Months:         models.TimeBucket{Count: 4, Percentage: 10.0},
		},
	}
}

func TestSaveReportPersistsExplicitTotals(t *testing.T) {
	store := newFakeStore()
	profile := models.Profile{ID: uuid.New(), ExternalKey: "user@clinic.example"}
	publisher := &capturingPublisher{}
	service := NewService(store, &fakeResolver{profile: profile}, publisher)

	saved, err := service.SaveReport(context.Background(), "North Clinic", sampleResult(), "user@clinic.example")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if saved.TotalPatients != 100 || saved.EligiblePatients != 40 || saved.IneligiblePatients != 60 {
		t.Fatalf("totals must be persisted explicitly: %+v", saved)
	}
	if saved.IneligiblePatients != saved.TotalPatients-saved.EligiblePatients {
		t.Fatal("ineligible must equal total minus eligible")
	}
	if saved.UserID != profile.ID {
		t.Fatal("expected resolved profile id as owner")
	}
	if len(publisher.events) != 1 || publisher.events[0] != "report.saved" {
		t.Fatalf("expected report.saved event, got %v", publisher.events)
	}

	// Retrieval reflects the stored values with no recomputation drift.
	fetched, err := service.GetReport(context.Background(), saved.ID, "user@clinic.example")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fetched.IneligiblePatients != 60 {
		t.Fatalf("expected ineligible 60 on reload, got %d", fetched.IneligiblePatients)
	}
}

func TestSaveReportUpsertsOnAnalysisID(t *testing.T) {
	store := newFakeStore()
	profile := models.Profile{ID: uuid.New()}
	service := NewService(store, &fakeResolver{profile: profile}, nil)
	result := sampleResult()

	first, err := service.SaveReport(context.Background(), "North Clinic", result, "user@clinic.example")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := service.SaveReport(context.Background(), "North Clinic", result, "user@clinic.example")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.AnalysisID != second.AnalysisID {
		t.Fatal("same run must keep its analysis id")
	}
	if len(store.byAnalysisID) != 1 {
		t.Fatalf("expected one row after duplicate save, got %d", len(store.byAnalysisID))
	}
	if second.ID != first.ID {
		t.Fatalf("duplicate save must return the stored row's id, got %s and %s", first.ID, second.ID)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Fatal("duplicate save must keep the original created_at")
	}

	// The returned id must address the persisted row.
	fetched, err := service.GetReport(context.Background(), second.ID, "user@clinic.example")
	if err != nil {
		t.Fatalf("returned id does not resolve to a row: %v", err)
	}
	if fetched.AnalysisID != first.AnalysisID {
		t.Fatalf("unexpected row fetched: %+v", fetched)
	}
}

func TestSaveReportRequiresResult(t *testing.T) {
	service := NewService(newFakeStore(), &fakeResolver{}, nil)
	if _, err := service.SaveReport(context.Background(), "North Clinic", nil, "user@clinic.example"); err == nil {
		t.Fatal("expected error for nil result")
	}
	if _, err := service.SaveReport(context.Background(), "North Clinic", &models.AnalysisResult{}, "user@clinic.example"); err == nil {
		t.Fatal("expected error for missing analysis id")
	}
}

func TestSaveReportSurfacesResolutionFailure(t *testing.T) {
	resolverErr := errors.New("profile resolution failed")
	service := NewService(newFakeStore(), &fakeResolver{err: resolverErr}, nil)
	if _, err := service.SaveReport(context.Background(), "North Clinic", sampleResult(), "user@clinic.example"); !errors.Is(err, resolverErr) {
		t.Fatalf("expected resolver error, got %v", err)
	}
}

func TestGetReportHidesOtherOwners(t *testing.T) {
	store := newFakeStore()
	owner := models.Profile{ID: uuid.New()}
	service := NewService(store, &fakeResolver{profile: owner}, nil)
	saved, err := service.SaveReport(context.Background(), "North Clinic", sampleResult(), "owner@clinic.example")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	other := NewService(store, &fakeResolver{profile: models.Profile{ID: uuid.New()}}, nil)
	if _, err := other.GetReport(context.Background(), saved.ID, "other@clinic.example"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign report, got %v", err)
	}
}

func TestDeleteReport(t *testing.T) {
	store := newFakeStore()
	owner := models.Profile{ID: uuid.New()}
	publisher := &capturingPublisher{}
	service := NewService(store, &fakeResolver{profile: owner}, publisher)
	saved, err := service.SaveReport(context.Background(), "North Clinic", sampleResult(), "owner@clinic.example")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := service.DeleteReport(context.Background(), saved.ID, "owner@clinic.example"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := service.GetReport(context.Background(), saved.ID, "owner@clinic.example"); !errors.Is(err, ErrNotFound) {
		t.Fatal("expected report to be gone")
	}
	if len(publisher.events) != 2 || publisher.events[1] != "report.deleted" {
		t.Fatalf("expected report.deleted event, got %v", publisher.events)
	}
}
