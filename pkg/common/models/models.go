package models

import (
	"time"

	"github.com/google/uuid"
)

// Upload methods
const (
	UploadMethodCSV    = "csv"
	UploadMethodPaste  = "paste"
	UploadMethodManual = "manual"
)

// Service models
const (
	ServiceModelTelehealthOnly = "telehealth_only"
	ServiceModelMixed          = "mixed"
	ServiceModelInPersonOnly   = "in_person_only"
)

// Compliance risk levels
const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

// Geographic dimensions that cannot be resolved are bucketed here, never dropped.
const UnknownBucket = "Unknown"

type DatasetEntry struct {
	Postcode    string `json:"postcode"`
	Age         *int   `json:"age,omitempty"`
	Gender      string `json:"gender,omitempty"`
	DateOfBirth string `json:"date_of_birth,omitempty"`
}

func (e DatasetEntry) HasDemographics() bool {
	return e.Age != nil || e.Gender != "" || e.DateOfBirth != ""
}

// PostcodeDataset is one upload of patient records. Duplicate postcodes are
// meaningful (each entry is one patient) and TotalRecords always equals
// len(Entries). Immutable after creation; a new upload replaces it.
type PostcodeDataset struct {
	Entries         []DatasetEntry `json:"entries"`
	TotalRecords    int            `json:"total_records"`
	UploadMethod    string         `json:"upload_method"`
	HasDemographics bool           `json:"has_demographics"`
	UploadedAt      time.Time      `json:"uploaded_at"`
}

type ClinicConfiguration struct {
	ClinicName          string `json:"clinic_name"`
	PractitionerCount   int    `json:"practitioner_count"`
	ConsultationMinutes int    `json:"consultation_minutes"`
	ServiceModel        string `json:"service_model"`
}

type MetricEntry struct {
	MetricID     string      `json:"metric_id"`
	Result       interface{} `json:"result"`
	CalculatedAt time.Time   `json:"calculated_at"`
	IsValid      bool        `json:"is_valid"`
}

type SelectionEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"` // add, remove
	Metrics   []string  `json:"metrics"`
	Reason    string    `json:"reason,omitempty"`
}

// AnalysisSession is the bounded-lifetime unit of per-practitioner state: one
// dataset, one clinic configuration, cached metric results and a capped
// selection-history log. Every mutation extends ExpiresAt.
type AnalysisSession struct {
	SessionID        string                 `json:"session_id"`
	CreatedAt        time.Time              `json:"created_at"`
	ExpiresAt        time.Time              `json:"expires_at"`
	Dataset          *PostcodeDataset       `json:"dataset,omitempty"`
	Clinic           *ClinicConfiguration   `json:"clinic,omitempty"`
	MetricCache      map[string]MetricEntry `json:"-"`
	SelectionHistory []SelectionEvent       `json:"selection_history"`
}

// Remote eligibility service wire types

type EligibilityRequest struct {
	Postcodes []string `json:"postcodes"`
}

type DisasterDeclaration struct {
	AGRN      string     `json:"agrn"`
	Name      string     `json:"name,omitempty"`
	State     string     `json:"state,omitempty"`
	StartDate time.Time  `json:"start_date"`
	EndDate   *time.Time `json:"end_date,omitempty"`
}

type PostcodeEligibility struct {
	Postcode   string                `json:"postcode"`
	Eligible   bool                  `json:"eligible"`
	State      string                `json:"state,omitempty"`
	LGA        string                `json:"lga,omitempty"`
	Remoteness string                `json:"remoteness,omitempty"`
	Disasters  []DisasterDeclaration `json:"disasters,omitempty"`
}

type EligibilityResponse struct {
	Results []PostcodeEligibility `json:"results"`
}

// Aggregated analysis

type PatientSummary struct {
	TotalPatients   int     `json:"total_patients"`
	TotalEligible   int     `json:"total_eligible"`
	TotalIneligible int     `json:"total_ineligible"`
	EligibilityRate float64 `json:"eligibility_rate"`
}

type PostcodeCount struct {
	Postcode string `json:"postcode"`
	Count    int    `json:"count"`
}

type GeographicDistribution struct {
	StateBreakdown      map[string]int  `json:"state_breakdown"`
	RemotenessBreakdown map[string]int  `json:"remoteness_breakdown"`
	LGADistribution     map[string]int  `json:"lga_distribution"`
	TopPostcodes        []PostcodeCount `json:"top_postcodes"`
}

type TimeBucket struct {
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

// TimeBasedAnalysis partitions eligible patients by elapsed time since the
// governing disaster's start date. Percentages are of the eligible subtotal,
// not of all patients.
type TimeBasedAnalysis struct {
	Within12Months       TimeBucket `json:"within_12_months"`
	Between12And24Months TimeBucket `json:"between_12_and_24_months"`
	Over24Months         TimeBucket `json:"over_24_months"`
}

type MedicareAnalysis struct {
	ActiveDisasters []DisasterDeclaration `json:"active_disasters"`
	ComplianceRisk  string                `json:"compliance_risk"`
	AuditReadiness  float64               `json:"audit_readiness"`
}

// IndividualResult is one input patient record resolved against the disaster
// declarations, retained so re-aggregation never needs a remote round trip.
type IndividualResult struct {
	Postcode    string               `json:"postcode"`
	Eligible    bool                 `json:"eligible"`
	State       string               `json:"state,omitempty"`
	LGA         string               `json:"lga,omitempty"`
	Remoteness  string               `json:"remoteness,omitempty"`
	Disaster    *DisasterDeclaration `json:"disaster,omitempty"`
	MonthsSince int                  `json:"months_since_disaster_start,omitempty"`
}

type RawAnalysisData struct {
	IndividualPostcodeResults []IndividualResult `json:"individual_postcode_results"`
}

type AnalysisResult struct {
	AnalysisID             string                 `json:"analysis_id"`
	GeneratedAt            time.Time              `json:"generated_at"`
	PatientSummary         PatientSummary         `json:"patient_summary"`
	GeographicDistribution GeographicDistribution `json:"geographic_distribution"`
	TimeBasedAnalysis      TimeBasedAnalysis      `json:"time_based_analysis"`
	MedicareAnalysis       MedicareAnalysis       `json:"medicare_analysis"`
	RawData                RawAnalysisData        `json:"raw_data"`
}

type AnalysisFilters struct {
	Metrics             []string `json:"metrics,omitempty"`
	IncludeDemographics bool     `json:"include_demographics,omitempty"`
}

// Persistence

type Profile struct {
	ID          uuid.UUID `json:"id"`
	ExternalKey string    `json:"external_key"`
	Email       string    `json:"email,omitempty"`
	Name        string    `json:"name,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// SavedReport is the durable record of one completed analysis. Totals are
// persisted explicitly, never derived by the storage layer.
type SavedReport struct {
	ID                    uuid.UUID       `json:"id"`
	AnalysisID            string          `json:"analysis_id"`
	UserID                uuid.UUID       `json:"user_id"`
	ClinicName            string          `json:"clinic_name"`
	TotalPatients         int             `json:"total_patients"`
	EligiblePatients      int             `json:"eligible_patients"`
	IneligiblePatients    int             `json:"ineligible_patients"`
	EligibilityPercentage float64         `json:"eligibility_percentage"`
	RemotenessBreakdown   map[string]int  `json:"remoteness_breakdown"`
	Within12Months        int             `json:"within_12_months"`
	Between12And24Months  int             `json:"between_12_and_24_months"`
	Over24Months          int             `json:"over_24_months"`
	StateBreakdown        map[string]int  `json:"state_breakdown"`
	RawData               *AnalysisResult `json:"raw_data,omitempty"`
	CreatedAt             time.Time       `json:"created_at"`
}

type SaveReportRequest struct {
	ClinicName string          `json:"clinic_name"`
	Result     *AnalysisResult `json:"result"`
}

// Event Bus models
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}
