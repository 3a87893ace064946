package analysis

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/telecheck/platform/pkg/common/models"
)

// ErrAggregationFailure marks an eligibility response whose shape violates the
// contract. Never retried: it signals a contract break, not a transient fault.
var ErrAggregationFailure = errors.New("unexpected eligibility response shape")

const topPostcodeLimit = 10

// Aggregate turns the per-postcode eligibility rows into the full analysis
// result. Pure: entries and rows in, result out. Every input entry counts as
// one patient (duplicates included) and every patient lands in some bucket;
// unresolvable geography goes under "Unknown", never dropped.
func Aggregate(entries []models.DatasetEntry, rows []models.PostcodeEligibility, now time.Time, thresholds RiskThresholds) (*models.AnalysisResult, error) {
	if err := validateShape(entries, rows); err != nil {
		return nil, err
	}

	summary := models.PatientSummary{TotalPatients: len(entries)}
	geo := models.GeographicDistribution{
		StateBreakdown:      make(map[string]int),
		RemotenessBreakdown: make(map[string]int),
		LGADistribution:     make(map[string]int),
	}
	postcodeCounts := make(map[string]int)
	disasterIndex := make(map[string]models.DisasterDeclaration)

	individual := make([]models.IndividualResult, 0, len(rows))
	var within12, between12And24, over24 int

	for i, row := range rows {
		postcodeCounts[row.Postcode]++
		geo.StateBreakdown[bucket(row.State)]++
		geo.RemotenessBreakdown[bucket(row.Remoteness)]++
		geo.LGADistribution[bucket(row.LGA)]++

		result := models.IndividualResult{
			Postcode:   row.Postcode,
			Eligible:   row.Eligible,
			State:      row.State,
			LGA:        row.LGA,
			Remoteness: row.Remoteness,
		}

		if row.Eligible {
			summary.TotalEligible++

			// The most recent qualifying disaster governs: it is the
			// exemption a practitioner would cite and yields the lowest
			// audit-risk time bucket.
			governing := mostRecentDisaster(rows[i].Disasters)
			months := monthsBetween(governing.StartDate, now)
			switch {
			case months < 12:
				within12++
			case months < 24:
				between12And24++
			default:
				over24++
			}

			disaster := governing
			result.Disaster = &disaster
			result.MonthsSince = months
			disasterIndex[governing.AGRN] = governing
		} else {
			summary.TotalIneligible++
		}

		individual = append(individual, result)
	}

	summary.EligibilityRate = percentage(summary.TotalEligible, summary.TotalPatients)
	geo.TopPostcodes = topPostcodes(postcodeCounts, topPostcodeLimit)

	// Time-bin percentages are shares of the eligible subtotal, not of all
	// patients.
	timeBased := models.TimeBasedAnalysis{
		Within12Months:       models.TimeBucket{Count: within12, Percentage: percentage(within12, summary.TotalEligible)},
		Between12And24Months: models.TimeBucket{Count: between12And24, Percentage: percentage(between12And24, summary.TotalEligible)},
		Over24Months:         models.TimeBucket{Count: over24, Percentage: percentage(over24, summary.TotalEligible)},
	}

	over24Share := timeBased.Over24Months.Percentage
	medicare := models.MedicareAnalysis{
		ActiveDisasters: sortedDisasters(disasterIndex),
		ComplianceRisk:  thresholds.Classify(over24Share),
		AuditReadiness:  auditReadiness(summary.TotalEligible, over24Share),
	}

	return &models.AnalysisResult{
		AnalysisID:             uuid.New().String(),
		GeneratedAt:            now.UTC(),
		PatientSummary:         summary,
		GeographicDistribution: geo,
		TimeBasedAnalysis:      timeBased,
		MedicareAnalysis:       medicare,
		RawData:                models.RawAnalysisData{IndividualPostcodeResults: individual},
	}, nil
}

func validateShape(entries []models.DatasetEntry, rows []models.PostcodeEligibility) error {
	if len(rows) != len(entries) {
		return fmt.Errorf("%w: %d results for %d entries", ErrAggregationFailure, len(rows), len(entries))
	}
	for i, row := range rows {
		if row.Postcode == "" {
			return fmt.Errorf("%w: empty postcode at index %d", ErrAggregationFailure, i)
		}
		if row.Postcode != entries[i].Postcode {
			return fmt.Errorf("%w: result %d is for %s, expected %s", ErrAggregationFailure, i, row.Postcode, entries[i].Postcode)
		}
		if row.Eligible && len(row.Disasters) == 0 {
			return fmt.Errorf("%w: eligible postcode %s has no governing disaster", ErrAggregationFailure, row.Postcode)
		}
	}
	return nil
}

func mostRecentDisaster(disasters []models.DisasterDeclaration) models.DisasterDeclaration {
	governing := disasters[0]
	for _, disaster := range disasters[1:] {
		if disaster.StartDate.After(governing.StartDate) {
			governing = disaster
		}
	}
	return governing
}

func monthsBetween(start, now time.Time) int {
	months := (now.Year()-start.Year())*12 + int(now.Month()) - int(start.Month())
	if now.Day() < start.Day() {
		months--
	}
	if months < 0 {
		months = 0
	}
	return months
}

func bucket(value string) string {
	if value == "" {
		return models.UnknownBucket
	}
	return value
}

func percentage(part, whole int) float64 {
	if whole == 0 {
		return 0
	}
	return math.Round(float64(part)/float64(whole)*1000) / 10
}

func auditReadiness(totalEligible int, over24Share float64) float64 {
	if totalEligible == 0 {
		return 0
	}
	return math.Round((100-over24Share)*10) / 10
}

func topPostcodes(counts map[string]int, limit int) []models.PostcodeCount {
	ranked := make([]models.PostcodeCount, 0, len(counts))
	for postcode, count := range counts {
		ranked = append(ranked, models.PostcodeCount{Postcode: postcode, Count: count})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Count != ranked[j].Count {
			return ranked[i].Count > ranked[j].Count
		}
		return ranked[i].Postcode < ranked[j].Postcode
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}

func sortedDisasters(index map[string]models.DisasterDeclaration) []models.DisasterDeclaration {
	disasters := make([]models.DisasterDeclaration, 0, len(index))
	for _, disaster := range index {
		disasters = append(disasters, disaster)
	}
	sort.Slice(disasters, func(i, j int) bool {
		if !disasters[i].StartDate.Equal(disasters[j].StartDate) {
			return disasters[i].StartDate.After(disasters[j].StartDate)
		}
		return disasters[i].AGRN < disasters[j].AGRN
	})
	return disasters
}
