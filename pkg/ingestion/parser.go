package ingestion

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/telecheck/platform/pkg/common/models"
)

var (
	ErrDatasetTooLarge = errors.New("dataset exceeds record cap")
	ErrInvalidPostcode = errors.New("invalid postcode format")
	ErrEmptyDataset    = errors.New("no postcodes found in input")
)

var (
	postcodeToken = regexp.MustCompile(`\b\d{4}\b`)
	postcodeExact = regexp.MustCompile(`^\d{4}$`)
)

// Parser extracts patient postcode datasets from uploaded or pasted content.
// It is a pure transform: callers decide whether the result replaces a session.
type Parser struct {
	recordCap int
}

func NewParser(recordCap int) *Parser {
	return &Parser{recordCap: recordCap}
}

// ParseCSV reads delimited content, honoring a header row when one names the
// postcode and demographic columns. Rows without a resolvable postcode are
// skipped; rows beyond the cap fail the whole upload rather than truncating.
func (p *Parser) ParseCSV(r io.Reader) (*models.PostcodeDataset, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv: %w", err)
	}
	if len(records) == 0 {
		return nil, ErrEmptyDataset
	}

	cols := detectColumns(records[0])
	rows := records
	if cols.headerPresent {
		rows = records[1:]
	}

	var entries []models.DatasetEntry
	for _, row := range rows {
		entry, ok := extractEntry(row, cols)
		if !ok {
			continue
		}
		entries = append(entries, entry)
		if p.recordCap > 0 && len(entries) > p.recordCap {
			return nil, fmt.Errorf("%w: cap is %d records", ErrDatasetTooLarge, p.recordCap)
		}
	}

	return p.build(entries, models.UploadMethodCSV)
}

// ParsePaste extracts every 4-digit postcode token from free-form pasted text.
func (p *Parser) ParsePaste(text string) (*models.PostcodeDataset, error) {
	matches := postcodeToken.FindAllString(text, -1)

	var entries []models.DatasetEntry
	for _, postcode := range matches {
		entries = append(entries, models.DatasetEntry{Postcode: postcode})
		if p.recordCap > 0 && len(entries) > p.recordCap {
			return nil, fmt.Errorf("%w: cap is %d records", ErrDatasetTooLarge, p.recordCap)
		}
	}

	return p.build(entries, models.UploadMethodPaste)
}

// ParseManual validates an explicit postcode list. Unlike the extraction
// paths, a malformed value here is an input error, not something to skip.
func (p *Parser) ParseManual(postcodes []string) (*models.PostcodeDataset, error) {
	var entries []models.DatasetEntry
	for _, raw := range postcodes {
		postcode := strings.TrimSpace(raw)
		if !postcodeExact.MatchString(postcode) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPostcode, raw)
		}
		entries = append(entries, models.DatasetEntry{Postcode: postcode})
		if p.recordCap > 0 && len(entries) > p.recordCap {
			return nil, fmt.Errorf("%w: cap is %d records", ErrDatasetTooLarge, p.recordCap)
		}
	}

	return p.build(entries, models.UploadMethodManual)
}

func (p *Parser) build(entries []models.DatasetEntry, method string) (*models.PostcodeDataset, error) {
	if len(entries) == 0 {
		return nil, ErrEmptyDataset
	}

	hasDemographics := false
	for _, entry := range entries {
		if entry.HasDemographics() {
			hasDemographics = true
			break
		}
	}

	return &models.PostcodeDataset{
		Entries:         entries,
		TotalRecords:    len(entries),
		UploadMethod:    method,
		HasDemographics: hasDemographics,
		UploadedAt:      time.Now().UTC(),
	}, nil
}

type columnLayout struct {
	headerPresent bool
	postcode      int
	age           int
	gender        int
	dateOfBirth   int
}

func detectColumns(header []string) columnLayout {
	cols := columnLayout{postcode: -1, age: -1, gender: -1, dateOfBirth: -1}
	for i, field := range header {
		name := strings.ToLower(strings.TrimSpace(field))
		switch {
		case strings.Contains(name, "postcode") || strings.Contains(name, "post code") || name == "pc":
			cols.postcode = i
			cols.headerPresent = true
		case name == "age":
			cols.age = i
			cols.headerPresent = true
		case strings.Contains(name, "gender") || name == "sex":
			cols.gender = i
			cols.headerPresent = true
		case name == "dob" || strings.Contains(name, "birth"):
			cols.dateOfBirth = i
			cols.headerPresent = true
		}
	}
	return cols
}

func extractEntry(row []string, cols columnLayout) (models.DatasetEntry, bool) {
	var entry models.DatasetEntry

	if cols.postcode >= 0 && cols.postcode < len(row) {
		candidate := strings.TrimSpace(row[cols.postcode])
		if postcodeExact.MatchString(candidate) {
			entry.Postcode = candidate
		}
	}
	if entry.Postcode == "" {
		// No usable postcode column: take the first 4-digit field in the row.
		for _, field := range row {
			candidate := strings.TrimSpace(field)
			if postcodeExact.MatchString(candidate) {
				entry.Postcode = candidate
				break
			}
		}
	}
	if entry.Postcode == "" {
		return models.DatasetEntry{}, false
	}

	if cols.age >= 0 && cols.age < len(row) {
		if age, err := strconv.Atoi(strings.TrimSpace(row[cols.age])); err == nil && age >= 0 {
			entry.Age = &age
		}
	}
	if cols.gender >= 0 && cols.gender < len(row) {
		entry.Gender = strings.TrimSpace(row[cols.gender])
	}
	if cols.dateOfBirth >= 0 && cols.dateOfBirth < len(row) {
		entry.DateOfBirth = strings.TrimSpace(row[cols.dateOfBirth])
	}

	return entry, true
}
