package ingestion

import (
	"errors"
	"strings"
	"testing"

	"github.com/telecheck/platform/pkg/common/models"
)

func TestParseCSVWithHeaderAndDemographics(t *testing.T) {
	parser := NewParser(100)
	csv := "postcode,age,gender,dob\n4000,34,F,12/03/1990\n2000,51,M,01/01/1973\n"

	dataset, err := parser.ParseCSV(strings.NewReader(csv))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dataset.TotalRecords != 2 {
		t.Fatalf("expected 2 records, got %d", dataset.TotalRecords)
	}
	if dataset.UploadMethod != models.UploadMethodCSV {
		t.Fatalf("expected csv upload method, got %s", dataset.UploadMethod)
	}
	if !dataset.HasDemographics {
		t.Fatal("expected demographics flag")
	}
	first := dataset.Entries[0]
	if first.Postcode != "4000" || first.Age == nil || *first.Age != 34 || first.Gender != "F" {
		t.Fatalf("unexpected first entry: %+v", first)
	}
}

func TestParseCSVWithoutHeader(t *testing.T) {
	parser := NewParser(100)
	dataset, err := parser.ParseCSV(strings.NewReader("4000\n2000\n4000\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dataset.TotalRecords != 3 {
		t.Fatalf("expected 3 records, got %d", dataset.TotalRecords)
	}
	if dataset.HasDemographics {
		t.Fatal("did not expect demographics flag")
	}
}

func TestDuplicatePostcodesArePreserved(t *testing.T) {
	parser := NewParser(100)
	dataset, err := parser.ParsePaste("4000 4000")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dataset.TotalRecords != 2 {
		t.Fatalf("duplicates must be preserved, got %d records", dataset.TotalRecords)
	}
	if dataset.TotalRecords != len(dataset.Entries) {
		t.Fatal("total records must equal entry count")
	}
}

func TestParsePasteIgnoresLongerNumbers(t *testing.T) {
	parser := NewParser(100)
	dataset, err := parser.ParsePaste("patient 4000, phone 0412345678, 2000")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dataset.TotalRecords != 2 {
		t.Fatalf("expected 2 postcodes, got %d: %+v", dataset.TotalRecords, dataset.Entries)
	}
}

func TestRecordCapRejectsNotTruncates(t *testing.T) {
	parser := NewParser(2)
	_, err := parser.ParsePaste("4000 2000 3000")
	if !errors.Is(err, ErrDatasetTooLarge) {
		t.Fatalf("expected ErrDatasetTooLarge, got %v", err)
	}
}

func TestParseManualRejectsBadFormat(t *testing.T) {
	parser := NewParser(100)
	_, err := parser.ParseManual([]string{"4000", "40A0"})
	if !errors.Is(err, ErrInvalidPostcode) {
		t.Fatalf("expected ErrInvalidPostcode, got %v", err)
	}
}

func TestEmptyInputFails(t *testing.T) {
	parser := NewParser(100)
	if _, err := parser.ParsePaste("no postcodes here"); !errors.Is(err, ErrEmptyDataset) {
		t.Fatalf("expected ErrEmptyDataset, got %v", err)
	}
}
