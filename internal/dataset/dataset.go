// Package dataset reads and writes the flat CSV tables exchanged by the
// generator and the auditor.
package dataset

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/gocarina/gocsv"

	"iisqa/internal/model"
)

// ParseError locates a cell that could not be converted.
type ParseError struct {
	Row    int // 1-based data row, header excluded
	Column string
	Value  string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("row %d column %s: %v", e.Row, e.Column, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// rawRecord keeps every cell as text so conversion errors carry their location.
type rawRecord struct {
	PatientID          string `csv:"patient_id"`
	FirstName          string `csv:"first_name"`
	LastName           string `csv:"last_name"`
	DateOfBirth        string `csv:"date_of_birth"`
	Sex                string `csv:"sex"`
	ZipCode            string `csv:"zip_code"`
	VaccineType        string `csv:"vaccine_type"`
	DoseNumber         string `csv:"dose_number"`
	AdministrationDate string `csv:"administration_date"`
	ProviderID         string `csv:"provider_id"`
}

// ReadRecords loads a vaccination table. The file is opened read-only.
func ReadRecords(path string) ([]model.VaccinationRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	recs, err := DecodeRecords(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return recs, nil
}

// DecodeRecords parses CSV content with a header row into records.
func DecodeRecords(data []byte) ([]model.VaccinationRecord, error) {
	header, err := csv.NewReader(bytes.NewReader(data)).Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty input: header row required")
		}
		return nil, fmt.Errorf("header: %w", err)
	}
	if err := checkHeader(header); err != nil {
		return nil, err
	}

	var raws []rawRecord
	if err := gocsv.UnmarshalBytes(data, &raws); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}
	out := make([]model.VaccinationRecord, 0, len(raws))
	for i, raw := range raws {
		rec, err := raw.record(i + 1)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func checkHeader(header []string) error {
	seen := make(map[string]bool, len(header))
	for _, h := range header {
		seen[strings.TrimSpace(h)] = true
	}
	var missing []string
	for _, col := range model.RecordColumns {
		if !seen[col] {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing columns: %s", strings.Join(missing, ", "))
	}
	return nil
}

func (r rawRecord) record(row int) (model.VaccinationRecord, error) {
	dob, err := model.ParseDate(r.DateOfBirth)
	if err != nil {
		return model.VaccinationRecord{}, &ParseError{Row: row, Column: "date_of_birth", Value: r.DateOfBirth, Err: err}
	}
	admin, err := model.ParseDate(r.AdministrationDate)
	if err != nil {
		return model.VaccinationRecord{}, &ParseError{Row: row, Column: "administration_date", Value: r.AdministrationDate, Err: err}
	}
	if !admin.Valid {
		return model.VaccinationRecord{}, &ParseError{Row: row, Column: "administration_date", Err: errors.New("value is required")}
	}
	dose, err := strconv.Atoi(strings.TrimSpace(r.DoseNumber))
	if err != nil {
		return model.VaccinationRecord{}, &ParseError{Row: row, Column: "dose_number", Value: r.DoseNumber, Err: err}
	}
	return model.VaccinationRecord{
		PatientID:          r.PatientID,
		FirstName:          r.FirstName,
		LastName:           r.LastName,
		DateOfBirth:        dob,
		Sex:                model.Sex(r.Sex),
		ZipCode:            r.ZipCode,
		VaccineType:        r.VaccineType,
		DoseNumber:         dose,
		AdministrationDate: admin,
		ProviderID:         r.ProviderID,
	}, nil
}

// WriteTable writes rows (a slice of csv-tagged structs) to path, replacing
// any existing file.
func WriteTable(path string, rows any) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := EncodeTable(f, rows); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

// EncodeTable writes a header row followed by one line per element of rows.
func EncodeTable(w io.Writer, rows any) error {
	if err := gocsv.Marshal(rows, w); err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return nil
}
