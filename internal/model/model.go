package model

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the on-disk date format for every table.
const DateLayout = "2006-01-02"

// dateTimeLayout is accepted on input for files written by tools that keep a time part.
const dateTimeLayout = "2006-01-02 15:04:05"

// Sex of the patient as recorded by the registry.
type Sex string

const (
	SexMale   Sex = "M"
	SexFemale Sex = "F"
)

// Data quality verdicts.
const (
	FlagValid = "Valid"
	FlagIssue = "Issue"
)

// Date is a calendar date that may be missing. The zero value is missing.
type Date struct {
	Time  time.Time
	Valid bool
}

// NewDate returns a present date truncated to the day, in UTC.
func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC), Valid: true}
}

// DateOf wraps t as a present date.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), t.Month(), t.Day())
}

// ParseDate parses s as a date. Empty input yields a missing date.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Date{}, nil
	}
	for _, layout := range []string{DateLayout, dateTimeLayout} {
		if t, err := time.Parse(layout, s); err == nil {
			return DateOf(t), nil
		}
	}
	return Date{}, fmt.Errorf("invalid date %q: want %s", s, DateLayout)
}

// Before reports whether both dates are present and d is strictly before o.
func (d Date) Before(o Date) bool {
	return d.Valid && o.Valid && d.Time.Before(o.Time)
}

// Compare orders missing dates first, then chronologically.
func (d Date) Compare(o Date) int {
	switch {
	case !d.Valid && !o.Valid:
		return 0
	case !d.Valid:
		return -1
	case !o.Valid:
		return 1
	}
	return d.Time.Compare(o.Time)
}

func (d Date) String() string {
	if !d.Valid {
		return ""
	}
	return d.Time.Format(DateLayout)
}

// MarshalCSV renders a missing date as an empty cell.
func (d Date) MarshalCSV() (string, error) { return d.String(), nil }

// UnmarshalCSV implements gocsv.TypeUnmarshaller.
func (d *Date) UnmarshalCSV(s string) error {
	v, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// VaccinationRecord is one row of the immunization registry extract.
type VaccinationRecord struct {
	PatientID          string `csv:"patient_id"`
	FirstName          string `csv:"first_name"`
	LastName           string `csv:"last_name"`
	DateOfBirth        Date   `csv:"date_of_birth"`
	Sex                Sex    `csv:"sex"`
	ZipCode            string `csv:"zip_code"`
	VaccineType        string `csv:"vaccine_type"`
	DoseNumber         int    `csv:"dose_number"`
	AdministrationDate Date   `csv:"administration_date"`
	ProviderID         string `csv:"provider_id"`
}

// RecordColumns lists the record columns in file order.
var RecordColumns = []string{
	"patient_id", "first_name", "last_name", "date_of_birth", "sex",
	"zip_code", "vaccine_type", "dose_number", "administration_date", "provider_id",
}

// FlaggedRecord is a record annotated with the audit verdicts.
type FlaggedRecord struct {
	VaccinationRecord
	InvalidAdminDate  bool   `csv:"invalid_admin_date"`
	DoseSequenceError bool   `csv:"dose_sequence_error"`
	DupKey            string `csv:"dup_key"`
	DataQualityFlag   string `csv:"data_quality_flag"`
}

// DuplicateGroup is an identity shared by more than one record.
type DuplicateGroup struct {
	FirstName   string `csv:"first_name"`
	LastName    string `csv:"last_name"`
	DateOfBirth Date   `csv:"date_of_birth"`
	RecordCount int    `csv:"record_count"`
}

// FlagCount is one row of the flag value counts.
type FlagCount struct {
	DataQualityFlag string `csv:"data_quality_flag"`
	Count           int    `csv:"count"`
}

// FieldCompleteness is the share of rows missing a value for Field.
type FieldCompleteness struct {
	Field       string  `csv:"field"`
	MissingRate float64 `csv:"missing_rate"`
}

// MetricRow is one row of the summary metrics table.
type MetricRow struct {
	Metric string `csv:"metric"`
	Value  int    `csv:"value"`
}

// Summary holds the headline counts of an audit run.
type Summary struct {
	TotalRecords       int
	MissingDOB         int
	InvalidAdminDates  int
	DoseSequenceErrors int
	DuplicateGroups    int
	IssueRecords       int
}

// Rows renders the summary as the metric/value table.
func (s Summary) Rows() []MetricRow {
	return []MetricRow{
		{Metric: "Total Records", Value: s.TotalRecords},
		{Metric: "Records with Missing DOB", Value: s.MissingDOB},
		{Metric: "Invalid Administration Dates", Value: s.InvalidAdminDates},
		{Metric: "Dose Sequence Errors", Value: s.DoseSequenceErrors},
		{Metric: "Duplicate Patients", Value: s.DuplicateGroups},
	}
}
