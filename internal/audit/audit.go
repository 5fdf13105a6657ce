// Package audit flags data quality defects in immunization registry records:
// missing values, doses given before birth, dose histories that go backwards
// and identities recorded more than once.
package audit

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"iisqa/internal/model"
	"iisqa/internal/state"
)

// Report is everything one audit run computes.
type Report struct {
	Records      []model.FlaggedRecord
	Duplicates   []model.DuplicateGroup
	FlagCounts   []model.FlagCount
	Completeness []model.FieldCompleteness
	Summary      model.Summary
}

// Auditor runs the checks over an in-memory table.
type Auditor struct {
	backend  string
	stateDir string
	log      *zap.Logger
}

// New returns an Auditor whose dose histories are folded through a fresh
// store of the given backend on every run.
func New(backend string, stateDir string, log *zap.Logger) *Auditor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Auditor{backend: backend, stateDir: stateDir, log: log}
}

// Run audits records. The input slice is not modified and the flagged records
// come back in input order.
func (a *Auditor) Run(records []model.VaccinationRecord) (rep Report, err error) {
	st, err := state.Open(a.backend, a.stateDir)
	if err != nil {
		return Report{}, fmt.Errorf("open state: %w", err)
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("close state: %w", cerr))
		}
	}()

	rep.Completeness = Completeness(records)
	for _, c := range rep.Completeness {
		a.log.Debug("field completeness", zap.String("field", c.Field), zap.Float64("missing_rate", c.MissingRate))
	}

	seqErrs, err := SequenceErrors(st, records)
	if err != nil {
		return Report{}, fmt.Errorf("dose sequence: %w", err)
	}

	rep.Records = make([]model.FlaggedRecord, len(records))
	sum := &rep.Summary
	sum.TotalRecords = len(records)
	for i, r := range records {
		fr := model.FlaggedRecord{
			VaccinationRecord: r,
			InvalidAdminDate:  InvalidAdminDate(r),
			DoseSequenceError: seqErrs[i],
			DupKey:            DupKey(r),
			DataQualityFlag:   model.FlagValid,
		}
		if fr.InvalidAdminDate || fr.DoseSequenceError || !r.DateOfBirth.Valid {
			fr.DataQualityFlag = model.FlagIssue
			sum.IssueRecords++
		}
		if !r.DateOfBirth.Valid {
			sum.MissingDOB++
		}
		if fr.InvalidAdminDate {
			sum.InvalidAdminDates++
		}
		if fr.DoseSequenceError {
			sum.DoseSequenceErrors++
		}
		rep.Records[i] = fr
	}

	rep.Duplicates = DuplicateIdentities(records)
	sum.DuplicateGroups = len(rep.Duplicates)
	rep.FlagCounts = FlagCounts(rep.Records)

	a.log.Info("audit finished",
		zap.Int("records", sum.TotalRecords),
		zap.Int("issues", sum.IssueRecords),
		zap.Int("missing_dob", sum.MissingDOB),
		zap.Int("invalid_admin_dates", sum.InvalidAdminDates),
		zap.Int("dose_sequence_errors", sum.DoseSequenceErrors),
		zap.Int("duplicate_groups", sum.DuplicateGroups))
	return rep, nil
}
