package audit

import (
	"cmp"
	"fmt"
	"slices"
	"sort"
	"strings"

	"iisqa/internal/model"
	"iisqa/internal/state"
)

// missingChecks reports, per input column in file order, whether a record lacks a value.
var missingChecks = []struct {
	field   string
	missing func(model.VaccinationRecord) bool
}{
	{"patient_id", func(r model.VaccinationRecord) bool { return r.PatientID == "" }},
	{"first_name", func(r model.VaccinationRecord) bool { return r.FirstName == "" }},
	{"last_name", func(r model.VaccinationRecord) bool { return r.LastName == "" }},
	{"date_of_birth", func(r model.VaccinationRecord) bool { return !r.DateOfBirth.Valid }},
	{"sex", func(r model.VaccinationRecord) bool { return r.Sex == "" }},
	{"zip_code", func(r model.VaccinationRecord) bool { return r.ZipCode == "" }},
	{"vaccine_type", func(r model.VaccinationRecord) bool { return r.VaccineType == "" }},
	{"dose_number", func(model.VaccinationRecord) bool { return false }},
	{"administration_date", func(r model.VaccinationRecord) bool { return !r.AdministrationDate.Valid }},
	{"provider_id", func(r model.VaccinationRecord) bool { return r.ProviderID == "" }},
}

// Completeness returns the missing-value rate of every input column, in file order.
// An empty table has a rate of zero everywhere.
func Completeness(records []model.VaccinationRecord) []model.FieldCompleteness {
	out := make([]model.FieldCompleteness, 0, len(missingChecks))
	for _, c := range missingChecks {
		missing := 0
		for _, r := range records {
			if c.missing(r) {
				missing++
			}
		}
		rate := 0.0
		if len(records) > 0 {
			rate = float64(missing) / float64(len(records))
		}
		out = append(out, model.FieldCompleteness{Field: c.field, MissingRate: rate})
	}
	return out
}

// InvalidAdminDate reports a dose given before the patient was born. A record
// without a birth date is never invalid by this rule.
func InvalidAdminDate(r model.VaccinationRecord) bool {
	return r.AdministrationDate.Before(r.DateOfBirth)
}

// DupKey is the lower-cased identity key kept as an informational column.
func DupKey(r model.VaccinationRecord) string {
	dob := "NaT"
	if r.DateOfBirth.Valid {
		dob = r.DateOfBirth.String()
	}
	return strings.ToLower(r.FirstName) + "_" + strings.ToLower(r.LastName) + "_" + dob
}

// GroupKey identifies the dose history a record belongs to. Records without a
// patient or vaccine belong to no history.
func GroupKey(r model.VaccinationRecord) (string, bool) {
	if r.PatientID == "" || r.VaccineType == "" {
		return "", false
	}
	return r.PatientID + "\x1f" + r.VaccineType, true
}

// SequenceErrors folds every dose history through st in administration-date
// order and returns, per record index, whether its history goes backwards.
// Records sharing an administration date keep their input order.
func SequenceErrors(st state.Store, records []model.VaccinationRecord) ([]bool, error) {
	order := make([]int, len(records))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return records[order[a]].AdministrationDate.Compare(records[order[b]].AdministrationDate) < 0
	})

	for pos, idx := range order {
		key, ok := GroupKey(records[idx])
		if !ok {
			continue
		}
		if _, _, err := st.Apply(key, int64(records[idx].DoseNumber), int64(pos+1)); err != nil {
			return nil, fmt.Errorf("apply %s: %w", key, err)
		}
	}

	out := make([]bool, len(records))
	for i, r := range records {
		key, ok := GroupKey(r)
		if !ok {
			continue
		}
		gs, found := st.Get(key)
		if !found {
			return nil, fmt.Errorf("group %s missing from state", key)
		}
		out[i] = gs.SequenceError
	}
	return out, nil
}

type identityKey struct {
	first string
	last  string
	dob   string
}

// DuplicateIdentities groups records by exact first name, last name and birth
// date and returns every group with more than one member. Records without a
// birth date take part in no group.
func DuplicateIdentities(records []model.VaccinationRecord) []model.DuplicateGroup {
	counts := make(map[identityKey]*model.DuplicateGroup)
	for _, r := range records {
		if !r.DateOfBirth.Valid {
			continue
		}
		k := identityKey{first: r.FirstName, last: r.LastName, dob: r.DateOfBirth.String()}
		g, ok := counts[k]
		if !ok {
			g = &model.DuplicateGroup{FirstName: r.FirstName, LastName: r.LastName, DateOfBirth: r.DateOfBirth}
			counts[k] = g
		}
		g.RecordCount++
	}

	out := make([]model.DuplicateGroup, 0)
	for _, g := range counts {
		if g.RecordCount > 1 {
			out = append(out, *g)
		}
	}
	slices.SortFunc(out, func(a, b model.DuplicateGroup) int {
		return cmp.Or(
			cmp.Compare(a.FirstName, b.FirstName),
			cmp.Compare(a.LastName, b.LastName),
			a.DateOfBirth.Compare(b.DateOfBirth),
		)
	})
	return out
}

// FlagCounts tallies the verdicts, most frequent first.
func FlagCounts(records []model.FlaggedRecord) []model.FlagCount {
	counts := make(map[string]int)
	for _, r := range records {
		counts[r.DataQualityFlag]++
	}
	out := make([]model.FlagCount, 0, len(counts))
	for flag, n := range counts {
		out = append(out, model.FlagCount{DataQualityFlag: flag, Count: n})
	}
	slices.SortFunc(out, func(a, b model.FlagCount) int {
		return cmp.Or(cmp.Compare(b.Count, a.Count), cmp.Compare(a.DataQualityFlag, b.DataQualityFlag))
	})
	return out
}
