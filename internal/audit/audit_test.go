package audit

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/suite"

	"iisqa/internal/dataset"
	"iisqa/internal/generator"
	"iisqa/internal/model"
	"iisqa/internal/state"
)

func date(s string) model.Date {
	if s == "" {
		return model.Date{}
	}
	d, err := model.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func rec(pid, vaccine string, dose int, admin string, first, last, dob string) model.VaccinationRecord {
	return model.VaccinationRecord{
		PatientID:          pid,
		FirstName:          first,
		LastName:           last,
		DateOfBirth:        date(dob),
		Sex:                model.SexFemale,
		ZipCode:            "21201",
		VaccineType:        vaccine,
		DoseNumber:         dose,
		AdministrationDate: date(admin),
		ProviderID:         "Clinic_A",
	}
}

type AuditSuite struct {
	suite.Suite
	auditor *Auditor
}

func TestAuditSuite(t *testing.T) {
	suite.Run(t, new(AuditSuite))
}

func (s *AuditSuite) SetupTest() {
	s.auditor = New(state.BackendMemory, "", nil)
}

func (s *AuditSuite) run(records ...model.VaccinationRecord) Report {
	rep, err := s.auditor.Run(records)
	s.Require().NoError(err)
	s.Require().Len(rep.Records, len(records))
	return rep
}

func (s *AuditSuite) TestDecreasingDoseFlagsWholeGroup() {
	rep := s.run(
		rec("P1", "MMR", 2, "2020-01-01", "Ana", "Lopez", "2016-05-05"),
		rec("P2", "MMR", 1, "2020-01-01", "Bo", "Brown", "2016-05-05"),
		rec("P1", "MMR", 1, "2020-06-01", "Ana", "Lopez", "2016-05-05"),
		rec("P2", "MMR", 2, "2020-06-01", "Bo", "Brown", "2016-05-05"),
	)

	s.True(rep.Records[0].DoseSequenceError)
	s.True(rep.Records[2].DoseSequenceError)
	s.False(rep.Records[1].DoseSequenceError)
	s.False(rep.Records[3].DoseSequenceError)
	s.Equal(model.FlagIssue, rep.Records[0].DataQualityFlag)
	s.Equal(model.FlagValid, rep.Records[1].DataQualityFlag)
	s.Equal(2, rep.Summary.DoseSequenceErrors)
}

func (s *AuditSuite) TestSequenceFollowsDatesNotFileOrder() {
	s.Run("later line with earlier date", func() {
		rep := s.run(
			rec("P1", "HepB", 1, "2021-03-01", "Ana", "Lopez", "2016-05-05"),
			rec("P1", "HepB", 2, "2020-03-01", "Ana", "Lopez", "2016-05-05"),
		)
		s.True(rep.Records[0].DoseSequenceError)
		s.True(rep.Records[1].DoseSequenceError)
	})

	s.Run("same date keeps input order", func() {
		rep := s.run(
			rec("P1", "HepB", 2, "2020-03-01", "Ana", "Lopez", "2016-05-05"),
			rec("P1", "HepB", 1, "2020-03-01", "Ana", "Lopez", "2016-05-05"),
		)
		s.True(rep.Records[0].DoseSequenceError)

		rep = s.run(
			rec("P1", "HepB", 1, "2020-03-01", "Ana", "Lopez", "2016-05-05"),
			rec("P1", "HepB", 2, "2020-03-01", "Ana", "Lopez", "2016-05-05"),
		)
		s.False(rep.Records[0].DoseSequenceError)
	})

	s.Run("records without a patient are never grouped", func() {
		rep := s.run(
			rec("", "HepB", 2, "2020-03-01", "Ana", "Lopez", "2016-05-05"),
			rec("", "HepB", 1, "2020-04-01", "Ana", "Lopez", "2016-05-05"),
		)
		s.False(rep.Records[0].DoseSequenceError)
		s.False(rep.Records[1].DoseSequenceError)
	})
}

func (s *AuditSuite) TestMissingBirthDate() {
	rep := s.run(rec("P7", "Polio", 1, "2019-02-02", "Luis", "Garcia", ""))

	got := rep.Records[0]
	s.False(got.InvalidAdminDate)
	s.Equal(model.FlagIssue, got.DataQualityFlag)
	s.Equal("luis_garcia_NaT", got.DupKey)
	s.Equal(1, rep.Summary.MissingDOB)
}

func (s *AuditSuite) TestInvalidAdministrationDate() {
	rep := s.run(
		rec("P1", "MMR", 1, "2017-12-31", "Jane", "Smith", "2018-01-01"),
		rec("P2", "MMR", 1, "2018-01-01", "Jane", "Smith", "2018-01-02"),
		rec("P3", "MMR", 1, "2018-01-01", "Sarah", "Brown", "2018-01-01"),
	)

	s.True(rep.Records[0].InvalidAdminDate)
	s.True(rep.Records[1].InvalidAdminDate)
	s.False(rep.Records[2].InvalidAdminDate, "same-day dose is valid")
	s.Equal(model.FlagValid, rep.Records[2].DataQualityFlag)
	s.Equal(2, rep.Summary.InvalidAdminDates)
}

func (s *AuditSuite) TestDuplicateIdentities() {
	rep := s.run(
		rec("P1", "MMR", 1, "2019-01-01", "Jane", "Smith", "2018-01-01"),
		rec("P2", "DTaP", 1, "2019-01-01", "Jane", "Smith", "2018-01-01"),
		rec("P3", "Polio", 1, "2019-01-01", "Jane", "Smith", "2018-01-01"),
		rec("P4", "Polio", 1, "2019-01-01", "jane", "smith", "2018-01-01"),
		rec("P5", "Polio", 1, "2019-01-01", "Aisha", "Brown", ""),
		rec("P6", "Polio", 1, "2019-01-01", "Aisha", "Brown", ""),
	)

	want := []model.DuplicateGroup{
		{FirstName: "Jane", LastName: "Smith", DateOfBirth: model.NewDate(2018, 1, 1), RecordCount: 3},
	}
	if diff := cmp.Diff(want, rep.Duplicates); diff != "" {
		s.Failf("duplicates mismatch", "(-want +got):\n%s", diff)
	}
	s.Equal(1, rep.Summary.DuplicateGroups)
	s.Equal(rep.Records[0].DupKey, rep.Records[3].DupKey, "dup_key folds case")
}

func (s *AuditSuite) TestEmptyTable() {
	rep, err := s.auditor.Run(nil)
	s.Require().NoError(err)
	s.Empty(rep.Records)
	s.Empty(rep.Duplicates)
	s.Empty(rep.FlagCounts)
	s.Len(rep.Completeness, len(model.RecordColumns))
}

func (s *AuditSuite) TestGeneratedTableProperties() {
	records, _ := generator.New(generator.DefaultConfig()).Generate()
	input := append([]model.VaccinationRecord(nil), records...)
	rep := s.run(records...)

	if diff := cmp.Diff(input, records); diff != "" {
		s.Failf("input mutated", "(-before +after):\n%s", diff)
	}

	groupFlag := make(map[string]bool)
	identities := make(map[string]int)
	issues := 0
	for i, fr := range rep.Records {
		s.Equal(records[i], fr.VaccinationRecord, "row %d out of order", i)

		wantInvalid := fr.DateOfBirth.Valid && fr.AdministrationDate.Time.Before(fr.DateOfBirth.Time)
		s.Equal(wantInvalid, fr.InvalidAdminDate, "row %d", i)

		key, _ := GroupKey(fr.VaccinationRecord)
		if prev, seen := groupFlag[key]; seen {
			s.Equal(prev, fr.DoseSequenceError, "group %s not uniform", key)
		}
		groupFlag[key] = fr.DoseSequenceError

		if fr.InvalidAdminDate || fr.DoseSequenceError || !fr.DateOfBirth.Valid {
			issues++
			s.Equal(model.FlagIssue, fr.DataQualityFlag)
		} else {
			s.Equal(model.FlagValid, fr.DataQualityFlag)
		}
		if fr.DateOfBirth.Valid {
			identities[fr.FirstName+"|"+fr.LastName+"|"+fr.DateOfBirth.String()]++
		}
	}
	s.Equal(issues, rep.Summary.IssueRecords)

	total := 0
	for _, fc := range rep.FlagCounts {
		total += fc.Count
	}
	s.Equal(len(records), total)

	dupes := 0
	for _, n := range identities {
		if n > 1 {
			dupes++
		}
	}
	s.Equal(dupes, len(rep.Duplicates))
	for _, g := range rep.Duplicates {
		s.Equal(identities[g.FirstName+"|"+g.LastName+"|"+g.DateOfBirth.String()], g.RecordCount)
	}
}

func (s *AuditSuite) TestDiskBackendsAgreeWithMemory() {
	records, _ := generator.New(generator.DefaultConfig()).Generate()
	want := s.run(records...)

	for _, backend := range []string{state.BackendPebble, state.BackendBadger} {
		s.Run(backend, func() {
			got, err := New(backend, s.T().TempDir(), nil).Run(records)
			s.Require().NoError(err)
			if diff := cmp.Diff(want, got); diff != "" {
				s.Failf("report differs", "(-memory +%s):\n%s", backend, diff)
			}
		})
	}
}

func (s *AuditSuite) TestOutputsAreByteIdenticalAcrossRuns() {
	dir := s.T().TempDir()
	input := filepath.Join(dir, model.SyntheticDataFile)
	records, _ := generator.New(generator.DefaultConfig()).Generate()
	s.Require().NoError(dataset.WriteTable(input, records))

	runOnce := func(sub string) Outputs {
		out := Outputs{
			Flagged:    filepath.Join(dir, sub, model.FlaggedRecordsFile),
			Summary:    filepath.Join(dir, sub, model.QualitySummaryFile),
			Duplicates: filepath.Join(dir, sub, model.DuplicatePatientFile),
		}
		s.Require().NoError(os.MkdirAll(filepath.Join(dir, sub), 0o755))
		loaded, err := dataset.ReadRecords(input)
		s.Require().NoError(err)
		rep, err := s.auditor.Run(loaded)
		s.Require().NoError(err)
		written, err := out.Write(rep)
		s.Require().NoError(err)
		s.Len(written, 3)
		return out
	}
	first, second := runOnce("a"), runOnce("b")

	for _, pair := range [][2]string{
		{first.Flagged, second.Flagged},
		{first.Summary, second.Summary},
		{first.Duplicates, second.Duplicates},
	} {
		a, err := os.ReadFile(pair[0])
		s.Require().NoError(err)
		b, err := os.ReadFile(pair[1])
		s.Require().NoError(err)
		s.Equal(string(a), string(b), "%s differs between runs", filepath.Base(pair[0]))
	}
}
