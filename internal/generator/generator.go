// Package generator builds synthetic immunization registry extracts with
// known data quality defects planted in them.
package generator

import (
	"errors"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v7"

	"iisqa/internal/model"
)

// Window is an inclusive range of calendar days.
type Window struct {
	Start time.Time
	End   time.Time
}

// Days returns the number of whole days between Start and End.
func (w Window) Days() int {
	return int(w.End.Sub(w.Start).Hours() / 24)
}

// Config controls the volume and defect rates of a generated table.
type Config struct {
	Records              int
	DuplicatePeople      int
	RecordsPerDuplicate  int
	Seed                 uint64
	InvalidDateRate      float64
	MissingDOBRate       float64
	BirthWindow          Window
	AdministrationWindow Window
	MinInvalidOffsetDays int
	MaxInvalidOffsetDays int
	MaxPatientNumber     int
}

// DefaultConfig mirrors the registry extract used for audit demos.
func DefaultConfig() Config {
	return Config{
		Records:             1000,
		DuplicatePeople:     50,
		RecordsPerDuplicate: 6,
		Seed:                42,
		InvalidDateRate:     0.05,
		MissingDOBRate:      0.03,
		BirthWindow: Window{
			Start: time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		AdministrationWindow: Window{
			Start: time.Date(2016, 1, 1, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		MinInvalidOffsetDays: 1,
		MaxInvalidOffsetDays: 100,
		MaxPatientNumber:     500,
	}
}

// Validate rejects configurations that cannot produce a table.
func (c Config) Validate() error {
	switch {
	case c.Records < 0:
		return errors.New("records must be >= 0")
	case c.DuplicatePeople < 0:
		return errors.New("duplicate people must be >= 0")
	case c.RecordsPerDuplicate < 0:
		return errors.New("records per duplicate must be >= 0")
	case c.Seed == 0:
		return errors.New("seed must be non-zero")
	case c.InvalidDateRate < 0 || c.InvalidDateRate > 1:
		return fmt.Errorf("invalid date rate %v out of [0,1]", c.InvalidDateRate)
	case c.MissingDOBRate < 0 || c.MissingDOBRate > 1:
		return fmt.Errorf("missing dob rate %v out of [0,1]", c.MissingDOBRate)
	case c.BirthWindow.Days() < 0:
		return errors.New("birth window ends before it starts")
	case c.AdministrationWindow.Days() < 0:
		return errors.New("administration window ends before it starts")
	case c.MinInvalidOffsetDays < 1 || c.MaxInvalidOffsetDays < c.MinInvalidOffsetDays:
		return fmt.Errorf("invalid offset range [%d,%d]", c.MinInvalidOffsetDays, c.MaxInvalidOffsetDays)
	case c.MaxPatientNumber < 1:
		return errors.New("max patient number must be >= 1")
	}
	return nil
}

// Stats counts what a Generate call planted.
type Stats struct {
	DuplicateSeeded int
	Random          int
	MissingDOB      int
	InvalidSeeded   int
}

type identity struct {
	firstName string
	lastName  string
	dob       model.Date
}

// Generator produces deterministic tables for a given Config.
type Generator struct {
	cfg   Config
	faker *gofakeit.Faker
}

// New returns a generator seeded from cfg.Seed.
func New(cfg Config) *Generator {
	return &Generator{cfg: cfg, faker: gofakeit.New(cfg.Seed)}
}

// Generate builds the table: duplicate identities first, then random records
// until cfg.Records rows exist.
func (g *Generator) Generate() ([]model.VaccinationRecord, Stats) {
	var stats Stats
	people := make([]identity, 0, g.cfg.DuplicatePeople)
	for i := 0; i < g.cfg.DuplicatePeople; i++ {
		people = append(people, identity{
			firstName: g.faker.RandomString(model.FirstNames),
			lastName:  g.faker.RandomString(model.LastNames),
			dob:       g.randomDate(g.cfg.BirthWindow),
		})
	}

	records := make([]model.VaccinationRecord, 0, max(g.cfg.Records, len(people)*g.cfg.RecordsPerDuplicate))
	for _, p := range people {
		for j := 0; j < g.cfg.RecordsPerDuplicate; j++ {
			admin := g.randomDate(g.cfg.AdministrationWindow)
			if g.faker.Float64() < g.cfg.InvalidDateRate {
				offset := g.faker.Number(g.cfg.MinInvalidOffsetDays, g.cfg.MaxInvalidOffsetDays)
				admin = model.DateOf(p.dob.Time.AddDate(0, 0, -offset))
				stats.InvalidSeeded++
			}
			records = append(records, g.record(p, admin))
			stats.DuplicateSeeded++
		}
	}

	for len(records) < g.cfg.Records {
		dob := g.randomDate(g.cfg.BirthWindow)
		p := identity{
			firstName: g.faker.RandomString(model.FirstNames),
			lastName:  g.faker.RandomString(model.LastNames),
		}
		if g.faker.Float64() >= g.cfg.MissingDOBRate {
			p.dob = dob
		} else {
			stats.MissingDOB++
		}
		records = append(records, g.record(p, g.randomDate(g.cfg.AdministrationWindow)))
		stats.Random++
	}
	return records, stats
}

func (g *Generator) record(p identity, admin model.Date) model.VaccinationRecord {
	return model.VaccinationRecord{
		PatientID:          fmt.Sprintf("P%d", g.faker.Number(1, g.cfg.MaxPatientNumber)),
		FirstName:          p.firstName,
		LastName:           p.lastName,
		DateOfBirth:        p.dob,
		Sex:                model.Sex(g.faker.RandomString(model.Sexes)),
		ZipCode:            g.faker.RandomString(model.ZipCodes),
		VaccineType:        g.faker.RandomString(model.Vaccines),
		DoseNumber:         model.DoseNumbers[g.faker.Number(0, len(model.DoseNumbers)-1)],
		AdministrationDate: admin,
		ProviderID:         g.faker.RandomString(model.Providers),
	}
}

func (g *Generator) randomDate(w Window) model.Date {
	return model.DateOf(w.Start.AddDate(0, 0, g.faker.Number(0, w.Days())))
}
