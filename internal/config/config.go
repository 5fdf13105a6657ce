// Package config holds the settings of the gendata and auditdata commands.
// Values come from defaults, then an optional YAML file, then explicit flags.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"iisqa/internal/generator"
	"iisqa/internal/model"
	"iisqa/internal/state"
)

// Issue sink names accepted by Auditor.IssueSink.
const (
	SinkFile    = "file"
	SinkKafka   = "kafka"
	SinkKafkaTx = "kafka-tx"
)

// Generator configures gendata.
type Generator struct {
	Output              string  `yaml:"output"`
	Records             int     `yaml:"records"`
	DuplicatePeople     int     `yaml:"duplicate_people"`
	RecordsPerDuplicate int     `yaml:"records_per_duplicate"`
	Seed                uint64  `yaml:"seed"`
	InvalidDateRate     float64 `yaml:"invalid_date_rate"`
	MissingDOBRate      float64 `yaml:"missing_dob_rate"`
	BirthStart          string  `yaml:"birth_start"`
	BirthEnd            string  `yaml:"birth_end"`
	AdminStart          string  `yaml:"admin_start"`
	AdminEnd            string  `yaml:"admin_end"`
	MetricsFile         string  `yaml:"metrics_file"`
	Debug               bool    `yaml:"debug"`
}

func DefaultGenerator() Generator {
	d := generator.DefaultConfig()
	return Generator{
		Output:              model.SyntheticDataFile,
		Records:             d.Records,
		DuplicatePeople:     d.DuplicatePeople,
		RecordsPerDuplicate: d.RecordsPerDuplicate,
		Seed:                d.Seed,
		InvalidDateRate:     d.InvalidDateRate,
		MissingDOBRate:      d.MissingDOBRate,
		BirthStart:          d.BirthWindow.Start.Format(model.DateLayout),
		BirthEnd:            d.BirthWindow.End.Format(model.DateLayout),
		AdminStart:          d.AdministrationWindow.Start.Format(model.DateLayout),
		AdminEnd:            d.AdministrationWindow.End.Format(model.DateLayout),
	}
}

// GeneratorConfig converts g into the generator's own configuration.
func (g Generator) GeneratorConfig() (generator.Config, error) {
	cfg := generator.DefaultConfig()
	cfg.Records = g.Records
	cfg.DuplicatePeople = g.DuplicatePeople
	cfg.RecordsPerDuplicate = g.RecordsPerDuplicate
	cfg.Seed = g.Seed
	cfg.InvalidDateRate = g.InvalidDateRate
	cfg.MissingDOBRate = g.MissingDOBRate

	var err error
	if cfg.BirthWindow, err = window("birth", g.BirthStart, g.BirthEnd); err != nil {
		return generator.Config{}, err
	}
	if cfg.AdministrationWindow, err = window("admin", g.AdminStart, g.AdminEnd); err != nil {
		return generator.Config{}, err
	}
	return cfg, nil
}

func window(name, start, end string) (generator.Window, error) {
	s, err := time.Parse(model.DateLayout, start)
	if err != nil {
		return generator.Window{}, fmt.Errorf("invalid %s_start: %w", name, err)
	}
	e, err := time.Parse(model.DateLayout, end)
	if err != nil {
		return generator.Window{}, fmt.Errorf("invalid %s_end: %w", name, err)
	}
	return generator.Window{Start: s, End: e}, nil
}

func (g Generator) Validate() error {
	if g.Output == "" {
		return fmt.Errorf("invalid output: must not be empty")
	}
	cfg, err := g.GeneratorConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid generator config: %w", err)
	}
	return nil
}

// Auditor configures auditdata.
type Auditor struct {
	Input              string        `yaml:"input"`
	FlaggedOutput      string        `yaml:"flagged_output"`
	SummaryOutput      string        `yaml:"summary_output"`
	DuplicatesOutput   string        `yaml:"duplicates_output"`
	CompletenessOutput string        `yaml:"completeness_output"`
	MetricsTable       string        `yaml:"metrics_table"`
	StateBackend       string        `yaml:"state_backend"`
	StateDir           string        `yaml:"state_dir"`
	IssueSink          string        `yaml:"issue_sink"`
	IssueFile          string        `yaml:"issue_file"`
	KafkaBootstrap     string        `yaml:"kafka_bootstrap"`
	IssueTopic         string        `yaml:"issue_topic"`
	TransactionalID    string        `yaml:"transactional_id"`
	ManifestDir        string        `yaml:"manifest_dir"`
	ManifestTopic      string        `yaml:"manifest_topic"`
	PublishTimeout     time.Duration `yaml:"publish_timeout"`
	MetricsFile        string        `yaml:"metrics_file"`
	Debug              bool          `yaml:"debug"`
}

func DefaultAuditor() Auditor {
	return Auditor{
		Input:            model.SyntheticDataFile,
		FlaggedOutput:    model.FlaggedRecordsFile,
		SummaryOutput:    model.QualitySummaryFile,
		DuplicatesOutput: model.DuplicatePatientFile,
		StateBackend:     state.BackendMemory,
		IssueFile:        "iis_issue_events.jsonl",
		IssueTopic:       "iis.quality.issues",
		TransactionalID:  "iisqa-auditdata",
		PublishTimeout:   30 * time.Second,
	}
}

// Sinks splits IssueSink into its sink names.
func (a Auditor) Sinks() []string {
	var out []string
	for _, s := range strings.Split(a.IssueSink, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (a Auditor) Validate() error {
	switch {
	case a.Input == "":
		return fmt.Errorf("invalid input: must not be empty")
	case a.FlaggedOutput == "" || a.SummaryOutput == "" || a.DuplicatesOutput == "":
		return fmt.Errorf("invalid output: flagged, summary and duplicates paths are required")
	}
	switch a.StateBackend {
	case state.BackendMemory, state.BackendPebble, state.BackendBadger:
	default:
		return fmt.Errorf("invalid state_backend: %q", a.StateBackend)
	}
	needKafka := a.ManifestTopic != ""
	for _, s := range a.Sinks() {
		switch s {
		case SinkFile:
			if a.IssueFile == "" {
				return fmt.Errorf("invalid issue_file: required by the file sink")
			}
		case SinkKafka, SinkKafkaTx:
			needKafka = true
			if a.IssueTopic == "" {
				return fmt.Errorf("invalid issue_topic: required by the %s sink", s)
			}
			if s == SinkKafkaTx && a.TransactionalID == "" {
				return fmt.Errorf("invalid transactional_id: required by the kafka-tx sink")
			}
		default:
			return fmt.Errorf("invalid issue_sink: unknown sink %q", s)
		}
	}
	if needKafka && a.KafkaBootstrap == "" {
		return fmt.Errorf("invalid kafka_bootstrap: required by kafka publishing")
	}
	if a.PublishTimeout <= 0 {
		return fmt.Errorf("invalid publish_timeout: must be positive")
	}
	return nil
}

type file struct {
	Generator yaml.Node `yaml:"generator"`
	Auditor   yaml.Node `yaml:"auditor"`
}

func load(path string) (file, error) {
	var f file
	data, err := os.ReadFile(path)
	if err != nil {
		return f, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("failed to parse config: %w", err)
	}
	return f, nil
}

func decode(n *yaml.Node, out any) error {
	if n.Kind == 0 {
		return nil
	}
	if err := n.Decode(out); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

// LoadGenerator overlays the generator section of the YAML file at path onto g.
// Keys absent from the file keep their current values.
func LoadGenerator(path string, g *Generator) error {
	f, err := load(path)
	if err != nil {
		return err
	}
	return decode(&f.Generator, g)
}

// LoadAuditor overlays the auditor section of the YAML file at path onto a.
func LoadAuditor(path string, a *Auditor) error {
	f, err := load(path)
	if err != nil {
		return err
	}
	return decode(&f.Auditor, a)
}

// Overlay runs load and then re-applies every flag set explicitly on fs, so
// command-line values win over the file.
func Overlay(fs *pflag.FlagSet, load func() error) error {
	changed := make(map[string]string)
	fs.Visit(func(f *pflag.Flag) { changed[f.Name] = f.Value.String() })
	if err := load(); err != nil {
		return err
	}
	for name, v := range changed {
		if err := fs.Set(name, v); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}
	return nil
}
