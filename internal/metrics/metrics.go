package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"iisqa/internal/generator"
	"iisqa/internal/model"
)

// Origins of generated records.
const (
	OriginDuplicate = "duplicate"
	OriginRandom    = "random"
)

type Registry struct {
	reg *prometheus.Registry

	// Generator
	Generated      *prometheus.CounterVec
	GenMissingDOB  prometheus.Counter
	GenInvalidDate prometheus.Counter

	// Auditor
	Records            prometheus.Gauge
	IssueRecords       prometheus.Gauge
	MissingDOB         prometheus.Gauge
	InvalidAdminDates  prometheus.Gauge
	DoseSequenceErrors prometheus.Gauge
	DuplicateGroups    prometheus.Gauge
	FlagRecords        *prometheus.GaugeVec
	FieldMissingRate   *prometheus.GaugeVec
	IssuesPublished    prometheus.Counter
	RunSeconds         prometheus.Gauge
}

func NewRegistry() *Registry {
	r := prometheus.NewRegistry()
	generated := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "iisqa_generated_records_total"}, []string{"origin"})
	genMissing := prometheus.NewCounter(prometheus.CounterOpts{Name: "iisqa_generated_missing_dob_total"})
	genInvalid := prometheus.NewCounter(prometheus.CounterOpts{Name: "iisqa_generated_invalid_dates_total"})

	records := prometheus.NewGauge(prometheus.GaugeOpts{Name: "iisqa_audit_records"})
	issues := prometheus.NewGauge(prometheus.GaugeOpts{Name: "iisqa_audit_issue_records"})
	missing := prometheus.NewGauge(prometheus.GaugeOpts{Name: "iisqa_audit_missing_dob_records"})
	invalid := prometheus.NewGauge(prometheus.GaugeOpts{Name: "iisqa_audit_invalid_admin_dates"})
	seqErrs := prometheus.NewGauge(prometheus.GaugeOpts{Name: "iisqa_audit_dose_sequence_errors"})
	dupes := prometheus.NewGauge(prometheus.GaugeOpts{Name: "iisqa_audit_duplicate_groups"})
	flags := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "iisqa_audit_flag_records"}, []string{"flag"})
	missingRate := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "iisqa_field_missing_rate"}, []string{"field"})
	published := prometheus.NewCounter(prometheus.CounterOpts{Name: "iisqa_issue_events_published_total"})
	runSeconds := prometheus.NewGauge(prometheus.GaugeOpts{Name: "iisqa_run_duration_seconds"})

	r.MustRegister(generated, genMissing, genInvalid,
		records, issues, missing, invalid, seqErrs, dupes, flags, missingRate, published, runSeconds)
	return &Registry{
		reg:                r,
		Generated:          generated,
		GenMissingDOB:      genMissing,
		GenInvalidDate:     genInvalid,
		Records:            records,
		IssueRecords:       issues,
		MissingDOB:         missing,
		InvalidAdminDates:  invalid,
		DoseSequenceErrors: seqErrs,
		DuplicateGroups:    dupes,
		FlagRecords:        flags,
		FieldMissingRate:   missingRate,
		IssuesPublished:    published,
		RunSeconds:         runSeconds,
	}
}

func (r *Registry) ObserveGeneration(s generator.Stats) {
	r.Generated.WithLabelValues(OriginDuplicate).Add(float64(s.DuplicateSeeded))
	r.Generated.WithLabelValues(OriginRandom).Add(float64(s.Random))
	r.GenMissingDOB.Add(float64(s.MissingDOB))
	r.GenInvalidDate.Add(float64(s.InvalidSeeded))
}

func (r *Registry) ObserveAudit(sum model.Summary, flags []model.FlagCount, fields []model.FieldCompleteness) {
	r.Records.Set(float64(sum.TotalRecords))
	r.IssueRecords.Set(float64(sum.IssueRecords))
	r.MissingDOB.Set(float64(sum.MissingDOB))
	r.InvalidAdminDates.Set(float64(sum.InvalidAdminDates))
	r.DoseSequenceErrors.Set(float64(sum.DoseSequenceErrors))
	r.DuplicateGroups.Set(float64(sum.DuplicateGroups))
	r.FlagRecords.Reset()
	for _, f := range flags {
		r.FlagRecords.WithLabelValues(f.DataQualityFlag).Set(float64(f.Count))
	}
	for _, f := range fields {
		r.FieldMissingRate.WithLabelValues(f.Field).Set(f.MissingRate)
	}
}

func (r *Registry) ObserveRun(d time.Duration) { r.RunSeconds.Set(d.Seconds()) }

// WriteTextfile dumps all metrics in the text exposition format for a
// node_exporter textfile collector. An empty path is a no-op.
func (r *Registry) WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, r.reg); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}
