package issues

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/segmentio/kafka-go"

	"iisqa/internal/model"
)

// Reasons attached to an issue event.
const (
	ReasonInvalidAdminDate  = "invalid_admin_date"
	ReasonDoseSequenceError = "dose_sequence_error"
	ReasonMissingDOB        = "missing_date_of_birth"
)

// Event describes one record flagged as an issue by an audit run.
type Event struct {
	RunID              string   `json:"runId"`
	Row                int      `json:"row"`
	PatientID          string   `json:"patientId"`
	VaccineType        string   `json:"vaccineType"`
	AdministrationDate string   `json:"administrationDate"`
	Reasons            []string `json:"reasons"`
}

// FromRecords builds one event per "Issue" record. Row is 1-based, header excluded.
func FromRecords(runID string, records []model.FlaggedRecord) []Event {
	var out []Event
	for i, r := range records {
		if r.DataQualityFlag != model.FlagIssue {
			continue
		}
		var reasons []string
		if r.InvalidAdminDate {
			reasons = append(reasons, ReasonInvalidAdminDate)
		}
		if r.DoseSequenceError {
			reasons = append(reasons, ReasonDoseSequenceError)
		}
		if !r.DateOfBirth.Valid {
			reasons = append(reasons, ReasonMissingDOB)
		}
		out = append(out, Event{
			RunID:              runID,
			Row:                i + 1,
			PatientID:          r.PatientID,
			VaccineType:        r.VaccineType,
			AdministrationDate: r.AdministrationDate.String(),
			Reasons:            reasons,
		})
	}
	return out
}

// Publisher delivers a run's issue events as one batch.
type Publisher interface {
	Publish(ctx context.Context, events []Event) error
	Close() error
}

// MultiPublisher fans out batches to multiple underlying publishers.
type MultiPublisher struct {
	pubs []Publisher
}

func NewMultiPublisher(ps ...Publisher) *MultiPublisher {
	return &MultiPublisher{pubs: ps}
}

func (m *MultiPublisher) Publish(ctx context.Context, events []Event) error {
	for _, p := range m.pubs {
		if err := p.Publish(ctx, events); err != nil {
			return err
		}
	}
	return nil
}

func (m *MultiPublisher) Close() error {
	var errs []error
	for _, p := range m.pubs {
		errs = append(errs, p.Close())
	}
	return errors.Join(errs...)
}

// FileWriter appends events as JSON lines.
type FileWriter struct {
	path string
}

func NewFileWriter(dir string, filename string) (*FileWriter, error) {
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("mkdir: %w", err)
		}
	}
	return &FileWriter{path: filepath.Join(dir, filename)}, nil
}

func (w *FileWriter) Publish(_ context.Context, events []Event) error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	enc := json.NewEncoder(f)
	for i := range events {
		if err := enc.Encode(&events[i]); err != nil {
			_ = f.Close()
			return fmt.Errorf("encode: %w", err)
		}
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	return nil
}

func (w *FileWriter) Close() error { return nil }

// KafkaWriter publishes events to a Kafka topic keyed by patient. Pure-Go client (segmentio/kafka-go).
type KafkaWriter struct {
	writer kafkaMessageWriter
}

// kafkaMessageWriter abstracts kafka.Writer for testability.
type kafkaMessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// SplitBrokers turns a comma-separated bootstrap list into broker addresses.
func SplitBrokers(bootstrap string) []string {
	var brokers []string
	for _, a := range strings.Split(bootstrap, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			brokers = append(brokers, a)
		}
	}
	return brokers
}

// NewKafkaWriter creates a Kafka writer.
// bootstrap can be a comma-separated list of host:port.
func NewKafkaWriter(bootstrap string, topic string) *KafkaWriter {
	return &KafkaWriter{writer: &kafka.Writer{
		Addr:         kafka.TCP(SplitBrokers(bootstrap)...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
	}}
}

func (k *KafkaWriter) Publish(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(events))
	for i := range events {
		b, err := json.Marshal(&events[i])
		if err != nil {
			return fmt.Errorf("marshal: %w", err)
		}
		msgs = append(msgs, kafka.Message{Key: []byte(events[i].PatientID), Value: b})
	}
	if err := k.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write messages: %w", err)
	}
	return nil
}

func (k *KafkaWriter) Close() error {
	if c, ok := k.writer.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// NewKafkaWriterWith is only for tests to inject a fake writer.
func NewKafkaWriterWith(w kafkaMessageWriter) *KafkaWriter {
	return &KafkaWriter{writer: w}
}
