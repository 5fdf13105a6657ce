package issues

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/segmentio/kafka-go"
	"go.uber.org/goleak"

	"iisqa/internal/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func sampleEvents() []Event {
	return []Event{
		{RunID: "r1", Row: 3, PatientID: "P1", VaccineType: "MMR", AdministrationDate: "2020-01-01", Reasons: []string{ReasonDoseSequenceError}},
		{RunID: "r1", Row: 9, PatientID: "P2", VaccineType: "HepB", AdministrationDate: "2017-01-01", Reasons: []string{ReasonInvalidAdminDate}},
	}
}

func readLines(t *testing.T, path string) []Event {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open file: %v", err)
	}
	defer f.Close()

	s := bufio.NewScanner(f)
	var got []Event
	for s.Scan() {
		var e Event
		if err := json.Unmarshal(s.Bytes(), &e); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		got = append(got, e)
	}
	if err := s.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	return got
}

func TestFromRecords(t *testing.T) {
	dob, _ := model.ParseDate("2018-01-01")
	admin, _ := model.ParseDate("2017-06-01")
	base := model.VaccinationRecord{PatientID: "P1", VaccineType: "MMR", DateOfBirth: dob, AdministrationDate: admin}

	noDOB := base
	noDOB.PatientID = "P2"
	noDOB.DateOfBirth = model.Date{}

	records := []model.FlaggedRecord{
		{VaccinationRecord: base, DataQualityFlag: model.FlagValid},
		{VaccinationRecord: base, InvalidAdminDate: true, DoseSequenceError: true, DataQualityFlag: model.FlagIssue},
		{VaccinationRecord: noDOB, DataQualityFlag: model.FlagIssue},
	}

	want := []Event{
		{RunID: "run", Row: 2, PatientID: "P1", VaccineType: "MMR", AdministrationDate: "2017-06-01",
			Reasons: []string{ReasonInvalidAdminDate, ReasonDoseSequenceError}},
		{RunID: "run", Row: 3, PatientID: "P2", VaccineType: "MMR", AdministrationDate: "2017-06-01",
			Reasons: []string{ReasonMissingDOB}},
	}
	if diff := cmp.Diff(want, FromRecords("run", records)); diff != "" {
		t.Fatalf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestFileWriter_AppendsAcrossBatches(t *testing.T) {
	dir := t.TempDir()
	w, err := NewFileWriter(filepath.Join(dir, "out"), "issues.jsonl")
	if err != nil {
		t.Fatalf("NewFileWriter: %v", err)
	}
	events := sampleEvents()
	if err := w.Publish(context.Background(), events[:1]); err != nil {
		t.Fatalf("publish1: %v", err)
	}
	if err := w.Publish(context.Background(), events[1:]); err != nil {
		t.Fatalf("publish2: %v", err)
	}

	got := readLines(t, filepath.Join(dir, "out", "issues.jsonl"))
	if diff := cmp.Diff(events, got); diff != "" {
		t.Fatalf("lines mismatch (-want +got):\n%s", diff)
	}
}

// fakeKafkaWriter implements kafkaMessageWriter for tests
type fakeKafkaWriter struct {
	msgs   []kafka.Message
	calls  int
	fail   bool
	closed bool
}

func (f *fakeKafkaWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	f.calls++
	if f.fail {
		return errors.New("fail")
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeKafkaWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaWriter_Publish_OneBatchKeyedByPatient(t *testing.T) {
	fk := &fakeKafkaWriter{}
	kw := NewKafkaWriterWith(fk)
	if err := kw.Publish(context.Background(), sampleEvents()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if fk.calls != 1 || len(fk.msgs) != 2 {
		t.Fatalf("want 1 call with 2 msgs, got calls=%d msgs=%d", fk.calls, len(fk.msgs))
	}
	if string(fk.msgs[1].Key) != "P2" {
		t.Fatalf("bad key: %s", string(fk.msgs[1].Key))
	}
	var e Event
	if err := json.Unmarshal(fk.msgs[0].Value, &e); err != nil || e.Row != 3 {
		t.Fatalf("bad value: %s (%v)", fk.msgs[0].Value, err)
	}
	if err := kw.Close(); err != nil || !fk.closed {
		t.Fatalf("close: err=%v closed=%v", err, fk.closed)
	}
}

func TestKafkaWriter_Publish_EmptyBatchIsNoop(t *testing.T) {
	fk := &fakeKafkaWriter{}
	if err := NewKafkaWriterWith(fk).Publish(context.Background(), nil); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if fk.calls != 0 {
		t.Fatalf("expected no writes, got %d", fk.calls)
	}
}

func TestKafkaWriter_Publish_Fail(t *testing.T) {
	fk := &fakeKafkaWriter{fail: true}
	kw := NewKafkaWriterWith(fk)
	if err := kw.Publish(context.Background(), sampleEvents()); err == nil {
		t.Fatalf("expected error")
	}
}

func TestMultiPublisher_StopsAtFirstError(t *testing.T) {
	dir := t.TempDir()
	fw, err := NewFileWriter(dir, "issues.jsonl")
	if err != nil {
		t.Fatalf("NewFileWriter: %v", err)
	}
	bad := &fakeKafkaWriter{fail: true}
	after := &fakeKafkaWriter{}
	m := NewMultiPublisher(fw, NewKafkaWriterWith(bad), NewKafkaWriterWith(after))

	if err := m.Publish(context.Background(), sampleEvents()); err == nil {
		t.Fatalf("expected error")
	}
	if n := len(readLines(t, filepath.Join(dir, "issues.jsonl"))); n != 2 {
		t.Fatalf("file sink: want 2 lines, got %d", n)
	}
	if after.calls != 0 {
		t.Fatalf("publisher after failure should not run")
	}
	if err := m.Close(); err != nil || !bad.closed || !after.closed {
		t.Fatalf("close: err=%v", err)
	}
}

func TestSplitBrokers(t *testing.T) {
	got := SplitBrokers(" k1:9092, ,k2:9092 ")
	if diff := cmp.Diff([]string{"k1:9092", "k2:9092"}, got); diff != "" {
		t.Fatalf("brokers (-want +got):\n%s", diff)
	}
}
