package issues

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	ck "github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

const flushTimeoutMs = 15000

// txProducer is the subset of *ck.Producer used by TxKafkaWriter.
type txProducer interface {
	BeginTransaction() error
	Produce(msg *ck.Message, deliveryChan chan ck.Event) error
	Flush(timeoutMs int) int
	CommitTransaction(ctx context.Context) error
	AbortTransaction(ctx context.Context) error
	Close()
}

// TxKafkaWriter publishes each batch inside a single Kafka transaction, so a
// read_committed consumer sees either all of a run's issues or none.
type TxKafkaWriter struct {
	p     txProducer
	topic string
}

// NewTxKafkaWriter creates an idempotent transactional producer and initialises
// its transactions.
func NewTxKafkaWriter(ctx context.Context, bootstrap, topic, txID string) (*TxKafkaWriter, error) {
	p, err := ck.NewProducer(&ck.ConfigMap{
		"bootstrap.servers":  bootstrap,
		"enable.idempotence": true,
		"acks":               "all",
		"transactional.id":   txID,
	})
	if err != nil {
		return nil, fmt.Errorf("producer: %w", err)
	}
	if err := p.InitTransactions(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("init tx: %w", err)
	}
	return &TxKafkaWriter{p: p, topic: topic}, nil
}

// NewTxKafkaWriterWith is only for tests to inject a fake producer.
func NewTxKafkaWriterWith(p txProducer, topic string) *TxKafkaWriter {
	return &TxKafkaWriter{p: p, topic: topic}
}

func (w *TxKafkaWriter) Publish(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	if err := w.p.BeginTransaction(); err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	for i := range events {
		b, err := json.Marshal(&events[i])
		if err != nil {
			return w.abort(ctx, fmt.Errorf("marshal: %w", err))
		}
		msg := &ck.Message{
			TopicPartition: ck.TopicPartition{Topic: &w.topic, Partition: ck.PartitionAny},
			Key:            []byte(events[i].PatientID),
			Value:          b,
		}
		if err := w.p.Produce(msg, nil); err != nil {
			return w.abort(ctx, fmt.Errorf("produce: %w", err))
		}
	}
	if n := w.p.Flush(flushTimeoutMs); n > 0 {
		return w.abort(ctx, fmt.Errorf("flush: %d messages still queued", n))
	}
	if err := w.p.CommitTransaction(ctx); err != nil {
		return w.abort(ctx, fmt.Errorf("commit tx: %w", err))
	}
	return nil
}

func (w *TxKafkaWriter) abort(ctx context.Context, cause error) error {
	if err := w.p.AbortTransaction(ctx); err != nil {
		return errors.Join(cause, fmt.Errorf("abort tx: %w", err))
	}
	return cause
}

func (w *TxKafkaWriter) Close() error {
	w.p.Close()
	return nil
}
