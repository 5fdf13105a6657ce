// Package manifest records what an audit run read and wrote.
package manifest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/segmentio/kafka-go"
)

// LatestFile is the name of the manifest written under the manifest directory.
const LatestFile = "manifest.latest.json"

// DefaultKafkaKey keys manifest records on a compacted topic.
const DefaultKafkaKey = "iisqa-manifest-latest"

type RunManifest struct {
	RunID       string   `json:"runId"`
	Input       string   `json:"input"`
	InputSHA256 string   `json:"inputSha256"`
	Records     int      `json:"records"`
	Issues      int      `json:"issues"`
	Outputs     []string `json:"outputs"`
	CreatedAt   int64    `json:"createdAt"`
}

// SameInput reports whether both runs audited byte-identical input.
func (m RunManifest) SameInput(o RunManifest) bool {
	return m.InputSHA256 != "" && m.InputSHA256 == o.InputSHA256
}

// HashFile returns the hex SHA-256 of the file at path.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open: %w", err)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

type Publisher interface {
	PublishLatest(ctx context.Context, m RunManifest) error
}

// MultiPublisher writes to multiple publishers sequentially.
type MultiPublisherImpl struct {
	pubs []Publisher
}

func MultiPublisher(pubs ...Publisher) Publisher {
	return &MultiPublisherImpl{pubs: pubs}
}

func (m *MultiPublisherImpl) PublishLatest(ctx context.Context, rm RunManifest) error {
	for _, p := range m.pubs {
		if err := p.PublishLatest(ctx, rm); err != nil {
			return err
		}
	}
	return nil
}

type Reader interface {
	ReadLatest() (RunManifest, error)
}

type FilesystemManifest struct {
	baseDir string
}

func NewFilesystemManifest(baseDir string) *FilesystemManifest {
	return &FilesystemManifest{baseDir: baseDir}
}

// PublishLatest replaces the latest manifest. Readers never see a partial file.
func (f *FilesystemManifest) PublishLatest(_ context.Context, m RunManifest) error {
	if err := os.MkdirAll(f.baseDir, 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	out, err := os.CreateTemp(f.baseDir, LatestFile+".*.tmp")
	if err != nil {
		return fmt.Errorf("create: %w", err)
	}
	tmp := out.Name()
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(&m); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("encode: %w", err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(f.baseDir, LatestFile)); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

// ReadLatest returns the latest manifest. A missing file yields an error
// matching fs.ErrNotExist.
func (f *FilesystemManifest) ReadLatest() (RunManifest, error) {
	data, err := os.ReadFile(filepath.Join(f.baseDir, LatestFile))
	if err != nil {
		return RunManifest{}, fmt.Errorf("read manifest: %w", err)
	}
	var m RunManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return RunManifest{}, fmt.Errorf("unmarshal manifest: %w", err)
	}
	return m, nil
}

// KafkaManifest publishes the latest manifest as a compacted Kafka record.
type KafkaManifest struct {
	writer kafkaMessageWriter
	key    []byte
}

// kafkaMessageWriter abstracts kafka.Writer for testability.
type kafkaMessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// NewKafkaManifest creates a Kafka manifest publisher.
// bootstrap can be comma-separated brokers.
func NewKafkaManifest(bootstrap string, topic string, key string) *KafkaManifest {
	var brokers []string
	for _, a := range strings.Split(bootstrap, ",") {
		if a = strings.TrimSpace(a); a != "" {
			brokers = append(brokers, a)
		}
	}
	return &KafkaManifest{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}, key: []byte(key)}
}

func (k *KafkaManifest) PublishLatest(ctx context.Context, m RunManifest) error {
	b, err := json.Marshal(&m)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	if err := k.writer.WriteMessages(ctx, kafka.Message{Key: k.key, Value: b}); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

func (k *KafkaManifest) Close() error {
	if c, ok := k.writer.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// NewKafkaManifestWith is only for tests to inject a fake writer.
func NewKafkaManifestWith(w kafkaMessageWriter, key string) *KafkaManifest {
	return &KafkaManifest{writer: w, key: []byte(key)}
}
