// Package manifest records which snapshot is the latest and how much of the
// change feed it already covers.
package manifest

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"fishfry/internal/changefeed"
)

// DefaultKey is the compacted-topic key of the latest manifest.
const DefaultKey = "fishfry-manifest-latest"

const fileName = "manifest.latest.json"

type Manifest struct {
	SnapshotID           string `json:"snapshotId"`
	LastFeedOffset       int64  `json:"lastFeedOffset"`
	Documents            int    `json:"documents"`
	CreatedAtEpochSecond int64  `json:"createdAt"`
}

func newManifest(snapshotID string, lastFeedOffset int64, documents int) Manifest {
	return Manifest{
		SnapshotID:           snapshotID,
		LastFeedOffset:       lastFeedOffset,
		Documents:            documents,
		CreatedAtEpochSecond: time.Now().UTC().Unix(),
	}
}

type Publisher interface {
	PublishLatest(snapshotID string, lastFeedOffset int64, documents int) error
}

type Reader interface {
	ReadLatest() (Manifest, error)
}

// MultiPublisher writes to multiple publishers sequentially.
type MultiPublisher []Publisher

func (m MultiPublisher) PublishLatest(snapshotID string, lastFeedOffset int64, documents int) error {
	for _, p := range m {
		if err := p.PublishLatest(snapshotID, lastFeedOffset, documents); err != nil {
			return err
		}
	}
	return nil
}

type FilesystemManifest struct {
	baseDir string
}

func NewFilesystemManifest(baseDir string) *FilesystemManifest {
	return &FilesystemManifest{baseDir: baseDir}
}

func (f *FilesystemManifest) PublishLatest(snapshotID string, lastFeedOffset int64, documents int) error {
	if err := os.MkdirAll(f.baseDir, 0o755); err != nil {
		return errors.Wrap(err, "mkdir")
	}
	m := newManifest(snapshotID, lastFeedOffset, documents)
	b, err := json.MarshalIndent(&m, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode")
	}
	file := filepath.Join(f.baseDir, fileName)
	if err := os.WriteFile(file+".tmp", b, 0o644); err != nil {
		return errors.Wrap(err, "write")
	}
	return errors.Wrap(os.Rename(file+".tmp", file), "rename")
}

func (f *FilesystemManifest) ReadLatest() (Manifest, error) {
	data, err := os.ReadFile(filepath.Join(f.baseDir, fileName))
	if err != nil {
		return Manifest{}, errors.Wrap(err, "read manifest")
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, errors.Wrap(err, "unmarshal manifest")
	}
	return m, nil
}

// KafkaManifest publishes manifest.latest as a compacted Kafka record.
type KafkaManifest struct {
	writer changefeed.MessageWriter
	key    []byte
}

// NewKafkaManifest creates a Kafka manifest publisher.
func NewKafkaManifest(bootstrap string, topic string, key string) *KafkaManifest {
	return &KafkaManifest{writer: changefeed.NewTopicWriter(bootstrap, topic), key: []byte(key)}
}

// NewKafkaManifestWith is only for tests to inject a fake writer.
func NewKafkaManifestWith(w changefeed.MessageWriter, key string) *KafkaManifest {
	return &KafkaManifest{writer: w, key: []byte(key)}
}

func (k *KafkaManifest) PublishLatest(snapshotID string, lastFeedOffset int64, documents int) error {
	m := newManifest(snapshotID, lastFeedOffset, documents)
	b, err := json.Marshal(&m)
	if err != nil {
		return errors.Wrap(err, "marshal")
	}
	return k.writer.WriteMessages(context.Background(), kafka.Message{Key: k.key, Value: b})
}

// MessageReader abstracts kafka.Reader for testability.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// KafkaReader reads the latest manifest record from a compacted Kafka topic.
type KafkaReader struct {
	open    func() MessageReader
	key     []byte
	timeout time.Duration
}

func NewKafkaReader(brokers []string, topic string, key string) *KafkaReader {
	return &KafkaReader{
		open: func() MessageReader {
			return kafka.NewReader(kafka.ReaderConfig{
				Brokers:   brokers,
				Topic:     topic,
				Partition: 0,
				MinBytes:  1,
				MaxBytes:  10e6,
			})
		},
		key:     []byte(key),
		timeout: 10 * time.Second,
	}
}

// NewKafkaReaderWith is only for tests to inject a fake reader.
func NewKafkaReaderWith(r MessageReader, key string, timeout time.Duration) *KafkaReader {
	return &KafkaReader{open: func() MessageReader { return r }, key: []byte(key), timeout: timeout}
}

// ReadLatest scans the topic from the beginning and keeps the last record
// for the key. The scan ends when no record arrives before the timeout.
func (k *KafkaReader) ReadLatest() (Manifest, error) {
	r := k.open()
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), k.timeout)
	defer cancel()

	var last Manifest
	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			return Manifest{}, errors.Wrap(err, "read kafka")
		}
		if string(m.Key) != string(k.key) {
			continue
		}
		var man Manifest
		if err := json.Unmarshal(m.Value, &man); err != nil {
			return Manifest{}, errors.Wrap(err, "unmarshal kafka manifest")
		}
		last = man
	}
	if last.SnapshotID == "" {
		return Manifest{}, errors.New("no manifest found for key")
	}
	return last, nil
}
