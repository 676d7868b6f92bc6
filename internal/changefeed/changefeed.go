// Package changefeed carries committed document writes to the handlers that
// react to them and to the recovery log.
package changefeed

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"fishfry/internal/document"
)

type Kind string

const (
	Created Kind = "created"
	Updated Kind = "updated"
)

// Event describes one committed write to an order document. FieldPaths is
// the update mask of an Updated event; Value is the document after the write.
type Event struct {
	Kind       Kind              `json:"kind"`
	Collection string            `json:"collection"`
	ID         string            `json:"id"`
	Seq        int64             `json:"seq"`
	FieldPaths []string          `json:"fieldPaths,omitempty"`
	Value      document.Document `json:"value"`
	TS         int64             `json:"ts"`
}

// Decode parses an encoded event keeping document numbers as json.Number.
func Decode(b []byte) (Event, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var e Event
	if err := dec.Decode(&e); err != nil {
		return Event{}, errors.Wrap(err, "decode event")
	}
	return e, nil
}

type Writer interface {
	Append(e Event) error
}

// MultiWriter fans out writes to multiple underlying writers.
type MultiWriter struct {
	writers []Writer
}

func NewMultiWriter(ws ...Writer) *MultiWriter {
	return &MultiWriter{writers: ws}
}

func (m *MultiWriter) Append(e Event) error {
	for _, w := range m.writers {
		if err := w.Append(e); err != nil {
			return err
		}
	}
	return nil
}

// FileWriter appends events as JSON lines. The line number of an event is
// its offset for recovery.
type FileWriter struct {
	mu   sync.Mutex
	path string
}

func NewFileWriter(dir string, filename string) (*FileWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "mkdir")
	}
	return &FileWriter{path: filepath.Join(dir, filename)}, nil
}

func (w *FileWriter) Path() string { return w.path }

func (w *FileWriter) Append(e Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return errors.Wrap(err, "open")
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(&e); err != nil {
		return errors.Wrap(err, "encode")
	}
	return nil
}

// Offset returns the number of events written so far.
func (w *FileWriter) Offset() (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	b, err := os.ReadFile(w.path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "read")
	}
	return int64(bytes.Count(b, []byte("\n"))), nil
}

// KafkaWriter publishes events to a Kafka topic keyed by order id.
type KafkaWriter struct {
	writer MessageWriter
}

// MessageWriter abstracts kafka.Writer for testability.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// NewKafkaWriter creates a synchronous writer requiring acks from all replicas.
// bootstrap can be a comma-separated list of host:port.
func NewKafkaWriter(bootstrap string, topic string) *KafkaWriter {
	return &KafkaWriter{writer: NewTopicWriter(bootstrap, topic)}
}

// NewTopicWriter builds the kafka.Writer shared by every producer in the module.
func NewTopicWriter(bootstrap string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(Brokers(bootstrap)...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
}

// Brokers splits a comma-separated bootstrap list.
func Brokers(bootstrap string) []string {
	var brokers []string
	for _, a := range strings.Split(bootstrap, ",") {
		if a = strings.TrimSpace(a); a != "" {
			brokers = append(brokers, a)
		}
	}
	return brokers
}

func (k *KafkaWriter) Append(e Event) error {
	b, err := json.Marshal(&e)
	if err != nil {
		return errors.Wrap(err, "marshal")
	}
	return k.writer.WriteMessages(
		context.Background(),
		kafka.Message{Key: []byte(e.ID), Value: b},
	)
}

// NewKafkaWriterWith is only for tests to inject a fake writer.
func NewKafkaWriterWith(w MessageWriter) *KafkaWriter {
	return &KafkaWriter{writer: w}
}
