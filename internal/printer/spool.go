package printer

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

// SpoolQueue writes print jobs as files named by their job id, for a
// station running without Kafka.
type SpoolQueue struct {
	dir string
}

func NewSpoolQueue(dir string) (*SpoolQueue, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "mkdir")
	}
	return &SpoolQueue{dir: dir}, nil
}

func (q *SpoolQueue) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		id := header(m.Headers, "job_id")
		if id == "" {
			return errors.New("printer: job without job_id header")
		}
		path := filepath.Join(q.dir, id+".txt")
		if err := os.WriteFile(path+".tmp", m.Value, 0o644); err != nil {
			return errors.Wrap(err, "write job")
		}
		if err := os.Rename(path+".tmp", path); err != nil {
			return errors.Wrap(err, "rename job")
		}
	}
	return nil
}

func header(hs []kafka.Header, key string) string {
	for _, h := range hs {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
