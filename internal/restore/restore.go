// Package restore rebuilds the document store from the latest snapshot and
// the change feed written after it.
package restore

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"fishfry/internal/changefeed"
	"fishfry/internal/docstore"
	"fishfry/internal/logging"
	"fishfry/internal/manifest"
	"fishfry/internal/snapshot"
)

// maxLine bounds a single feed line; order documents with payments and
// customers comfortably fit.
const maxLine = 4 << 20

type Restorer struct {
	st              docstore.Store
	manifestReader  manifest.Reader
	snapshotBaseDir string
	log             logrus.FieldLogger
}

func NewRestorer(st docstore.Store, mr manifest.Reader, snapshotBaseDir string, log logrus.FieldLogger) *Restorer {
	if log == nil {
		log = logging.Discard()
	}
	return &Restorer{
		st:              st,
		manifestReader:  mr,
		snapshotBaseDir: snapshotBaseDir,
		log:             log,
	}
}

type Result struct {
	Applied int
	Skipped int
	// LastOffset is the feed position after the last event read.
	LastOffset int64
	Error      error
}

func (r *Restorer) RestoreFromSnapshot(snapshotID string) (int, error) {
	if snapshotID == "" {
		return 0, nil
	}
	path := snapshot.Path(r.snapshotBaseDir, snapshotID)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			r.log.WithField("path", path).Warn("snapshot not found, skipping")
			return 0, nil
		}
		return 0, errors.Wrap(err, "read snapshot")
	}
	defer f.Close()

	dec := json.NewDecoder(bufio.NewReader(f))
	dec.UseNumber()
	var dump map[string]docstore.Envelope
	if err := dec.Decode(&dump); err != nil {
		return 0, errors.Wrap(err, "unmarshal snapshot")
	}
	if err := r.st.LoadAll(dump); err != nil {
		return 0, errors.Wrap(err, "load snapshot")
	}
	r.log.WithFields(logrus.Fields{"snapshot": snapshotID, "keys": len(dump)}).Info("loaded snapshot")
	return len(dump), nil
}

// ReplayFeed applies events from a JSONL feed file, skipping the first
// fromOffset lines.
func (r *Restorer) ReplayFeed(feedPath string, fromOffset int64) Result {
	file, err := os.Open(feedPath)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{LastOffset: fromOffset}
		}
		return Result{Error: errors.Wrap(err, "open change feed")}
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), maxLine)
	res := Result{LastOffset: fromOffset}
	var line int64

	for scanner.Scan() {
		line++
		if line <= fromOffset {
			continue
		}
		res.LastOffset = line
		e, err := changefeed.Decode(scanner.Bytes())
		if err != nil {
			res.Error = errors.Wrapf(err, "line %d", line)
			return res
		}
		if err := r.apply(&res, e); err != nil {
			res.Error = errors.Wrapf(err, "apply line %d", line)
			return res
		}
	}
	if err := scanner.Err(); err != nil {
		res.Error = errors.Wrap(err, "scan change feed")
	}
	return res
}

// MessageReader abstracts kafka.Reader for testability.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// ReplayFeedKafka consumes partition 0 of the feed topic. fromOffset counts
// messages, matching the file feed's line numbering.
func (r *Restorer) ReplayFeedKafka(brokers []string, topic string, fromOffset int64) Result {
	rd := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   brokers,
		Topic:     topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	return r.ReplayFrom(rd, fromOffset, 20*time.Second)
}

// ReplayFrom reads rd until no message arrives within idle.
func (r *Restorer) ReplayFrom(rd MessageReader, fromOffset int64, idle time.Duration) Result {
	defer rd.Close()

	res := Result{LastOffset: fromOffset}
	var idx int64
	for {
		ctx, cancel := context.WithTimeout(context.Background(), idle)
		m, err := rd.ReadMessage(ctx)
		timedOut := ctx.Err() != nil
		cancel()
		if err != nil {
			if timedOut {
				break
			}
			res.Error = errors.Wrap(err, "read kafka")
			return res
		}
		idx++
		if idx <= fromOffset {
			continue
		}
		res.LastOffset = idx
		e, err := changefeed.Decode(m.Value)
		if err != nil {
			res.Error = err
			return res
		}
		if err := r.apply(&res, e); err != nil {
			res.Error = errors.Wrap(err, "apply")
			return res
		}
	}
	return res
}

func (r *Restorer) apply(res *Result, e changefeed.Event) error {
	ok, err := docstore.ApplyEvent(r.st, e)
	if err != nil {
		return err
	}
	if ok {
		res.Applied++
	} else {
		res.Skipped++
	}
	return nil
}

// RestoreAndReplay loads the latest snapshot and replays the file feed
// written after it.
func (r *Restorer) RestoreAndReplay(feedPath string) (Result, error) {
	m, err := r.manifestReader.ReadLatest()
	if err != nil {
		return Result{}, errors.Wrap(err, "read manifest")
	}
	if _, err := r.RestoreFromSnapshot(m.SnapshotID); err != nil {
		return Result{}, errors.Wrap(err, "restore snapshot")
	}
	result := r.ReplayFeed(feedPath, m.LastFeedOffset)
	return result, result.Error
}
