package changefeed

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// ErrClosed is returned when appending to a closed queue.
var ErrClosed = errors.New("changefeed: queue closed")

// Queue delivers events in-process, for single-node runs without Kafka.
// Append blocks while the buffer is full, until Close.
type Queue struct {
	ch   chan Event
	done chan struct{}
	once sync.Once
}

func NewQueue(size int) *Queue {
	return &Queue{ch: make(chan Event, size), done: make(chan struct{})}
}

func (q *Queue) Append(e Event) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}
	select {
	case q.ch <- e:
		return nil
	case <-q.done:
		return ErrClosed
	}
}

// Next waits for the next event. It returns ErrClosed once the queue is
// closed and drained.
func (q *Queue) Next(ctx context.Context) (Event, error) {
	select {
	case e := <-q.ch:
		return e, nil
	case <-q.done:
		select {
		case e := <-q.ch:
			return e, nil
		default:
			return Event{}, ErrClosed
		}
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// Close unblocks pending appends. Buffered events remain readable.
func (q *Queue) Close() {
	q.once.Do(func() { close(q.done) })
}
