// Package consumer runs handlers over Kafka topics with manual commits: an
// offset is committed only after its handler succeeded.
package consumer

import (
	"context"
	"time"

	ck "github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"fishfry/internal/logging"
	"fishfry/internal/metrics"
)

// Client is the subset of *ck.Consumer the loop uses.
type Client interface {
	SubscribeTopics(topics []string, cb ck.RebalanceCb) error
	ReadMessage(timeout time.Duration) (*ck.Message, error)
	CommitMessage(m *ck.Message) ([]ck.TopicPartition, error)
	Seek(partition ck.TopicPartition, ignoredTimeoutMs int) error
	Close() error
}

// Handler processes one message value delivered on topic.
type Handler func(ctx context.Context, topic string, value []byte) error

// New creates a consumer in groupID that starts from the earliest offset
// and never commits on its own.
func New(bootstrap, groupID string) (*ck.Consumer, error) {
	c, err := ck.NewConsumer(&ck.ConfigMap{
		"bootstrap.servers":  bootstrap,
		"group.id":           groupID,
		"enable.auto.commit": false,
		"isolation.level":    "read_committed",
		"auto.offset.reset":  "earliest",
	})
	return c, errors.Wrap(err, "consumer")
}

type Loop struct {
	c          Client
	handle     Handler
	poll       time.Duration
	retryDelay time.Duration
	log        logrus.FieldLogger
	metrics    *metrics.Registry
}

type Option func(*Loop)

func WithLogger(l logrus.FieldLogger) Option { return func(lp *Loop) { lp.log = l } }

func WithMetrics(r *metrics.Registry) Option { return func(lp *Loop) { lp.metrics = r } }

func WithPollTimeout(d time.Duration) Option { return func(lp *Loop) { lp.poll = d } }

// WithRetryDelay sets the pause before a failed message is redelivered.
func WithRetryDelay(d time.Duration) Option { return func(lp *Loop) { lp.retryDelay = d } }

func NewLoop(c Client, h Handler, opts ...Option) *Loop {
	lp := &Loop{c: c, handle: h, poll: time.Second, retryDelay: time.Second, log: logging.Discard()}
	for _, o := range opts {
		o(lp)
	}
	return lp
}

// Run subscribes to topics and processes messages until ctx is done.
func (lp *Loop) Run(ctx context.Context, topics []string) error {
	if err := lp.c.SubscribeTopics(topics, nil); err != nil {
		return errors.Wrap(err, "subscribe")
	}
	lp.log.WithField("topics", topics).Info("consuming")
	for ctx.Err() == nil {
		msg, err := lp.c.ReadMessage(lp.poll)
		if err != nil {
			var kerr ck.Error
			if errors.As(err, &kerr) {
				if kerr.Code() == ck.ErrTimedOut {
					continue
				}
				if kerr.IsFatal() {
					return errors.Wrap(err, "read message")
				}
			}
			lp.log.WithError(err).Warn("consumer error")
			continue
		}
		if err := lp.Process(ctx, msg); err != nil {
			lp.log.WithError(err).Warn("message left uncommitted")
			if !sleep(ctx, lp.retryDelay) {
				break
			}
		}
	}
	return nil
}

// Process runs the handler and commits on success. On failure it rewinds
// the partition so the same message is read again.
func (lp *Loop) Process(ctx context.Context, msg *ck.Message) error {
	topic := ""
	if msg.TopicPartition.Topic != nil {
		topic = *msg.TopicPartition.Topic
	}
	log := lp.log.WithFields(logrus.Fields{
		"topic":     topic,
		"partition": msg.TopicPartition.Partition,
		"offset":    msg.TopicPartition.Offset,
	})
	if err := lp.handle(ctx, topic, msg.Value); err != nil {
		lp.count(topic, "failed")
		log.WithError(err).Error("handler failed")
		if serr := lp.c.Seek(msg.TopicPartition, 0); serr != nil {
			return errors.Wrapf(serr, "seek after handler error %v", err)
		}
		return err
	}
	if _, err := lp.c.CommitMessage(msg); err != nil {
		lp.count(topic, "commit_failed")
		return errors.Wrap(err, "commit")
	}
	lp.count(topic, "committed")
	log.Debug("message committed")
	return nil
}

func (lp *Loop) count(topic, outcome string) {
	if lp.metrics != nil {
		lp.metrics.Consumed.WithLabelValues(topic, outcome).Inc()
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
