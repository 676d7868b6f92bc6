package docstore

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"fishfry/internal/changefeed"
	"fishfry/internal/document"
	"fishfry/internal/logging"
)

var (
	ErrNotFound = errors.New("docstore: document not found")
	ErrExists   = errors.New("docstore: document already exists")
)

// CounterStart is the value before the first order number of an event.
const CounterStart = 1000

// OrderKey is the store key of an order document within an event.
func OrderKey(event, id string) string { return ordersPrefix(event) + id }

// CounterKey is the store key of an event's order counter.
func CounterKey(event string) string { return "events/" + event + "/order_counter" }

func ordersPrefix(event string) string { return "events/" + event + "/orders/" }

// Collection is the order collection of one event. Writes are serialized and
// every committed write is appended to the change feed.
type Collection struct {
	mu    sync.Mutex
	st    Store
	event string
	feed  changefeed.Writer
	log   logrus.FieldLogger
	now   func() time.Time
}

type CollectionOption func(*Collection)

func WithCollectionLogger(l logrus.FieldLogger) CollectionOption {
	return func(c *Collection) { c.log = l }
}

func WithClock(now func() time.Time) CollectionOption {
	return func(c *Collection) { c.now = now }
}

func NewCollection(st Store, event string, feed changefeed.Writer, opts ...CollectionOption) *Collection {
	c := &Collection{st: st, event: event, feed: feed, log: logging.Discard(), now: time.Now}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Collection) Event() string { return c.event }

// Create stores a new order document and assigns its order_number.
func (c *Collection) Create(ctx context.Context, doc document.Document) (Envelope, error) {
	if err := ctx.Err(); err != nil {
		return Envelope{}, err
	}
	id, err := doc.String("order.id")
	if err != nil {
		return Envelope{}, errors.Wrap(err, "create")
	}
	doc, err = doc.Normalize()
	if err != nil {
		return Envelope{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	key := OrderKey(c.event, id)
	if _, ok, err := c.st.Get(key); err != nil {
		return Envelope{}, err
	} else if ok {
		return Envelope{}, errors.Wrapf(ErrExists, "order %s", id)
	}
	n, err := c.st.Increment(CounterKey(c.event), CounterStart)
	if err != nil {
		return Envelope{}, errors.Wrap(err, "order counter")
	}
	if err := doc.Set("order_number", n); err != nil {
		return Envelope{}, err
	}
	doc, err = doc.Normalize()
	if err != nil {
		return Envelope{}, err
	}
	_, env, err := c.st.Put(key, doc, 1)
	if err != nil {
		return Envelope{}, err
	}
	logging.WithOrder(c.log, id).WithField("order_number", n).Info("document committed")
	return env, c.emit(changefeed.Event{Kind: changefeed.Created, ID: id, Seq: env.Seq, Value: env.Doc})
}

// Fetch returns the stored document, or ErrNotFound.
func (c *Collection) Fetch(ctx context.Context, id string) (Envelope, error) {
	if err := ctx.Err(); err != nil {
		return Envelope{}, err
	}
	env, ok, err := c.st.Get(OrderKey(c.event, id))
	if err != nil {
		return Envelope{}, err
	}
	if !ok {
		return Envelope{}, errors.Wrapf(ErrNotFound, "order %s", id)
	}
	return env, nil
}

// Update sets each dotted field path to its value. The update mask is the
// set of leaf paths whose value changed; an empty mask writes nothing and
// reports changed=false.
func (c *Collection) Update(ctx context.Context, id string, fields map[string]any) (env Envelope, changed bool, err error) {
	if err := ctx.Err(); err != nil {
		return Envelope{}, false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	key := OrderKey(c.event, id)
	cur, ok, err := c.st.Get(key)
	if err != nil {
		return Envelope{}, false, err
	}
	if !ok {
		return Envelope{}, false, errors.Wrapf(ErrNotFound, "order %s", id)
	}

	next := cur.Doc.Clone()
	for path, v := range fields {
		if err := next.Set(path, v); err != nil {
			return Envelope{}, false, errors.Wrapf(err, "update %s", path)
		}
	}
	next, err = next.Normalize()
	if err != nil {
		return Envelope{}, false, err
	}
	mask := document.Diff(cur.Doc, next)
	if len(mask) == 0 {
		return cur, false, nil
	}
	_, env, err = c.st.Put(key, next, cur.Seq+1)
	if err != nil {
		return Envelope{}, false, err
	}
	logging.WithOrder(c.log, id).WithField("field_paths", mask).Debug("document updated")
	return env, true, c.emit(changefeed.Event{Kind: changefeed.Updated, ID: id, Seq: env.Seq, FieldPaths: mask, Value: env.Doc})
}

// FindByCustomer lists the ids of orders referencing customerID either as
// the stored customer or as the order's customer_id.
func (c *Collection) FindByCustomer(ctx context.Context, customerID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix := ordersPrefix(c.event)
	var ids []string
	err := c.st.Range(prefix, func(key string, env Envelope) error {
		a, _ := env.Doc.String("customer.id")
		b, _ := env.Doc.String("order.customer_id")
		if customerID != "" && (a == customerID || b == customerID) {
			ids = append(ids, strings.TrimPrefix(key, prefix))
		}
		return nil
	})
	return ids, err
}

// Range visits every order document of the event.
func (c *Collection) Range(ctx context.Context, fn func(id string, env Envelope) error) error {
	prefix := ordersPrefix(c.event)
	return c.st.Range(prefix, func(key string, env Envelope) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return fn(strings.TrimPrefix(key, prefix), env)
	})
}

func (c *Collection) emit(e changefeed.Event) error {
	if c.feed == nil {
		return nil
	}
	e.Collection = c.event
	e.TS = c.now().UTC().UnixMilli()
	return errors.Wrapf(c.feed.Append(e), "append change event for %s", e.ID)
}

// ApplyEvent replays a change event into st. Created events also move the
// event's order counter forward so later creates never reuse a number.
func ApplyEvent(st Store, e changefeed.Event) (bool, error) {
	if e.ID == "" || e.Collection == "" {
		return false, errors.Errorf("docstore: change event without id or collection: %+v", e)
	}
	applied, _, err := st.Put(OrderKey(e.Collection, e.ID), e.Value, e.Seq)
	if err != nil {
		return false, err
	}
	if e.Kind == changefeed.Created {
		if n, err := e.Value.Int("order_number"); err == nil {
			if _, _, err := st.Put(CounterKey(e.Collection), counterEnvelope(n).Doc, n); err != nil {
				return applied, err
			}
		}
	}
	return applied, nil
}
