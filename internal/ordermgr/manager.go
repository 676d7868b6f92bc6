// Package ordermgr turns Square webhook events into order documents.
package ordermgr

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"fishfry/internal/docstore"
	"fishfry/internal/document"
	"fishfry/internal/logging"
	"fishfry/internal/metrics"
)

// Topics the manager consumes.
const (
	TopicOrderCreated    = "square.order.created"
	TopicOrderUpdated    = "square.order.updated"
	TopicPaymentUpdated  = "square.payment.updated"
	TopicCustomerUpdated = "square.customer.updated"
)

// Topics lists every topic Handle accepts.
func Topics() []string {
	return []string{TopicOrderCreated, TopicOrderUpdated, TopicPaymentUpdated, TopicCustomerUpdated}
}

var ErrUnknownTopic = errors.New("ordermgr: unknown topic")

type Manager struct {
	builder *Builder
	col     *docstore.Collection
	log     logrus.FieldLogger
	metrics *metrics.Registry
}

type Option func(*Manager)

func WithLogger(l logrus.FieldLogger) Option { return func(m *Manager) { m.log = l } }

func WithMetrics(r *metrics.Registry) Option { return func(m *Manager) { m.metrics = r } }

func NewManager(builder *Builder, col *docstore.Collection, opts ...Option) *Manager {
	m := &Manager{builder: builder, col: col, log: logging.Discard()}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Handle decodes a webhook event delivered on topic and dispatches it.
func (m *Manager) Handle(ctx context.Context, topic string, value []byte) error {
	ev, err := document.Decode(value)
	if err != nil {
		return errors.Wrap(err, "decode webhook event")
	}
	switch topic {
	case TopicOrderCreated:
		return m.OrderCreated(ctx, ev)
	case TopicOrderUpdated:
		return m.OrderUpdated(ctx, ev)
	case TopicPaymentUpdated:
		return m.PaymentUpdated(ctx, ev)
	case TopicCustomerUpdated:
		return m.CustomerUpdated(ctx, ev)
	}
	return errors.Wrap(ErrUnknownTopic, topic)
}

func eventOrderID(ev document.Document) string {
	if id, _ := ev.String("data.id"); id != "" {
		return id
	}
	id, _ := ev.String("data.object.order_created.order_id")
	return id
}

// OrderCreated stores a new document. A document that already exists is
// merged instead, so a redelivered event settles.
func (m *Manager) OrderCreated(ctx context.Context, ev document.Document) error {
	id := eventOrderID(ev)
	doc, err := m.builder.Build(ctx, id, nil, "")
	if err != nil {
		return err
	}
	err = m.create(ctx, doc)
	if errors.Is(err, docstore.ErrExists) {
		logging.WithOrder(m.log, id).Info("document already exists; merging")
		return m.Upsert(ctx, doc)
	}
	return err
}

func (m *Manager) OrderUpdated(ctx context.Context, ev document.Document) error {
	doc, err := m.builder.Build(ctx, eventOrderID(ev), nil, "")
	if err != nil {
		return err
	}
	return m.Upsert(ctx, doc)
}

func (m *Manager) PaymentUpdated(ctx context.Context, ev document.Document) error {
	payment, err := ev.Map("data.object.payment")
	if err != nil {
		return errors.Wrap(err, "payment event")
	}
	orderID, err := document.Document(payment).String("order_id")
	if err != nil {
		return errors.Wrap(err, "payment event")
	}
	doc, err := m.builder.Build(ctx, orderID, payment, "")
	if err != nil {
		return err
	}
	return m.Upsert(ctx, doc)
}

// CustomerUpdated rebuilds every document referencing the customer.
func (m *Manager) CustomerUpdated(ctx context.Context, ev document.Document) error {
	customerID, err := ev.String("data.id")
	if err != nil {
		return errors.Wrap(err, "customer event")
	}
	ids, err := m.col.FindByCustomer(ctx, customerID)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		m.log.WithField("customer_id", customerID).Info("received customer update but no documents matched")
		return nil
	}
	for _, id := range ids {
		doc, err := m.builder.Build(ctx, id, nil, customerID)
		if err != nil {
			return err
		}
		if err := m.Upsert(ctx, doc); err != nil {
			return err
		}
	}
	return nil
}

// Upsert merges doc into the stored document, or creates it when absent.
// Each section is replaced only when the incoming one is newer: the order
// by version, the payment by updated_at, the customer by version or when
// the stored customer has none.
func (m *Manager) Upsert(ctx context.Context, doc document.Document) error {
	id, err := doc.String("order.id")
	if err != nil {
		return err
	}
	log := logging.WithOrder(m.log, id)
	cur, err := m.col.Fetch(ctx, id)
	if errors.Is(err, docstore.ErrNotFound) {
		log.Info("update for a document that doesn't exist; adding it")
		return m.create(ctx, doc)
	}
	if err != nil {
		return err
	}

	fields := mergeFields(cur.Doc, doc)
	if len(fields) == 0 {
		log.Info("skipped update since newer information is already stored")
		m.count(func(r *metrics.Registry) { r.MergesSkipped.Inc() })
		return nil
	}
	_, changed, err := m.col.Update(ctx, id, fields)
	if err != nil {
		return err
	}
	if changed {
		m.count(func(r *metrics.Registry) { r.DocumentsWritten.WithLabelValues("updated").Inc() })
	}
	log.WithField("sections", sections(fields)).Info("merged square update")
	return nil
}

func (m *Manager) create(ctx context.Context, doc document.Document) error {
	if _, err := m.col.Create(ctx, doc); err != nil {
		return err
	}
	m.count(func(r *metrics.Registry) { r.DocumentsWritten.WithLabelValues("created").Inc() })
	return nil
}

func (m *Manager) count(fn func(*metrics.Registry)) {
	if m.metrics != nil {
		fn(m.metrics)
	}
}

func mergeFields(cur, in document.Document) map[string]any {
	fields := map[string]any{}
	if newer(in, cur, "order.version") {
		fields["order"] = in["order"]
	}
	curPaid, _ := cur.String("payment.updated_at")
	inPaid, _ := in.String("payment.updated_at")
	if inPaid > curPaid {
		fields["payment"] = in["payment"]
	}
	if v, err := cur.Int("customer.version"); err != nil || v == 0 || newer(in, cur, "customer.version") {
		if in.Has("customer") {
			fields["customer"] = in["customer"]
		}
	}
	return fields
}

// newer reports whether in carries a greater integer at path than cur.
// A missing stored value loses to any incoming one.
func newer(in, cur document.Document, path string) bool {
	iv, err := in.Int(path)
	if err != nil {
		return false
	}
	cv, err := cur.Int(path)
	if err != nil {
		return true
	}
	return iv > cv
}

func sections(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for _, k := range []string{"order", "customer", "payment"} {
		if _, ok := m[k]; ok {
			out = append(out, k)
		}
	}
	return out
}
