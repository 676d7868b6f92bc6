// Package labelmgr keeps order records, their labels and the SQL stores in
// step with the order documents.
package labelmgr

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"fishfry/internal/changefeed"
	"fishfry/internal/docstore"
	"fishfry/internal/label"
	"fishfry/internal/logging"
	"fishfry/internal/metrics"
	"fishfry/internal/order"
	"fishfry/internal/orderstore"
	"fishfry/internal/syncengine"
)

type Repository interface {
	Upsert(ctx context.Context, rec *order.Record) error
	Get(ctx context.Context, id string) (*order.Record, error)
}

// Source yields change events, e.g. a *changefeed.Queue.
type Source interface {
	Next(ctx context.Context) (changefeed.Event, error)
}

type Manager struct {
	col      *docstore.Collection
	deriver  *order.Deriver
	engine   *syncengine.Engine
	renderer label.Renderer
	blobs    label.BlobStore
	primary  Repository
	mirror   Repository
	log      logrus.FieldLogger
	metrics  *metrics.Registry
	retries  int
}

type Option func(*Manager)

func WithLogger(l logrus.FieldLogger) Option { return func(m *Manager) { m.log = l } }

func WithMetrics(r *metrics.Registry) Option { return func(m *Manager) { m.metrics = r } }

// WithMirror adds the spreadsheet mirror written beside the primary store.
func WithMirror(r Repository) Option { return func(m *Manager) { m.mirror = r } }

// WithRetries sets how many times Run retries a failing event.
func WithRetries(n int) Option { return func(m *Manager) { m.retries = n } }

func New(col *docstore.Collection, deriver *order.Deriver, engine *syncengine.Engine,
	renderer label.Renderer, blobs label.BlobStore, primary Repository, opts ...Option) *Manager {
	m := &Manager{
		col:      col,
		deriver:  deriver,
		engine:   engine,
		renderer: renderer,
		blobs:    blobs,
		primary:  primary,
		log:      logging.Discard(),
		retries:  3,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// HandleEvent applies one change event. A missing document is returned as
// an error so the event is redelivered.
func (m *Manager) HandleEvent(ctx context.Context, e changefeed.Event) error {
	switch e.Kind {
	case changefeed.Created:
		return m.Rebuild(ctx, e.ID)
	case changefeed.Updated:
		return m.updated(ctx, e)
	}
	return errors.Errorf("labelmgr: unknown event kind %q", e.Kind)
}

// HandleMessage decodes a change event read from Kafka.
func (m *Manager) HandleMessage(ctx context.Context, _ string, value []byte) error {
	e, err := changefeed.Decode(value)
	if err != nil {
		return err
	}
	return m.HandleEvent(ctx, e)
}

// Rebuild derives the record from scratch, renders its label and writes it
// to both stores.
func (m *Manager) Rebuild(ctx context.Context, id string) error {
	env, err := m.col.Fetch(ctx, id)
	if err != nil {
		return err
	}
	rec, err := m.deriver.NewRecord(env.Doc)
	if err != nil {
		return errors.Wrapf(err, "order %s", id)
	}
	rec.DocSeq = env.Seq
	if err := m.storeLabel(rec); err != nil {
		return err
	}
	return m.save(ctx, rec)
}

func (m *Manager) updated(ctx context.Context, e changefeed.Event) error {
	log := logging.WithOrder(m.log, e.ID)
	env, err := m.col.Fetch(ctx, e.ID)
	if err != nil {
		return err
	}
	rec, err := m.primary.Get(ctx, e.ID)
	if errors.Is(err, orderstore.ErrNotFound) {
		log.Info("update for a record that isn't stored; building it")
		return m.Rebuild(ctx, e.ID)
	}
	if err != nil {
		return err
	}
	if e.Seq <= rec.DocSeq {
		log.WithFields(logrus.Fields{"seq": e.Seq, "doc_seq": rec.DocSeq}).Debug("dropping stale change event")
		if m.metrics != nil {
			m.metrics.EventsDropped.Inc()
		}
		return nil
	}

	start := time.Now()
	regenerate := m.engine.Synchronize(rec, e.FieldPaths, env.Doc)
	if m.metrics != nil {
		m.metrics.SyncSeconds.Observe(time.Since(start).Seconds())
	}
	rec.DocSeq = e.Seq
	if regenerate || rec.LabelURL == "" {
		log.Info("update requires a new label")
		if err := m.storeLabel(rec); err != nil {
			return err
		}
	}
	return m.save(ctx, rec)
}

func (m *Manager) storeLabel(rec *order.Record) error {
	art, err := m.renderer.Render(rec)
	if err != nil {
		return err
	}
	name := label.ObjectName(m.col.Event(), rec, art.Ext)
	u, err := m.blobs.Put(name, art.Data, art.ContentType)
	if err != nil {
		return errors.Wrapf(err, "store label %s", name)
	}
	rec.LabelURL = u
	logging.WithOrder(m.log, rec.ID).WithField("label", name).Info("label stored")
	if m.metrics != nil {
		m.metrics.LabelsRendered.Inc()
	}
	return nil
}

func (m *Manager) save(ctx context.Context, rec *order.Record) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return errors.Wrap(m.primary.Upsert(gctx, rec), "primary store") })
	if m.mirror != nil {
		g.Go(func() error { return errors.Wrap(m.mirror.Upsert(gctx, rec), "mirror store") })
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if m.metrics != nil {
		m.metrics.OrdersUpserted.Inc()
	}
	return nil
}

// Run handles events from src until ctx ends or src is closed. A failing
// event is retried with a growing pause and then dropped with an error log.
func (m *Manager) Run(ctx context.Context, src Source) error {
	for {
		e, err := src.Next(ctx)
		if err != nil {
			if errors.Is(err, changefeed.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		log := logging.WithOrder(m.log, e.ID).WithFields(logrus.Fields{"kind": e.Kind, "seq": e.Seq})
		for attempt := 0; ; attempt++ {
			err = m.HandleEvent(ctx, e)
			if err == nil || attempt >= m.retries || ctx.Err() != nil {
				break
			}
			log.WithError(err).Warn("change event failed; retrying")
			select {
			case <-ctx.Done():
			case <-time.After(time.Duration(attempt+1) * 100 * time.Millisecond):
			}
		}
		if err != nil {
			log.WithError(err).Error("change event dropped")
		}
	}
}
