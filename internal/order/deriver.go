package order

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"fishfry/internal/document"
	"fishfry/internal/logging"
)

// ErrMissingOrderID is returned when a document has no usable order.id.
var ErrMissingOrderID = errors.New("order: document has no order.id")

// RuleHook observes every rule execution.
type RuleHook func(id RuleID, labelAffecting bool, err error)

type Option func(*Deriver)

// WithRuleHook registers a hook called after each rule runs.
func WithRuleHook(h RuleHook) Option {
	return func(d *Deriver) { d.hooks = append(d.hooks, h) }
}

// Deriver computes record attributes from normalized documents.
// It is safe for concurrent use; records are not.
type Deriver struct {
	menu  Menu
	log   logrus.FieldLogger
	hooks []RuleHook
}

func NewDeriver(menu Menu, log logrus.FieldLogger, opts ...Option) *Deriver {
	if log == nil {
		log = logging.Discard()
	}
	d := &Deriver{menu: menu, log: log}
	for _, o := range opts {
		o(d)
	}
	return d
}

func (d *Deriver) Menu() Menu { return d.menu }

// NewRecord builds a record by running every rule against doc.
func (d *Deriver) NewRecord(doc document.Document) (*Record, error) {
	id, err := doc.String("order.id")
	if err != nil || id == "" {
		return nil, ErrMissingOrderID
	}
	r := &Record{Counts: make(Counters, len(d.menu.Counters)), Status: Placed}
	for _, c := range d.menu.Counters {
		r.Counts[c] = 0
	}
	d.Apply(r, doc, AllRules())
	return r, nil
}

// Apply runs each named rule once, in first-seen order, and reports whether
// any rule that succeeded affects the label. A failing rule keeps the prior
// attribute value and is logged; the remaining rules still run.
func (d *Deriver) Apply(r *Record, doc document.Document, ids []RuleID) bool {
	seen := make(map[RuleID]struct{}, len(ids))
	regenerate := false
	for _, id := range ids {
		if !id.valid() {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		rl := rules[id]
		err := d.run(rl, r, doc)
		if err != nil {
			logging.WithOrder(d.log, r.ID).WithError(err).WithField("rule", id.String()).
				Warn("derivation failed; keeping previous value")
		} else if rl.labelAffecting {
			regenerate = true
		}
		for _, h := range d.hooks {
			h(id, rl.labelAffecting, err)
		}
	}
	return regenerate
}

// run derives into a scratch copy so a failing rule leaves r untouched.
func (d *Deriver) run(rl rule, r *Record, doc document.Document) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errors.Errorf("rule panicked: %v", p)
		}
	}()
	scratch := r.Clone()
	if err := rl.derive(&d.menu, scratch, doc); err != nil {
		return err
	}
	*r = *scratch
	return nil
}
