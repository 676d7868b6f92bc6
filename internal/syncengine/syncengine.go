// Package syncengine decides which derivations an update needs and whether
// the printed label must be regenerated.
package syncengine

import (
	"github.com/sirupsen/logrus"

	"fishfry/internal/document"
	"fishfry/internal/fieldpath"
	"fishfry/internal/logging"
	"fishfry/internal/order"
)

// Applier runs a set of rules against a record. *order.Deriver implements it.
type Applier interface {
	Apply(r *order.Record, doc document.Document, ids []order.RuleID) bool
}

type Option func(*Engine)

// WithTable replaces the default trigger table.
func WithTable(t *fieldpath.Table[order.RuleID]) Option {
	return func(e *Engine) { e.table = t }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(e *Engine) { e.log = l }
}

// Engine is stateless apart from its configuration and may be shared.
type Engine struct {
	applier Applier
	table   *fieldpath.Table[order.RuleID]
	log     logrus.FieldLogger
}

func New(applier Applier, opts ...Option) *Engine {
	e := &Engine{applier: applier, table: order.Triggers(), log: logging.Discard()}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Rules resolves changed field paths to the rules they trigger, each once,
// in first-seen order.
func (e *Engine) Rules(fieldPaths []string) []order.RuleID {
	var ids []order.RuleID
	seen := make(map[order.RuleID]struct{})
	for _, p := range fieldPaths {
		matched := e.table.Match(p)
		if len(matched) == 0 {
			e.log.WithField("field_path", p).Debug("field path triggers no rule")
			continue
		}
		for _, id := range matched {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	return ids
}

// Synchronize recomputes the attributes governed by fieldPaths and reports
// whether the record's label must be regenerated.
func (e *Engine) Synchronize(r *order.Record, fieldPaths []string, doc document.Document) bool {
	ids := e.Rules(fieldPaths)
	if len(ids) == 0 {
		return false
	}
	regenerate := e.applier.Apply(r, doc, ids)
	logging.WithOrder(e.log, r.ID).WithFields(logrus.Fields{
		"rules":      len(ids),
		"regenerate": regenerate,
	}).Debug("record synchronized")
	return regenerate
}
