package docstore

import (
	"path/filepath"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/pkg/errors"

	"fishfry/internal/document"
)

// PebbleStore implements Store using PebbleDB.
type PebbleStore struct {
	// mu serializes read-modify-write cycles; pebble has no transactions.
	mu sync.Mutex
	db *pebble.DB
}

func NewPebbleStore(dir string) (*PebbleStore, error) {
	opts := &pebble.Options{
		MemTableSize:             64 << 20,
		MaxConcurrentCompactions: func() int { return 2 },
		L0CompactionThreshold:    4,
		L0StopWritesThreshold:    8,
		WALBytesPerSync:          1 << 20,
	}
	d, err := pebble.Open(filepath.Clean(dir), opts)
	if err != nil {
		return nil, errors.Wrap(err, "pebble open")
	}
	return &PebbleStore{db: d}, nil
}

func (p *PebbleStore) Close() error { return p.db.Close() }

func (p *PebbleStore) get(k []byte) (Envelope, bool, error) {
	v, closer, err := p.db.Get(k)
	if err == pebble.ErrNotFound {
		return Envelope{}, false, nil
	}
	if err != nil {
		return Envelope{}, false, errors.Wrapf(err, "pebble get %q", k)
	}
	defer closer.Close()
	env, err := decodeEnvelope(v)
	if err != nil {
		return Envelope{}, false, err
	}
	return env, true, nil
}

func (p *PebbleStore) set(k []byte, env Envelope) error {
	b, err := encodeEnvelope(env)
	if err != nil {
		return err
	}
	return errors.Wrapf(p.db.Set(k, b, pebble.Sync), "pebble set %q", k)
}

func (p *PebbleStore) Put(key string, doc document.Document, seq int64) (bool, Envelope, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	k := []byte(key)
	cur, ok, err := p.get(k)
	if err != nil {
		return false, Envelope{}, err
	}
	if ok && seq <= cur.Seq {
		return false, cur, nil
	}
	env := Envelope{Doc: doc, Seq: seq}
	if err := p.set(k, env); err != nil {
		return false, Envelope{}, err
	}
	return true, Envelope{Doc: doc.Clone(), Seq: seq}, nil
}

func (p *PebbleStore) Get(key string) (Envelope, bool, error) {
	return p.get([]byte(key))
}

func (p *PebbleStore) Range(prefix string, fn func(key string, env Envelope) error) error {
	var opts *pebble.IterOptions
	if prefix != "" {
		opts = &pebble.IterOptions{LowerBound: []byte(prefix), UpperBound: prefixEnd([]byte(prefix))}
	}
	it, err := p.db.NewIter(opts)
	if err != nil {
		return errors.Wrap(err, "pebble iter")
	}
	defer it.Close()
	for it.First(); it.Valid(); it.Next() {
		k := string(it.Key())
		env, err := decodeEnvelope(it.Value())
		if err != nil {
			return errors.Wrapf(err, "key %q", k)
		}
		if err := fn(k, env); err != nil {
			return err
		}
	}
	return it.Error()
}

// LoadAll deletes every key and writes the snapshot in one batch.
func (p *PebbleStore) LoadAll(all map[string]Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	wb := p.db.NewBatch()
	defer wb.Close()

	it, err := p.db.NewIter(nil)
	if err != nil {
		return errors.Wrap(err, "pebble iter")
	}
	for it.First(); it.Valid(); it.Next() {
		if err := wb.Delete(append([]byte(nil), it.Key()...), nil); err != nil {
			it.Close()
			return errors.Wrap(err, "batch delete")
		}
	}
	if err := it.Close(); err != nil {
		return errors.Wrap(err, "pebble iter")
	}
	for k, env := range all {
		b, err := encodeEnvelope(env)
		if err != nil {
			return err
		}
		if err := wb.Set([]byte(k), b, nil); err != nil {
			return errors.Wrap(err, "batch set")
		}
	}
	return errors.Wrap(wb.Commit(pebble.Sync), "batch commit")
}

func (p *PebbleStore) Increment(key string, start int64) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	k := []byte(key)
	cur, ok, err := p.get(k)
	if err != nil {
		return 0, err
	}
	n := counterValue(cur, ok, start) + 1
	if err := p.set(k, counterEnvelope(n)); err != nil {
		return 0, err
	}
	return n, nil
}

// prefixEnd returns the smallest key greater than every key with prefix.
func prefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
