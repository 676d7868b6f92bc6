package docstore

import (
	"path/filepath"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"

	"fishfry/internal/document"
)

// BadgerStore implements Store using BadgerDB.
type BadgerStore struct {
	db *badger.DB
}

func NewBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(filepath.Clean(dir)).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "badger open")
	}
	return &BadgerStore{db: db}, nil
}

func (b *BadgerStore) Close() error { return b.db.Close() }

func txnGet(txn *badger.Txn, k []byte) (Envelope, bool, error) {
	item, err := txn.Get(k)
	if err == badger.ErrKeyNotFound {
		return Envelope{}, false, nil
	}
	if err != nil {
		return Envelope{}, false, err
	}
	v, err := item.ValueCopy(nil)
	if err != nil {
		return Envelope{}, false, err
	}
	env, err := decodeEnvelope(v)
	if err != nil {
		return Envelope{}, false, err
	}
	return env, true, nil
}

func txnSet(txn *badger.Txn, k []byte, env Envelope) error {
	v, err := encodeEnvelope(env)
	if err != nil {
		return err
	}
	return txn.Set(k, v)
}

func (b *BadgerStore) Put(key string, doc document.Document, seq int64) (bool, Envelope, error) {
	var applied bool
	var out Envelope
	err := b.db.Update(func(txn *badger.Txn) error {
		k := []byte(key)
		cur, ok, err := txnGet(txn, k)
		if err != nil {
			return err
		}
		if ok && seq <= cur.Seq {
			out = cur
			return nil
		}
		out = Envelope{Doc: doc, Seq: seq}
		if err := txnSet(txn, k, out); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, Envelope{}, errors.Wrapf(err, "badger put %q", key)
	}
	if applied {
		out.Doc = out.Doc.Clone()
	}
	return applied, out, nil
}

func (b *BadgerStore) Get(key string) (Envelope, bool, error) {
	var env Envelope
	var ok bool
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		env, ok, err = txnGet(txn, []byte(key))
		return err
	})
	if err != nil {
		return Envelope{}, false, errors.Wrapf(err, "badger get %q", key)
	}
	return env, ok, nil
}

func (b *BadgerStore) Range(prefix string, fn func(key string, env Envelope) error) error {
	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			k := item.KeyCopy(nil)
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			env, err := decodeEnvelope(v)
			if err != nil {
				return errors.Wrapf(err, "key %q", k)
			}
			if err := fn(string(k), env); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadAll replaces all keys with the snapshot.
func (b *BadgerStore) LoadAll(all map[string]Envelope) error {
	if err := b.db.DropAll(); err != nil {
		return errors.Wrap(err, "badger drop")
	}
	wb := b.db.NewWriteBatch()
	defer wb.Cancel()
	for k, env := range all {
		v, err := encodeEnvelope(env)
		if err != nil {
			return err
		}
		if err := wb.Set([]byte(k), v); err != nil {
			return errors.Wrap(err, "batch set")
		}
	}
	return errors.Wrap(wb.Flush(), "batch flush")
}

func (b *BadgerStore) Increment(key string, start int64) (int64, error) {
	var n int64
	err := b.db.Update(func(txn *badger.Txn) error {
		k := []byte(key)
		cur, ok, err := txnGet(txn, k)
		if err != nil {
			return err
		}
		n = counterValue(cur, ok, start) + 1
		return txnSet(txn, k, counterEnvelope(n))
	})
	if err == badger.ErrConflict {
		return b.Increment(key, start)
	}
	if err != nil {
		return 0, errors.Wrapf(err, "badger increment %q", key)
	}
	return n, nil
}
