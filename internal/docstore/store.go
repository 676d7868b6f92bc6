// Package docstore keeps normalized order documents keyed by event and order
// id, with per-document sequence numbers so replays are idempotent.
package docstore

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"fishfry/internal/document"
)

// Envelope is a stored document and the sequence of its last write.
type Envelope struct {
	Doc document.Document `json:"doc"`
	Seq int64             `json:"seq"`
}

// Store abstracts the document backend.
type Store interface {
	// Put writes doc at key unless seq is not newer than the stored seq.
	Put(key string, doc document.Document, seq int64) (applied bool, cur Envelope, err error)
	Get(key string) (Envelope, bool, error)
	// Range visits every key with the given prefix in key order.
	Range(prefix string, fn func(key string, env Envelope) error) error
	// LoadAll replaces the store contents.
	LoadAll(all map[string]Envelope) error
	// Increment bumps the counter at key, treating an absent counter as start.
	Increment(key string, start int64) (int64, error)
	Close() error
}

func encodeEnvelope(env Envelope) ([]byte, error) {
	b, err := json.Marshal(env)
	if err != nil {
		return nil, errors.Wrap(err, "encode envelope")
	}
	return b, nil
}

func decodeEnvelope(val []byte) (Envelope, error) {
	dec := json.NewDecoder(bytes.NewReader(val))
	dec.UseNumber()
	var env Envelope
	if err := dec.Decode(&env); err != nil {
		return Envelope{}, errors.Wrap(err, "decode envelope")
	}
	if env.Doc == nil {
		env.Doc = document.Document{}
	}
	return env, nil
}

// counterValue reads the value held by a counter envelope.
func counterValue(env Envelope, ok bool, start int64) int64 {
	if !ok {
		return start
	}
	n, valid := document.AsInt(env.Doc["value"])
	if !valid {
		return start
	}
	return n
}

// counterEnvelope stores a counter with its value as the seq, so replaying
// an older value is skipped.
func counterEnvelope(n int64) Envelope {
	return Envelope{Doc: document.Document{"value": n}, Seq: n}
}

// InMemoryStore is a simple thread-safe map store.
type InMemoryStore struct {
	mu   sync.RWMutex
	data map[string]Envelope
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{data: make(map[string]Envelope)}
}

func (s *InMemoryStore) Close() error { return nil }

func (s *InMemoryStore) LoadAll(all map[string]Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[string]Envelope, len(all))
	for k, v := range all {
		s.data[k] = Envelope{Doc: v.Doc.Clone(), Seq: v.Seq}
	}
	return nil
}

func (s *InMemoryStore) Put(key string, doc document.Document, seq int64) (bool, Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.data[key]
	if ok && seq <= cur.Seq {
		return false, Envelope{Doc: cur.Doc.Clone(), Seq: cur.Seq}, nil
	}
	env := Envelope{Doc: doc.Clone(), Seq: seq}
	s.data[key] = env
	return true, Envelope{Doc: doc.Clone(), Seq: seq}, nil
}

func (s *InMemoryStore) Get(key string) (Envelope, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	env, ok := s.data[key]
	if !ok {
		return Envelope{}, false, nil
	}
	return Envelope{Doc: env.Doc.Clone(), Seq: env.Seq}, true, nil
}

func (s *InMemoryStore) Range(prefix string, fn func(key string, env Envelope) error) error {
	s.mu.RLock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	snapshot := make(map[string]Envelope, len(keys))
	for _, k := range keys {
		snapshot[k] = Envelope{Doc: s.data[k].Doc.Clone(), Seq: s.data[k].Seq}
	}
	s.mu.RUnlock()

	sort.Strings(keys)
	for _, k := range keys {
		if err := fn(k, snapshot[k]); err != nil {
			return errors.Wrap(err, "range callback failed")
		}
	}
	return nil
}

func (s *InMemoryStore) Increment(key string, start int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.data[key]
	n := counterValue(cur, ok, start) + 1
	s.data[key] = counterEnvelope(n)
	return n, nil
}
