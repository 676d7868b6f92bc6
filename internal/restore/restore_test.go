package restore

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"fishfry/internal/changefeed"
	"fishfry/internal/docstore"
	"fishfry/internal/document"
	"fishfry/internal/manifest"
	"fishfry/internal/snapshot"
)

const event = "2024-03-01"

func orderDoc(id string) document.Document {
	return document.Document{"order": map[string]any{"id": id, "total_money": map[string]any{"amount": 5000}}}
}

// seed writes two orders, snapshots, then writes more after the snapshot.
func seed(t *testing.T, base string) (*changefeed.FileWriter, docstore.Store) {
	t.Helper()
	feed, err := changefeed.NewFileWriter(base, "feed.jsonl")
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	src := docstore.NewInMemoryStore()
	col := docstore.NewCollection(src, event, feed)
	ctx := context.Background()
	for _, id := range []string{"o-1", "o-2"} {
		if _, err := col.Create(ctx, orderDoc(id)); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}

	n, err := snapshot.NewFilesystemSnapshotter(base).WriteSnapshot("sid-int", src)
	if err != nil {
		t.Fatalf("write snapshot: %v", err)
	}
	off, err := feed.Offset()
	if err != nil {
		t.Fatalf("offset: %v", err)
	}
	if err := manifest.NewFilesystemManifest(base).PublishLatest("sid-int", off, n); err != nil {
		t.Fatalf("publish manifest: %v", err)
	}

	if _, _, err := col.Update(ctx, "o-1", map[string]any{"order.total_money.amount": 6000}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := col.Create(ctx, orderDoc("o-3")); err != nil {
		t.Fatalf("create o-3: %v", err)
	}
	return feed, src
}

func TestRestoreAndReplay_EndToEnd(t *testing.T) {
	base := t.TempDir()
	feed, src := seed(t, base)

	dst := docstore.NewInMemoryStore()
	r := NewRestorer(dst, manifest.NewFilesystemManifest(base), base, nil)
	res, err := r.RestoreAndReplay(feed.Path())
	if err != nil {
		t.Fatalf("RestoreAndReplay: %v", err)
	}
	if res.Applied != 2 || res.Skipped != 0 || res.LastOffset != 4 {
		t.Fatalf("unexpected result: %+v", res)
	}

	for _, id := range []string{"o-1", "o-2", "o-3"} {
		want, _, _ := src.Get(docstore.OrderKey(event, id))
		got, ok, err := dst.Get(docstore.OrderKey(event, id))
		if err != nil || !ok {
			t.Fatalf("%s missing after restore: %v", id, err)
		}
		if got.Seq != want.Seq {
			t.Fatalf("%s seq = %d, want %d", id, got.Seq, want.Seq)
		}
	}
	o1, _, _ := dst.Get(docstore.OrderKey(event, "o-1"))
	if amt, _ := o1.Doc.Int("order.total_money.amount"); amt != 6000 {
		t.Fatalf("o-1 total = %d, want 6000", amt)
	}

	// The counter continues after the replayed creates.
	next, err := dst.Increment(docstore.CounterKey(event), docstore.CounterStart)
	if err != nil || next != 1004 {
		t.Fatalf("next order number = %d (%v), want 1004", next, err)
	}
}

func TestReplayFeed_IsIdempotent(t *testing.T) {
	base := t.TempDir()
	feed, _ := seed(t, base)

	dst := docstore.NewInMemoryStore()
	r := NewRestorer(dst, nil, base, nil)
	first := r.ReplayFeed(feed.Path(), 0)
	if first.Error != nil || first.Applied != 4 {
		t.Fatalf("first replay: %+v", first)
	}
	second := r.ReplayFeed(feed.Path(), 0)
	if second.Error != nil || second.Applied != 0 || second.Skipped != 4 {
		t.Fatalf("second replay should skip everything: %+v", second)
	}
}

func TestReplayFeed_MissingFileIsEmpty(t *testing.T) {
	r := NewRestorer(docstore.NewInMemoryStore(), nil, t.TempDir(), nil)
	res := r.ReplayFeed("does-not-exist.jsonl", 7)
	if res.Error != nil || res.Applied != 0 || res.LastOffset != 7 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestRestoreFromSnapshot_MissingIsSkipped(t *testing.T) {
	r := NewRestorer(docstore.NewInMemoryStore(), nil, t.TempDir(), nil)
	n, err := r.RestoreFromSnapshot("nope")
	if err != nil || n != 0 {
		t.Fatalf("missing snapshot: n=%d err=%v", n, err)
	}
}

type fakeReader struct {
	msgs []kafka.Message
}

func (f *fakeReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if len(f.msgs) > 0 {
		m := f.msgs[0]
		f.msgs = f.msgs[1:]
		return m, nil
	}
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (f *fakeReader) Close() error { return nil }

func TestReplayFrom_SkipsConsumedMessages(t *testing.T) {
	var msgs []kafka.Message
	for i, id := range []string{"o-1", "o-2", "o-3"} {
		doc := orderDoc(id)
		doc["order_number"] = 1001 + i
		b, _ := json.Marshal(changefeed.Event{Kind: changefeed.Created, Collection: event, ID: id, Seq: 1, Value: doc})
		msgs = append(msgs, kafka.Message{Key: []byte(id), Value: b})
	}
	dst := docstore.NewInMemoryStore()
	r := NewRestorer(dst, nil, t.TempDir(), nil)
	res := r.ReplayFrom(&fakeReader{msgs: msgs}, 1, 20*time.Millisecond)
	if res.Error != nil || res.Applied != 2 || res.LastOffset != 3 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if _, ok, _ := dst.Get(docstore.OrderKey(event, "o-1")); ok {
		t.Fatalf("o-1 was before the offset and should not be replayed")
	}
}
