package docstore

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"fishfry/internal/changefeed"
	"fishfry/internal/document"
)

type recordingFeed struct {
	mu     sync.Mutex
	events []changefeed.Event
}

func (r *recordingFeed) Append(e changefeed.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func newOrderDoc(id, customerID string) document.Document {
	return document.Document{
		"order": map[string]any{
			"id":          id,
			"customer_id": customerID,
			"version":     1,
			"note":        "",
			"total_money": map[string]any{"amount": 5000},
		},
		"customer": map[string]any{"given_name": "Pat", "family_name": "Doe"},
		"payment":  map[string]any{"receipt_url": "https://example.test/r/1"},
	}
}

func newCollection(feed changefeed.Writer) *Collection {
	clock := func() time.Time { return time.UnixMilli(1700000000000) }
	return NewCollection(NewInMemoryStore(), "2024-03-01", feed, WithClock(clock))
}

func TestCollection_CreateAssignsOrderNumbers(t *testing.T) {
	feed := &recordingFeed{}
	c := newCollection(feed)
	ctx := context.Background()

	first, err := c.Create(ctx, newOrderDoc("o-1", "c-1"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := c.Create(ctx, newOrderDoc("o-2", "c-2"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	n1, _ := first.Doc.Int("order_number")
	n2, _ := second.Doc.Int("order_number")
	if n1 != 1001 || n2 != 1002 || first.Seq != 1 {
		t.Fatalf("order numbers %d,%d seq=%d", n1, n2, first.Seq)
	}

	if _, err := c.Create(ctx, newOrderDoc("o-1", "c-1")); !errors.Is(err, ErrExists) {
		t.Fatalf("want ErrExists, got %v", err)
	}
	if len(feed.events) != 2 {
		t.Fatalf("want 2 events, got %d", len(feed.events))
	}
	e := feed.events[0]
	if e.Kind != changefeed.Created || e.ID != "o-1" || e.Collection != "2024-03-01" || e.Seq != 1 || e.TS != 1700000000000 {
		t.Fatalf("bad created event: %+v", e)
	}
}

func TestCollection_CreateRequiresOrderID(t *testing.T) {
	c := newCollection(nil)
	if _, err := c.Create(context.Background(), document.Document{"order": map[string]any{}}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestCollection_FetchNotFound(t *testing.T) {
	c := newCollection(nil)
	if _, err := c.Fetch(context.Background(), "absent"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestCollection_UpdateEmitsMask(t *testing.T) {
	feed := &recordingFeed{}
	c := newCollection(feed)
	ctx := context.Background()
	if _, err := c.Create(ctx, newOrderDoc("o-1", "c-1")); err != nil {
		t.Fatal(err)
	}

	env, changed, err := c.Update(ctx, "o-1", map[string]any{
		"order.total_money.amount": 6000,
		"pickup":                   map[string]any{"status": "ARRIVED", "checkin_time": "18:02"},
	})
	if err != nil || !changed {
		t.Fatalf("update changed=%v err=%v", changed, err)
	}
	if env.Seq != 2 {
		t.Fatalf("seq=%d want 2", env.Seq)
	}
	e := feed.events[len(feed.events)-1]
	want := []string{"order.total_money.amount", "pickup.checkin_time", "pickup.status"}
	if e.Kind != changefeed.Updated || !reflect.DeepEqual(e.FieldPaths, want) {
		t.Fatalf("bad update event: %+v", e)
	}

	// same values again => no write, no event
	_, changed, err = c.Update(ctx, "o-1", map[string]any{"order.total_money.amount": 6000})
	if err != nil || changed {
		t.Fatalf("no-op update changed=%v err=%v", changed, err)
	}
	if len(feed.events) != 2 {
		t.Fatalf("no-op update should not emit, got %d events", len(feed.events))
	}

	if _, _, err := c.Update(ctx, "absent", map[string]any{"x": 1}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestCollection_FindByCustomer(t *testing.T) {
	c := newCollection(nil)
	ctx := context.Background()
	_, _ = c.Create(ctx, newOrderDoc("o-1", "c-1"))
	_, _ = c.Create(ctx, newOrderDoc("o-2", "c-2"))
	d := newOrderDoc("o-3", "")
	_ = d.Set("customer.id", "c-1")
	_, _ = c.Create(ctx, d)

	ids, err := c.FindByCustomer(ctx, "c-1")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(ids, []string{"o-1", "o-3"}) {
		t.Fatalf("ids=%v", ids)
	}
	if ids, _ := c.FindByCustomer(ctx, ""); len(ids) != 0 {
		t.Fatalf("empty customer id matched %v", ids)
	}
}

func TestApplyEvent_ReplaysDocumentAndCounter(t *testing.T) {
	feed := &recordingFeed{}
	c := newCollection(feed)
	ctx := context.Background()
	_, _ = c.Create(ctx, newOrderDoc("o-1", "c-1"))
	_, _, _ = c.Update(ctx, "o-1", map[string]any{"order.note": "extra sauce"})

	st := NewInMemoryStore()
	for i, e := range feed.events {
		applied, err := ApplyEvent(st, e)
		if err != nil || !applied {
			t.Fatalf("event %d applied=%v err=%v", i, applied, err)
		}
	}
	// replaying again is idempotent
	for _, e := range feed.events {
		if applied, _ := ApplyEvent(st, e); applied {
			t.Fatalf("replay should skip %+v", e)
		}
	}

	restored := NewCollection(st, "2024-03-01", nil)
	env, err := restored.Fetch(ctx, "o-1")
	if err != nil || env.Seq != 2 {
		t.Fatalf("fetch seq=%d err=%v", env.Seq, err)
	}
	next, err := restored.Create(ctx, newOrderDoc("o-2", "c-2"))
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := next.Doc.Int("order_number"); n != 1002 {
		t.Fatalf("counter not restored, next order_number=%d", n)
	}

	if _, err := ApplyEvent(st, changefeed.Event{}); err == nil {
		t.Fatalf("expected error for empty event")
	}
}

func TestCollection_ConcurrentCreatesGetDistinctNumbers(t *testing.T) {
	c := newCollection(nil)
	ctx := context.Background()
	const n = 50

	var wg sync.WaitGroup
	numbers := make(chan int64, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			env, err := c.Create(ctx, newOrderDoc(fmt.Sprintf("o-%d", i), "c-1"))
			if err != nil {
				t.Errorf("create: %v", err)
				return
			}
			num, _ := env.Doc.Int("order_number")
			numbers <- num
		}(i)
	}
	wg.Wait()
	close(numbers)

	seen := make(map[int64]bool)
	for num := range numbers {
		if seen[num] {
			t.Fatalf("order number %d assigned twice", num)
		}
		if num <= CounterStart || num > CounterStart+n {
			t.Fatalf("order number %d out of range", num)
		}
		seen[num] = true
	}
	if len(seen) != n {
		t.Fatalf("got %d numbers, want %d", len(seen), n)
	}
}
