package ordermgr

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fishfry/internal/changefeed"
	"fishfry/internal/docstore"
	"fishfry/internal/document"
	"fishfry/internal/square"
)

// fakeSquare serves canned objects; orders pops successive versions so
// eventual consistency can be simulated.
type fakeSquare struct {
	mu        sync.Mutex
	orders    map[string][]document.Document
	customers map[string]document.Document
	payments  map[string]document.Document
	calls     map[string]int
}

func newFakeSquare() *fakeSquare {
	return &fakeSquare{
		orders:    map[string][]document.Document{},
		customers: map[string]document.Document{},
		payments:  map[string]document.Document{},
		calls:     map[string]int{},
	}
}

func (f *fakeSquare) RetrieveOrder(_ context.Context, id string) (document.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["order:"+id]++
	seq := f.orders[id]
	if len(seq) == 0 {
		return nil, square.ErrNotFound
	}
	o := seq[0]
	if len(seq) > 1 {
		f.orders[id] = seq[1:]
	}
	return o.Clone(), nil
}

func (f *fakeSquare) RetrieveCustomer(_ context.Context, id string) (document.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["customer:"+id]++
	c, ok := f.customers[id]
	if !ok {
		return nil, square.ErrNotFound
	}
	return c.Clone(), nil
}

func (f *fakeSquare) GetPayment(_ context.Context, id string) (document.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["payment:"+id]++
	p, ok := f.payments[id]
	if !ok {
		return nil, square.ErrNotFound
	}
	return p.Clone(), nil
}

type feed struct{ events []changefeed.Event }

func (f *feed) Append(e changefeed.Event) error { f.events = append(f.events, e); return nil }

func pickupOrder(id string, version int, customerID string) document.Document {
	o := document.Document{
		"id":      id,
		"version": version,
		"fulfillments": []any{map[string]any{
			"type": "PICKUP",
			"pickup_details": map[string]any{
				"recipient": map[string]any{"display_name": "Jane Q Public", "phone_number": "+1 (555) 123-4567"},
			},
		}},
		"tenders": []any{map[string]any{"id": "p-" + id}},
	}
	if customerID != "" {
		o["customer_id"] = customerID
	}
	return o
}

func setup(t *testing.T) (*fakeSquare, *docstore.Collection, *feed, *Manager) {
	t.Helper()
	sq := newFakeSquare()
	fd := &feed{}
	col := docstore.NewCollection(docstore.NewInMemoryStore(), "2024-03-01", fd)
	return sq, col, fd, NewManager(NewBuilder(sq, nil), col)
}

func event(t *testing.T, v map[string]any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestCustomerID(t *testing.T) {
	inPerson := document.Document{"customer_id": "c-1"}
	assert.Equal(t, "c-1", CustomerID(inPerson))
	assert.Equal(t, "c-1", CustomerID(pickupOrder("o", 1, "c-1")))

	shipment := pickupOrder("o", 1, "c-1")
	shipment["fulfillments"] = []any{map[string]any{"type": "SHIPMENT"}}
	assert.Equal(t, "", CustomerID(shipment))
	assert.Equal(t, "", CustomerID(pickupOrder("o", 1, "")))
}

func TestFauxCustomer(t *testing.T) {
	c := FauxCustomer(pickupOrder("o", 1, ""))
	assert.Equal(t, "Jane Q", c["given_name"])
	assert.Equal(t, "Public", c["family_name"])
	assert.Equal(t, "5551234567", c["phone_number"])
	assert.Equal(t, FauxCustomerVersion, c["version"])

	noPhone := pickupOrder("o", 1, "")
	noPhone["fulfillments"] = []any{map[string]any{
		"type":           "PICKUP",
		"pickup_details": map[string]any{"recipient": map[string]any{"display_name": "Cher"}},
	}}
	c = FauxCustomer(noPhone)
	assert.Equal(t, "unknown", c["phone_number"])
	assert.Equal(t, "", c["given_name"])
	assert.Equal(t, "Cher", c["family_name"])

	inPerson := FauxCustomer(document.Document{"id": "o"})
	assert.Equal(t, "unknown", inPerson["given_name"])
	assert.Equal(t, "", inPerson["phone_number"])
}

func TestPaymentID(t *testing.T) {
	assert.Equal(t, "p-o", PaymentID(pickupOrder("o", 1, "")))
	split := document.Document{"tenders": []any{map[string]any{"id": "a"}, map[string]any{"id": "b"}}}
	assert.Equal(t, "", PaymentID(split))
	assert.Equal(t, "", PaymentID(document.Document{}))
}

func TestBuild_RefetchesOnceThenFakesCustomer(t *testing.T) {
	sq := newFakeSquare()
	sq.orders["o-1"] = []document.Document{pickupOrder("o-1", 1, ""), pickupOrder("o-1", 1, "")}
	sq.payments["p-o-1"] = document.Document{"id": "p-o-1"}

	doc, err := NewBuilder(sq, nil).Build(context.Background(), "o-1", nil, "")
	require.NoError(t, err)
	assert.Equal(t, 2, sq.calls["order:o-1"])
	v, _ := doc.Int("customer.version")
	assert.EqualValues(t, FauxCustomerVersion, v)
	assert.Equal(t, 0, len(sq.customers))
}

func TestBuild_SecondReadFindsCustomer(t *testing.T) {
	sq := newFakeSquare()
	sq.orders["o-1"] = []document.Document{pickupOrder("o-1", 1, ""), pickupOrder("o-1", 1, "c-1")}
	sq.customers["c-1"] = document.Document{"id": "c-1", "given_name": "Ada", "version": 1}
	sq.payments["p-o-1"] = document.Document{"id": "p-o-1"}

	doc, err := NewBuilder(sq, nil).Build(context.Background(), "o-1", nil, "")
	require.NoError(t, err)
	name, _ := doc.String("customer.given_name")
	assert.Equal(t, "Ada", name)
}

func TestBuild_WithoutSingleTenderStoresEmptyPayment(t *testing.T) {
	sq := newFakeSquare()
	o := pickupOrder("o-1", 1, "c-1")
	delete(o, "tenders")
	sq.orders["o-1"] = []document.Document{o}
	sq.customers["c-1"] = document.Document{"id": "c-1"}

	doc, err := NewBuilder(sq, nil).Build(context.Background(), "o-1", nil, "")
	require.NoError(t, err)
	p, err := doc.Map("payment")
	require.NoError(t, err)
	assert.Empty(t, p)
}

func TestBuild_MissingOrderFails(t *testing.T) {
	_, err := NewBuilder(newFakeSquare(), nil).Build(context.Background(), "nope", nil, "")
	assert.True(t, errors.Is(err, square.ErrNotFound))
}

func TestHandle_OrderCreatedThenRedelivered(t *testing.T) {
	sq, col, fd, m := setup(t)
	sq.orders["o-1"] = []document.Document{pickupOrder("o-1", 1, "c-1")}
	sq.customers["c-1"] = document.Document{"id": "c-1", "given_name": "Ada", "version": 1}
	sq.payments["p-o-1"] = document.Document{"id": "p-o-1", "updated_at": "2024-03-01T10:00:00Z"}

	msg := event(t, map[string]any{"type": "order.created", "data": map[string]any{"id": "o-1"}})
	require.NoError(t, m.Handle(context.Background(), TopicOrderCreated, msg))
	require.NoError(t, m.Handle(context.Background(), TopicOrderCreated, msg))

	env, err := col.Fetch(context.Background(), "o-1")
	require.NoError(t, err)
	n, _ := env.Doc.Int("order_number")
	assert.EqualValues(t, 1001, n)
	assert.EqualValues(t, 1, env.Seq)
	assert.Len(t, fd.events, 1, "redelivery with identical data writes nothing")
}

func TestUpsert_MergeRules(t *testing.T) {
	sq, col, fd, m := setup(t)
	ctx := context.Background()
	sq.orders["o-1"] = []document.Document{pickupOrder("o-1", 2, "c-1")}
	sq.customers["c-1"] = document.Document{"id": "c-1", "given_name": "Ada", "version": 3}
	sq.payments["p-o-1"] = document.Document{"id": "p-o-1", "updated_at": "2024-03-01T10:00:00Z"}
	require.NoError(t, m.OrderCreated(ctx, document.Document{"data": map[string]any{"id": "o-1"}}))

	stale := document.Document{
		"order":    map[string]any(pickupOrder("o-1", 1, "c-1")),
		"customer": map[string]any{"id": "c-1", "given_name": "Old", "version": 2},
		"payment":  map[string]any{"id": "p-o-1", "updated_at": "2024-03-01T09:00:00Z"},
	}
	require.NoError(t, m.Upsert(ctx, stale))
	assert.Len(t, fd.events, 1, "older sections never overwrite newer ones")

	fresh := stale.Clone()
	require.NoError(t, fresh.Set("order.version", 5))
	require.NoError(t, fresh.Set("order.note", "extra napkins"))
	require.NoError(t, fresh.Set("payment.updated_at", "2024-03-01T11:00:00Z"))
	require.NoError(t, m.Upsert(ctx, fresh))
	require.Len(t, fd.events, 2)
	assert.Contains(t, fd.events[1].FieldPaths, "order.note")
	assert.Contains(t, fd.events[1].FieldPaths, "payment.updated_at")

	env, _ := col.Fetch(ctx, "o-1")
	name, _ := env.Doc.String("customer.given_name")
	assert.Equal(t, "Ada", name)
}

func TestUpsert_ReplacesFauxCustomer(t *testing.T) {
	cur := document.Document{"customer": map[string]any{"given_name": "unknown", "version": FauxCustomerVersion}}
	in := document.Document{"customer": map[string]any{"given_name": "Ada", "version": 0}}
	assert.Contains(t, mergeFields(cur, in), "customer")

	versionless := document.Document{"customer": map[string]any{"given_name": "x"}}
	assert.Contains(t, mergeFields(versionless, document.Document{"customer": map[string]any{"version": 1}}), "customer")
}

func TestHandle_OrderUpdatedCreatesMissingDocument(t *testing.T) {
	sq, col, _, m := setup(t)
	sq.orders["o-9"] = []document.Document{pickupOrder("o-9", 1, "c-1")}
	sq.customers["c-1"] = document.Document{"id": "c-1"}
	sq.payments["p-o-9"] = document.Document{"id": "p-o-9"}

	msg := event(t, map[string]any{"data": map[string]any{"id": "o-9"}})
	require.NoError(t, m.Handle(context.Background(), TopicOrderUpdated, msg))
	_, err := col.Fetch(context.Background(), "o-9")
	assert.NoError(t, err)
}

func TestHandle_PaymentUpdatedUsesDeliveredPayment(t *testing.T) {
	sq, col, _, m := setup(t)
	sq.orders["o-1"] = []document.Document{pickupOrder("o-1", 1, "c-1")}
	sq.customers["c-1"] = document.Document{"id": "c-1"}

	msg := event(t, map[string]any{"data": map[string]any{"object": map[string]any{
		"payment": map[string]any{"id": "p-o-1", "order_id": "o-1", "updated_at": "2024-03-01T10:00:00Z", "receipt_url": "https://r"},
	}}})
	require.NoError(t, m.Handle(context.Background(), TopicPaymentUpdated, msg))
	assert.Equal(t, 0, sq.calls["payment:p-o-1"])

	env, err := col.Fetch(context.Background(), "o-1")
	require.NoError(t, err)
	u, _ := env.Doc.String("payment.receipt_url")
	assert.Equal(t, "https://r", u)
}

func TestHandle_CustomerUpdatedRebuildsReferencingDocuments(t *testing.T) {
	sq, col, _, m := setup(t)
	ctx := context.Background()
	for _, id := range []string{"o-1", "o-2"} {
		sq.orders[id] = []document.Document{pickupOrder(id, 1, "c-1")}
		sq.payments["p-"+id] = document.Document{"id": "p-" + id}
	}
	sq.customers["c-1"] = document.Document{"id": "c-1", "given_name": "Ada", "version": 1}
	require.NoError(t, m.OrderCreated(ctx, document.Document{"data": map[string]any{"id": "o-1"}}))
	require.NoError(t, m.OrderCreated(ctx, document.Document{"data": map[string]any{"id": "o-2"}}))

	sq.customers["c-1"] = document.Document{"id": "c-1", "given_name": "Grace", "version": 2}
	msg := event(t, map[string]any{"data": map[string]any{"id": "c-1"}})
	require.NoError(t, m.Handle(ctx, TopicCustomerUpdated, msg))

	for _, id := range []string{"o-1", "o-2"} {
		env, err := col.Fetch(ctx, id)
		require.NoError(t, err)
		name, _ := env.Doc.String("customer.given_name")
		assert.Equal(t, "Grace", name, id)
	}

	nobody := event(t, map[string]any{"data": map[string]any{"id": "c-404"}})
	assert.NoError(t, m.Handle(ctx, TopicCustomerUpdated, nobody))
}

func TestHandle_UnknownTopic(t *testing.T) {
	_, _, _, m := setup(t)
	err := m.Handle(context.Background(), "square.refund.created", []byte(`{}`))
	assert.True(t, errors.Is(err, ErrUnknownTopic))
}
