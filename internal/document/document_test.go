package document

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustDecode(t *testing.T, s string) Document {
	t.Helper()
	d, err := Decode([]byte(s))
	require.NoError(t, err)
	return d
}

func TestGet_PathsAndIndexes(t *testing.T) {
	d := mustDecode(t, `{
		"order": {
			"id": "o1",
			"total_money": {"amount": 12345},
			"line_items": [{"name": "Item A", "quantity": "2"}],
			"note": null
		}
	}`)

	id, err := d.String("order.id")
	require.NoError(t, err)
	assert.Equal(t, "o1", id)

	amount, err := d.Int("order.total_money.amount")
	require.NoError(t, err)
	assert.Equal(t, int64(12345), amount)

	qty, err := d.Int("order.line_items.0.quantity")
	require.NoError(t, err)
	assert.Equal(t, int64(2), qty)

	_, err = d.String("order.note")
	assert.True(t, IsMissing(err), "null is reported as missing: %v", err)

	_, err = d.Get("order.line_items.3.name")
	assert.True(t, IsMissing(err))

	_, err = d.Get("customer.given_name")
	var fe *FieldError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "customer", fe.Path)

	_, err = d.String("order.total_money")
	require.Error(t, err)
	assert.False(t, IsMissing(err))
}

func TestAsInt(t *testing.T) {
	cases := []struct {
		in   any
		want int64
		ok   bool
	}{
		{json.Number("42"), 42, true},
		{json.Number("42.0"), 42, true},
		{json.Number("4.5"), 0, false},
		{float64(7), 7, true},
		{float64(7.25), 0, false},
		{3, 3, true},
		{int64(9), 9, true},
		{" 12 ", 12, true},
		{"twelve", 0, false},
		{true, 0, false},
	}
	for _, c := range cases {
		got, ok := AsInt(c.in)
		assert.Equal(t, c.ok, ok, "%#v", c.in)
		assert.Equal(t, c.want, got, "%#v", c.in)
	}
}

func TestSetCreatesIntermediateObjects(t *testing.T) {
	d := Document{}
	require.NoError(t, d.Set("pickup.status", "ARRIVED"))
	require.NoError(t, d.Set("pickup.checkin_time", "10:00"))
	status, err := d.String("pickup.status")
	require.NoError(t, err)
	assert.Equal(t, "ARRIVED", status)

	d["order"] = "scalar"
	assert.Error(t, d.Set("order.id", "x"))
}

func TestCloneIsDeep(t *testing.T) {
	d := mustDecode(t, `{"order": {"line_items": [{"name": "A"}]}}`)
	c := d.Clone()
	require.NoError(t, c.Set("order.id", "changed"))
	items, err := c.Slice("order.line_items")
	require.NoError(t, err)
	items[0].(map[string]any)["name"] = "B"

	assert.False(t, d.Has("order.id"))
	name, err := d.String("order.line_items.0.name")
	require.NoError(t, err)
	assert.Equal(t, "A", name)
}

func TestNormalizeMatchesDecodedValues(t *testing.T) {
	built := Document{"order": map[string]any{"total_money": map[string]any{"amount": 5000}}}
	norm, err := built.Normalize()
	require.NoError(t, err)
	decoded := mustDecode(t, `{"order": {"total_money": {"amount": 5000}}}`)
	assert.Equal(t, decoded, norm)
}
