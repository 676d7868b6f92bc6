package fieldpath

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPatternMatch(t *testing.T) {
	exact := Compile("order.note")
	assert.True(t, exact.Match("order.note"))
	assert.False(t, exact.Match("order.notes"))
	assert.False(t, exact.Match("order"))

	prefix := Compile("order.line_items*")
	assert.True(t, prefix.Match("order.line_items"))
	assert.True(t, prefix.Match("order.line_items.0.quantity"))
	assert.False(t, prefix.Match("order.line"))
	assert.Equal(t, "order.line_items*", prefix.String())
}

func TestTableMatch_OrderedAndDeduplicated(t *testing.T) {
	tbl := NewTable(
		On("customer.given_name", "name"),
		On("customer.family_name", "name", "last"),
		On("customer*", "touch", "name"),
	)

	assert.Equal(t, []string{"name", "last", "touch"}, tbl.Match("customer.family_name"))
	assert.Equal(t, []string{"name", "touch"}, tbl.Match("customer.given_name"))
	assert.Equal(t, []string{"touch", "name"}, tbl.Match("customer.phone_number"))
	assert.Empty(t, tbl.Match("payment.receipt_url"))
	assert.Empty(t, tbl.Match(""))
	assert.Equal(t, []string{"customer.given_name", "customer.family_name", "customer*"}, tbl.Patterns())
}
