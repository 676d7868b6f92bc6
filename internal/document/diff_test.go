package document

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDiff(t *testing.T) {
	base := `{
		"order": {
			"id": "o1",
			"total_money": {"amount": 5000},
			"line_items": [{"name": "Item A", "quantity": "2"}]
		},
		"customer": {"given_name": "Jane"}
	}`

	t.Run("identical", func(t *testing.T) {
		assert.Empty(t, Diff(mustDecode(t, base), mustDecode(t, base)))
	})

	t.Run("leaf change", func(t *testing.T) {
		next := mustDecode(t, base)
		_ = next.Set("order.total_money.amount", 6000)
		next, _ = next.Normalize()
		assert.Equal(t, []string{"order.total_money.amount"}, Diff(mustDecode(t, base), next))
	})

	t.Run("arrays are leaves", func(t *testing.T) {
		next := mustDecode(t, `{
			"order": {
				"id": "o1",
				"total_money": {"amount": 5000},
				"line_items": [{"name": "Item A", "quantity": "3"}]
			},
			"customer": {"given_name": "Jane"}
		}`)
		assert.Equal(t, []string{"order.line_items"}, Diff(mustDecode(t, base), next))
	})

	t.Run("added and removed subtrees", func(t *testing.T) {
		next := mustDecode(t, `{
			"order": {
				"id": "o1",
				"total_money": {"amount": 5000},
				"line_items": [{"name": "Item A", "quantity": "2"}]
			},
			"pickup": {"status": "ARRIVED", "checkin_time": "10:00"}
		}`)
		assert.Equal(t, []string{
			"customer.given_name",
			"pickup.checkin_time",
			"pickup.status",
		}, Diff(mustDecode(t, base), next))
	})

	t.Run("scalar replaced by object", func(t *testing.T) {
		old := mustDecode(t, `{"payment": "none"}`)
		next := mustDecode(t, `{"payment": {"receipt_url": "u"}}`)
		assert.Equal(t, []string{"payment", "payment.receipt_url"}, Diff(old, next))
	})
}
