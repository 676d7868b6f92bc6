package order

import (
	"database/sql/driver"
	"encoding/json"
	"sort"
	"time"

	"github.com/pkg/errors"
)

// Record is the materialized order row derived from a normalized document.
// It is owned by the handler invocation that built or loaded it.
type Record struct {
	ID              string     `db:"id" json:"id"`
	CreatedAt       *time.Time `db:"created_at" json:"created_at"`
	LabelNumber     int64      `db:"label_number" json:"label_number"`
	ReferenceNumber string     `db:"square_order_number" json:"square_order_number"`
	ReceiptURL      string     `db:"receipt_url" json:"receipt_url"`
	PickupWindow    string     `db:"pickup_window" json:"pickup_window"`
	CustomerName    string     `db:"customer_name" json:"customer_name"`
	LastName        string     `db:"last_name" json:"last_name"`
	PhoneNumber     string     `db:"phone_number" json:"phone_number"`
	Counts          Counters   `db:"item_counts" json:"item_counts"`
	Donations       float64    `db:"donations" json:"donations"`
	Tip             float64    `db:"tip" json:"tip"`
	Total           float64    `db:"total" json:"total"`
	Fees            float64    `db:"fees" json:"fees"`
	Note            string     `db:"note" json:"note"`
	Status          Status     `db:"status" json:"status"`
	CheckinTime     *string    `db:"checkin_time" json:"checkin_time"`
	LabelURL        string     `db:"label_url" json:"label_url"`
	DocSeq          int64      `db:"doc_seq" json:"doc_seq"`
}

// Clone returns a copy that shares no mutable state with r.
func (r *Record) Clone() *Record {
	c := *r
	c.Counts = r.Counts.Clone()
	if r.CheckinTime != nil {
		t := *r.CheckinTime
		c.CheckinTime = &t
	}
	if r.CreatedAt != nil {
		t := *r.CreatedAt
		c.CreatedAt = &t
	}
	return &c
}

// Counters holds named item quantities, e.g. meals per product category.
type Counters map[string]int64

func (c Counters) Clone() Counters {
	if c == nil {
		return nil
	}
	out := make(Counters, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Names returns the counter names in sorted order.
func (c Counters) Names() []string {
	names := make([]string, 0, len(c))
	for k := range c {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Value stores counters as a JSON object column.
func (c Counters) Value() (driver.Value, error) {
	if c == nil {
		return "{}", nil
	}
	b, err := json.Marshal(map[string]int64(c))
	if err != nil {
		return nil, errors.Wrap(err, "marshal counters")
	}
	return string(b), nil
}

func (c *Counters) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*c = Counters{}
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return errors.Errorf("order: cannot scan %T into Counters", src)
	}
	out := Counters{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return errors.Wrap(err, "unmarshal counters")
		}
	}
	*c = out
	return nil
}
