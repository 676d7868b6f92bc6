package order

import (
	"database/sql/driver"
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Status is the pickup state of an order.
type Status int

const (
	Placed Status = iota + 1
	Arrived
	Cancelled
)

var statusNames = map[Status]string{
	Placed:    "PLACED",
	Arrived:   "ARRIVED",
	Cancelled: "CANCELLED",
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// ParseStatus maps an external pickup status token. Anything unrecognized is PLACED.
func ParseStatus(token string) Status {
	for s, n := range statusNames {
		if strings.EqualFold(n, strings.TrimSpace(token)) {
			return s
		}
	}
	return Placed
}

// CanTransition reports whether a pickup may move from s to next.
// PLACED leads to ARRIVED or CANCELLED and an ARRIVED order may still be
// cancelled. Staying in the same state is always allowed.
func (s Status) CanTransition(next Status) bool {
	if s == next {
		return true
	}
	switch s {
	case Placed:
		return next == Arrived || next == Cancelled
	case Arrived:
		return next == Cancelled
	default:
		return false
	}
}

func (s Status) Value() (driver.Value, error) {
	if s == 0 {
		return Placed.String(), nil
	}
	return s.String(), nil
}

func (s *Status) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*s = Placed
	case string:
		*s = ParseStatus(v)
	case []byte:
		*s = ParseStatus(string(v))
	default:
		return errors.Errorf("order: cannot scan %T into Status", src)
	}
	return nil
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Status) UnmarshalText(b []byte) error {
	*s = ParseStatus(string(b))
	return nil
}
