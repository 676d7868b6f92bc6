package order

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatus(t *testing.T) {
	tests := map[string]Status{
		"PLACED":     Placed,
		"arrived":    Arrived,
		" Cancelled": Cancelled,
		"BOGUS":      Placed,
		"":           Placed,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseStatus(in), in)
	}
}

func TestCanTransition(t *testing.T) {
	assert.True(t, Placed.CanTransition(Arrived))
	assert.True(t, Placed.CanTransition(Cancelled))
	assert.True(t, Arrived.CanTransition(Cancelled))
	assert.True(t, Cancelled.CanTransition(Cancelled))
	assert.False(t, Arrived.CanTransition(Placed))
	assert.False(t, Cancelled.CanTransition(Arrived))
	assert.False(t, Cancelled.CanTransition(Placed))
}

func TestStatusColumnAndJSON(t *testing.T) {
	v, err := Status(0).Value()
	require.NoError(t, err)
	assert.Equal(t, "PLACED", v)

	var s Status
	require.NoError(t, s.Scan([]byte("ARRIVED")))
	assert.Equal(t, Arrived, s)
	require.NoError(t, s.Scan(nil))
	assert.Equal(t, Placed, s)
	assert.Error(t, s.Scan(3.5))

	b, err := json.Marshal(struct{ S Status }{Cancelled})
	require.NoError(t, err)
	assert.JSONEq(t, `{"S":"CANCELLED"}`, string(b))
}
