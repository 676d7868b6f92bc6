package label

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fishfry/internal/order"
)

func record() *order.Record {
	return &order.Record{
		ID:              "o-1",
		LabelNumber:     1001,
		ReferenceNumber: "RX12",
		PickupWindow:    "5:00PM",
		CustomerName:    "Jane Public",
		LastName:        "Public",
		PhoneNumber:     "5551234567",
		Counts:          order.Counters{"concert": 2, "dinner": 1},
		Total:           60,
		Note:            "extra napkins",
	}
}

func TestTextRenderer_Golden(t *testing.T) {
	art, err := NewTextRenderer(order.DefaultMenu()).Render(record())
	require.NoError(t, err)
	assert.Equal(t, ".txt", art.Ext)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "pickup_label", art.Data)
}

func TestTextRenderer_OmitsEmptyNote(t *testing.T) {
	r := record()
	r.Note = ""
	art, err := NewTextRenderer(order.DefaultMenu()).Render(r)
	require.NoError(t, err)
	assert.NotContains(t, string(art.Data), "Note:")
	assert.Contains(t, string(art.Data), "Total $60.00\n")
}

func TestObjectName(t *testing.T) {
	assert.Equal(t, "2024-03-01/Public - RX12.txt", ObjectName("2024-03-01", record(), ".txt"))

	r := record()
	r.LastName = "A/B"
	assert.Equal(t, "2024-03-01/A-B - RX12.txt", ObjectName("2024-03-01", r, ".txt"))
}

func TestFilesystemBlobStore_PutGet(t *testing.T) {
	bs, err := NewFilesystemBlobStore(t.TempDir())
	require.NoError(t, err)

	u, err := bs.Put("2024-03-01/Public - RX12.txt", []byte("v1"), "text/plain")
	require.NoError(t, err)
	u2, err := bs.Put("2024-03-01/Public - RX12.txt", []byte("v2"), "text/plain")
	require.NoError(t, err)
	assert.Equal(t, u, u2, "same name yields the same url")

	data, err := bs.Get(u)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))

	_, err = bs.Get(u + "x")
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = bs.Get("https://elsewhere/label.txt")
	assert.Error(t, err)
	_, err = bs.Put("../escape.txt", nil, "")
	assert.Error(t, err)
}
