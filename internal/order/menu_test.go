package order

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMenu(t *testing.T) {
	m, err := ParseMenu([]byte(`
counters: [fish, chips]
products:
  Fish and Chips: [fish, chips]
  Extra Chips: [chips]
donation_product: Parish Fund
pickup_window:
  default: "5:00PM"
  items: [Fish and Chips]
`))
	require.NoError(t, err)
	assert.Equal(t, []string{"fish", "chips"}, m.Counters)
	assert.Equal(t, []string{"fish", "chips"}, m.Products["Fish and Chips"])
	assert.Equal(t, "Parish Fund", m.DonationProduct)
	assert.Equal(t, PickupWindow{Default: "5:00PM", Items: []string{"Fish and Chips"}}, m.PickupWindow)
}

func TestParseMenu_RejectsUndeclaredCounter(t *testing.T) {
	_, err := ParseMenu([]byte("counters: [fish]\nproducts:\n  Soda: [drinks]\n"))
	assert.ErrorContains(t, err, `undeclared counter "drinks"`)

	_, err = ParseMenu([]byte("counters: [fish, fish]\n"))
	assert.ErrorContains(t, err, "duplicate counter")
}

func TestLoadMenu(t *testing.T) {
	path := filepath.Join(t.TempDir(), "menu.yaml")
	require.NoError(t, os.WriteFile(path, []byte("counters: [a]\n"), 0o644))
	m, err := LoadMenu(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, m.Counters)

	_, err = LoadMenu(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestDefaultMenuIsValid(t *testing.T) {
	assert.NoError(t, DefaultMenu().Validate())
}
