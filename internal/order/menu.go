package order

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Menu is the event-specific configuration the derivation rules read:
// which products feed which counters, the donation product and how the
// pickup window is chosen. Changing the menu never requires code changes.
type Menu struct {
	// Counters lists every counter kept on a record, in display order.
	Counters []string `yaml:"counters"`
	// Products maps a line item name to the counters its quantity feeds.
	Products map[string][]string `yaml:"products"`
	// DonationProduct is the line item name whose money is a donation.
	DonationProduct string       `yaml:"donation_product"`
	PickupWindow    PickupWindow `yaml:"pickup_window"`
}

// PickupWindow selects the window printed on a label. When Items is set the
// earliest variation among those line items wins, falling back to Default.
type PickupWindow struct {
	Default string   `yaml:"default"`
	Items   []string `yaml:"items"`
}

// DefaultMenu is the concert-and-dinner menu.
func DefaultMenu() Menu {
	return Menu{
		Counters: []string{"concert", "dinner"},
		Products: map[string][]string{
			"Concert and Dinner": {"concert", "dinner"},
			"Concert Ticket":     {"concert"},
			"Italian Dinner":     {"dinner"},
		},
		DonationProduct: "Donate to StMM Parish Life Center",
		PickupWindow:    PickupWindow{Default: "6:00PM-6:15PM Serving"},
	}
}

// LoadMenu reads a YAML menu file.
func LoadMenu(path string) (Menu, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Menu{}, errors.Wrap(err, "read menu")
	}
	return ParseMenu(data)
}

func ParseMenu(data []byte) (Menu, error) {
	var m Menu
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Menu{}, errors.Wrap(err, "parse menu")
	}
	if err := m.Validate(); err != nil {
		return Menu{}, err
	}
	return m, nil
}

// Validate checks that every product feeds only declared counters.
func (m Menu) Validate() error {
	declared := make(map[string]struct{}, len(m.Counters))
	for _, c := range m.Counters {
		if c == "" {
			return errors.New("menu: empty counter name")
		}
		if _, dup := declared[c]; dup {
			return errors.Errorf("menu: duplicate counter %q", c)
		}
		declared[c] = struct{}{}
	}
	for product, counters := range m.Products {
		for _, c := range counters {
			if _, ok := declared[c]; !ok {
				return errors.Errorf("menu: product %q feeds undeclared counter %q", product, c)
			}
		}
	}
	return nil
}
