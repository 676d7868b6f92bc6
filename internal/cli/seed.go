package cli

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"fishfry/internal/document"
	"fishfry/internal/order"
)

// SeedOptions holds flags for the seed command.
type SeedOptions struct {
	*RootOptions
	Count     int
	Seed      int64
	PriceCent int64
	Records   bool
}

// NewSeedCommand creates the seed command.
func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SeedOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create synthetic orders from the menu",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSeed(cmd.Context(), opts)
		},
	}
	cmd.Flags().IntVarP(&opts.Count, "count", "n", 20, "number of orders")
	cmd.Flags().Int64Var(&opts.Seed, "seed", time.Now().UnixNano(), "random seed")
	cmd.Flags().Int64Var(&opts.PriceCent, "price", 1500, "price of every product in cents")
	cmd.Flags().BoolVar(&opts.Records, "records", true, "also build records and labels")
	return cmd
}

func runSeed(ctx context.Context, opts *SeedOptions) error {
	a, err := openApp(opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.Close()
	var rebuild func(context.Context, string) error
	if opts.Records {
		labels, err := a.labelManager()
		if err != nil {
			return err
		}
		rebuild = labels.Rebuild
	}

	gen := newOrderGenerator(a.menu, opts.Seed, opts.PriceCent)
	for i := 0; i < opts.Count; i++ {
		env, err := a.col.Create(ctx, gen.next())
		if err != nil {
			return err
		}
		id, _ := env.Doc.String("order.id")
		n, _ := env.Doc.Int("order_number")
		if rebuild != nil {
			if err := rebuild(ctx, id); err != nil {
				return err
			}
		}
		fmt.Fprintf(opts.Out, "%d %s\n", n, id)
	}
	return nil
}

var (
	givenNames  = []string{"Ann", "Bob", "Carmen", "Dmitri", "Eve", "Farid", "Grace", "Hiro"}
	familyNames = []string{"Nowak", "Okafor", "Schmidt", "Rossi", "Kowalski", "Murphy", "Tanaka"}
)

type orderGenerator struct {
	rnd      *rand.Rand
	products []string
	price    int64
	now      func() time.Time
	newID    func() string
}

func newOrderGenerator(menu order.Menu, seed, price int64) *orderGenerator {
	products := make([]string, 0, len(menu.Products))
	for p := range menu.Products {
		products = append(products, p)
	}
	sort.Strings(products)
	return &orderGenerator{
		rnd:      rand.New(rand.NewSource(seed)),
		products: products,
		price:    price,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// next builds an order document in the shape the order manager stores.
func (g *orderGenerator) next() document.Document {
	var items []any
	var total int64
	for _, p := range g.products {
		if g.rnd.Intn(2) == 0 && len(items) > 0 {
			continue
		}
		qty := int64(g.rnd.Intn(4) + 1)
		amount := qty * g.price
		total += amount
		items = append(items, map[string]any{
			"name":        p,
			"quantity":    fmt.Sprint(qty),
			"total_money": map[string]any{"amount": amount, "currency": "USD"},
		})
	}
	given := givenNames[g.rnd.Intn(len(givenNames))]
	family := familyNames[g.rnd.Intn(len(familyNames))]
	phone := fmt.Sprintf("+1555%07d", g.rnd.Intn(10000000))
	id := g.newID()
	return document.Document{
		"order": map[string]any{
			"id":              id,
			"created_at":      g.now().UTC().Format(time.RFC3339),
			"version":         1,
			"line_items":      items,
			"total_money":     map[string]any{"amount": total, "currency": "USD"},
			"total_tip_money": map[string]any{"amount": 0, "currency": "USD"},
			"fulfillments": []any{map[string]any{
				"type": "PICKUP",
				"pickup_details": map[string]any{
					"recipient": map[string]any{"display_name": given + " " + family, "phone_number": phone},
				},
			}},
		},
		"customer": map[string]any{
			"given_name":   given,
			"family_name":  family,
			"phone_number": phone,
			"version":      1,
		},
		"payment": map[string]any{
			"receipt_url":    "https://squareup.com/receipt/preview/" + id,
			"processing_fee": []any{map[string]any{"amount_money": map[string]any{"amount": total * 3 / 100}}},
			"updated_at":     g.now().UTC().Format(time.RFC3339),
		},
	}
}
