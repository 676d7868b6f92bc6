package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"fishfry/internal/docstore"
	"fishfry/internal/order"
	"fishfry/internal/orderstore"
	"fishfry/internal/square"
)

const recipientPhone = "fulfillments.0.pickup_details.recipient.phone_number"

// NewPhonesCommand creates the phones command.
func NewPhonesCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "phones [order-id...]",
		Short: "Print SQL updates setting phone numbers from pickup recipients",
		Long: `Look up each order in Square and print an UPDATE statement setting the
stored phone number to the pickup recipient's, with '+' and '-' removed.
Without ids every order of the event is checked.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()
			ids := args
			if len(ids) == 0 {
				if ids, err = orderIDs(cmd.Context(), a.col); err != nil {
					return err
				}
			}
			return writePhoneUpdates(cmd.Context(), opts.Out, a.square(), ids)
		},
	}
}

func orderIDs(ctx context.Context, col *docstore.Collection) ([]string, error) {
	var ids []string
	err := col.Range(ctx, func(id string, _ docstore.Envelope) error {
		ids = append(ids, id)
		return nil
	})
	return ids, err
}

func writePhoneUpdates(ctx context.Context, out io.Writer, api square.API, ids []string) error {
	for _, id := range ids {
		ord, err := api.RetrieveOrder(ctx, id)
		if err != nil {
			return err
		}
		phone, _ := ord.String(recipientPhone)
		if phone == "" {
			fmt.Fprintf(out, "-- %s: no phone\n", id)
			continue
		}
		fmt.Fprintln(out, orderstore.PhoneUpdateSQL(id, order.NormalizePhone(phone)))
	}
	return nil
}
