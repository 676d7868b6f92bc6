package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewResyncCommand creates the resync command.
func NewResyncCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resync <order-id>...",
		Short: "Rebuild stored records and labels from the order documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()
			labels, err := a.labelManager()
			if err != nil {
				return err
			}
			for _, id := range args {
				if err := labels.Rebuild(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(opts.Out, "resynced %s\n", id)
			}
			return nil
		},
	}
}
