package cli

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// RecoverOptions holds flags for the recover command.
type RecoverOptions struct {
	*RootOptions
	Source string
}

// NewRecoverCommand creates the recover command.
func NewRecoverCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RecoverOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Restore the document store from the latest snapshot and change feed",
		Long: `Load the snapshot named by the latest manifest into the document store and
replay the change feed written after it. Replaying is idempotent: events the
store already holds are skipped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.Source != SinkFile && opts.Source != SinkKafka {
				return errors.Errorf("invalid source %q: must be file or kafka", opts.Source)
			}
			a, err := openApp(opts.RootOptions)
			if err != nil {
				return err
			}
			defer a.Close()
			res, err := a.restore(opts.Source)
			if err != nil {
				return err
			}
			fmt.Fprintf(opts.Out, "applied=%d skipped=%d last_offset=%d\n", res.Applied, res.Skipped, res.LastOffset)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.Source, "source", SinkFile, "change feed source: file|kafka")
	return cmd
}
