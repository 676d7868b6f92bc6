package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewSnapshotCommand creates the snapshot command.
func NewSnapshotCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot",
		Short: "Dump the document store and publish the manifest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()
			m, err := a.takeSnapshot()
			if err != nil {
				return err
			}
			fmt.Fprintf(opts.Out, "snapshot %s: %d documents, feed offset %d\n", m.SnapshotID, m.Documents, m.LastFeedOffset)
			return nil
		},
	}
}
