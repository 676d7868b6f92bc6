// Package cli implements the fishfry command line.
package cli

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"fishfry/internal/logging"
)

// RootOptions holds the configuration shared by every command.
type RootOptions struct {
	Config Config
	Out    io.Writer
	Log    *logrus.Logger

	event        string
	logLevel     string
	storeBackend string
	storeDir     string
}

// NewRootCommand creates the fishfry command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "fishfry",
		Short:         "Pickup order pipeline for Square orders",
		Long:          "Receives Square webhooks, keeps order documents, prints pickup labels and mirrors orders into SQL.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.load(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.event, "event", "", "event date (overrides FISHFRY_EVENT)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (overrides FISHFRY_LOG_LEVEL)")
	cmd.PersistentFlags().StringVar(&opts.storeBackend, "store-backend", "", "document store: memory|pebble|badger")
	cmd.PersistentFlags().StringVar(&opts.storeDir, "store-dir", "", "document store directory")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewResyncCommand(opts))
	cmd.AddCommand(NewPhonesCommand(opts))
	cmd.AddCommand(NewSeedCommand(opts))
	cmd.AddCommand(NewSnapshotCommand(opts))
	cmd.AddCommand(NewRecoverCommand(opts))

	return cmd
}

// load reads the environment and applies flags set on the command line.
func (o *RootOptions) load(cmd *cobra.Command) error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("event") {
		cfg.Event = o.event
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = o.logLevel
	}
	if flags.Changed("store-backend") {
		cfg.StoreBackend = o.storeBackend
	}
	if flags.Changed("store-dir") {
		cfg.StoreDir = o.storeDir
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	log, err := logging.Setup(cfg.LogLevel, os.Stderr)
	if err != nil {
		return err
	}
	o.Config = cfg
	o.Log = log
	o.Out = cmd.OutOrStdout()
	return nil
}
