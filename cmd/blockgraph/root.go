package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ritzau/blockgraph/pkg/catalog"
	"github.com/ritzau/blockgraph/pkg/config"
	"github.com/ritzau/blockgraph/pkg/logging"
	"github.com/ritzau/blockgraph/pkg/model"
)

var version = "0.3.0"

var (
	cfg        *config.Config
	configPath string
)

var rootCmd = &cobra.Command{
	Use:           "blockgraph",
	Short:         "blockgraph keeps block programs consistent",
	Long:          "blockgraph loads, edits, verifies and serves visual block programs.",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(cmd.Flags(), configPath)
		if err != nil {
			return err
		}
		if err := c.ApplyLogging(); err != nil {
			return err
		}
		cfg = c
		return nil
	},
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVar(&configPath, "config", "", "Config file (default "+config.DefaultFile+" when present)")
	f.StringSlice("catalog", nil, "Block catalog files or directories merged over the built-in blocks")
	f.CountP("verbose", "v", "Increase log verbosity (-v debug, -vv trace)")
	f.String("verbosity", "", "Log level: trace, debug, info, warn or error")
	f.Bool("json-logs", false, "Write logs as JSON")

	rootCmd.AddCommand(
		verifyCmd(),
		convertCmd(),
		serveCmd(),
	)
}

// Execute runs the command line
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}

// newWorkspace builds an empty workspace from the configured catalogs
func newWorkspace() (*model.Workspace, error) {
	cat, err := catalog.Load(cfg.Catalogs...)
	if err != nil {
		return nil, err
	}
	reg, err := cat.Registry()
	if err != nil {
		return nil, err
	}
	logging.Debug("catalog loaded", "blocks", cat.Len(), "files", len(cfg.Catalogs))
	return model.NewWorkspace(reg, model.WithOptions(cfg.EngineOptions())), nil
}
