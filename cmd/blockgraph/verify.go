package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ritzau/blockgraph/pkg/output"
	"github.com/ritzau/blockgraph/pkg/serialization"
	"github.com/ritzau/blockgraph/pkg/verify"
)

var errVerifyFailed = errors.New("verification failed")

func verifyCmd() *cobra.Command {
	var (
		strict bool
		asJSON bool
		format string
	)
	cmd := &cobra.Command{
		Use:   "verify <document>",
		Short: "Load a document and check the workspace invariants",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			f := serialization.FormatFromPath(path)
			if format != "" {
				var err error
				if f, err = serialization.ParseFormat(format); err != nil {
					return err
				}
			}

			ws, err := newWorkspace()
			if err != nil {
				return err
			}
			defer ws.Dispose()

			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			ws.DisableEvents()
			_, err = serialization.LoadAs(data, f, ws, serialization.LoadOptions{IgnoreUnknown: !strict})
			ws.EnableEvents()
			if err != nil {
				return fmt.Errorf("loading %s: %w", path, err)
			}

			report := verify.Workspace(ws)
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return err
				}
			} else {
				output.PrintVerifyReport(cmd.OutOrStdout(), path, report)
			}
			if !report.OK() {
				return errVerifyFailed
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "Reject document members no serializer knows")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")
	cmd.Flags().StringVar(&format, "format", "", "Document format: json or xml (default from the file extension)")
	return cmd
}
