package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/ritzau/blockgraph/pkg/output"
	"github.com/ritzau/blockgraph/pkg/serialization"
)

func convertCmd() *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "convert <input> <output>",
		Short: "Convert a document between the JSON and XML formats",
		Long: "Convert loads a document into a scratch workspace and saves it again,\n" +
			"so the output only holds what the workspace accepted. Use - as output for stdout.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, out := args[0], args[1]
			src, err := formatFlag(from, in)
			if err != nil {
				return err
			}
			dst, err := formatFlag(to, out)
			if err != nil {
				return err
			}

			ws, err := newWorkspace()
			if err != nil {
				return err
			}
			defer ws.Dispose()

			data, err := os.ReadFile(in)
			if err != nil {
				return err
			}
			converted, blocks, err := serialization.Convert(data, src, dst, ws.Registry())
			if err != nil {
				return err
			}

			if out == "-" {
				_, err := cmd.OutOrStdout().Write(converted)
				return err
			}
			if err := os.WriteFile(out, converted, 0o644); err != nil {
				return err
			}
			output.PrintConversion(cmd.OutOrStdout(), in, out, blocks)
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "Input format (default from the input extension)")
	cmd.Flags().StringVar(&to, "to", "", "Output format (default from the output extension)")
	return cmd
}

// formatFlag returns the named format, or the one implied by path
func formatFlag(name, path string) (serialization.Format, error) {
	if name != "" {
		return serialization.ParseFormat(name)
	}
	return serialization.FormatFromPath(path), nil
}
