package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"wallora-server/codec"
	"wallora-server/layout"
)

func newLayoutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "layout <session.json>",
		Short: "Suggest or apply a layout for a saved session document",
		Long: `Without --strategy, print the ranked layout candidates for the items of a
session document. With --strategy, move the items to the chosen layout and
write the updated document.`,
		Args: cobra.ExactArgs(1),
		RunE: runLayout,
	}
	cmd.Flags().StringP("strategy", "s", "", "Apply this strategy ("+strings.Join(layout.Kinds(), ", ")+")")
	cmd.Flags().StringP("output", "o", "", "Write the updated document here instead of stdout")
	return cmd
}

func runLayout(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	w, meta, err := codec.Unmarshal(data)
	if err != nil {
		return fmt.Errorf("read %s: %w", args[0], err)
	}

	strategy, _ := cmd.Flags().GetString("strategy")
	if strategy == "" {
		suggestions, err := layout.Suggest(layout.ForWall(w))
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), suggestions)
	}

	if _, err := layout.Arrange(w, strategy); err != nil {
		return err
	}
	out, err := codec.Marshal(w, meta)
	if err != nil {
		return err
	}

	output, _ := cmd.Flags().GetString("output")
	if output == "" {
		_, err = cmd.OutOrStdout().Write(append(out, '\n'))
		return err
	}
	return os.WriteFile(output, out, 0o644)
}

func newAnalyzeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analyze <image>",
		Short: "Print the layout analysis of an image file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			analysis, err := layout.Analyze(data)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), analysis)
		},
	}
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
