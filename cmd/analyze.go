package main

import (
	"encoding/json"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sells-group/toxipipe/internal/normalize"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <text>",
	Short: "Clean, score and classify a single text without persisting it",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		rec, err := env.Pipeline.AnalyzeText(ctx, strings.Join(args, " "))
		if err != nil {
			return err
		}

		out, err := json.MarshalIndent(rec, "", "  ")
		if err != nil {
			return err
		}
		cmd.Println(string(out))
		return nil
	},
}

var cleanCmd = &cobra.Command{
	Use:   "clean <text>",
	Short: "Print the normalized form of a text",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.Println(normalize.Normalize(strings.Join(args, " ")))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(cleanCmd)
}
