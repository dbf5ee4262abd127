package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/sells-group/toxipipe/internal/model"
)

var statsRecompute bool

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print aggregate toxicity statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		var snap model.AggregateStats
		if statsRecompute {
			snap, err = env.Stats.Recompute(ctx)
			if err != nil {
				return err
			}
		} else {
			snap = env.Stats.Snapshot()
		}

		out, err := json.MarshalIndent(snap, "", "  ")
		if err != nil {
			return err
		}
		cmd.Println(string(out))
		return nil
	},
}

func init() {
	statsCmd.Flags().BoolVar(&statsRecompute, "recompute", false, "rebuild statistics from a full store scan")
	rootCmd.AddCommand(statsCmd)
}
