package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/toxipipe/internal/model"
)

var processLimit int

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Run the pipeline over stored posts that have no analysis yet",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		results, err := env.Pipeline.ProcessUnanalyzed(ctx, processLimit)
		if err != nil {
			return err
		}

		ok, failed := 0, 0
		for _, r := range results {
			if r.Status == model.PostStatusFailed {
				failed++
				cmd.Printf("FAIL  %s  stage=%s  %s\n", r.PostID, r.Stage, r.Error)
				continue
			}
			ok++
		}

		zap.L().Info("processing complete", zap.Int("ok", ok), zap.Int("failed", failed))
		cmd.Printf("processed %d posts (%d failed)\n", ok+failed, failed)
		return nil
	},
}

func init() {
	processCmd.Flags().IntVar(&processLimit, "limit", 100, "maximum posts to process")
	rootCmd.AddCommand(processCmd)
}
