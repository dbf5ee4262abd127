package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/toxipipe/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "toxipipe",
	Short: "Toxicity classification pipeline for collected social posts",
	Long:  "Ingests collected social media posts, normalizes text, scores toxicity via an external oracle, classifies verdicts, dedups by post id and maintains aggregate statistics.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := cfg.Render()
		if err != nil {
			return err
		}
		cmd.Print(out)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
