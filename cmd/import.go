package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/toxipipe/internal/model"
)

var importCmd = &cobra.Command{
	Use:   "import <posts.json>",
	Short: "Load a collected posts file into the store",
	Long:  "Reads a JSON array of collected posts, validates each item and upserts the valid ones. Malformed items are skipped individually, never the whole file.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		raw, err := os.ReadFile(args[0])
		if err != nil {
			return eris.Wrap(err, "read posts file")
		}

		var posts []model.RawPost
		if err := json.Unmarshal(raw, &posts); err != nil {
			return eris.Wrap(err, "parse posts file: expected a JSON array")
		}

		imported, skipped := 0, 0
		for _, post := range posts {
			if err := post.Validate(); err != nil {
				zap.L().Warn("skipping malformed post",
					zap.String("post_id", post.ID),
					zap.Error(err),
				)
				skipped++
				continue
			}
			if err := env.Store.UpsertPost(ctx, post); err != nil {
				return eris.Wrapf(err, "upsert post %s", post.ID)
			}
			imported++
		}

		zap.L().Info("import complete",
			zap.Int("imported", imported),
			zap.Int("skipped", skipped),
		)
		cmd.Printf("imported %d posts (%d skipped)\n", imported, skipped)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(importCmd)
}
