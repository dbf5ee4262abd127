package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/toxipipe/internal/export"
	"github.com/sells-group/toxipipe/internal/store"
)

var (
	exportFormat      string
	exportOut         string
	exportWhat        string
	exportLimit       int
	exportMinToxicity float64
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export stored posts or analyses to a file",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		format, err := export.ParseFormat(exportFormat)
		if err != nil {
			return err
		}
		if exportOut == "" {
			exportOut = exportWhat + "." + exportFormat
		}

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		switch exportWhat {
		case "posts":
			posts, err := env.Store.ListPosts(ctx, exportLimit, 0)
			if err != nil {
				return err
			}
			if err := export.Posts(posts, exportOut, format); err != nil {
				return err
			}
			zap.L().Info("export complete", zap.Int("posts", len(posts)), zap.String("path", exportOut))
			cmd.Printf("wrote %d posts to %s\n", len(posts), exportOut)
		case "analyses":
			recs, err := env.Store.ListAnalyses(ctx, store.AnalysisFilter{
				Limit:       exportLimit,
				MinToxicity: exportMinToxicity,
			})
			if err != nil {
				return err
			}
			if err := export.Analyses(recs, exportOut, format); err != nil {
				return err
			}
			zap.L().Info("export complete", zap.Int("analyses", len(recs)), zap.String("path", exportOut))
			cmd.Printf("wrote %d analyses to %s\n", len(recs), exportOut)
		default:
			return eris.Errorf("unknown export target %q (want posts or analyses)", exportWhat)
		}

		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportFormat, "format", "json", "output format: json, csv or xlsx")
	exportCmd.Flags().StringVar(&exportOut, "out", "", "output path (default <target>.<format>)")
	exportCmd.Flags().StringVar(&exportWhat, "what", "analyses", "what to export: posts or analyses")
	exportCmd.Flags().IntVar(&exportLimit, "limit", 10000, "maximum rows to export")
	exportCmd.Flags().Float64Var(&exportMinToxicity, "min-toxicity", 0, "only export analyses at or above this toxicity")
	rootCmd.AddCommand(exportCmd)
}
