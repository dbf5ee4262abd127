// Package export writes posts and analyses to JSON, CSV and XLSX files.
package export

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/toxipipe/internal/model"
)

// Format selects the output encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ParseFormat validates a format flag value.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatJSON, FormatCSV, FormatXLSX:
		return Format(s), nil
	default:
		return "", eris.Errorf("export: unknown format %q (want json, csv or xlsx)", s)
	}
}

var analysisColumns = []string{
	"id",
	"text",
	"toxicity",
	"severe_toxicity",
	"obscene",
	"threat",
	"insult",
	"identity_attack",
	"is_toxic",
	"confidence_level",
	"analyzed_at",
}

var postColumns = []string{
	"id",
	"text",
	"cleaned_text",
	"author_id",
	"created_at",
	"likes",
	"retweets",
	"replies",
	"url",
	"collected_at",
}

// Analyses writes analysis records to path in the given format.
func Analyses(recs []model.AnalysisRecord, path string, format Format) error {
	switch format {
	case FormatJSON:
		return writeJSONFile(path, recs)
	case FormatCSV:
		return writeCSVFile(path, analysisColumns, analysisRows(recs))
	case FormatXLSX:
		return writeXLSXFile(path, "analyses", analysisColumns, analysisRows(recs))
	default:
		return eris.Errorf("export: unknown format %q", format)
	}
}

// Posts writes posts to path in the given format.
func Posts(posts []model.RawPost, path string, format Format) error {
	switch format {
	case FormatJSON:
		return writeJSONFile(path, posts)
	case FormatCSV:
		return writeCSVFile(path, postColumns, postRows(posts))
	case FormatXLSX:
		return writeXLSXFile(path, "posts", postColumns, postRows(posts))
	default:
		return eris.Errorf("export: unknown format %q", format)
	}
}

func analysisRows(recs []model.AnalysisRecord) [][]string {
	rows := make([][]string, 0, len(recs))
	for _, r := range recs {
		rows = append(rows, []string{
			r.PostID,
			r.Text,
			formatScore(r.Toxicity),
			formatScore(r.SevereToxicity),
			formatScore(r.Obscene),
			formatScore(r.Threat),
			formatScore(r.Insult),
			formatScore(r.IdentityAttack),
			strconv.FormatBool(r.IsToxic),
			string(r.ConfidenceLevel),
			r.AnalyzedAt.UTC().Format(time.RFC3339),
		})
	}
	return rows
}

func postRows(posts []model.RawPost) [][]string {
	rows := make([][]string, 0, len(posts))
	for _, p := range posts {
		rows = append(rows, []string{
			p.ID,
			p.Text,
			p.CleanedText,
			p.AuthorID,
			p.CreatedAt.UTC().Format(time.RFC3339),
			strconv.Itoa(p.Likes),
			strconv.Itoa(p.Retweets),
			strconv.Itoa(p.Replies),
			p.URL,
			p.CollectedAt.UTC().Format(time.RFC3339),
		})
	}
	return rows
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func writeJSONFile(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrap(err, "export: create file")
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return eris.Wrap(err, "export: encode json")
	}
	return nil
}

func writeCSVFile(path string, header []string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrap(err, "export: create file")
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return eris.Wrap(err, "export: write header")
	}
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			return eris.Wrap(err, "export: write row")
		}
	}
	w.Flush()
	return eris.Wrap(w.Error(), "export: flush csv")
}

func writeXLSXFile(path, sheetName string, header []string, rows [][]string) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(sheetName)
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}

	hr := sheet.AddRow()
	for _, col := range header {
		hr.AddCell().Value = col
	}
	for _, row := range rows {
		r := sheet.AddRow()
		for _, cell := range row {
			r.AddCell().Value = cell
		}
	}

	return eris.Wrap(f.Save(path), "export: save xlsx")
}
