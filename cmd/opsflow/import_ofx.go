package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/Veraticus/opsflow/internal/cli"
	"github.com/Veraticus/opsflow/internal/gateway"
	"github.com/Veraticus/opsflow/internal/model"
	"github.com/Veraticus/opsflow/internal/ofx"
)

// EventTypeBankStatement is the event type every imported statement line becomes.
const EventTypeBankStatement = "bank_statement.imported"

func importOFXCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import-ofx [files...]",
		Short: "Ingest bank statement lines from OFX/QFX files",
		Long: `Ingest transactions from OFX or QFX (Quicken) files exported from your bank.
Each statement line becomes one bank_statement.imported event; re-importing an
overlapping statement is safe because lines are keyed by account and FITID.

Examples:
  opsflow import-ofx --company c1 ~/Downloads/chase_jan_2024.qfx
  opsflow import-ofx --company c1 ~/Downloads/Chase/*.qfx ~/Downloads/Ally/*.qfx
  opsflow import-ofx --dry-run ~/Downloads/*.ofx`,
		Args: cobra.MinimumNArgs(1),
		RunE: runImportOFX,
	}

	cmd.Flags().String("company", "", "company the statements belong to")
	cmd.Flags().BoolP("dry-run", "d", false, "parse and summarize without ingesting")

	return cmd
}

func runImportOFX(cmd *cobra.Command, args []string) error {
	company, _ := cmd.Flags().GetString("company")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	if company == "" && !dryRun {
		return fmt.Errorf("--company is required unless --dry-run is set")
	}

	files, err := expandPatterns(args)
	if err != nil {
		return err
	}

	entries := parseStatements(cmd, files)
	if len(entries) == 0 {
		slog.Warn("No transactions found in any file")
		return nil
	}

	summarizeEntries(cmd, entries)
	if dryRun {
		slog.Info("Dry run complete, nothing ingested")
		return nil
	}

	a, _, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	bar := cli.NewProgress(cmd.ErrOrStderr(), len(entries), "Ingesting statement lines...")
	caller := gateway.Caller{IsService: true}
	var tally ingestTally
	for i, e := range entries {
		if err := cmd.Context().Err(); err != nil {
			return err
		}
		occurred := e.Date
		res, err := a.Gateway.Ingest(cmd.Context(), caller, gateway.IngestRequest{
			OccurredAt: &occurred,
			Payload:    e.Payload(),
			Metadata:   map[string]any{"importer": "ofx"},
			CompanyID:  company,
			Source:     model.SourceBank,
			EventType:  EventTypeBankStatement,
			ExternalID: e.ExternalID(),
		})
		outcome := lineOutcome{err: err}
		if err == nil {
			outcome.duplicate = res.IsDuplicate
		}
		tally.record(outcome, i+1)
		if err := bar.Add(1); err != nil {
			slog.Warn("Failed to update progress bar", "error", err)
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("%d statement lines ingested", tally.admitted)))
	if tally.duplicates > 0 {
		fmt.Fprintln(out, cli.FormatWarning(fmt.Sprintf("%d already imported", tally.duplicates)))
	}
	if tally.failed > 0 {
		return fmt.Errorf("%d of %d statement lines failed", tally.failed, len(entries))
	}
	return nil
}

func expandPatterns(patterns []string) ([]string, error) {
	var files []string
	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %s: %w", pattern, err)
		}
		if len(matches) == 0 {
			if _, err := os.Stat(pattern); err == nil {
				files = append(files, pattern)
			} else {
				slog.Warn("No files found matching pattern", "pattern", pattern)
			}
			continue
		}
		files = append(files, matches...)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no files found to import")
	}
	return files, nil
}

// parseStatements parses every file, skipping unreadable ones and lines
// repeated across overlapping statements.
func parseStatements(cmd *cobra.Command, files []string) []ofx.Entry {
	parser := ofx.NewParser()
	seen := make(map[string]bool)
	var entries []ofx.Entry

	for _, path := range files {
		f, err := os.Open(path)
		if err != nil {
			slog.Error("Failed to open file", "file", path, "error", err)
			continue
		}
		parsed, err := parser.ParseFile(cmd.Context(), f)
		_ = f.Close()
		if err != nil {
			slog.Error("Failed to parse OFX file", "file", path, "error", err)
			continue
		}

		added := 0
		for _, e := range parsed {
			if seen[e.ExternalID()] {
				continue
			}
			seen[e.ExternalID()] = true
			entries = append(entries, e)
			added++
		}
		slog.Info("Processed file",
			"file", filepath.Base(path),
			"transactions_found", len(parsed),
			"added", added,
			"duplicates", len(parsed)-added)
	}
	return entries
}

func summarizeEntries(cmd *cobra.Command, entries []ofx.Entry) {
	oldest, newest := entries[0].Date, entries[0].Date
	in, out := decimal.Zero, decimal.Zero
	for _, e := range entries {
		if e.Date.Before(oldest) {
			oldest = e.Date
		}
		if e.Date.After(newest) {
			newest = e.Date
		}
		if e.Amount.IsNegative() {
			out = out.Add(e.Amount.Abs())
		} else {
			in = in.Add(e.Amount)
		}
	}

	w := cmd.OutOrStdout()
	fmt.Fprintln(w, cli.TitleStyle.Render(fmt.Sprintf("%d statement lines", len(entries))))
	fmt.Fprintf(w, "Date range: %s to %s\n", oldest.Format("2006-01-02"), newest.Format("2006-01-02"))
	fmt.Fprintf(w, "Money in:   %s\n", in.StringFixed(2))
	fmt.Fprintf(w, "Money out:  %s\n", out.StringFixed(2))
	fmt.Fprintf(w, "Accounts:   %v\n", ofx.Accounts(entries))
}
