package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Veraticus/opsflow/internal/cli"
	"github.com/Veraticus/opsflow/internal/gateway"
	"github.com/Veraticus/opsflow/internal/model"
)

// maxLineBytes bounds one NDJSON record.
const maxLineBytes = 4 << 20

func ingestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Admit events through the gateway",
		Long: `Admit a single event from flags, or many from a newline-delimited JSON file
where every line is an ingest request:

  {"company_id":"c1","source":"bank","event_type":"transaction.created","payload":{...}}

Examples:
  opsflow ingest --company c1 --source manual --type transaction.created \
    --payload '{"amount":150,"description":"Consulting fee","type":"income"}'

  opsflow ingest --file events.ndjson`,
		RunE: runIngest,
	}

	cmd.Flags().StringP("file", "f", "", "NDJSON file of ingest requests (- for stdin)")
	cmd.Flags().String("company", "", "company ID")
	cmd.Flags().String("source", string(model.SourceManual), "event source")
	cmd.Flags().String("type", "", "event type")
	cmd.Flags().String("external-id", "", "caller-supplied external ID")
	cmd.Flags().String("payload", "", "event payload as a JSON object")
	cmd.Flags().String("user", "", "act as this user instead of as a service")

	return cmd
}

func runIngest(cmd *cobra.Command, _ []string) error {
	file, _ := cmd.Flags().GetString("file")
	user, _ := cmd.Flags().GetString("user")
	caller := gateway.Caller{UserID: user, IsService: user == ""}

	a, _, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if file != "" {
		return ingestFile(cmd, a.Gateway, caller, file)
	}

	req, err := requestFromFlags(cmd)
	if err != nil {
		return err
	}
	res, err := a.Gateway.Ingest(cmd.Context(), caller, req)
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), res)
}

func requestFromFlags(cmd *cobra.Command) (gateway.IngestRequest, error) {
	company, _ := cmd.Flags().GetString("company")
	source, _ := cmd.Flags().GetString("source")
	eventType, _ := cmd.Flags().GetString("type")
	externalID, _ := cmd.Flags().GetString("external-id")
	rawPayload, _ := cmd.Flags().GetString("payload")

	req := gateway.IngestRequest{
		CompanyID:  company,
		Source:     model.EventSource(source),
		EventType:  eventType,
		ExternalID: externalID,
	}
	if rawPayload != "" {
		if err := json.Unmarshal([]byte(rawPayload), &req.Payload); err != nil {
			return req, fmt.Errorf("invalid --payload: %w", err)
		}
	}
	return req, nil
}

type ingestTally struct {
	admitted   int
	duplicates int
	failed     int
}

func ingestFile(cmd *cobra.Command, gw *gateway.Gateway, caller gateway.Caller, path string) error {
	data, err := readInput(cmd.InOrStdin(), path)
	if err != nil {
		return err
	}

	lines := nonEmptyLines(data)
	if len(lines) == 0 {
		return fmt.Errorf("no events found in %s", path)
	}

	bar := cli.NewProgress(cmd.ErrOrStderr(), len(lines), "Ingesting events...")
	var tally ingestTally
	for i, line := range lines {
		if err := cmd.Context().Err(); err != nil {
			return err
		}
		tally.record(ingestLine(cmd.Context(), gw, caller, line), i+1)
		if err := bar.Add(1); err != nil {
			slog.Warn("Failed to update progress bar", "error", err)
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("%d admitted", tally.admitted)))
	if tally.duplicates > 0 {
		fmt.Fprintln(out, cli.FormatWarning(fmt.Sprintf("%d duplicates skipped", tally.duplicates)))
	}
	if tally.failed > 0 {
		fmt.Fprintln(out, cli.FormatError(fmt.Sprintf("%d failed", tally.failed)))
		return fmt.Errorf("%d of %d events failed", tally.failed, len(lines))
	}
	return nil
}

type lineOutcome struct {
	err       error
	duplicate bool
}

func ingestLine(ctx context.Context, gw *gateway.Gateway, caller gateway.Caller, line []byte) lineOutcome {
	var req gateway.IngestRequest
	if err := json.Unmarshal(line, &req); err != nil {
		return lineOutcome{err: fmt.Errorf("invalid JSON: %w", err)}
	}
	res, err := gw.Ingest(ctx, caller, req)
	if err != nil {
		return lineOutcome{err: err}
	}
	return lineOutcome{duplicate: res.IsDuplicate}
}

func (t *ingestTally) record(o lineOutcome, lineNo int) {
	switch {
	case o.err != nil:
		t.failed++
		slog.Error("Failed to ingest event", "line", lineNo, "error", o.err)
	case o.duplicate:
		t.duplicates++
	default:
		t.admitted++
	}
}

func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

func nonEmptyLines(data []byte) [][]byte {
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var lines [][]byte
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		lines = append(lines, append([]byte(nil), line...))
	}
	if err := sc.Err(); err != nil && !errors.Is(err, io.EOF) {
		slog.Warn("Stopped reading input early", "error", err)
	}
	return lines
}
