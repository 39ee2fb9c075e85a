package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/opsflow/internal/config"
)

const statementOFX = `OFXHEADER:100
DATA:OFXSGML
VERSION:102
SECURITY:NONE
ENCODING:USASCII
CHARSET:1252
COMPRESSION:NONE
OLDFILEUID:NONE
NEWFILEUID:NONE

<OFX>
<SIGNONMSGSRSV1>
<SONRS>
<STATUS>
<CODE>0
<SEVERITY>INFO
</STATUS>
<DTSERVER>20240315120000[0:GMT]
<LANGUAGE>ENG
</SONRS>
</SIGNONMSGSRSV1>
<BANKMSGSRSV1>
<STMTTRNRS>
<TRNUID>1
<STATUS>
<CODE>0
<SEVERITY>INFO
</STATUS>
<STMTRS>
<CURDEF>USD
<BANKACCTFROM>
<BANKID>123456789
<ACCTID>1234567890
<ACCTTYPE>CHECKING
</BANKACCTFROM>
<BANKTRANLIST>
<DTSTART>20240101120000[0:GMT]
<DTEND>20240131120000[0:GMT]
<STMTTRN>
<TRNTYPE>DEBIT
<DTPOSTED>20240115120000[0:GMT]
<TRNAMT>-25.50
<FITID>2024011501
<NAME>STARBUCKS STORE #1234
</STMTTRN>
<STMTTRN>
<TRNTYPE>CREDIT
<DTPOSTED>20240120120000[0:GMT]
<TRNAMT>2500.00
<FITID>2024012001
<NAME>ACME INC CONSULTING FEE
</STMTTRN>
</BANKTRANLIST>
<LEDGERBAL>
<BALAMT>1000.00
<DTASOF>20240131120000[0:GMT]
</LEDGERBAL>
</STMTRS>
</STMTTRNRS>
</BANKMSGSRSV1>
</OFX>`

// resetFlags restores every flag to its default so commands can run repeatedly in one process.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

// run executes the CLI against the database at dbPath and returns stdout.
func run(t *testing.T, dbPath string, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(append(args, "--db", dbPath, "--log-level", "error"))
	err := rootCmd.ExecuteContext(t.Context())
	return out.String(), err
}

func tempDB(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "opsflow.db")
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestVersion(t *testing.T) {
	out, err := run(t, tempDB(t), "version")
	require.NoError(t, err)
	assert.Equal(t, "opsflow dev\n", out)
}

func TestCompanies(t *testing.T) {
	db := tempDB(t)

	out, err := run(t, db, "companies", "add", "Acme Studio", "--id", "c1", "--owner", "u1", "--approval-threshold", "2500")
	require.NoError(t, err)
	assert.Contains(t, out, "registered as c1")

	out, err = run(t, db, "companies", "list", "--owner", "u1")
	require.NoError(t, err)
	assert.Contains(t, out, "Acme Studio")
	assert.Contains(t, out, "2500.00")

	_, err = run(t, db, "companies", "add", "Nobody Inc")
	assert.Error(t, err, "owner is required")
}

func TestRulesImportAndList(t *testing.T) {
	db := tempDB(t)
	rules := writeFile(t, "rules.yaml", `
rules:
  - name: Hosting
    rule_type: classification
    priority: 5
    conditions:
      description: hetzner
    actions:
      category: infrastructure
`)

	out, err := run(t, db, "rules", "import", rules, "--user", "u1")
	require.NoError(t, err)
	assert.Contains(t, out, "Imported 1 rules")

	// Importing twice updates in place.
	_, err = run(t, db, "rules", "import", rules, "--user", "u1")
	require.NoError(t, err)

	out, err = run(t, db, "rules", "list", "--user", "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(out, "name: Hosting"))
	assert.Contains(t, out, "category: infrastructure")

	bad := writeFile(t, "bad.yaml", "rules:\n  - name: nothing\n    rule_type: classification\n")
	_, err = run(t, db, "rules", "import", bad, "--user", "u1")
	assert.Error(t, err)
}

func TestIngestSingleEvent(t *testing.T) {
	db := tempDB(t)
	_, err := run(t, db, "companies", "add", "Acme", "--id", "c1", "--owner", "u1")
	require.NoError(t, err)

	out, err := run(t, db, "ingest",
		"--company", "c1",
		"--type", "transaction.created",
		"--external-id", "inv-7",
		"--payload", `{"amount":150,"description":"Consulting fee from Acme Inc","type":"income","date":"2024-05-01"}`)
	require.NoError(t, err)

	var res map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "PROCESSED", res["status"])
	assert.Equal(t, false, res["is_duplicate"])

	_, err = run(t, db, "ingest", "--company", "c1", "--type", "transaction.created", "--payload", "not json")
	assert.ErrorContains(t, err, "invalid --payload")
}

func TestIngestFile(t *testing.T) {
	db := tempDB(t)
	_, err := run(t, db, "companies", "add", "Acme", "--id", "c1", "--owner", "u1")
	require.NoError(t, err)

	line := `{"company_id":"c1","source":"bank","event_type":"transaction.created","external_id":"t-1","payload":{"amount":42,"description":"Office supplies","type":"expense"}}`
	events := writeFile(t, "events.ndjson", "# sample\n"+line+"\n\n"+line+"\n")

	out, err := run(t, db, "ingest", "--file", events)
	require.NoError(t, err)
	assert.Contains(t, out, "1 admitted")
	assert.Contains(t, out, "1 duplicates skipped")

	broken := writeFile(t, "broken.ndjson", line+"\n{oops\n")
	out, err = run(t, db, "ingest", "--file", broken)
	assert.ErrorContains(t, err, "1 of 2 events failed")
	assert.Contains(t, out, "1 failed")
}

func TestImportOFX(t *testing.T) {
	db := tempDB(t)
	_, err := run(t, db, "companies", "add", "Acme", "--id", "c1", "--owner", "u1")
	require.NoError(t, err)
	statement := writeFile(t, "jan.ofx", statementOFX)

	out, err := run(t, db, "import-ofx", statement, "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "2 statement lines")
	assert.Contains(t, out, "Money in:   2500.00")
	assert.Contains(t, out, "Money out:  25.50")

	out, err = run(t, db, "import-ofx", statement, "--company", "c1")
	require.NoError(t, err)
	assert.Contains(t, out, "2 statement lines ingested")

	out, err = run(t, db, "import-ofx", statement, "--company", "c1")
	require.NoError(t, err)
	assert.Contains(t, out, "2 already imported")

	_, err = run(t, db, "import-ofx", statement)
	assert.ErrorContains(t, err, "--company is required")
}

func TestProcessPendingAndReports(t *testing.T) {
	db := tempDB(t)
	_, err := run(t, db, "companies", "add", "Acme", "--id", "c1", "--owner", "u1")
	require.NoError(t, err)

	out, err := run(t, db, "process-pending")
	require.NoError(t, err)
	assert.Contains(t, out, "Processed 0 pending events")

	out, err = run(t, db, "briefing", "--user", "u1", "--json")
	require.NoError(t, err)
	var b map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &b))
	assert.Equal(t, "u1", b["user_id"])

	out, err = run(t, db, "growth", "--user", "u1", "--topic", "bookkeeping", "--platform", "linkedin")
	require.NoError(t, err)
	assert.Contains(t, out, "Growth insights")
	assert.Contains(t, out, "bookkeeping on linkedin")
}

func TestMigrate(t *testing.T) {
	db := tempDB(t)
	_, err := run(t, db, "migrate")
	require.NoError(t, err)
	_, err = os.Stat(db)
	assert.NoError(t, err)
}

func TestTLSConfig(t *testing.T) {
	off, err := tlsConfig(config.TLSConfig{Mode: config.TLSOff})
	require.NoError(t, err)
	assert.Nil(t, off)

	self, err := tlsConfig(config.TLSConfig{Mode: config.TLSSelfSigned, CertDir: t.TempDir()})
	require.NoError(t, err)
	require.NotNil(t, self)
	assert.Len(t, self.Certificates, 1)

	_, err = tlsConfig(config.TLSConfig{Mode: config.TLSFiles, CertFile: "/nonexistent.crt", KeyFile: "/nonexistent.key"})
	assert.ErrorContains(t, err, "failed to load TLS key pair")
}
