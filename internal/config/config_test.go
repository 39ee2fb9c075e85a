package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/opsflow/internal/common"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(viper.New())
	require.NoError(t, err)

	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.NotContains(t, cfg.Database.Path, "~")
	assert.InDelta(t, 1000.0, cfg.Pipeline.ApprovalThreshold, 0.001)
	assert.Equal(t, time.Duration(0), cfg.Pipeline.StageTimeout)
	assert.Equal(t, LimiterMemory, cfg.RateLimit.Backend)
	assert.Equal(t, "none", cfg.Telemetry.Traces)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.Equal(t, TLSOff, cfg.Server.TLS.Mode)
	assert.NotContains(t, cfg.Server.TLS.CertDir, "~")
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		set     map[string]any
		wantErr error
		name    string
	}{
		{
			name:    "postgres without dsn",
			set:     map[string]any{"database.driver": "postgres"},
			wantErr: common.ErrMissingConfig,
		},
		{
			name:    "unknown driver",
			set:     map[string]any{"database.driver": "mysql"},
			wantErr: common.ErrInvalidConfig,
		},
		{
			name:    "redis without address",
			set:     map[string]any{"ratelimit.backend": "redis"},
			wantErr: common.ErrMissingConfig,
		},
		{
			name:    "zero threshold",
			set:     map[string]any{"pipeline.approval_threshold": 0},
			wantErr: common.ErrInvalidConfig,
		},
		{
			name:    "unknown exporter",
			set:     map[string]any{"telemetry.traces": "jaeger"},
			wantErr: common.ErrInvalidConfig,
		},
		{
			name:    "tls files without key",
			set:     map[string]any{"server.tls.mode": "files", "server.tls.cert_file": "/etc/opsflow/tls.crt"},
			wantErr: common.ErrMissingConfig,
		},
		{
			name:    "unknown tls mode",
			set:     map[string]any{"server.tls.mode": "acme"},
			wantErr: common.ErrInvalidConfig,
		},
		{
			name: "self-signed tls",
			set:  map[string]any{"server.tls.mode": "self-signed", "server.tls.hosts": []string{"opsflow.internal"}},
		},
		{
			name: "postgres with dsn",
			set: map[string]any{
				"database.driver": "postgres",
				"database.dsn":    "postgres://localhost/opsflow",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := viper.New()
			for k, val := range tt.set {
				v.Set(k, val)
			}
			_, err := Load(v)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestExpandPath(t *testing.T) {
	t.Setenv("OPSFLOW_TEST_DIR", "/tmp/opsflow")

	assert.Equal(t, "", ExpandPath(""))
	assert.Equal(t, "/tmp/opsflow/db", ExpandPath("$OPSFLOW_TEST_DIR/db"))
	assert.NotContains(t, ExpandPath("~/data"), "~")
}

func TestXDGDirs(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/etc/xdg-test")
	t.Setenv("XDG_DATA_HOME", "relative/ignored")

	assert.Equal(t, "/etc/xdg-test/opsflow", ConfigDir())
	assert.True(t, strings.HasSuffix(DataDir(), "/.local/share/opsflow"))
}
