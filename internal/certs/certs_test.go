package certs

import (
	"crypto/tls"
	"crypto/x509"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func leaf(t *testing.T, cert tls.Certificate) *x509.Certificate {
	t.Helper()
	require.Len(t, cert.Certificate, 1)
	c, err := x509.ParseCertificate(cert.Certificate[0])
	require.NoError(t, err)
	return c
}

func TestSelfSignedCertificate(t *testing.T) {
	tests := []struct {
		setup    func(t *testing.T, dir string)
		validate func(t *testing.T, dir string, cert tls.Certificate)
		name     string
		hosts    []string
	}{
		{
			name: "creates a certificate when none exists",
			validate: func(t *testing.T, dir string, cert tls.Certificate) {
				c := leaf(t, cert)
				assert.Equal(t, "opsflow", c.Subject.Organization[0])
				assert.Contains(t, c.DNSNames, "localhost")
				assert.True(t, c.IPAddresses[0].Equal(net.IPv4(127, 0, 0, 1)))
				assert.True(t, c.NotAfter.After(time.Now().Add(364*24*time.Hour)))
				assert.NoError(t, c.VerifyHostname("localhost"))

				info, err := os.Stat(filepath.Join(dir, "opsflow.key"))
				require.NoError(t, err)
				assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
			},
		},
		{
			name: "reuses a valid certificate",
			setup: func(t *testing.T, dir string) {
				_, err := NewSelfSigned(dir).Certificate()
				require.NoError(t, err)
			},
			validate: func(t *testing.T, dir string, cert tls.Certificate) {
				again, err := NewSelfSigned(dir).Certificate()
				require.NoError(t, err)
				assert.Equal(t, leaf(t, cert).SerialNumber, leaf(t, again).SerialNumber)
			},
		},
		{
			name: "regenerates unreadable files",
			setup: func(t *testing.T, dir string) {
				require.NoError(t, os.MkdirAll(dir, 0700))
				require.NoError(t, os.WriteFile(filepath.Join(dir, "opsflow.crt"), []byte("garbage"), 0600))
				require.NoError(t, os.WriteFile(filepath.Join(dir, "opsflow.key"), []byte("garbage"), 0600))
			},
			validate: func(t *testing.T, _ string, cert tls.Certificate) {
				assert.NoError(t, leaf(t, cert).VerifyHostname("localhost"))
			},
		},
		{
			name:  "covers extra hosts",
			hosts: []string{"opsflow.internal", "10.0.0.5"},
			validate: func(t *testing.T, _ string, cert tls.Certificate) {
				c := leaf(t, cert)
				assert.NoError(t, c.VerifyHostname("opsflow.internal"))
				assert.NoError(t, c.VerifyHostname("10.0.0.5"))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := filepath.Join(t.TempDir(), "certs")
			if tt.setup != nil {
				tt.setup(t, dir)
			}
			cert, err := NewSelfSigned(dir, tt.hosts...).Certificate()
			require.NoError(t, err)
			tt.validate(t, dir, cert)
		})
	}
}

func TestSelfSignedRenewsNewHostsAndExpiry(t *testing.T) {
	dir := t.TempDir()
	first, err := NewSelfSigned(dir).Certificate()
	require.NoError(t, err)

	widened, err := NewSelfSigned(dir, "api.example.test").Certificate()
	require.NoError(t, err)
	assert.NotEqual(t, leaf(t, first).SerialNumber, leaf(t, widened).SerialNumber, "a new host forces regeneration")

	s := NewSelfSigned(dir, "api.example.test")
	s.now = func() time.Time { return time.Now().Add(validity - 24*time.Hour) }
	renewed, err := s.Certificate()
	require.NoError(t, err)
	assert.NotEqual(t, leaf(t, widened).SerialNumber, leaf(t, renewed).SerialNumber, "near-expiry certificates are replaced")
}

func TestSelfSignedUnwritableDir(t *testing.T) {
	base := t.TempDir()
	blocker := filepath.Join(base, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0600))

	_, err := NewSelfSigned(filepath.Join(blocker, "certs")).Certificate()
	assert.Error(t, err)
}

func TestServerConfigServesTLS(t *testing.T) {
	cert, err := NewSelfSigned(t.TempDir()).Certificate()
	require.NoError(t, err)

	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	srv.TLS = ServerConfig(cert)
	srv.StartTLS()
	defer srv.Close()

	pool := x509.NewCertPool()
	pool.AddCert(leaf(t, cert))
	client := &http.Client{Transport: &http.Transport{TLSClientConfig: &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}}}

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, uint16(tls.VersionTLS13), resp.TLS.Version)
}
