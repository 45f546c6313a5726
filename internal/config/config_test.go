package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/v2xsec/internal/security/backend"
)

var envKeys = []string{
	"APP_ENV", "LOG_LEVEL",
	"ITS_SECURITY_ENABLE", "ITS_STORAGE_DIR", "ITS_KEY_PASSPHRASE", "ITS_CANONICAL_ID",
	"ITS_CURVE", "ITS_EMBED_CERTIFICATE", "ITS_PEER_CACHE_TTL",
	"ITS_PKI_MAX_RETRIES", "ITS_PKI_RETRY_BACKOFF",
}

// cleanEnv deja vacías las variables que lee la config (vacío = no seteada).
func cleanEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoad_Defaults(t *testing.T) {
	cleanEnv(t)
	c, err := Load(writeYAML(t, "app:\n  app_env: staging\n"))
	require.NoError(t, err)

	require.Equal(t, "staging", c.App.Env)
	require.Equal(t, "info", c.Log.Level)
	require.False(t, c.Security.Enable)
	require.Equal(t, backend.NistP256, c.Curve())
	require.Equal(t, 10*time.Minute, c.PeerCacheTTL())
	require.Equal(t, 3, c.PKI.MaxRetries)
	require.Equal(t, 2*time.Second, c.RetryBackoff())
}

func TestLoad_SecurityBlock(t *testing.T) {
	cleanEnv(t)
	p := writeYAML(t, `
security:
  enable: true
  storage_dir: data/its
  canonical_id: station-42
  curve: nistP384
  proof_of_possession: true
  peer_cache_ttl: 90s
pki:
  max_retries: 5
  retry_backoff: 500ms
`)
	c, err := Load(p)
	require.NoError(t, err)

	require.True(t, c.Security.Enable)
	require.Equal(t, filepath.Join(filepath.Dir(p), "data", "its"), c.Security.StorageDir)
	require.Equal(t, "station-42", c.Security.CanonicalID)
	require.Equal(t, backend.NistP384, c.Curve())
	require.True(t, c.Security.ProofOfPossession)
	require.False(t, c.Security.ECSignaturePrivacy)
	require.Equal(t, 90*time.Second, c.PeerCacheTTL())
	require.Equal(t, 5, c.PKI.MaxRetries)
	require.Equal(t, 500*time.Millisecond, c.RetryBackoff())
}

func TestLoad_EnvOverrides(t *testing.T) {
	cleanEnv(t)
	t.Setenv("APP_ENV", "PROD")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("ITS_SECURITY_ENABLE", "true")
	t.Setenv("ITS_STORAGE_DIR", "/var/lib/its")
	t.Setenv("ITS_KEY_PASSPHRASE", "s3cret")
	t.Setenv("ITS_CANONICAL_ID", "from-env")
	t.Setenv("ITS_PKI_MAX_RETRIES", "7")
	t.Setenv("ITS_PKI_RETRY_BACKOFF", "1m")

	c, err := Load(writeYAML(t, "security:\n  canonical_id: from-yaml\n"))
	require.NoError(t, err)

	require.Equal(t, "prod", c.App.Env)
	require.Equal(t, "debug", c.Log.Level)
	require.True(t, c.Security.Enable)
	require.Equal(t, "/var/lib/its", c.Security.StorageDir)
	require.Equal(t, "s3cret", c.Security.KeyPassphrase)
	require.Equal(t, "from-env", c.Security.CanonicalID)
	require.Equal(t, 7, c.PKI.MaxRetries)
	require.Equal(t, time.Minute, c.RetryBackoff())
}

func TestLoad_InvalidEnvValuesAreIgnored(t *testing.T) {
	cleanEnv(t)
	t.Setenv("ITS_SECURITY_ENABLE", "maybe")
	t.Setenv("ITS_PKI_MAX_RETRIES", "many")

	c, err := FromEnv()
	require.NoError(t, err)
	require.False(t, c.Security.Enable)
	require.Equal(t, 3, c.PKI.MaxRetries)
}

func TestLoad_BadDuration(t *testing.T) {
	cleanEnv(t)
	_, err := Load(writeYAML(t, "pki:\n  retry_backoff: soon\n"))
	require.ErrorIs(t, err, ErrInvalid)
}

func TestLoad_MissingFile(t *testing.T) {
	cleanEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.True(t, errors.Is(err, os.ErrNotExist))
}

func TestValidate(t *testing.T) {
	cleanEnv(t)
	enabled := func() *Config {
		c, err := FromEnv()
		require.NoError(t, err)
		c.Security.Enable = true
		c.Security.StorageDir = "/tmp/its"
		c.Security.CanonicalID = "station"
		return c
	}

	require.NoError(t, enabled().Validate())

	cases := map[string]func(c *Config){
		"unknown env":      func(c *Config) { c.App.Env = "qa" },
		"zero retries":     func(c *Config) { c.PKI.MaxRetries = 0 },
		"no storage dir":   func(c *Config) { c.Security.StorageDir = " " },
		"no canonical id":  func(c *Config) { c.Security.CanonicalID = "" },
		"unknown curve":    func(c *Config) { c.Security.Curve = "ed25519" },
		"prod without key": func(c *Config) { c.App.Env = "prod" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := enabled()
			mutate(c)
			require.ErrorIs(t, c.Validate(), ErrInvalid)
		})
	}

	// deshabilitado no exige storage ni identidad
	c := enabled()
	c.Security.Enable = false
	c.Security.StorageDir = ""
	c.Security.CanonicalID = ""
	require.NoError(t, c.Validate())
}

func TestParseCurveNames(t *testing.T) {
	for _, cv := range []backend.Curve{backend.NistP256, backend.BrainpoolP256r1, backend.BrainpoolP384r1, backend.NistP384, backend.SM2} {
		got, err := backend.ParseCurve(cv.String())
		require.NoError(t, err)
		require.Equal(t, cv, got)
	}
	got, err := backend.ParseCurve("NISTP256")
	require.NoError(t, err)
	require.Equal(t, backend.NistP256, got)
}
