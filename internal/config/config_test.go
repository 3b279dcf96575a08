// internal/config/config_test.go
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestSecurityScanningPreset(t *testing.T) {
	cfg := SecurityScanning()
	require.NoError(t, cfg.Validate())
	assert.False(t, cfg.Browser.VerifyTLS)
	assert.True(t, cfg.Page.InjectXSSHooks)
	assert.Greater(t, cfg.Page.InstructionBudget, Default().Page.InstructionBudget)
	assert.Contains(t, cfg.Browser.UserAgent, "Kalamari-Scanner")
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]func(*Config){
		"negative redirects":  func(c *Config) { c.Browser.MaxRedirects = -1 },
		"zero timeout":        func(c *Config) { c.Browser.DefaultTimeout = 0 },
		"zero budget":         func(c *Config) { c.Page.InstructionBudget = 0 },
		"negative depth":      func(c *Config) { c.Page.MaxIframeDepth = -1 },
		"negative crawl":      func(c *Config) { c.Crawl.MaxPages = -1 },
		"bogus logger format": func(c *Config) { c.Logger.Format = "xml" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kalamari.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
browser:
  user_agent: "custom-agent"
  default_timeout: 5s
page:
  max_iframe_depth: 1
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "custom-agent", cfg.Browser.UserAgent)
	assert.Equal(t, 5*time.Second, cfg.Browser.DefaultTimeout)
	assert.Equal(t, 1, cfg.Page.MaxIframeDepth)
	// Untouched keys keep their defaults.
	assert.Equal(t, 10, cfg.Browser.MaxRedirects)
}

func TestLoadMissingFileErrors(t *testing.T) {
	_, err := Load("/nonexistent/kalamari.yaml")
	require.Error(t, err)
}
