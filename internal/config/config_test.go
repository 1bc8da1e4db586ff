package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, 2.0, cfg.Scraper.MaxRequestsPerSecond)
	require.Equal(t, 60, cfg.Scraper.DetailBatchSize)
	require.Equal(t, 10, cfg.Scraper.CategoryBatchSize)
	require.Equal(t, 750*time.Millisecond, cfg.CancelPollInterval())
	require.Equal(t, 45*time.Second, cfg.FetchTimeout())
	require.Equal(t, 10.0, cfg.Turbo.MaxRequestsPerSecond)
	require.Equal(t, 4, cfg.Turbo.DetailConcurrency)
	require.True(t, cfg.Headless.Enabled)
}

func TestLoadWithFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
scraper:
  allowed_hosts: ["dermosul.com.br"]
  max_rps: 4
  detail_concurrency: 2
  cancel_poll_interval_ms: 500
turbo:
  max_rps: 12
headless:
  enabled: false
logging:
  development: false
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.True(t, cfg.Auth.Enabled)
	require.Equal(t, []string{"dermosul.com.br"}, cfg.Scraper.AllowedHosts)
	require.Equal(t, 4.0, cfg.Scraper.MaxRequestsPerSecond)
	require.Equal(t, 500*time.Millisecond, cfg.CancelPollInterval())
	require.Equal(t, 12.0, cfg.Turbo.MaxRequestsPerSecond)
	require.False(t, cfg.Headless.Enabled)
	require.False(t, cfg.Logging.Development)
}

func TestValidateRejectsBadValues(t *testing.T) {
	base := func() Config {
		return Config{
			Server:  ServerConfig{Port: 8080},
			Scraper: ScraperConfig{AllowedHosts: []string{"dermosul.com.br"}, MaxRequestsPerSecond: 1, DetailConcurrency: 1, WorkerConcurrency: 1, CancelPollIntervalMs: 750},
		}
	}

	cfg := base()
	cfg.Server.Port = 0
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.Scraper.AllowedHosts = nil
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.Scraper.CancelPollIntervalMs = 100
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.Auth.Enabled = true
	require.Error(t, cfg.Validate())

	require.NoError(t, base().Validate())
}

func TestHostAllowed(t *testing.T) {
	cfg := Config{Scraper: ScraperConfig{AllowedHosts: []string{"dermosul.com.br"}}}

	require.True(t, cfg.HostAllowed("https://dermosul.com.br/catalogo"))
	require.True(t, cfg.HostAllowed("https://www.dermosul.com.br/produto/x"))
	require.False(t, cfg.HostAllowed("https://notdermosul.com.br.evil.example/"))
	require.False(t, cfg.HostAllowed("https://outra-loja.example/"))
	require.False(t, cfg.HostAllowed("::not a url::"))
	require.False(t, cfg.HostAllowed("/relativo"))
}
