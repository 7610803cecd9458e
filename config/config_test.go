package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/golang-auth/go-saslmech/registry"
)

func writeConfig(t *testing.T, body string) string {
	path := filepath.Join(t.TempDir(), "sasl.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const goodConfig = `
log_level: info
providers:
  - name: GSSAPI
    type: gssapi.GSSAPIMech
    settings:
      ad_compat: "1"
  - name: SITE-PLAIN
    type: mechs.plainMech
`

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, goodConfig))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	require.Len(t, cfg.Providers, 2)
	assert.Equal(t, Provider{Name: "GSSAPI", Type: "gssapi.GSSAPIMech", Settings: map[string]string{"ad_compat": "1"}}, cfg.Providers[0])
	assert.Equal(t, "SITE-PLAIN", cfg.Providers[1].Name)
	assert.Empty(t, cfg.Providers[1].Settings)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("SASL_LOG_LEVEL", "debug")

	cfg, err := Load(writeConfig(t, goodConfig))
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Len(t, cfg.Providers, 2)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "providers:\n  - type: mechs.plainMech\n"))
	assert.ErrorIs(t, err, ErrBadProvider)

	_, err = Load(writeConfig(t, "providers:\n  - name: X\n"))
	assert.ErrorIs(t, err, ErrBadProvider)

	_, err = Load(writeConfig(t, "providers: [unterminated\n"))
	assert.Error(t, err)
}

func TestProviderSource(t *testing.T) {
	decls, err := ProviderSource("")()
	require.NoError(t, err)
	assert.Empty(t, decls)

	decls, err = ProviderSource(writeConfig(t, goodConfig))()
	require.NoError(t, err)
	assert.Equal(t, []registry.ProviderDeclaration{
		{Name: "GSSAPI", Type: "gssapi.GSSAPIMech", Settings: map[string]string{"ad_compat": "1"}},
		{Name: "SITE-PLAIN", Type: "mechs.plainMech"},
	}, decls)

	_, err = ProviderSource(writeConfig(t, "providers:\n  - name: X\n"))()
	assert.ErrorIs(t, err, ErrBadProvider)
}

func TestDefaultProviderSource(t *testing.T) {
	t.Setenv(EnvConfigFile, "")
	decls, err := DefaultProviderSource()()
	require.NoError(t, err)
	assert.Empty(t, decls)

	t.Setenv(EnvConfigFile, writeConfig(t, goodConfig))
	decls, err = DefaultProviderSource()()
	require.NoError(t, err)
	assert.Len(t, decls, 2)
}
