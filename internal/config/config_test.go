package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
listen-host: 0.0.0.0
listen-port: "6667"
server-name: irc.example.org
server-info: Example IRC network
version: hugin-ircd-test
motd: Welcome
ts6-sid: "001"
limits:
  max-nick-length: 32
opers:
  admin: hashedpw
`

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "hugin.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeTempConfig(t, sampleYAML)
	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "irc.example.org", cfg.ServerName)
	assert.Equal(t, "001", cfg.TS6SID)
	assert.Equal(t, 32, cfg.Limits.MaxNickLength)
	assert.Equal(t, "hashedpw", cfg.Opers["admin"])
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, sampleYAML)
	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.Limits.MaxChannelLength)
	assert.Equal(t, "cloaked", cfg.CloakSuffix)
}

func TestLoadMissingRequiredKeyFails(t *testing.T) {
	path := writeTempConfig(t, `
listen-host: 0.0.0.0
`)
	_, err := Load(path, nil)
	require.Error(t, err)
}

func TestLoadRejectsBadSID(t *testing.T) {
	path := writeTempConfig(t, `
listen-host: 0.0.0.0
listen-port: "6667"
server-name: irc.example.org
server-info: x
version: v
motd: hi
ts6-sid: "toolong"
`)
	_, err := Load(path, nil)
	require.Error(t, err)
}
