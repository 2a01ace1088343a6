package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmpoep/aspia/internal/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "host.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const validConfig = `
network:
  address: 127.0.0.1
  port: 8050
access:
  private_key: "0102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f20"
  anonymous_access: true
  anonymous_session_types: 5
users:
  - name: alice
    group: 3072
    salt: dGVzdHNhbHQ=
    verifier: dGVzdHZlcmlmaWVy
    sessions: 5
logging:
  level: info
  format: json
`

func TestLoadValidConfig(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, validConfig))
	require.NoError(t, err)

	assert.Equal(t, 8050, cfg.Network.Port)
	assert.True(t, cfg.Access.AnonymousAccess)
	assert.Equal(t, uint32(5), cfg.Access.AnonymousSessionTypes)
	require.Len(t, cfg.Users, 1)
	assert.Equal(t, "alice", cfg.Users[0].Name)
	assert.Equal(t, 3072, cfg.Users[0].Group)
	assert.Len(t, cfg.PrivateKeyBytes(), 32)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name        string
		yaml        string
		errContains string
	}{
		{
			name: "missing port",
			yaml: `
network:
  address: 127.0.0.1
`,
			errContains: "network.port",
		},
		{
			name: "bad private key hex",
			yaml: `
network: {port: 8050}
access:
  private_key: "zz"
`,
			errContains: "private_key",
		},
		{
			name: "short private key",
			yaml: `
network: {port: 8050}
access:
  private_key: "0102"
`,
			errContains: "32 bytes",
		},
		{
			name: "anonymous without key",
			yaml: `
network: {port: 8050}
access:
  anonymous_access: true
  anonymous_session_types: 1
`,
			errContains: "private_key is required",
		},
		{
			name: "anonymous without sessions",
			yaml: `
network: {port: 8050}
access:
  private_key: "0102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f20"
  anonymous_access: true
`,
			errContains: "anonymous_session_types",
		},
		{
			name: "sessions without anonymous",
			yaml: `
network: {port: 8050}
access:
  anonymous_session_types: 1
`,
			errContains: "must be zero",
		},
		{
			name: "user without name",
			yaml: `
network: {port: 8050}
users:
  - salt: dGVzdA==
    verifier: dGVzdA==
`,
			errContains: "name is required",
		},
		{
			name: "user with bad salt",
			yaml: `
network: {port: 8050}
users:
  - name: alice
    salt: "!!!"
    verifier: dGVzdA==
`,
			errContains: "salt",
		},
		{
			name:        "invalid yaml",
			yaml:        "network: [",
			errContains: "failed to parse",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Load(writeConfig(t, tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errContains)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.Load("/nonexistent/host.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}
