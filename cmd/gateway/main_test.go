package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `{
	"storage": {"type": "memory"},
	"chains": {
		"1337": {
			"providers": {"main": {"upstreams": ["http://127.0.0.1:1"]}},
			"routes": {"main": ["eth_*"]}
		}
	}
}`

func writeTestConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0o600))

	oldPath, oldLevel, oldLoggerLevel := configPath, logLevel, logrus.GetLevel()
	t.Cleanup(func() {
		configPath, logLevel = oldPath, oldLevel
		logrus.SetLevel(oldLoggerLevel)
	})

	configPath = path
}

func TestLoadConfigLogLevel(t *testing.T) {
	writeTestConfig(t)

	logLevel = "verbose"
	_, err := loadConfig()
	assert.Error(t, err)

	logLevel = "warn"
	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Len(t, cfg.Chains, 1)
	assert.Equal(t, logrus.WarnLevel, logrus.GetLevel())
}

func TestRoutesCheck(t *testing.T) {
	writeTestConfig(t)

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"routes", "check", "--config", configPath, "--log-level", "error"})
	require.NoError(t, cmd.Execute())

	assert.Contains(t, out.String(), "chain 1337")
	assert.Regexp(t, `eth_blockNumber\s+main`, out.String())

	cmd = newRootCmd()
	cmd.SetArgs([]string{"routes", "check", "--config", configPath, "--log-level", "verbose"})
	assert.Error(t, cmd.Execute())
}
