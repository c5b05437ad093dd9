package cmd

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubcommandsRegistered(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["run"])
	assert.True(t, names["probe"])
	assert.True(t, names["version"])
}

func TestVersionCommand(t *testing.T) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs([]string{"version"})

	require.NoError(t, rootCmd.ExecuteContext(context.Background()))
	assert.Contains(t, buf.String(), Version)
}

func TestConfigLoadsDefaultsWithoutFile(t *testing.T) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs([]string{"version"})
	require.NoError(t, rootCmd.ExecuteContext(context.Background()))

	require.NotNil(t, loadedConf)
	assert.Equal(t, 115200, loadedConf.Serial().BaudRate)
	assert.Equal(t, "tab", loadedConf.Keys().SelectTarget)
}
