package internal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetVersion(t *testing.T) {
	orig := gitCommit
	t.Cleanup(func() { gitCommit = orig })

	gitCommit = ""
	assert.Equal(t, version, GetVersion())

	gitCommit = "abc123"
	assert.Equal(t, version+" (git: abc123)", GetVersion())
}

func TestEnvVars(t *testing.T) {
	t.Setenv("MESHD_TEST_VAR", "a=b")
	assert.Equal(t, "a=b", EnvVars()["MESHD_TEST_VAR"])
}

func TestNewLogger(t *testing.T) {
	assert.False(t, NewLogger(false).Enabled(t.Context(), -4))
	assert.True(t, NewLogger(true).Enabled(t.Context(), -4))
}
