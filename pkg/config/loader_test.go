package config

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlagCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "test", Run: func(cmd *cobra.Command, args []string) {}}
	cmd.Flags().String("org", "vllm", "")
	cmd.Flags().Int("max-builds", 200, "")
	return cmd
}

func TestLoad_Defaults(t *testing.T) {
	Load()

	assert.Equal(t, "https://api.buildkite.com/v2", GetString("buildkite.api_url"))
	assert.Equal(t, "vllm", GetString("buildkite.org"))
	assert.Equal(t, "ci", GetString("buildkite.pipeline"))
	assert.Equal(t, "^pull/|^pr/", GetString("buildkite.branch_regex"))
	assert.Equal(t, "v1 Test others", GetString("buildkite.step_substr"))
	assert.Equal(t, 200, GetInt("buildkite.max_builds"))
	assert.Equal(t, "", GetString("buildkite.patterns_file"))
	assert.Equal(t, "", GetString("buildkite.token"))
}

func TestLoad_EnvironmentOverridesDefaults(t *testing.T) {
	t.Setenv("BK_ORG", "acme")
	t.Setenv("BK_MAX_BUILDS", "25")
	t.Setenv("BK_TOKEN", "bkua_secret")
	Load()

	assert.Equal(t, "acme", GetString("buildkite.org"))
	assert.Equal(t, 25, GetInt("buildkite.max_builds"))
	assert.Equal(t, "bkua_secret", GetString("buildkite.token"))
}

func TestBindFlags_FlagBeatsEnvironment(t *testing.T) {
	t.Setenv("BK_ORG", "acme")
	Load()

	cmd := newFlagCommand()
	require.NoError(t, cmd.Flags().Set("org", "fromflag"))
	require.NoError(t, BindFlags(cmd, map[string]string{"org": "buildkite.org"}))

	assert.Equal(t, "fromflag", GetString("buildkite.org"))
}

func TestBindFlags_EnvironmentBeatsFlagDefault(t *testing.T) {
	t.Setenv("BK_ORG", "acme")
	Load()

	cmd := newFlagCommand()
	require.NoError(t, BindFlags(cmd, map[string]string{"org": "buildkite.org"}))

	assert.Equal(t, "acme", GetString("buildkite.org"))
}

func TestBindFlags_UnknownFlagIgnored(t *testing.T) {
	Load()
	cmd := newFlagCommand()
	require.NoError(t, BindFlags(cmd, map[string]string{"does-not-exist": "buildkite.org"}))
}

func TestRequireToken(t *testing.T) {
	assert.Error(t, RequireToken(""))
	assert.Error(t, RequireToken("   "))
	assert.Error(t, RequireToken(TokenPlaceholder))
	assert.NoError(t, RequireToken("bkua_xxxxxxxxxxx"))
}

func TestRequireSlug(t *testing.T) {
	err := RequireSlug("", "organization slug")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "organization slug")

	assert.NoError(t, RequireSlug("vllm", "organization slug"))
}
