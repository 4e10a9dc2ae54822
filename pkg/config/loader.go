package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// TokenPlaceholder is the documented dummy value from the setup instructions.
// A token equal to it is treated the same as a missing token.
const TokenPlaceholder = "<PUT_YOUR_TOKEN_HERE>"

var globalViper *viper.Viper

// Load initializes the global Viper instance with defaults and the BK_*
// environment variable bindings. Calling it again replaces the instance,
// which keeps tests independent of each other.
func Load() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	bindEnvs(v)
	globalViper = v
	return v
}

// GetViper returns the global Viper instance, initializing it on first use.
func GetViper() *viper.Viper {
	if globalViper == nil {
		return Load()
	}
	return globalViper
}

// BindFlags binds command flags to Viper configuration keys.
// This enables automatic priority handling: CLI flags > environment > defaults.
func BindFlags(cmd *cobra.Command, flagMappings map[string]string) error {
	v := GetViper()
	for flagName, viperKey := range flagMappings {
		flag := cmd.Flags().Lookup(flagName)
		if flag == nil {
			flag = cmd.InheritedFlags().Lookup(flagName)
		}
		if flag != nil {
			if err := v.BindPFlag(viperKey, flag); err != nil {
				return fmt.Errorf("failed to bind flag %s to key %s: %w", flagName, viperKey, err)
			}
		}
	}
	return nil
}

// GetString retrieves a string value using Viper's native priority handling
func GetString(key string) string {
	return GetViper().GetString(key)
}

// GetBool retrieves a bool value using Viper's native priority handling
func GetBool(key string) bool {
	return GetViper().GetBool(key)
}

// GetInt retrieves an int value using Viper's native priority handling
func GetInt(key string) int {
	return GetViper().GetInt(key)
}

// RequireToken validates the API token before any network activity happens.
func RequireToken(token string) error {
	if strings.TrimSpace(token) == "" || token == TokenPlaceholder {
		return errors.New("BK_TOKEN not set. Please set the Buildkite API token")
	}
	return nil
}

// RequireSlug validates an organization or pipeline slug.
func RequireSlug(value string, name string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s must not be empty", name)
	}
	return nil
}

// setDefaults registers the literal defaults for all configuration options
func setDefaults(v *viper.Viper) {
	v.SetDefault("buildkite.api_url", "https://api.buildkite.com/v2")
	v.SetDefault("buildkite.org", "vllm")
	v.SetDefault("buildkite.pipeline", "ci")
	v.SetDefault("buildkite.branch_regex", "^pull/|^pr/")
	v.SetDefault("buildkite.step_substr", "v1 Test others")
	v.SetDefault("buildkite.max_builds", 200)
	v.SetDefault("buildkite.patterns_file", "")
}

// bindEnvs wires each configuration key to its documented environment variable.
func bindEnvs(v *viper.Viper) {
	envMappings := map[string]string{
		"buildkite.api_url":       "BK_API_URL",
		"buildkite.token":         "BK_TOKEN",
		"buildkite.org":           "BK_ORG",
		"buildkite.pipeline":      "BK_PIPELINE",
		"buildkite.branch_regex":  "BK_BRANCH_REGEX",
		"buildkite.step_substr":   "BK_STEP_SUBSTR",
		"buildkite.max_builds":    "BK_MAX_BUILDS",
		"buildkite.patterns_file": "BK_PATTERNS_FILE",
	}
	for key, envVar := range envMappings {
		_ = v.BindEnv(key, envVar)
	}
}
