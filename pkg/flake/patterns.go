package flake

import (
	"os"
	"strings"

	"github.com/rs/zerolog/log"
)

// DefaultPatterns are the built-in flake signatures searched for when no
// patterns file is given.
var DefaultPatterns = []string{
	`FAILED .*::test_multi_shared_storage_connector_consistency\b`,
	`At index 2 diff: 'get_num_new_matched_tokens 96' != 'build_connector_meta'`,
	`get_num_new_matched_tokens 96`,
}

// LoadPatterns reads one pattern per line from path, ignoring blank lines and
// lines starting with '#'. A missing file or a file without any usable lines
// falls back to DefaultPatterns.
func LoadPatterns(path string) []string {
	if path == "" {
		return DefaultPatterns
	}

	// #nosec G304 - user-provided patterns file path via --patterns-file flag
	content, err := os.ReadFile(path)
	if err != nil {
		log.Debug().Str("file", path).Err(err).Msg("Patterns file not readable, using built-in defaults")
		return DefaultPatterns
	}

	var patterns []string
	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, line)
	}

	if len(patterns) == 0 {
		log.Debug().Str("file", path).Msg("Patterns file yielded no usable lines, using built-in defaults")
		return DefaultPatterns
	}
	return patterns
}
