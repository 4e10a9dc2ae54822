package flake

import (
	"encoding/json"
	"fmt"
	"io"
)

// textSnippetLimit further truncates snippets in the human-readable output;
// JSON output keeps them untruncated.
const textSnippetLimit = 150

type jsonReport struct {
	Summary Stats   `json:"summary"`
	Matches []Match `json:"matches"`
}

// Report writes the scan result to w, as JSON or as human-readable text.
// Finding nothing is a normal outcome, not an error.
func Report(w io.Writer, stats Stats, matches []Match, jsonMode bool) error {
	if jsonMode {
		return reportJSON(w, stats, matches)
	}
	return reportText(w, stats, matches)
}

func reportJSON(w io.Writer, stats Stats, matches []Match) error {
	if matches == nil {
		matches = []Match{}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(jsonReport{Summary: stats, Matches: matches})
}

func reportText(w io.Writer, stats Stats, matches []Match) error {
	if len(matches) == 0 {
		fmt.Fprintln(w, "\nNo matching patterns found in the scanned builds.")
	} else {
		fmt.Fprintf(w, "\nFound %d matching failure(s):\n\n", len(matches))

		for _, match := range matches {
			fmt.Fprintf(w, "- #%d [%s] %s — %s\n", match.BuildNumber, match.Branch, match.StepLabel, match.WebURL)
			fmt.Fprintf(w, "  Pattern: %s\n", match.Pattern)
			fmt.Fprintf(w, "  Snippet: %s...\n\n", truncate(match.Snippet, textSnippetLimit))
		}
	}

	_, err := fmt.Fprintf(w, "Scanned %d builds, %d jobs, %d matches found.\n",
		stats.BuildsScanned, stats.JobsScanned, stats.MatchesFound)
	return err
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
