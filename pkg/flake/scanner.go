package flake

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/dougbtv/vllm-flake-checker/pkg/buildkite"
	"github.com/rs/zerolog/log"
)

// ErrInterrupted is returned when a scan is stopped by user cancellation.
// It is a clean termination, not a scan failure.
var ErrInterrupted = errors.New("scan interrupted by user")

const buildsPerPage = 50

// ScanOptions is the immutable configuration of one scan run. Construct it
// with InitializeOptions and do not mutate it afterwards.
type ScanOptions struct {
	Org         string
	Pipeline    string
	BranchRegex *regexp.Regexp
	StepSubstr  string
	MaxBuilds   int
	Patterns    []string
	UseRegex    bool
	JSONOutput  bool
}

// InitializeOptions validates and compiles the scan configuration. An empty
// branch regex disables branch filtering.
func InitializeOptions(org, pipeline, branchRegex, stepSubstr string, maxBuilds int, patterns []string, useRegex, jsonOutput bool) (*ScanOptions, error) {
	opts := &ScanOptions{
		Org:        org,
		Pipeline:   pipeline,
		StepSubstr: stepSubstr,
		MaxBuilds:  maxBuilds,
		Patterns:   patterns,
		UseRegex:   useRegex,
		JSONOutput: jsonOutput,
	}

	if branchRegex != "" {
		re, err := regexp.Compile(branchRegex)
		if err != nil {
			return nil, fmt.Errorf("invalid branch regex %q: %w", branchRegex, err)
		}
		opts.BranchRegex = re
	}

	return opts, nil
}

// Match is one recorded pattern hit. Matches are append-only and keep
// discovery order: page by page, build by build, job by job.
type Match struct {
	BuildNumber int    `json:"build_number"`
	Branch      string `json:"branch"`
	State       string `json:"state"`
	CreatedAt   string `json:"created_at"`
	StepLabel   string `json:"step_label"`
	WebURL      string `json:"web_url"`
	Pattern     string `json:"pattern"`
	Snippet     string `json:"snippet"`
}

// Stats are the scan counters reported at the end of a run.
type Stats struct {
	BuildsScanned int `json:"builds_scanned"`
	JobsScanned   int `json:"jobs_scanned"`
	MatchesFound  int `json:"matches_found"`
}

// BuildAPI is the slice of the Buildkite client the scanner uses.
type BuildAPI interface {
	ListBuilds(ctx context.Context, page int, perPage int) ([]buildkite.Build, string, error)
	JobLog(ctx context.Context, buildNumber int, jobID string) (string, error)
}

// Scanner walks the build history of one pipeline and accumulates pattern
// matches. Strictly sequential: one request in flight at a time.
type Scanner struct {
	opts    *ScanOptions
	api     BuildAPI
	matcher *Matcher

	stats   Stats
	matches []Match
}

// NewScanner wires a scanner from its options and an API client.
func NewScanner(opts *ScanOptions, api BuildAPI) *Scanner {
	return &Scanner{
		opts:    opts,
		api:     api,
		matcher: NewMatcher(opts.Patterns, opts.UseRegex),
	}
}

// Stats returns the counters accumulated so far.
func (s *Scanner) Stats() Stats {
	return s.stats
}

// Matches returns the recorded matches in discovery order.
func (s *Scanner) Matches() []Match {
	return s.matches
}

// Scan pages through recent builds until the next-page link runs out or
// MaxBuilds builds have been fetched. Cancellation is checked at the top of
// the page and build loops; an in-flight request is allowed to finish.
func (s *Scanner) Scan(ctx context.Context) error {
	log.Info().Int("maxBuilds", s.opts.MaxBuilds).Str("org", s.opts.Org).Str("pipeline", s.opts.Pipeline).Msg("Scanning builds")

	page := 1
	fetched := 0

	for fetched < s.opts.MaxBuilds {
		if ctx.Err() != nil {
			return ErrInterrupted
		}

		builds, nextURL, err := s.api.ListBuilds(ctx, page, buildsPerPage)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return ErrInterrupted
			}
			return fmt.Errorf("scan aborted: %w", err)
		}
		if len(builds) == 0 {
			break
		}

		for _, build := range builds {
			if ctx.Err() != nil {
				return ErrInterrupted
			}
			if fetched >= s.opts.MaxBuilds {
				break
			}
			fetched++

			if err := s.scanBuild(ctx, build); err != nil {
				return err
			}
		}

		if nextURL == "" {
			break
		}
		page++
	}

	return nil
}

func (s *Scanner) scanBuild(ctx context.Context, build buildkite.Build) error {
	if s.opts.BranchRegex != nil && !s.opts.BranchRegex.MatchString(build.Branch) {
		return nil
	}

	s.stats.BuildsScanned++
	log.Info().Int("build", build.Number).Str("branch", build.Branch).Str("state", build.State).Msg("Build")

	if len(build.Jobs) == 0 {
		return nil
	}

	stepSubstr := strings.ToLower(s.opts.StepSubstr)

	for _, job := range build.Jobs {
		label := job.DisplayLabel()
		if !strings.Contains(strings.ToLower(label), stepSubstr) {
			continue
		}

		s.stats.JobsScanned++
		log.Info().Str("job", label).Str("state", job.State).Msg("Checking")

		found, err := s.matchJobLog(ctx, build.Number, job.ID)
		if errors.Is(err, buildkite.ErrNoLog) {
			continue
		}
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return ErrInterrupted
			}
			// A failed log fetch abandons this job only, never the scan.
			log.Warn().Err(err).Str("job", label).Msg("Failed to fetch log, skipping job")
			continue
		}

		if len(found) > 0 {
			log.Info().Str("job", label).Int("patterns", len(found)).Msg("MATCH FOUND")
		}

		for _, hit := range found {
			s.matches = append(s.matches, Match{
				BuildNumber: build.Number,
				Branch:      build.Branch,
				State:       build.State,
				CreatedAt:   build.CreatedAt,
				StepLabel:   label,
				WebURL:      build.WebURL,
				Pattern:     hit.Pattern,
				Snippet:     hit.Snippet,
			})
		}
		s.stats.MatchesFound = len(s.matches)
	}

	return nil
}

// matchJobLog fetches one job log and runs the matcher over it. The log body
// stays scoped to this function so it is released as soon as matching is done;
// logs can be tens of megabytes.
func (s *Scanner) matchJobLog(ctx context.Context, buildNumber int, jobID string) ([]PatternMatch, error) {
	logText, err := s.api.JobLog(ctx, buildNumber, jobID)
	if err != nil {
		return nil, err
	}
	return s.matcher.Find(logText), nil
}
