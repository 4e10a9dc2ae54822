package scan

import (
	"errors"
	"os"
	"os/signal"

	"github.com/dougbtv/vllm-flake-checker/pkg/buildkite"
	"github.com/dougbtv/vllm-flake-checker/pkg/config"
	"github.com/dougbtv/vllm-flake-checker/pkg/flake"
	"github.com/dougbtv/vllm-flake-checker/pkg/httpclient"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type ScanOptions struct {
	Token        string
	Org          string
	Pipeline     string
	APIURL       string
	BranchRegex  string
	StepSubstr   string
	MaxBuilds    int
	PatternsFile string
	UseRegex     bool
	JSONOutput   bool
}

var options ScanOptions

func NewScanCmd() *cobra.Command {
	scanCmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan a Buildkite pipeline's build history",
		Long: `Scan recent builds of a Buildkite pipeline for known flake signatures.

Builds are filtered by a branch regex, jobs by a label substring. Matching job
logs are downloaded and searched for the configured patterns; every hit is
reported with a bounded context snippet.

Each flag falls back to an environment variable when unset (see the flag help).
`,
		Example: `
# Scan the vllm/ci pipeline with the built-in patterns
flake-checker scan --token bkua_xxxxxxxxxxx

# Scan main-branch builds of another pipeline with custom regex patterns
flake-checker scan --token bkua_xxxxxxxxxxx --org myorg --pipeline nightly \
  --branch-regex '^main$' --patterns-file flakes.txt --regex

# Machine-readable output
flake-checker scan --token bkua_xxxxxxxxxxx --json | jq .summary
		`,
		RunE: Scan,
	}

	scanCmd.Flags().StringVarP(&options.Token, "token", "t", "", "Buildkite API token (env: BK_TOKEN)")
	scanCmd.Flags().StringVarP(&options.Org, "org", "", "vllm", "Organization slug (env: BK_ORG)")
	scanCmd.Flags().StringVarP(&options.Pipeline, "pipeline", "p", "ci", "Pipeline slug (env: BK_PIPELINE)")
	scanCmd.Flags().StringVarP(&options.APIURL, "api-url", "", "https://api.buildkite.com/v2", "Buildkite API base URL (env: BK_API_URL)")
	scanCmd.Flags().StringVarP(&options.BranchRegex, "branch-regex", "", "^pull/|^pr/", "Regex to filter branches, empty matches everything (env: BK_BRANCH_REGEX)")
	scanCmd.Flags().StringVarP(&options.StepSubstr, "step-substr", "", "v1 Test others", "Substring of the job label to match, case-insensitive (env: BK_STEP_SUBSTR)")
	scanCmd.Flags().IntVarP(&options.MaxBuilds, "max-builds", "", 200, "Maximum number of builds to scan (env: BK_MAX_BUILDS)")
	scanCmd.Flags().StringVarP(&options.PatternsFile, "patterns-file", "", "", "File with patterns to search, one per line (env: BK_PATTERNS_FILE)")
	scanCmd.Flags().BoolVarP(&options.UseRegex, "regex", "", false, "Treat patterns as regular expressions (default: literal search)")
	scanCmd.Flags().BoolVarP(&options.JSONOutput, "json", "", false, "Output the scan report as JSON")

	return scanCmd
}

func Scan(cmd *cobra.Command, args []string) error {
	if err := config.BindFlags(cmd, map[string]string{
		"token":         "buildkite.token",
		"org":           "buildkite.org",
		"pipeline":      "buildkite.pipeline",
		"api-url":       "buildkite.api_url",
		"branch-regex":  "buildkite.branch_regex",
		"step-substr":   "buildkite.step_substr",
		"max-builds":    "buildkite.max_builds",
		"patterns-file": "buildkite.patterns_file",
	}); err != nil {
		log.Fatal().Err(err).Msg("Failed to bind command flags to configuration keys")
	}

	options.Token = config.GetString("buildkite.token")
	options.Org = config.GetString("buildkite.org")
	options.Pipeline = config.GetString("buildkite.pipeline")
	options.APIURL = config.GetString("buildkite.api_url")
	options.BranchRegex = config.GetString("buildkite.branch_regex")
	options.StepSubstr = config.GetString("buildkite.step_substr")
	options.MaxBuilds = config.GetInt("buildkite.max_builds")
	options.PatternsFile = config.GetString("buildkite.patterns_file")

	if err := config.RequireToken(options.Token); err != nil {
		log.Error().Err(err).Msg("Invalid Buildkite API token")
		return err
	}
	if err := config.RequireSlug(options.Org, "organization slug"); err != nil {
		log.Error().Err(err).Msg("Invalid organization")
		return err
	}
	if err := config.RequireSlug(options.Pipeline, "pipeline slug"); err != nil {
		log.Error().Err(err).Msg("Invalid pipeline")
		return err
	}

	patterns := flake.LoadPatterns(options.PatternsFile)

	scanOpts, err := flake.InitializeOptions(
		options.Org,
		options.Pipeline,
		options.BranchRegex,
		options.StepSubstr,
		options.MaxBuilds,
		patterns,
		options.UseRegex,
		options.JSONOutput,
	)
	if err != nil {
		log.Error().Err(err).Msg("Failed initializing scan options")
		return err
	}

	api := buildkite.NewClient(httpclient.New(options.Token), options.APIURL, options.Org, options.Pipeline)
	scanner := flake.NewScanner(scanOpts, api)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	if err := scanner.Scan(ctx); err != nil {
		if errors.Is(err, flake.ErrInterrupted) {
			log.Warn().Msg("Scan interrupted by user")
			return err
		}
		log.Error().Err(err).Msg("Scan failed")
		return err
	}

	return flake.Report(os.Stdout, scanner.Stats(), scanner.Matches(), options.JSONOutput)
}
