package cmd

import (
	"os"
	"time"

	"github.com/dougbtv/vllm-flake-checker/internal/cmd/scan"
	"github.com/dougbtv/vllm-flake-checker/pkg/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// Version information - set via ldflags during build
var (
	Version = "dev"
)

var (
	rootCmd = &cobra.Command{
		Use:     "flake-checker",
		Short:   "Scan Buildkite builds for recurring flake signatures",
		Long:    "flake-checker downloads recent Buildkite job logs and searches them for known flake patterns, reporting every hit with a bounded log snippet.",
		Example: "flake-checker scan --token bkua_xxxxxxxxxxx --org vllm --pipeline ci",
		Version: Version,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			config.Load()
			initLogger()
			setGlobalLogLevel()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	LogJSON  bool
	LogDebug bool
	LogLevel string
)

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(scan.NewScanCmd())
	rootCmd.PersistentFlags().BoolVarP(&LogJSON, "log-json", "", false, "Use JSON as log output format")
	rootCmd.PersistentFlags().BoolVarP(&LogDebug, "verbose", "v", false, "Enable debug logging (shortcut for --log-level=debug)")
	rootCmd.PersistentFlags().StringVar(&LogLevel, "log-level", "", "Set log level globally (debug, info, warn, error). Example: --log-level=warn")

	rootCmd.SetVersionTemplate(`{{.Version}}
`)
}

// initLogger routes all diagnostics to stderr. Stdout carries only the scan
// report, so the two can be piped independently.
func initLogger() {
	if LogJSON {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
		return
	}

	output := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

func setGlobalLogLevel() {
	if LogLevel != "" {
		switch LogLevel {
		case "trace":
			zerolog.SetGlobalLevel(zerolog.TraceLevel)
		case "debug":
			zerolog.SetGlobalLevel(zerolog.DebugLevel)
		case "info":
			zerolog.SetGlobalLevel(zerolog.InfoLevel)
		case "warn":
			zerolog.SetGlobalLevel(zerolog.WarnLevel)
		case "error":
			zerolog.SetGlobalLevel(zerolog.ErrorLevel)
		default:
			zerolog.SetGlobalLevel(zerolog.InfoLevel)
			log.Warn().Str("logLevelSpecified", LogLevel).Msg("Invalid log level, defaulting to info")
		}
		return
	}

	if LogDebug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		return
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}
