package cmd

import (
	"fmt"
	"net/http"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-avatar-pipeline/internal/config"
	"go-avatar-pipeline/internal/models"
)

// cfgFile holds the path to the config file specified by the user
var cfgFile string

// logLevel and logFormat hold the values of the --log-level / --log-format flags
var logLevel string
var logFormat string

// logApiFlag holds the value of the --log-api flag
var logApiFlag bool

// cachePathFlag holds the value of the --cache-path flag
var cachePathFlag string

// generationURLFlag and inferenceURLFlag override the server endpoints
var generationURLFlag string
var inferenceURLFlag string

// textureFlag holds the value of the --texture flag
var textureFlag string

// apiTimeoutFlag holds the value of the --api-timeout flag
var apiTimeoutFlag int

// pollIntervalFlag holds the value of the --poll-interval flag
var pollIntervalFlag int

// globalConfig holds the loaded configuration
var globalConfig models.Config

// globalHttpTransport holds the globally configured HTTP transport (base or logging-wrapped)
var globalHttpTransport http.RoundTripper

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "avatargen",
	Short: "A tool to generate and cache 3D avatars from body measurements",
	Long: `Avatargen predicts body shape ratios from height and weight, submits
avatar generation tasks to a generation server, polls them to completion
and caches the downloaded model locally.`,
	PersistentPreRunE: loadGlobalConfig,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Configuration file path (default is ./config.toml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Logging level (trace, debug, info, warn, error, fatal, panic)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Logging format (text, json)")
	rootCmd.PersistentFlags().BoolVar(&logApiFlag, "log-api", false, "Log API requests/responses to api.log (overrides config)")
	rootCmd.PersistentFlags().StringVar(&cachePathFlag, "cache-path", "", "Directory for the avatar cache (overrides config)")
	rootCmd.PersistentFlags().StringVar(&generationURLFlag, "generation-url", "", "Base URL of the generation server (overrides config)")
	rootCmd.PersistentFlags().StringVar(&inferenceURLFlag, "inference-url", "", "Base URL of the ratio inference server (overrides config)")
	rootCmd.PersistentFlags().StringVar(&textureFlag, "texture", "", "Garment texture asset to apply (overrides config)")
	rootCmd.PersistentFlags().IntVar(&apiTimeoutFlag, "api-timeout", -1, "Timeout for API HTTP client in seconds (overrides config, -1 uses config default)")
	rootCmd.PersistentFlags().IntVar(&pollIntervalFlag, "poll-interval", -1, "Delay between status polls in ms (overrides config, -1 uses config default)")
}

// loadGlobalConfig sets up logging, loads the configuration with flag
// overrides applied, and prepares the global HTTP transport.
func loadGlobalConfig(cmd *cobra.Command, args []string) error {
	initLogging()

	flags := config.CliFlags{}
	f := cmd.Flags()
	if f.Changed("config") {
		flags.ConfigFilePath = &cfgFile
	}
	if f.Changed("log-level") {
		flags.LogLevel = &logLevel
	}
	if f.Changed("log-format") {
		flags.LogFormat = &logFormat
	}
	if f.Changed("log-api") {
		flags.LogApiRequests = &logApiFlag
	}
	if f.Changed("cache-path") {
		flags.CachePath = &cachePathFlag
	}
	if f.Changed("generation-url") {
		flags.GenerationURL = &generationURLFlag
	}
	if f.Changed("inference-url") {
		flags.InferenceURL = &inferenceURLFlag
	}
	if f.Changed("texture") {
		flags.Texture = &textureFlag
	}
	if f.Changed("api-timeout") {
		flags.APIClientTimeoutSec = &apiTimeoutFlag
	}
	if f.Changed("poll-interval") {
		flags.PollIntervalMs = &pollIntervalFlag
	}

	cfg, transport, err := config.Initialize(flags)
	if err != nil {
		return fmt.Errorf("failed to initialize configuration: %w", err)
	}
	globalConfig = cfg
	globalHttpTransport = transport

	// Config may carry a different level than the flag default.
	applyLogSettings(globalConfig.LogLevel, globalConfig.LogFormat)
	return nil
}

// initLogging applies the flag values immediately so config loading itself
// logs at the requested level.
func initLogging() {
	applyLogSettings(logLevel, logFormat)
}

func applyLogSettings(level, format string) {
	parsed, err := log.ParseLevel(level)
	if err != nil {
		log.Warnf("Invalid log level '%s', defaulting to info", level)
		parsed = log.InfoLevel
	}
	log.SetLevel(parsed)

	switch format {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	default:
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
}

// newAPIHttpClient builds the HTTP client shared by the generation and
// inference clients, honoring the configured timeout and transport.
func newAPIHttpClient() *http.Client {
	timeout := time.Duration(globalConfig.APIClientTimeoutSec) * time.Second
	return &http.Client{
		Timeout:   timeout,
		Transport: globalHttpTransport,
	}
}
