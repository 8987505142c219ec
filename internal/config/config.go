package config

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"go-avatar-pipeline/internal/api"
	"go-avatar-pipeline/internal/models"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Default values for configuration
const (
	DefaultCachePath           = "avatars"
	DefaultGenerationURL       = "http://localhost:8000"
	DefaultInferenceURL        = "http://localhost:8000"
	DefaultTexture             = "shirt.glb"
	DefaultLogApiRequests      = false
	DefaultAPIClientTimeoutSec = 60   // seconds
	DefaultPollIntervalMs      = 2500 // milliseconds
	DefaultLogLevel            = "info"
	DefaultLogFormat           = "text"
	DefaultConfigFilePath      = "config.toml"
)

// setViperDefaults configures Viper with the application's default values.
func setViperDefaults(v *viper.Viper) {
	v.SetDefault("cachepath", DefaultCachePath)
	v.SetDefault("generationurl", DefaultGenerationURL)
	v.SetDefault("inferenceurl", DefaultInferenceURL)
	v.SetDefault("texture", DefaultTexture)
	v.SetDefault("logapirequests", DefaultLogApiRequests)
	v.SetDefault("apiclienttimeoutsec", DefaultAPIClientTimeoutSec)
	v.SetDefault("pollintervalms", DefaultPollIntervalMs)
	v.SetDefault("loglevel", DefaultLogLevel)
	v.SetDefault("logformat", DefaultLogFormat)
}

// CliFlags holds pointers to values received from command-line flags.
// Nil fields indicate the flag was not provided by the user.
type CliFlags struct {
	ConfigFilePath      *string
	LogLevel            *string // --log-level
	LogFormat           *string // --log-format
	LogApiRequests      *bool   // --log-api
	CachePath           *string // --cache-path
	GenerationURL       *string // --generation-url
	InferenceURL        *string // --inference-url
	Texture             *string // --texture
	APIClientTimeoutSec *int    // --api-timeout
	PollIntervalMs      *int    // --poll-interval
}

// Initialize loads configuration based on defaults, config file, and flags.
// Precedence: Flags > Environment > Config File > Defaults.
func Initialize(flags CliFlags) (models.Config, http.RoundTripper, error) {
	v := viper.New()
	v.SetEnvPrefix("AVATARGEN")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setViperDefaults(v)

	actualConfigFilePath := DefaultConfigFilePath
	if flags.ConfigFilePath != nil {
		actualConfigFilePath = *flags.ConfigFilePath
		log.Debugf("Using config file path from CLI flag: %s", actualConfigFilePath)
	}
	v.SetConfigFile(actualConfigFilePath)

	if err := v.ReadInConfig(); err != nil {
		if os.IsNotExist(err) {
			log.Debugf("Config file '%s' not found, using defaults, environment and CLI flags only", actualConfigFilePath)
		} else if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Debugf("Config file '%s' not found, using defaults, environment and CLI flags only", actualConfigFilePath)
		} else {
			log.Warnf("Error reading config file '%s': %v. Using defaults, environment and CLI flags only.", actualConfigFilePath, err)
		}
		// Unmarshal still runs so Viper's defaults apply.
	} else {
		log.Infof("Loaded config file: %s", v.ConfigFileUsed())
	}

	var finalCfg models.Config
	if err := v.Unmarshal(&finalCfg); err != nil {
		return models.Config{}, nil, fmt.Errorf("failed to unmarshal config from viper: %w", err)
	}

	// --- Override with CLI Flags ---
	if flags.CachePath != nil {
		finalCfg.CachePath = *flags.CachePath
	}
	if flags.GenerationURL != nil {
		finalCfg.GenerationURL = *flags.GenerationURL
	}
	if flags.InferenceURL != nil {
		finalCfg.InferenceURL = *flags.InferenceURL
	}
	if flags.Texture != nil {
		finalCfg.Texture = *flags.Texture
	}
	if flags.LogApiRequests != nil {
		finalCfg.LogApiRequests = *flags.LogApiRequests
	}
	if flags.APIClientTimeoutSec != nil {
		finalCfg.APIClientTimeoutSec = *flags.APIClientTimeoutSec
	}
	if flags.PollIntervalMs != nil {
		finalCfg.PollIntervalMs = *flags.PollIntervalMs
	}
	if flags.LogLevel != nil {
		finalCfg.LogLevel = *flags.LogLevel
	}
	if flags.LogFormat != nil {
		finalCfg.LogFormat = *flags.LogFormat
	}

	// --- Validation ---
	if finalCfg.CachePath == "" {
		return models.Config{}, nil, fmt.Errorf("CachePath cannot be empty (set via --cache-path flag or CachePath in config)")
	}
	if finalCfg.GenerationURL == "" {
		return models.Config{}, nil, fmt.Errorf("GenerationURL cannot be empty")
	}
	if finalCfg.InferenceURL == "" {
		return models.Config{}, nil, fmt.Errorf("InferenceURL cannot be empty")
	}
	if finalCfg.APIClientTimeoutSec <= 0 {
		finalCfg.APIClientTimeoutSec = DefaultAPIClientTimeoutSec
	}
	if finalCfg.PollIntervalMs <= 0 {
		finalCfg.PollIntervalMs = DefaultPollIntervalMs
	}

	// --- Setup HTTP Transport ---
	baseTransport := http.DefaultTransport
	var finalTransport http.RoundTripper = baseTransport

	if finalCfg.LogApiRequests {
		logFilePath := "api.log"
		if finalCfg.CachePath != "" {
			if _, statErr := os.Stat(finalCfg.CachePath); statErr == nil {
				logFilePath = filepath.Join(finalCfg.CachePath, logFilePath)
			} else {
				log.Warnf("CachePath '%s' not found, saving api.log to current directory.", finalCfg.CachePath)
			}
		}
		log.Infof("API logging to file: %s", logFilePath)

		loggingTransport, err := api.NewLoggingTransport(baseTransport, logFilePath)
		if err != nil {
			log.WithError(err).Error("Failed to initialize API logging transport, logging disabled.")
		} else {
			finalTransport = loggingTransport
		}
	}

	log.Debug("Configuration initialized successfully.")
	return finalCfg, finalTransport, nil
}
