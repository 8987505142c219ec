package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gosuri/uilive"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-avatar-pipeline/internal/api"
	"go-avatar-pipeline/internal/cache"
	"go-avatar-pipeline/internal/helpers"
	"go-avatar-pipeline/internal/models"
	"go-avatar-pipeline/internal/orchestrator"
	"go-avatar-pipeline/internal/predictor"
)

// --- Package Level Variables for Generate Flags ---
var (
	generateEmailFlag    string
	generateNicknameFlag string
	generateGenderFlag   string
	generateHeightFlag   int
	generateWeightFlag   int
	generateOutputFlag   string
	generateForceFlag    bool
)

// generateCmd represents the generate command
var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate an avatar for the given profile",
	Long: `Generates a 3D avatar for the given profile, serving it from the local
cache when the attributes match a previous run. On a cache miss the body
ratios are predicted, a generation task is submitted and polled to
completion, and the resulting model is downloaded and cached.`,
	RunE: runGenerate,
}

func init() {
	rootCmd.AddCommand(generateCmd)

	generateCmd.Flags().StringVarP(&generateEmailFlag, "email", "e", "", "Account email identifying the cached avatar")
	generateCmd.Flags().StringVarP(&generateNicknameFlag, "nickname", "n", "", "Nickname submitted with the generation task")
	generateCmd.Flags().StringVarP(&generateGenderFlag, "gender", "g", models.GenderMale, "Avatar gender (male, female)")
	generateCmd.Flags().IntVar(&generateHeightFlag, "height", 0, "Height in centimeters")
	generateCmd.Flags().IntVar(&generateWeightFlag, "weight", 0, "Weight in kilograms")
	generateCmd.Flags().StringVarP(&generateOutputFlag, "output", "o", "", "Path to write the generated model (defaults to <nickname>.glb)")
	generateCmd.Flags().BoolVar(&generateForceFlag, "force", false, "Ignore the cache and regenerate")

	_ = generateCmd.MarkFlagRequired("email")
	_ = generateCmd.MarkFlagRequired("nickname")
	_ = generateCmd.MarkFlagRequired("height")
	_ = generateCmd.MarkFlagRequired("weight")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	profile := models.UserProfile{
		Email:    generateEmailFlag,
		Nickname: generateNicknameFlag,
		Gender:   generateGenderFlag,
		Height:   generateHeightFlag,
		Weight:   generateWeightFlag,
	}

	assetCache, err := cache.Open(globalConfig.CachePath)
	if err != nil {
		return fmt.Errorf("failed to open avatar cache at %s: %w", globalConfig.CachePath, err)
	}
	defer func() {
		if closeErr := assetCache.Close(); closeErr != nil {
			log.WithError(closeErr).Warn("Error closing avatar cache")
		}
	}()

	if generateForceFlag {
		if err := assetCache.Clear(); err != nil {
			log.WithError(err).Warn("Failed to clear cache before regeneration")
		}
	}

	httpClient := newAPIHttpClient()
	pred := predictor.NewPredictor(globalConfig.InferenceURL, httpClient)
	client := api.NewClient(globalConfig.GenerationURL, httpClient)

	orch := orchestrator.New(assetCache, pred, client, orchestrator.Options{
		Texture:      globalConfig.Texture,
		PollInterval: time.Duration(globalConfig.PollIntervalMs) * time.Millisecond,
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	interrupted := make(chan struct{})
	go func() {
		if _, ok := <-sigCh; ok {
			log.Warn("Interrupt received, cancelling generation...")
			orch.Cancel()
			close(interrupted)
		}
	}()

	events := orch.GenerateOrFetch(profile)

	// --- Progress Display Setup ---
	writer := uilive.New()
	writer.Start()
	defer writer.Stop()

	var result []byte
	for event := range events {
		switch event.Type {
		case orchestrator.EventProgress:
			fmt.Fprintf(writer, "Generating avatar: %3d%% - %s\n", event.Progress, event.Message)
		case orchestrator.EventCompleted:
			fmt.Fprintf(writer, "Generating avatar: 100%% - %s\n", event.Message)
			result = event.Data
		case orchestrator.EventFailed:
			return fmt.Errorf("avatar generation failed: %w", event.Err)
		}
	}

	select {
	case <-interrupted:
		return fmt.Errorf("generation cancelled")
	default:
	}
	if result == nil {
		return fmt.Errorf("generation ended without a result")
	}

	outputPath := generateOutputFlag
	if outputPath == "" {
		outputPath = helpers.ConvertToSlug(profile.Nickname) + ".glb"
	}
	if dir := filepath.Dir(outputPath); dir != "." {
		if !helpers.CheckAndMakeDir(dir) {
			return fmt.Errorf("failed to create output directory %s", dir)
		}
	}
	if err := os.WriteFile(outputPath, result, 0644); err != nil {
		return fmt.Errorf("failed to write model to %s: %w", outputPath, err)
	}

	log.Infof("Avatar written to %s (%s)", outputPath, helpers.BytesToSize(uint64(len(result))))
	return nil
}
