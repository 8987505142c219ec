package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"go-avatar-pipeline/internal/predictor"
)

var (
	predictHeightFlag int
	predictWeightFlag int
)

// predictCmd represents the predict command
var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Predict body shape ratios from height and weight",
	Long: `Runs the iterative body shape prediction against the inference server
and prints the converged chest, waist and thigh ratios without submitting
a generation task.`,
	RunE: runPredict,
}

func init() {
	rootCmd.AddCommand(predictCmd)

	predictCmd.Flags().IntVar(&predictHeightFlag, "height", 0, "Height in centimeters")
	predictCmd.Flags().IntVar(&predictWeightFlag, "weight", 0, "Weight in kilograms")

	_ = predictCmd.MarkFlagRequired("height")
	_ = predictCmd.MarkFlagRequired("weight")
}

func runPredict(cmd *cobra.Command, args []string) error {
	pred := predictor.NewPredictor(globalConfig.InferenceURL, newAPIHttpClient())

	ratios, err := pred.Predict(context.Background(), float64(predictHeightFlag), float64(predictWeightFlag))
	if err != nil {
		return fmt.Errorf("prediction failed: %w", err)
	}

	fmt.Printf("Chest ratio: %.4f\n", ratios.Chest)
	fmt.Printf("Waist ratio: %.4f\n", ratios.Waist)
	fmt.Printf("Thigh ratio: %.4f\n", ratios.Thigh)
	return nil
}
