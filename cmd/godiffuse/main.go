// Command godiffuse trains, samples and evaluates point-cloud denoising
// diffusion models.
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:          "godiffuse",
		Short:        "denoising diffusion for 3-D point clouds",
		SilenceUsage: true,
	}

	root.AddCommand(newTrainCmd())
	root.AddCommand(newSampleCmd())
	root.AddCommand(newEvalCmd())

	if err := root.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// diffusionFlags is the configuration surface shared by all subcommands.
type diffusionFlags struct {
	schedule  string
	betaStart float64
	betaEnd   float64
	timesteps int
	objective string
	meanType  string
	variance  string
}

func (f *diffusionFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.schedule, "schedule", "linear", "beta schedule: linear, warm0.1, warm0.2, warm0.5")
	cmd.Flags().Float64Var(&f.betaStart, "beta-start", 0.0001, "first beta of the schedule")
	cmd.Flags().Float64Var(&f.betaEnd, "beta-end", 0.02, "last beta of the schedule")
	cmd.Flags().IntVar(&f.timesteps, "timesteps", 1000, "number of diffusion timesteps")
	cmd.Flags().StringVar(&f.objective, "objective", "mse", "training objective: mse or kl")
	cmd.Flags().StringVar(&f.meanType, "mean-type", "eps", "reverse-mean parameterization")
	cmd.Flags().StringVar(&f.variance, "variance-type", "fixedsmall", "reverse variance: fixedsmall or fixedlarge")
}

type datasetFlags struct {
	shape  string
	size   int
	points int
	jitter float64
}

func (f *datasetFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.shape, "shape", "sphere", "synthetic dataset shape: sphere or torus")
	cmd.Flags().IntVar(&f.size, "dataset-size", 256, "number of point clouds in the dataset")
	cmd.Flags().IntVar(&f.points, "points", 512, "points per cloud")
	cmd.Flags().Float64Var(&f.jitter, "jitter", 0.01, "gaussian jitter added to surface points")
}
