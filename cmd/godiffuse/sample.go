package main

import (
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/spf13/cobra"

	"github.com/tsawler/go-diffuse/diffusion"
	"github.com/tsawler/go-diffuse/training"
	"github.com/tsawler/go-diffuse/viz"
)

func newSampleCmd() *cobra.Command {
	var (
		ckptPath    string
		num         int
		points      int
		out         string
		trajDir     string
		recordEvery int
		extendChain bool
		clip        bool
		planeName   string
		seed        int64
	)

	cmd := &cobra.Command{
		Use:   "sample",
		Short: "generate point clouds from a trained checkpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			rng := rand.New(rand.NewSource(seed))
			pm, _, ckpt, err := restoreFromCheckpoint(ckptPath, rng)
			if err != nil {
				return err
			}
			slog.Info("checkpoint loaded",
				"run_id", ckpt.Metadata.RunID,
				"epoch", ckpt.TrainingState.Epoch,
				"timesteps", ckpt.ModelConfig.Timesteps)

			plane, err := viz.ParsePlane(planeName)
			if err != nil {
				return err
			}

			shape := []int{num, ckpt.ModelConfig.Dim, points}
			noiseFn := diffusion.GaussianNoise(rng)

			if trajDir != "" {
				snaps, err := pm.GenSampleTrajectory(shape, noiseFn, recordEvery, clip, extendChain)
				if err != nil {
					return fmt.Errorf("sampling trajectory: %v", err)
				}
				if err := viz.RenderTrajectory(trajDir, "step", snaps, plane, num); err != nil {
					return err
				}
				slog.Info("trajectory written", "dir", trajDir, "snapshots", len(snaps))
				return nil
			}

			samples, err := pm.GenSamples(shape, noiseFn, clip, extendChain)
			if err != nil {
				return fmt.Errorf("sampling failed: %v", err)
			}

			stats, err := training.ComputeSampleStats(samples)
			if err != nil {
				return err
			}
			slog.Info("samples generated", "count", num, "stats", stats.String())

			if out != "" {
				if err := viz.RenderClouds(out, "generated samples", samples, plane, num); err != nil {
					return err
				}
				slog.Info("samples rendered", "path", out)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&ckptPath, "checkpoint", "", "checkpoint file to sample from")
	cmd.Flags().IntVar(&num, "num", 4, "number of clouds to generate")
	cmd.Flags().IntVar(&points, "points", 512, "points per generated cloud")
	cmd.Flags().StringVar(&out, "out", "samples.png", "output PNG path, empty disables rendering")
	cmd.Flags().StringVar(&trajDir, "trajectory-dir", "", "render the denoising trajectory into this directory")
	cmd.Flags().IntVar(&recordEvery, "record-every", 100, "timesteps between trajectory snapshots")
	cmd.Flags().BoolVar(&extendChain, "extend-chain", false, "run the chain for twice the trained timesteps")
	cmd.Flags().BoolVar(&clip, "clip", true, "clamp denoised estimates to the data range")
	cmd.Flags().StringVar(&planeName, "plane", "xy", "projection plane for rendering: xy, xz, yz")
	cmd.Flags().Int64Var(&seed, "seed", 0, "random seed")
	_ = cmd.MarkFlagRequired("checkpoint")

	return cmd
}
