package main

import (
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/spf13/cobra"

	"github.com/tsawler/go-diffuse/tensor"
	"github.com/tsawler/go-diffuse/training"
)

func newEvalCmd() *cobra.Command {
	var (
		ckptPath  string
		sf        datasetFlags
		batchSize int
		clip      bool
		seed      int64
	)

	cmd := &cobra.Command{
		Use:   "eval",
		Short: "estimate the variational bound of a checkpoint on held-out data",
		RunE: func(cmd *cobra.Command, args []string) error {
			rng := rand.New(rand.NewSource(seed))
			pm, _, ckpt, err := restoreFromCheckpoint(ckptPath, rng)
			if err != nil {
				return err
			}
			slog.Info("checkpoint loaded",
				"run_id", ckpt.Metadata.RunID,
				"epoch", ckpt.TrainingState.Epoch)

			dataset, err := buildDataset(&sf, rng)
			if err != nil {
				return err
			}
			loader, err := training.NewDataLoader(dataset, training.DataLoaderConfig{
				BatchSize: batchSize,
				Seed:      seed,
			})
			if err != nil {
				return err
			}

			var totalBits, priorBits float64
			var count int
			for loader.HasNext() {
				batch, err := loader.Next()
				if err != nil {
					return fmt.Errorf("loading batch: %v", err)
				}

				report, err := pm.AllKL(batch.Data, clip)
				if err != nil {
					return fmt.Errorf("evaluating bound: %v", err)
				}

				total, err := report.TotalBits.Float32Data()
				if err != nil {
					return err
				}
				prior, err := report.PriorBits.Float32Data()
				if err != nil {
					return err
				}
				for i := range total {
					totalBits += float64(total[i])
					priorBits += float64(prior[i])
				}
				count += len(total)

				if mean, err := tensor.Mean(report.TermBits); err == nil {
					slog.Debug("batch evaluated", "clouds", len(total), "mean_term_bits", mean)
				}
			}
			if count == 0 {
				return fmt.Errorf("dataset produced no batches")
			}

			slog.Info("evaluation complete",
				"clouds", count,
				"avg_total_bits", totalBits/float64(count),
				"avg_prior_bits", priorBits/float64(count))
			return nil
		},
	}

	cmd.Flags().StringVar(&ckptPath, "checkpoint", "", "checkpoint file to evaluate")
	sf.register(cmd)
	cmd.Flags().IntVar(&batchSize, "batch-size", 8, "evaluation batch size")
	cmd.Flags().BoolVar(&clip, "clip", true, "clamp denoised estimates to the data range")
	cmd.Flags().Int64Var(&seed, "seed", 0, "random seed")
	_ = cmd.MarkFlagRequired("checkpoint")

	return cmd
}
