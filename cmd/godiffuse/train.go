package main

import (
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/spf13/cobra"

	"github.com/tsawler/go-diffuse/model"
	"github.com/tsawler/go-diffuse/training"
	"github.com/tsawler/go-diffuse/viz"
)

func newTrainCmd() *cobra.Command {
	var (
		df diffusionFlags
		sf datasetFlags

		epochs      int
		batchSize   int
		lr          float64
		beta1       float64
		beta2       float64
		gamma       float64
		gradClip    float64
		embedDim    int
		hidden      int
		seed        int64
		saveEvery   int
		diagEvery   int
		ckptDir     string
		half        bool
		resume      string
		fixedNoise  bool
		lossCurve   string
		vizEvery    int
		vizDir      string
	)

	cmd := &cobra.Command{
		Use:   "train",
		Short: "train a denoiser on synthetic point clouds",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := buildEngine(&df)
			if err != nil {
				return err
			}

			rng := rand.New(rand.NewSource(seed))
			mlp, err := model.NewPointMLP(3, embedDim, hidden, rng)
			if err != nil {
				return err
			}
			pm := model.NewPointModel(engine, mlp, rng)

			dataset, err := buildDataset(&sf, rng)
			if err != nil {
				return err
			}
			loader, err := training.NewDataLoader(dataset, training.DataLoaderConfig{
				BatchSize: batchSize,
				Shuffle:   true,
				DropLast:  true,
				Seed:      seed,
			})
			if err != nil {
				return err
			}

			var scheduler training.LRScheduler = &training.ConstantLRScheduler{}
			if gamma > 0 && gamma < 1 {
				scheduler = training.NewExponentialLRScheduler(gamma)
			}

			trainer, err := training.NewTrainer(pm, mlp, loader, training.TrainerConfig{
				Epochs:            epochs,
				LearningRate:      lr,
				Beta1:             beta1,
				Beta2:             beta2,
				GradClip:          gradClip,
				Scheduler:         scheduler,
				UseFixedInitNoise: fixedNoise,
				ModelConfig:       modelConfig(&df, 3, embedDim, hidden),
				DiagEvery:         diagEvery,
				SaveEvery:         saveEvery,
				CheckpointDir:     ckptDir,
				HalfPrecision:     half,
				VizEvery:          vizEvery,
				VizDir:            vizDir,
				Seed:              seed,
				Logger:            slog.Default(),
			})
			if err != nil {
				return err
			}

			if resume != "" {
				if err := trainer.Resume(resume); err != nil {
					return err
				}
			}

			if err := trainer.Run(cmd.Context()); err != nil {
				return err
			}

			best, err := trainer.History().Best()
			if err != nil {
				return err
			}
			slog.Info("training finished", "best_epoch", best.Epoch, "best_loss", best.AvgLoss)

			if lossCurve != "" {
				if err := viz.RenderLossCurve(lossCurve, trainer.History().Losses()); err != nil {
					return fmt.Errorf("rendering loss curve: %v", err)
				}
				slog.Info("loss curve written", "path", lossCurve)
			}
			return nil
		},
	}

	df.register(cmd)
	sf.register(cmd)
	cmd.Flags().IntVar(&epochs, "epochs", 100, "number of training epochs")
	cmd.Flags().IntVar(&batchSize, "batch-size", 16, "mini-batch size")
	cmd.Flags().Float64Var(&lr, "lr", 2e-4, "base learning rate")
	cmd.Flags().Float64Var(&beta1, "beta1", 0.5, "Adam first-moment decay")
	cmd.Flags().Float64Var(&beta2, "beta2", 0.999, "Adam second-moment decay")
	cmd.Flags().Float64Var(&gamma, "lr-gamma", 0.998, "exponential LR decay per epoch, >=1 disables")
	cmd.Flags().Float64Var(&gradClip, "grad-clip", 1.0, "global gradient-norm clip, <=0 disables")
	cmd.Flags().IntVar(&embedDim, "embed-dim", 32, "timestep embedding width")
	cmd.Flags().IntVar(&hidden, "hidden", 128, "denoiser hidden width")
	cmd.Flags().Int64Var(&seed, "seed", 42, "random seed")
	cmd.Flags().IntVar(&saveEvery, "save-every", 10, "epochs between checkpoint saves, 0 disables")
	cmd.Flags().IntVar(&diagEvery, "diag-every", 10, "epochs between norm diagnostics, 0 disables")
	cmd.Flags().StringVar(&ckptDir, "checkpoint-dir", "checkpoints", "directory for periodic checkpoints")
	cmd.Flags().BoolVar(&half, "half", false, "store checkpoint weights as float16")
	cmd.Flags().StringVar(&resume, "resume", "", "checkpoint file to resume from")
	cmd.Flags().BoolVar(&fixedNoise, "fixed-init-noise", false, "reuse one noise draw per item at timestep zero")
	cmd.Flags().StringVar(&lossCurve, "loss-curve", "", "write the loss curve PNG to this path")
	cmd.Flags().IntVar(&vizEvery, "viz-every", 0, "epochs between sample renderings, 0 disables")
	cmd.Flags().StringVar(&vizDir, "viz-dir", "", "directory for periodic sample renderings")

	return cmd
}
