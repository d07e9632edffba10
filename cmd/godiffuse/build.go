package main

import (
	"fmt"
	"math/rand"

	"github.com/tsawler/go-diffuse/checkpoints"
	"github.com/tsawler/go-diffuse/diffusion"
	"github.com/tsawler/go-diffuse/model"
	"github.com/tsawler/go-diffuse/training"
)

// buildEngine resolves flag strings into a diffusion engine.
func buildEngine(f *diffusionFlags) (*diffusion.GaussianDiffusion, error) {
	schedule, err := diffusion.ParseSchedulePolicy(f.schedule)
	if err != nil {
		return nil, err
	}
	objective, err := diffusion.ParseObjective(f.objective)
	if err != nil {
		return nil, err
	}
	meanType, err := diffusion.ParseMeanType(f.meanType)
	if err != nil {
		return nil, err
	}
	variance, err := diffusion.ParseVarianceType(f.variance)
	if err != nil {
		return nil, err
	}

	return diffusion.New(diffusion.Config{
		Schedule:     schedule,
		BetaStart:    f.betaStart,
		BetaEnd:      f.betaEnd,
		Timesteps:    f.timesteps,
		Objective:    objective,
		MeanType:     meanType,
		VarianceType: variance,
	})
}

// buildDataset materializes the synthetic dataset described by flags.
func buildDataset(f *datasetFlags, rng *rand.Rand) (*training.SliceDataset, error) {
	shape, err := training.ParseSyntheticShape(f.shape)
	if err != nil {
		return nil, err
	}
	return training.NewSyntheticDataset(shape, f.size, f.points, f.jitter, rng)
}

// modelConfig snapshots the settings a checkpoint needs to rebuild the run.
func modelConfig(f *diffusionFlags, dim, embedDim, hidden int) checkpoints.ModelConfig {
	return checkpoints.ModelConfig{
		Schedule:     f.schedule,
		BetaStart:    f.betaStart,
		BetaEnd:      f.betaEnd,
		Timesteps:    f.timesteps,
		Objective:    f.objective,
		MeanType:     f.meanType,
		VarianceType: f.variance,
		Dim:          dim,
		EmbedDim:     embedDim,
		Hidden:       hidden,
	}
}

// restoreFromCheckpoint rebuilds the engine and denoiser recorded in a
// checkpoint file and loads its weights.
func restoreFromCheckpoint(path string, rng *rand.Rand) (*model.PointModel, *model.PointMLP, *checkpoints.Checkpoint, error) {
	ckpt, err := checkpoints.Load(path)
	if err != nil {
		return nil, nil, nil, err
	}

	mc := ckpt.ModelConfig
	if mc.Timesteps == 0 {
		return nil, nil, nil, fmt.Errorf("checkpoint %q carries no model configuration", path)
	}

	engine, err := buildEngine(&diffusionFlags{
		schedule:  mc.Schedule,
		betaStart: mc.BetaStart,
		betaEnd:   mc.BetaEnd,
		timesteps: mc.Timesteps,
		objective: mc.Objective,
		meanType:  mc.MeanType,
		variance:  mc.VarianceType,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("rebuilding engine from checkpoint: %v", err)
	}

	mlp, err := model.NewPointMLP(mc.Dim, mc.EmbedDim, mc.Hidden, rng)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("rebuilding denoiser from checkpoint: %v", err)
	}
	if err := checkpoints.ApplyWeights(ckpt.Weights, mlp.Parameters()); err != nil {
		return nil, nil, nil, fmt.Errorf("restoring weights: %v", err)
	}

	return model.NewPointModel(engine, mlp, rng), mlp, ckpt, nil
}
