package training

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/tsawler/go-diffuse/checkpoints"
	"github.com/tsawler/go-diffuse/diffusion"
	"github.com/tsawler/go-diffuse/model"
	"github.com/tsawler/go-diffuse/tensor"
	"github.com/tsawler/go-diffuse/viz"
)

// BackpropDenoiser is a denoiser that can push loss gradients back into
// its parameters after a forward pass.
type BackpropDenoiser interface {
	model.Denoiser
	Backward(gradOut *tensor.Tensor) error
}

// TrainerConfig configures a diffusion training run.
type TrainerConfig struct {
	Epochs       int
	LearningRate float64
	Beta1        float64 // Adam first-moment decay
	Beta2        float64 // Adam second-moment decay
	Epsilon      float64
	WeightDecay  float64
	GradClip     float64 // global-norm clip threshold, <= 0 disables

	Scheduler LRScheduler

	// UseFixedInitNoise draws one noise tensor per dataset item up front
	// and reuses it whenever that item is noised at timestep zero.
	UseFixedInitNoise bool

	// ModelConfig is embedded into saved checkpoints so the model and
	// diffusion process can be rebuilt at load time.
	ModelConfig checkpoints.ModelConfig

	DiagEvery     int    // epochs between norm diagnostics, 0 disables
	SaveEvery     int    // epochs between checkpoint saves, 0 disables
	CheckpointDir string // required when SaveEvery > 0
	HalfPrecision bool   // store checkpoint weights as float16

	VizEvery  int    // epochs between sample renderings, 0 disables
	VizDir    string // required when VizEvery > 0
	VizClouds int    // clouds per rendering, defaults to 4

	Seed   int64
	Logger *slog.Logger
}

// Trainer drives the denoising training loop: noise a clean batch at a
// random timestep, predict the noise, and step the optimizer on the mean
// squared prediction error.
type Trainer struct {
	config   TrainerConfig
	pm       *model.PointModel
	denoiser BackpropDenoiser
	loader   *DataLoader
	opt      *Adam
	rng      *rand.Rand
	logger   *slog.Logger

	initNoises  map[int][]float32
	cloudShape  []int // [D, N] of the data, recorded from the first batch
	history     History
	startEpoch  int
	globalStep  int64
	bestLoss    float64
	lastSaved   string
	paramNames  []string
	parameters  []*tensor.Tensor
}

// NewTrainer wires a model, its trainable denoiser, and a data loader into
// a runnable trainer.
func NewTrainer(pm *model.PointModel, denoiser BackpropDenoiser, loader *DataLoader, config TrainerConfig) (*Trainer, error) {
	if pm == nil || denoiser == nil || loader == nil {
		return nil, fmt.Errorf("model, denoiser and loader must all be non-nil")
	}
	if config.Epochs < 1 {
		return nil, fmt.Errorf("epochs must be at least 1, got %d", config.Epochs)
	}
	if config.LearningRate <= 0 {
		return nil, fmt.Errorf("learning rate must be positive, got %g", config.LearningRate)
	}
	if config.Beta1 == 0 {
		config.Beta1 = 0.9
	}
	if config.Beta2 == 0 {
		config.Beta2 = 0.999
	}
	if config.Epsilon == 0 {
		config.Epsilon = 1e-8
	}
	if config.Scheduler == nil {
		config.Scheduler = &ConstantLRScheduler{}
	}
	if config.SaveEvery > 0 && config.CheckpointDir == "" {
		return nil, fmt.Errorf("checkpoint directory is required when periodic saving is enabled")
	}
	if config.VizEvery > 0 && config.VizDir == "" {
		return nil, fmt.Errorf("visualization directory is required when periodic rendering is enabled")
	}
	if config.VizClouds == 0 {
		config.VizClouds = 4
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	params := denoiser.Parameters()
	if len(params) == 0 {
		return nil, fmt.Errorf("denoiser exposes no trainable parameters")
	}

	t := &Trainer{
		config:     config,
		pm:         pm,
		denoiser:   denoiser,
		loader:     loader,
		opt:        NewAdam(params, config.LearningRate, config.Beta1, config.Beta2, config.Epsilon, config.WeightDecay),
		rng:        rand.New(rand.NewSource(config.Seed)),
		logger:     config.Logger,
		bestLoss:   math.Inf(1),
		parameters: params,
		paramNames: parameterNames(denoiser, len(params)),
	}
	return t, nil
}

func parameterNames(d model.Denoiser, n int) []string {
	if named, ok := d.(interface{ ParameterNames() []string }); ok {
		names := named.ParameterNames()
		if len(names) == n {
			return names
		}
	}
	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("param_%d", i)
	}
	return names
}

// History returns the metrics recorded so far.
func (t *Trainer) History() *History {
	return &t.history
}

// Optimizer exposes the underlying Adam optimizer.
func (t *Trainer) Optimizer() *Adam {
	return t.opt
}

// Run executes the configured number of epochs, honoring ctx cancellation
// between batches.
func (t *Trainer) Run(ctx context.Context) error {
	engine := t.pm.Engine()
	t.logger.Info("starting training",
		"epochs", t.config.Epochs,
		"batches_per_epoch", t.loader.NumBatches(),
		"timesteps", engine.NumTimesteps(),
		"objective", engine.Objective().String(),
		"scheduler", t.config.Scheduler.GetName(),
		"lr", t.config.LearningRate)

	for epoch := t.startEpoch; epoch < t.config.Epochs; epoch++ {
		metrics, err := t.runEpoch(ctx, epoch)
		if err != nil {
			return err
		}
		t.history.Append(metrics)

		if metrics.AvgLoss < t.bestLoss {
			t.bestLoss = metrics.AvgLoss
		}

		t.logger.Info("epoch complete",
			"epoch", epoch,
			"avg_loss", metrics.AvgLoss,
			"lr", metrics.LearningRate,
			"duration", metrics.Duration)

		if t.config.DiagEvery > 0 && (epoch+1)%t.config.DiagEvery == 0 {
			t.logger.Info("diagnostics",
				"epoch", epoch,
				"param_norm", metrics.ParamNorm,
				"grad_norm", metrics.GradNorm)
		}

		if t.config.SaveEvery > 0 && (epoch+1)%t.config.SaveEvery == 0 {
			if err := t.saveCheckpoint(epoch); err != nil {
				return fmt.Errorf("saving checkpoint after epoch %d: %v", epoch, err)
			}
		}

		if t.config.VizEvery > 0 && (epoch+1)%t.config.VizEvery == 0 {
			if err := t.renderSamples(epoch); err != nil {
				return fmt.Errorf("rendering samples after epoch %d: %v", epoch, err)
			}
		}
	}
	return nil
}

// renderSamples generates a small batch from the current model and writes a
// scatter plot of it under the configured visualization directory.
func (t *Trainer) renderSamples(epoch int) error {
	if t.cloudShape == nil {
		return fmt.Errorf("no batch shape recorded yet")
	}
	if err := os.MkdirAll(t.config.VizDir, 0o755); err != nil {
		return fmt.Errorf("creating visualization directory: %v", err)
	}

	shape := []int{t.config.VizClouds, t.cloudShape[0], t.cloudShape[1]}
	samples, err := t.pm.GenSamples(shape, diffusion.GaussianNoise(t.rng), true, false)
	if err != nil {
		return fmt.Errorf("sampling failed: %v", err)
	}

	path := filepath.Join(t.config.VizDir, fmt.Sprintf("samples-epoch-%d.png", epoch))
	title := fmt.Sprintf("generated clouds, epoch %d", epoch)
	if err := viz.RenderClouds(path, title, samples, viz.PlaneXY, t.config.VizClouds); err != nil {
		return err
	}
	t.logger.Info("samples rendered", "path", path, "epoch", epoch)
	return nil
}

func (t *Trainer) runEpoch(ctx context.Context, epoch int) (EpochMetrics, error) {
	start := time.Now()

	lr := t.config.Scheduler.GetLR(epoch, t.config.LearningRate)
	t.opt.SetLR(lr)

	t.loader.Reset()

	var totalLoss float64
	var batches int
	var lastGradNorm float64
	for t.loader.HasNext() {
		select {
		case <-ctx.Done():
			return EpochMetrics{}, ctx.Err()
		default:
		}

		batch, err := t.loader.Next()
		if err != nil {
			return EpochMetrics{}, fmt.Errorf("loading batch: %v", err)
		}

		loss, gradNorm, err := t.trainStep(batch)
		if err != nil {
			return EpochMetrics{}, fmt.Errorf("training step failed: %v", err)
		}
		totalLoss += loss
		lastGradNorm = gradNorm
		batches++
		t.globalStep++
	}

	if batches == 0 {
		return EpochMetrics{}, fmt.Errorf("epoch %d produced no batches", epoch)
	}

	paramNorm, err := ParamNorm(t.parameters)
	if err != nil {
		return EpochMetrics{}, err
	}

	return EpochMetrics{
		Epoch:        epoch,
		AvgLoss:      totalLoss / float64(batches),
		LearningRate: lr,
		ParamNorm:    paramNorm,
		GradNorm:     lastGradNorm,
		Batches:      batches,
		Duration:     time.Since(start),
	}, nil
}

// trainStep runs one optimization step on a batch and returns the scalar
// loss and the pre-clip gradient norm.
func (t *Trainer) trainStep(batch *Batch) (float64, float64, error) {
	shape := batch.Data.Shape
	if len(shape) != 3 {
		return 0, 0, fmt.Errorf("expected [B, D, N] batch, got shape %v", shape)
	}
	batchSize, block := shape[0], shape[1]*shape[2]
	if t.cloudShape == nil {
		t.cloudShape = []int{shape[1], shape[2]}
	}
	numTimesteps := t.pm.Engine().NumTimesteps()

	// One uniformly drawn timestep per batch element.
	tData := make([]int64, batchSize)
	for i := range tData {
		tData[i] = int64(t.rng.Intn(numTimesteps))
	}
	tsteps, err := tensor.New([]int{batchSize}, tensor.Int64, tData)
	if err != nil {
		return 0, 0, err
	}

	noise, err := t.drawNoise(batch, tData, block)
	if err != nil {
		return 0, 0, err
	}

	xt, err := t.pm.Engine().QSample(batch.Data, tsteps, noise)
	if err != nil {
		return 0, 0, fmt.Errorf("forward noising failed: %v", err)
	}

	eps, err := t.denoiser.Denoise(xt, tsteps)
	if err != nil {
		return 0, 0, fmt.Errorf("denoiser forward failed: %v", err)
	}

	residual, err := tensor.Sub(eps, noise)
	if err != nil {
		return 0, 0, err
	}
	sq, err := tensor.Square(residual)
	if err != nil {
		return 0, 0, err
	}
	loss, err := tensor.Mean(sq)
	if err != nil {
		return 0, 0, err
	}

	// d loss / d eps for the mean of squared residuals over all elements.
	gradOut, err := tensor.Scale(residual, 2/float32(batchSize*block))
	if err != nil {
		return 0, 0, err
	}

	t.opt.ZeroGrad()
	if err := t.denoiser.Backward(gradOut); err != nil {
		return 0, 0, fmt.Errorf("denoiser backward failed: %v", err)
	}

	gradNorm, err := GradNorm(t.parameters)
	if err != nil {
		return 0, 0, err
	}
	if t.config.GradClip > 0 {
		if _, err := ClipGradNorm(t.parameters, t.config.GradClip); err != nil {
			return 0, 0, fmt.Errorf("gradient clipping failed: %v", err)
		}
	}

	if err := t.opt.Step(); err != nil {
		return 0, 0, fmt.Errorf("optimizer step failed: %v", err)
	}

	return loss, gradNorm, nil
}

// drawNoise produces the per-element noise for a batch. With fixed initial
// noise enabled, each dataset item keeps one noise draw that is used
// whenever that item lands on timestep zero; all other rows get fresh
// Gaussian noise.
func (t *Trainer) drawNoise(batch *Batch, tData []int64, block int) (*tensor.Tensor, error) {
	data := make([]float32, len(tData)*block)

	for row := range tData {
		dst := data[row*block : (row+1)*block]
		if t.config.UseFixedInitNoise && tData[row] == 0 {
			copy(dst, t.fixedNoiseFor(batch.Indices[row], block))
			continue
		}
		for i := range dst {
			dst[i] = float32(t.rng.NormFloat64())
		}
	}

	return tensor.New([]int{len(tData), batch.Data.Shape[1], batch.Data.Shape[2]}, tensor.Float32, data)
}

func (t *Trainer) fixedNoiseFor(index, block int) []float32 {
	if t.initNoises == nil {
		t.initNoises = make(map[int][]float32)
	}
	noise, ok := t.initNoises[index]
	if !ok || len(noise) != block {
		noise = make([]float32, block)
		for i := range noise {
			noise[i] = float32(t.rng.NormFloat64())
		}
		t.initNoises[index] = noise
	}
	return noise
}

func (t *Trainer) saveCheckpoint(epoch int) error {
	if err := os.MkdirAll(t.config.CheckpointDir, 0o755); err != nil {
		return fmt.Errorf("creating checkpoint directory: %v", err)
	}

	weights, err := checkpoints.EncodeWeights(t.paramNames, t.parameters, t.config.HalfPrecision)
	if err != nil {
		return err
	}

	m1, m2 := t.opt.StateTensors()
	ckpt := &checkpoints.Checkpoint{
		Version:     checkpoints.FormatVersion,
		Metadata:    checkpoints.NewMetadata(fmt.Sprintf("epoch %d", epoch)),
		ModelConfig: t.config.ModelConfig,
		Weights:     weights,
		TrainingState: checkpoints.TrainingState{
			Epoch:        epoch,
			Step:         t.globalStep,
			LearningRate: t.opt.GetLR(),
			BestLoss:     t.bestLoss,
		},
		OptimizerState: checkpoints.OptimizerState{
			Type:         "adam",
			LearningRate: t.opt.GetLR(),
			Beta1:        t.config.Beta1,
			Beta2:        t.config.Beta2,
			Epsilon:      t.config.Epsilon,
			WeightDecay:  t.config.WeightDecay,
			StepCount:    t.opt.StepCount(),
			Moments1:     m1,
			Moments2:     m2,
		},
	}

	path := filepath.Join(t.config.CheckpointDir, fmt.Sprintf("checkpoint-epoch-%d.json", epoch))
	if err := checkpoints.Save(path, ckpt); err != nil {
		return err
	}

	// Keep only the latest periodic checkpoint on disk.
	if t.lastSaved != "" && t.lastSaved != path {
		if err := os.Remove(t.lastSaved); err != nil && !os.IsNotExist(err) {
			t.logger.Warn("failed to remove superseded checkpoint", "path", t.lastSaved, "error", err)
		}
	}
	t.lastSaved = path

	t.logger.Info("checkpoint saved", "path", path, "epoch", epoch)
	return nil
}

// Resume restores trainer and optimizer state from a checkpoint so that
// Run continues from the epoch after the one recorded.
func (t *Trainer) Resume(path string) error {
	ckpt, err := checkpoints.Load(path)
	if err != nil {
		return err
	}

	if err := checkpoints.ApplyWeights(ckpt.Weights, t.parameters); err != nil {
		return fmt.Errorf("restoring weights: %v", err)
	}

	if ckpt.OptimizerState.Type == "adam" && ckpt.OptimizerState.Moments1 != nil {
		if err := t.opt.LoadStateTensors(ckpt.OptimizerState.Moments1, ckpt.OptimizerState.Moments2); err != nil {
			return fmt.Errorf("restoring optimizer state: %v", err)
		}
		t.opt.SetStepCount(ckpt.OptimizerState.StepCount)
	}

	t.startEpoch = ckpt.TrainingState.Epoch + 1
	t.globalStep = ckpt.TrainingState.Step
	if ckpt.TrainingState.BestLoss > 0 {
		t.bestLoss = ckpt.TrainingState.BestLoss
	}

	t.logger.Info("resumed from checkpoint",
		"path", path,
		"run_id", ckpt.Metadata.RunID,
		"next_epoch", t.startEpoch)
	return nil
}
