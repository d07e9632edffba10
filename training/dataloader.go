package training

import (
	"fmt"
	"math/rand"

	"golang.org/x/sync/errgroup"

	"github.com/tsawler/go-diffuse/tensor"
)

// Batch is one stacked mini-batch of point clouds. Indices records which
// dataset items the batch rows came from, so callers can associate
// per-item state (such as fixed initial noise) with each row.
type Batch struct {
	Data    *tensor.Tensor // [B, D, N]
	Indices []int
}

// DataLoader iterates over a Dataset in shuffled mini-batches. Items within
// a batch are fetched and copied concurrently.
type DataLoader struct {
	dataset    Dataset
	batchSize  int
	shuffle    bool
	dropLast   bool
	rng        *rand.Rand
	indices    []int
	currentIdx int
}

// DataLoaderConfig configures a DataLoader.
type DataLoaderConfig struct {
	BatchSize int
	Shuffle   bool
	DropLast  bool
	Seed      int64
}

// NewDataLoader creates a loader over the given dataset.
func NewDataLoader(dataset Dataset, config DataLoaderConfig) (*DataLoader, error) {
	if dataset == nil {
		return nil, fmt.Errorf("dataset must not be nil")
	}
	if config.BatchSize < 1 {
		return nil, fmt.Errorf("batch size must be at least 1, got %d", config.BatchSize)
	}

	indices := make([]int, dataset.Len())
	for i := range indices {
		indices[i] = i
	}

	dl := &DataLoader{
		dataset:   dataset,
		batchSize: config.BatchSize,
		shuffle:   config.Shuffle,
		dropLast:  config.DropLast,
		rng:       rand.New(rand.NewSource(config.Seed)),
		indices:   indices,
	}
	dl.Reset()
	return dl, nil
}

// Reset rewinds the loader to the start of a new epoch, reshuffling if
// shuffling is enabled.
func (dl *DataLoader) Reset() {
	dl.currentIdx = 0
	if dl.shuffle {
		dl.rng.Shuffle(len(dl.indices), func(i, j int) {
			dl.indices[i], dl.indices[j] = dl.indices[j], dl.indices[i]
		})
	}
}

// NumBatches returns the number of batches in one epoch.
func (dl *DataLoader) NumBatches() int {
	n := dl.dataset.Len()
	if dl.dropLast {
		return n / dl.batchSize
	}
	return (n + dl.batchSize - 1) / dl.batchSize
}

// HasNext reports whether another batch remains in the current epoch.
func (dl *DataLoader) HasNext() bool {
	remaining := len(dl.indices) - dl.currentIdx
	if dl.dropLast {
		return remaining >= dl.batchSize
	}
	return remaining > 0
}

// Next assembles and returns the next batch. Call Reset between epochs.
func (dl *DataLoader) Next() (*Batch, error) {
	if !dl.HasNext() {
		return nil, fmt.Errorf("no batches remaining, call Reset to start a new epoch")
	}

	end := dl.currentIdx + dl.batchSize
	if end > len(dl.indices) {
		end = len(dl.indices)
	}
	batchIndices := dl.indices[dl.currentIdx:end]
	dl.currentIdx = end

	first, err := dl.dataset.GetItem(batchIndices[0])
	if err != nil {
		return nil, fmt.Errorf("fetching item %d: %v", batchIndices[0], err)
	}
	if len(first.Shape) != 2 {
		return nil, fmt.Errorf("item %d has %d dimensions, want 2", batchIndices[0], len(first.Shape))
	}
	dims, points := first.Shape[0], first.Shape[1]
	block := dims * points

	data := make([]float32, len(batchIndices)*block)

	var g errgroup.Group
	for row, idx := range batchIndices {
		row, idx := row, idx
		g.Go(func() error {
			item, err := dl.dataset.GetItem(idx)
			if err != nil {
				return fmt.Errorf("fetching item %d: %v", idx, err)
			}
			if len(item.Shape) != 2 || item.Shape[0] != dims || item.Shape[1] != points {
				return fmt.Errorf("item %d has shape %v, want [%d %d]", idx, item.Shape, dims, points)
			}
			src, err := item.Float32Data()
			if err != nil {
				return fmt.Errorf("item %d data access failed: %v", idx, err)
			}
			copy(data[row*block:(row+1)*block], src)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	stacked, err := tensor.New([]int{len(batchIndices), dims, points}, tensor.Float32, data)
	if err != nil {
		return nil, fmt.Errorf("stacking batch failed: %v", err)
	}

	indices := make([]int, len(batchIndices))
	copy(indices, batchIndices)

	return &Batch{Data: stacked, Indices: indices}, nil
}
