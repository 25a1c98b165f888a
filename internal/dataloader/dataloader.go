// Package dataloader batches dataset samples with a worker pool.
package dataloader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/MeKo-Tech/ocrprep/internal/collate"
	"github.com/MeKo-Tech/ocrprep/internal/dataset"
	"github.com/MeKo-Tech/ocrprep/internal/metrics"
	"github.com/MeKo-Tech/ocrprep/internal/pipeline"
)

// Options configure BuildDataloader.
type Options struct {
	NumGPUs   int    // GPUs driven by one process when not distributed (default 1)
	Dist      bool   // shard the dataset across WorldSize processes
	Shuffle   bool   // visit samples in a seeded random order
	Seed      *int64 // nil draws a random seed
	Rank      int
	WorldSize int // distributed processes (default 1)
	DropLast  bool
	Logger    *slog.Logger
}

// DataLoader yields collated batches of a dataset.
type DataLoader struct {
	ds            dataset.Dataset
	sampler       Sampler
	batchSize     int
	samplesPerGPU int
	workers       int
	dropLast      bool
	logger        *slog.Logger
}

// Result is one batch produced by Batches.
type Result struct {
	Index int
	Batch *collate.Batch
	Err   error
}

// BuildDataloader sizes batches and workers the way multi-GPU training does:
// without Dist one process feeds NumGPUs devices, so both counts scale by
// NumGPUs; with Dist every process feeds one device.
func BuildDataloader(ds dataset.Dataset, samplesPerGPU, workersPerGPU int, opts Options) (*DataLoader, error) {
	if ds == nil {
		return nil, errors.New("dataset is nil")
	}
	if samplesPerGPU <= 0 {
		return nil, fmt.Errorf("samples per gpu must be positive, got %d", samplesPerGPU)
	}
	if workersPerGPU < 0 {
		return nil, fmt.Errorf("workers per gpu must not be negative, got %d", workersPerGPU)
	}
	if opts.NumGPUs == 0 {
		opts.NumGPUs = 1
	}
	if opts.NumGPUs < 0 {
		return nil, fmt.Errorf("num gpus must be positive, got %d", opts.NumGPUs)
	}
	if opts.WorldSize == 0 {
		opts.WorldSize = 1
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	var seed uint64
	if opts.Seed != nil {
		seed = uint64(*opts.Seed)
	} else {
		seed = rand.Uint64()
	}

	l := &DataLoader{ds: ds, dropLast: opts.DropLast, samplesPerGPU: samplesPerGPU, logger: opts.Logger}
	if opts.Dist {
		if opts.WorldSize < 1 || opts.Rank < 0 || opts.Rank >= opts.WorldSize {
			return nil, fmt.Errorf("rank %d is not in world of size %d", opts.Rank, opts.WorldSize)
		}
		l.batchSize = samplesPerGPU
		l.workers = workersPerGPU
		l.sampler = &distributedSampler{
			n: ds.Len(), rank: opts.Rank, worldSize: opts.WorldSize,
			shuffle: opts.Shuffle, seed: seed,
		}
	} else {
		l.batchSize = samplesPerGPU * opts.NumGPUs
		l.workers = workersPerGPU * opts.NumGPUs
		if opts.Shuffle {
			l.sampler = &randomSampler{n: ds.Len(), seed: seed}
		} else {
			l.sampler = &sequentialSampler{n: ds.Len()}
		}
	}
	return l, nil
}

// BatchSize is the number of samples per batch.
func (l *DataLoader) BatchSize() int { return l.batchSize }

// Workers is the number of loading goroutines (0 loads inline).
func (l *DataLoader) Workers() int { return l.workers }

// Dataset returns the underlying dataset.
func (l *DataLoader) Dataset() dataset.Dataset { return l.ds }

// SetEpoch reseeds shuffling for the given epoch.
func (l *DataLoader) SetEpoch(epoch int) { l.sampler.SetEpoch(epoch) }

// Len is the number of batches per epoch.
func (l *DataLoader) Len() int {
	n := l.sampler.Len()
	if l.dropLast {
		return n / l.batchSize
	}
	return (n + l.batchSize - 1) / l.batchSize
}

// batches splits this epoch's indices into batch index lists.
func (l *DataLoader) batches() [][]int {
	idx := l.sampler.Indices()
	out := make([][]int, 0, l.Len())
	for lo := 0; lo < len(idx); lo += l.batchSize {
		hi := min(lo+l.batchSize, len(idx))
		if hi-lo < l.batchSize && l.dropLast {
			break
		}
		out = append(out, idx[lo:hi])
	}
	return out
}

func (l *DataLoader) load(idx []int) (*collate.Batch, error) {
	start := time.Now()
	samples := make([]*pipeline.Sample, 0, len(idx))
	for _, i := range idx {
		s, err := l.ds.Get(i)
		if err != nil {
			return nil, err
		}
		samples = append(samples, s)
	}
	b, err := collate.Collate(samples, l.samplesPerGPU)
	if err != nil {
		return nil, err
	}
	metrics.ObserveBatch(len(idx), time.Since(start))
	return b, nil
}

// Batches loads one epoch in the background and delivers batches in order.
// The channel closes after the last batch, after the first error, or when
// ctx is done. Batches not received before cancellation are released.
func (l *DataLoader) Batches(ctx context.Context) <-chan Result {
	out := make(chan Result)
	go func() {
		defer close(out)
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		jobs := l.batches()
		workers := min(max(1, l.workers), max(1, len(jobs)))
		todo := make(chan int)
		results := make(chan Result, workers)

		var wg sync.WaitGroup
		for range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					select {
					case j, ok := <-todo:
						if !ok {
							return
						}
						b, err := l.load(jobs[j])
						if err != nil {
							err = fmt.Errorf("batch %d: %w", j, err)
						}
						select {
						case results <- Result{Index: j, Batch: b, Err: err}:
						case <-ctx.Done():
							b.Release()
							return
						}
					case <-ctx.Done():
						return
					}
				}
			}()
		}

		go func() {
			defer close(todo)
			for j := range jobs {
				select {
				case todo <- j:
				case <-ctx.Done():
					return
				}
			}
		}()

		go func() {
			wg.Wait()
			close(results)
		}()

		// Reorder results so batches leave in sampler order.
		pending := make(map[int]Result, workers)
		next := 0
		stopped := false
		for r := range results {
			if stopped {
				r.Batch.Release()
				continue
			}
			pending[r.Index] = r
			for {
				p, ok := pending[next]
				if !ok {
					break
				}
				delete(pending, next)
				next++
				select {
				case out <- p:
				case <-ctx.Done():
					p.Batch.Release()
					stopped = true
				}
				if stopped || p.Err != nil {
					stopped = true
					cancel()
					break
				}
			}
		}
		for _, p := range pending {
			p.Batch.Release()
		}
		l.logger.Debug("data loader epoch finished", "delivered", next, "batches", len(jobs))
	}()
	return out
}

// Run calls fn for every batch of one epoch in order. Each batch is released
// after fn returns. It stops at the first error from loading or from fn.
func (l *DataLoader) Run(ctx context.Context, fn func(*collate.Batch) error) error {
	ctx, cancel := context.WithCancel(ctx)
	ch := l.Batches(ctx)
	defer func() {
		cancel()
		for r := range ch {
			r.Batch.Release()
		}
	}()

	for r := range ch {
		if r.Err != nil {
			return r.Err
		}
		err := fn(r.Batch)
		r.Batch.Release()
		if err != nil {
			return err
		}
	}
	return ctx.Err()
}
