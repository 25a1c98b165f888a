// Package collate merges pipeline samples into batches.
package collate

import (
	"errors"
	"fmt"

	"github.com/MeKo-Tech/ocrprep/internal/pipeline"
	"github.com/MeKo-Tech/ocrprep/internal/tensor"
)

var (
	// ErrMixedVariants is returned when single- and multi-variant samples are
	// collated together, or when variant counts differ.
	ErrMixedVariants = errors.New("samples disagree on augmentation variants")

	// ErrMixedContainers is returned when samples wrap the same field with
	// different collation hints.
	ErrMixedContainers = errors.New("samples disagree on container kind")
)

// Collated is one field variant after collation. Chunks holds one entry per
// group of samplesPerGPU samples. Plain fields are stacked across the whole
// batch and carry a single chunk.
type Collated[T any] struct {
	Chunks  []T
	Stack   bool
	CPUOnly bool
}

// Plain reports whether the field was stacked without padding hints.
func (c Collated[T]) Plain() bool { return !c.Stack && !c.CPUOnly }

// Batch is a collated set of samples.
type Batch struct {
	// Img and ImgMetas hold one entry per variant.
	Img      []Collated[*tensor.Tensor]
	ImgMetas []Collated[[]pipeline.ImageMeta]
	Multi    bool
	Size     int
}

// Release hands the stacked buffers back to the pool. The batch must not be
// used afterwards.
func (b *Batch) Release() {
	if b == nil {
		return
	}
	for _, c := range b.Img {
		for _, t := range c.Chunks {
			_ = t.Release()
			tensor.Recycle(t)
		}
	}
	b.Img = nil
}

// Collate groups samples into chunks of samplesPerGPU and merges each field.
func Collate(samples []*pipeline.Sample, samplesPerGPU int) (*Batch, error) {
	if len(samples) == 0 {
		return nil, errors.New("no samples to collate")
	}
	if samplesPerGPU <= 0 {
		return nil, fmt.Errorf("samples per gpu must be positive, got %d", samplesPerGPU)
	}
	for i, s := range samples {
		if s == nil || !s.Collected() {
			return nil, fmt.Errorf("sample %d: %w", i, pipeline.ErrNotCollected)
		}
	}

	first := samples[0]
	variants := len(first.Img.Variants)
	for i, s := range samples[1:] {
		if s.Img.Multi != first.Img.Multi || len(s.Img.Variants) != variants || len(s.ImgMetas.Variants) != variants {
			return nil, fmt.Errorf("sample %d: %w", i+1, ErrMixedVariants)
		}
	}
	if len(first.ImgMetas.Variants) != variants {
		return nil, fmt.Errorf("sample 0: %w", ErrMixedVariants)
	}

	b := &Batch{Multi: first.Img.Multi, Size: len(samples)}
	for v := range variants {
		imgs := make([]pipeline.DataContainer[*tensor.Tensor], len(samples))
		metas := make([]pipeline.DataContainer[pipeline.ImageMeta], len(samples))
		for i, s := range samples {
			imgs[i] = s.Img.Variants[v]
			metas[i] = s.ImgMetas.Variants[v]
		}
		img, err := collateTensors(imgs, samplesPerGPU)
		if err != nil {
			b.Release()
			return nil, fmt.Errorf("img variant %d: %w", v, err)
		}
		b.Img = append(b.Img, img)
		b.ImgMetas = append(b.ImgMetas, collateValues(metas, samplesPerGPU))
	}
	return b, nil
}

func sameKind[T any](cs []pipeline.DataContainer[T]) error {
	for i, c := range cs[1:] {
		if c.Stack != cs[0].Stack || c.CPUOnly != cs[0].CPUOnly {
			return fmt.Errorf("sample %d: %w", i+1, ErrMixedContainers)
		}
	}
	return nil
}

func chunks(n, size int) [][2]int {
	out := make([][2]int, 0, (n+size-1)/size)
	for lo := 0; lo < n; lo += size {
		out = append(out, [2]int{lo, min(lo+size, n)})
	}
	return out
}

func collateTensors(cs []pipeline.DataContainer[*tensor.Tensor], samplesPerGPU int) (Collated[*tensor.Tensor], error) {
	if err := sameKind(cs); err != nil {
		return Collated[*tensor.Tensor]{}, err
	}
	out := Collated[*tensor.Tensor]{Stack: cs[0].Stack, CPUOnly: cs[0].CPUOnly}
	ts := make([]*tensor.Tensor, len(cs))
	for i, c := range cs {
		ts[i] = c.Data
	}

	switch {
	case out.Stack:
		for _, r := range chunks(len(ts), samplesPerGPU) {
			st, err := tensor.Stack(ts[r[0]:r[1]], cs[0].PadDims, cs[0].PadValue)
			if err != nil {
				return out, err
			}
			out.Chunks = append(out.Chunks, st)
		}
	case out.CPUOnly:
		return out, errors.New("cpu-only tensors are not supported")
	default:
		st, err := tensor.Stack(ts, 0, 0)
		if err != nil {
			return out, fmt.Errorf("plain tensors must share one shape: %w", err)
		}
		out.Chunks = []*tensor.Tensor{st}
	}
	return out, nil
}

func collateValues[T any](cs []pipeline.DataContainer[T], samplesPerGPU int) Collated[[]T] {
	out := Collated[[]T]{CPUOnly: true}
	for _, r := range chunks(len(cs), samplesPerGPU) {
		vals := make([]T, 0, r[1]-r[0])
		for _, c := range cs[r[0]:r[1]] {
			vals = append(vals, c.Data)
		}
		out.Chunks = append(out.Chunks, vals)
	}
	return out
}
