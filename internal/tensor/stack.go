package tensor

import (
	"errors"
	"fmt"
	"slices"

	"github.com/MeKo-Tech/ocrprep/internal/mempool"
)

// Stack joins same-rank tensors along a new leading dimension. When padDims
// is positive the trailing padDims dimensions are zero-padded (bottom/right)
// to the largest extent in the group; otherwise every shape must match.
// The result's data comes from the float32 pool and may be handed back with
// Recycle.
func Stack(ts []*Tensor, padDims int, padValue float32) (*Tensor, error) {
	if len(ts) == 0 {
		return nil, errors.New("empty batch")
	}
	if ts[0] == nil {
		return nil, errors.New("tensor 0 is nil")
	}
	rank := ts[0].Rank()
	if padDims > rank {
		return nil, fmt.Errorf("pad dims %d exceed tensor rank %d", padDims, rank)
	}
	maxShape := slices.Clone(ts[0].Shape)
	for i, t := range ts {
		if t == nil {
			return nil, fmt.Errorf("tensor %d is nil", i)
		}
		if t.Rank() != rank {
			return nil, fmt.Errorf("tensor %d has rank %d, want %d", i, t.Rank(), rank)
		}
		for d := range rank {
			if d < rank-padDims {
				if t.Shape[d] != maxShape[d] {
					return nil, fmt.Errorf("tensor %d has shape %v, want %v", i, t.Shape, maxShape)
				}
				continue
			}
			maxShape[d] = max(maxShape[d], t.Shape[d])
		}
	}

	per := numel(maxShape)
	out := &Tensor{
		Data:   mempool.GetFloat32(per * len(ts)),
		Shape:  append([]int64{int64(len(ts))}, maxShape...),
		Device: ts[0].Device,
	}
	for i, t := range ts {
		dst := out.Data[i*per : (i+1)*per]
		if slices.Equal(t.Shape, maxShape) {
			copy(dst, t.Data)
			continue
		}
		for j := range dst {
			dst[j] = padValue
		}
		copyPadded(dst, maxShape, t.Data, t.Shape)
	}
	return out, nil
}

// Recycle returns a stacked tensor's buffer to the pool. t must not be used
// afterwards.
func Recycle(t *Tensor) {
	if t == nil {
		return
	}
	mempool.PutFloat32(t.Data)
	t.Data = nil
}

// copyPadded copies src into the leading corner of dst.
func copyPadded(dst []float32, dstShape []int64, src []float32, srcShape []int64) {
	if len(srcShape) == 0 {
		if len(src) > 0 {
			dst[0] = src[0]
		}
		return
	}
	if len(srcShape) == 1 {
		copy(dst[:srcShape[0]], src)
		return
	}
	dstStride := numel(dstShape[1:])
	srcStride := numel(srcShape[1:])
	for i := range int(srcShape[0]) {
		copyPadded(dst[i*dstStride:(i+1)*dstStride], dstShape[1:], src[i*srcStride:(i+1)*srcStride], srcShape[1:])
	}
}
