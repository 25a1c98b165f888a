package mempool

import (
	"sync"
)

// Size-classed pools for the float32 buffers behind stacked batch tensors.

var float32Pools sync.Map // key: size class (int), value: *sync.Pool

// sizeClass rounds n up to the next multiple of 1024.
func sizeClass(n int) int {
	const step = 1024
	if n <= step {
		return step
	}
	return (n + step - 1) / step * step
}

func poolFor(cls int) *sync.Pool {
	pAny, _ := float32Pools.LoadOrStore(cls, &sync.Pool{New: func() any { return make([]float32, cls) }})
	p, _ := pAny.(*sync.Pool)
	return p
}

// GetFloat32 returns a buffer of length n. Contents are not zeroed.
// Return it with PutFloat32 once no tensor references it.
func GetFloat32(n int) []float32 {
	cls := sizeClass(n)
	p := poolFor(cls)
	if p == nil {
		return make([]float32, n, cls)
	}
	buf, ok := p.Get().([]float32)
	if !ok || cap(buf) < cls {
		buf = make([]float32, cls)
	}
	return buf[:n]
}

// PutFloat32 hands a buffer back to its pool. Nil is ignored, as are buffers
// whose capacity is not a size class (they were not pool-allocated).
func PutFloat32(buf []float32) {
	if buf == nil || cap(buf) != sizeClass(cap(buf)) {
		return
	}
	if p := poolFor(cap(buf)); p != nil {
		p.Put(buf[:cap(buf)]) //nolint:staticcheck
	}
}

// GetFloat32Multiple retrieves one buffer per requested size.
func GetFloat32Multiple(sizes []int) [][]float32 {
	if len(sizes) == 0 {
		return nil
	}
	buffers := make([][]float32, len(sizes))
	for i, size := range sizes {
		buffers[i] = GetFloat32(size)
	}
	return buffers
}

// PutFloat32Multiple returns several buffers to the pool.
func PutFloat32Multiple(bufs [][]float32) {
	for _, buf := range bufs {
		PutFloat32(buf)
	}
}
