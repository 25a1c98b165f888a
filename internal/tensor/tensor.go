package tensor

import (
	"errors"
	"fmt"
	"slices"
)

// Handle is a backend-owned value bound to a tensor after device placement.
type Handle interface {
	Destroy() error
}

// Tensor is a dense row-major float32 tensor. Images use CHW for a single
// sample and NCHW once batched.
type Tensor struct {
	Data   []float32
	Shape  []int64
	Device Device
	Handle Handle
}

// New returns a zero-filled tensor with the given shape on the CPU.
func New(shape ...int64) *Tensor {
	return &Tensor{Data: make([]float32, numel(shape)), Shape: slices.Clone(shape)}
}

// NewCHW wraps data as a [C, H, W] tensor.
func NewCHW(data []float32, c, h, w int) (*Tensor, error) {
	if data == nil {
		return nil, errors.New("nil data")
	}
	if want := c * h * w; len(data) != want {
		return nil, fmt.Errorf("unexpected data length: got %d, want %d", len(data), want)
	}
	return &Tensor{Data: data, Shape: []int64{int64(c), int64(h), int64(w)}}, nil
}

// NewImageTensor builds a single-image tensor with shape [1, C, H, W].
func NewImageTensor(data []float32, c, h, w int) (*Tensor, error) {
	t, err := NewCHW(data, c, h, w)
	if err != nil {
		return nil, err
	}
	t.Shape = append([]int64{1}, t.Shape...)
	return t, nil
}

// Rank returns the number of dimensions.
func (t *Tensor) Rank() int { return len(t.Shape) }

// Numel returns the number of elements described by the shape.
func (t *Tensor) Numel() int { return numel(t.Shape) }

// Dim returns dimension i, counting from the end when i is negative.
func (t *Tensor) Dim(i int) int64 {
	if i < 0 {
		i += len(t.Shape)
	}
	return t.Shape[i]
}

// Clone returns a deep copy without any backend handle.
func (t *Tensor) Clone() *Tensor {
	if t == nil {
		return nil
	}
	return &Tensor{Data: slices.Clone(t.Data), Shape: slices.Clone(t.Shape), Device: t.Device}
}

// Release destroys the backend handle, if any.
func (t *Tensor) Release() error {
	if t == nil || t.Handle == nil {
		return nil
	}
	err := t.Handle.Destroy()
	t.Handle = nil
	return err
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor%v@%s", t.Shape, t.Device)
}

// ValidateNCHW ensures a shape is [N, C, H, W] with positive dimensions.
func ValidateNCHW(shape []int64) error {
	if len(shape) != 4 {
		return fmt.Errorf("shape rank %d != 4", len(shape))
	}
	for i, v := range shape {
		if v <= 0 {
			return fmt.Errorf("dimension %d must be > 0, got %d", i, v)
		}
	}
	return nil
}

// VerifyImageTensor checks data length matches the NCHW shape.
func VerifyImageTensor(t *Tensor) error {
	if t == nil {
		return errors.New("nil tensor")
	}
	if err := ValidateNCHW(t.Shape); err != nil {
		return err
	}
	if want := t.Numel(); len(t.Data) != want {
		return fmt.Errorf("tensor data length %d != expected %d for shape %v", len(t.Data), want, t.Shape)
	}
	return nil
}

// Stats computes min, max and mean for debug output.
func Stats(data []float32) (float32, float32, float32) {
	if len(data) == 0 {
		return 0, 0, 0
	}
	minVal, maxVal := data[0], data[0]
	var sum float64
	for _, v := range data {
		minVal = min(minVal, v)
		maxVal = max(maxVal, v)
		sum += float64(v)
	}
	return minVal, maxVal, float32(sum / float64(len(data)))
}

func numel(shape []int64) int {
	n := 1
	for _, d := range shape {
		n *= int(d)
	}
	return n
}
