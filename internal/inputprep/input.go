// Package inputprep turns images and a model configuration into a batch
// ready for model inference.
package inputprep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/MeKo-Tech/ocrprep/internal/collate"
	"github.com/MeKo-Tech/ocrprep/internal/metrics"
	"github.com/MeKo-Tech/ocrprep/internal/modelcfg"
	"github.com/MeKo-Tech/ocrprep/internal/onnx"
	"github.com/MeKo-Tech/ocrprep/internal/pipeline"
	"github.com/MeKo-Tech/ocrprep/internal/tensor"
)

// ErrAugBatch is returned when a test-time augmentation pipeline is asked to
// prepare more than one image.
var ErrAugBatch = errors.New("aug test does not support inference with batch size")

// AugBatchError carries the rejected batch size.
type AugBatchError struct {
	BatchSize int
}

func (e *AugBatchError) Error() string {
	return fmt.Sprintf("aug test does not support inference with batch size %d", e.BatchSize)
}

func (e *AugBatchError) Is(target error) bool { return target == ErrAugBatch }

// Placer moves prepared tensors to an execution device.
type Placer interface {
	Place(ctx context.Context, ts []*tensor.Tensor, dev tensor.Device) error
}

// Options tune CreateInput.
type Options struct {
	// InputShape is an optional fixed (height, width).
	InputShape []int
	// Device is "cpu", "cuda" or "cuda:N". Empty means cpu.
	Device string
	// Placer handles non-CPU devices. Defaults to the ONNX Runtime placer.
	Placer Placer
	Logger *slog.Logger
}

// Batch is a prepared model input.
type Batch struct {
	// Img holds one tensor per augmentation variant for multi-variant
	// pipelines, otherwise the batch tensor(s).
	Img []*tensor.Tensor
	// ImgMetas holds one list of per-image metadata per variant, or per chunk.
	ImgMetas [][]pipeline.ImageMeta
	Multi    bool
	Device   tensor.Device
	// Pipeline is the effective stage list the images went through.
	Pipeline []modelcfg.Stage
}

// Release frees runtime values bound to the tensors and returns their
// buffers to the pool.
func (b *Batch) Release() error {
	if b == nil {
		return nil
	}
	var errs []error
	for _, t := range b.Img {
		if err := t.Release(); err != nil {
			errs = append(errs, err)
		}
		tensor.Recycle(t)
	}
	b.Img = nil
	return errors.Join(errs...)
}

// GetTensorFromInput returns the image tensors of a prepared batch.
func GetTensorFromInput(b *Batch) []*tensor.Tensor {
	if b == nil {
		return nil
	}
	return b.Img
}

// PreparePipeline derives the stage list used for inference from the test
// split of cfg. The config is not modified.
func PreparePipeline(task Task, cfg *modelcfg.Config, arrays bool, inputShape []int, logger *slog.Logger) ([]modelcfg.Stage, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ds, err := cfg.Data.Split(modelcfg.SplitTest)
	if err != nil {
		return nil, err
	}

	src := ds.Pipeline
	if ds.IsConcat() {
		if len(ds.Datasets) == 0 {
			return nil, errors.New("concatenated test dataset has no sub-datasets")
		}
		src = ds.Datasets[0].Pipeline
		for i := 1; i < len(ds.Datasets); i++ {
			if !reflect.DeepEqual(src, ds.Datasets[i].Pipeline) {
				logger.Warn("test dataset is concatenated; only the first sub-dataset's pipeline is used",
					"datasets", len(ds.Datasets), "differs_at", i)
				break
			}
		}
	}
	if len(src) == 0 {
		return nil, errors.New("test pipeline is empty")
	}
	stages := modelcfg.CloneStages(src)

	if arrays {
		stages[0].Type = modelcfg.LoadImageFromNdarray
	}
	stages = pipeline.ReplaceImageToTensor(stages, logger)

	if inputShape != nil {
		if err := applyInputShape(task, stages, inputShape); err != nil {
			return nil, err
		}
	}
	return stages, nil
}

func applyInputShape(task Task, stages []modelcfg.Stage, shape []int) error {
	if len(shape) != 2 || shape[0] <= 0 || shape[1] <= 0 {
		return fmt.Errorf("input shape must be a positive (height, width) pair, got %v", shape)
	}
	if len(stages) < 2 {
		return errors.New("input shape override needs a resize stage at pipeline index 1")
	}
	h, w := shape[0], shape[1]
	st := &stages[1]

	switch task {
	case TextDetection:
		if len(st.Transforms) == 0 {
			return fmt.Errorf("stage 1 (%s) has no nested transforms to resize", st.Type)
		}
		scale := modelcfg.ScaleList{{W: w, H: h}}
		st.ImgScale = scale
		st.Transforms[0].KeepRatio = modelcfg.Bool(false)
		st.Transforms[0].ImgScale = modelcfg.ScaleList{{W: w, H: h}}
	case TextRecognition:
		if st.Type != modelcfg.ResizeOCR {
			return fmt.Errorf("stage 1 is %s, want %s", st.Type, modelcfg.ResizeOCR)
		}
		st.Height = h
		st.MinWidth = modelcfg.Int(w)
		st.MaxWidth = modelcfg.Int(w)
		st.KeepAspectRatio = modelcfg.Bool(false)
	default:
		return fmt.Errorf("unsupported task %q", task)
	}
	return nil
}

// CreateInput runs images through the model's test pipeline and collates
// them into one batch. modelCfg is a config path, *modelcfg.Config or
// modelcfg.Config; images is a path, an image, or a slice of either kind.
// The returned tensors are the batch's Img field.
func CreateInput(ctx context.Context, task Task, modelCfg any, images any, opts Options) (*Batch, []*tensor.Tensor, error) {
	start := time.Now()
	b, err := createInput(ctx, task, modelCfg, images, opts)
	n, variants := 0, 0
	if b != nil {
		n = len(b.ImgMetas[0])
		variants = 1
		if b.Multi {
			variants = len(b.Img)
		}
	}
	metrics.ObserveInput(task.String(), n, variants, time.Since(start), err)
	if err != nil {
		return nil, nil, err
	}
	return b, b.Img, nil
}

func createInput(ctx context.Context, task Task, modelCfg any, images any, opts Options) (*Batch, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	srcs, arrays, err := normalizeImages(images)
	if err != nil {
		return nil, err
	}
	dev, err := tensor.ParseDevice(opts.Device)
	if err != nil {
		return nil, err
	}
	cfg, err := modelcfg.Resolve(modelCfg)
	if err != nil {
		return nil, err
	}

	stages, err := PreparePipeline(task, cfg, arrays, opts.InputShape, logger)
	if err != nil {
		return nil, err
	}
	compiled, err := pipeline.Build(stages)
	if err != nil {
		return nil, err
	}

	samples := make([]*pipeline.Sample, 0, len(srcs))
	for i, src := range srcs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var s *pipeline.Sample
		if arrays {
			s = pipeline.NewArraySample(src.img)
		} else {
			s = pipeline.NewFileSample(src.path, "")
		}
		out, err := compiled.Run(s)
		if err != nil {
			return nil, fmt.Errorf("image %d: %w", i, err)
		}
		samples = append(samples, out)
	}

	if samples[0].MultiVariant() && len(samples) > 1 {
		return nil, &AugBatchError{BatchSize: len(samples)}
	}

	collated, err := collate.Collate(samples, len(samples))
	if err != nil {
		return nil, err
	}
	b := unwrap(collated)
	b.Pipeline = stages

	if !dev.IsCPU() {
		placer := opts.Placer
		if placer == nil {
			placer = &onnx.Placer{GPU: onnx.DefaultGPUConfig(), Logger: logger}
		}
		if err := placer.Place(ctx, b.Img, dev); err != nil {
			_ = b.Release()
			return nil, fmt.Errorf("place batch on %s: %w", dev, err)
		}
	}
	b.Device = dev

	logger.Debug("prepared input",
		"task", task.String(),
		"images", len(samples),
		"variants", len(b.Img),
		"device", dev.String(),
		"shape", b.Img[0].Shape)
	return b, nil
}

// unwrap flattens collated fields: multi-variant fields keep the first chunk
// of every variant, single-variant fields keep their chunk list.
func unwrap(c *collate.Batch) *Batch {
	b := &Batch{Multi: c.Multi}
	if c.Multi {
		for v := range c.Img {
			b.Img = append(b.Img, c.Img[v].Chunks[0])
			b.ImgMetas = append(b.ImgMetas, c.ImgMetas[v].Chunks[0])
		}
		return b
	}
	b.Img = c.Img[0].Chunks
	b.ImgMetas = c.ImgMetas[0].Chunks
	return b
}
