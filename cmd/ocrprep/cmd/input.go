package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/ocrprep/internal/inputprep"
	"github.com/MeKo-Tech/ocrprep/internal/pipeline"
	"github.com/MeKo-Tech/ocrprep/internal/tensor"
)

type tensorSummary struct {
	Shape  []int64 `json:"shape"`
	Device string  `json:"device"`
	Min    float32 `json:"min"`
	Max    float32 `json:"max"`
	Mean   float32 `json:"mean"`
}

type inputSummary struct {
	Task     string                 `json:"task"`
	Multi    bool                   `json:"multi"`
	Device   string                 `json:"device"`
	Img      []tensorSummary        `json:"img"`
	ImgMetas [][]pipeline.ImageMeta `json:"img_metas"`
}

func summarizeTensor(t *tensor.Tensor) tensorSummary {
	lo, hi, mean := tensor.Stats(t.Data)
	return tensorSummary{Shape: t.Shape, Device: t.Device.String(), Min: lo, Max: hi, Mean: mean}
}

func addInputFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringP("task", "t", "TextDetection", "model task (det, rec, TextDetection, TextRecognition)")
	f.IntSlice("input-shape", nil, "fixed input size as height,width")
	annotate(f, map[string]string{
		"task":        "input.task",
		"input-shape": "input.input_shape",
	})
}

func newInputCmd(a *app) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "input [images...]",
		Short: "Prepare model input tensors from image files",
		Long: `Run the test pipeline of a model config on one or more images and report the
resulting batch: tensor shapes, value ranges and per-image metadata.

Pipelines that expand each image into several augmented variants only accept a
single image.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			modelCfg, err := a.modelConfig()
			if err != nil {
				return err
			}
			task, err := a.cfg.Task()
			if err != nil {
				return err
			}

			var images any = args
			if len(args) == 1 {
				images = args[0]
			}
			batch, tensors, err := inputprep.CreateInput(cmd.Context(), task, modelCfg, images, a.cfg.ToInputOptions(a.logger))
			if err != nil {
				return err
			}
			defer func() { _ = batch.Release() }()

			sum := inputSummary{
				Task:     task.String(),
				Multi:    batch.Multi,
				Device:   batch.Device.String(),
				ImgMetas: batch.ImgMetas,
			}
			for _, t := range tensors {
				sum.Img = append(sum.Img, summarizeTensor(t))
			}
			return writeInputSummary(cmd.OutOrStdout(), format, sum)
		},
	}

	addInputFlags(cmd)
	cmd.Flags().StringP("device", "d", "cpu", "target device (cpu, cuda, cuda:N)")
	cmd.Flags().StringVarP(&format, "format", "f", "text", "output format (text, json)")
	annotate(cmd.Flags(), map[string]string{"device": "input.device"})
	return cmd
}

func writeInputSummary(w io.Writer, format string, sum inputSummary) error {
	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(sum)
	case "text":
		_, _ = fmt.Fprintf(w, "task: %s\nmulti: %t\ndevice: %s\n", sum.Task, sum.Multi, sum.Device)
		for i, t := range sum.Img {
			_, _ = fmt.Fprintf(w, "img[%d]: shape=%v min=%.4f max=%.4f mean=%.4f\n", i, t.Shape, t.Min, t.Max, t.Mean)
		}
		for i, metas := range sum.ImgMetas {
			for j, m := range metas {
				_, _ = fmt.Fprintf(w, "img_metas[%d][%d]: %s ori_shape=%v img_shape=%v\n",
					i, j, m.OriFilename, m.OriShape, m.ImgShape)
			}
		}
		return nil
	default:
		return fmt.Errorf("unsupported output format: %s (must be text or json)", format)
	}
}
