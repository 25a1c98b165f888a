package pipeline

import (
	"log/slog"

	"github.com/MeKo-Tech/ocrprep/internal/modelcfg"
)

// ReplaceImageToTensor returns a copy of stages where every ImageToTensor,
// at any nesting depth, becomes DefaultFormatBundle. ImageToTensor output
// cannot be padded and stacked into a batch. The input is not modified.
func ReplaceImageToTensor(stages []modelcfg.Stage, logger *slog.Logger) []modelcfg.Stage {
	if logger == nil {
		logger = slog.Default()
	}
	out := modelcfg.CloneStages(stages)
	replaceInPlace(out, logger)
	return out
}

func replaceInPlace(stages []modelcfg.Stage, logger *slog.Logger) {
	for i := range stages {
		if stages[i].Type == modelcfg.ImageToTensor {
			logger.Warn("ImageToTensor is replaced by DefaultFormatBundle for batch inference; "+
				"consider replacing it in the test pipeline of the model config",
				"stage_index", i)
			stages[i] = modelcfg.Stage{Type: modelcfg.DefaultFormatBundle}
			continue
		}
		if len(stages[i].Transforms) > 0 {
			replaceInPlace(stages[i].Transforms, logger)
		}
	}
}
