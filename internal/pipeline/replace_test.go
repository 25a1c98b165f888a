package pipeline

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/MeKo-Tech/ocrprep/internal/modelcfg"
)

func TestReplaceImageToTensor(t *testing.T) {
	stages := []modelcfg.Stage{
		{Type: modelcfg.LoadImageFromFile},
		{Type: modelcfg.ImageToTensor, Keys: []string{"img"}},
		{
			Type:     modelcfg.MultiScaleFlipAug,
			ImgScale: modelcfg.ScaleList{{W: 1333, H: 736}},
			Transforms: []modelcfg.Stage{
				{Type: modelcfg.Resize},
				{Type: modelcfg.ImageToTensor, Keys: []string{"img"}},
				{Type: modelcfg.Collect, Keys: []string{"img"}},
			},
		},
	}

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	out := ReplaceImageToTensor(stages, logger)

	assert.Equal(t, modelcfg.DefaultFormatBundle, out[1].Type)
	assert.Empty(t, out[1].Keys)
	assert.Equal(t, modelcfg.DefaultFormatBundle, out[2].Transforms[1].Type)
	assert.Equal(t, modelcfg.Collect, out[2].Transforms[2].Type)

	assert.Equal(t, modelcfg.ImageToTensor, stages[1].Type, "input must not change")
	assert.Equal(t, modelcfg.ImageToTensor, stages[2].Transforms[1].Type, "input must not change")

	assert.Equal(t, 2, bytes.Count(buf.Bytes(), []byte("level=WARN")))
}

func TestReplaceImageToTensorNoop(t *testing.T) {
	stages := []modelcfg.Stage{{Type: modelcfg.LoadImageFromFile}, {Type: modelcfg.Collect, Keys: []string{"img"}}}
	out := ReplaceImageToTensor(stages, nil)
	assert.Equal(t, stages, out)
}
