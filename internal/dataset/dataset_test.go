package dataset

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/ocrprep/internal/modelcfg"
	"github.com/MeKo-Tech/ocrprep/internal/pipeline"
	"github.com/MeKo-Tech/ocrprep/internal/testutil"
)

var recogStages = []modelcfg.Stage{
	{Type: modelcfg.LoadImageFromFile, ColorType: "grayscale"},
	{Type: modelcfg.ResizeOCR, Height: 32, MinWidth: modelcfg.Int(32), MaxWidth: modelcfg.Int(100)},
	{Type: modelcfg.ToTensorOCR},
	{Type: modelcfg.Collect, Keys: []string{"img"}, MetaKeys: []string{"filename", "valid_ratio"}},
}

var detStages = []modelcfg.Stage{
	{Type: modelcfg.LoadImageFromFile},
	{
		Type:     modelcfg.MultiScaleFlipAug,
		ImgScale: modelcfg.ScaleList{{W: 128, H: 64}},
		Transforms: []modelcfg.Stage{
			{Type: modelcfg.Resize, KeepRatio: modelcfg.Bool(true)},
			{Type: modelcfg.Normalize, Mean: []float64{127.5}, Std: []float64{127.5}},
			{Type: modelcfg.Pad, SizeDivisor: 32},
			{Type: modelcfg.DefaultFormatBundle},
			{Type: modelcfg.Collect, Keys: []string{"img"}},
		},
	},
}

func recogFixture(t *testing.T, dir string) {
	t.Helper()
	testutil.WriteRecogFixture(t, dir, []testutil.WordFixture{
		{File: "w1.png", Text: "hello"},
		{File: "w2.png", Text: "world", Size: testutil.ImageSize{Width: 60, Height: 30}},
	})
}

func ocrConfig(loader *modelcfg.LoaderConfig) *modelcfg.DatasetConfig {
	return &modelcfg.DatasetConfig{
		Type:      modelcfg.TypeOCRDataset,
		AnnFile:   "label.txt",
		ImgPrefix: "imgs",
		Loader:    loader,
		Pipeline:  recogStages,
		TestMode:  true,
	}
}

func TestBuildOCRDataset(t *testing.T) {
	dir := t.TempDir()
	recogFixture(t, dir)
	cfg := &modelcfg.Config{Data: modelcfg.DataConfig{Val: ocrConfig(&modelcfg.LoaderConfig{
		Type:   AnnFileLoader,
		Repeat: 2,
		Parser: modelcfg.ParserConfig{Type: LineStrParser, Keys: []string{"filename", "text"}, KeysIdx: []int{0, 1}, Separator: " "},
	})}}

	ds, err := BuildDataset(cfg, "", WithRoot(dir))
	require.NoError(t, err)
	assert.Equal(t, modelcfg.TypeOCRDataset, ds.Type())
	assert.Equal(t, 4, ds.Len())

	info, err := ds.Info(3)
	require.NoError(t, err)
	assert.Equal(t, "w2.png", info.Filename)
	assert.Equal(t, "world", info.Text)

	s, err := ds.Get(1)
	require.NoError(t, err)
	require.Len(t, s.Img.Variants, 1)
	// 60x30 at height 32 is 64 wide, padded to 100.
	assert.Equal(t, []int64{1, 32, 100}, s.Img.Variants[0].Data.Shape)
	assert.InDelta(t, 0.64, s.ImgMetas.Variants[0].Data.ValidRatio, 1e-9)
	assert.Equal(t, filepath.Join(dir, "imgs", "w2.png"), s.ImgMetas.Variants[0].Data.Filename)

	_, err = ds.Get(4)
	require.ErrorIs(t, err, ErrIndexOutOfRange)
	_, err = ds.Info(-1)
	require.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestOCRDatasetJSONLinesAndNormalization(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteFile(t, dir, "label.jsonl",
		`{"filename": "a.png", "text": "cafe\u0301"}`+"\n\n"+`{"filename": "b.png", "text": 42}`+"\n")
	dc := ocrConfig(&modelcfg.LoaderConfig{
		Type:   HardDiskLoader,
		Parser: modelcfg.ParserConfig{Type: LineJsonParser, Keys: []string{"filename", "text"}},
	})
	dc.AnnFile = "label.jsonl"
	cfg := &modelcfg.Config{Data: modelcfg.DataConfig{Test: dc}}

	ds, err := BuildDataset(cfg, modelcfg.SplitTest, WithRoot(dir))
	require.NoError(t, err)
	require.Equal(t, 2, ds.Len())

	info, err := ds.Info(0)
	require.NoError(t, err)
	assert.Equal(t, "caf\u00e9", info.Text)
	info, err = ds.Info(1)
	require.NoError(t, err)
	assert.Equal(t, "42", info.Text)
}

func TestOCRDatasetParseErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		parser  modelcfg.ParserConfig
	}{
		{"index out of range", "onlyfilename\n", modelcfg.ParserConfig{Type: LineStrParser, KeysIdx: []int{0, 1}}},
		{"missing json key", `{"filename": "a.png"}` + "\n", modelcfg.ParserConfig{Type: LineJsonParser}},
		{"bad json", "{not json}\n", modelcfg.ParserConfig{Type: LineJsonParser}},
		{"unknown parser", "a.png x\n", modelcfg.ParserConfig{Type: "LineXMLParser"}},
		{"keys without filename", "a.png x\n", modelcfg.ParserConfig{Keys: []string{"path", "text"}}},
		{"keys_idx length", "a.png x\n", modelcfg.ParserConfig{KeysIdx: []int{0}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			testutil.WriteFile(t, dir, "label.txt", tt.content)
			cfg := &modelcfg.Config{Data: modelcfg.DataConfig{Val: ocrConfig(&modelcfg.LoaderConfig{Parser: tt.parser})}}
			_, err := BuildDataset(cfg, "val", WithRoot(dir))
			require.Error(t, err)
		})
	}
}

func TestBuildIcdarDataset(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteDetFixture(t, dir, []string{"p1.png", "p2.png"}, testutil.PageSize)
	cfg := &modelcfg.Config{Data: modelcfg.DataConfig{Test: &modelcfg.DatasetConfig{
		Type:      modelcfg.TypeIcdarDataset,
		AnnFile:   "instances_test.json",
		ImgPrefix: "imgs",
		Pipeline:  detStages,
		TestMode:  true,
	}}}

	ds, err := BuildDataset(cfg, "test", WithRoot(dir))
	require.NoError(t, err)
	assert.Equal(t, 2, ds.Len())

	info, err := ds.Info(1)
	require.NoError(t, err)
	assert.Equal(t, "p2.png", info.Filename)
	assert.Equal(t, 320, info.Width)

	insts, err := ds.(*icdar).Instances(0)
	require.NoError(t, err)
	require.Len(t, insts, 1)
	assert.InDelta(t, 60, insts[0].BBox.MaxX, 1e-9)
	assert.Len(t, insts[0].Polygon, 4)

	s, err := ds.Get(0)
	require.NoError(t, err)
	assert.True(t, s.Img.Multi)
	// 320x240 into (128, 64) keeps ratio: 85x64, padded to 96x64.
	assert.Equal(t, []int64{3, 64, 96}, s.Img.Variants[0].Data.Shape)
}

func TestIcdarTrainFiltering(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteFile(t, dir, "ann.json", `{
  "images": [
    {"id": 1, "file_name": "big.png", "width": 100, "height": 100},
    {"id": 2, "file_name": "tiny.png", "width": 100, "height": 16},
    {"id": 3, "file_name": "empty.png", "width": 100, "height": 100}
  ],
  "annotations": [
    {"id": 1, "image_id": 1, "bbox": [0, 0, 10, 10], "segmentation": [[0, 0, 10, 0, 10, 10, 0, 10]]},
    {"id": 2, "image_id": 2, "bbox": [0, 0, 10, 10], "segmentation": [], "iscrowd": 1}
  ]
}`)
	dc := &modelcfg.DatasetConfig{Type: modelcfg.TypeIcdarDataset, AnnFile: "ann.json", Pipeline: detStages}
	cfg := &modelcfg.Config{Data: modelcfg.DataConfig{Train: dc}}

	ds, err := BuildDataset(cfg, "train", WithRoot(dir))
	require.NoError(t, err)
	require.Equal(t, 1, ds.Len())
	info, err := ds.Info(0)
	require.NoError(t, err)
	assert.Equal(t, "big.png", info.Filename)

	dc.TestMode = true
	ds, err = BuildDataset(cfg, "train", WithRoot(dir))
	require.NoError(t, err)
	assert.Equal(t, 3, ds.Len())

	testutil.WriteFile(t, dir, "bad.json", `{"images": [], "annotations": [{"id": 9, "image_id": 1, "bbox": [1, 2]}]}`)
	dc.AnnFile = "bad.json"
	_, err = BuildDataset(cfg, "train", WithRoot(dir))
	require.Error(t, err)
}

func TestConcatDatasets(t *testing.T) {
	dir := t.TempDir()
	recogFixture(t, dir)
	testutil.WriteFile(t, dir, "more.txt", "w1.png again\n")

	second := ocrConfig(nil)
	second.AnnFile = "more.txt"
	cfg := &modelcfg.Config{Data: modelcfg.DataConfig{Test: &modelcfg.DatasetConfig{
		Type:     modelcfg.TypeConcatDataset,
		Datasets: []modelcfg.DatasetConfig{*ocrConfig(nil), *second},
	}}}

	ds, err := BuildDataset(cfg, "test", WithRoot(dir))
	require.NoError(t, err)
	assert.Equal(t, modelcfg.TypeConcatDataset, ds.Type())
	assert.Equal(t, 3, ds.Len())

	tests := []struct {
		idx  int
		text string
	}{{0, "hello"}, {1, "world"}, {2, "again"}}
	for _, tt := range tests {
		info, err := ds.Info(tt.idx)
		require.NoError(t, err)
		assert.Equal(t, tt.text, info.Text)
	}
	s, err := ds.Get(2)
	require.NoError(t, err)
	assert.True(t, s.Collected())

	_, err = ds.Get(3)
	require.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestUniformConcatAppliesParentPipeline(t *testing.T) {
	dir := t.TempDir()
	recogFixture(t, dir)

	child := ocrConfig(nil)
	child.Pipeline = nil
	fixed := []modelcfg.Stage{
		{Type: modelcfg.LoadImageFromFile},
		{Type: modelcfg.ResizeOCR, Height: 16, MaxWidth: modelcfg.Int(48), KeepAspectRatio: modelcfg.Bool(false)},
		{Type: modelcfg.ToTensorOCR},
		{Type: modelcfg.Collect, Keys: []string{"img"}},
	}
	cfg := &modelcfg.Config{Data: modelcfg.DataConfig{Val: &modelcfg.DatasetConfig{
		Type:     modelcfg.TypeUniformConcatDataset,
		Pipeline: fixed,
		Datasets: []modelcfg.DatasetConfig{*child, *child},
	}}}

	ds, err := BuildDataset(cfg, "val", WithRoot(dir))
	require.NoError(t, err)
	assert.Equal(t, 4, ds.Len())
	s, err := ds.Get(3)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 16, 48}, s.Img.Variants[0].Data.Shape)

	cfg.Data.Val.Type = modelcfg.TypeConcatDataset
	_, err = BuildDataset(cfg, "val", WithRoot(dir))
	require.Error(t, err, "children without a pipeline cannot be built")
}

func TestBuildDatasetErrors(t *testing.T) {
	dir := t.TempDir()
	recogFixture(t, dir)

	cfg := &modelcfg.Config{Data: modelcfg.DataConfig{Val: ocrConfig(nil)}}
	_, err := BuildDataset(cfg, "test", WithRoot(dir))
	require.ErrorIs(t, err, modelcfg.ErrSplitNotFound)
	_, err = BuildDataset(cfg, "holdout", WithRoot(dir))
	require.ErrorIs(t, err, modelcfg.ErrSplitNotFound)

	cfg.Data.Val.Type = "LmdbDataset"
	_, err = BuildDataset(cfg, "val", WithRoot(dir))
	require.ErrorIs(t, err, ErrUnknownType)

	cfg.Data.Val = ocrConfig(nil)
	cfg.Data.Val.AnnFile = "missing.txt"
	_, err = BuildDataset(cfg, "val", WithRoot(dir))
	require.Error(t, err)

	cfg.Data.Val = ocrConfig(&modelcfg.LoaderConfig{Type: "LmdbLoader"})
	_, err = BuildDataset(cfg, "val", WithRoot(dir))
	require.Error(t, err)

	cfg.Data.Val = ocrConfig(nil)
	cfg.Data.Val.Pipeline = []modelcfg.Stage{{Type: "Mosaic"}}
	_, err = BuildDataset(cfg, "val", WithRoot(dir))
	require.ErrorIs(t, err, pipeline.ErrUnknownStage)

	_, err = BuildDataset(filepath.Join(dir, "nope.yaml"), "val")
	require.Error(t, err)
}

func TestBuildDatasetFromConfigFile(t *testing.T) {
	dir := t.TempDir()
	recogFixture(t, dir)
	path := testutil.WriteFile(t, dir, "model.yaml", `
data:
  val:
    type: OCRDataset
    ann_file: label.txt
    img_prefix: imgs
    test_mode: true
    pipeline:
      - type: LoadImageFromFile
      - type: ResizeOCR
        height: 32
        max_width: 64
        keep_aspect_ratio: false
      - type: ToTensorOCR
      - type: Collect
        keys: [img]
`)
	ds, err := BuildDataset(path, "", WithRoot(dir))
	require.NoError(t, err)
	assert.Equal(t, 2, ds.Len())
}
