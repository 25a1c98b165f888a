package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/ocrprep/internal/testutil"
	"github.com/MeKo-Tech/ocrprep/internal/version"
)

// execute runs a fresh command tree and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Chdir(t.TempDir())
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	assert.Equal(t, "ocrprep", cmd.Use)
	assert.NotEmpty(t, cmd.Short)
	assert.NotEmpty(t, cmd.Long)

	var names []string
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	for _, want := range []string{"input", "pipeline", "dataset", "config"} {
		assert.Contains(t, names, want)
	}
}

func TestRootCommandHelpAndVersion(t *testing.T) {
	out, err := execute(t, "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "Available Commands:")
	assert.Contains(t, out, "tensors")

	old := version.Version
	version.Version, version.GitCommit = "1.2.3", "abc"
	t.Cleanup(func() { version.Version, version.GitCommit = old, "unknown" })
	out, err = execute(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, "ocrprep version 1.2.3")
	assert.Contains(t, out, "Commit: abc")
}

func TestRootCommandInvalidFlag(t *testing.T) {
	_, err := execute(t, "--invalid-flag")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown flag")
}

func TestInvalidConfigIsReported(t *testing.T) {
	_, err := execute(t, "config", "show", "--log-level", "loud")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}

func TestModelConfigRequired(t *testing.T) {
	for _, args := range [][]string{
		{"pipeline"},
		{"dataset"},
		{"input", "a.png"},
	} {
		_, err := execute(t, args...)
		assert.ErrorIs(t, err, errNoModelConfig, args[0])
	}
}

func TestPipelineCommand(t *testing.T) {
	cfg := testutil.GetConfigPath(t, "crnn_mini_vgg.yaml")

	out, err := execute(t, "pipeline", "-m", cfg, "--task", "rec", "--input-shape", "32,128")
	require.NoError(t, err)
	assert.Contains(t, out, "type: LoadImageFromFile")
	assert.Contains(t, out, "min_width: 128")
	assert.Contains(t, out, "max_width: 128")
	assert.Contains(t, out, "keep_aspect_ratio: false")

	out, err = execute(t, "pipeline", "-m", cfg, "--task", "rec", "--arrays")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "- type: LoadImageFromNdarray"), out)
}

func TestPipelineCommandReplacesImageToTensor(t *testing.T) {
	out, err := execute(t, "pipeline", "-m", testutil.GetConfigPath(t, "dbnet_r18_fpnc.yaml"), "--task", "det")
	require.NoError(t, err)
	assert.NotContains(t, out, "ImageToTensor")
	assert.Contains(t, out, "type: DefaultFormatBundle")
}

func TestInputCommand(t *testing.T) {
	dir := t.TempDir()
	a := testutil.WriteTextImage(t, dir, "a.png", testutil.ImageSize{Width: 50, Height: 20}, "ab")
	b := testutil.WriteTextImage(t, dir, "b.png", testutil.WordSize, "abcd")

	out, err := execute(t, "input", "-m", testutil.GetConfigPath(t, "crnn_mini_vgg.yaml"),
		"--task", "recognition", "--format", "json", a, b)
	require.NoError(t, err)

	var sum struct {
		Task     string `json:"task"`
		Multi    bool   `json:"multi"`
		Device   string `json:"device"`
		Img      []tensorSummary
		ImgMetas [][]map[string]any `json:"img_metas"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &sum))
	assert.Equal(t, "TextRecognition", sum.Task)
	assert.False(t, sum.Multi)
	assert.Equal(t, "cpu", sum.Device)
	require.Len(t, sum.Img, 1)
	assert.Equal(t, []int64{2, 1, 32, 100}, sum.Img[0].Shape)
	assert.GreaterOrEqual(t, sum.Img[0].Min, float32(-1))
	assert.LessOrEqual(t, sum.Img[0].Max, float32(1))
	require.Len(t, sum.ImgMetas, 1)
	require.Len(t, sum.ImgMetas[0], 2)
	assert.Equal(t, a, sum.ImgMetas[0][0]["filename"])
	assert.InDelta(t, 0.8, sum.ImgMetas[0][0]["valid_ratio"], 1e-9)
}

func TestInputCommandTextOutput(t *testing.T) {
	dir := t.TempDir()
	a := testutil.WriteTextImage(t, dir, "a.png", testutil.WordSize, "ab")

	out, err := execute(t, "input", "-m", testutil.GetConfigPath(t, "crnn_mini_vgg.yaml"), "-t", "rec", a)
	require.NoError(t, err)
	assert.Contains(t, out, "task: TextRecognition")
	assert.Contains(t, out, "img[0]: shape=[1 1 32 100]")
}

func TestInputCommandErrors(t *testing.T) {
	cfg := testutil.GetConfigPath(t, "crnn_mini_vgg.yaml")

	_, err := execute(t, "input", "-m", cfg)
	assert.Error(t, err, "no images")

	_, err = execute(t, "input", "-m", cfg, "-t", "rec", filepath.Join(t.TempDir(), "missing.png"))
	assert.Error(t, err)

	_, err = execute(t, "input", "-m", cfg, "-t", "rec", "--device", "tpu", "a.png")
	assert.ErrorContains(t, err, "invalid device")
}

func writeDatasetConfig(t *testing.T, dir string) string {
	t.Helper()
	testutil.WriteRecogFixture(t, dir, []testutil.WordFixture{
		{File: "w1.png", Text: "hello"},
		{File: "w2.png", Text: "world"},
		{File: "w3.png", Text: "again"},
	})
	return testutil.WriteFile(t, dir, "model.yaml", `
data:
  samples_per_gpu: 2
  workers_per_gpu: 1
  val:
    type: OCRDataset
    ann_file: label.txt
    img_prefix: imgs
    test_mode: true
    pipeline:
      - type: LoadImageFromFile
        color_type: grayscale
      - type: ResizeOCR
        height: 32
        min_width: 32
        max_width: 100
      - type: ToTensorOCR
      - type: Collect
        keys: [img]
        meta_keys: [filename, valid_ratio]
`)
}

func TestDatasetCommand(t *testing.T) {
	dir := t.TempDir()
	cfg := writeDatasetConfig(t, dir)

	out, err := execute(t, "dataset", "-m", cfg, "--root", dir)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "dataset: OCRDataset samples=3 batches=2 batch_size=2 workers=1", lines[0])
	assert.Contains(t, lines[1], "batch 0: size=2")
	assert.Contains(t, lines[1], "files=w1.png,w2.png")
	assert.Contains(t, lines[2], "batch 1: size=1")
}

func TestDatasetCommandJSONWithLimit(t *testing.T) {
	dir := t.TempDir()
	cfg := writeDatasetConfig(t, dir)

	out, err := execute(t, "dataset", "-m", cfg, "--root", dir,
		"--samples-per-gpu", "1", "--shuffle", "--seed", "3", "--limit", "2", "--format", "json")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)

	for i, line := range lines[1:] {
		var b batchSummary
		require.NoError(t, json.Unmarshal([]byte(line), &b))
		assert.Equal(t, i, b.Index)
		assert.Equal(t, 1, b.Size)
		assert.Equal(t, [][][]int64{{{1, 1, 32, 100}}}, b.Img)
	}
}

func TestDatasetCommandDistributed(t *testing.T) {
	dir := t.TempDir()
	cfg := writeDatasetConfig(t, dir)

	out, err := execute(t, "dataset", "-m", cfg, "--root", dir,
		"--dist", "--world-size", "2", "--rank", "1", "--samples-per-gpu", "4")
	require.NoError(t, err)
	// 3 samples over 2 ranks pad to 2 each.
	assert.Contains(t, out, "samples=3 batches=1 batch_size=4")
	assert.Contains(t, out, "batch 0: size=2")

	_, err = execute(t, "dataset", "-m", cfg, "--root", dir, "--dist", "--world-size", "2", "--rank", "2")
	assert.ErrorContains(t, err, "invalid rank")
}

func TestMetricsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ocrprep.prom")
	_, err := execute(t, "pipeline", "-m", testutil.GetConfigPath(t, "crnn_mini_vgg.yaml"),
		"-t", "rec", "--metrics-file", path)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "ocrprep_")
}

func TestConfigCommands(t *testing.T) {
	out, err := execute(t, "config", "show", "--log-level", "debug")
	require.NoError(t, err)
	assert.Contains(t, out, "log_level: debug")
	assert.Contains(t, out, "task: TextDetection")

	out, err = execute(t, "config", "paths")
	require.NoError(t, err)
	assert.Contains(t, out, "/etc/ocrprep")
	assert.Contains(t, out, "environment prefix: OCRPREP_")

	path := filepath.Join(t.TempDir(), "ocrprep.yaml")
	out, err = execute(t, "config", "init", path)
	require.NoError(t, err)
	assert.Contains(t, out, "wrote "+path)
	assert.True(t, testutil.FileExists(path))

	_, err = execute(t, "config", "init", path)
	assert.ErrorContains(t, err, "already exists")
	_, err = execute(t, "config", "init", path, "--force")
	assert.NoError(t, err)

	out, err = execute(t, "--config", path, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "log_level: info")
}
