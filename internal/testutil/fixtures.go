package testutil

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"
)

// WordFixture is one labelled word image of a recognition fixture.
type WordFixture struct {
	File string
	Text string
	Size ImageSize
}

// SaveImageFile renders cfg into path, creating parent directories. The
// format follows the file extension.
func SaveImageFile(cfg TestImageConfig, path string) error {
	if err := EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}
	return imaging.Save(GenerateTextImage(cfg), path)
}

func writeText(path, content string) error {
	if err := EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o600)
}

// CreateRecogFixture renders words below dir/prefix and writes dir/label.txt
// with one "<file> <text>" line per word and dir/label.jsonl with the same
// entries as JSON lines. It returns the label.txt path and the image prefix.
func CreateRecogFixture(dir, prefix string, words []WordFixture) (string, string, error) {
	imgDir := filepath.Join(dir, prefix)
	lines := make([]string, 0, len(words))
	jsonLines := make([]string, 0, len(words))
	for _, w := range words {
		cfg := DefaultTestImageConfig()
		cfg.Text = w.Text
		if w.Size != (ImageSize{}) {
			cfg.Size = w.Size
		}
		if err := SaveImageFile(cfg, filepath.Join(imgDir, w.File)); err != nil {
			return "", "", fmt.Errorf("word %q: %w", w.Text, err)
		}
		lines = append(lines, fmt.Sprintf("%s %s", w.File, w.Text))
		data, err := json.Marshal(map[string]string{"filename": w.File, "text": w.Text})
		if err != nil {
			return "", "", err
		}
		jsonLines = append(jsonLines, string(data))
	}
	ann := filepath.Join(dir, "label.txt")
	if err := writeText(ann, strings.Join(lines, "\n")+"\n"); err != nil {
		return "", "", err
	}
	if err := writeText(filepath.Join(dir, "label.jsonl"), strings.Join(jsonLines, "\n")+"\n"); err != nil {
		return "", "", err
	}
	return ann, imgDir, nil
}

// WriteRecogFixture is CreateRecogFixture with the "imgs" prefix for tests.
func WriteRecogFixture(t *testing.T, dir string, words []WordFixture) (string, string) {
	t.Helper()
	ann, prefix, err := CreateRecogFixture(dir, "imgs", words)
	require.NoError(t, err)
	return ann, prefix
}

type cocoImage struct {
	ID       int    `json:"id"`
	FileName string `json:"file_name"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

type cocoAnnotation struct {
	ID           int         `json:"id"`
	ImageID      int         `json:"image_id"`
	CategoryID   int         `json:"category_id"`
	BBox         []float64   `json:"bbox"`
	Segmentation [][]float64 `json:"segmentation"`
	Iscrowd      int         `json:"iscrowd"`
}

// CreateDetFixture renders page images below dir/imgs and writes a
// COCO-style dir/instances_test.json listing them with one text box each.
// It returns the annotation path and the image prefix.
func CreateDetFixture(dir string, files []string, size ImageSize) (string, string, error) {
	prefix := filepath.Join(dir, "imgs")
	doc := struct {
		Images      []cocoImage      `json:"images"`
		Annotations []cocoAnnotation `json:"annotations"`
		Categories  []map[string]any `json:"categories"`
	}{Categories: []map[string]any{{"id": 1, "name": "text"}}}
	for i, f := range files {
		cfg := DefaultTestImageConfig()
		cfg.Size = size
		cfg.Text = fmt.Sprintf("page %d", i+1)
		if err := SaveImageFile(cfg, filepath.Join(prefix, f)); err != nil {
			return "", "", err
		}
		doc.Images = append(doc.Images, cocoImage{ID: i + 1, FileName: f, Width: size.Width, Height: size.Height})
		doc.Annotations = append(doc.Annotations, cocoAnnotation{
			ID: i + 1, ImageID: i + 1, CategoryID: 1,
			BBox:         []float64{10, 10, 50, 20},
			Segmentation: [][]float64{{10, 10, 60, 10, 60, 30, 10, 30}},
		})
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return "", "", err
	}
	ann := filepath.Join(dir, "instances_test.json")
	if err := writeText(ann, string(data)); err != nil {
		return "", "", err
	}
	return ann, prefix, nil
}

// WriteDetFixture is CreateDetFixture for tests.
func WriteDetFixture(t *testing.T, dir string, files []string, size ImageSize) (string, string) {
	t.Helper()
	ann, prefix, err := CreateDetFixture(dir, files, size)
	require.NoError(t, err)
	return ann, prefix
}
