package support

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"slices"
	"strings"

	"github.com/cucumber/godog"
	"github.com/disintegration/imaging"

	"github.com/MeKo-Tech/ocrprep/internal/inputprep"
	"github.com/MeKo-Tech/ocrprep/internal/testutil"
)

// RegisterInputSteps registers input preparation steps.
func (testCtx *TestContext) RegisterInputSteps(sc *godog.ScenarioContext) {
	sc.Step(`^a word image "([^"]*)" of (\d+)x(\d+) pixels$`, testCtx.anImageOfPixels)
	sc.Step(`^a page image "([^"]*)" of (\d+)x(\d+) pixels$`, testCtx.anImageOfPixels)
	sc.Step(`^I prepare "([^"]*)" input with config "([^"]*)"$`, testCtx.iPrepareInput)
	sc.Step(`^I prepare "([^"]*)" input with config "([^"]*)" and input shape "([^"]*)"$`,
		testCtx.iPrepareInputWithShape)
	sc.Step(`^the preparation succeeds$`, testCtx.thePreparationSucceeds)
	sc.Step(`^the preparation fails with "([^"]*)"$`, testCtx.thePreparationFailsWith)
	sc.Step(`^the batch has (\d+) tensors? of shape "([^"]*)"$`, testCtx.theBatchHasTensorsOfShape)
	sc.Step(`^the batch is multi-variant$`, testCtx.theBatchIsMultiVariant)
	sc.Step(`^image (\d+) has valid ratio ([\d.]+)$`, testCtx.imageHasValidRatio)
}

func (testCtx *TestContext) anImageOfPixels(name string, w, h int) error {
	cfg := testutil.DefaultTestImageConfig()
	cfg.Size = testutil.ImageSize{Width: w, Height: h}
	cfg.Text = strings.TrimSuffix(name, filepath.Ext(name))
	path := filepath.Join(testCtx.TempDir, name)
	if err := imaging.Save(testutil.GenerateTextImage(cfg), path); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	testCtx.Images = append(testCtx.Images, path)
	return nil
}

func (testCtx *TestContext) prepare(taskName, cfgName string, shape []int) error {
	task, err := inputprep.ParseTask(taskName)
	if err != nil {
		testCtx.LastError = err
		return nil
	}
	var images any = testCtx.Images
	if len(testCtx.Images) == 1 {
		images = testCtx.Images[0]
	}
	testCtx.LastBatch, _, testCtx.LastError = inputprep.CreateInput(context.Background(), task,
		testCtx.configPath(cfgName), images, inputprep.Options{InputShape: shape})
	return nil
}

func (testCtx *TestContext) iPrepareInput(task, cfgName string) error {
	return testCtx.prepare(task, cfgName, nil)
}

func (testCtx *TestContext) iPrepareInputWithShape(task, cfgName, shape string) error {
	hw, err := parseInts(shape)
	if err != nil {
		return err
	}
	ints := make([]int, len(hw))
	for i, v := range hw {
		ints[i] = int(v)
	}
	return testCtx.prepare(task, cfgName, ints)
}

func (testCtx *TestContext) thePreparationSucceeds() error {
	if testCtx.LastError != nil {
		return fmt.Errorf("expected success, got: %w", testCtx.LastError)
	}
	return nil
}

func (testCtx *TestContext) thePreparationFailsWith(msg string) error {
	if testCtx.LastError == nil {
		return fmt.Errorf("expected an error containing %q", msg)
	}
	if !strings.Contains(testCtx.LastError.Error(), msg) {
		return fmt.Errorf("expected error containing %q, got %q", msg, testCtx.LastError)
	}
	return nil
}

func (testCtx *TestContext) theBatchHasTensorsOfShape(n int, shape string) error {
	want, err := parseInts(shape)
	if err != nil {
		return err
	}
	imgs := inputprep.GetTensorFromInput(testCtx.LastBatch)
	if len(imgs) != n {
		return fmt.Errorf("expected %d tensors, got %d", n, len(imgs))
	}
	for i, t := range imgs {
		if !slices.Equal(t.Shape, want) {
			return fmt.Errorf("tensor %d has shape %v, want %v", i, t.Shape, want)
		}
	}
	return nil
}

func (testCtx *TestContext) theBatchIsMultiVariant() error {
	if testCtx.LastBatch == nil || !testCtx.LastBatch.Multi {
		return fmt.Errorf("expected a multi-variant batch")
	}
	return nil
}

func (testCtx *TestContext) imageHasValidRatio(i int, ratio float64) error {
	metas := testCtx.LastBatch.ImgMetas[0]
	if i >= len(metas) {
		return fmt.Errorf("batch has %d images", len(metas))
	}
	if got := metas[i].ValidRatio; math.Abs(got-ratio) > 1e-9 {
		return fmt.Errorf("image %d has valid ratio %v, want %v", i, got, ratio)
	}
	return nil
}
