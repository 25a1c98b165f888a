package support

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/cucumber/godog"

	"github.com/MeKo-Tech/ocrprep/internal/collate"
	"github.com/MeKo-Tech/ocrprep/internal/dataloader"
	"github.com/MeKo-Tech/ocrprep/internal/dataset"
	"github.com/MeKo-Tech/ocrprep/internal/testutil"
)

const recogModelConfig = `data:
  samples_per_gpu: 1
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
`

// RegisterDatasetSteps registers dataset and data loader steps.
func (testCtx *TestContext) RegisterDatasetSteps(sc *godog.ScenarioContext) {
	sc.Step(`^a recognition dataset with (\d+) words$`, testCtx.aRecognitionDatasetWithWords)
	sc.Step(`^I load the "([^"]*)" split with (\d+) samples per gpu$`, testCtx.iLoadTheSplit)
	sc.Step(`^I load the "([^"]*)" split with (\d+) samples per gpu dropping the last batch$`,
		testCtx.iLoadTheSplitDroppingLast)
	sc.Step(`^I shard the "([^"]*)" split across (\d+) ranks$`, testCtx.iShardTheSplit)
	sc.Step(`^the loader yields (\d+) batches$`, testCtx.theLoaderYieldsBatches)
	sc.Step(`^batch sizes are "([^"]*)"$`, testCtx.batchSizesAre)
	sc.Step(`^every sample is read at least once$`, testCtx.everySampleIsReadAtLeastOnce)
	sc.Step(`^each rank reads (\d+) samples$`, testCtx.eachRankReadsSamples)
}

func (testCtx *TestContext) aRecognitionDatasetWithWords(n int) error {
	words := make([]testutil.WordFixture, 0, n)
	for i := range n {
		words = append(words, testutil.WordFixture{File: fmt.Sprintf("w%d.png", i), Text: fmt.Sprintf("word%d", i)})
	}
	if _, _, err := testutil.CreateRecogFixture(testCtx.TempDir, "imgs", words); err != nil {
		return err
	}
	testCtx.ModelConfig = filepath.Join(testCtx.TempDir, "model.yaml")
	return writeFile(testCtx.ModelConfig, recogModelConfig)
}

func (testCtx *TestContext) load(split string, spg int, opts dataloader.Options) ([]batchInfo, error) {
	ds, err := dataset.BuildDataset(testCtx.ModelConfig, split, dataset.WithRoot(testCtx.TempDir))
	if err != nil {
		return nil, err
	}
	seed := int64(1)
	opts.Seed = &seed
	loader, err := dataloader.BuildDataloader(ds, spg, 2, opts)
	if err != nil {
		return nil, err
	}
	var out []batchInfo
	err = loader.Run(context.Background(), func(b *collate.Batch) error {
		out = append(out, newBatchInfo(b))
		return nil
	})
	return out, err
}

func (testCtx *TestContext) iLoadTheSplit(split string, spg int) error {
	batches, err := testCtx.load(split, spg, dataloader.Options{})
	testCtx.Batches = [][]batchInfo{batches}
	return err
}

func (testCtx *TestContext) iLoadTheSplitDroppingLast(split string, spg int) error {
	batches, err := testCtx.load(split, spg, dataloader.Options{DropLast: true})
	testCtx.Batches = [][]batchInfo{batches}
	return err
}

func (testCtx *TestContext) iShardTheSplit(split string, ranks int) error {
	testCtx.Batches = nil
	for rank := range ranks {
		batches, err := testCtx.load(split, 2, dataloader.Options{
			Dist: true, Rank: rank, WorldSize: ranks, Shuffle: true,
		})
		if err != nil {
			return fmt.Errorf("rank %d: %w", rank, err)
		}
		testCtx.Batches = append(testCtx.Batches, batches)
	}
	return nil
}

func (testCtx *TestContext) theLoaderYieldsBatches(n int) error {
	if got := len(testCtx.Batches[0]); got != n {
		return fmt.Errorf("expected %d batches, got %d", n, got)
	}
	return nil
}

func (testCtx *TestContext) batchSizesAre(sizes string) error {
	var got []string
	for _, b := range testCtx.Batches[0] {
		got = append(got, strconv.Itoa(b.size))
	}
	if strings.Join(got, ",") != sizes {
		return fmt.Errorf("expected batch sizes %s, got %s", sizes, strings.Join(got, ","))
	}
	return nil
}

func (testCtx *TestContext) filesPerRank() [][]string {
	out := make([][]string, len(testCtx.Batches))
	for r, batches := range testCtx.Batches {
		for _, b := range batches {
			out[r] = append(out[r], b.files...)
		}
	}
	return out
}

func (testCtx *TestContext) everySampleIsReadAtLeastOnce() error {
	seen := map[string]bool{}
	for _, files := range testCtx.filesPerRank() {
		for _, f := range files {
			seen[f] = true
		}
	}
	names, err := filepath.Glob(filepath.Join(testCtx.TempDir, "imgs", "*.png"))
	if err != nil {
		return err
	}
	for _, n := range names {
		if !seen[filepath.Base(n)] {
			return fmt.Errorf("sample %s was not read by any rank", filepath.Base(n))
		}
	}
	return nil
}

func (testCtx *TestContext) eachRankReadsSamples(n int) error {
	for r, files := range testCtx.filesPerRank() {
		if len(files) != n {
			return fmt.Errorf("rank %d read %d samples, want %d", r, len(files), n)
		}
	}
	if len(testCtx.Batches) > 1 && slices.Equal(testCtx.filesPerRank()[0], testCtx.filesPerRank()[1]) {
		return fmt.Errorf("ranks read identical shards")
	}
	return nil
}
