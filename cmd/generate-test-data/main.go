package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/MeKo-Tech/ocrprep/internal/testutil"
)

var sampleWords = []string{"Hello", "World", "OCR", "Test", "123", "Sample", "Batch", "Tensor"}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	var (
		outDir   = flag.String("out", "testdata/sample", "output directory, relative to the project root")
		recog    = flag.Bool("recog", true, "Generate the recognition dataset (crops/, label.txt, label.jsonl)")
		det      = flag.Bool("det", true, "Generate the detection dataset (imgs/, instances_test.json)")
		numPages = flag.Int("pages", 3, "Number of detection pages")
		verbose  = flag.Bool("v", false, "Verbose output")
		help     = flag.Bool("h", false, "Show help")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Generate sample datasets matching the configs in testdata/configs.\n\n")
		fmt.Fprintf(os.Stderr, "OPTIONS:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEXAMPLES:\n")
		fmt.Fprintf(os.Stderr, "  %s                  # Generate both datasets\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -det=false       # Generate only recognition data\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nThen iterate them with:\n")
		fmt.Fprintf(os.Stderr, "  ocrprep dataset -m testdata/configs/crnn_mini_vgg.yaml --split test --root testdata/sample\n")
	}

	flag.Parse()

	if *help {
		flag.Usage()
		return
	}

	root, err := testutil.GetProjectRoot()
	if err != nil {
		slog.Error("Failed to find project root", "error", err)
		os.Exit(1)
	}
	dir := *outDir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(root, dir)
	}
	if *verbose {
		slog.Info("Options", "out", dir, "recog", *recog, "det", *det, "pages", *numPages)
	}

	if *recog {
		ann, prefix, err := testutil.CreateRecogFixture(dir, "crops", recognitionWords())
		if err != nil {
			slog.Error("Failed to generate recognition dataset", "error", err)
			os.Exit(1)
		}
		slog.Info("Generated recognition dataset", "annotations", ann, "images", prefix, "words", len(sampleWords))
	}

	if *det {
		files := make([]string, 0, *numPages)
		for i := range *numPages {
			files = append(files, fmt.Sprintf("page_%d.png", i+1))
		}
		ann, prefix, err := testutil.CreateDetFixture(dir, files, testutil.PageSize)
		if err != nil {
			slog.Error("Failed to generate detection dataset", "error", err)
			os.Exit(1)
		}
		slog.Info("Generated detection dataset", "annotations", ann, "images", prefix, "pages", len(files))
	}

	slog.Info("Test data generation completed successfully!")
}

// recognitionWords gives every word a crop wide enough for its text.
func recognitionWords() []testutil.WordFixture {
	words := make([]testutil.WordFixture, 0, len(sampleWords))
	for i, w := range sampleWords {
		words = append(words, testutil.WordFixture{
			File: fmt.Sprintf("word_%d.png", i+1),
			Text: w,
			Size: testutil.ImageSize{Width: max(testutil.WordSize.Width, 12*len(w)), Height: testutil.WordSize.Height},
		})
	}
	return words
}
