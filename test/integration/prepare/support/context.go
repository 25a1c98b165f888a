// Package support holds the step definitions of the preparation feature
// suite.
package support

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/ocrprep/internal/collate"
	"github.com/MeKo-Tech/ocrprep/internal/inputprep"
	"github.com/MeKo-Tech/ocrprep/internal/testutil"
)

// TestContext holds the state of one scenario.
type TestContext struct {
	TempDir    string
	ConfigsDir string

	// Images written by Given steps, in order.
	Images []string

	// Input preparation results
	LastBatch *inputprep.Batch
	LastError error

	// Dataset iteration results, one list per rank
	ModelConfig string
	Batches     [][]batchInfo

	// CLI results
	LastOutput string
}

// batchInfo is what dataset steps keep of a collated batch.
type batchInfo struct {
	size  int
	files []string
}

func newBatchInfo(b *collate.Batch) batchInfo {
	info := batchInfo{size: b.Size}
	for _, chunk := range b.ImgMetas[0].Chunks {
		for _, m := range chunk {
			info.files = append(info.files, m.OriFilename)
		}
	}
	return info
}

// NewTestContext creates a new test context with its own temp directory.
func NewTestContext() (*TestContext, error) {
	root, err := testutil.GetProjectRoot()
	if err != nil {
		return nil, fmt.Errorf("failed to find project root: %w", err)
	}
	tempDir, err := os.MkdirTemp("", "ocrprep-bdd-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	return &TestContext{
		TempDir:    tempDir,
		ConfigsDir: filepath.Join(root, "testdata", "configs"),
	}, nil
}

// Cleanup releases tensors and removes the temp directory.
func (testCtx *TestContext) Cleanup() error {
	if testCtx.LastBatch != nil {
		_ = testCtx.LastBatch.Release()
	}
	return os.RemoveAll(testCtx.TempDir)
}

func (testCtx *TestContext) configPath(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(testCtx.ConfigsDir, name)
}

// parseInts parses "2,1,32,100".
func parseInts(s string) ([]int64, error) {
	parts := strings.Split(s, ",")
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q in %q", p, s)
		}
		out = append(out, v)
	}
	return out, nil
}

func writeFile(path, content string) error {
	if err := testutil.EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o600)
}
