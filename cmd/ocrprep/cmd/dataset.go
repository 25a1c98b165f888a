package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/ocrprep/internal/collate"
	"github.com/MeKo-Tech/ocrprep/internal/dataloader"
	"github.com/MeKo-Tech/ocrprep/internal/dataset"
	"github.com/MeKo-Tech/ocrprep/internal/modelcfg"
	"github.com/MeKo-Tech/ocrprep/internal/pipeline"
)

type batchSummary struct {
	Index    int                      `json:"index"`
	Size     int                      `json:"size"`
	Multi    bool                     `json:"multi"`
	Img      [][][]int64              `json:"img"`
	ImgMetas [][][]pipeline.ImageMeta `json:"img_metas"`
}

func summarizeBatch(i int, b *collate.Batch) batchSummary {
	s := batchSummary{Index: i, Size: b.Size, Multi: b.Multi}
	for _, v := range b.Img {
		var shapes [][]int64
		for _, c := range v.Chunks {
			shapes = append(shapes, c.Shape)
		}
		s.Img = append(s.Img, shapes)
	}
	for _, v := range b.ImgMetas {
		s.ImgMetas = append(s.ImgMetas, v.Chunks)
	}
	return s
}

func newDatasetCmd(a *app) *cobra.Command {
	var (
		format string
		limit  int
		epoch  int
		seed   int64
	)

	cmd := &cobra.Command{
		Use:   "dataset",
		Short: "Build a dataset split and iterate it in batches",
		Long: `Build the dataset of a model config split (val by default), wrap it in a data
loader and iterate one epoch, printing a summary of every batch.

Without --dist one process feeds --num-gpus devices, so batch size and worker
count scale with it. With --dist the dataset is sharded across --world-size
processes and this process reads shard --rank.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := a.modelConfig()
			if err != nil {
				return err
			}
			mc, err := modelcfg.Load(path)
			if err != nil {
				return err
			}
			ds, err := dataset.BuildDataset(mc, a.cfg.Dataset.Split,
				dataset.WithRoot(a.cfg.Dataset.Root), dataset.WithLogger(a.logger))
			if err != nil {
				return err
			}

			if cmd.Flags().Changed("seed") {
				a.cfg.Dataset.Loader.Seed = &seed
			}
			spg, wpg := a.cfg.LoaderSizes(mc.Data)
			loader, err := dataloader.BuildDataloader(ds, spg, wpg, a.cfg.ToLoaderOptions(a.logger))
			if err != nil {
				return err
			}
			loader.SetEpoch(epoch)

			w := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(w, "dataset: %s samples=%d batches=%d batch_size=%d workers=%d\n",
				ds.Type(), ds.Len(), loader.Len(), loader.BatchSize(), loader.Workers())

			i := 0
			errStop := fmt.Errorf("limit of %d batches reached", limit)
			err = loader.Run(cmd.Context(), func(b *collate.Batch) error {
				if err := writeBatchSummary(w, format, summarizeBatch(i, b)); err != nil {
					return err
				}
				i++
				if limit > 0 && i >= limit {
					return errStop
				}
				return nil
			})
			if errors.Is(err, errStop) {
				return nil
			}
			return err
		},
	}

	f := cmd.Flags()
	f.StringP("split", "s", modelcfg.SplitVal, "dataset split (train, val, test)")
	f.String("root", "", "directory that relative annotation files and image prefixes are resolved against")
	f.Int("samples-per-gpu", 0, "samples per GPU (0 uses the model config)")
	f.Int("workers-per-gpu", 0, "loader workers per GPU (0 uses the model config)")
	f.Int("num-gpus", 1, "GPUs fed by this process when not distributed")
	f.Bool("shuffle", false, "shuffle samples")
	f.Int64Var(&seed, "seed", 0, "shuffle seed (random when unset)")
	f.Bool("dist", false, "shard the dataset across processes")
	f.Int("rank", 0, "rank of this process when distributed")
	f.Int("world-size", 1, "number of processes when distributed")
	f.Bool("drop-last", false, "drop the trailing incomplete batch")
	f.IntVar(&epoch, "epoch", 0, "epoch used to seed shuffling")
	f.IntVar(&limit, "limit", 0, "stop after this many batches (0 for all)")
	f.StringVarP(&format, "format", "f", "text", "output format (text, json)")
	annotate(f, map[string]string{
		"split":           "dataset.split",
		"root":            "dataset.root",
		"samples-per-gpu": "dataset.loader.samples_per_gpu",
		"workers-per-gpu": "dataset.loader.workers_per_gpu",
		"num-gpus":        "dataset.loader.num_gpus",
		"shuffle":         "dataset.loader.shuffle",
		"dist":            "dataset.loader.dist",
		"rank":            "dataset.loader.rank",
		"world-size":      "dataset.loader.world_size",
		"drop-last":       "dataset.loader.drop_last",
	})
	return cmd
}

func writeBatchSummary(w io.Writer, format string, s batchSummary) error {
	switch strings.ToLower(format) {
	case "json":
		return json.NewEncoder(w).Encode(s)
	case "text":
		var names []string
		if len(s.ImgMetas) > 0 {
			for _, chunk := range s.ImgMetas[0] {
				for _, m := range chunk {
					names = append(names, m.OriFilename)
				}
			}
		}
		_, err := fmt.Fprintf(w, "batch %d: size=%d img=%v files=%s\n", s.Index, s.Size, s.Img, strings.Join(names, ","))
		return err
	default:
		return fmt.Errorf("unsupported output format: %s (must be text or json)", format)
	}
}
