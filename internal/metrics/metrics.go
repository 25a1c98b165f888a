// Package metrics exposes Prometheus collectors for input preparation.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	inputsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ocrprep_inputs_total",
			Help: "Total number of CreateInput calls",
		},
		[]string{"task", "status"}, // status: ok, error
	)

	inputDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ocrprep_input_duration_seconds",
			Help:    "Time spent preparing one input batch",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"task"},
	)

	imagesPrepared = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ocrprep_images_prepared_total",
			Help: "Total number of images run through a pipeline",
		},
		[]string{"source"}, // source: input, dataset
	)

	augVariants = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ocrprep_aug_variants",
			Help:    "Number of augmentation variants per prepared image",
			Buckets: []float64{1, 2, 3, 4, 6, 8, 12, 16},
		},
	)

	datasetSamples = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ocrprep_dataset_samples",
			Help: "Number of samples in the most recently built dataset",
		},
		[]string{"type"},
	)

	batchesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ocrprep_dataloader_batches_total",
			Help: "Total number of batches produced by data loaders",
		},
	)

	batchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ocrprep_dataloader_batch_duration_seconds",
			Help:    "Time spent loading and collating one batch",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// ObserveInput records one CreateInput call.
func ObserveInput(task string, images, variants int, d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	inputsTotal.WithLabelValues(task, status).Inc()
	if err != nil {
		return
	}
	inputDuration.WithLabelValues(task).Observe(d.Seconds())
	imagesPrepared.WithLabelValues("input").Add(float64(images))
	augVariants.Observe(float64(variants))
}

// SetDatasetSize records the length of a built dataset.
func SetDatasetSize(datasetType string, n int) {
	datasetSamples.WithLabelValues(datasetType).Set(float64(n))
}

// ObserveBatch records one data loader batch of n samples.
func ObserveBatch(n int, d time.Duration) {
	batchesTotal.Inc()
	batchDuration.Observe(d.Seconds())
	imagesPrepared.WithLabelValues("dataset").Add(float64(n))
}

// WriteTextfile dumps the default registry in text exposition format, for
// pickup by a node exporter textfile collector.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}
