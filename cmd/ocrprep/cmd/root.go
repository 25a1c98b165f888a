package cmd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/MeKo-Tech/ocrprep/internal/config"
	"github.com/MeKo-Tech/ocrprep/internal/metrics"
	"github.com/MeKo-Tech/ocrprep/internal/version"
)

// configKeyAnnotation ties a flag to the config key it overrides.
const configKeyAnnotation = "ocrprep_config_key"

// app carries state shared by the commands of one root command.
type app struct {
	v       *viper.Viper
	cfgFile string
	cfg     *config.Config
	logger  *slog.Logger
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

// NewRootCommand builds the command tree. Each call has its own config
// state so that tests can execute commands repeatedly.
func NewRootCommand() *cobra.Command {
	a := &app{v: viper.New()}

	rootCmd := &cobra.Command{
		Use:   "ocrprep",
		Short: "Prepare OCR model inputs from images and datasets",
		Long: `ocrprep turns images, image files and annotated datasets into the batched
tensors that text detection and recognition models consume.

It reads the data section of a model config (train, val and test splits with
their preprocessing pipelines), runs the test pipeline on raw inputs, builds
datasets and iterates them in batches.

Examples:
  ocrprep input --model-config dbnet.yaml --task det page.png
  ocrprep pipeline --model-config crnn.yaml --task rec --input-shape 32,100
  ocrprep dataset --model-config crnn.yaml --split test --samples-per-gpu 16`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if v, _ := cmd.Flags().GetBool("version"); v {
				v, commit, date := version.Info()
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "ocrprep version %s\n", v)
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Commit: %s\n", commit)
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Date: %s\n", date)
				return nil
			}
			return cmd.Help()
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			bindConfigFlags(a.v, cmd.Flags())
			if err := a.initConfig(); err != nil {
				return err
			}
			a.logger = newLogger(cmd.ErrOrStderr(), a.cfg)
			slog.SetDefault(a.logger)
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg == nil || a.cfg.MetricsFile == "" {
				return nil
			}
			if err := metrics.WriteTextfile(a.cfg.MetricsFile); err != nil {
				return fmt.Errorf("write metrics: %w", err)
			}
			a.logger.Debug("metrics written", "path", a.cfg.MetricsFile)
			return nil
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "",
		"config file (default is search in ., $XDG_CONFIG_HOME/ocrprep, $HOME, /etc/ocrprep)")
	pf.BoolP("verbose", "v", false, "verbose output (equivalent to --log-level=debug)")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")
	pf.String("log-format", "text", "log format (text, json)")
	pf.StringP("model-config", "m", "", "model config file (YAML or JSON) with a data section")
	pf.String("metrics-file", "", "write Prometheus metrics to this textfile on exit")
	pf.String("onnx-library", "", "path to the ONNX Runtime shared library used for GPU placement")
	pf.Bool("version", false, "print version information and exit")

	annotate(pf, map[string]string{
		"verbose":      "verbose",
		"log-level":    "log_level",
		"log-format":   "log_format",
		"model-config": "model_config",
		"metrics-file": "metrics_file",
		"onnx-library": "onnx_library",
	})

	rootCmd.AddCommand(newInputCmd(a), newPipelineCmd(a), newDatasetCmd(a), newConfigCmd(a))
	return rootCmd
}

// annotate marks flags with the config keys they override.
func annotate(fs *pflag.FlagSet, keys map[string]string) {
	for name, key := range keys {
		if err := fs.SetAnnotation(name, configKeyAnnotation, []string{key}); err != nil {
			panic(err)
		}
	}
}

// bindConfigFlags binds the annotated flags of the running command.
func bindConfigFlags(v *viper.Viper, fs *pflag.FlagSet) {
	fs.VisitAll(func(f *pflag.Flag) {
		if keys, ok := f.Annotations[configKeyAnnotation]; ok && len(keys) == 1 {
			_ = v.BindPFlag(keys[0], f)
		}
	})
}

// initConfig reads the config file, environment variables and flags.
func (a *app) initConfig() error {
	loader := config.NewLoaderWithViper(a.v)
	cfg, err := loader.LoadWithFile(a.cfgFile)
	if err != nil {
		return fmt.Errorf("error loading configuration: %w", err)
	}
	a.cfg = cfg
	return nil
}

func newLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if strings.EqualFold(cfg.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

var errNoModelConfig = errors.New("model config is required (--model-config or model_config)")

func (a *app) modelConfig() (string, error) {
	if a.cfg.ModelConfig == "" {
		return "", errNoModelConfig
	}
	return a.cfg.ModelConfig, nil
}
