package cmd

import (
	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/ocrprep/internal/inputprep"
	"github.com/MeKo-Tech/ocrprep/internal/modelcfg"
)

func newPipelineCmd(a *app) *cobra.Command {
	var arrays bool

	cmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Print the effective test pipeline as YAML",
		Long: `Print the stage list that input preparation would run: the test split's
pipeline after the loader switch, ImageToTensor replacement and input shape
overrides have been applied.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := a.modelConfig()
			if err != nil {
				return err
			}
			task, err := a.cfg.Task()
			if err != nil {
				return err
			}
			mc, err := modelcfg.Load(path)
			if err != nil {
				return err
			}
			stages, err := inputprep.PreparePipeline(task, mc, arrays, a.cfg.Input.InputShape, a.logger)
			if err != nil {
				return err
			}
			out, err := modelcfg.EncodeStages(stages)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}

	addInputFlags(cmd)
	cmd.Flags().BoolVar(&arrays, "arrays", false, "show the pipeline used for in-memory images")
	return cmd
}
