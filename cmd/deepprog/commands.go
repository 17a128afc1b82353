/*
Copyright 2025 The DeepProg Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/harel-coffee/DeepProg-auto/internal/config"
	"github.com/harel-coffee/DeepProg-auto/internal/dataset"
	"github.com/harel-coffee/DeepProg-auto/internal/engines/fitting"
	"github.com/harel-coffee/DeepProg-auto/internal/ensemble"
	"github.com/harel-coffee/DeepProg-auto/internal/learner/pretrained"
	"github.com/harel-coffee/DeepProg-auto/internal/stats"
)

var (
	labelFiles   []string
	labelFolder  string
	labelPattern string
	saveClasses  bool

	fitPretrainedCmd = &cobra.Command{
		Use:   "fit-pretrained",
		Short: "Build the ensemble from pretrained label files",
		Long: `fit-pretrained assigns one label file to each weak learner, either from
--labels or from the files of --label-folder matching --label-pattern, and
runs the consensus, diagnostics and feature scoring stages.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath, cmd.Flags())
			if err != nil {
				return err
			}
			return runPretrained(ctrl.SetupSignalHandler(), cfg)
		},
	}

	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath, cmd.Flags())
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("encoding config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
)

func init() {
	fitPretrainedCmd.Flags().StringSliceVar(&labelFiles, "labels", nil, "label files, one per weak learner")
	fitPretrainedCmd.Flags().StringVar(&labelFolder, "label-folder", "", "folder holding the label files")
	fitPretrainedCmd.Flags().StringVar(&labelPattern, "label-pattern", ensemble.DefaultLabelPattern, "glob selecting label files in --label-folder")
	fitPretrainedCmd.Flags().BoolVar(&saveClasses, "save-classes", false, "write each model's training and held-out labels")
	fitPretrainedCmd.MarkFlagsMutuallyExclusive("labels", "label-folder")
	fitPretrainedCmd.MarkFlagsOneRequired("labels", "label-folder")
}

func runPretrained(ctx context.Context, cfg config.EnsembleConfig) error {
	logger := ctrl.Log.WithName("deepprog")
	ctx = ctrl.LoggerInto(ctx, logger)

	cohort, err := dataset.LoadCohort(cfg.Data)
	if err != nil {
		return err
	}
	logger.Info("Loaded cohort", "samples", len(cohort.SampleIDs), "omics", len(cohort.Matrices))

	build := pretrained.Builder(cohort, stats.Cox{}, pretrained.Options{
		ResultsDir: cfg.ResultsDir(),
		NbClusters: cfg.NbClusters,
	})

	var opts []ensemble.Option
	if cfg.Distribute {
		rt := fitting.NewRuntime(cfg.NbThreads)
		rt.Start()
		defer func() {
			if err := rt.Shutdown(); err != nil {
				logger.Error(err, "Shutting down dispatch runtime")
			}
		}()
		opts = append(opts, ensemble.WithRuntime(rt))
	}

	e, err := ensemble.New(ctx, cfg, build, stats.Cox{}, opts...)
	if err != nil {
		return err
	}
	return e.Run(ctx, ensemble.RunOptions{
		LabelFiles:        labelFiles,
		LabelFolder:       labelFolder,
		LabelPattern:      labelPattern,
		SaveModelsClasses: saveClasses,
	})
}
