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
package ensemble

import (
	"context"
	"errors"
	"fmt"

	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/harel-coffee/DeepProg-auto/internal/ledger"
)

// RunOptions select the optional parts of Run.
type RunOptions struct {
	// LabelFiles, or else the files of LabelFolder matching LabelPattern,
	// switch the fit to pretrained labels.
	LabelFiles   []string
	LabelFolder  string
	LabelPattern string

	// SaveModelsClasses writes every model's training and held-out labels.
	SaveModelsClasses bool
}

func (o RunOptions) pretrained() bool {
	return len(o.LabelFiles) > 0 || o.LabelFolder != ""
}

// Run executes the whole pipeline. Once fitting has completed the ledger and
// metrics are written even if a later stage fails. Diagnostic stages only log
// their failures; consensus and feature stages abort the run.
func (e *Ensemble) Run(ctx context.Context, opts RunOptions) (err error) {
	logger := ctrl.LoggerFrom(ctx)

	if opts.pretrained() {
		err = e.FitOnPretrainedLabelFiles(ctx, opts.LabelFiles, opts.LabelFolder, opts.LabelPattern)
	} else {
		err = e.Fit(ctx)
	}
	if err != nil {
		return err
	}
	defer func() {
		if werr := e.WriteLogs(ctx); werr != nil {
			err = errors.Join(err, fmt.Errorf("writing logs: %w", werr))
		}
	}()

	fatal := func(stage string, err error) error {
		e.ledger.Set(ledger.KeyFailure, fmt.Sprintf("%s: %v", stage, err))
		return fmt.Errorf("%s: %w", stage, err)
	}
	warn := func(stage string, err error) {
		if err != nil {
			logger.Error(err, "Diagnostic stage failed", "stage", stage)
		}
	}

	if err := e.PredictLabelsOnFullDataset(ctx); err != nil {
		return fatal("predicting labels on the full dataset", err)
	}

	_, err = e.ComputeClustersConsistencyForFullLabels(ctx)
	warn("clusters consistency", err)
	_, err = e.CollectPValueOnTrainingDataset(ctx)
	warn("training p-values", err)
	_, err = e.CollectPValueOnTestFold(ctx)
	warn("test fold p-values", err)
	_, err = e.ComputePValueForMergedTestFold(ctx)
	warn("merged test fold p-value", err)
	_, err = e.CollectCIndexForTrainingDataset(ctx)
	warn("training c-index", err)
	_, err = e.CollectCIndexForFullDataset(ctx)
	warn("full c-index", err)
	_, err = e.ComputeCIndexForFullDataset(ctx)
	warn("consensus c-index", err)
	_, _, err = e.EvaluateClusterPerformance(ctx)
	warn("cluster performance", err)
	_, err = e.CollectNumberOfFeaturesPerOmic(ctx)
	warn("features per omic", err)

	if err := e.ComputeFeatureScoresPerCluster(ctx); err != nil {
		return fatal("computing feature scores", err)
	}
	if e.cfg.FeatureSurvAnalysis {
		if err := e.ComputeSurvivalFeatureScoresPerCluster(ctx); err != nil {
			return fatal("computing survival feature scores", err)
		}
	}
	if err := e.WriteFeatureScoresPerCluster(ctx); err != nil {
		return fatal("writing feature scores", err)
	}

	if opts.SaveModelsClasses {
		for _, kind := range []Classes{TrainingClasses, CVClasses} {
			if _, err := e.SaveModelsClasses(ctx, kind, ""); err != nil {
				return fatal("saving "+kind.String()+" model classes", err)
			}
		}
	}

	logger.Info("Run completed", "runID", e.runID, "models", e.pool.Len())
	return nil
}
