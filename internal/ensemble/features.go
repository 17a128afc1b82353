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

	"github.com/harel-coffee/DeepProg-auto/internal/features"
	"github.com/harel-coffee/DeepProg-auto/internal/interfaces"
	"github.com/harel-coffee/DeepProg-auto/internal/report"
)

// ErrNoFeatureScores is returned when survival-filtered scoring runs before
// the differential scores exist.
var ErrNoFeatureScores = errors.New("feature scores per cluster are not computed")

// FeatureScores returns the differential scores per cluster, nil until computed.
func (e *Ensemble) FeatureScores() map[int][]features.Score {
	return e.featureScores
}

// SurvivalFeatureScores returns the survival-filtered scores per cluster, nil
// until computed.
func (e *Ensemble) SurvivalFeatureScores() map[int][]features.SurvivalScore {
	return e.survivalScores
}

// ComputeFeatureScoresPerCluster ranks every feature of every omic by how it
// separates each consensus cluster from the other samples.
func (e *Ensemble) ComputeFeatureScoresPerCluster(ctx context.Context) error {
	if e.full == nil {
		return ErrNoConsensus
	}
	defer e.track("features")()

	matrices, err := e.fullMatrices()
	if err != nil {
		return err
	}
	scores, err := e.scorer.Differential(ctx, matrices, e.full.Labels)
	if err != nil {
		return err
	}
	e.featureScores = scores
	n := features.Count(scores)
	e.metrics.AddFeatureScores("differential", n)
	ctrl.LoggerFrom(ctx).Info("Computed feature importance per cluster", "scores", n, "omics", len(matrices))
	return nil
}

// ComputeSurvivalFeatureScoresPerCluster re-tests the significant features
// of each cluster against survival, adjusted for the metadata covariates when
// the configuration enables them.
func (e *Ensemble) ComputeSurvivalFeatureScoresPerCluster(ctx context.Context) error {
	if e.full == nil {
		return ErrNoConsensus
	}
	if e.featureScores == nil {
		return ErrNoFeatureScores
	}
	defer e.track("survival_features")()

	matrices, err := e.fullMatrices()
	if err != nil {
		return err
	}
	metadata := e.full.Metadata
	if !e.cfg.UseMetadata {
		metadata = nil
	}
	scores, err := e.scorer.SurvivalFiltered(ctx, matrices, e.featureScores, e.full.Survival, metadata)
	if err != nil {
		return err
	}
	e.survivalScores = scores
	n := features.Count(scores)
	e.metrics.AddFeatureScores("survival", n)
	ctrl.LoggerFrom(ctx).Info("Computed survival feature importance per cluster", "scores", n, "metadata", metadata != nil)
	return nil
}

// WriteFeatureScoresPerCluster writes the positive and anticorrelated
// feature files, and the survival feature file when there are survival scores.
func (e *Ensemble) WriteFeatureScoresPerCluster(ctx context.Context) error {
	logger := ctrl.LoggerFrom(ctx)
	if e.featureScores == nil {
		return ErrNoFeatureScores
	}
	files := report.FeatureFilesFor(e.cfg.ResultsDir(), e.cfg.ProjectName)
	if err := report.WriteFeatureScores(files, e.featureScores); err != nil {
		return err
	}
	logger.Info("Feature scores written", "positive", files.Positive, "anticorrelated", files.Anticorrelated)

	written, err := report.WriteSurvivalFeatureScores(files, e.survivalScores)
	if err != nil {
		return err
	}
	if written {
		logger.Info("Survival feature scores written", "path", files.Survival)
	} else {
		logger.Info("No survival features detected, file not written", "path", files.Survival)
	}
	return nil
}

// fullMatrices returns the first model's full matrices in consensus order.
func (e *Ensemble) fullMatrices() (map[string]interfaces.FeatureMatrix, error) {
	models := e.pool.Learners()
	raw, err := interfaces.ReadFeatureMatrices(models[0], interfaces.DatasetMatricesFull)
	if err != nil {
		return nil, err
	}
	out := make(map[string]interfaces.FeatureMatrix, len(raw))
	for _, omic := range sortedOmics(raw) {
		m, err := raw[omic].Reorder(e.full.SampleIDs)
		if err != nil {
			return nil, fmt.Errorf("omic %s: %w", omic, err)
		}
		out[omic] = m
	}
	return out, nil
}
