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
// Package ensemble orchestrates a DeepProg run: it builds the resampled
// datasets and their weak learners, fits the pool, weights the models by
// their out-of-fold concordance, merges their probabilities into one
// consensus stratification and scores the features that drive each cluster.
//
// Example usage:
//
//	e, err := ensemble.New(ctx, cfg, pretrained.Builder(cohort, stats.Cox{}, opts), stats.Cox{})
//	if err != nil {
//	    return err
//	}
//
//	if err := e.FitOnPretrainedLabelFiles(ctx, nil, "labels/", "*.tsv"); err != nil {
//	    return err
//	}
//	defer e.WriteLogs(ctx)
//
//	if err := e.PredictLabelsOnFullDataset(ctx); err != nil {
//	    return err
//	}
//
// Pipeline:
//
//  1. Fit: every learner is fitted through the fitting backend. Failed
//     fits are dropped, an error aborts the run.
//  2. Confidence: with a weighted strategy each model's concordance index on
//     its held-out fold becomes its consensus weight.
//  3. Consensus: the full-sample probabilities of every model are merged
//     into one label and one probability vector per sample.
//  4. Diagnostics: log-rank p-values, concordance indexes and pairwise
//     agreement are recorded in the run ledger.
//  5. Features: differential and survival-filtered feature scores are
//     computed per cluster and written next to the labels.
//
// The ledger is only written by the goroutine driving the Ensemble. An
// Ensemble is not safe for concurrent use.
package ensemble
