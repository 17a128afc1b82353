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

// Package interfaces holds the contracts between the ensemble engine and its
// external collaborators: the weak learner and the statistical backend.
package interfaces

import (
	"context"
)

// Attribute names a piece of fitted state exposed by a weak learner.
type Attribute string

const (
	// AttrLabels are the cluster labels of the training samples.
	AttrLabels Attribute = "labels"
	// AttrLabelsProba are the per-cluster probabilities of the training samples.
	AttrLabelsProba Attribute = "labels_proba"
	// AttrCVLabels are the labels predicted on the held-out fold.
	AttrCVLabels Attribute = "cv_labels"
	// AttrCVLabelsProba are the probabilities predicted on the held-out fold.
	AttrCVLabelsProba Attribute = "cv_labels_proba"
	// AttrFullLabels are the labels of every sample seen by the model (train + held-out).
	AttrFullLabels Attribute = "full_labels"
	// AttrFullProbas are the (sample id, probability vector) pairs of every sample seen by the model.
	AttrFullProbas Attribute = "full_probas"

	// AttrTrainPValue is the log-rank p-value of the training labels.
	AttrTrainPValue Attribute = "train_pvalue"
	// AttrTrainPValueProba is the log-rank p-value of the training probabilities.
	AttrTrainPValueProba Attribute = "train_pvalue_proba"
	// AttrCVPValue is the log-rank p-value of the held-out labels.
	AttrCVPValue Attribute = "cp_pvalue"
	// AttrCVPValueProba is the log-rank p-value of the held-out probabilities.
	AttrCVPValueProba Attribute = "cp_pvalue_proba"

	// AttrBIC, AttrSilhouette and AttrCalinski are clustering quality scores.
	AttrBIC        Attribute = "bic_score"
	AttrSilhouette Attribute = "silhouette_score"
	AttrCalinski   Attribute = "calinski_score"

	// AttrSeed is the seed the model was fitted with.
	AttrSeed Attribute = "seed"
	// AttrValidNodeCounts maps each omic to the number of survival-associated nodes kept.
	AttrValidNodeCounts Attribute = "valid_node_counts"
)

// DatasetAttribute names a piece of the resampled dataset owned by a weak learner.
type DatasetAttribute string

const (
	DatasetSampleIDs     DatasetAttribute = "sample_ids"
	DatasetSampleIDsCV   DatasetAttribute = "sample_ids_cv"
	DatasetSampleIDsFull DatasetAttribute = "sample_ids_full"
	DatasetSurvival      DatasetAttribute = "survival"
	DatasetSurvivalCV    DatasetAttribute = "survival_cv"
	DatasetSurvivalFull  DatasetAttribute = "survival_full"
	// DatasetMatricesFull holds the unnormalized per-omic matrices over the full sample set.
	DatasetMatricesFull DatasetAttribute = "matrix_full_array"
	// DatasetMetadataFull holds the metadata covariates over the full sample set (may be nil).
	DatasetMetadataFull DatasetAttribute = "metadata_mat_full"
	// DatasetMetadataCV holds the metadata covariates of the held-out fold (may be nil).
	DatasetMetadataCV DatasetAttribute = "metadata_mat_cv"
)

// WeakLearner is one independently trained clustering-and-survival model
// over a resampled subset of the cohort.
//
// A handle is only ever driven by one caller at a time; implementations do
// not need internal locking.
type WeakLearner interface {
	// Fit runs the learner's own embedding and clustering pipeline.
	// A false result with a nil error means the fit was rejected and the
	// model must be dropped from the pool.
	Fit(ctx context.Context) (bool, error)

	// FitFromPretrainedLabels builds the model from an existing sample->label source.
	FitFromPretrainedLabels(ctx context.Context, source string) (bool, error)

	// PredictOnHoldout predicts labels for the held-out fold of the learner's dataset.
	PredictOnHoldout(ctx context.Context) error

	// Attribute reads fitted state.
	Attribute(name Attribute) (any, error)

	// DatasetAttribute reads from the learner's resampled dataset.
	DatasetAttribute(name DatasetAttribute) (any, error)

	// WriteLabels persists a per-sample label file.
	WriteLabels(ctx context.Context, file LabelFile) error
}

// LabelFile is the content of one per-sample label file.
type LabelFile struct {
	Destination   string
	SampleIDs     []string
	Labels        []int
	Probabilities []float64
	Survival      Survival
}
