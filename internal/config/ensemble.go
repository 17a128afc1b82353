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

package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

const (
	// DefaultProjectName is used when no project name is configured.
	DefaultProjectName = "deepprog_boosting"
	// DefaultNbIt is the default number of weak learners.
	DefaultNbIt = 10
	// DefaultNbFolds is the default K-fold count used to hold out a validation fold.
	DefaultNbFolds = 5
	// DefaultNbClusters is the default number of clusters per weak learner.
	DefaultNbClusters = 2
	// DefaultClassSelection is the default consensus strategy.
	DefaultClassSelection = "mean"
	// DefaultFeaturePValueThreshold is the differential p-value a feature must beat
	// to be considered for survival-filtered scoring.
	DefaultFeaturePValueThreshold = 0.001
	// DefaultWeightThreshold is the concordance below which a model gets no vote.
	DefaultWeightThreshold = 0.5
	// DefaultWeightExponent sharpens the weights that survive the threshold.
	DefaultWeightExponent = 4.0
	// DuplicateKeepFirst keeps the first probability vector reported for a sample.
	DuplicateKeepFirst = "keep-first"
	// DuplicateError rejects a model output that reports a sample twice.
	DuplicateError = "error"
)

// ErrInvalidConfig marks a configuration that cannot run.
var ErrInvalidConfig = errors.New("invalid ensemble configuration")

var knownStrategies = []string{"max", "mean", "weighted_mean", "weighted_max"}

// EnsembleConfig holds every parameter of one ensemble run.
type EnsembleConfig struct {
	// ProjectName prefixes every output file and the results sub-directory.
	ProjectName string `yaml:"projectName" mapstructure:"projectName"`

	// PathResults is the parent of the results directory.
	PathResults string `yaml:"pathResults" mapstructure:"pathResults"`

	// NbIt is the number of weak learners to build.
	NbIt int `yaml:"nbIt" mapstructure:"nbIt"`

	// SplitNFold is the K-fold count; 0 disables the internal split.
	SplitNFold int `yaml:"splitNFold" mapstructure:"splitNFold"`

	// Seed is the master seed. When nil a seed is drawn and recorded in the run ledger.
	Seed *int64 `yaml:"seed,omitempty" mapstructure:"seed"`

	// ClassSelection is the consensus strategy: max, mean, weighted_mean or weighted_max.
	ClassSelection string `yaml:"classSelection" mapstructure:"classSelection"`

	// Distribute selects the queued-dispatch fitting backend.
	Distribute bool `yaml:"distribute" mapstructure:"distribute"`

	// NbThreads bounds model-level dispatch workers and feature-level scoring workers.
	NbThreads int `yaml:"nbThreads" mapstructure:"nbThreads"`

	// NbClusters is the number of clusters each weak learner produces.
	NbClusters int `yaml:"nbClusters" mapstructure:"nbClusters"`

	// FeatureSurvAnalysis enables individual feature-level survival testing.
	FeatureSurvAnalysis bool `yaml:"featureSurvAnalysis" mapstructure:"featureSurvAnalysis"`

	// FeaturePValueThreshold gates survival-filtered feature scoring.
	FeaturePValueThreshold float64 `yaml:"featurePValueThreshold" mapstructure:"featurePValueThreshold"`

	// UseMetadata adjusts survival-filtered scoring and the merged held-out
	// fold test for metadata covariates.
	UseMetadata bool `yaml:"useMetadata" mapstructure:"useMetadata"`

	// WeightThreshold and WeightExponent drive confidence weight cleaning.
	WeightThreshold float64 `yaml:"weightThreshold" mapstructure:"weightThreshold"`
	WeightExponent  float64 `yaml:"weightExponent" mapstructure:"weightExponent"`

	// DuplicatePolicy decides what happens when one model reports a sample twice.
	DuplicatePolicy string `yaml:"duplicatePolicy" mapstructure:"duplicatePolicy"`

	// Normalization is the normalization configuration copied into every dataset.
	Normalization NormalizationConfig `yaml:"normalization" mapstructure:"normalization"`

	// Autoencoder is the embedding configuration copied into every dataset.
	Autoencoder AutoencoderConfig `yaml:"autoencoder" mapstructure:"autoencoder"`

	// Data holds the dataset-loading parameters shared by every dataset.
	Data LoadParams `yaml:"data" mapstructure:"data"`
}

// NormalizationConfig enables named normalization steps.
type NormalizationConfig map[string]bool

// Clone returns an independent copy.
func (n NormalizationConfig) Clone() NormalizationConfig {
	if n == nil {
		return nil
	}
	out := make(NormalizationConfig, len(n))
	for k, v := range n {
		out[k] = v
	}
	return out
}

// AutoencoderConfig is the embedding configuration handed to each weak learner.
type AutoencoderConfig struct {
	Epochs          int      `yaml:"epochs" mapstructure:"epochs"`
	NewDim          int      `yaml:"newDim" mapstructure:"newDim"`
	LevelDimsIn     []int    `yaml:"levelDimsIn,omitempty" mapstructure:"levelDimsIn"`
	LevelDimsOut    []int    `yaml:"levelDimsOut,omitempty" mapstructure:"levelDimsOut"`
	Loss            string   `yaml:"loss" mapstructure:"loss"`
	Optimizer       string   `yaml:"optimizer" mapstructure:"optimizer"`
	ActReg          float64  `yaml:"actReg" mapstructure:"actReg"`
	WReg            float64  `yaml:"wReg" mapstructure:"wReg"`
	Dropout         float64  `yaml:"dropout" mapstructure:"dropout"`
	DataSplit       *float64 `yaml:"dataSplit,omitempty" mapstructure:"dataSplit"`
	Activation      string   `yaml:"activation" mapstructure:"activation"`
	PathToSaveModel string   `yaml:"pathToSaveModel,omitempty" mapstructure:"pathToSaveModel"`

	// Seed is set per dataset by the factory.
	Seed int64 `yaml:"-" mapstructure:"-"`
}

// Clone returns a deep copy so concurrent fits never share mutable config.
func (a AutoencoderConfig) Clone() AutoencoderConfig {
	out := a
	out.LevelDimsIn = append([]int(nil), a.LevelDimsIn...)
	out.LevelDimsOut = append([]int(nil), a.LevelDimsOut...)
	if a.DataSplit != nil {
		v := *a.DataSplit
		out.DataSplit = &v
	}
	return out
}

// SurvivalFlag names the columns of the survival file.
type SurvivalFlag struct {
	PatientID string `yaml:"patientID" mapstructure:"patientID"`
	Survival  string `yaml:"survival" mapstructure:"survival"`
	Event     string `yaml:"event" mapstructure:"event"`
}

// LoadParams are the dataset-loading parameters shared by every resampled dataset.
type LoadParams struct {
	PathData     string            `yaml:"pathData" mapstructure:"pathData"`
	TrainingTSV  map[string]string `yaml:"trainingTSV" mapstructure:"trainingTSV"`
	SurvivalTSV  string            `yaml:"survivalTSV" mapstructure:"survivalTSV"`
	MetadataTSV  string            `yaml:"metadataTSV,omitempty" mapstructure:"metadataTSV"`
	SurvivalFlag SurvivalFlag      `yaml:"survivalFlag" mapstructure:"survivalFlag"`
}

// Path resolves a data file against PathData.
func (p LoadParams) Path(name string) string {
	if name == "" || filepath.IsAbs(name) || p.PathData == "" {
		return name
	}
	return filepath.Join(p.PathData, name)
}

// Default returns the configuration used when a field is not set.
func Default() EnsembleConfig {
	return EnsembleConfig{
		ProjectName:            DefaultProjectName,
		PathResults:            "./results",
		NbIt:                   DefaultNbIt,
		SplitNFold:             DefaultNbFolds,
		ClassSelection:         DefaultClassSelection,
		NbThreads:              1,
		NbClusters:             DefaultNbClusters,
		FeatureSurvAnalysis:    true,
		FeaturePValueThreshold: DefaultFeaturePValueThreshold,
		WeightThreshold:        DefaultWeightThreshold,
		WeightExponent:         DefaultWeightExponent,
		DuplicatePolicy:        DuplicateKeepFirst,
		Normalization:          NormalizationConfig{"TRAIN_RANK_NORM": true},
		Autoencoder: AutoencoderConfig{
			Epochs:     10,
			NewDim:     100,
			Loss:       "binary_crossentropy",
			Optimizer:  "adam",
			Dropout:    0.5,
			Activation: "tanh",
		},
		Data: LoadParams{
			SurvivalFlag: SurvivalFlag{PatientID: "barcode", Survival: "days", Event: "recurrence"},
		},
	}
}

// ResultsDir is the directory every output of the run is written to.
func (c *EnsembleConfig) ResultsDir() string {
	return filepath.Join(c.PathResults, c.ProjectName)
}

// IsWeighted reports whether the consensus strategy needs confidence weights.
func (c *EnsembleConfig) IsWeighted() bool {
	return c.ClassSelection == "weighted_mean" || c.ClassSelection == "weighted_max"
}

// Validate checks for invalid configuration values.
func (c *EnsembleConfig) Validate() error {
	if c.NbIt < 1 {
		return fmt.Errorf("%w: nbIt must be >= 1, got %d", ErrInvalidConfig, c.NbIt)
	}
	if c.SplitNFold == 1 || c.SplitNFold < 0 {
		return fmt.Errorf("%w: splitNFold must be 0 or >= 2, got %d", ErrInvalidConfig, c.SplitNFold)
	}
	if !isKnownStrategy(c.ClassSelection) {
		return fmt.Errorf("%w: classSelection must be one of %s, got %q",
			ErrInvalidConfig, strings.Join(knownStrategies, ", "), c.ClassSelection)
	}
	if c.NbThreads < 1 {
		return fmt.Errorf("%w: nbThreads must be >= 1, got %d", ErrInvalidConfig, c.NbThreads)
	}
	if c.NbClusters < 1 {
		return fmt.Errorf("%w: nbClusters must be >= 1, got %d", ErrInvalidConfig, c.NbClusters)
	}
	if c.FeaturePValueThreshold <= 0 || c.FeaturePValueThreshold > 1 {
		return fmt.Errorf("%w: featurePValueThreshold must be in (0, 1], got %.4g", ErrInvalidConfig, c.FeaturePValueThreshold)
	}
	if c.WeightThreshold < 0 || c.WeightThreshold > 1 {
		return fmt.Errorf("%w: weightThreshold must be between 0 and 1, got %.2f", ErrInvalidConfig, c.WeightThreshold)
	}
	if c.WeightExponent <= 0 {
		return fmt.Errorf("%w: weightExponent must be > 0, got %.2f", ErrInvalidConfig, c.WeightExponent)
	}
	if c.DuplicatePolicy != DuplicateKeepFirst && c.DuplicatePolicy != DuplicateError {
		return fmt.Errorf("%w: duplicatePolicy must be %q or %q, got %q",
			ErrInvalidConfig, DuplicateKeepFirst, DuplicateError, c.DuplicatePolicy)
	}
	if c.ProjectName == "" {
		return fmt.Errorf("%w: projectName cannot be empty", ErrInvalidConfig)
	}
	return nil
}

func isKnownStrategy(name string) bool {
	for _, s := range knownStrategies {
		if s == name {
			return true
		}
	}
	return false
}
