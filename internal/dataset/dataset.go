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

package dataset

import (
	"context"
	"os"

	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/harel-coffee/DeepProg-auto/internal/config"
	"github.com/harel-coffee/DeepProg-auto/internal/logging"
)

// Dataset is one resampled partition of the cohort. It is immutable once
// built and owned by exactly one weak learner.
type Dataset struct {
	// Index is the position of the dataset in the ensemble.
	Index int

	// Seed seeds both the K-fold split and the learner's embedding.
	Seed int64

	// Split is nil when no internal train/validation split is made.
	Split *KFold

	normalization config.NormalizationConfig
	autoencoder   config.AutoencoderConfig
	load          config.LoadParams
}

// Normalization returns a copy of the dataset's normalization configuration.
func (d *Dataset) Normalization() config.NormalizationConfig {
	return d.normalization.Clone()
}

// Autoencoder returns a copy of the dataset's embedding configuration.
func (d *Dataset) Autoencoder() config.AutoencoderConfig {
	return d.autoencoder.Clone()
}

// LoadParams returns the shared dataset-loading parameters.
func (d *Dataset) LoadParams() config.LoadParams {
	return d.load
}

// Partition returns the training and validation sample positions for a cohort
// of n samples. Without a split every sample is used for training.
func (d *Dataset) Partition(n int) (train, validation []int, err error) {
	if d.Split == nil {
		train = make([]int, n)
		for i := range train {
			train[i] = i
		}
		return train, nil, nil
	}
	folds, err := d.Split.Split(n)
	if err != nil {
		return nil, nil, err
	}
	return folds[0].Train, folds[0].Validation, nil
}

// Factory produces the resampled datasets of one ensemble.
type Factory struct {
	cfg    config.EnsembleConfig
	master int64
}

// NewFactory creates a factory for cfg using the given master seed.
func NewFactory(cfg config.EnsembleConfig, master int64) *Factory {
	return &Factory{cfg: cfg, master: master}
}

// MasterSeed returns the seed every dataset seed is derived from.
func (f *Factory) MasterSeed() int64 {
	return f.master
}

// Build creates exactly NbIt datasets. The results directory is created if
// missing; failing to create it is logged and does not stop the build.
func (f *Factory) Build(ctx context.Context) ([]*Dataset, error) {
	logger := ctrl.LoggerFrom(ctx)

	dir := f.cfg.ResultsDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logger.Error(err, "Cannot find or create the result path, consider changing it", "path", dir)
	}

	seeds := DeriveSeeds(f.master, f.cfg.NbIt)
	datasets := make([]*Dataset, f.cfg.NbIt)
	for i, seed := range seeds {
		var split *KFold
		if f.cfg.SplitNFold > 0 {
			split = &KFold{NSplits: f.cfg.SplitNFold, Shuffle: true, Seed: seed}
		}
		ae := f.cfg.Autoencoder.Clone()
		ae.Seed = seed
		datasets[i] = &Dataset{
			Index:         i,
			Seed:          seed,
			Split:         split,
			normalization: f.cfg.Normalization.Clone(),
			autoencoder:   ae,
			load:          f.cfg.Data,
		}
	}

	logger.V(logging.DEBUG).Info("Built resampled datasets",
		"count", len(datasets),
		"masterSeed", f.master,
		"splitNFold", f.cfg.SplitNFold)
	return datasets, nil
}
