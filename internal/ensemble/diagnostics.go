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
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/harel-coffee/DeepProg-auto/internal/confidence"
	"github.com/harel-coffee/DeepProg-auto/internal/interfaces"
	"github.com/harel-coffee/DeepProg-auto/internal/ledger"
	"github.com/harel-coffee/DeepProg-auto/internal/logging"
	"github.com/harel-coffee/DeepProg-auto/internal/stats"
)

// CollectCIndexForTestFold computes the out-of-fold concordance index of
// every model and keeps it as the consensus weight vector. A failure is
// logged and yields NaN weights.
func (e *Ensemble) CollectCIndexForTestFold(ctx context.Context) []float64 {
	logger := ctrl.LoggerFrom(ctx)
	if err := e.requireFitted(); err != nil {
		logger.Error(err, "Cannot compute the c-index for test fold")
		return nil
	}
	defer e.track("confidence")()

	report, err := e.confidence.Collect(ctx, e.pool.Learners())
	e.weights = report.Weights
	e.ledger.Set(ledger.KeyCIndexTestFold, report.Mean)
	if err != nil {
		logger.Error(err, "Exception while computing the c-index for test fold")
		return e.Weights()
	}
	e.predicted = true
	e.metrics.ObserveConfidence(report.Weights)
	logger.Info("C-index results for test fold", "mean", report.Mean, "std", report.Std)
	return e.Weights()
}

// CollectCIndexForFullDataset records the mean concordance index of the
// models on every sample they labelled.
func (e *Ensemble) CollectCIndexForFullDataset(ctx context.Context) (confidence.Report, error) {
	if err := e.requireFitted(); err != nil {
		return confidence.Report{}, err
	}
	if err := e.predictHoldout(ctx); err != nil {
		return confidence.Report{}, err
	}
	return e.collectScope(ctx, confidence.Full, ledger.KeyCIndexFull)
}

// CollectCIndexForTrainingDataset records the mean concordance index of the
// models on their training samples.
func (e *Ensemble) CollectCIndexForTrainingDataset(ctx context.Context) (confidence.Report, error) {
	if err := e.requireFitted(); err != nil {
		return confidence.Report{}, err
	}
	return e.collectScope(ctx, confidence.Training, ledger.KeyCIndexTrain)
}

func (e *Ensemble) collectScope(ctx context.Context, scope confidence.Scope, key string) (confidence.Report, error) {
	report, err := e.confidence.CollectScope(ctx, e.pool.Learners(), scope)
	e.ledger.Set(key, report.Mean)
	if err != nil {
		ctrl.LoggerFrom(ctx).Error(err, "Exception while computing the c-index", "scope", scope.String())
		return report, err
	}
	ctrl.LoggerFrom(ctx).Info("C-index results", "scope", scope.String(), "mean", report.Mean, "std", report.Std)
	return report, nil
}

// PValues are per-model log-rank p-values and their NaN-aware geometric means.
type PValues struct {
	PValues      []float64
	PValuesProba []float64
	GeoMean      float64
	GeoMeanProba float64
}

// CollectPValueOnTrainingDataset gathers the training p-values of every model.
func (e *Ensemble) CollectPValueOnTrainingDataset(ctx context.Context) (PValues, error) {
	if err := e.requireFitted(); err != nil {
		return PValues{}, err
	}
	pv, err := e.collectPValues(interfaces.AttrTrainPValue, interfaces.AttrTrainPValueProba)
	if err != nil {
		return PValues{}, err
	}
	e.ledger.Set(ledger.KeyPValueGeoMeanTrain, pv.GeoMean)
	e.ledger.Set(ledger.KeyPValueProbaGeoMeanTrain, pv.GeoMeanProba)
	ctrl.LoggerFrom(ctx).V(logging.DEBUG).Info("Training geo mean p-values", "pvalue", pv.GeoMean, "pvalueProba", pv.GeoMeanProba)
	return pv, nil
}

// CollectPValueOnTestFold gathers the held-out p-values of every model,
// predicting the held-out folds first when needed.
func (e *Ensemble) CollectPValueOnTestFold(ctx context.Context) (PValues, error) {
	if err := e.requireFitted(); err != nil {
		return PValues{}, err
	}
	if err := e.predictHoldout(ctx); err != nil {
		return PValues{}, err
	}
	pv, err := e.collectPValues(interfaces.AttrCVPValue, interfaces.AttrCVPValueProba)
	if err != nil {
		return PValues{}, err
	}
	e.ledger.Set(ledger.KeyPValueGeoMeanTestFold, pv.GeoMean)
	e.ledger.Set(ledger.KeyPValueProbaGeoMeanTestFold, pv.GeoMeanProba)
	ctrl.LoggerFrom(ctx).V(logging.DEBUG).Info("Test fold geo mean p-values", "pvalue", pv.GeoMean, "pvalueProba", pv.GeoMeanProba)
	return pv, nil
}

func (e *Ensemble) collectPValues(labels, probas interfaces.Attribute) (PValues, error) {
	models := e.pool.Learners()
	pv := PValues{
		PValues:      make([]float64, len(models)),
		PValuesProba: make([]float64, len(models)),
	}
	for i, m := range models {
		var err error
		if pv.PValues[i], err = interfaces.ReadFloat(m, labels); err != nil {
			return PValues{}, fmt.Errorf("model %d: %w", i, err)
		}
		if pv.PValuesProba[i], err = interfaces.ReadFloat(m, probas); err != nil {
			return PValues{}, fmt.Errorf("model %d: %w", i, err)
		}
	}
	pv.GeoMean = stats.GeometricMean(pv.PValues)
	pv.GeoMeanProba = stats.GeometricMean(pv.PValuesProba)
	return pv, nil
}

// ComputePValueForMergedTestFold concatenates the held-out labels and
// survival of every model and tests them as one cohort, adjusted for the
// held-out metadata rows when UseMetadata is set. Without held-out samples
// it returns NaN.
func (e *Ensemble) ComputePValueForMergedTestFold(ctx context.Context) (float64, error) {
	logger := ctrl.LoggerFrom(ctx)
	if err := e.requireFitted(); err != nil {
		return math.NaN(), err
	}
	if err := e.predictHoldout(ctx); err != nil {
		return math.NaN(), err
	}

	var labels []float64
	var surv interfaces.Survival
	var metadata []*mat.Dense
	for i, m := range e.pool.Learners() {
		s, err := interfaces.ReadSurvival(m, interfaces.DatasetSurvivalCV)
		if err != nil {
			return math.NaN(), fmt.Errorf("model %d: %w", i, err)
		}
		l, err := interfaces.ReadLabels(m, interfaces.AttrCVLabels)
		if err != nil {
			return math.NaN(), fmt.Errorf("model %d: %w", i, err)
		}
		if len(l) != s.Len() {
			return math.NaN(), fmt.Errorf("model %d: %d held-out labels for %d survival records", i, len(l), s.Len())
		}
		if e.cfg.UseMetadata && s.Len() > 0 {
			meta, err := interfaces.ReadMatrix(m, interfaces.DatasetMetadataCV)
			if err != nil {
				return math.NaN(), fmt.Errorf("model %d: %w", i, err)
			}
			if meta == nil {
				return math.NaN(), fmt.Errorf("model %d: no held-out metadata while useMetadata is set", i)
			}
			if r, _ := meta.Dims(); r != s.Len() {
				return math.NaN(), fmt.Errorf("model %d: %d held-out metadata rows for %d survival records", i, r, s.Len())
			}
			metadata = append(metadata, meta)
		}
		surv = surv.Append(s)
		labels = append(labels, intsToFloats(l)...)
	}
	if surv.Len() == 0 {
		logger.Info("No survival dataset for the test folds")
		return math.NaN(), nil
	}

	covariates, err := stackRows(metadata)
	if err != nil {
		return math.NaN(), err
	}
	p, err := e.pvalue(labels, surv, covariates)
	if err != nil {
		return math.NaN(), err
	}
	logger.Info("P-value for the concatenated test folds", "pvalue", p, "samples", surv.Len())
	e.ledger.Set(ledger.KeyPValueCVTest, p)
	return p, nil
}

// ClusterPerformance holds the mean clustering quality scores of the pool.
type ClusterPerformance struct {
	BIC        float64
	Silhouette float64
	Calinski   float64
}

// EvaluateClusterPerformance averages the clustering quality scores of the
// models. It is skipped, returning false, for a pool fitted from label files.
func (e *Ensemble) EvaluateClusterPerformance(ctx context.Context) (ClusterPerformance, bool, error) {
	logger := ctrl.LoggerFrom(ctx)
	if err := e.requireFitted(); err != nil {
		return ClusterPerformance{}, false, err
	}
	if e.pretrained {
		logger.Info("Model is fitted on pretrained labels, cannot evaluate cluster performance")
		return ClusterPerformance{}, false, nil
	}

	read := func(name interfaces.Attribute) ([]float64, error) {
		models := e.pool.Learners()
		out := make([]float64, len(models))
		for i, m := range models {
			v, err := interfaces.ReadFloat(m, name)
			if err != nil {
				return nil, fmt.Errorf("model %d: %w", i, err)
			}
			out[i] = v
		}
		return out, nil
	}

	var perf ClusterPerformance
	for _, s := range []struct {
		attr interfaces.Attribute
		key  string
		dst  *float64
	}{
		{interfaces.AttrBIC, ledger.KeyBIC, &perf.BIC},
		{interfaces.AttrSilhouette, ledger.KeySilhouette, &perf.Silhouette},
		{interfaces.AttrCalinski, ledger.KeyCalinski, &perf.Calinski},
	} {
		scores, err := read(s.attr)
		if err != nil {
			return ClusterPerformance{}, false, err
		}
		mean, std := stats.NaNMeanStd(scores)
		*s.dst = mean
		e.ledger.Set(s.key, mean)
		logger.V(logging.DEBUG).Info("Cluster score", "score", string(s.attr), "mean", mean, "std", std)
	}
	return perf, true, nil
}

// CollectNumberOfFeaturesPerOmic records the mean number of valid nodes per omic.
func (e *Ensemble) CollectNumberOfFeaturesPerOmic(ctx context.Context) (map[string]float64, error) {
	if err := e.requireFitted(); err != nil {
		return nil, err
	}
	counts := map[string][]float64{}
	for i, m := range e.pool.Learners() {
		nodes, err := interfaces.ReadNodeCounts(m, interfaces.AttrValidNodeCounts)
		if err != nil {
			return nil, fmt.Errorf("model %d: %w", i, err)
		}
		for omic, n := range nodes {
			counts[omic] = append(counts[omic], float64(n))
		}
	}

	means := make(map[string]float64, len(counts))
	for _, omic := range sortedOmics(counts) {
		mean, std := stats.NaNMeanStd(counts[omic])
		means[omic] = mean
		ctrl.LoggerFrom(ctx).V(logging.DEBUG).Info("Features per omic", "omic", omic, "mean", mean, "std", std)
	}
	e.ledger.Set(ledger.KeyFeaturesPerOmic, means)
	return means, nil
}

// stackRows concatenates blocks vertically. It returns nil for no blocks.
func stackRows(blocks []*mat.Dense) (*mat.Dense, error) {
	if len(blocks) == 0 {
		return nil, nil
	}
	var rows int
	_, cols := blocks[0].Dims()
	for i, b := range blocks {
		r, c := b.Dims()
		if c != cols {
			return nil, fmt.Errorf("metadata block %d has %d columns, expected %d", i, c, cols)
		}
		rows += r
	}
	out := mat.NewDense(rows, cols, nil)
	offset := 0
	for _, b := range blocks {
		r, _ := b.Dims()
		for i := 0; i < r; i++ {
			out.SetRow(offset+i, b.RawRowView(i))
		}
		offset += r
	}
	return out, nil
}
