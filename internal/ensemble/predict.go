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
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/harel-coffee/DeepProg-auto/internal/agreement"
	"github.com/harel-coffee/DeepProg-auto/internal/confidence"
	"github.com/harel-coffee/DeepProg-auto/internal/engines/consensus"
	"github.com/harel-coffee/DeepProg-auto/internal/interfaces"
	"github.com/harel-coffee/DeepProg-auto/internal/ledger"
	"github.com/harel-coffee/DeepProg-auto/internal/logging"
	"github.com/harel-coffee/DeepProg-auto/internal/stats"
)

// FullLabels is the consensus stratification of every sample seen by the pool.
// Survival and Metadata follow SampleIDs.
type FullLabels struct {
	SampleIDs     []string
	Labels        []int
	Probabilities [][]float64
	Survival      interfaces.Survival
	Metadata      *mat.Dense

	PValue      float64
	PValueProba float64
	PValueCat   float64
}

// Clusters returns the number of clusters of the probability vectors.
func (f *FullLabels) Clusters() int {
	if len(f.Probabilities) == 0 {
		return 0
	}
	return len(f.Probabilities[0])
}

// FirstClusterProbabilities returns the probability of cluster 0 of every sample.
func (f *FullLabels) FirstClusterProbabilities() []float64 {
	return consensus.Result{Probabilities: f.Probabilities}.FirstClusterProbabilities()
}

// FullLabels returns the consensus computed by PredictLabelsOnFullDataset, or nil.
func (e *Ensemble) FullLabels() *FullLabels {
	return e.full
}

// PredictLabelsOnFullDataset merges the full-sample probabilities of every
// model into the consensus, tests it against survival and writes
// <project>_full_labels.tsv through the first model.
func (e *Ensemble) PredictLabelsOnFullDataset(ctx context.Context) error {
	logger := ctrl.LoggerFrom(ctx)
	if err := e.requireFitted(); err != nil {
		return err
	}
	defer e.track("consensus")()

	models := e.pool.Learners()
	perModel := make([][]interfaces.SampleProba, len(models))
	clusters := e.cfg.NbClusters
	for i, m := range models {
		probas, err := interfaces.ReadSampleProbas(m, interfaces.AttrFullProbas)
		if err != nil {
			return fmt.Errorf("model %d: %w", i, err)
		}
		perModel[i] = probas
		for _, sp := range probas {
			clusters = max(clusters, len(sp.Proba))
		}
	}
	padProbas(perModel, clusters)

	tensor, err := consensus.BuildTensor(perModel, clusters, e.duplicates)
	if err != nil {
		return err
	}
	res, err := e.aggregator.Aggregate(tensor, e.consensusWeights(ctx, len(models)))
	if err != nil {
		return err
	}

	full := &FullLabels{
		SampleIDs:     res.SampleIDs,
		Labels:        res.Labels,
		Probabilities: res.Probabilities,
	}
	if full.Survival, full.Metadata, err = reorderSurvival(models[0], full.SampleIDs); err != nil {
		return err
	}

	logger.Info("Report of assigned clusters for the full dataset", "samples", len(full.Labels), "clusters", clusterSizes(full.Labels))
	e.metrics.ObserveConsensus(full.Labels)

	first := full.FirstClusterProbabilities()
	if full.PValue, err = e.pvalue(intsToFloats(full.Labels), full.Survival, nil); err != nil {
		return err
	}
	if full.PValueProba, err = e.pvalue(first, full.Survival, nil); err != nil {
		return err
	}
	categorical := stats.LabelsFromProbabilities(first, full.Clusters())
	if full.PValueCat, err = e.pvalue(intsToFloats(categorical), full.Survival, nil); err != nil {
		return err
	}
	e.ledger.Set(ledger.KeyPValueFull, full.PValue)
	e.ledger.Set(ledger.KeyPValueProbaFull, full.PValueProba)
	e.ledger.Set(ledger.KeyPValueCatFull, full.PValueCat)
	logger.V(logging.DEBUG).Info("Cox-PH p-values for the consensus labels",
		"pvalue", full.PValue,
		"pvalueProba", full.PValueProba,
		"pvalueCat", full.PValueCat)

	e.full = full
	return models[0].WriteLabels(ctx, interfaces.LabelFile{
		Destination:   e.cfg.ProjectName + "_full_labels",
		SampleIDs:     full.SampleIDs,
		Labels:        full.Labels,
		Probabilities: first,
		Survival:      full.Survival,
	})
}

// consensusWeights returns the concordance weights of the pool. Missing
// weights read as NaN, which weight cleaning turns into a uniform vote.
func (e *Ensemble) consensusWeights(ctx context.Context, models int) []float64 {
	if !e.strategy.Weighted() {
		return nil
	}
	if len(e.weights) == models {
		return e.weights
	}
	ctrl.LoggerFrom(ctx).Info("No concordance weight for the current pool, using a uniform vote",
		"weights", len(e.weights), "models", models)
	w := make([]float64, models)
	for i := range w {
		w[i] = math.NaN()
	}
	return w
}

// ComputeCIndexForFullDataset scores the consensus labels, first-cluster
// probabilities and categorical labels against survival on the full dataset.
func (e *Ensemble) ComputeCIndexForFullDataset(ctx context.Context) (float64, error) {
	if e.full == nil {
		return math.NaN(), ErrNoConsensus
	}
	surv := e.full.Survival
	first := e.full.FirstClusterProbabilities()
	values := map[string][]float64{
		ledger.KeyCIndexConsensusFull:      intsToFloats(e.full.Labels),
		ledger.KeyCIndexProbaConsensusFull: first,
		ledger.KeyCIndexCatConsensusFull:   intsToFloats(stats.LabelsFromProbabilities(first, e.full.Clusters())),
	}
	out := map[string]float64{}
	for key, v := range values {
		c, err := confidence.Normalize(e.stats.ConcordanceIndex(v, surv.Events, surv.Days, v, surv.Events, surv.Days))
		if err != nil {
			return math.NaN(), err
		}
		out[key] = c
		e.ledger.Set(key, c)
	}
	ctrl.LoggerFrom(ctx).V(logging.DEBUG).Info("C-index for the consensus on the full dataset",
		"cindex", out[ledger.KeyCIndexConsensusFull],
		"cindexProba", out[ledger.KeyCIndexProbaConsensusFull],
		"cindexCat", out[ledger.KeyCIndexCatConsensusFull])
	return out[ledger.KeyCIndexConsensusFull], nil
}

// ComputeClustersConsistencyForFullLabels scores the agreement of every pair
// of models on the samples they share.
func (e *Ensemble) ComputeClustersConsistencyForFullLabels(ctx context.Context) (agreement.Summary, error) {
	if err := e.requireFitted(); err != nil {
		return agreement.Summary{}, err
	}
	defer e.track("agreement")()

	models := e.pool.Learners()
	assignments := make([]agreement.Assignment, len(models))
	for i, m := range models {
		labels, err := interfaces.ReadLabels(m, interfaces.AttrFullLabels)
		if err != nil {
			return agreement.Summary{}, fmt.Errorf("model %d: %w", i, err)
		}
		ids, err := interfaces.ReadSampleIDs(m, interfaces.DatasetSampleIDsFull)
		if err != nil {
			return agreement.Summary{}, fmt.Errorf("model %d: %w", i, err)
		}
		assignments[i] = agreement.Assignment{SampleIDs: ids, Labels: labels}
	}

	summary, err := agreement.ScorePairs(assignments)
	if err != nil {
		return agreement.Summary{}, err
	}
	ctrl.LoggerFrom(ctx).Info("Adj. Rand scores for full labels", "mean", summary.Mean, "std", summary.Std, "pairs", len(summary.Scores))
	e.ledger.Set(ledger.KeyAdjustedRand, summary.Mean)
	return summary, nil
}

// reorderSurvival returns the survival and metadata rows of model for ids.
func reorderSurvival(model interfaces.WeakLearner, ids []string) (interfaces.Survival, *mat.Dense, error) {
	known, err := interfaces.ReadSampleIDs(model, interfaces.DatasetSampleIDsFull)
	if err != nil {
		return interfaces.Survival{}, nil, err
	}
	surv, err := interfaces.ReadSurvival(model, interfaces.DatasetSurvivalFull)
	if err != nil {
		return interfaces.Survival{}, nil, err
	}
	if surv.Len() != len(known) {
		return interfaces.Survival{}, nil, fmt.Errorf("%d survival records for %d full samples", surv.Len(), len(known))
	}
	pos := make(map[string]int, len(known))
	for i, id := range known {
		if _, seen := pos[id]; !seen {
			pos[id] = i
		}
	}
	index := make([]int, len(ids))
	for i, id := range ids {
		j, ok := pos[id]
		if !ok {
			return interfaces.Survival{}, nil, fmt.Errorf("sample %q has no survival record", id)
		}
		index[i] = j
	}

	meta, err := interfaces.ReadMatrix(model, interfaces.DatasetMetadataFull)
	if err != nil {
		return interfaces.Survival{}, nil, err
	}
	if meta != nil {
		_, cols := meta.Dims()
		rows := mat.NewDense(len(index), cols, nil)
		for i, j := range index {
			rows.SetRow(i, meta.RawRowView(j))
		}
		meta = rows
	}
	return surv.Subset(index), meta, nil
}

// pvalue runs the log-rank test, mapping an unavailable result to NaN.
func (e *Ensemble) pvalue(values []float64, surv interfaces.Survival, covariates *mat.Dense) (float64, error) {
	p, err := e.stats.LogRankPValue(values, surv.Events, surv.Days, covariates)
	if errors.Is(err, interfaces.ErrNotAvailable) {
		return math.NaN(), nil
	}
	return p, err
}

// padProbas extends every probability vector shorter than clusters with
// zeros. The learners' slices are not modified.
func padProbas(perModel [][]interfaces.SampleProba, clusters int) {
	for m, probas := range perModel {
		var padded []interfaces.SampleProba
		for i, sp := range probas {
			if len(sp.Proba) >= clusters {
				continue
			}
			if padded == nil {
				padded = append([]interfaces.SampleProba(nil), probas...)
			}
			vec := make([]float64, clusters)
			copy(vec, sp.Proba)
			padded[i].Proba = vec
		}
		if padded != nil {
			perModel[m] = padded
		}
	}
}

func clusterSizes(labels []int) map[int]int {
	sizes := map[int]int{}
	for _, l := range labels {
		sizes[l]++
	}
	return sizes
}

func intsToFloats(x []int) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = float64(v)
	}
	return out
}

func sortedOmics[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
