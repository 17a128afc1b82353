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
package features

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/harel-coffee/DeepProg-auto/internal/interfaces"
	"github.com/harel-coffee/DeepProg-auto/internal/logging"
	"github.com/harel-coffee/DeepProg-auto/internal/stats"
)

// DefaultPValueThreshold selects the features re-tested against survival.
const DefaultPValueThreshold = 0.001

// Score is the differential score of one feature for one cluster.
type Score struct {
	Cluster    int
	Omic       string
	Feature    string
	MedianDiff float64
	PValue     float64
}

// SurvivalScore is a differential score re-tested against survival.
type SurvivalScore struct {
	Score
	SurvivalPValue float64
}

// Scorer computes feature significance scores.
type Scorer struct {
	workers   int
	threshold float64
	stats     interfaces.StatsBackend
}

// NewScorer creates a scorer running at most workers units at once.
func NewScorer(sb interfaces.StatsBackend, workers int, threshold float64) *Scorer {
	if workers < 1 {
		workers = 1
	}
	return &Scorer{workers: workers, threshold: threshold, stats: sb}
}

// Workers returns the concurrency limit of the scorer.
func (s *Scorer) Workers() int {
	return s.workers
}

type unit struct {
	omic   string
	column int
	matrix interfaces.FeatureMatrix
}

func units(matrices map[string]interfaces.FeatureMatrix) []unit {
	omics := make([]string, 0, len(matrices))
	for omic := range matrices {
		omics = append(omics, omic)
	}
	sort.Strings(omics)

	var out []unit
	for _, omic := range omics {
		m := matrices[omic]
		for j := range m.Features {
			out = append(out, unit{omic: omic, column: j, matrix: m})
		}
	}
	return out
}

// Differential scores every feature against every cluster of labels. The
// matrices' rows must follow the order of labels.
func (s *Scorer) Differential(ctx context.Context, matrices map[string]interfaces.FeatureMatrix, labels []int) (map[int][]Score, error) {
	for omic, m := range matrices {
		if err := m.Validate(); err != nil {
			return nil, fmt.Errorf("omic %s: %w", omic, err)
		}
		if len(m.SampleIDs) != len(labels) {
			return nil, fmt.Errorf("omic %s has %d samples for %d labels", omic, len(m.SampleIDs), len(labels))
		}
	}

	clusters := distinct(labels)
	work := units(matrices)
	results := make([][]Score, len(work))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, u := range work {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			values := mat.Col(nil, u.column, u.matrix.Values)
			scores := make([]Score, 0, len(clusters))
			for _, c := range clusters {
				in, out := split(values, labels, c)
				scores = append(scores, Score{
					Cluster:    c,
					Omic:       u.omic,
					Feature:    u.matrix.Features[u.column],
					MedianDiff: stats.Median(in) - stats.Median(out),
					PValue:     stats.RankSum(in, out),
				})
			}
			results[i] = scores
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byCluster := make(map[int][]Score, len(clusters))
	for _, c := range clusters {
		byCluster[c] = []Score{}
	}
	for _, scores := range results {
		for _, sc := range scores {
			byCluster[sc.Cluster] = append(byCluster[sc.Cluster], sc)
		}
	}
	for _, list := range byCluster {
		sort.SliceStable(list, func(a, b int) bool { return lessPValue(list[a].PValue, list[b].PValue) })
	}

	ctrl.LoggerFrom(ctx).V(logging.DEBUG).Info("Computed feature scores per cluster",
		"features", len(work), "clusters", len(clusters), "workers", s.workers)
	return byCluster, nil
}

// SurvivalFiltered re-tests, against survival, the differential scores whose
// p-value is below the scorer threshold. matrices, survival and metadata
// (which may be nil) share one sample order.
func (s *Scorer) SurvivalFiltered(ctx context.Context, matrices map[string]interfaces.FeatureMatrix,
	scores map[int][]Score, survival interfaces.Survival, metadata *mat.Dense) (map[int][]SurvivalScore, error) {
	if err := survival.Validate(); err != nil {
		return nil, err
	}

	type candidate struct {
		score  Score
		column int
	}
	columns := map[string]map[string]int{}
	for omic, m := range matrices {
		if len(m.SampleIDs) != survival.Len() {
			return nil, fmt.Errorf("omic %s has %d samples for %d survival records", omic, len(m.SampleIDs), survival.Len())
		}
		idx := make(map[string]int, len(m.Features))
		for j, f := range m.Features {
			idx[f] = j
		}
		columns[omic] = idx
	}

	var work []candidate
	for _, c := range sortedKeys(scores) {
		for _, sc := range scores[c] {
			if !(sc.PValue < s.threshold) {
				continue
			}
			j, ok := columns[sc.Omic][sc.Feature]
			if !ok {
				continue
			}
			work = append(work, candidate{score: sc, column: j})
		}
	}

	results := make([]SurvivalScore, len(work))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, cand := range work {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			values := mat.Col(nil, cand.column, matrices[cand.score.Omic].Values)
			p, err := s.stats.LogRankPValue(values, survival.Events, survival.Days, metadata)
			if errors.Is(err, interfaces.ErrNotAvailable) {
				p, err = math.NaN(), nil
			}
			if err != nil {
				return fmt.Errorf("feature %s/%s: %w", cand.score.Omic, cand.score.Feature, err)
			}
			results[i] = SurvivalScore{Score: cand.score, SurvivalPValue: p}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[int][]SurvivalScore, len(scores))
	for _, c := range sortedKeys(scores) {
		out[c] = []SurvivalScore{}
	}
	for _, r := range results {
		out[r.Cluster] = append(out[r.Cluster], r)
	}
	for _, list := range out {
		sort.SliceStable(list, func(a, b int) bool { return lessPValue(list[a].SurvivalPValue, list[b].SurvivalPValue) })
	}
	return out, nil
}

// Partition splits scores into over-expressed features (MedianDiff > 0) and
// the rest, walking clusters in ascending order.
func Partition(scores map[int][]Score) (positive, nonPositive []Score) {
	for _, c := range sortedKeys(scores) {
		for _, sc := range scores[c] {
			if sc.MedianDiff > 0 {
				positive = append(positive, sc)
			} else {
				nonPositive = append(nonPositive, sc)
			}
		}
	}
	return positive, nonPositive
}

// Count returns the total number of scores across clusters.
func Count[T any](scores map[int][]T) int {
	n := 0
	for _, list := range scores {
		n += len(list)
	}
	return n
}

func split(values []float64, labels []int, cluster int) (in, out []float64) {
	for i, v := range values {
		if labels[i] == cluster {
			in = append(in, v)
		} else {
			out = append(out, v)
		}
	}
	return in, out
}

func distinct(labels []int) []int {
	seen := map[int]struct{}{}
	var out []int
	for _, l := range labels {
		if _, ok := seen[l]; !ok {
			seen[l] = struct{}{}
			out = append(out, l)
		}
	}
	sort.Ints(out)
	return out
}

func sortedKeys[T any](m map[int][]T) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

// lessPValue orders p-values ascending with NaN last.
func lessPValue(a, b float64) bool {
	if math.IsNaN(a) {
		return false
	}
	if math.IsNaN(b) {
		return true
	}
	return a < b
}
