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
// Package agreement measures how consistently the weak learners of an
// ensemble cluster the same samples.
package agreement

import (
	"fmt"
	"math"

	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/harel-coffee/DeepProg-auto/internal/stats"
)

// Assignment is the labelling one model gives to its samples.
type Assignment struct {
	SampleIDs []string
	Labels    []int
}

// Summary holds the agreement score of every unordered model pair, in
// (0,1), (0,2) ... (1,2) ... order, with their mean and standard deviation.
type Summary struct {
	Scores []float64
	Mean   float64
	Std    float64
}

// AdjustedRandIndex returns the chance-corrected agreement between two
// labellings of the same samples. Identical partitions score 1, including
// the degenerate case of a single cluster on both sides.
func AdjustedRandIndex(a, b []int) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("labellings have different lengths: %d and %d", len(a), len(b))
	}
	n := len(a)
	if n < 2 {
		return 1, nil
	}

	type cell struct{ a, b int }
	contingency := map[cell]int{}
	rows := map[int]int{}
	cols := map[int]int{}
	for i := range a {
		contingency[cell{a[i], b[i]}]++
		rows[a[i]]++
		cols[b[i]]++
	}

	var index, sumRows, sumCols float64
	for _, c := range contingency {
		index += comb2(c)
	}
	for _, c := range rows {
		sumRows += comb2(c)
	}
	for _, c := range cols {
		sumCols += comb2(c)
	}

	expected := sumRows * sumCols / comb2(n)
	maxIndex := (sumRows + sumCols) / 2
	if maxIndex == expected {
		return 1, nil
	}
	return (index - expected) / (maxIndex - expected), nil
}

func comb2(n int) float64 {
	return float64(n) * float64(n-1) / 2
}

// CanonicalIndex returns the sorted identifiers present in both a and b.
func CanonicalIndex(a, b []string) []string {
	return sets.List(sets.New(a...).Intersection(sets.New(b...)))
}

// Realign returns the labels of canonical, looked up by identifier in ids.
// When an identifier repeats in ids, its first label is used.
func Realign(ids []string, labels []int, canonical []string) ([]int, error) {
	if len(ids) != len(labels) {
		return nil, fmt.Errorf("%d sample ids for %d labels", len(ids), len(labels))
	}
	pos := make(map[string]int, len(ids))
	for i, id := range ids {
		if _, seen := pos[id]; !seen {
			pos[id] = i
		}
	}
	out := make([]int, len(canonical))
	for i, id := range canonical {
		j, ok := pos[id]
		if !ok {
			return nil, fmt.Errorf("sample %q has no label", id)
		}
		out[i] = labels[j]
	}
	return out, nil
}

// ScorePairs scores every unordered pair of assignments on the samples they
// share, after realigning both by identifier. A pair sharing fewer than two
// samples scores NaN and is left out of the mean.
func ScorePairs(assignments []Assignment) (Summary, error) {
	var scores []float64
	for i := 0; i < len(assignments); i++ {
		for j := i + 1; j < len(assignments); j++ {
			s, err := scorePair(assignments[i], assignments[j])
			if err != nil {
				return Summary{}, fmt.Errorf("models %d and %d: %w", i, j, err)
			}
			scores = append(scores, s)
		}
	}
	return summarize(scores), nil
}

func scorePair(x, y Assignment) (float64, error) {
	canonical := CanonicalIndex(x.SampleIDs, y.SampleIDs)
	if len(canonical) < 2 {
		return math.NaN(), nil
	}
	lx, err := Realign(x.SampleIDs, x.Labels, canonical)
	if err != nil {
		return 0, err
	}
	ly, err := Realign(y.SampleIDs, y.Labels, canonical)
	if err != nil {
		return 0, err
	}
	return AdjustedRandIndex(lx, ly)
}

// ScoreAligned scores every unordered pair of labellings that already share
// the same sample order.
func ScoreAligned(labels [][]int) (Summary, error) {
	var scores []float64
	for i := 0; i < len(labels); i++ {
		for j := i + 1; j < len(labels); j++ {
			s, err := AdjustedRandIndex(labels[i], labels[j])
			if err != nil {
				return Summary{}, fmt.Errorf("models %d and %d: %w", i, j, err)
			}
			scores = append(scores, s)
		}
	}
	return summarize(scores), nil
}

func summarize(scores []float64) Summary {
	mean, std := stats.NaNMeanStd(scores)
	return Summary{Scores: scores, Mean: mean, Std: std}
}
