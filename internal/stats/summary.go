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
package stats

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// finite returns the non-NaN entries of x.
func finite(x []float64) []float64 {
	out := make([]float64, 0, len(x))
	for _, v := range x {
		if !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	return out
}

// NaNMeanStd returns the mean and population standard deviation of the
// non-NaN entries of x, or NaN for both when there are none.
func NaNMeanStd(x []float64) (mean, std float64) {
	x = finite(x)
	if len(x) == 0 {
		return math.NaN(), math.NaN()
	}
	return stat.PopMeanStdDev(x, nil)
}

// NaNMean returns the mean of the non-NaN entries of x.
func NaNMean(x []float64) float64 {
	m, _ := NaNMeanStd(x)
	return m
}

// GeometricMean returns the geometric mean of the non-NaN entries of x.
// A zero entry yields 0.
func GeometricMean(x []float64) float64 {
	x = finite(x)
	if len(x) == 0 {
		return math.NaN()
	}
	for _, v := range x {
		if v == 0 {
			return 0
		}
	}
	return stat.GeometricMean(x, nil)
}

// Median returns the median of the non-NaN entries of x, averaging the two
// middle values of an even-sized sample.
func Median(x []float64) float64 {
	return Percentile(x, 50)
}

// Percentile returns the q-th percentile (0..100) of the non-NaN entries of
// x, interpolating linearly between the closest ranks.
func Percentile(x []float64, q float64) float64 {
	s := finite(x)
	if len(s) == 0 {
		return math.NaN()
	}
	sort.Float64s(s)
	pos := q / 100 * float64(len(s)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return s[lo]
	}
	frac := pos - float64(lo)
	return s[lo] + frac*(s[hi]-s[lo])
}

// LabelsFromProbabilities turns first-cluster probabilities into nbClusters
// ordered categories: samples at or above the percentile 100*(1-1/(c+1)) get
// label nbClusters-c, later clusters overwriting earlier ones.
func LabelsFromProbabilities(probas []float64, nbClusters int) []int {
	labels := make([]int, len(probas))
	for c := 0; c < nbClusters; c++ {
		threshold := Percentile(probas, 100*(1-1/float64(c+1)))
		for i, p := range probas {
			if p >= threshold {
				labels[i] = nbClusters - c
			}
		}
	}
	return labels
}
