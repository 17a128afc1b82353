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
package consensus

import (
	"fmt"
	"math"
)

// prepareWeights cleans weights for a weighted strategy, or returns nil.
func prepareWeights(t *Tensor, cleaning *WeightCleaning, weights []float64) ([]float64, error) {
	if cleaning == nil {
		return nil, nil
	}
	if len(weights) != t.Models() {
		return nil, fmt.Errorf("got %d weights for %d models", len(weights), t.Models())
	}
	return cleaning.Clean(weights), nil
}

// meanAggregator averages the present models per cluster, weighted when
// cleaning is set. A sample whose present models all have weight 0 falls
// back to the unweighted mean.
type meanAggregator struct {
	cleaning *WeightCleaning
}

func (a *meanAggregator) Aggregate(t *Tensor, weights []float64) (Result, error) {
	w, err := prepareWeights(t, a.cleaning, weights)
	if err != nil {
		return Result{}, err
	}
	res := newResult(t)
	for s := 0; s < t.Samples(); s++ {
		vec := res.Probabilities[s]
		var total float64
		if w != nil {
			total = accumulateMean(t, s, w, vec)
		}
		if total == 0 {
			for c := range vec {
				vec[c] = 0
			}
			total = accumulateMean(t, s, nil, vec)
		}
		if total > 0 {
			for c := range vec {
				vec[c] /= total
			}
		}
		res.Labels[s] = argmax(vec)
	}
	return res, nil
}

func accumulateMean(t *Tensor, s int, w []float64, vec []float64) float64 {
	var total float64
	for m := 0; m < t.Models(); m++ {
		if !t.Present(m, s) {
			continue
		}
		weight := 1.0
		if w != nil {
			weight = w[m]
		}
		if weight == 0 {
			continue
		}
		total += weight
		for c := range vec {
			vec[c] += weight * t.At(m, s, c)
		}
	}
	return total
}

// maxAggregator takes the per-cluster maximum over present models, of the
// weighted probability when cleaning is set.
type maxAggregator struct {
	cleaning *WeightCleaning
}

func (a *maxAggregator) Aggregate(t *Tensor, weights []float64) (Result, error) {
	w, err := prepareWeights(t, a.cleaning, weights)
	if err != nil {
		return Result{}, err
	}
	res := newResult(t)
	for s := 0; s < t.Samples(); s++ {
		vec := res.Probabilities[s]
		found := w != nil && accumulateMax(t, s, w, vec)
		if !found {
			accumulateMax(t, s, nil, vec)
		}
		for c := range vec {
			if math.IsInf(vec[c], -1) {
				vec[c] = 0
			}
		}
		res.Labels[s] = argmax(vec)
	}
	return res, nil
}

func accumulateMax(t *Tensor, s int, w []float64, vec []float64) bool {
	for c := range vec {
		vec[c] = math.Inf(-1)
	}
	found := false
	for m := 0; m < t.Models(); m++ {
		if !t.Present(m, s) {
			continue
		}
		weight := 1.0
		if w != nil {
			weight = w[m]
		}
		if weight == 0 {
			continue
		}
		found = true
		for c := range vec {
			if v := weight * t.At(m, s, c); v > vec[c] {
				vec[c] = v
			}
		}
	}
	return found
}

func newResult(t *Tensor) Result {
	res := Result{
		SampleIDs:     t.SampleIDs(),
		Labels:        make([]int, t.Samples()),
		Probabilities: make([][]float64, t.Samples()),
	}
	for s := range res.Probabilities {
		res.Probabilities[s] = make([]float64, t.Clusters())
	}
	return res
}
