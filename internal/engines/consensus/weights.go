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

const (
	// DefaultWeightThreshold is the weight below which a model is silenced.
	DefaultWeightThreshold = 0.5
	// DefaultWeightExponent sharpens the weights that pass the threshold.
	DefaultWeightExponent = 4.0
)

// WeightCleaning gates and sharpens per-model weights before a weighted vote.
type WeightCleaning struct {
	Threshold float64
	Exponent  float64
}

// DefaultWeightCleaning returns the threshold 0.5, exponent 4 cleaning.
func DefaultWeightCleaning() WeightCleaning {
	return WeightCleaning{Threshold: DefaultWeightThreshold, Exponent: DefaultWeightExponent}
}

// Validate checks the cleaning parameters.
func (w WeightCleaning) Validate() error {
	if math.IsNaN(w.Threshold) || w.Threshold < 0 {
		return fmt.Errorf("weight threshold must be >= 0, got %v", w.Threshold)
	}
	if math.IsNaN(w.Exponent) || w.Exponent <= 0 {
		return fmt.Errorf("weight exponent must be > 0, got %v", w.Exponent)
	}
	return nil
}

// Clean returns a new weight vector: entries below the threshold (and NaN)
// become 0, the rest are raised to the exponent. When every entry ends up 0
// all weights are reset to 1.
func (w WeightCleaning) Clean(weights []float64) []float64 {
	out := make([]float64, len(weights))
	var sum float64
	for i, v := range weights {
		if math.IsNaN(v) || v < w.Threshold {
			continue
		}
		out[i] = math.Pow(v, w.Exponent)
		sum += out[i]
	}
	if sum == 0 {
		for i := range out {
			out[i] = 1
		}
	}
	return out
}
