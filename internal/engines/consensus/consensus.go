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
	"errors"
	"fmt"
)

// ErrUnknownStrategy is returned for a consensus strategy name that is not supported.
var ErrUnknownStrategy = errors.New("unknown consensus strategy")

// Aggregator merges a probability tensor into one label and one probability
// vector per sample. Implementations never mutate their inputs.
type Aggregator interface {
	// Aggregate returns the consensus of t. weights holds one entry per model
	// and is only read by weighted strategies.
	Aggregate(t *Tensor, weights []float64) (Result, error)
}

// Result is the consensus of a tensor, in the tensor's sample order.
// Labels[i] is the argmax of Probabilities[i].
type Result struct {
	SampleIDs     []string
	Labels        []int
	Probabilities [][]float64
}

// FirstClusterProbabilities returns the probability of cluster 0 for every sample.
func (r Result) FirstClusterProbabilities() []float64 {
	out := make([]float64, len(r.Probabilities))
	for i, p := range r.Probabilities {
		if len(p) > 0 {
			out[i] = p[0]
		}
	}
	return out
}

// Strategy is an enumeration of the ways model probabilities are merged
type Strategy int

// enumeration of Strategy
const (
	MaxStrategy Strategy = iota
	MeanStrategy
	WeightedMeanStrategy
	WeightedMaxStrategy
)

var strategyNames = map[Strategy]string{
	MaxStrategy:          "max",
	MeanStrategy:         "mean",
	WeightedMeanStrategy: "weighted_mean",
	WeightedMaxStrategy:  "weighted_max",
}

func (s Strategy) String() string {
	if name, ok := strategyNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Strategy(%d)", int(s))
}

// Weighted reports whether the strategy reads per-model weights.
func (s Strategy) Weighted() bool {
	return s == WeightedMeanStrategy || s == WeightedMaxStrategy
}

// ParseStrategy maps a configured name to its Strategy.
func ParseStrategy(name string) (Strategy, error) {
	for s, n := range strategyNames {
		if n == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
}

// NewAggregator is a factory that creates an Aggregator for the given strategy.
// cleaning is ignored by unweighted strategies.
func NewAggregator(strategy Strategy, cleaning WeightCleaning) (Aggregator, error) {
	switch strategy {
	case MaxStrategy:
		return &maxAggregator{}, nil
	case MeanStrategy:
		return &meanAggregator{}, nil
	case WeightedMeanStrategy:
		if err := cleaning.Validate(); err != nil {
			return nil, err
		}
		return &meanAggregator{cleaning: &cleaning}, nil
	case WeightedMaxStrategy:
		if err := cleaning.Validate(); err != nil {
			return nil, err
		}
		return &maxAggregator{cleaning: &cleaning}, nil
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownStrategy, strategy)
	}
}

// argmax returns the index of the first maximum of v.
func argmax(v []float64) int {
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}
