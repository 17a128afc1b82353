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
	"math/rand/v2"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/harel-coffee/DeepProg-auto/internal/interfaces"
)

// randomModels draws per-model probabilities where each model skips some samples.
func randomModels(rng *rand.Rand, models, samples, clusters int) [][]interfaces.SampleProba {
	out := make([][]interfaces.SampleProba, models)
	for m := range out {
		for s := 0; s < samples; s++ {
			if m > 0 && rng.IntN(4) == 0 {
				continue
			}
			proba := make([]float64, clusters)
			for c := range proba {
				proba[c] = float64(rng.IntN(20)) / 20
			}
			out[m] = append(out[m], interfaces.SampleProba{SampleID: fmt.Sprintf("s%02d", s), Proba: proba})
		}
	}
	return out
}

func isArgmax(labels []int, probas [][]float64) {
	for i, p := range probas {
		first := 0
		for c := range p {
			if p[c] > p[first] {
				first = c
			}
		}
		ExpectWithOffset(1, labels[i]).To(Equal(first), "sample %d: %v", i, p)
	}
}

var _ = Describe("Aggregator", func() {
	var (
		rng      *rand.Rand
		perModel [][]interfaces.SampleProba
		tensor   *Tensor
		weights  []float64
	)

	BeforeEach(func() {
		rng = rand.New(rand.NewPCG(7, 11))
		perModel = randomModels(rng, 5, 12, 3)
		var err error
		tensor, err = BuildTensor(perModel, 3, KeepFirst)
		Expect(err).NotTo(HaveOccurred())
		weights = []float64{0.9, 0.3, 0.7, 0.55, 0.2}
	})

	for _, strategy := range []Strategy{MaxStrategy, MeanStrategy, WeightedMeanStrategy, WeightedMaxStrategy} {
		Context(fmt.Sprintf("with the %s strategy", strategy), func() {
			It("labels every sample with the argmax of its probabilities", func() {
				agg, err := NewAggregator(strategy, DefaultWeightCleaning())
				Expect(err).NotTo(HaveOccurred())
				res, err := agg.Aggregate(tensor, weights)
				Expect(err).NotTo(HaveOccurred())
				Expect(res.Labels).To(HaveLen(tensor.Samples()))
				isArgmax(res.Labels, res.Probabilities)
			})

			It("returns identical results on repeated runs", func() {
				agg, err := NewAggregator(strategy, DefaultWeightCleaning())
				Expect(err).NotTo(HaveOccurred())
				first, err := agg.Aggregate(tensor, weights)
				Expect(err).NotTo(HaveOccurred())
				second, err := agg.Aggregate(tensor, weights)
				Expect(err).NotTo(HaveOccurred())
				Expect(second).To(Equal(first))
			})

			It("leaves its weights untouched", func() {
				before := append([]float64(nil), weights...)
				agg, err := NewAggregator(strategy, DefaultWeightCleaning())
				Expect(err).NotTo(HaveOccurred())
				_, err = agg.Aggregate(tensor, weights)
				Expect(err).NotTo(HaveOccurred())
				Expect(weights).To(Equal(before))
			})
		})
	}

	DescribeTable("is invariant to model order",
		func(strategy Strategy) {
			agg, err := NewAggregator(strategy, DefaultWeightCleaning())
			Expect(err).NotTo(HaveOccurred())
			want, err := agg.Aggregate(tensor, nil)
			Expect(err).NotTo(HaveOccurred())

			reversed := make([][]interfaces.SampleProba, len(perModel))
			for i := range perModel {
				reversed[len(perModel)-1-i] = perModel[i]
			}
			permuted, err := BuildTensor(reversed, 3, KeepFirst)
			Expect(err).NotTo(HaveOccurred())
			got, err := agg.Aggregate(permuted, nil)
			Expect(err).NotTo(HaveOccurred())

			gotByID := map[string][]float64{}
			for i, id := range got.SampleIDs {
				gotByID[id] = got.Probabilities[i]
			}
			for i, id := range want.SampleIDs {
				for c, v := range want.Probabilities[i] {
					Expect(gotByID[id][c]).To(BeNumerically("~", v, 1e-12))
				}
			}
		},
		Entry("max", MaxStrategy),
		Entry("mean", MeanStrategy),
	)

	DescribeTable("collapses to the unweighted result when every weight is below the threshold",
		func(weighted, plain Strategy) {
			low := []float64{0.1, 0.49, 0, 0.3, 0.2}
			w, err := NewAggregator(weighted, DefaultWeightCleaning())
			Expect(err).NotTo(HaveOccurred())
			p, err := NewAggregator(plain, DefaultWeightCleaning())
			Expect(err).NotTo(HaveOccurred())

			got, err := w.Aggregate(tensor, low)
			Expect(err).NotTo(HaveOccurred())
			want, err := p.Aggregate(tensor, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(want))
		},
		Entry("weighted_mean", WeightedMeanStrategy, MeanStrategy),
		Entry("weighted_max", WeightedMaxStrategy, MaxStrategy),
	)
})
