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
	"fmt"
	"math/rand/v2"
	"sort"
)

// Fold is one train/validation split of sample positions.
type Fold struct {
	Train      []int
	Validation []int
}

// KFold splits n samples into NSplits consecutive folds, optionally after a
// seeded shuffle. The first n%NSplits folds get one extra sample.
type KFold struct {
	NSplits int
	Shuffle bool
	Seed    int64
}

// Split returns the NSplits folds of n samples. Indices within each side of a
// fold are sorted ascending.
func (k KFold) Split(n int) ([]Fold, error) {
	if k.NSplits < 2 {
		return nil, fmt.Errorf("kfold needs at least 2 splits, got %d", k.NSplits)
	}
	if n < k.NSplits {
		return nil, fmt.Errorf("cannot split %d samples into %d folds", n, k.NSplits)
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	if k.Shuffle {
		rng := rand.New(rand.NewPCG(uint64(k.Seed), uint64(n)))
		rng.Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })
	}

	folds := make([]Fold, 0, k.NSplits)
	start := 0
	for f := 0; f < k.NSplits; f++ {
		size := n / k.NSplits
		if f < n%k.NSplits {
			size++
		}
		inFold := make(map[int]struct{}, size)
		validation := append([]int(nil), order[start:start+size]...)
		for _, i := range validation {
			inFold[i] = struct{}{}
		}
		train := make([]int, 0, n-size)
		for i := 0; i < n; i++ {
			if _, held := inFold[i]; !held {
				train = append(train, i)
			}
		}
		sort.Ints(validation)
		folds = append(folds, Fold{Train: train, Validation: validation})
		start += size
	}
	return folds, nil
}
