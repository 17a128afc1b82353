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
	"math/rand/v2"
)

const (
	// seedWindow is the width of the range per-learner seeds are drawn from.
	seedWindow = 1000
	// maxMasterSeed bounds a randomly drawn master seed.
	maxMasterSeed = 10000000
)

// DeriveSeed returns the seed of the learner at position iteration.
// Seeds fall in [master-1000, master) when master > 1000 and in [0, 1000) otherwise.
func DeriveSeed(master int64, iteration int) int64 {
	low, high := int64(0), int64(seedWindow)
	if master > seedWindow {
		low, high = master-seedWindow, master
	}
	h := splitmix64(uint64(master) ^ splitmix64(uint64(iteration)+1))
	return low + int64(h%uint64(high-low))
}

// DeriveSeeds returns the seeds of the first n learners.
func DeriveSeeds(master int64, n int) []int64 {
	seeds := make([]int64, n)
	for i := range seeds {
		seeds[i] = DeriveSeed(master, i)
	}
	return seeds
}

// ResolveSeed returns the configured master seed, or draws one.
// drawn is true when no seed was configured.
func ResolveSeed(seed *int64) (master int64, drawn bool) {
	if seed != nil {
		return *seed, false
	}
	return rand.Int64N(maxMasterSeed), true
}

func splitmix64(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}
