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
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/harel-coffee/DeepProg-auto/internal/interfaces"
)

const (
	maxNewtonIterations = 25
	maxStepHalvings     = 10
	convergenceTol      = 1e-9
)

// Cox is the default statistical backend. Without covariates the p-value is
// the score test of a univariate Cox model, which reduces to the log-rank
// test for categorical values. With covariates the model is fitted by
// Newton-Raphson and the p-value is the Wald test of the first coefficient.
type Cox struct{}

var _ interfaces.StatsBackend = Cox{}

// LogRankPValue implements interfaces.StatsBackend.
func (Cox) LogRankPValue(values, events, days []float64, covariates *mat.Dense) (float64, error) {
	x, ev, d, err := design(values, events, days, covariates)
	if err != nil {
		return math.NaN(), err
	}
	_, cols := x.Dims()

	if cols == 1 {
		_, grad, info := partialLikelihood(x, make([]float64, 1), ev, d)
		if info.At(0, 0) <= 0 {
			return math.NaN(), interfaces.ErrNotAvailable
		}
		chi2 := grad[0] * grad[0] / info.At(0, 0)
		return distuv.ChiSquared{K: 1}.Survival(chi2), nil
	}

	beta, info, err := fitCox(x, ev, d)
	if err != nil {
		return math.NaN(), err
	}
	var cov mat.Dense
	if err := cov.Inverse(info); err != nil {
		return math.NaN(), interfaces.ErrNotAvailable
	}
	se := math.Sqrt(cov.At(0, 0))
	if se == 0 || math.IsNaN(se) {
		return math.NaN(), interfaces.ErrNotAvailable
	}
	z := math.Abs(beta[0] / se)
	return 2 * distuv.UnitNormal.Survival(z), nil
}

// ConcordanceIndex implements interfaces.StatsBackend. A univariate Cox
// model is fitted on the training values and Harrell's C is computed for
// its risk scores on the test values.
func (Cox) ConcordanceIndex(trainValues, trainEvents, trainDays, testValues, testEvents, testDays []float64) (float64, error) {
	x, ev, d, err := design(trainValues, trainEvents, trainDays, nil)
	if err != nil {
		return math.NaN(), err
	}
	beta, _, err := fitCox(x, ev, d)
	if err != nil {
		return math.NaN(), err
	}
	if len(testValues) != len(testEvents) || len(testValues) != len(testDays) {
		return math.NaN(), fmt.Errorf("test values (%d), events (%d) and days (%d) differ in length",
			len(testValues), len(testEvents), len(testDays))
	}
	risk := make([]float64, len(testValues))
	for i, v := range testValues {
		risk[i] = beta[0] * v
	}
	return HarrellC(risk, testEvents, testDays)
}

// HarrellC is the fraction of comparable pairs whose risk ordering agrees
// with their survival ordering; tied risks count one half.
func HarrellC(risk, events, days []float64) (float64, error) {
	var concordant, comparable float64
	for i := range risk {
		if events[i] == 0 || math.IsNaN(risk[i]) || math.IsNaN(days[i]) {
			continue
		}
		for j := range risk {
			if i == j || math.IsNaN(risk[j]) || math.IsNaN(days[j]) || days[j] <= days[i] {
				continue
			}
			comparable++
			switch {
			case risk[i] > risk[j]:
				concordant++
			case risk[i] == risk[j]:
				concordant += 0.5
			}
		}
	}
	if comparable == 0 {
		return math.NaN(), interfaces.ErrNotAvailable
	}
	return concordant / comparable, nil
}

// design drops incomplete rows and returns the covariate matrix with values
// in its first column.
func design(values, events, days []float64, covariates *mat.Dense) (*mat.Dense, []float64, []float64, error) {
	n := len(values)
	if len(events) != n || len(days) != n {
		return nil, nil, nil, fmt.Errorf("values (%d), events (%d) and days (%d) differ in length",
			n, len(events), len(days))
	}
	extra := 0
	if covariates != nil {
		r, c := covariates.Dims()
		if r != n {
			return nil, nil, nil, fmt.Errorf("covariates have %d rows, expected %d", r, n)
		}
		extra = c
	}

	keep := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if math.IsNaN(values[i]) || math.IsNaN(events[i]) || math.IsNaN(days[i]) {
			continue
		}
		complete := true
		for j := 0; j < extra; j++ {
			if math.IsNaN(covariates.At(i, j)) {
				complete = false
				break
			}
		}
		if complete {
			keep = append(keep, i)
		}
	}
	if len(keep) < 2 {
		return nil, nil, nil, interfaces.ErrNotAvailable
	}

	x := mat.NewDense(len(keep), 1+extra, nil)
	ev := make([]float64, len(keep))
	d := make([]float64, len(keep))
	for r, i := range keep {
		x.Set(r, 0, values[i])
		for j := 0; j < extra; j++ {
			x.Set(r, 1+j, covariates.At(i, j))
		}
		ev[r] = events[i]
		d[r] = days[i]
	}
	return x, ev, d, nil
}

// partialLikelihood returns the Breslow log partial likelihood with its
// gradient and information matrix at beta.
func partialLikelihood(x *mat.Dense, beta, events, days []float64) (float64, []float64, *mat.SymDense) {
	n, p := x.Dims()
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return days[order[a]] > days[order[b]] })

	eta := make([]float64, n)
	for i := 0; i < n; i++ {
		eta[i] = floats.Dot(x.RawRowView(i), beta)
	}

	grad := make([]float64, p)
	info := mat.NewSymDense(p, nil)
	s1 := make([]float64, p)
	s2 := mat.NewSymDense(p, nil)
	var loglik, s0 float64

	// Walk samples from the longest time, accumulating the risk set, and
	// settle every distinct event time once all its samples joined.
	for k := 0; k < n; {
		t := days[order[k]]
		var deaths float64
		sumX := make([]float64, p)
		var sumEta float64
		end := k
		for ; end < n && days[order[end]] == t; end++ {
			i := order[end]
			w := math.Exp(eta[i])
			s0 += w
			row := x.RawRowView(i)
			for a := 0; a < p; a++ {
				s1[a] += w * row[a]
				for b := a; b < p; b++ {
					s2.SetSym(a, b, s2.At(a, b)+w*row[a]*row[b])
				}
			}
			if events[i] != 0 {
				deaths++
				sumEta += eta[i]
				for a := 0; a < p; a++ {
					sumX[a] += row[a]
				}
			}
		}
		if deaths > 0 {
			loglik += sumEta - deaths*math.Log(s0)
			for a := 0; a < p; a++ {
				grad[a] += sumX[a] - deaths*s1[a]/s0
				for b := a; b < p; b++ {
					v := s2.At(a, b)/s0 - (s1[a]/s0)*(s1[b]/s0)
					info.SetSym(a, b, info.At(a, b)+deaths*v)
				}
			}
		}
		k = end
	}
	return loglik, grad, info
}

// fitCox maximizes the partial likelihood by Newton-Raphson with step
// halving. It returns the coefficients and the information at the optimum.
func fitCox(x *mat.Dense, events, days []float64) ([]float64, *mat.SymDense, error) {
	_, p := x.Dims()
	beta := make([]float64, p)
	loglik, grad, info := partialLikelihood(x, beta, events, days)

	for iter := 0; iter < maxNewtonIterations; iter++ {
		var step mat.VecDense
		if err := step.SolveVec(info, mat.NewVecDense(p, grad)); err != nil {
			if iter == 0 {
				return nil, nil, interfaces.ErrNotAvailable
			}
			break
		}

		scale := 1.0
		accepted := false
		for h := 0; h < maxStepHalvings; h++ {
			next := make([]float64, p)
			for a := range next {
				next[a] = beta[a] + scale*step.AtVec(a)
			}
			nl, ng, ni := partialLikelihood(x, next, events, days)
			if !math.IsNaN(nl) && !math.IsInf(nl, 0) && nl >= loglik-convergenceTol {
				converged := math.Abs(nl-loglik) < convergenceTol
				beta, loglik, grad, info = next, nl, ng, ni
				accepted = true
				if converged {
					return beta, info, nil
				}
				break
			}
			scale /= 2
		}
		if !accepted {
			break
		}
	}

	for _, b := range beta {
		if math.IsNaN(b) || math.IsInf(b, 0) {
			return nil, nil, interfaces.ErrNotAvailable
		}
	}
	return beta, info, nil
}
