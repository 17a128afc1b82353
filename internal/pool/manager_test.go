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
package pool

import (
	"context"
	"errors"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/harel-coffee/DeepProg-auto/internal/engines/fitting"
	"github.com/harel-coffee/DeepProg-auto/internal/interfaces"
	"github.com/harel-coffee/DeepProg-auto/internal/learner/learnertest"
	"github.com/harel-coffee/DeepProg-auto/internal/ledger"
	"github.com/harel-coffee/DeepProg-auto/internal/metrics"
)

var _ = Describe("Manager", func() {
	var (
		ctx     context.Context
		fakes   []*learnertest.Fake
		book    *ledger.Ledger
		rec     *metrics.Recorder
		runtime *fitting.Runtime
	)

	BeforeEach(func() {
		ctx = context.Background()
		fakes = []*learnertest.Fake{learnertest.New(), learnertest.New(), learnertest.New()}
		book = ledger.New()
		rec = metrics.NewRecorder()
		runtime = fitting.NewRuntime(2)
		runtime.Start()
		DeferCleanup(runtime.Shutdown)
	})

	for _, strategy := range []fitting.Strategy{fitting.LocalStrategy, fitting.DistributedStrategy} {
		Context("with the "+strategy.String()+" backend", func() {
			var manager *Manager

			BeforeEach(func() {
				backend, err := fitting.NewBackend(strategy, fitting.Options{Runtime: runtime})
				Expect(err).NotTo(HaveOccurred())
				manager = NewManager(learnertest.Learners(fakes...), backend, book, rec)
			})

			It("fits every model and records the outcome", func() {
				n, err := manager.FitAll(ctx, nil)
				Expect(err).NotTo(HaveOccurred())
				Expect(n).To(Equal(3))
				Expect(manager.Len()).To(Equal(3))
				for _, f := range fakes {
					Expect(f.FitCalls.Load()).To(Equal(int32(1)))
				}

				snap := book.Snapshot()
				Expect(snap).To(HaveKeyWithValue(ledger.KeySuccess, "true"))
				Expect(snap).To(HaveKeyWithValue(ledger.KeyNbModels, "3"))
				Expect(snap).To(HaveKey(ledger.KeyFitTime))
				Expect(snap).NotTo(HaveKey(ledger.KeyFailure))
			})

			It("drops models whose fit reports failure and keeps the order", func() {
				fakes[1].FitOK = false
				n, err := manager.FitAll(ctx, nil)
				Expect(err).NotTo(HaveOccurred())
				Expect(n).To(Equal(2))
				Expect(manager.Learners()).To(Equal([]interfaces.WeakLearner{fakes[0], fakes[2]}))
			})

			It("truncates the pool to the number of label sources", func() {
				n, err := manager.FitAll(ctx, []string{"a.tsv", "b.tsv"})
				Expect(err).NotTo(HaveOccurred())
				Expect(n).To(Equal(2))
				Expect(manager.Len()).To(Equal(2))
				Expect(fakes[0].Sources()).To(Equal([]string{"a.tsv"}))
				Expect(fakes[1].Sources()).To(Equal([]string{"b.tsv"}))
				Expect(fakes[2].PretrainedCalls.Load()).To(BeZero())
			})

			It("fails when no model survives", func() {
				for _, f := range fakes {
					f.FitOK = false
				}
				_, err := manager.FitAll(ctx, nil)
				Expect(errors.Is(err, ErrEnsembleFitting)).To(BeTrue())
				Expect(book.Snapshot()).To(HaveKeyWithValue(ledger.KeyNbModels, "0"))
				Expect(book.Snapshot()).To(HaveKey(ledger.KeyFailure))
				Expect(book.Snapshot()).NotTo(HaveKey(ledger.KeySuccess))
			})

			It("keeps the previous pool when a re-fit loses every model", func() {
				_, err := manager.FitAll(ctx, nil)
				Expect(err).NotTo(HaveOccurred())
				for _, f := range fakes {
					f.FitOK = false
				}
				_, err = manager.FitAll(ctx, nil)
				Expect(errors.Is(err, ErrEnsembleFitting)).To(BeTrue())
				Expect(manager.Len()).To(Equal(3))
			})

			It("re-fits every submitted learner after a truncated fit", func() {
				_, err := manager.FitAll(ctx, []string{"a.tsv"})
				Expect(err).NotTo(HaveOccurred())
				Expect(manager.Len()).To(Equal(1))

				n, err := manager.FitAll(ctx, nil)
				Expect(err).NotTo(HaveOccurred())
				Expect(n).To(Equal(3))
				Expect(manager.Learners()).To(Equal(learnertest.Learners(fakes...)))
				for _, f := range fakes {
					Expect(f.FitCalls.Load()).To(Equal(int32(1)))
				}
			})

			It("records an error escaping a fit and returns no partial pool", func() {
				boom := errors.New("embedding diverged")
				fakes[2].FitErr = boom
				_, err := manager.FitAll(ctx, nil)
				Expect(err).To(MatchError(boom))
				Expect(book.Snapshot()[ledger.KeyFailure]).To(ContainSubstring("embedding diverged"))
				Expect(manager.Len()).To(Equal(3))
				expected := `
# HELP deepprog_pool_fit_errors_total Pool fits aborted by an error
# TYPE deepprog_pool_fit_errors_total counter
deepprog_pool_fit_errors_total 1
`
				Expect(testutil.GatherAndCompare(rec.Registry(), strings.NewReader(expected),
					"deepprog_pool_fit_errors_total")).To(Succeed())
			})
		})
	}

	It("reports the fitting time from its clock", func() {
		backend, err := fitting.NewBackend(fitting.LocalStrategy, fitting.Options{})
		Expect(err).NotTo(HaveOccurred())
		manager := NewManager(learnertest.Learners(fakes...), backend, book, nil)
		t0 := time.Unix(100, 0)
		calls := 0
		manager.now = func() time.Time {
			calls++
			return t0.Add(time.Duration(calls-1) * 1500 * time.Millisecond)
		}
		_, err = manager.FitAll(ctx, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(book.Snapshot()).To(HaveKeyWithValue(ledger.KeyFitTime, "1.5"))
	})
})
