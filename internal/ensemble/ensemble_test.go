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
package ensemble

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/harel-coffee/DeepProg-auto/internal/config"
	"github.com/harel-coffee/DeepProg-auto/internal/dataset"
	"github.com/harel-coffee/DeepProg-auto/internal/engines/fitting"
	"github.com/harel-coffee/DeepProg-auto/internal/interfaces"
	"github.com/harel-coffee/DeepProg-auto/internal/learner/learnertest"
	"github.com/harel-coffee/DeepProg-auto/internal/ledger"
	"github.com/harel-coffee/DeepProg-auto/internal/pool"
)

var _ = Describe("Ensemble", func() {
	var (
		ctx   context.Context
		dir   string
		stats *stubStats
	)

	BeforeEach(func() {
		ctx = context.Background()
		dir = GinkgoT().TempDir()
		stats = &stubStats{pvalue: 0.01, cindexes: map[int]float64{2: 0.9, 1: 0.3}}
	})

	build := func(strategy string, fakes ...*learnertest.Fake) *Ensemble {
		e, err := New(ctx, testConfig(dir, len(fakes), strategy), builderOf(fakes...), stats)
		Expect(err).NotTo(HaveOccurred())
		return e
	}

	Describe("New", func() {
		It("derives one dataset per iteration from the master seed", func() {
			e := build("mean", learnertest.New(), learnertest.New(), learnertest.New())

			seeds := make([]int64, 0, 3)
			for _, ds := range e.Datasets() {
				seeds = append(seeds, ds.Seed)
			}
			Expect(seeds).To(Equal(dataset.DeriveSeeds(2024, 3)))
			Expect(e.MasterSeed()).To(Equal(int64(2024)))
			Expect(e.Models()).To(HaveLen(3))

			_, err := uuid.Parse(e.RunID())
			Expect(err).NotTo(HaveOccurred())
			snap := e.Ledger().Snapshot()
			Expect(snap).To(HaveKeyWithValue(ledger.KeyMasterSeed, "2024"))
			Expect(snap).To(HaveKeyWithValue(ledger.KeyRunID, e.RunID()))
			Expect(snap).To(HaveKeyWithValue(ledger.KeyStrategy, "mean"))
			Expect(snap).To(HaveKeyWithValue(ledger.KeySuccess, "false"))
		})

		It("rejects an unknown consensus strategy", func() {
			_, err := New(ctx, testConfig(dir, 1, "vote"), builderOf(learnertest.New()), stats)
			Expect(err).To(MatchError(config.ErrInvalidConfig))
		})

		It("requires a started runtime for the distributed strategy", func() {
			cfg := testConfig(dir, 1, "mean")
			cfg.Distribute = true
			_, err := New(ctx, cfg, builderOf(learnertest.New()), stats)
			Expect(err).To(MatchError(fitting.ErrRuntimeNotReady))

			runtime := fitting.NewRuntime(2)
			runtime.Start()
			DeferCleanup(runtime.Shutdown)
			_, err = New(ctx, cfg, builderOf(learnertest.New()), stats, WithRuntime(runtime))
			Expect(err).NotTo(HaveOccurred())
		})

		It("reports a learner that cannot be built", func() {
			boom := errors.New("boom")
			_, err := New(ctx, testConfig(dir, 1, "mean"),
				func(*dataset.Dataset) (interfaces.WeakLearner, error) { return nil, boom }, stats)
			Expect(err).To(MatchError(boom))
		})
	})

	Describe("fitting", func() {
		It("drops failed models and fails when none survives", func() {
			first, second := twoModels()
			ok, failed := first.fake(), second.fake()
			failed.FitOK = false

			e := build("mean", ok, failed)
			Expect(e.Fit(ctx)).To(Succeed())
			Expect(e.Models()).To(HaveLen(1))

			failed2 := second.fake()
			failed2.FitOK = false
			e = build("mean", failed2)
			Expect(e.Fit(ctx)).To(MatchError(pool.ErrEnsembleFitting))
			Expect(e.PredictLabelsOnFullDataset(ctx)).To(MatchError(ErrNotFitted))
		})

		It("leaves the ensemble unfitted when a re-fit loses every model", func() {
			first, _ := twoModels()
			f := first.fake()
			e := build("mean", f)
			Expect(e.Fit(ctx)).To(Succeed())

			f.FitOK = false
			Expect(e.Fit(ctx)).To(MatchError(pool.ErrEnsembleFitting))
			Expect(e.PredictLabelsOnFullDataset(ctx)).To(MatchError(ErrNotFitted))
			_, err := e.SaveModelsClasses(ctx, TrainingClasses, "")
			Expect(err).To(MatchError(ErrNotFitted))
			Expect(e.ComputeFeatureScoresPerCluster(ctx)).To(MatchError(ErrNoConsensus))
		})

		It("fits every learner after a truncated pretrained fit", func() {
			labels := GinkgoT().TempDir()
			Expect(os.WriteFile(filepath.Join(labels, "a.tsv"), []byte("s0\t0\n"), 0o600)).To(Succeed())
			first, second := twoModels()
			fakes := []*learnertest.Fake{first.fake(), second.fake()}

			e := build("mean", fakes...)
			Expect(e.FitOnPretrainedLabelFiles(ctx, nil, labels, "")).To(Succeed())
			Expect(e.Models()).To(HaveLen(1))

			Expect(e.Fit(ctx)).To(Succeed())
			Expect(e.Models()).To(HaveLen(2))
			for _, f := range fakes {
				Expect(f.FitCalls.Load()).To(Equal(int32(1)))
			}
			Expect(e.PredictLabelsOnFullDataset(ctx)).To(Succeed())
		})

		It("requires label sources for a pretrained fit", func() {
			e := build("mean", learnertest.New())
			Expect(e.FitOnPretrainedLabelFiles(ctx, nil, "", "")).To(MatchError(ErrNoLabelSources))
			Expect(e.FitOnPretrainedLabelFiles(ctx, nil, GinkgoT().TempDir(), "")).To(MatchError(ErrNoLabelSources))
		})

		It("truncates the pool to the label files of a folder", func() {
			labels := GinkgoT().TempDir()
			for _, name := range []string{"b.tsv", "a.tsv", "notes.txt"} {
				Expect(os.WriteFile(filepath.Join(labels, name), []byte("s0\t0\n"), 0o600)).To(Succeed())
			}
			fakes := []*learnertest.Fake{learnertest.New(), learnertest.New(), learnertest.New()}

			e := build("mean", fakes...)
			Expect(e.FitOnPretrainedLabelFiles(ctx, nil, labels, "")).To(Succeed())
			Expect(e.Models()).To(HaveLen(2))
			Expect(fakes[0].Sources()).To(Equal([]string{filepath.Join(labels, "a.tsv")}))
			Expect(fakes[1].Sources()).To(Equal([]string{filepath.Join(labels, "b.tsv")}))
			Expect(fakes[2].PretrainedCalls.Load()).To(BeZero())

			_, evaluated, err := e.EvaluateClusterPerformance(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(evaluated).To(BeFalse())
		})
	})

	Describe("consensus on the full dataset", func() {
		It("merges the models with the mean strategy", func() {
			first, second := twoModels()
			second.probas = [][]float64{{0.1, 0.9}, {0.3, 0.7}, {0.6, 0.4}}
			f1, f2 := first.fake(), second.fake()

			e := build("mean", f1, f2)
			Expect(e.Fit(ctx)).To(Succeed())
			Expect(e.Weights()).To(BeNil())
			Expect(e.PredictLabelsOnFullDataset(ctx)).To(Succeed())

			full := e.FullLabels()
			Expect(full.SampleIDs).To(Equal([]string{"s0", "s1", "s2"}))
			Expect(full.Labels).To(Equal([]int{0, 1, 0}))
			Expect(full.Survival.Days).To(Equal([]float64{100, 200, 300}))

			snap := e.Ledger().Snapshot()
			Expect(snap).To(HaveKeyWithValue(ledger.KeyPValueFull, "0.01"))
			Expect(snap).To(HaveKeyWithValue(ledger.KeyPValueProbaFull, "0.01"))
			Expect(snap).To(HaveKeyWithValue(ledger.KeyPValueCatFull, "0.01"))

			written := f1.Written()
			Expect(written).To(HaveLen(1))
			Expect(written[0].Destination).To(Equal("proj_full_labels"))
			Expect(written[0].Labels).To(Equal([]int{0, 1, 0}))
			Expect(written[0].Survival.Events).To(Equal([]float64{1, 0, 1}))
			Expect(written[0].Probabilities[1]).To(BeNumerically("~", 0.25, 1e-12))
			Expect(f2.Written()).To(BeEmpty())
		})

		It("weights the models by their held-out concordance", func() {
			first, second := twoModels()
			f1, f2 := first.fake(), second.fake()

			e := build("weighted_mean", f1, f2)
			Expect(e.Fit(ctx)).To(Succeed())
			Expect(e.Weights()).To(Equal([]float64{0.9, 0.3}))
			Expect(f1.PredictCalls.Load()).To(Equal(int32(1)))
			Expect(e.Ledger().Snapshot()).To(HaveKeyWithValue(ledger.KeyCIndexTestFold, "0.6"))

			Expect(e.PredictLabelsOnFullDataset(ctx)).To(Succeed())
			full := e.FullLabels()
			Expect(full.Labels).To(Equal([]int{0, 1, 0}))
			Expect(full.Probabilities[0][0]).To(BeNumerically("~", 0.9, 1e-12))

			_, err := e.CollectPValueOnTestFold(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(f1.PredictCalls.Load()).To(Equal(int32(1)))
		})

		It("falls back to a uniform vote when the concordance fails", func() {
			stats.cindexErr = errors.New("backend down")
			first, second := twoModels()

			e := build("weighted_mean", first.fake(), second.fake())
			Expect(e.Fit(ctx)).To(Succeed())
			for _, w := range e.Weights() {
				Expect(math.IsNaN(w)).To(BeTrue())
			}
			Expect(e.Ledger().Snapshot()).To(HaveKeyWithValue(ledger.KeyCIndexTestFold, "NaN"))

			Expect(e.PredictLabelsOnFullDataset(ctx)).To(Succeed())
			Expect(e.FullLabels().Labels).To(Equal([]int{1, 0, 1}))
		})

		It("treats an unavailable concordance as NaN", func() {
			stats.cindexErr = interfaces.ErrNotAvailable
			first, second := twoModels()

			e := build("weighted_max", first.fake(), second.fake())
			Expect(e.Fit(ctx)).To(Succeed())
			Expect(e.Weights()).To(HaveLen(2))
			Expect(math.IsNaN(e.Weights()[0])).To(BeTrue())
		})

		It("rejects a duplicated sample when configured to", func() {
			first, _ := twoModels()
			first.ids = []string{"s0", "s0", "s2"}
			cfg := testConfig(dir, 1, "mean")
			cfg.DuplicatePolicy = config.DuplicateError

			e, err := New(ctx, cfg, builderOf(first.fake()), stats)
			Expect(err).NotTo(HaveOccurred())
			Expect(e.Fit(ctx)).To(Succeed())
			Expect(e.PredictLabelsOnFullDataset(ctx)).To(HaveOccurred())
		})

		It("scores the consensus against survival", func() {
			first, second := twoModels()
			e := build("mean", first.fake(), second.fake())
			_, err := e.ComputeCIndexForFullDataset(ctx)
			Expect(err).To(MatchError(ErrNoConsensus))

			Expect(e.Fit(ctx)).To(Succeed())
			Expect(e.PredictLabelsOnFullDataset(ctx)).To(Succeed())
			c, err := e.ComputeCIndexForFullDataset(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(c).To(Equal(0.5))
			Expect(e.Ledger().Snapshot()).To(HaveKey(ledger.KeyCIndexCatConsensusFull))
		})
	})

	Describe("diagnostics", func() {
		var e *Ensemble

		BeforeEach(func() {
			first, second := twoModels()
			e = build("mean", first.fake(), second.fake())
			Expect(e.Fit(ctx)).To(Succeed())
		})

		It("is symmetric in the agreement of relabelled models", func() {
			a := model{ids: []string{"s0", "s1", "s2"}, labels: []int{0, 1, 0}, probas: [][]float64{{1, 0}, {0, 1}, {1, 0}}, train: 3}
			b := model{ids: []string{"s2", "s0", "s1"}, labels: []int{1, 1, 0}, probas: [][]float64{{0, 1}, {0, 1}, {1, 0}}, train: 3}
			e = build("mean", a.fake(), b.fake())
			Expect(e.Fit(ctx)).To(Succeed())

			summary, err := e.ComputeClustersConsistencyForFullLabels(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(summary.Scores).To(Equal([]float64{1}))
			Expect(e.Ledger().Snapshot()).To(HaveKeyWithValue(ledger.KeyAdjustedRand, "1"))
		})

		It("collects geometric means of the model p-values", func() {
			train, err := e.CollectPValueOnTrainingDataset(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(train.GeoMean).To(BeNumerically("~", 0.01, 1e-12))
			Expect(train.GeoMeanProba).To(BeNumerically("~", 0.04, 1e-12))

			test, err := e.CollectPValueOnTestFold(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(test.GeoMean).To(BeNumerically("~", 0.1, 1e-12))
			Expect(math.IsNaN(test.GeoMeanProba)).To(BeTrue())
			Expect(e.Ledger().Snapshot()).To(HaveKeyWithValue(ledger.KeyPValueProbaGeoMeanTestFold, "NaN"))
		})

		It("tests the merged held-out folds", func() {
			p, err := e.ComputePValueForMergedTestFold(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(p).To(Equal(0.01))
			Expect(e.Ledger().Snapshot()).To(HaveKeyWithValue(ledger.KeyPValueCVTest, "0.01"))
		})

		It("adjusts the merged held-out folds for metadata", func() {
			first, second := twoModels()
			f1, f2 := first.fake(), second.fake()
			f1.Data[interfaces.DatasetMetadataCV] = mat.NewDense(1, 2, []float64{1, 2})
			f2.Data[interfaces.DatasetMetadataCV] = mat.NewDense(2, 2, []float64{3, 4, 5, 6})

			cfg := testConfig(dir, 2, "mean")
			cfg.UseMetadata = true
			e, err := New(ctx, cfg, builderOf(f1, f2), stats)
			Expect(err).NotTo(HaveOccurred())
			Expect(e.Fit(ctx)).To(Succeed())

			p, err := e.ComputePValueForMergedTestFold(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(p).To(Equal(0.01))
			Expect(stats.lastCovariates()).NotTo(BeNil())
			Expect(mat.Equal(stats.lastCovariates(), mat.NewDense(3, 2, []float64{1, 2, 3, 4, 5, 6}))).To(BeTrue())

			f2.Data[interfaces.DatasetMetadataCV] = nil
			_, err = e.ComputePValueForMergedTestFold(ctx)
			Expect(err).To(MatchError(ContainSubstring("no held-out metadata")))
		})

		It("collects the training and full concordance", func() {
			train, err := e.CollectCIndexForTrainingDataset(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(train.Weights).To(Equal([]float64{0.9, 0.3}))
			Expect(e.Ledger().Snapshot()).To(HaveKeyWithValue(ledger.KeyCIndexTrain, "0.6"))

			_, err = e.CollectCIndexForFullDataset(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(e.Ledger().Snapshot()).To(HaveKey(ledger.KeyCIndexFull))
		})

		It("averages the cluster quality scores and node counts", func() {
			perf, evaluated, err := e.EvaluateClusterPerformance(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(evaluated).To(BeTrue())
			Expect(perf).To(Equal(ClusterPerformance{BIC: 10, Silhouette: 0.5, Calinski: 3}))

			counts, err := e.CollectNumberOfFeaturesPerOmic(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(counts).To(Equal(map[string]float64{"rna": 3}))
			Expect(e.Ledger().Snapshot()).To(HaveKeyWithValue(ledger.KeyFeaturesPerOmic, `{"rna":3}`))
		})

		It("saves the held-out classes of every model", func() {
			first, second := twoModels()
			f1, f2 := first.fake(), second.fake()
			e = build("mean", f1, f2)
			Expect(e.Fit(ctx)).To(Succeed())

			out, err := e.SaveModelsClasses(ctx, CVClasses, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(Equal(filepath.Join(dir, "proj", "saved_models_cv_classes")))
			Expect(f1.Written()[0].Destination).To(Equal(filepath.Join(out, "model_instance_11.tsv")))
			Expect(f1.Written()[0].SampleIDs).To(Equal([]string{"s2"}))
			Expect(f2.Written()[0].Destination).To(Equal(filepath.Join(out, "model_instance_12.tsv")))
			Expect(f2.Written()[0].Probabilities).To(Equal([]float64{1.0, 0.1}))
		})

		It("keeps the files of models drawing the same seed apart", func() {
			first, second := twoModels()
			second.seed = first.seed
			f1, f2 := first.fake(), second.fake()
			e = build("mean", f1, f2)
			Expect(e.Fit(ctx)).To(Succeed())

			out, err := e.SaveModelsClasses(ctx, TrainingClasses, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(Equal(filepath.Join(dir, "proj", "saved_models_classes")))
			Expect(f1.Written()[0].Destination).To(Equal(filepath.Join(out, "model_instance_11_0.tsv")))
			Expect(f2.Written()[0].Destination).To(Equal(filepath.Join(out, "model_instance_11_1.tsv")))
		})
	})

	Describe("feature scores", func() {
		It("routes features by the sign of their median difference", func() {
			first, second := twoModels()
			second.probas = [][]float64{{0.1, 0.9}, {0.3, 0.7}, {0.6, 0.4}}
			e := build("mean", first.fake(), second.fake())
			Expect(e.ComputeFeatureScoresPerCluster(ctx)).To(MatchError(ErrNoConsensus))

			Expect(e.Fit(ctx)).To(Succeed())
			Expect(e.PredictLabelsOnFullDataset(ctx)).To(Succeed())
			Expect(e.ComputeFeatureScoresPerCluster(ctx)).To(Succeed())
			Expect(e.FeatureScores()).To(HaveKey(0))
			Expect(e.FeatureScores()).To(HaveKey(1))
			Expect(e.WriteFeatureScoresPerCluster(ctx)).To(Succeed())

			positive, err := os.ReadFile(filepath.Join(dir, "proj", "proj_features_scores_per_clusters.tsv"))
			Expect(err).NotTo(HaveOccurred())
			Expect(string(positive)).To(ContainSubstring("1\tup\t8.5\t"))
			Expect(string(positive)).NotTo(ContainSubstring("flat"))

			anti, err := os.ReadFile(filepath.Join(dir, "proj", "proj_features_anticorrelated_scores_per_clusters.tsv"))
			Expect(err).NotTo(HaveOccurred())
			Expect(string(anti)).To(ContainSubstring("0\tup\t-8.5\t"))
			Expect(string(anti)).To(ContainSubstring("0\tflat\t0\t1"))
			Expect(string(anti)).To(ContainSubstring("1\tflat\t0\t1"))

			_, err = os.Stat(filepath.Join(dir, "proj", "proj_survival_features_scores_per_clusters.tsv"))
			Expect(os.IsNotExist(err)).To(BeTrue())
		})

		It("needs differential scores before survival filtering", func() {
			first, second := twoModels()
			e := build("mean", first.fake(), second.fake())
			Expect(e.Fit(ctx)).To(Succeed())
			Expect(e.PredictLabelsOnFullDataset(ctx)).To(Succeed())
			Expect(e.ComputeSurvivalFeatureScoresPerCluster(ctx)).To(MatchError(ErrNoFeatureScores))
		})
	})

	Describe("Run", func() {
		readLedger := func(e *Ensemble) map[string]string {
			data, err := os.ReadFile(e.LogFiles().Ledger)
			Expect(err).NotTo(HaveOccurred())
			var out map[string]string
			Expect(json.Unmarshal(data, &out)).To(Succeed())
			return out
		}

		It("runs the whole pipeline and writes the logs", func() {
			first, second := twoModels()
			e := build("weighted_mean", first.fake(), second.fake())
			Expect(e.Run(ctx, RunOptions{SaveModelsClasses: true})).To(Succeed())

			logs := readLedger(e)
			Expect(logs).To(HaveKeyWithValue(ledger.KeySuccess, "true"))
			Expect(logs).To(HaveKeyWithValue(ledger.KeyPValueFull, "0.01"))
			Expect(logs).To(HaveKey(ledger.KeyAdjustedRand))
			Expect(logs).NotTo(HaveKey(ledger.KeyFailure))

			metricsText, err := os.ReadFile(e.LogFiles().Metrics)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(metricsText)).To(ContainSubstring("deepprog_pool_models_fitted 2"))
			Expect(string(metricsText)).To(ContainSubstring(`stage="consensus"`))
		})

		It("writes the logs when a later stage fails", func() {
			first, second := twoModels()
			f1 := first.fake()
			delete(f1.Data, interfaces.DatasetMatricesFull)
			e := build("mean", f1, second.fake())

			err := e.Run(ctx, RunOptions{})
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(HavePrefix("computing feature scores"))

			logs := readLedger(e)
			Expect(logs).To(HaveKeyWithValue(ledger.KeySuccess, "true"))
			Expect(logs).To(HaveKey(ledger.KeyFailure))
			Expect(logs[ledger.KeyFailure]).To(SatisfyAll(
				ContainSubstring("computing feature scores"),
				ContainSubstring(string(interfaces.DatasetMatricesFull)),
			))
			Expect(strings.HasSuffix(e.LogFiles().Ledger, "proj.log.json")).To(BeTrue())
		})

		It("does not write logs when the fit fails", func() {
			f := learnertest.New()
			f.FitErr = errors.New("out of memory")
			e := build("mean", f)

			Expect(e.Run(ctx, RunOptions{})).To(MatchError(ContainSubstring("out of memory")))
			_, err := os.Stat(e.LogFiles().Ledger)
			Expect(os.IsNotExist(err)).To(BeTrue())
			Expect(e.Ledger().Snapshot()).To(HaveKeyWithValue(ledger.KeyFailure, ContainSubstring("out of memory")))
		})
	})
})
