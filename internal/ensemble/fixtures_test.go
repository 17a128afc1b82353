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
	"sync"

	"gonum.org/v1/gonum/mat"
	"k8s.io/utils/ptr"

	"github.com/harel-coffee/DeepProg-auto/internal/config"
	"github.com/harel-coffee/DeepProg-auto/internal/dataset"
	"github.com/harel-coffee/DeepProg-auto/internal/interfaces"
	"github.com/harel-coffee/DeepProg-auto/internal/learner/learnertest"
)

// stubStats returns a fixed p-value and a concordance index keyed by the
// number of training values, 0.5 when the size is not listed. The last
// non-nil covariates passed to LogRankPValue are kept.
type stubStats struct {
	pvalue    float64
	cindexes  map[int]float64
	cindexErr error

	mu         sync.Mutex
	covariates *mat.Dense
}

func (s *stubStats) LogRankPValue(values, events, days []float64, covariates *mat.Dense) (float64, error) {
	if covariates != nil {
		s.mu.Lock()
		s.covariates = covariates
		s.mu.Unlock()
	}
	return s.pvalue, nil
}

func (s *stubStats) lastCovariates() *mat.Dense {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.covariates
}

func (s *stubStats) ConcordanceIndex(trainValues, _, _, _, _, _ []float64) (float64, error) {
	if s.cindexErr != nil {
		return 0, s.cindexErr
	}
	if c, ok := s.cindexes[len(trainValues)]; ok {
		return c, nil
	}
	return 0.5, nil
}

// model describes a fake learner: the first train samples of ids are its
// training set, the others its held-out fold.
type model struct {
	ids    []string
	labels []int
	probas [][]float64
	train  int
	seed   int64
}

var cohortDays = map[string]float64{"s0": 100, "s1": 200, "s2": 300, "s3": 400}

var cohortEvents = map[string]float64{"s0": 1, "s1": 0, "s2": 1, "s3": 1}

// cohortValues holds feature "up", high in s1, and the constant feature "flat".
var cohortValues = map[string][]float64{
	"s0": {1, 5},
	"s1": {10, 5},
	"s2": {2, 5},
	"s3": {3, 5},
}

func survivalOf(ids []string) interfaces.Survival {
	s := interfaces.Survival{Days: make([]float64, len(ids)), Events: make([]float64, len(ids))}
	for i, id := range ids {
		s.Days[i] = cohortDays[id]
		s.Events[i] = cohortEvents[id]
	}
	return s
}

func matrixOf(ids []string) interfaces.FeatureMatrix {
	values := mat.NewDense(len(ids), 2, nil)
	for i, id := range ids {
		values.SetRow(i, cohortValues[id])
	}
	return interfaces.FeatureMatrix{
		SampleIDs: append([]string{}, ids...),
		Features:  []string{"up", "flat"},
		Values:    values,
	}
}

func (m model) fake() *learnertest.Fake {
	f := learnertest.New()
	train, cv := m.ids[:m.train], m.ids[m.train:]

	full := make([]interfaces.SampleProba, len(m.ids))
	for i, id := range m.ids {
		full[i] = interfaces.SampleProba{SampleID: id, Proba: m.probas[i]}
	}

	f.Attrs[interfaces.AttrLabels] = m.labels[:m.train]
	f.Attrs[interfaces.AttrLabelsProba] = m.probas[:m.train]
	f.Attrs[interfaces.AttrCVLabels] = m.labels[m.train:]
	f.Attrs[interfaces.AttrCVLabelsProba] = m.probas[m.train:]
	f.Attrs[interfaces.AttrFullLabels] = m.labels
	f.Attrs[interfaces.AttrFullProbas] = full
	f.Attrs[interfaces.AttrTrainPValue] = 0.01
	f.Attrs[interfaces.AttrTrainPValueProba] = 0.04
	f.Attrs[interfaces.AttrCVPValue] = 0.1
	f.Attrs[interfaces.AttrCVPValueProba] = nil
	f.Attrs[interfaces.AttrBIC] = 10.0
	f.Attrs[interfaces.AttrSilhouette] = 0.5
	f.Attrs[interfaces.AttrCalinski] = 3.0
	f.Attrs[interfaces.AttrSeed] = m.seed
	f.Attrs[interfaces.AttrValidNodeCounts] = map[string]int{"rna": len(m.ids)}

	f.Data[interfaces.DatasetSampleIDs] = train
	f.Data[interfaces.DatasetSampleIDsCV] = cv
	f.Data[interfaces.DatasetSampleIDsFull] = m.ids
	f.Data[interfaces.DatasetSurvival] = survivalOf(train)
	f.Data[interfaces.DatasetSurvivalCV] = survivalOf(cv)
	f.Data[interfaces.DatasetSurvivalFull] = survivalOf(m.ids)
	f.Data[interfaces.DatasetMatricesFull] = map[string]interfaces.FeatureMatrix{"rna": matrixOf(m.ids)}
	f.Data[interfaces.DatasetMetadataFull] = nil
	return f
}

// builderOf hands out fakes by dataset index.
func builderOf(fakes ...*learnertest.Fake) LearnerBuilder {
	return func(ds *dataset.Dataset) (interfaces.WeakLearner, error) {
		return fakes[ds.Index], nil
	}
}

func testConfig(dir string, models int, strategy string) config.EnsembleConfig {
	cfg := config.Default()
	cfg.ProjectName = "proj"
	cfg.PathResults = dir
	cfg.NbIt = models
	cfg.SplitNFold = 0
	cfg.Seed = ptr.To(int64(2024))
	cfg.ClassSelection = strategy
	cfg.NbClusters = 2
	cfg.FeatureSurvAnalysis = false
	return cfg
}

// twoModels returns two models that disagree on every sample.
func twoModels() (model, model) {
	first := model{
		ids:    []string{"s0", "s1", "s2"},
		labels: []int{0, 1, 0},
		probas: [][]float64{{0.9, 0.1}, {0.2, 0.8}, {0.5, 0.5}},
		train:  2,
		seed:   11,
	}
	second := model{
		ids:    []string{"s0", "s1", "s2"},
		labels: []int{1, 0, 1},
		probas: [][]float64{{0.0, 1.0}, {1.0, 0.0}, {0.1, 0.9}},
		train:  1,
		seed:   12,
	}
	return first, second
}
