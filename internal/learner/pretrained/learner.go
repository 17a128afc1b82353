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
// Package pretrained provides a weak learner whose cluster assignment is read
// from a label file instead of being learned from an embedding.
//
// A label file holds one sample per line: the sample id, the integer label
// and optionally the probability of the first cluster. Only the samples of
// the cohort that the file labels take part in the model; they are split into
// training and held-out samples by the learner's resampled dataset.
package pretrained

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"gonum.org/v1/gonum/mat"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/harel-coffee/DeepProg-auto/internal/dataset"
	"github.com/harel-coffee/DeepProg-auto/internal/interfaces"
	"github.com/harel-coffee/DeepProg-auto/internal/logging"
	"github.com/harel-coffee/DeepProg-auto/internal/report"
)

var (
	// ErrNoEmbedding is returned by Fit: a pretrained learner can only be
	// built from a label file.
	ErrNoEmbedding = errors.New("pretrained learner cannot fit without a label file")

	// ErrNotFitted is returned when fitted state is read before a fit.
	ErrNotFitted = errors.New("learner is not fitted")

	// ErrNotPredicted is returned when held-out labels are read before PredictOnHoldout.
	ErrNotPredicted = errors.New("held-out fold is not predicted")
)

// minSamples is the smallest labelled training set a fit accepts.
const minSamples = 2

// Options configure a pretrained learner.
type Options struct {
	// ResultsDir is where relative label file destinations are written.
	ResultsDir string
	// NbClusters is the minimum number of clusters of the probability vectors.
	NbClusters int
}

// Learner implements interfaces.WeakLearner over a label file.
type Learner struct {
	ds     *dataset.Dataset
	cohort *dataset.Cohort
	stats  interfaces.StatsBackend
	opts   Options

	fitted    bool
	predicted bool
	clusters  int

	trainPos, cvPos   []int
	trainIDs, cvIDs   []string
	trainRecs, cvRecs []report.LabelRecord
	trainSurv, cvSurv interfaces.Survival

	trainPValue, trainPValueProba float64
	cvPValue, cvPValueProba       float64
}

var _ interfaces.WeakLearner = &Learner{}

// New creates a learner for one resampled dataset of cohort.
func New(ds *dataset.Dataset, cohort *dataset.Cohort, sb interfaces.StatsBackend, opts Options) *Learner {
	return &Learner{ds: ds, cohort: cohort, stats: sb, opts: opts}
}

// Builder returns a constructor that creates one learner per dataset, all
// sharing cohort.
func Builder(cohort *dataset.Cohort, sb interfaces.StatsBackend, opts Options) func(*dataset.Dataset) (interfaces.WeakLearner, error) {
	return func(ds *dataset.Dataset) (interfaces.WeakLearner, error) {
		if cohort == nil {
			return nil, fmt.Errorf("dataset %d: no cohort loaded", ds.Index)
		}
		return New(ds, cohort, sb, opts), nil
	}
}

// Fit implements interfaces.WeakLearner.
func (l *Learner) Fit(ctx context.Context) (bool, error) {
	return false, ErrNoEmbedding
}

// FitFromPretrainedLabels implements interfaces.WeakLearner. A file that
// labels fewer than two training samples of the cohort rejects the fit.
func (l *Learner) FitFromPretrainedLabels(ctx context.Context, source string) (bool, error) {
	logger := ctrl.LoggerFrom(ctx).WithValues("dataset", l.ds.Index, "source", source)

	records, err := report.ReadLabels(source)
	if err != nil {
		return false, err
	}
	byID := make(map[string]report.LabelRecord, len(records))
	for _, r := range records {
		if _, seen := byID[r.SampleID]; !seen {
			byID[r.SampleID] = r
		}
	}

	var positions []int
	for i, id := range l.cohort.SampleIDs {
		if _, ok := byID[id]; ok {
			positions = append(positions, i)
		}
	}
	train, validation, err := l.ds.Partition(len(positions))
	if err != nil {
		logger.Info("Cannot split the labelled samples, rejecting the model", "labelled", len(positions), "error", err.Error())
		return false, nil
	}
	if len(train) < minSamples {
		logger.Info("Too few labelled training samples, rejecting the model", "labelled", len(train))
		return false, nil
	}

	l.trainPos, l.trainIDs, l.trainRecs = l.pick(positions, train, byID)
	l.cvPos, l.cvIDs, l.cvRecs = l.pick(positions, validation, byID)
	l.trainSurv = l.cohort.Survival.Subset(l.trainPos)
	l.cvSurv = l.cohort.Survival.Subset(l.cvPos)

	l.clusters = max(l.opts.NbClusters, 1)
	for _, r := range records {
		if r.Label < 0 {
			return false, fmt.Errorf("%s: negative label %d for sample %q", source, r.Label, r.SampleID)
		}
		l.clusters = max(l.clusters, r.Label+1)
	}

	if l.trainPValue, err = l.pvalue(labelValues(l.trainRecs), l.trainSurv); err != nil {
		return false, err
	}
	if l.trainPValueProba, err = l.pvalue(firstProbas(l.trainRecs, l.clusters), l.trainSurv); err != nil {
		return false, err
	}

	l.fitted = true
	l.predicted = false
	logger.V(logging.DEBUG).Info("Model built from pretrained labels",
		"train", len(l.trainIDs),
		"holdout", len(l.cvIDs),
		"clusters", l.clusters,
		"pvalue", l.trainPValue)
	return true, nil
}

// PredictOnHoldout implements interfaces.WeakLearner. The held-out labels are
// the ones the label file assigns.
func (l *Learner) PredictOnHoldout(ctx context.Context) error {
	if !l.fitted {
		return ErrNotFitted
	}
	var err error
	if l.cvPValue, err = l.pvalue(labelValues(l.cvRecs), l.cvSurv); err != nil {
		return err
	}
	if l.cvPValueProba, err = l.pvalue(firstProbas(l.cvRecs, l.clusters), l.cvSurv); err != nil {
		return err
	}
	l.predicted = true
	return nil
}

// Attribute implements interfaces.WeakLearner.
func (l *Learner) Attribute(name interfaces.Attribute) (any, error) {
	if name == interfaces.AttrSeed {
		return l.ds.Seed, nil
	}
	if !l.fitted {
		return nil, fmt.Errorf("attribute %q: %w", name, ErrNotFitted)
	}
	switch name {
	case interfaces.AttrLabels:
		return labels(l.trainRecs), nil
	case interfaces.AttrLabelsProba:
		return l.probas(l.trainRecs), nil
	case interfaces.AttrFullLabels:
		return append(labels(l.trainRecs), labels(l.cvRecs)...), nil
	case interfaces.AttrFullProbas:
		return l.sampleProbas(), nil
	case interfaces.AttrTrainPValue:
		return l.trainPValue, nil
	case interfaces.AttrTrainPValueProba:
		return l.trainPValueProba, nil
	case interfaces.AttrValidNodeCounts:
		return map[string]int{}, nil
	case interfaces.AttrBIC, interfaces.AttrSilhouette, interfaces.AttrCalinski:
		return nil, nil
	}

	if !l.predicted {
		return nil, fmt.Errorf("attribute %q: %w", name, ErrNotPredicted)
	}
	switch name {
	case interfaces.AttrCVLabels:
		return labels(l.cvRecs), nil
	case interfaces.AttrCVLabelsProba:
		return l.probas(l.cvRecs), nil
	case interfaces.AttrCVPValue:
		return l.cvPValue, nil
	case interfaces.AttrCVPValueProba:
		return l.cvPValueProba, nil
	}
	return nil, fmt.Errorf("unknown attribute %q", name)
}

// DatasetAttribute implements interfaces.WeakLearner.
func (l *Learner) DatasetAttribute(name interfaces.DatasetAttribute) (any, error) {
	if !l.fitted {
		return nil, fmt.Errorf("dataset attribute %q: %w", name, ErrNotFitted)
	}
	full := append(append([]int{}, l.trainPos...), l.cvPos...)
	switch name {
	case interfaces.DatasetSampleIDs:
		return append([]string{}, l.trainIDs...), nil
	case interfaces.DatasetSampleIDsCV:
		return append([]string{}, l.cvIDs...), nil
	case interfaces.DatasetSampleIDsFull:
		return append(append([]string{}, l.trainIDs...), l.cvIDs...), nil
	case interfaces.DatasetSurvival:
		return l.trainSurv, nil
	case interfaces.DatasetSurvivalCV:
		return l.cvSurv, nil
	case interfaces.DatasetSurvivalFull:
		return l.trainSurv.Append(l.cvSurv), nil
	case interfaces.DatasetMatricesFull:
		return l.matrices(full)
	case interfaces.DatasetMetadataFull:
		return rows(l.cohort.Metadata, full), nil
	case interfaces.DatasetMetadataCV:
		return rows(l.cohort.Metadata, l.cvPos), nil
	}
	return nil, fmt.Errorf("unknown dataset attribute %q", name)
}

// WriteLabels implements interfaces.WeakLearner. A bare destination name is
// written as <name>.tsv under the results directory.
func (l *Learner) WriteLabels(ctx context.Context, file interfaces.LabelFile) error {
	path := file.Destination
	if !strings.ContainsRune(path, filepath.Separator) {
		path = filepath.Join(l.opts.ResultsDir, path)
	}
	if filepath.Ext(path) == "" {
		path += ".tsv"
	}
	if err := report.WriteLabels(path, file); err != nil {
		return err
	}
	ctrl.LoggerFrom(ctx).V(logging.DEBUG).Info("Labels written", "path", path, "samples", len(file.SampleIDs))
	return nil
}

func (l *Learner) pick(positions, index []int, byID map[string]report.LabelRecord) ([]int, []string, []report.LabelRecord) {
	pos := make([]int, len(index))
	ids := make([]string, len(index))
	recs := make([]report.LabelRecord, len(index))
	for i, j := range index {
		pos[i] = positions[j]
		ids[i] = l.cohort.SampleIDs[pos[i]]
		recs[i] = byID[ids[i]]
	}
	return pos, ids, recs
}

func (l *Learner) pvalue(values []float64, surv interfaces.Survival) (float64, error) {
	if len(values) == 0 {
		return math.NaN(), nil
	}
	p, err := l.stats.LogRankPValue(values, surv.Events, surv.Days, nil)
	if errors.Is(err, interfaces.ErrNotAvailable) {
		return math.NaN(), nil
	}
	return p, err
}

// proba returns the probability vector of one record: the first-cluster
// probability and its complement for two clusters, a one-hot vector otherwise.
func (l *Learner) proba(r report.LabelRecord) []float64 {
	out := make([]float64, l.clusters)
	if l.clusters == 2 && !math.IsNaN(r.Probability) {
		out[0] = r.Probability
		out[1] = 1 - r.Probability
		return out
	}
	out[r.Label] = 1
	return out
}

func (l *Learner) probas(recs []report.LabelRecord) [][]float64 {
	out := make([][]float64, len(recs))
	for i, r := range recs {
		out[i] = l.proba(r)
	}
	return out
}

func (l *Learner) sampleProbas() []interfaces.SampleProba {
	out := make([]interfaces.SampleProba, 0, len(l.trainRecs)+len(l.cvRecs))
	for _, recs := range [][]report.LabelRecord{l.trainRecs, l.cvRecs} {
		for _, r := range recs {
			out = append(out, interfaces.SampleProba{SampleID: r.SampleID, Proba: l.proba(r)})
		}
	}
	return out
}

func (l *Learner) matrices(full []int) (map[string]interfaces.FeatureMatrix, error) {
	ids := make([]string, len(full))
	for i, p := range full {
		ids[i] = l.cohort.SampleIDs[p]
	}
	out := make(map[string]interfaces.FeatureMatrix, len(l.cohort.Matrices))
	for omic, m := range l.cohort.Matrices {
		r, err := m.Reorder(ids)
		if err != nil {
			return nil, fmt.Errorf("omic %s: %w", omic, err)
		}
		out[omic] = r
	}
	return out, nil
}

func rows(m *mat.Dense, index []int) *mat.Dense {
	if m == nil || len(index) == 0 {
		return nil
	}
	_, cols := m.Dims()
	out := mat.NewDense(len(index), cols, nil)
	for i, j := range index {
		out.SetRow(i, m.RawRowView(j))
	}
	return out
}

func labels(recs []report.LabelRecord) []int {
	out := make([]int, len(recs))
	for i, r := range recs {
		out[i] = r.Label
	}
	return out
}

func labelValues(recs []report.LabelRecord) []float64 {
	out := make([]float64, len(recs))
	for i, r := range recs {
		out[i] = float64(r.Label)
	}
	return out
}

// firstProbas returns the first-cluster probability of every record, falling
// back to the one-hot value when the file has none.
func firstProbas(recs []report.LabelRecord, clusters int) []float64 {
	out := make([]float64, len(recs))
	for i, r := range recs {
		switch {
		case clusters == 2 && !math.IsNaN(r.Probability):
			out[i] = r.Probability
		case r.Label == 0:
			out[i] = 1
		}
	}
	return out
}
