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
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/harel-coffee/DeepProg-auto/internal/config"
	"github.com/harel-coffee/DeepProg-auto/internal/confidence"
	"github.com/harel-coffee/DeepProg-auto/internal/dataset"
	"github.com/harel-coffee/DeepProg-auto/internal/engines/consensus"
	"github.com/harel-coffee/DeepProg-auto/internal/engines/fitting"
	"github.com/harel-coffee/DeepProg-auto/internal/features"
	"github.com/harel-coffee/DeepProg-auto/internal/interfaces"
	"github.com/harel-coffee/DeepProg-auto/internal/ledger"
	"github.com/harel-coffee/DeepProg-auto/internal/metrics"
	"github.com/harel-coffee/DeepProg-auto/internal/pool"
)

var (
	// ErrNoLabelSources is returned when a pretrained fit finds no label file.
	ErrNoLabelSources = errors.New("no pretrained label source")

	// ErrNotFitted is returned by the stages that need a fitted pool.
	ErrNotFitted = errors.New("ensemble is not fitted")

	// ErrNoConsensus is returned by the stages that need the full-dataset consensus.
	ErrNoConsensus = errors.New("labels are not predicted on the full dataset")
)

// DefaultLabelPattern selects the label files of a folder.
const DefaultLabelPattern = "*.tsv"

// LearnerBuilder creates the weak learner that owns one resampled dataset.
type LearnerBuilder func(ds *dataset.Dataset) (interfaces.WeakLearner, error)

// Option customizes an Ensemble.
type Option func(*options)

type options struct {
	runtime  *fitting.Runtime
	recorder *metrics.Recorder
	ledger   *ledger.Ledger
}

// WithRuntime sets the started runtime used by the distributed strategy.
func WithRuntime(rt *fitting.Runtime) Option {
	return func(o *options) { o.runtime = rt }
}

// WithRecorder sets the metrics recorder. Defaults to a fresh recorder.
func WithRecorder(rec *metrics.Recorder) Option {
	return func(o *options) { o.recorder = rec }
}

// WithLedger sets the run ledger. Defaults to an empty ledger.
func WithLedger(l *ledger.Ledger) Option {
	return func(o *options) { o.ledger = l }
}

// Ensemble is one DeepProg run.
type Ensemble struct {
	cfg        config.EnsembleConfig
	runID      string
	masterSeed int64

	datasets []*dataset.Dataset
	pool     *pool.Manager
	backend  fitting.Backend

	strategy   consensus.Strategy
	aggregator consensus.Aggregator
	duplicates consensus.DuplicatePolicy

	stats      interfaces.StatsBackend
	confidence *confidence.Engine
	scorer     *features.Scorer
	ledger     *ledger.Ledger
	metrics    *metrics.Recorder

	fitted     bool
	pretrained bool
	predicted  bool
	weights    []float64

	full           *FullLabels
	featureScores  map[int][]features.Score
	survivalScores map[int][]features.SurvivalScore
}

// New validates cfg, builds one dataset and one learner per iteration and
// records the run parameters in the ledger.
func New(ctx context.Context, cfg config.EnsembleConfig, build LearnerBuilder, sb interfaces.StatsBackend, opts ...Option) (*Ensemble, error) {
	logger := ctrl.LoggerFrom(ctx)

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.recorder == nil {
		o.recorder = metrics.NewRecorder()
	}
	if o.ledger == nil {
		o.ledger = ledger.New()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	strategy, err := consensus.ParseStrategy(cfg.ClassSelection)
	if err != nil {
		return nil, err
	}
	aggregator, err := consensus.NewAggregator(strategy, consensus.WeightCleaning{
		Threshold: cfg.WeightThreshold,
		Exponent:  cfg.WeightExponent,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
	}
	duplicates := consensus.KeepFirst
	if cfg.DuplicatePolicy == config.DuplicateError {
		duplicates = consensus.ErrorOnDuplicate
	}

	backend, err := fitting.NewBackend(fitting.StrategyFor(cfg.Distribute), fitting.Options{Runtime: o.runtime})
	if err != nil {
		return nil, err
	}

	master, drawn := dataset.ResolveSeed(cfg.Seed)
	if drawn {
		logger.Info("No seed configured, drew a master seed", "seed", master)
	}
	datasets, err := dataset.NewFactory(cfg, master).Build(ctx)
	if err != nil {
		return nil, err
	}
	learners := make([]interfaces.WeakLearner, len(datasets))
	for i, ds := range datasets {
		if learners[i], err = build(ds); err != nil {
			return nil, fmt.Errorf("building learner %d: %w", i, err)
		}
	}

	e := &Ensemble{
		cfg:        cfg,
		runID:      uuid.New().String(),
		masterSeed: master,
		datasets:   datasets,
		pool:       pool.NewManager(learners, backend, o.ledger, o.recorder),
		backend:    backend,
		strategy:   strategy,
		aggregator: aggregator,
		duplicates: duplicates,
		stats:      sb,
		confidence: confidence.NewEngine(backend, sb),
		scorer:     features.NewScorer(sb, cfg.NbThreads, cfg.FeaturePValueThreshold),
		ledger:     o.ledger,
		metrics:    o.recorder,
	}
	e.recordParameters()

	logger.Info("Ensemble created",
		"runID", e.runID,
		"project", cfg.ProjectName,
		"models", len(learners),
		"strategy", strategy.String(),
		"backend", fitting.StrategyFor(cfg.Distribute).String())
	return e, nil
}

func (e *Ensemble) recordParameters() {
	e.ledger.Set(ledger.KeyRunID, e.runID)
	e.ledger.Set(ledger.KeyMasterSeed, e.masterSeed)
	e.ledger.Set(ledger.KeySuccess, false)
	e.ledger.Set(ledger.KeyNbIt, e.cfg.NbIt)
	e.ledger.Set(ledger.KeyNbClusters, e.cfg.NbClusters)
	e.ledger.Set(ledger.KeyStrategy, e.strategy.String())
	e.ledger.Set(ledger.KeyParameters, e.cfg)
	e.ledger.Set(ledger.KeyPathData, e.cfg.Data.PathData)
	e.ledger.Set(ledger.KeySurvivalTSV, e.cfg.Data.SurvivalTSV)
	e.ledger.Set(ledger.KeyTrainingTSV, e.cfg.Data.TrainingTSV)
	if e.cfg.Data.MetadataTSV != "" {
		e.ledger.Set(ledger.KeyMetadataTSV, e.cfg.Data.MetadataTSV)
	}
}

// RunID identifies the run in the ledger.
func (e *Ensemble) RunID() string {
	return e.runID
}

// MasterSeed returns the seed every dataset seed was derived from.
func (e *Ensemble) MasterSeed() int64 {
	return e.masterSeed
}

// Datasets returns the resampled datasets, one per configured iteration.
func (e *Ensemble) Datasets() []*dataset.Dataset {
	return append([]*dataset.Dataset(nil), e.datasets...)
}

// Models returns the current pool of learners.
func (e *Ensemble) Models() []interfaces.WeakLearner {
	return e.pool.Learners()
}

// Ledger returns the run ledger.
func (e *Ensemble) Ledger() ledger.Reader {
	return e.ledger
}

// Weights returns the concordance weights of the pool, nil until collected.
func (e *Ensemble) Weights() []float64 {
	return append([]float64(nil), e.weights...)
}

// Fit fits every learner with its own pipeline.
func (e *Ensemble) Fit(ctx context.Context) error {
	return e.fit(ctx, nil)
}

// FitOnPretrainedLabelFiles fits every learner from a label file instead of
// its own pipeline. files takes precedence; otherwise the files of folder
// matching pattern (DefaultLabelPattern when empty) are used in lexical order.
func (e *Ensemble) FitOnPretrainedLabelFiles(ctx context.Context, files []string, folder, pattern string) error {
	if len(files) == 0 && folder == "" {
		return fmt.Errorf("%w: either label files or a label folder is required", ErrNoLabelSources)
	}
	if len(files) == 0 {
		if pattern == "" {
			pattern = DefaultLabelPattern
		}
		matches, err := filepath.Glob(filepath.Join(folder, pattern))
		if err != nil {
			return fmt.Errorf("%w: %w", ErrNoLabelSources, err)
		}
		sort.Strings(matches)
		files = matches
	}
	if len(files) == 0 {
		return fmt.Errorf("%w: no file matches %s in %s", ErrNoLabelSources, pattern, folder)
	}
	return e.fit(ctx, files)
}

func (e *Ensemble) fit(ctx context.Context, sources []string) error {
	defer e.track("fit")()

	e.fitted = false
	e.pretrained = sources != nil
	e.predicted = false
	e.weights = nil
	e.full = nil

	if _, err := e.pool.FitAll(ctx, sources); err != nil {
		return err
	}
	e.fitted = true

	if e.strategy.Weighted() {
		e.CollectCIndexForTestFold(ctx)
	}
	return nil
}

func (e *Ensemble) requireFitted() error {
	if !e.fitted {
		return ErrNotFitted
	}
	return nil
}

// predictHoldout predicts the held-out fold of every model once per fit.
func (e *Ensemble) predictHoldout(ctx context.Context) error {
	if e.predicted {
		return nil
	}
	err := e.backend.Each(ctx, e.pool.Learners(), func(ctx context.Context, i int, l interfaces.WeakLearner) error {
		if err := l.PredictOnHoldout(ctx); err != nil {
			return fmt.Errorf("predicting held-out fold of model %d: %w", i, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	e.predicted = true
	return nil
}

// track observes the duration of a stage when the returned func is called.
func (e *Ensemble) track(stage string) func() {
	start := time.Now()
	return func() {
		e.metrics.ObserveStage(stage, time.Since(start))
	}
}

func (e *Ensemble) resultsPath(name string) string {
	return filepath.Join(e.cfg.ResultsDir(), name)
}
