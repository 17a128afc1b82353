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
	"os"
	"path/filepath"
	"strconv"

	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/harel-coffee/DeepProg-auto/internal/interfaces"
)

// Classes selects which per-model labels SaveModelsClasses writes.
type Classes int

const (
	// TrainingClasses are the labels of each model's training samples.
	TrainingClasses Classes = iota
	// CVClasses are the labels predicted on each model's held-out fold.
	CVClasses
)

func (c Classes) String() string {
	switch c {
	case TrainingClasses:
		return "training"
	case CVClasses:
		return "cv"
	default:
		return fmt.Sprintf("Classes(%d)", int(c))
	}
}

func (c Classes) dir() string {
	if c == CVClasses {
		return "saved_models_cv_classes"
	}
	return "saved_models_classes"
}

func (c Classes) attributes() (labels, probas interfaces.Attribute, ids, surv interfaces.DatasetAttribute) {
	if c == CVClasses {
		return interfaces.AttrCVLabels, interfaces.AttrCVLabelsProba, interfaces.DatasetSampleIDsCV, interfaces.DatasetSurvivalCV
	}
	return interfaces.AttrLabels, interfaces.AttrLabelsProba, interfaces.DatasetSampleIDs, interfaces.DatasetSurvival
}

// SaveModelsClasses writes the labels of every model to
// <dir>/model_instance_<seed>.tsv, or model_instance_<seed>_<index>.tsv when
// several models share a seed. An empty dir selects the default folder of
// the kind under the results directory. The returned folder holds the files.
func (e *Ensemble) SaveModelsClasses(ctx context.Context, kind Classes, dir string) (string, error) {
	if err := e.requireFitted(); err != nil {
		return "", err
	}
	if kind == CVClasses {
		if err := e.predictHoldout(ctx); err != nil {
			return "", err
		}
	}
	if dir == "" {
		dir = e.resultsPath(kind.dir())
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	labelsAttr, probasAttr, idsAttr, survAttr := kind.attributes()
	models := e.pool.Learners()
	names := instanceNames(models)
	for i, m := range models {
		labels, err := interfaces.ReadLabels(m, labelsAttr)
		if err != nil {
			return "", fmt.Errorf("model %d: %w", i, err)
		}
		probas, err := interfaces.ReadProbas(m, probasAttr)
		if err != nil {
			return "", fmt.Errorf("model %d: %w", i, err)
		}
		ids, err := interfaces.ReadSampleIDs(m, idsAttr)
		if err != nil {
			return "", fmt.Errorf("model %d: %w", i, err)
		}
		surv, err := interfaces.ReadSurvival(m, survAttr)
		if err != nil {
			return "", fmt.Errorf("model %d: %w", i, err)
		}

		first := make([]float64, len(probas))
		for j, p := range probas {
			if len(p) > 0 {
				first[j] = p[0]
			}
		}
		err = m.WriteLabels(ctx, interfaces.LabelFile{
			Destination:   filepath.Join(dir, "model_instance_"+names[i]+".tsv"),
			SampleIDs:     ids,
			Labels:        labels,
			Probabilities: first,
			Survival:      surv,
		})
		if err != nil {
			return "", fmt.Errorf("model %d: %w", i, err)
		}
	}
	ctrl.LoggerFrom(ctx).Info("Individual model labels saved", "kind", kind.String(), "path", dir)
	return dir, nil
}

// instanceNames names each model by its seed, the index standing in for a
// zero seed. Names shared by several models get the index appended.
func instanceNames(models []interfaces.WeakLearner) []string {
	names := make([]string, len(models))
	counts := make(map[string]int, len(models))
	for i, m := range models {
		names[i] = strconv.Itoa(i)
		if seed, err := m.Attribute(interfaces.AttrSeed); err == nil {
			if s, ok := seed.(int64); ok && s != 0 {
				names[i] = strconv.FormatInt(s, 10)
			}
		}
		counts[names[i]]++
	}
	for i, name := range names {
		if counts[name] > 1 {
			names[i] = name + "_" + strconv.Itoa(i)
		}
	}
	return names
}

// LogFiles are the destinations of WriteLogs.
type LogFiles struct {
	Ledger  string
	Metrics string
}

// LogFiles returns where WriteLogs writes the ledger and the metrics.
func (e *Ensemble) LogFiles() LogFiles {
	return LogFiles{
		Ledger:  e.resultsPath(e.cfg.ProjectName + ".log.json"),
		Metrics: e.resultsPath(e.cfg.ProjectName + ".metrics.prom"),
	}
}

// WriteLogs persists the run ledger as JSON and the metrics in the text
// exposition format. Both files are attempted.
func (e *Ensemble) WriteLogs(ctx context.Context) error {
	files := e.LogFiles()
	if err := os.MkdirAll(e.cfg.ResultsDir(), 0o755); err != nil {
		return err
	}
	err := errors.Join(
		e.ledger.WriteJSON(files.Ledger),
		e.metrics.WriteTextfile(files.Metrics),
	)
	if err != nil {
		return err
	}
	ctrl.LoggerFrom(ctx).Info("Run logs written", "ledger", files.Ledger, "metrics", files.Metrics, "entries", e.ledger.Len())
	return nil
}
