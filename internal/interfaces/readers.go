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

package interfaces

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ReadLabels reads an integer label vector attribute.
func ReadLabels(l WeakLearner, name Attribute) ([]int, error) {
	v, err := l.Attribute(name)
	if err != nil {
		return nil, err
	}
	labels, ok := v.([]int)
	if !ok {
		return nil, typeError(string(name), "[]int", v)
	}
	return labels, nil
}

// ReadProbas reads a samples x clusters probability attribute.
func ReadProbas(l WeakLearner, name Attribute) ([][]float64, error) {
	v, err := l.Attribute(name)
	if err != nil {
		return nil, err
	}
	probas, ok := v.([][]float64)
	if !ok {
		return nil, typeError(string(name), "[][]float64", v)
	}
	return probas, nil
}

// ReadFloat reads a scalar attribute. A nil value reads as NaN.
func ReadFloat(l WeakLearner, name Attribute) (float64, error) {
	v, err := l.Attribute(name)
	if err != nil {
		return math.NaN(), err
	}
	switch f := v.(type) {
	case nil:
		return math.NaN(), nil
	case float64:
		return f, nil
	case float32:
		return float64(f), nil
	case int:
		return float64(f), nil
	case int64:
		return float64(f), nil
	default:
		return math.NaN(), typeError(string(name), "float64", v)
	}
}

// ReadSampleProbas reads the (sample id, probability) pairs of a model.
func ReadSampleProbas(l WeakLearner, name Attribute) ([]SampleProba, error) {
	v, err := l.Attribute(name)
	if err != nil {
		return nil, err
	}
	probas, ok := v.([]SampleProba)
	if !ok {
		return nil, typeError(string(name), "[]SampleProba", v)
	}
	return probas, nil
}

// ReadNodeCounts reads a per-omic count attribute.
func ReadNodeCounts(l WeakLearner, name Attribute) (map[string]int, error) {
	v, err := l.Attribute(name)
	if err != nil {
		return nil, err
	}
	counts, ok := v.(map[string]int)
	if !ok {
		return nil, typeError(string(name), "map[string]int", v)
	}
	return counts, nil
}

// ReadSampleIDs reads a sample identifier dataset attribute.
func ReadSampleIDs(l WeakLearner, name DatasetAttribute) ([]string, error) {
	v, err := l.DatasetAttribute(name)
	if err != nil {
		return nil, err
	}
	ids, ok := v.([]string)
	if !ok {
		return nil, typeError(string(name), "[]string", v)
	}
	return ids, nil
}

// ReadSurvival reads a survival dataset attribute.
func ReadSurvival(l WeakLearner, name DatasetAttribute) (Survival, error) {
	v, err := l.DatasetAttribute(name)
	if err != nil {
		return Survival{}, err
	}
	s, ok := v.(Survival)
	if !ok {
		return Survival{}, typeError(string(name), "Survival", v)
	}
	return s, s.Validate()
}

// ReadFeatureMatrices reads the per-omic feature matrices of a dataset.
func ReadFeatureMatrices(l WeakLearner, name DatasetAttribute) (map[string]FeatureMatrix, error) {
	v, err := l.DatasetAttribute(name)
	if err != nil {
		return nil, err
	}
	m, ok := v.(map[string]FeatureMatrix)
	if !ok {
		return nil, typeError(string(name), "map[string]FeatureMatrix", v)
	}
	return m, nil
}

// ReadMatrix reads an optional dense matrix dataset attribute; nil is allowed.
func ReadMatrix(l WeakLearner, name DatasetAttribute) (*mat.Dense, error) {
	v, err := l.DatasetAttribute(name)
	if err != nil {
		return nil, err
	}
	switch m := v.(type) {
	case nil:
		return nil, nil
	case *mat.Dense:
		return m, nil
	default:
		return nil, typeError(string(name), "*mat.Dense", v)
	}
}

func typeError(name, want string, got any) error {
	return fmt.Errorf("attribute %q: expected %s, got %T", name, want, got)
}
