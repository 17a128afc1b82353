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
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/harel-coffee/DeepProg-auto/internal/config"
	"github.com/harel-coffee/DeepProg-auto/internal/interfaces"
)

// Cohort is the fully loaded input of an ensemble: survival for every sample
// and one feature matrix per omic, all rows in SampleIDs order.
type Cohort struct {
	SampleIDs []string
	Survival  interfaces.Survival
	Matrices  map[string]interfaces.FeatureMatrix
	Metadata  *mat.Dense
}

// LoadCohort reads the survival file and every training matrix named in p,
// keeping the samples present in all of them (sorted by id).
func LoadCohort(p config.LoadParams) (*Cohort, error) {
	ids, survival, err := ReadSurvivalTSV(p.Path(p.SurvivalTSV), p.SurvivalFlag)
	if err != nil {
		return nil, err
	}

	common := make(map[string]int, len(ids))
	for _, id := range ids {
		common[id] = 1
	}

	omics := make([]string, 0, len(p.TrainingTSV))
	for omic := range p.TrainingTSV {
		omics = append(omics, omic)
	}
	sort.Strings(omics)

	raw := make(map[string]interfaces.FeatureMatrix, len(omics))
	for _, omic := range omics {
		m, err := ReadMatrixTSV(p.Path(p.TrainingTSV[omic]))
		if err != nil {
			return nil, fmt.Errorf("omic %s: %w", omic, err)
		}
		raw[omic] = m
		for _, id := range m.SampleIDs {
			if _, ok := common[id]; ok {
				common[id]++
			}
		}
	}

	kept := make([]string, 0, len(common))
	for id, seen := range common {
		if seen == len(omics)+1 {
			kept = append(kept, id)
		}
	}
	sort.Strings(kept)
	if len(kept) == 0 {
		return nil, fmt.Errorf("no sample is shared by the survival file and every training matrix")
	}

	pos := make(map[string]int, len(ids))
	for i, id := range ids {
		pos[id] = i
	}
	index := make([]int, len(kept))
	for i, id := range kept {
		index[i] = pos[id]
	}

	cohort := &Cohort{
		SampleIDs: kept,
		Survival:  survival.Subset(index),
		Matrices:  make(map[string]interfaces.FeatureMatrix, len(raw)),
	}
	for omic, m := range raw {
		reordered, err := m.Reorder(kept)
		if err != nil {
			return nil, fmt.Errorf("omic %s: %w", omic, err)
		}
		cohort.Matrices[omic] = reordered
	}

	if p.MetadataTSV != "" {
		meta, err := ReadMatrixTSV(p.Path(p.MetadataTSV))
		if err != nil {
			return nil, fmt.Errorf("metadata: %w", err)
		}
		reordered, err := meta.Reorder(kept)
		if err != nil {
			return nil, fmt.Errorf("metadata: %w", err)
		}
		cohort.Metadata = reordered.Values
	}
	return cohort, nil
}

// ReadSurvivalTSV reads a survival file whose header names the columns in flag.
func ReadSurvivalTSV(path string, flag config.SurvivalFlag) ([]string, interfaces.Survival, error) {
	header, rows, err := readTSV(path)
	if err != nil {
		return nil, interfaces.Survival{}, err
	}
	col := func(name string) (int, error) {
		for i, h := range header {
			if h == name {
				return i, nil
			}
		}
		return -1, fmt.Errorf("%s: column %q not found", path, name)
	}
	idCol, err := col(flag.PatientID)
	if err != nil {
		return nil, interfaces.Survival{}, err
	}
	daysCol, err := col(flag.Survival)
	if err != nil {
		return nil, interfaces.Survival{}, err
	}
	eventCol, err := col(flag.Event)
	if err != nil {
		return nil, interfaces.Survival{}, err
	}

	ids := make([]string, 0, len(rows))
	survival := interfaces.Survival{
		Days:   make([]float64, 0, len(rows)),
		Events: make([]float64, 0, len(rows)),
	}
	for line, row := range rows {
		days, err := parseFloat(row[daysCol])
		if err != nil {
			return nil, interfaces.Survival{}, fmt.Errorf("%s line %d: %w", path, line+2, err)
		}
		event, err := parseFloat(row[eventCol])
		if err != nil {
			return nil, interfaces.Survival{}, fmt.Errorf("%s line %d: %w", path, line+2, err)
		}
		ids = append(ids, row[idCol])
		survival.Days = append(survival.Days, days)
		survival.Events = append(survival.Events, event)
	}
	return ids, survival, nil
}

// ReadMatrixTSV reads a samples x features matrix: the header lists the
// feature names after a leading id column, each row starts with a sample id.
func ReadMatrixTSV(path string) (interfaces.FeatureMatrix, error) {
	header, rows, err := readTSV(path)
	if err != nil {
		return interfaces.FeatureMatrix{}, err
	}
	if len(header) < 2 {
		return interfaces.FeatureMatrix{}, fmt.Errorf("%s: expected an id column and at least one feature", path)
	}
	features := append([]string(nil), header[1:]...)
	values := mat.NewDense(max(len(rows), 1), len(features), nil)
	ids := make([]string, len(rows))
	for i, row := range rows {
		ids[i] = row[0]
		for j := range features {
			v, err := parseFloat(row[j+1])
			if err != nil {
				return interfaces.FeatureMatrix{}, fmt.Errorf("%s line %d: %w", path, i+2, err)
			}
			values.Set(i, j, v)
		}
	}
	if len(rows) == 0 {
		return interfaces.FeatureMatrix{}, fmt.Errorf("%s: no samples", path)
	}
	return interfaces.FeatureMatrix{SampleIDs: ids, Features: features, Values: values}, nil
}

func readTSV(path string) ([]string, [][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comma = '\t'
	r.Comment = '#'
	r.LazyQuotes = true

	header, err := r.Read()
	if err == io.EOF {
		return nil, nil, fmt.Errorf("%s: empty file", path)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	rows, err := r.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return header, rows, nil
}

func parseFloat(s string) (float64, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "na", "nan":
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}
