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
package report

import (
	"path/filepath"
	"sort"
	"strconv"

	"github.com/harel-coffee/DeepProg-auto/internal/features"
)

var (
	featureHeader         = []string{"label", "feature", "median difference", "p-value"}
	survivalFeatureHeader = []string{"label", "feature", "median difference", "cluster logrank p-value", "CoxPH Log-rank p-value"}
)

// FeatureFiles are the destinations of the per-cluster feature scores.
type FeatureFiles struct {
	Positive       string
	Anticorrelated string
	Survival       string
}

// FeatureFilesFor returns the conventional file names of a project under dir.
func FeatureFilesFor(dir, project string) FeatureFiles {
	return FeatureFiles{
		Positive:       filepath.Join(dir, project+"_features_scores_per_clusters.tsv"),
		Anticorrelated: filepath.Join(dir, project+"_features_anticorrelated_scores_per_clusters.tsv"),
		Survival:       filepath.Join(dir, project+"_survival_features_scores_per_clusters.tsv"),
	}
}

// WriteFeatureScores writes over-expressed features to files.Positive and
// every other feature, zero median difference included, to files.Anticorrelated.
func WriteFeatureScores(files FeatureFiles, scores map[int][]features.Score) error {
	positive, rest := features.Partition(scores)
	if err := writeTSV(files.Positive, featureHeader, featureRows(positive)); err != nil {
		return err
	}
	return writeTSV(files.Anticorrelated, featureHeader, featureRows(rest))
}

// WriteSurvivalFeatureScores writes the survival-filtered feature scores.
// It reports false without writing when there is no score.
func WriteSurvivalFeatureScores(files FeatureFiles, scores map[int][]features.SurvivalScore) (bool, error) {
	if features.Count(scores) == 0 {
		return false, nil
	}
	var rows [][]string
	for _, c := range sortedClusters(scores) {
		for _, sc := range scores[c] {
			rows = append(rows, []string{
				strconv.Itoa(sc.Cluster),
				sc.Feature,
				FormatFloat(sc.MedianDiff),
				FormatFloat(sc.PValue),
				FormatFloat(sc.SurvivalPValue),
			})
		}
	}
	return true, writeTSV(files.Survival, survivalFeatureHeader, rows)
}

func featureRows(scores []features.Score) [][]string {
	rows := make([][]string, 0, len(scores))
	for _, sc := range scores {
		rows = append(rows, []string{
			strconv.Itoa(sc.Cluster),
			sc.Feature,
			FormatFloat(sc.MedianDiff),
			FormatFloat(sc.PValue),
		})
	}
	return rows
}

func sortedClusters(scores map[int][]features.SurvivalScore) []int {
	keys := make([]int, 0, len(scores))
	for k := range scores {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
