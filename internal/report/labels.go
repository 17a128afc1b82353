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
// Package report reads and writes the tab-separated files of a run.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/harel-coffee/DeepProg-auto/internal/interfaces"
)

// LabelRecord is one row of a label file.
type LabelRecord struct {
	SampleID string
	Label    int
	// Probability is the probability of the first cluster, NaN when absent.
	Probability float64
}

// WriteLabels writes sample_id, label, probability, days and event columns.
// Missing probabilities or survival are written as empty cells.
func WriteLabels(path string, file interfaces.LabelFile) error {
	n := len(file.SampleIDs)
	if len(file.Labels) != n {
		return fmt.Errorf("%d labels for %d samples", len(file.Labels), n)
	}
	if file.Probabilities != nil && len(file.Probabilities) != n {
		return fmt.Errorf("%d probabilities for %d samples", len(file.Probabilities), n)
	}
	if file.Survival.Len() > 0 && file.Survival.Len() != n {
		return fmt.Errorf("%d survival records for %d samples", file.Survival.Len(), n)
	}

	rows := make([][]string, 0, n)
	for i, id := range file.SampleIDs {
		row := []string{id, strconv.Itoa(file.Labels[i]), "", "", ""}
		if file.Probabilities != nil {
			row[2] = FormatFloat(file.Probabilities[i])
		}
		if file.Survival.Len() > 0 {
			row[3] = FormatFloat(file.Survival.Days[i])
			row[4] = FormatFloat(file.Survival.Events[i])
		}
		rows = append(rows, row)
	}
	return writeTSV(path, nil, rows)
}

// ReadLabels reads a label file: a sample id, an integer label and an
// optional first-cluster probability per row. Lines starting with # are
// skipped, further columns are ignored.
func ReadLabels(path string) ([]LabelRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := newReader(f)
	var out []LabelRecord
	for line := 1; ; line++ {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if len(row) < 2 {
			return nil, fmt.Errorf("%s line %d: expected at least 2 columns, got %d", path, line, len(row))
		}
		label, err := strconv.ParseFloat(strings.TrimSpace(row[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: label: %w", path, line, err)
		}
		rec := LabelRecord{SampleID: row[0], Label: int(label), Probability: math.NaN()}
		if len(row) > 2 && strings.TrimSpace(row[2]) != "" {
			p, err := strconv.ParseFloat(strings.TrimSpace(row[2]), 64)
			if err != nil {
				return nil, fmt.Errorf("%s line %d: probability: %w", path, line, err)
			}
			rec.Probability = p
		}
		out = append(out, rec)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: no labels", path)
	}
	return out, nil
}

// FormatFloat renders f the way every report file does.
func FormatFloat(f float64) string {
	if math.IsNaN(f) {
		return "nan"
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func newReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	return cr
}

func writeTSV(path string, header []string, rows [][]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	w.Comma = '\t'
	if header != nil {
		header = append([]string(nil), header...)
		header[0] = "#" + header[0]
		if err := w.Write(header); err != nil {
			f.Close()
			return err
		}
	}
	if err := w.WriteAll(rows); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}
