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
package ledger

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strconv"
	"time"
)

// Ledger is the flat key/value record of a run. It is not synchronized and
// must only be written by the goroutine driving the run.
type Ledger struct {
	entries map[string]any
}

var _ ReadWriter = &Ledger{}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{entries: make(map[string]any)}
}

// Set implements Writer.
func (l *Ledger) Set(key string, value any) {
	l.entries[key] = value
}

// Get implements Reader.
func (l *Ledger) Get(key string) (any, bool) {
	v, ok := l.entries[key]
	return v, ok
}

// Len returns the number of recorded entries, renderable or not.
func (l *Ledger) Len() int {
	return len(l.entries)
}

// Snapshot implements Reader.
func (l *Ledger) Snapshot() map[string]string {
	out := make(map[string]string, len(l.entries))
	for k, v := range l.entries {
		if s, ok := render(v); ok {
			out[k] = s
		}
	}
	return out
}

// WriteJSON persists the snapshot as a JSON object with sorted keys.
func (l *Ledger) WriteJSON(path string) error {
	data, err := json.MarshalIndent(l.Snapshot(), "", "  ")
	if err != nil {
		return fmt.Errorf("encoding ledger: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing ledger %s: %w", path, err)
	}
	return nil
}

func render(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, true
	case error:
		return t.Error(), true
	case time.Duration:
		return formatFloat(t.Seconds()), true
	case fmt.Stringer:
		return t.String(), true
	case bool:
		return strconv.FormatBool(t), true
	case float64:
		return formatFloat(t), true
	case float32:
		return formatFloat(float64(t)), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case int32:
		return strconv.FormatInt(int64(t), 10), true
	case uint64:
		return strconv.FormatUint(t, 10), true
	case uint:
		return strconv.FormatUint(uint64(t), 10), true
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", false
	}
	return string(data), true
}

func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
