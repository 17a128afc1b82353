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

// Reader provides read-only access to the run ledger.
// This interface is used by reporting code that persists or inspects a run.
type Reader interface {
	// Get returns the raw value recorded under key.
	Get(key string) (any, bool)

	// Snapshot returns every entry rendered as text.
	// Entries whose value cannot be rendered are left out.
	Snapshot() map[string]string
}

// Writer provides write access to the run ledger.
// This interface is used by the stages of a run to record their outcome.
type Writer interface {
	// Set records value under key, replacing any previous value.
	Set(key string, value any)
}

// ReadWriter combines both read and write access to the ledger.
type ReadWriter interface {
	Reader
	Writer
}
