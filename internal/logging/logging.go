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

// Package logging configures the process-wide logr logger.
package logging

import (
	"io"
	"os"

	"github.com/go-logr/logr"
	"go.uber.org/zap/zapcore"
	ctrl "sigs.k8s.io/controller-runtime"
	crzap "sigs.k8s.io/controller-runtime/pkg/log/zap"
)

// Verbosity levels used with logger.V(...).
const (
	DEBUG = 1
	TRACE = 2
)

// Options controls how the logger is built.
type Options struct {
	// Development enables human-readable console output and stack traces on warnings.
	Development bool

	// Verbosity is the highest V-level that is emitted (0 = info only).
	Verbosity int

	// Output is where log lines go. Defaults to stderr.
	Output io.Writer
}

// NewLogger builds a zap-backed logr.Logger from the options.
func NewLogger(opts Options) logr.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	return crzap.New(
		crzap.UseDevMode(opts.Development),
		crzap.WriteTo(out),
		crzap.Level(zapcore.Level(-opts.Verbosity)),
	)
}

// Setup builds the logger and installs it as the controller-runtime global logger.
func Setup(opts Options) logr.Logger {
	logger := NewLogger(opts)
	ctrl.SetLogger(logger)
	return logger
}

// NewTestLogger installs a verbose development logger for test suites.
func NewTestLogger() {
	ctrl.SetLogger(NewLogger(Options{Development: true, Verbosity: TRACE, Output: os.Stdout}))
}
