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

package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/harel-coffee/DeepProg-auto/internal/logging"
)

// EnvPrefix is the prefix of environment variables overriding the configuration,
// e.g. DEEPPROG_NBIT=20.
const EnvPrefix = "DEEPPROG"

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"project-name":    "projectName",
	"path-results":    "pathResults",
	"nb-it":           "nbIt",
	"split-n-fold":    "splitNFold",
	"seed":            "seed",
	"class-selection": "classSelection",
	"distribute":      "distribute",
	"nb-threads":      "nbThreads",
	"nb-clusters":     "nbClusters",
	"survival-tsv":    "data.survivalTSV",
	"path-data":       "data.pathData",
}

// AddFlags registers the configuration flags on fs.
func AddFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("project-name", d.ProjectName, "project name used to prefix output files")
	fs.String("path-results", d.PathResults, "parent directory of the results folder")
	fs.Int("nb-it", d.NbIt, "number of weak learners")
	fs.Int("split-n-fold", d.SplitNFold, "K-fold count used to hold out a validation fold (0 disables)")
	fs.Int64("seed", 0, "master seed (random when unset)")
	fs.String("class-selection", d.ClassSelection, "consensus strategy: max, mean, weighted_mean, weighted_max")
	fs.Bool("distribute", d.Distribute, "fit weak learners through the queued-dispatch runtime")
	fs.Int("nb-threads", d.NbThreads, "worker budget for dispatch and feature scoring")
	fs.Int("nb-clusters", d.NbClusters, "number of clusters")
	fs.String("survival-tsv", "", "survival file")
	fs.String("path-data", "", "directory holding the input files")
}

// Parse reads a YAML document on top of the defaults and validates it.
func Parse(data []byte) (EnsembleConfig, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return EnsembleConfig{}, fmt.Errorf("parsing ensemble config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return EnsembleConfig{}, err
	}
	return cfg, nil
}

// Load merges, in increasing precedence, the defaults, the optional config
// file at path, DEEPPROG_* environment variables and the flags explicitly set
// on fs (fs may be nil).
func Load(path string, fs *pflag.FlagSet) (EnsembleConfig, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return EnsembleConfig{}, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	if fs != nil {
		var bindErr error
		fs.Visit(func(f *pflag.Flag) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return
			}
			if err := v.BindPFlag(key, f); err != nil && bindErr == nil {
				bindErr = err
			}
		})
		if bindErr != nil {
			return EnsembleConfig{}, fmt.Errorf("binding flags: %w", bindErr)
		}
	}

	// AutomaticEnv only answers keys viper already knows about.
	for _, key := range flagKeys {
		if !v.IsSet(key) {
			continue
		}
		v.Set(key, v.Get(key))
	}

	cfg := Default()
	if err := v.Unmarshal(&cfg); err != nil {
		return EnsembleConfig{}, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return EnsembleConfig{}, err
	}

	ctrl.Log.V(logging.DEBUG).Info("Loaded ensemble config",
		"file", path,
		"projectName", cfg.ProjectName,
		"nbIt", cfg.NbIt,
		"classSelection", cfg.ClassSelection,
		"distribute", cfg.Distribute)
	return cfg, nil
}
