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
package main

import (
	"os"

	"github.com/spf13/cobra"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/harel-coffee/DeepProg-auto/internal/config"
	"github.com/harel-coffee/DeepProg-auto/internal/logging"
)

var (
	configPath  string
	verbosity   int
	development bool

	rootCmd = &cobra.Command{
		Use:   "deepprog",
		Short: "Survival ensemble over weak learners",
		Long: `deepprog fits an ensemble of weak survival learners, aggregates their
cluster assignments into consensus labels and scores the features that
separate the consensus clusters.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.Setup(logging.Options{
				Development: development,
				Verbosity:   verbosity,
			})
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to the ensemble YAML config")
	rootCmd.PersistentFlags().IntVarP(&verbosity, "verbosity", "v", 0, "log verbosity (1 = debug, 2 = trace)")
	rootCmd.PersistentFlags().BoolVar(&development, "dev", false, "human-readable console logs")
	config.AddFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(fitPretrainedCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		ctrl.Log.Error(err, "deepprog failed")
		os.Exit(1)
	}
}
