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
package e2e

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/harel-coffee/DeepProg-auto/internal/config"
	"github.com/harel-coffee/DeepProg-auto/internal/dataset"
	"github.com/harel-coffee/DeepProg-auto/internal/engines/fitting"
	"github.com/harel-coffee/DeepProg-auto/internal/ensemble"
	"github.com/harel-coffee/DeepProg-auto/internal/learner/pretrained"
	"github.com/harel-coffee/DeepProg-auto/internal/ledger"
	"github.com/harel-coffee/DeepProg-auto/internal/report"
	"github.com/harel-coffee/DeepProg-auto/internal/stats"
)

const (
	nbSamples = 24
	nbModels  = 3
	project   = "e2e"
)

func sampleID(i int) string {
	return fmt.Sprintf("p%02d", i)
}

// truth is the cluster a sample belongs to: odd samples live longer and
// over-express gene_a.
func truth(i int) int {
	return i % 2
}

func writeFile(path string, lines []string) {
	ExpectWithOffset(1, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644)).To(Succeed())
}

func writeCohort(dir string) {
	surv := []string{"barcode\tdays\trecurrence"}
	rna := []string{"sample\tgene_a\tgene_b\tgene_c"}
	for i := range nbSamples {
		c := truth(i)
		days := 100 + 5*i
		if c == 1 {
			days = 1500 + 20*i
		}
		event := 1
		if i%5 == 4 {
			event = 0
		}
		surv = append(surv, fmt.Sprintf("%s\t%d\t%d", sampleID(i), days, event))
		rna = append(rna, fmt.Sprintf("%s\t%.2f\t%.2f\t%d",
			sampleID(i), float64(5*c)+0.1*float64(i), float64(3*(1-c))+0.05*float64(i), i%5))
	}
	writeFile(filepath.Join(dir, "survival.tsv"), surv)
	writeFile(filepath.Join(dir, "rna.tsv"), rna)
}

// writeLabelFiles writes one label file per model. Model k mislabels sample
// k, with less confidence than its other calls.
func writeLabelFiles(dir string) {
	Expect(os.MkdirAll(dir, 0o755)).To(Succeed())
	for k := range nbModels {
		lines := []string{"#sample id\tlabel\tprobability"}
		for i := range nbSamples {
			label, first := truth(i), 0.9
			if i == k {
				label, first = 1-label, 0.6
			}
			if label == 1 {
				first = 1 - first
			}
			lines = append(lines, fmt.Sprintf("%s\t%d\t%.2f", sampleID(i), label, first))
		}
		writeFile(filepath.Join(dir, fmt.Sprintf("model_%d.tsv", k)), lines)
	}
}

func writeConfig(path, dataDir, resultsDir, strategy string, distribute bool) {
	writeFile(path, []string{
		"projectName: " + project,
		"pathResults: " + resultsDir,
		fmt.Sprintf("nbIt: %d", nbModels),
		"splitNFold: 4",
		"seed: 7",
		"classSelection: " + strategy,
		fmt.Sprintf("distribute: %t", distribute),
		"nbThreads: 2",
		"nbClusters: 2",
		"data:",
		"  pathData: " + dataDir,
		"  survivalTSV: survival.tsv",
		"  trainingTSV:",
		"    rna: rna.tsv",
		"  survivalFlag:",
		"    patientID: barcode",
		"    survival: days",
		"    event: recurrence",
	})
}

// runPipeline wires the components the way the deepprog binary does.
func runPipeline(ctx context.Context, cfg config.EnsembleConfig, labelDir string) (*ensemble.Ensemble, error) {
	cohort, err := dataset.LoadCohort(cfg.Data)
	if err != nil {
		return nil, err
	}
	build := pretrained.Builder(cohort, stats.Cox{}, pretrained.Options{
		ResultsDir: cfg.ResultsDir(),
		NbClusters: cfg.NbClusters,
	})

	var opts []ensemble.Option
	if cfg.Distribute {
		rt := fitting.NewRuntime(cfg.NbThreads)
		rt.Start()
		defer func() { _ = rt.Shutdown() }()
		opts = append(opts, ensemble.WithRuntime(rt))
	}

	e, err := ensemble.New(ctx, cfg, build, stats.Cox{}, opts...)
	if err != nil {
		return nil, err
	}
	return e, e.Run(ctx, ensemble.RunOptions{
		LabelFolder:       labelDir,
		LabelPattern:      "model_*.tsv",
		SaveModelsClasses: true,
	})
}

func dataLines(path string) []string {
	f, err := os.Open(path)
	ExpectWithOffset(1, err).NotTo(HaveOccurred())
	defer f.Close()

	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := sc.Text(); line != "" && !strings.HasPrefix(line, "#") {
			out = append(out, line)
		}
	}
	ExpectWithOffset(1, sc.Err()).NotTo(HaveOccurred())
	return out
}

var _ = Describe("Pretrained label pipeline", func() {
	var (
		ctx        context.Context
		dataDir    string
		labelDir   string
		resultsDir string
		configPath string
	)

	BeforeEach(func() {
		ctx = ctrl.LoggerInto(context.Background(), ctrl.Log.WithName("e2e"))
		root := GinkgoT().TempDir()
		dataDir = filepath.Join(root, "data")
		labelDir = filepath.Join(root, "labels")
		resultsDir = filepath.Join(root, "results")
		configPath = filepath.Join(root, "deepprog.yaml")
		Expect(os.MkdirAll(dataDir, 0o755)).To(Succeed())
		writeCohort(dataDir)
		writeLabelFiles(labelDir)
	})

	for _, tc := range []struct {
		strategy   string
		distribute bool
	}{
		{"mean", false},
		{"max", true},
		{"weighted_mean", false},
		{"weighted_max", true},
	} {
		It(fmt.Sprintf("recovers the planted clusters with %s (distribute=%t)", tc.strategy, tc.distribute), func() {
			writeConfig(configPath, dataDir, resultsDir, tc.strategy, tc.distribute)
			cfg, err := config.Load(configPath, nil)
			Expect(err).NotTo(HaveOccurred())

			By("running the pipeline")
			e, err := runPipeline(ctx, cfg, labelDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(e.Models()).To(HaveLen(nbModels))

			By("checking the consensus labels")
			records, err := report.ReadLabels(filepath.Join(cfg.ResultsDir(), project+"_full_labels.tsv"))
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(HaveLen(nbSamples))
			for _, r := range records {
				var i int
				_, err := fmt.Sscanf(r.SampleID, "p%02d", &i)
				Expect(err).NotTo(HaveOccurred())
				Expect(r.Label).To(Equal(truth(i)), "sample %s", r.SampleID)
			}

			By("checking the feature files")
			files := report.FeatureFilesFor(cfg.ResultsDir(), project)
			positive := dataLines(files.Positive)
			Expect(positive).To(ContainElement(HavePrefix("1\tgene_a\t")))
			Expect(positive).To(ContainElement(HavePrefix("0\tgene_b\t")))
			Expect(files.Anticorrelated).To(BeAnExistingFile())

			By("checking the saved model classes")
			for _, kind := range []string{"saved_models_classes", "saved_models_cv_classes"} {
				entries, err := os.ReadDir(filepath.Join(cfg.ResultsDir(), kind))
				Expect(err).NotTo(HaveOccurred())
				Expect(entries).To(HaveLen(nbModels))
			}

			By("checking the run ledger")
			logs := e.LogFiles()
			raw, err := os.ReadFile(logs.Ledger)
			Expect(err).NotTo(HaveOccurred())
			var entries map[string]string
			Expect(json.Unmarshal(raw, &entries)).To(Succeed())
			Expect(entries).To(HaveKeyWithValue(ledger.KeySuccess, "true"))
			Expect(entries).To(HaveKeyWithValue(ledger.KeyNbModels, "3"))
			Expect(entries).To(HaveKeyWithValue(ledger.KeyMasterSeed, "7"))
			Expect(entries).To(HaveKey(ledger.KeyPValueFull))
			Expect(entries).NotTo(HaveKey(ledger.KeyFailure))

			metrics, err := os.ReadFile(logs.Metrics)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(metrics)).To(ContainSubstring("deepprog_pool_models_fitted 3"))
		})
	}

	It("reports a missing label folder without writing logs", func() {
		writeConfig(configPath, dataDir, resultsDir, "mean", false)
		cfg, err := config.Load(configPath, nil)
		Expect(err).NotTo(HaveOccurred())

		_, err = runPipeline(ctx, cfg, filepath.Join(labelDir, "missing"))
		Expect(err).To(MatchError(ensemble.ErrNoLabelSources))
		Expect(filepath.Join(cfg.ResultsDir(), project+".log.json")).NotTo(BeAnExistingFile())
	})
})
