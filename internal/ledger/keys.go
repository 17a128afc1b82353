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

// Keys written by the ensemble stages.
const (
	KeyRunID      = "run id"
	KeyFailure    = "failure"
	KeySuccess    = "success"
	KeyNbModels   = "nb. models fitted"
	KeyFitTime    = "fitting time (s)"
	KeyMasterSeed = "seed"

	KeyParameters  = "parameters"
	KeyNbIt        = "nb_it"
	KeyNbClusters  = "nb clusters"
	KeyStrategy    = "class selection"
	KeySurvivalTSV = "survival_tsv"
	KeyTrainingTSV = "training_tsv"
	KeyMetadataTSV = "metadata_tsv"
	KeyPathData    = "path_data"

	KeyCIndexTestFold           = "c-indexes test fold (mean)"
	KeyCIndexFull               = "c-indexes full (mean)"
	KeyCIndexTrain              = "c-indexes train (mean)"
	KeyCIndexConsensusFull      = "c-index full boosting"
	KeyCIndexProbaConsensusFull = "c-index proba full boosting"
	KeyCIndexCatConsensusFull   = "c-index cat full boosting"

	KeyAdjustedRand = "Adj. Rand scores"

	KeyPValueFull      = "pvalue full"
	KeyPValueProbaFull = "pvalue proba full"
	KeyPValueCatFull   = "pvalue cat full"
	KeyPValueCVTest    = "pvalue cv test"

	KeyPValueGeoMeanTrain         = "pvalue geo mean train"
	KeyPValueProbaGeoMeanTrain    = "pvalue proba geo mean train"
	KeyPValueGeoMeanTestFold      = "pvalue geo mean test fold"
	KeyPValueProbaGeoMeanTestFold = "pvalue proba geo mean test fold"

	KeyBIC        = "bic"
	KeySilhouette = "silhouette"
	KeyCalinski   = "calinski"

	KeyFeaturesPerOmic = "number of features per omics"
)
