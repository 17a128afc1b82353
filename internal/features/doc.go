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
/*
Package features ranks input features by how strongly they separate the
consensus clusters.

# Differential scoring

For every feature of every omic and every consensus cluster, the samples of
the cluster are compared with all other samples: the score carries the
difference of their medians and the two-sided Wilcoxon rank-sum p-value.
Scores are grouped per cluster and ordered by ascending p-value; features
with equal p-values keep their omic (sorted by name) and column order.

A positive median difference marks a feature over-expressed in the cluster.
A zero difference is treated as not over-expressed, so Partition routes it
with the negative ones.

# Survival filtering

Features whose differential p-value falls below the scorer threshold are
re-tested against survival on their raw values, optionally adjusted for
metadata covariates. The result is ordered per cluster by the survival
p-value.

# Concurrency

Each feature is an independent unit of work run on a bounded errgroup. Units
only read the shared matrices and write their own result slot, so the output
does not depend on the number of workers.
*/
package features
