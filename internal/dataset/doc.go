// Package dataset builds the resampled train/validation partitions that each
// weak learner of the ensemble is fitted on.
//
// Every partition is derived from one master seed:
//
//	seeds := dataset.DeriveSeeds(master, nbIt)
//
// DeriveSeed is pure, so the same master seed always yields the same
// per-learner seeds and the same K-fold splits. When a fold count is
// configured each Dataset holds out the first fold of its own shuffled
// K-fold split as the validation fold; otherwise the whole cohort is used
// for training.
//
// The package also reads the tab-separated cohort files (feature matrices and
// survival) that learners consume.
package dataset
