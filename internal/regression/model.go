// Package regression provides the fit/predict capability the estimators are built on.
package regression

import "errors"

var (
	// ErrNotFitted is returned by Predict before a successful Fit.
	ErrNotFitted = errors.New("regression: model not fitted")
	// ErrEmptyTrainingSet is returned by Fit without rows.
	ErrEmptyTrainingSet = errors.New("regression: empty training set")
	// ErrDimension marks rows whose width differs from the fitted width.
	ErrDimension = errors.New("regression: dimension mismatch")
)

// Model is an independently trainable regressor over dense feature rows.
type Model interface {
	Fit(features [][]float64, target []float64) error
	Predict(features []float64) (float64, error)
}

// Factory returns a fresh, untrained Model. Every call must return a new instance that shares
// no parameters with instances returned earlier.
type Factory func() Model

// RidgeFactory returns a Factory producing ridge models with the given penalty.
func RidgeFactory(lambda float64) Factory {
	return func() Model {
		return NewRidge(lambda)
	}
}
