package regression

import (
	"fmt"
	"math"
)

// Ridge is an L2-regularised linear least squares model. Columns are standardised before
// solving so the penalty treats every feature alike; the intercept is not penalised.
type Ridge struct {
	Lambda float64

	fitted    bool
	mean      []float64
	scale     []float64
	coef      []float64
	intercept float64
}

// NewRidge constructs an unfitted ridge model.
func NewRidge(lambda float64) *Ridge {
	if lambda < 0 {
		lambda = 0
	}
	return &Ridge{Lambda: lambda}
}

// Fit estimates coefficients from rows of features and the matching targets.
func (r *Ridge) Fit(features [][]float64, target []float64) error {
	n := len(features)
	if n == 0 {
		return ErrEmptyTrainingSet
	}
	if len(target) != n {
		return fmt.Errorf("%w: %d rows, %d targets", ErrDimension, n, len(target))
	}
	dim := len(features[0])
	for i, row := range features {
		if len(row) != dim {
			return fmt.Errorf("%w: row %d has %d columns, want %d", ErrDimension, i, len(row), dim)
		}
	}

	mean := make([]float64, dim)
	scale := make([]float64, dim)
	for _, row := range features {
		for j, v := range row {
			mean[j] += v
		}
	}
	for j := range mean {
		mean[j] /= float64(n)
	}
	for _, row := range features {
		for j, v := range row {
			d := v - mean[j]
			scale[j] += d * d
		}
	}
	for j := range scale {
		scale[j] = math.Sqrt(scale[j] / float64(n))
		if scale[j] < 1e-12 {
			// constant column carries no signal; keep it inert
			scale[j] = 1
		}
	}

	yMean := 0.0
	for _, y := range target {
		yMean += y
	}
	yMean /= float64(n)

	// A = Z^T Z + lambda I, b = Z^T (y - yMean)
	A := make([][]float64, dim)
	for i := range A {
		A[i] = make([]float64, dim)
	}
	b := make([]float64, dim)
	z := make([]float64, dim)
	for i, row := range features {
		for j, v := range row {
			z[j] = (v - mean[j]) / scale[j]
		}
		addOuter(A, z)
		addScaled(b, z, target[i]-yMean)
	}
	lambda := r.Lambda
	if lambda == 0 {
		// tiny jitter keeps collinear or single-row arms solvable
		lambda = 1e-9
	}
	for i := range dim {
		A[i][i] += lambda
	}

	coef, err := solve(A, b)
	if err != nil {
		return fmt.Errorf("solve normal equations: %w", err)
	}

	r.mean = mean
	r.scale = scale
	r.coef = coef
	r.intercept = yMean
	r.fitted = true
	return nil
}

// Predict returns the fitted response for one feature row.
func (r *Ridge) Predict(features []float64) (float64, error) {
	if !r.fitted {
		return 0, ErrNotFitted
	}
	if len(features) != len(r.coef) {
		return 0, fmt.Errorf("%w: got %d columns, want %d", ErrDimension, len(features), len(r.coef))
	}
	out := r.intercept
	for j, v := range features {
		out += r.coef[j] * (v - r.mean[j]) / r.scale[j]
	}
	return out, nil
}

// Coefficients returns the fitted weights in original feature units.
func (r *Ridge) Coefficients() []float64 {
	out := make([]float64, len(r.coef))
	for j := range r.coef {
		out[j] = r.coef[j] / r.scale[j]
	}
	return out
}

var _ Model = (*Ridge)(nil)
