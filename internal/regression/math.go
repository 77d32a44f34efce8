package regression

import (
	"errors"
	"math"
)

var errSingular = errors.New("matrix is singular")

// A := A + x x^T
func addOuter(A [][]float64, x []float64) {
	for i := range x {
		for j := range x {
			A[i][j] += x[i] * x[j]
		}
	}
}

// b := b + r x
func addScaled(b []float64, x []float64, r float64) {
	for i := range x {
		b[i] += r * x[i]
	}
}

// solve returns x with A x = b using Gauss-Jordan elimination with partial pivoting.
// A and b are left untouched.
func solve(A [][]float64, b []float64) ([]float64, error) {
	n := len(b)
	aug := make([][]float64, n)
	for i := range n {
		aug[i] = make([]float64, n+1)
		copy(aug[i], A[i])
		aug[i][n] = b[i]
	}

	for col := range n {
		pivotRow := col
		for i := col + 1; i < n; i++ {
			if math.Abs(aug[i][col]) > math.Abs(aug[pivotRow][col]) {
				pivotRow = i
			}
		}
		if math.Abs(aug[pivotRow][col]) < 1e-12 {
			return nil, errSingular
		}
		aug[col], aug[pivotRow] = aug[pivotRow], aug[col]

		pivot := aug[col][col]
		for j := col; j <= n; j++ {
			aug[col][j] /= pivot
		}

		for i := range n {
			if i == col {
				continue
			}
			factor := aug[i][col]
			if factor == 0 {
				continue
			}
			for j := col; j <= n; j++ {
				aug[i][j] -= factor * aug[col][j]
			}
		}
	}

	x := make([]float64, n)
	for i := range n {
		x[i] = aug[i][n]
	}
	return x, nil
}
