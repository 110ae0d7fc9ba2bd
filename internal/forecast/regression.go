package forecast

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Regression is the linear part of a regression with SARIMA errors.
type Regression struct {
	Intercept    float64   `json:"intercept"`
	Coefficients []float64 `json:"coefficients"`
}

// FitRegression solves y = b0 + X·b by least squares. columns holds one slice
// per regressor, each as long as y.
func FitRegression(y []float64, columns [][]float64) (Regression, error) {
	n, k := len(y), len(columns)
	if n <= k {
		return Regression{}, fmt.Errorf("need more than %d observations for %d regressors, have %d", k, k, n)
	}

	design := mat.NewDense(n, k+1, nil)
	for i := 0; i < n; i++ {
		design.Set(i, 0, 1)
		for j, col := range columns {
			if len(col) != n {
				return Regression{}, fmt.Errorf("regressor %d has %d values, want %d", j, len(col), n)
			}
			design.Set(i, j+1, col[i])
		}
	}

	var beta mat.VecDense
	if err := beta.SolveVec(design, mat.NewVecDense(n, append([]float64(nil), y...))); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return Regression{}, fmt.Errorf("solving least squares: %w", err)
		}
	}

	coefs := make([]float64, k+1)
	for i := range coefs {
		coefs[i] = beta.AtVec(i)
		if math.IsNaN(coefs[i]) || math.IsInf(coefs[i], 0) {
			return Regression{}, fmt.Errorf("regressors are collinear: coefficient %d is not finite", i)
		}
	}

	return Regression{Intercept: coefs[0], Coefficients: coefs[1:]}, nil
}

func (r Regression) Apply(x []float64) float64 {
	return r.Intercept + floats.Dot(r.Coefficients, x)
}

// Residuals returns y minus the fitted linear part, row by row.
func (r Regression) Residuals(y []float64, columns [][]float64) []float64 {
	out := make([]float64, len(y))
	row := make([]float64, len(columns))
	for i := range y {
		for j, col := range columns {
			row[j] = col[i]
		}
		out[i] = y[i] - r.Apply(row)
	}
	return out
}
