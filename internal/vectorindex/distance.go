package vectorindex

import "github.com/cloo-solutions/policyrag/internal/domain"

// SquaredL2 returns the squared Euclidean distance between a and b,
// accumulated in float64. The vectors must have equal length.
func SquaredL2(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}

// CheckDimension reports a dimension mismatch when got differs from want
// or the vector is empty.
func CheckDimension(got, want int) error {
	if got == 0 || got != want {
		return domain.Wrapf(domain.ErrDimensionMismatch, nil, "got %d, want %d", got, want)
	}
	return nil
}
