package features

import "math"

// Vector is a sparse feature vector. Indices are strictly increasing.
type Vector struct {
	Indices []int     `json:"i"`
	Values  []float64 `json:"v"`
}

// Len returns the number of non-zero entries.
func (v Vector) Len() int {
	return len(v.Indices)
}

// Norm returns the L2 norm.
func (v Vector) Norm() float64 {
	var sum float64
	for _, x := range v.Values {
		sum += x * x
	}
	return math.Sqrt(sum)
}

// Dot returns the dot product of v with a dense row.
// Indices beyond the row are ignored.
func (v Vector) Dot(row []float64) float64 {
	var sum float64
	for k, idx := range v.Indices {
		if idx < len(row) {
			sum += v.Values[k] * row[idx]
		}
	}
	return sum
}
