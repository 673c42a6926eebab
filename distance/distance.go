// Package distance provides the distance metrics and kernels used to rank
// nearest-neighbor candidates.
//
// All kernels return a distance, not a similarity: smaller is closer. For
// the dot metric the negated dot product is used so that ascending order
// still ranks best matches first.
package distance

import "math"

// Metric identifies the scalar function used to compare two vectors.
type Metric int

const (
	MetricL2 Metric = iota
	MetricCosine
	MetricDot
)

func (m Metric) String() string {
	switch m {
	case MetricL2:
		return "l2"
	case MetricCosine:
		return "cosine"
	case MetricDot:
		return "dot"
	default:
		return "unknown"
	}
}

// Valid reports whether m is a known metric.
func (m Metric) Valid() bool {
	return m >= MetricL2 && m <= MetricDot
}

// FromCode maps the ABI metric code (0=L2, 1=cosine, 2=dot) to a Metric.
// ok is false for out-of-range codes.
func FromCode(code int) (Metric, bool) {
	m := Metric(code)
	return m, m.Valid()
}

// Func computes the distance between two vectors of equal length.
type Func func(a, b []float32) float32

// Dot calculates the dot product of two vectors.
// Assumes vectors are the same length (caller's responsibility).
func Dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// SquaredL2 calculates the squared L2 (Euclidean) distance between two vectors.
// Assumes vectors are the same length (caller's responsibility).
func SquaredL2(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

// CosineDistance calculates 1 - cosine similarity.
// A zero-norm input yields the maximum distance of 1.
func CosineDistance(a, b []float32) float32 {
	dot := Dot(a, b)
	na := Dot(a, a)
	nb := Dot(b, b)
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/float32(math.Sqrt(float64(na)*float64(nb)))
}

// NegativeDot calculates the negated dot product, turning the dot
// similarity into a distance.
func NegativeDot(a, b []float32) float32 {
	return -Dot(a, b)
}

// Provider returns the distance function for the given metric.
func Provider(m Metric) (Func, bool) {
	switch m {
	case MetricL2:
		return SquaredL2, true
	case MetricCosine:
		return CosineDistance, true
	case MetricDot:
		return NegativeDot, true
	default:
		return nil, false
	}
}
