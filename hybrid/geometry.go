package hybrid

import (
	"math"

	"github.com/paulmach/orb"
	"gonum.org/v1/gonum/mat"
)

// TriangulationStatus classifies the outcome of a planar triangulation.
type TriangulationStatus int

const (
	// TriangulationValid means the landmark was located in front of every
	// sensor pose.
	TriangulationValid TriangulationStatus = iota
	// TriangulationDegenerate means the bearing rays are too close to
	// parallel (or too few) to intersect reliably.
	TriangulationDegenerate
	// TriangulationBehindSensor means the least-squares intersection lies
	// behind at least one of the observing poses.
	TriangulationBehindSensor
)

func (s TriangulationStatus) String() string {
	switch s {
	case TriangulationValid:
		return "valid"
	case TriangulationDegenerate:
		return "degenerate"
	case TriangulationBehindSensor:
		return "behind-sensor"
	}
	return "unknown"
}

// BearingObservation is one sighting of a landmark: the sensor position in
// the world plane and the world-frame bearing angle in radians.
type BearingObservation struct {
	Pose    orb.Point `json:"pose"`
	Bearing float64   `json:"bearing"`
}

// TriangulationResult carries the outcome as data rather than control flow:
// callers branch on Status, and only a valid result yields a factor.
type TriangulationResult struct {
	Status TriangulationStatus
	Point  orb.Point
}

// degenerateConditionLimit bounds the normal-matrix condition number before
// the ray intersection is declared unreliable.
const degenerateConditionLimit = 1e8

// Triangulate intersects two or more bearing rays in the plane by linear
// least squares: each ray contributes the constraint that the landmark has
// zero offset perpendicular to the ray direction.
func Triangulate(observations []BearingObservation) TriangulationResult {
	if len(observations) < 2 {
		return TriangulationResult{Status: TriangulationDegenerate}
	}

	// Normal equations sum_i (I - d_i d_i^T) x = sum_i (I - d_i d_i^T) p_i.
	var a00, a01, a11, b0, b1 float64
	for _, obs := range observations {
		dx, dy := math.Cos(obs.Bearing), math.Sin(obs.Bearing)
		// Projector onto the ray's perpendicular.
		p00, p01, p11 := 1-dx*dx, -dx*dy, 1-dy*dy
		a00 += p00
		a01 += p01
		a11 += p11
		b0 += p00*obs.Pose.X() + p01*obs.Pose.Y()
		b1 += p01*obs.Pose.X() + p11*obs.Pose.Y()
	}

	A := mat.NewDense(2, 2, []float64{a00, a01, a01, a11})
	var svd mat.SVD
	if !svd.Factorize(A, mat.SVDFull) {
		return TriangulationResult{Status: TriangulationDegenerate}
	}
	sv := svd.Values(nil)
	if sv[1] <= 0 || sv[0]/sv[1] > degenerateConditionLimit {
		return TriangulationResult{Status: TriangulationDegenerate}
	}

	var x mat.VecDense
	if err := x.SolveVec(A, mat.NewVecDense(2, []float64{b0, b1})); err != nil {
		return TriangulationResult{Status: TriangulationDegenerate}
	}
	point := orb.Point{x.AtVec(0), x.AtVec(1)}

	for _, obs := range observations {
		dx, dy := math.Cos(obs.Bearing), math.Sin(obs.Bearing)
		if (point.X()-obs.Pose.X())*dx+(point.Y()-obs.Pose.Y())*dy < 0 {
			return TriangulationResult{Status: TriangulationBehindSensor, Point: point}
		}
	}
	return TriangulationResult{Status: TriangulationValid, Point: point}
}

// Factor converts a valid triangulation into a two-dimensional prior on the
// landmark key with isotropic noise. Non-valid results yield no factor.
func (r TriangulationResult) Factor(key Key, sigma float64) (*GaussianFactor, bool) {
	if r.Status != TriangulationValid {
		return nil, false
	}
	f, err := NewGaussianFactor(
		[]Key{key},
		[]*mat.Dense{mat.NewDense(2, 2, []float64{1 / sigma, 0, 0, 1 / sigma})},
		[]float64{r.Point.X() / sigma, r.Point.Y() / sigma})
	if err != nil {
		return nil, false
	}
	return f, true
}
