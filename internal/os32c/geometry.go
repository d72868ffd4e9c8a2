package os32c

import "math"

// Scanner geometry and range limits. Angles are in radians.
const (
	BeamCount = 677

	AngleMin = -135.2 * math.Pi / 180
	AngleMax = 135.2 * math.Pi / 180
	AngleInc = 0.4 * math.Pi / 180

	// DistanceMin and DistanceMax bound the physical range in metres.
	DistanceMin = 0.002
	DistanceMax = 50.0
)

// BeamForAngle returns the beam whose acceptance window contains angle.
//
// Each window is centred on the nominal beam angle and the result is truncated,
// so an angle exactly on a half-increment boundary resolves to the lower beam
// index. No clamping is done: angles outside
// [AngleMin-AngleInc/2, AngleMax+AngleInc/2] yield indices outside [0, 676].
func BeamForAngle(angle float64) int {
	return int((AngleMax - angle + AngleInc/2) / AngleInc)
}

// BeamCentre returns the nominal centre angle of a beam. It is not an exact
// inverse of BeamForAngle because BeamForAngle truncates.
func BeamCentre(beam int) float64 {
	return AngleMax - float64(beam)*AngleInc
}
