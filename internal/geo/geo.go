// Package geo implements the dual-geofence validation core: great-circle
// distance, proximity and boundary checks, and the GPS accuracy gate. All
// functions are pure and safe for concurrent use.
package geo

import (
	"fmt"
	"math"
	"time"
)

// earthRadiusM treats the earth as a sphere.
const earthRadiusM = 6371000

// DefaultMaxAccuracyM is the largest reported GPS accuracy radius (meters)
// still considered a trustworthy fix.
const DefaultMaxAccuracyM = 50

// Point is an immutable latitude/longitude pair in degrees, with the optional
// accuracy radius and capture time reported by the sensor.
type Point struct {
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	AccuracyM  float64   `json:"accuracy_m,omitempty"`
	CapturedAt time.Time `json:"captured_at,omitempty"`
}

// Distance returns the great-circle distance between a and b in meters using
// the haversine formula.
func Distance(a, b Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return earthRadiusM * c
}

// Check is the outcome of a single geofence test.
type Check struct {
	Pass      bool    `json:"pass"`
	DistanceM float64 `json:"distance_m"`
}

// Proximity tests whether student is within radiusM of the reference point.
// The boundary is inclusive.
func Proximity(student, reference Point, radiusM float64) Check {
	d := Distance(student, reference)
	return Check{Pass: d <= radiusM, DistanceM: d}
}

// Boundary tests whether student is inside the fixed campus circle.
func Boundary(student, center Point, radiusM float64) Check {
	d := Distance(student, center)
	return Check{Pass: d <= radiusM, DistanceM: d}
}

// Result combines the two required geofence checks. Valid is true only when
// both pass. Reason is empty on success and otherwise names which check(s)
// failed, with the measured distances.
type Result struct {
	Valid            bool    `json:"valid"`
	TeacherProximity bool    `json:"teacher_proximity"`
	CampusBoundary   bool    `json:"campus_boundary"`
	TeacherDistanceM float64 `json:"teacher_distance_m"`
	CampusDistanceM  float64 `json:"campus_distance_m"`
	Reason           string  `json:"reason,omitempty"`
}

// Dual runs both geofence checks against their own references. The two
// distances are computed independently since the reference points differ.
func Dual(student, teacherRef Point, teacherRadiusM float64, campusCenter Point, campusRadiusM float64) Result {
	prox := Proximity(student, teacherRef, teacherRadiusM)
	bound := Boundary(student, campusCenter, campusRadiusM)

	res := Result{
		Valid:            prox.Pass && bound.Pass,
		TeacherProximity: prox.Pass,
		CampusBoundary:   bound.Pass,
		TeacherDistanceM: prox.DistanceM,
		CampusDistanceM:  bound.DistanceM,
	}

	switch {
	case !prox.Pass && !bound.Pass:
		res.Reason = fmt.Sprintf("outside teacher proximity (%.1fm, limit %.0fm) and outside campus boundary (%.1fm, limit %.0fm)",
			prox.DistanceM, teacherRadiusM, bound.DistanceM, campusRadiusM)
	case !prox.Pass:
		res.Reason = fmt.Sprintf("outside teacher proximity: %.1fm from teacher, limit %.0fm", prox.DistanceM, teacherRadiusM)
	case !bound.Pass:
		res.Reason = fmt.Sprintf("outside campus boundary: %.1fm from campus center, limit %.0fm", bound.DistanceM, campusRadiusM)
	}
	return res
}

// CheckAccuracy gates on the sensor-reported accuracy radius. A fix with a
// large accuracy radius cannot be trusted even if its coordinates land
// inside both fences. maxM <= 0 selects DefaultMaxAccuracyM. The threshold
// is inclusive.
func CheckAccuracy(accuracyM, maxM float64) (bool, string) {
	if maxM <= 0 {
		maxM = DefaultMaxAccuracyM
	}
	if accuracyM > maxM {
		return false, fmt.Sprintf("GPS accuracy %.1fm exceeds maximum %.0fm", accuracyM, maxM)
	}
	return true, ""
}
