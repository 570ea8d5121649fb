// Package similarity extracts the fixed, explainable feature vector used to
// cluster alerts and scores pairs of vectors by cosine similarity.
package similarity

import (
	"hash/fnv"
	"math"
	"time"
)

// Dimensions is the length of every feature vector.
const Dimensions = 9

// Feature positions within a Vector.
const (
	IdxAlertType = iota
	IdxEntityType
	IdxBusinessUnit
	IdxSeverity
	IdxHour
	IdxWeekday
	IdxCorrelation
	IdxSinceLast
	IdxEntityCount
)

const (
	// HashBuckets bounds every hashed feature to [0, HashBuckets).
	HashBuckets = 97

	// UnknownTypeBucket is the alert type feature for types outside the vocabulary.
	UnknownTypeBucket = 99
)

// Vector is a feature vector of length Dimensions.
type Vector []float64

// Input is everything feature extraction needs. TypeIndex is the 1-based
// vocabulary position, or 0 when the type is not in the vocabulary.
type Input struct {
	TypeIndex      int
	EntityType     string
	BusinessUnitID string
	SeverityScore  int
	CorrelationID  string
	At             time.Time
}

// Extract builds the feature vector for an alert. The time-since-last-alert
// slot is 0 and the affected entity count is 1; Compare fills the former per candidate.
func Extract(in Input) Vector {
	v := make(Vector, Dimensions)
	if in.TypeIndex > 0 {
		v[IdxAlertType] = float64(in.TypeIndex)
	} else {
		v[IdxAlertType] = UnknownTypeBucket
	}
	v[IdxEntityType] = BoundedHash(in.EntityType)
	v[IdxBusinessUnit] = BoundedHash(in.BusinessUnitID)
	v[IdxSeverity] = float64(in.SeverityScore)
	at := in.At.UTC()
	v[IdxHour] = float64(at.Hour())
	v[IdxWeekday] = float64(at.Weekday())
	v[IdxCorrelation] = BoundedHash(in.CorrelationID)
	v[IdxSinceLast] = 0
	v[IdxEntityCount] = 1
	return v
}

// BoundedHash maps s onto [0, HashBuckets) with FNV-1a. The empty string maps to 0.
func BoundedHash(s string) float64 {
	if s == "" {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return float64(h.Sum32() % HashBuckets)
}

// WithSinceLast returns a copy of v with the time-since-last-alert slot set.
func WithSinceLast(v Vector, since time.Duration) Vector {
	out := make(Vector, len(v))
	copy(out, v)
	if len(out) > IdxSinceLast {
		secs := since.Seconds()
		if secs < 0 {
			secs = 0
		}
		out[IdxSinceLast] = secs
	}
	return out
}

// Cosine returns dot(a,b)/(|a|*|b|). It is 0 when either magnitude is 0 or
// the vectors differ in length.
func Cosine(a, b Vector) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Compare scores an alert vector against a candidate's stored vector with
// the alert's time-since-last slot set to the gap since lastAlertAt.
func Compare(alert, candidate Vector, at, lastAlertAt time.Time) float64 {
	return Cosine(WithSinceLast(alert, at.Sub(lastAlertAt)), candidate)
}

// ToFloat32 converts v for vector storage.
func ToFloat32(v Vector) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

// FromFloat32 is the inverse of ToFloat32.
func FromFloat32(f []float32) Vector {
	out := make(Vector, len(f))
	for i, x := range f {
		out[i] = float64(x)
	}
	return out
}
