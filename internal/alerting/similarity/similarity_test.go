package similarity

import (
	"math"
	"testing"
	"time"
)

var at = time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC) // Monday

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestExtract_Layout(t *testing.T) {
	t.Parallel()

	v := Extract(Input{
		TypeIndex:      3,
		EntityType:     "device",
		BusinessUnitID: "bu-1",
		SeverityScore:  4,
		CorrelationID:  "corr-1",
		At:             at,
	})
	if len(v) != Dimensions {
		t.Fatalf("len = %d, want %d", len(v), Dimensions)
	}

	want := map[int]float64{
		IdxAlertType:    3,
		IdxEntityType:   BoundedHash("device"),
		IdxBusinessUnit: BoundedHash("bu-1"),
		IdxSeverity:     4,
		IdxHour:         14,
		IdxWeekday:      1,
		IdxCorrelation:  BoundedHash("corr-1"),
		IdxSinceLast:    0,
		IdxEntityCount:  1,
	}
	for idx, w := range want {
		if v[idx] != w {
			t.Errorf("v[%d] = %v, want %v", idx, v[idx], w)
		}
	}
}

func TestExtract_UnknownTypeAndLocalTime(t *testing.T) {
	t.Parallel()

	local := at.In(time.FixedZone("UTC+5", 5*3600))
	v := Extract(Input{TypeIndex: 0, At: local})
	if v[IdxAlertType] != UnknownTypeBucket {
		t.Errorf("unknown type = %v, want %d", v[IdxAlertType], UnknownTypeBucket)
	}
	if v[IdxHour] != 14 {
		t.Errorf("hour = %v, want 14 (UTC)", v[IdxHour])
	}
}

func TestBoundedHash(t *testing.T) {
	t.Parallel()

	if BoundedHash("") != 0 {
		t.Error("empty string should hash to 0")
	}
	for _, s := range []string{"device", "site", "bu-1", "a-much-longer-business-unit-identifier"} {
		h := BoundedHash(s)
		if h < 0 || h >= HashBuckets {
			t.Errorf("BoundedHash(%q) = %v, out of range", s, h)
		}
		if h != BoundedHash(s) {
			t.Errorf("BoundedHash(%q) not stable", s)
		}
	}
}

func TestCosine(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a, b Vector
		want float64
	}{
		{"identical", Vector{1, 2, 3}, Vector{1, 2, 3}, 1},
		{"scaled", Vector{1, 2, 3}, Vector{2, 4, 6}, 1},
		{"orthogonal", Vector{1, 0}, Vector{0, 1}, 0},
		{"zero magnitude", Vector{0, 0}, Vector{1, 1}, 0},
		{"length mismatch", Vector{1, 2}, Vector{1, 2, 3}, 0},
		{"empty", Vector{}, Vector{}, 0},
		{"known angle", Vector{3, 4}, Vector{4, 3}, 24.0 / 25.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Cosine(tt.a, tt.b); !approx(got, tt.want) {
				t.Errorf("Cosine = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWithSinceLast(t *testing.T) {
	t.Parallel()

	v := Vector{1, 1, 1, 1, 1, 1, 1, 0, 1}
	got := WithSinceLast(v, 90*time.Second)
	if got[IdxSinceLast] != 90 {
		t.Errorf("since slot = %v, want 90", got[IdxSinceLast])
	}
	if v[IdxSinceLast] != 0 {
		t.Error("WithSinceLast modified its input")
	}
	if neg := WithSinceLast(v, -time.Minute); neg[IdxSinceLast] != 0 {
		t.Errorf("negative gap = %v, want clamp to 0", neg[IdxSinceLast])
	}
}

func TestCompare_DecaysWithGap(t *testing.T) {
	t.Parallel()

	v := Extract(Input{TypeIndex: 1, EntityType: "device", BusinessUnitID: "bu-1", SeverityScore: 4, At: at})

	if got := Compare(v, v, at, at); !approx(got, 1) {
		t.Errorf("zero gap = %v, want 1", got)
	}

	// With the stored since slot at 0, the score is |v|/sqrt(|v|^2+gap^2).
	var sq float64
	for _, x := range v {
		sq += x * x
	}
	gap := 0.75 * math.Sqrt(sq)
	got := Compare(v, v, at, at.Add(-time.Duration(gap*float64(time.Second))))
	if math.Abs(got-0.8) > 1e-6 {
		t.Errorf("gap of 0.75*|v| seconds = %v, want 0.8", got)
	}

	far := Compare(v, v, at, at.Add(-time.Hour))
	if far >= got {
		t.Errorf("larger gap should score lower: %v >= %v", far, got)
	}
}

// The since slot holds raw seconds, so it outgrows every other feature
// within minutes: no extracted vector can reach the default join threshold
// against a cluster that has been quiet for five minutes, however large its
// other features are.
func TestCompare_GapDominatesWithinMinutes(t *testing.T) {
	t.Parallel()

	const joinThreshold = 0.75

	inputs := []Input{
		{TypeIndex: 1, EntityType: "device", SeverityScore: 1, At: at},
		{TypeIndex: 0, EntityType: "person", BusinessUnitID: "bu-9", SeverityScore: 5, CorrelationID: "c-1", At: at.Add(9 * time.Hour)},
		{TypeIndex: 7, EntityType: "site", BusinessUnitID: "bu-1", SeverityScore: 3, CorrelationID: "c-2", At: at.Add(-14 * time.Hour)},
	}
	for _, in := range inputs {
		v := Extract(in)

		if got := Compare(v, v, at, at); !approx(got, 1) {
			t.Errorf("%+v: zero gap = %v, want 1", in, got)
		}
		for _, gap := range []time.Duration{5 * time.Minute, 20 * time.Minute} {
			if got := Compare(v, v, at, at.Add(-gap)); got >= joinThreshold {
				t.Errorf("%+v: gap %s = %v, want below %v", in, gap, got, joinThreshold)
			}
		}
	}
}

func TestFloat32RoundTrip(t *testing.T) {
	t.Parallel()

	v := Vector{1, 42, 96, 5, 23, 6, 17, 0, 1}
	got := FromFloat32(ToFloat32(v))
	if !approx(Cosine(v, got), 1) {
		t.Errorf("round trip changed the vector: %v", got)
	}
}
