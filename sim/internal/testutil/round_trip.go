// Package testutil provides shared test infrastructure for exercising
// the forward/reverse round-trip discipline: a deep-equality snapshot
// comparison (used to assert that forward(E) then reverse(E) restores
// an LP's state byte-for-byte) plus a float tolerance helper carried
// over from the teacher's percentile/latency comparisons.
package testutil

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// AssertStateEqual compares two snapshots of the same LP's state
// (taken before a forward/reverse round trip and after it) with
// go-cmp. Pass cmp.AllowUnexported(T{}) in opts for any struct type
// under comparison that carries unexported fields (go-cmp panics
// otherwise). Any diff fails the test with a readable structural
// report rather than a flat reflect.DeepEqual bool.
func AssertStateEqual(t *testing.T, name string, before, after any, opts ...cmp.Option) {
	t.Helper()
	allOpts := append([]cmp.Option{cmpopts.EquateEmpty()}, opts...)
	if diff := cmp.Diff(before, after, allOpts...); diff != "" {
		t.Errorf("%s: forward/reverse round trip changed state (-before +after):\n%s", name, diff)
	}
}

// AssertFloat64Equal compares two float64 values with relative
// tolerance, for the handful of derived-timing comparisons (jitter,
// UGAL scores) where exact equality is too strict across equivalent
// but differently-ordered floating point accumulations.
func AssertFloat64Equal(t *testing.T, name string, want, got, relTol float64) {
	t.Helper()
	if want == 0 && got == 0 {
		return
	}
	diff := math.Abs(want - got)
	maxVal := math.Max(math.Abs(want), math.Abs(got))
	if diff/maxVal > relTol {
		t.Errorf("%s: got %v, want %v (diff=%v, relDiff=%v)", name, got, want, diff, diff/maxVal)
	}
}
