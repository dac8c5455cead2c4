package curves

import (
	"math"
	"testing"
)

func TestCarbCurveValidation(t *testing.T) {
	if _, err := NewCarbCurve(-1, 0, 0, 0, 180); err == nil {
		t.Fatal("negative grams should return an error")
	}
	if _, err := NewCarbCurve(50, -1, 0, 0, 180); err == nil {
		t.Fatal("negative fat should return an error")
	}
	if _, err := NewCarbCurve(50, 0, 0, 0, 0); err == nil {
		t.Fatal("zero absorption duration should return an error")
	}
}

func TestCarbCurveZeroGrams(t *testing.T) {
	c, err := NewCarbCurve(0, 0, 0, 0, 180)
	if err != nil {
		t.Fatalf("zero-gram meal should construct: %v", err)
	}
	if got := c.Rate(30); got != 0 {
		t.Fatalf("zero-gram meal should have zero rate, got %g", got)
	}
	if got := c.GramsRemaining(0); got != 0 {
		t.Fatalf("zero-gram meal should have zero remaining, got %g", got)
	}
}

func TestCarbCurveConservesMass(t *testing.T) {
	for _, tc := range []struct {
		name            string
		fat, protein    float64
		fiber           float64
	}{
		{name: "plain"},
		{name: "fatty", fat: 40, protein: 20},
		{name: "fibrous", fiber: 15},
	} {
		c, err := NewCarbCurve(60, tc.fat, tc.protein, tc.fiber, 180)
		if err != nil {
			t.Fatalf("%s: curve construction failed: %v", tc.name, err)
		}
		var total float64
		for m := 0.0; m <= float64(c.DurationMinutes()); m++ {
			r := c.Rate(m)
			if r < 0 {
				t.Fatalf("%s: rate negative at minute %g", tc.name, m)
			}
			total += r
		}
		if math.Abs(total-60) > 1e-6 {
			t.Fatalf("%s: absorbed mass should equal 60g, got %g", tc.name, total)
		}
	}
}

func TestCarbCurveDurationTracksConfiguredWindow(t *testing.T) {
	for _, minutes := range []float64{120, 180, 240} {
		c, err := NewCarbCurve(60, 0, 0, 0, minutes)
		if err != nil {
			t.Fatalf("plain curve failed: %v", err)
		}
		if got := c.DurationMinutes(); got != int(minutes) {
			t.Fatalf("plain meal should absorb over the configured %g minutes, got %d", minutes, got)
		}
		if got := c.Rate(minutes + 20); got != 0 {
			t.Fatalf("no absorption should remain past the configured window, got %g", got)
		}
	}

	fatty, err := NewCarbCurve(60, 40, 20, 0, 180)
	if err != nil {
		t.Fatalf("fatty curve failed: %v", err)
	}
	if fatty.DurationMinutes() <= 180 {
		t.Fatalf("macro content should extend absorption past the base window, got %d", fatty.DurationMinutes())
	}
}

func TestCarbCurveFatDelaysPeak(t *testing.T) {
	plain, err := NewCarbCurve(60, 0, 0, 0, 180)
	if err != nil {
		t.Fatalf("plain curve failed: %v", err)
	}
	fatty, err := NewCarbCurve(60, 40, 0, 0, 180)
	if err != nil {
		t.Fatalf("fatty curve failed: %v", err)
	}

	if fatty.PeakMinutes() <= plain.PeakMinutes() {
		t.Fatalf("fat should delay the peak: fatty %g <= plain %g", fatty.PeakMinutes(), plain.PeakMinutes())
	}
	if fatty.DurationMinutes() <= plain.DurationMinutes() {
		t.Fatalf("fat should extend absorption: fatty %d <= plain %d", fatty.DurationMinutes(), plain.DurationMinutes())
	}
}

func TestCarbCurveFiberSlowsAbsorption(t *testing.T) {
	plain, err := NewCarbCurve(60, 0, 0, 0, 180)
	if err != nil {
		t.Fatalf("plain curve failed: %v", err)
	}
	fibrous, err := NewCarbCurve(60, 0, 0, 20, 180)
	if err != nil {
		t.Fatalf("fibrous curve failed: %v", err)
	}

	// Same mass over a longer window means more grams left mid-way.
	if fibrous.GramsRemaining(90) <= plain.GramsRemaining(90) {
		t.Fatalf("fiber should slow absorption: %g <= %g remaining at 90min",
			fibrous.GramsRemaining(90), plain.GramsRemaining(90))
	}
	if fibrous.DurationMinutes() <= plain.DurationMinutes() {
		t.Fatal("fiber should stretch the absorption window")
	}
}

func TestCarbCurveGramsRemainingBounds(t *testing.T) {
	c, err := NewCarbCurve(45, 10, 5, 0, 180)
	if err != nil {
		t.Fatalf("curve construction failed: %v", err)
	}
	if got := c.GramsRemaining(-5); got != 45 {
		t.Fatalf("remaining before the meal should be full, got %g", got)
	}
	if got := c.GramsRemaining(float64(c.DurationMinutes() + 10)); got != 0 {
		t.Fatalf("remaining after completion should be zero, got %g", got)
	}
}
