package curves

import (
	"math"
	"testing"
)

func TestInsulinCurveUnknownModel(t *testing.T) {
	if _, err := NewInsulinCurve(Model("regular"), 300, 75); err == nil {
		t.Fatal("unknown model should return an error")
	}
}

func TestInsulinCurveInvalidDIA(t *testing.T) {
	if _, err := NewInsulinCurve(ModelRapidActing, 0, 75); err == nil {
		t.Fatal("zero DIA should return an error")
	}
	if _, err := NewInsulinCurve(ModelRapidActing, -60, 75); err == nil {
		t.Fatal("negative DIA should return an error")
	}
}

func TestInsulinCurveDIAFloor(t *testing.T) {
	c, err := NewInsulinCurve(ModelUltraRapid, 180, 55)
	if err != nil {
		t.Fatalf("curve construction failed: %v", err)
	}
	if !c.Overridden() {
		t.Fatal("DIA below the model floor should be flagged overridden")
	}
	if got := c.EffectiveDIAMinutes(); got != 300 {
		t.Fatalf("effective DIA should be 300, got %g", got)
	}

	c, err = NewInsulinCurve(ModelRapidActing, 360, 75)
	if err != nil {
		t.Fatalf("curve construction failed: %v", err)
	}
	if c.Overridden() {
		t.Fatal("DIA above the floor should not be overridden")
	}
	if got := c.EffectiveDIAMinutes(); got != 360 {
		t.Fatalf("effective DIA should keep configured 360, got %g", got)
	}
}

func TestInsulinCurveActivityIntegratesToOne(t *testing.T) {
	for _, model := range []Model{ModelRapidActing, ModelUltraRapid} {
		c, err := NewInsulinCurve(model, 300, 0)
		if err != nil {
			t.Fatalf("%s: curve construction failed: %v", model, err)
		}
		var total float64
		for m := 0.0; m < c.EffectiveDIAMinutes()+10; m++ {
			a := c.Activity(m)
			if a < 0 {
				t.Fatalf("%s: activity negative at minute %g", model, m)
			}
			total += a
		}
		if math.Abs(total-1) > 1e-9 {
			t.Fatalf("%s: activity should integrate to 1, got %g", model, total)
		}
	}
}

func TestInsulinCurveShape(t *testing.T) {
	c, err := NewInsulinCurve(ModelRapidActing, 330, 75)
	if err != nil {
		t.Fatalf("curve construction failed: %v", err)
	}

	if c.Activity(-1) != 0 {
		t.Fatal("activity before the dose should be zero")
	}
	if c.Activity(75) <= c.Activity(5) {
		t.Fatal("activity near the peak should exceed early onset")
	}

	// Monotone decay after the peak.
	prev := c.Activity(80)
	for m := 110.0; m < 330; m += 30 {
		cur := c.Activity(m)
		if cur > prev {
			t.Fatalf("activity should not re-increase after the peak: %g at %g > %g", cur, m, prev)
		}
		prev = cur
	}
}

func TestInsulinCurveFractionRemaining(t *testing.T) {
	c, err := NewInsulinCurve(ModelRapidActing, 330, 75)
	if err != nil {
		t.Fatalf("curve construction failed: %v", err)
	}

	if got := c.FractionRemaining(-10); got != 1 {
		t.Fatalf("fraction before the dose should be 1, got %g", got)
	}
	if got := c.FractionRemaining(400); got != 0 {
		t.Fatalf("fraction past the DIA should be 0, got %g", got)
	}

	early := c.FractionRemaining(30)
	late := c.FractionRemaining(200)
	if late >= early {
		t.Fatalf("fraction remaining should decrease: %g at 200 >= %g at 30", late, early)
	}
}
