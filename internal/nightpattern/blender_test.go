package nightpattern

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"glucose-forecast/internal/engine"
)

func testConfig() Config {
	return Config{
		Enabled:      true,
		WindowAStart: 21 * 60,          // 21:00
		WindowAEnd:   23*60 + 30,       // 23:30
		HardCutoff:   90,               // 01:30
		NightEnd:     6 * 60,           // 06:00
		WeightA:      0.8,
		WeightB:      0.5,
		CapMgdl:      25,

		IOBCeilingUnits: 0.5,
		COBCeilingGrams: 5,

		MealLookbackMinutes:  180,
		BolusLookbackMinutes: 120,

		RisingSlopeMgdlPer5Min: 5,

		SlowMealLookbackMinutes: 360,
		SlowMealFatProteinGrams: 40,
		SustainedRiseMgdl:       15,
	}
}

func testProfile() *Profile {
	// Cumulative drift from 21:00 in 30-minute buckets: +5 per bucket.
	return &Profile{
		StartMinuteOfDay: 21 * 60,
		BucketMinutes:    30,
		Deltas:           []float64{0, 5, 10, 15, 20, 25, 30, 35, 40, 45},
		SampleDays:       30,
		SamplePoints:     320,
	}
}

func quietSnapshot() Snapshot {
	iob := 0.2
	cob := 0.0
	sinceMeal := 400.0
	sinceBolus := 300.0
	return Snapshot{
		IOBUnits:          &iob,
		COBGrams:          &cob,
		MinutesSinceMeal:  &sinceMeal,
		MinutesSinceBolus: &sinceBolus,
	}
}

func localClock(t *testing.T, clock string) time.Time {
	t.Helper()
	minute, err := ParseClock(clock)
	if err != nil {
		t.Fatalf("bad clock %q: %v", clock, err)
	}
	return time.Date(2026, 3, 14, minute/60, minute%60, 0, 0, time.UTC)
}

func flatSeries(horizon int, bg float64) []engine.Point {
	series := make([]engine.Point, horizon+1)
	for i := range series {
		series[i] = engine.Point{TMinutes: i, BG: bg}
	}
	return series
}

func TestBlenderAppliesTierA(t *testing.T) {
	b := New(testConfig(), testProfile(), localClock(t, "22:00"), quietSnapshot(), zerolog.Nop())

	series, meta := b.Apply(flatSeries(120, 110))
	if !meta.Applied {
		t.Fatalf("expected pattern applied, reason: %s", meta.ReasonNotApplied)
	}
	if meta.Window != WindowTierA {
		t.Fatalf("expected tier A, got %q", meta.Window)
	}
	if meta.Weight != 0.8 {
		t.Fatalf("expected tier A weight 0.8, got %g", meta.Weight)
	}
	if meta.SampleDays != 30 || meta.SamplePoints != 320 {
		t.Fatalf("meta should carry profile provenance: %+v", meta)
	}

	// At 22:00 the cumulative drift is 10; an hour later it is 20. The
	// blend adds the weighted difference.
	want := 110 + 0.8*(20-10)
	if got := series[60].BG; got != want {
		t.Fatalf("blend at t=60 should be %g, got %g", want, got)
	}
	if series[0].BG != 110 {
		t.Fatalf("blend at t=0 should be neutral, got %g", series[0].BG)
	}
}

func TestBlenderCapsDelta(t *testing.T) {
	profile := testProfile()
	profile.Deltas = []float64{0, 40, 80, 120, 160, 200, 240, 280, 320, 360}

	b := New(testConfig(), profile, localClock(t, "22:00"), quietSnapshot(), zerolog.Nop())
	series, meta := b.Apply(flatSeries(120, 110))
	if !meta.Applied {
		t.Fatalf("expected pattern applied, reason: %s", meta.ReasonNotApplied)
	}
	if meta.CapMgdl != 25 {
		t.Fatalf("meta should report the cap, got %g", meta.CapMgdl)
	}
	if got := series[120].BG; got != 135 {
		t.Fatalf("delta should clamp at +25: got %g", got)
	}
}

func TestBlenderTierBRequiresQuietDigestion(t *testing.T) {
	snap := quietSnapshot()
	b := New(testConfig(), testProfile(), localClock(t, "00:30"), snap, zerolog.Nop())
	_, meta := b.Apply(flatSeries(60, 110))
	if !meta.Applied || meta.Window != WindowTierB {
		t.Fatalf("quiet night should apply tier B: %+v", meta)
	}
	if meta.Weight != 0.5 {
		t.Fatalf("expected tier B weight 0.5, got %g", meta.Weight)
	}

	// Residual carbs block tier B even under the COB ceiling.
	cob := 2.0
	snap = quietSnapshot()
	snap.COBGrams = &cob
	b = New(testConfig(), testProfile(), localClock(t, "00:30"), snap, zerolog.Nop())
	_, meta = b.Apply(flatSeries(60, 110))
	if meta.Applied || meta.ReasonNotApplied != ReasonSlowDigestion {
		t.Fatalf("residual carbs should fail tier B with slow_digestion: %+v", meta)
	}

	// A heavy late meal blocks tier B by fat+protein mass.
	snap = quietSnapshot()
	snap.LastMealFatG = 30
	snap.LastMealProteinG = 20
	b = New(testConfig(), testProfile(), localClock(t, "00:30"), snap, zerolog.Nop())
	_, meta = b.Apply(flatSeries(60, 110))
	if meta.Applied || meta.ReasonNotApplied != ReasonSlowDigestion {
		t.Fatalf("fatty meal should fail tier B with slow_digestion: %+v", meta)
	}

	// A sustained rise blocks tier B.
	snap = quietSnapshot()
	snap.Rise30to60 = 20
	b = New(testConfig(), testProfile(), localClock(t, "00:30"), snap, zerolog.Nop())
	_, meta = b.Apply(flatSeries(60, 110))
	if meta.Applied || meta.ReasonNotApplied != ReasonSlowDigestion {
		t.Fatalf("sustained rise should fail tier B with slow_digestion: %+v", meta)
	}
}

func TestBlenderGateReasons(t *testing.T) {
	iobHigh := 0.8
	cobHigh := 10.0
	recentMeal := 60.0
	recentBolus := 30.0

	cases := []struct {
		name   string
		clock  string
		mutate func(*Config, *Snapshot)
		want   string
	}{
		{"disabled", "22:00", func(c *Config, s *Snapshot) { c.Enabled = false }, ReasonDisabled},
		{"outside window", "14:00", nil, ReasonOutsideWindow},
		{"after cutoff", "03:00", nil, ReasonAfterCutoff},
		{"iob unavailable", "22:00", func(c *Config, s *Snapshot) { s.IOBUnits = nil }, ReasonIOBUnavailable},
		{"iob high", "22:00", func(c *Config, s *Snapshot) { s.IOBUnits = &iobHigh }, ReasonIOBHigh},
		{"cob unavailable", "22:00", func(c *Config, s *Snapshot) { s.COBGrams = nil }, ReasonCOBUnavailable},
		{"cob high", "22:00", func(c *Config, s *Snapshot) { s.COBGrams = &cobHigh }, ReasonCOBHigh},
		{"recent meal", "22:00", func(c *Config, s *Snapshot) { s.MinutesSinceMeal = &recentMeal }, ReasonRecentMeal},
		{"recent bolus", "22:00", func(c *Config, s *Snapshot) { s.MinutesSinceBolus = &recentBolus }, ReasonRecentBolus},
		{"rising", "22:00", func(c *Config, s *Snapshot) { s.Slope5Min = 6 }, ReasonRising},
	}

	for _, tc := range cases {
		cfg := testConfig()
		snap := quietSnapshot()
		if tc.mutate != nil {
			tc.mutate(&cfg, &snap)
		}
		b := New(cfg, testProfile(), localClock(t, tc.clock), snap, zerolog.Nop())
		series, meta := b.Apply(flatSeries(30, 110))
		if meta.Applied {
			t.Fatalf("%s: pattern should not apply", tc.name)
		}
		if meta.ReasonNotApplied != tc.want {
			t.Fatalf("%s: expected reason %q, got %q", tc.name, tc.want, meta.ReasonNotApplied)
		}
		for i, p := range series {
			if p.BG != 110 {
				t.Fatalf("%s: skipped blend must leave the series untouched at %d", tc.name, i)
			}
		}
	}
}

func TestBlenderNoProfile(t *testing.T) {
	b := New(testConfig(), nil, localClock(t, "22:00"), quietSnapshot(), zerolog.Nop())
	_, meta := b.Apply(flatSeries(30, 110))
	if meta.ReasonNotApplied != ReasonNoProfile {
		t.Fatalf("nil profile should report no_profile, got %q", meta.ReasonNotApplied)
	}

	b = New(testConfig(), &Profile{}, localClock(t, "22:00"), quietSnapshot(), zerolog.Nop())
	_, meta = b.Apply(flatSeries(30, 110))
	if meta.ReasonNotApplied != ReasonNoProfile {
		t.Fatalf("empty profile should report no_profile, got %q", meta.ReasonNotApplied)
	}
}

func TestParseClock(t *testing.T) {
	cases := map[string]int{
		"00:00": 0,
		"21:00": 1260,
		"23:30": 1410,
		"01:30": 90,
	}
	for in, want := range cases {
		got, err := ParseClock(in)
		if err != nil {
			t.Fatalf("ParseClock(%q) failed: %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseClock(%q) = %d, want %d", in, got, want)
		}
	}

	for _, bad := range []string{"", "25:00", "12:60", "noon", "12"} {
		if _, err := ParseClock(bad); err == nil {
			t.Fatalf("ParseClock(%q) should fail", bad)
		}
	}
}

func TestProfileDeltaAt(t *testing.T) {
	p := testProfile()

	if got := p.DeltaAt(21 * 60); got != 0 {
		t.Fatalf("delta at profile start should be 0, got %g", got)
	}
	if got := p.DeltaAt(22 * 60); got != 10 {
		t.Fatalf("delta at 22:00 should be 10, got %g", got)
	}
	// Wraps past midnight into the profile's later buckets.
	if got := p.DeltaAt(90); got != 45 {
		t.Fatalf("delta at 01:30 should be 45, got %g", got)
	}
	// Mid-day maps to before the window.
	if got := p.DeltaAt(14 * 60); got != 0 {
		t.Fatalf("delta at 14:00 should be 0, got %g", got)
	}
}
