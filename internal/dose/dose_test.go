package dose

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestCorrectionRoundsDownToIncrement(t *testing.T) {
	// (187-110)/50 = 1.54 U, floored to the 0.05 U pump step.
	s := Correction(187, 110, 50, 0, decimal.NewFromInt(10))
	if got := s.Units.String(); got != "1.5" {
		t.Fatalf("expected 1.5 U, got %s", got)
	}
	if s.Capped || s.IOBCovered {
		t.Fatalf("unexpected flags: %+v", s)
	}
	if !s.Uncapped.Equal(decimal.NewFromFloat(1.54)) {
		t.Fatalf("uncapped need should be 1.54, got %s", s.Uncapped)
	}
}

func TestCorrectionExactIncrement(t *testing.T) {
	// (190-110)/50 = 1.6 U, already on the pump step.
	s := Correction(190, 110, 50, 0, decimal.NewFromInt(10))
	if got := s.Units.String(); got != "1.6" {
		t.Fatalf("expected 1.6 U, got %s", got)
	}
}

func TestCorrectionSubtractsIOB(t *testing.T) {
	// Need 1.6 U but 1 U is still active.
	s := Correction(190, 110, 50, 1, decimal.NewFromInt(10))
	if got := s.Units.String(); got != "0.6" {
		t.Fatalf("expected 0.6 U, got %s", got)
	}
}

func TestCorrectionIOBCovered(t *testing.T) {
	// Excursion worth 1 U, but 1.5 U already on board.
	s := Correction(160, 110, 50, 1.5, decimal.NewFromInt(10))
	if !s.Units.IsZero() {
		t.Fatalf("expected zero dose, got %s", s.Units)
	}
	if !s.IOBCovered {
		t.Fatal("expected IOBCovered flag")
	}
}

func TestCorrectionCapped(t *testing.T) {
	s := Correction(500, 100, 20, 0, decimal.NewFromInt(10))
	if got := s.Units.String(); got != "10" {
		t.Fatalf("expected cap at 10 U, got %s", got)
	}
	if !s.Capped {
		t.Fatal("expected Capped flag")
	}
}

func TestCorrectionBelowTarget(t *testing.T) {
	s := Correction(90, 110, 50, 0, decimal.NewFromInt(10))
	if !s.Units.IsZero() {
		t.Fatalf("below-target forecast should suggest nothing, got %s", s.Units)
	}
	if s.IOBCovered {
		t.Fatal("below-target is not an IOB-covered case")
	}
}

func TestCorrectionInvalidInputs(t *testing.T) {
	if s := Correction(200, 110, 0, 0, decimal.NewFromInt(10)); !s.Units.IsZero() {
		t.Fatalf("zero ISF should suggest nothing, got %s", s.Units)
	}
	if s := Correction(200, 0, 50, 0, decimal.NewFromInt(10)); !s.Units.IsZero() {
		t.Fatalf("zero target should suggest nothing, got %s", s.Units)
	}
}
