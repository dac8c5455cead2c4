// Package dose derives a correction-bolus suggestion from forecast output.
// It is a downstream consumer of the engine, not part of the simulation core,
// and uses exact decimal arithmetic so pump-increment rounding never drifts.
package dose

import "github.com/shopspring/decimal"

// PumpIncrementUnits is the smallest deliverable bolus step.
var PumpIncrementUnits = decimal.NewFromFloat(0.05)

// Suggestion is a rounded, capped correction dose.
type Suggestion struct {
	Units      decimal.Decimal
	Uncapped   decimal.Decimal
	Capped     bool
	IOBCovered bool // true when active insulin already covers the excursion
}

// Correction suggests the insulin needed to bring the forecast ending value
// to target, net of insulin still on board, rounded down to the pump
// increment and capped at maxUnits. A non-positive need yields a zero dose.
func Correction(endingBG, targetBG, isf, iobUnits float64, maxUnits decimal.Decimal) Suggestion {
	if isf <= 0 || targetBG <= 0 {
		return Suggestion{Units: decimal.Zero, Uncapped: decimal.Zero}
	}

	excess := decimal.NewFromFloat(endingBG).Sub(decimal.NewFromFloat(targetBG))
	needed := excess.Div(decimal.NewFromFloat(isf)).Sub(decimal.NewFromFloat(iobUnits))

	if needed.Sign() <= 0 {
		return Suggestion{Units: decimal.Zero, Uncapped: decimal.Zero, IOBCovered: excess.Sign() > 0}
	}

	// Round down to the pump increment; a suggestion must never exceed the
	// computed need.
	units := needed.Div(PumpIncrementUnits).Floor().Mul(PumpIncrementUnits)

	capped := false
	if maxUnits.Sign() > 0 && units.GreaterThan(maxUnits) {
		units = maxUnits
		capped = true
	}

	return Suggestion{Units: units, Uncapped: needed, Capped: capped}
}
