package fetcher

import (
	"context"
	"time"
)

// Reading is the latest observed glucose state.
type Reading struct {
	BG        float64
	Slope5Min float64 // mg/dL change over the trailing 5 minutes
	Direction string
	ReadAt    time.Time
}

// Treatment is a logged insulin or carbohydrate event.
type Treatment struct {
	At           time.Time
	InsulinUnits float64
	CarbGrams    float64
	FatG         float64
	ProteinG     float64
	FiberG       float64
	DurationMin  int
	EventType    string
}

// GlucoseFetcher retrieves the current glucose reading and short-term trend.
type GlucoseFetcher interface {
	FetchGlucose(ctx context.Context) (Reading, error)
}

// TreatmentFetcher retrieves treatments logged at or after the given time.
type TreatmentFetcher interface {
	FetchTreatments(ctx context.Context, since time.Time) ([]Treatment, error)
}
