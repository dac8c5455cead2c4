package storage

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ForecastRun represents one persisted simulation run, keyed by its aligned
// scheduler bucket. Series and Meta hold the full engine output as JSON so
// the export path can re-plot historical runs without re-simulating.
type ForecastRun struct {
	ID             uuid.UUID
	Bucket         time.Time
	StartBG        decimal.Decimal
	MinBG          decimal.Decimal
	MaxBG          decimal.Decimal
	EndingBG       decimal.Decimal
	TimeToMin      int
	DIAOverridden  bool
	PatternApplied bool
	SuggestedDose  decimal.Decimal
	Series         json.RawMessage
	Meta           json.RawMessage
	Status         string
	Error          *string
	CreatedAt      time.Time
}

// AlertRecord captures an emitted predicted-low alert for cooldown/auditing.
type AlertRecord struct {
	ID            int64
	RunBucket     time.Time
	PredictedMin  decimal.Decimal
	Threshold     decimal.Decimal
	MinutesToMin  int
	SuggestedDose decimal.Decimal
	Channels      []string
	CreatedAt     time.Time
}

// PatternProfileRecord is the persisted overnight delta profile. Profile is
// the serialized nightpattern.Profile; a single current row per profile name
// is kept, replaced on each offline recompute.
type PatternProfileRecord struct {
	Name       string
	Profile    json.RawMessage
	ComputedAt time.Time
	CreatedAt  time.Time
}
