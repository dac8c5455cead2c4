package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"glucose-forecast/internal/nightpattern"
	"glucose-forecast/internal/storage"
)

// ImportProfile loads an overnight delta profile from a JSON file and stores
// it as the current profile. The profile itself is computed offline by a
// separate analysis job; this command only publishes its output.
func (a *App) ImportProfile(ctx context.Context, opts ImportProfileOptions) error {
	if opts.Path == "" {
		return errors.New("--file is required")
	}
	name := opts.Name
	if name == "" {
		name = "default"
	}

	raw, err := os.ReadFile(opts.Path)
	if err != nil {
		return fmt.Errorf("read profile file: %w", err)
	}

	var profile nightpattern.Profile
	if err := json.Unmarshal(raw, &profile); err != nil {
		return fmt.Errorf("parse profile file: %w", err)
	}
	if profile.Empty() {
		return errors.New("profile carries no usable data")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot import profile")
	}
	if closeStore != nil {
		defer closeStore()
	}

	computedAt := profile.ComputedAt
	if computedAt.IsZero() {
		computedAt = time.Now().UTC()
	}

	rec := storage.PatternProfileRecord{
		Name:       name,
		Profile:    json.RawMessage(raw),
		ComputedAt: computedAt,
	}
	if err := store.UpsertPatternProfile(ctx, rec); err != nil {
		return err
	}

	a.Logger.Info().Str("name", name).
		Int("buckets", len(profile.Deltas)).
		Int("sample_days", profile.SampleDays).
		Msg("pattern profile imported")
	return nil
}
