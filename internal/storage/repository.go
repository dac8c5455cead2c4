package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	upsertForecastRunSQL = `INSERT INTO forecast_runs (
        id,
        bucket_ts,
        start_bg,
        min_bg,
        max_bg,
        ending_bg,
        time_to_min,
        dia_overridden,
        pattern_applied,
        suggested_dose,
        series,
        meta,
        status,
        error
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
    )
    ON CONFLICT (bucket_ts) DO UPDATE
    SET
        start_bg        = EXCLUDED.start_bg,
        min_bg          = EXCLUDED.min_bg,
        max_bg          = EXCLUDED.max_bg,
        ending_bg       = EXCLUDED.ending_bg,
        time_to_min     = EXCLUDED.time_to_min,
        dia_overridden  = EXCLUDED.dia_overridden,
        pattern_applied = EXCLUDED.pattern_applied,
        suggested_dose  = EXCLUDED.suggested_dose,
        series          = EXCLUDED.series,
        meta            = EXCLUDED.meta,
        status          = EXCLUDED.status,
        error           = EXCLUDED.error;`

	listRunsBetweenSQL = `SELECT
        id,
        bucket_ts,
        start_bg,
        min_bg,
        max_bg,
        ending_bg,
        time_to_min,
        dia_overridden,
        pattern_applied,
        suggested_dose,
        series,
        meta,
        status,
        error,
        created_at
    FROM forecast_runs
    WHERE bucket_ts >= $1
      AND bucket_ts < $2
    ORDER BY bucket_ts;`

	listRecentRunsSQL = `SELECT
        id,
        bucket_ts,
        start_bg,
        min_bg,
        max_bg,
        ending_bg,
        time_to_min,
        dia_overridden,
        pattern_applied,
        suggested_dose,
        series,
        meta,
        status,
        error,
        created_at
    FROM forecast_runs
    ORDER BY bucket_ts DESC
    LIMIT $1;`

	markRunErroredSQL = `UPDATE forecast_runs
    SET status = 'errored', error = $2
    WHERE bucket_ts = $1;`

	countRunsSQL = `SELECT COUNT(*) FROM forecast_runs;`

	insertAlertSQL = `INSERT INTO forecast_alerts (
        run_bucket_ts,
        predicted_min_bg,
        threshold_bg,
        minutes_to_min,
        suggested_dose,
        channels
    ) VALUES (
        $1,$2,$3,$4,$5,$6
    )
    RETURNING id, run_bucket_ts, predicted_min_bg, threshold_bg, minutes_to_min, suggested_dose, channels, created_at;`

	latestAlertAtSQL = `SELECT created_at
    FROM forecast_alerts
    ORDER BY created_at DESC
    LIMIT 1;`

	listRecentAlertsSQL = `SELECT
        id,
        run_bucket_ts,
        predicted_min_bg,
        threshold_bg,
        minutes_to_min,
        suggested_dose,
        channels,
        created_at
    FROM forecast_alerts
    ORDER BY created_at DESC
    LIMIT $1;`

	deleteAlertsBeforeSQL = `DELETE FROM forecast_alerts WHERE created_at < $1;`

	upsertPatternProfileSQL = `INSERT INTO night_pattern_profiles (
        name,
        profile,
        computed_at
    ) VALUES (
        $1,$2,$3
    )
    ON CONFLICT (name) DO UPDATE
    SET profile     = EXCLUDED.profile,
        computed_at = EXCLUDED.computed_at;`

	getPatternProfileSQL = `SELECT
        name,
        profile,
        computed_at,
        created_at
    FROM night_pattern_profiles
    WHERE name = $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// ForecastRunStore defines operations for run persistence.
type ForecastRunStore interface {
	UpsertForecastRun(ctx context.Context, run ForecastRun) error
	ListRunsBetween(ctx context.Context, from, to time.Time) ([]ForecastRun, error)
	ListRecentRuns(ctx context.Context, limit int) ([]ForecastRun, error)
	MarkRunErrored(ctx context.Context, bucket time.Time, errMsg string) error
	CountRuns(ctx context.Context) (int64, error)
}

// AlertStore defines operations for alert auditing and cooldown checks.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error)
	LatestAlertAt(ctx context.Context) (time.Time, bool, error)
	ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error)
	DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error
}

// PatternProfileStore defines operations for overnight profile persistence.
type PatternProfileStore interface {
	UpsertPatternProfile(ctx context.Context, rec PatternProfileRecord) error
	GetPatternProfile(ctx context.Context, name string) (PatternProfileRecord, bool, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to forecast runs, alerts, and pattern profiles.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// unlock best effort; log omitted in storage package
		}
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// UpsertForecastRun persists or updates a forecast run.
func (s *Store) UpsertForecastRun(ctx context.Context, run ForecastRun) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}

	var errMsg interface{}
	if run.Error != nil {
		errMsg = *run.Error
	}

	_, execErr := pool.Exec(ctx, upsertForecastRunSQL,
		run.ID,
		run.Bucket,
		run.StartBG.String(),
		run.MinBG.String(),
		run.MaxBG.String(),
		run.EndingBG.String(),
		run.TimeToMin,
		run.DIAOverridden,
		run.PatternApplied,
		run.SuggestedDose.String(),
		[]byte(run.Series),
		[]byte(run.Meta),
		run.Status,
		errMsg,
	)
	if execErr != nil {
		return fmt.Errorf("upsert forecast run: %w", execErr)
	}
	return nil
}

// ListRunsBetween lists runs within a time window.
func (s *Store) ListRunsBetween(ctx context.Context, from, to time.Time) ([]ForecastRun, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRunsBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list runs between: %w", queryErr)
	}
	defer rows.Close()

	runs := make([]ForecastRun, 0)
	for rows.Next() {
		run, scanErr := scanForecastRun(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		runs = append(runs, run)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return runs, nil
}

// ListRecentRuns lists the most recent runs ordered by descending bucket.
func (s *Store) ListRecentRuns(ctx context.Context, limit int) ([]ForecastRun, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentRunsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent runs: %w", queryErr)
	}
	defer rows.Close()

	runs := make([]ForecastRun, 0, limit)
	for rows.Next() {
		run, scanErr := scanForecastRun(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		runs = append(runs, run)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return runs, nil
}

// MarkRunErrored marks a run as errored.
func (s *Store) MarkRunErrored(ctx context.Context, bucket time.Time, errMsg string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	cmdTag, execErr := pool.Exec(ctx, markRunErroredSQL, bucket, errMsg)
	if execErr != nil {
		return fmt.Errorf("mark run errored: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// CountRuns counts stored runs.
func (s *Store) CountRuns(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countRunsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count runs: %w", scanErr)
	}
	return count, nil
}

// InsertAlert persists an alert emission.
func (s *Store) InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRecord{}, err
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		alert.RunBucket,
		alert.PredictedMin.String(),
		alert.Threshold.String(),
		alert.MinutesToMin,
		alert.SuggestedDose.String(),
		alert.Channels,
	)

	var rec AlertRecord
	var predictedStr, thresholdStr, doseStr string
	if scanErr := row.Scan(
		&rec.ID,
		&rec.RunBucket,
		&predictedStr,
		&thresholdStr,
		&rec.MinutesToMin,
		&doseStr,
		&rec.Channels,
		&rec.CreatedAt,
	); scanErr != nil {
		return AlertRecord{}, fmt.Errorf("insert alert: %w", scanErr)
	}

	var convErr error
	rec.PredictedMin, convErr = decimal.NewFromString(predictedStr)
	if convErr != nil {
		return AlertRecord{}, fmt.Errorf("parse predicted min: %w", convErr)
	}
	rec.Threshold, convErr = decimal.NewFromString(thresholdStr)
	if convErr != nil {
		return AlertRecord{}, fmt.Errorf("parse threshold: %w", convErr)
	}
	rec.SuggestedDose, convErr = decimal.NewFromString(doseStr)
	if convErr != nil {
		return AlertRecord{}, fmt.Errorf("parse suggested dose: %w", convErr)
	}

	return rec, nil
}

// LatestAlertAt returns the creation time of the most recent alert.
func (s *Store) LatestAlertAt(ctx context.Context) (time.Time, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return time.Time{}, false, err
	}
	var at time.Time
	if scanErr := pool.QueryRow(ctx, latestAlertAtSQL).Scan(&at); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("latest alert at: %w", scanErr)
	}
	return at, true, nil
}

// ListRecentAlerts lists most recent alerts.
func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]AlertRecord, 0, limit)
	for rows.Next() {
		var rec AlertRecord
		var predictedStr, thresholdStr, doseStr string
		if err := rows.Scan(
			&rec.ID,
			&rec.RunBucket,
			&predictedStr,
			&thresholdStr,
			&rec.MinutesToMin,
			&doseStr,
			&rec.Channels,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}

		var convErr error
		rec.PredictedMin, convErr = decimal.NewFromString(predictedStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse predicted min: %w", convErr)
		}
		rec.Threshold, convErr = decimal.NewFromString(thresholdStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse threshold: %w", convErr)
		}
		rec.SuggestedDose, convErr = decimal.NewFromString(doseStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse suggested dose: %w", convErr)
		}

		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// DeleteAlertsBefore deletes historical alerts.
func (s *Store) DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteAlertsBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete alerts before: %w", execErr)
	}
	return nil
}

// UpsertPatternProfile replaces the stored profile for a name.
func (s *Store) UpsertPatternProfile(ctx context.Context, rec PatternProfileRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, upsertPatternProfileSQL,
		rec.Name,
		[]byte(rec.Profile),
		rec.ComputedAt,
	); execErr != nil {
		return fmt.Errorf("upsert pattern profile: %w", execErr)
	}
	return nil
}

// GetPatternProfile loads the stored profile for a name. The boolean return
// reports presence; a missing profile is not an error.
func (s *Store) GetPatternProfile(ctx context.Context, name string) (PatternProfileRecord, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return PatternProfileRecord{}, false, err
	}

	var rec PatternProfileRecord
	var profile json.RawMessage
	if scanErr := pool.QueryRow(ctx, getPatternProfileSQL, name).Scan(
		&rec.Name,
		&profile,
		&rec.ComputedAt,
		&rec.CreatedAt,
	); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return PatternProfileRecord{}, false, nil
		}
		return PatternProfileRecord{}, false, fmt.Errorf("get pattern profile: %w", scanErr)
	}
	rec.Profile = profile
	return rec, true, nil
}

func scanForecastRun(rows pgx.Rows) (ForecastRun, error) {
	var (
		id             uuid.UUID
		bucket         time.Time
		startStr       string
		minStr         string
		maxStr         string
		endingStr      string
		timeToMin      int
		diaOverridden  bool
		patternApplied bool
		doseStr        string
		series         json.RawMessage
		meta           json.RawMessage
		status         string
		errMsg         sql.NullString
		createdAt      time.Time
	)

	if err := rows.Scan(
		&id,
		&bucket,
		&startStr,
		&minStr,
		&maxStr,
		&endingStr,
		&timeToMin,
		&diaOverridden,
		&patternApplied,
		&doseStr,
		&series,
		&meta,
		&status,
		&errMsg,
		&createdAt,
	); err != nil {
		return ForecastRun{}, err
	}

	start, err := decimal.NewFromString(startStr)
	if err != nil {
		return ForecastRun{}, fmt.Errorf("parse start bg: %w", err)
	}
	min, err := decimal.NewFromString(minStr)
	if err != nil {
		return ForecastRun{}, fmt.Errorf("parse min bg: %w", err)
	}
	max, err := decimal.NewFromString(maxStr)
	if err != nil {
		return ForecastRun{}, fmt.Errorf("parse max bg: %w", err)
	}
	ending, err := decimal.NewFromString(endingStr)
	if err != nil {
		return ForecastRun{}, fmt.Errorf("parse ending bg: %w", err)
	}
	dose, err := decimal.NewFromString(doseStr)
	if err != nil {
		return ForecastRun{}, fmt.Errorf("parse suggested dose: %w", err)
	}

	run := ForecastRun{
		ID:             id,
		Bucket:         bucket,
		StartBG:        start,
		MinBG:          min,
		MaxBG:          max,
		EndingBG:       ending,
		TimeToMin:      timeToMin,
		DIAOverridden:  diaOverridden,
		PatternApplied: patternApplied,
		SuggestedDose:  dose,
		Series:         series,
		Meta:           meta,
		Status:         status,
		CreatedAt:      createdAt,
	}

	if errMsg.Valid {
		msg := errMsg.String
		run.Error = &msg
	}

	return run, nil
}
