package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/splitpulse/splitpulse/internal/experiment"
	"github.com/splitpulse/splitpulse/internal/vitals"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = eris.New("store: not found")

// SQLiteStore implements Store on an embedded SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS experiments (
    id TEXT PRIMARY KEY,
    variants TEXT NOT NULL,
    goals TEXT,
    traffic_allocation INTEGER NOT NULL DEFAULT 100,
    starts_at INTEGER,
    ends_at INTEGER,
    active INTEGER NOT NULL DEFAULT 1,
    state TEXT NOT NULL DEFAULT 'running',
    winner_variant TEXT,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_experiments_state ON experiments(state);

CREATE TABLE IF NOT EXISTS assignments (
    experiment_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    participating INTEGER NOT NULL,
    variant_id TEXT,
    assigned_at INTEGER NOT NULL,
    PRIMARY KEY (experiment_id, user_id)
);

CREATE TABLE IF NOT EXISTS conversions (
    id TEXT PRIMARY KEY,
    experiment_id TEXT NOT NULL,
    variant_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    event TEXT NOT NULL,
    metadata TEXT,
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_conversions_experiment ON conversions(experiment_id);
CREATE INDEX IF NOT EXISTS idx_conversions_user ON conversions(experiment_id, user_id);

CREATE TABLE IF NOT EXISTS vitals_samples (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    metric TEXT NOT NULL,
    value REAL NOT NULL,
    rating TEXT NOT NULL,
    device TEXT,
    connection TEXT,
    page TEXT,
    observed_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_vitals_samples_metric ON vitals_samples(metric);

CREATE TABLE IF NOT EXISTS vitals_alerts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    metric TEXT NOT NULL,
    severity TEXT NOT NULL,
    message TEXT NOT NULL,
    value REAL NOT NULL,
    threshold REAL NOT NULL,
    observed_at INTEGER NOT NULL
);
`

// Open opens (creating if needed) the database at dbPath and applies the
// schema.
func Open(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, eris.Wrap(err, "store: open database")
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "store: exec %s", pragma)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "store: apply schema")
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection for health checks.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) CreateExperiment(ctx context.Context, exp experiment.Experiment) (*ExperimentRecord, error) {
	variantsJSON, err := json.Marshal(exp.Variants)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal variants")
	}

	var goalsJSON []byte
	if len(exp.Goals) > 0 {
		goalsJSON, err = json.Marshal(exp.Goals)
		if err != nil {
			return nil, eris.Wrap(err, "store: marshal goals")
		}
	}

	now := time.Now().Unix()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO experiments (id, variants, goals, traffic_allocation, starts_at, ends_at, active, state, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 'running', ?, ?)`,
		exp.ID, string(variantsJSON), nullableString(goalsJSON), exp.TrafficAllocation,
		nullableUnix(exp.StartsAt), nullableUnix(exp.EndsAt), boolToInt(exp.Active), now, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "store: insert experiment %s", exp.ID)
	}

	return &ExperimentRecord{
		Experiment: exp,
		State:      StateRunning,
		CreatedAt:  time.Unix(now, 0),
		UpdatedAt:  time.Unix(now, 0),
	}, nil
}

const experimentColumns = `id, variants, goals, traffic_allocation, starts_at, ends_at, active, state, winner_variant, created_at, updated_at`

func (s *SQLiteStore) GetExperiment(ctx context.Context, id string) (*ExperimentRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+experimentColumns+` FROM experiments WHERE id = ?`, id,
	)
	rec, err := scanExperiment(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "store: get experiment %s", id)
	}
	return rec, nil
}

func (s *SQLiteStore) ListExperiments(ctx context.Context) ([]*ExperimentRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+experimentColumns+` FROM experiments ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "store: list experiments")
	}
	defer rows.Close()

	var recs []*ExperimentRecord
	for rows.Next() {
		rec, err := scanExperiment(rows)
		if err != nil {
			return nil, eris.Wrap(err, "store: scan experiment")
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExperiment(row rowScanner) (*ExperimentRecord, error) {
	var rec ExperimentRecord
	var variantsJSON string
	var goalsJSON, winner sql.NullString
	var startsAt, endsAt sql.NullInt64
	var active int
	var createdAt, updatedAt int64

	err := row.Scan(&rec.ID, &variantsJSON, &goalsJSON, &rec.TrafficAllocation,
		&startsAt, &endsAt, &active, &rec.State, &winner, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(variantsJSON), &rec.Variants); err != nil {
		return nil, eris.Wrap(err, "unmarshal variants")
	}
	if goalsJSON.Valid && goalsJSON.String != "" {
		if err := json.Unmarshal([]byte(goalsJSON.String), &rec.Goals); err != nil {
			return nil, eris.Wrap(err, "unmarshal goals")
		}
	}
	if startsAt.Valid {
		t := time.Unix(startsAt.Int64, 0)
		rec.StartsAt = &t
	}
	if endsAt.Valid {
		t := time.Unix(endsAt.Int64, 0)
		rec.EndsAt = &t
	}
	rec.Active = active != 0
	if winner.Valid {
		rec.WinnerVariant = winner.String
	}
	rec.CreatedAt = time.Unix(createdAt, 0)
	rec.UpdatedAt = time.Unix(updatedAt, 0)

	return &rec, nil
}

func (s *SQLiteStore) CompleteExperiment(ctx context.Context, id, winnerVariant string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE experiments SET state = ?, winner_variant = ?, active = 0, updated_at = ? WHERE id = ?`,
		string(StateCompleted), winnerVariant, time.Now().Unix(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "store: complete experiment %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "store: rows affected")
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetAssignment returns (nil, nil) when no assignment exists for the pair.
func (s *SQLiteStore) GetAssignment(ctx context.Context, experimentID, userID string) (*experiment.Assignment, error) {
	var a experiment.Assignment
	var participating int
	var variantID sql.NullString
	var assignedAt int64

	err := s.db.QueryRowContext(ctx,
		`SELECT experiment_id, user_id, participating, variant_id, assigned_at
		 FROM assignments WHERE experiment_id = ? AND user_id = ?`,
		experimentID, userID,
	).Scan(&a.ExperimentID, &a.UserID, &participating, &variantID, &assignedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "store: get assignment %s/%s", experimentID, userID)
	}

	a.Participating = participating != 0
	a.VariantID = variantID.String
	a.AssignedAt = time.Unix(assignedAt, 0)
	return &a, nil
}

// PutAssignment stores an assignment once: racing writers for the same
// (experiment, user) pair resolve to first write wins.
func (s *SQLiteStore) PutAssignment(ctx context.Context, a experiment.Assignment) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO assignments (experiment_id, user_id, participating, variant_id, assigned_at)
		 VALUES (?, ?, ?, ?, ?)`,
		a.ExperimentID, a.UserID, boolToInt(a.Participating), a.VariantID, a.AssignedAt.Unix(),
	)
	if err != nil {
		return eris.Wrapf(err, "store: put assignment %s/%s", a.ExperimentID, a.UserID)
	}
	return nil
}

func (s *SQLiteStore) AppendConversion(ctx context.Context, ev experiment.ConversionEvent) error {
	var metadataJSON []byte
	if len(ev.Metadata) > 0 {
		var err error
		metadataJSON, err = json.Marshal(ev.Metadata)
		if err != nil {
			return eris.Wrap(err, "store: marshal metadata")
		}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversions (id, experiment_id, variant_id, user_id, event, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.ExperimentID, ev.VariantID, ev.UserID, ev.Event,
		nullableString(metadataJSON), ev.CreatedAt.Unix(),
	)
	if err != nil {
		return eris.Wrapf(err, "store: append conversion %s", ev.ExperimentID)
	}
	return nil
}

func (s *SQLiteStore) ListConversions(ctx context.Context, experimentID string) ([]*experiment.ConversionEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, experiment_id, variant_id, user_id, event, metadata, created_at
		 FROM conversions WHERE experiment_id = ? ORDER BY created_at DESC, id`,
		experimentID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "store: list conversions %s", experimentID)
	}
	defer rows.Close()

	var events []*experiment.ConversionEvent
	for rows.Next() {
		var ev experiment.ConversionEvent
		var metadataJSON sql.NullString
		var createdAt int64
		if err := rows.Scan(&ev.ID, &ev.ExperimentID, &ev.VariantID, &ev.UserID, &ev.Event, &metadataJSON, &createdAt); err != nil {
			return nil, eris.Wrap(err, "store: scan conversion")
		}
		if metadataJSON.Valid && metadataJSON.String != "" {
			if err := json.Unmarshal([]byte(metadataJSON.String), &ev.Metadata); err != nil {
				return nil, eris.Wrap(err, "store: unmarshal metadata")
			}
		}
		ev.CreatedAt = time.Unix(createdAt, 0)
		events = append(events, &ev)
	}
	return events, rows.Err()
}

func (s *SQLiteStore) VariantStats(ctx context.Context, experimentID string) ([]VariantStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			a.variant_id,
			COUNT(DISTINCT a.user_id) AS exposures,
			COUNT(DISTINCT c.user_id) AS conversions
		FROM assignments a
		LEFT JOIN conversions c
			ON c.experiment_id = a.experiment_id AND c.variant_id = a.variant_id
		WHERE a.experiment_id = ? AND a.participating = 1
		GROUP BY a.variant_id
		ORDER BY a.variant_id
	`, experimentID)
	if err != nil {
		return nil, eris.Wrapf(err, "store: variant stats %s", experimentID)
	}
	defer rows.Close()

	var stats []VariantStats
	for rows.Next() {
		var vs VariantStats
		if err := rows.Scan(&vs.VariantID, &vs.Exposures, &vs.Conversions); err != nil {
			return nil, eris.Wrap(err, "store: scan variant stats")
		}
		stats = append(stats, vs)
	}
	return stats, rows.Err()
}

// AppendSample inserts a sample and evicts the oldest rows for the same
// metric past limit.
func (s *SQLiteStore) AppendSample(ctx context.Context, sample vitals.Sample, limit int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO vitals_samples (metric, value, rating, device, connection, page, observed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sample.Metric.String(), sample.Value, string(sample.Rating),
		sample.Context.Device, sample.Context.Connection, sample.Context.Page,
		sample.ObservedAt.Unix(),
	)
	if err != nil {
		return eris.Wrap(err, "store: insert sample")
	}

	_, err = s.db.ExecContext(ctx,
		`DELETE FROM vitals_samples WHERE metric = ? AND id NOT IN (
			SELECT id FROM vitals_samples WHERE metric = ? ORDER BY id DESC LIMIT ?)`,
		sample.Metric.String(), sample.Metric.String(), limit,
	)
	if err != nil {
		return eris.Wrap(err, "store: trim samples")
	}
	return nil
}

// AppendAlert inserts an alert and evicts the oldest rows past limit.
func (s *SQLiteStore) AppendAlert(ctx context.Context, alert vitals.Alert, limit int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO vitals_alerts (metric, severity, message, value, threshold, observed_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		alert.Metric.String(), string(alert.Severity), alert.Message,
		alert.Value, alert.Threshold, alert.ObservedAt.Unix(),
	)
	if err != nil {
		return eris.Wrap(err, "store: insert alert")
	}

	_, err = s.db.ExecContext(ctx,
		`DELETE FROM vitals_alerts WHERE id NOT IN (
			SELECT id FROM vitals_alerts ORDER BY id DESC LIMIT ?)`,
		limit,
	)
	if err != nil {
		return eris.Wrap(err, "store: trim alerts")
	}
	return nil
}

func (s *SQLiteStore) ListSamples(ctx context.Context) ([]vitals.Sample, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT metric, value, rating, device, connection, page, observed_at
		 FROM vitals_samples ORDER BY id`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "store: list samples")
	}
	defer rows.Close()

	var samples []vitals.Sample
	for rows.Next() {
		var sm vitals.Sample
		var metric string
		var device, connection, page sql.NullString
		var observedAt int64
		if err := rows.Scan(&metric, &sm.Value, &sm.Rating, &device, &connection, &page, &observedAt); err != nil {
			return nil, eris.Wrap(err, "store: scan sample")
		}
		m, err := vitals.Parse(metric)
		if err != nil {
			return nil, eris.Wrap(err, "store: parse sample metric")
		}
		sm.Metric = m
		sm.Context = vitals.SampleContext{
			Device:     device.String,
			Connection: connection.String,
			Page:       page.String,
		}
		sm.ObservedAt = time.Unix(observedAt, 0).UTC()
		samples = append(samples, sm)
	}
	return samples, rows.Err()
}

func (s *SQLiteStore) ListAlerts(ctx context.Context) ([]vitals.Alert, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT metric, severity, message, value, threshold, observed_at
		 FROM vitals_alerts ORDER BY id`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "store: list alerts")
	}
	defer rows.Close()

	var alerts []vitals.Alert
	for rows.Next() {
		var al vitals.Alert
		var metric string
		var observedAt int64
		if err := rows.Scan(&metric, &al.Severity, &al.Message, &al.Value, &al.Threshold, &observedAt); err != nil {
			return nil, eris.Wrap(err, "store: scan alert")
		}
		m, err := vitals.Parse(metric)
		if err != nil {
			return nil, eris.Wrap(err, "store: parse alert metric")
		}
		al.Metric = m
		al.ObservedAt = time.Unix(observedAt, 0).UTC()
		alerts = append(alerts, al)
	}
	return alerts, rows.Err()
}

func nullableString(b []byte) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

func nullableUnix(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
