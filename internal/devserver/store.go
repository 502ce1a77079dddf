package devserver

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"reelflow/internal/services/backend"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is bumped whenever schema.sql changes. Existing databases
// with another version are rejected; delete the state directory to reset.
const schemaVersion = 1

var (
	// ErrNotFound is returned when a run, shot, or asset does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a record already exists.
	ErrConflict = errors.New("already exists")
	// ErrSchemaMismatch indicates the database was created by another schema version.
	ErrSchemaMismatch = errors.New("schema version mismatch")
)

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// Store persists simulated backend state in SQLite.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// OpenStore opens or creates the database at path.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path, now: time.Now}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

func (s *Store) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if tableExists == 0 {
		return s.createSchema(ctx)
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (delete %s)",
			ErrSchemaMismatch, version, schemaVersion, s.path)
	}
	return nil
}

func (s *Store) createSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

func (s *Store) timestamp() string {
	return s.now().UTC().Format(time.RFC3339)
}

// CreateRun registers a run version and marks its uploads done.
func (s *Store) CreateRun(ctx context.Context, runID string, version int, videoID string) error {
	ts := s.timestamp()
	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin create tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		var exists int
		if err := tx.QueryRowContext(ctx,
			"SELECT COUNT(1) FROM runs WHERE run_id = ? AND version = ?", runID, version,
		).Scan(&exists); err != nil {
			return fmt.Errorf("check run: %w", err)
		}
		if exists > 0 {
			return fmt.Errorf("run %s v%d: %w", runID, version, ErrConflict)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO runs (run_id, version, video_id, created_at) VALUES (?, ?, ?, ?)",
			runID, version, videoID, ts,
		); err != nil {
			return fmt.Errorf("insert run: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO run_status (run_id, version, current_stage, stage_status, progress_message, updated_at)
            VALUES (?, ?, 'UPLOADED', 'done', NULL, ?)`,
			runID, version, ts,
		); err != nil {
			return fmt.Errorf("insert run status: %w", err)
		}
		return tx.Commit()
	})
}

// ListRuns returns every run, newest first, with its status.
func (s *Store) ListRuns(ctx context.Context) ([]backend.RunSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT r.run_id, r.version, r.video_id, r.created_at,
               st.current_stage, st.stage_status, st.progress_current, st.progress_total,
               st.progress_message, st.updated_at
        FROM runs r
        LEFT JOIN run_status st ON st.run_id = r.run_id AND st.version = r.version
        ORDER BY r.created_at DESC, r.rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []backend.RunSummary
	for rows.Next() {
		var (
			summary            backend.RunSummary
			stage, status      sql.NullString
			current, total     sql.NullInt64
			message, updatedAt sql.NullString
		)
		if err := rows.Scan(&summary.RunID, &summary.Version, &summary.VideoID, &summary.CreatedAt,
			&stage, &status, &current, &total, &message, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if stage.Valid {
			st := statusFromColumns(stage.String, status.String, current, total, message, updatedAt)
			summary.Status = &st
		}
		runs = append(runs, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	if runs == nil {
		runs = []backend.RunSummary{}
	}
	return runs, nil
}

// RunExists reports whether the run version is registered.
func (s *Store) RunExists(ctx context.Context, runID string, version int) (bool, error) {
	var count int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM runs WHERE run_id = ? AND version = ?", runID, version,
	).Scan(&count); err != nil {
		return false, fmt.Errorf("check run: %w", err)
	}
	return count > 0, nil
}

// Status returns the stage record of a run version.
func (s *Store) Status(ctx context.Context, runID string, version int) (backend.RunStatus, error) {
	var (
		stage, status      string
		current, total     sql.NullInt64
		message, updatedAt sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
        SELECT current_stage, stage_status, progress_current, progress_total, progress_message, updated_at
        FROM run_status WHERE run_id = ? AND version = ?`, runID, version,
	).Scan(&stage, &status, &current, &total, &message, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return backend.RunStatus{}, fmt.Errorf("status for %s v%d: %w", runID, version, ErrNotFound)
	}
	if err != nil {
		return backend.RunStatus{}, fmt.Errorf("get status: %w", err)
	}
	return statusFromColumns(stage, status, current, total, message, updatedAt), nil
}

// StatusUpdate is one write to a run's stage record.
type StatusUpdate struct {
	Stage   string
	Status  string
	Current int
	Total   int
	Message string
}

// SetStatus replaces the stage record of a run version.
func (s *Store) SetStatus(ctx context.Context, runID string, version int, update StatusUpdate) error {
	ts := s.timestamp()
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
            INSERT INTO run_status (run_id, version, current_stage, stage_status, progress_current, progress_total, progress_message, updated_at)
            VALUES (?, ?, ?, ?, ?, ?, ?, ?)
            ON CONFLICT (run_id, version) DO UPDATE SET
                current_stage = excluded.current_stage,
                stage_status = excluded.stage_status,
                progress_current = excluded.progress_current,
                progress_total = excluded.progress_total,
                progress_message = excluded.progress_message,
                updated_at = excluded.updated_at`,
			runID, version, strings.ToUpper(update.Stage), update.Status,
			update.Current, update.Total, nullableString(update.Message), ts,
		)
		if err != nil {
			return fmt.Errorf("update status: %w", err)
		}
		return nil
	})
}

// ReplaceShots drops a run version's shots and assets and inserts shots in
// order. Metaphor and camera config are stored as text.
func (s *Store) ReplaceShots(ctx context.Context, runID string, version int, shots []backend.Shot) error {
	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin shots tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, "DELETE FROM assets WHERE run_id = ? AND version = ?", runID, version); err != nil {
			return fmt.Errorf("clear assets: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM shots WHERE run_id = ? AND version = ?", runID, version); err != nil {
			return fmt.Errorf("clear shots: %w", err)
		}
		for i, shot := range shots {
			status := shot.Status
			if status == "" {
				status = "PLANNED"
			}
			if _, err := tx.ExecContext(ctx, `
                INSERT INTO shots (shot_id, run_id, version, seq, script_text, intent, metaphor,
                    camera_config, duration_s, beat_start_s, beat_end_s, status)
                VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				shot.ShotID, runID, version, i, shot.ScriptText, shot.Intent,
				nullableStringPtr(shot.Metaphor), nullableRaw(shot.CameraConfig),
				nullableFloat(shot.DurationS), nullableFloat(shot.BeatStartS), nullableFloat(shot.BeatEndS),
				status,
			); err != nil {
				return fmt.Errorf("insert shot %s: %w", shot.ShotID, err)
			}
		}
		return tx.Commit()
	})
}

// SetShotStatus updates one shot's status.
func (s *Store) SetShotStatus(ctx context.Context, runID string, version int, shotID, status string) error {
	return retryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			"UPDATE shots SET status = ? WHERE run_id = ? AND version = ? AND shot_id = ?",
			status, runID, version, shotID)
		if err != nil {
			return fmt.Errorf("update shot status: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("shot %s: %w", shotID, ErrNotFound)
		}
		return nil
	})
}

// shotSelect reads shots joined to their run so each shot carries the run's
// video id.
const shotSelect = `s.shot_id, s.run_id, s.version, r.video_id, s.script_text, s.intent, s.metaphor,
    s.camera_config, s.duration_s, s.beat_start_s, s.beat_end_s, s.status
    FROM shots s JOIN runs r ON r.run_id = s.run_id AND r.version = s.version`

// Shots returns a run version's shots in plan order with their assets.
func (s *Store) Shots(ctx context.Context, runID string, version int) ([]backend.Shot, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+shotSelect+" WHERE s.run_id = ? AND s.version = ? ORDER BY s.seq",
		runID, version)
	if err != nil {
		return nil, fmt.Errorf("list shots: %w", err)
	}
	shots := []backend.Shot{}
	for rows.Next() {
		shot, err := scanShot(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		shots = append(shots, shot)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate shots: %w", err)
	}
	rows.Close()

	assets, err := s.assets(ctx, "run_id = ? AND version = ?", runID, version)
	if err != nil {
		return nil, err
	}
	byShot := make(map[string][]backend.Asset, len(shots))
	for _, asset := range assets {
		byShot[asset.ShotID] = append(byShot[asset.ShotID], asset)
	}
	for i := range shots {
		if list, ok := byShot[shots[i].ShotID]; ok {
			shots[i].Assets = list
		}
	}
	return shots, nil
}

// Shot returns one shot with its assets.
func (s *Store) Shot(ctx context.Context, runID string, version int, shotID string) (backend.Shot, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+shotSelect+" WHERE s.run_id = ? AND s.version = ? AND s.shot_id = ?",
		runID, version, shotID)
	shot, err := scanShot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return backend.Shot{}, fmt.Errorf("shot %s: %w", shotID, ErrNotFound)
	}
	if err != nil {
		return backend.Shot{}, err
	}
	assets, err := s.assets(ctx, "run_id = ? AND version = ? AND shot_id = ?", runID, version, shotID)
	if err != nil {
		return backend.Shot{}, err
	}
	shot.Assets = assets
	return shot, nil
}

// AddAsset inserts an asset for a shot. Metadata is stored as text.
func (s *Store) AddAsset(ctx context.Context, runID string, version int, asset backend.Asset) (backend.Asset, error) {
	asset.CreatedAt = s.timestamp()
	err := retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
            INSERT INTO assets (asset_id, run_id, version, shot_id, type, role, path, url, metadata, created_at, is_selected)
            VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			asset.AssetID, runID, version, asset.ShotID, asset.Type,
			nullableString(asset.Role), nullableString(asset.Path), nullableString(asset.URL),
			nullableRaw(asset.Metadata), asset.CreatedAt, asset.IsSelected,
		)
		if err != nil {
			return fmt.Errorf("insert asset: %w", err)
		}
		return nil
	})
	if err != nil {
		return backend.Asset{}, err
	}
	return asset, nil
}

// Asset returns one asset by ID.
func (s *Store) Asset(ctx context.Context, assetID string) (backend.Asset, error) {
	assets, err := s.assets(ctx, "asset_id = ?", assetID)
	if err != nil {
		return backend.Asset{}, err
	}
	if len(assets) == 0 {
		return backend.Asset{}, fmt.Errorf("asset %s: %w", assetID, ErrNotFound)
	}
	return assets[0], nil
}

func (s *Store) assets(ctx context.Context, where string, args ...any) ([]backend.Asset, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT asset_id, shot_id, type, role, path, url, metadata, created_at, is_selected
        FROM assets WHERE `+where+` ORDER BY rowid`, args...)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	defer rows.Close()

	var assets []backend.Asset
	for rows.Next() {
		var (
			asset                     backend.Asset
			role, path, url, metadata sql.NullString
		)
		if err := rows.Scan(&asset.AssetID, &asset.ShotID, &asset.Type, &role, &path, &url,
			&metadata, &asset.CreatedAt, &asset.IsSelected); err != nil {
			return nil, fmt.Errorf("scan asset: %w", err)
		}
		asset.Role = role.String
		asset.Path = path.String
		asset.URL = url.String
		asset.Metadata = textAsJSONString(metadata)
		assets = append(assets, asset)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate assets: %w", err)
	}
	return assets, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanShot(row rowScanner) (backend.Shot, error) {
	var (
		shot                         backend.Shot
		metaphor, camera             sql.NullString
		duration, beatStart, beatEnd sql.NullFloat64
	)
	if err := row.Scan(&shot.ShotID, &shot.RunID, &shot.Version, &shot.VideoID, &shot.ScriptText, &shot.Intent,
		&metaphor, &camera, &duration, &beatStart, &beatEnd, &shot.Status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return shot, err
		}
		return shot, fmt.Errorf("scan shot: %w", err)
	}
	if metaphor.Valid {
		value := metaphor.String
		shot.Metaphor = &value
	}
	shot.CameraConfig = textAsJSONString(camera)
	shot.DurationS = floatPtr(duration)
	shot.BeatStartS = floatPtr(beatStart)
	shot.BeatEndS = floatPtr(beatEnd)
	shot.Assets = []backend.Asset{}
	return shot, nil
}

func statusFromColumns(stage, status string, current, total sql.NullInt64, message, updatedAt sql.NullString) backend.RunStatus {
	st := backend.RunStatus{
		CurrentStage:    stage,
		StageStatus:     status,
		ProgressMessage: message.String,
		UpdatedAt:       updatedAt.String,
	}
	if current.Valid {
		value := int(current.Int64)
		st.ProgressCurrent = &value
	}
	if total.Valid {
		value := int(total.Int64)
		st.ProgressTotal = &value
	}
	return st
}

// textAsJSONString returns a stored JSON text column as a JSON string value,
// the shape the pipeline backend serves.
func textAsJSONString(value sql.NullString) json.RawMessage {
	if !value.Valid {
		return nil
	}
	encoded, err := json.Marshal(value.String)
	if err != nil {
		return nil
	}
	return encoded
}

func floatPtr(value sql.NullFloat64) *float64 {
	if !value.Valid {
		return nil
	}
	v := value.Float64
	return &v
}

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func nullableStringPtr(value *string) any {
	if value == nil {
		return nil
	}
	return *value
}

func nullableFloat(value *float64) any {
	if value == nil {
		return nil
	}
	return *value
}

func nullableRaw(value json.RawMessage) any {
	if len(value) == 0 || string(value) == "null" {
		return nil
	}
	return string(value)
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}
