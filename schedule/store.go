package schedule

import (
	"context"
	"database/sql"
	"time"

	"github.com/tabwatch/tabwatch/errors"
)

// Store handles persistence of watch alarms
type Store struct {
	db *sql.DB
}

// NewStore creates a new alarm store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// UpsertAlarm creates the alarm for a tab, replacing any previous
// registration. NextRunAt is preserved as given so a re-registration can
// reschedule the first run.
func (s *Store) UpsertAlarm(alarm *Alarm) error {
	query := `
		INSERT INTO watch_alarms (
			tab_id, name, interval_minutes, next_run_at, last_run_at,
			chat_id, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tab_id) DO UPDATE SET
			name = excluded.name,
			interval_minutes = excluded.interval_minutes,
			next_run_at = excluded.next_run_at,
			chat_id = excluded.chat_id,
			updated_at = excluded.updated_at
	`

	now := time.Now()
	var lastRunAt interface{}
	if alarm.LastRunAt != nil {
		lastRunAt = alarm.LastRunAt.Format(time.RFC3339)
	}

	_, err := s.db.Exec(query,
		alarm.TabID,
		alarm.Name,
		alarm.IntervalMinutes,
		alarm.NextRunAt.Format(time.RFC3339),
		lastRunAt,
		alarm.ChatID,
		now.Format(time.RFC3339),
		now.Format(time.RFC3339),
	)
	if err != nil {
		return errors.Wrap(err, "failed to upsert alarm")
	}

	return nil
}

// GetAlarm retrieves the alarm for a tab
func (s *Store) GetAlarm(tabID string) (*Alarm, error) {
	query := `
		SELECT tab_id, name, interval_minutes, next_run_at, last_run_at,
		       chat_id, created_at, updated_at
		FROM watch_alarms
		WHERE tab_id = ?
	`

	alarm, err := scanAlarm(s.db.QueryRow(query, tabID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NewNotFoundError("alarm", tabID)
		}
		return nil, errors.Wrap(err, "failed to get alarm")
	}

	return alarm, nil
}

// DeleteAlarm removes the alarm for a tab. Returns ErrNotFound if no alarm
// exists for the tab.
func (s *Store) DeleteAlarm(tabID string) error {
	result, err := s.db.Exec("DELETE FROM watch_alarms WHERE tab_id = ?", tabID)
	if err != nil {
		return errors.Wrap(err, "failed to delete alarm")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to check delete result")
	}
	if affected == 0 {
		return errors.NewNotFoundError("alarm", tabID)
	}

	return nil
}

// ListAlarms returns all registered alarms ordered by next run time.
func (s *Store) ListAlarms() ([]*Alarm, error) {
	query := `
		SELECT tab_id, name, interval_minutes, next_run_at, last_run_at,
		       chat_id, created_at, updated_at
		FROM watch_alarms
		ORDER BY next_run_at ASC
	`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list alarms")
	}
	defer rows.Close()

	return collectAlarms(rows)
}

// ListDueContext returns alarms whose next_run_at has passed, oldest first.
// Limited to 100 per batch so a long outage cannot flood the queue.
func (s *Store) ListDueContext(ctx context.Context, now time.Time) ([]*Alarm, error) {
	query := `
		SELECT tab_id, name, interval_minutes, next_run_at, last_run_at,
		       chat_id, created_at, updated_at
		FROM watch_alarms
		WHERE next_run_at <= ?
		ORDER BY next_run_at ASC
		LIMIT 100
	`

	rows, err := s.db.QueryContext(ctx, query, now.Format(time.RFC3339))
	if err != nil {
		return nil, errors.Wrap(err, "failed to list due alarms")
	}
	defer rows.Close()

	return collectAlarms(rows)
}

// NextAlarm returns the alarm that will fire soonest, or nil when no
// alarms are registered.
func (s *Store) NextAlarm() (*Alarm, error) {
	query := `
		SELECT tab_id, name, interval_minutes, next_run_at, last_run_at,
		       chat_id, created_at, updated_at
		FROM watch_alarms
		ORDER BY next_run_at ASC
		LIMIT 1
	`

	alarm, err := scanAlarm(s.db.QueryRow(query))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to get next alarm")
	}

	return alarm, nil
}

// MarkRun records that the alarm fired at ranAt and advances next_run_at.
// A past-due alarm fires once and is rescheduled relative to ranAt, not to
// its original schedule, so missed intervals do not pile up.
func (s *Store) MarkRun(tabID string, ranAt time.Time) error {
	alarm, err := s.GetAlarm(tabID)
	if err != nil {
		return err
	}

	next := ranAt.Add(alarm.Interval())
	_, err = s.db.Exec(`
		UPDATE watch_alarms
		SET last_run_at = ?, next_run_at = ?, updated_at = ?
		WHERE tab_id = ?
	`,
		ranAt.Format(time.RFC3339),
		next.Format(time.RFC3339),
		time.Now().Format(time.RFC3339),
		tabID,
	)
	if err != nil {
		return errors.Wrap(err, "failed to mark alarm run")
	}

	return nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAlarm(row rowScanner) (*Alarm, error) {
	var alarm Alarm
	var nextRunAt, createdAt, updatedAt string
	var lastRunAt sql.NullString

	err := row.Scan(
		&alarm.TabID,
		&alarm.Name,
		&alarm.IntervalMinutes,
		&nextRunAt,
		&lastRunAt,
		&alarm.ChatID,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	// Parse timestamps (failure indicates data corruption or schema mismatch)
	alarm.NextRunAt, err = time.Parse(time.RFC3339, nextRunAt)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse next_run_at for alarm %s", alarm.TabID)
	}

	alarm.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse created_at for alarm %s", alarm.TabID)
	}

	alarm.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse updated_at for alarm %s", alarm.TabID)
	}

	if lastRunAt.Valid {
		t, err := time.Parse(time.RFC3339, lastRunAt.String)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse last_run_at for alarm %s", alarm.TabID)
		}
		alarm.LastRunAt = &t
	}

	return &alarm, nil
}

func collectAlarms(rows *sql.Rows) ([]*Alarm, error) {
	var alarms []*Alarm
	for rows.Next() {
		alarm, err := scanAlarm(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan alarm")
		}
		alarms = append(alarms, alarm)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate alarms")
	}
	return alarms, nil
}
