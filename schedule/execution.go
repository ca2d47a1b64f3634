package schedule

import (
	"database/sql"

	"github.com/tabwatch/tabwatch/errors"
)

// Execution status values
const (
	ExecutionStatusRunning   = "running"
	ExecutionStatusCompleted = "completed"
	ExecutionStatusFailed    = "failed"
)

// Execution records one watch cycle for a tab, from trigger to delivery
// or final failure. Timestamps are RFC3339 strings as stored.
type Execution struct {
	ID           string  `json:"id"`
	TabID        string  `json:"tab_id"`
	Status       string  `json:"status"`
	Attempts     int     `json:"attempts"`
	ErrorMessage *string `json:"error_message,omitempty"`
	StartedAt    string  `json:"started_at"`
	CompletedAt  *string `json:"completed_at,omitempty"`
	DurationMs   *int    `json:"duration_ms,omitempty"`
	CreatedAt    string  `json:"created_at"`
	UpdatedAt    string  `json:"updated_at"`
}

// ExecutionStore handles persistence of watch execution history
type ExecutionStore struct {
	db *sql.DB
}

// NewExecutionStore creates a new execution store
func NewExecutionStore(db *sql.DB) *ExecutionStore {
	return &ExecutionStore{db: db}
}

// CreateExecution creates a new execution record
func (s *ExecutionStore) CreateExecution(exec *Execution) error {
	query := `
		INSERT INTO watch_executions (
			id, tab_id, status, attempts, error_message,
			started_at, completed_at, duration_ms,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var errorMessage, completedAt, durationMs interface{}
	if exec.ErrorMessage != nil {
		errorMessage = *exec.ErrorMessage
	}
	if exec.CompletedAt != nil {
		completedAt = *exec.CompletedAt
	}
	if exec.DurationMs != nil {
		durationMs = *exec.DurationMs
	}

	_, err := s.db.Exec(query,
		exec.ID,
		exec.TabID,
		exec.Status,
		exec.Attempts,
		errorMessage,
		exec.StartedAt,
		completedAt,
		durationMs,
		exec.CreatedAt,
		exec.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create execution")
	}

	return nil
}

// UpdateExecution updates an existing execution record
func (s *ExecutionStore) UpdateExecution(exec *Execution) error {
	query := `
		UPDATE watch_executions
		SET status = ?,
		    attempts = ?,
		    error_message = ?,
		    completed_at = ?,
		    duration_ms = ?,
		    updated_at = ?
		WHERE id = ?
	`

	var errorMessage, completedAt, durationMs interface{}
	if exec.ErrorMessage != nil {
		errorMessage = *exec.ErrorMessage
	}
	if exec.CompletedAt != nil {
		completedAt = *exec.CompletedAt
	}
	if exec.DurationMs != nil {
		durationMs = *exec.DurationMs
	}

	result, err := s.db.Exec(query,
		exec.Status,
		exec.Attempts,
		errorMessage,
		completedAt,
		durationMs,
		exec.UpdatedAt,
		exec.ID,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update execution")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to check update result")
	}
	if affected == 0 {
		return errors.NewNotFoundError("execution", exec.ID)
	}

	return nil
}

// ListExecutions returns the most recent executions for a tab, newest first.
func (s *ExecutionStore) ListExecutions(tabID string, limit int) ([]*Execution, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT id, tab_id, status, attempts, error_message,
		       started_at, completed_at, duration_ms,
		       created_at, updated_at
		FROM watch_executions
		WHERE tab_id = ?
		ORDER BY started_at DESC
		LIMIT ?
	`

	rows, err := s.db.Query(query, tabID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list executions")
	}
	defer rows.Close()

	var execs []*Execution
	for rows.Next() {
		var exec Execution
		var errorMessage, completedAt sql.NullString
		var durationMs sql.NullInt64

		err := rows.Scan(
			&exec.ID,
			&exec.TabID,
			&exec.Status,
			&exec.Attempts,
			&errorMessage,
			&exec.StartedAt,
			&completedAt,
			&durationMs,
			&exec.CreatedAt,
			&exec.UpdatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan execution")
		}

		if errorMessage.Valid {
			exec.ErrorMessage = &errorMessage.String
		}
		if completedAt.Valid {
			exec.CompletedAt = &completedAt.String
		}
		if durationMs.Valid {
			ms := int(durationMs.Int64)
			exec.DurationMs = &ms
		}

		execs = append(execs, &exec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate executions")
	}

	return execs, nil
}
