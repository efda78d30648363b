package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/remote-notebook/kernelclient/internal/kernel"
)

// ErrNotFound is returned when no execution matches the given correlation id.
var ErrNotFound = errors.New("execution not found")

// Repository provides data access for recorded executions.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new Repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Close closes the underlying database.
func (r *Repository) Close() error {
	return r.db.Close()
}

// Record inserts the record of one finished execution.
func (r *Repository) Record(ctx context.Context, ex kernel.Execution) error {
	query := `
		INSERT INTO executions (correlation_id, document, kernel_id, code, status, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		ex.CorrelationID,
		ex.Document,
		ex.KernelID,
		ex.Code,
		ex.Status,
		ex.Error,
		ex.StartedAt,
		ex.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record execution: %w", err)
	}

	return nil
}

// GetByID retrieves an execution by its correlation id.
func (r *Repository) GetByID(ctx context.Context, correlationID string) (*kernel.Execution, error) {
	query := `
		SELECT correlation_id, document, kernel_id, code, status, error, started_at, finished_at
		FROM executions
		WHERE correlation_id = ?
	`

	ex := &kernel.Execution{}
	err := r.db.QueryRowContext(ctx, query, correlationID).Scan(
		&ex.CorrelationID,
		&ex.Document,
		&ex.KernelID,
		&ex.Code,
		&ex.Status,
		&ex.Error,
		&ex.StartedAt,
		&ex.FinishedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}

	return ex, nil
}

// ListByDocument retrieves the executions recorded for a document, most
// recently finished first. A limit of zero or less returns all of them.
func (r *Repository) ListByDocument(ctx context.Context, document string, limit int) ([]*kernel.Execution, error) {
	if limit <= 0 {
		// SQLite treats a negative limit as unlimited.
		limit = -1
	}

	query := `
		SELECT correlation_id, document, kernel_id, code, status, error, started_at, finished_at
		FROM executions
		WHERE document = ?
		ORDER BY finished_at DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, query, document, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	var executions []*kernel.Execution
	for rows.Next() {
		ex := &kernel.Execution{}
		err := rows.Scan(
			&ex.CorrelationID,
			&ex.Document,
			&ex.KernelID,
			&ex.Code,
			&ex.Status,
			&ex.Error,
			&ex.StartedAt,
			&ex.FinishedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		executions = append(executions, ex)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return executions, nil
}

// Purge deletes every execution recorded for a document and reports how many
// rows were removed.
func (r *Repository) Purge(ctx context.Context, document string) (int64, error) {
	query := `DELETE FROM executions WHERE document = ?`

	result, err := r.db.ExecContext(ctx, query, document)
	if err != nil {
		return 0, fmt.Errorf("failed to purge executions: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected, nil
}

// Recorder adapts the repository to the session recording hook.
func (r *Repository) Recorder() kernel.Recorder {
	return func(ex kernel.Execution) error {
		return r.Record(context.Background(), ex)
	}
}
