package database

import (
	"database/sql"
	"fmt"
	"time"
)

const taskColumns = "id, kind, payload, run_at, attempts, last_error, status, created_at"

// InsertTask queues a task.
func (db *DB) InsertTask(t TaskRecord) error {
	_, err := db.conn.Exec(
		"INSERT INTO tasks (id, kind, payload, run_at, attempts, status) VALUES (?, ?, ?, ?, ?, 'queued')",
		t.ID, t.Kind, nullString(t.Payload), formatTime(t.RunAt), t.Attempts,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("task %s: %w", t.ID, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("inserting task: %w", err)
	}
	return nil
}

// ClaimDueTasks marks up to limit queued tasks with run_at <= now as running
// and returns them. A task is only ever handed to one caller.
func (db *DB) ClaimDueTasks(now time.Time, limit int) ([]TaskRecord, error) {
	var claimed []TaskRecord
	err := db.withTx(func(tx *sql.Tx) error {
		rows, err := tx.Query(
			"SELECT "+taskColumns+" FROM tasks WHERE status = 'queued' AND run_at <= ? ORDER BY run_at LIMIT ?",
			formatTime(now), limit,
		)
		if err != nil {
			return err
		}
		due, err := scanTasks(rows)
		if err != nil {
			return err
		}

		for _, t := range due {
			res, err := tx.Exec(
				"UPDATE tasks SET status = 'running', updated_at = ? WHERE id = ? AND status = 'queued'",
				formatTime(now), t.ID,
			)
			if err != nil {
				return fmt.Errorf("claiming task %s: %w", t.ID, err)
			}
			if n, _ := res.RowsAffected(); n == 1 {
				t.Status = "running"
				claimed = append(claimed, t)
			}
		}
		return nil
	})
	return claimed, err
}

// CompleteTask marks a task done.
func (db *DB) CompleteTask(id string) error {
	return db.setTaskState(id, "done", nil, nil, "")
}

// RetryTask puts a failed task back in the queue at runAt.
func (db *DB) RetryTask(id string, runAt time.Time, attempts int, lastErr string) error {
	return db.setTaskState(id, "queued", &runAt, &attempts, lastErr)
}

// BuryTask marks a task dead after its final failed attempt.
func (db *DB) BuryTask(id string, attempts int, lastErr string) error {
	return db.setTaskState(id, "dead", nil, &attempts, lastErr)
}

// ResetRunningTasks requeues tasks left running by a previous process.
func (db *DB) ResetRunningTasks() (int, error) {
	res, err := db.conn.Exec("UPDATE tasks SET status = 'queued', updated_at = datetime('now') WHERE status = 'running'")
	if err != nil {
		return 0, fmt.Errorf("resetting running tasks: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// GetTask returns a task by ID, or nil if absent.
func (db *DB) GetTask(id string) (*TaskRecord, error) {
	rows, err := db.conn.Query("SELECT "+taskColumns+" FROM tasks WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	tasks, err := scanTasks(rows)
	if err != nil || len(tasks) == 0 {
		return nil, err
	}
	return &tasks[0], nil
}

// ListTasks returns tasks in a status ordered by run time. An empty status
// returns every task.
func (db *DB) ListTasks(status string, limit int) ([]TaskRecord, error) {
	query := "SELECT " + taskColumns + " FROM tasks"
	var args []any
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}
	query += " ORDER BY run_at LIMIT ?"
	args = append(args, limit)

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	return scanTasks(rows)
}

func (db *DB) setTaskState(id, status string, runAt *time.Time, attempts *int, lastErr string) error {
	query := "UPDATE tasks SET status = ?, last_error = ?, updated_at = datetime('now')"
	args := []any{status, nullString(lastErr)}
	if runAt != nil {
		query += ", run_at = ?"
		args = append(args, formatTime(*runAt))
	}
	if attempts != nil {
		query += ", attempts = ?"
		args = append(args, *attempts)
	}
	query += " WHERE id = ?"
	args = append(args, id)

	res, err := db.conn.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("updating task %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return nil
}

func scanTasks(rows *sql.Rows) ([]TaskRecord, error) {
	defer rows.Close()
	var tasks []TaskRecord
	for rows.Next() {
		var t TaskRecord
		var payload, lastErr *string
		var runAt, created string
		if err := rows.Scan(&t.ID, &t.Kind, &payload, &runAt, &t.Attempts, &lastErr, &t.Status, &created); err != nil {
			return nil, err
		}
		t.Payload = deref(payload)
		t.LastError = deref(lastErr)
		t.RunAt = parseTime(runAt)
		t.CreatedAt = parseTime(created)
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}
