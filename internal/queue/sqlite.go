package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/TobiSchelling/contentpilot/internal/database"
)

// SQLiteStore keeps tasks in the tasks table.
type SQLiteStore struct {
	db *database.DB
}

// NewSQLiteStore creates a store over db.
func NewSQLiteStore(db *database.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

type taskPayload struct {
	OpportunityID int64 `json:"opportunity_id,omitempty"`
}

func (s *SQLiteStore) Push(_ context.Context, t Task) error {
	payload, err := json.Marshal(taskPayload{OpportunityID: t.OpportunityID})
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}
	return s.db.InsertTask(database.TaskRecord{
		ID:       t.ID,
		Kind:     string(t.Kind),
		Payload:  string(payload),
		RunAt:    t.RunAt,
		Attempts: t.Attempts,
	})
}

func (s *SQLiteStore) ClaimDue(_ context.Context, now time.Time, n int) ([]Task, error) {
	records, err := s.db.ClaimDueTasks(now.UTC(), n)
	if err != nil {
		return nil, fmt.Errorf("claiming tasks: %w", err)
	}
	tasks := make([]Task, 0, len(records))
	for _, r := range records {
		tasks = append(tasks, fromRecord(r))
	}
	return tasks, nil
}

func (s *SQLiteStore) Complete(_ context.Context, t Task) error {
	return s.db.CompleteTask(t.ID)
}

func (s *SQLiteStore) Retry(_ context.Context, t Task, runAt time.Time, cause error) error {
	return s.db.RetryTask(t.ID, runAt.UTC(), t.Attempts, errString(cause))
}

func (s *SQLiteStore) Bury(_ context.Context, t Task, cause error) error {
	return s.db.BuryTask(t.ID, t.Attempts, errString(cause))
}

// Recover requeues tasks a crashed process left running.
func (s *SQLiteStore) Recover() (int, error) {
	return s.db.ResetRunningTasks()
}

func fromRecord(r database.TaskRecord) Task {
	var p taskPayload
	if r.Payload != "" {
		json.Unmarshal([]byte(r.Payload), &p)
	}
	return Task{
		ID:            r.ID,
		Kind:          Kind(r.Kind),
		OpportunityID: p.OpportunityID,
		RunAt:         r.RunAt,
		Attempts:      r.Attempts,
		LastError:     r.LastError,
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
