package store

import (
	"time"
)

// TaskRequest is a pending request to run a registered background task.
type TaskRequest struct {
	ID            string
	EarliestBegin time.Time
	SubmittedAt   time.Time
}

// UpsertTaskRequest stores the pending request for a task, replacing any earlier one.
func (s *Store) UpsertTaskRequest(id string, earliestBegin time.Time) error {
	_, err := s.db.Exec(
		`INSERT INTO task_requests (id, earliest_begin, submitted_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET earliest_begin = excluded.earliest_begin, submitted_at = excluded.submitted_at`,
		id, earliestBegin.Unix(), time.Now(),
	)
	return err
}

// GetTaskRequest returns the pending request for a task, or ErrNotFound.
func (s *Store) GetTaskRequest(id string) (*TaskRequest, error) {
	reqs, err := s.queryTaskRequests(`SELECT id, earliest_begin, submitted_at FROM task_requests WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(reqs) == 0 {
		return nil, ErrNotFound
	}
	return &reqs[0], nil
}

// DueTaskRequests returns requests whose earliest begin date has passed, oldest first.
func (s *Store) DueTaskRequests(now time.Time) ([]TaskRequest, error) {
	return s.queryTaskRequests(
		`SELECT id, earliest_begin, submitted_at FROM task_requests WHERE earliest_begin <= ? ORDER BY earliest_begin, id`,
		now.Unix(),
	)
}

// DeleteTaskRequest removes a pending request.
func (s *Store) DeleteTaskRequest(id string) error {
	_, err := s.db.Exec(`DELETE FROM task_requests WHERE id = ?`, id)
	return err
}

func (s *Store) queryTaskRequests(query string, args ...any) ([]TaskRequest, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TaskRequest
	for rows.Next() {
		var (
			r     TaskRequest
			begin int64
		)
		if err := rows.Scan(&r.ID, &begin, &r.SubmittedAt); err != nil {
			return nil, err
		}
		r.EarliestBegin = time.Unix(begin, 0)
		out = append(out, r)
	}
	return out, rows.Err()
}
