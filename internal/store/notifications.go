package store

import (
	"database/sql"
	"encoding/json"
	"time"
)

// Notification is a queued local notification.
type Notification struct {
	ID          string
	ExerciseID  string
	Title       string
	Body        string
	Payload     map[string]string
	FireAt      time.Time
	CreatedAt   time.Time
	DeliveredAt *time.Time
}

// AddNotification enqueues a notification. A second add with the same ID is
// ignored; it reports whether the row was inserted.
func (s *Store) AddNotification(n Notification) (bool, error) {
	payload, err := json.Marshal(n.Payload)
	if err != nil {
		return false, err
	}
	res, err := s.db.Exec(
		`INSERT INTO notifications (id, exercise_id, title, body, payload, fire_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		n.ID, n.ExerciseID, n.Title, n.Body, string(payload), n.FireAt.Unix(), time.Now(),
	)
	if err != nil {
		return false, err
	}
	added, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return added > 0, nil
}

// GetNotification returns a notification by ID, or ErrNotFound.
func (s *Store) GetNotification(id string) (*Notification, error) {
	ns, err := s.queryNotifications(
		`SELECT id, exercise_id, title, body, payload, fire_at, created_at, delivered_at
		 FROM notifications WHERE id = ?`, id,
	)
	if err != nil {
		return nil, err
	}
	if len(ns) == 0 {
		return nil, ErrNotFound
	}
	return &ns[0], nil
}

// DueNotifications returns undelivered notifications whose fire time is at or before now.
func (s *Store) DueNotifications(now time.Time) ([]Notification, error) {
	return s.queryNotifications(
		`SELECT id, exercise_id, title, body, payload, fire_at, created_at, delivered_at
		 FROM notifications WHERE delivered_at IS NULL AND fire_at <= ? ORDER BY fire_at, id`,
		now.Unix(),
	)
}

// CountNotifications returns the number of queued notifications for an exercise.
func (s *Store) CountNotifications(exerciseID string) (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM notifications WHERE exercise_id = ?`, exerciseID).Scan(&count)
	return count, err
}

// MarkNotificationDelivered records delivery time.
func (s *Store) MarkNotificationDelivered(id string) error {
	res, err := s.db.Exec(
		`UPDATE notifications SET delivered_at = ? WHERE id = ? AND delivered_at IS NULL`,
		time.Now(), id,
	)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func (s *Store) queryNotifications(query string, args ...any) ([]Notification, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Notification
	for rows.Next() {
		var (
			n         Notification
			payload   string
			fireAt    int64
			delivered sql.NullTime
		)
		if err := rows.Scan(&n.ID, &n.ExerciseID, &n.Title, &n.Body, &payload, &fireAt, &n.CreatedAt, &delivered); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(payload), &n.Payload); err != nil {
			return nil, err
		}
		n.FireAt = time.Unix(fireAt, 0)
		if delivered.Valid {
			t := delivered.Time
			n.DeliveredAt = &t
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
