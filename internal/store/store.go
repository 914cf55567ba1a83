package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pavelanni/reminisce/internal/model"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a keyed record does not exist.
var ErrNotFound = errors.New("not found")

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_time_format=sqlite")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent and serializes writers.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS exercises (
		id TEXT PRIMARY KEY,
		participant_id TEXT NOT NULL,
		remote_url TEXT,
		local_path TEXT,
		photo_date DATETIME NOT NULL,
		window_days INTEGER NOT NULL,
		language TEXT NOT NULL,
		problem_type TEXT NOT NULL,
		question_text TEXT NOT NULL,
		correct_answers TEXT NOT NULL DEFAULT '[]',
		options TEXT NOT NULL DEFAULT '[]',
		blank_positions TEXT,
		explanation TEXT,
		difficulty INTEGER NOT NULL DEFAULT 1,
		tags TEXT NOT NULL DEFAULT '[]',
		generated_by TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		completed_at DATETIME,
		user_answer TEXT,
		is_correct INTEGER,
		notified INTEGER NOT NULL DEFAULT 0,
		CHECK ((remote_url IS NULL) <> (local_path IS NULL))
	);

	CREATE INDEX IF NOT EXISTS idx_exercises_participant
		ON exercises (participant_id, created_at DESC);

	CREATE TABLE IF NOT EXISTS user_profiles (
		participant_id TEXT PRIMARY KEY,
		consent_given INTEGER NOT NULL DEFAULT 0,
		preferred_problem_types TEXT NOT NULL DEFAULT '[]',
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS notifications (
		id TEXT PRIMARY KEY,
		exercise_id TEXT NOT NULL,
		title TEXT NOT NULL,
		body TEXT NOT NULL,
		payload TEXT NOT NULL DEFAULT '{}',
		fire_at INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		delivered_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS task_requests (
		id TEXT PRIMARY KEY,
		earliest_begin INTEGER NOT NULL,
		submitted_at DATETIME NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

const exerciseColumns = `id, participant_id, remote_url, local_path, photo_date, window_days, language,
	problem_type, question_text, correct_answers, options, blank_positions, explanation, difficulty,
	tags, generated_by, created_at, completed_at, user_answer, is_correct, notified`

// SaveExercise inserts an exercise. The row becomes visible in a single statement.
func (s *Store) SaveExercise(e model.Exercise) error {
	if !e.Image.Valid() {
		return fmt.Errorf("exercise %s: exactly one of remote url and local path must be set", e.ID)
	}
	answers, err := json.Marshal(nonNil(e.CorrectAnswers))
	if err != nil {
		return err
	}
	options, err := json.Marshal(nonNil(e.Options))
	if err != nil {
		return err
	}
	tags, err := json.Marshal(nonNil(e.Tags))
	if err != nil {
		return err
	}
	var blanks sql.NullString
	if e.BlankPositions != nil {
		b, err := json.Marshal(e.BlankPositions)
		if err != nil {
			return err
		}
		blanks = sql.NullString{String: string(b), Valid: true}
	}
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = s.db.Exec(
		`INSERT INTO exercises (`+exerciseColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, NULL, NULL, ?)`,
		e.ID, e.ParticipantID, nullString(e.Image.RemoteURL), nullString(e.Image.LocalPath),
		e.PhotoDate, e.Window.Days(), e.Language, e.ProblemType, e.QuestionText,
		string(answers), string(options), blanks, nullString(e.Explanation), e.Difficulty,
		string(tags), e.GeneratedBy, createdAt, e.Notified,
	)
	return err
}

// GetExercise returns an exercise by ID, or ErrNotFound.
func (s *Store) GetExercise(id string) (*model.Exercise, error) {
	row := s.db.QueryRow(`SELECT `+exerciseColumns+` FROM exercises WHERE id = ?`, id)
	e, err := scanExercise(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return e, err
}

// ListExercises returns a participant's most recent exercises, newest first.
// A non-positive limit returns all of them.
func (s *Store) ListExercises(participantID string, limit int) ([]model.Exercise, error) {
	query := `SELECT ` + exerciseColumns + ` FROM exercises WHERE participant_id = ? ORDER BY created_at DESC, id`
	args := []any{participantID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryExercises(query, args...)
}

// ListAllExercises returns every exercise, newest first.
func (s *Store) ListAllExercises() ([]model.Exercise, error) {
	return s.queryExercises(`SELECT ` + exerciseColumns + ` FROM exercises ORDER BY created_at DESC, id`)
}

// ListUnnotified returns the participant's recent exercises whose notification has not been scheduled.
func (s *Store) ListUnnotified(participantID string, limit int) ([]model.Exercise, error) {
	exercises, err := s.ListExercises(participantID, limit)
	if err != nil {
		return nil, err
	}
	var out []model.Exercise
	for _, e := range exercises {
		if !e.Notified {
			out = append(out, e)
		}
	}
	return out, nil
}

// MarkNotified sets the notified flag. The flag never transitions back.
func (s *Store) MarkNotified(id string) error {
	res, err := s.db.Exec(`UPDATE exercises SET notified = 1 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return expectOne(res)
}

// RecordAnswer stores the user's answer and its correctness.
func (s *Store) RecordAnswer(id, answer string, correct bool) error {
	res, err := s.db.Exec(
		`UPDATE exercises SET user_answer = ?, is_correct = ?, completed_at = ? WHERE id = ?`,
		answer, correct, time.Now(), id,
	)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func (s *Store) queryExercises(query string, args ...any) ([]model.Exercise, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var exercises []model.Exercise
	for rows.Next() {
		e, err := scanExercise(rows)
		if err != nil {
			return nil, err
		}
		exercises = append(exercises, *e)
	}
	return exercises, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanExercise(sc scanner) (*model.Exercise, error) {
	var (
		e                           model.Exercise
		remoteURL, localPath        sql.NullString
		blanks, explanation, answer sql.NullString
		answers, options, tags      string
		windowDays                  int
		completedAt                 sql.NullTime
		isCorrect                   sql.NullBool
	)
	err := sc.Scan(
		&e.ID, &e.ParticipantID, &remoteURL, &localPath, &e.PhotoDate, &windowDays, &e.Language,
		&e.ProblemType, &e.QuestionText, &answers, &options, &blanks, &explanation, &e.Difficulty,
		&tags, &e.GeneratedBy, &e.CreatedAt, &completedAt, &answer, &isCorrect, &e.Notified,
	)
	if err != nil {
		return nil, err
	}
	e.Image = model.ImageRef{RemoteURL: remoteURL.String, LocalPath: localPath.String}
	e.Window = model.LookbackWindow(windowDays)
	e.Explanation = explanation.String
	if err := json.Unmarshal([]byte(answers), &e.CorrectAnswers); err != nil {
		return nil, fmt.Errorf("decode correct_answers for %s: %w", e.ID, err)
	}
	if err := json.Unmarshal([]byte(options), &e.Options); err != nil {
		return nil, fmt.Errorf("decode options for %s: %w", e.ID, err)
	}
	if err := json.Unmarshal([]byte(tags), &e.Tags); err != nil {
		return nil, fmt.Errorf("decode tags for %s: %w", e.ID, err)
	}
	if blanks.Valid {
		if err := json.Unmarshal([]byte(blanks.String), &e.BlankPositions); err != nil {
			return nil, fmt.Errorf("decode blank_positions for %s: %w", e.ID, err)
		}
	}
	if completedAt.Valid {
		t := completedAt.Time
		e.CompletedAt = &t
	}
	if answer.Valid {
		a := answer.String
		e.UserAnswer = &a
	}
	if isCorrect.Valid {
		c := isCorrect.Bool
		e.IsCorrect = &c
	}
	return &e, nil
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
