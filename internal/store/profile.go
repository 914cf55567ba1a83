package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pavelanni/reminisce/internal/model"
)

// UpsertProfile creates or replaces a participant's profile.
func (s *Store) UpsertProfile(p model.UserProfile) error {
	types, err := json.Marshal(nonNil(p.PreferredProblemTypes))
	if err != nil {
		return err
	}
	now := time.Now()
	_, err = s.db.Exec(
		`INSERT INTO user_profiles (participant_id, consent_given, preferred_problem_types, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(participant_id) DO UPDATE SET
			consent_given = excluded.consent_given,
			preferred_problem_types = excluded.preferred_problem_types,
			updated_at = excluded.updated_at`,
		p.ParticipantID, p.ConsentGiven, string(types), now,
	)
	if err != nil {
		slog.Error("failed to upsert profile", "participant_id", p.ParticipantID, "error", err)
		return err
	}
	slog.Info("upserted profile", "participant_id", p.ParticipantID, "consent", p.ConsentGiven)
	return nil
}

// GetProfile returns a participant's profile, or nil if none is stored.
func (s *Store) GetProfile(participantID string) (*model.UserProfile, error) {
	var (
		p     model.UserProfile
		types string
	)
	err := s.db.QueryRow(
		`SELECT participant_id, consent_given, preferred_problem_types, updated_at
		 FROM user_profiles WHERE participant_id = ?`, participantID,
	).Scan(&p.ParticipantID, &p.ConsentGiven, &types, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(types), &p.PreferredProblemTypes); err != nil {
		return nil, fmt.Errorf("decode preferred_problem_types: %w", err)
	}
	return &p, nil
}
