package store

import (
	"database/sql"
	"errors"

	"github.com/pavelanni/reminisce/internal/model"
)

// Setting keys shared with the app's settings screen.
const (
	SettingParticipantID  = "participant_id"
	SettingLanguage       = "selected_language"
	SettingNativeLanguage = "native_language"
)

// SetSetting upserts a key-value pair in the settings table.
func (s *Store) SetSetting(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return err
}

// GetSetting returns the value for a settings key.
// Returns empty string and nil error if the key is missing.
func (s *Store) GetSetting(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

// SetSettings stores all Settings fields.
func (s *Store) SetSettings(st model.Settings) error {
	pairs := []struct{ k, v string }{
		{SettingParticipantID, st.ParticipantID},
		{SettingLanguage, string(st.Language)},
		{SettingNativeLanguage, string(st.NativeLanguage)},
	}
	for _, p := range pairs {
		if p.v == "" {
			continue
		}
		if err := s.SetSetting(p.k, p.v); err != nil {
			return err
		}
	}
	return nil
}

// GetSettings reads a settings snapshot. Missing values and unsupported
// languages fall back to the defaults.
func (s *Store) GetSettings() (model.Settings, error) {
	var st model.Settings
	var err error

	if st.ParticipantID, err = s.GetSetting(SettingParticipantID); err != nil {
		return st, err
	}
	lang, err := s.GetSetting(SettingLanguage)
	if err != nil {
		return st, err
	}
	native, err := s.GetSetting(SettingNativeLanguage)
	if err != nil {
		return st, err
	}

	if st.ParticipantID == "" {
		st.ParticipantID = model.DefaultParticipantID
	}
	st.Language = model.Language(lang)
	if !st.Language.Valid() {
		st.Language = model.DefaultTargetLanguage
	}
	st.NativeLanguage = model.Language(native)
	if !st.NativeLanguage.Valid() {
		st.NativeLanguage = model.DefaultNativeLanguage
	}
	return st, nil
}
