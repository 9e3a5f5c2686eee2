package store

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/JasonZhangHub/reflectionlab/internal/model"
)

const sessionTTL = 7 * 24 * time.Hour

// CreateSession persists the participant under a fresh session token and
// returns the token for the cookie.
func (s *Store) CreateSession(p *model.Participant) (string, error) {
	token, err := generateToken()
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode participant: %w", err)
	}
	now := time.Now()
	_, err = s.db.Exec(
		`INSERT INTO sessions (token, participant, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		token, string(data), now, now.Add(sessionTTL),
	)
	if err != nil {
		return "", err
	}
	return token, nil
}

// SaveParticipant replaces the participant stored under an existing session,
// keeping the token and expiry. Used after consent updates the record.
func (s *Store) SaveParticipant(token string, p *model.Participant) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode participant: %w", err)
	}
	_, err = s.db.Exec(`UPDATE sessions SET participant = ? WHERE token = ?`, string(data), token)
	return err
}

// LoadParticipant returns the participant for a session token, or nil when
// the session is absent, expired, or holds corrupt data. A corrupt record is
// treated as "signed out", never as an error.
func (s *Store) LoadParticipant(token string) (*model.Participant, error) {
	var raw string
	var expiresAt time.Time
	err := s.db.QueryRow(
		`SELECT participant, expires_at FROM sessions WHERE token = ?`, token,
	).Scan(&raw, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if time.Now().After(expiresAt) {
		_ = s.ClearSession(token)
		return nil, nil
	}

	var p model.Participant
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		slog.Warn("discarding corrupt session record", "error", err)
		_ = s.ClearSession(token)
		return nil, nil
	}
	return &p, nil
}

// ClearSession removes a session token.
func (s *Store) ClearSession(token string) error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE token = ?`, token)
	return err
}

// CleanupExpiredSessions removes all expired sessions.
func (s *Store) CleanupExpiredSessions() error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE expires_at < ?`, time.Now())
	return err
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
