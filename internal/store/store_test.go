package store

import (
	"testing"
	"time"

	"github.com/JasonZhangHub/reflectionlab/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testParticipant() *model.Participant {
	alias := "Ada"
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return &model.Participant{
		ID:            7,
		ParticipantID: "PM-007",
		Alias:         &alias,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestSessionLifecycle(t *testing.T) {
	s := newTestStore(t)

	token, err := s.CreateSession(testParticipant())
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if token == "" {
		t.Fatal("expected non-empty token")
	}

	p, err := s.LoadParticipant(token)
	if err != nil {
		t.Fatalf("LoadParticipant: %v", err)
	}
	if p == nil {
		t.Fatal("expected participant, got nil")
	}
	if p.ID != 7 || p.ParticipantID != "PM-007" {
		t.Errorf("unexpected participant: %+v", p)
	}
	if p.Alias == nil || *p.Alias != "Ada" {
		t.Errorf("expected alias Ada, got %v", p.Alias)
	}

	if err := s.ClearSession(token); err != nil {
		t.Fatalf("ClearSession: %v", err)
	}
	p, err = s.LoadParticipant(token)
	if err != nil {
		t.Fatalf("LoadParticipant after clear: %v", err)
	}
	if p != nil {
		t.Error("expected nil participant after clear")
	}
}

func TestLoadUnknownToken(t *testing.T) {
	s := newTestStore(t)

	p, err := s.LoadParticipant("no-such-token")
	if err != nil {
		t.Fatalf("LoadParticipant: %v", err)
	}
	if p != nil {
		t.Error("expected nil participant for unknown token")
	}
}

func TestSaveParticipantReplaces(t *testing.T) {
	s := newTestStore(t)

	token, err := s.CreateSession(testParticipant())
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	updated := testParticipant()
	now := time.Now().UTC()
	updated.ConsentSignedAt = &now
	if err := s.SaveParticipant(token, updated); err != nil {
		t.Fatalf("SaveParticipant: %v", err)
	}

	p, err := s.LoadParticipant(token)
	if err != nil {
		t.Fatalf("LoadParticipant: %v", err)
	}
	if !p.Consented() {
		t.Error("expected stored participant to be consented after save")
	}
}

func TestCorruptRecordTreatedAsAbsent(t *testing.T) {
	s := newTestStore(t)

	token, err := s.CreateSession(testParticipant())
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	// Simulate on-disk corruption of the stored JSON.
	if _, err := s.db.Exec(`UPDATE sessions SET participant = ? WHERE token = ?`, "{not json", token); err != nil {
		t.Fatalf("corrupt record: %v", err)
	}

	p, err := s.LoadParticipant(token)
	if err != nil {
		t.Fatalf("LoadParticipant should not fail on corrupt data: %v", err)
	}
	if p != nil {
		t.Error("expected corrupt record to read as absent")
	}

	// The corrupt session should have been dropped entirely.
	p, _ = s.LoadParticipant(token)
	if p != nil {
		t.Error("expected corrupt session to be removed")
	}
}

func TestExpiredSessionTreatedAsAbsent(t *testing.T) {
	s := newTestStore(t)

	token, err := s.CreateSession(testParticipant())
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if _, err := s.db.Exec(`UPDATE sessions SET expires_at = ? WHERE token = ?`,
		time.Now().Add(-time.Hour), token); err != nil {
		t.Fatalf("expire session: %v", err)
	}

	p, err := s.LoadParticipant(token)
	if err != nil {
		t.Fatalf("LoadParticipant: %v", err)
	}
	if p != nil {
		t.Error("expected expired session to read as absent")
	}
}

func TestCleanupExpiredSessions(t *testing.T) {
	s := newTestStore(t)

	live, _ := s.CreateSession(testParticipant())
	stale, _ := s.CreateSession(testParticipant())
	if _, err := s.db.Exec(`UPDATE sessions SET expires_at = ? WHERE token = ?`,
		time.Now().Add(-time.Hour), stale); err != nil {
		t.Fatalf("expire session: %v", err)
	}

	if err := s.CleanupExpiredSessions(); err != nil {
		t.Fatalf("CleanupExpiredSessions: %v", err)
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM sessions`).Scan(&count); err != nil {
		t.Fatalf("count sessions: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 remaining session, got %d", count)
	}
	if p, _ := s.LoadParticipant(live); p == nil {
		t.Error("live session should survive cleanup")
	}
}
