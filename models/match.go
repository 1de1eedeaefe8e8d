package models

import (
	"fmt"
	"time"
)

// MatchState is the lifecycle state of a single match, matching the ENUM in the DB.
type MatchState string

const (
	MatchScheduled     MatchState = "scheduled"
	MatchCheckedIn     MatchState = "checked_in"
	MatchLive          MatchState = "live"
	MatchPendingResult MatchState = "pending_result"
	MatchResolved      MatchState = "resolved"
	MatchDisputed      MatchState = "disputed"
	MatchCompleted     MatchState = "completed"
	MatchForfeited     MatchState = "forfeited"
	MatchCancelled     MatchState = "cancelled"
)

// Terminal reports whether no further transitions are allowed from the state.
func (s MatchState) Terminal() bool {
	return s == MatchCompleted || s == MatchForfeited || s == MatchCancelled
}

// Score is a canonical match score, side A first. Rendered as "a-b".
type Score struct {
	A int `json:"a"`
	B int `json:"b"`
}

func (s Score) String() string {
	return fmt.Sprintf("%d-%d", s.A, s.B)
}

// ParseScore parses the canonical "a-b" rendering.
func ParseScore(raw string) (Score, error) {
	var s Score
	if _, err := fmt.Sscanf(raw, "%d-%d", &s.A, &s.B); err != nil {
		return Score{}, fmt.Errorf("invalid score %q: %w", raw, err)
	}
	if s.A < 0 || s.B < 0 {
		return Score{}, fmt.Errorf("invalid score %q: negative component", raw)
	}
	return s, nil
}

// Match holds two participant references and the canonical outcome.
// A match row is created once both feeding slots of its bracket node are filled
// (or immediately for group/round-robin play). Version guards optimistic writes.
type Match struct {
	ID           int        `json:"id" db:"id"`
	TournamentID int        `json:"tournament_id" db:"tournament_id"`
	NodeID       *int       `json:"node_id,omitempty" db:"node_id"`
	GroupID      *int       `json:"group_id,omitempty" db:"group_id"`
	Round        int        `json:"round" db:"round"`
	P1ID         *int       `json:"p1_id,omitempty" db:"p1_id"`
	P2ID         *int       `json:"p2_id,omitempty" db:"p2_id"`
	State        MatchState `json:"state" db:"state"`
	Score        *Score     `json:"score,omitempty" db:"-"`
	WinnerID     *int       `json:"winner_id,omitempty" db:"winner_id"`

	// SubmissionRound increments only when a dispute resolution forces resubmission.
	SubmissionRound int `json:"submission_round" db:"submission_round"`

	P1CheckedIn bool `json:"p1_checked_in" db:"p1_checked_in"`
	P2CheckedIn bool `json:"p2_checked_in" db:"p2_checked_in"`

	Version         int        `json:"version" db:"version"`
	ScheduledAt     time.Time  `json:"scheduled_at" db:"scheduled_at"`
	CheckInDeadline *time.Time `json:"check_in_deadline,omitempty" db:"check_in_deadline"`
	StartedAt       *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
}

// SideOf returns 1 or 2 for a participant playing in the match, 0 otherwise.
func (m *Match) SideOf(participantID int) int {
	if m.P1ID != nil && *m.P1ID == participantID {
		return 1
	}
	if m.P2ID != nil && *m.P2ID == participantID {
		return 2
	}
	return 0
}

// LoserID derives the loser from the canonical winner. Nil until resolved,
// and nil for draws.
func (m *Match) LoserID() *int {
	if m.WinnerID == nil || m.P1ID == nil || m.P2ID == nil {
		return nil
	}
	if *m.WinnerID == *m.P1ID {
		return m.P2ID
	}
	if *m.WinnerID == *m.P2ID {
		return m.P1ID
	}
	return nil
}

// TransitionRecord is one entry of the per-match transition log. PayloadHash
// dedupes retried transitions: an identical (match, target state, payload)
// replay is detected and produces no second effect.
type TransitionRecord struct {
	ID          string     `json:"id" db:"id"`
	MatchID     int        `json:"match_id" db:"match_id"`
	FromState   MatchState `json:"from_state" db:"from_state"`
	ToState     MatchState `json:"to_state" db:"to_state"`
	PayloadHash string     `json:"payload_hash" db:"payload_hash"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
}
