package models

import (
	"fmt"
	"time"
)

// SubmissionKey builds the ledger idempotency key match_id + participant_id + round.
func SubmissionKey(matchID, participantID, round int) string {
	return fmt.Sprintf("%d:%d:%d", matchID, participantID, round)
}

// ResultSubmission is one side's claim about a match outcome. At most one
// submission per side per submission round; the round only increments when a
// dispute resolution forces resubmission.
type ResultSubmission struct {
	ID               string    `json:"id" db:"id"`
	MatchID          int       `json:"match_id" db:"match_id"`
	ParticipantID    int       `json:"participant_id" db:"participant_id"`
	Side             int       `json:"side" db:"side"`
	Round            int       `json:"round" db:"round"`
	Score            Score     `json:"score" db:"-"`
	DeclaredWinnerID int       `json:"declared_winner_id" db:"declared_winner_id"`
	EvidenceKeys     []string  `json:"evidence_keys,omitempty" db:"evidence_keys"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}

// IdempotencyKey identifies a submission slot: resubmitting the same payload
// for the same slot must not create a second ledger entry.
func (s *ResultSubmission) IdempotencyKey() string {
	return SubmissionKey(s.MatchID, s.ParticipantID, s.Round)
}

// AgreesWith reports exact agreement of score and declared winner, the only
// condition under which a pair of submissions auto-resolves.
func (s *ResultSubmission) AgreesWith(other *ResultSubmission) bool {
	return s.Score == other.Score && s.DeclaredWinnerID == other.DeclaredWinnerID
}
