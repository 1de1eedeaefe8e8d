package models

import "time"

// Group is one round-robin pool of a group stage.
// StatFields fixes the standing stat-bag keys at group creation time.
type Group struct {
	ID           int       `json:"id" db:"id"`
	TournamentID int       `json:"tournament_id" db:"tournament_id"`
	Name         string    `json:"name" db:"name"`
	OrderIndex   int       `json:"order_index" db:"order_index"`
	StatFields   []string  `json:"stat_fields" db:"stat_fields"`
	Finalized    bool      `json:"finalized" db:"finalized"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// GroupStanding is one participant's row in a group table. Stats is the open
// stat bag keyed by the config-declared fields, fixed at group creation; the
// field names are data, not code.
type GroupStanding struct {
	ID            int            `json:"id" db:"id"`
	GroupID       int            `json:"group_id" db:"group_id"`
	ParticipantID int            `json:"participant_id" db:"participant_id"`
	Played        int            `json:"played" db:"played"`
	Wins          int            `json:"wins" db:"wins"`
	Draws         int            `json:"draws" db:"draws"`
	Losses        int            `json:"losses" db:"losses"`
	Points        int            `json:"points" db:"points"`
	Stats         map[string]int `json:"stats" db:"-"`
	Rank          *int           `json:"rank,omitempty" db:"rank"`
	Advancing     bool           `json:"advancing" db:"advancing"`
	UpdatedAt     time.Time      `json:"updated_at" db:"updated_at"`

	// Stable fallback order; resolved from the participant at load time.
	RegistrationOrder int `json:"-" db:"-"`
}

// Stat returns a stat-bag value and whether the field is declared for the row.
func (s *GroupStanding) Stat(field string) (int, bool) {
	v, ok := s.Stats[field]
	return v, ok
}
