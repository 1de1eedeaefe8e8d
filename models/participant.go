package models

import "time"

// Participant is a solo player or a team registered into a tournament.
// Exactly one of UserID/TeamID is set. Seed is the 1-based seeding position;
// RegistrationOrder is the stable fallback order for standings ties.
type Participant struct {
	ID                int       `json:"id" db:"id"`
	TournamentID      int       `json:"tournament_id" db:"tournament_id"`
	UserID            *int      `json:"user_id,omitempty" db:"user_id"`
	TeamID            *int      `json:"team_id,omitempty" db:"team_id"`
	DisplayName       string    `json:"display_name" db:"display_name"`
	Seed              int       `json:"seed" db:"seed"`
	RegistrationOrder int       `json:"registration_order" db:"registration_order"`
	GroupID           *int      `json:"group_id,omitempty" db:"group_id"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
}
