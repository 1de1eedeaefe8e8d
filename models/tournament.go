package models

import "time"

// TournamentStatus represents tournament lifecycle statuses, matching the ENUM in the DB.
type TournamentStatus string

const (
	StatusSoon         TournamentStatus = "soon"
	StatusRegistration TournamentStatus = "registration"
	StatusActive       TournamentStatus = "active"
	StatusCompleted    TournamentStatus = "completed"
	StatusCanceled     TournamentStatus = "canceled"
)

// BracketFormat is the tagged format selector. One builder strategy exists per tag.
type BracketFormat string

const (
	FormatSingleElimination BracketFormat = "single_elim"
	FormatDoubleElimination BracketFormat = "double_elim"
	FormatRoundRobin        BracketFormat = "round_robin"
	FormatSwiss             BracketFormat = "swiss"
	FormatGroupThenPlayoff  BracketFormat = "group_then_playoff"
)

func (f BracketFormat) Valid() bool {
	switch f {
	case FormatSingleElimination, FormatDoubleElimination, FormatRoundRobin, FormatSwiss, FormatGroupThenPlayoff:
		return true
	}
	return false
}

// Tournament is the root entity the engine operates on. RulesJSON carries the
// per-tournament rules document supplied by the configuration collaborator.
type Tournament struct {
	ID        int              `json:"id" db:"id"`
	Name      string           `json:"name" db:"name"`
	Format    BracketFormat    `json:"format" db:"format"`
	RulesJSON *string          `json:"-" db:"rules_json"`
	Status    TournamentStatus `json:"status" db:"status"`
	Version   int              `json:"version" db:"version"`
	StartDate time.Time        `json:"start_date" db:"start_date"`
	CreatedAt time.Time        `json:"created_at" db:"created_at"`

	// Optional linked entities, populated by services.
	Participants []Participant `json:"participants,omitempty" db:"-"`
	Nodes        []BracketNode `json:"nodes,omitempty" db:"-"`
	Matches      []Match       `json:"matches,omitempty" db:"-"`
	Groups       []Group       `json:"groups,omitempty" db:"-"`
}
