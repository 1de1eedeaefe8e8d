package events

import (
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/clashforge/bracket-engine/models"
)

// Event types consumed by the external ranking, economy/prize and
// notification collaborators.
const (
	TypeMatchCompleted   = "match.completed"
	TypeDisputeOpened    = "dispute.opened"
	TypeDisputeResolved  = "dispute.resolved"
	TypeStandingsUpdated = "group.standings_updated"
	TypeTournamentDone   = "tournament.completed"
)

type MatchCompleted struct {
	MatchID  int     `json:"match_id"`
	WinnerID *int    `json:"winner_id,omitempty"`
	LoserID  *int    `json:"loser_id,omitempty"`
	Score    *string `json:"score,omitempty"`
}

type DisputeOpened struct {
	MatchID   int    `json:"match_id"`
	DisputeID string `json:"dispute_id"`
}

type DisputeResolved struct {
	DisputeID  string               `json:"dispute_id"`
	Resolution models.ArbiterAction `json:"resolution"`
}

type StandingsUpdated struct {
	GroupID   int                    `json:"group_id"`
	Standings []models.GroupStanding `json:"standings_snapshot"`
}

type TournamentCompleted struct {
	TournamentID   int                    `json:"tournament_id"`
	FinalStandings []models.GroupStanding `json:"final_standings,omitempty"`
	WinnerID       *int                   `json:"winner_id,omitempty"`
}

// Envelope is the wire form of one emitted event.
type Envelope struct {
	Type         string      `json:"type"`
	TournamentID int         `json:"tournament_id"`
	Payload      interface{} `json:"payload"`
	EmittedAt    time.Time   `json:"emitted_at"`
}

// Publisher is the outbound side of the engine. Services emit after commit;
// implementations must not block the caller on delivery.
type Publisher interface {
	Publish(tournamentID int, eventType string, payload interface{})
}

// NopPublisher drops every event. Useful default when no consumer is wired.
type NopPublisher struct{}

func (NopPublisher) Publish(int, string, interface{}) {}

// HubPublisher marshals events and broadcasts them to the websocket hub room
// of the owning tournament.
type HubPublisher struct {
	hub    *Hub
	logger *slog.Logger
}

func NewHubPublisher(hub *Hub, logger *slog.Logger) *HubPublisher {
	return &HubPublisher{hub: hub, logger: logger}
}

func (p *HubPublisher) Publish(tournamentID int, eventType string, payload interface{}) {
	env := Envelope{
		Type:         eventType,
		TournamentID: tournamentID,
		Payload:      payload,
		EmittedAt:    time.Now(),
	}
	data, err := json.Marshal(env)
	if err != nil {
		p.logger.Error("failed to marshal event",
			slog.String("type", eventType),
			slog.Int("tournament_id", tournamentID),
			slog.Any("error", err))
		return
	}
	p.hub.BroadcastToRoom(strconv.Itoa(tournamentID), data)
}
