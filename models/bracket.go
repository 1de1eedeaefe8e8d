package models

import "time"

// BracketSide distinguishes the trees of a double-elimination bracket.
// Single-elimination and playoff brackets use only SideWinners.
type BracketSide string

const (
	SideWinners    BracketSide = "winners"
	SideLosers     BracketSide = "losers"
	SideGrandFinal BracketSide = "grand_final"
)

// BracketNode is one slot of the bracket graph. Nodes are created once at
// build time and never deleted; completed tournaments archive them in place.
// All links are stable ids into the same arena, never live references, so the
// structure survives serialization and concurrent workers.
type BracketNode struct {
	ID           int         `json:"id" db:"id"`
	TournamentID int         `json:"tournament_id" db:"tournament_id"`
	Side         BracketSide `json:"side" db:"side"`
	Round        int         `json:"round" db:"round"`
	OrderInRound int         `json:"order_in_round" db:"order_in_round"`

	// Input slots. Filled at build time for round one, otherwise by the
	// advancement coordinator as feeder matches complete.
	Slot1ParticipantID *int `json:"slot1_participant_id,omitempty" db:"slot1_participant_id"`
	Slot2ParticipantID *int `json:"slot2_participant_id,omitempty" db:"slot2_participant_id"`

	// Winner routing: the node and slot the winner advances into.
	NextNodeID *int `json:"next_node_id,omitempty" db:"next_node_id"`
	NextSlot   *int `json:"next_slot,omitempty" db:"next_slot"`

	// Loser routing into the losers bracket, pre-computed for double elimination.
	LoserNextNodeID *int `json:"loser_next_node_id,omitempty" db:"loser_next_node_id"`
	LoserNextSlot   *int `json:"loser_next_slot,omitempty" db:"loser_next_slot"`

	MatchID *int `json:"match_id,omitempty" db:"match_id"`

	IsBye            bool `json:"is_bye" db:"is_bye"`
	ByeParticipantID *int `json:"bye_participant_id,omitempty" db:"bye_participant_id"`

	// A closed slot will never be filled because its feeder was a bye and
	// produced no loser. A node with exactly one closed slot is a walkover.
	Slot1Closed bool `json:"slot1_closed" db:"slot1_closed"`
	Slot2Closed bool `json:"slot2_closed" db:"slot2_closed"`

	Archived  bool      `json:"archived" db:"archived"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Ready reports whether both input slots are filled and a match can be created.
func (n *BracketNode) Ready() bool {
	return !n.IsBye && n.Slot1ParticipantID != nil && n.Slot2ParticipantID != nil
}

// Walkover reports whether the node can never host a real match: exactly one
// slot is closed, so whoever fills the open slot advances unplayed.
func (n *BracketNode) Walkover() bool {
	return n.Slot1Closed != n.Slot2Closed
}

// Void reports whether both slots are closed and the node routes nothing.
func (n *BracketNode) Void() bool {
	return n.Slot1Closed && n.Slot2Closed
}

// IsRoot reports whether the node has no further winner routing, i.e. its
// resolution decides the bracket.
func (n *BracketNode) IsRoot() bool {
	return n.NextNodeID == nil
}
