package brackets

import (
	"context"
	"errors"
	"fmt"

	"github.com/clashforge/bracket-engine/config"
	"github.com/clashforge/bracket-engine/models"
)

var (
	ErrNotEnoughParticipants = errors.New("not enough participants to generate a bracket")
	ErrGroupTooSmall         = errors.New("group size below the minimum of 2")
	ErrUnsupportedFormat     = errors.New("unsupported bracket format")
	ErrRoundIncomplete       = errors.New("previous round is not complete")
)

// GenerateBracketParams carries everything a builder strategy needs.
// Participants must arrive in seed order; generation is deterministic for an
// identical seed order. RandSeed feeds any policy that calls for randomness so
// runs stay reproducible and auditable.
type GenerateBracketParams struct {
	Tournament   *models.Tournament
	Participants []*models.Participant
	Rules        *config.Rules
	RandSeed     int64
}

// NodeBlueprint describes one bracket node before it is persisted. Links are
// expressed through UIDs and resolved to stable ids by the bracket service.
type NodeBlueprint struct {
	UID          string
	Side         models.BracketSide
	Round        int
	OrderInRound int

	Participant1ID *int
	Participant2ID *int

	WinnerTargetUID  *string
	WinnerTargetSlot int
	LoserTargetUID   *string
	LoserTargetSlot  int

	IsBye            bool
	ByeParticipantID *int

	Slot1Closed bool
	Slot2Closed bool
}

// MatchBlueprint describes a pre-paired match that advances no bracket node:
// round-robin legs, swiss rounds and group-stage fixtures.
type MatchBlueprint struct {
	UID            string
	Round          int
	OrderInRound   int
	GroupIndex     *int
	Participant1ID int
	Participant2ID int

	// ByeParticipantID marks a sit-out fixture (odd swiss/round-robin field):
	// no match is played, the participant is credited per rules.
	ByeParticipantID *int

	// RepeatPairing flags a swiss pairing that repeats an earlier meeting
	// because no repeat-free pairing existed.
	RepeatPairing bool
}

// GroupBlueprint describes one group-stage pool and its seeded membership.
type GroupBlueprint struct {
	Name           string
	OrderIndex     int
	ParticipantIDs []int
}

// Blueprint is a full generated bracket structure. Elimination formats fill
// Nodes; round-robin, swiss and group stages fill Matches (and Groups).
type Blueprint struct {
	Nodes   []*NodeBlueprint
	Matches []*MatchBlueprint
	Groups  []*GroupBlueprint
}

type BracketGenerator interface {
	GenerateBracket(ctx context.Context, params GenerateBracketParams) (*Blueprint, error)

	GetName() string
}

// ForFormat selects the builder strategy for a format tag.
func ForFormat(format models.BracketFormat) (BracketGenerator, error) {
	switch format {
	case models.FormatSingleElimination:
		return NewSingleEliminationGenerator(), nil
	case models.FormatDoubleElimination:
		return NewDoubleEliminationGenerator(), nil
	case models.FormatRoundRobin:
		return NewRoundRobinGenerator(), nil
	case models.FormatSwiss:
		return NewSwissGenerator(), nil
	case models.FormatGroupThenPlayoff:
		return NewGroupPlayoffGenerator(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}
