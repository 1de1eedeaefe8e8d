package brackets

import (
	"context"
	"fmt"

	"github.com/clashforge/bracket-engine/models"
)

type GroupPlayoffGenerator struct{}

func NewGroupPlayoffGenerator() BracketGenerator {
	return &GroupPlayoffGenerator{}
}

func (g *GroupPlayoffGenerator) GetName() string {
	return "GroupThenPlayoff"
}

// GenerateBracket partitions the seeded field into the configured number of
// groups with a snake distribution, then schedules a round-robin inside every
// group. The playoff stage is built separately once the standings engine has
// finalized the group cutoffs; see BuildPlayoff.
func (g *GroupPlayoffGenerator) GenerateBracket(ctx context.Context, params GenerateBracketParams) (*Blueprint, error) {
	n := len(params.Participants)
	if params.Rules == nil || params.Rules.GroupCount < 1 {
		return nil, fmt.Errorf("%w: group stage requires a configured group count", ErrGroupTooSmall)
	}
	groupCount := params.Rules.GroupCount
	if n < groupCount*2 {
		return nil, fmt.Errorf("%w: %d participants cannot fill %d groups of at least 2", ErrGroupTooSmall, n, groupCount)
	}

	members := snakeDistribute(params.Participants, groupCount)

	blueprint := &Blueprint{}
	for gi, ids := range members {
		index := gi
		blueprint.Groups = append(blueprint.Groups, &GroupBlueprint{
			Name:           fmt.Sprintf("Group %c", 'A'+gi),
			OrderIndex:     gi,
			ParticipantIDs: ids,
		})
		prefix := fmt.Sprintf("G%d", gi+1)
		blueprint.Matches = append(blueprint.Matches,
			roundRobinMatches(ids, params.Rules.DoubleRoundRobin, prefix, &index)...)
	}
	return blueprint, nil
}

// BuildPlayoff constructs the elimination stage from the advancing
// participants, already ordered by group rank then group index so group
// winners are seeded apart.
func BuildPlayoff(advancing []*models.Participant) (*Blueprint, error) {
	if len(advancing) < 2 {
		return nil, fmt.Errorf("%w: playoff needs at least 2 advancing participants, got %d", ErrNotEnoughParticipants, len(advancing))
	}
	rounds := buildEliminationRounds(advancing, models.SideWinners, "P")
	return &Blueprint{Nodes: flattenRounds(rounds)}, nil
}

// snakeDistribute deals seeds into groups serpentine-style (1..k, then k..1)
// so group strength stays balanced.
func snakeDistribute(participants []*models.Participant, groupCount int) [][]int {
	members := make([][]int, groupCount)
	forward := true
	gi := 0
	for _, p := range participants {
		members[gi] = append(members[gi], p.ID)
		if forward {
			if gi == groupCount-1 {
				forward = false
			} else {
				gi++
			}
		} else {
			if gi == 0 {
				forward = true
			} else {
				gi--
			}
		}
	}
	return members
}
