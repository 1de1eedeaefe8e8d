package brackets

import (
	"context"
	"fmt"
	"math/bits"

	"github.com/clashforge/bracket-engine/models"
)

type SingleEliminationGenerator struct{}

func NewSingleEliminationGenerator() BracketGenerator {
	return &SingleEliminationGenerator{}
}

func (g *SingleEliminationGenerator) GetName() string {
	return "SingleElimination"
}

func (g *SingleEliminationGenerator) GenerateBracket(ctx context.Context, params GenerateBracketParams) (*Blueprint, error) {
	n := len(params.Participants)
	if n < 2 {
		return nil, fmt.Errorf("%w: single elimination needs at least 2, got %d", ErrNotEnoughParticipants, n)
	}

	rounds := buildEliminationRounds(params.Participants, models.SideWinners, "")
	return &Blueprint{Nodes: flattenRounds(rounds)}, nil
}

// seedPositions returns the classic seeded bracket order for a full bracket of
// the given power-of-two size: for 8 it yields 1,8,4,5,2,7,3,6 so that seeds 1
// and 2 can only meet in the final.
func seedPositions(size int) []int {
	positions := []int{1}
	for len(positions) < size {
		mirror := len(positions)*2 + 1
		next := make([]int, 0, len(positions)*2)
		for _, p := range positions {
			next = append(next, p, mirror-p)
		}
		positions = next
	}
	return positions
}

// buildEliminationRounds constructs a balanced elimination tree over the
// seeded participant list. When the count is not a power of two the tree is
// padded to the next power and the byes land on the top seeds, which advance
// into round two at build time. The result is indexed rounds[round-1][order-1].
func buildEliminationRounds(participants []*models.Participant, side models.BracketSide, uidPrefix string) [][]*NodeBlueprint {
	n := len(participants)
	numRounds := bits.Len(uint(n - 1))
	full := 1 << numRounds
	positions := seedPositions(full)

	rounds := make([][]*NodeBlueprint, numRounds)
	for r := 1; r <= numRounds; r++ {
		count := full >> r
		rounds[r-1] = make([]*NodeBlueprint, count)
		for i := 0; i < count; i++ {
			rounds[r-1][i] = &NodeBlueprint{
				UID:          fmt.Sprintf("%sR%dM%d", uidPrefix, r, i+1),
				Side:         side,
				Round:        r,
				OrderInRound: i + 1,
			}
		}
	}

	for r := 1; r < numRounds; r++ {
		for i, nb := range rounds[r-1] {
			target := rounds[r][i/2]
			nb.WinnerTargetUID = &target.UID
			nb.WinnerTargetSlot = i%2 + 1
		}
	}

	for i := 0; i < full; i += 2 {
		nb := rounds[0][i/2]
		nb.Participant1ID = participantAtSeed(participants, positions[i])
		nb.Participant2ID = participantAtSeed(participants, positions[i+1])

		// Pairing always places the real participant on slot 1: the padded
		// seeds are all in the bottom half of the mirror pairs.
		if nb.Participant2ID == nil {
			nb.IsBye = true
			nb.ByeParticipantID = nb.Participant1ID
			if nb.WinnerTargetUID != nil {
				assignSlot(rounds[1][(i/2)/2], nb.WinnerTargetSlot, nb.ByeParticipantID)
			}
		}
	}

	return rounds
}

func participantAtSeed(participants []*models.Participant, seed int) *int {
	if seed > len(participants) {
		return nil
	}
	id := participants[seed-1].ID
	return &id
}

func assignSlot(nb *NodeBlueprint, slot int, participantID *int) {
	if slot == 1 {
		nb.Participant1ID = participantID
	} else {
		nb.Participant2ID = participantID
	}
}

func flattenRounds(rounds [][]*NodeBlueprint) []*NodeBlueprint {
	var all []*NodeBlueprint
	for _, round := range rounds {
		all = append(all, round...)
	}
	return all
}
