package brackets

import (
	"context"
	"fmt"

	"github.com/clashforge/bracket-engine/models"
)

const grandFinalUID = "GF"

type DoubleEliminationGenerator struct{}

func NewDoubleEliminationGenerator() BracketGenerator {
	return &DoubleEliminationGenerator{}
}

func (g *DoubleEliminationGenerator) GetName() string {
	return "DoubleElimination"
}

// GenerateBracket builds linked winners and losers trees plus a grand-final
// reconciliation node. Every winners-bracket node carries its pre-computed
// losers-bracket routing; byes in the winners round one close the slots they
// would have fed, and fully closed losers nodes cascade the closure onward.
func (g *DoubleEliminationGenerator) GenerateBracket(ctx context.Context, params GenerateBracketParams) (*Blueprint, error) {
	n := len(params.Participants)
	if n < 2 {
		return nil, fmt.Errorf("%w: double elimination needs at least 2, got %d", ErrNotEnoughParticipants, n)
	}

	winners := buildEliminationRounds(params.Participants, models.SideWinners, "W")
	k := len(winners)

	grandFinal := &NodeBlueprint{
		UID:          grandFinalUID,
		Side:         models.SideGrandFinal,
		Round:        1,
		OrderInRound: 1,
	}

	wbFinal := winners[k-1][0]
	wbFinal.WinnerTargetUID = &grandFinal.UID
	wbFinal.WinnerTargetSlot = 1

	var losers [][]*NodeBlueprint
	if k == 1 {
		// Two participants: the loser of the only winners match goes straight
		// to the grand final for a second life.
		wbFinal.LoserTargetUID = &grandFinal.UID
		wbFinal.LoserTargetSlot = 2
	} else {
		losers = buildLosersRounds(winners, grandFinal)
		propagateClosedSlots(winners, losers)
	}

	all := flattenRounds(winners)
	all = append(all, flattenRounds(losers)...)
	all = append(all, grandFinal)
	return &Blueprint{Nodes: all}, nil
}

// buildLosersRounds lays out the 2(k-1) losers rounds for a winners tree of k
// rounds. Odd losers rounds pair survivors among themselves; even rounds drop
// in the losers of the matching winners round.
func buildLosersRounds(winners [][]*NodeBlueprint, grandFinal *NodeBlueprint) [][]*NodeBlueprint {
	k := len(winners)
	full := len(winners[0]) * 2

	numRounds := 2 * (k - 1)
	losers := make([][]*NodeBlueprint, numRounds)
	for r := 1; r <= numRounds; r++ {
		// Rounds 2j-1 and 2j both hold full/2^(j+1) nodes.
		j := (r + 1) / 2
		count := full >> uint(j+1)
		losers[r-1] = make([]*NodeBlueprint, count)
		for i := 0; i < count; i++ {
			losers[r-1][i] = &NodeBlueprint{
				UID:          fmt.Sprintf("LR%dM%d", r, i+1),
				Side:         models.SideLosers,
				Round:        r,
				OrderInRound: i + 1,
			}
		}
	}

	// Winner routing inside the losers tree.
	for r := 1; r < numRounds; r++ {
		for i, nb := range losers[r-1] {
			if r%2 == 1 {
				// Odd round: survivor meets the dropped winners-round loser
				// one-to-one in the next round.
				target := losers[r][i]
				nb.WinnerTargetUID = &target.UID
				nb.WinnerTargetSlot = 1
			} else {
				target := losers[r][i/2]
				nb.WinnerTargetUID = &target.UID
				nb.WinnerTargetSlot = i%2 + 1
			}
		}
	}
	lbFinal := losers[numRounds-1][0]
	lbFinal.WinnerTargetUID = &grandFinal.UID
	lbFinal.WinnerTargetSlot = 2

	// Loser routing out of the winners tree. Round one losers pair up in
	// losers round one; each later winners round drops into the matching even
	// losers round on slot 2.
	for i, nb := range winners[0] {
		target := losers[0][i/2]
		nb.LoserTargetUID = &target.UID
		nb.LoserTargetSlot = i%2 + 1
	}
	for wr := 2; wr <= k; wr++ {
		dropRound := 2 * (wr - 1)
		for i, nb := range winners[wr-1] {
			target := losers[dropRound-1][i]
			nb.LoserTargetUID = &target.UID
			nb.LoserTargetSlot = 2
		}
	}

	return losers
}

// propagateClosedSlots closes losers-bracket slots fed by winners-round-one
// byes (a bye produces no loser) and cascades the closure through nodes whose
// inputs both vanished.
func propagateClosedSlots(winners, losers [][]*NodeBlueprint) {
	byUID := make(map[string]*NodeBlueprint)
	for _, round := range losers {
		for _, nb := range round {
			byUID[nb.UID] = nb
		}
	}

	for _, nb := range winners[0] {
		if nb.IsBye && nb.LoserTargetUID != nil {
			closeSlot(byUID[*nb.LoserTargetUID], nb.LoserTargetSlot)
		}
	}

	for _, round := range losers {
		for _, nb := range round {
			if nb.Slot1Closed && nb.Slot2Closed && nb.WinnerTargetUID != nil {
				closeSlot(byUID[*nb.WinnerTargetUID], nb.WinnerTargetSlot)
			}
		}
	}
}

func closeSlot(nb *NodeBlueprint, slot int) {
	if nb == nil {
		return
	}
	if slot == 1 {
		nb.Slot1Closed = true
	} else {
		nb.Slot2Closed = true
	}
}
