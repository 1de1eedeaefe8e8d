package brackets

import (
	"context"
	"fmt"
)

type RoundRobinGenerator struct{}

func NewRoundRobinGenerator() BracketGenerator {
	return &RoundRobinGenerator{}
}

func (g *RoundRobinGenerator) GetName() string {
	return "RoundRobin"
}

// GenerateBracket creates the full fixture list for a round-robin league via
// the circle method, so every participant plays at most once per round. A
// single round-robin yields N(N-1)/2 matches; rules may double it with sides
// swapped for the return legs.
func (g *RoundRobinGenerator) GenerateBracket(ctx context.Context, params GenerateBracketParams) (*Blueprint, error) {
	n := len(params.Participants)
	if n < 2 {
		return nil, fmt.Errorf("%w: round robin needs at least 2, got %d", ErrNotEnoughParticipants, n)
	}

	ids := make([]int, n)
	for i, p := range params.Participants {
		ids[i] = p.ID
	}

	double := params.Rules != nil && params.Rules.DoubleRoundRobin
	matches := roundRobinMatches(ids, double, "", nil)
	return &Blueprint{Matches: matches}, nil
}

// roundRobinMatches schedules a league over the given participant ids,
// optionally doubled with swapped sides, under an optional UID prefix and
// group index (used by the group stage builder).
func roundRobinMatches(ids []int, double bool, uidPrefix string, groupIndex *int) []*MatchBlueprint {
	cycles := 1
	if double {
		cycles = 2
	}

	var matches []*MatchBlueprint
	rounds := circlePairings(ids)
	roundOffset := 0
	for c := 0; c < cycles; c++ {
		for r, pairs := range rounds {
			round := roundOffset + r + 1
			order := 0
			for _, pair := range pairs {
				a, b := pair[0], pair[1]
				if c == 1 {
					a, b = b, a // return leg, sides swapped
				}
				if a == 0 || b == 0 {
					sitter := a + b // the non-dummy side
					matches = append(matches, &MatchBlueprint{
						UID:              fmt.Sprintf("%sR%dBYE", uidPrefix, round),
						Round:            round,
						GroupIndex:       groupIndex,
						ByeParticipantID: &sitter,
					})
					continue
				}
				order++
				matches = append(matches, &MatchBlueprint{
					UID:            fmt.Sprintf("%sR%dM%d", uidPrefix, round, order),
					Round:          round,
					OrderInRound:   order,
					GroupIndex:     groupIndex,
					Participant1ID: a,
					Participant2ID: b,
				})
			}
		}
		roundOffset += len(rounds)
	}
	return matches
}

// circlePairings runs the circle (rotation) scheduling method: one participant
// stays fixed while the rest rotate, producing len(ids)-1 balanced rounds (or
// len(ids) rounds with a sit-out each when the field is odd, encoded as a pair
// against the 0 dummy).
func circlePairings(ids []int) [][][2]int {
	ring := append([]int(nil), ids...)
	if len(ring)%2 == 1 {
		ring = append(ring, 0)
	}
	m := len(ring)

	rounds := make([][][2]int, 0, m-1)
	for r := 0; r < m-1; r++ {
		pairs := make([][2]int, 0, m/2)
		for i := 0; i < m/2; i++ {
			a, b := ring[i], ring[m-1-i]
			// Alternate the fixed participant's side so home/away stays balanced.
			if i == 0 && r%2 == 1 {
				a, b = b, a
			}
			pairs = append(pairs, [2]int{a, b})
		}
		rounds = append(rounds, pairs)

		last := ring[m-1]
		copy(ring[2:], ring[1:m-1])
		ring[1] = last
	}
	return rounds
}
