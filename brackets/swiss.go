package brackets

import (
	"context"
	"fmt"
	"sort"
)

type SwissGenerator struct{}

func NewSwissGenerator() BracketGenerator {
	return &SwissGenerator{}
}

func (g *SwissGenerator) GetName() string {
	return "Swiss"
}

// GenerateBracket produces only the first swiss round: the top half of the
// seeding plays the bottom half. Later rounds are paired on demand from the
// running scores once the previous round has fully completed; see PairSwissRound.
func (g *SwissGenerator) GenerateBracket(ctx context.Context, params GenerateBracketParams) (*Blueprint, error) {
	n := len(params.Participants)
	if n < 2 {
		return nil, fmt.Errorf("%w: swiss needs at least 2, got %d", ErrNotEnoughParticipants, n)
	}

	playing := params.Participants
	var matches []*MatchBlueprint
	if n%2 == 1 {
		// Odd field: the lowest seed sits out round one.
		sitter := playing[n-1].ID
		matches = append(matches, &MatchBlueprint{
			UID:              "R1BYE",
			Round:            1,
			ByeParticipantID: &sitter,
		})
		playing = playing[:n-1]
	}

	half := len(playing) / 2
	for i := 0; i < half; i++ {
		matches = append(matches, &MatchBlueprint{
			UID:            fmt.Sprintf("R1M%d", i+1),
			Round:          1,
			OrderInRound:   i + 1,
			Participant1ID: playing[i].ID,
			Participant2ID: playing[i+half].ID,
		})
	}

	return &Blueprint{Matches: matches}, nil
}

// SwissStanding is one participant's running record used to pair the next round.
type SwissStanding struct {
	ParticipantID int
	Seed          int
	Score         int
	HadBye        bool
	Opponents     map[int]bool
}

func (s *SwissStanding) played(opponentID int) bool {
	return s.Opponents != nil && s.Opponents[opponentID]
}

// PairSwissRound pairs round `round` from the running standings: participants
// of similar score meet, repeat pairings are avoided whenever a repeat-free
// pairing exists, and otherwise the minimal fallback pairings are taken and
// flagged RepeatPairing on the generated matches. With an odd field the
// lowest-ranked participant without a previous bye sits out.
//
// The caller is responsible for the round-boundary barrier: this must only be
// invoked once every match of the previous round has completed.
func PairSwissRound(standings []*SwissStanding, round int) ([]*MatchBlueprint, error) {
	if len(standings) < 2 {
		return nil, fmt.Errorf("%w: swiss pairing needs at least 2, got %d", ErrNotEnoughParticipants, len(standings))
	}

	ranked := append([]*SwissStanding(nil), standings...)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Seed < ranked[j].Seed
	})

	var matches []*MatchBlueprint
	if len(ranked)%2 == 1 {
		bye := pickByeRecipient(ranked)
		matches = append(matches, &MatchBlueprint{
			UID:              fmt.Sprintf("R%dBYE", round),
			Round:            round,
			ByeParticipantID: &bye.ParticipantID,
		})
		ranked = removeStanding(ranked, bye.ParticipantID)
	}

	pairs, ok := pairAvoidingRepeats(ranked, false)
	if !ok {
		// No repeat-free pairing exists for this field; fall back to allowing
		// repeats rather than stalling the round.
		pairs, ok = pairAvoidingRepeats(ranked, true)
		if !ok {
			return nil, fmt.Errorf("swiss pairing failed for round %d with %d participants", round, len(ranked))
		}
	}

	for i, pair := range pairs {
		matches = append(matches, &MatchBlueprint{
			UID:            fmt.Sprintf("R%dM%d", round, i+1),
			Round:          round,
			OrderInRound:   i + 1,
			Participant1ID: pair[0].ParticipantID,
			Participant2ID: pair[1].ParticipantID,
			RepeatPairing:  pair[0].played(pair[1].ParticipantID),
		})
	}
	return matches, nil
}

func pickByeRecipient(ranked []*SwissStanding) *SwissStanding {
	for i := len(ranked) - 1; i >= 0; i-- {
		if !ranked[i].HadBye {
			return ranked[i]
		}
	}
	// Everyone already sat out once; the lowest-ranked sits out again.
	return ranked[len(ranked)-1]
}

func removeStanding(ranked []*SwissStanding, participantID int) []*SwissStanding {
	out := make([]*SwissStanding, 0, len(ranked)-1)
	for _, s := range ranked {
		if s.ParticipantID != participantID {
			out = append(out, s)
		}
	}
	return out
}

// pairAvoidingRepeats pairs the ranked field by backtracking: the highest
// unpaired participant tries the nearest eligible opponent first, so pairings
// stay close in score.
func pairAvoidingRepeats(ranked []*SwissStanding, allowRepeats bool) ([][2]*SwissStanding, bool) {
	paired := make(map[int]bool, len(ranked))
	var pairs [][2]*SwissStanding

	var match func() bool
	match = func() bool {
		first := -1
		for i, s := range ranked {
			if !paired[s.ParticipantID] {
				first = i
				break
			}
		}
		if first == -1 {
			return true
		}
		a := ranked[first]
		paired[a.ParticipantID] = true
		for j := first + 1; j < len(ranked); j++ {
			b := ranked[j]
			if paired[b.ParticipantID] {
				continue
			}
			if !allowRepeats && a.played(b.ParticipantID) {
				continue
			}
			paired[b.ParticipantID] = true
			pairs = append(pairs, [2]*SwissStanding{a, b})
			if match() {
				return true
			}
			pairs = pairs[:len(pairs)-1]
			paired[b.ParticipantID] = false
		}
		paired[a.ParticipantID] = false
		return false
	}

	if !match() {
		return nil, false
	}
	return pairs, true
}
