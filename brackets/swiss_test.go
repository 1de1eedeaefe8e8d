package brackets

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSwiss_FirstRoundPairsTopHalfAgainstBottomHalf(t *testing.T) {
	gen := NewSwissGenerator()
	bp, err := gen.GenerateBracket(context.Background(), GenerateBracketParams{
		Participants: seededField(8),
	})
	require.NoError(t, err)
	require.Len(t, bp.Matches, 4)

	wantPairs := [][2]int{{101, 105}, {102, 106}, {103, 107}, {104, 108}}
	for i, want := range wantPairs {
		assert.Equal(t, want[0], bp.Matches[i].Participant1ID)
		assert.Equal(t, want[1], bp.Matches[i].Participant2ID)
		assert.Equal(t, 1, bp.Matches[i].Round)
	}
}

func TestSwiss_OddFieldGivesRoundOneByeToLowestSeed(t *testing.T) {
	gen := NewSwissGenerator()
	bp, err := gen.GenerateBracket(context.Background(), GenerateBracketParams{
		Participants: seededField(5),
	})
	require.NoError(t, err)
	require.Len(t, bp.Matches, 3)

	bye := bp.Matches[0]
	require.NotNil(t, bye.ByeParticipantID)
	assert.Equal(t, 105, *bye.ByeParticipantID)

	// The remaining even field still pairs top half against bottom half.
	assert.Equal(t, 101, bp.Matches[1].Participant1ID)
	assert.Equal(t, 103, bp.Matches[1].Participant2ID)
	assert.Equal(t, 102, bp.Matches[2].Participant1ID)
	assert.Equal(t, 104, bp.Matches[2].Participant2ID)
}

func standing(id, seed, score int, opponents ...int) *SwissStanding {
	s := &SwissStanding{
		ParticipantID: id,
		Seed:          seed,
		Score:         score,
		Opponents:     map[int]bool{},
	}
	for _, o := range opponents {
		s.Opponents[o] = true
	}
	return s
}

func TestPairSwissRound_GroupsByScore(t *testing.T) {
	standings := []*SwissStanding{
		standing(1, 1, 1, 3),
		standing(2, 2, 1, 4),
		standing(3, 3, 0, 1),
		standing(4, 4, 0, 2),
	}
	matches, err := PairSwissRound(standings, 2)
	require.NoError(t, err)
	require.Len(t, matches, 2)

	// Winners meet winners, losers meet losers.
	assert.Equal(t, 1, matches[0].Participant1ID)
	assert.Equal(t, 2, matches[0].Participant2ID)
	assert.Equal(t, 3, matches[1].Participant1ID)
	assert.Equal(t, 4, matches[1].Participant2ID)
	for _, mb := range matches {
		assert.False(t, mb.RepeatPairing)
		assert.Equal(t, 2, mb.Round)
	}
}

func TestPairSwissRound_AvoidsRepeatsByBacktracking(t *testing.T) {
	// 1 already played 2, and 3 already played 4: the naive top-down pairing
	// is blocked both ways and the backtracker must cross the score groups.
	standings := []*SwissStanding{
		standing(1, 1, 1, 2),
		standing(2, 2, 1, 1),
		standing(3, 3, 0, 4),
		standing(4, 4, 0, 3),
	}
	matches, err := PairSwissRound(standings, 3)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	for _, mb := range matches {
		assert.False(t, mb.RepeatPairing)
		assert.NotEqual(t, pairKey(1, 2), pairKey(mb.Participant1ID, mb.Participant2ID))
		assert.NotEqual(t, pairKey(3, 4), pairKey(mb.Participant1ID, mb.Participant2ID))
	}
}

func TestPairSwissRound_FallsBackToRepeatWhenUnavoidable(t *testing.T) {
	// Two participants who already met have nobody else left to play.
	standings := []*SwissStanding{
		standing(1, 1, 1, 2),
		standing(2, 2, 0, 1),
	}
	matches, err := PairSwissRound(standings, 3)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.True(t, matches[0].RepeatPairing)
}

func TestPairSwissRound_ByeGoesToLowestRankedWithoutPriorBye(t *testing.T) {
	standings := []*SwissStanding{
		standing(1, 1, 2),
		standing(2, 2, 1),
		standing(3, 3, 1),
		standing(4, 4, 0),
		standing(5, 5, 0),
	}
	standings[4].HadBye = true // seed 5 already sat out

	matches, err := PairSwissRound(standings, 2)
	require.NoError(t, err)

	var bye *MatchBlueprint
	for _, mb := range matches {
		if mb.ByeParticipantID != nil {
			bye = mb
		}
	}
	require.NotNil(t, bye)
	assert.Equal(t, 4, *bye.ByeParticipantID)
}
