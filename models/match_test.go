package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScore(t *testing.T) {
	score, err := ParseScore("2-1")
	require.NoError(t, err)
	assert.Equal(t, Score{A: 2, B: 1}, score)
	assert.Equal(t, "2-1", score.String())

	_, err = ParseScore("2:1")
	assert.Error(t, err)
	_, err = ParseScore("-1-2")
	assert.Error(t, err)
}

func TestMatchSideOf(t *testing.T) {
	p1, p2 := 10, 20
	match := &Match{P1ID: &p1, P2ID: &p2}
	assert.Equal(t, 1, match.SideOf(10))
	assert.Equal(t, 2, match.SideOf(20))
	assert.Equal(t, 0, match.SideOf(30))

	assert.Equal(t, 0, (&Match{}).SideOf(10))
}

func TestMatchLoserID(t *testing.T) {
	p1, p2 := 10, 20
	match := &Match{P1ID: &p1, P2ID: &p2}
	assert.Nil(t, match.LoserID())

	match.WinnerID = &p1
	require.NotNil(t, match.LoserID())
	assert.Equal(t, 20, *match.LoserID())

	match.WinnerID = &p2
	require.NotNil(t, match.LoserID())
	assert.Equal(t, 10, *match.LoserID())
}

func TestMatchStateTerminal(t *testing.T) {
	for _, state := range []MatchState{MatchCompleted, MatchForfeited, MatchCancelled} {
		assert.True(t, state.Terminal(), state)
	}
	for _, state := range []MatchState{MatchScheduled, MatchCheckedIn, MatchLive, MatchPendingResult, MatchResolved, MatchDisputed} {
		assert.False(t, state.Terminal(), state)
	}
}
