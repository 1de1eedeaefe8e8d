package brackets

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clashforge/bracket-engine/models"
)

func TestDoubleElimination_FourParticipantStructure(t *testing.T) {
	gen := NewDoubleEliminationGenerator()
	bp, err := gen.GenerateBracket(context.Background(), GenerateBracketParams{
		Participants: seededField(4),
	})
	require.NoError(t, err)

	// 3 winners nodes, 2 losers nodes, 1 grand final.
	require.Len(t, bp.Nodes, 6)

	counts := map[models.BracketSide]int{}
	for _, nb := range bp.Nodes {
		counts[nb.Side]++
	}
	assert.Equal(t, 3, counts[models.SideWinners])
	assert.Equal(t, 2, counts[models.SideLosers])
	assert.Equal(t, 1, counts[models.SideGrandFinal])

	// Winners final and losers final both feed the grand final.
	wbFinal := nodeByUID(t, bp, "WR2M1")
	require.NotNil(t, wbFinal.WinnerTargetUID)
	assert.Equal(t, "GF", *wbFinal.WinnerTargetUID)
	assert.Equal(t, 1, wbFinal.WinnerTargetSlot)

	lbFinal := nodeByUID(t, bp, "LR2M1")
	require.NotNil(t, lbFinal.WinnerTargetUID)
	assert.Equal(t, "GF", *lbFinal.WinnerTargetUID)
	assert.Equal(t, 2, lbFinal.WinnerTargetSlot)
}

func TestDoubleElimination_LoserRouting(t *testing.T) {
	gen := NewDoubleEliminationGenerator()
	bp, err := gen.GenerateBracket(context.Background(), GenerateBracketParams{
		Participants: seededField(4),
	})
	require.NoError(t, err)

	// Round-one losers pair up in losers round one.
	for uid, slot := range map[string]int{"WR1M1": 1, "WR1M2": 2} {
		nb := nodeByUID(t, bp, uid)
		require.NotNil(t, nb.LoserTargetUID, uid)
		assert.Equal(t, "LR1M1", *nb.LoserTargetUID, uid)
		assert.Equal(t, slot, nb.LoserTargetSlot, uid)
	}

	// The winners final loser drops into the losers final on slot 2.
	wbFinal := nodeByUID(t, bp, "WR2M1")
	require.NotNil(t, wbFinal.LoserTargetUID)
	assert.Equal(t, "LR2M1", *wbFinal.LoserTargetUID)
	assert.Equal(t, 2, wbFinal.LoserTargetSlot)

	// The losers round-one survivor meets that drop-in.
	lr1 := nodeByUID(t, bp, "LR1M1")
	require.NotNil(t, lr1.WinnerTargetUID)
	assert.Equal(t, "LR2M1", *lr1.WinnerTargetUID)
	assert.Equal(t, 1, lr1.WinnerTargetSlot)
}

func TestDoubleElimination_TwoParticipantsSkipLosersTree(t *testing.T) {
	gen := NewDoubleEliminationGenerator()
	bp, err := gen.GenerateBracket(context.Background(), GenerateBracketParams{
		Participants: seededField(2),
	})
	require.NoError(t, err)
	require.Len(t, bp.Nodes, 2)

	only := nodeByUID(t, bp, "WR1M1")
	require.NotNil(t, only.LoserTargetUID)
	assert.Equal(t, "GF", *only.LoserTargetUID)
	assert.Equal(t, 2, only.LoserTargetSlot)
}

func TestDoubleElimination_ByesCloseLosersSlots(t *testing.T) {
	gen := NewDoubleEliminationGenerator()
	bp, err := gen.GenerateBracket(context.Background(), GenerateBracketParams{
		Participants: seededField(6),
	})
	require.NoError(t, err)

	// Seeds 1 and 2 get winners round-one byes, so the losers slots those
	// matches would have fed start closed.
	bye1 := nodeByUID(t, bp, "WR1M1")
	require.True(t, bye1.IsBye)
	require.NotNil(t, bye1.LoserTargetUID)
	target1 := nodeByUID(t, bp, *bye1.LoserTargetUID)
	if bye1.LoserTargetSlot == 1 {
		assert.True(t, target1.Slot1Closed)
	} else {
		assert.True(t, target1.Slot2Closed)
	}

	bye2 := nodeByUID(t, bp, "WR1M3")
	require.True(t, bye2.IsBye)
	require.NotNil(t, bye2.LoserTargetUID)
	target2 := nodeByUID(t, bp, *bye2.LoserTargetUID)
	if bye2.LoserTargetSlot == 1 {
		assert.True(t, target2.Slot1Closed)
	} else {
		assert.True(t, target2.Slot2Closed)
	}
}
