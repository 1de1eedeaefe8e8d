package brackets

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clashforge/bracket-engine/models"
)

func seededField(n int) []*models.Participant {
	participants := make([]*models.Participant, n)
	for i := 0; i < n; i++ {
		participants[i] = &models.Participant{
			ID:                100 + i + 1,
			Seed:              i + 1,
			RegistrationOrder: i + 1,
			DisplayName:       fmt.Sprintf("player-%d", i+1),
		}
	}
	return participants
}

func nodeByUID(t *testing.T, bp *Blueprint, uid string) *NodeBlueprint {
	t.Helper()
	for _, nb := range bp.Nodes {
		if nb.UID == uid {
			return nb
		}
	}
	t.Fatalf("node %s not found", uid)
	return nil
}

func TestSingleElimination_EightParticipantSeeding(t *testing.T) {
	gen := NewSingleEliminationGenerator()
	bp, err := gen.GenerateBracket(context.Background(), GenerateBracketParams{
		Participants: seededField(8),
	})
	require.NoError(t, err)
	require.Len(t, bp.Nodes, 7)
	assert.Empty(t, bp.Matches)

	// Seeds 1 and 2 must be unable to meet before the final.
	wantPairs := map[string][2]int{
		"R1M1": {101, 108},
		"R1M2": {104, 105},
		"R1M3": {102, 107},
		"R1M4": {103, 106},
	}
	for uid, want := range wantPairs {
		nb := nodeByUID(t, bp, uid)
		require.NotNil(t, nb.Participant1ID, uid)
		require.NotNil(t, nb.Participant2ID, uid)
		assert.Equal(t, want[0], *nb.Participant1ID, uid)
		assert.Equal(t, want[1], *nb.Participant2ID, uid)
		assert.False(t, nb.IsBye, uid)
	}

	final := nodeByUID(t, bp, "R3M1")
	assert.Nil(t, final.WinnerTargetUID)
	assert.Nil(t, final.Participant1ID)
	assert.Nil(t, final.Participant2ID)
}

func TestSingleElimination_WinnerRouting(t *testing.T) {
	gen := NewSingleEliminationGenerator()
	bp, err := gen.GenerateBracket(context.Background(), GenerateBracketParams{
		Participants: seededField(8),
	})
	require.NoError(t, err)

	wantTargets := map[string]struct {
		target string
		slot   int
	}{
		"R1M1": {"R2M1", 1},
		"R1M2": {"R2M1", 2},
		"R1M3": {"R2M2", 1},
		"R1M4": {"R2M2", 2},
		"R2M1": {"R3M1", 1},
		"R2M2": {"R3M1", 2},
	}
	for uid, want := range wantTargets {
		nb := nodeByUID(t, bp, uid)
		require.NotNil(t, nb.WinnerTargetUID, uid)
		assert.Equal(t, want.target, *nb.WinnerTargetUID, uid)
		assert.Equal(t, want.slot, nb.WinnerTargetSlot, uid)
		assert.Nil(t, nb.LoserTargetUID, uid)
	}
}

func TestSingleElimination_ByesAdvanceTopSeeds(t *testing.T) {
	gen := NewSingleEliminationGenerator()
	bp, err := gen.GenerateBracket(context.Background(), GenerateBracketParams{
		Participants: seededField(6),
	})
	require.NoError(t, err)
	require.Len(t, bp.Nodes, 7) // padded to a bracket of 8

	bye1 := nodeByUID(t, bp, "R1M1")
	require.True(t, bye1.IsBye)
	require.NotNil(t, bye1.ByeParticipantID)
	assert.Equal(t, 101, *bye1.ByeParticipantID)

	bye2 := nodeByUID(t, bp, "R1M3")
	require.True(t, bye2.IsBye)
	require.NotNil(t, bye2.ByeParticipantID)
	assert.Equal(t, 102, *bye2.ByeParticipantID)

	// Byes advance their participant into round two at build time.
	r2m1 := nodeByUID(t, bp, "R2M1")
	require.NotNil(t, r2m1.Participant1ID)
	assert.Equal(t, 101, *r2m1.Participant1ID)

	r2m2 := nodeByUID(t, bp, "R2M2")
	require.NotNil(t, r2m2.Participant1ID)
	assert.Equal(t, 102, *r2m2.Participant1ID)

	// Seeds 4 and 5 still play a real first-round match.
	r1m2 := nodeByUID(t, bp, "R1M2")
	assert.False(t, r1m2.IsBye)
	require.NotNil(t, r1m2.Participant1ID)
	require.NotNil(t, r1m2.Participant2ID)
	assert.Equal(t, 104, *r1m2.Participant1ID)
	assert.Equal(t, 105, *r1m2.Participant2ID)
}

func TestSingleElimination_TooFewParticipants(t *testing.T) {
	gen := NewSingleEliminationGenerator()
	_, err := gen.GenerateBracket(context.Background(), GenerateBracketParams{
		Participants: seededField(1),
	})
	assert.ErrorIs(t, err, ErrNotEnoughParticipants)
}

func TestSeedPositions(t *testing.T) {
	assert.Equal(t, []int{1, 2}, seedPositions(2))
	assert.Equal(t, []int{1, 4, 2, 3}, seedPositions(4))
	assert.Equal(t, []int{1, 8, 4, 5, 2, 7, 3, 6}, seedPositions(8))
}
