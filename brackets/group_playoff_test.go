package brackets

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clashforge/bracket-engine/config"
)

func TestGroupPlayoff_SnakeDistribution(t *testing.T) {
	gen := NewGroupPlayoffGenerator()
	bp, err := gen.GenerateBracket(context.Background(), GenerateBracketParams{
		Participants: seededField(8),
		Rules:        &config.Rules{GroupCount: 2},
	})
	require.NoError(t, err)
	require.Len(t, bp.Groups, 2)

	groupA := bp.Groups[0]
	groupB := bp.Groups[1]
	assert.Equal(t, "Group A", groupA.Name)
	assert.Equal(t, 0, groupA.OrderIndex)
	assert.Equal(t, "Group B", groupB.Name)
	assert.Equal(t, 1, groupB.OrderIndex)

	// Serpentine dealing: 1-A 2-B 3-B 4-A 5-A 6-B 7-B 8-A.
	assert.Equal(t, []int{101, 104, 105, 108}, groupA.ParticipantIDs)
	assert.Equal(t, []int{102, 103, 106, 107}, groupB.ParticipantIDs)
}

func TestGroupPlayoff_GroupFixturesStayInsideGroups(t *testing.T) {
	gen := NewGroupPlayoffGenerator()
	bp, err := gen.GenerateBracket(context.Background(), GenerateBracketParams{
		Participants: seededField(8),
		Rules:        &config.Rules{GroupCount: 2},
	})
	require.NoError(t, err)

	// Two groups of four: six fixtures each.
	require.Len(t, bp.Matches, 12)

	membership := map[int]int{}
	for gi, group := range bp.Groups {
		for _, pid := range group.ParticipantIDs {
			membership[pid] = gi
		}
	}
	for _, mb := range bp.Matches {
		require.NotNil(t, mb.GroupIndex)
		assert.Equal(t, *mb.GroupIndex, membership[mb.Participant1ID])
		assert.Equal(t, *mb.GroupIndex, membership[mb.Participant2ID])
	}
}

func TestGroupPlayoff_RejectsFieldTooSmallForGroups(t *testing.T) {
	gen := NewGroupPlayoffGenerator()
	_, err := gen.GenerateBracket(context.Background(), GenerateBracketParams{
		Participants: seededField(5),
		Rules:        &config.Rules{GroupCount: 3},
	})
	assert.ErrorIs(t, err, ErrGroupTooSmall)
}

func TestBuildPlayoff_SeedsAdvancersIntoElimination(t *testing.T) {
	// Already ordered rank-major: the two group winners first.
	bp, err := BuildPlayoff(seededField(4))
	require.NoError(t, err)
	require.Len(t, bp.Nodes, 3)

	semi1 := nodeByUID(t, bp, "PR1M1")
	require.NotNil(t, semi1.Participant1ID)
	require.NotNil(t, semi1.Participant2ID)
	assert.Equal(t, 101, *semi1.Participant1ID)
	assert.Equal(t, 104, *semi1.Participant2ID)

	semi2 := nodeByUID(t, bp, "PR1M2")
	require.NotNil(t, semi2.Participant1ID)
	require.NotNil(t, semi2.Participant2ID)
	assert.Equal(t, 102, *semi2.Participant1ID)
	assert.Equal(t, 103, *semi2.Participant2ID)
}
