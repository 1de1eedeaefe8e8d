package services

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clashforge/bracket-engine/config"
	"github.com/clashforge/bracket-engine/events"
	"github.com/clashforge/bracket-engine/models"
)

const leagueRules = `{
	"bracket_format": "round_robin",
	"scoring": {"win_points": 3, "draw_points": 1, "loss_points": 0},
	"tiebreakers": [
		{"field": "score_diff"},
		{"field": "score_for"}
	]
}`

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type standingsFixture struct {
	service   StandingsService
	matches   *fakeMatchRepo
	standings *fakeStandingRepo
	groups    *fakeGroupRepo
	publisher *recordingPublisher
}

func newStandingsFixture(t *testing.T, rulesJSON string, participantIDs ...int) *standingsFixture {
	t.Helper()

	tournaments := newFakeTournamentRepo(&models.Tournament{
		ID:        1,
		Format:    models.FormatRoundRobin,
		Status:    models.StatusActive,
		RulesJSON: &rulesJSON,
	})
	groups := newFakeGroupRepo(&models.Group{ID: 1, TournamentID: 1, Name: "Main"})
	standings := newFakeStandingRepo()
	for i, pid := range participantIDs {
		standings.put(&models.GroupStanding{
			GroupID:           1,
			ParticipantID:     pid,
			Stats:             map[string]int{"score_diff": 0, "score_for": 0},
			RegistrationOrder: i + 1,
		})
	}
	matches := newFakeMatchRepo()
	publisher := &recordingPublisher{}

	service := NewStandingsService(
		groups, standings, matches, tournaments,
		config.NewRulesResolver(), publisher, testLogger())
	return &standingsFixture{
		service:   service,
		matches:   matches,
		standings: standings,
		groups:    groups,
		publisher: publisher,
	}
}

func groupMatch(id int, p1, p2 int, score *models.Score, winnerID *int) *models.Match {
	groupID := 1
	return &models.Match{
		ID:           id,
		TournamentID: 1,
		GroupID:      &groupID,
		P1ID:         &p1,
		P2ID:         &p2,
		State:        models.MatchCompleted,
		Score:        score,
		WinnerID:     winnerID,
	}
}

func TestApplyMatchResult_WinLossAccounting(t *testing.T) {
	fx := newStandingsFixture(t, leagueRules, 10, 20)

	winner := 10
	match := groupMatch(1, 10, 20, &models.Score{A: 2, B: 1}, &winner)
	fx.matches.matches[1] = match

	require.NoError(t, fx.service.ApplyMatchResult(context.Background(), match))

	row1, err := fx.standings.GetByGroupAndParticipant(context.Background(), nil, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, row1.Played)
	assert.Equal(t, 1, row1.Wins)
	assert.Equal(t, 3, row1.Points)
	assert.Equal(t, 1, row1.Stats["score_diff"])
	assert.Equal(t, 2, row1.Stats["score_for"])

	row2, err := fx.standings.GetByGroupAndParticipant(context.Background(), nil, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, 1, row2.Losses)
	assert.Equal(t, 0, row2.Points)
	assert.Equal(t, -1, row2.Stats["score_diff"])

	require.NotEmpty(t, fx.publisher.events)
	assert.Equal(t, events.TypeStandingsUpdated, fx.publisher.events[len(fx.publisher.events)-1].eventType)
}

func TestApplyMatchResult_DrawSplitsPoints(t *testing.T) {
	fx := newStandingsFixture(t, leagueRules, 10, 20)

	match := groupMatch(1, 10, 20, &models.Score{A: 1, B: 1}, nil)
	fx.matches.matches[1] = match
	require.NoError(t, fx.service.ApplyMatchResult(context.Background(), match))

	for _, pid := range []int{10, 20} {
		row, err := fx.standings.GetByGroupAndParticipant(context.Background(), nil, 1, pid)
		require.NoError(t, err)
		assert.Equal(t, 1, row.Draws, pid)
		assert.Equal(t, 1, row.Points, pid)
	}
}

func TestApplyMatchResult_DoubleForfeitCountsTwoLosses(t *testing.T) {
	fx := newStandingsFixture(t, leagueRules, 10, 20)

	match := groupMatch(1, 10, 20, nil, nil)
	match.State = models.MatchForfeited
	fx.matches.matches[1] = match
	require.NoError(t, fx.service.ApplyMatchResult(context.Background(), match))

	for _, pid := range []int{10, 20} {
		row, err := fx.standings.GetByGroupAndParticipant(context.Background(), nil, 1, pid)
		require.NoError(t, err)
		assert.Equal(t, 1, row.Losses, pid)
		assert.Equal(t, 0, row.Points, pid)
	}
}

func TestRankGroup_TiebreakerChainThenRegistrationOrder(t *testing.T) {
	fx := newStandingsFixture(t, leagueRules, 10, 20, 30)

	rows, err := fx.standings.ListByGroup(context.Background(), nil, 1)
	require.NoError(t, err)
	for _, row := range rows {
		row.Points = 3
	}
	// 20 leads on score_diff; 10 and 30 stay fully tied, so registration
	// order (10 before 30) decides.
	rows[1].Stats["score_diff"] = 2

	ranked, err := fx.service.RankGroup(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, ranked, 3)
	assert.Equal(t, 20, ranked[0].ParticipantID)
	assert.Equal(t, 10, ranked[1].ParticipantID)
	assert.Equal(t, 30, ranked[2].ParticipantID)
	for i, row := range ranked {
		require.NotNil(t, row.Rank)
		assert.Equal(t, i+1, *row.Rank)
	}
}

func TestRankGroup_HeadToHeadBreaksPointTies(t *testing.T) {
	rules := `{
		"bracket_format": "round_robin",
		"scoring": {"win_points": 3, "draw_points": 1, "loss_points": 0},
		"tiebreakers": [{"field": "head_to_head"}]
	}`
	fx := newStandingsFixture(t, rules, 10, 20)

	rows, err := fx.standings.ListByGroup(context.Background(), nil, 1)
	require.NoError(t, err)
	for _, row := range rows {
		row.Points = 3
	}
	// 20 beat 10 in their mutual match; registration order alone would put
	// 10 first.
	winner := 20
	fx.matches.matches[1] = groupMatch(1, 10, 20, &models.Score{A: 0, B: 2}, &winner)

	ranked, err := fx.service.RankGroup(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 20, ranked[0].ParticipantID)
	assert.Equal(t, 10, ranked[1].ParticipantID)
}

func TestRankGroup_MissingMandatoryStatField(t *testing.T) {
	rules := `{
		"bracket_format": "round_robin",
		"tiebreakers": [{"field": "maps_won"}]
	}`
	fx := newStandingsFixture(t, rules, 10, 20)

	_, err := fx.service.RankGroup(context.Background(), 1)
	assert.ErrorIs(t, err, ErrMissingStatField)
}

func TestRankGroup_OptionalStatFieldFallsBackToDefault(t *testing.T) {
	rules := `{
		"bracket_format": "round_robin",
		"tiebreakers": [{"field": "maps_won", "optional": true, "default": -1}]
	}`
	fx := newStandingsFixture(t, rules, 10, 20)

	rows, err := fx.standings.ListByGroup(context.Background(), nil, 1)
	require.NoError(t, err)
	rows[1].Stats["maps_won"] = 4 // participant 20 has the field, 10 does not

	ranked, err := fx.service.RankGroup(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 20, ranked[0].ParticipantID)
}

func TestFinalizeGroup_MarksAdvancersAndFreezes(t *testing.T) {
	rules := `{
		"bracket_format": "group_then_playoff",
		"group_count": 1,
		"advance_per_group": 2,
		"scoring": {"win_points": 3},
		"tiebreakers": [{"field": "score_diff"}]
	}`
	fx := newStandingsFixture(t, rules, 10, 20, 30)

	rows, err := fx.standings.ListByGroup(context.Background(), nil, 1)
	require.NoError(t, err)
	rows[0].Points = 6
	rows[1].Points = 3
	rows[2].Points = 0

	ranked, err := fx.service.FinalizeGroup(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, ranked[0].Advancing)
	assert.True(t, ranked[1].Advancing)
	assert.False(t, ranked[2].Advancing)

	group, err := fx.groups.GetByID(context.Background(), nil, 1)
	require.NoError(t, err)
	assert.True(t, group.Finalized)
}

func TestFinalizeGroup_RefusesWhileMatchesRun(t *testing.T) {
	rules := `{
		"bracket_format": "group_then_playoff",
		"group_count": 1,
		"advance_per_group": 1,
		"tiebreakers": []
	}`
	fx := newStandingsFixture(t, rules, 10, 20)

	live := groupMatch(1, 10, 20, nil, nil)
	live.State = models.MatchLive
	fx.matches.matches[1] = live

	_, err := fx.service.FinalizeGroup(context.Background(), 1)
	assert.ErrorIs(t, err, ErrGroupNotFinalizable)
}

func TestFinalizeGroup_CutoffTieIsAnError(t *testing.T) {
	rules := `{
		"bracket_format": "group_then_playoff",
		"group_count": 1,
		"advance_per_group": 1,
		"scoring": {"win_points": 3},
		"tiebreakers": [{"field": "score_diff"}]
	}`
	fx := newStandingsFixture(t, rules, 10, 20)

	rows, err := fx.standings.ListByGroup(context.Background(), nil, 1)
	require.NoError(t, err)
	for _, row := range rows {
		row.Points = 3
		row.Stats["score_diff"] = 1
	}

	_, err = fx.service.FinalizeGroup(context.Background(), 1)
	assert.ErrorIs(t, err, ErrCutoffTie)
}

func TestRecalculateGroup_RebuildsFromTerminalMatches(t *testing.T) {
	fx := newStandingsFixture(t, leagueRules, 10, 20, 30)

	winner10 := 10
	fx.matches.matches[1] = groupMatch(1, 10, 20, &models.Score{A: 2, B: 0}, &winner10)
	fx.matches.matches[2] = groupMatch(2, 10, 30, &models.Score{A: 1, B: 1}, nil)
	cancelled := groupMatch(3, 20, 30, nil, nil)
	cancelled.State = models.MatchCancelled
	fx.matches.matches[3] = cancelled

	// Poison one row to prove the rebuild starts from zero.
	rows, err := fx.standings.ListByGroup(context.Background(), nil, 1)
	require.NoError(t, err)
	rows[0].Points = 99

	ranked, err := fx.service.RecalculateGroup(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, ranked, 3)

	assert.Equal(t, 10, ranked[0].ParticipantID)
	assert.Equal(t, 4, ranked[0].Points) // one win, one draw
	assert.Equal(t, 2, ranked[0].Played)

	row20, err := fx.standings.GetByGroupAndParticipant(context.Background(), nil, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, 1, row20.Played) // the cancelled match never counted
}

func byeMatch(id, recipient int) *models.Match {
	groupID := 1
	return &models.Match{
		ID:           id,
		TournamentID: 1,
		GroupID:      &groupID,
		P1ID:         &recipient,
		WinnerID:     &recipient,
		State:        models.MatchCompleted,
	}
}

func TestRecalculateGroup_ReseedsDerivableStatFields(t *testing.T) {
	fx := newStandingsFixture(t, leagueRules, 10, 20, 30)

	winner10 := 10
	fx.matches.matches[1] = groupMatch(1, 10, 20, &models.Score{A: 2, B: 0}, &winner10)
	fx.matches.matches[2] = byeMatch(2, 30)

	// Wipe the stat bags; the rebuild must restore the derivable fields even
	// for a participant with no scored match to fold in.
	rows, err := fx.standings.ListByGroup(context.Background(), nil, 1)
	require.NoError(t, err)
	for _, row := range rows {
		row.Stats = nil
	}

	ranked, err := fx.service.RecalculateGroup(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, ranked, 3)

	row30, err := fx.standings.GetByGroupAndParticipant(context.Background(), nil, 1, 30)
	require.NoError(t, err)
	diff, ok := row30.Stats["score_diff"]
	require.True(t, ok)
	assert.Equal(t, 0, diff)
}

func TestRecalculateGroup_CreditsByesAsWins(t *testing.T) {
	fx := newStandingsFixture(t, leagueRules, 10, 20, 30)

	winner10 := 10
	fx.matches.matches[1] = groupMatch(1, 10, 20, &models.Score{A: 2, B: 0}, &winner10)
	fx.matches.matches[2] = byeMatch(2, 30)

	ranked, err := fx.service.RecalculateGroup(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, ranked, 3)

	row30, err := fx.standings.GetByGroupAndParticipant(context.Background(), nil, 1, 30)
	require.NoError(t, err)
	assert.Equal(t, 1, row30.Played)
	assert.Equal(t, 1, row30.Wins)
	assert.Equal(t, 3, row30.Points)

	// 10 and 30 both sit on one win; the scored win ranks first on score_diff.
	assert.Equal(t, 10, ranked[0].ParticipantID)
	assert.Equal(t, 30, ranked[1].ParticipantID)
	assert.Equal(t, 20, ranked[2].ParticipantID)
}
