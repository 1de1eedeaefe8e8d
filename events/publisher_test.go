package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clashforge/bracket-engine/models"
)

func TestEnvelopeMarshal(t *testing.T) {
	winner := 42
	score := "2-1"
	env := Envelope{
		Type:         TypeMatchCompleted,
		TournamentID: 7,
		Payload: MatchCompleted{
			MatchID:  13,
			WinnerID: &winner,
			Score:    &score,
		},
		EmittedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	data, err := json.Marshal(env)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "match.completed", decoded["type"])
	assert.Equal(t, float64(7), decoded["tournament_id"])

	payload, ok := decoded["payload"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(13), payload["match_id"])
	assert.Equal(t, float64(42), payload["winner_id"])
	assert.Equal(t, "2-1", payload["score"])
	_, hasLoser := payload["loser_id"]
	assert.False(t, hasLoser, "nil loser must be omitted")
}

func TestDisputeResolvedMarshal(t *testing.T) {
	data, err := json.Marshal(DisputeResolved{
		DisputeID:  "d-1",
		Resolution: models.ActionAcceptA,
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"dispute_id":"d-1","resolution":"accept_a"}`, string(data))
}

func TestNopPublisherDoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		NopPublisher{}.Publish(1, TypeStandingsUpdated, nil)
	})
}
