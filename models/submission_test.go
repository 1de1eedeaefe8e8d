package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubmissionAgreesWith(t *testing.T) {
	a := &ResultSubmission{Score: Score{A: 2, B: 1}, DeclaredWinnerID: 10}
	b := &ResultSubmission{Score: Score{A: 2, B: 1}, DeclaredWinnerID: 10}
	assert.True(t, a.AgreesWith(b))
	assert.True(t, b.AgreesWith(a))

	// Same score, different winner claim: no agreement.
	c := &ResultSubmission{Score: Score{A: 2, B: 1}, DeclaredWinnerID: 20}
	assert.False(t, a.AgreesWith(c))

	// Both declaring a draw agree only on identical scores.
	d1 := &ResultSubmission{Score: Score{A: 1, B: 1}}
	d2 := &ResultSubmission{Score: Score{A: 1, B: 1}}
	d3 := &ResultSubmission{Score: Score{A: 2, B: 2}}
	assert.True(t, d1.AgreesWith(d2))
	assert.False(t, d1.AgreesWith(d3))
}

func TestSubmissionIdempotencyKey(t *testing.T) {
	sub := &ResultSubmission{MatchID: 7, ParticipantID: 10, Round: 2}
	assert.Equal(t, "7:10:2", sub.IdempotencyKey())
	assert.Equal(t, sub.IdempotencyKey(), SubmissionKey(7, 10, 2))
}
