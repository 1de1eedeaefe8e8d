package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clashforge/bracket-engine/models"
	"github.com/clashforge/bracket-engine/repositories"
)

type fakeNodeRepo struct {
	nodes  map[int]*models.BracketNode
	nextID int
}

func newFakeNodeRepo(nodes ...*models.BracketNode) *fakeNodeRepo {
	r := &fakeNodeRepo{nodes: make(map[int]*models.BracketNode)}
	for _, n := range nodes {
		r.nodes[n.ID] = n
		if n.ID > r.nextID {
			r.nextID = n.ID
		}
	}
	return r
}

func (r *fakeNodeRepo) Create(_ context.Context, _ repositories.SQLExecutor, node *models.BracketNode) error {
	r.nextID++
	node.ID = r.nextID
	r.nodes[node.ID] = node
	return nil
}

func (r *fakeNodeRepo) GetByID(_ context.Context, _ repositories.SQLExecutor, id int) (*models.BracketNode, error) {
	n, ok := r.nodes[id]
	if !ok {
		return nil, repositories.ErrNodeNotFound
	}
	return n, nil
}

func (r *fakeNodeRepo) ListByTournament(_ context.Context, _ repositories.SQLExecutor, tournamentID int) ([]*models.BracketNode, error) {
	var nodes []*models.BracketNode
	for _, n := range r.nodes {
		if n.TournamentID == tournamentID {
			nodes = append(nodes, n)
		}
	}
	return nodes, nil
}

func (r *fakeNodeRepo) UpdateLinks(_ context.Context, _ repositories.SQLExecutor, nodeID int, nextNodeID, nextSlot, loserNextNodeID, loserNextSlot *int) error {
	n, ok := r.nodes[nodeID]
	if !ok {
		return repositories.ErrNodeNotFound
	}
	n.NextNodeID, n.NextSlot = nextNodeID, nextSlot
	n.LoserNextNodeID, n.LoserNextSlot = loserNextNodeID, loserNextSlot
	return nil
}

func (r *fakeNodeRepo) AssignSlot(_ context.Context, _ repositories.SQLExecutor, nodeID, slot, participantID int) error {
	n, ok := r.nodes[nodeID]
	if !ok {
		return repositories.ErrNodeNotFound
	}
	if slot == 1 {
		n.Slot1ParticipantID = &participantID
	} else {
		n.Slot2ParticipantID = &participantID
	}
	return nil
}

func (r *fakeNodeRepo) CloseSlot(_ context.Context, _ repositories.SQLExecutor, nodeID, slot int) error {
	n, ok := r.nodes[nodeID]
	if !ok {
		return repositories.ErrNodeNotFound
	}
	if slot == 1 {
		n.Slot1Closed = true
	} else {
		n.Slot2Closed = true
	}
	return nil
}

func (r *fakeNodeRepo) SetMatchID(_ context.Context, _ repositories.SQLExecutor, nodeID, matchID int) error {
	n, ok := r.nodes[nodeID]
	if !ok {
		return repositories.ErrNodeNotFound
	}
	n.MatchID = &matchID
	return nil
}

func (r *fakeNodeRepo) ArchiveByTournament(_ context.Context, _ repositories.SQLExecutor, tournamentID int) error {
	for _, n := range r.nodes {
		if n.TournamentID == tournamentID {
			n.Archived = true
		}
	}
	return nil
}


func TestOnMatchFinished_RoutesWinnerAndLoser(t *testing.T) {
	source := &models.BracketNode{
		ID: 1, TournamentID: 1, Side: models.SideWinners, Round: 1,
		NextNodeID: intPtr(2), NextSlot: intPtr(1),
		LoserNextNodeID: intPtr(3), LoserNextSlot: intPtr(2),
	}
	winnersTarget := &models.BracketNode{ID: 2, TournamentID: 1, Side: models.SideWinners, Round: 2, NextNodeID: intPtr(4), NextSlot: intPtr(1)}
	losersTarget := &models.BracketNode{ID: 3, TournamentID: 1, Side: models.SideLosers, Round: 1, NextNodeID: intPtr(4), NextSlot: intPtr(2)}
	nodeRepo := newFakeNodeRepo(source, winnersTarget, losersTarget)
	publisher := &recordingPublisher{}

	svc := &advancementService{
		nodeRepo:  nodeRepo,
		publisher: publisher,
		logger:    testLogger(),
	}

	score := models.Score{A: 2, B: 1}
	match := &models.Match{
		ID: 10, TournamentID: 1, NodeID: intPtr(1),
		P1ID: intPtr(101), P2ID: intPtr(102),
		State: models.MatchCompleted, Score: &score, WinnerID: intPtr(101),
	}
	require.NoError(t, svc.OnMatchFinished(context.Background(), match))

	require.NotNil(t, winnersTarget.Slot1ParticipantID)
	assert.Equal(t, 101, *winnersTarget.Slot1ParticipantID)
	require.NotNil(t, losersTarget.Slot2ParticipantID)
	assert.Equal(t, 102, *losersTarget.Slot2ParticipantID)

	require.Len(t, publisher.events, 1)
	assert.Equal(t, "match.completed", publisher.events[0].eventType)
}

func TestOnMatchFinished_DoubleForfeitClosesDownstreamSlots(t *testing.T) {
	source := &models.BracketNode{
		ID: 1, TournamentID: 1, Side: models.SideWinners, Round: 1,
		NextNodeID: intPtr(2), NextSlot: intPtr(2),
		LoserNextNodeID: intPtr(3), LoserNextSlot: intPtr(1),
	}
	winnersTarget := &models.BracketNode{ID: 2, TournamentID: 1, Side: models.SideWinners, Round: 2, NextNodeID: intPtr(4), NextSlot: intPtr(1)}
	losersTarget := &models.BracketNode{ID: 3, TournamentID: 1, Side: models.SideLosers, Round: 1, NextNodeID: intPtr(4), NextSlot: intPtr(2)}
	nodeRepo := newFakeNodeRepo(source, winnersTarget, losersTarget)

	svc := &advancementService{
		nodeRepo:  nodeRepo,
		publisher: &recordingPublisher{},
		logger:    testLogger(),
	}

	match := &models.Match{
		ID: 10, TournamentID: 1, NodeID: intPtr(1),
		P1ID: intPtr(101), P2ID: intPtr(102),
		State: models.MatchForfeited,
	}
	require.NoError(t, svc.OnMatchFinished(context.Background(), match))

	assert.True(t, winnersTarget.Slot2Closed)
	assert.True(t, losersTarget.Slot1Closed)
}

func TestOnMatchFinished_RootResolutionCompletesTournament(t *testing.T) {
	root := &models.BracketNode{ID: 1, TournamentID: 1, Side: models.SideWinners, Round: 3}
	other := &models.BracketNode{ID: 2, TournamentID: 1, Side: models.SideWinners, Round: 1, NextNodeID: intPtr(1), NextSlot: intPtr(1)}
	nodeRepo := newFakeNodeRepo(root, other)
	tournamentRepo := newFakeTournamentRepo(&models.Tournament{
		ID: 1, Status: models.StatusActive, Version: 2,
	})
	publisher := &recordingPublisher{}

	svc := &advancementService{
		nodeRepo:       nodeRepo,
		tournamentRepo: tournamentRepo,
		publisher:      publisher,
		logger:         testLogger(),
	}

	match := &models.Match{
		ID: 10, TournamentID: 1, NodeID: intPtr(1),
		P1ID: intPtr(101), P2ID: intPtr(102),
		State: models.MatchCompleted, WinnerID: intPtr(101),
	}
	require.NoError(t, svc.OnMatchFinished(context.Background(), match))

	stored, err := tournamentRepo.GetByID(context.Background(), nil, 1)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, stored.Status)
	assert.True(t, root.Archived)
	assert.True(t, other.Archived)

	require.Len(t, publisher.events, 2)
	assert.Equal(t, "tournament.completed", publisher.events[1].eventType)
}

func TestOnMatchFinished_MissingNodeHaltsAdvancement(t *testing.T) {
	svc := &advancementService{
		nodeRepo:  newFakeNodeRepo(),
		publisher: &recordingPublisher{},
		logger:    testLogger(),
	}

	match := &models.Match{
		ID: 10, TournamentID: 1, NodeID: intPtr(99),
		P1ID: intPtr(101), P2ID: intPtr(102),
		State: models.MatchCompleted, WinnerID: intPtr(101),
	}
	err := svc.OnMatchFinished(context.Background(), match)
	require.ErrorIs(t, err, ErrBracketCorrupt)
}

func TestFillSlot_ConflictingOccupantIsCorruption(t *testing.T) {
	target := &models.BracketNode{
		ID: 2, TournamentID: 1, Side: models.SideWinners, Round: 2,
		NextNodeID: intPtr(4), NextSlot: intPtr(1),
		Slot1ParticipantID: intPtr(777),
	}
	svc := &advancementService{
		nodeRepo: newFakeNodeRepo(target),
		logger:   testLogger(),
	}

	// Re-delivering the same participant is an idempotent no-op.
	require.NoError(t, svc.fillSlot(context.Background(), 2, 1, 777))

	err := svc.fillSlot(context.Background(), 2, 1, 101)
	require.ErrorIs(t, err, ErrBracketCorrupt)
}
