package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/clashforge/bracket-engine/config"
	"github.com/clashforge/bracket-engine/events"
	"github.com/clashforge/bracket-engine/models"
	"github.com/clashforge/bracket-engine/repositories"
)

// Advancer consumes finished matches and moves the tournament forward.
type Advancer interface {
	OnMatchFinished(ctx context.Context, match *models.Match) error
}

// AdvancementService routes winners and losers through the bracket graph,
// creates follow-up matches as nodes fill, keeps group standings current and
// detects tournament completion.
type AdvancementService interface {
	Advancer
}

type advancementService struct {
	db             *sql.DB
	nodeRepo       repositories.BracketNodeRepository
	matchRepo      repositories.MatchRepository
	transitionRepo repositories.TransitionRepository
	tournamentRepo repositories.TournamentRepository
	standings      StandingsService
	rules          *config.RulesResolver
	publisher      events.Publisher
	logger         *slog.Logger
}

func NewAdvancementService(
	db *sql.DB,
	nodeRepo repositories.BracketNodeRepository,
	matchRepo repositories.MatchRepository,
	transitionRepo repositories.TransitionRepository,
	tournamentRepo repositories.TournamentRepository,
	standings StandingsService,
	rules *config.RulesResolver,
	publisher events.Publisher,
	logger *slog.Logger,
) AdvancementService {
	return &advancementService{
		db:             db,
		nodeRepo:       nodeRepo,
		matchRepo:      matchRepo,
		transitionRepo: transitionRepo,
		tournamentRepo: tournamentRepo,
		standings:      standings,
		rules:          rules,
		publisher:      publisher,
		logger:         logger,
	}
}

// OnMatchFinished is invoked after a match reached resolved or forfeited.
// It finalizes the match, routes its outcome and emits events post-commit.
func (a *advancementService) OnMatchFinished(ctx context.Context, match *models.Match) error {
	if match.State == models.MatchResolved {
		if err := a.completeMatch(ctx, match); err != nil {
			return err
		}
	}

	var scoreStr *string
	if match.Score != nil {
		s := match.Score.String()
		scoreStr = &s
	}
	a.publisher.Publish(match.TournamentID, events.TypeMatchCompleted, events.MatchCompleted{
		MatchID:  match.ID,
		WinnerID: match.WinnerID,
		LoserID:  match.LoserID(),
		Score:    scoreStr,
	})

	if match.GroupID != nil {
		return a.advanceGroupPlay(ctx, match)
	}
	if match.NodeID != nil {
		return a.advanceBracket(ctx, match)
	}
	return nil
}

// completeMatch moves a resolved match to completed, logging the transition.
func (a *advancementService) completeMatch(ctx context.Context, match *models.Match) error {
	hash := hashTransitionPayload(models.MatchCompleted, "advance")
	now := time.Now()
	_, err := applyMatchTransition(ctx, a.db, a.matchRepo, a.transitionRepo, match, models.MatchCompleted, hash, func(m *models.Match) {
		if m.CompletedAt == nil {
			m.CompletedAt = &now
		}
	})
	return err
}

// advanceBracket routes the winner (and, for double elimination, the loser)
// out of the finished match's node.
func (a *advancementService) advanceBracket(ctx context.Context, match *models.Match) error {
	node, err := a.nodeRepo.GetByID(ctx, nil, *match.NodeID)
	if err != nil {
		if errors.Is(err, repositories.ErrNodeNotFound) {
			return fmt.Errorf("%w: match %d references missing node %d", ErrBracketCorrupt, match.ID, *match.NodeID)
		}
		return err
	}

	if node.IsRoot() {
		return a.completeElimination(ctx, node.TournamentID, match.WinnerID)
	}

	if match.WinnerID != nil {
		if err := a.fillSlot(ctx, *node.NextNodeID, derefInt(node.NextSlot), *match.WinnerID); err != nil {
			return err
		}
	} else {
		// Double forfeit routes nobody forward.
		if err := a.closeNodeSlot(ctx, *node.NextNodeID, derefInt(node.NextSlot)); err != nil {
			return err
		}
	}

	if node.LoserNextNodeID != nil {
		if loser := match.LoserID(); loser != nil {
			return a.fillSlot(ctx, *node.LoserNextNodeID, derefInt(node.LoserNextSlot), *loser)
		}
		return a.closeNodeSlot(ctx, *node.LoserNextNodeID, derefInt(node.LoserNextSlot))
	}
	return nil
}

// fillSlot assigns a participant into a node slot and evaluates the node:
// both slots filled creates the match, a walkover advances straight through.
// Re-assigning the same participant is a no-op; a different occupant means
// the graph is corrupt and advancement halts.
func (a *advancementService) fillSlot(ctx context.Context, nodeID, slot, participantID int) error {
	node, err := a.nodeRepo.GetByID(ctx, nil, nodeID)
	if err != nil {
		if errors.Is(err, repositories.ErrNodeNotFound) {
			return fmt.Errorf("%w: target node %d does not exist", ErrBracketCorrupt, nodeID)
		}
		return err
	}

	occupant := node.Slot1ParticipantID
	closed := node.Slot1Closed
	if slot == 2 {
		occupant = node.Slot2ParticipantID
		closed = node.Slot2Closed
	}
	if closed {
		return fmt.Errorf("%w: node %d slot %d is closed but received participant %d", ErrBracketCorrupt, nodeID, slot, participantID)
	}
	if occupant != nil {
		if *occupant == participantID {
			return nil
		}
		return fmt.Errorf("%w: node %d slot %d already holds participant %d, got %d", ErrBracketCorrupt, nodeID, slot, *occupant, participantID)
	}

	if err := a.nodeRepo.AssignSlot(ctx, nil, nodeID, slot, participantID); err != nil {
		return err
	}
	if slot == 1 {
		node.Slot1ParticipantID = &participantID
	} else {
		node.Slot2ParticipantID = &participantID
	}

	switch {
	case node.Ready():
		return a.createMatchForNode(ctx, node)
	case node.Walkover():
		return a.advanceWalkover(ctx, node, participantID)
	}
	return nil
}

// closeNodeSlot marks a slot unfillable and cascades: a void node closes its
// own targets, a walkover with an occupant advances that occupant.
func (a *advancementService) closeNodeSlot(ctx context.Context, nodeID, slot int) error {
	node, err := a.nodeRepo.GetByID(ctx, nil, nodeID)
	if err != nil {
		if errors.Is(err, repositories.ErrNodeNotFound) {
			return fmt.Errorf("%w: target node %d does not exist", ErrBracketCorrupt, nodeID)
		}
		return err
	}

	alreadyClosed := node.Slot1Closed
	if slot == 2 {
		alreadyClosed = node.Slot2Closed
	}
	if alreadyClosed {
		return nil
	}

	if err := a.nodeRepo.CloseSlot(ctx, nil, nodeID, slot); err != nil {
		return err
	}
	if slot == 1 {
		node.Slot1Closed = true
	} else {
		node.Slot2Closed = true
	}

	if node.Void() {
		if node.IsRoot() {
			return fmt.Errorf("%w: root node %d became void", ErrBracketCorrupt, node.ID)
		}
		if err := a.closeNodeSlot(ctx, *node.NextNodeID, derefInt(node.NextSlot)); err != nil {
			return err
		}
		if node.LoserNextNodeID != nil {
			return a.closeNodeSlot(ctx, *node.LoserNextNodeID, derefInt(node.LoserNextSlot))
		}
		return nil
	}
	if node.Walkover() {
		occupant := node.Slot1ParticipantID
		if node.Slot1Closed {
			occupant = node.Slot2ParticipantID
		}
		if occupant != nil {
			return a.advanceWalkover(ctx, node, *occupant)
		}
	}
	return nil
}

// advanceWalkover sends a participant through a node that can never host a
// real match. The walkover produces no loser, so any loser routing closes.
func (a *advancementService) advanceWalkover(ctx context.Context, node *models.BracketNode, participantID int) error {
	a.logger.InfoContext(ctx, "walkover advance",
		slog.Int("node_id", node.ID),
		slog.Int("participant_id", participantID))

	if node.LoserNextNodeID != nil {
		if err := a.closeNodeSlot(ctx, *node.LoserNextNodeID, derefInt(node.LoserNextSlot)); err != nil {
			return err
		}
	}
	if node.IsRoot() {
		return a.completeElimination(ctx, node.TournamentID, &participantID)
	}
	return a.fillSlot(ctx, *node.NextNodeID, derefInt(node.NextSlot), participantID)
}

// createMatchForNode materializes the match once both slots are filled.
func (a *advancementService) createMatchForNode(ctx context.Context, node *models.BracketNode) error {
	if node.MatchID != nil {
		return nil
	}
	window, err := a.checkInWindow(ctx, node.TournamentID)
	if err != nil {
		return err
	}

	now := time.Now()
	match := &models.Match{
		TournamentID: node.TournamentID,
		NodeID:       &node.ID,
		Round:        node.Round,
		P1ID:         node.Slot1ParticipantID,
		P2ID:         node.Slot2ParticipantID,
		State:        models.MatchScheduled,
		ScheduledAt:  now,
	}
	if window > 0 {
		deadline := now.Add(window)
		match.CheckInDeadline = &deadline
	}

	return withTx(ctx, a.db, func(tx *sql.Tx) error {
		if err := a.matchRepo.Create(ctx, tx, match); err != nil {
			return err
		}
		return a.nodeRepo.SetMatchID(ctx, tx, node.ID, match.ID)
	})
}

func (a *advancementService) checkInWindow(ctx context.Context, tournamentID int) (time.Duration, error) {
	tournament, err := a.tournamentRepo.GetByID(ctx, nil, tournamentID)
	if err != nil {
		return 0, fmt.Errorf("failed to load tournament %d: %w", tournamentID, err)
	}
	rules, err := a.rules.Resolve(derefString(tournament.RulesJSON))
	if err != nil {
		return 0, fmt.Errorf("failed to resolve rules for tournament %d: %w", tournamentID, err)
	}
	return rules.CheckInWindow(), nil
}

// completeElimination fires when the bracket root resolves.
func (a *advancementService) completeElimination(ctx context.Context, tournamentID int, winnerID *int) error {
	if err := a.tournamentRepo.UpdateStatus(ctx, nil, tournamentID, models.StatusCompleted); err != nil {
		return fmt.Errorf("failed to complete tournament %d: %w", tournamentID, err)
	}
	if err := a.nodeRepo.ArchiveByTournament(ctx, nil, tournamentID); err != nil {
		return fmt.Errorf("failed to archive bracket of tournament %d: %w", tournamentID, err)
	}

	a.publisher.Publish(tournamentID, events.TypeTournamentDone, events.TournamentCompleted{
		TournamentID: tournamentID,
		WinnerID:     winnerID,
	})
	a.logger.InfoContext(ctx, "tournament completed",
		slog.Int("tournament_id", tournamentID),
		slog.Int("winner_id", derefInt(winnerID)))
	return nil
}

// advanceGroupPlay feeds the result into the standings engine and, for pure
// round-robin tournaments, completes the tournament when the last fixture
// settles. Group-stage finalization and swiss round generation stay explicit
// operations on the bracket service.
func (a *advancementService) advanceGroupPlay(ctx context.Context, match *models.Match) error {
	if err := a.standings.ApplyMatchResult(ctx, match); err != nil {
		return err
	}

	tournament, err := a.tournamentRepo.GetByID(ctx, nil, match.TournamentID)
	if err != nil {
		return fmt.Errorf("failed to load tournament %d: %w", match.TournamentID, err)
	}
	if tournament.Format != models.FormatRoundRobin {
		return nil
	}

	remaining, err := a.matchRepo.ListByGroup(ctx, nil, *match.GroupID)
	if err != nil {
		return err
	}
	for _, m := range remaining {
		if !m.State.Terminal() {
			return nil
		}
	}

	final, err := a.standings.RankGroup(ctx, *match.GroupID)
	if err != nil {
		return err
	}

	var winnerID *int
	if len(final) > 0 {
		winnerID = &final[0].ParticipantID
	}
	if err := a.tournamentRepo.UpdateStatus(ctx, nil, match.TournamentID, models.StatusCompleted); err != nil {
		return fmt.Errorf("failed to complete tournament %d: %w", match.TournamentID, err)
	}

	snapshot := make([]models.GroupStanding, len(final))
	for i, s := range final {
		snapshot[i] = *s
	}
	a.publisher.Publish(match.TournamentID, events.TypeTournamentDone, events.TournamentCompleted{
		TournamentID:   match.TournamentID,
		FinalStandings: snapshot,
		WinnerID:       winnerID,
	})
	return nil
}
