package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math/bits"
	"sort"
	"time"

	"github.com/clashforge/bracket-engine/brackets"
	"github.com/clashforge/bracket-engine/config"
	"github.com/clashforge/bracket-engine/events"
	"github.com/clashforge/bracket-engine/models"
	"github.com/clashforge/bracket-engine/repositories"
)

// BracketService turns a registered field into a persisted bracket and runs
// the stage boundaries that are not edge-driven: swiss round generation and
// the group-to-playoff transition.
type BracketService interface {
	// GenerateAndSaveBracket builds the bracket for the tournament's format,
	// persists it in one transaction and flips the tournament active.
	GenerateAndSaveBracket(ctx context.Context, tournamentID int) (*models.Tournament, error)

	// AdvanceSwissRound pairs and persists the next swiss round. The
	// round-boundary barrier is enforced here: any unresolved match of the
	// current round is ErrRoundIncomplete. Once the configured round count
	// has been played the tournament completes instead.
	AdvanceSwissRound(ctx context.Context, tournamentID int) ([]*models.Match, error)

	// BuildPlayoffFromGroups seeds the elimination stage from the finalized
	// group standings, group winners spread apart.
	BuildPlayoffFromGroups(ctx context.Context, tournamentID int) (*models.Tournament, error)
}

type bracketService struct {
	db              *sql.DB
	tournamentRepo  repositories.TournamentRepository
	participantRepo repositories.ParticipantRepository
	nodeRepo        repositories.BracketNodeRepository
	matchRepo       repositories.MatchRepository
	groupRepo       repositories.GroupRepository
	standingRepo    repositories.StandingRepository
	standings       StandingsService
	rules           *config.RulesResolver
	publisher       events.Publisher
	snapshot        SnapshotService
	logger          *slog.Logger
}

func NewBracketService(
	db *sql.DB,
	tournamentRepo repositories.TournamentRepository,
	participantRepo repositories.ParticipantRepository,
	nodeRepo repositories.BracketNodeRepository,
	matchRepo repositories.MatchRepository,
	groupRepo repositories.GroupRepository,
	standingRepo repositories.StandingRepository,
	standings StandingsService,
	rules *config.RulesResolver,
	publisher events.Publisher,
	snapshot SnapshotService,
	logger *slog.Logger,
) BracketService {
	return &bracketService{
		db:              db,
		tournamentRepo:  tournamentRepo,
		participantRepo: participantRepo,
		nodeRepo:        nodeRepo,
		matchRepo:       matchRepo,
		groupRepo:       groupRepo,
		standingRepo:    standingRepo,
		standings:       standings,
		rules:           rules,
		publisher:       publisher,
		snapshot:        snapshot,
		logger:          logger,
	}
}

func (s *bracketService) loadTournament(ctx context.Context, tournamentID int) (*models.Tournament, *config.Rules, error) {
	tournament, err := s.tournamentRepo.GetByID(ctx, nil, tournamentID)
	if err != nil {
		if errors.Is(err, repositories.ErrTournamentNotFound) {
			return nil, nil, ErrTournamentNotFound
		}
		return nil, nil, err
	}
	rules, err := s.rules.Resolve(derefString(tournament.RulesJSON))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to resolve rules for tournament %d: %w", tournamentID, err)
	}
	if rules.BracketFormat != tournament.Format {
		return nil, nil, fmt.Errorf("%w: rules declare format %q, tournament is %q",
			ErrValidationFailed, rules.BracketFormat, tournament.Format)
	}
	return tournament, rules, nil
}

// matchScheduling mirrors how fixtures inherit their times: play starts at
// the tournament's start date unless that already passed, and the check-in
// window counts from the scheduled time.
func matchScheduling(tournament *models.Tournament, rules *config.Rules) (time.Time, *time.Time) {
	scheduledAt := tournament.StartDate
	if time.Now().After(scheduledAt) {
		scheduledAt = time.Now().Add(15 * time.Minute)
	}
	if rules.CheckInWindow() <= 0 {
		return scheduledAt, nil
	}
	deadline := scheduledAt.Add(rules.CheckInWindow())
	return scheduledAt, &deadline
}

// initialStatBag seeds the derivable tiebreaker fields at zero. Fields the
// engine cannot derive from match scores stay absent and surface through
// ErrMissingStatField when a non-optional one is ranked on.
func initialStatBag(rules *config.Rules) map[string]int {
	bag := make(map[string]int)
	for _, field := range rules.StatFields() {
		switch field {
		case "score_for", "score_against", "score_diff":
			bag[field] = 0
		}
	}
	return bag
}

func (s *bracketService) GenerateAndSaveBracket(ctx context.Context, tournamentID int) (*models.Tournament, error) {
	tournament, rules, err := s.loadTournament(ctx, tournamentID)
	if err != nil {
		return nil, err
	}
	if tournament.Status != models.StatusRegistration {
		return nil, fmt.Errorf("%w: tournament %d is %s", ErrTournamentInvalidStatusTransition, tournamentID, tournament.Status)
	}

	participants, err := s.participantRepo.ListByTournament(ctx, nil, tournamentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants for tournament %d: %w", tournamentID, err)
	}
	if len(participants) < 2 {
		return nil, fmt.Errorf("%w: found %d", brackets.ErrNotEnoughParticipants, len(participants))
	}

	generator, err := brackets.ForFormat(tournament.Format)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "generating bracket",
		slog.Int("tournament_id", tournamentID),
		slog.String("format", generator.GetName()),
		slog.Int("participants", len(participants)))

	blueprint, err := generator.GenerateBracket(ctx, brackets.GenerateBracketParams{
		Tournament:   tournament,
		Participants: participants,
		Rules:        rules,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate bracket for tournament %d: %w", tournamentID, err)
	}

	scheduledAt, checkInDeadline := matchScheduling(tournament, rules)

	err = withTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := s.persistNodes(ctx, tx, tournament, blueprint.Nodes, scheduledAt, checkInDeadline); err != nil {
			return err
		}

		groupIDs, err := s.persistGroups(ctx, tx, tournament, rules, blueprint, participants)
		if err != nil {
			return err
		}
		if err := s.persistFixtures(ctx, tx, tournament, rules, blueprint.Matches, groupIDs, scheduledAt, checkInDeadline); err != nil {
			return err
		}

		return s.tournamentRepo.UpdateStatusIfVersion(ctx, tx, tournamentID, tournament.Version, models.StatusActive)
	})
	if err != nil {
		if errors.Is(err, repositories.ErrTournamentVersionConflict) {
			return nil, fmt.Errorf("%w: tournament %d version contention", ErrConflict, tournamentID)
		}
		return nil, err
	}

	return s.snapshot.GetTournamentSnapshot(ctx, tournamentID)
}

// persistNodes is the two-pass save: create every node first so ids exist,
// then resolve the blueprint's UID links into stable node ids. Round-one
// nodes with both slots filled get their match rows immediately.
func (s *bracketService) persistNodes(
	ctx context.Context,
	tx *sql.Tx,
	tournament *models.Tournament,
	nodeBlueprints []*brackets.NodeBlueprint,
	scheduledAt time.Time,
	checkInDeadline *time.Time,
) error {
	if len(nodeBlueprints) == 0 {
		return nil
	}

	created := make(map[string]*models.BracketNode, len(nodeBlueprints))
	for _, nb := range nodeBlueprints {
		node := &models.BracketNode{
			TournamentID:       tournament.ID,
			Side:               nb.Side,
			Round:              nb.Round,
			OrderInRound:       nb.OrderInRound,
			Slot1ParticipantID: nb.Participant1ID,
			Slot2ParticipantID: nb.Participant2ID,
			IsBye:              nb.IsBye,
			ByeParticipantID:   nb.ByeParticipantID,
			Slot1Closed:        nb.Slot1Closed,
			Slot2Closed:        nb.Slot2Closed,
		}
		if err := s.nodeRepo.Create(ctx, tx, node); err != nil {
			return fmt.Errorf("failed to create bracket node %s: %w", nb.UID, err)
		}
		created[nb.UID] = node
	}

	for _, nb := range nodeBlueprints {
		node := created[nb.UID]
		var nextNodeID, nextSlot, loserNextNodeID, loserNextSlot *int
		if nb.WinnerTargetUID != nil {
			target, ok := created[*nb.WinnerTargetUID]
			if !ok {
				return fmt.Errorf("%w: node %s links to unknown node %s", ErrBracketCorrupt, nb.UID, *nb.WinnerTargetUID)
			}
			nextNodeID = &target.ID
			nextSlot = intPtr(nb.WinnerTargetSlot)
		}
		if nb.LoserTargetUID != nil {
			target, ok := created[*nb.LoserTargetUID]
			if !ok {
				return fmt.Errorf("%w: node %s loser-links to unknown node %s", ErrBracketCorrupt, nb.UID, *nb.LoserTargetUID)
			}
			loserNextNodeID = &target.ID
			loserNextSlot = intPtr(nb.LoserTargetSlot)
		}
		if nextNodeID == nil && loserNextNodeID == nil {
			continue
		}
		if err := s.nodeRepo.UpdateLinks(ctx, tx, node.ID, nextNodeID, nextSlot, loserNextNodeID, loserNextSlot); err != nil {
			return fmt.Errorf("failed to link bracket node %s: %w", nb.UID, err)
		}
	}

	for _, nb := range nodeBlueprints {
		node := created[nb.UID]
		if !node.Ready() {
			continue
		}
		match := &models.Match{
			TournamentID:    tournament.ID,
			NodeID:          &node.ID,
			Round:           node.Round,
			P1ID:            node.Slot1ParticipantID,
			P2ID:            node.Slot2ParticipantID,
			State:           models.MatchScheduled,
			ScheduledAt:     scheduledAt,
			CheckInDeadline: checkInDeadline,
		}
		if err := s.matchRepo.Create(ctx, tx, match); err != nil {
			return fmt.Errorf("failed to create match for node %s: %w", nb.UID, err)
		}
		if err := s.nodeRepo.SetMatchID(ctx, tx, node.ID, match.ID); err != nil {
			return err
		}
	}
	return nil
}

// persistGroups materializes group rows: the blueprint's groups for the
// group stage, or one implicit pool for round-robin and swiss so the same
// standings machinery serves every non-elimination format. Returns blueprint
// group index -> group id, with -1 holding the implicit pool.
func (s *bracketService) persistGroups(
	ctx context.Context,
	tx *sql.Tx,
	tournament *models.Tournament,
	rules *config.Rules,
	blueprint *brackets.Blueprint,
	participants []*models.Participant,
) (map[int]int, error) {
	groupIDs := make(map[int]int)

	createGroup := func(name string, orderIndex int, memberIDs []int) (int, error) {
		group := &models.Group{
			TournamentID: tournament.ID,
			Name:         name,
			OrderIndex:   orderIndex,
			StatFields:   rules.StatFields(),
		}
		if err := s.groupRepo.Create(ctx, tx, group); err != nil {
			return 0, fmt.Errorf("failed to create group %q: %w", name, err)
		}
		standings := make([]*models.GroupStanding, 0, len(memberIDs))
		for _, pid := range memberIDs {
			if err := s.participantRepo.AssignGroup(ctx, tx, pid, group.ID); err != nil {
				return 0, err
			}
			standings = append(standings, &models.GroupStanding{
				GroupID:       group.ID,
				ParticipantID: pid,
				Stats:         initialStatBag(rules),
			})
		}
		if err := s.standingRepo.BatchCreate(ctx, tx, standings); err != nil {
			return 0, err
		}
		return group.ID, nil
	}

	for _, gb := range blueprint.Groups {
		id, err := createGroup(gb.Name, gb.OrderIndex, gb.ParticipantIDs)
		if err != nil {
			return nil, err
		}
		groupIDs[gb.OrderIndex] = id
	}

	needsImplicitPool := len(blueprint.Groups) == 0 && len(blueprint.Matches) > 0
	if needsImplicitPool {
		memberIDs := make([]int, len(participants))
		for i, p := range participants {
			memberIDs[i] = p.ID
		}
		id, err := createGroup("Main", 0, memberIDs)
		if err != nil {
			return nil, err
		}
		groupIDs[-1] = id
	}
	return groupIDs, nil
}

// persistFixtures writes the pre-paired matches. A sit-out fixture lands as
// an already-completed row and its recipient's standing is credited with the
// win immediately, so group points and swiss pairing scores always agree.
func (s *bracketService) persistFixtures(
	ctx context.Context,
	tx *sql.Tx,
	tournament *models.Tournament,
	rules *config.Rules,
	fixtures []*brackets.MatchBlueprint,
	groupIDs map[int]int,
	scheduledAt time.Time,
	checkInDeadline *time.Time,
) error {
	now := time.Now()
	for _, mb := range fixtures {
		groupIdx := -1
		if mb.GroupIndex != nil {
			groupIdx = *mb.GroupIndex
		}
		groupID, ok := groupIDs[groupIdx]
		if !ok {
			return fmt.Errorf("%w: fixture %s references unknown group index %d", ErrBracketCorrupt, mb.UID, groupIdx)
		}

		match := &models.Match{
			TournamentID: tournament.ID,
			GroupID:      &groupID,
			Round:        mb.Round,
		}
		if mb.ByeParticipantID != nil {
			match.P1ID = mb.ByeParticipantID
			match.WinnerID = mb.ByeParticipantID
			match.State = models.MatchCompleted
			match.ScheduledAt = now
			match.CompletedAt = &now
		} else {
			match.P1ID = intPtr(mb.Participant1ID)
			match.P2ID = intPtr(mb.Participant2ID)
			match.State = models.MatchScheduled
			match.ScheduledAt = scheduledAt
			match.CheckInDeadline = checkInDeadline
		}
		if err := s.matchRepo.Create(ctx, tx, match); err != nil {
			return fmt.Errorf("failed to create fixture %s: %w", mb.UID, err)
		}
		if mb.ByeParticipantID != nil {
			row, err := s.standingRepo.GetByGroupAndParticipant(ctx, tx, groupID, *mb.ByeParticipantID)
			if err != nil {
				return fmt.Errorf("failed to load standing for bye participant %d: %w", *mb.ByeParticipantID, err)
			}
			applyByeDelta(row, rules)
			if err := s.standingRepo.Update(ctx, tx, row); err != nil {
				return err
			}
		}
		if mb.RepeatPairing {
			s.logger.WarnContext(ctx, "swiss fixture repeats an earlier pairing",
				slog.Int("match_id", match.ID),
				slog.Int("round", mb.Round))
		}
	}
	return nil
}

// defaultSwissRounds is ceil(log2(n)), enough rounds to separate a single
// undefeated leader.
func defaultSwissRounds(n int) int {
	if n < 2 {
		return 0
	}
	return bits.Len(uint(n - 1))
}

func (s *bracketService) AdvanceSwissRound(ctx context.Context, tournamentID int) ([]*models.Match, error) {
	tournament, rules, err := s.loadTournament(ctx, tournamentID)
	if err != nil {
		return nil, err
	}
	if tournament.Format != models.FormatSwiss {
		return nil, fmt.Errorf("%w: tournament %d is %s, swiss rounds require swiss", ErrValidationFailed, tournamentID, tournament.Format)
	}
	if tournament.Status != models.StatusActive {
		return nil, fmt.Errorf("%w: tournament %d is %s", ErrTournamentNotActive, tournamentID, tournament.Status)
	}

	matches, err := s.matchRepo.ListByTournament(ctx, nil, tournamentID, nil, nil)
	if err != nil {
		return nil, err
	}
	currentRound := 0
	for _, m := range matches {
		if m.Round > currentRound {
			currentRound = m.Round
		}
	}
	for _, m := range matches {
		if !m.State.Terminal() {
			return nil, fmt.Errorf("%w: match %d in round %d is %s", brackets.ErrRoundIncomplete, m.ID, m.Round, m.State)
		}
	}

	participants, err := s.participantRepo.ListByTournament(ctx, nil, tournamentID)
	if err != nil {
		return nil, err
	}
	targetRounds := rules.SwissRounds
	if targetRounds == 0 {
		targetRounds = defaultSwissRounds(len(participants))
	}
	if currentRound >= targetRounds {
		return nil, s.completeSwiss(ctx, tournament)
	}

	standings := buildSwissStandings(participants, matches)
	fixtures, err := brackets.PairSwissRound(standings, currentRound+1)
	if err != nil {
		return nil, err
	}

	groups, err := s.groupRepo.ListByTournament(ctx, nil, tournamentID)
	if err != nil {
		return nil, err
	}
	if len(groups) == 0 {
		return nil, fmt.Errorf("%w: swiss tournament %d has no standings pool", ErrBracketCorrupt, tournamentID)
	}
	groupIDs := map[int]int{-1: groups[0].ID}

	scheduledAt, checkInDeadline := matchScheduling(tournament, rules)
	err = withTx(ctx, s.db, func(tx *sql.Tx) error {
		return s.persistFixtures(ctx, tx, tournament, rules, fixtures, groupIDs, scheduledAt, checkInDeadline)
	})
	if err != nil {
		return nil, err
	}

	round := currentRound + 1
	return s.matchRepo.ListByTournament(ctx, nil, tournamentID, &round, nil)
}

// buildSwissStandings reconstructs the running swiss records from the match
// history: wins and byes score one, repeat protection comes from the
// opponent sets.
func buildSwissStandings(participants []*models.Participant, matches []*models.Match) []*brackets.SwissStanding {
	byID := make(map[int]*brackets.SwissStanding, len(participants))
	standings := make([]*brackets.SwissStanding, 0, len(participants))
	for _, p := range participants {
		st := &brackets.SwissStanding{
			ParticipantID: p.ID,
			Seed:          p.Seed,
			Opponents:     make(map[int]bool),
		}
		byID[p.ID] = st
		standings = append(standings, st)
	}

	for _, m := range matches {
		if !m.State.Terminal() || m.State == models.MatchCancelled {
			continue
		}
		if m.P2ID == nil {
			// Sit-out fixture.
			if m.P1ID != nil {
				if st := byID[*m.P1ID]; st != nil {
					st.HadBye = true
					st.Score++
				}
			}
			continue
		}
		if m.P1ID != nil && m.P2ID != nil {
			if a, b := byID[*m.P1ID], byID[*m.P2ID]; a != nil && b != nil {
				a.Opponents[b.ParticipantID] = true
				b.Opponents[a.ParticipantID] = true
			}
		}
		if m.WinnerID != nil {
			if st := byID[*m.WinnerID]; st != nil {
				st.Score++
			}
		}
	}
	return standings
}

func (s *bracketService) completeSwiss(ctx context.Context, tournament *models.Tournament) error {
	groups, err := s.groupRepo.ListByTournament(ctx, nil, tournament.ID)
	if err != nil {
		return err
	}
	if len(groups) == 0 {
		return fmt.Errorf("%w: swiss tournament %d has no standings pool", ErrBracketCorrupt, tournament.ID)
	}

	// Full rebuild rather than a rank of the incremental rows: the final
	// standings must account for every terminal fixture, byes included.
	final, err := s.standings.RecalculateGroup(ctx, groups[0].ID)
	if err != nil {
		return err
	}
	if err := s.tournamentRepo.UpdateStatus(ctx, nil, tournament.ID, models.StatusCompleted); err != nil {
		return err
	}

	var winnerID *int
	if len(final) > 0 {
		winnerID = &final[0].ParticipantID
	}
	snapshot := make([]models.GroupStanding, len(final))
	for i, row := range final {
		snapshot[i] = *row
	}
	s.publisher.Publish(tournament.ID, events.TypeTournamentDone, events.TournamentCompleted{
		TournamentID:   tournament.ID,
		FinalStandings: snapshot,
		WinnerID:       winnerID,
	})
	s.logger.InfoContext(ctx, "swiss tournament completed",
		slog.Int("tournament_id", tournament.ID),
		slog.Int("winner_id", derefInt(winnerID)))
	return nil
}

func (s *bracketService) BuildPlayoffFromGroups(ctx context.Context, tournamentID int) (*models.Tournament, error) {
	tournament, rules, err := s.loadTournament(ctx, tournamentID)
	if err != nil {
		return nil, err
	}
	if tournament.Format != models.FormatGroupThenPlayoff {
		return nil, fmt.Errorf("%w: tournament %d is %s, playoff build requires group_then_playoff", ErrValidationFailed, tournamentID, tournament.Format)
	}
	if tournament.Status != models.StatusActive {
		return nil, fmt.Errorf("%w: tournament %d is %s", ErrTournamentNotActive, tournamentID, tournament.Status)
	}

	existing, err := s.nodeRepo.ListByTournament(ctx, nil, tournamentID)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return nil, fmt.Errorf("%w: playoff bracket already exists for tournament %d", ErrValidationFailed, tournamentID)
	}

	groups, err := s.groupRepo.ListByTournament(ctx, nil, tournamentID)
	if err != nil {
		return nil, err
	}
	if len(groups) == 0 {
		return nil, fmt.Errorf("%w: tournament %d has no groups", ErrGroupNotFound, tournamentID)
	}

	type advancer struct {
		participantID int
		rank          int
		groupOrder    int
	}
	var advancing []advancer
	for _, group := range groups {
		if !group.Finalized {
			return nil, fmt.Errorf("%w: group %d (%s) is not finalized", ErrGroupNotFinalizable, group.ID, group.Name)
		}
		rows, err := s.standingRepo.ListByGroup(ctx, nil, group.ID)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			if row.Advancing && row.Rank != nil {
				advancing = append(advancing, advancer{
					participantID: row.ParticipantID,
					rank:          *row.Rank,
					groupOrder:    group.OrderIndex,
				})
			}
		}
	}

	// Group winners first, then runners-up, within a rank by group order, so
	// the elimination seeding keeps winners apart.
	sort.Slice(advancing, func(i, j int) bool {
		if advancing[i].rank != advancing[j].rank {
			return advancing[i].rank < advancing[j].rank
		}
		return advancing[i].groupOrder < advancing[j].groupOrder
	})

	seeded := make([]*models.Participant, 0, len(advancing))
	for _, adv := range advancing {
		participant, err := s.participantRepo.GetByID(ctx, nil, adv.participantID)
		if err != nil {
			return nil, err
		}
		seeded = append(seeded, participant)
	}

	blueprint, err := brackets.BuildPlayoff(seeded)
	if err != nil {
		return nil, err
	}

	scheduledAt, checkInDeadline := matchScheduling(tournament, rules)
	err = withTx(ctx, s.db, func(tx *sql.Tx) error {
		return s.persistNodes(ctx, tx, tournament, blueprint.Nodes, scheduledAt, checkInDeadline)
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "playoff bracket built",
		slog.Int("tournament_id", tournamentID),
		slog.Int("advancing", len(seeded)))
	return s.snapshot.GetTournamentSnapshot(ctx, tournamentID)
}
