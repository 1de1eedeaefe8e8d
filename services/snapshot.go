package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/clashforge/bracket-engine/models"
	"github.com/clashforge/bracket-engine/repositories"
)

// SnapshotService assembles the full read model of a tournament: the root
// row plus participants, bracket nodes, matches and groups, loaded in
// parallel.
type SnapshotService interface {
	GetTournamentSnapshot(ctx context.Context, tournamentID int) (*models.Tournament, error)
}

type snapshotService struct {
	tournamentRepo  repositories.TournamentRepository
	participantRepo repositories.ParticipantRepository
	nodeRepo        repositories.BracketNodeRepository
	matchRepo       repositories.MatchRepository
	groupRepo       repositories.GroupRepository
	logger          *slog.Logger
}

func NewSnapshotService(
	tournamentRepo repositories.TournamentRepository,
	participantRepo repositories.ParticipantRepository,
	nodeRepo repositories.BracketNodeRepository,
	matchRepo repositories.MatchRepository,
	groupRepo repositories.GroupRepository,
	logger *slog.Logger,
) SnapshotService {
	return &snapshotService{
		tournamentRepo:  tournamentRepo,
		participantRepo: participantRepo,
		nodeRepo:        nodeRepo,
		matchRepo:       matchRepo,
		groupRepo:       groupRepo,
		logger:          logger,
	}
}

func (s *snapshotService) GetTournamentSnapshot(ctx context.Context, tournamentID int) (*models.Tournament, error) {
	tournament, err := s.tournamentRepo.GetByID(ctx, nil, tournamentID)
	if err != nil {
		if errors.Is(err, repositories.ErrTournamentNotFound) {
			return nil, ErrTournamentNotFound
		}
		return nil, err
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		participants, err := s.participantRepo.ListByTournament(gCtx, nil, tournamentID)
		if err != nil {
			return fmt.Errorf("failed to load participants for tournament %d: %w", tournamentID, err)
		}
		tournament.Participants = make([]models.Participant, len(participants))
		for i, p := range participants {
			tournament.Participants[i] = *p
		}
		return nil
	})

	g.Go(func() error {
		nodes, err := s.nodeRepo.ListByTournament(gCtx, nil, tournamentID)
		if err != nil {
			return fmt.Errorf("failed to load bracket nodes for tournament %d: %w", tournamentID, err)
		}
		tournament.Nodes = make([]models.BracketNode, len(nodes))
		for i, n := range nodes {
			tournament.Nodes[i] = *n
		}
		return nil
	})

	g.Go(func() error {
		matches, err := s.matchRepo.ListByTournament(gCtx, nil, tournamentID, nil, nil)
		if err != nil {
			return fmt.Errorf("failed to load matches for tournament %d: %w", tournamentID, err)
		}
		tournament.Matches = make([]models.Match, len(matches))
		for i, m := range matches {
			tournament.Matches[i] = *m
		}
		return nil
	})

	g.Go(func() error {
		groups, err := s.groupRepo.ListByTournament(gCtx, nil, tournamentID)
		if err != nil {
			return fmt.Errorf("failed to load groups for tournament %d: %w", tournamentID, err)
		}
		tournament.Groups = make([]models.Group, len(groups))
		for i, grp := range groups {
			tournament.Groups[i] = *grp
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		s.logger.ErrorContext(ctx, "tournament snapshot load failed",
			slog.Int("tournament_id", tournamentID),
			slog.Any("error", err))
		return nil, err
	}
	return tournament, nil
}
