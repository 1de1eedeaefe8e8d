package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/clashforge/bracket-engine/config"
	"github.com/clashforge/bracket-engine/models"
	"github.com/clashforge/bracket-engine/repositories"
)

// CreateTournamentParams carries the fields callers may set on creation.
// RulesJSON is validated up front so a malformed rules document fails the
// create instead of the bracket generation weeks later.
type CreateTournamentParams struct {
	Name      string
	Format    models.BracketFormat
	RulesJSON string
	StartDate time.Time
}

type RegisterParticipantParams struct {
	TournamentID int
	UserID       *int
	TeamID       *int
	DisplayName  string

	// Seed is optional; zero means "after everyone seeded so far", i.e. the
	// registration order doubles as the seed.
	Seed int
}

type TournamentService interface {
	Create(ctx context.Context, params CreateTournamentParams) (*models.Tournament, error)
	GetByID(ctx context.Context, id int) (*models.Tournament, error)
	GetSnapshot(ctx context.Context, id int) (*models.Tournament, error)

	OpenRegistration(ctx context.Context, id int) (*models.Tournament, error)
	RegisterParticipant(ctx context.Context, params RegisterParticipantParams) (*models.Participant, error)

	// Start seals registration, generates and persists the bracket and flips
	// the tournament active.
	Start(ctx context.Context, id int) (*models.Tournament, error)
	Cancel(ctx context.Context, id int) error
}

type tournamentService struct {
	tournamentRepo  repositories.TournamentRepository
	participantRepo repositories.ParticipantRepository
	brackets        BracketService
	snapshot        SnapshotService
	rules           *config.RulesResolver
	logger          *slog.Logger
}

func NewTournamentService(
	tournamentRepo repositories.TournamentRepository,
	participantRepo repositories.ParticipantRepository,
	brackets BracketService,
	snapshot SnapshotService,
	rules *config.RulesResolver,
	logger *slog.Logger,
) TournamentService {
	return &tournamentService{
		tournamentRepo:  tournamentRepo,
		participantRepo: participantRepo,
		brackets:        brackets,
		snapshot:        snapshot,
		rules:           rules,
		logger:          logger,
	}
}

func (s *tournamentService) Create(ctx context.Context, params CreateTournamentParams) (*models.Tournament, error) {
	name := strings.TrimSpace(params.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: tournament name is required", ErrValidationFailed)
	}
	if !params.Format.Valid() {
		return nil, fmt.Errorf("%w: unknown bracket format %q", ErrValidationFailed, params.Format)
	}

	rules, err := s.rules.Resolve(params.RulesJSON)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}
	if rules.BracketFormat != params.Format {
		return nil, fmt.Errorf("%w: rules declare format %q, tournament is %q",
			ErrValidationFailed, rules.BracketFormat, params.Format)
	}

	startDate := params.StartDate
	if startDate.IsZero() {
		startDate = time.Now().Add(24 * time.Hour)
	}

	tournament := &models.Tournament{
		Name:      name,
		Format:    params.Format,
		Status:    models.StatusSoon,
		StartDate: startDate,
	}
	if params.RulesJSON != "" {
		rulesJSON := params.RulesJSON
		tournament.RulesJSON = &rulesJSON
	}
	if err := s.tournamentRepo.Create(ctx, nil, tournament); err != nil {
		return nil, fmt.Errorf("failed to create tournament: %w", err)
	}
	s.logger.InfoContext(ctx, "tournament created",
		slog.Int("tournament_id", tournament.ID),
		slog.String("format", string(tournament.Format)))
	return tournament, nil
}

func (s *tournamentService) GetByID(ctx context.Context, id int) (*models.Tournament, error) {
	tournament, err := s.tournamentRepo.GetByID(ctx, nil, id)
	if err != nil {
		if errors.Is(err, repositories.ErrTournamentNotFound) {
			return nil, ErrTournamentNotFound
		}
		return nil, err
	}
	return tournament, nil
}

func (s *tournamentService) GetSnapshot(ctx context.Context, id int) (*models.Tournament, error) {
	return s.snapshot.GetTournamentSnapshot(ctx, id)
}

func (s *tournamentService) setStatus(ctx context.Context, id int, to models.TournamentStatus) (*models.Tournament, error) {
	tournament, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !isValidStatusTransition(tournament.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrTournamentInvalidStatusTransition, tournament.Status, to)
	}
	if err := s.tournamentRepo.UpdateStatusIfVersion(ctx, nil, id, tournament.Version, to); err != nil {
		if errors.Is(err, repositories.ErrTournamentVersionConflict) {
			return nil, fmt.Errorf("%w: tournament %d version contention", ErrConflict, id)
		}
		return nil, err
	}
	tournament.Status = to
	tournament.Version++
	return tournament, nil
}

func (s *tournamentService) OpenRegistration(ctx context.Context, id int) (*models.Tournament, error) {
	return s.setStatus(ctx, id, models.StatusRegistration)
}

func (s *tournamentService) RegisterParticipant(ctx context.Context, params RegisterParticipantParams) (*models.Participant, error) {
	tournament, err := s.GetByID(ctx, params.TournamentID)
	if err != nil {
		return nil, err
	}
	if tournament.Status != models.StatusRegistration {
		return nil, fmt.Errorf("%w: tournament %d is %s", ErrRegistrationNotOpen, tournament.ID, tournament.Status)
	}
	if (params.UserID == nil) == (params.TeamID == nil) {
		return nil, fmt.Errorf("%w: exactly one of user_id or team_id must be set", ErrValidationFailed)
	}
	displayName := strings.TrimSpace(params.DisplayName)
	if displayName == "" {
		return nil, fmt.Errorf("%w: display name is required", ErrValidationFailed)
	}

	registered, err := s.participantRepo.ListByTournament(ctx, nil, params.TournamentID)
	if err != nil {
		return nil, err
	}
	seed := params.Seed
	if seed <= 0 {
		seed = len(registered) + 1
	}

	participant := &models.Participant{
		TournamentID:      params.TournamentID,
		UserID:            params.UserID,
		TeamID:            params.TeamID,
		DisplayName:       displayName,
		Seed:              seed,
		RegistrationOrder: len(registered) + 1,
	}
	if err := s.participantRepo.Create(ctx, nil, participant); err != nil {
		return nil, fmt.Errorf("failed to register participant: %w", err)
	}
	s.logger.InfoContext(ctx, "participant registered",
		slog.Int("tournament_id", params.TournamentID),
		slog.Int("participant_id", participant.ID),
		slog.Int("seed", participant.Seed))
	return participant, nil
}

func (s *tournamentService) Start(ctx context.Context, id int) (*models.Tournament, error) {
	tournament, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if tournament.Status != models.StatusRegistration {
		return nil, fmt.Errorf("%w: %s -> %s", ErrTournamentInvalidStatusTransition, tournament.Status, models.StatusActive)
	}
	return s.brackets.GenerateAndSaveBracket(ctx, id)
}

func (s *tournamentService) Cancel(ctx context.Context, id int) error {
	_, err := s.setStatus(ctx, id, models.StatusCanceled)
	return err
}
