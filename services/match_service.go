package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/clashforge/bracket-engine/config"
	"github.com/clashforge/bracket-engine/models"
	"github.com/clashforge/bracket-engine/repositories"
)

// allowedMatchTransitions is the full lifecycle table. Anything not listed is
// rejected with ErrInvalidTransition; terminal states allow nothing.
var allowedMatchTransitions = map[models.MatchState][]models.MatchState{
	models.MatchScheduled:     {models.MatchCheckedIn, models.MatchLive, models.MatchForfeited, models.MatchCancelled},
	models.MatchCheckedIn:     {models.MatchLive, models.MatchForfeited, models.MatchCancelled},
	models.MatchLive:          {models.MatchPendingResult, models.MatchDisputed, models.MatchForfeited, models.MatchCancelled},
	models.MatchPendingResult: {models.MatchResolved, models.MatchDisputed, models.MatchForfeited, models.MatchCancelled},
	models.MatchDisputed:      {models.MatchResolved, models.MatchLive, models.MatchForfeited, models.MatchCancelled},
	models.MatchResolved:      {models.MatchCompleted},
	models.MatchCompleted:     {},
	models.MatchForfeited:     {},
	models.MatchCancelled:     {},
}

func matchTransitionAllowed(from, to models.MatchState) bool {
	for _, allowed := range allowedMatchTransitions[from] {
		if to == allowed {
			return true
		}
	}
	return false
}

type MatchService interface {
	GetByID(ctx context.Context, matchID int) (*models.Match, error)
	ListByTournament(ctx context.Context, tournamentID int, round *int, state *models.MatchState) ([]*models.Match, error)

	CheckIn(ctx context.Context, matchID, participantID int) (*models.Match, error)
	Start(ctx context.Context, matchID int) (*models.Match, error)
	Forfeit(ctx context.Context, matchID, forfeitingParticipantID int) (*models.Match, error)
	Cancel(ctx context.Context, matchID int) (*models.Match, error)

	// ExpireCheckIns forfeits every scheduled match whose check-in deadline
	// passed before now. Returns the number of matches acted on.
	ExpireCheckIns(ctx context.Context, now time.Time) (int, error)
}

type matchService struct {
	db             *sql.DB
	matchRepo      repositories.MatchRepository
	transitionRepo repositories.TransitionRepository
	tournamentRepo repositories.TournamentRepository
	rules          *config.RulesResolver
	advancer       Advancer
	locks          *MatchLocks
	logger         *slog.Logger
}

func NewMatchService(
	db *sql.DB,
	matchRepo repositories.MatchRepository,
	transitionRepo repositories.TransitionRepository,
	tournamentRepo repositories.TournamentRepository,
	rules *config.RulesResolver,
	advancer Advancer,
	locks *MatchLocks,
	logger *slog.Logger,
) MatchService {
	return &matchService{
		db:             db,
		matchRepo:      matchRepo,
		transitionRepo: transitionRepo,
		tournamentRepo: tournamentRepo,
		rules:          rules,
		advancer:       advancer,
		locks:          locks,
		logger:         logger,
	}
}

func (s *matchService) GetByID(ctx context.Context, matchID int) (*models.Match, error) {
	match, err := s.matchRepo.GetByID(ctx, nil, matchID)
	if err != nil {
		if errors.Is(err, repositories.ErrMatchNotFound) {
			return nil, ErrMatchNotFound
		}
		return nil, err
	}
	return match, nil
}

func (s *matchService) ListByTournament(ctx context.Context, tournamentID int, round *int, state *models.MatchState) ([]*models.Match, error) {
	matches, err := s.matchRepo.ListByTournament(ctx, nil, tournamentID, round, state)
	if err != nil {
		return nil, fmt.Errorf("failed to list matches for tournament %d: %w", tournamentID, err)
	}
	if matches == nil {
		return []*models.Match{}, nil
	}
	return matches, nil
}

func (s *matchService) applyTransition(ctx context.Context, match *models.Match, toState models.MatchState, payloadHash string, mutate func(*models.Match)) (bool, error) {
	return applyMatchTransition(ctx, s.db, s.matchRepo, s.transitionRepo, match, toState, payloadHash, mutate)
}

func (s *matchService) CheckIn(ctx context.Context, matchID, participantID int) (*models.Match, error) {
	unlock := s.locks.Lock(matchID)
	defer unlock()

	match, err := s.GetByID(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if err := s.expireIfNeeded(ctx, match, time.Now()); err != nil {
		return nil, err
	}
	if match.State.Terminal() {
		return nil, fmt.Errorf("%w: check-in window for match %d", ErrWindowExpired, matchID)
	}
	if match.State != models.MatchScheduled {
		return nil, fmt.Errorf("%w: match %d is %s, check-in requires scheduled", ErrInvalidTransition, matchID, match.State)
	}

	side := match.SideOf(participantID)
	if side == 0 {
		return nil, fmt.Errorf("%w: participant %d in match %d", ErrNotInMatch, participantID, matchID)
	}

	alreadyChecked := (side == 1 && match.P1CheckedIn) || (side == 2 && match.P2CheckedIn)
	if alreadyChecked {
		return match, nil
	}

	otherChecked := (side == 1 && match.P2CheckedIn) || (side == 2 && match.P1CheckedIn)
	setCheckIn := func(m *models.Match) {
		if side == 1 {
			m.P1CheckedIn = true
		} else {
			m.P2CheckedIn = true
		}
	}

	if otherChecked {
		hash := hashTransitionPayload(models.MatchCheckedIn, strconv.Itoa(participantID))
		if _, err := s.applyTransition(ctx, match, models.MatchCheckedIn, hash, setCheckIn); err != nil {
			return nil, err
		}
		return match, nil
	}

	setCheckIn(match)
	if err := s.matchRepo.Update(ctx, nil, match); err != nil {
		if errors.Is(err, repositories.ErrMatchVersionConflict) {
			// Lost the race, likely against the other side's check-in.
			// Re-enter with the fresh row still scheduled.
			return s.checkInRetry(ctx, matchID, participantID)
		}
		return nil, err
	}
	return match, nil
}

// checkInRetry retries a check-in after a version conflict. The caller still
// holds the match lock, so a second conflict means an external writer and
// surfaces as ErrConflict.
func (s *matchService) checkInRetry(ctx context.Context, matchID, participantID int) (*models.Match, error) {
	match, err := s.GetByID(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if match.State != models.MatchScheduled {
		return nil, fmt.Errorf("%w: match %d is %s, check-in requires scheduled", ErrInvalidTransition, matchID, match.State)
	}
	side := match.SideOf(participantID)
	if side == 0 {
		return nil, fmt.Errorf("%w: participant %d in match %d", ErrNotInMatch, participantID, matchID)
	}
	if side == 1 {
		match.P1CheckedIn = true
	} else {
		match.P2CheckedIn = true
	}
	if err := s.matchRepo.Update(ctx, nil, match); err != nil {
		if errors.Is(err, repositories.ErrMatchVersionConflict) {
			return nil, fmt.Errorf("%w: match %d version contention", ErrConflict, matchID)
		}
		return nil, err
	}
	return match, nil
}

func (s *matchService) Start(ctx context.Context, matchID int) (*models.Match, error) {
	unlock := s.locks.Lock(matchID)
	defer unlock()

	match, err := s.GetByID(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if err := s.expireIfNeeded(ctx, match, time.Now()); err != nil {
		return nil, err
	}

	switch match.State {
	case models.MatchCheckedIn:
	case models.MatchScheduled:
		// A match with no check-in window starts directly.
		if match.CheckInDeadline != nil {
			return nil, fmt.Errorf("%w: match %d requires check-in before start", ErrInvalidTransition, matchID)
		}
	default:
		return nil, fmt.Errorf("%w: match %d cannot start from %s", ErrInvalidTransition, matchID, match.State)
	}

	hash := hashTransitionPayload(models.MatchLive, "start")
	now := time.Now()
	if _, err := s.applyTransition(ctx, match, models.MatchLive, hash, func(m *models.Match) {
		m.StartedAt = &now
	}); err != nil {
		return nil, err
	}
	return match, nil
}

func (s *matchService) Forfeit(ctx context.Context, matchID, forfeitingParticipantID int) (*models.Match, error) {
	unlock := s.locks.Lock(matchID)
	defer unlock()

	match, err := s.GetByID(ctx, matchID)
	if err != nil {
		return nil, err
	}

	side := match.SideOf(forfeitingParticipantID)
	if side == 0 {
		return nil, fmt.Errorf("%w: participant %d in match %d", ErrNotInMatch, forfeitingParticipantID, matchID)
	}
	var winnerID *int
	if side == 1 {
		winnerID = match.P2ID
	} else {
		winnerID = match.P1ID
	}

	hash := hashTransitionPayload(models.MatchForfeited, strconv.Itoa(forfeitingParticipantID))
	now := time.Now()
	replayed, err := s.applyTransition(ctx, match, models.MatchForfeited, hash, func(m *models.Match) {
		m.WinnerID = winnerID
		m.CompletedAt = &now
	})
	if err != nil {
		return nil, err
	}
	if !replayed {
		if err := s.advancer.OnMatchFinished(ctx, match); err != nil {
			return nil, fmt.Errorf("failed to advance after forfeit of match %d: %w", matchID, err)
		}
	}
	return match, nil
}

func (s *matchService) Cancel(ctx context.Context, matchID int) (*models.Match, error) {
	unlock := s.locks.Lock(matchID)
	defer unlock()

	match, err := s.GetByID(ctx, matchID)
	if err != nil {
		return nil, err
	}

	hash := hashTransitionPayload(models.MatchCancelled, "cancel")
	now := time.Now()
	if _, err := s.applyTransition(ctx, match, models.MatchCancelled, hash, func(m *models.Match) {
		m.CompletedAt = &now
	}); err != nil {
		return nil, err
	}
	return match, nil
}

func (s *matchService) ExpireCheckIns(ctx context.Context, now time.Time) (int, error) {
	expired, err := s.matchRepo.ListCheckInExpired(ctx, nil, now)
	if err != nil {
		return 0, fmt.Errorf("failed to list expired check-ins: %w", err)
	}

	acted := 0
	for _, stale := range expired {
		unlock := s.locks.Lock(stale.ID)
		match, err := s.GetByID(ctx, stale.ID)
		if err != nil {
			unlock()
			return acted, err
		}
		if err := s.expireIfNeeded(ctx, match, now); err != nil {
			unlock()
			return acted, err
		}
		if match.State.Terminal() || match.CheckInDeadline == nil {
			acted++
		}
		unlock()
	}
	return acted, nil
}

// expireIfNeeded applies the check-in deadline lazily: any operation touching
// a stale scheduled match settles it first, so correctness never depends on
// the periodic sweep having run.
func (s *matchService) expireIfNeeded(ctx context.Context, match *models.Match, now time.Time) error {
	if match.State != models.MatchScheduled || match.CheckInDeadline == nil || now.Before(*match.CheckInDeadline) {
		return nil
	}

	switch {
	case match.P1CheckedIn && !match.P2CheckedIn:
		return s.expireForfeit(ctx, match, match.P1ID, now)
	case match.P2CheckedIn && !match.P1CheckedIn:
		return s.expireForfeit(ctx, match, match.P2ID, now)
	case !match.P1CheckedIn && !match.P2CheckedIn:
		return s.expireNoShow(ctx, match, now)
	}
	return nil
}

func (s *matchService) expireForfeit(ctx context.Context, match *models.Match, winnerID *int, now time.Time) error {
	hash := hashTransitionPayload(models.MatchForfeited, "check_in_expired", strconv.Itoa(derefInt(winnerID)))
	replayed, err := s.applyTransition(ctx, match, models.MatchForfeited, hash, func(m *models.Match) {
		m.WinnerID = winnerID
		m.CompletedAt = &now
	})
	if err != nil {
		return err
	}
	if !replayed {
		if err := s.advancer.OnMatchFinished(ctx, match); err != nil {
			return fmt.Errorf("failed to advance after check-in forfeit of match %d: %w", match.ID, err)
		}
	}
	s.logger.InfoContext(ctx, "check-in window expired, no-show forfeited",
		slog.Int("match_id", match.ID),
		slog.Int("winner_id", derefInt(winnerID)))
	return nil
}

func (s *matchService) expireNoShow(ctx context.Context, match *models.Match, now time.Time) error {
	tournament, err := s.tournamentRepo.GetByID(ctx, nil, match.TournamentID)
	if err != nil {
		return fmt.Errorf("failed to load tournament %d for no-show policy: %w", match.TournamentID, err)
	}
	rules, err := s.rules.Resolve(derefString(tournament.RulesJSON))
	if err != nil {
		return fmt.Errorf("failed to resolve rules for tournament %d: %w", match.TournamentID, err)
	}
	if rules.NoShowPolicy == config.NoShowForcedReplay {
		deadline := now.Add(rules.CheckInWindow())
		match.CheckInDeadline = &deadline
		match.ScheduledAt = now
		if err := s.matchRepo.Update(ctx, nil, match); err != nil {
			if errors.Is(err, repositories.ErrMatchVersionConflict) {
				return fmt.Errorf("%w: match %d version contention", ErrConflict, match.ID)
			}
			return err
		}
		s.logger.InfoContext(ctx, "double no-show, match rescheduled",
			slog.Int("match_id", match.ID),
			slog.Time("new_deadline", deadline))
		return nil
	}

	hash := hashTransitionPayload(models.MatchForfeited, "double_no_show")
	replayed, err := s.applyTransition(ctx, match, models.MatchForfeited, hash, func(m *models.Match) {
		m.WinnerID = nil
		m.CompletedAt = &now
	})
	if err != nil {
		return err
	}
	if !replayed {
		if err := s.advancer.OnMatchFinished(ctx, match); err != nil {
			return fmt.Errorf("failed to advance after double no-show of match %d: %w", match.ID, err)
		}
	}
	s.logger.InfoContext(ctx, "double no-show, match forfeited with no winner",
		slog.Int("match_id", match.ID))
	return nil
}
