package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/clashforge/bracket-engine/config"
	"github.com/clashforge/bracket-engine/events"
	"github.com/clashforge/bracket-engine/models"
	"github.com/clashforge/bracket-engine/repositories"
	"github.com/clashforge/bracket-engine/storage"
)

type ResolveDisputeParams struct {
	DisputeID string
	ArbiterID int
	Action    models.ArbiterAction

	// Score and WinnerID are required for override rulings. A nil WinnerID
	// with a score records a draw.
	Score    *models.Score
	WinnerID *int
	Note     string
}

// DisputeService arbitrates contested results. Rulings are append-only: the
// original submissions stay in the ledger, a Resolution record lands on top.
type DisputeService interface {
	GetByID(ctx context.Context, disputeID string) (*models.Dispute, error)
	ListOpenByMatch(ctx context.Context, matchID int) (*models.Dispute, error)

	// UploadEvidence stores one evidence object and attaches its key.
	UploadEvidence(ctx context.Context, disputeID, contentType string, body io.Reader) (string, error)

	Resolve(ctx context.Context, params ResolveDisputeParams) (*models.Dispute, error)

	// ExpireWindows settles disputes whose window elapsed before now. A sole
	// submission becomes canonical; no submissions fall to the no-show
	// policy; two conflicting submissions are never timed out.
	ExpireWindows(ctx context.Context, now time.Time) (int, error)
}

type disputeService struct {
	db             *sql.DB
	disputeRepo    repositories.DisputeRepository
	matchRepo      repositories.MatchRepository
	submissionRepo repositories.SubmissionRepository
	transitionRepo repositories.TransitionRepository
	tournamentRepo repositories.TournamentRepository
	rules          *config.RulesResolver
	advancer       Advancer
	publisher      events.Publisher
	evidence       storage.EvidenceStore
	locks          *MatchLocks
	logger         *slog.Logger
}

func NewDisputeService(
	db *sql.DB,
	disputeRepo repositories.DisputeRepository,
	matchRepo repositories.MatchRepository,
	submissionRepo repositories.SubmissionRepository,
	transitionRepo repositories.TransitionRepository,
	tournamentRepo repositories.TournamentRepository,
	rules *config.RulesResolver,
	advancer Advancer,
	publisher events.Publisher,
	evidence storage.EvidenceStore,
	locks *MatchLocks,
	logger *slog.Logger,
) DisputeService {
	return &disputeService{
		db:             db,
		disputeRepo:    disputeRepo,
		matchRepo:      matchRepo,
		submissionRepo: submissionRepo,
		transitionRepo: transitionRepo,
		tournamentRepo: tournamentRepo,
		rules:          rules,
		advancer:       advancer,
		publisher:      publisher,
		evidence:       evidence,
		locks:          locks,
		logger:         logger,
	}
}

func (s *disputeService) GetByID(ctx context.Context, disputeID string) (*models.Dispute, error) {
	dispute, err := s.disputeRepo.GetByID(ctx, nil, disputeID)
	if err != nil {
		if errors.Is(err, repositories.ErrDisputeNotFound) {
			return nil, ErrDisputeNotFound
		}
		return nil, err
	}
	return dispute, nil
}

func (s *disputeService) ListOpenByMatch(ctx context.Context, matchID int) (*models.Dispute, error) {
	dispute, err := s.disputeRepo.GetOpenByMatch(ctx, nil, matchID)
	if err != nil {
		if errors.Is(err, repositories.ErrDisputeNotFound) {
			return nil, ErrDisputeNotFound
		}
		return nil, err
	}
	return dispute, nil
}

func (s *disputeService) UploadEvidence(ctx context.Context, disputeID, contentType string, body io.Reader) (string, error) {
	dispute, err := s.GetByID(ctx, disputeID)
	if err != nil {
		return "", err
	}
	if dispute.State == models.DisputeResolved {
		return "", fmt.Errorf("%w: dispute %s is resolved", ErrDisputeNotActionable, disputeID)
	}

	match, err := s.matchRepo.GetByID(ctx, nil, dispute.MatchID)
	if err != nil {
		return "", err
	}

	key := storage.EvidenceKey(match.TournamentID, match.ID, contentType)
	if _, err := s.evidence.Upload(ctx, key, contentType, body); err != nil {
		return "", fmt.Errorf("failed to upload evidence for dispute %s: %w", disputeID, err)
	}

	dispute.EvidenceKeys = append(dispute.EvidenceKeys, key)
	if err := s.disputeRepo.Update(ctx, nil, dispute); err != nil {
		// Orphaned object, remove it so storage does not leak.
		if delErr := s.evidence.Delete(ctx, key); delErr != nil {
			s.logger.WarnContext(ctx, "failed to delete orphaned evidence object",
				slog.String("key", key), slog.Any("error", delErr))
		}
		return "", err
	}
	return key, nil
}

func (s *disputeService) Resolve(ctx context.Context, params ResolveDisputeParams) (*models.Dispute, error) {
	dispute, err := s.GetByID(ctx, params.DisputeID)
	if err != nil {
		return nil, err
	}
	if dispute.State == models.DisputeResolved {
		return nil, fmt.Errorf("%w: dispute %s is already resolved", ErrDisputeNotActionable, params.DisputeID)
	}

	unlock := s.locks.Lock(dispute.MatchID)
	defer unlock()

	match, err := s.matchRepo.GetByID(ctx, nil, dispute.MatchID)
	if err != nil {
		return nil, err
	}

	switch params.Action {
	case models.ActionRequestMoreEvidence:
		return s.extendWindow(ctx, dispute, match)
	case models.ActionEscalate:
		dispute.State = models.DisputeEscalated
		if err := s.disputeRepo.Update(ctx, nil, dispute); err != nil {
			return nil, err
		}
		s.logger.InfoContext(ctx, "dispute escalated",
			slog.String("dispute_id", dispute.ID),
			slog.Int("arbiter_id", params.ArbiterID))
		return dispute, nil
	case models.ActionAcceptA, models.ActionAcceptB, models.ActionOverride:
		score, winnerID, err := s.rulingOutcome(ctx, dispute, params)
		if err != nil {
			return nil, err
		}
		return s.applyRuling(ctx, dispute, match, params, score, winnerID)
	default:
		return nil, fmt.Errorf("%w: unknown arbiter action %q", ErrValidationFailed, params.Action)
	}
}

// rulingOutcome derives the canonical score and winner for a ruling.
func (s *disputeService) rulingOutcome(ctx context.Context, dispute *models.Dispute, params ResolveDisputeParams) (models.Score, *int, error) {
	switch params.Action {
	case models.ActionOverride:
		if params.Score == nil {
			return models.Score{}, nil, ErrOverrideIncomplete
		}
		return *params.Score, params.WinnerID, nil
	case models.ActionAcceptA, models.ActionAcceptB:
		subID := dispute.SubmissionAID
		if params.Action == models.ActionAcceptB {
			subID = dispute.SubmissionBID
		}
		if subID == nil {
			return models.Score{}, nil, fmt.Errorf("%w: dispute %s has no submission for %s", ErrValidationFailed, dispute.ID, params.Action)
		}
		sub, err := s.submissionRepo.GetByID(ctx, nil, *subID)
		if err != nil {
			return models.Score{}, nil, err
		}
		var winnerID *int
		if sub.DeclaredWinnerID != 0 {
			winnerID = &sub.DeclaredWinnerID
		}
		return sub.Score, winnerID, nil
	}
	return models.Score{}, nil, fmt.Errorf("%w: action %q carries no outcome", ErrValidationFailed, params.Action)
}

func (s *disputeService) extendWindow(ctx context.Context, dispute *models.Dispute, match *models.Match) (*models.Dispute, error) {
	if dispute.WindowExtended {
		return nil, fmt.Errorf("%w: dispute %s", ErrWindowAlreadyExtended, dispute.ID)
	}
	rules, err := s.matchRules(ctx, match)
	if err != nil {
		return nil, err
	}

	dispute.State = models.DisputeAwaitingEvidence
	dispute.WindowEndsAt = dispute.WindowEndsAt.Add(rules.DisputeWindow())
	dispute.WindowExtended = true
	if err := s.disputeRepo.Update(ctx, nil, dispute); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "dispute window extended",
		slog.String("dispute_id", dispute.ID),
		slog.Time("window_ends_at", dispute.WindowEndsAt))
	return dispute, nil
}

// applyRuling attaches the resolution, resolves the match with the canonical
// outcome and hands it to advancement. Events fire after the writes land.
func (s *disputeService) applyRuling(ctx context.Context, dispute *models.Dispute, match *models.Match, params ResolveDisputeParams, score models.Score, winnerID *int) (*models.Dispute, error) {
	if winnerID == nil && match.NodeID != nil {
		return nil, fmt.Errorf("%w: match %d feeds a bracket slot", ErrDrawNotAllowed, match.ID)
	}
	now := time.Now()
	dispute.State = models.DisputeResolved
	dispute.Resolution = &models.Resolution{
		Action:     params.Action,
		Score:      &score,
		WinnerID:   winnerID,
		Note:       params.Note,
		ResolvedBy: params.ArbiterID,
		ResolvedAt: now,
	}

	hash := hashTransitionPayload(models.MatchResolved, "ruling", dispute.ID, string(params.Action))
	replayed, err := applyMatchTransition(ctx, s.db, s.matchRepo, s.transitionRepo, match, models.MatchResolved, hash, func(m *models.Match) {
		m.Score = &score
		m.WinnerID = winnerID
	})
	if err != nil {
		return nil, err
	}
	if err := s.disputeRepo.Update(ctx, nil, dispute); err != nil {
		return nil, err
	}

	if !replayed {
		if err := s.advancer.OnMatchFinished(ctx, match); err != nil {
			return nil, fmt.Errorf("failed to advance after ruling on dispute %s: %w", dispute.ID, err)
		}
	}

	s.publisher.Publish(match.TournamentID, events.TypeDisputeResolved, events.DisputeResolved{
		DisputeID:  dispute.ID,
		Resolution: params.Action,
	})
	s.logger.InfoContext(ctx, "dispute resolved",
		slog.String("dispute_id", dispute.ID),
		slog.String("action", string(params.Action)),
		slog.Int("arbiter_id", params.ArbiterID))
	return dispute, nil
}

func (s *disputeService) matchRules(ctx context.Context, match *models.Match) (*config.Rules, error) {
	tournament, err := s.tournamentRepo.GetByID(ctx, nil, match.TournamentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load tournament %d: %w", match.TournamentID, err)
	}
	rules, err := s.rules.Resolve(derefString(tournament.RulesJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve rules for tournament %d: %w", match.TournamentID, err)
	}
	return rules, nil
}

func (s *disputeService) ExpireWindows(ctx context.Context, now time.Time) (int, error) {
	expired, err := s.disputeRepo.ListExpired(ctx, nil, now)
	if err != nil {
		return 0, err
	}

	acted := 0
	for _, dispute := range expired {
		// Two conflicting submissions require a human ruling, the deadline
		// never decides between them.
		if dispute.HasBothSubmissions() {
			continue
		}
		if err := s.expireOne(ctx, dispute, now); err != nil {
			return acted, err
		}
		acted++
	}
	return acted, nil
}

func (s *disputeService) expireOne(ctx context.Context, dispute *models.Dispute, now time.Time) error {
	unlock := s.locks.Lock(dispute.MatchID)
	defer unlock()

	match, err := s.matchRepo.GetByID(ctx, nil, dispute.MatchID)
	if err != nil {
		return err
	}
	if match.State != models.MatchDisputed {
		return nil
	}

	var soleID *string
	var action models.ArbiterAction
	switch {
	case dispute.SubmissionAID != nil:
		soleID, action = dispute.SubmissionAID, models.ActionAcceptA
	case dispute.SubmissionBID != nil:
		soleID, action = dispute.SubmissionBID, models.ActionAcceptB
	}

	if soleID != nil {
		sub, err := s.submissionRepo.GetByID(ctx, nil, *soleID)
		if err != nil {
			return err
		}
		var winnerID *int
		if sub.DeclaredWinnerID != 0 {
			winnerID = &sub.DeclaredWinnerID
		}
		s.logger.InfoContext(ctx, "dispute window expired, sole submission accepted",
			slog.String("dispute_id", dispute.ID),
			slog.String("submission_id", sub.ID))
		_, err = s.applyRuling(ctx, dispute, match, ResolveDisputeParams{
			DisputeID: dispute.ID,
			Action:    action,
			Note:      "window expired, sole submission accepted",
		}, sub.Score, winnerID)
		return err
	}

	// No submissions at all: fall to the no-show policy.
	rules, err := s.matchRules(ctx, match)
	if err != nil {
		return err
	}
	if rules.NoShowPolicy == config.NoShowForcedReplay {
		hash := hashTransitionPayload(models.MatchLive, "dispute_replay", dispute.ID, strconv.Itoa(match.SubmissionRound+1))
		if _, err := applyMatchTransition(ctx, s.db, s.matchRepo, s.transitionRepo, match, models.MatchLive, hash, func(m *models.Match) {
			m.SubmissionRound++
			m.StartedAt = &now
		}); err != nil {
			return err
		}
		dispute.State = models.DisputeResolved
		dispute.Resolution = &models.Resolution{
			Action:     models.ActionOverride,
			Note:       "window expired with no submissions, replay ordered",
			ResolvedAt: now,
		}
		return s.disputeRepo.Update(ctx, nil, dispute)
	}

	hash := hashTransitionPayload(models.MatchForfeited, "dispute_no_show", dispute.ID)
	replayed, err := applyMatchTransition(ctx, s.db, s.matchRepo, s.transitionRepo, match, models.MatchForfeited, hash, func(m *models.Match) {
		m.WinnerID = nil
		m.CompletedAt = &now
	})
	if err != nil {
		return err
	}
	dispute.State = models.DisputeResolved
	dispute.Resolution = &models.Resolution{
		Action:     models.ActionOverride,
		Note:       "window expired with no submissions, double forfeit",
		ResolvedAt: now,
	}
	if err := s.disputeRepo.Update(ctx, nil, dispute); err != nil {
		return err
	}
	if !replayed {
		return s.advancer.OnMatchFinished(ctx, match)
	}
	return nil
}
