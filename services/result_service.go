package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/clashforge/bracket-engine/config"
	"github.com/clashforge/bracket-engine/events"
	"github.com/clashforge/bracket-engine/models"
	"github.com/clashforge/bracket-engine/repositories"
)

type SubmitResultParams struct {
	MatchID          int
	ParticipantID    int
	Score            models.Score
	DeclaredWinnerID int // 0 declares a draw
	EvidenceKeys     []string
}

// SubmitOutcome reports what one submission did to the match: nothing yet
// (waiting for the other side), auto-resolved on agreement, or a dispute on
// mismatch.
type SubmitOutcome struct {
	Submission *models.ResultSubmission
	Match      *models.Match
	Dispute    *models.Dispute
	Resolved   bool
	Replayed   bool
}

// ResultService runs the two-phase result protocol: each side files its own
// claim into an append-only ledger, and the match resolves only when both
// claims agree. Anything else opens a dispute.
type ResultService interface {
	SubmitResult(ctx context.Context, params SubmitResultParams) (*SubmitOutcome, error)
	FileDispute(ctx context.Context, matchID, filedBy int, reason models.DisputeReason, evidenceKeys []string) (*models.Dispute, error)

	// ResolveResultTimeouts settles pending_result matches whose window
	// elapsed before now: one submission becomes canonical, zero submissions
	// fall to the no-show policy. Two conflicting submissions never time out.
	ResolveResultTimeouts(ctx context.Context, now time.Time) (int, error)

	// CompleteResolved re-drives advancement for matches stuck in resolved.
	// A crash between committing the resolution and firing the advancement
	// edge leaves the match resolved forever; this picks those up.
	CompleteResolved(ctx context.Context) (int, error)
}

type resultService struct {
	db             *sql.DB
	matchRepo      repositories.MatchRepository
	submissionRepo repositories.SubmissionRepository
	disputeRepo    repositories.DisputeRepository
	transitionRepo repositories.TransitionRepository
	tournamentRepo repositories.TournamentRepository
	rules          *config.RulesResolver
	advancer       Advancer
	publisher      events.Publisher
	locks          *MatchLocks
	logger         *slog.Logger
}

func NewResultService(
	db *sql.DB,
	matchRepo repositories.MatchRepository,
	submissionRepo repositories.SubmissionRepository,
	disputeRepo repositories.DisputeRepository,
	transitionRepo repositories.TransitionRepository,
	tournamentRepo repositories.TournamentRepository,
	rules *config.RulesResolver,
	advancer Advancer,
	publisher events.Publisher,
	locks *MatchLocks,
	logger *slog.Logger,
) ResultService {
	return &resultService{
		db:             db,
		matchRepo:      matchRepo,
		submissionRepo: submissionRepo,
		disputeRepo:    disputeRepo,
		transitionRepo: transitionRepo,
		tournamentRepo: tournamentRepo,
		rules:          rules,
		advancer:       advancer,
		publisher:      publisher,
		locks:          locks,
		logger:         logger,
	}
}

func (s *resultService) matchRules(ctx context.Context, match *models.Match) (*config.Rules, error) {
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

// resultDeadline derives when the submission window closes. No start time
// means no window.
func resultDeadline(match *models.Match, rules *config.Rules) *time.Time {
	if match.StartedAt == nil || rules.DisputeWindow() <= 0 {
		return nil
	}
	deadline := match.StartedAt.Add(rules.DisputeWindow())
	return &deadline
}

func (s *resultService) SubmitResult(ctx context.Context, params SubmitResultParams) (*SubmitOutcome, error) {
	unlock := s.locks.Lock(params.MatchID)
	defer unlock()

	match, err := s.matchRepo.GetByID(ctx, nil, params.MatchID)
	if err != nil {
		if errors.Is(err, repositories.ErrMatchNotFound) {
			return nil, ErrMatchNotFound
		}
		return nil, err
	}

	if match.State != models.MatchLive && match.State != models.MatchPendingResult {
		if match.State.Terminal() {
			return nil, fmt.Errorf("%w: match %d is %s", ErrMatchTerminal, params.MatchID, match.State)
		}
		return nil, fmt.Errorf("%w: match %d is %s, submissions require live or pending_result", ErrInvalidTransition, params.MatchID, match.State)
	}

	side := match.SideOf(params.ParticipantID)
	if side == 0 {
		return nil, fmt.Errorf("%w: participant %d in match %d", ErrNotInMatch, params.ParticipantID, params.MatchID)
	}
	if params.DeclaredWinnerID != 0 && match.SideOf(params.DeclaredWinnerID) == 0 {
		return nil, fmt.Errorf("%w: participant %d in match %d", ErrWinnerNotInMatch, params.DeclaredWinnerID, params.MatchID)
	}
	if params.DeclaredWinnerID == 0 && match.NodeID != nil {
		return nil, fmt.Errorf("%w: match %d feeds a bracket slot", ErrDrawNotAllowed, params.MatchID)
	}

	rules, err := s.matchRules(ctx, match)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	if deadline := resultDeadline(match, rules); deadline != nil && now.After(*deadline) {
		if err := s.settleExpired(ctx, match, rules, now); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: result window for match %d", ErrWindowExpired, params.MatchID)
	}

	round := match.SubmissionRound
	existing, err := s.submissionRepo.ListByMatchRound(ctx, nil, params.MatchID, round)
	if err != nil {
		return nil, err
	}
	var mine, theirs *models.ResultSubmission
	for _, sub := range existing {
		if sub.ParticipantID == params.ParticipantID {
			mine = sub
		} else {
			theirs = sub
		}
	}
	if mine != nil {
		if mine.Score == params.Score && mine.DeclaredWinnerID == params.DeclaredWinnerID {
			return &SubmitOutcome{Submission: mine, Match: match, Replayed: true}, nil
		}
		return nil, fmt.Errorf("%w: participant %d already submitted for match %d round %d",
			ErrDuplicateSubmission, params.ParticipantID, params.MatchID, round)
	}

	submission := &models.ResultSubmission{
		ID:               uuid.NewString(),
		MatchID:          params.MatchID,
		ParticipantID:    params.ParticipantID,
		Side:             side,
		Round:            round,
		Score:            params.Score,
		DeclaredWinnerID: params.DeclaredWinnerID,
		EvidenceKeys:     params.EvidenceKeys,
	}
	if err := s.submissionRepo.Create(ctx, nil, submission); err != nil {
		if errors.Is(err, repositories.ErrSubmissionDuplicate) {
			return nil, fmt.Errorf("%w: participant %d already submitted for match %d round %d",
				ErrDuplicateSubmission, params.ParticipantID, params.MatchID, round)
		}
		return nil, err
	}

	if match.State == models.MatchLive {
		hash := hashTransitionPayload(models.MatchPendingResult, strconv.Itoa(params.ParticipantID), submission.ID)
		if _, err := applyMatchTransition(ctx, s.db, s.matchRepo, s.transitionRepo, match, models.MatchPendingResult, hash, nil); err != nil {
			return nil, err
		}
	}

	outcome := &SubmitOutcome{Submission: submission, Match: match}
	if theirs == nil {
		return outcome, nil
	}

	if submission.AgreesWith(theirs) {
		if err := s.resolveMatch(ctx, match, params.Score, params.DeclaredWinnerID, "agreement"); err != nil {
			return nil, err
		}
		outcome.Resolved = true
		return outcome, nil
	}

	dispute, err := s.openDispute(ctx, match, rules, models.ReasonScoreMismatch, nil, submission, theirs, nil)
	if err != nil {
		return nil, err
	}
	outcome.Dispute = dispute
	return outcome, nil
}

// resolveMatch fixes the canonical outcome and hands the match to the
// advancement coordinator. winnerID 0 records a draw.
func (s *resultService) resolveMatch(ctx context.Context, match *models.Match, score models.Score, winnerID int, source string) error {
	hash := hashTransitionPayload(models.MatchResolved, source, score.String(), strconv.Itoa(winnerID))
	replayed, err := applyMatchTransition(ctx, s.db, s.matchRepo, s.transitionRepo, match, models.MatchResolved, hash, func(m *models.Match) {
		m.Score = &score
		if winnerID != 0 {
			m.WinnerID = &winnerID
		} else {
			m.WinnerID = nil
		}
	})
	if err != nil {
		return err
	}
	if replayed {
		return nil
	}
	return s.advancer.OnMatchFinished(ctx, match)
}

// openDispute moves the match to disputed and opens the arbitration record.
// The resolution window is fixed here; only request_more_evidence may extend
// it, once.
func (s *resultService) openDispute(
	ctx context.Context,
	match *models.Match,
	rules *config.Rules,
	reason models.DisputeReason,
	filedBy *int,
	subA, subB *models.ResultSubmission,
	evidenceKeys []string,
) (*models.Dispute, error) {
	if existing, err := s.disputeRepo.GetOpenByMatch(ctx, nil, match.ID); err == nil {
		return existing, fmt.Errorf("%w: match %d dispute %s", ErrDisputeAlreadyOpen, match.ID, existing.ID)
	} else if !errors.Is(err, repositories.ErrDisputeNotFound) {
		return nil, err
	}

	dispute := &models.Dispute{
		ID:           uuid.NewString(),
		MatchID:      match.ID,
		Reason:       reason,
		State:        models.DisputeOpen,
		FiledBy:      filedBy,
		EvidenceKeys: evidenceKeys,
		WindowEndsAt: time.Now().Add(rules.DisputeWindow()),
	}
	if subA != nil {
		dispute.SubmissionAID = &subA.ID
	}
	if subB != nil {
		dispute.SubmissionBID = &subB.ID
	}

	hash := hashTransitionPayload(models.MatchDisputed, dispute.ID)
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := s.disputeRepo.Create(ctx, tx, dispute); err != nil {
			return err
		}
		fromState := match.State
		match.State = models.MatchDisputed
		if err := s.matchRepo.Update(ctx, tx, match); err != nil {
			return err
		}
		return s.transitionRepo.Insert(ctx, tx, &models.TransitionRecord{
			MatchID:     match.ID,
			FromState:   fromState,
			ToState:     models.MatchDisputed,
			PayloadHash: hash,
		})
	})
	if err != nil {
		if errors.Is(err, repositories.ErrMatchVersionConflict) {
			return nil, fmt.Errorf("%w: match %d version contention", ErrConflict, match.ID)
		}
		return nil, err
	}

	s.publisher.Publish(match.TournamentID, events.TypeDisputeOpened, events.DisputeOpened{
		MatchID:   match.ID,
		DisputeID: dispute.ID,
	})
	s.logger.InfoContext(ctx, "dispute opened",
		slog.Int("match_id", match.ID),
		slog.String("dispute_id", dispute.ID),
		slog.String("reason", string(reason)))
	return dispute, nil
}

func (s *resultService) FileDispute(ctx context.Context, matchID, filedBy int, reason models.DisputeReason, evidenceKeys []string) (*models.Dispute, error) {
	if !reason.Valid() {
		return nil, fmt.Errorf("%w: unknown dispute reason %q", ErrValidationFailed, reason)
	}

	unlock := s.locks.Lock(matchID)
	defer unlock()

	match, err := s.matchRepo.GetByID(ctx, nil, matchID)
	if err != nil {
		if errors.Is(err, repositories.ErrMatchNotFound) {
			return nil, ErrMatchNotFound
		}
		return nil, err
	}
	if match.SideOf(filedBy) == 0 {
		return nil, fmt.Errorf("%w: participant %d in match %d", ErrNotInMatch, filedBy, matchID)
	}
	if match.State != models.MatchLive && match.State != models.MatchPendingResult {
		return nil, fmt.Errorf("%w: match %d is %s, disputes require live or pending_result", ErrInvalidTransition, matchID, match.State)
	}

	rules, err := s.matchRules(ctx, match)
	if err != nil {
		return nil, err
	}

	subs, err := s.submissionRepo.ListByMatchRound(ctx, nil, matchID, match.SubmissionRound)
	if err != nil {
		return nil, err
	}
	var subA, subB *models.ResultSubmission
	for _, sub := range subs {
		if sub.Side == 1 {
			subA = sub
		} else {
			subB = sub
		}
	}
	return s.openDispute(ctx, match, rules, reason, &filedBy, subA, subB, evidenceKeys)
}

func (s *resultService) ResolveResultTimeouts(ctx context.Context, now time.Time) (int, error) {
	matches, err := s.matchRepo.ListByState(ctx, nil, models.MatchPendingResult)
	if err != nil {
		return 0, err
	}

	acted := 0
	for _, stale := range matches {
		unlock := s.locks.Lock(stale.ID)
		match, err := s.matchRepo.GetByID(ctx, nil, stale.ID)
		if err != nil {
			unlock()
			return acted, err
		}
		if match.State != models.MatchPendingResult {
			unlock()
			continue
		}
		rules, err := s.matchRules(ctx, match)
		if err != nil {
			unlock()
			return acted, err
		}
		deadline := resultDeadline(match, rules)
		if deadline == nil || now.Before(*deadline) {
			unlock()
			continue
		}
		if err := s.settleExpired(ctx, match, rules, now); err != nil {
			unlock()
			return acted, err
		}
		acted++
		unlock()
	}
	return acted, nil
}

func (s *resultService) CompleteResolved(ctx context.Context) (int, error) {
	matches, err := s.matchRepo.ListByState(ctx, nil, models.MatchResolved)
	if err != nil {
		return 0, err
	}

	acted := 0
	for _, stale := range matches {
		unlock := s.locks.Lock(stale.ID)
		match, err := s.matchRepo.GetByID(ctx, nil, stale.ID)
		if err != nil {
			unlock()
			return acted, err
		}
		if match.State != models.MatchResolved {
			unlock()
			continue
		}
		s.logger.WarnContext(ctx, "resolved match never advanced, re-driving",
			slog.Int("match_id", match.ID))
		if err := s.advancer.OnMatchFinished(ctx, match); err != nil {
			unlock()
			return acted, err
		}
		acted++
		unlock()
	}
	return acted, nil
}

// settleExpired closes an elapsed submission window. One submission on file
// becomes the canonical outcome. Zero submissions fall to the no-show policy.
// Two conflicting submissions already opened a dispute and never reach here.
func (s *resultService) settleExpired(ctx context.Context, match *models.Match, rules *config.Rules, now time.Time) error {
	subs, err := s.submissionRepo.ListByMatchRound(ctx, nil, match.ID, match.SubmissionRound)
	if err != nil {
		return err
	}

	switch len(subs) {
	case 1:
		sub := subs[0]
		s.logger.InfoContext(ctx, "result window expired, sole submission accepted",
			slog.Int("match_id", match.ID),
			slog.String("submission_id", sub.ID))
		return s.resolveMatch(ctx, match, sub.Score, sub.DeclaredWinnerID, "window_timeout")
	case 0:
		if rules.NoShowPolicy == config.NoShowForcedReplay {
			hash := hashTransitionPayload(models.MatchLive, "forced_replay", strconv.Itoa(match.SubmissionRound+1))
			_, err := applyMatchTransition(ctx, s.db, s.matchRepo, s.transitionRepo, match, models.MatchLive, hash, func(m *models.Match) {
				m.SubmissionRound++
				m.StartedAt = &now
			})
			return err
		}
		hash := hashTransitionPayload(models.MatchForfeited, "result_window_no_show")
		replayed, err := applyMatchTransition(ctx, s.db, s.matchRepo, s.transitionRepo, match, models.MatchForfeited, hash, func(m *models.Match) {
			m.WinnerID = nil
			m.CompletedAt = &now
		})
		if err != nil {
			return err
		}
		if !replayed {
			return s.advancer.OnMatchFinished(ctx, match)
		}
		return nil
	default:
		// Both sides on file and disagreeing would have disputed the match
		// already; reaching here with two agreeing submissions is a missed
		// resolution, settle it now.
		if subs[0].AgreesWith(subs[1]) {
			return s.resolveMatch(ctx, match, subs[0].Score, subs[0].DeclaredWinnerID, "agreement")
		}
		return nil
	}
}
