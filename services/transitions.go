package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/clashforge/bracket-engine/models"
	"github.com/clashforge/bracket-engine/repositories"
)

// applyMatchTransition writes the new state and its transition log entry in
// one transaction. An identical payload already in the log is a replay: no
// second effect, replayed=true. A version conflict is retried once against
// the reloaded row, then surfaces as ErrConflict. Callers hold the match lock.
func applyMatchTransition(
	ctx context.Context,
	db *sql.DB,
	matchRepo repositories.MatchRepository,
	transitionRepo repositories.TransitionRepository,
	match *models.Match,
	toState models.MatchState,
	payloadHash string,
	mutate func(*models.Match),
) (replayed bool, err error) {
	if match.State.Terminal() {
		return false, fmt.Errorf("%w: match %d is %s", ErrMatchTerminal, match.ID, match.State)
	}
	if !matchTransitionAllowed(match.State, toState) {
		return false, fmt.Errorf("%w: match %d cannot go %s -> %s", ErrInvalidTransition, match.ID, match.State, toState)
	}

	seen, err := transitionRepo.HasPayload(ctx, nil, match.ID, payloadHash)
	if err != nil {
		return false, fmt.Errorf("failed to check transition log for match %d: %w", match.ID, err)
	}
	if seen {
		return true, nil
	}

	fromState := match.State
	for attempt := 0; ; attempt++ {
		if mutate != nil {
			mutate(match)
		}
		match.State = toState

		err = withTx(ctx, db, func(tx *sql.Tx) error {
			if err := matchRepo.Update(ctx, tx, match); err != nil {
				return err
			}
			return transitionRepo.Insert(ctx, tx, &models.TransitionRecord{
				MatchID:     match.ID,
				FromState:   fromState,
				ToState:     toState,
				PayloadHash: payloadHash,
			})
		})
		if err == nil {
			return false, nil
		}
		if errors.Is(err, repositories.ErrTransitionDuplicate) {
			return true, nil
		}
		if !errors.Is(err, repositories.ErrMatchVersionConflict) || attempt > 0 {
			if errors.Is(err, repositories.ErrMatchVersionConflict) {
				return false, fmt.Errorf("%w: match %d version contention", ErrConflict, match.ID)
			}
			return false, err
		}

		fresh, loadErr := matchRepo.GetByID(ctx, nil, match.ID)
		if loadErr != nil {
			return false, fmt.Errorf("failed to reload match %d after version conflict: %w", match.ID, loadErr)
		}
		if fresh.State != fromState {
			return false, fmt.Errorf("%w: match %d moved to %s concurrently", ErrConflict, match.ID, fresh.State)
		}
		*match = *fresh
	}
}
