package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/clashforge/bracket-engine/models"
	"github.com/lib/pq"
)

var ErrTransitionDuplicate = errors.New("transition already recorded")

// TransitionRepository is the append-only log of match state changes.
// The payload hash makes retried submissions detectable.
type TransitionRepository interface {
	Insert(ctx context.Context, exec SQLExecutor, record *models.TransitionRecord) error
	HasPayload(ctx context.Context, exec SQLExecutor, matchID int, payloadHash string) (bool, error)
	ListByMatch(ctx context.Context, exec SQLExecutor, matchID int) ([]*models.TransitionRecord, error)
}

type postgresTransitionRepository struct {
	db *sql.DB
}

func NewPostgresTransitionRepository(db *sql.DB) TransitionRepository {
	return &postgresTransitionRepository{db: db}
}

func (r *postgresTransitionRepository) getExecutor(exec SQLExecutor) SQLExecutor {
	if exec != nil {
		return exec
	}
	return r.db
}

func (r *postgresTransitionRepository) Insert(ctx context.Context, exec SQLExecutor, record *models.TransitionRecord) error {
	query := `
		INSERT INTO match_transitions (match_id, from_state, to_state, payload_hash)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`

	err := r.getExecutor(exec).QueryRowContext(ctx, query,
		record.MatchID, record.FromState, record.ToState, record.PayloadHash,
	).Scan(&record.ID, &record.CreatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Constraint == "match_transitions_match_payload_key" {
			return ErrTransitionDuplicate
		}
		return err
	}
	return nil
}

func (r *postgresTransitionRepository) HasPayload(ctx context.Context, exec SQLExecutor, matchID int, payloadHash string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM match_transitions WHERE match_id = $1 AND payload_hash = $2)`

	var exists bool
	err := r.getExecutor(exec).QueryRowContext(ctx, query, matchID, payloadHash).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

func (r *postgresTransitionRepository) ListByMatch(ctx context.Context, exec SQLExecutor, matchID int) ([]*models.TransitionRecord, error) {
	query := `
		SELECT id, match_id, from_state, to_state, payload_hash, created_at
		FROM match_transitions
		WHERE match_id = $1
		ORDER BY id`

	rows, err := r.getExecutor(exec).QueryContext(ctx, query, matchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*models.TransitionRecord
	for rows.Next() {
		var rec models.TransitionRecord
		if err := rows.Scan(&rec.ID, &rec.MatchID, &rec.FromState, &rec.ToState, &rec.PayloadHash, &rec.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}
