package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/clashforge/bracket-engine/models"
	"github.com/lib/pq"
)

var (
	ErrDisputeNotFound = errors.New("dispute not found")
	ErrDisputeConflict = errors.New("an open dispute already exists for this match")
)

type DisputeRepository interface {
	Create(ctx context.Context, exec SQLExecutor, dispute *models.Dispute) error
	GetByID(ctx context.Context, exec SQLExecutor, id string) (*models.Dispute, error)
	GetOpenByMatch(ctx context.Context, exec SQLExecutor, matchID int) (*models.Dispute, error)
	Update(ctx context.Context, exec SQLExecutor, dispute *models.Dispute) error

	// ListExpired returns undecided disputes whose window elapsed before now.
	ListExpired(ctx context.Context, exec SQLExecutor, now time.Time) ([]*models.Dispute, error)
}

type postgresDisputeRepository struct {
	db *sql.DB
}

func NewPostgresDisputeRepository(db *sql.DB) DisputeRepository {
	return &postgresDisputeRepository{db: db}
}

func (r *postgresDisputeRepository) getExecutor(exec SQLExecutor) SQLExecutor {
	if exec != nil {
		return exec
	}
	return r.db
}

const disputeColumns = `
	id, match_id, reason, state, filed_by, submission_a_id, submission_b_id,
	evidence_keys, window_ends_at, window_extended,
	resolution_action, resolution_score, resolution_winner_id, resolution_note,
	resolution_by, resolution_at, created_at`

func (r *postgresDisputeRepository) Create(ctx context.Context, exec SQLExecutor, dispute *models.Dispute) error {
	query := `
		INSERT INTO disputes
			(id, match_id, reason, state, filed_by, submission_a_id, submission_b_id,
			 evidence_keys, window_ends_at, window_extended)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at`

	err := r.getExecutor(exec).QueryRowContext(ctx, query,
		dispute.ID, dispute.MatchID, dispute.Reason, dispute.State, dispute.FiledBy,
		dispute.SubmissionAID, dispute.SubmissionBID,
		pq.Array(dispute.EvidenceKeys), dispute.WindowEndsAt, dispute.WindowExtended,
	).Scan(&dispute.CreatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Constraint == "disputes_match_open_key" {
			return ErrDisputeConflict
		}
		return err
	}
	return nil
}

func (r *postgresDisputeRepository) scanDispute(scanner interface{ Scan(...interface{}) error }) (*models.Dispute, error) {
	var d models.Dispute
	var evidence pq.StringArray
	var action, rawScore, note *string
	var winnerID, resolvedBy *int
	var resolvedAt *time.Time

	err := scanner.Scan(
		&d.ID, &d.MatchID, &d.Reason, &d.State, &d.FiledBy, &d.SubmissionAID, &d.SubmissionBID,
		&evidence, &d.WindowEndsAt, &d.WindowExtended,
		&action, &rawScore, &winnerID, &note, &resolvedBy, &resolvedAt,
		&d.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.EvidenceKeys = evidence
	if action != nil && resolvedBy != nil && resolvedAt != nil {
		res := &models.Resolution{
			Action:     models.ArbiterAction(*action),
			WinnerID:   winnerID,
			ResolvedBy: *resolvedBy,
			ResolvedAt: *resolvedAt,
		}
		if note != nil {
			res.Note = *note
		}
		if rawScore != nil {
			score, err := models.ParseScore(*rawScore)
			if err != nil {
				return nil, err
			}
			res.Score = &score
		}
		d.Resolution = res
	}
	return &d, nil
}

func (r *postgresDisputeRepository) GetByID(ctx context.Context, exec SQLExecutor, id string) (*models.Dispute, error) {
	query := `SELECT ` + disputeColumns + ` FROM disputes WHERE id = $1`
	dispute, err := r.scanDispute(r.getExecutor(exec).QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDisputeNotFound
		}
		return nil, err
	}
	return dispute, nil
}

func (r *postgresDisputeRepository) GetOpenByMatch(ctx context.Context, exec SQLExecutor, matchID int) (*models.Dispute, error) {
	query := `
		SELECT ` + disputeColumns + `
		FROM disputes
		WHERE match_id = $1 AND state IN ($2, $3, $4)
		ORDER BY created_at DESC
		LIMIT 1`

	dispute, err := r.scanDispute(r.getExecutor(exec).QueryRowContext(ctx, query, matchID,
		models.DisputeOpen, models.DisputeAwaitingEvidence, models.DisputeEscalated))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDisputeNotFound
		}
		return nil, err
	}
	return dispute, nil
}

func (r *postgresDisputeRepository) Update(ctx context.Context, exec SQLExecutor, dispute *models.Dispute) error {
	query := `
		UPDATE disputes
		SET state = $1, evidence_keys = $2, window_ends_at = $3, window_extended = $4,
		    resolution_action = $5, resolution_score = $6, resolution_winner_id = $7,
		    resolution_note = $8, resolution_by = $9, resolution_at = $10
		WHERE id = $11`

	var action, rawScore, note *string
	var winnerID, resolvedBy *int
	var resolvedAt *time.Time
	if res := dispute.Resolution; res != nil {
		a := string(res.Action)
		action = &a
		if res.Score != nil {
			s := res.Score.String()
			rawScore = &s
		}
		winnerID = res.WinnerID
		if res.Note != "" {
			note = &res.Note
		}
		resolvedBy = &res.ResolvedBy
		resolvedAt = &res.ResolvedAt
	}

	result, err := r.getExecutor(exec).ExecContext(ctx, query,
		dispute.State, pq.Array(dispute.EvidenceKeys), dispute.WindowEndsAt, dispute.WindowExtended,
		action, rawScore, winnerID, note, resolvedBy, resolvedAt,
		dispute.ID,
	)
	if err != nil {
		return err
	}
	return checkAffectedRows(result, ErrDisputeNotFound)
}

func (r *postgresDisputeRepository) ListExpired(ctx context.Context, exec SQLExecutor, now time.Time) ([]*models.Dispute, error) {
	query := `
		SELECT ` + disputeColumns + `
		FROM disputes
		WHERE state IN ($1, $2) AND window_ends_at < $3
		ORDER BY window_ends_at`

	rows, err := r.getExecutor(exec).QueryContext(ctx, query,
		models.DisputeOpen, models.DisputeAwaitingEvidence, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var disputes []*models.Dispute
	for rows.Next() {
		dispute, err := r.scanDispute(rows)
		if err != nil {
			return nil, err
		}
		disputes = append(disputes, dispute)
	}
	return disputes, rows.Err()
}
