package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/clashforge/bracket-engine/models"
	"github.com/lib/pq"
)

var (
	ErrSubmissionNotFound  = errors.New("result submission not found")
	ErrSubmissionDuplicate = errors.New("result submission already exists for this side and round")
)

type SubmissionRepository interface {
	// Create inserts a ledger entry. The idempotency key
	// (match_id, participant_id, round) is unique; a second insert for the
	// same slot fails with ErrSubmissionDuplicate regardless of payload.
	Create(ctx context.Context, exec SQLExecutor, submission *models.ResultSubmission) error
	GetByID(ctx context.Context, exec SQLExecutor, id string) (*models.ResultSubmission, error)
	ListByMatchRound(ctx context.Context, exec SQLExecutor, matchID, round int) ([]*models.ResultSubmission, error)
}

type postgresSubmissionRepository struct {
	db *sql.DB
}

func NewPostgresSubmissionRepository(db *sql.DB) SubmissionRepository {
	return &postgresSubmissionRepository{db: db}
}

func (r *postgresSubmissionRepository) getExecutor(exec SQLExecutor) SQLExecutor {
	if exec != nil {
		return exec
	}
	return r.db
}

func (r *postgresSubmissionRepository) Create(ctx context.Context, exec SQLExecutor, submission *models.ResultSubmission) error {
	query := `
		INSERT INTO result_submissions
			(id, match_id, participant_id, side, round, score, declared_winner_id, evidence_keys)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`

	err := r.getExecutor(exec).QueryRowContext(ctx, query,
		submission.ID, submission.MatchID, submission.ParticipantID, submission.Side,
		submission.Round, submission.Score.String(), submission.DeclaredWinnerID,
		pq.Array(submission.EvidenceKeys),
	).Scan(&submission.CreatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Constraint == "result_submissions_match_participant_round_key" {
			return ErrSubmissionDuplicate
		}
		return err
	}
	return nil
}

func (r *postgresSubmissionRepository) scanSubmission(scanner interface{ Scan(...interface{}) error }) (*models.ResultSubmission, error) {
	var s models.ResultSubmission
	var rawScore string
	var evidence pq.StringArray
	err := scanner.Scan(
		&s.ID, &s.MatchID, &s.ParticipantID, &s.Side, &s.Round,
		&rawScore, &s.DeclaredWinnerID, &evidence, &s.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	score, err := models.ParseScore(rawScore)
	if err != nil {
		return nil, err
	}
	s.Score = score
	s.EvidenceKeys = evidence
	return &s, nil
}

func (r *postgresSubmissionRepository) GetByID(ctx context.Context, exec SQLExecutor, id string) (*models.ResultSubmission, error) {
	query := `
		SELECT id, match_id, participant_id, side, round, score, declared_winner_id, evidence_keys, created_at
		FROM result_submissions
		WHERE id = $1`

	submission, err := r.scanSubmission(r.getExecutor(exec).QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSubmissionNotFound
		}
		return nil, err
	}
	return submission, nil
}

func (r *postgresSubmissionRepository) ListByMatchRound(ctx context.Context, exec SQLExecutor, matchID, round int) ([]*models.ResultSubmission, error) {
	query := `
		SELECT id, match_id, participant_id, side, round, score, declared_winner_id, evidence_keys, created_at
		FROM result_submissions
		WHERE match_id = $1 AND round = $2
		ORDER BY created_at`

	rows, err := r.getExecutor(exec).QueryContext(ctx, query, matchID, round)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var submissions []*models.ResultSubmission
	for rows.Next() {
		submission, err := r.scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		submissions = append(submissions, submission)
	}
	return submissions, rows.Err()
}
