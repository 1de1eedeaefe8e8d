package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/clashforge/bracket-engine/models"
	"github.com/lib/pq"
)

var (
	ErrTournamentNotFound        = errors.New("tournament not found")
	ErrTournamentNameConflict    = errors.New("tournament name already exists")
	ErrTournamentVersionConflict = errors.New("tournament version conflict")
)

type TournamentRepository interface {
	Create(ctx context.Context, exec SQLExecutor, tournament *models.Tournament) error
	GetByID(ctx context.Context, exec SQLExecutor, id int) (*models.Tournament, error)
	UpdateStatus(ctx context.Context, exec SQLExecutor, id int, status models.TournamentStatus) error

	// UpdateStatusIfVersion is the apply-if-version-matches primitive:
	// the write lands only when the stored version equals expectedVersion.
	UpdateStatusIfVersion(ctx context.Context, exec SQLExecutor, id int, expectedVersion int, status models.TournamentStatus) error
}

type postgresTournamentRepository struct {
	db *sql.DB
}

func NewPostgresTournamentRepository(db *sql.DB) TournamentRepository {
	return &postgresTournamentRepository{db: db}
}

func (r *postgresTournamentRepository) getExecutor(exec SQLExecutor) SQLExecutor {
	if exec != nil {
		return exec
	}
	return r.db
}

func (r *postgresTournamentRepository) Create(ctx context.Context, exec SQLExecutor, tournament *models.Tournament) error {
	query := `
		INSERT INTO tournaments (name, format, rules_json, status, version, start_date)
		VALUES ($1, $2, $3, $4, 1, $5)
		RETURNING id, created_at`

	err := r.getExecutor(exec).QueryRowContext(ctx, query,
		tournament.Name,
		tournament.Format,
		tournament.RulesJSON,
		tournament.Status,
		tournament.StartDate,
	).Scan(&tournament.ID, &tournament.CreatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Constraint == "tournaments_name_key" {
			return ErrTournamentNameConflict
		}
		return err
	}
	tournament.Version = 1
	return nil
}

func (r *postgresTournamentRepository) GetByID(ctx context.Context, exec SQLExecutor, id int) (*models.Tournament, error) {
	query := `
		SELECT id, name, format, rules_json, status, version, start_date, created_at
		FROM tournaments
		WHERE id = $1`

	var t models.Tournament
	err := r.getExecutor(exec).QueryRowContext(ctx, query, id).Scan(
		&t.ID, &t.Name, &t.Format, &t.RulesJSON, &t.Status, &t.Version, &t.StartDate, &t.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTournamentNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (r *postgresTournamentRepository) UpdateStatus(ctx context.Context, exec SQLExecutor, id int, status models.TournamentStatus) error {
	query := `UPDATE tournaments SET status = $1, version = version + 1 WHERE id = $2`
	result, err := r.getExecutor(exec).ExecContext(ctx, query, status, id)
	if err != nil {
		return err
	}
	return checkAffectedRows(result, ErrTournamentNotFound)
}

func (r *postgresTournamentRepository) UpdateStatusIfVersion(ctx context.Context, exec SQLExecutor, id int, expectedVersion int, status models.TournamentStatus) error {
	query := `
		UPDATE tournaments SET status = $1, version = version + 1
		WHERE id = $2 AND version = $3`
	result, err := r.getExecutor(exec).ExecContext(ctx, query, status, id, expectedVersion)
	if err != nil {
		return err
	}
	return checkAffectedRows(result, ErrTournamentVersionConflict)
}
