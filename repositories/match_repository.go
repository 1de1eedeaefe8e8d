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
	ErrMatchNotFound        = errors.New("match not found")
	ErrMatchVersionConflict = errors.New("match version conflict")
	ErrMatchInvalidRefs     = errors.New("match references invalid tournament or participant")
)

type MatchRepository interface {
	Create(ctx context.Context, exec SQLExecutor, match *models.Match) error
	GetByID(ctx context.Context, exec SQLExecutor, id int) (*models.Match, error)
	ListByTournament(ctx context.Context, exec SQLExecutor, tournamentID int, round *int, state *models.MatchState) ([]*models.Match, error)
	ListByGroup(ctx context.Context, exec SQLExecutor, groupID int) ([]*models.Match, error)
	ListByState(ctx context.Context, exec SQLExecutor, state models.MatchState) ([]*models.Match, error)

	// Update is the apply-if-version-matches write: the full row lands only
	// when the stored version equals match.Version, which is then bumped.
	Update(ctx context.Context, exec SQLExecutor, match *models.Match) error

	// ListCheckInExpired returns scheduled matches whose check-in deadline
	// passed before now. Used by the expiry sweep.
	ListCheckInExpired(ctx context.Context, exec SQLExecutor, now time.Time) ([]*models.Match, error)
}

type postgresMatchRepository struct {
	db *sql.DB
}

func NewPostgresMatchRepository(db *sql.DB) MatchRepository {
	return &postgresMatchRepository{db: db}
}

func (r *postgresMatchRepository) getExecutor(exec SQLExecutor) SQLExecutor {
	if exec != nil {
		return exec
	}
	return r.db
}

const matchColumns = `
	id, tournament_id, node_id, group_id, round, p1_id, p2_id,
	state, score, winner_id, submission_round, p1_checked_in, p2_checked_in,
	version, scheduled_at, check_in_deadline, started_at, completed_at, updated_at`

func (r *postgresMatchRepository) Create(ctx context.Context, exec SQLExecutor, match *models.Match) error {
	query := `
		INSERT INTO matches
			(tournament_id, node_id, group_id, round, p1_id, p2_id,
			 state, score, winner_id, submission_round, p1_checked_in, p2_checked_in,
			 version, scheduled_at, check_in_deadline)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 1, $13, $14)
		RETURNING id, updated_at`

	err := r.getExecutor(exec).QueryRowContext(ctx, query,
		match.TournamentID, match.NodeID, match.GroupID, match.Round,
		match.P1ID, match.P2ID, match.State, scoreToSQL(match.Score),
		match.WinnerID, match.SubmissionRound, match.P1CheckedIn, match.P2CheckedIn,
		match.ScheduledAt, match.CheckInDeadline,
	).Scan(&match.ID, &match.UpdatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23503" {
			return ErrMatchInvalidRefs
		}
		return err
	}
	match.Version = 1
	return nil
}

func scoreToSQL(score *models.Score) *string {
	if score == nil {
		return nil
	}
	s := score.String()
	return &s
}

func (r *postgresMatchRepository) scanMatch(scanner interface{ Scan(...interface{}) error }) (*models.Match, error) {
	var m models.Match
	var rawScore *string
	err := scanner.Scan(
		&m.ID, &m.TournamentID, &m.NodeID, &m.GroupID, &m.Round, &m.P1ID, &m.P2ID,
		&m.State, &rawScore, &m.WinnerID, &m.SubmissionRound, &m.P1CheckedIn, &m.P2CheckedIn,
		&m.Version, &m.ScheduledAt, &m.CheckInDeadline, &m.StartedAt, &m.CompletedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if rawScore != nil {
		score, err := models.ParseScore(*rawScore)
		if err != nil {
			return nil, err
		}
		m.Score = &score
	}
	return &m, nil
}

func (r *postgresMatchRepository) GetByID(ctx context.Context, exec SQLExecutor, id int) (*models.Match, error) {
	query := `SELECT ` + matchColumns + ` FROM matches WHERE id = $1`
	match, err := r.scanMatch(r.getExecutor(exec).QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMatchNotFound
		}
		return nil, err
	}
	return match, nil
}

func (r *postgresMatchRepository) ListByTournament(ctx context.Context, exec SQLExecutor, tournamentID int, round *int, state *models.MatchState) ([]*models.Match, error) {
	query := `
		SELECT ` + matchColumns + `
		FROM matches
		WHERE tournament_id = $1
		  AND ($2::int IS NULL OR round = $2)
		  AND ($3::text IS NULL OR state = $3)
		ORDER BY round, id`

	return r.list(ctx, exec, query, tournamentID, round, state)
}

func (r *postgresMatchRepository) ListByGroup(ctx context.Context, exec SQLExecutor, groupID int) ([]*models.Match, error) {
	query := `SELECT ` + matchColumns + ` FROM matches WHERE group_id = $1 ORDER BY round, id`
	return r.list(ctx, exec, query, groupID)
}

func (r *postgresMatchRepository) ListByState(ctx context.Context, exec SQLExecutor, state models.MatchState) ([]*models.Match, error) {
	query := `SELECT ` + matchColumns + ` FROM matches WHERE state = $1 ORDER BY id`
	return r.list(ctx, exec, query, state)
}

func (r *postgresMatchRepository) ListCheckInExpired(ctx context.Context, exec SQLExecutor, now time.Time) ([]*models.Match, error) {
	query := `
		SELECT ` + matchColumns + `
		FROM matches
		WHERE state = $1 AND check_in_deadline IS NOT NULL AND check_in_deadline < $2
		ORDER BY check_in_deadline`
	return r.list(ctx, exec, query, models.MatchScheduled, now)
}

func (r *postgresMatchRepository) list(ctx context.Context, exec SQLExecutor, query string, args ...interface{}) ([]*models.Match, error) {
	rows, err := r.getExecutor(exec).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []*models.Match
	for rows.Next() {
		match, err := r.scanMatch(rows)
		if err != nil {
			return nil, err
		}
		matches = append(matches, match)
	}
	return matches, rows.Err()
}

func (r *postgresMatchRepository) Update(ctx context.Context, exec SQLExecutor, match *models.Match) error {
	query := `
		UPDATE matches
		SET state = $1, score = $2, winner_id = $3, submission_round = $4,
		    p1_checked_in = $5, p2_checked_in = $6, p1_id = $7, p2_id = $8,
		    scheduled_at = $9, check_in_deadline = $10, started_at = $11, completed_at = $12,
		    version = version + 1, updated_at = NOW()
		WHERE id = $13 AND version = $14`

	result, err := r.getExecutor(exec).ExecContext(ctx, query,
		match.State, scoreToSQL(match.Score), match.WinnerID, match.SubmissionRound,
		match.P1CheckedIn, match.P2CheckedIn, match.P1ID, match.P2ID,
		match.ScheduledAt, match.CheckInDeadline, match.StartedAt, match.CompletedAt,
		match.ID, match.Version,
	)
	if err != nil {
		return err
	}
	if err := checkAffectedRows(result, ErrMatchVersionConflict); err != nil {
		return err
	}
	match.Version++
	return nil
}
