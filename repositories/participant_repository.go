package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/clashforge/bracket-engine/models"
	"github.com/lib/pq"
)

var (
	ErrParticipantNotFound = errors.New("participant not found")
	ErrParticipantConflict = errors.New("participant already registered or seed taken")
)

type ParticipantRepository interface {
	Create(ctx context.Context, exec SQLExecutor, participant *models.Participant) error
	GetByID(ctx context.Context, exec SQLExecutor, id int) (*models.Participant, error)

	// ListByTournament returns participants in seed order.
	ListByTournament(ctx context.Context, exec SQLExecutor, tournamentID int) ([]*models.Participant, error)
	ListByGroup(ctx context.Context, exec SQLExecutor, groupID int) ([]*models.Participant, error)
	AssignGroup(ctx context.Context, exec SQLExecutor, participantID int, groupID int) error
}

type postgresParticipantRepository struct {
	db *sql.DB
}

func NewPostgresParticipantRepository(db *sql.DB) ParticipantRepository {
	return &postgresParticipantRepository{db: db}
}

func (r *postgresParticipantRepository) getExecutor(exec SQLExecutor) SQLExecutor {
	if exec != nil {
		return exec
	}
	return r.db
}

func (r *postgresParticipantRepository) Create(ctx context.Context, exec SQLExecutor, participant *models.Participant) error {
	query := `
		INSERT INTO participants (tournament_id, user_id, team_id, display_name, seed, registration_order)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`

	err := r.getExecutor(exec).QueryRowContext(ctx, query,
		participant.TournamentID,
		participant.UserID,
		participant.TeamID,
		participant.DisplayName,
		participant.Seed,
		participant.RegistrationOrder,
	).Scan(&participant.ID, &participant.CreatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrParticipantConflict
		}
		return err
	}
	return nil
}

func (r *postgresParticipantRepository) GetByID(ctx context.Context, exec SQLExecutor, id int) (*models.Participant, error) {
	query := `
		SELECT id, tournament_id, user_id, team_id, display_name, seed, registration_order, group_id, created_at
		FROM participants
		WHERE id = $1`

	var p models.Participant
	err := r.getExecutor(exec).QueryRowContext(ctx, query, id).Scan(
		&p.ID, &p.TournamentID, &p.UserID, &p.TeamID, &p.DisplayName, &p.Seed, &p.RegistrationOrder, &p.GroupID, &p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrParticipantNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *postgresParticipantRepository) ListByTournament(ctx context.Context, exec SQLExecutor, tournamentID int) ([]*models.Participant, error) {
	query := `
		SELECT id, tournament_id, user_id, team_id, display_name, seed, registration_order, group_id, created_at
		FROM participants
		WHERE tournament_id = $1
		ORDER BY seed ASC`

	return r.list(ctx, exec, query, tournamentID)
}

func (r *postgresParticipantRepository) ListByGroup(ctx context.Context, exec SQLExecutor, groupID int) ([]*models.Participant, error) {
	query := `
		SELECT id, tournament_id, user_id, team_id, display_name, seed, registration_order, group_id, created_at
		FROM participants
		WHERE group_id = $1
		ORDER BY seed ASC`

	return r.list(ctx, exec, query, groupID)
}

func (r *postgresParticipantRepository) list(ctx context.Context, exec SQLExecutor, query string, arg interface{}) ([]*models.Participant, error) {
	rows, err := r.getExecutor(exec).QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var participants []*models.Participant
	for rows.Next() {
		var p models.Participant
		if err := rows.Scan(
			&p.ID, &p.TournamentID, &p.UserID, &p.TeamID, &p.DisplayName, &p.Seed, &p.RegistrationOrder, &p.GroupID, &p.CreatedAt,
		); err != nil {
			return nil, err
		}
		participants = append(participants, &p)
	}
	return participants, rows.Err()
}

func (r *postgresParticipantRepository) AssignGroup(ctx context.Context, exec SQLExecutor, participantID int, groupID int) error {
	query := `UPDATE participants SET group_id = $1 WHERE id = $2`
	result, err := r.getExecutor(exec).ExecContext(ctx, query, groupID, participantID)
	if err != nil {
		return err
	}
	return checkAffectedRows(result, ErrParticipantNotFound)
}
