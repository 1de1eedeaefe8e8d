package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/clashforge/bracket-engine/models"
	"github.com/lib/pq"
)

var (
	ErrGroupNotFound         = errors.New("group not found")
	ErrGroupStandingNotFound = errors.New("group standing not found")
)

type GroupRepository interface {
	Create(ctx context.Context, exec SQLExecutor, group *models.Group) error
	GetByID(ctx context.Context, exec SQLExecutor, id int) (*models.Group, error)
	ListByTournament(ctx context.Context, exec SQLExecutor, tournamentID int) ([]*models.Group, error)
	SetFinalized(ctx context.Context, exec SQLExecutor, id int, finalized bool) error
}

// StandingRepository persists per-group standing rows. Extra stat counters
// live in a JSONB bag so rule sets can track fields the schema never named.
type StandingRepository interface {
	GetByGroupAndParticipant(ctx context.Context, exec SQLExecutor, groupID, participantID int) (*models.GroupStanding, error)
	GetOrCreate(ctx context.Context, exec SQLExecutor, groupID, participantID int) (*models.GroupStanding, error)
	BatchCreate(ctx context.Context, exec SQLExecutor, standings []*models.GroupStanding) error
	Update(ctx context.Context, exec SQLExecutor, standing *models.GroupStanding) error
	ListByGroup(ctx context.Context, exec SQLExecutor, groupID int) ([]*models.GroupStanding, error)
	DeleteByGroup(ctx context.Context, exec SQLExecutor, groupID int) error
}

type postgresGroupRepository struct {
	db *sql.DB
}

func NewPostgresGroupRepository(db *sql.DB) GroupRepository {
	return &postgresGroupRepository{db: db}
}

func (r *postgresGroupRepository) getExecutor(exec SQLExecutor) SQLExecutor {
	if exec != nil {
		return exec
	}
	return r.db
}

func (r *postgresGroupRepository) Create(ctx context.Context, exec SQLExecutor, group *models.Group) error {
	query := `
		INSERT INTO groups (tournament_id, name, order_index, stat_fields, finalized)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	return r.getExecutor(exec).QueryRowContext(ctx, query,
		group.TournamentID, group.Name, group.OrderIndex, pq.Array(group.StatFields), group.Finalized,
	).Scan(&group.ID)
}

func (r *postgresGroupRepository) GetByID(ctx context.Context, exec SQLExecutor, id int) (*models.Group, error) {
	query := `
		SELECT id, tournament_id, name, order_index, stat_fields, finalized
		FROM groups
		WHERE id = $1`

	var g models.Group
	var fields pq.StringArray
	err := r.getExecutor(exec).QueryRowContext(ctx, query, id).Scan(
		&g.ID, &g.TournamentID, &g.Name, &g.OrderIndex, &fields, &g.Finalized,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrGroupNotFound
		}
		return nil, err
	}
	g.StatFields = fields
	return &g, nil
}

func (r *postgresGroupRepository) ListByTournament(ctx context.Context, exec SQLExecutor, tournamentID int) ([]*models.Group, error) {
	query := `
		SELECT id, tournament_id, name, order_index, stat_fields, finalized
		FROM groups
		WHERE tournament_id = $1
		ORDER BY order_index`

	rows, err := r.getExecutor(exec).QueryContext(ctx, query, tournamentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []*models.Group
	for rows.Next() {
		var g models.Group
		var fields pq.StringArray
		if err := rows.Scan(&g.ID, &g.TournamentID, &g.Name, &g.OrderIndex, &fields, &g.Finalized); err != nil {
			return nil, err
		}
		g.StatFields = fields
		groups = append(groups, &g)
	}
	return groups, rows.Err()
}

func (r *postgresGroupRepository) SetFinalized(ctx context.Context, exec SQLExecutor, id int, finalized bool) error {
	query := `UPDATE groups SET finalized = $1 WHERE id = $2`
	result, err := r.getExecutor(exec).ExecContext(ctx, query, finalized, id)
	if err != nil {
		return err
	}
	return checkAffectedRows(result, ErrGroupNotFound)
}

type postgresStandingRepository struct {
	db *sql.DB
}

func NewPostgresStandingRepository(db *sql.DB) StandingRepository {
	return &postgresStandingRepository{db: db}
}

func (r *postgresStandingRepository) getExecutor(exec SQLExecutor) SQLExecutor {
	if exec != nil {
		return exec
	}
	return r.db
}

const standingColumns = `
	group_id, participant_id, played, wins, draws, losses, points, stats, rank, advancing, updated_at`

func (r *postgresStandingRepository) scanStanding(scanner interface{ Scan(...interface{}) error }) (*models.GroupStanding, error) {
	var s models.GroupStanding
	var statsRaw []byte
	err := scanner.Scan(
		&s.GroupID, &s.ParticipantID, &s.Played, &s.Wins, &s.Draws, &s.Losses,
		&s.Points, &statsRaw, &s.Rank, &s.Advancing, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(statsRaw) > 0 {
		if err := json.Unmarshal(statsRaw, &s.Stats); err != nil {
			return nil, fmt.Errorf("decode standing stats for participant %d: %w", s.ParticipantID, err)
		}
	}
	if s.Stats == nil {
		s.Stats = make(map[string]int)
	}
	return &s, nil
}

func (r *postgresStandingRepository) GetByGroupAndParticipant(ctx context.Context, exec SQLExecutor, groupID, participantID int) (*models.GroupStanding, error) {
	query := `
		SELECT ` + standingColumns + `
		FROM group_standings
		WHERE group_id = $1 AND participant_id = $2`

	standing, err := r.scanStanding(r.getExecutor(exec).QueryRowContext(ctx, query, groupID, participantID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrGroupStandingNotFound
		}
		return nil, err
	}
	return standing, nil
}

func (r *postgresStandingRepository) GetOrCreate(ctx context.Context, exec SQLExecutor, groupID, participantID int) (*models.GroupStanding, error) {
	standing, err := r.GetByGroupAndParticipant(ctx, exec, groupID, participantID)
	if err == nil {
		return standing, nil
	}
	if !errors.Is(err, ErrGroupStandingNotFound) {
		return nil, err
	}

	standing = &models.GroupStanding{
		GroupID:       groupID,
		ParticipantID: participantID,
		Stats:         make(map[string]int),
		UpdatedAt:     time.Now(),
	}
	if err := r.BatchCreate(ctx, exec, []*models.GroupStanding{standing}); err != nil {
		return nil, fmt.Errorf("create standing g:%d p:%d: %w", groupID, participantID, err)
	}
	return standing, nil
}

func (r *postgresStandingRepository) BatchCreate(ctx context.Context, exec SQLExecutor, standings []*models.GroupStanding) error {
	if len(standings) == 0 {
		return nil
	}
	executor := r.getExecutor(exec)

	query := `
		INSERT INTO group_standings
			(group_id, participant_id, played, wins, draws, losses, points, stats, rank, advancing, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	for _, standing := range standings {
		if standing.UpdatedAt.IsZero() {
			standing.UpdatedAt = time.Now()
		}
		statsRaw, err := json.Marshal(standing.Stats)
		if err != nil {
			return fmt.Errorf("encode standing stats for participant %d: %w", standing.ParticipantID, err)
		}
		_, err = executor.ExecContext(ctx, query,
			standing.GroupID, standing.ParticipantID, standing.Played, standing.Wins,
			standing.Draws, standing.Losses, standing.Points, statsRaw,
			standing.Rank, standing.Advancing, standing.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert standing for participant %d: %w", standing.ParticipantID, err)
		}
	}
	return nil
}

func (r *postgresStandingRepository) Update(ctx context.Context, exec SQLExecutor, standing *models.GroupStanding) error {
	statsRaw, err := json.Marshal(standing.Stats)
	if err != nil {
		return fmt.Errorf("encode standing stats for participant %d: %w", standing.ParticipantID, err)
	}

	query := `
		UPDATE group_standings
		SET played = $1, wins = $2, draws = $3, losses = $4, points = $5,
		    stats = $6, rank = $7, advancing = $8, updated_at = NOW()
		WHERE group_id = $9 AND participant_id = $10`

	result, err := r.getExecutor(exec).ExecContext(ctx, query,
		standing.Played, standing.Wins, standing.Draws, standing.Losses, standing.Points,
		statsRaw, standing.Rank, standing.Advancing,
		standing.GroupID, standing.ParticipantID,
	)
	if err != nil {
		return err
	}
	return checkAffectedRows(result, ErrGroupStandingNotFound)
}

func (r *postgresStandingRepository) ListByGroup(ctx context.Context, exec SQLExecutor, groupID int) ([]*models.GroupStanding, error) {
	query := `
		SELECT gs.group_id, gs.participant_id, gs.played, gs.wins, gs.draws, gs.losses,
		       gs.points, gs.stats, gs.rank, gs.advancing, gs.updated_at,
		       p.registration_order
		FROM group_standings gs
		JOIN participants p ON p.id = gs.participant_id
		WHERE gs.group_id = $1
		ORDER BY gs.participant_id`

	rows, err := r.getExecutor(exec).QueryContext(ctx, query, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var standings []*models.GroupStanding
	for rows.Next() {
		var s models.GroupStanding
		var statsRaw []byte
		err := rows.Scan(
			&s.GroupID, &s.ParticipantID, &s.Played, &s.Wins, &s.Draws, &s.Losses,
			&s.Points, &statsRaw, &s.Rank, &s.Advancing, &s.UpdatedAt,
			&s.RegistrationOrder,
		)
		if err != nil {
			return nil, err
		}
		if len(statsRaw) > 0 {
			if err := json.Unmarshal(statsRaw, &s.Stats); err != nil {
				return nil, fmt.Errorf("decode standing stats for participant %d: %w", s.ParticipantID, err)
			}
		}
		if s.Stats == nil {
			s.Stats = make(map[string]int)
		}
		standings = append(standings, &s)
	}
	return standings, rows.Err()
}

func (r *postgresStandingRepository) DeleteByGroup(ctx context.Context, exec SQLExecutor, groupID int) error {
	query := `DELETE FROM group_standings WHERE group_id = $1`
	_, err := r.getExecutor(exec).ExecContext(ctx, query, groupID)
	return err
}
