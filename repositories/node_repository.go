package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/clashforge/bracket-engine/models"
)

var ErrNodeNotFound = errors.New("bracket node not found")

type BracketNodeRepository interface {
	Create(ctx context.Context, exec SQLExecutor, node *models.BracketNode) error
	GetByID(ctx context.Context, exec SQLExecutor, id int) (*models.BracketNode, error)
	ListByTournament(ctx context.Context, exec SQLExecutor, tournamentID int) ([]*models.BracketNode, error)
	UpdateLinks(ctx context.Context, exec SQLExecutor, nodeID int, nextNodeID, nextSlot, loserNextNodeID, loserNextSlot *int) error
	AssignSlot(ctx context.Context, exec SQLExecutor, nodeID int, slot int, participantID int) error
	CloseSlot(ctx context.Context, exec SQLExecutor, nodeID int, slot int) error
	SetMatchID(ctx context.Context, exec SQLExecutor, nodeID int, matchID int) error
	ArchiveByTournament(ctx context.Context, exec SQLExecutor, tournamentID int) error
}

type postgresBracketNodeRepository struct {
	db *sql.DB
}

func NewPostgresBracketNodeRepository(db *sql.DB) BracketNodeRepository {
	return &postgresBracketNodeRepository{db: db}
}

func (r *postgresBracketNodeRepository) getExecutor(exec SQLExecutor) SQLExecutor {
	if exec != nil {
		return exec
	}
	return r.db
}

const nodeColumns = `
	id, tournament_id, side, round, order_in_round,
	slot1_participant_id, slot2_participant_id,
	next_node_id, next_slot, loser_next_node_id, loser_next_slot,
	match_id, is_bye, bye_participant_id, slot1_closed, slot2_closed,
	archived, created_at`

func (r *postgresBracketNodeRepository) Create(ctx context.Context, exec SQLExecutor, node *models.BracketNode) error {
	query := `
		INSERT INTO bracket_nodes
			(tournament_id, side, round, order_in_round,
			 slot1_participant_id, slot2_participant_id,
			 next_node_id, next_slot, loser_next_node_id, loser_next_slot,
			 match_id, is_bye, bye_participant_id, slot1_closed, slot2_closed)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id, created_at`

	return r.getExecutor(exec).QueryRowContext(ctx, query,
		node.TournamentID, node.Side, node.Round, node.OrderInRound,
		node.Slot1ParticipantID, node.Slot2ParticipantID,
		node.NextNodeID, node.NextSlot, node.LoserNextNodeID, node.LoserNextSlot,
		node.MatchID, node.IsBye, node.ByeParticipantID, node.Slot1Closed, node.Slot2Closed,
	).Scan(&node.ID, &node.CreatedAt)
}

func (r *postgresBracketNodeRepository) scanNode(scanner interface{ Scan(...interface{}) error }) (*models.BracketNode, error) {
	var n models.BracketNode
	err := scanner.Scan(
		&n.ID, &n.TournamentID, &n.Side, &n.Round, &n.OrderInRound,
		&n.Slot1ParticipantID, &n.Slot2ParticipantID,
		&n.NextNodeID, &n.NextSlot, &n.LoserNextNodeID, &n.LoserNextSlot,
		&n.MatchID, &n.IsBye, &n.ByeParticipantID, &n.Slot1Closed, &n.Slot2Closed,
		&n.Archived, &n.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (r *postgresBracketNodeRepository) GetByID(ctx context.Context, exec SQLExecutor, id int) (*models.BracketNode, error) {
	query := `SELECT ` + nodeColumns + ` FROM bracket_nodes WHERE id = $1`
	node, err := r.scanNode(r.getExecutor(exec).QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNodeNotFound
		}
		return nil, err
	}
	return node, nil
}

func (r *postgresBracketNodeRepository) ListByTournament(ctx context.Context, exec SQLExecutor, tournamentID int) ([]*models.BracketNode, error) {
	query := `
		SELECT ` + nodeColumns + `
		FROM bracket_nodes
		WHERE tournament_id = $1
		ORDER BY side, round, order_in_round`

	rows, err := r.getExecutor(exec).QueryContext(ctx, query, tournamentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var nodes []*models.BracketNode
	for rows.Next() {
		node, err := r.scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	return nodes, rows.Err()
}

func (r *postgresBracketNodeRepository) UpdateLinks(ctx context.Context, exec SQLExecutor, nodeID int, nextNodeID, nextSlot, loserNextNodeID, loserNextSlot *int) error {
	query := `
		UPDATE bracket_nodes
		SET next_node_id = $1, next_slot = $2, loser_next_node_id = $3, loser_next_slot = $4
		WHERE id = $5`
	result, err := r.getExecutor(exec).ExecContext(ctx, query, nextNodeID, nextSlot, loserNextNodeID, loserNextSlot, nodeID)
	if err != nil {
		return err
	}
	return checkAffectedRows(result, ErrNodeNotFound)
}

func (r *postgresBracketNodeRepository) AssignSlot(ctx context.Context, exec SQLExecutor, nodeID int, slot int, participantID int) error {
	var query string
	if slot == 1 {
		query = `UPDATE bracket_nodes SET slot1_participant_id = $1 WHERE id = $2`
	} else {
		query = `UPDATE bracket_nodes SET slot2_participant_id = $1 WHERE id = $2`
	}
	result, err := r.getExecutor(exec).ExecContext(ctx, query, participantID, nodeID)
	if err != nil {
		return err
	}
	return checkAffectedRows(result, ErrNodeNotFound)
}

// CloseSlot marks a slot that will never receive a participant because its
// feeder produced no one to route.
func (r *postgresBracketNodeRepository) CloseSlot(ctx context.Context, exec SQLExecutor, nodeID int, slot int) error {
	var query string
	if slot == 1 {
		query = `UPDATE bracket_nodes SET slot1_closed = TRUE WHERE id = $1`
	} else {
		query = `UPDATE bracket_nodes SET slot2_closed = TRUE WHERE id = $1`
	}
	result, err := r.getExecutor(exec).ExecContext(ctx, query, nodeID)
	if err != nil {
		return err
	}
	return checkAffectedRows(result, ErrNodeNotFound)
}

func (r *postgresBracketNodeRepository) SetMatchID(ctx context.Context, exec SQLExecutor, nodeID int, matchID int) error {
	query := `UPDATE bracket_nodes SET match_id = $1 WHERE id = $2`
	result, err := r.getExecutor(exec).ExecContext(ctx, query, matchID, nodeID)
	if err != nil {
		return err
	}
	return checkAffectedRows(result, ErrNodeNotFound)
}

func (r *postgresBracketNodeRepository) ArchiveByTournament(ctx context.Context, exec SQLExecutor, tournamentID int) error {
	query := `UPDATE bracket_nodes SET archived = TRUE WHERE tournament_id = $1`
	_, err := r.getExecutor(exec).ExecContext(ctx, query, tournamentID)
	return err
}
