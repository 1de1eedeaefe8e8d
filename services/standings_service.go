package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/clashforge/bracket-engine/config"
	"github.com/clashforge/bracket-engine/events"
	"github.com/clashforge/bracket-engine/models"
	"github.com/clashforge/bracket-engine/repositories"
)

// StandingsService maintains group standings from match results and ranks
// them with the tournament's configured tiebreaker chain. The chain is pure
// data: the engine never branches on a game title.
type StandingsService interface {
	// ApplyMatchResult folds one finished match into both standings rows,
	// re-ranks the group and publishes the fresh snapshot.
	ApplyMatchResult(ctx context.Context, match *models.Match) error

	// RecalculateGroup rebuilds every row of the group from its terminal
	// matches. Recovery path; ApplyMatchResult keeps rows current normally.
	RecalculateGroup(ctx context.Context, groupID int) ([]*models.GroupStanding, error)

	// RankGroup orders current rows by the tiebreaker chain and persists ranks.
	RankGroup(ctx context.Context, groupID int) ([]*models.GroupStanding, error)

	// FinalizeGroup ranks, marks the top advance_per_group rows advancing and
	// freezes the group. A full tie straddling the cutoff is ErrCutoffTie.
	FinalizeGroup(ctx context.Context, groupID int) ([]*models.GroupStanding, error)
}

type standingsService struct {
	groupRepo      repositories.GroupRepository
	standingRepo   repositories.StandingRepository
	matchRepo      repositories.MatchRepository
	tournamentRepo repositories.TournamentRepository
	rules          *config.RulesResolver
	publisher      events.Publisher
	logger         *slog.Logger
}

func NewStandingsService(
	groupRepo repositories.GroupRepository,
	standingRepo repositories.StandingRepository,
	matchRepo repositories.MatchRepository,
	tournamentRepo repositories.TournamentRepository,
	rules *config.RulesResolver,
	publisher events.Publisher,
	logger *slog.Logger,
) StandingsService {
	return &standingsService{
		groupRepo:      groupRepo,
		standingRepo:   standingRepo,
		matchRepo:      matchRepo,
		tournamentRepo: tournamentRepo,
		rules:          rules,
		publisher:      publisher,
		logger:         logger,
	}
}

func (s *standingsService) groupRules(ctx context.Context, group *models.Group) (*config.Rules, error) {
	tournament, err := s.tournamentRepo.GetByID(ctx, nil, group.TournamentID)
	if err != nil {
		if errors.Is(err, repositories.ErrTournamentNotFound) {
			return nil, ErrTournamentNotFound
		}
		return nil, err
	}
	rules, err := s.rules.Resolve(derefString(tournament.RulesJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve rules for tournament %d: %w", group.TournamentID, err)
	}
	return rules, nil
}

func (s *standingsService) ApplyMatchResult(ctx context.Context, match *models.Match) error {
	if match.GroupID == nil {
		return fmt.Errorf("%w: match %d has no group", ErrValidationFailed, match.ID)
	}
	if match.P1ID == nil || match.P2ID == nil {
		return fmt.Errorf("%w: match %d is missing a participant", ErrValidationFailed, match.ID)
	}

	group, err := s.groupRepo.GetByID(ctx, nil, *match.GroupID)
	if err != nil {
		if errors.Is(err, repositories.ErrGroupNotFound) {
			return ErrGroupNotFound
		}
		return err
	}
	rules, err := s.groupRules(ctx, group)
	if err != nil {
		return err
	}

	row1, err := s.standingRepo.GetOrCreate(ctx, nil, group.ID, *match.P1ID)
	if err != nil {
		return err
	}
	row2, err := s.standingRepo.GetOrCreate(ctx, nil, group.ID, *match.P2ID)
	if err != nil {
		return err
	}

	applyResultDelta(row1, row2, match, rules)

	if err := s.standingRepo.Update(ctx, nil, row1); err != nil {
		return err
	}
	if err := s.standingRepo.Update(ctx, nil, row2); err != nil {
		return err
	}

	_, err = s.RankGroup(ctx, group.ID)
	return err
}

// applyResultDelta folds one finished match into both rows. A forfeit with no
// winner counts as a loss on both sides; an equal score with no winner is a
// draw.
func applyResultDelta(row1, row2 *models.GroupStanding, match *models.Match, rules *config.Rules) {
	row1.Played++
	row2.Played++

	switch {
	case match.WinnerID != nil && *match.WinnerID == row1.ParticipantID:
		row1.Wins++
		row1.Points += rules.Scoring.WinPoints
		row2.Losses++
		row2.Points += rules.Scoring.LossPoints
	case match.WinnerID != nil && *match.WinnerID == row2.ParticipantID:
		row2.Wins++
		row2.Points += rules.Scoring.WinPoints
		row1.Losses++
		row1.Points += rules.Scoring.LossPoints
	case match.Score != nil:
		row1.Draws++
		row2.Draws++
		row1.Points += rules.Scoring.DrawPoints
		row2.Points += rules.Scoring.DrawPoints
	default:
		row1.Losses++
		row2.Losses++
		row1.Points += rules.Scoring.LossPoints
		row2.Points += rules.Scoring.LossPoints
	}

	if match.Score != nil {
		applyScoreStats(row1, match.Score.A, match.Score.B, rules)
		applyScoreStats(row2, match.Score.B, match.Score.A, rules)
	}
}

// applyByeDelta credits a bye to its recipient as a win without an opponent.
// No canonical score exists, so the derivable stat fields stay untouched.
func applyByeDelta(row *models.GroupStanding, rules *config.Rules) {
	row.Played++
	row.Wins++
	row.Points += rules.Scoring.WinPoints
}

// applyScoreStats maintains the stat-bag fields the engine can derive from a
// canonical score. Declared fields it cannot derive stay absent and surface
// as ErrMissingStatField at ranking time unless marked optional.
func applyScoreStats(row *models.GroupStanding, scoreFor, scoreAgainst int, rules *config.Rules) {
	for _, field := range rules.StatFields() {
		switch field {
		case "score_for":
			row.Stats[field] += scoreFor
		case "score_against":
			row.Stats[field] += scoreAgainst
		case "score_diff":
			row.Stats[field] += scoreFor - scoreAgainst
		}
	}
}

func (s *standingsService) RecalculateGroup(ctx context.Context, groupID int) ([]*models.GroupStanding, error) {
	group, err := s.groupRepo.GetByID(ctx, nil, groupID)
	if err != nil {
		if errors.Is(err, repositories.ErrGroupNotFound) {
			return nil, ErrGroupNotFound
		}
		return nil, err
	}
	rules, err := s.groupRules(ctx, group)
	if err != nil {
		return nil, err
	}

	standings, err := s.standingRepo.ListByGroup(ctx, nil, groupID)
	if err != nil {
		return nil, err
	}
	for _, row := range standings {
		row.Played, row.Wins, row.Draws, row.Losses, row.Points = 0, 0, 0, 0, 0
		row.Stats = initialStatBag(rules)
	}
	byParticipant := make(map[int]*models.GroupStanding, len(standings))
	for _, row := range standings {
		byParticipant[row.ParticipantID] = row
	}

	matches, err := s.matchRepo.ListByGroup(ctx, nil, groupID)
	if err != nil {
		return nil, err
	}
	for _, match := range matches {
		if !match.State.Terminal() || match.State == models.MatchCancelled {
			continue
		}
		if match.P2ID == nil {
			// One-sided fixture: a bye credited to its recipient at creation.
			if match.WinnerID != nil {
				if row, ok := byParticipant[*match.WinnerID]; ok {
					applyByeDelta(row, rules)
				}
			}
			continue
		}
		if match.P1ID == nil {
			continue
		}
		row1, ok1 := byParticipant[*match.P1ID]
		row2, ok2 := byParticipant[*match.P2ID]
		if !ok1 || !ok2 {
			continue
		}
		applyResultDelta(row1, row2, match, rules)
	}

	for _, row := range standings {
		if err := s.standingRepo.Update(ctx, nil, row); err != nil {
			return nil, err
		}
	}
	return s.RankGroup(ctx, groupID)
}

func (s *standingsService) RankGroup(ctx context.Context, groupID int) ([]*models.GroupStanding, error) {
	group, err := s.groupRepo.GetByID(ctx, nil, groupID)
	if err != nil {
		if errors.Is(err, repositories.ErrGroupNotFound) {
			return nil, ErrGroupNotFound
		}
		return nil, err
	}
	rules, err := s.groupRules(ctx, group)
	if err != nil {
		return nil, err
	}

	standings, err := s.standingRepo.ListByGroup(ctx, nil, groupID)
	if err != nil {
		return nil, err
	}
	matches, err := s.matchRepo.ListByGroup(ctx, nil, groupID)
	if err != nil {
		return nil, err
	}

	if err := rankStandings(standings, rules, matches); err != nil {
		return nil, err
	}
	for _, row := range standings {
		if err := s.standingRepo.Update(ctx, nil, row); err != nil {
			return nil, err
		}
	}

	snapshot := make([]models.GroupStanding, len(standings))
	for i, row := range standings {
		snapshot[i] = *row
	}
	s.publisher.Publish(group.TournamentID, events.TypeStandingsUpdated, events.StandingsUpdated{
		GroupID:   groupID,
		Standings: snapshot,
	})
	return standings, nil
}

func (s *standingsService) FinalizeGroup(ctx context.Context, groupID int) ([]*models.GroupStanding, error) {
	group, err := s.groupRepo.GetByID(ctx, nil, groupID)
	if err != nil {
		if errors.Is(err, repositories.ErrGroupNotFound) {
			return nil, ErrGroupNotFound
		}
		return nil, err
	}
	rules, err := s.groupRules(ctx, group)
	if err != nil {
		return nil, err
	}

	matches, err := s.matchRepo.ListByGroup(ctx, nil, groupID)
	if err != nil {
		return nil, err
	}
	for _, match := range matches {
		if !match.State.Terminal() {
			return nil, fmt.Errorf("%w: match %d is %s", ErrGroupNotFinalizable, match.ID, match.State)
		}
	}

	standings, err := s.standingRepo.ListByGroup(ctx, nil, groupID)
	if err != nil {
		return nil, err
	}
	if err := rankStandings(standings, rules, matches); err != nil {
		return nil, err
	}

	cutoff := rules.AdvancePerGroup
	if cutoff > 0 && cutoff < len(standings) {
		if fullyTied(standings[cutoff-1], standings[cutoff], rules, matches) {
			return nil, fmt.Errorf("%w: group %d ranks %d and %d", ErrCutoffTie, groupID, cutoff, cutoff+1)
		}
	}
	for i, row := range standings {
		row.Advancing = cutoff > 0 && i < cutoff
	}

	for _, row := range standings {
		if err := s.standingRepo.Update(ctx, nil, row); err != nil {
			return nil, err
		}
	}
	if err := s.groupRepo.SetFinalized(ctx, nil, groupID, true); err != nil {
		return nil, err
	}

	snapshot := make([]models.GroupStanding, len(standings))
	for i, row := range standings {
		snapshot[i] = *row
	}
	s.publisher.Publish(group.TournamentID, events.TypeStandingsUpdated, events.StandingsUpdated{
		GroupID:   groupID,
		Standings: snapshot,
	})
	return standings, nil
}

// headToHeadWins counts terminal mutual wins keyed [winner][loser].
func headToHeadWins(matches []*models.Match) map[int]map[int]int {
	wins := make(map[int]map[int]int)
	for _, m := range matches {
		if !m.State.Terminal() || m.WinnerID == nil {
			continue
		}
		loser := m.LoserID()
		if loser == nil {
			continue
		}
		if wins[*m.WinnerID] == nil {
			wins[*m.WinnerID] = make(map[int]int)
		}
		wins[*m.WinnerID][*loser]++
	}
	return wins
}

// statValue resolves one tiebreaker field for one row. A non-optional absent
// field is an error, never a silent zero.
func statValue(row *models.GroupStanding, tb config.TiebreakerField) (int, error) {
	if value, ok := row.Stats[tb.Field]; ok {
		return value, nil
	}
	if tb.Optional {
		return tb.Default, nil
	}
	return 0, fmt.Errorf("%w: field %q for participant %d", ErrMissingStatField, tb.Field, row.ParticipantID)
}

// rankStandings orders rows by points, then the configured tiebreaker chain,
// then registration order as the final deterministic fallback. Ranks are
// written back onto the rows.
func rankStandings(standings []*models.GroupStanding, rules *config.Rules, matches []*models.Match) error {
	// Resolve every stat field up front so absence surfaces as an error
	// instead of a panic inside the comparator.
	resolved := make(map[int][]int, len(standings))
	for _, row := range standings {
		values := make([]int, len(rules.Tiebreakers))
		for i, tb := range rules.Tiebreakers {
			if tb.Field == config.HeadToHeadField {
				continue
			}
			v, err := statValue(row, tb)
			if err != nil {
				return err
			}
			values[i] = v
		}
		resolved[row.ParticipantID] = values
	}
	h2h := headToHeadWins(matches)

	sort.SliceStable(standings, func(x, y int) bool {
		a, b := standings[x], standings[y]
		if a.Points != b.Points {
			return a.Points > b.Points
		}
		for i, tb := range rules.Tiebreakers {
			var va, vb int
			if tb.Field == config.HeadToHeadField {
				va = h2h[a.ParticipantID][b.ParticipantID]
				vb = h2h[b.ParticipantID][a.ParticipantID]
			} else {
				va = resolved[a.ParticipantID][i]
				vb = resolved[b.ParticipantID][i]
			}
			if va == vb {
				continue
			}
			if tb.Direction == config.SortAsc {
				return va < vb
			}
			return va > vb
		}
		return a.RegistrationOrder < b.RegistrationOrder
	})

	for i, row := range standings {
		rank := i + 1
		row.Rank = &rank
	}
	return nil
}

// fullyTied reports whether two rows are indistinguishable across points and
// the entire tiebreaker chain, head-to-head included.
func fullyTied(a, b *models.GroupStanding, rules *config.Rules, matches []*models.Match) bool {
	if a.Points != b.Points {
		return false
	}
	h2h := headToHeadWins(matches)
	for _, tb := range rules.Tiebreakers {
		var va, vb int
		if tb.Field == config.HeadToHeadField {
			va = h2h[a.ParticipantID][b.ParticipantID]
			vb = h2h[b.ParticipantID][a.ParticipantID]
		} else {
			var err error
			if va, err = statValue(a, tb); err != nil {
				return false
			}
			if vb, err = statValue(b, tb); err != nil {
				return false
			}
		}
		if va != vb {
			return false
		}
	}
	return true
}
