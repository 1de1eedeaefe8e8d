package services

import (
	"context"
	"sort"
	"time"

	"github.com/clashforge/bracket-engine/models"
	"github.com/clashforge/bracket-engine/repositories"
)

// In-memory repository fakes. They ignore the executor argument: every test
// flow here is single-writer, the transactional paths are covered against a
// real database.

type fakeTournamentRepo struct {
	tournaments map[int]*models.Tournament
}

func newFakeTournamentRepo(tournaments ...*models.Tournament) *fakeTournamentRepo {
	r := &fakeTournamentRepo{tournaments: make(map[int]*models.Tournament)}
	for _, t := range tournaments {
		r.tournaments[t.ID] = t
	}
	return r
}

func (r *fakeTournamentRepo) Create(_ context.Context, _ repositories.SQLExecutor, t *models.Tournament) error {
	t.ID = len(r.tournaments) + 1
	r.tournaments[t.ID] = t
	return nil
}

func (r *fakeTournamentRepo) GetByID(_ context.Context, _ repositories.SQLExecutor, id int) (*models.Tournament, error) {
	t, ok := r.tournaments[id]
	if !ok {
		return nil, repositories.ErrTournamentNotFound
	}
	copied := *t
	return &copied, nil
}

func (r *fakeTournamentRepo) UpdateStatus(_ context.Context, _ repositories.SQLExecutor, id int, status models.TournamentStatus) error {
	t, ok := r.tournaments[id]
	if !ok {
		return repositories.ErrTournamentNotFound
	}
	t.Status = status
	return nil
}

func (r *fakeTournamentRepo) UpdateStatusIfVersion(_ context.Context, _ repositories.SQLExecutor, id, expectedVersion int, status models.TournamentStatus) error {
	t, ok := r.tournaments[id]
	if !ok {
		return repositories.ErrTournamentNotFound
	}
	if t.Version != expectedVersion {
		return repositories.ErrTournamentVersionConflict
	}
	t.Status = status
	t.Version++
	return nil
}

type fakeGroupRepo struct {
	groups map[int]*models.Group
}

func newFakeGroupRepo(groups ...*models.Group) *fakeGroupRepo {
	r := &fakeGroupRepo{groups: make(map[int]*models.Group)}
	for _, g := range groups {
		r.groups[g.ID] = g
	}
	return r
}

func (r *fakeGroupRepo) Create(_ context.Context, _ repositories.SQLExecutor, g *models.Group) error {
	g.ID = len(r.groups) + 1
	r.groups[g.ID] = g
	return nil
}

func (r *fakeGroupRepo) GetByID(_ context.Context, _ repositories.SQLExecutor, id int) (*models.Group, error) {
	g, ok := r.groups[id]
	if !ok {
		return nil, repositories.ErrGroupNotFound
	}
	copied := *g
	return &copied, nil
}

func (r *fakeGroupRepo) ListByTournament(_ context.Context, _ repositories.SQLExecutor, tournamentID int) ([]*models.Group, error) {
	var out []*models.Group
	for _, g := range r.groups {
		if g.TournamentID == tournamentID {
			copied := *g
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderIndex < out[j].OrderIndex })
	return out, nil
}

func (r *fakeGroupRepo) SetFinalized(_ context.Context, _ repositories.SQLExecutor, id int, finalized bool) error {
	g, ok := r.groups[id]
	if !ok {
		return repositories.ErrGroupNotFound
	}
	g.Finalized = finalized
	return nil
}

type fakeStandingRepo struct {
	rows map[int]map[int]*models.GroupStanding // groupID -> participantID -> row
}

func newFakeStandingRepo() *fakeStandingRepo {
	return &fakeStandingRepo{rows: make(map[int]map[int]*models.GroupStanding)}
}

func (r *fakeStandingRepo) put(row *models.GroupStanding) {
	if r.rows[row.GroupID] == nil {
		r.rows[row.GroupID] = make(map[int]*models.GroupStanding)
	}
	r.rows[row.GroupID][row.ParticipantID] = row
}

func (r *fakeStandingRepo) GetByGroupAndParticipant(_ context.Context, _ repositories.SQLExecutor, groupID, participantID int) (*models.GroupStanding, error) {
	row, ok := r.rows[groupID][participantID]
	if !ok {
		return nil, repositories.ErrGroupStandingNotFound
	}
	return row, nil
}

func (r *fakeStandingRepo) GetOrCreate(_ context.Context, _ repositories.SQLExecutor, groupID, participantID int) (*models.GroupStanding, error) {
	if row, ok := r.rows[groupID][participantID]; ok {
		return row, nil
	}
	row := &models.GroupStanding{
		GroupID:       groupID,
		ParticipantID: participantID,
		Stats:         make(map[string]int),
	}
	r.put(row)
	return row, nil
}

func (r *fakeStandingRepo) BatchCreate(_ context.Context, _ repositories.SQLExecutor, standings []*models.GroupStanding) error {
	for _, row := range standings {
		r.put(row)
	}
	return nil
}

func (r *fakeStandingRepo) Update(_ context.Context, _ repositories.SQLExecutor, standing *models.GroupStanding) error {
	if _, ok := r.rows[standing.GroupID][standing.ParticipantID]; !ok {
		return repositories.ErrGroupStandingNotFound
	}
	r.put(standing)
	return nil
}

func (r *fakeStandingRepo) ListByGroup(_ context.Context, _ repositories.SQLExecutor, groupID int) ([]*models.GroupStanding, error) {
	var out []*models.GroupStanding
	for _, row := range r.rows[groupID] {
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ParticipantID < out[j].ParticipantID })
	return out, nil
}

func (r *fakeStandingRepo) DeleteByGroup(_ context.Context, _ repositories.SQLExecutor, groupID int) error {
	delete(r.rows, groupID)
	return nil
}

type fakeMatchRepo struct {
	matches map[int]*models.Match
	nextID  int
}

func newFakeMatchRepo(matches ...*models.Match) *fakeMatchRepo {
	r := &fakeMatchRepo{matches: make(map[int]*models.Match)}
	for _, m := range matches {
		r.matches[m.ID] = m
		if m.ID > r.nextID {
			r.nextID = m.ID
		}
	}
	return r
}

func (r *fakeMatchRepo) Create(_ context.Context, _ repositories.SQLExecutor, m *models.Match) error {
	r.nextID++
	m.ID = r.nextID
	r.matches[m.ID] = m
	return nil
}

func (r *fakeMatchRepo) GetByID(_ context.Context, _ repositories.SQLExecutor, id int) (*models.Match, error) {
	m, ok := r.matches[id]
	if !ok {
		return nil, repositories.ErrMatchNotFound
	}
	copied := *m
	return &copied, nil
}

func (r *fakeMatchRepo) list(filter func(*models.Match) bool) []*models.Match {
	var out []*models.Match
	for _, m := range r.matches {
		if filter(m) {
			copied := *m
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *fakeMatchRepo) ListByTournament(_ context.Context, _ repositories.SQLExecutor, tournamentID int, round *int, state *models.MatchState) ([]*models.Match, error) {
	return r.list(func(m *models.Match) bool {
		if m.TournamentID != tournamentID {
			return false
		}
		if round != nil && m.Round != *round {
			return false
		}
		if state != nil && m.State != *state {
			return false
		}
		return true
	}), nil
}

func (r *fakeMatchRepo) ListByGroup(_ context.Context, _ repositories.SQLExecutor, groupID int) ([]*models.Match, error) {
	return r.list(func(m *models.Match) bool {
		return m.GroupID != nil && *m.GroupID == groupID
	}), nil
}

func (r *fakeMatchRepo) ListByState(_ context.Context, _ repositories.SQLExecutor, state models.MatchState) ([]*models.Match, error) {
	return r.list(func(m *models.Match) bool { return m.State == state }), nil
}

func (r *fakeMatchRepo) Update(_ context.Context, _ repositories.SQLExecutor, match *models.Match) error {
	stored, ok := r.matches[match.ID]
	if !ok {
		return repositories.ErrMatchNotFound
	}
	if stored.Version != match.Version {
		return repositories.ErrMatchVersionConflict
	}
	copied := *match
	copied.Version++
	r.matches[match.ID] = &copied
	match.Version++
	return nil
}

func (r *fakeMatchRepo) ListCheckInExpired(_ context.Context, _ repositories.SQLExecutor, now time.Time) ([]*models.Match, error) {
	return r.list(func(m *models.Match) bool {
		return m.State == models.MatchScheduled && m.CheckInDeadline != nil && m.CheckInDeadline.Before(now)
	}), nil
}

// recordingPublisher captures emitted events for assertions.
type recordingPublisher struct {
	events []recordedEvent
}

type recordedEvent struct {
	tournamentID int
	eventType    string
	payload      interface{}
}

func (p *recordingPublisher) Publish(tournamentID int, eventType string, payload interface{}) {
	p.events = append(p.events, recordedEvent{tournamentID, eventType, payload})
}
