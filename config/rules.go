package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/clashforge/bracket-engine/models"
)

// Rules validation errors, matched with errors.Is by callers.
var (
	ErrRulesInvalid = errors.New("invalid tournament rules")
	ErrRulesMissing = errors.New("tournament rules not found")
)

type MatchFormat string

const (
	FormatBo1 MatchFormat = "bo1"
	FormatBo3 MatchFormat = "bo3"
	FormatBo5 MatchFormat = "bo5"
)

// NoShowPolicy selects the default outcome for a match whose dispute/result
// window elapses with zero submissions.
type NoShowPolicy string

const (
	NoShowDoubleForfeit NoShowPolicy = "double_forfeit"
	NoShowForcedReplay  NoShowPolicy = "forced_replay"
)

type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// HeadToHeadField is the reserved tiebreaker field name that compares the
// mutual results of the tied participants instead of a stat-bag value.
const HeadToHeadField = "head_to_head"

// TiebreakerField is one entry of the ordered tiebreaker spec. Optional fields
// fall back to Default when absent from a stat bag; non-optional absence is an
// error, never a silent zero.
type TiebreakerField struct {
	Field     string        `json:"field"`
	Direction SortDirection `json:"direction"`
	Optional  bool          `json:"optional,omitempty"`
	Default   int           `json:"default,omitempty"`
}

type ScoringRules struct {
	WinPoints  int `json:"win_points"`
	DrawPoints int `json:"draw_points"`
	LossPoints int `json:"loss_points"`
}

// Rules is the per-tournament rules document consumed from the configuration
// collaborator. Tiebreakers here are data, not code: the standings engine
// never branches on a game title.
type Rules struct {
	MatchFormat          MatchFormat          `json:"match_format"`
	BracketFormat        models.BracketFormat `json:"bracket_format"`
	Scoring              ScoringRules         `json:"scoring"`
	Tiebreakers          []TiebreakerField    `json:"tiebreakers"`
	CheckInWindowMinutes int                  `json:"check_in_window_minutes"`
	DisputeWindowHours   int                  `json:"dispute_window_hours"`
	GroupCount           int                  `json:"group_count,omitempty"`
	AdvancePerGroup      int                  `json:"advance_per_group,omitempty"`
	SwissRounds          int                  `json:"swiss_rounds,omitempty"`
	DoubleRoundRobin     bool                 `json:"double_round_robin,omitempty"`
	NoShowPolicy         NoShowPolicy         `json:"no_show_policy,omitempty"`
}

func (r *Rules) CheckInWindow() time.Duration {
	return time.Duration(r.CheckInWindowMinutes) * time.Minute
}

func (r *Rules) DisputeWindow() time.Duration {
	return time.Duration(r.DisputeWindowHours) * time.Hour
}

// StatFields lists the stat-bag keys the tiebreaker spec requires, in declared
// order. Groups fix their standing bags to exactly these keys at creation.
func (r *Rules) StatFields() []string {
	fields := make([]string, 0, len(r.Tiebreakers))
	for _, tb := range r.Tiebreakers {
		if tb.Field == HeadToHeadField {
			continue
		}
		fields = append(fields, tb.Field)
	}
	return fields
}

// RulesResolver supplies validated per-tournament rules. It is the only place
// defaults are applied; downstream components treat the document as complete.
type RulesResolver struct{}

func NewRulesResolver() *RulesResolver {
	return &RulesResolver{}
}

// Resolve parses and validates a rules document, applying documented defaults.
func (rr *RulesResolver) Resolve(raw string) (*Rules, error) {
	if raw == "" {
		return nil, ErrRulesMissing
	}
	var rules Rules
	if err := json.Unmarshal([]byte(raw), &rules); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRulesInvalid, err)
	}
	rr.applyDefaults(&rules)
	if err := rr.validate(&rules); err != nil {
		return nil, err
	}
	return &rules, nil
}

func (rr *RulesResolver) applyDefaults(rules *Rules) {
	if rules.MatchFormat == "" {
		rules.MatchFormat = FormatBo1
	}
	if rules.CheckInWindowMinutes == 0 {
		rules.CheckInWindowMinutes = 15
	}
	if rules.DisputeWindowHours == 0 {
		rules.DisputeWindowHours = 24
	}
	if rules.NoShowPolicy == "" {
		rules.NoShowPolicy = NoShowDoubleForfeit
	}
	for i := range rules.Tiebreakers {
		if rules.Tiebreakers[i].Direction == "" {
			rules.Tiebreakers[i].Direction = SortDesc
		}
	}
}

func (rr *RulesResolver) validate(rules *Rules) error {
	switch rules.MatchFormat {
	case FormatBo1, FormatBo3, FormatBo5:
	default:
		return fmt.Errorf("%w: unknown match_format %q", ErrRulesInvalid, rules.MatchFormat)
	}
	if !rules.BracketFormat.Valid() {
		return fmt.Errorf("%w: unknown bracket_format %q", ErrRulesInvalid, rules.BracketFormat)
	}
	switch rules.NoShowPolicy {
	case NoShowDoubleForfeit, NoShowForcedReplay:
	default:
		return fmt.Errorf("%w: unknown no_show_policy %q", ErrRulesInvalid, rules.NoShowPolicy)
	}
	if rules.CheckInWindowMinutes < 0 {
		return fmt.Errorf("%w: check_in_window_minutes must not be negative", ErrRulesInvalid)
	}
	if rules.DisputeWindowHours < 0 {
		return fmt.Errorf("%w: dispute_window_hours must not be negative", ErrRulesInvalid)
	}
	seen := make(map[string]bool, len(rules.Tiebreakers))
	for _, tb := range rules.Tiebreakers {
		if tb.Field == "" {
			return fmt.Errorf("%w: tiebreaker field name must not be empty", ErrRulesInvalid)
		}
		if tb.Direction != SortAsc && tb.Direction != SortDesc {
			return fmt.Errorf("%w: tiebreaker %q has unknown direction %q", ErrRulesInvalid, tb.Field, tb.Direction)
		}
		if seen[tb.Field] {
			return fmt.Errorf("%w: tiebreaker %q declared twice", ErrRulesInvalid, tb.Field)
		}
		seen[tb.Field] = true
	}
	if rules.BracketFormat == models.FormatGroupThenPlayoff {
		if rules.GroupCount < 1 {
			return fmt.Errorf("%w: group_count must be at least 1", ErrRulesInvalid)
		}
		if rules.AdvancePerGroup < 1 {
			return fmt.Errorf("%w: advance_per_group must be at least 1", ErrRulesInvalid)
		}
	}
	if rules.BracketFormat == models.FormatSwiss && rules.SwissRounds < 0 {
		return fmt.Errorf("%w: swiss_rounds must not be negative", ErrRulesInvalid)
	}
	return nil
}
