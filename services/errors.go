package services

import "errors"

// Shared errors mapped by callers with errors.Is.
var (
	// Requested resource does not exist.
	ErrNotFound            = errors.New("requested resource not found")
	ErrTournamentNotFound  = errors.New("tournament not found")
	ErrMatchNotFound       = errors.New("match not found")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrDisputeNotFound     = errors.New("dispute not found")
	ErrGroupNotFound       = errors.New("group not found")

	// Validation and business-rule failures.
	ErrValidationFailed      = errors.New("validation failed")
	ErrNotInMatch            = errors.New("participant is not playing in this match")
	ErrWinnerNotInMatch      = errors.New("declared winner is not playing in this match")
	ErrDrawNotAllowed        = errors.New("elimination match cannot end in a draw")
	ErrInvalidTransition     = errors.New("invalid match state transition")
	ErrMatchTerminal         = errors.New("match is in a terminal state")
	ErrWindowExpired         = errors.New("action window has expired")
	ErrDuplicateSubmission   = errors.New("conflicting submission already recorded for this slot")
	ErrMissingStatField      = errors.New("required stat field absent from standing")
	ErrCutoffTie             = errors.New("participants fully tied across the advancement cutoff")
	ErrGroupNotFinalizable   = errors.New("group still has unresolved matches")
	ErrDisputeAlreadyOpen    = errors.New("an open dispute already exists for this match")
	ErrDisputeNotActionable  = errors.New("dispute is not in an actionable state")
	ErrOverrideIncomplete    = errors.New("override ruling requires a score and a winner")
	ErrWindowAlreadyExtended = errors.New("dispute window was already extended once")

	// Concurrent writers collided and the retry also lost.
	ErrConflict = errors.New("conflicting concurrent update")

	// The bracket graph references a node or slot that cannot be satisfied.
	// Advancement halts rather than guessing.
	ErrBracketCorrupt = errors.New("bracket graph is inconsistent")

	// Tournament lifecycle.
	ErrTournamentInvalidStatusTransition = errors.New("invalid tournament status transition")
	ErrTournamentNotActive               = errors.New("tournament is not active")
	ErrRegistrationNotOpen               = errors.New("tournament registration is not open")
)
