package store

import (
	"errors"
	"fmt"
)

// Categories. Every error below wraps exactly one of them.
var (
	ErrValidation    = errors.New("validation failed")
	ErrStateConflict = errors.New("state conflict")
	ErrQuotaExceeded = errors.New("daily swap limit reached")
	ErrNotFound      = errors.New("not found")
)

var (
	ErrReasonRequired  = fmt.Errorf("%w: reason is required", ErrValidation)
	ErrNoTargets       = fmt.Errorf("%w: at least one target token is required", ErrValidation)
	ErrInvalidSlot     = fmt.Errorf("%w: slot must be behind the current position", ErrValidation)
	ErrOwnerRequired   = fmt.Errorf("%w: owner is required", ErrValidation)
	ErrNotCounterparty = fmt.Errorf("%w: owner is not the counterpart of this proposal", ErrValidation)
)

var (
	ErrDuplicateActiveToken  = fmt.Errorf("%w: owner already holds an active token", ErrStateConflict)
	ErrNotBothWaiting        = fmt.Errorf("%w: both tokens must be waiting", ErrStateConflict)
	ErrTokenNotWaiting       = fmt.Errorf("%w: token is not waiting", ErrStateConflict)
	ErrInvalidState          = fmt.Errorf("%w: token state does not allow this action", ErrStateConflict)
	ErrNotAhead              = fmt.Errorf("%w: target is not ahead of requester", ErrStateConflict)
	ErrNotBehindVacancy      = fmt.Errorf("%w: requester is not behind the vacancy", ErrStateConflict)
	ErrVacancyAlreadyClaimed = fmt.Errorf("%w: vacancy already claimed", ErrStateConflict)
	ErrTargetMoved           = fmt.Errorf("%w: target position changed", ErrStateConflict)
	ErrSwapsDisabled         = fmt.Errorf("%w: swaps are disabled at this location", ErrStateConflict)
	ErrQueuePaused           = fmt.Errorf("%w: queue is paused", ErrStateConflict)
	ErrQueueClosed           = fmt.Errorf("%w: queue is closed", ErrStateConflict)
	ErrQueueFull             = fmt.Errorf("%w: queue is full", ErrStateConflict)
	ErrProposalPending       = fmt.Errorf("%w: requester already has a pending proposal", ErrStateConflict)
	ErrProposalResolved      = fmt.Errorf("%w: proposal already resolved", ErrStateConflict)
	ErrProposalExpired       = fmt.Errorf("%w: proposal expired", ErrStateConflict)
	ErrLocationActive        = fmt.Errorf("%w: location already active", ErrStateConflict)
)

var (
	ErrLocationNotFound = fmt.Errorf("%w: location not found", ErrNotFound)
	ErrTokenNotFound    = fmt.Errorf("%w: token not found", ErrNotFound)
	ErrNoActiveToken    = fmt.Errorf("%w: owner has no active token", ErrNotFound)
	ErrNoSuchVacancy    = fmt.Errorf("%w: no such vacancy", ErrNotFound)
	ErrProposalNotFound = fmt.Errorf("%w: proposal not found", ErrNotFound)
)

var (
	ErrRequestInFlight = fmt.Errorf("%w: request is already being processed", ErrStateConflict)
	ErrRequestReused   = fmt.Errorf("%w: request_id was used for a different action", ErrStateConflict)
)

var ErrNotSnoozed = fmt.Errorf("%w: owner has no snoozed token", ErrNotFound)
