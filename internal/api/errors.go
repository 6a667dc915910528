package api

import (
	"errors"
	"net/http"

	"raidboard/internal/session"
	"raidboard/pkg/interfaces"
	"raidboard/pkg/types"
)

var (
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrInvalidJSON       = errors.New("invalid JSON body")
	ErrInvalidLimit      = errors.New("limit must be a positive integer")
)

// statusFor maps coordinator errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrNotFound), errors.Is(err, interfaces.ErrPlayerNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrSessionClosed):
		return http.StatusGone
	case errors.Is(err, session.ErrNotLeader):
		return http.StatusForbidden
	case errors.Is(err, session.ErrLevelTooLow), errors.Is(err, session.ErrLevelTooHigh):
		return http.StatusUnprocessableEntity
	case errors.Is(err, session.ErrSessionFull),
		errors.Is(err, session.ErrAlreadyJoined),
		errors.Is(err, session.ErrAlreadyApplied),
		errors.Is(err, session.ErrAlreadyInAnotherSession),
		errors.Is(err, session.ErrNotMember),
		errors.Is(err, session.ErrNotApplicant),
		errors.Is(err, session.ErrNotReady),
		errors.Is(err, session.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, session.ErrInvalidDungeon),
		errors.Is(err, session.ErrInvalidCapacity),
		errors.Is(err, types.ErrInvalidPlayerID),
		errors.Is(err, types.ErrInvalidDifficultyTier),
		errors.Is(err, types.ErrInvalidMinLevel),
		errors.Is(err, types.ErrInvalidVisibility):
		return http.StatusBadRequest
	case errors.Is(err, interfaces.ErrDependency):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
