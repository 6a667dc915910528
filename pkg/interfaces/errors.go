package interfaces

import "errors"

// Common interface errors used across components
var (
	ErrDungeonNotFound = errors.New("dungeon not found")
	ErrPlayerNotFound  = errors.New("player not found")

	// ErrDependency wraps any Catalog or Player Store failure. The request that
	// hit it is aborted with no session state committed.
	ErrDependency = errors.New("dependency unavailable")
)
