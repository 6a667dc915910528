package interfaces

import "raidboard/pkg/types"

// EncounterCatalog is the read-only lookup table of dungeons
type EncounterCatalog interface {
	// Lookup returns ErrDungeonNotFound for unknown IDs. Any other error means
	// the catalog itself is unavailable.
	Lookup(dungeonID string) (*types.DungeonSpec, error)

	// List returns every dungeon ordered by ID
	List() []*types.DungeonSpec
}
