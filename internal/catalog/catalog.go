// Package catalog provides the static Encounter Catalog loaded from YAML.
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
	"raidboard/pkg/interfaces"
	"raidboard/pkg/types"
)

//go:embed dungeons.yaml
var defaultCatalog []byte

// Catalog is an immutable in-memory dungeon table
type Catalog struct {
	dungeons map[string]*types.DungeonSpec
	ordered  []string
}

// File is the YAML document layout
// FUNCTIONAL DISCOVERY: Separate structs for YAML parsing keep durations as
// strings on disk while DungeonSpec stays time.Duration in memory
type File struct {
	Dungeons []DungeonFile `yaml:"dungeons"`
}

type DungeonFile struct {
	ID       string       `yaml:"id"`
	Name     string       `yaml:"name"`
	MinLevel int          `yaml:"min_level"`
	MaxLevel int          `yaml:"max_level"`
	Party    PartyFile    `yaml:"party"`
	Duration string       `yaml:"duration"`
	Boss     BossFile     `yaml:"boss"`
	Rewards  []RewardFile `yaml:"rewards"`
}

type PartyFile struct {
	Min int `yaml:"min"`
	Max int `yaml:"max"`
}

type BossFile struct {
	Name     string  `yaml:"name"`
	Resource float64 `yaml:"resource"`
	Phases   int     `yaml:"phases"`
}

type RewardFile struct {
	Tier int   `yaml:"tier"`
	Gold int64 `yaml:"gold"`
	XP   int64 `yaml:"xp"`
}

// New builds a catalog from already-constructed specs
func New(specs ...*types.DungeonSpec) (*Catalog, error) {
	if len(specs) == 0 {
		return nil, ErrEmptyCatalog
	}

	c := &Catalog{dungeons: make(map[string]*types.DungeonSpec, len(specs))}
	for _, spec := range specs {
		if err := spec.Validate(); err != nil {
			return nil, fmt.Errorf("dungeon %q: %w", spec.ID, err)
		}
		if _, exists := c.dungeons[spec.ID]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateDungeon, spec.ID)
		}
		c.dungeons[spec.ID] = cloneSpec(spec)
		c.ordered = append(c.ordered, spec.ID)
	}
	sort.Strings(c.ordered)

	return c, nil
}

// Parse decodes a YAML catalog document
func Parse(data []byte) (*Catalog, error) {
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	specs := make([]*types.DungeonSpec, 0, len(file.Dungeons))
	for _, d := range file.Dungeons {
		duration, err := time.ParseDuration(d.Duration)
		if err != nil {
			return nil, fmt.Errorf("dungeon %q: invalid duration %q: %w", d.ID, d.Duration, err)
		}

		spec := &types.DungeonSpec{
			ID:       d.ID,
			Name:     d.Name,
			MinLevel: d.MinLevel,
			MaxLevel: d.MaxLevel,
			MinParty: d.Party.Min,
			MaxParty: d.Party.Max,
			Duration: duration,
			Boss: types.BossSpec{
				Name:     d.Boss.Name,
				Resource: d.Boss.Resource,
				Phases:   d.Boss.Phases,
			},
		}
		for _, r := range d.Rewards {
			spec.Rewards = append(spec.Rewards, types.RewardBand{Tier: r.Tier, Gold: r.Gold, XP: r.XP})
		}
		specs = append(specs, spec)
	}

	return New(specs...)
}

// LoadFromFile reads and parses a YAML catalog file
func LoadFromFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file %s: %w", path, err)
	}

	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("invalid catalog in %s: %w", path, err)
	}
	return c, nil
}

// Default returns the built-in catalog
func Default() *Catalog {
	c, err := Parse(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("built-in catalog is invalid: %v", err))
	}
	return c
}

// Lookup returns a copy of the dungeon spec for dungeonID
func (c *Catalog) Lookup(dungeonID string) (*types.DungeonSpec, error) {
	spec, ok := c.dungeons[dungeonID]
	if !ok {
		return nil, interfaces.ErrDungeonNotFound
	}
	return cloneSpec(spec), nil
}

// List returns copies of all dungeons ordered by ID
func (c *Catalog) List() []*types.DungeonSpec {
	specs := make([]*types.DungeonSpec, 0, len(c.ordered))
	for _, id := range c.ordered {
		specs = append(specs, cloneSpec(c.dungeons[id]))
	}
	return specs
}

func cloneSpec(spec *types.DungeonSpec) *types.DungeonSpec {
	cp := *spec
	cp.Rewards = append([]types.RewardBand(nil), spec.Rewards...)
	return &cp
}
