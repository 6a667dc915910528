package catalog

import "errors"

var (
	ErrEmptyCatalog     = errors.New("catalog must define at least one dungeon")
	ErrDuplicateDungeon = errors.New("duplicate dungeon ID")
)
