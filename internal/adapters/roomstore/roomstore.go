// Package roomstore provides read access to persisted room records.
package roomstore

import (
	"context"
	"fmt"

	"github.com/dkeye/Boardly/internal/config"
	"github.com/dkeye/Boardly/internal/core"
)

// Store is a core.RoomLookup owning a resource that must be released.
type Store interface {
	core.RoomLookup
	Close() error
}

// Open builds the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemory(), nil
	case "postgres":
		return NewPostgres(ctx, cfg.DSN)
	case "bolt":
		return NewBolt(cfg.Path)
	default:
		return nil, fmt.Errorf("roomstore: unknown driver %q", cfg.Driver)
	}
}
