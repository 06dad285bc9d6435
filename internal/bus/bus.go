// Package bus relays hub events between server instances.
package bus

import (
	"context"

	"marketchat/internal/types"
)

type Bus interface {
	Publish(ctx context.Context, env types.Envelope) error
	// StartForwarder delivers events published by other instances until
	// ctx ends.
	StartForwarder(ctx context.Context, onMsg func(env types.Envelope)) error
	Close() error
}
