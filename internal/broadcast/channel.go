// Package broadcast carries mutation events between the replicas of one
// broadcast scope. Delivery is best-effort: no retry, no acknowledgment, no
// backfill, and a publisher never receives its own events.
package broadcast

import (
	"context"

	"feedmesh/internal/models"
)

// Handler receives each decoded inbound event.
type Handler func(models.Event)

// Channel is the replication medium of one replica.
type Channel interface {
	// Publish hands ev to every other live replica on the scope. A nil
	// error means the event was queued, not that anyone received it.
	Publish(ctx context.Context, ev models.Event) error
	// OnReceive replaces the inbound handler. Events arriving while no
	// handler is set are dropped.
	OnReceive(h Handler)
	Close() error
}
