package out

import (
	"context"

	"github.com/google/uuid"
)

// InvalidationBus broadcasts cache invalidations to sibling instances. The
// conflict cache is process-local, so horizontally scaled deployments use
// this best-effort channel to keep their caches roughly in sync; a missed
// message only means an entry lives out its short TTL.
type InvalidationBus interface {
	// PublishInvalidation announces that hostID's cached windows are stale.
	// uuid.Nil means every host.
	PublishInvalidation(ctx context.Context, hostID uuid.UUID) error

	// Subscribe delivers invalidations published by other instances until
	// ctx is cancelled.
	Subscribe(ctx context.Context, handler func(hostID uuid.UUID)) error
}
