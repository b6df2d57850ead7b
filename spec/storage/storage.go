package storage

import (
	"context"

	"go.wirecache.dev/wirecache/spec/partition"
)

// Engine is the external storage collaborator that holds partition
// data and moves bytes during rebalancing. This core only emits
// intent; the engine executes it and reports completion through the
// RebalanceHandler it was given at construction.
type Engine interface {
	// StartReceiving begins pulling data for a partition this node is
	// about to own or back up.
	StartReceiving(ctx context.Context, cache string, part partition.ID) error

	// StartShedding begins handing off a partition this node no longer
	// owns. The node keeps serving old reads until Evict.
	StartShedding(ctx context.Context, cache string, part partition.ID) error

	// Evict drops all local data for the partition.
	Evict(ctx context.Context, cache string, part partition.ID) error
}

// RebalanceHandler consumes per-partition completion callbacks from
// the engine.
type RebalanceHandler interface {
	OnPartitionRebalanced(cache string, part partition.ID)
}
