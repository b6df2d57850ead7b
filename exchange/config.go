package exchange

import (
	"errors"
	"fmt"
	"time"

	"go.wirecache.dev/wirecache/order"
	"go.wirecache.dev/wirecache/spec/cluster"
	"go.wirecache.dev/wirecache/spec/partition"
	"go.wirecache.dev/wirecache/spec/transport"

	"go.uber.org/zap"
)

// Trigger consumes a completed exchange and schedules the data
// movement that converges real placement to the published ownership.
type Trigger interface {
	OnExchangeComplete(cache string, next, prev *partition.FullMap)
}

// OwnershipAdvancer lets the rebalance flow advance this node's local
// partition states once the storage engine reports a finished move.
type OwnershipAdvancer interface {
	AdvanceOwnership(cache string, part partition.ID, to cluster.State)
}

type ManagerConfig struct {
	Logger     *zap.Logger
	Self       cluster.Member
	Membership cluster.Membership
	Channel    transport.ExchangeChannel
	Orders     *order.Service
	Trigger    Trigger
	Caches     []CacheConfig

	// bounded wait for partial maps before stragglers are excluded
	ExchangeTimeout time.Duration
	// no-forward-progress threshold surfaced for alerting
	StallTimeout time.Duration
	// interval between clock delta snapshots
	ClockDeltaInterval time.Duration
	// bound on concurrently processed topology versions
	Workers int
}

func (c *ManagerConfig) Validate() error {
	if c == nil {
		return errors.New("nil ManagerConfig")
	}
	if c.Logger == nil {
		return errors.New("nil Logger")
	}
	if c.Self.ID == 0 {
		return errors.New("invalid Self ID")
	}
	if c.Self.Order == cluster.OrderUnassigned {
		return errors.New("Self has no join order, node was not admitted")
	}
	if c.Membership == nil {
		return errors.New("nil Membership")
	}
	if c.Channel == nil {
		return errors.New("nil Channel")
	}
	if c.Orders == nil {
		return errors.New("nil Orders")
	}
	if c.Trigger == nil {
		return errors.New("nil Trigger")
	}
	if c.ExchangeTimeout <= 0 {
		return errors.New("invalid ExchangeTimeout, must be positive")
	}
	if c.StallTimeout <= 0 {
		return errors.New("invalid StallTimeout, must be positive")
	}
	if c.ClockDeltaInterval <= 0 {
		return errors.New("invalid ClockDeltaInterval, must be positive")
	}
	if c.Workers <= 0 {
		return errors.New("invalid Workers, must be positive")
	}
	seen := make(map[string]bool)
	for _, cache := range c.Caches {
		if err := cache.Validate(); err != nil {
			return err
		}
		if seen[cache.Name] {
			return fmt.Errorf("duplicate cache %s", cache.Name)
		}
		seen[cache.Name] = true
	}
	return nil
}
