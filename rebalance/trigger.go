package rebalance

import (
	"context"
	"errors"
	"sync"

	"go.wirecache.dev/wirecache/spec/cluster"
	"go.wirecache.dev/wirecache/spec/partition"
	"go.wirecache.dev/wirecache/spec/storage"

	"go.uber.org/zap"
)

// MoveList is the rebalancing intent one exchange produces for one
// node and one cache: partitions to start receiving, partitions to
// start shedding, and partitions left untouched.
type MoveList struct {
	Cache     string
	Receive   []partition.ID
	Shed      []partition.ID
	Unchanged []partition.ID
}

func (l MoveList) Empty() bool {
	return len(l.Receive) == 0 && len(l.Shed) == 0
}

// Advancer moves a local partition state forward once the engine
// reports a finished transfer.
type Advancer interface {
	AdvanceOwnership(cache string, part partition.ID, to cluster.State)
}

type pendingKind uint8

const (
	pendingReceive pendingKind = iota + 1
	pendingShed
)

type pendingKey struct {
	cache string
	part  partition.ID
}

type TriggerConfig struct {
	Logger *zap.Logger
	Self   cluster.NodeID
	Engine storage.Engine
}

func (c *TriggerConfig) Validate() error {
	if c == nil {
		return errors.New("nil TriggerConfig")
	}
	if c.Logger == nil {
		return errors.New("nil Logger")
	}
	if c.Self == 0 {
		return errors.New("invalid Self ID")
	}
	if c.Engine == nil {
		return errors.New("nil Engine")
	}
	return nil
}

// Trigger consumes completed exchanges and emits data-movement intent
// to the storage engine. It never moves bytes itself; the engine does,
// reporting back through OnPartitionRebalanced, which advances local
// states MOVING to OWNING and RENTING to EVICTED.
type Trigger struct {
	TriggerConfig

	logger   *zap.Logger
	advancer Advancer

	mu      sync.Mutex
	pending map[pendingKey]pendingKind
	// partitions this node will own once receiving finishes
	promote map[pendingKey]bool
}

var _ storage.RebalanceHandler = (*Trigger)(nil)

func NewTrigger(cfg TriggerConfig) (*Trigger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Trigger{
		TriggerConfig: cfg,
		logger:        cfg.Logger.With(zap.Uint64("node", uint64(cfg.Self))),
		pending:       make(map[pendingKey]pendingKind),
		promote:       make(map[pendingKey]bool),
	}, nil
}

// Bind attaches the ownership advancer. Bound once at wiring time;
// kept out of the config to break the construction cycle with the
// exchange manager.
func (t *Trigger) Bind(advancer Advancer) {
	t.advancer = advancer
}

// ComputeMoveList derives the per-partition delta between the previous
// and the new published map from one node's point of view. Merging a
// map with itself yields an empty move list.
func ComputeMoveList(node cluster.NodeID, next, prev *partition.FullMap) MoveList {
	list := MoveList{Cache: next.Cache}
	for _, id := range next.SortedIDs() {
		_, hasNext := next.EntryFor(id, node)
		heldBefore := false
		if prev != nil {
			if e, ok := prev.EntryFor(id, node); ok && e.State.HoldsData() {
				heldBefore = true
			}
		}
		switch {
		case hasNext && !heldBefore:
			list.Receive = append(list.Receive, id)
		case !hasNext && heldBefore:
			list.Shed = append(list.Shed, id)
		default:
			list.Unchanged = append(list.Unchanged, id)
		}
	}
	return list
}

// OnExchangeComplete turns a published exchange result into engine
// intent for this node.
func (t *Trigger) OnExchangeComplete(cache string, next, prev *partition.FullMap) {
	list := ComputeMoveList(t.Self, next, prev)
	if list.Empty() {
		t.logger.Debug("No rebalancing required",
			zap.String("cache", cache),
			zap.Object("version", next.Version),
		)
		return
	}
	t.logger.Info("Scheduling rebalance",
		zap.String("cache", cache),
		zap.Object("version", next.Version),
		zap.Int("receive", len(list.Receive)),
		zap.Int("shed", len(list.Shed)),
	)

	ctx := context.Background()
	t.mu.Lock()
	for _, id := range list.Receive {
		key := pendingKey{cache: cache, part: id}
		t.pending[key] = pendingReceive
		if owner, ok := next.Owner(id); ok && owner == t.Self {
			t.promote[key] = true
		}
	}
	for _, id := range list.Shed {
		t.pending[pendingKey{cache: cache, part: id}] = pendingShed
	}
	t.mu.Unlock()

	for _, id := range list.Receive {
		if err := t.Engine.StartReceiving(ctx, cache, id); err != nil {
			t.logger.Error("Engine refused receive intent",
				zap.String("cache", cache),
				zap.Uint32("partition", uint32(id)),
				zap.Error(err),
			)
		}
	}
	for _, id := range list.Shed {
		if t.advancer != nil {
			t.advancer.AdvanceOwnership(cache, id, cluster.Renting)
		}
		if err := t.Engine.StartShedding(ctx, cache, id); err != nil {
			t.logger.Error("Engine refused shed intent",
				zap.String("cache", cache),
				zap.Uint32("partition", uint32(id)),
				zap.Error(err),
			)
		}
	}
}

// OnPartitionRebalanced is the engine's completion callback. Receives
// promote to OWNING when this node is the partition's primary; sheds
// evict local data and settle in EVICTED.
func (t *Trigger) OnPartitionRebalanced(cache string, part partition.ID) {
	key := pendingKey{cache: cache, part: part}
	t.mu.Lock()
	kind, ok := t.pending[key]
	promote := t.promote[key]
	delete(t.pending, key)
	delete(t.promote, key)
	t.mu.Unlock()
	if !ok {
		t.logger.Debug("Completion for partition with no pending move",
			zap.String("cache", cache),
			zap.Uint32("partition", uint32(part)),
		)
		return
	}

	switch kind {
	case pendingReceive:
		if promote && t.advancer != nil {
			t.advancer.AdvanceOwnership(cache, part, cluster.Owning)
		}
		t.logger.Debug("Partition received",
			zap.String("cache", cache),
			zap.Uint32("partition", uint32(part)),
			zap.Bool("promoted", promote),
		)
	case pendingShed:
		if err := t.Engine.Evict(context.Background(), cache, part); err != nil {
			t.logger.Error("Engine refused evict",
				zap.String("cache", cache),
				zap.Uint32("partition", uint32(part)),
				zap.Error(err),
			)
			return
		}
		if t.advancer != nil {
			t.advancer.AdvanceOwnership(cache, part, cluster.Evicted)
		}
		t.logger.Debug("Partition evicted after shed",
			zap.String("cache", cache),
			zap.Uint32("partition", uint32(part)),
		)
	}
}

// PendingMoves reports how many partition moves are still in flight.
func (t *Trigger) PendingMoves() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
