package order

import (
	"fmt"
	"sync"

	"go.wirecache.dev/wirecache/spec/cluster"
	"go.wirecache.dev/wirecache/spec/topology"

	"github.com/zhangyunhao116/skipmap"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Service assigns each cluster member a monotonically increasing join
// order and produces topology-scoped clock delta versions. The order
// table is append-only; orders are dense per cluster lifetime and
// never reassigned. Admission itself is serialized by the external
// membership authority; this service fails fast if it ever observes
// evidence to the contrary.
type Service struct {
	logger *zap.Logger

	next  atomic.Uint64
	table *skipmap.Uint64Map[cluster.Order]

	deltaMu      sync.Mutex
	deltaVersion topology.Version
	deltaSeq     uint64

	deltas *delta
}

func NewService(logger *zap.Logger) *Service {
	return &Service{
		logger: logger,
		table:  skipmap.NewUint64[cluster.Order](),
		deltas: newDelta(),
	}
}

// AssignOrder admits a node and hands it the next join order. Called
// exactly once per node by the membership-ordering authority; a second
// call for the same node is rejected.
func (s *Service) AssignOrder(node cluster.NodeID) (cluster.Order, error) {
	var assigned bool
	order, _ := s.table.LoadOrStoreLazy(uint64(node), func() cluster.Order {
		assigned = true
		return cluster.Order(s.next.Inc())
	})
	if !assigned {
		return order, fmt.Errorf("%w: node %d holds order %d", cluster.ErrOrderAssigned, node, order)
	}
	s.logger.Info("Assigned join order", zap.Uint64("node", uint64(node)), zap.Uint64("order", uint64(order)))
	return order, nil
}

// OrderOf looks up the join order of an admitted node.
func (s *Service) OrderOf(node cluster.NodeID) (cluster.Order, error) {
	order, ok := s.table.Load(uint64(node))
	if !ok {
		return cluster.OrderUnassigned, fmt.Errorf("%w: node %d", cluster.ErrMemberUnknown, node)
	}
	return order, nil
}

// ObserveOrder verifies an order reported by a peer against the local
// table. A mismatch for an admitted node means the external membership
// protocol misbehaved; this is fatal to the affected exchange, not
// recoverable here.
func (s *Service) ObserveOrder(node cluster.NodeID, observed cluster.Order) error {
	known, ok := s.table.Load(uint64(node))
	if !ok {
		// not admitted locally yet, nothing to cross-check
		return nil
	}
	if known != observed {
		s.logger.Error("Join order inconsistent with admission history",
			zap.Uint64("node", uint64(node)),
			zap.Uint64("known", uint64(known)),
			zap.Uint64("observed", uint64(observed)),
		)
		return fmt.Errorf("%w: node %d reported order %d, admitted as %d", cluster.ErrOrderingViolation, node, observed, known)
	}
	return nil
}

func Compare(a, b cluster.Order) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Coordinator returns the member with the lowest join order, the
// deterministic exchange coordinator among the given alive members.
func Coordinator(members []cluster.Member) (cluster.Member, bool) {
	if len(members) == 0 {
		return cluster.Member{}, false
	}
	lowest := members[0]
	for _, m := range members[1:] {
		if m.Order < lowest.Order {
			lowest = m
		}
	}
	return lowest, true
}

// DeltaSnapshot produces the next locally-sequenced clock delta
// version for the given topology version. The sequence restarts when
// the topology version advances; a request for an older version is an
// ordering violation.
func (s *Service) DeltaSnapshot(version topology.Version) (topology.ClockDeltaVersion, error) {
	s.deltaMu.Lock()
	defer s.deltaMu.Unlock()

	switch {
	case version.After(s.deltaVersion):
		s.deltaVersion = version
		s.deltaSeq = 0
	case version.Before(s.deltaVersion):
		return topology.ClockDeltaVersion{}, fmt.Errorf("%w: delta snapshot for %s after %s", cluster.ErrOrderingViolation, version, s.deltaVersion)
	}
	s.deltaSeq++
	return topology.ClockDeltaVersion{Version: version, Sequence: s.deltaSeq}, nil
}

// RecordDelta stores a peer's reported clock delta for diagnostics.
func (s *Service) RecordDelta(node cluster.NodeID, deltaMillis int64) {
	s.deltas.record(node, float64(deltaMillis))
}

// DeltaStats summarizes the recorded clock deltas of a peer, or nil if
// none were recorded.
func (s *Service) DeltaStats(node cluster.NodeID) *DeltaStatistics {
	return s.deltas.snapshot(node)
}

// DropDeltas discards a departed peer's clock delta series. Its join
// order stays in the table forever; orders are never reused.
func (s *Service) DropDeltas(node cluster.NodeID) {
	s.deltas.drop(node)
}
