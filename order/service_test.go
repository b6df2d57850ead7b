package order

import (
	"testing"

	"go.wirecache.dev/wirecache/spec/cluster"
	"go.wirecache.dev/wirecache/spec/topology"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func makeService(t *testing.T) *Service {
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)
	return NewService(logger)
}

func TestAssignOrderMonotonic(t *testing.T) {
	assert := assert.New(t)

	s := makeService(t)
	for i := 1; i <= 5; i++ {
		order, err := s.AssignOrder(cluster.NodeID(i * 10))
		assert.NoError(err)
		assert.Equal(cluster.Order(i), order, "orders are dense in admission order")
	}
}

func TestAssignOrderRejectsReadmission(t *testing.T) {
	assert := assert.New(t)

	s := makeService(t)
	first, err := s.AssignOrder(7)
	assert.NoError(err)

	again, err := s.AssignOrder(7)
	assert.ErrorIs(err, cluster.ErrOrderAssigned)
	assert.Equal(first, again, "original order is reported, never a new one")
}

func TestOrderOf(t *testing.T) {
	assert := assert.New(t)

	s := makeService(t)
	assigned, err := s.AssignOrder(3)
	assert.NoError(err)

	order, err := s.OrderOf(3)
	assert.NoError(err)
	assert.Equal(assigned, order)

	_, err = s.OrderOf(99)
	assert.ErrorIs(err, cluster.ErrMemberUnknown)
}

func TestObserveOrder(t *testing.T) {
	assert := assert.New(t)

	s := makeService(t)
	order, err := s.AssignOrder(3)
	assert.NoError(err)

	assert.NoError(s.ObserveOrder(3, order))
	assert.NoError(s.ObserveOrder(42, 9), "unadmitted nodes cannot be cross-checked")
	assert.ErrorIs(s.ObserveOrder(3, order+1), cluster.ErrOrderingViolation)
}

func TestCoordinator(t *testing.T) {
	assert := assert.New(t)

	_, ok := Coordinator(nil)
	assert.False(ok)

	coordinator, ok := Coordinator([]cluster.Member{
		{ID: 30, Order: 3},
		{ID: 10, Order: 1},
		{ID: 20, Order: 2},
	})
	assert.True(ok)
	assert.Equal(cluster.NodeID(10), coordinator.ID, "lowest surviving join order coordinates")
}

func TestCompare(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(-1, Compare(1, 2))
	assert.Equal(1, Compare(2, 1))
	assert.Equal(0, Compare(2, 2))
}

func TestDeltaSnapshotSequencing(t *testing.T) {
	assert := assert.New(t)

	s := makeService(t)
	v1 := topology.Version{Major: 1}

	first, err := s.DeltaSnapshot(v1)
	assert.NoError(err)
	assert.Equal(uint64(1), first.Sequence)

	second, err := s.DeltaSnapshot(v1)
	assert.NoError(err)
	assert.Equal(uint64(2), second.Sequence)
	assert.Equal(-1, first.Compare(second))

	// topology advance restarts the sequence
	v2 := topology.Version{Major: 2}
	next, err := s.DeltaSnapshot(v2)
	assert.NoError(err)
	assert.Equal(uint64(1), next.Sequence)
	assert.Equal(-1, second.Compare(next), "new epoch sorts after every old snapshot")

	_, err = s.DeltaSnapshot(v1)
	assert.ErrorIs(err, cluster.ErrOrderingViolation, "snapshots never go back to an older version")
}

func TestDeltaStats(t *testing.T) {
	assert := assert.New(t)

	s := makeService(t)
	assert.Nil(s.DeltaStats(5), "no samples, no stats")

	s.RecordDelta(5, -20)
	s.RecordDelta(5, 10)
	s.RecordDelta(5, 40)

	stats := s.DeltaStats(5)
	assert.NotNil(stats)
	assert.Equal(3, stats.Samples)
	assert.Equal(float64(-20), stats.Min)
	assert.Equal(float64(40), stats.Max)
	assert.Equal(float64(10), stats.Average)

	s.DropDeltas(5)
	assert.Nil(s.DeltaStats(5))
}

func TestDeltaWindowBounded(t *testing.T) {
	assert := assert.New(t)

	s := makeService(t)
	for i := 0; i < deltaWindow*2; i++ {
		s.RecordDelta(9, int64(i))
	}
	stats := s.DeltaStats(9)
	assert.NotNil(stats)
	assert.Equal(deltaWindow, stats.Samples)
	assert.Equal(float64(deltaWindow), stats.Min, "oldest samples rotate out")
}
