package exchange

import (
	"context"
	"testing"
	"time"

	"go.wirecache.dev/wirecache/spec/cluster"
	"go.wirecache.dev/wirecache/spec/partition"
	"go.wirecache.dev/wirecache/spec/protocol"
	"go.wirecache.dev/wirecache/spec/topology"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func makeFuture(t *testing.T, version topology.Version) *Future {
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)
	return newFuture(logger, version)
}

func TestFutureStateMachine(t *testing.T) {
	assert := assert.New(t)

	fut := makeFuture(t, topology.Version{Major: 1})
	assert.Equal(Created, fut.State())

	assert.True(fut.beginCollecting([]cluster.NodeID{2, 3}))
	assert.Equal(CollectingPartials, fut.State())
	assert.False(fut.beginAwaiting(), "collection cannot regress to awaiting")
	assert.False(fut.beginCollecting(nil), "collection does not restart from itself")
}

func TestFutureReelectionTakeover(t *testing.T) {
	assert := assert.New(t)

	// a participant-side future becomes coordinator-side when this node
	// wins re-election mid-round
	fut := makeFuture(t, topology.Version{Major: 2})
	assert.True(fut.beginAwaiting())
	assert.Equal(AwaitingFullMap, fut.State())
	assert.True(fut.beginCollecting([]cluster.NodeID{3}))
	assert.Equal(CollectingPartials, fut.State())
}

func TestFutureCollection(t *testing.T) {
	assert := assert.New(t)

	fut := makeFuture(t, topology.Version{Major: 1})
	assert.True(fut.beginCollecting([]cluster.NodeID{2, 3, 4}))
	assert.False(fut.CollectionDone())
	assert.ElementsMatch([]cluster.NodeID{2, 3, 4}, fut.PendingParticipants())

	fut.AddPartial(&protocol.PartialMapReply{Version: fut.Version(), Sender: 3})
	fut.AddPartial(&protocol.PartialMapReply{Version: fut.Version(), Sender: 2})
	assert.ElementsMatch([]cluster.NodeID{4}, fut.PendingParticipants())

	fut.ExcludeParticipant(4)
	assert.True(fut.CollectionDone())

	replies := fut.Partials()
	require.Len(t, replies, 2)
	assert.Equal(cluster.NodeID(2), replies[0].Sender, "partials are ordered by sender for deterministic merging")
	assert.Equal(cluster.NodeID(3), replies[1].Sender)
}

func TestFutureLatestPartialWins(t *testing.T) {
	assert := assert.New(t)

	fut := makeFuture(t, topology.Version{Major: 1})
	assert.True(fut.beginCollecting([]cluster.NodeID{2}))

	fut.AddPartial(&protocol.PartialMapReply{
		Version: fut.Version(),
		Sender:  2,
		Entries: []protocol.PartialEntry{{Cache: "tenants", Partition: 0, State: cluster.Moving}},
	})
	fut.AddPartial(&protocol.PartialMapReply{
		Version: fut.Version(),
		Sender:  2,
		Entries: []protocol.PartialEntry{{Cache: "tenants", Partition: 0, State: cluster.Owning}},
	})

	replies := fut.Partials()
	require.Len(t, replies, 1)
	assert.Equal(cluster.Owning, replies[0].Entries[0].State)
}

func TestFutureComplete(t *testing.T) {
	assert := assert.New(t)

	fut := makeFuture(t, topology.Version{Major: 1})
	assert.True(fut.beginCollecting(nil))

	maps := map[string]*partition.FullMap{
		"tenants": partition.NewFullMap("tenants", fut.Version()),
	}
	assert.True(fut.complete(maps))
	assert.Equal(Done, fut.State())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	result, err := fut.Wait(ctx)
	assert.NoError(err)
	assert.Equal(fut.Version(), result.Version)
	assert.Contains(result.Maps, "tenants")
	assert.False(result.Superseded)
}

func TestFutureSupersedeUnblocksWaiters(t *testing.T) {
	assert := assert.New(t)

	fut := makeFuture(t, topology.Version{Major: 1})
	assert.True(fut.beginAwaiting())

	waited := make(chan error, 1)
	go func() {
		_, err := fut.Wait(context.Background())
		waited <- err
	}()

	assert.True(fut.Supersede())
	select {
	case err := <-waited:
		assert.ErrorIs(err, cluster.ErrExchangeSuperseded)
	case <-time.After(time.Second):
		assert.Fail("waiter was not unblocked")
	}

	assert.False(fut.Supersede(), "terminal futures stay terminal")
	assert.False(fut.complete(nil))
}

func TestFutureWaitContext(t *testing.T) {
	assert := assert.New(t)

	fut := makeFuture(t, topology.Version{Major: 1})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := fut.Wait(ctx)
	assert.ErrorIs(err, context.DeadlineExceeded)
}

func TestFutureStalled(t *testing.T) {
	assert := assert.New(t)

	fut := makeFuture(t, topology.Version{Major: 1})
	assert.True(fut.beginCollecting([]cluster.NodeID{2}))
	assert.False(fut.Stalled(time.Hour))

	time.Sleep(20 * time.Millisecond)
	assert.True(fut.Stalled(10*time.Millisecond), "no forward progress past the threshold")

	fut.AddPartial(&protocol.PartialMapReply{Version: fut.Version(), Sender: 2})
	assert.False(fut.Stalled(10*time.Millisecond), "progress resets the stall clock")

	fut.complete(nil)
	assert.False(fut.Stalled(0), "terminal futures never stall")
}

func TestFutureStateHistory(t *testing.T) {
	assert := assert.New(t)

	s := newFutureState(Created)
	_, ok := s.Transition(Created, CollectingPartials)
	assert.True(ok)
	_, ok = s.Transition(Created, AwaitingFullMap)
	assert.False(ok, "stale expectation cannot transition")

	s.Set(Done)
	assert.Equal(Done, s.Get())
	assert.Equal([]FutureState{Created, CollectingPartials, Done}, s.History())
}
