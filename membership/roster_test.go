package membership

import (
	"sync"
	"testing"

	"go.wirecache.dev/wirecache/order"
	"go.wirecache.dev/wirecache/spec/cluster"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type event struct {
	kind   string
	member cluster.Member
}

type recordingListener struct {
	mu     sync.Mutex
	events []event
}

var _ cluster.MembershipListener = (*recordingListener)(nil)

func (l *recordingListener) record(kind string, member cluster.Member) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event{kind: kind, member: member})
}

func (l *recordingListener) OnNodeJoined(member cluster.Member) { l.record("joined", member) }
func (l *recordingListener) OnNodeLeft(member cluster.Member)   { l.record("left", member) }
func (l *recordingListener) OnNodeFailed(member cluster.Member) { l.record("failed", member) }

func (l *recordingListener) recorded() []event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]event(nil), l.events...)
}

func makeRoster(t *testing.T) *Roster {
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)
	return NewRoster(logger, order.NewService(logger))
}

func TestRosterAdmit(t *testing.T) {
	assert := assert.New(t)

	roster := makeRoster(t)
	a, err := roster.Admit(10, "10.0.0.1:18700")
	assert.NoError(err)
	assert.Equal(cluster.Order(1), a.Order)

	b, err := roster.Admit(20, "10.0.0.2:18700")
	assert.NoError(err)
	assert.Equal(cluster.Order(2), b.Order)

	_, err = roster.Admit(10, "10.0.0.1:18700")
	assert.ErrorIs(err, cluster.ErrOrderAssigned)
}

func TestRosterCurrentMembersSorted(t *testing.T) {
	assert := assert.New(t)

	roster := makeRoster(t)
	for _, id := range []cluster.NodeID{30, 10, 20} {
		_, err := roster.Admit(id, "")
		assert.NoError(err)
	}

	members := roster.CurrentMembers()
	require.Len(t, members, 3)
	assert.Equal(cluster.NodeID(30), members[0].ID, "sorted by join order, not by id")
	assert.Equal(cluster.NodeID(10), members[1].ID)
	assert.Equal(cluster.NodeID(20), members[2].ID)
}

func TestRosterEventDelivery(t *testing.T) {
	assert := assert.New(t)

	roster := makeRoster(t)
	listener := &recordingListener{}
	roster.RegisterListener(listener)

	a, err := roster.Admit(1, "")
	assert.NoError(err)
	b, err := roster.Admit(2, "")
	assert.NoError(err)
	roster.Leave(1)
	roster.Fail(2)

	assert.Equal([]event{
		{kind: "joined", member: a},
		{kind: "joined", member: b},
		{kind: "left", member: a},
		{kind: "failed", member: b},
	}, listener.recorded(), "listeners observe events in admission order")
	assert.Empty(roster.CurrentMembers())
}

func TestRosterDepartUnknown(t *testing.T) {
	assert := assert.New(t)

	roster := makeRoster(t)
	listener := &recordingListener{}
	roster.RegisterListener(listener)

	roster.Leave(99)
	roster.Fail(99)
	assert.Empty(listener.recorded())
}

// listeners may read the roster while handling an event; delivery must
// not hold the member lock
func TestRosterListenerReentrancy(t *testing.T) {
	assert := assert.New(t)

	roster := makeRoster(t)
	var seen []int
	roster.RegisterListener(&funcListener{
		joined: func(cluster.Member) {
			seen = append(seen, len(roster.CurrentMembers()))
		},
	})

	_, err := roster.Admit(1, "")
	assert.NoError(err)
	_, err = roster.Admit(2, "")
	assert.NoError(err)
	assert.Equal([]int{1, 2}, seen)
}

type funcListener struct {
	joined func(cluster.Member)
}

func (l *funcListener) OnNodeJoined(member cluster.Member) {
	if l.joined != nil {
		l.joined(member)
	}
}
func (l *funcListener) OnNodeLeft(cluster.Member)   {}
func (l *funcListener) OnNodeFailed(cluster.Member) {}
