package cluster

import (
	"go.uber.org/zap/zapcore"
)

// NodeID uniquely identifies a cluster member for its lifetime.
type NodeID uint64

// Order is the monotonic join order assigned when a node is admitted
// to membership. Orders are dense per cluster lifetime and never
// reused. OrderUnassigned is reserved for nodes not yet admitted.
type Order uint64

const OrderUnassigned Order = 0

type Member struct {
	ID      NodeID
	Order   Order
	Address string
}

var _ zapcore.ObjectMarshaler = Member{}

func (m Member) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddUint64("id", uint64(m.ID))
	enc.AddUint64("order", uint64(m.Order))
	if m.Address != "" {
		enc.AddString("address", m.Address)
	}
	return nil
}

// MembershipListener receives membership change notifications. The
// discovery service guarantees that all nodes observe these events in
// the same relative order; that guarantee is assumed here, not
// implemented.
type MembershipListener interface {
	OnNodeJoined(member Member)
	OnNodeLeft(member Member)
	OnNodeFailed(member Member)
}

// Membership is the external discovery collaborator. CurrentMembers
// returns the alive members sorted by ascending join order.
type Membership interface {
	CurrentMembers() []Member
	RegisterListener(listener MembershipListener)
}
