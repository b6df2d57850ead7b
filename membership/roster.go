// Package membership provides an in-process implementation of the
// discovery collaborator: it admits nodes through the order service
// and delivers join/leave/fail events to every listener in the same
// relative order, the guarantee the exchange protocol assumes from any
// real discovery transport.
package membership

import (
	"sort"
	"sync"

	"go.wirecache.dev/wirecache/order"
	"go.wirecache.dev/wirecache/spec/cluster"

	"go.uber.org/zap"
)

type Roster struct {
	logger *zap.Logger
	orders *order.Service

	mu        sync.RWMutex
	members   map[cluster.NodeID]cluster.Member
	listeners []cluster.MembershipListener

	// serializes event delivery so every listener observes the same
	// relative order; held without mu so listeners can read the roster
	notifyMu sync.Mutex
}

var _ cluster.Membership = (*Roster)(nil)

func NewRoster(logger *zap.Logger, orders *order.Service) *Roster {
	return &Roster{
		logger:  logger,
		orders:  orders,
		members: make(map[cluster.NodeID]cluster.Member),
	}
}

// Admit serializes admission: it assigns the join order and announces
// the new member to every listener before returning.
func (r *Roster) Admit(id cluster.NodeID, address string) (cluster.Member, error) {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()

	r.mu.Lock()
	assigned, err := r.orders.AssignOrder(id)
	if err != nil {
		r.mu.Unlock()
		return cluster.Member{}, err
	}
	member := cluster.Member{ID: id, Order: assigned, Address: address}
	r.members[id] = member
	listeners := append([]cluster.MembershipListener(nil), r.listeners...)
	r.mu.Unlock()

	r.logger.Info("Member admitted", zap.Object("member", member))
	for _, l := range listeners {
		l.OnNodeJoined(member)
	}
	return member, nil
}

// Leave announces a graceful departure.
func (r *Roster) Leave(id cluster.NodeID) {
	r.depart(id, false)
}

// Fail announces an involuntary departure.
func (r *Roster) Fail(id cluster.NodeID) {
	r.depart(id, true)
}

func (r *Roster) depart(id cluster.NodeID, failed bool) {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()

	r.mu.Lock()
	member, ok := r.members[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.members, id)
	listeners := append([]cluster.MembershipListener(nil), r.listeners...)
	r.mu.Unlock()

	r.logger.Info("Member departed", zap.Object("member", member), zap.Bool("failed", failed))
	for _, l := range listeners {
		if failed {
			l.OnNodeFailed(member)
		} else {
			l.OnNodeLeft(member)
		}
	}
}

func (r *Roster) CurrentMembers() []cluster.Member {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := make([]cluster.Member, 0, len(r.members))
	for _, m := range r.members {
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool { return members[i].Order < members[j].Order })
	return members
}

func (r *Roster) RegisterListener(listener cluster.MembershipListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, listener)
}
