package exchange

import (
	"context"
	"time"

	"go.wirecache.dev/wirecache/order"
	"go.wirecache.dev/wirecache/spec/cluster"
	"go.wirecache.dev/wirecache/spec/partition"
	"go.wirecache.dev/wirecache/spec/protocol"
	"go.wirecache.dev/wirecache/util/promise"

	"github.com/avast/retry-go/v4"
	"go.uber.org/zap"
)

const requestAttempts = 3

// runRound executes one exchange for the members alive at the start of
// the version: the lowest surviving join order coordinates, everyone
// else participates.
func (m *Manager) runRound(fut *Future, members []cluster.Member) {
	coordinator, ok := order.Coordinator(members)
	if !ok {
		m.logger.Warn("No alive members for exchange round", zap.Object("version", fut.Version()))
		fut.Supersede()
		return
	}
	if coordinator.ID == m.Self.ID {
		m.coordinate(fut, members)
		return
	}
	m.participate(fut, coordinator)
}

// participate waits for the coordinator's full map. The wait suspends
// only the future, never the node; stalls are surfaced by the periodic
// monitor.
func (m *Manager) participate(fut *Future, coordinator cluster.Member) {
	fut.beginAwaiting()
	m.logger.Debug("Participating in exchange",
		zap.Object("version", fut.Version()),
		zap.Object("coordinator", coordinator),
	)
	select {
	case <-fut.Done():
	case <-m.stopCh:
	}
}

// coordinate drives the collection, merge, and broadcast of one
// topology version. Restarting an in-flight round after winning
// re-election goes through here as well; partial maps are cheap to
// resend, so the re-request is idempotent.
func (m *Manager) coordinate(fut *Future, members []cluster.Member) {
	participants := make([]cluster.NodeID, 0, len(members))
	for _, member := range members {
		if member.ID != m.Self.ID {
			participants = append(participants, member.ID)
		}
	}
	if !fut.beginCollecting(participants) {
		return
	}
	m.logger.Info("Coordinating exchange round",
		zap.Object("version", fut.Version()),
		zap.Int("participants", len(participants)),
	)

	// our own claims take part in the merge like any participant's
	fut.AddPartial(m.localReply(fut.Version()))

	m.requestPartials(fut, participants)
	if !m.awaitPartials(fut) {
		return
	}

	maps := m.mergeAll(fut, members)
	broadcast := &protocol.FullMapBroadcast{Version: fut.Version()}
	for _, fm := range maps {
		broadcast.Maps = append(broadcast.Maps, fm)
	}
	if err := m.Channel.Broadcast(m.sendCtx(), broadcast); err != nil {
		m.logger.Error("Failed to broadcast full map", zap.Object("version", fut.Version()), zap.Error(err))
	}
	m.applyFullMaps(fut, maps)
}

// requestPartials fans the exchange request out to every participant
// in parallel, retrying transient send failures. A peer that cannot be
// reached is excluded so the round never blocks on it; membership will
// report its fate.
func (m *Manager) requestPartials(fut *Future, participants []cluster.NodeID) {
	req := &protocol.ExchangeRequest{
		Version:         fut.Version(),
		RequestingOrder: m.Self.Order,
	}
	fns := make([]func(context.Context) (cluster.NodeID, error), 0, len(participants))
	for _, peer := range participants {
		peer := peer
		fns = append(fns, func(fnCtx context.Context) (cluster.NodeID, error) {
			err := retry.Do(func() error {
				return m.Channel.Send(fnCtx, peer, req)
			},
				retry.Context(fnCtx),
				retry.Attempts(requestAttempts),
				retry.Delay(m.StallTimeout/requestAttempts),
				retry.LastErrorOnly(true),
				retry.RetryIf(cluster.ErrorIsRetryable),
			)
			return peer, err
		})
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.ExchangeTimeout)
	defer cancel()
	peers, errors := promise.All(ctx, fns...)
	for i, err := range errors {
		if err == nil {
			continue
		}
		m.logger.Warn("Participant unreachable, excluding from round",
			zap.Object("version", fut.Version()),
			zap.Uint64("peer", uint64(peers[i])),
			zap.Error(err),
		)
		fut.ExcludeParticipant(peers[i])
	}
}

// awaitPartials blocks until every expected partial arrived, the
// bounded wait expired, or the round was superseded. Expiry excludes
// the stragglers with a warning instead of blocking the cluster; this
// is the round's liveness guarantee.
func (m *Manager) awaitPartials(fut *Future) bool {
	deadline := time.NewTimer(m.ExchangeTimeout)
	defer deadline.Stop()
	for {
		if fut.State() != CollectingPartials {
			return false
		}
		if fut.CollectionDone() {
			return true
		}
		select {
		case <-fut.progress():
		case <-deadline.C:
			pending := fut.PendingParticipants()
			m.logger.Warn("Partial collection timed out, excluding stragglers",
				zap.Object("version", fut.Version()),
				zap.Uint64s("pending", nodeIDs(pending)),
			)
			for _, peer := range pending {
				fut.ExcludeParticipant(peer)
			}
			return fut.State() == CollectingPartials
		case <-fut.Done():
			return false
		case <-m.stopCh:
			return false
		}
	}
}

// mergeAll merges the collected partials cache by cache. A cache whose
// partials cannot be merged fails alone: its previous published map
// stays in force and every other cache's exchange proceeds.
func (m *Manager) mergeAll(fut *Future, members []cluster.Member) map[string]*partition.FullMap {
	replies := fut.Partials()
	maps := make(map[string]*partition.FullMap)
	for _, cfg := range m.activeCaches() {
		prev, _ := m.published.Load(cfg.Name)
		merged, err := mergeFullMap(m.logger, fut.Version(), cfg, replies, prev, members)
		if err != nil {
			m.logger.Error("Cache exchange failed, previous map stays in force",
				zap.Object("version", fut.Version()),
				zap.String("cache", cfg.Name),
				zap.Error(err),
			)
			continue
		}
		if prev != nil && prev.Fingerprint() == merged.Fingerprint() {
			m.logger.Debug("Placement unchanged for cache",
				zap.Object("version", fut.Version()),
				zap.String("cache", cfg.Name),
			)
		}
		maps[cfg.Name] = merged
	}
	return maps
}

func nodeIDs(nodes []cluster.NodeID) []uint64 {
	out := make([]uint64, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, uint64(n))
	}
	return out
}
