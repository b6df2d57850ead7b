package exchange

import (
	"context"
	"time"

	"go.wirecache.dev/wirecache/spec/protocol"
	"go.wirecache.dev/wirecache/util"

	"go.uber.org/zap"
)

// periodicTasks runs the clock delta snapshots and the stall monitor
// off a single loop until the manager stops.
func (m *Manager) periodicTasks() {
	defer m.stopWg.Done()

	deltaTicker := time.NewTicker(util.RandomTimeRange(m.ClockDeltaInterval))
	stallTicker := time.NewTicker(m.StallTimeout / 2)
	defer deltaTicker.Stop()
	defer stallTicker.Stop()

	for {
		select {
		case <-m.stopCh:
			m.logger.Debug("Stopping periodic exchange tasks")
			return
		case <-deltaTicker.C:
			m.broadcastClockDelta()
			deltaTicker.Reset(util.RandomTimeRange(m.ClockDeltaInterval))
		case <-stallTicker.C:
			m.checkStalls()
		}
	}
}

// broadcastClockDelta publishes this node's wall clock under the next
// topology-scoped delta sequence. Receivers subtract their own clock
// on arrival, giving each node a pairwise delta series per peer for
// order-tie diagnostics.
func (m *Manager) broadcastClockDelta() {
	version := m.CurrentVersion()
	deltaVersion, err := m.Orders.DeltaSnapshot(version)
	if err != nil {
		m.logger.Error("Clock delta snapshot refused", zap.Error(err))
		return
	}
	snapshot := &protocol.ClockDeltaSnapshot{
		Version:     deltaVersion.Version,
		Sequence:    deltaVersion.Sequence,
		DeltaMillis: nowMillis(),
	}
	if err := m.Channel.Broadcast(m.sendCtx(), snapshot); err != nil {
		m.logger.Debug("Clock delta broadcast failed", zap.Error(err))
	}
}

// checkStalls surfaces exchanges without forward progress. The stall
// is diagnosable, not fatal: the round continues once the slow
// participant responds or membership declares it failed.
func (m *Manager) checkStalls() {
	m.futuresMu.Lock()
	futures := make([]*Future, 0, len(m.futures))
	for _, fut := range m.futures {
		futures = append(futures, fut)
	}
	m.futuresMu.Unlock()

	for _, fut := range futures {
		if !fut.Stalled(m.StallTimeout) {
			continue
		}
		m.logger.Warn("Exchange stalled without forward progress",
			zap.Object("version", fut.Version()),
			zap.String("state", fut.State().String()),
			zap.Uint64s("pending", nodeIDs(fut.PendingParticipants())),
			zap.Duration("threshold", m.StallTimeout),
		)
	}
}

// protocol sends are fire-and-forget; completion is signaled by
// message arrival, not by the send call
func (m *Manager) sendCtx() context.Context {
	return context.Background()
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
