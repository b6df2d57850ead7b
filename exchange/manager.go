package exchange

import (
	"fmt"
	"sync"

	"go.wirecache.dev/wirecache/order"
	"go.wirecache.dev/wirecache/spec/cluster"
	"go.wirecache.dev/wirecache/spec/partition"
	"go.wirecache.dev/wirecache/spec/protocol"
	"go.wirecache.dev/wirecache/spec/topology"
	"go.wirecache.dev/wirecache/spec/transport"

	"github.com/zhangyunhao116/skipmap"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Manager is a node's front door into the partition exchange
// protocol. It consumes membership events, opens topology versions,
// runs rounds on a bounded worker pool, enforces strict
// version-ordered application of full maps, and answers ownership
// lookups out of the published (immutable) maps.
type Manager struct {
	ManagerConfig

	logger *zap.Logger

	claimsMu sync.RWMutex
	claims   map[string]map[partition.ID]cluster.State

	// cache name -> published FullMap; values are immutable, a new
	// version swaps the reference and never mutates in place
	published *skipmap.StringMap[*partition.FullMap]

	activeMu sync.RWMutex
	active   map[string]CacheConfig

	futuresMu sync.Mutex
	futures   map[topology.Version]*Future
	current   topology.Version
	applied   topology.Version

	handlers map[protocol.Tag]func(transport.Envelope)

	workers *errgroup.Group
	started atomic.Bool
	stopCh  chan struct{}
	stopWg  sync.WaitGroup
}

var _ OwnershipAdvancer = (*Manager)(nil)

func NewManager(cfg ManagerConfig) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Manager{
		ManagerConfig: cfg,
		logger: cfg.Logger.With(
			zap.Uint64("node", uint64(cfg.Self.ID)),
			zap.Uint64("order", uint64(cfg.Self.Order)),
		),
		claims:    make(map[string]map[partition.ID]cluster.State),
		published: skipmap.NewString[*partition.FullMap](),
		active:    make(map[string]CacheConfig),
		futures:   make(map[topology.Version]*Future),
		stopCh:    make(chan struct{}),
	}
	for _, cache := range cfg.Caches {
		m.active[cache.Name] = cache
		m.claims[cache.Name] = make(map[partition.ID]cluster.State)
	}
	m.workers = &errgroup.Group{}
	m.workers.SetLimit(cfg.Workers)
	m.handlers = map[protocol.Tag]func(transport.Envelope){
		protocol.TagExchangeRequest:    m.handleExchangeRequest,
		protocol.TagPartialMapReply:    m.handlePartialReply,
		protocol.TagFullMapBroadcast:   m.handleFullMap,
		protocol.TagClockDeltaSnapshot: m.handleClockDelta,
	}
	return m, nil
}

func (m *Manager) Start() error {
	if !m.started.CompareAndSwap(false, true) {
		return fmt.Errorf("exchange manager already started")
	}
	m.Membership.RegisterListener(m)
	m.stopWg.Add(2)
	go m.receiveLoop()
	go m.periodicTasks()
	m.logger.Info("Exchange manager started", zap.Int("caches", len(m.active)))
	return nil
}

func (m *Manager) Stop() {
	if !m.started.CompareAndSwap(true, false) {
		return
	}
	close(m.stopCh)
	m.Channel.Close()
	m.stopWg.Wait()
	m.workers.Wait()
	m.futuresMu.Lock()
	for _, fut := range m.futures {
		fut.Supersede()
	}
	m.futuresMu.Unlock()
	m.logger.Info("Exchange manager stopped")
}

// CurrentVersion is the latest topology version this node has opened.
func (m *Manager) CurrentVersion() topology.Version {
	m.futuresMu.Lock()
	defer m.futuresMu.Unlock()
	return m.current
}

// AppliedVersion is the highest topology version whose full map has
// been applied locally.
func (m *Manager) AppliedVersion() topology.Version {
	m.futuresMu.Lock()
	defer m.futuresMu.Unlock()
	return m.applied
}

// PublishedMap returns the immutable published map for a cache, safe
// for concurrent readers without locking.
func (m *Manager) PublishedMap(cache string) (*partition.FullMap, bool) {
	return m.published.Load(cache)
}

// OwnerOf routes a cache operation: it returns the authoritative owner
// from the last published map (stale-but-consistent while an exchange
// is in flight), or ErrOwnershipTransitioning when no owner can be
// named yet. A node in EVICTED state is never returned.
func (m *Manager) OwnerOf(cache string, part partition.ID) (cluster.NodeID, error) {
	fm, ok := m.published.Load(cache)
	if !ok {
		return 0, cluster.ErrOwnershipTransitioning
	}
	owner, ok := fm.Owner(part)
	if !ok {
		return 0, cluster.ErrOwnershipTransitioning
	}
	return owner, nil
}

// Future returns the exchange future for a version, if it exists.
func (m *Manager) Future(version topology.Version) (*Future, bool) {
	m.futuresMu.Lock()
	defer m.futuresMu.Unlock()
	fut, ok := m.futures[version]
	return fut, ok
}

// StartCache activates a configured cache and drives an exchange
// under a minor version bump. Delivery of the cache lifecycle command
// to every node is the management layer's concern.
func (m *Manager) StartCache(cfg CacheConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.activeMu.Lock()
	if _, ok := m.active[cfg.Name]; ok {
		m.activeMu.Unlock()
		return fmt.Errorf("cache %s already active", cfg.Name)
	}
	m.active[cfg.Name] = cfg
	m.activeMu.Unlock()

	m.claimsMu.Lock()
	m.claims[cfg.Name] = make(map[partition.ID]cluster.State)
	m.claimsMu.Unlock()

	m.logger.Info("Cache started", zap.String("cache", cfg.Name), zap.Uint32("partitions", cfg.Partitions))
	m.openVersion(m.CurrentVersion().NextMinor(), m.Membership.CurrentMembers(), "cache start")
	return nil
}

// StopCache deactivates a cache and drives an exchange under a minor
// version bump.
func (m *Manager) StopCache(name string) error {
	m.activeMu.Lock()
	if _, ok := m.active[name]; !ok {
		m.activeMu.Unlock()
		return fmt.Errorf("cache %s not active", name)
	}
	delete(m.active, name)
	m.activeMu.Unlock()

	m.claimsMu.Lock()
	delete(m.claims, name)
	m.claimsMu.Unlock()
	m.published.Delete(name)

	m.logger.Info("Cache stopped", zap.String("cache", name))
	m.openVersion(m.CurrentVersion().NextMinor(), m.Membership.CurrentMembers(), "cache stop")
	return nil
}

func (m *Manager) activeCaches() []CacheConfig {
	m.activeMu.RLock()
	defer m.activeMu.RUnlock()
	caches := make([]CacheConfig, 0, len(m.active))
	for _, cfg := range m.active {
		caches = append(caches, cfg)
	}
	return caches
}

// OnNodeJoined opens a new major topology version. Every node observes
// membership events in the same relative order, so major sequences
// agree cluster-wide.
func (m *Manager) OnNodeJoined(member cluster.Member) {
	if err := m.Orders.ObserveOrder(member.ID, member.Order); err != nil {
		m.reportOrderingViolation(err)
		return
	}
	m.logger.Info("Node joined", zap.Object("member", member))
	m.openVersion(m.CurrentVersion().NextMajor(), m.Membership.CurrentMembers(), "node joined")
}

func (m *Manager) OnNodeLeft(member cluster.Member) {
	m.logger.Info("Node left", zap.Object("member", member))
	m.onDeparture(member)
}

func (m *Manager) OnNodeFailed(member cluster.Member) {
	m.logger.Warn("Node failed", zap.Object("member", member))
	m.onDeparture(member)
}

// onDeparture folds a leave/failure into the in-flight round when one
// exists: the departed node is excluded from collection, and if it was
// the coordinator, the next-lowest surviving order restarts the same
// version from the partial-map request step. Without an in-flight
// round the departure opens a new major version.
func (m *Manager) onDeparture(member cluster.Member) {
	m.Orders.DropDeltas(member.ID)
	m.futuresMu.Lock()
	inflight := m.futures[m.current]
	if inflight != nil && inflight.State().Terminal() {
		inflight = nil
	}
	m.futuresMu.Unlock()

	if inflight == nil {
		m.openVersion(m.CurrentVersion().NextMajor(), m.Membership.CurrentMembers(), "node departed")
		return
	}

	inflight.ExcludeParticipant(member.ID)
	members := m.Membership.CurrentMembers()
	coordinator, ok := order.Coordinator(members)
	if !ok {
		return
	}
	if coordinator.ID == m.Self.ID && m.started.Load() {
		m.logger.Info("Taking over exchange round after coordinator departure",
			zap.Object("version", inflight.Version()),
			zap.Uint64("departed", uint64(member.ID)),
		)
		m.workers.Go(func() error {
			m.coordinate(inflight, members)
			return nil
		})
	}
}

// openVersion supersedes every unresolved older future, registers a
// future for the new version, and schedules the round on the worker
// pool.
func (m *Manager) openVersion(next topology.Version, members []cluster.Member, reason string) {
	if !m.started.Load() {
		return
	}
	m.futuresMu.Lock()
	if _, ok := m.futures[next]; ok {
		m.futuresMu.Unlock()
		return
	}
	if next.After(m.current) {
		m.current = next
	}
	for version, fut := range m.futures {
		if version.Before(next) && !fut.State().Terminal() {
			fut.Supersede()
		}
	}
	fut := newFuture(m.logger, next)
	m.futures[next] = fut
	m.futuresMu.Unlock()

	m.logger.Info("Opening topology version",
		zap.Object("version", next),
		zap.String("reason", reason),
		zap.Int("members", len(members)),
	)

	m.workers.Go(func() error {
		m.runRound(fut, members)
		return nil
	})
}

// ensureFuture registers a participant-side future for a version
// learned from a peer, adopting the version as current when it is
// newer than anything seen locally.
func (m *Manager) ensureFuture(version topology.Version) *Future {
	m.futuresMu.Lock()
	defer m.futuresMu.Unlock()
	if fut, ok := m.futures[version]; ok {
		return fut
	}
	if version.After(m.current) {
		m.current = version
		for v, fut := range m.futures {
			if v.Before(version) && !fut.State().Terminal() {
				fut.Supersede()
			}
		}
	}
	fut := newFuture(m.logger, version)
	fut.beginAwaiting()
	m.futures[version] = fut
	return fut
}

func (m *Manager) receiveLoop() {
	defer m.stopWg.Done()
	for {
		select {
		case <-m.stopCh:
			return
		case envelope, ok := <-m.Channel.Receive():
			if !ok {
				return
			}
			handle, known := m.handlers[envelope.Message.Tag()]
			if !known {
				m.logger.Warn("Dropping message with unknown tag", zap.Uint8("tag", uint8(envelope.Message.Tag())))
				continue
			}
			handle(envelope)
		}
	}
}

func (m *Manager) handleExchangeRequest(envelope transport.Envelope) {
	msg := envelope.Message.(*protocol.ExchangeRequest)
	if err := m.Orders.ObserveOrder(envelope.From, msg.RequestingOrder); err != nil {
		m.reportOrderingViolation(err)
		return
	}
	if msg.Version.Before(m.AppliedVersion()) {
		m.logger.Debug("Ignoring exchange request below applied version",
			zap.Object("request", msg),
			zap.Object("applied", m.AppliedVersion()),
		)
		return
	}
	if !msg.Version.Before(m.CurrentVersion()) {
		m.ensureFuture(msg.Version)
	}
	reply := m.localReply(msg.Version)
	if err := m.Channel.Send(m.sendCtx(), envelope.From, reply); err != nil {
		m.logger.Warn("Failed to send partial map reply",
			zap.Uint64("coordinator", uint64(envelope.From)),
			zap.Error(err),
		)
	}
}

func (m *Manager) handlePartialReply(envelope transport.Envelope) {
	msg := envelope.Message.(*protocol.PartialMapReply)
	fut, ok := m.Future(msg.Version)
	if !ok || fut.State().Terminal() {
		// already merged or superseded; resends are harmless
		m.logger.Debug("Dropping partial reply for resolved version", zap.Object("reply", msg))
		return
	}
	fut.AddPartial(msg)
}

func (m *Manager) handleFullMap(envelope transport.Envelope) {
	msg := envelope.Message.(*protocol.FullMapBroadcast)
	fut := m.ensureFuture(msg.Version)
	maps := make(map[string]*partition.FullMap, len(msg.Maps))
	for _, fm := range msg.Maps {
		maps[fm.Cache] = fm
	}
	m.applyFullMaps(fut, maps)
}

func (m *Manager) handleClockDelta(envelope transport.Envelope) {
	msg := envelope.Message.(*protocol.ClockDeltaSnapshot)
	m.Orders.RecordDelta(envelope.From, msg.DeltaMillis-nowMillis())
}

// applyFullMaps installs a published full map set in strict version
// order: every older version is resolved (applied or superseded)
// before this one lands, and an older broadcast arriving late is
// dropped.
func (m *Manager) applyFullMaps(fut *Future, maps map[string]*partition.FullMap) {
	m.futuresMu.Lock()
	if !fut.Version().After(m.applied) {
		m.futuresMu.Unlock()
		m.logger.Debug("Dropping full map at or below applied version", zap.Object("version", fut.Version()))
		return
	}
	for version, other := range m.futures {
		if version.Before(fut.Version()) && !other.State().Terminal() {
			other.Supersede()
		}
	}
	m.applied = fut.Version()
	if m.current.Before(fut.Version()) {
		m.current = fut.Version()
	}
	for version, other := range m.futures {
		if version.Before(m.applied) && other.State().Terminal() {
			delete(m.futures, version)
		}
	}
	m.futuresMu.Unlock()

	for cache, fm := range maps {
		prev, _ := m.published.Load(cache)
		m.published.Store(cache, fm)
		m.updateLocalClaims(fm)
		m.Trigger.OnExchangeComplete(cache, fm, prev)
	}

	if fut.complete(maps) {
		m.logger.Info("Exchange complete",
			zap.Object("version", fut.Version()),
			zap.Int("caches", len(maps)),
		)
	}
}

// updateLocalClaims realigns this node's claims with the published
// map: entries naming us are adopted as-is, partitions we held but no
// longer appear in begin shedding.
func (m *Manager) updateLocalClaims(fm *partition.FullMap) {
	m.claimsMu.Lock()
	defer m.claimsMu.Unlock()
	claims, ok := m.claims[fm.Cache]
	if !ok {
		return
	}
	next := make(map[partition.ID]cluster.State, len(claims))
	for _, id := range fm.SortedIDs() {
		if entry, ok := fm.EntryFor(id, m.Self.ID); ok {
			next[id] = entry.State
		} else if prev, held := claims[id]; held && prev.HoldsData() {
			next[id] = cluster.Renting
		}
	}
	m.claims[fm.Cache] = next
}

// AdvanceOwnership advances a local partition state once the storage
// engine reports a finished move: MOVING becomes OWNING on promotion,
// RENTING becomes EVICTED after handoff.
func (m *Manager) AdvanceOwnership(cache string, part partition.ID, to cluster.State) {
	m.claimsMu.Lock()
	defer m.claimsMu.Unlock()
	claims, ok := m.claims[cache]
	if !ok {
		return
	}
	if to == cluster.Evicted {
		delete(claims, part)
	} else {
		claims[part] = to
	}
	m.logger.Debug("Advanced local partition state",
		zap.String("cache", cache),
		zap.Uint32("partition", uint32(part)),
		zap.String("state", to.String()),
	)
}

// localReply snapshots this node's claims across all active caches.
func (m *Manager) localReply(version topology.Version) *protocol.PartialMapReply {
	reply := &protocol.PartialMapReply{
		Version: version,
		Sender:  m.Self.ID,
	}
	m.claimsMu.RLock()
	for cache, claims := range m.claims {
		for part, state := range claims {
			reply.Entries = append(reply.Entries, protocol.PartialEntry{
				Cache:     cache,
				Partition: part,
				State:     state,
			})
		}
	}
	m.claimsMu.RUnlock()
	return reply
}

// reportOrderingViolation surfaces an external membership-protocol bug
// as an unrecoverable alert and forces a restart of the exchange at
// the next version.
func (m *Manager) reportOrderingViolation(err error) {
	m.logger.Error("Ordering violation, forcing exchange restart at next version", zap.Error(err))
	m.openVersion(m.CurrentVersion().NextMinor(), m.Membership.CurrentMembers(), "ordering violation")
}
