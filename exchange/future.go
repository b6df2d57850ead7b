package exchange

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.wirecache.dev/wirecache/spec/cluster"
	"go.wirecache.dev/wirecache/spec/partition"
	"go.wirecache.dev/wirecache/spec/protocol"
	"go.wirecache.dev/wirecache/spec/topology"

	"github.com/zhangyunhao116/skipset"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Result is the terminal outcome of one exchange. Superseded futures
// still deliver a Result so no caller blocks forever.
type Result struct {
	Version    topology.Version
	Maps       map[string]*partition.FullMap
	Superseded bool
}

// Future tracks one exchange round for one topology version on one
// node, on both the coordinator and participant sides. It is created
// when the topology change is observed and becomes garbage once
// superseded and no late messages are expected.
type Future struct {
	logger  *zap.Logger
	version topology.Version

	state    *futureState
	expected *skipset.Uint64Set

	partialsMu sync.Mutex
	partials   map[cluster.NodeID]*protocol.PartialMapReply

	progressCh   chan struct{}
	done         chan struct{}
	doneOnce     sync.Once
	result       atomic.Pointer[Result]
	lastProgress atomic.Time
	createdAt    time.Time
}

func newFuture(logger *zap.Logger, version topology.Version) *Future {
	f := &Future{
		logger:     logger.With(zap.Object("version", version)),
		version:    version,
		state:      newFutureState(Created),
		expected:   skipset.NewUint64(),
		partials:   make(map[cluster.NodeID]*protocol.PartialMapReply),
		progressCh: make(chan struct{}, 1),
		done:       make(chan struct{}),
		createdAt:  time.Now(),
	}
	f.lastProgress.Store(f.createdAt)
	return f
}

func (f *Future) Version() topology.Version {
	return f.version
}

func (f *Future) State() FutureState {
	return f.state.Get()
}

func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the exchange resolves or the context expires.
func (f *Future) Wait(ctx context.Context) (*Result, error) {
	select {
	case <-f.done:
		r := f.result.Load()
		if r.Superseded {
			return r, cluster.ErrExchangeSuperseded
		}
		return r, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// beginCollecting moves the future to the coordinator side and records
// the participants whose partials the round needs. A participant-side
// future transitions over when this node wins re-election mid-round.
func (f *Future) beginCollecting(participants []cluster.NodeID) bool {
	_, ok := f.state.Transition(Created, CollectingPartials)
	if !ok {
		_, ok = f.state.Transition(AwaitingFullMap, CollectingPartials)
	}
	if !ok {
		return false
	}
	for _, p := range participants {
		f.expected.Add(uint64(p))
	}
	f.markProgress()
	return true
}

func (f *Future) beginAwaiting() bool {
	_, ok := f.state.Transition(Created, AwaitingFullMap)
	return ok
}

// AddPartial records a participant's reply. Resending an identical
// reply for an already-merged version is harmless: the latest reply
// per sender wins and merged rounds ignore the future entirely.
func (f *Future) AddPartial(reply *protocol.PartialMapReply) {
	f.partialsMu.Lock()
	f.partials[reply.Sender] = reply
	f.partialsMu.Unlock()
	f.expected.Remove(uint64(reply.Sender))
	f.markProgress()
}

// ExcludeParticipant drops a departed node from the expected set so
// its absence never blocks the round.
func (f *Future) ExcludeParticipant(node cluster.NodeID) {
	if f.expected.Remove(uint64(node)) {
		f.logger.Info("Excluding departed participant from exchange", zap.Uint64("node", uint64(node)))
		f.markProgress()
	}
}

func (f *Future) CollectionDone() bool {
	return f.expected.Len() == 0
}

func (f *Future) PendingParticipants() []cluster.NodeID {
	pending := make([]cluster.NodeID, 0)
	f.expected.Range(func(v uint64) bool {
		pending = append(pending, cluster.NodeID(v))
		return true
	})
	return pending
}

// Partials returns the collected replies ordered by sender for
// deterministic merging.
func (f *Future) Partials() []*protocol.PartialMapReply {
	f.partialsMu.Lock()
	replies := make([]*protocol.PartialMapReply, 0, len(f.partials))
	for _, r := range f.partials {
		replies = append(replies, r)
	}
	f.partialsMu.Unlock()
	sort.Slice(replies, func(i, j int) bool { return replies[i].Sender < replies[j].Sender })
	return replies
}

// complete resolves the future with the applied full maps.
func (f *Future) complete(maps map[string]*partition.FullMap) bool {
	for {
		current := f.state.Get()
		if current.Terminal() {
			return false
		}
		if _, ok := f.state.Transition(current, Applied); ok {
			break
		}
	}
	f.state.Set(Done)
	f.result.Store(&Result{Version: f.version, Maps: maps})
	f.doneOnce.Do(func() { close(f.done) })
	f.markProgress()
	return true
}

// Supersede terminates the future because a strictly newer version's
// exchange began. Completion still fires so waiters unblock.
func (f *Future) Supersede() bool {
	for {
		current := f.state.Get()
		if current.Terminal() {
			return false
		}
		if _, ok := f.state.Transition(current, Superseded); ok {
			break
		}
	}
	f.result.Store(&Result{Version: f.version, Superseded: true})
	f.doneOnce.Do(func() { close(f.done) })
	f.logger.Info("Exchange superseded by a newer topology version")
	return true
}

func (f *Future) markProgress() {
	f.lastProgress.Store(time.Now())
	select {
	case f.progressCh <- struct{}{}:
	default:
	}
}

// progress returns the notification channel pinged on every forward
// step; the coordinator waits on it between collection checks.
func (f *Future) progress() <-chan struct{} {
	return f.progressCh
}

// Stalled reports whether the future has been waiting longer than the
// given timeout without forward progress. Non-fatal, surfaced for
// operational alerting only.
func (f *Future) Stalled(timeout time.Duration) bool {
	if f.state.Get().Terminal() {
		return false
	}
	return time.Since(f.lastProgress.Load()) > timeout
}
