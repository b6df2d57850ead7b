package exchange

import (
	"runtime"
	"sync/atomic"

	"github.com/zhangyunhao116/skipmap"
)

// FutureState is the lifecycle of one exchange on one node.
type FutureState uint64

const (
	// Topology change observed, role not yet decided
	Created FutureState = iota
	// Coordinator side: accumulating partial maps
	CollectingPartials
	// Participant side: waiting for the full map broadcast
	AwaitingFullMap
	// Full map applied locally, callbacks pending
	Applied
	// Terminal: exchange completed
	Done
	// Terminal: a newer topology version started first
	Superseded
)

func (s FutureState) String() string {
	switch s {
	case Created:
		return "Created"
	case CollectingPartials:
		return "CollectingPartials"
	case AwaitingFullMap:
		return "AwaitingFullMap"
	case Applied:
		return "Applied"
	case Done:
		return "Done"
	case Superseded:
		return "Superseded"
	default:
		return "Unknown"
	}
}

func (s FutureState) Terminal() bool {
	return s == Done || s == Superseded
}

// futureState is a CAS-guarded state machine that keeps its transition
// history for diagnostics. The packed word is (index << 4 | state) so
// a stale transition from an earlier index can never succeed.
type futureState struct {
	state   atomic.Uint64
	history *skipmap.Uint64Map[FutureState]
}

func newFutureState(initial FutureState) *futureState {
	s := &futureState{
		state:   atomic.Uint64{},
		history: skipmap.NewUint64[FutureState](),
	}
	var index uint64 = 0
	var state uint64 = (uint64)(initial)
	s.state.Store((index << 4) | state)
	s.history.Store(0, initial)
	return s
}

func (s *futureState) Transition(exp FutureState, nxt FutureState) (FutureState, bool) {
	curr := s.state.Load()
	currIndex := curr >> 4
	prev := (currIndex << 4) | (uint64)(exp)
	nextIndex := currIndex + 1
	next := (nextIndex << 4) | (uint64)(nxt)
	if s.state.CompareAndSwap(prev, next) {
		s.history.Store(nextIndex, nxt)
		return nxt, true
	}
	return FutureState(curr & 0b1111), false
}

func (s *futureState) Set(val FutureState) {
	for {
		if _, ok := s.Transition(s.Get(), val); ok {
			break
		}
		runtime.Gosched()
	}
}

func (s *futureState) Get() FutureState {
	return FutureState(s.state.Load() & 0b1111)
}

func (s *futureState) History() []FutureState {
	h := make([]FutureState, 0)
	s.history.Range(func(_ uint64, state FutureState) bool {
		h = append(h, state)
		return true
	})
	return h
}
