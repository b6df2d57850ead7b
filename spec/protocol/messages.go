package protocol

import (
	"go.wirecache.dev/wirecache/spec/cluster"
	"go.wirecache.dev/wirecache/spec/partition"
	"go.wirecache.dev/wirecache/spec/topology"
)

// Tag discriminates exchange messages on the wire. Values are part of
// the wire contract and must not be renumbered.
type Tag uint8

const (
	TagExchangeRequest Tag = iota + 1
	TagPartialMapReply
	TagFullMapBroadcast
	TagClockDeltaSnapshot
)

func (t Tag) String() string {
	switch t {
	case TagExchangeRequest:
		return "ExchangeRequest"
	case TagPartialMapReply:
		return "PartialMapReply"
	case TagFullMapBroadcast:
		return "FullMapBroadcast"
	case TagClockDeltaSnapshot:
		return "ClockDeltaSnapshot"
	default:
		return "Unknown"
	}
}

// Message is implemented by every exchange message type.
type Message interface {
	Tag() Tag
	encodeTo(w *writer)
}

// ExchangeRequest opens (or restarts) an exchange round: the
// coordinator asks all alive participants for their partial maps.
type ExchangeRequest struct {
	Version         topology.Version
	RequestingOrder cluster.Order
}

func (m *ExchangeRequest) Tag() Tag { return TagExchangeRequest }

// PartialEntry is one (cache, partition, state) claim inside a
// PartialMapReply.
type PartialEntry struct {
	Cache     string
	Partition partition.ID
	State     cluster.State
}

// PartialMapReply carries a participant's local ownership claims back
// to the coordinator.
type PartialMapReply struct {
	Version topology.Version
	Sender  cluster.NodeID
	Entries []PartialEntry
}

func (m *PartialMapReply) Tag() Tag { return TagPartialMapReply }

// Partials regroups the flat entry list into per-cache partial maps.
func (m *PartialMapReply) Partials() map[string]*partition.PartialMap {
	out := make(map[string]*partition.PartialMap)
	for _, e := range m.Entries {
		p, ok := out[e.Cache]
		if !ok {
			p = partition.NewPartialMap(e.Cache, m.Version, m.Sender)
			out[e.Cache] = p
		}
		p.Claims[e.Partition] = e.State
	}
	return out
}

// FullMapBroadcast publishes the merged authoritative maps for one
// topology version to every node.
type FullMapBroadcast struct {
	Version topology.Version
	Maps    []*partition.FullMap
}

func (m *FullMapBroadcast) Tag() Tag { return TagFullMapBroadcast }

// ClockDeltaSnapshot reports a node's logical clock delta for
// order-tie diagnostics.
type ClockDeltaSnapshot struct {
	Version     topology.Version
	Sequence    uint64
	DeltaMillis int64
}

func (m *ClockDeltaSnapshot) Tag() Tag { return TagClockDeltaSnapshot }

func (m *ClockDeltaSnapshot) DeltaVersion() topology.ClockDeltaVersion {
	return topology.ClockDeltaVersion{Version: m.Version, Sequence: m.Sequence}
}
