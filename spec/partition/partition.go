package partition

import (
	"encoding/binary"
	"fmt"
	"sort"

	"go.wirecache.dev/wirecache/spec/cluster"
	"go.wirecache.dev/wirecache/spec/topology"

	"github.com/zeebo/xxh3"
	"go.uber.org/zap/zapcore"
)

// ID is a partition number within one cache.
type ID uint32

// OwnerEntry is one node's ownership record for a partition. Entries
// for a partition are ordered: position 0 is the primary, the rest are
// backups.
type OwnerEntry struct {
	Node  cluster.NodeID
	State cluster.State
}

var _ zapcore.ObjectMarshaler = OwnerEntry{}

func (e OwnerEntry) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddUint64("node", uint64(e.Node))
	enc.AddString("state", e.State.String())
	return nil
}

// FullMap is the authoritative ownership map of one cache for one
// topology version. It is constructed by the exchange coordinator,
// immutable once published, and superseded (never edited in place) by
// the next version's map. Lost partitions are explicitly recorded, not
// silently dropped.
type FullMap struct {
	Version    topology.Version
	Cache      string
	Partitions map[ID][]OwnerEntry
	Lost       map[ID]bool
}

func NewFullMap(cache string, version topology.Version) *FullMap {
	return &FullMap{
		Version:    version,
		Cache:      cache,
		Partitions: make(map[ID][]OwnerEntry),
		Lost:       make(map[ID]bool),
	}
}

// Owner returns the primary for the partition. ok is false when the
// partition has no entry or no authoritative owner.
func (m *FullMap) Owner(part ID) (cluster.NodeID, bool) {
	entries := m.Partitions[part]
	if len(entries) == 0 {
		return 0, false
	}
	if entries[0].State != cluster.Owning {
		return 0, false
	}
	return entries[0].Node, true
}

// Holders returns every node holding readable data for the partition.
func (m *FullMap) Holders(part ID) []cluster.NodeID {
	var holders []cluster.NodeID
	for _, e := range m.Partitions[part] {
		if e.State.HoldsData() {
			holders = append(holders, e.Node)
		}
	}
	return holders
}

// EntryFor returns the ownership entry of the given node, if any.
func (m *FullMap) EntryFor(part ID, node cluster.NodeID) (OwnerEntry, bool) {
	for _, e := range m.Partitions[part] {
		if e.Node == node {
			return e, true
		}
	}
	return OwnerEntry{}, false
}

// SortedIDs returns the partition ids in ascending order. Callers that
// need deterministic iteration (encoding, fingerprinting, logging) go
// through here.
func (m *FullMap) SortedIDs() []ID {
	ids := make([]ID, 0, len(m.Partitions))
	for id := range m.Partitions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Validate checks the single-owner invariant: exactly one OWNING entry
// per partition, unless the partition is explicitly marked lost.
func (m *FullMap) Validate() error {
	for _, id := range m.SortedIDs() {
		owning := 0
		for _, e := range m.Partitions[id] {
			if e.State == cluster.Owning {
				owning++
			}
		}
		switch {
		case owning > 1:
			return fmt.Errorf("cache %s partition %d: %d OWNING entries", m.Cache, id, owning)
		case owning == 0 && !m.Lost[id]:
			return fmt.Errorf("cache %s partition %d: no OWNING entry and not marked lost", m.Cache, id)
		}
	}
	return nil
}

// Fingerprint hashes the map content (excluding the version stamp) so
// identical placements across versions can be recognized cheaply.
func (m *FullMap) Fingerprint() uint64 {
	hasher := xxh3.New()
	buf := make([]byte, 8)
	for _, id := range m.SortedIDs() {
		binary.BigEndian.PutUint32(buf[:4], uint32(id))
		hasher.Write(buf[:4])
		for _, e := range m.Partitions[id] {
			binary.BigEndian.PutUint64(buf, uint64(e.Node))
			hasher.Write(buf)
			hasher.Write([]byte{byte(e.State)})
		}
		if m.Lost[id] {
			hasher.Write([]byte{0xff})
		}
	}
	return hasher.Sum64()
}

// Clone returns a deep copy. Published maps are shared read-only; the
// coordinator clones before constructing a successor.
func (m *FullMap) Clone() *FullMap {
	next := NewFullMap(m.Cache, m.Version)
	for id, entries := range m.Partitions {
		next.Partitions[id] = append([]OwnerEntry(nil), entries...)
	}
	for id, lost := range m.Lost {
		next.Lost[id] = lost
	}
	return next
}

// PartialMap is one node's local ownership claims for one cache, sent
// to the coordinator during an exchange round and discarded once
// merged.
type PartialMap struct {
	Version topology.Version
	Cache   string
	Sender  cluster.NodeID
	Claims  map[ID]cluster.State
}

func NewPartialMap(cache string, version topology.Version, sender cluster.NodeID) *PartialMap {
	return &PartialMap{
		Version: version,
		Cache:   cache,
		Sender:  sender,
		Claims:  make(map[ID]cluster.State),
	}
}

func (p *PartialMap) SortedIDs() []ID {
	ids := make([]ID, 0, len(p.Claims))
	for id := range p.Claims {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
