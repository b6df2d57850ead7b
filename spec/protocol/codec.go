package protocol

import (
	"encoding/binary"
	"fmt"
	"math"

	"go.wirecache.dev/wirecache/spec/cluster"
	"go.wirecache.dev/wirecache/spec/partition"
	"go.wirecache.dev/wirecache/spec/topology"
)

// Wire format: [schema version][tag][payload]. Fields are big-endian,
// strings are uint16 length-prefixed, lists are uint32 length-prefixed.
// Decoding dispatches on the tag through the decoder table; no
// reflection.
const SchemaVersion uint8 = 1

var (
	ErrShortMessage    = fmt.Errorf("protocol: message truncated")
	ErrSchemaMismatch  = fmt.Errorf("protocol: unsupported schema version")
	ErrUnknownTag      = fmt.Errorf("protocol: unknown message tag")
	ErrStringTooLong   = fmt.Errorf("protocol: string exceeds uint16 length prefix")
	ErrTrailingGarbage = fmt.Errorf("protocol: trailing bytes after message payload")
)

var decoders = map[Tag]func(r *reader) Message{
	TagExchangeRequest:    decodeExchangeRequest,
	TagPartialMapReply:    decodePartialMapReply,
	TagFullMapBroadcast:   decodeFullMapBroadcast,
	TagClockDeltaSnapshot: decodeClockDeltaSnapshot,
}

func Encode(msg Message) ([]byte, error) {
	w := &writer{}
	w.u8(SchemaVersion)
	w.u8(uint8(msg.Tag()))
	msg.encodeTo(w)
	if w.err != nil {
		return nil, w.err
	}
	return w.buf, nil
}

func Decode(b []byte) (Message, error) {
	r := &reader{buf: b}
	if v := r.u8(); v != SchemaVersion {
		if r.err != nil {
			return nil, r.err
		}
		return nil, fmt.Errorf("%w: %d", ErrSchemaMismatch, v)
	}
	tag := Tag(r.u8())
	decode, ok := decoders[tag]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownTag, tag)
	}
	msg := decode(r)
	if r.err != nil {
		return nil, r.err
	}
	if len(r.buf) != r.off {
		return nil, ErrTrailingGarbage
	}
	return msg, nil
}

func (m *ExchangeRequest) encodeTo(w *writer) {
	w.version(m.Version)
	w.u64(uint64(m.RequestingOrder))
}

func decodeExchangeRequest(r *reader) Message {
	return &ExchangeRequest{
		Version:         r.version(),
		RequestingOrder: cluster.Order(r.u64()),
	}
}

func (m *PartialMapReply) encodeTo(w *writer) {
	w.version(m.Version)
	w.u64(uint64(m.Sender))
	w.u32(uint32(len(m.Entries)))
	for _, e := range m.Entries {
		w.str(e.Cache)
		w.u32(uint32(e.Partition))
		w.u8(uint8(e.State))
	}
}

func decodePartialMapReply(r *reader) Message {
	m := &PartialMapReply{
		Version: r.version(),
		Sender:  cluster.NodeID(r.u64()),
	}
	n := r.u32()
	for i := uint32(0); i < n && r.err == nil; i++ {
		m.Entries = append(m.Entries, PartialEntry{
			Cache:     r.str(),
			Partition: partition.ID(r.u32()),
			State:     cluster.State(r.u8()),
		})
	}
	return m
}

func (m *FullMapBroadcast) encodeTo(w *writer) {
	w.version(m.Version)
	w.u32(uint32(len(m.Maps)))
	for _, fm := range m.Maps {
		w.str(fm.Cache)
		ids := fm.SortedIDs()
		w.u32(uint32(len(ids)))
		for _, id := range ids {
			w.u32(uint32(id))
			lost := uint8(0)
			if fm.Lost[id] {
				lost = 1
			}
			w.u8(lost)
			entries := fm.Partitions[id]
			w.u32(uint32(len(entries)))
			for _, e := range entries {
				w.u64(uint64(e.Node))
				w.u8(uint8(e.State))
			}
		}
	}
}

func decodeFullMapBroadcast(r *reader) Message {
	m := &FullMapBroadcast{Version: r.version()}
	caches := r.u32()
	for c := uint32(0); c < caches && r.err == nil; c++ {
		fm := partition.NewFullMap(r.str(), m.Version)
		parts := r.u32()
		for p := uint32(0); p < parts && r.err == nil; p++ {
			id := partition.ID(r.u32())
			if r.u8() == 1 {
				fm.Lost[id] = true
			}
			entries := r.u32()
			owners := make([]partition.OwnerEntry, 0, entries)
			for e := uint32(0); e < entries && r.err == nil; e++ {
				owners = append(owners, partition.OwnerEntry{
					Node:  cluster.NodeID(r.u64()),
					State: cluster.State(r.u8()),
				})
			}
			fm.Partitions[id] = owners
		}
		m.Maps = append(m.Maps, fm)
	}
	return m
}

func (m *ClockDeltaSnapshot) encodeTo(w *writer) {
	w.version(m.Version)
	w.u64(m.Sequence)
	w.u64(uint64(m.DeltaMillis))
}

func decodeClockDeltaSnapshot(r *reader) Message {
	return &ClockDeltaSnapshot{
		Version:     r.version(),
		Sequence:    r.u64(),
		DeltaMillis: int64(r.u64()),
	}
}

type writer struct {
	buf []byte
	err error
}

func (w *writer) u8(v uint8) {
	w.buf = append(w.buf, v)
}

func (w *writer) u32(v uint32) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, v)
}

func (w *writer) u64(v uint64) {
	w.buf = binary.BigEndian.AppendUint64(w.buf, v)
}

func (w *writer) str(s string) {
	if len(s) > math.MaxUint16 {
		if w.err == nil {
			w.err = ErrStringTooLong
		}
		return
	}
	w.buf = binary.BigEndian.AppendUint16(w.buf, uint16(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *writer) version(v topology.Version) {
	w.u64(v.Major)
	w.u64(v.Minor)
}

type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.off+n > len(r.buf) {
		r.err = ErrShortMessage
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) u8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) u32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (r *reader) u64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func (r *reader) str() string {
	b := r.take(2)
	if b == nil {
		return ""
	}
	n := int(binary.BigEndian.Uint16(b))
	s := r.take(n)
	if s == nil {
		return ""
	}
	return string(s)
}

func (r *reader) version() topology.Version {
	return topology.Version{Major: r.u64(), Minor: r.u64()}
}
