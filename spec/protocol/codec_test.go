package protocol

import (
	"testing"

	"go.wirecache.dev/wirecache/spec/cluster"
	"go.wirecache.dev/wirecache/spec/partition"
	"go.wirecache.dev/wirecache/spec/topology"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExchangeRequestRoundTrip(t *testing.T) {
	assert := assert.New(t)

	msg := &ExchangeRequest{
		Version:         topology.Version{Major: 4, Minor: 1},
		RequestingOrder: 2,
	}
	encoded, err := Encode(msg)
	require.NoError(t, err)
	assert.Equal(SchemaVersion, encoded[0])
	assert.Equal(uint8(TagExchangeRequest), encoded[1])

	decoded, err := Decode(encoded)
	require.NoError(t, err)
	assert.Equal(msg, decoded)
}

func TestPartialMapReplyRoundTrip(t *testing.T) {
	assert := assert.New(t)

	msg := &PartialMapReply{
		Version: topology.Version{Major: 2},
		Sender:  3,
		Entries: []PartialEntry{
			{Cache: "tenants", Partition: 0, State: cluster.Owning},
			{Cache: "tenants", Partition: 4, State: cluster.Renting},
			{Cache: "sessions", Partition: 1, State: cluster.Moving},
		},
	}
	encoded, err := Encode(msg)
	require.NoError(t, err)
	decoded, err := Decode(encoded)
	require.NoError(t, err)
	assert.Equal(msg, decoded)

	partials := decoded.(*PartialMapReply).Partials()
	require.Len(t, partials, 2)
	assert.Equal(cluster.Owning, partials["tenants"].Claims[0])
	assert.Equal(cluster.Renting, partials["tenants"].Claims[4])
	assert.Equal(cluster.NodeID(3), partials["sessions"].Sender)
}

func TestFullMapBroadcastRoundTrip(t *testing.T) {
	assert := assert.New(t)

	fm := partition.NewFullMap("tenants", topology.Version{Major: 3})
	fm.Partitions[0] = []partition.OwnerEntry{
		{Node: 1, State: cluster.Owning},
		{Node: 2, State: cluster.Moving},
	}
	fm.Partitions[1] = []partition.OwnerEntry{
		{Node: 2, State: cluster.Owning},
	}
	fm.Partitions[2] = nil
	fm.Lost[2] = true

	msg := &FullMapBroadcast{
		Version: topology.Version{Major: 3},
		Maps:    []*partition.FullMap{fm},
	}
	encoded, err := Encode(msg)
	require.NoError(t, err)
	decoded, err := Decode(encoded)
	require.NoError(t, err)

	got := decoded.(*FullMapBroadcast)
	require.Len(t, got.Maps, 1)
	assert.Equal("tenants", got.Maps[0].Cache)
	assert.Equal(topology.Version{Major: 3}, got.Maps[0].Version)
	assert.Equal(fm.Fingerprint(), got.Maps[0].Fingerprint())
	assert.True(got.Maps[0].Lost[2])

	owner, ok := got.Maps[0].Owner(0)
	assert.True(ok)
	assert.Equal(cluster.NodeID(1), owner)
}

func TestClockDeltaSnapshotRoundTrip(t *testing.T) {
	assert := assert.New(t)

	msg := &ClockDeltaSnapshot{
		Version:     topology.Version{Major: 5},
		Sequence:    12,
		DeltaMillis: -250,
	}
	encoded, err := Encode(msg)
	require.NoError(t, err)
	decoded, err := Decode(encoded)
	require.NoError(t, err)
	assert.Equal(msg, decoded)
	assert.Equal(topology.ClockDeltaVersion{Version: msg.Version, Sequence: 12}, decoded.(*ClockDeltaSnapshot).DeltaVersion())
}

func TestDecodeRejectsSchemaMismatch(t *testing.T) {
	assert := assert.New(t)

	encoded, err := Encode(&ExchangeRequest{Version: topology.Version{Major: 1}})
	assert.NoError(err)
	encoded[0] = SchemaVersion + 1

	_, err = Decode(encoded)
	assert.ErrorIs(err, ErrSchemaMismatch)
}

func TestDecodeRejectsUnknownTag(t *testing.T) {
	assert := assert.New(t)

	_, err := Decode([]byte{SchemaVersion, 0xee})
	assert.ErrorIs(err, ErrUnknownTag)
}

func TestDecodeRejectsTruncation(t *testing.T) {
	assert := assert.New(t)

	encoded, err := Encode(&PartialMapReply{
		Version: topology.Version{Major: 1},
		Sender:  2,
		Entries: []PartialEntry{{Cache: "tenants", Partition: 3, State: cluster.Owning}},
	})
	assert.NoError(err)

	// every prefix of a valid message must fail cleanly, never panic
	for n := 0; n < len(encoded); n++ {
		_, err := Decode(encoded[:n])
		assert.Error(err, "prefix of %d bytes", n)
	}
}

func TestDecodeRejectsTrailingGarbage(t *testing.T) {
	assert := assert.New(t)

	encoded, err := Encode(&ExchangeRequest{Version: topology.Version{Major: 1}, RequestingOrder: 1})
	assert.NoError(err)

	_, err = Decode(append(encoded, 0x00))
	assert.ErrorIs(err, ErrTrailingGarbage)
}
