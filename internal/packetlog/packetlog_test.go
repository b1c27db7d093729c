package packetlog

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dpaschal/meshcore-gateway/internal/meshwire"
)

const localNode uint32 = 0xAAAAAAAA

func TestShouldRecord_DropsLocalAdminTraffic(t *testing.T) {
	pkt := &meshwire.MeshPacket{
		From:    localNode,
		To:      0x1,
		Decoded: &meshwire.Data{Portnum: meshwire.PortAdmin},
	}
	require.False(t, ShouldRecord(pkt, localNode))
}

func TestShouldRecord_DropsLocalRoutingTraffic(t *testing.T) {
	pkt := &meshwire.MeshPacket{
		From:    0x1,
		To:      localNode,
		Decoded: &meshwire.Data{Portnum: meshwire.PortRouting},
	}
	require.False(t, ShouldRecord(pkt, localNode))
}

func TestShouldRecord_DropsPhantomInternalEcho(t *testing.T) {
	pkt := &meshwire.MeshPacket{
		From:      localNode,
		Transport: meshwire.TransportInternal,
		HopStart:  0,
		Decoded:   &meshwire.Data{Portnum: meshwire.PortTextMessage},
	}
	require.False(t, ShouldRecord(pkt, localNode))
}

func TestShouldRecord_KeepsRFTrafficFromLocalNode(t *testing.T) {
	pkt := &meshwire.MeshPacket{
		From:      localNode,
		Transport: meshwire.TransportRF,
		HopStart:  3,
		Decoded:   &meshwire.Data{Portnum: meshwire.PortTextMessage},
	}
	require.True(t, ShouldRecord(pkt, localNode))
}

func TestShouldRecord_KeepsThirdPartyAdminTraffic(t *testing.T) {
	pkt := &meshwire.MeshPacket{
		From:    0x1,
		To:      0x2,
		Decoded: &meshwire.Data{Portnum: meshwire.PortAdmin},
	}
	require.True(t, ShouldRecord(pkt, localNode))
}

func TestRing_RecordAndRecent(t *testing.T) {
	r := NewRing(4)
	for i := uint32(1); i <= 3; i++ {
		r.Record(&meshwire.MeshPacket{
			From:      i,
			To:        0x9,
			Transport: meshwire.TransportRF,
			Decoded:   &meshwire.Data{Portnum: meshwire.PortTextMessage, Payload: []byte("hi")},
		}, DirectionRX, localNode)
	}
	entries := r.Recent(10)
	require.Len(t, entries, 3)
	require.Equal(t, uint64(1), entries[0].Seq)
	require.Equal(t, uint64(3), entries[2].Seq)
	require.Equal(t, "hi", entries[0].Preview)
}

func TestRing_EvictsPastCapacity(t *testing.T) {
	r := NewRing(2)
	for i := uint32(1); i <= 5; i++ {
		r.Record(&meshwire.MeshPacket{
			From:      i,
			Transport: meshwire.TransportRF,
			Decoded:   &meshwire.Data{Portnum: meshwire.PortTextMessage},
		}, DirectionRX, localNode)
	}
	entries := r.Recent(10)
	require.Len(t, entries, 2)
	require.Equal(t, uint64(4), entries[0].Seq)
	require.Equal(t, uint64(5), entries[1].Seq)
}

func TestRing_EncryptedPacketPreview(t *testing.T) {
	r := NewRing(4)
	r.Record(&meshwire.MeshPacket{
		From:      1,
		Transport: meshwire.TransportRF,
		Encrypted: []byte{0x01, 0x02},
	}, DirectionRX, localNode)
	entries := r.Recent(1)
	require.Len(t, entries, 1)
	require.True(t, entries[0].Encrypted)
	require.Equal(t, "<encrypted>", entries[0].Preview)
}
