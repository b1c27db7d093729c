package meshwire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrameDecoder_SplitAcrossChunks(t *testing.T) {
	stream := []byte{0x94, 0xC3, 0x00, 0x05, 0x08, 0x01, 0x10, 0x02, 0x18, 0x03, 0x94, 0xC3, 0x00, 0x03, 0x08, 0x04, 0x10}
	chunkings := [][]int{
		{3, 5, 2, 7},
		{1},
		{len(stream)},
	}
	for _, sizes := range chunkings {
		d := NewFrameDecoder()
		var frames [][]byte
		pos, i := 0, 0
		for pos < len(stream) {
			want := sizes[i%len(sizes)]
			end := pos + want
			if want <= 0 || end > len(stream) {
				end = len(stream)
			}
			frames = append(frames, d.Feed(stream[pos:end])...)
			pos = end
			i++
		}
		require.Len(t, frames, 2)
		require.Equal(t, []byte{0x08, 0x01, 0x10, 0x02, 0x18}, frames[0])
		require.Equal(t, []byte{0x08, 0x04, 0x10}, frames[1])
	}
}

func TestFrameDecoder_ByteAtATime(t *testing.T) {
	payload := []byte{0x08, 0x01, 0x10, 0x02, 0x18, 0x03}
	enc, err := EncodeFrame(payload)
	require.NoError(t, err)
	d := NewFrameDecoder()
	var frames [][]byte
	for _, b := range enc {
		frames = append(frames, d.Feed([]byte{b})...)
	}
	require.Len(t, frames, 1)
	require.Equal(t, payload, frames[0])
}

func TestFrameDecoder_OversizedLengthResyncs(t *testing.T) {
	d := NewFrameDecoder()
	// A claimed length above MaxFrameLen must not consume a body; the
	// decoder should resync and still find the valid frame that follows.
	bogus := []byte{Start1, Start2, 0xFF, 0xFF}
	good, err := EncodeFrame([]byte{0x08, 0x09})
	require.NoError(t, err)
	frames := d.Feed(append(bogus, good...))
	require.Len(t, frames, 1)
	require.Equal(t, []byte{0x08, 0x09}, frames[0])
}

func TestEncodeFrame_RejectsOversized(t *testing.T) {
	_, err := EncodeFrame(make([]byte, MaxFrameLen+1))
	require.Error(t, err)
}

func TestMeshPacketRoundTrip(t *testing.T) {
	pkt := &MeshPacket{
		ID: 100, From: 0x0A, To: 0x42, Channel: 0, HopStart: 3, HopLimit: 3,
		WantAck: true, RxTime: 12345, RxSNR: 4.5, RxRSSI: -80,
		Decoded: &Data{Portnum: PortTextMessage, Payload: []byte("hi")},
	}
	out, err := UnmarshalMeshPacket(pkt.Marshal())
	require.NoError(t, err)
	require.Equal(t, pkt.ID, out.ID)
	require.Equal(t, pkt.From, out.From)
	require.Equal(t, pkt.To, out.To)
	require.Equal(t, pkt.WantAck, out.WantAck)
	require.Equal(t, pkt.RxSNR, out.RxSNR)
	require.Equal(t, pkt.RxRSSI, out.RxRSSI)
	require.Equal(t, pkt.Decoded.Portnum, out.Decoded.Portnum)
	require.Equal(t, pkt.Decoded.Payload, out.Decoded.Payload)
}

func TestFilterRoute(t *testing.T) {
	route := []uint32{10, 0xFFFFFFFF, 65535, 42}
	snr := []int32{1, 2, 3, 4, 5}
	outRoute, outSNR := FilterRoute(route, snr)
	require.Equal(t, []uint32{10, 42}, outRoute)
	require.Equal(t, []int32{1, 4, 5}, outSNR)
}
