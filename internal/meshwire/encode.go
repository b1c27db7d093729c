package meshwire

import (
	"math/rand"
	"sync/atomic"
)

// PacketIDGenerator hands out fresh 32-bit packet ids for outgoing frames,
// matching the radio's own convention of a random, non-zero, monotonic-ish
// identifier (teacher's client.go seeds its want-config id the same way
// with rand.Uint32()).
type PacketIDGenerator struct {
	counter uint32
}

// NewPacketIDGenerator seeds the generator from a random starting point so
// restarts don't immediately collide with a prior session's ids.
func NewPacketIDGenerator() *PacketIDGenerator {
	return &PacketIDGenerator{counter: rand.Uint32()}
}

// Next returns the next packet id, skipping zero.
func (g *PacketIDGenerator) Next() uint32 {
	for {
		if id := atomic.AddUint32(&g.counter, 1); id != 0 {
			return id
		}
	}
}

// EncodeWantConfig builds a ToRadio want-config-id request.
func EncodeWantConfig(id uint32) []byte {
	var b []byte
	b = appendVarintField(b, 2, uint64(id))
	return b
}

// EncodeDisconnect builds a ToRadio disconnect notice.
func EncodeDisconnect() []byte {
	var b []byte
	b = appendBoolField(b, 3, true)
	return b
}

// EncodeToRadioPacket wraps a MeshPacket as a ToRadio frame body.
func EncodeToRadioPacket(p *MeshPacket) []byte {
	var b []byte
	b = appendMessageField(b, 1, p.Marshal())
	return b
}

// packetTemplate fills in the fields common to every outgoing application
// packet; callers set Decoded/Encrypted afterwards.
func packetTemplate(id, from, to, channel uint32, wantAck bool) *MeshPacket {
	return &MeshPacket{
		ID:       id,
		From:     from,
		To:       to,
		Channel:  channel,
		HopLimit: 3,
		WantAck:  wantAck,
	}
}

// EncodeTextMessage builds a text-message ToRadio frame, assigning and
// returning a fresh packet id for delivery-tracker correlation.
func EncodeTextMessage(gen *PacketIDGenerator, from, to, channel uint32, text string, wantAck bool) (frame []byte, packetID uint32) {
	id := gen.Next()
	pkt := packetTemplate(id, from, to, channel, wantAck)
	pkt.Decoded = &Data{Portnum: PortTextMessage, Payload: []byte(text)}
	return EncodeToRadioPacket(pkt), id
}

// EncodeTracerouteRequest builds a traceroute request addressed to dest.
func EncodeTracerouteRequest(gen *PacketIDGenerator, from, dest uint32) (frame []byte, packetID uint32) {
	id := gen.Next()
	pkt := packetTemplate(id, from, dest, 0, true)
	pkt.Decoded = &Data{Portnum: PortTraceroute}
	return EncodeToRadioPacket(pkt), id
}

// EncodePositionRequest builds a request for dest's current position.
func EncodePositionRequest(gen *PacketIDGenerator, from, dest uint32) (frame []byte, packetID uint32) {
	id := gen.Next()
	pkt := packetTemplate(id, from, dest, 0, true)
	pkt.Decoded = &Data{Portnum: PortPosition, WantReponse: true}
	return EncodeToRadioPacket(pkt), id
}

// EncodeNodeInfoRequest builds a request for dest's NodeInfo/User.
func EncodeNodeInfoRequest(gen *PacketIDGenerator, from, dest uint32) (frame []byte, packetID uint32) {
	id := gen.Next()
	pkt := packetTemplate(id, from, dest, 0, true)
	pkt.Decoded = &Data{Portnum: PortNodeInfo, WantReponse: true}
	return EncodeToRadioPacket(pkt), id
}

// EncodeTelemetryRequest builds a request for dest's telemetry.
func EncodeTelemetryRequest(gen *PacketIDGenerator, from, dest uint32) (frame []byte, packetID uint32) {
	id := gen.Next()
	pkt := packetTemplate(id, from, dest, 0, true)
	pkt.Decoded = &Data{Portnum: PortTelemetry, WantReponse: true}
	return EncodeToRadioPacket(pkt), id
}

// EncodeAdminPacket builds an admin request addressed to dest. When dest is
// not the local node, sessionKey must be non-empty (§4.2, §4.6); passing an
// empty key for a remote destination is the caller's bug, not encoded here.
func EncodeAdminPacket(gen *PacketIDGenerator, from, dest uint32, admin *AdminMessage, sessionKey []byte) (frame []byte, packetID uint32) {
	id := gen.Next()
	pkt := packetTemplate(id, from, dest, 0, true)
	if len(sessionKey) > 0 {
		admin.SessionPasskey = sessionKey
	}
	pkt.Decoded = &Data{Portnum: PortAdmin, Payload: admin.Marshal()}
	return EncodeToRadioPacket(pkt), id
}
