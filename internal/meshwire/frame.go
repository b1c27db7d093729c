// Package meshwire implements the length-prefixed framing and protobuf-ish
// wire codec described for the radio link: magic header detection, a
// resynchronizing decoder state machine, and encode/decode of the tagged
// FromRadio/ToRadio variants the rest of the gateway dispatches on.
package meshwire

import (
	"encoding/binary"
	"fmt"
)

// Start1/Start2 are the two magic bytes that open every frame on the wire.
const (
	Start1 byte = 0x94
	Start2 byte = 0xC3
)

// MaxFrameLen is the sanity cap on a claimed frame body length. Anything
// larger is treated as noise and the decoder resynchronizes instead of
// trying to read that many bytes.
const MaxFrameLen = 512

type decoderState uint8

const (
	stateSeekMagic1 decoderState = iota
	stateSeekMagic2
	stateReadLenHi
	stateReadLenLo
	stateReadBody
)

// FrameDecoder turns an arbitrarily-chunked byte stream into whole frame
// payloads. It never blocks and never needs more than one chunk in memory;
// feed it bytes as they arrive and it returns every complete frame found.
type FrameDecoder struct {
	state  decoderState
	lenHi  byte
	length int
	body   []byte
}

// NewFrameDecoder returns a decoder starting in the seek-magic state.
func NewFrameDecoder() *FrameDecoder {
	return &FrameDecoder{state: stateSeekMagic1}
}

// Feed appends chunk to the decoder and returns every frame payload that
// chunk completed, in order. It is safe to call with chunks of any size,
// including a single byte at a time.
func (d *FrameDecoder) Feed(chunk []byte) [][]byte {
	var frames [][]byte
	for _, b := range chunk {
		if frame, ok := d.step(b); ok {
			frames = append(frames, frame)
		}
	}
	return frames
}

func (d *FrameDecoder) step(b byte) ([]byte, bool) {
	switch d.state {
	case stateSeekMagic1:
		if b == Start1 {
			d.state = stateSeekMagic2
		}
		return nil, false
	case stateSeekMagic2:
		if b == Start2 {
			d.state = stateReadLenHi
		} else if b != Start1 {
			d.state = stateSeekMagic1
		}
		return nil, false
	case stateReadLenHi:
		d.lenHi = b
		d.state = stateReadLenLo
		return nil, false
	case stateReadLenLo:
		length := int(binary.BigEndian.Uint16([]byte{d.lenHi, b}))
		if length > MaxFrameLen {
			// Resync signal: drop back to seeking the magic without
			// trying to consume the bogus claimed body.
			d.state = stateSeekMagic1
			return nil, false
		}
		d.length = length
		d.body = make([]byte, 0, length)
		if length == 0 {
			d.state = stateSeekMagic1
			return []byte{}, true
		}
		d.state = stateReadBody
		return nil, false
	case stateReadBody:
		d.body = append(d.body, b)
		if len(d.body) == d.length {
			d.state = stateSeekMagic1
			frame := d.body
			d.body = nil
			return frame, true
		}
		return nil, false
	default:
		d.state = stateSeekMagic1
		return nil, false
	}
}

// EncodeFrame wraps payload in the magic header + big-endian uint16 length
// prefix. It returns an error instead of silently truncating when payload
// exceeds MaxFrameLen, since that would never be decodable.
func EncodeFrame(payload []byte) ([]byte, error) {
	if len(payload) > MaxFrameLen {
		return nil, fmt.Errorf("meshwire: payload length %d exceeds max frame length %d", len(payload), MaxFrameLen)
	}
	out := make([]byte, 0, 4+len(payload))
	out = append(out, Start1, Start2)
	out = binary.BigEndian.AppendUint16(out, uint16(len(payload)))
	out = append(out, payload...)
	return out, nil
}
