// Package decrypt implements the server-side channel decryptor (§4.4):
// for every encrypted meshPacket, try each known channel's PSK under
// AES-CTR until one yields a plaintext that parses as a known portnum.
package decrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"errors"

	"github.com/dpaschal/meshcore-gateway/internal/meshwire"
)

// ErrNoChannelMatched means no configured channel's PSK produced a
// plaintext that parses as a valid Data payload.
var ErrNoChannelMatched = errors.New("decrypt: no channel key decoded this packet")

// ChannelKey is the subset of channel state the decryptor needs.
type ChannelKey struct {
	DBID uint32
	PSK  []byte
}

// nonce builds the 16-byte AES-CTR counter block from (packet-id,
// source-node): packet id and from-node as little-endian uint32s,
// followed by eight zero bytes, matching the radio's own construction.
func nonce(packetID, fromNode uint32) []byte {
	b := make([]byte, 16)
	binary.LittleEndian.PutUint32(b[0:4], packetID)
	binary.LittleEndian.PutUint32(b[4:8], fromNode)
	return b
}

// xorCTR decrypts (or encrypts — CTR is symmetric) ciphertext with key
// under AES-CTR using the packet-id/from-node derived nonce. This is
// the teacher's `radio.XOR` helper (referenced from `radio.TryDecode` but
// not present in the retrieved slice of the teacher repo); reconstructed
// directly against the standard AES-CTR construction the radio itself
// uses, since crypto/aes + crypto/cipher is the only way to express that
// primitive — there is no third-party AES-CTR library in the pack to
// prefer over the standard one here.
func xorCTR(ciphertext, key, nonceBlock []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	stream := cipher.NewCTR(block, nonceBlock)
	out := make([]byte, len(ciphertext))
	stream.XORKeyStream(out, ciphertext)
	return out, nil
}

// TryChannels attempts to decrypt pkt.Encrypted against each channel key
// in turn, accepting the first one whose plaintext parses as a Data
// payload with a recognized portnum. On success it returns the decoded
// Data and the matching channel's database id; pkt is left untouched.
func TryChannels(pkt *meshwire.MeshPacket, channels []ChannelKey) (*meshwire.Data, uint32, error) {
	if pkt == nil || !pkt.IsEncrypted() {
		return nil, 0, errors.New("decrypt: packet is not encrypted")
	}
	n := nonce(pkt.ID, pkt.From)
	for _, ck := range channels {
		if len(ck.PSK) == 0 {
			continue
		}
		plain, err := xorCTR(pkt.Encrypted, ck.PSK, n)
		if err != nil {
			continue
		}
		data, err := meshwire.UnmarshalData(plain)
		if err != nil {
			continue
		}
		if !isKnownPortnum(data.Portnum) {
			continue
		}
		return data, ck.DBID, nil
	}
	return nil, 0, ErrNoChannelMatched
}

func isKnownPortnum(p meshwire.PortNum) bool {
	switch p {
	case meshwire.PortTextMessage, meshwire.PortPosition, meshwire.PortNodeInfo,
		meshwire.PortRouting, meshwire.PortAdmin, meshwire.PortTelemetry,
		meshwire.PortTraceroute, meshwire.PortNeighborInfo, meshwire.PortPaxcounter:
		return true
	default:
		return false
	}
}

// ApplyServerDecrypt updates pkt in place with a successful server-side
// decode, recording provenance per §4.4/§6: decryptedBy=server, and the
// originating channel's database id carried forward for attribution.
func ApplyServerDecrypt(pkt *meshwire.MeshPacket, data *meshwire.Data, channelDBID uint32) {
	pkt.Decoded = data
	pkt.Encrypted = nil
	pkt.DecryptedBy = "server"
	pkt.ChannelDBID = int64(channelDBID)
}
