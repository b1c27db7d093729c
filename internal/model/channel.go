package model

import "github.com/dpaschal/meshcore-gateway/internal/meshwire"

// Channel is the persisted form of a radio channel slot (§3).
type Channel struct {
	Index             uint32
	Role              meshwire.ChannelRole
	PSK               []byte
	UplinkEnabled     bool
	DownlinkEnabled   bool
	PositionPrecision uint32
	Name              string
}

// RepairRole applies §3's channel role invariants:
//   - index 0 is always PRIMARY; a DISABLED role received at index 0 is
//     rewritten to PRIMARY.
//   - any PRIMARY role received at index>0 is rewritten to SECONDARY.
func RepairRole(index uint32, role meshwire.ChannelRole) meshwire.ChannelRole {
	if index == 0 && role == meshwire.ChannelDisabled {
		return meshwire.ChannelPrimary
	}
	if index > 0 && role == meshwire.ChannelPrimary {
		return meshwire.ChannelSecondary
	}
	return role
}

// DirectMessageChannel is the sentinel channel value for a direct message.
const DirectMessageChannel int32 = -1

// ServerDecryptedChannelOffset (OFFSET in §6) is added to a Channel
// Database row id to form the persisted channel value for a message that
// was decrypted server-side rather than by the radio.
const ServerDecryptedChannelOffset int32 = 1 << 16

// ServerDecryptedChannel maps a channel database row id to its persisted
// message-channel value (§6).
func ServerDecryptedChannel(dbID int64) int32 {
	return ServerDecryptedChannelOffset + int32(dbID)
}
