package meshwire

// PortNum selects which application-layer handler a Data payload belongs to.
type PortNum uint32

const (
	PortUnknown      PortNum = 0
	PortTextMessage  PortNum = 1
	PortPosition     PortNum = 3
	PortNodeInfo     PortNum = 4
	PortRouting      PortNum = 5
	PortAdmin        PortNum = 6
	PortTelemetry    PortNum = 67
	PortTraceroute   PortNum = 70
	PortNeighborInfo PortNum = 71
	PortPaxcounter   PortNum = 72
)

func (p PortNum) String() string {
	switch p {
	case PortTextMessage:
		return "TEXT_MESSAGE_APP"
	case PortPosition:
		return "POSITION_APP"
	case PortNodeInfo:
		return "NODEINFO_APP"
	case PortRouting:
		return "ROUTING_APP"
	case PortAdmin:
		return "ADMIN_APP"
	case PortTelemetry:
		return "TELEMETRY_APP"
	case PortTraceroute:
		return "TRACEROUTE_APP"
	case PortNeighborInfo:
		return "NEIGHBORINFO_APP"
	case PortPaxcounter:
		return "PAXCOUNTER_APP"
	default:
		return "UNKNOWN_APP"
	}
}

// TransportMechanism distinguishes RF-originated packets from internal
// device state echoes, used by the packet logger's phantom-frame filter.
type TransportMechanism uint32

const (
	TransportUnset    TransportMechanism = 0
	TransportInternal TransportMechanism = 1
	TransportRF       TransportMechanism = 2
	TransportMQTT     TransportMechanism = 3
)

// Reserved node-numbers that never denote a real mesh participant. Used to
// filter traceroute hop lists while keeping SNR index alignment.
const (
	NodeNumReserved0   uint32 = 0
	NodeNumReserved3   uint32 = 3
	NodeNumBroadcast16 uint32 = 65535
	NodeNumBroadcast32 uint32 = 0xFFFFFFFF
)

func isReservedNodeNum(n uint32) bool {
	return n <= NodeNumReserved3 || n == NodeNumBroadcast16 || n == NodeNumBroadcast32
}

// ChannelRole mirrors the radio's channel role enum.
type ChannelRole uint32

const (
	ChannelDisabled ChannelRole = 0
	ChannelPrimary  ChannelRole = 1
	ChannelSecondary ChannelRole = 2
)

// RoutingErrorReason mirrors the routing layer's error_reason field.
type RoutingErrorReason uint32

const (
	RoutingSuccess        RoutingErrorReason = 0
	RoutingNoRoute        RoutingErrorReason = 1
	RoutingGotNak         RoutingErrorReason = 2
	RoutingTimeout        RoutingErrorReason = 3
	RoutingNoInterface    RoutingErrorReason = 4
	RoutingMaxRetransmit  RoutingErrorReason = 5
	RoutingNoChannel      RoutingErrorReason = 6
	RoutingTooLarge       RoutingErrorReason = 7
	RoutingNoResponse     RoutingErrorReason = 8
	RoutingDutyCycleLimit RoutingErrorReason = 9
	RoutingBadRequest     RoutingErrorReason = 32
	RoutingNotAuthorized  RoutingErrorReason = 33
	RoutingPkiFailed      RoutingErrorReason = 34
	RoutingPkiUnknownPubkey RoutingErrorReason = 35
)

// IsPKI reports whether the reason belongs to the PKI error family the
// Protocol Engine treats specially (§4.5).
func (r RoutingErrorReason) IsPKI() bool {
	return r == RoutingPkiFailed || r == RoutingPkiUnknownPubkey
}
