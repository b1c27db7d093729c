package meshwire

// Kind tags the payload carried by a decoded FromRadio frame.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindMeshPacket
	KindMyInfo
	KindNodeInfo
	KindMetadata
	KindConfig
	KindModuleConfig
	KindChannel
	KindConfigComplete
)

func (k Kind) String() string {
	switch k {
	case KindMeshPacket:
		return "meshPacket"
	case KindMyInfo:
		return "myInfo"
	case KindNodeInfo:
		return "nodeInfo"
	case KindMetadata:
		return "metadata"
	case KindConfig:
		return "config"
	case KindModuleConfig:
		return "moduleConfig"
	case KindChannel:
		return "channel"
	case KindConfigComplete:
		return "configComplete"
	default:
		return "unknown"
	}
}

// Variant is a decoded FromRadio frame: a kind tag plus the typed payload.
// Exactly one of the Payload fields is meaningful, selected by Kind.
type Variant struct {
	Kind Kind

	MeshPacket     *MeshPacket
	MyInfo         *MyNodeInfo
	NodeInfo       *NodeInfo
	Metadata       *DeviceMetadata
	Config         []byte
	ModuleConfig   []byte
	Channel        *Channel
	ConfigComplete uint32

	// Raw carries the original undecoded frame bytes, used by the
	// virtual-node hub and packet logger so replay is byte-exact.
	Raw []byte
}

// Data is the application payload embedded in a decoded MeshPacket.
type Data struct {
	Portnum     PortNum
	Payload     []byte
	RequestID   uint32
	ReplyID     uint32
	Emoji       bool
	WantReponse bool
}

// MeshPacket is the normalized form of a radio mesh packet. Proto3 zero
// defaults are always materialized here: every bool/numeric field the
// application reads is explicit, never "absent".
type MeshPacket struct {
	ID        uint32
	From      uint32
	To        uint32
	Channel   uint32
	HopStart  uint32
	HopLimit  uint32
	WantAck   bool
	Priority  uint32
	RxTime    uint32
	RxSNR     float32
	RxRSSI    int32
	Transport TransportMechanism

	// Exactly one of Decoded/Encrypted is set.
	Decoded   *Data
	Encrypted []byte

	// DecryptedBy records how Decoded came to be populated: "", "node" or
	// "server". Set by the channel decryptor (§4.4) on a successful
	// server-side decrypt.
	DecryptedBy string
	// ChannelDBID is the originating channel's database row id, carried
	// forward by the channel decryptor so messages can be attributed.
	ChannelDBID int64
}

// IsEncrypted reports whether the packet still carries an encrypted blob.
func (p *MeshPacket) IsEncrypted() bool {
	return p.Decoded == nil && p.Encrypted != nil
}

// MyNodeInfo is the local radio's self-identification.
type MyNodeInfo struct {
	MyNodeNum     uint32
	RebootCount   uint32
	MinAppVersion uint32
}

// User is a node's stable identity block.
type User struct {
	ID            string
	LongName      string
	ShortName     string
	HwModel       uint32
	Role          uint32
	PublicKey     []byte
}

// Position is a single position observation.
type Position struct {
	LatitudeI     int32
	LongitudeI    int32
	Altitude      int32
	Time          uint32
	PrecisionBits uint32
}

// Valid reports whether the decoded lat/lon fall in range (§6).
func (p *Position) Valid() bool {
	lat := float64(p.LatitudeI) / 1e7
	lon := float64(p.LongitudeI) / 1e7
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// Lat returns the decoded latitude in degrees.
func (p *Position) Lat() float64 { return float64(p.LatitudeI) / 1e7 }

// Lon returns the decoded longitude in degrees.
func (p *Position) Lon() float64 { return float64(p.LongitudeI) / 1e7 }

// NodeInfo is a radio-reported snapshot of a node.
type NodeInfo struct {
	Num      uint32
	User     *User
	Position *Position
	LastHeard uint32
	SNR      float32
	HopsAway uint32
}

// DeviceMetadata is what a getDeviceMetadataResponse admin reply carries.
type DeviceMetadata struct {
	FirmwareVersion    string
	DeviceStateVersion uint32
	CanShutdown        bool
	HasWifi            bool
	HasBluetooth       bool
	HwModel            uint32
}

// Channel is a radio channel slot.
type Channel struct {
	Index             uint32
	Role              ChannelRole
	PSK               []byte
	UplinkEnabled     bool
	DownlinkEnabled   bool
	PositionPrecision uint32
	Name              string
}

// MetricValue is one named telemetry field within a Telemetry payload.
type MetricValue struct {
	Name  string
	Value float64
	Unit  string
}

// TelemetryKind selects which telemetry variant a payload carries.
type TelemetryKind uint32

const (
	TelemetryDevice TelemetryKind = iota
	TelemetryEnvironment
	TelemetryAirQuality
	TelemetryPower
	TelemetryLocalStats
	TelemetryHostMetrics
	TelemetryPaxcounter
)

// Telemetry is a decoded telemetry payload: a timestamp plus a flat set of
// named metric values, already split out of whichever oneof variant the
// radio used.
type Telemetry struct {
	Time    uint32
	Kind    TelemetryKind
	Metrics []MetricValue
}

// Routing is a decoded routing-layer ACK/NAK payload.
type Routing struct {
	ErrorReason RoutingErrorReason
}

// RouteDiscovery is a decoded traceroute response payload.
type RouteDiscovery struct {
	Route      []uint32
	SNRTowards []int32
	RouteBack  []uint32
	SNRBack    []int32
}

// FilterRoute drops reserved node-numbers from route while keeping the SNR
// slice aligned, per §4.5/§8's route-filter property. snr may be one
// element longer than route (the trailing "final hop" SNR).
func FilterRoute(route []uint32, snr []int32) ([]uint32, []int32) {
	outRoute := make([]uint32, 0, len(route))
	outSNR := make([]int32, 0, len(snr))
	for i, n := range route {
		if isReservedNodeNum(n) {
			continue
		}
		outRoute = append(outRoute, n)
		if i < len(snr) {
			outSNR = append(outSNR, snr[i])
		}
	}
	// The final hop's SNR (index == len(route)) has no corresponding route
	// entry and is always retained.
	if len(snr) > len(route) {
		outSNR = append(outSNR, snr[len(route)])
	}
	return outRoute, outSNR
}

// Neighbor is one entry in a NeighborInfo report.
type Neighbor struct {
	NodeID uint32
	SNR    int32
}

// NeighborInfo is a decoded neighbor-info payload.
type NeighborInfo struct {
	NodeID                  uint32
	Neighbors               []Neighbor
	LastSentByID            uint32
	NodeBroadcastIntervalSecs uint32
}

// AdminMessage is a decoded admin payload. Exactly one request/response
// field is meaningful, selected by Which.
type AdminMessage struct {
	Which AdminKind

	SessionPasskey []byte

	GetChannelRequestIndex uint32
	GetChannelResponse     *Channel

	GetOwnerResponse *User
	SetOwner         *User

	GetDeviceMetadataResponse *DeviceMetadata

	SetFavoriteNode uint32
	SetIgnoredNode  uint32
	RemoveByNodenum uint32

	SetTimeOnly uint32

	GetConfigResponse       []byte
	GetModuleConfigResponse []byte
}

// AdminKind discriminates the AdminMessage oneof.
type AdminKind uint8

const (
	AdminUnknown AdminKind = iota
	AdminGetChannelRequest
	AdminGetChannelResponse
	AdminGetOwnerRequest
	AdminGetOwnerResponse
	AdminSetOwner
	AdminGetDeviceMetadataRequest
	AdminGetDeviceMetadataResponse
	AdminSetFavoriteNode
	AdminSetIgnoredNode
	AdminRemoveByNodenum
	AdminSetTimeOnly
	AdminGetConfigRequest
	AdminGetConfigResponse
	AdminGetModuleConfigRequest
	AdminGetModuleConfigResponse
)
