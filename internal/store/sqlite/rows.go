package sqlite

import (
	"time"

	"github.com/dpaschal/meshcore-gateway/internal/meshwire"
	"github.com/dpaschal/meshcore-gateway/internal/model"
)

func nowUnix() int64 { return time.Now().Unix() }

type nodeRow struct {
	Num uint32 `gorm:"primaryKey"`

	LongName  string
	ShortName string
	HwModel   uint32
	Role      uint32
	PublicKey []byte

	Latitude          float64
	Longitude         float64
	Altitude          int32
	PositionPrecision uint32
	PositionChannel   uint32
	PositionTime      int64

	LastHeard int64 `gorm:"index"`

	LastSNR  float32
	LastRSSI int32
	HopsAway uint32

	Favorite bool
	Ignored  bool

	Mobile              bool
	HasRemoteAdmin      bool
	KeyMismatchDetected bool
	KeyIsLowEntropy     bool

	WelcomedAt int64
}

func fromNode(n *model.Node) nodeRow {
	return nodeRow{
		Num: n.Num,

		LongName:  n.LongName,
		ShortName: n.ShortName,
		HwModel:   n.HwModel,
		Role:      n.Role,
		PublicKey: n.PublicKey,

		Latitude:          n.Latitude,
		Longitude:         n.Longitude,
		Altitude:          n.Altitude,
		PositionPrecision: n.PositionPrecision,
		PositionChannel:   n.PositionChannel,
		PositionTime:      n.PositionTime,

		LastHeard: n.LastHeard,

		LastSNR:  n.LastSNR,
		LastRSSI: n.LastRSSI,
		HopsAway: n.HopsAway,

		Favorite: n.Favorite,
		Ignored:  n.Ignored,

		Mobile:              n.Mobile,
		HasRemoteAdmin:      n.HasRemoteAdmin,
		KeyMismatchDetected: n.KeyMismatchDetected,
		KeyIsLowEntropy:     n.KeyIsLowEntropy,

		WelcomedAt: n.WelcomedAt,
	}
}

func (r nodeRow) toNode() *model.Node {
	return &model.Node{
		Num: r.Num,

		LongName:  r.LongName,
		ShortName: r.ShortName,
		HwModel:   r.HwModel,
		Role:      r.Role,
		PublicKey: r.PublicKey,

		Latitude:          r.Latitude,
		Longitude:         r.Longitude,
		Altitude:          r.Altitude,
		PositionPrecision: r.PositionPrecision,
		PositionChannel:   r.PositionChannel,
		PositionTime:      r.PositionTime,

		LastHeard: r.LastHeard,

		LastSNR:  r.LastSNR,
		LastRSSI: r.LastRSSI,
		HopsAway: r.HopsAway,

		Favorite: r.Favorite,
		Ignored:  r.Ignored,

		Mobile:              r.Mobile,
		HasRemoteAdmin:      r.HasRemoteAdmin,
		KeyMismatchDetected: r.KeyMismatchDetected,
		KeyIsLowEntropy:     r.KeyIsLowEntropy,

		WelcomedAt: r.WelcomedAt,
	}
}

type channelRow struct {
	Index uint32 `gorm:"column:idx;primaryKey"`

	Role              uint8
	PSK               []byte
	UplinkEnabled     bool
	DownlinkEnabled   bool
	PositionPrecision uint32
	Name              string
}

func fromChannel(c *model.Channel) channelRow {
	return channelRow{
		Index: c.Index,

		Role:              uint8(c.Role),
		PSK:               c.PSK,
		UplinkEnabled:     c.UplinkEnabled,
		DownlinkEnabled:   c.DownlinkEnabled,
		PositionPrecision: c.PositionPrecision,
		Name:              c.Name,
	}
}

func (r channelRow) toChannel() *model.Channel {
	return &model.Channel{
		Index: r.Index,

		Role:              meshwire.ChannelRole(r.Role),
		PSK:               r.PSK,
		UplinkEnabled:     r.UplinkEnabled,
		DownlinkEnabled:   r.DownlinkEnabled,
		PositionPrecision: r.PositionPrecision,
		Name:              r.Name,
	}
}

type messageRow struct {
	SourceNode uint32 `gorm:"primaryKey"`
	PacketID   uint32 `gorm:"primaryKey"`

	Text       string
	Channel    int32
	DestNode   uint32
	HopStart   uint32
	HopLimit   uint32
	ReplyTo    uint32
	HasReplyTo bool
	Emoji      bool
	WantAck    bool

	DeliveryState uint8
	RequestID     uint32
	DecryptedBy   uint8

	RxTime int64
	RxSNR  float32
	RxRSSI int32

	CreatedAt int64
}

func fromMessage(m *model.Message) messageRow {
	return messageRow{
		SourceNode: m.SourceNode,
		PacketID:   m.PacketID,

		Text:       m.Text,
		Channel:    m.Channel,
		DestNode:   m.DestNode,
		HopStart:   m.HopStart,
		HopLimit:   m.HopLimit,
		ReplyTo:    m.ReplyTo,
		HasReplyTo: m.HasReplyTo,
		Emoji:      m.Emoji,
		WantAck:    m.WantAck,

		DeliveryState: uint8(m.DeliveryState),
		RequestID:     m.RequestID,
		DecryptedBy:   uint8(m.DecryptedBy),

		RxTime: m.RxTime,
		RxSNR:  m.RxSNR,
		RxRSSI: m.RxRSSI,

		CreatedAt: m.CreatedAt,
	}
}

type telemetryRow struct {
	ID        uint   `gorm:"primaryKey"`
	Node      uint32 `gorm:"index:idx_node_type_time"`
	Type      string `gorm:"index:idx_node_type_time"`
	Timestamp int64  `gorm:"index:idx_node_type_time"`
	Value     float64
	Unit      string
}

type neighborRow struct {
	ID       uint `gorm:"primaryKey"`
	Reporter uint32 `gorm:"index"`
	NodeID   uint32
	SNR      int32
}

type settingRow struct {
	Key   string `gorm:"primaryKey"`
	Value string
}

type tracerouteRow struct {
	ID         uint `gorm:"primaryKey"`
	FromNode   uint32
	ToNode     uint32
	Route      jsonUint32Slice
	SNRTowards jsonInt32Slice
	RouteBack  jsonUint32Slice
	SNRBack    jsonInt32Slice
	CreatedAt  int64
}

func fromTraceroute(tr model.Traceroute) tracerouteRow {
	return tracerouteRow{
		FromNode:   tr.FromNode,
		ToNode:     tr.ToNode,
		Route:      jsonUint32Slice(tr.Route),
		SNRTowards: jsonInt32Slice(tr.SNRTowards),
		RouteBack:  jsonUint32Slice(tr.RouteBack),
		SNRBack:    jsonInt32Slice(tr.SNRBack),
		CreatedAt:  tr.CreatedAt,
	}
}

type routeSegmentRow struct {
	ID           uint `gorm:"primaryKey"`
	TracerouteID uint `gorm:"index"`
	FromNode     uint32
	ToNode       uint32
	DistanceM    float64
	SNR          int32
}

type autoTracerouteRow struct {
	Node uint32 `gorm:"primaryKey"`
	At   int64
}
