package meshwire

import "math"

// Marshal encodes a Data payload.
func (d *Data) Marshal() []byte {
	var b []byte
	b = appendVarintField(b, 1, uint64(d.Portnum))
	b = appendBytesField(b, 2, d.Payload)
	b = appendVarintField(b, 3, uint64(d.RequestID))
	b = appendVarintField(b, 4, uint64(d.ReplyID))
	b = appendBoolField(b, 5, d.Emoji)
	b = appendBoolField(b, 6, d.WantReponse)
	return b
}

// Marshal encodes a MeshPacket, including its embedded Data/encrypted blob.
func (p *MeshPacket) Marshal() []byte {
	var b []byte
	b = appendVarintField(b, 1, uint64(p.ID))
	b = appendVarintField(b, 2, uint64(p.From))
	b = appendVarintField(b, 3, uint64(p.To))
	b = appendVarintField(b, 4, uint64(p.Channel))
	b = appendVarintField(b, 5, uint64(p.HopStart))
	b = appendVarintField(b, 6, uint64(p.HopLimit))
	b = appendBoolField(b, 7, p.WantAck)
	b = appendVarintField(b, 8, uint64(p.Priority))
	b = appendVarintField(b, 9, uint64(p.RxTime))
	if p.RxSNR != 0 {
		b = appendFixed32Field(b, 10, float32bits(p.RxSNR))
	}
	if p.RxRSSI != 0 {
		b = appendSintField(b, 11, p.RxRSSI)
	}
	if p.Decoded != nil {
		b = appendMessageField(b, 12, p.Decoded.Marshal())
	} else if p.Encrypted != nil {
		b = appendBytesField(b, 13, p.Encrypted)
	}
	b = appendVarintField(b, 14, uint64(p.Transport))
	return b
}

// Marshal encodes a MyNodeInfo.
func (m *MyNodeInfo) Marshal() []byte {
	var b []byte
	b = appendVarintField(b, 1, uint64(m.MyNodeNum))
	b = appendVarintField(b, 2, uint64(m.RebootCount))
	b = appendVarintField(b, 3, uint64(m.MinAppVersion))
	return b
}

// Marshal encodes a User.
func (u *User) Marshal() []byte {
	var b []byte
	b = appendStringField(b, 1, u.ID)
	b = appendStringField(b, 2, u.LongName)
	b = appendStringField(b, 3, u.ShortName)
	b = appendVarintField(b, 4, uint64(u.HwModel))
	b = appendVarintField(b, 5, uint64(u.Role))
	b = appendBytesField(b, 6, u.PublicKey)
	return b
}

// Marshal encodes a Position.
func (p *Position) Marshal() []byte {
	var b []byte
	b = appendSintField(b, 1, p.LatitudeI)
	b = appendSintField(b, 2, p.LongitudeI)
	b = appendSintField(b, 3, p.Altitude)
	b = appendVarintField(b, 4, uint64(p.Time))
	b = appendVarintField(b, 5, uint64(p.PrecisionBits))
	return b
}

// Marshal encodes a NodeInfo.
func (n *NodeInfo) Marshal() []byte {
	var b []byte
	b = appendVarintField(b, 1, uint64(n.Num))
	if n.User != nil {
		b = appendMessageField(b, 2, n.User.Marshal())
	}
	if n.Position != nil {
		b = appendMessageField(b, 3, n.Position.Marshal())
	}
	b = appendVarintField(b, 4, uint64(n.LastHeard))
	if n.SNR != 0 {
		b = appendFixed32Field(b, 5, float32bits(n.SNR))
	}
	b = appendVarintField(b, 6, uint64(n.HopsAway))
	return b
}

// Marshal encodes a DeviceMetadata.
func (m *DeviceMetadata) Marshal() []byte {
	var b []byte
	b = appendStringField(b, 1, m.FirmwareVersion)
	b = appendVarintField(b, 2, uint64(m.DeviceStateVersion))
	b = appendBoolField(b, 3, m.CanShutdown)
	b = appendBoolField(b, 4, m.HasWifi)
	b = appendBoolField(b, 5, m.HasBluetooth)
	b = appendVarintField(b, 6, uint64(m.HwModel))
	return b
}

// Marshal encodes a Channel.
func (c *Channel) Marshal() []byte {
	var b []byte
	b = appendVarintField(b, 1, uint64(c.Index))
	b = appendVarintField(b, 2, uint64(c.Role))
	b = appendBytesField(b, 3, c.PSK)
	b = appendBoolField(b, 4, c.UplinkEnabled)
	b = appendBoolField(b, 5, c.DownlinkEnabled)
	b = appendVarintField(b, 6, uint64(c.PositionPrecision))
	b = appendStringField(b, 7, c.Name)
	return b
}

func (m *MetricValue) Marshal() []byte {
	var b []byte
	b = appendStringField(b, 1, m.Name)
	b = appendFixed64Field(b, 2, float64bits(m.Value))
	b = appendStringField(b, 3, m.Unit)
	return b
}

// Marshal encodes a Telemetry payload.
func (t *Telemetry) Marshal() []byte {
	var b []byte
	b = appendVarintField(b, 1, uint64(t.Time))
	b = appendVarintField(b, 2, uint64(t.Kind))
	for i := range t.Metrics {
		b = appendMessageField(b, 3, t.Metrics[i].Marshal())
	}
	return b
}

// Marshal encodes a Routing payload.
func (r *Routing) Marshal() []byte {
	var b []byte
	b = appendVarintField(b, 1, uint64(r.ErrorReason))
	return b
}

// Marshal encodes a RouteDiscovery payload.
func (r *RouteDiscovery) Marshal() []byte {
	var b []byte
	for _, n := range r.Route {
		b = appendVarintField(b, 1, uint64(n))
	}
	for _, s := range r.SNRTowards {
		b = appendSintField(b, 2, s)
	}
	for _, n := range r.RouteBack {
		b = appendVarintField(b, 3, uint64(n))
	}
	for _, s := range r.SNRBack {
		b = appendSintField(b, 4, s)
	}
	return b
}

func (n *Neighbor) Marshal() []byte {
	var b []byte
	b = appendVarintField(b, 1, uint64(n.NodeID))
	b = appendSintField(b, 2, n.SNR)
	return b
}

// Marshal encodes a NeighborInfo payload.
func (n *NeighborInfo) Marshal() []byte {
	var b []byte
	b = appendVarintField(b, 1, uint64(n.NodeID))
	for i := range n.Neighbors {
		b = appendMessageField(b, 2, n.Neighbors[i].Marshal())
	}
	b = appendVarintField(b, 3, uint64(n.LastSentByID))
	b = appendVarintField(b, 4, uint64(n.NodeBroadcastIntervalSecs))
	return b
}

// Marshal encodes an AdminMessage according to its Which variant.
func (a *AdminMessage) Marshal() []byte {
	var b []byte
	b = appendBytesField(b, 1, a.SessionPasskey)
	switch a.Which {
	case AdminGetChannelRequest:
		b = appendVarintField(b, 2, uint64(a.GetChannelRequestIndex))
	case AdminGetChannelResponse:
		if a.GetChannelResponse != nil {
			b = appendMessageField(b, 3, a.GetChannelResponse.Marshal())
		}
	case AdminGetOwnerRequest:
		b = appendBoolField(b, 4, true)
	case AdminGetOwnerResponse:
		if a.GetOwnerResponse != nil {
			b = appendMessageField(b, 5, a.GetOwnerResponse.Marshal())
		}
	case AdminSetOwner:
		if a.SetOwner != nil {
			b = appendMessageField(b, 6, a.SetOwner.Marshal())
		}
	case AdminGetDeviceMetadataRequest:
		b = appendBoolField(b, 7, true)
	case AdminGetDeviceMetadataResponse:
		if a.GetDeviceMetadataResponse != nil {
			b = appendMessageField(b, 8, a.GetDeviceMetadataResponse.Marshal())
		}
	case AdminSetFavoriteNode:
		b = appendVarintField(b, 9, uint64(a.SetFavoriteNode))
	case AdminSetIgnoredNode:
		b = appendVarintField(b, 10, uint64(a.SetIgnoredNode))
	case AdminRemoveByNodenum:
		b = appendVarintField(b, 11, uint64(a.RemoveByNodenum))
	case AdminSetTimeOnly:
		b = appendVarintField(b, 12, uint64(a.SetTimeOnly))
	case AdminGetConfigRequest:
		b = appendVarintField(b, 13, 1)
	case AdminGetConfigResponse:
		b = appendBytesField(b, 14, a.GetConfigResponse)
	case AdminGetModuleConfigRequest:
		b = appendVarintField(b, 15, 1)
	case AdminGetModuleConfigResponse:
		b = appendBytesField(b, 16, a.GetModuleConfigResponse)
	}
	return b
}

func float32bits(f float32) uint32 {
	return math.Float32bits(f)
}

func float64bits(f float64) uint64 {
	return math.Float64bits(f)
}
