package meshwire

import "math"

// UnmarshalData decodes a Data payload.
func UnmarshalData(b []byte) (*Data, error) {
	fields, err := parseFields(b)
	if err != nil {
		return nil, err
	}
	d := &Data{}
	for _, f := range fields {
		switch f.num {
		case 1:
			d.Portnum = PortNum(f.varint)
		case 2:
			d.Payload = f.bytes
		case 3:
			d.RequestID = uint32(f.varint)
		case 4:
			d.ReplyID = uint32(f.varint)
		case 5:
			d.Emoji = f.varint != 0
		case 6:
			d.WantReponse = f.varint != 0
		}
	}
	return d, nil
}

// UnmarshalMeshPacket decodes a MeshPacket, normalizing every zero-default
// field the application consumes (§4.2).
func UnmarshalMeshPacket(b []byte) (*MeshPacket, error) {
	fields, err := parseFields(b)
	if err != nil {
		return nil, err
	}
	p := &MeshPacket{}
	for _, f := range fields {
		switch f.num {
		case 1:
			p.ID = uint32(f.varint)
		case 2:
			p.From = uint32(f.varint)
		case 3:
			p.To = uint32(f.varint)
		case 4:
			p.Channel = uint32(f.varint)
		case 5:
			p.HopStart = uint32(f.varint)
		case 6:
			p.HopLimit = uint32(f.varint)
		case 7:
			p.WantAck = f.varint != 0
		case 8:
			p.Priority = uint32(f.varint)
		case 9:
			p.RxTime = uint32(f.varint)
		case 10:
			p.RxSNR = math.Float32frombits(f.fixed32)
		case 11:
			p.RxRSSI = f.sint32()
		case 12:
			data, err := UnmarshalData(f.bytes)
			if err != nil {
				return nil, err
			}
			p.Decoded = data
		case 13:
			p.Encrypted = f.bytes
		case 14:
			p.Transport = TransportMechanism(f.varint)
		}
	}
	return p, nil
}

// UnmarshalMyNodeInfo decodes a MyNodeInfo.
func UnmarshalMyNodeInfo(b []byte) (*MyNodeInfo, error) {
	fields, err := parseFields(b)
	if err != nil {
		return nil, err
	}
	m := &MyNodeInfo{}
	for _, f := range fields {
		switch f.num {
		case 1:
			m.MyNodeNum = uint32(f.varint)
		case 2:
			m.RebootCount = uint32(f.varint)
		case 3:
			m.MinAppVersion = uint32(f.varint)
		}
	}
	return m, nil
}

// UnmarshalUser decodes a User.
func UnmarshalUser(b []byte) (*User, error) {
	fields, err := parseFields(b)
	if err != nil {
		return nil, err
	}
	u := &User{}
	for _, f := range fields {
		switch f.num {
		case 1:
			u.ID = f.string()
		case 2:
			u.LongName = f.string()
		case 3:
			u.ShortName = f.string()
		case 4:
			u.HwModel = uint32(f.varint)
		case 5:
			u.Role = uint32(f.varint)
		case 6:
			u.PublicKey = f.bytes
		}
	}
	return u, nil
}

// UnmarshalPosition decodes a Position.
func UnmarshalPosition(b []byte) (*Position, error) {
	fields, err := parseFields(b)
	if err != nil {
		return nil, err
	}
	p := &Position{}
	for _, f := range fields {
		switch f.num {
		case 1:
			p.LatitudeI = f.sint32()
		case 2:
			p.LongitudeI = f.sint32()
		case 3:
			p.Altitude = f.sint32()
		case 4:
			p.Time = uint32(f.varint)
		case 5:
			p.PrecisionBits = uint32(f.varint)
		}
	}
	return p, nil
}

// UnmarshalNodeInfo decodes a NodeInfo.
func UnmarshalNodeInfo(b []byte) (*NodeInfo, error) {
	fields, err := parseFields(b)
	if err != nil {
		return nil, err
	}
	n := &NodeInfo{}
	for _, f := range fields {
		switch f.num {
		case 1:
			n.Num = uint32(f.varint)
		case 2:
			u, err := UnmarshalUser(f.bytes)
			if err != nil {
				return nil, err
			}
			n.User = u
		case 3:
			pos, err := UnmarshalPosition(f.bytes)
			if err != nil {
				return nil, err
			}
			n.Position = pos
		case 4:
			n.LastHeard = uint32(f.varint)
		case 5:
			n.SNR = math.Float32frombits(f.fixed32)
		case 6:
			n.HopsAway = uint32(f.varint)
		}
	}
	return n, nil
}

// UnmarshalDeviceMetadata decodes a DeviceMetadata.
func UnmarshalDeviceMetadata(b []byte) (*DeviceMetadata, error) {
	fields, err := parseFields(b)
	if err != nil {
		return nil, err
	}
	m := &DeviceMetadata{}
	for _, f := range fields {
		switch f.num {
		case 1:
			m.FirmwareVersion = f.string()
		case 2:
			m.DeviceStateVersion = uint32(f.varint)
		case 3:
			m.CanShutdown = f.varint != 0
		case 4:
			m.HasWifi = f.varint != 0
		case 5:
			m.HasBluetooth = f.varint != 0
		case 6:
			m.HwModel = uint32(f.varint)
		}
	}
	return m, nil
}

// UnmarshalChannel decodes a Channel.
func UnmarshalChannel(b []byte) (*Channel, error) {
	fields, err := parseFields(b)
	if err != nil {
		return nil, err
	}
	c := &Channel{}
	for _, f := range fields {
		switch f.num {
		case 1:
			c.Index = uint32(f.varint)
		case 2:
			c.Role = ChannelRole(f.varint)
		case 3:
			c.PSK = f.bytes
		case 4:
			c.UplinkEnabled = f.varint != 0
		case 5:
			c.DownlinkEnabled = f.varint != 0
		case 6:
			c.PositionPrecision = uint32(f.varint)
		case 7:
			c.Name = f.string()
		}
	}
	return c, nil
}

func unmarshalMetricValue(b []byte) (MetricValue, error) {
	fields, err := parseFields(b)
	if err != nil {
		return MetricValue{}, err
	}
	var m MetricValue
	for _, f := range fields {
		switch f.num {
		case 1:
			m.Name = f.string()
		case 2:
			m.Value = math.Float64frombits(f.fixed64)
		case 3:
			m.Unit = f.string()
		}
	}
	return m, nil
}

// UnmarshalTelemetry decodes a Telemetry payload.
func UnmarshalTelemetry(b []byte) (*Telemetry, error) {
	fields, err := parseFields(b)
	if err != nil {
		return nil, err
	}
	t := &Telemetry{}
	for _, f := range fields {
		switch f.num {
		case 1:
			t.Time = uint32(f.varint)
		case 2:
			t.Kind = TelemetryKind(f.varint)
		case 3:
			m, err := unmarshalMetricValue(f.bytes)
			if err != nil {
				return nil, err
			}
			t.Metrics = append(t.Metrics, m)
		}
	}
	return t, nil
}

// UnmarshalRouting decodes a Routing payload.
func UnmarshalRouting(b []byte) (*Routing, error) {
	fields, err := parseFields(b)
	if err != nil {
		return nil, err
	}
	r := &Routing{}
	for _, f := range fields {
		if f.num == 1 {
			r.ErrorReason = RoutingErrorReason(f.varint)
		}
	}
	return r, nil
}

// UnmarshalRouteDiscovery decodes a traceroute response payload.
func UnmarshalRouteDiscovery(b []byte) (*RouteDiscovery, error) {
	fields, err := parseFields(b)
	if err != nil {
		return nil, err
	}
	r := &RouteDiscovery{}
	for _, f := range fields {
		switch f.num {
		case 1:
			r.Route = append(r.Route, uint32(f.varint))
		case 2:
			r.SNRTowards = append(r.SNRTowards, f.sint32())
		case 3:
			r.RouteBack = append(r.RouteBack, uint32(f.varint))
		case 4:
			r.SNRBack = append(r.SNRBack, f.sint32())
		}
	}
	return r, nil
}

func unmarshalNeighbor(b []byte) (Neighbor, error) {
	fields, err := parseFields(b)
	if err != nil {
		return Neighbor{}, err
	}
	var n Neighbor
	for _, f := range fields {
		switch f.num {
		case 1:
			n.NodeID = uint32(f.varint)
		case 2:
			n.SNR = f.sint32()
		}
	}
	return n, nil
}

// UnmarshalNeighborInfo decodes a neighbor-info payload.
func UnmarshalNeighborInfo(b []byte) (*NeighborInfo, error) {
	fields, err := parseFields(b)
	if err != nil {
		return nil, err
	}
	n := &NeighborInfo{}
	for _, f := range fields {
		switch f.num {
		case 1:
			n.NodeID = uint32(f.varint)
		case 2:
			nb, err := unmarshalNeighbor(f.bytes)
			if err != nil {
				return nil, err
			}
			n.Neighbors = append(n.Neighbors, nb)
		case 3:
			n.LastSentByID = uint32(f.varint)
		case 4:
			n.NodeBroadcastIntervalSecs = uint32(f.varint)
		}
	}
	return n, nil
}

// UnmarshalAdminMessage decodes an admin payload and determines its Which
// variant from whichever request/response field is present.
func UnmarshalAdminMessage(b []byte) (*AdminMessage, error) {
	fields, err := parseFields(b)
	if err != nil {
		return nil, err
	}
	a := &AdminMessage{}
	for _, f := range fields {
		switch f.num {
		case 1:
			a.SessionPasskey = f.bytes
		case 2:
			a.Which = AdminGetChannelRequest
			a.GetChannelRequestIndex = uint32(f.varint)
		case 3:
			ch, err := UnmarshalChannel(f.bytes)
			if err != nil {
				return nil, err
			}
			a.Which = AdminGetChannelResponse
			a.GetChannelResponse = ch
		case 4:
			a.Which = AdminGetOwnerRequest
		case 5:
			u, err := UnmarshalUser(f.bytes)
			if err != nil {
				return nil, err
			}
			a.Which = AdminGetOwnerResponse
			a.GetOwnerResponse = u
		case 6:
			u, err := UnmarshalUser(f.bytes)
			if err != nil {
				return nil, err
			}
			a.Which = AdminSetOwner
			a.SetOwner = u
		case 7:
			a.Which = AdminGetDeviceMetadataRequest
		case 8:
			m, err := UnmarshalDeviceMetadata(f.bytes)
			if err != nil {
				return nil, err
			}
			a.Which = AdminGetDeviceMetadataResponse
			a.GetDeviceMetadataResponse = m
		case 9:
			a.Which = AdminSetFavoriteNode
			a.SetFavoriteNode = uint32(f.varint)
		case 10:
			a.Which = AdminSetIgnoredNode
			a.SetIgnoredNode = uint32(f.varint)
		case 11:
			a.Which = AdminRemoveByNodenum
			a.RemoveByNodenum = uint32(f.varint)
		case 12:
			a.Which = AdminSetTimeOnly
			a.SetTimeOnly = uint32(f.varint)
		case 13:
			a.Which = AdminGetConfigRequest
		case 14:
			a.Which = AdminGetConfigResponse
			a.GetConfigResponse = f.bytes
		case 15:
			a.Which = AdminGetModuleConfigRequest
		case 16:
			a.Which = AdminGetModuleConfigResponse
			a.GetModuleConfigResponse = f.bytes
		}
	}
	return a, nil
}
