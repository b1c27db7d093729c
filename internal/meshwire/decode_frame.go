package meshwire

// DecodeFromRadio decodes one FromRadio frame body into a tagged Variant.
// It is a pure function over bytes: no I/O, no state (§4.2).
func DecodeFromRadio(raw []byte) (*Variant, error) {
	fields, err := parseFields(raw)
	if err != nil {
		return nil, err
	}
	v := &Variant{Kind: KindUnknown, Raw: raw}
	for _, f := range fields {
		switch f.num {
		case 1:
			pkt, err := UnmarshalMeshPacket(f.bytes)
			if err != nil {
				return nil, err
			}
			v.Kind = KindMeshPacket
			v.MeshPacket = pkt
		case 2:
			m, err := UnmarshalMyNodeInfo(f.bytes)
			if err != nil {
				return nil, err
			}
			v.Kind = KindMyInfo
			v.MyInfo = m
		case 3:
			n, err := UnmarshalNodeInfo(f.bytes)
			if err != nil {
				return nil, err
			}
			v.Kind = KindNodeInfo
			v.NodeInfo = n
		case 4:
			m, err := UnmarshalDeviceMetadata(f.bytes)
			if err != nil {
				return nil, err
			}
			v.Kind = KindMetadata
			v.Metadata = m
		case 5:
			v.Kind = KindConfig
			v.Config = f.bytes
		case 6:
			v.Kind = KindModuleConfig
			v.ModuleConfig = f.bytes
		case 7:
			ch, err := UnmarshalChannel(f.bytes)
			if err != nil {
				return nil, err
			}
			v.Kind = KindChannel
			v.Channel = ch
		case 8:
			v.Kind = KindConfigComplete
			v.ConfigComplete = uint32(f.varint)
		}
	}
	return v, nil
}

// EncodeFromRadioMeshPacket wraps a MeshPacket as a FromRadio frame body,
// used by the virtual-node hub's test fixtures and the emulated-radio
// style of tests that feed synthetic frames through the decoder.
func EncodeFromRadioMeshPacket(p *MeshPacket) []byte {
	var b []byte
	b = appendMessageField(b, 1, p.Marshal())
	return b
}

// EncodeFromRadioConfigComplete wraps the configComplete sentinel.
func EncodeFromRadioConfigComplete(id uint32) []byte {
	var b []byte
	b = appendVarintField(b, 8, uint64(id))
	return b
}
