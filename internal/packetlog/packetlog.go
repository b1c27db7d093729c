// Package packetlog implements the filtered trace ring described in
// spec.md §4.3: every packet the engine observes is recorded here except
// local-node admin/routing traffic and phantom internal-transport echoes,
// so an operator inspecting the log only ever sees real mesh activity.
package packetlog

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dpaschal/meshcore-gateway/internal/meshwire"
)

// Direction is which way a packet crossed the log boundary.
type Direction uint8

const (
	DirectionRX Direction = iota
	DirectionTX
)

func (d Direction) String() string {
	if d == DirectionTX {
		return "tx"
	}
	return "rx"
}

// Entry is one recorded trace-ring row.
type Entry struct {
	Seq       uint64
	Direction Direction
	Port      meshwire.PortNum
	PortName  string
	Encrypted bool
	Preview   string
	Meta      map[string]any
}

// Ring is a bounded trace of the most recently recorded packets, kept for
// diagnostics (§4.3); Recent lists it oldest first. It is
// backed by an LRU cache keyed on a monotonic sequence number purely to
// get bounded memory with O(1) eviction; nothing is ever looked up by
// key, only iterated, so a plain ring buffer would work equally well —
// the LRU cache is used here because spec.md's §9 bounded-history
// components (this one and the position estimator) share the same
// dependency.
type Ring struct {
	cache *lru.Cache[uint64, Entry]
	seq   uint64
}

// NewRing builds a trace ring holding at most capacity entries.
func NewRing(capacity int) *Ring {
	c, err := lru.New[uint64, Entry](capacity)
	if err != nil {
		// Only returned by lru.New for size<=0; callers pass a constant.
		panic(err)
	}
	return &Ring{cache: c}
}

// ShouldRecord implements the §4.3 exclusion rules: drop local-node
// admin/routing traffic, and drop phantom frames that originate from the
// local node over the INTERNAL transport at hop-start zero.
func ShouldRecord(pkt *meshwire.MeshPacket, localNode uint32) bool {
	if pkt == nil {
		return false
	}
	if pkt.Decoded != nil {
		switch pkt.Decoded.Portnum {
		case meshwire.PortAdmin, meshwire.PortRouting:
			if pkt.From == localNode || pkt.To == localNode {
				return false
			}
		}
	}
	if pkt.From == localNode && pkt.Transport == meshwire.TransportInternal && pkt.HopStart == 0 {
		return false
	}
	return true
}

// Record appends an entry for pkt if ShouldRecord allows it, synthesizing
// a human preview and a metadata blob from the decoded payload.
func (r *Ring) Record(pkt *meshwire.MeshPacket, dir Direction, localNode uint32) {
	if !ShouldRecord(pkt, localNode) {
		return
	}
	r.seq++
	entry := Entry{
		Seq:       r.seq,
		Direction: dir,
		Encrypted: pkt.IsEncrypted(),
		Meta: map[string]any{
			"from":      pkt.From,
			"to":        pkt.To,
			"channel":   pkt.Channel,
			"hopStart":  pkt.HopStart,
			"hopLimit":  pkt.HopLimit,
			"rxSnr":     pkt.RxSNR,
			"rxRssi":    pkt.RxRSSI,
			"transport": pkt.Transport,
		},
	}
	if pkt.Decoded != nil {
		entry.Port = pkt.Decoded.Portnum
		entry.PortName = pkt.Decoded.Portnum.String()
		entry.Preview = preview(pkt.Decoded)
	} else {
		entry.PortName = "ENCRYPTED"
		entry.Preview = "<encrypted>"
	}
	r.cache.Add(entry.Seq, entry)
}

// Recent returns up to n most-recently recorded entries, oldest first.
func (r *Ring) Recent(n int) []Entry {
	keys := r.cache.Keys()
	if n > 0 && n < len(keys) {
		keys = keys[len(keys)-n:]
	}
	out := make([]Entry, 0, len(keys))
	for _, k := range keys {
		if e, ok := r.cache.Peek(k); ok {
			out = append(out, e)
		}
	}
	return out
}

func preview(d *meshwire.Data) string {
	switch d.Portnum {
	case meshwire.PortTextMessage:
		s := string(d.Payload)
		if len(s) > 64 {
			s = s[:64] + "…"
		}
		return s
	case meshwire.PortPosition:
		return "position update"
	case meshwire.PortNodeInfo:
		return "node info"
	case meshwire.PortTelemetry:
		return "telemetry"
	case meshwire.PortRouting:
		return "routing ack/nak"
	case meshwire.PortAdmin:
		return "admin"
	case meshwire.PortTraceroute:
		return "traceroute"
	case meshwire.PortNeighborInfo:
		return "neighbor info"
	default:
		return d.Portnum.String()
	}
}
