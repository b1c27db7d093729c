package model

// Neighbor is one entry in a node's neighbor set (§4.5 NeighborInfo).
type Neighbor struct {
	NodeID uint32
	SNR    int32
}

// NodeSnapshot freezes a node's known position at traceroute-response
// time, so historical renders survive later node motion (§4.5).
type NodeSnapshot struct {
	Node      uint32
	Latitude  float64
	Longitude float64
	HasFix    bool
}

// Traceroute is a persisted traceroute result (§4.5, §4.11).
type Traceroute struct {
	FromNode  uint32
	ToNode    uint32
	Route     []uint32
	SNRTowards []int32
	RouteBack []uint32
	SNRBack   []int32
	Snapshots []NodeSnapshot
	CreatedAt int64
}

// RouteSegment is one hop-to-hop distance computed from a traceroute path
// (§4.5, §4.10), used to drive the position estimator.
type RouteSegment struct {
	TracerouteID int64
	FromNode     uint32
	ToNode       uint32
	DistanceM    float64
	SNR          int32
}
