package engine

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/dpaschal/meshcore-gateway/internal/meshwire"
	"github.com/dpaschal/meshcore-gateway/internal/model"
	"github.com/dpaschal/meshcore-gateway/internal/store/sqlite"
)

const localNode uint32 = 0xAAAA0001

type fakeEvents struct{ events []Event }

func (f *fakeEvents) Publish(e Event) { f.events = append(f.events, e) }

type fakeDelivery struct {
	acks []uint32
	naks []uint32
}

func (f *fakeDelivery) OnAck(_ context.Context, requestID, _ uint32, _ bool, _ int64) error {
	f.acks = append(f.acks, requestID)
	return nil
}

func (f *fakeDelivery) OnNak(_ context.Context, requestID, _ uint32, _ bool, _ meshwire.RoutingErrorReason, _ int64) error {
	f.naks = append(f.naks, requestID)
	return nil
}

type fakeLinkQual struct {
	pkiPenalized []uint32
}

func (f *fakeLinkQual) OnHopObservation(uint32, uint32)    {}
func (f *fakeLinkQual) OnTracerouteTimeout(uint32)         {}
func (f *fakeLinkQual) OnPKIError(node uint32)             { f.pkiPenalized = append(f.pkiPenalized, node) }

func newTestEngine(t *testing.T) (*Engine, *fakeEvents) {
	t.Helper()
	s, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	ev := &fakeEvents{}
	clock := clockwork.NewFakeClockAt(time.Unix(1_000_000, 0))
	return &Engine{
		Store:     s,
		Clock:     clock,
		LocalNode: localNode,
		Events:    ev,
		LinkQual:  &fakeLinkQual{},
	}, ev
}

func textPacket(from, to uint32, text string) *meshwire.MeshPacket {
	return &meshwire.MeshPacket{
		ID:     1,
		From:   from,
		To:     to,
		RxTime: 1_000_000,
		Decoded: &meshwire.Data{
			Portnum: meshwire.PortTextMessage,
			Payload: []byte(text),
		},
	}
}

func TestEngine_TextMessage_PersistsAndPublishes(t *testing.T) {
	ctx := context.Background()
	e, ev := newTestEngine(t)

	pkt := textPacket(1, meshwire.NodeNumBroadcast32, "hello")
	require.NoError(t, e.Dispatch(ctx, pkt))

	require.Len(t, ev.events, 1)
	require.Equal(t, EventTextMessage, ev.events[0].Kind)

	n, ok, err := e.Store.GetNode(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(1_000_000), n.LastHeard)
}

func TestEngine_TextMessage_DedupesRedelivery(t *testing.T) {
	ctx := context.Background()
	e, ev := newTestEngine(t)

	pkt := textPacket(1, meshwire.NodeNumBroadcast32, "hello")
	require.NoError(t, e.Dispatch(ctx, pkt))
	require.NoError(t, e.Dispatch(ctx, pkt))

	require.Len(t, ev.events, 1, "redelivery of the same (source, packet-id) must not re-publish")
}

func TestEngine_TextMessage_DirectVsChannel(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)

	dm := textPacket(1, localNode, "hi")
	require.NoError(t, e.Dispatch(ctx, dm))
	require.Equal(t, model.DirectMessageChannel, e.messageChannel(dm))

	bcast := textPacket(2, meshwire.NodeNumBroadcast32, "hi all")
	bcast.Channel = 3
	require.NoError(t, e.Dispatch(ctx, bcast))
	require.Equal(t, int32(3), e.messageChannel(bcast))
}

func TestEngine_Position_RejectsOutOfRangeCoordinates(t *testing.T) {
	ctx := context.Background()
	e, ev := newTestEngine(t)

	pos := &meshwire.Position{LatitudeI: 950_000_000, LongitudeI: 0, PrecisionBits: 10}
	pkt := &meshwire.MeshPacket{From: 5, RxTime: 1_000_000, Decoded: &meshwire.Data{Portnum: meshwire.PortPosition, Payload: pos.Marshal()}}
	require.NoError(t, e.Dispatch(ctx, pkt))

	n, ok, err := e.Store.GetNode(ctx, 5)
	require.NoError(t, err)
	require.True(t, ok)
	require.Zero(t, n.PositionTime, "out-of-range position must not update the node")

	found := false
	for _, ev := range ev.events {
		if ev.Kind == EventPosition {
			found = true
		}
	}
	require.False(t, found)
}

func TestEngine_Position_PrecisionUpgradePolicy(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)

	low := &meshwire.Position{LatitudeI: 10_000_000, LongitudeI: 20_000_000, PrecisionBits: 10}
	pkt := &meshwire.MeshPacket{From: 6, RxTime: 1_000_000, Decoded: &meshwire.Data{Portnum: meshwire.PortPosition, Payload: low.Marshal()}}
	require.NoError(t, e.Dispatch(ctx, pkt))

	worse := &meshwire.Position{LatitudeI: 99_000_000 / 10, LongitudeI: 99_000_000 / 10, PrecisionBits: 5}
	pkt2 := &meshwire.MeshPacket{From: 6, RxTime: 1_000_000, Decoded: &meshwire.Data{Portnum: meshwire.PortPosition, Payload: worse.Marshal()}}
	require.NoError(t, e.Dispatch(ctx, pkt2))

	n, _, err := e.Store.GetNode(ctx, 6)
	require.NoError(t, err)
	require.InDelta(t, low.Lat(), n.Latitude, 0.0001, "lower precision must not replace a fresher, higher-precision fix")
}

func TestEngine_NodeInfo_ResolvesKeyMismatch(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)

	n := model.NewPlaceholderNode(7, 1)
	n.PublicKey = []byte("old-key")
	n.KeyMismatchDetected = true
	require.NoError(t, e.Store.UpsertNode(ctx, n))

	user := &meshwire.User{LongName: "Node Seven", ShortName: "N7", PublicKey: []byte("new-key")}
	pkt := &meshwire.MeshPacket{From: 7, Decoded: &meshwire.Data{Portnum: meshwire.PortNodeInfo, Payload: user.Marshal()}}
	require.NoError(t, e.Dispatch(ctx, pkt))

	got, _, err := e.Store.GetNode(ctx, 7)
	require.NoError(t, err)
	require.False(t, got.KeyMismatchDetected)
	require.Equal(t, "Node Seven", got.LongName)
}

func TestEngine_Routing_SelfAckDelegatesToDeliveryTracker(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)
	fd := &fakeDelivery{}
	e.Delivery = fd

	routing := &meshwire.Routing{ErrorReason: meshwire.RoutingSuccess}
	pkt := &meshwire.MeshPacket{From: localNode, Decoded: &meshwire.Data{Portnum: meshwire.PortRouting, RequestID: 42, Payload: routing.Marshal()}}
	require.NoError(t, e.Dispatch(ctx, pkt))

	require.Equal(t, []uint32{42}, fd.acks)
}

func TestEngine_Routing_PKIErrorFromLocalPenalizesRecipient(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)
	fd := &fakeDelivery{}
	fl := &fakeLinkQual{}
	e.Delivery, e.LinkQual = fd, fl

	routing := &meshwire.Routing{ErrorReason: meshwire.RoutingPkiFailed}
	pkt := &meshwire.MeshPacket{From: localNode, To: 99, Decoded: &meshwire.Data{Portnum: meshwire.PortRouting, RequestID: 7, Payload: routing.Marshal()}}
	require.NoError(t, e.Dispatch(ctx, pkt))

	n, ok, err := e.Store.GetNode(ctx, 99)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, n.KeyMismatchDetected)
	require.Equal(t, []uint32{99}, fl.pkiPenalized)
	require.Equal(t, []uint32{7}, fd.naks)
}

func TestEngine_Traceroute_FiltersReservedNodesAndPersists(t *testing.T) {
	ctx := context.Background()
	e, ev := newTestEngine(t)

	rd := &meshwire.RouteDiscovery{
		Route:      []uint32{0, 10, 65535},
		SNRTowards: []int32{1, 2, 3, 4},
	}
	pkt := &meshwire.MeshPacket{From: 1, To: 2, Decoded: &meshwire.Data{Portnum: meshwire.PortTraceroute, Payload: rd.Marshal()}}
	require.NoError(t, e.Dispatch(ctx, pkt))

	found := false
	for _, got := range ev.events {
		if got.Kind == EventTraceroute {
			found = true
			tr := got.Payload.(model.Traceroute)
			require.Equal(t, []uint32{10}, tr.Route)
		}
	}
	require.True(t, found)
}

func TestEngine_NeighborInfo_CreatesStubsWithIncrementedHops(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)

	reporter := model.NewPlaceholderNode(1, 1)
	reporter.HopsAway = 2
	require.NoError(t, e.Store.UpsertNode(ctx, reporter))

	ni := &meshwire.NeighborInfo{NodeID: 1, Neighbors: []meshwire.Neighbor{{NodeID: 55, SNR: 10}}}
	pkt := &meshwire.MeshPacket{From: 1, HopStart: 3, HopLimit: 1, Decoded: &meshwire.Data{Portnum: meshwire.PortNeighborInfo, Payload: ni.Marshal()}}
	require.NoError(t, e.Dispatch(ctx, pkt))

	stub, ok, err := e.Store.GetNode(ctx, 55)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint32(3), stub.HopsAway)
}
