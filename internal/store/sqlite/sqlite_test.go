package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dpaschal/meshcore-gateway/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	return s
}

func TestStore_UpsertAndGetNode(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	n := model.NewPlaceholderNode(0x1234, 100)
	require.NoError(t, s.UpsertNode(ctx, n))

	got, ok, err := s.GetNode(ctx, 0x1234)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, n.LongName, got.LongName)
	require.Equal(t, int64(100), got.LastHeard)

	n.ApplyName("Real Name", "RL")
	n.CapLastHeard(200, 1000)
	require.NoError(t, s.UpsertNode(ctx, n))

	got, ok, err = s.GetNode(ctx, 0x1234)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "Real Name", got.LongName)
	require.Equal(t, int64(200), got.LastHeard)
}

func TestStore_GetNode_NotFound(t *testing.T) {
	s := openTestStore(t)
	_, ok, err := s.GetNode(context.Background(), 0xffff)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStore_InsertMessage_DedupesByKey(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	m := &model.Message{SourceNode: 1, PacketID: 42, Text: "hi", Channel: 0}
	inserted, err := s.InsertMessage(ctx, m)
	require.NoError(t, err)
	require.True(t, inserted)

	dup := &model.Message{SourceNode: 1, PacketID: 42, Text: "hi again"}
	inserted, err = s.InsertMessage(ctx, dup)
	require.NoError(t, err)
	require.False(t, inserted)
}

func TestStore_MessageDeliveryStateLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	m := &model.Message{SourceNode: 5, PacketID: 7, Text: "ping", WantAck: true}
	_, err := s.InsertMessage(ctx, m)
	require.NoError(t, err)

	key := m.Key()
	require.NoError(t, s.UpdateMessageDeliveryState(ctx, key, model.DeliveryDelivered))
	require.NoError(t, s.UpdateMessageDeliveryState(ctx, key, model.DeliveryConfirmed))
}

func TestStore_TelemetryLatestForType(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.InsertTelemetry(ctx, model.TelemetryPoint{Node: 9, Type: model.TelemetryTypeSNR, Timestamp: 100, Value: 4.5}))
	require.NoError(t, s.InsertTelemetry(ctx, model.TelemetryPoint{Node: 9, Type: model.TelemetryTypeSNR, Timestamp: 200, Value: 5.5}))

	p, ok, err := s.ListLatestTelemetryForType(ctx, 9, model.TelemetryTypeSNR)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 5.5, p.Value)
	require.Equal(t, int64(200), p.Timestamp)
}

func TestStore_ChannelRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	c := &model.Channel{Index: 0, Name: "Primary", UplinkEnabled: true}
	require.NoError(t, s.UpsertChannel(ctx, c))

	got, ok, err := s.GetChannel(ctx, 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "Primary", got.Name)
	require.True(t, got.UplinkEnabled)
}

func TestStore_SettingRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, ok, err := s.GetSetting(ctx, "announce_interval")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.SetSetting(ctx, "announce_interval", "3600"))
	v, ok, err := s.GetSetting(ctx, "announce_interval")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "3600", v)
}

func TestStore_MarkWelcomedIfNotAlready_OnlyOneWinner(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	n := model.NewPlaceholderNode(77, 1)
	require.NoError(t, s.UpsertNode(ctx, n))

	first, err := s.MarkWelcomedIfNotAlready(ctx, 77, 500)
	require.NoError(t, err)
	require.True(t, first)

	second, err := s.MarkWelcomedIfNotAlready(ctx, 77, 999)
	require.NoError(t, err)
	require.False(t, second)

	got, _, err := s.GetNode(ctx, 77)
	require.NoError(t, err)
	require.Equal(t, int64(500), got.WelcomedAt)
}

func TestStore_NeighborInfoReplacesPriorSet(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.SaveNeighborInfo(ctx, 1, []model.Neighbor{{NodeID: 2, SNR: 10}, {NodeID: 3, SNR: 20}}))
	require.NoError(t, s.SaveNeighborInfo(ctx, 1, []model.Neighbor{{NodeID: 4, SNR: 30}}))
	require.NoError(t, s.ClearNeighborInfo(ctx, 1))
}

func TestStore_TracerouteAndRouteSegments(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	tr := model.Traceroute{
		FromNode:   1,
		ToNode:     2,
		Route:      []uint32{10, 20},
		SNRTowards: []int32{5, 6, 7},
		CreatedAt:  42,
	}
	id, err := s.InsertTraceroute(ctx, tr)
	require.NoError(t, err)
	require.NotZero(t, id)

	require.NoError(t, s.InsertRouteSegment(ctx, model.RouteSegment{
		TracerouteID: id,
		FromNode:     1,
		ToNode:       10,
		DistanceM:    123.4,
		SNR:          5,
	}))

	require.NoError(t, s.RecordAutoTraceroute(ctx, 1, 42))
}
