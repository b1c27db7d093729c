package estimator

import (
	"context"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/dpaschal/meshcore-gateway/internal/model"
)

type fakeStore struct {
	nodes  map[uint32]*model.Node
	points []model.TelemetryPoint
}

func newFakeStore() *fakeStore {
	return &fakeStore{nodes: map[uint32]*model.Node{}}
}

func (f *fakeStore) GetNode(_ context.Context, num uint32) (*model.Node, bool, error) {
	n, ok := f.nodes[num]
	return n, ok, nil
}

func (f *fakeStore) InsertTelemetry(_ context.Context, p model.TelemetryPoint) error {
	f.points = append(f.points, p)
	return nil
}

func (f *fakeStore) withFix(num uint32, lat, lon float64) {
	f.nodes[num] = &model.Node{Num: num, Latitude: lat, Longitude: lon, PositionTime: 1}
}

// Equal-SNR midpoint: node 2 sits between two fixed neighbors with equal
// SNR on both segments, so its estimate should land at their midpoint.
func TestEstimateMidpoint(t *testing.T) {
	st := newFakeStore()
	st.withFix(1, 10.0, 20.0)
	st.withFix(3, 12.0, 22.0)

	est := New(st, clockwork.NewFakeClock(), 64)
	tr := model.Traceroute{
		FromNode:   1,
		ToNode:     3,
		Route:      []uint32{2},
		SNRTowards: []int32{0, 0},
	}
	require.NoError(t, est.EstimateFromTraceroute(context.Background(), tr))
	require.Len(t, st.points, 2)

	var lat, lon float64
	for _, p := range st.points {
		switch p.Type {
		case model.TelemetryTypeEstimatedLatitude:
			lat = p.Value
		case model.TelemetryTypeEstimatedLongitude:
			lon = p.Value
		}
	}
	require.InDelta(t, 11.0, lat, 1e-9)
	require.InDelta(t, 21.0, lon, 1e-9)
}

// Nodes with their own recorded fix are never estimated.
func TestEstimateSkipsNodesWithFix(t *testing.T) {
	st := newFakeStore()
	st.withFix(1, 0, 0)
	st.withFix(2, 5, 5)
	st.withFix(3, 10, 10)

	est := New(st, clockwork.NewFakeClock(), 64)
	tr := model.Traceroute{FromNode: 1, ToNode: 3, Route: []uint32{2}, SNRTowards: []int32{0, 0}}
	require.NoError(t, est.EstimateFromTraceroute(context.Background(), tr))
	require.Empty(t, st.points)
}

// A stronger signal toward one neighbor should pull the estimate closer
// to it than an equal-weight midpoint would.
func TestEstimateSNRWeighting(t *testing.T) {
	st := newFakeStore()
	st.withFix(1, 0.0, 0.0)
	st.withFix(3, 10.0, 10.0)

	est := New(st, clockwork.NewFakeClock(), 64)
	tr := model.Traceroute{
		FromNode:   1,
		ToNode:     3,
		Route:      []uint32{2},
		SNRTowards: []int32{20, 0}, // strong toward node 1, weak toward node 3
	}
	require.NoError(t, est.EstimateFromTraceroute(context.Background(), tr))

	var lat float64
	for _, p := range st.points {
		if p.Type == model.TelemetryTypeEstimatedLatitude {
			lat = p.Value
		}
	}
	require.Less(t, lat, 5.0) // pulled toward node 1, not the unweighted midpoint
}
