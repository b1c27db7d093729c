package geofence

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func square() *Fence {
	return &Fence{
		ID:      "yard",
		Enabled: true,
		Vertices: []Point{
			{Lat: 0, Lon: 0},
			{Lat: 0, Lon: 10},
			{Lat: 10, Lon: 10},
			{Lat: 10, Lon: 0},
		},
	}
}

func TestContains(t *testing.T) {
	f := square()
	require.True(t, f.Contains(Point{Lat: 5, Lon: 5}))
	require.False(t, f.Contains(Point{Lat: 50, Lon: 50}))
}

func TestEnterExitTransitions(t *testing.T) {
	f := square()
	var entries, exits []uint32
	f.OnEnter = func(_ context.Context, node uint32, _ string) { entries = append(entries, node) }
	f.OnExit = func(_ context.Context, node uint32, _ string) { exits = append(exits, node) }

	eng := New([]*Fence{f})
	ctx := context.Background()

	eng.OnPositionObservation(ctx, 1, 5, 5, 0) // enters
	eng.OnPositionObservation(ctx, 1, 5, 5, 0) // still inside, no re-fire
	eng.OnPositionObservation(ctx, 1, 50, 50, 0) // exits

	require.Equal(t, []uint32{1}, entries)
	require.Equal(t, []uint32{1}, exits)
}

func TestSeedFiresNoEvents(t *testing.T) {
	f := square()
	fired := false
	f.OnEnter = func(context.Context, uint32, string) { fired = true }

	eng := New([]*Fence{f})
	eng.Seed(map[uint32]Point{1: {Lat: 5, Lon: 5}})

	require.False(t, fired)
	require.Equal(t, []uint32{1}, eng.InsideNodes("yard"))
}

func TestFireWhileInside(t *testing.T) {
	f := square()
	var fired []uint32
	f.OnWhileInside = func(_ context.Context, node uint32, _ string) { fired = append(fired, node) }

	eng := New([]*Fence{f})
	eng.Seed(map[uint32]Point{1: {Lat: 5, Lon: 5}, 2: {Lat: 50, Lon: 50}})
	eng.FireWhileInside(context.Background(), f)

	require.Equal(t, []uint32{1}, fired)
}
