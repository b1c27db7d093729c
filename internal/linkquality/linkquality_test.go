package linkquality

import (
	"context"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/dpaschal/meshcore-gateway/internal/model"
)

type fakeStore struct {
	points []model.TelemetryPoint
}

func (f *fakeStore) InsertTelemetry(_ context.Context, p model.TelemetryPoint) error {
	f.points = append(f.points, p)
	return nil
}

// Scenario 5 (§8): node first seen at 2 hops -> LQ=6, next message at 2
// hops -> LQ=7, next at 4 hops -> LQ=6, traceroute timeout -> LQ=4, PKI
// error -> LQ=0 (clamped).
func TestLinkQualityTrajectory(t *testing.T) {
	st := &fakeStore{}
	tbl := New(st, clockwork.NewFakeClock())

	tbl.OnHopObservation(0x1, 2)
	q, ok := tbl.Quality(0x1)
	require.True(t, ok)
	require.Equal(t, 6, q)

	tbl.OnHopObservation(0x1, 2)
	q, _ = tbl.Quality(0x1)
	require.Equal(t, 7, q)

	tbl.OnHopObservation(0x1, 4)
	q, _ = tbl.Quality(0x1)
	require.Equal(t, 6, q)

	tbl.OnTracerouteTimeout(0x1)
	q, _ = tbl.Quality(0x1)
	require.Equal(t, 4, q)

	tbl.OnPKIError(0x1)
	q, _ = tbl.Quality(0x1)
	require.Equal(t, 0, q)

	require.Len(t, st.points, 5)
}

func TestQualityUnknownNode(t *testing.T) {
	tbl := New(nil, clockwork.NewFakeClock())
	_, ok := tbl.Quality(0x99)
	require.False(t, ok)
}
