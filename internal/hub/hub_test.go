package hub

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dpaschal/meshcore-gateway/internal/meshwire"
)

// Init-config replay determinism (§8): a fresh subscriber receives the
// captured init sequence in order before any live frame.
func TestReplayDeterminism(t *testing.T) {
	h := New()
	h.BeginCapture()
	h.Observe(meshwire.KindMyInfo, []byte("f1"))
	h.Observe(meshwire.KindNodeInfo, []byte("f2"))
	h.Observe(meshwire.KindConfigComplete, []byte("f3"))

	replay, live, unsubscribe := h.Subscribe(8)
	defer unsubscribe()
	require.Equal(t, [][]byte{[]byte("f1"), []byte("f2"), []byte("f3")}, replay)

	h.Observe(meshwire.KindMeshPacket, []byte("live1"))
	require.Equal(t, []byte("live1"), <-live)
}

// Channel frames are replayed as part of init but never broadcast live.
func TestChannelFramesDroppedFromLiveBroadcast(t *testing.T) {
	h := New()
	_, live, unsubscribe := h.Subscribe(8)
	defer unsubscribe()

	h.Observe(meshwire.KindChannel, []byte("chan"))
	h.Observe(meshwire.KindMeshPacket, []byte("pkt"))

	require.Equal(t, []byte("pkt"), <-live)
	select {
	case v := <-live:
		t.Fatalf("unexpected extra frame broadcast live: %s", v)
	default:
	}
}

// A capture that never finishes (no configComplete yet) still yields
// whatever was captured so far to a subscriber connecting mid-capture.
func TestSubscribeMidCapture(t *testing.T) {
	h := New()
	h.BeginCapture()
	h.Observe(meshwire.KindMyInfo, []byte("f1"))

	replay, _, unsubscribe := h.Subscribe(8)
	defer unsubscribe()
	require.Equal(t, [][]byte{[]byte("f1")}, replay)
}

func TestResetOnNodeNumberChange(t *testing.T) {
	h := New()
	h.BeginCapture()
	h.Observe(meshwire.KindMyInfo, []byte("f1"))
	h.Observe(meshwire.KindConfigComplete, []byte("f2"))
	h.NoteNodeNumber(0x10)

	replay, _, unsubscribe := h.Subscribe(8)
	unsubscribe()
	require.Len(t, replay, 2)

	h.NoteNodeNumber(0x20) // radio swapped
	replay, _, unsubscribe = h.Subscribe(8)
	defer unsubscribe()
	require.Empty(t, replay)
}
