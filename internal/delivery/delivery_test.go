package delivery

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/dpaschal/meshcore-gateway/internal/meshwire"
	"github.com/dpaschal/meshcore-gateway/internal/model"
	"github.com/dpaschal/meshcore-gateway/internal/store/sqlite"
)

const localNode uint32 = 0x1001

type fakeSender struct {
	frames [][]byte
}

func (f *fakeSender) SendFrame(_ context.Context, body []byte) error {
	f.frames = append(f.frames, body)
	return nil
}

func newTestTracker(t *testing.T) (*Tracker, *fakeSender) {
	t.Helper()
	st, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	sender := &fakeSender{}
	clock := clockwork.NewFakeClockAt(time.Unix(500, 0))
	tr := New(st, clock, localNode, sender, rate.Inf)
	return tr, sender
}

func TestTracker_Enqueue_PersistsPendingMessageAndSends(t *testing.T) {
	ctx := context.Background()
	tr, sender := newTestTracker(t)

	id, err := tr.Enqueue(ctx, SendRequest{Text: "hi", Destination: 0xBEEF, IsDM: true, MaxAttempts: 3})
	require.NoError(t, err)
	require.Len(t, sender.frames, 1)
	require.True(t, tr.Pending(id))

	key := model.MessageKey{Source: localNode, PacketID: id}
	require.NoError(t, tr.Store.UpdateMessageDeliveryState(ctx, key, model.DeliveryDelivered))
}

func TestTracker_DMAck_TwoStageConfirm(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTestTracker(t)
	delivered := false

	id, err := tr.Enqueue(ctx, SendRequest{
		Text: "hi", Destination: 0xBEEF, IsDM: true, MaxAttempts: 3,
		OnDelivered: func() { delivered = true },
	})
	require.NoError(t, err)

	require.NoError(t, tr.OnAck(ctx, id, localNode, true, 600))
	require.True(t, tr.Pending(id), "self-ack alone must not complete a DM send")
	require.False(t, delivered)

	require.NoError(t, tr.OnAck(ctx, id, 0xBEEF, false, 601))
	require.False(t, tr.Pending(id))
	require.True(t, delivered)
}

func TestTracker_DMAck_IntermediateHopIgnored(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTestTracker(t)

	id, err := tr.Enqueue(ctx, SendRequest{Text: "hi", Destination: 0xBEEF, IsDM: true, MaxAttempts: 1})
	require.NoError(t, err)

	require.NoError(t, tr.OnAck(ctx, id, localNode, true, 600)) // self-ack: onto the mesh
	require.NoError(t, tr.OnAck(ctx, id, 0x9999, false, 700))   // ack from an intermediate hop, not the destination
	require.True(t, tr.Pending(id), "an ACK from a node other than the destination must be ignored")
}

func TestTracker_ChannelAck_SelfCompletesImmediately(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTestTracker(t)
	delivered := false

	id, err := tr.Enqueue(ctx, SendRequest{
		Text: "hi all", Destination: 0xFFFFFFFF, IsDM: false, Channel: 0, MaxAttempts: 1,
		OnDelivered: func() { delivered = true },
	})
	require.NoError(t, err)

	require.NoError(t, tr.OnAck(ctx, id, localNode, true, 900))
	require.False(t, tr.Pending(id))
	require.True(t, delivered)
}

func TestTracker_Nak_RetriesThenFails(t *testing.T) {
	ctx := context.Background()
	tr, sender := newTestTracker(t)
	failed := false

	id, err := tr.Enqueue(ctx, SendRequest{
		Text: "hi", Destination: 0xBEEF, IsDM: true, MaxAttempts: 2,
		OnFailed: func() { failed = true },
	})
	require.NoError(t, err)
	require.Len(t, sender.frames, 1)

	require.NoError(t, tr.OnNak(ctx, id, 0xBEEF, false, meshwire.RoutingTimeout, 1000))
	require.False(t, tr.Pending(id), "original request-id is retired on retry; a new one is registered")
	require.Len(t, sender.frames, 2, "a retry must re-transmit")
	require.False(t, failed)

	// the tracker's packet-id generator is a private sequential counter with
	// no concurrent callers in this test, so the retry's id is exactly id+1.
	retryID := id + 1
	require.True(t, tr.Pending(retryID))

	require.NoError(t, tr.OnNak(ctx, retryID, 0xBEEF, false, meshwire.RoutingTimeout, 1100))
	require.True(t, failed)
	require.False(t, tr.Pending(retryID))
}

func TestTracker_Nak_IntermediateIgnoredForDM(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTestTracker(t)

	id, err := tr.Enqueue(ctx, SendRequest{Text: "hi", Destination: 0xBEEF, IsDM: true, MaxAttempts: 1})
	require.NoError(t, err)

	require.NoError(t, tr.OnNak(ctx, id, 0x9999, false, meshwire.RoutingNoRoute, 0))
	require.True(t, tr.Pending(id))
}
