// Package delivery implements the Delivery Tracker + Send Queue (§4.7):
// a rate-limited FIFO send path with ACK/NAK correlation and retry.
package delivery

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/puzpuzpuz/xsync/v4"
	"golang.org/x/time/rate"

	"github.com/dpaschal/meshcore-gateway/internal/meshwire"
	"github.com/dpaschal/meshcore-gateway/internal/model"
	"github.com/dpaschal/meshcore-gateway/internal/store"
)

// FrameSender transmits an already-encoded ToRadio packet body. Framing
// (magic bytes, length prefix) is the transport's job (§4.1); the
// tracker only ever hands it a protobuf-wire body.
type FrameSender interface {
	SendFrame(ctx context.Context, body []byte) error
}

// SendRequest describes one user- or script-originated send (§4.7).
type SendRequest struct {
	Text        string
	Destination uint32
	IsDM        bool
	Channel     int32 // ignored when IsDM
	ReplyTo     uint32
	MaxAttempts int
	OnDelivered func()
	OnFailed    func()
}

// pendingSend is the tracker's bookkeeping for one in-flight request-id.
type pendingSend struct {
	req          SendRequest
	attemptsLeft int
}

// Tracker is the Delivery Tracker + Send Queue.
type Tracker struct {
	Store     store.Port
	Clock     clockwork.Clock
	LocalNode uint32
	Sender    FrameSender

	ids     *meshwire.PacketIDGenerator
	limiter *rate.Limiter
	pending *xsync.Map[uint32, *pendingSend]
}

// New builds a Tracker whose global send rate never exceeds one send per
// minInterval (§4.7's "global minimum interval between sends").
func New(st store.Port, clock clockwork.Clock, localNode uint32, sender FrameSender, minInterval rate.Limit) *Tracker {
	return &Tracker{
		Store:     st,
		Clock:     clock,
		LocalNode: localNode,
		Sender:    sender,
		ids:       meshwire.NewPacketIDGenerator(),
		limiter:   rate.NewLimiter(minInterval, 1),
		pending:   xsync.NewMap[uint32, *pendingSend](),
	}
}

// Throttle blocks until the shared send-rate budget allows another send.
// Externally emitted sends (tapback reactions, scripted replies) that
// don't go through Enqueue must still call this so they share the same
// interval (§4.7).
func (t *Tracker) Throttle(ctx context.Context) error {
	return t.limiter.Wait(ctx)
}

func (t *Tracker) now() int64 {
	if t.Clock != nil {
		return t.Clock.Now().Unix()
	}
	return 0
}

// Enqueue sends req: it obtains a fresh packet-id (the request-id),
// persists the message row as pending, transmits, and registers the
// request-id with the tracker for ACK/NAK correlation (§4.7).
func (t *Tracker) Enqueue(ctx context.Context, req SendRequest) (uint32, error) {
	if err := t.Throttle(ctx); err != nil {
		return 0, err
	}
	channel := uint32(0)
	if !req.IsDM {
		channel = uint32(req.Channel)
	}
	frame, id := meshwire.EncodeTextMessage(t.ids, t.LocalNode, req.Destination, channel, req.Text, true)

	msgChannel := req.Channel
	if req.IsDM {
		msgChannel = model.DirectMessageChannel
	}
	msg := &model.Message{
		SourceNode:    t.LocalNode,
		PacketID:      id,
		Text:          req.Text,
		Channel:       msgChannel,
		DestNode:      req.Destination,
		ReplyTo:       req.ReplyTo,
		HasReplyTo:    req.ReplyTo != 0,
		WantAck:       true,
		DeliveryState: model.DeliveryPending,
		RequestID:     id,
		CreatedAt:     t.now(),
	}
	if _, err := t.Store.InsertMessage(ctx, msg); err != nil {
		return 0, fmt.Errorf("persist pending message: %w", err)
	}
	if err := t.Sender.SendFrame(ctx, frame); err != nil {
		return 0, fmt.Errorf("send frame: %w", err)
	}

	attempts := req.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	t.pending.Store(id, &pendingSend{req: req, attemptsLeft: attempts})
	return id, nil
}

// OnAck implements engine.DeliveryTracker (§4.7 ACK semantics).
func (t *Tracker) OnAck(ctx context.Context, requestID, fromNode uint32, isSelf bool, rxTime int64) error {
	ps, ok := t.pending.Load(requestID)
	if !ok {
		return nil
	}
	key := model.MessageKey{Source: t.LocalNode, PacketID: requestID}

	complete := func(state model.DeliveryState) error {
		if err := t.Store.UpdateMessageDeliveryState(ctx, key, state); err != nil {
			return err
		}
		return t.Store.UpdateMessageTimestamps(ctx, key, rxTime)
	}

	if !ps.req.IsDM {
		if !isSelf {
			return nil // only the local radio's own broadcast self-ACK completes a channel send
		}
		if err := complete(model.DeliveryDelivered); err != nil {
			return err
		}
		t.finish(requestID, ps, true)
		return nil
	}

	switch {
	case isSelf:
		// "made it onto the mesh" — not yet confirmed by the recipient.
		return complete(model.DeliveryDelivered)
	case fromNode == ps.req.Destination:
		if err := complete(model.DeliveryConfirmed); err != nil {
			return err
		}
		t.finish(requestID, ps, true)
		return nil
	default:
		return nil // intermediate-node ACK, ignored
	}
}

// OnNak implements engine.DeliveryTracker (§4.7 NAK/retry semantics).
func (t *Tracker) OnNak(ctx context.Context, requestID, fromNode uint32, isSelf bool, _ meshwire.RoutingErrorReason, rxTime int64) error {
	ps, ok := t.pending.Load(requestID)
	if !ok {
		return nil
	}

	shouldFail := isSelf
	if ps.req.IsDM {
		shouldFail = fromNode == ps.req.Destination
	}
	if !shouldFail {
		return nil // intermediate-node NAK for a DM is ignored; it may still arrive via another route
	}

	key := model.MessageKey{Source: t.LocalNode, PacketID: requestID}
	if err := t.Store.UpdateMessageTimestamps(ctx, key, rxTime); err != nil {
		return err
	}

	ps.attemptsLeft--
	t.pending.Delete(requestID)
	if ps.attemptsLeft > 0 {
		_, err := t.Enqueue(ctx, SendRequest{
			Text: ps.req.Text, Destination: ps.req.Destination, IsDM: ps.req.IsDM,
			Channel: ps.req.Channel, ReplyTo: ps.req.ReplyTo, MaxAttempts: ps.attemptsLeft,
			OnDelivered: ps.req.OnDelivered, OnFailed: ps.req.OnFailed,
		})
		return err
	}
	if err := t.Store.UpdateMessageDeliveryState(ctx, key, model.DeliveryFailed); err != nil {
		return err
	}
	t.finish(requestID, ps, false)
	return nil
}

func (t *Tracker) finish(requestID uint32, ps *pendingSend, delivered bool) {
	t.pending.Delete(requestID)
	if delivered && ps.req.OnDelivered != nil {
		ps.req.OnDelivered()
	} else if !delivered && ps.req.OnFailed != nil {
		ps.req.OnFailed()
	}
}

// Pending reports whether requestID is still awaiting a terminal ACK/NAK.
func (t *Tracker) Pending(requestID uint32) bool {
	_, ok := t.pending.Load(requestID)
	return ok
}
