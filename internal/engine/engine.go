// Package engine implements the Protocol Engine (§4.5): the port-number
// dispatch table that turns decoded mesh packets into node/message/
// telemetry state, side effects on the delivery tracker, session
// controller, link-quality table and position estimator, and live events
// for the virtual-node hub.
package engine

import (
	"context"
	"fmt"
	"math"

	"github.com/charmbracelet/log"
	"github.com/jonboulle/clockwork"

	"github.com/dpaschal/meshcore-gateway/internal/meshwire"
	"github.com/dpaschal/meshcore-gateway/internal/model"
	"github.com/dpaschal/meshcore-gateway/internal/store"
)

// PositionMaxAge is the §4.5 precision-upgrade policy's staleness
// threshold: a stored position can always be replaced once it is this
// old, regardless of precision.
const PositionMaxAge = 12 * 3600 // seconds

// TracerouteTimeout is how long the scheduler's traceroute sweep waits
// before treating an outstanding traceroute as failed (§4.8). Exported
// here because the timeout record shape (§4.8) is created by the
// scheduler but its penalty is the engine's link-quality table.
const TracerouteTimeout = 5 * 60 // seconds

// DeliveryTracker receives routing-layer ACK/NAK notifications so it can
// advance message delivery state (§4.7).
type DeliveryTracker interface {
	OnAck(ctx context.Context, requestID, fromNode uint32, isSelf bool, rxTime int64) error
	OnNak(ctx context.Context, requestID, fromNode uint32, isSelf bool, reason meshwire.RoutingErrorReason, rxTime int64) error
}

// SessionAdmin receives decoded admin messages (§4.6).
type SessionAdmin interface {
	HandleAdminMessage(ctx context.Context, fromNode uint32, msg *meshwire.AdminMessage) error
}

// PositionEstimator is invoked with a persisted traceroute so it can
// derive GPS-less node position estimates (§4.10).
type PositionEstimator interface {
	EstimateFromTraceroute(ctx context.Context, tr model.Traceroute) error
}

// LinkQualityTable is the shared mutable link-quality state (§4.10).
type LinkQualityTable interface {
	OnHopObservation(node uint32, hops uint32)
	OnTracerouteTimeout(node uint32)
	OnPKIError(node uint32)
}

// Geofence is notified of every position observation (§4.8).
type Geofence interface {
	OnPositionObservation(ctx context.Context, node uint32, lat, lon float64, at int64)
}

// OffsetSampler collects wall-clock-vs-rxTime samples for the scheduler's
// time-offset flush task (§4.8).
type OffsetSampler interface {
	Observe(wallClock, rxTime int64)
}

// AutoResponder runs the auto-acknowledge/auto-reply logic for incoming
// text messages (§4.5, §9); kept out of engine.go's scope beyond the
// hook point itself.
type AutoResponder interface {
	OnTextMessage(ctx context.Context, msg *model.Message) error
}

// Welcomer decides, on an identity update that carries a real (non-
// placeholder) long name, whether to auto-welcome the node (§4.5, §9,
// §8 auto-welcome atomicity).
type Welcomer interface {
	MaybeWelcome(ctx context.Context, node uint32, longName string) error
}

// EventKind tags a published live event (§4.9).
type EventKind string

const (
	EventTextMessage  EventKind = "textMessage"
	EventNodeUpdated  EventKind = "nodeUpdated"
	EventPosition     EventKind = "position"
	EventTelemetry    EventKind = "telemetry"
	EventTraceroute   EventKind = "traceroute"
	EventNeighborInfo EventKind = "neighborInfo"
)

// Event is one live-UI notification (§4.9).
type Event struct {
	Kind    EventKind
	Payload any
}

// EventBus publishes live events for the virtual-node hub / live UI.
type EventBus interface {
	Publish(Event)
}

// Engine dispatches decoded mesh packets to their §4.5 handlers.
type Engine struct {
	Store     store.Port
	Clock     clockwork.Clock
	LocalNode uint32

	Delivery  DeliveryTracker
	Admin     SessionAdmin
	Estimator PositionEstimator
	LinkQual  LinkQualityTable
	Fence     Geofence
	Responder AutoResponder
	Welcome   Welcomer
	Events    EventBus
	Offsets   OffsetSampler

	Logger *log.Logger
}

func (e *Engine) logger() *log.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return log.Default()
}

func (e *Engine) publish(ev Event) {
	if e.Events != nil {
		e.Events.Publish(ev)
	}
}

func (e *Engine) now() int64 {
	if e.Clock != nil {
		return e.Clock.Now().Unix()
	}
	return 0
}

// Dispatch routes a decoded mesh packet to its port handler. State
// updates are idempotent under re-delivery: message inserts dedupe on
// (source, packet-id); everything else is last-writer-wins on
// observation time (§4.5).
func (e *Engine) Dispatch(ctx context.Context, pkt *meshwire.MeshPacket) error {
	if pkt == nil || pkt.Decoded == nil {
		return nil
	}
	if err := e.touchSourceNode(ctx, pkt); err != nil {
		return err
	}
	switch pkt.Decoded.Portnum {
	case meshwire.PortTextMessage:
		return e.handleTextMessage(ctx, pkt)
	case meshwire.PortPosition:
		return e.handlePosition(ctx, pkt)
	case meshwire.PortNodeInfo:
		return e.handleNodeInfo(ctx, pkt)
	case meshwire.PortTelemetry:
		return e.handleTelemetry(ctx, pkt)
	case meshwire.PortRouting:
		return e.handleRouting(ctx, pkt)
	case meshwire.PortAdmin:
		return e.handleAdmin(ctx, pkt)
	case meshwire.PortTraceroute:
		return e.handleTraceroute(ctx, pkt)
	case meshwire.PortNeighborInfo:
		return e.handleNeighborInfo(ctx, pkt)
	default:
		return nil
	}
}

// getOrCreateNode loads a node, creating a placeholder if unseen.
func (e *Engine) getOrCreateNode(ctx context.Context, num uint32, lastHeard int64) (*model.Node, error) {
	n, ok, err := e.Store.GetNode(ctx, num)
	if err != nil {
		return nil, err
	}
	if !ok {
		n = model.NewPlaceholderNode(num, lastHeard)
	}
	return n, nil
}

// touchSourceNode ensures the packet's source node exists and its
// last-heard/SNR/RSSI/hops-away fields reflect this observation, and
// feeds the hop count to the link-quality table.
func (e *Engine) touchSourceNode(ctx context.Context, pkt *meshwire.MeshPacket) error {
	n, err := e.getOrCreateNode(ctx, pkt.From, int64(pkt.RxTime))
	if err != nil {
		return fmt.Errorf("touch source node: %w", err)
	}
	n.CapLastHeard(int64(pkt.RxTime), e.now())
	n.LastSNR = pkt.RxSNR
	n.LastRSSI = pkt.RxRSSI
	n.HopsAway = pkt.HopStart - pkt.HopLimit
	if e.LinkQual != nil {
		e.LinkQual.OnHopObservation(pkt.From, n.HopsAway)
	}
	if e.Offsets != nil {
		e.Offsets.Observe(e.now(), int64(pkt.RxTime))
	}
	return e.Store.UpsertNode(ctx, n)
}

func (e *Engine) handleTextMessage(ctx context.Context, pkt *meshwire.MeshPacket) error {
	msg := &model.Message{
		SourceNode: pkt.From,
		PacketID:   pkt.ID,
		Text:       string(pkt.Decoded.Payload),
		DestNode:   pkt.To,
		HopStart:   pkt.HopStart,
		HopLimit:   pkt.HopLimit,
		ReplyTo:    pkt.Decoded.ReplyID,
		HasReplyTo: pkt.Decoded.ReplyID != 0,
		Emoji:      pkt.Decoded.Emoji,
		WantAck:    pkt.WantAck,
		RequestID:  pkt.Decoded.RequestID,
		RxTime:     int64(pkt.RxTime),
		RxSNR:      pkt.RxSNR,
		RxRSSI:     pkt.RxRSSI,
		CreatedAt:  e.now(),
	}
	msg.Channel = e.messageChannel(pkt)
	if pkt.DecryptedBy == "server" {
		msg.DecryptedBy = model.DecryptedByServer
	} else {
		msg.DecryptedBy = model.DecryptedByNode
	}
	msg.DeliveryState = model.DeliveryConfirmed

	inserted, err := e.Store.InsertMessage(ctx, msg)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	if !inserted {
		return nil
	}
	e.publish(Event{Kind: EventTextMessage, Payload: msg})
	if e.Responder != nil {
		if err := e.Responder.OnTextMessage(ctx, msg); err != nil {
			e.logger().Warn("auto responder failed", "err", err)
		}
	}
	return nil
}

// messageChannel resolves the persisted channel value for an incoming
// message: a server-decrypted channel id, the sentinel DM value, or the
// radio-reported channel index (§4.4/§6).
func (e *Engine) messageChannel(pkt *meshwire.MeshPacket) int32 {
	if pkt.DecryptedBy == "server" {
		return model.ServerDecryptedChannel(pkt.ChannelDBID)
	}
	if pkt.To != meshwire.NodeNumBroadcast32 && pkt.To != meshwire.NodeNumBroadcast16 {
		return model.DirectMessageChannel
	}
	return int32(pkt.Channel)
}

func (e *Engine) handlePosition(ctx context.Context, pkt *meshwire.MeshPacket) error {
	pos, err := meshwire.UnmarshalPosition(pkt.Decoded.Payload)
	if err != nil {
		return fmt.Errorf("unmarshal position: %w", err)
	}
	now := e.now()
	if err := e.Store.InsertTelemetry(ctx, model.TelemetryPoint{Node: pkt.From, Type: model.TelemetryTypeLatitude, Timestamp: now, Value: pos.Lat()}); err != nil {
		return err
	}
	if err := e.Store.InsertTelemetry(ctx, model.TelemetryPoint{Node: pkt.From, Type: model.TelemetryTypeLongitude, Timestamp: now, Value: pos.Lon()}); err != nil {
		return err
	}
	if err := e.Store.InsertTelemetry(ctx, model.TelemetryPoint{Node: pkt.From, Type: model.TelemetryTypeAltitude, Timestamp: now, Value: float64(pos.Altitude)}); err != nil {
		return err
	}
	if !pos.Valid() {
		return nil
	}
	n, err := e.getOrCreateNode(ctx, pkt.From, now)
	if err != nil {
		return err
	}
	if model.PrecisionUpgradeAllowed(n.PositionPrecision, n.PositionTime, now, pos.PrecisionBits, PositionMaxAge) {
		n.Latitude = pos.Lat()
		n.Longitude = pos.Lon()
		n.Altitude = pos.Altitude
		n.PositionPrecision = pos.PrecisionBits
		n.PositionChannel = pkt.Channel
		n.PositionTime = now
		if err := e.Store.UpsertNode(ctx, n); err != nil {
			return err
		}
	}
	e.publish(Event{Kind: EventPosition, Payload: pos})
	if e.Fence != nil {
		e.Fence.OnPositionObservation(ctx, pkt.From, pos.Lat(), pos.Lon(), now)
	}
	return nil
}

func (e *Engine) handleNodeInfo(ctx context.Context, pkt *meshwire.MeshPacket) error {
	user, err := meshwire.UnmarshalUser(pkt.Decoded.Payload)
	if err != nil {
		return fmt.Errorf("unmarshal user: %w", err)
	}
	n, err := e.getOrCreateNode(ctx, pkt.From, e.now())
	if err != nil {
		return err
	}
	return e.applyUser(ctx, n, user)
}

// applyUser folds a decoded User identity block into n and persists it,
// the shared tail of both the mesh-packet-encapsulated NodeInfo (§4.5
// PortNodeInfo) and the top-level FromRadio NodeInfo roster entries the
// radio sends during want-config replay (§4.2).
func (e *Engine) applyUser(ctx context.Context, n *model.Node, user *meshwire.User) error {
	n.ApplyName(user.LongName, user.ShortName)
	n.HwModel = user.HwModel
	n.Role = user.Role
	changed := n.ApplyPublicKey(user.PublicKey)
	if changed && n.KeyMismatchDetected {
		n.KeyMismatchDetected = false
		e.logger().Info("key mismatch resolved", "node", n.IDString())
	}
	if err := e.Store.UpsertNode(ctx, n); err != nil {
		return err
	}
	e.publish(Event{Kind: EventNodeUpdated, Payload: n})
	if e.Welcome != nil && !model.IsPlaceholderLongName(n.LongName) {
		if err := e.Welcome.MaybeWelcome(ctx, n.Num, n.LongName); err != nil {
			e.logger().Warn("auto welcome failed", "node", n.IDString(), "err", err)
		}
	}
	return nil
}

// ApplyNodeInfo upserts one top-level FromRadio NodeInfo roster entry
// (§4.2 want-config replay) into the Store, via the same identity-block
// path handleNodeInfo uses for the mesh-packet-encapsulated variant, plus
// the roster entry's own last-heard/SNR/hops-away/position fields.
func (e *Engine) ApplyNodeInfo(ctx context.Context, ni *meshwire.NodeInfo) error {
	if ni == nil {
		return nil
	}
	n, err := e.getOrCreateNode(ctx, ni.Num, int64(ni.LastHeard))
	if err != nil {
		return err
	}
	n.CapLastHeard(int64(ni.LastHeard), e.now())
	n.LastSNR = ni.SNR
	n.HopsAway = ni.HopsAway
	if e.LinkQual != nil {
		e.LinkQual.OnHopObservation(ni.Num, n.HopsAway)
	}
	if ni.Position != nil && ni.Position.Valid() {
		now := e.now()
		if model.PrecisionUpgradeAllowed(n.PositionPrecision, n.PositionTime, now, ni.Position.PrecisionBits, PositionMaxAge) {
			n.Latitude = ni.Position.Lat()
			n.Longitude = ni.Position.Lon()
			n.Altitude = ni.Position.Altitude
			n.PositionPrecision = ni.Position.PrecisionBits
			n.PositionTime = now
		}
	}
	if ni.User == nil {
		return e.Store.UpsertNode(ctx, n)
	}
	return e.applyUser(ctx, n, ni.User)
}

func (e *Engine) handleTelemetry(ctx context.Context, pkt *meshwire.MeshPacket) error {
	tel, err := meshwire.UnmarshalTelemetry(pkt.Decoded.Payload)
	if err != nil {
		return fmt.Errorf("unmarshal telemetry: %w", err)
	}
	ts := int64(tel.Time)
	if ts == 0 {
		ts = e.now()
	}
	for _, m := range tel.Metrics {
		if err := e.Store.InsertTelemetry(ctx, model.TelemetryPoint{
			Node:      pkt.From,
			Type:      m.Name,
			Timestamp: ts,
			Value:     m.Value,
			Unit:      m.Unit,
		}); err != nil {
			return err
		}
	}
	e.publish(Event{Kind: EventTelemetry, Payload: tel})
	return nil
}

func (e *Engine) handleRouting(ctx context.Context, pkt *meshwire.MeshPacket) error {
	routing, err := meshwire.UnmarshalRouting(pkt.Decoded.Payload)
	if err != nil {
		return fmt.Errorf("unmarshal routing: %w", err)
	}
	isSelf := pkt.From == e.LocalNode
	rxTime := int64(pkt.RxTime)
	if routing.ErrorReason == meshwire.RoutingSuccess {
		if e.Delivery != nil {
			return e.Delivery.OnAck(ctx, pkt.Decoded.RequestID, pkt.From, isSelf, rxTime)
		}
		return nil
	}
	if isSelf && routing.ErrorReason.IsPKI() {
		n, err := e.getOrCreateNode(ctx, pkt.To, e.now())
		if err != nil {
			return err
		}
		n.KeyMismatchDetected = true
		if err := e.Store.UpsertNode(ctx, n); err != nil {
			return err
		}
		if e.LinkQual != nil {
			e.LinkQual.OnPKIError(pkt.To)
		}
	}
	if e.Delivery != nil {
		return e.Delivery.OnNak(ctx, pkt.Decoded.RequestID, pkt.From, isSelf, routing.ErrorReason, rxTime)
	}
	return nil
}

func (e *Engine) handleAdmin(ctx context.Context, pkt *meshwire.MeshPacket) error {
	admin, err := meshwire.UnmarshalAdminMessage(pkt.Decoded.Payload)
	if err != nil {
		return fmt.Errorf("unmarshal admin: %w", err)
	}
	if e.Admin == nil {
		return nil
	}
	return e.Admin.HandleAdminMessage(ctx, pkt.From, admin)
}

func (e *Engine) handleTraceroute(ctx context.Context, pkt *meshwire.MeshPacket) error {
	rd, err := meshwire.UnmarshalRouteDiscovery(pkt.Decoded.Payload)
	if err != nil {
		return fmt.Errorf("unmarshal route discovery: %w", err)
	}
	route, snrTowards := meshwire.FilterRoute(rd.Route, rd.SNRTowards)
	routeBack, snrBack := meshwire.FilterRoute(rd.RouteBack, rd.SNRBack)

	now := e.now()
	fullPath := append([]uint32{pkt.From}, route...)
	fullPath = append(fullPath, pkt.To)
	snapshots, err := e.snapshotPositions(ctx, fullPath)
	if err != nil {
		return err
	}

	tr := model.Traceroute{
		FromNode:   pkt.From,
		ToNode:     pkt.To,
		Route:      route,
		SNRTowards: snrTowards,
		RouteBack:  routeBack,
		SNRBack:    snrBack,
		Snapshots:  snapshots,
		CreatedAt:  now,
	}
	id, err := e.Store.InsertTraceroute(ctx, tr)
	if err != nil {
		return fmt.Errorf("insert traceroute: %w", err)
	}

	if err := e.insertRouteSegments(ctx, id, fullPath, snrTowards, snapshots); err != nil {
		return err
	}
	if e.Estimator != nil {
		if err := e.Estimator.EstimateFromTraceroute(ctx, tr); err != nil {
			e.logger().Warn("position estimate failed", "err", err)
		}
	}
	e.publish(Event{Kind: EventTraceroute, Payload: tr})
	return nil
}

func (e *Engine) snapshotPositions(ctx context.Context, path []uint32) ([]model.NodeSnapshot, error) {
	out := make([]model.NodeSnapshot, 0, len(path))
	for _, num := range path {
		n, ok, err := e.Store.GetNode(ctx, num)
		if err != nil {
			return nil, err
		}
		snap := model.NodeSnapshot{Node: num}
		if ok && n.PositionTime != 0 {
			snap.Latitude, snap.Longitude, snap.HasFix = n.Latitude, n.Longitude, true
		}
		out = append(out, snap)
	}
	return out, nil
}

// insertRouteSegments computes hop-to-hop great-circle distances along
// path for the nodes with a known fix, feeding the SNR array alongside
// for the position estimator (§4.5, §4.10).
func (e *Engine) insertRouteSegments(ctx context.Context, tracerouteID int64, path []uint32, snr []int32, snaps []model.NodeSnapshot) error {
	for i := 0; i+1 < len(path); i++ {
		a, b := snaps[i], snaps[i+1]
		if !a.HasFix || !b.HasFix {
			continue
		}
		var s int32
		if i < len(snr) {
			s = snr[i]
		}
		seg := model.RouteSegment{
			TracerouteID: tracerouteID,
			FromNode:     a.Node,
			ToNode:       b.Node,
			DistanceM:    haversineMeters(a.Latitude, a.Longitude, b.Latitude, b.Longitude),
			SNR:          s,
		}
		if err := e.Store.InsertRouteSegment(ctx, seg); err != nil {
			return err
		}
	}
	return nil
}

const earthRadiusMeters = 6371000.0

func haversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	toRad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusMeters * c
}

func (e *Engine) handleNeighborInfo(ctx context.Context, pkt *meshwire.MeshPacket) error {
	ni, err := meshwire.UnmarshalNeighborInfo(pkt.Decoded.Payload)
	if err != nil {
		return fmt.Errorf("unmarshal neighbor info: %w", err)
	}
	reporter, err := e.getOrCreateNode(ctx, ni.NodeID, e.now())
	if err != nil {
		return err
	}
	neighbors := make([]model.Neighbor, 0, len(ni.Neighbors))
	for _, n := range ni.Neighbors {
		neighbors = append(neighbors, model.Neighbor{NodeID: n.NodeID, SNR: n.SNR})
		if _, ok, err := e.Store.GetNode(ctx, n.NodeID); err != nil {
			return err
		} else if !ok {
			stub := model.NewPlaceholderNode(n.NodeID, e.now())
			stub.HopsAway = reporter.HopsAway + 1
			if err := e.Store.UpsertNode(ctx, stub); err != nil {
				return err
			}
		}
	}
	if err := e.Store.SaveNeighborInfo(ctx, ni.NodeID, neighbors); err != nil {
		return fmt.Errorf("save neighbor info: %w", err)
	}
	e.publish(Event{Kind: EventNeighborInfo, Payload: ni})
	return nil
}
