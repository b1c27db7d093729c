package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/dpaschal/meshcore-gateway/internal/delivery"
	"github.com/dpaschal/meshcore-gateway/internal/meshwire"
	"github.com/dpaschal/meshcore-gateway/internal/model"
	"github.com/dpaschal/meshcore-gateway/internal/responder"
	"github.com/dpaschal/meshcore-gateway/internal/tokens"
)

// tracerouteTimeout is the §4.8 sweep threshold: an outstanding
// traceroute older than this is marked failed.
const tracerouteTimeout = 5 * time.Minute

// pickTracerouteTarget chooses the single node "most needing" a
// traceroute: lowest known link-quality (unknown treated as worst),
// tie-broken by the oldest last-heard, excluding the local node and any
// node with a request already outstanding.
func (s *Scheduler) pickTracerouteTarget(nodes []*model.Node) (uint32, bool) {
	var best *model.Node
	var bestQuality int
	for _, n := range nodes {
		if n.Num == s.LocalNode {
			continue
		}
		if _, outstanding := s.outstandingTraceroutes[n.Num]; outstanding {
			continue
		}
		q := -1
		if s.LinkQual != nil {
			if v, ok := s.LinkQual.Quality(n.Num); ok {
				q = v
			}
		}
		if best == nil || q < bestQuality || (q == bestQuality && n.LastHeard < best.LastHeard) {
			best, bestQuality = n, q
		}
	}
	if best == nil {
		return 0, false
	}
	return best.Num, true
}

func (s *Scheduler) runTraceroute(ctx context.Context) {
	nodes, err := s.Store.ListActiveNodes(ctx, 24)
	if err != nil {
		s.logger().Warn("traceroute: list active nodes failed", "err", err)
		return
	}
	s.sweepTracerouteTimeouts()

	target, ok := s.pickTracerouteTarget(nodes)
	if ok {
		if s.Limiter != nil {
			if err := s.Limiter.Throttle(ctx); err != nil {
				return
			}
		}
		frame, _ := meshwire.EncodeTracerouteRequest(s.ids, s.LocalNode, target)
		if err := s.FrameSender.SendFrame(ctx, frame); err != nil {
			s.logger().Warn("traceroute request failed", "node", model.IDString(target), "err", err)
			return
		}
		if s.outstandingTraceroutes == nil {
			s.outstandingTraceroutes = map[uint32]time.Time{}
		}
		s.outstandingTraceroutes[target] = s.now()
		if err := s.Store.RecordAutoTraceroute(ctx, target, s.now().Unix()); err != nil {
			s.logger().Warn("record auto traceroute failed", "node", model.IDString(target), "err", err)
		}
	}
}

// sweepTracerouteTimeouts marks any outstanding traceroute older than
// tracerouteTimeout as failed, penalizing link-quality (§4.8).
func (s *Scheduler) sweepTracerouteTimeouts() {
	now := s.now()
	for node, sentAt := range s.outstandingTraceroutes {
		if now.Sub(sentAt) > tracerouteTimeout {
			delete(s.outstandingTraceroutes, node)
			if s.LinkQual != nil {
				s.LinkQual.OnTracerouteTimeout(node)
			}
		}
	}
}

// NotifyTracerouteResponse clears node's outstanding-traceroute record on
// a successful response, so the timeout sweep doesn't later penalize a
// traceroute that actually succeeded. Wired from the engine's live event
// stream at startup (cmd/meshgw).
func (s *Scheduler) NotifyTracerouteResponse(node uint32) {
	delete(s.outstandingTraceroutes, node)
}

// runTimeSync sends a set-time admin request to the next eligible remote
// node (§4.8).
func (s *Scheduler) runTimeSync(ctx context.Context) {
	nodes, err := s.Store.ListActiveNodes(ctx, 24)
	if err != nil || len(nodes) == 0 {
		return
	}
	target := s.roundRobin(nodes, &s.timeSyncCursor)
	if target == nil {
		return
	}
	key, err := s.Admin.EnsureSessionKey(ctx, target.Num)
	if err != nil {
		s.logger().Warn("time-sync: session key failed", "node", target.IDString(), "err", err)
		return
	}
	admin := &meshwire.AdminMessage{Which: meshwire.AdminSetTimeOnly, SetTimeOnly: uint32(s.now().Unix())}
	frame, _ := meshwire.EncodeAdminPacket(s.ids, s.LocalNode, target.Num, admin, key)
	if s.Limiter != nil {
		if err := s.Limiter.Throttle(ctx); err != nil {
			return
		}
	}
	if err := s.FrameSender.SendFrame(ctx, frame); err != nil {
		s.logger().Warn("time-sync send failed", "node", target.IDString(), "err", err)
	}
}

// roundRobin advances *cursor and returns the node at that position,
// wrapping around; it's the "one node per tick" selection §4.8 asks for
// remote-admin scan and time-sync.
func (s *Scheduler) roundRobin(nodes []*model.Node, cursor *int) *model.Node {
	candidates := make([]*model.Node, 0, len(nodes))
	for _, n := range nodes {
		if n.Num != s.LocalNode {
			candidates = append(candidates, n)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Num < candidates[j].Num })
	n := candidates[*cursor%len(candidates)]
	*cursor++
	return n
}

// runRemoteAdminScan probes one node per tick with a device-metadata
// request; success flags has-remote-admin, timeout clears it (§4.8).
func (s *Scheduler) runRemoteAdminScan(ctx context.Context) {
	nodes, err := s.Store.ListActiveNodes(ctx, 24)
	if err != nil || len(nodes) == 0 {
		return
	}
	target := s.roundRobin(nodes, &s.adminScanCursor)
	if target == nil {
		return
	}
	meta, err := s.Admin.RequestDeviceMetadata(ctx, target.Num)
	n, ok, gerr := s.Store.GetNode(ctx, target.Num)
	if gerr != nil || !ok {
		return
	}
	n.HasRemoteAdmin = err == nil && meta != nil
	if uerr := s.Store.UpsertNode(ctx, n); uerr != nil {
		s.logger().Warn("remote-admin scan: upsert failed", "node", target.IDString(), "err", uerr)
	}
}

// runKeyRepair retries a NodeInfo exchange with every key-mismatched
// node, up to the configured ceiling (§4.8).
func (s *Scheduler) runKeyRepair(ctx context.Context) {
	nodes, err := s.Store.ListActiveNodes(ctx, 24)
	if err != nil {
		return
	}
	for _, n := range nodes {
		if !n.KeyMismatchDetected {
			continue
		}
		tries := s.keyRepairTries[n.Num]
		if s.Cfg.KeyRepairCeiling > 0 && tries >= s.Cfg.KeyRepairCeiling {
			if s.Cfg.KeyRepairRemove {
				s.issueRemoveNode(ctx, n.Num)
				delete(s.keyRepairTries, n.Num)
			}
			continue
		}
		frame, _ := meshwire.EncodeNodeInfoRequest(s.ids, s.LocalNode, n.Num)
		if s.Limiter != nil {
			if err := s.Limiter.Throttle(ctx); err != nil {
				return
			}
		}
		if err := s.FrameSender.SendFrame(ctx, frame); err != nil {
			s.logger().Warn("key-repair: nodeinfo request failed", "node", n.IDString(), "err", err)
			continue
		}
		s.keyRepairTries[n.Num] = tries + 1
	}
}

func (s *Scheduler) issueRemoveNode(ctx context.Context, node uint32) {
	key, err := s.Admin.EnsureSessionKey(ctx, node)
	if err != nil {
		s.logger().Warn("key-repair: remove-node session key failed", "node", model.IDString(node), "err", err)
		return
	}
	admin := &meshwire.AdminMessage{Which: meshwire.AdminRemoveByNodenum, RemoveByNodenum: node}
	frame, _ := meshwire.EncodeAdminPacket(s.ids, s.LocalNode, node, admin, key)
	if err := s.FrameSender.SendFrame(ctx, frame); err != nil {
		s.logger().Warn("key-repair: remove-node send failed", "node", model.IDString(node), "err", err)
		return
	}
	// A final NodeInfo exchange after the remove-node command gives the
	// node one more chance to re-announce with a corrected key instead of
	// silently vanishing from the roster (§4.8).
	final, _ := meshwire.EncodeNodeInfoRequest(s.ids, s.LocalNode, node)
	if err := s.FrameSender.SendFrame(ctx, final); err != nil {
		s.logger().Warn("key-repair: post-removal nodeinfo request failed", "node", model.IDString(node), "err", err)
	}
}

// runLocalStats requests telemetry from the local node and snapshots
// active/direct node counts as synthetic telemetry (§4.8).
func (s *Scheduler) runLocalStats(ctx context.Context) {
	frame, _ := meshwire.EncodeTelemetryRequest(s.ids, s.LocalNode, s.LocalNode)
	if err := s.FrameSender.SendFrame(ctx, frame); err != nil {
		s.logger().Warn("local-stats: telemetry request failed", "err", err)
	}
	nodes, err := s.Store.ListActiveNodes(ctx, 24)
	if err != nil {
		return
	}
	direct := 0
	for _, n := range nodes {
		if n.HopsAway == 0 {
			direct++
		}
	}
	now := s.now().Unix()
	if err := s.Store.InsertTelemetry(ctx, model.TelemetryPoint{Node: s.LocalNode, Type: model.TelemetryTypeActiveNodes, Timestamp: now, Value: float64(len(nodes))}); err != nil {
		s.logger().Warn("local-stats: active-nodes telemetry failed", "err", err)
	}
	if err := s.Store.InsertTelemetry(ctx, model.TelemetryPoint{Node: s.LocalNode, Type: model.TelemetryTypeDirectNodes, Timestamp: now, Value: float64(direct)}); err != nil {
		s.logger().Warn("local-stats: direct-nodes telemetry failed", "err", err)
	}
}

// runTimeOffsetFlush averages the collected wall-clock/rxTime samples
// and emits one telemetry point, clearing the buffer (§4.8).
func (s *Scheduler) runTimeOffsetFlush(ctx context.Context) {
	avg, ok := s.offsets.FlushAverage()
	if !ok {
		return
	}
	err := s.Store.InsertTelemetry(ctx, model.TelemetryPoint{
		Node: s.LocalNode, Type: model.TelemetryTypeClockOffset, Timestamp: s.now().Unix(), Value: avg,
	})
	if err != nil {
		s.logger().Warn("time-offset flush failed", "err", err)
	}
}

const startupAnnounceSettingKey = "scheduler.last_startup_announce"

// scheduleAnnounce wires the interval- or cron-based announce task
// (§4.8).
func (s *Scheduler) scheduleAnnounce(ctx context.Context, sch gocron.Scheduler) error {
	cfg := s.Cfg.Announce
	if cfg.Cron == "" && cfg.IntervalMinutes <= 0 {
		return nil
	}
	run := func() {
		if !s.connected() || !withinWindow(cfg.Window, s.now()) {
			return
		}
		s.runAnnounce(ctx)
	}
	if cfg.Cron != "" {
		_, err := sch.NewJob(gocron.CronJob(cfg.Cron, false), gocron.NewTask(run), gocron.WithName("announce"))
		return err
	}
	interval := time.Duration(cfg.IntervalMinutes) * time.Minute
	_, err := sch.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(run),
		gocron.WithName("announce"),
		gocron.WithStartAt(gocron.WithStartDateTime(s.now().Add(jitter(interval)))),
	)
	return err
}

// runAnnounce emits the token-expanded announce message and optionally
// broadcasts NodeInfo across a configured channel list with a delay
// between channels (§4.8), subject to the startup spam-guard.
func (s *Scheduler) runAnnounce(ctx context.Context) {
	if s.StartedAt.After(s.now().Add(-s.Cfg.StartupAnnounceGuard)) {
		last, ok, err := s.Store.GetSetting(ctx, startupAnnounceSettingKey)
		if err == nil && ok {
			if lastAt, perr := time.Parse(time.RFC3339, last); perr == nil && s.now().Sub(lastAt) < s.Cfg.StartupAnnounceGuard {
				return
			}
		}
	}
	_ = s.Store.SetSetting(ctx, startupAnnounceSettingKey, s.now().Format(time.RFC3339))

	cfg := s.Cfg.Announce
	if cfg.Message != "" && s.Sender != nil {
		channel := int32(0)
		if len(cfg.Channels) > 0 {
			channel = cfg.Channels[0]
		}
		text := tokens.Expand(cfg.Message, s.tokenValues(ctx, channel))
		if _, err := s.Sender.Enqueue(ctx, delivery.SendRequest{Text: text, Channel: channel}); err != nil {
			s.logger().Warn("announce: send failed", "err", err)
		}
	}
	if cfg.BroadcastNodeInfo {
		for i, ch := range cfg.Channels {
			if i > 0 && cfg.ChannelDelay > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(cfg.ChannelDelay):
				}
			}
			// NodeInfo broadcast carries no channel parameter of its own;
			// looping per configured channel models a multi-channel radio.
			frame, _ := meshwire.EncodeNodeInfoRequest(s.ids, s.LocalNode, meshwire.NodeNumBroadcast32)
			if err := s.FrameSender.SendFrame(ctx, frame); err != nil {
				s.logger().Warn("announce: nodeinfo broadcast failed", "channel", ch, "err", err)
			}
		}
	}
}

// runTimer executes one user cron entry: a token-expanded text send, or
// a script whose stdout is forwarded to the configured channel (§4.8).
// Script entries run through the same ScriptRunner/environment contract
// (§6) as the auto-responder's trigger scripts.
func (s *Scheduler) runTimer(ctx context.Context, te TimerEntry) {
	var texts []string
	if te.Script != "" {
		responses, err := s.runTimerScript(ctx, te)
		if err != nil {
			s.logger().Warn("timer: script failed", "name", te.Name, "err", err)
			return
		}
		if len(responses) == 0 {
			return
		}
		texts = responses
	} else if te.Text != "" {
		texts = []string{tokens.Expand(te.Text, s.tokenValues(ctx, te.Channel))}
	} else {
		return
	}
	if s.Sender == nil {
		return
	}
	for _, text := range texts {
		if _, err := s.Sender.Enqueue(ctx, delivery.SendRequest{Text: text, Channel: te.Channel}); err != nil {
			s.logger().Warn("timer: send failed", "name", te.Name, "err", err)
		}
	}
}

// runTimerScript runs te.Script through the injected ScriptRunner with
// the §6 script environment contract (minus the per-message fields a
// scheduled timer has no trigger for), and parses its stdout the same
// way the auto-responder does.
func (s *Scheduler) runTimerScript(ctx context.Context, te TimerEntry) ([]string, error) {
	if s.Scripts == nil {
		return nil, fmt.Errorf("scheduler: timer %q has a script but no script runner is configured", te.Name)
	}
	env := map[string]string{
		"TRIGGER":         te.Name,
		"MESHTASTIC_IP":   s.Cfg.LocalIP,
		"MESHTASTIC_PORT": strconv.Itoa(s.Cfg.LocalPort),
		"MSG_CHANNEL":     strconv.Itoa(int(te.Channel)),
	}
	if local, ok, err := s.Store.GetNode(ctx, s.LocalNode); err == nil && ok {
		env["LOCAL_LAT"] = strconv.FormatFloat(local.Latitude, 'f', -1, 64)
		env["LOCAL_LON"] = strconv.FormatFloat(local.Longitude, 'f', -1, 64)
		env["LOCAL_LONG_NAME"] = local.LongName
	}
	out, err := s.Scripts.Run(ctx, te.Script, env)
	if err != nil {
		return nil, err
	}
	return responder.ParseScriptOutput(out)
}
