// Package scheduler implements the Scheduler Set (§4.8): cooperative
// periodic tasks — traceroute, time-sync, remote-admin scan, key-repair,
// local-stats, time-offset flush, announce, user timers, and the
// geofence engine's while-inside timers — each gated by connection state
// and an optional daily schedule window, jittered on startup. Grounded
// on the teacher's `public/emulated/emulated.go` `errgroup`-supervised
// lifecycle and the pack's `go-co-op/gocron/v2` usage
// (USA-RedDragon-DMRHub's netscheduler) for fixed-interval jobs, plus
// `robfig/cron/v3` for user cron entries.
package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"

	"github.com/dpaschal/meshcore-gateway/internal/delivery"
	"github.com/dpaschal/meshcore-gateway/internal/geofence"
	"github.com/dpaschal/meshcore-gateway/internal/meshwire"
	"github.com/dpaschal/meshcore-gateway/internal/model"
	"github.com/dpaschal/meshcore-gateway/internal/notify"
	"github.com/dpaschal/meshcore-gateway/internal/responder"
	"github.com/dpaschal/meshcore-gateway/internal/tokens"
	"github.com/dpaschal/meshcore-gateway/internal/transport"
)

// Window is a daily HH:MM-HH:MM schedule window (§4.8).
type Window struct {
	Start, End string // "" disables the window check (always eligible)
}

// withinWindow reports whether now falls inside w, in now's own location.
// An empty window always passes.
func withinWindow(w Window, now time.Time) bool {
	if w.Start == "" || w.End == "" {
		return true
	}
	start, err1 := time.ParseInLocation("15:04", w.Start, now.Location())
	end, err2 := time.ParseInLocation("15:04", w.End, now.Location())
	if err1 != nil || err2 != nil {
		return true // invalid window configured: fail open rather than never firing (§7)
	}
	cur := now.Hour()*60 + now.Minute()
	startMin := start.Hour()*60 + start.Minute()
	endMin := end.Hour()*60 + end.Minute()
	if startMin <= endMin {
		return cur >= startMin && cur <= endMin
	}
	// window spans midnight
	return cur >= startMin || cur <= endMin
}

// TaskConfig is the common (interval, window) shape every task shares.
type TaskConfig struct {
	IntervalMinutes int // 0 disables the task
	Window          Window
}

func (c TaskConfig) enabled() bool { return c.IntervalMinutes > 0 }

// TimerEntry is one user cron entry (§4.8 "Timers").
type TimerEntry struct {
	Name    string
	Cron    string // standard 5-field cron expression
	Text    string // token-expanded text, mutually exclusive with Script
	Script  string
	Channel int32
}

// AnnounceConfig configures the periodic/cron NodeInfo + message announce.
type AnnounceConfig struct {
	TaskConfig
	Cron              string // if set, takes priority over IntervalMinutes
	Message           string
	Channels          []int32
	ChannelDelay      time.Duration
	BroadcastNodeInfo bool
}

// Config is the full Scheduler Set configuration. Every *Config field's
// zero value disables that task (§4.8: "0 = disabled").
type Config struct {
	Traceroute      TaskConfig
	TimeSync        TaskConfig
	RemoteAdminScan TaskConfig
	KeyRepair       TaskConfig
	LocalStats      TaskConfig
	TimeOffsetFlush TaskConfig // spec fixes this at 5 minutes but the knob is still honored
	Announce        AnnounceConfig
	Timers          []TimerEntry

	// KeyRepairCeiling bounds the number of NodeInfo-exchange retries
	// before a remove-node admin command is optionally issued.
	KeyRepairCeiling int
	KeyRepairRemove  bool

	// StartupAnnounceGuard is the startup spam-guard window (§4.8): during
	// this long after boot, an announce is skipped if the previous one
	// recorded in the store was sent less than this long ago.
	StartupAnnounceGuard time.Duration

	Version  string
	Features string
	LocalIP  string
	LocalPort int
}

// DefaultConfig fills in the spec's literal defaults where it states
// one (time-offset flush at 5 minutes; 1h startup-announce guard).
func DefaultConfig() Config {
	return Config{
		TimeOffsetFlush:      TaskConfig{IntervalMinutes: 5},
		StartupAnnounceGuard: time.Hour,
		KeyRepairCeiling:     5,
	}
}

// Store is the slice of the Store Port the scheduler needs.
type Store interface {
	ListActiveNodes(ctx context.Context, maxAgeHours int) ([]*model.Node, error)
	GetNode(ctx context.Context, num uint32) (*model.Node, bool, error)
	UpsertNode(ctx context.Context, n *model.Node) error
	InsertTelemetry(ctx context.Context, p model.TelemetryPoint) error
	RecordAutoTraceroute(ctx context.Context, node uint32, at int64) error
	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error
}

// LinkQuality is the slice of the link-quality table the scheduler needs.
type LinkQuality interface {
	OnTracerouteTimeout(node uint32)
	Quality(node uint32) (int, bool)
}

// Admin is the slice of the Session/Admin Controller the scheduler needs.
type Admin interface {
	RequestDeviceMetadata(ctx context.Context, node uint32) (*meshwire.DeviceMetadata, error)
	EnsureSessionKey(ctx context.Context, node uint32) ([]byte, error)
}

// FrameSender transmits a raw encoded ToRadio body (admin/traceroute
// requests, which don't go through the Delivery Tracker's message path).
type FrameSender interface {
	SendFrame(ctx context.Context, body []byte) error
}

// RateLimiter lets the scheduler's own raw sends share the Send Queue's
// single global rate budget (§4.7: "any externally emitted send ...
// records its timestamp into the same interval").
type RateLimiter interface {
	Throttle(ctx context.Context) error
}

// Sender is the slice of the Delivery Tracker used for token-expanded
// scheduler sends (announce, timers).
type Sender interface {
	Enqueue(ctx context.Context, req delivery.SendRequest) (uint32, error)
}

// ConnChecker reports the transport's current status so tasks can skip
// silently while disconnected (§4.8).
type ConnChecker interface {
	Status() transport.Status
}

// Scheduler owns every periodic task in the Scheduler Set.
type Scheduler struct {
	Cfg Config

	Store       Store
	LinkQual    LinkQuality
	Admin       Admin
	FrameSender FrameSender
	Limiter     RateLimiter
	Sender      Sender
	Scripts     responder.ScriptRunner
	Notify      notify.Notifier
	Geofence    *geofence.Engine
	Clock       clockwork.Clock
	Logger      *log.Logger

	LocalNode uint32
	StartedAt time.Time

	offsets                *OffsetSampler
	gocron                 gocron.Scheduler
	userCron               *cron.Cron
	ids                    *meshwire.PacketIDGenerator
	adminScanCursor        int
	timeSyncCursor         int
	keyRepairTries         map[uint32]int
	outstandingTraceroutes map[uint32]time.Time
}

// New builds a Scheduler. Call Start to begin running tasks.
func New(cfg Config, st Store, localNode uint32) *Scheduler {
	return &Scheduler{
		Cfg:            cfg,
		Store:          st,
		LocalNode:      localNode,
		StartedAt:      time.Now(),
		offsets:                NewOffsetSampler(),
		ids:                    meshwire.NewPacketIDGenerator(),
		keyRepairTries:         map[uint32]int{},
		outstandingTraceroutes: map[uint32]time.Time{},
	}
}

// Offsets exposes the time-offset sample collector so the engine can be
// wired to feed it (engine.OffsetSampler).
func (s *Scheduler) Offsets() *OffsetSampler { return s.offsets }

func (s *Scheduler) logger() *log.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return log.Default()
}

func (s *Scheduler) now() time.Time {
	if s.Clock != nil {
		return s.Clock.Now()
	}
	return time.Now()
}

// connected reports whether the transport is currently up; tasks skip
// silently otherwise (§4.8).
func (s *Scheduler) connected() bool {
	if s.FrameSender == nil {
		return false
	}
	cc, ok := s.FrameSender.(ConnChecker)
	if !ok {
		return true // no status surface wired, assume usable
	}
	return cc.Status() == transport.StatusConnected
}

// jitter returns a random delay up to min(interval, 5min), for the
// startup stagger described in §4.8.
func jitter(interval time.Duration) time.Duration {
	bound := 5 * time.Minute
	if interval < bound {
		bound = interval
	}
	if bound <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(bound)))
}

// Start launches every enabled task as a gocron job, plus the robfig
// cron runner for user timer entries, plus a per-fence while-inside
// timer for every enabled geofence with one configured.
func (s *Scheduler) Start(ctx context.Context) error {
	sch, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("scheduler: create gocron scheduler: %w", err)
	}
	s.gocron = sch

	type taskDef struct {
		name string
		cfg  TaskConfig
		run  func(context.Context)
	}
	tasks := []taskDef{
		{"traceroute", s.Cfg.Traceroute, s.runTraceroute},
		{"time-sync", s.Cfg.TimeSync, s.runTimeSync},
		{"remote-admin-scan", s.Cfg.RemoteAdminScan, s.runRemoteAdminScan},
		{"key-repair", s.Cfg.KeyRepair, s.runKeyRepair},
		{"local-stats", s.Cfg.LocalStats, s.runLocalStats},
		{"time-offset-flush", s.Cfg.TimeOffsetFlush, s.runTimeOffsetFlush},
	}
	for _, t := range tasks {
		if !t.cfg.enabled() {
			continue
		}
		interval := time.Duration(t.cfg.IntervalMinutes) * time.Minute
		win := t.cfg.Window
		run := t.run
		wrapped := func() {
			if !s.connected() || !withinWindow(win, s.now()) {
				return
			}
			run(ctx)
		}
		_, err := sch.NewJob(
			gocron.DurationJob(interval),
			gocron.NewTask(wrapped),
			gocron.WithName(t.name),
			gocron.WithStartAt(gocron.WithStartDateTime(s.now().Add(jitter(interval)))),
		)
		if err != nil {
			return fmt.Errorf("scheduler: schedule %s: %w", t.name, err)
		}
	}

	if err := s.scheduleAnnounce(ctx, sch); err != nil {
		return err
	}

	if s.Geofence != nil {
		for _, f := range s.Geofence.Fences {
			if !f.Enabled || f.OnWhileInside == nil || f.WhileInsideInterval <= 0 {
				continue
			}
			fence := f
			_, err := sch.NewJob(
				gocron.DurationJob(fence.WhileInsideInterval),
				gocron.NewTask(func() {
					if !s.connected() {
						return
					}
					s.Geofence.FireWhileInside(ctx, fence)
				}),
				gocron.WithName("geofence-while-inside-"+fence.ID),
			)
			if err != nil {
				return fmt.Errorf("scheduler: schedule geofence %s while-inside timer: %w", fence.ID, err)
			}
		}
	}

	s.gocron.Start()

	s.userCron = cron.New()
	for _, te := range s.Cfg.Timers {
		entry := te
		if _, err := s.userCron.AddFunc(entry.Cron, func() {
			if !s.connected() {
				return
			}
			s.runTimer(ctx, entry)
		}); err != nil {
			s.logger().Warn("invalid timer cron expression, skipping", "name", entry.Name, "cron", entry.Cron, "err", err)
		}
	}
	s.userCron.Start()
	return nil
}

// Stop cleanly stops every scheduled task, leaking no timers (§5
// cancellation, §4.8 "cleanly stoppable").
func (s *Scheduler) Stop() error {
	if s.userCron != nil {
		cctx := s.userCron.Stop()
		<-cctx.Done()
	}
	if s.gocron != nil {
		return s.gocron.Shutdown()
	}
	return nil
}

func (s *Scheduler) tokenValues(ctx context.Context, channel int32) tokens.Values {
	v := tokens.Values{
		Channel:   strconv.Itoa(int(channel)),
		Transport: "tcp",
		Now:       s.now(),
		IP:        s.Cfg.LocalIP,
		Port:      s.Cfg.LocalPort,
		Version:   s.Cfg.Version,
		Features:  s.Cfg.Features,
		Duration:  s.now().Sub(s.StartedAt).Round(time.Second).String(),
	}
	if n, ok, err := s.Store.GetNode(ctx, s.LocalNode); err == nil && ok {
		v.LongName = n.LongName
		v.ShortName = n.ShortName
	}
	if active, err := s.Store.ListActiveNodes(ctx, 24); err == nil {
		v.NodeCount = len(active)
		for _, n := range active {
			if n.HopsAway == 0 {
				v.DirectCount++
			}
		}
	}
	return v
}
