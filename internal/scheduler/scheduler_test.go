package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dpaschal/meshcore-gateway/internal/delivery"
	"github.com/dpaschal/meshcore-gateway/internal/meshwire"
	"github.com/dpaschal/meshcore-gateway/internal/model"
)

func TestWithinWindowNoWindowAlwaysPasses(t *testing.T) {
	if !withinWindow(Window{}, time.Now()) {
		t.Fatal("empty window should always pass")
	}
}

func TestWithinWindowSimpleRange(t *testing.T) {
	w := Window{Start: "09:00", End: "17:00"}
	in := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	out := time.Date(2026, 1, 1, 20, 0, 0, 0, time.UTC)
	if !withinWindow(w, in) {
		t.Fatal("expected 12:00 to be within 09:00-17:00")
	}
	if withinWindow(w, out) {
		t.Fatal("expected 20:00 to be outside 09:00-17:00")
	}
}

func TestWithinWindowSpansMidnight(t *testing.T) {
	w := Window{Start: "22:00", End: "02:00"}
	late := time.Date(2026, 1, 1, 23, 30, 0, 0, time.UTC)
	early := time.Date(2026, 1, 1, 1, 30, 0, 0, time.UTC)
	mid := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	if !withinWindow(w, late) || !withinWindow(w, early) {
		t.Fatal("expected overnight window to include both sides of midnight")
	}
	if withinWindow(w, mid) {
		t.Fatal("expected midday to fall outside an overnight window")
	}
}

func TestJitterBounded(t *testing.T) {
	interval := time.Minute
	for i := 0; i < 50; i++ {
		j := jitter(interval)
		if j < 0 || j > interval {
			t.Fatalf("jitter %v out of bounds for interval %v", j, interval)
		}
	}
	j := jitter(time.Hour)
	if j < 0 || j > 5*time.Minute {
		t.Fatalf("jitter %v should be capped at 5 minutes for long intervals", j)
	}
}

type fakeStore struct {
	mu       sync.Mutex
	nodes    map[uint32]*model.Node
	settings map[string]string
	tele     []model.TelemetryPoint
	traces   map[uint32]int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		nodes:    map[uint32]*model.Node{},
		settings: map[string]string{},
		traces:   map[uint32]int64{},
	}
}

func (f *fakeStore) ListActiveNodes(ctx context.Context, maxAgeHours int) ([]*model.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*model.Node, 0, len(f.nodes))
	for _, n := range f.nodes {
		out = append(out, n)
	}
	return out, nil
}

func (f *fakeStore) GetNode(ctx context.Context, num uint32) (*model.Node, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.nodes[num]
	return n, ok, nil
}

func (f *fakeStore) UpsertNode(ctx context.Context, n *model.Node) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nodes[n.Num] = n
	return nil
}

func (f *fakeStore) InsertTelemetry(ctx context.Context, p model.TelemetryPoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tele = append(f.tele, p)
	return nil
}

func (f *fakeStore) RecordAutoTraceroute(ctx context.Context, node uint32, at int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.traces[node] = at
	return nil
}

func (f *fakeStore) GetSetting(ctx context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.settings[key]
	return v, ok, nil
}

func (f *fakeStore) SetSetting(ctx context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settings[key] = value
	return nil
}

type fakeFrameSender struct {
	mu   sync.Mutex
	sent int
	fail bool
}

func (f *fakeFrameSender) SendFrame(ctx context.Context, body []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("send failed")
	}
	f.sent++
	return nil
}

type fakeLinkQuality struct {
	quality map[uint32]int
	timedOut []uint32
}

func (f *fakeLinkQuality) Quality(node uint32) (int, bool) {
	v, ok := f.quality[node]
	return v, ok
}

func (f *fakeLinkQuality) OnTracerouteTimeout(node uint32) {
	f.timedOut = append(f.timedOut, node)
}

type fakeSender struct {
	mu  sync.Mutex
	req []delivery.SendRequest
}

func (f *fakeSender) Enqueue(ctx context.Context, req delivery.SendRequest) (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.req = append(f.req, req)
	return uint32(len(f.req)), nil
}

func newTestScheduler(st *fakeStore) *Scheduler {
	s := New(DefaultConfig(), st, 1)
	s.ids = meshwire.NewPacketIDGenerator()
	return s
}

func TestPickTracerouteTargetPrefersLowestQuality(t *testing.T) {
	st := newFakeStore()
	st.nodes[2] = &model.Node{Num: 2, LastHeard: 100}
	st.nodes[3] = &model.Node{Num: 3, LastHeard: 200}
	s := newTestScheduler(st)
	s.LinkQual = &fakeLinkQuality{quality: map[uint32]int{2: 80, 3: 20}}

	target, ok := s.pickTracerouteTarget([]*model.Node{st.nodes[2], st.nodes[3]})
	if !ok || target != 3 {
		t.Fatalf("expected node 3 (lowest quality), got %d ok=%v", target, ok)
	}
}

func TestPickTracerouteTargetSkipsOutstanding(t *testing.T) {
	st := newFakeStore()
	st.nodes[2] = &model.Node{Num: 2}
	s := newTestScheduler(st)
	s.outstandingTraceroutes[2] = time.Now()

	_, ok := s.pickTracerouteTarget([]*model.Node{st.nodes[2]})
	if ok {
		t.Fatal("expected no target when the only candidate has an outstanding request")
	}
}

func TestRunTraceroutePopulatesOutstandingAndRecordsStore(t *testing.T) {
	st := newFakeStore()
	st.nodes[2] = &model.Node{Num: 2}
	s := newTestScheduler(st)
	fs := &fakeFrameSender{}
	s.FrameSender = fs

	s.runTraceroute(context.Background())

	if fs.sent != 1 {
		t.Fatalf("expected 1 frame sent, got %d", fs.sent)
	}
	if _, ok := s.outstandingTraceroutes[2]; !ok {
		t.Fatal("expected node 2 marked outstanding")
	}
	if _, ok := st.traces[2]; !ok {
		t.Fatal("expected store to record the auto traceroute")
	}
}

func TestSweepTracerouteTimeoutsPenalizesStale(t *testing.T) {
	st := newFakeStore()
	s := newTestScheduler(st)
	lq := &fakeLinkQuality{quality: map[uint32]int{}}
	s.LinkQual = lq
	s.outstandingTraceroutes[5] = time.Now().Add(-10 * time.Minute)
	s.outstandingTraceroutes[6] = time.Now()

	s.sweepTracerouteTimeouts()

	if len(lq.timedOut) != 1 || lq.timedOut[0] != 5 {
		t.Fatalf("expected only node 5 timed out, got %v", lq.timedOut)
	}
	if _, ok := s.outstandingTraceroutes[6]; !ok {
		t.Fatal("recent outstanding traceroute should not be swept")
	}
}

func TestNotifyTracerouteResponseClearsOutstanding(t *testing.T) {
	st := newFakeStore()
	s := newTestScheduler(st)
	s.outstandingTraceroutes[7] = time.Now()
	s.NotifyTracerouteResponse(7)
	if _, ok := s.outstandingTraceroutes[7]; ok {
		t.Fatal("expected outstanding traceroute to be cleared")
	}
}

func TestRunLocalStatsRecordsActiveAndDirectCounts(t *testing.T) {
	st := newFakeStore()
	st.nodes[1] = &model.Node{Num: 1, HopsAway: 0}
	st.nodes[2] = &model.Node{Num: 2, HopsAway: 2}
	s := newTestScheduler(st)
	s.FrameSender = &fakeFrameSender{}

	s.runLocalStats(context.Background())

	var activeFound, directFound bool
	for _, p := range st.tele {
		if p.Type == model.TelemetryTypeActiveNodes && p.Value == 2 {
			activeFound = true
		}
		if p.Type == model.TelemetryTypeDirectNodes && p.Value == 1 {
			directFound = true
		}
	}
	if !activeFound || !directFound {
		t.Fatalf("expected active(2) and direct(1) telemetry points, got %+v", st.tele)
	}
}

func TestRunTimeOffsetFlushSkipsWhenNoSamples(t *testing.T) {
	st := newFakeStore()
	s := newTestScheduler(st)
	s.runTimeOffsetFlush(context.Background())
	if len(st.tele) != 0 {
		t.Fatalf("expected no telemetry written with no samples, got %+v", st.tele)
	}
}

func TestRunTimeOffsetFlushWritesAverage(t *testing.T) {
	st := newFakeStore()
	s := newTestScheduler(st)
	s.offsets.Observe(1000, 995)
	s.offsets.Observe(1000, 990)

	s.runTimeOffsetFlush(context.Background())

	if len(st.tele) != 1 || st.tele[0].Type != model.TelemetryTypeClockOffset {
		t.Fatalf("expected one clock-offset point, got %+v", st.tele)
	}
	if st.tele[0].Value != 7.5 {
		t.Fatalf("expected average offset 7.5, got %v", st.tele[0].Value)
	}
}

func TestRunTimerSendsTokenExpandedText(t *testing.T) {
	st := newFakeStore()
	st.nodes[1] = &model.Node{Num: 1, LongName: "Gateway"}
	s := newTestScheduler(st)
	sender := &fakeSender{}
	s.Sender = sender

	s.runTimer(context.Background(), TimerEntry{Name: "hello", Text: "hi from {LONG_NAME}", Channel: 2})

	if len(sender.req) != 1 {
		t.Fatalf("expected one send, got %d", len(sender.req))
	}
	if sender.req[0].Text != "hi from Gateway" {
		t.Fatalf("expected token expansion, got %q", sender.req[0].Text)
	}
	if sender.req[0].Channel != 2 {
		t.Fatalf("expected channel 2, got %d", sender.req[0].Channel)
	}
}

func TestRunTimerNoopWithoutTextOrScript(t *testing.T) {
	st := newFakeStore()
	s := newTestScheduler(st)
	sender := &fakeSender{}
	s.Sender = sender

	s.runTimer(context.Background(), TimerEntry{Name: "empty"})

	if len(sender.req) != 0 {
		t.Fatal("expected no send for an entry with neither text nor script")
	}
}

func TestRoundRobinAdvancesAndWraps(t *testing.T) {
	st := newFakeStore()
	s := newTestScheduler(st)
	nodes := []*model.Node{{Num: 2}, {Num: 3}, {Num: 4}}
	var cursor int
	seen := map[uint32]bool{}
	for i := 0; i < 3; i++ {
		n := s.roundRobin(nodes, &cursor)
		seen[n.Num] = true
	}
	if len(seen) != 3 {
		t.Fatalf("expected round-robin to visit all 3 nodes, got %v", seen)
	}
	n := s.roundRobin(nodes, &cursor)
	if !seen[n.Num] {
		t.Fatal("expected cursor to wrap back to a previously seen node")
	}
}
