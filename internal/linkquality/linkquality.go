// Package linkquality implements the Link-Quality Estimator (§4.10): the
// per-node [0..10] metric seeded from hop count and nudged by subsequent
// hop observations, traceroute timeouts, and PKI routing errors. It
// satisfies engine.LinkQualityTable.
package linkquality

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/jonboulle/clockwork"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/dpaschal/meshcore-gateway/internal/model"
)

// Store is the subset of store.Port the link-quality table needs: every
// change is appended as a telemetry point (§4.10).
type Store interface {
	InsertTelemetry(ctx context.Context, p model.TelemetryPoint) error
}

// Table is the shared, §9-confined link-quality state: mutated only from
// the engine/scheduler task, read by anything that renders it.
type Table struct {
	Store  Store
	Clock  clockwork.Clock
	Logger *log.Logger

	entries *xsync.Map[uint32, *model.LinkQuality]
}

// New builds an empty link-quality table.
func New(st Store, clock clockwork.Clock) *Table {
	return &Table{
		Store:   st,
		Clock:   clock,
		entries: xsync.NewMap[uint32, *model.LinkQuality](),
	}
}

func (t *Table) logger() *log.Logger {
	if t.Logger != nil {
		return t.Logger
	}
	return log.Default()
}

func (t *Table) now() int64 {
	if t.Clock != nil {
		return t.Clock.Now().Unix()
	}
	return 0
}

// get returns the existing entry for node, or seeds and stores a fresh
// one at InitialLinkQuality(hops) without applying an observation delta
// (the seed value already accounts for this first sighting).
func (t *Table) get(node uint32, hops uint32) (lq *model.LinkQuality, seeded bool) {
	if lq, ok := t.entries.Load(node); ok {
		return lq, false
	}
	lq = &model.LinkQuality{Node: node, Quality: model.InitialLinkQuality(hops), LastHops: hops}
	t.entries.Store(node, lq)
	return lq, true
}

// record appends the current quality as a telemetry point. Failures are
// logged and swallowed (§7: scheduled/derived-state work never propagates
// errors up to the engine).
func (t *Table) record(ctx context.Context, node uint32, quality int) {
	if t.Store == nil {
		return
	}
	err := t.Store.InsertTelemetry(ctx, model.TelemetryPoint{
		Node:      node,
		Type:      model.TelemetryTypeLinkQuality,
		Timestamp: t.now(),
		Value:     float64(quality),
	})
	if err != nil {
		t.logger().Warn("link quality telemetry write failed", "node", model.IDString(node), "err", err)
	}
}

// OnHopObservation implements engine.LinkQualityTable: adjusts quality
// for a new hop-count observation, seeding the entry on first sight.
func (t *Table) OnHopObservation(node uint32, hops uint32) {
	lq, seeded := t.get(node, hops)
	if !seeded {
		lq.OnHopObservation(hops)
	}
	t.record(context.Background(), node, lq.Quality)
}

// OnTracerouteTimeout implements engine.LinkQualityTable (§4.8 sweep: -2
// penalty for an unanswered traceroute).
func (t *Table) OnTracerouteTimeout(node uint32) {
	lq, seeded := t.get(node, 0)
	if !seeded {
		lq.OnTracerouteTimeout()
	}
	t.record(context.Background(), node, lq.Quality)
}

// OnPKIError implements engine.LinkQualityTable (§4.5/§4.10: -5 penalty
// for a PKI routing error against this node).
func (t *Table) OnPKIError(node uint32) {
	lq, seeded := t.get(node, 0)
	if !seeded {
		lq.OnPKIError()
	}
	t.record(context.Background(), node, lq.Quality)
}

// Quality returns the current quality value for node, and whether the
// node has been observed at all.
func (t *Table) Quality(node uint32) (int, bool) {
	lq, ok := t.entries.Load(node)
	if !ok {
		return 0, false
	}
	return lq.Quality, true
}
