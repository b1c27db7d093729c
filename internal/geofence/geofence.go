// Package geofence implements the Geofence Engine named in §4.8: a set
// of polygon boundaries evaluated against every position observation,
// firing entry/exit triggers on transition and supporting an additional
// "while-inside" timer-driven trigger per fence.
package geofence

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
)

// Point is a geographic coordinate in degrees.
type Point struct {
	Lat, Lon float64
}

// TriggerFunc is invoked for an entry, exit, or while-inside firing.
type TriggerFunc func(ctx context.Context, node uint32, fenceID string)

// Fence is one configured geofence boundary.
type Fence struct {
	ID      string
	Enabled bool

	// Vertices describes the fence polygon, closed implicitly (the last
	// vertex connects back to the first).
	Vertices []Point

	OnEnter       TriggerFunc
	OnExit        TriggerFunc
	OnWhileInside TriggerFunc // fired per currently-inside node by the scheduler's own per-fence timer

	// WhileInsideInterval is how often the scheduler's per-fence timer
	// calls FireWhileInside. Zero disables the while-inside timer even
	// if OnWhileInside is set.
	WhileInsideInterval time.Duration
}

// Contains reports whether p lies inside the fence polygon, using the
// standard ray-casting (even-odd) test.
func (f *Fence) Contains(p Point) bool {
	verts := f.Vertices
	if len(verts) < 3 {
		return false
	}
	inside := false
	j := len(verts) - 1
	for i := range verts {
		vi, vj := verts[i], verts[j]
		if (vi.Lon > p.Lon) != (vj.Lon > p.Lon) {
			x := (vj.Lat-vi.Lat)*(p.Lon-vi.Lon)/(vj.Lon-vi.Lon) + vi.Lat
			if p.Lat < x {
				inside = !inside
			}
		}
		j = i
	}
	return inside
}

// Engine evaluates every enabled fence against incoming position
// observations, tracking the current inside/outside state per (fence,
// node) pair. It is mutated only from the engine/scheduler task boundary
// (§9), so no locking is needed.
type Engine struct {
	Fences []*Fence
	Logger *log.Logger

	inside map[string]map[uint32]bool
}

// New builds an Engine over the given fence set.
func New(fences []*Fence) *Engine {
	return &Engine{Fences: fences, inside: map[string]map[uint32]bool{}}
}

func (e *Engine) logger() *log.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return log.Default()
}

func (e *Engine) setInside(fenceID string, node uint32, v bool) {
	m, ok := e.inside[fenceID]
	if !ok {
		m = map[uint32]bool{}
		e.inside[fenceID] = m
	}
	m[node] = v
}

// Seed computes each enabled fence's initial inside set from the given
// current node positions without firing any triggers (§4.8: "On boot,
// compute each enabled geofence's initial inside set ... no events
// fired").
func (e *Engine) Seed(positions map[uint32]Point) {
	for _, f := range e.Fences {
		if !f.Enabled {
			continue
		}
		for node, p := range positions {
			e.setInside(f.ID, node, f.Contains(p))
		}
	}
}

// OnPositionObservation implements engine.Geofence: evaluates every
// enabled fence against this observation, firing OnEnter/OnExit for any
// transition (§4.8).
func (e *Engine) OnPositionObservation(ctx context.Context, node uint32, lat, lon float64, _ int64) {
	p := Point{Lat: lat, Lon: lon}
	for _, f := range e.Fences {
		if !f.Enabled {
			continue
		}
		was := e.inside[f.ID][node]
		now := f.Contains(p)
		if was == now {
			continue
		}
		e.setInside(f.ID, node, now)
		if now {
			if f.OnEnter != nil {
				f.OnEnter(ctx, node, f.ID)
			}
		} else {
			if f.OnExit != nil {
				f.OnExit(ctx, node, f.ID)
			}
		}
	}
}

// InsideNodes returns the nodes currently considered inside fenceID, for
// the scheduler's while-inside timer to iterate (§4.8).
func (e *Engine) InsideNodes(fenceID string) []uint32 {
	m, ok := e.inside[fenceID]
	if !ok {
		return nil
	}
	out := make([]uint32, 0, len(m))
	for node, in := range m {
		if in {
			out = append(out, node)
		}
	}
	return out
}

// FireWhileInside runs f's OnWhileInside trigger for every node currently
// inside it, called by the scheduler on f's own timer (§4.8).
func (e *Engine) FireWhileInside(ctx context.Context, f *Fence) {
	if f == nil || f.OnWhileInside == nil {
		return
	}
	for _, node := range e.InsideNodes(f.ID) {
		f.OnWhileInside(ctx, node, f.ID)
	}
}
