// Package estimator implements the Position Estimator (§4.10): for each
// intermediate node on a traceroute path that lacks its own GPS fix, it
// derives an SNR-weighted estimate from its immediate path neighbors and
// blends it with that node's recent estimate history using exponential
// time decay.
package estimator

import (
	"context"
	"math"

	"github.com/charmbracelet/log"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jonboulle/clockwork"

	"github.com/dpaschal/meshcore-gateway/internal/model"
)

// HistoryWindow is the maximum number of prior estimates blended into a
// new one per node (§4.10: "the most recent ≤10 prior estimates").
const HistoryWindow = 10

// HalfLifeSeconds is the exponential-decay half-life applied to history
// entries when blending (§4.10: 24h).
const HalfLifeSeconds = 24 * 3600

// Store is the subset of store.Port the estimator needs: current node
// positions (to tell a real GPS fix from "needs an estimate") and
// telemetry inserts for the derived estimates.
type Store interface {
	GetNode(ctx context.Context, num uint32) (*model.Node, bool, error)
	InsertTelemetry(ctx context.Context, p model.TelemetryPoint) error
}

type sample struct {
	lat, lon float64
	at       int64
}

// Estimator is the Position Estimator (C10). A single instance is safe
// for the engine's single-worker dispatch; history is bounded per-node by
// an LRU cache over distinct nodes tracked, matching §9's bounded-memory
// components.
type Estimator struct {
	Store  Store
	Clock  clockwork.Clock
	Logger *log.Logger

	history *lru.Cache[uint32, []sample]
}

// New builds an Estimator tracking history for up to maxNodes distinct
// nodes at once.
func New(st Store, clock clockwork.Clock, maxNodes int) *Estimator {
	c, err := lru.New[uint32, []sample](maxNodes)
	if err != nil {
		panic(err)
	}
	return &Estimator{Store: st, Clock: clock, history: c}
}

func (e *Estimator) logger() *log.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return log.Default()
}

func (e *Estimator) now() int64 {
	if e.Clock != nil {
		return e.Clock.Now().Unix()
	}
	return 0
}

// EstimateFromTraceroute implements engine.PositionEstimator: it walks
// both the forward and return routes of tr (§4.10: "process both forward
// and return routes").
func (e *Estimator) EstimateFromTraceroute(ctx context.Context, tr model.Traceroute) error {
	forward := buildPath(tr.FromNode, tr.Route, tr.ToNode)
	if err := e.processPath(ctx, forward, tr.SNRTowards); err != nil {
		return err
	}
	back := buildPath(tr.ToNode, tr.RouteBack, tr.FromNode)
	return e.processPath(ctx, back, tr.SNRBack)
}

func buildPath(from uint32, hops []uint32, to uint32) []uint32 {
	path := make([]uint32, 0, len(hops)+2)
	path = append(path, from)
	path = append(path, hops...)
	path = append(path, to)
	return path
}

type nodeFix struct {
	hasFix   bool
	lat, lon float64
}

// processPath estimates a position for every intermediate, GPS-less node
// on path, weighting its immediate neighbors by SNR (§4.10).
func (e *Estimator) processPath(ctx context.Context, path []uint32, snr []int32) error {
	if len(path) < 3 {
		return nil
	}
	fixes := make([]nodeFix, len(path))
	for i, num := range path {
		n, ok, err := e.Store.GetNode(ctx, num)
		if err != nil {
			return err
		}
		if ok && n.PositionTime != 0 {
			fixes[i] = nodeFix{hasFix: true, lat: n.Latitude, lon: n.Longitude}
		}
	}

	for i := 1; i < len(path)-1; i++ {
		if fixes[i].hasFix {
			continue
		}
		prevLat, prevLon, prevOK := e.positionOf(path[i-1], fixes[i-1])
		nextLat, nextLon, nextOK := e.positionOf(path[i+1], fixes[i+1])
		if !prevOK && !nextOK {
			continue
		}
		wPrev, wNext := 0.0, 0.0
		if prevOK {
			wPrev = snrWeight(snr, i-1)
		}
		if nextOK {
			wNext = snrWeight(snr, i)
		}
		if wPrev+wNext == 0 {
			wPrev, wNext = 1, 1 // midpoint fallback
		}
		newLat := (wPrev*prevLat + wNext*nextLat) / (wPrev + wNext)
		newLon := (wPrev*prevLon + wNext*nextLon) / (wPrev + wNext)

		blendLat, blendLon := e.blend(path[i], newLat, newLon)
		if err := e.writeEstimate(ctx, path[i], blendLat, blendLon); err != nil {
			e.logger().Warn("position estimate telemetry write failed", "node", model.IDString(path[i]), "err", err)
			continue
		}
		e.remember(path[i], blendLat, blendLon)
	}
	return nil
}

// positionOf resolves a path neighbor's usable position: its real fix if
// it has one, otherwise its own most recent estimate, otherwise unknown.
func (e *Estimator) positionOf(node uint32, fix nodeFix) (lat, lon float64, ok bool) {
	if fix.hasFix {
		return fix.lat, fix.lon, true
	}
	if hist, found := e.history.Get(node); found && len(hist) > 0 {
		return hist[0].lat, hist[0].lon, true
	}
	return 0, 0, false
}

// snrWeight converts a linear SNR (dB) at the given path segment index
// into a linear weight (10^(snr/10)); out-of-range indices (a missing
// reading) fall back to equal weighting.
func snrWeight(snr []int32, idx int) float64 {
	if idx < 0 || idx >= len(snr) {
		return 1
	}
	return math.Pow(10, float64(snr[idx])/10)
}

// blend combines a freshly computed estimate (weight 1) with up to
// HistoryWindow prior estimates for node, each decayed by elapsed time
// with a HalfLifeSeconds half-life (§4.10).
func (e *Estimator) blend(node uint32, newLat, newLon float64) (float64, float64) {
	hist, _ := e.history.Get(node)
	now := e.now()
	sumLat, sumLon, sumW := newLat, newLon, 1.0
	for _, s := range hist {
		dt := float64(now - s.at)
		w := math.Pow(0.5, dt/HalfLifeSeconds)
		sumLat += w * s.lat
		sumLon += w * s.lon
		sumW += w
	}
	return sumLat / sumW, sumLon / sumW
}

// remember pushes a new estimate onto node's bounded history, evicting
// the oldest once HistoryWindow is exceeded.
func (e *Estimator) remember(node uint32, lat, lon float64) {
	hist, _ := e.history.Get(node)
	next := make([]sample, 0, HistoryWindow)
	next = append(next, sample{lat: lat, lon: lon, at: e.now()})
	if len(hist) > HistoryWindow-1 {
		hist = hist[:HistoryWindow-1]
	}
	next = append(next, hist...)
	e.history.Add(node, next)
}

func (e *Estimator) writeEstimate(ctx context.Context, node uint32, lat, lon float64) error {
	now := e.now()
	if err := e.Store.InsertTelemetry(ctx, model.TelemetryPoint{
		Node: node, Type: model.TelemetryTypeEstimatedLatitude, Timestamp: now, Value: lat,
	}); err != nil {
		return err
	}
	return e.Store.InsertTelemetry(ctx, model.TelemetryPoint{
		Node: node, Type: model.TelemetryTypeEstimatedLongitude, Timestamp: now, Value: lon,
	})
}
