// Package hub implements the Virtual-Node Broadcast Hub (§4.9): it
// captures every frame observed between a want-config request and the
// configComplete sentinel, freezes that sequence as the init replay set,
// and fans live frames out to any number of virtual-node subscribers —
// letting external Meshtastic client applications share the one physical
// radio (§1). Grounded on the teacher's `public/emulated/emulated.go`
// `fromRadioSubscribers` channel-fan-out pattern, generalized from a
// single emulated radio's live stream to the spec's capture-then-replay
// contract.
package hub

import (
	"sync"

	"github.com/charmbracelet/log"

	"github.com/dpaschal/meshcore-gateway/internal/meshwire"
)

// capturedFrame is one frame recorded during the init-config window.
type capturedFrame struct {
	kind meshwire.Kind
	raw  []byte
}

// Hub owns the init-config cache and the live subscriber set (§3, §9).
// Both are confined to this component; the cache is cleared on physical
// disconnect or an observed node-number change, per §4.9.
type Hub struct {
	Logger *log.Logger

	mu          sync.Mutex
	capturing   bool
	replay      []capturedFrame
	subscribers map[chan []byte]struct{}
	localNode   uint32
	haveNode    bool
}

// New builds an empty hub with no live subscribers and no captured init
// sequence.
func New() *Hub {
	return &Hub{subscribers: map[chan []byte]struct{}{}}
}

func (h *Hub) logger() *log.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return log.Default()
}

// BeginCapture starts a fresh init-config capture window, called when a
// want-config request is sent to the radio (§3, §4.9).
func (h *Hub) BeginCapture() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.capturing = true
	h.replay = nil
}

// Observe records an inbound frame into the init-config cache if a
// capture window is open, and live-broadcasts it to subscribers unless
// it is a channel-typed frame — those are delivered only through the
// controlled init replay, never live, because broadcasting them live
// made clients render empty channel names (§4.9).
func (h *Hub) Observe(kind meshwire.Kind, raw []byte) {
	h.mu.Lock()
	if h.capturing {
		h.replay = append(h.replay, capturedFrame{kind: kind, raw: raw})
		if kind == meshwire.KindConfigComplete {
			h.capturing = false
		}
	}
	h.mu.Unlock()

	if kind == meshwire.KindChannel {
		return
	}
	h.broadcast(raw)
}

// ObserveOutgoing offers a frame the gateway itself emitted (text
// message, traceroute request, admin request) to the hub so subscribers
// see the full bidirectional stream (§4.9).
func (h *Hub) ObserveOutgoing(raw []byte) {
	h.broadcast(raw)
}

func (h *Hub) broadcast(raw []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subscribers {
		select {
		case ch <- raw:
		default:
			// Slow subscriber: drop rather than block the radio link
			// (§5 backpressure policy — readers never block writers).
			h.logger().Warn("virtual node subscriber dropped a frame, channel full")
		}
	}
}

// Subscribe registers a new live subscriber and returns the frozen init
// replay set (in capture order) alongside a channel that will carry
// every subsequently broadcast frame, and an unsubscribe function the
// caller must call exactly once when done (§4.9, §8 replay determinism).
func (h *Hub) Subscribe(buffer int) (replay [][]byte, live <-chan []byte, unsubscribe func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	frames := make([][]byte, len(h.replay))
	for i, f := range h.replay {
		frames[i] = f.raw
	}
	ch := make(chan []byte, buffer)
	h.subscribers[ch] = struct{}{}
	return frames, ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subscribers[ch]; ok {
			delete(h.subscribers, ch)
			close(ch)
		}
	}
}

// Reset discards the init-config cache, used on physical-node disconnect
// and whenever the observed node-number changes across reconnects
// (§4.9: "the radio was swapped or reset").
func (h *Hub) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.capturing = false
	h.replay = nil
}

// NoteNodeNumber records the physical radio's node-number as observed on
// this connection, discarding the cache if it differs from the number
// seen on the previous connection (§4.9).
func (h *Hub) NoteNodeNumber(num uint32) {
	h.mu.Lock()
	changed := h.haveNode && h.localNode != num
	h.localNode = num
	h.haveNode = true
	h.mu.Unlock()
	if changed {
		h.Reset()
	}
}
