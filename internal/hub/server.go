package hub

import (
	"context"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

// FrameSender forwards a client-originated ToRadio frame body to the
// physical radio (§6: "Inbound bytes from the client are forwarded raw
// to the radio as ToRadio frames").
type FrameSender interface {
	SendFrame(ctx context.Context, body []byte) error
}

// SubscriberBuffer bounds how many live frames queue for a slow virtual
// node client before Hub.broadcast starts dropping them.
const SubscriberBuffer = 64

// Server exposes a Hub over a websocket byte stream matching §6's
// virtual-node surface: init-replay frames first, then live frames, all
// in the same FromRadio framing the physical radio uses. Grounded on the
// teacher's `public/emulated/emulated.go` `handleConn`, which pairs an
// errgroup read-goroutine and write-goroutine over a single connection
// the same way.
type Server struct {
	Hub      *Hub
	Sender   FrameSender
	Upgrader websocket.Upgrader
	Logger   *log.Logger
}

// NewServer builds a Server accepting connections from any origin, since
// the virtual-node surface is a local bridge, not a public API.
func NewServer(h *Hub, sender FrameSender) *Server {
	return &Server{
		Hub:    h,
		Sender: sender,
		Upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (s *Server) logger() *log.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return log.Default()
}

// ServeHTTP upgrades the request to a websocket, replays the frozen
// init-config sequence, then bridges live frames and client writes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger().Warn("virtual node upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	replay, live, unsubscribe := s.Hub.Subscribe(SubscriberBuffer)
	defer unsubscribe()

	eg, ctx := errgroup.WithContext(r.Context())
	eg.Go(func() error {
		for _, frame := range replay {
			if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				return err
			}
		}
		for {
			select {
			case <-ctx.Done():
				return nil
			case frame, ok := <-live:
				if !ok {
					return nil
				}
				if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
					return err
				}
			}
		}
	})
	eg.Go(func() error {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return err
			}
			if err := s.Sender.SendFrame(ctx, data); err != nil {
				return err
			}
		}
	})

	if err := eg.Wait(); err != nil {
		s.logger().Debug("virtual node client disconnected", "err", err)
	}
}
