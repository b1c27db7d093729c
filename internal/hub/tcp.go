package hub

import (
	"context"
	"fmt"
	"net"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/dpaschal/meshcore-gateway/internal/meshwire"
)

// TCPShim exposes a Hub over a plain length-prefixed TCP stream matching
// the physical radio's own §4.1 wire framing (magic header + big-endian
// uint16 length prefix), so scripts and client tools that only speak the
// Meshtastic TCP API can point at the virtual-node surface instead of a
// second owner of the radio's own TCP address (§6). Unlike Server's
// websocket transport, a raw TCP stream has no self-delimiting message
// boundaries, so both directions go through meshwire's frame codec here.
type TCPShim struct {
	Hub    *Hub
	Sender FrameSender
	Logger *log.Logger
}

// NewTCPShim builds a shim forwarding client writes to sender.
func NewTCPShim(h *Hub, sender FrameSender) *TCPShim {
	return &TCPShim{Hub: h, Sender: sender}
}

func (s *TCPShim) logger() *log.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return log.Default()
}

// ListenAndServe accepts connections on addr until ctx is cancelled,
// servicing each with its own replay+live bridge (§4.9).
func (s *TCPShim) ListenAndServe(ctx context.Context, addr string) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("hub: tcp shim listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("hub: tcp shim accept: %w", err)
		}
		go s.handleConn(ctx, conn)
	}
}

// handleConn bridges one TCP client: replay then live frames out,
// client-originated ToRadio frames in, both sides length-prefix framed
// the same way the physical radio link is (§4.1).
func (s *TCPShim) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	replay, live, unsubscribe := s.Hub.Subscribe(SubscriberBuffer)
	defer unsubscribe()

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		for _, frame := range replay {
			if err := s.writeFrame(conn, frame); err != nil {
				return err
			}
		}
		for {
			select {
			case <-egCtx.Done():
				return nil
			case frame, ok := <-live:
				if !ok {
					return nil
				}
				if err := s.writeFrame(conn, frame); err != nil {
					return err
				}
			}
		}
	})
	eg.Go(func() error {
		dec := meshwire.NewFrameDecoder()
		buf := make([]byte, 4096)
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				for _, body := range dec.Feed(buf[:n]) {
					if err := s.Sender.SendFrame(egCtx, body); err != nil {
						return err
					}
				}
			}
			if err != nil {
				return err
			}
		}
	})

	if err := eg.Wait(); err != nil {
		s.logger().Debug("virtual node tcp client disconnected", "err", err)
	}
}

func (s *TCPShim) writeFrame(conn net.Conn, body []byte) error {
	frame, err := meshwire.EncodeFrame(body)
	if err != nil {
		return err
	}
	_, err = conn.Write(frame)
	return err
}
