// Package ws carries the binary packet protocol over websocket: one packet per
// binary frame in each direction.
package ws

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"meshworld.ai/internal/actors"
	"meshworld.ai/internal/dispatch"
)

const (
	maxFrame     = 64 * 1024
	readTimeout  = 60 * time.Second
	writeTimeout = 5 * time.Second
)

// Hub owns session lifecycles.
type Hub interface {
	Connect(ctx context.Context) (*actors.Session, error)
	Disconnect(ctx context.Context, s *actors.Session)
	CallerContext(session string) dispatch.CallerContext
}

// Inbound is the dispatcher entry point for raw frames.
type Inbound interface {
	DecodeAndDispatch(ctx context.Context, raw []byte, cc dispatch.CallerContext) dispatch.Result
}

type Server struct {
	hub Hub
	in  Inbound
	log *slog.Logger

	upgrader websocket.Upgrader

	open     atomic.Int64
	accepted atomic.Uint64
	frames   atomic.Uint64
	rejected atomic.Uint64
}

func NewServer(hub Hub, in Inbound, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Server{
		hub: hub,
		in:  in,
		log: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  maxFrame,
			WriteBufferSize: maxFrame,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

type Stats struct {
	Open     int64
	Accepted uint64
	Frames   uint64
	Rejected uint64
}

func (s *Server) Stats() Stats {
	return Stats{
		Open:     s.open.Load(),
		Accepted: s.accepted.Load(),
		Frames:   s.frames.Load(),
		Rejected: s.rejected.Load(),
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.SetReadLimit(maxFrame)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sess, err := s.hub.Connect(ctx)
		if err != nil {
			s.log.Error("ws: connect session", "remote", r.RemoteAddr, "err", err)
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "session unavailable"), time.Now().Add(time.Second))
			return
		}
		s.accepted.Add(1)
		s.open.Add(1)
		defer s.open.Add(-1)
		log := s.log.With("session", sess.ID, "remote", r.RemoteAddr)

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-sess.Done():
					_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
					_ = conn.Close()
					cancel()
					return
				case b := <-sess.Out():
					_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
					if err := conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
						_ = conn.Close()
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		cc := s.hub.CallerContext(sess.ID)
		for {
			_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			if mt != websocket.BinaryMessage {
				s.rejected.Add(1)
				log.Debug("ws: non-binary frame dropped", "type", mt)
				continue
			}
			s.frames.Add(1)
			s.in.DecodeAndDispatch(ctx, msg, cc)
		}

		// Cleanup.
		cancel()
		s.hub.Disconnect(context.Background(), sess)
	}
}
