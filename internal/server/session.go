package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"mcwire/internal/protocol"
	"mcwire/internal/transport"
)

// Session is a connection that completed login and is in the play state.
type Session struct {
	Name    string
	UUID    uuid.UUID
	Version protocol.Version

	srv  *Server
	conn *transport.Conn

	mu     sync.Mutex
	pump   *transport.Pump
	kicked bool
}

func newSession(srv *Server, c *transport.Conn, name string, id uuid.UUID, v protocol.Version) *Session {
	return &Session{Name: name, UUID: id, Version: v, srv: srv, conn: c}
}

// ID returns the connection id, which is also what log lines carry.
func (s *Session) ID() string { return s.conn.ID }

// RemoteAddr returns the client's address.
func (s *Session) RemoteAddr() string { return s.conn.RemoteAddr().String() }

// Send queues p for the client.
func (s *Session) Send(p protocol.Packet) error {
	f, err := s.srv.registry.Resolve(s.Version, p)
	if err != nil {
		return err
	}
	s.mu.Lock()
	pump := s.pump
	s.mu.Unlock()
	if pump == nil {
		return s.conn.SendPacket(f)
	}
	return pump.Send(f)
}

// Kick sends a disconnect with reason and closes the connection. Only the
// first call has any effect.
func (s *Session) Kick(reason string) {
	f, err := s.srv.registry.Resolve(s.Version, &protocol.PlayDisconnect{Reason: protocol.ChatJSON(reason)})

	s.mu.Lock()
	if s.kicked {
		s.mu.Unlock()
		return
	}
	s.kicked = true
	pump := s.pump
	s.mu.Unlock()

	log := s.conn.Log.With("player", s.Name)
	log.Info("kicking player", "reason", reason)
	if err != nil {
		log.Warn("cannot encode disconnect", "err", err)
	} else if pump != nil {
		if pump.Send(f) == nil {
			pump.CloseSend()
			select {
			case <-pump.SendDone():
			case <-time.After(kickFlushTimeout):
				log.Debug("disconnect not flushed in time")
			}
		}
	} else if err := s.conn.SendPacket(f); err != nil {
		log.Debug("disconnect not sent", "err", err)
	}
	s.conn.Close()
}

// run pumps the connection until the client leaves or is kicked. The pump
// outlives cancellation of ctx so that Kick can still reach the client;
// Stop kicks every session.
func (s *Session) run(ctx context.Context) error {
	s.mu.Lock()
	if s.kicked {
		s.mu.Unlock()
		return nil
	}
	pump := transport.Spin(context.WithoutCancel(ctx), s.conn.ID, s.conn.ReadWriteLocker, s.conn.Log)
	s.pump = pump
	s.mu.Unlock()

	done := make(chan struct{})
	if every := s.srv.opts.KeepAlive; every > 0 {
		go s.keepAlive(pump, every, done)
	}
	for frame := range pump.Inbound() {
		s.handle(frame)
	}
	close(done)
	err := pump.Wait()
	if errors.Is(err, transport.ErrClosed) {
		err = nil
	}
	s.conn.Log.Info("player left", "player", s.Name)
	return err
}

// keepAlive pings the client every interval until done is closed or the
// pump stops accepting frames.
func (s *Session) keepAlive(pump *transport.Pump, every time.Duration, done <-chan struct{}) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case now := <-t.C:
			f, err := s.srv.registry.Resolve(s.Version, &protocol.ClientKeepAlive{KeepAlive: protocol.KeepAlive{ID: now.UnixMilli()}})
			if err != nil {
				s.conn.Log.Warn("cannot encode keep-alive", "err", err)
				return
			}
			if pump.Send(f) != nil {
				return
			}
		}
	}
}

func (s *Session) handle(frame []byte) {
	p, err := s.srv.registry.Decode(s.Version, protocol.Play, protocol.Serverbound, frame)
	if err != nil {
		s.conn.Log.Debug("undecodable play packet", "err", err)
		return
	}
	switch p := p.(type) {
	case *protocol.PluginMessage:
		s.conn.Log.Info("plugin message", "player", s.Name, "channel", p.Channel, "bytes", len(p.Data))
	case *protocol.KeepAlive:
		s.conn.Log.Debug("keep-alive answered", "rtt", time.Since(time.UnixMilli(p.ID)))
	case *protocol.Unknown:
		s.conn.Log.Debug("play packet", "id", p.ID, "bytes", len(p.Data))
	}
	if s.srv.opts.OnPacket != nil {
		s.srv.opts.OnPacket(s, p)
	}
}
