// Package client speaks the client side of the handshake, status and login
// states and then hands the connection to a pump for play.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"

	"mcwire/internal/crypto"
	"mcwire/internal/logging"
	"mcwire/internal/metrics"
	"mcwire/internal/protocol"
	"mcwire/internal/transport"
)

var clog = logging.For("client")

// DisconnectError is returned when the server ends the connection with a
// disconnect packet.
type DisconnectError struct {
	Reason string
}

func (e *DisconnectError) Error() string {
	return "disconnected by server: " + e.Reason
}

// Options configures a connection.
type Options struct {
	// Version is sent in the handshake. Zero means protocol.Latest.
	Version   protocol.Version
	Transport transport.Options
	// Registry defaults to protocol.Default.
	Registry *protocol.Registry
	// DialTimeout bounds the TCP connect. Zero means 10s.
	DialTimeout time.Duration
	// OnPluginRequest answers login plugin requests. When nil every request
	// is answered as not understood.
	OnPluginRequest func(*protocol.LoginPluginRequest) (data []byte, ok bool)
}

func (o *Options) fill() {
	if o.Version == protocol.Undefined {
		o.Version = protocol.Latest
	}
	if o.Registry == nil {
		o.Registry = protocol.Default
	}
	if o.DialTimeout == 0 {
		o.DialTimeout = 10 * time.Second
	}
}

type conn struct {
	*transport.Conn
	opts Options
	host string
	port uint16
}

func dial(ctx context.Context, addr string, opts Options) (*conn, error) {
	opts.fill()
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("client: address %q: %w", addr, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return nil, fmt.Errorf("client: port %q: %w", portStr, err)
	}
	clog.Debug("dialing", "addr", addr, "version", opts.Version.String())
	d := net.Dialer{Timeout: opts.DialTimeout}
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", addr, err)
	}
	metrics.ConnOpened()
	c := &conn{
		Conn: transport.NewConn(nc, "client", opts.Transport),
		opts: opts,
		host: host,
		port: uint16(port),
	}
	c.Log.Debug("connected", "addr", addr)
	return c, nil
}

func (c *conn) close() {
	c.Close()
	metrics.ConnClosed()
}

func (c *conn) send(p protocol.Packet) error {
	f, err := c.opts.Registry.Resolve(c.opts.Version, p)
	if err != nil {
		return err
	}
	return c.SendPacket(f)
}

func (c *conn) read(ctx context.Context, state protocol.State) (protocol.Packet, error) {
	frame, err := c.NextFrame(ctx)
	if err != nil {
		return nil, err
	}
	return c.opts.Registry.Decode(c.opts.Version, state, protocol.Clientbound, frame)
}

func (c *conn) handshake(next protocol.NextState) error {
	return c.send(&protocol.Handshake{
		ProtocolVersion: c.opts.Version,
		ServerAddress:   c.host,
		ServerPort:      c.port,
		NextState:       next,
	})
}

// Status queries addr for its status document and measures the ping round
// trip.
func Status(ctx context.Context, addr string, opts Options) (protocol.ServerStatus, time.Duration, error) {
	c, err := dial(ctx, addr, opts)
	if err != nil {
		return protocol.ServerStatus{}, 0, err
	}
	defer c.close()

	if err := c.handshake(protocol.NextStatus); err != nil {
		return protocol.ServerStatus{}, 0, err
	}
	if err := c.send(&protocol.StatusRequest{}); err != nil {
		return protocol.ServerStatus{}, 0, err
	}
	p, err := c.read(ctx, protocol.Status)
	if err != nil {
		return protocol.ServerStatus{}, 0, err
	}
	resp, ok := p.(*protocol.StatusResponse)
	if !ok {
		return protocol.ServerStatus{}, 0, fmt.Errorf("client: expected status response, got %T", p)
	}
	st, err := protocol.DecodeStatus(resp)
	if err != nil {
		return protocol.ServerStatus{}, 0, err
	}

	sent := time.Now()
	if err := c.send(&protocol.Ping{Payload: sent.UnixMilli()}); err != nil {
		return st, 0, err
	}
	p, err = c.read(ctx, protocol.Status)
	if err != nil {
		return st, 0, err
	}
	pong, ok := p.(*protocol.Pong)
	if !ok {
		return st, 0, fmt.Errorf("client: expected pong, got %T", p)
	}
	if pong.Payload != sent.UnixMilli() {
		return st, 0, fmt.Errorf("client: pong payload %d does not match ping", pong.Payload)
	}
	return st, time.Since(sent), nil
}

// Login connects to addr and logs in as name. On success the returned
// Session is in the play state and already pumping.
func Login(ctx context.Context, addr, name string, opts Options) (*Session, error) {
	c, err := dial(ctx, addr, opts)
	if err != nil {
		return nil, err
	}
	sess, err := login(ctx, c, name)
	if err != nil {
		c.close()
		return nil, err
	}
	return sess, nil
}

func login(ctx context.Context, c *conn, name string) (*Session, error) {
	if err := c.handshake(protocol.NextLogin); err != nil {
		return nil, err
	}
	if err := c.send(&protocol.LoginStart{Name: name}); err != nil {
		return nil, err
	}
	for {
		p, err := c.read(ctx, protocol.Login)
		if err != nil {
			return nil, err
		}
		switch p := p.(type) {
		case *protocol.EncryptionRequest:
			secret, encSecret, encToken, err := crypto.EncryptResponse(p.PublicKey, p.VerifyToken)
			if err != nil {
				return nil, fmt.Errorf("client: encryption: %w", err)
			}
			if err := c.send(&protocol.EncryptionResponse{SharedSecret: encSecret, VerifyToken: encToken}); err != nil {
				return nil, err
			}
			if err := c.EnableEncryption(secret); err != nil {
				return nil, err
			}
			c.Log.Debug("encryption enabled")
		case *protocol.SetCompression:
			c.EnableCompression(p.Threshold)
			c.Log.Debug("compression enabled", "threshold", p.Threshold)
		case *protocol.LoginPluginRequest:
			resp := &protocol.LoginPluginResponse{MessageID: p.MessageID}
			if c.opts.OnPluginRequest != nil {
				resp.Data, resp.Successful = c.opts.OnPluginRequest(p)
			}
			if err := c.send(resp); err != nil {
				return nil, err
			}
		case *protocol.LoginDisconnect:
			return nil, &DisconnectError{Reason: protocol.ParseChat(p.Reason)}
		case *protocol.LoginSuccess:
			c.Log.Info("logged in", "player", p.Username, "uuid", p.UUID.String())
			return newSession(ctx, c, p.Username, p.UUID), nil
		default:
			return nil, fmt.Errorf("client: unexpected %T during login", p)
		}
	}
}

// Session is a logged-in connection in the play state. It lives until Close
// or until the server ends the stream, regardless of the context passed to
// Login.
type Session struct {
	Name string
	UUID uuid.UUID

	c    *conn
	pump *transport.Pump
}

func newSession(ctx context.Context, c *conn, name string, id uuid.UUID) *Session {
	return &Session{
		Name: name,
		UUID: id,
		c:    c,
		pump: transport.Spin(context.WithoutCancel(ctx), c.ID, c.ReadWriteLocker, c.Log),
	}
}

// Send queues p for the server.
func (s *Session) Send(p protocol.Packet) error {
	f, err := s.c.opts.Registry.Resolve(s.c.opts.Version, p)
	if err != nil {
		return err
	}
	return s.pump.Send(f)
}

// Next returns the next play packet from the server. Keep-alives are
// answered here and not returned, so a session must keep calling Next to
// stay connected. A disconnect packet is returned together with a
// *DisconnectError. Once the stream ends Next returns the pump's error, or
// transport.ErrClosed if it ended cleanly.
func (s *Session) Next(ctx context.Context) (protocol.Packet, error) {
	for {
		var frame []byte
		select {
		case f, ok := <-s.pump.Inbound():
			if !ok {
				if err := s.pump.Wait(); err != nil {
					return nil, err
				}
				return nil, transport.ErrClosed
			}
			frame = f
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		p, err := s.c.opts.Registry.Decode(s.c.opts.Version, protocol.Play, protocol.Clientbound, frame)
		if err != nil {
			return nil, err
		}
		switch p := p.(type) {
		case *protocol.ClientKeepAlive:
			if err := s.Send(&p.KeepAlive); err != nil {
				return nil, err
			}
			continue
		case *protocol.PlayDisconnect:
			return p, &DisconnectError{Reason: protocol.ParseChat(p.Reason)}
		}
		return p, nil
	}
}

// Close stops the pump and closes the connection.
func (s *Session) Close() error {
	s.pump.Stop()
	s.c.close()
	go func() {
		for range s.pump.Inbound() {
		}
	}()
	err := s.pump.Wait()
	if errors.Is(err, transport.ErrClosed) {
		return nil
	}
	return err
}
