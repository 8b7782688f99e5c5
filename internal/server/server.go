// Package server accepts client connections and walks each one through the
// handshake, status and login states before handing it to a play session.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"mcwire/internal/crypto"
	"mcwire/internal/logging"
	"mcwire/internal/metrics"
	"mcwire/internal/protocol"
	"mcwire/internal/store"
	"mcwire/internal/transport"
)

var svlog = logging.For("server")

const (
	kickFlushTimeout = 2 * time.Second
	// DefaultKeepAlive stays well inside the default read timeout.
	DefaultKeepAlive = 5 * time.Second
)

// Options configures a Server.
type Options struct {
	Listen     string
	MOTD       string
	MaxPlayers int
	// Version is advertised in status responses.
	Version    protocol.Version
	Encryption bool
	// CompressionThreshold enables compression when zero or more.
	CompressionThreshold int32
	Transport            transport.Options
	// KeepAlive is how often play sessions are pinged. Zero means
	// DefaultKeepAlive; negative disables it.
	KeepAlive time.Duration
	// ConnectionRate caps new connections per second from one IP, with
	// bursts of twice that. Zero disables the throttle.
	ConnectionRate float64

	// Players records logins. Nil disables persistence.
	Players *store.Players
	// Registry defaults to protocol.Default.
	Registry *protocol.Registry
	// OnPacket, when set, sees every play packet a session receives.
	OnPacket func(*Session, protocol.Packet)
}

// Server is a listener plus the sessions it has admitted into play.
type Server struct {
	opts     Options
	registry *protocol.Registry
	key      *crypto.ServerKey
	throttle *throttle

	mu       sync.Mutex
	listener net.Listener
	sessions map[string]*Session
	pending  int // logins holding a player slot but not yet admitted
	active   map[string]*transport.Conn
	conns    sync.WaitGroup

	done      chan struct{}
	closeOnce sync.Once
}

// New prepares a server. With encryption on it generates the RSA key now.
func New(opts Options) (*Server, error) {
	s := &Server{
		opts:     opts,
		registry: opts.Registry,
		sessions: make(map[string]*Session),
		active:   make(map[string]*transport.Conn),
		done:     make(chan struct{}),
	}
	if s.registry == nil {
		s.registry = protocol.Default
	}
	if s.opts.KeepAlive == 0 {
		s.opts.KeepAlive = DefaultKeepAlive
	}
	if opts.ConnectionRate > 0 {
		s.throttle = newThrottle(opts.ConnectionRate)
	}
	if opts.Encryption {
		key, err := crypto.GenerateServerKey()
		if err != nil {
			return nil, err
		}
		s.key = key
	}
	return s, nil
}

// Listen binds the listening socket.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.opts.Listen)
	if err != nil {
		return fmt.Errorf("server listen: %w", err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	svlog.Info("listening", "addr", ln.Addr().String(), "version", s.opts.Version.String(),
		"encryption", s.opts.Encryption, "compression_threshold", s.opts.CompressionThreshold)
	return nil
}

// Serve accepts connections until ctx is cancelled, then stops the server.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return errors.New("server: Serve called before Listen")
	}
	go s.listenLoop(ctx, ln)
	if s.throttle != nil {
		go s.throttle.sweepLoop(s.done, throttleSweep)
	}
	select {
	case <-ctx.Done():
	case <-s.done:
	}
	s.Stop()
	return nil
}

// Start binds and serves. It blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Stop closes the listener, disconnects every play session and waits for
// all connection goroutines to exit.
func (s *Server) Stop() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		if s.listener != nil {
			s.listener.Close()
		}
		sessions := make([]*Session, 0, len(s.sessions))
		for _, sess := range s.sessions {
			sessions = append(sessions, sess)
		}
		s.mu.Unlock()

		var wg sync.WaitGroup
		for _, sess := range sessions {
			sess := sess
			wg.Add(1)
			go func() {
				defer wg.Done()
				sess.Kick("Server closed")
			}()
		}
		wg.Wait()

		// Connections still in handshake, status or login.
		s.mu.Lock()
		for _, c := range s.active {
			c.Close()
		}
		s.mu.Unlock()
	})
	s.conns.Wait()
}

// Addr returns the listener's address. Empty if not listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return ""
	}
	return ln.Addr().String()
}

// Online returns the number of sessions in play.
func (s *Server) Online() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Connections returns the number of open connections in any state.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Sessions returns the sessions currently in play.
func (s *Server) Sessions() []*Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}

func (s *Server) listenLoop(ctx context.Context, ln net.Listener) {
	for {
		nc, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			case <-s.done:
				return
			default:
				if errors.Is(err, net.ErrClosed) {
					return
				}
				svlog.Warn("accept error", "err", err)
				continue
			}
		}
		if s.throttle != nil && !s.throttle.allow(hostOf(nc.RemoteAddr())) {
			svlog.Debug("connection throttled", "remote", nc.RemoteAddr().String())
			metrics.ConnRejected("throttled")
			nc.Close()
			continue
		}
		s.conns.Add(1)
		go s.handleConn(ctx, nc)
	}
}

func (s *Server) handleConn(ctx context.Context, nc net.Conn) {
	defer s.conns.Done()
	metrics.ConnOpened()
	defer metrics.ConnClosed()

	c := transport.NewConn(nc, "server", s.opts.Transport)
	defer c.Close()
	if !s.track(c) {
		return
	}
	defer s.untrack(c)
	c.Log.Debug("accepted", "remote", nc.RemoteAddr().String())

	p, err := s.readPacket(ctx, c, protocol.Undefined, protocol.Handshaking)
	if err != nil {
		c.Log.Debug("handshake failed", "err", err)
		return
	}
	hs, ok := p.(*protocol.Handshake)
	if !ok {
		c.Log.Debug("expected handshake", "got", fmt.Sprintf("%T", p))
		return
	}

	switch hs.NextState {
	case protocol.NextStatus:
		err = s.serveStatus(ctx, c, hs)
	case protocol.NextLogin:
		err = s.serveLogin(ctx, c, hs)
	}
	if err != nil && !errors.Is(err, transport.ErrClosed) {
		c.Log.Info("connection ended", "state", hs.NextState.State().String(), "err", err)
	}
}

func (s *Server) readPacket(ctx context.Context, c *transport.Conn, v protocol.Version, state protocol.State) (protocol.Packet, error) {
	frame, err := c.NextFrame(ctx)
	if err != nil {
		return nil, err
	}
	return s.registry.Decode(v, state, protocol.Serverbound, frame)
}

func (s *Server) send(c *transport.Conn, v protocol.Version, p protocol.Packet) error {
	f, err := s.registry.Resolve(v, p)
	if err != nil {
		return err
	}
	return c.SendPacket(f)
}

// maxSample caps the player sample in status responses.
const maxSample = 12

func (s *Server) status() protocol.ServerStatus {
	var sample []protocol.StatusSample
	for _, sess := range s.Sessions() {
		if len(sample) == maxSample {
			break
		}
		sample = append(sample, protocol.StatusSample{Name: sess.Name, ID: sess.UUID.String()})
	}
	return protocol.ServerStatus{
		Version: protocol.StatusVersion{
			Name:     s.opts.Version.String(),
			Protocol: int32(s.opts.Version),
		},
		Players: protocol.StatusPlayers{
			Max:    s.opts.MaxPlayers,
			Online: s.Online(),
			Sample: sample,
		},
		Description: protocol.Chat{Text: s.opts.MOTD},
	}
}

// serveStatus answers a status request and a ping, then returns.
func (s *Server) serveStatus(ctx context.Context, c *transport.Conn, hs *protocol.Handshake) error {
	v := hs.ProtocolVersion
	for {
		p, err := s.readPacket(ctx, c, v, protocol.Status)
		if err != nil {
			return err
		}
		switch p := p.(type) {
		case *protocol.StatusRequest:
			resp, err := protocol.EncodeStatus(s.status())
			if err != nil {
				return err
			}
			if err := s.send(c, v, resp); err != nil {
				return err
			}
		case *protocol.Ping:
			return s.send(c, v, &protocol.Pong{Payload: p.Payload})
		default:
			return fmt.Errorf("unexpected %T in status", p)
		}
	}
}

func (s *Server) serveLogin(ctx context.Context, c *transport.Conn, hs *protocol.Handshake) error {
	v := hs.ProtocolVersion
	p, err := s.readPacket(ctx, c, v, protocol.Login)
	if err != nil {
		return err
	}
	start, ok := p.(*protocol.LoginStart)
	if !ok {
		return fmt.Errorf("expected login start, got %T", p)
	}
	log := c.Log.With("player", start.Name)

	if !v.Known() {
		log.Info("rejecting login: unsupported version", "version", v.String())
		metrics.ConnRejected("version")
		return s.send(c, v, &protocol.LoginDisconnect{Reason: protocol.ChatJSON("Unsupported protocol version " + v.String())})
	}
	if !s.reserve() {
		log.Info("rejecting login: server full")
		metrics.ConnRejected("full")
		return s.send(c, v, &protocol.LoginDisconnect{Reason: protocol.ChatJSON("Server is full")})
	}
	reserved := true
	defer func() {
		if reserved {
			s.unreserve()
		}
	}()

	if s.key != nil {
		if err := s.negotiateEncryption(ctx, c, v); err != nil {
			return fmt.Errorf("encryption: %w", err)
		}
		log.Debug("encryption enabled")
	}
	if t := s.opts.CompressionThreshold; t >= 0 {
		if err := s.send(c, v, &protocol.SetCompression{Threshold: t}); err != nil {
			return err
		}
		c.EnableCompression(t)
		log.Debug("compression enabled", "threshold", t)
	}

	id := protocol.OfflineUUID(start.Name)
	if err := s.send(c, v, &protocol.LoginSuccess{UUID: id, Username: start.Name}); err != nil {
		return err
	}
	if s.opts.Players != nil {
		if _, err := s.opts.Players.RecordLogin(id, start.Name, int32(v), c.RemoteAddr().String()); err != nil {
			log.Warn("could not record login", "err", err)
		}
	}
	log.Info("player logged in", "uuid", id.String(), "version", v.String())

	sess := newSession(s, c, start.Name, id, v)
	reserved = false
	if !s.admit(sess) {
		sess.Kick("Server closed")
		return nil
	}
	defer s.release(sess)
	return sess.run(ctx)
}

func (s *Server) negotiateEncryption(ctx context.Context, c *transport.Conn, v protocol.Version) error {
	token, err := crypto.NewVerifyToken()
	if err != nil {
		return err
	}
	req := &protocol.EncryptionRequest{PublicKey: s.key.PublicDER, VerifyToken: token}
	if err := s.send(c, v, req); err != nil {
		return err
	}
	p, err := s.readPacket(ctx, c, v, protocol.Login)
	if err != nil {
		return err
	}
	resp, ok := p.(*protocol.EncryptionResponse)
	if !ok {
		return fmt.Errorf("expected encryption response, got %T", p)
	}
	secret, echoed, err := s.key.DecryptResponse(resp.SharedSecret, resp.VerifyToken)
	if err != nil {
		return err
	}
	read, write, err := crypto.CodecsFromResponse(echoed, secret, token)
	if err != nil {
		return err
	}
	c.InstallCodecs(read, write)
	return nil
}

// track records c so Stop can close it. It fails once Stop has begun.
func (s *Server) track(c *transport.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		return false
	default:
	}
	s.active[c.ID] = c
	return true
}

func (s *Server) untrack(c *transport.Conn) {
	s.mu.Lock()
	delete(s.active, c.ID)
	s.mu.Unlock()
}

// reserve claims a player slot for a login in progress. Pending logins count
// against MaxPlayers alongside admitted sessions.
func (s *Server) reserve() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opts.MaxPlayers > 0 && len(s.sessions)+s.pending >= s.opts.MaxPlayers {
		return false
	}
	s.pending++
	return true
}

func (s *Server) unreserve() {
	s.mu.Lock()
	s.pending--
	s.mu.Unlock()
}

// admit turns a reserved slot into a registered session unless the server
// is shutting down. The reservation is consumed either way.
func (s *Server) admit(sess *Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending--
	select {
	case <-s.done:
		return false
	default:
	}
	s.sessions[sess.conn.ID] = sess
	return true
}

func (s *Server) release(sess *Session) {
	s.mu.Lock()
	delete(s.sessions, sess.conn.ID)
	s.mu.Unlock()
}
