// Package console serves an administrative shell over SSH for a running
// server: list and kick players, send plugin messages, inspect counts.
package console

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"

	gossh "golang.org/x/crypto/ssh"
	"golang.org/x/term"

	"mcwire/internal/logging"
)

var conlog = logging.For("console")

const prompt = "mcwire> "

// Console is an SSH server whose sessions run console commands.
type Console struct {
	addr     string
	admin    Admin
	commands *CommandRegistry
	authKeys []gossh.PublicKey
	config   *gossh.ServerConfig

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
}

// New creates a console. Only keys listed in the authorized_keys file at
// authKeysPath may log in; with no such file every login is refused.
func New(addr string, admin Admin, hostKey *HostKey, authKeysPath string) (*Console, error) {
	keys, err := loadAuthorizedKeys(authKeysPath)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		conlog.Warn("no authorized keys loaded, every login will be refused", "path", authKeysPath)
	}

	registry := NewCommandRegistry()
	registry.RegisterBuiltins()

	c := &Console{
		addr:     addr,
		admin:    admin,
		commands: registry,
		authKeys: keys,
		conns:    make(map[net.Conn]struct{}),
	}
	c.config = &gossh.ServerConfig{PublicKeyCallback: c.publicKeyCallback}
	c.config.AddHostKey(hostKey.Signer)
	return c, nil
}

// Commands exposes registration until Listen freezes the registry.
func (c *Console) Commands() CommandRegistrar { return c.commands }

// Listen binds the socket and freezes the command registry.
func (c *Console) Listen() error {
	ln, err := net.Listen("tcp", c.addr)
	if err != nil {
		return fmt.Errorf("console listen on %s: %w", c.addr, err)
	}
	c.mu.Lock()
	c.listener = ln
	c.mu.Unlock()
	c.commands.Freeze()
	conlog.Info("listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the listener's address. Empty if not listening.
func (c *Console) Addr() string {
	c.mu.Lock()
	ln := c.listener
	c.mu.Unlock()
	if ln == nil {
		return ""
	}
	return ln.Addr().String()
}

// Serve accepts connections until ctx is cancelled. Call Listen first.
func (c *Console) Serve(ctx context.Context) error {
	c.mu.Lock()
	ln := c.listener
	c.mu.Unlock()
	if ln == nil {
		return errors.New("console: Serve called before Listen")
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
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			conlog.Warn("accept error", "err", err)
			continue
		}

		c.mu.Lock()
		c.conns[conn] = struct{}{}
		c.mu.Unlock()

		go c.handleConnection(conn)
	}
}

// Start calls Listen then Serve.
func (c *Console) Start(ctx context.Context) error {
	if err := c.Listen(); err != nil {
		return err
	}
	return c.Serve(ctx)
}

// Stop closes the listener and every open connection.
func (c *Console) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listener != nil {
		c.listener.Close()
	}
	for conn := range c.conns {
		conn.Close()
	}
}

func (c *Console) removeConn(conn net.Conn) {
	c.mu.Lock()
	delete(c.conns, conn)
	c.mu.Unlock()
}

func (c *Console) publicKeyCallback(meta gossh.ConnMetadata, key gossh.PublicKey) (*gossh.Permissions, error) {
	keyBytes := key.Marshal()
	for _, authorized := range c.authKeys {
		if bytes.Equal(keyBytes, authorized.Marshal()) {
			return &gossh.Permissions{}, nil
		}
	}
	return nil, fmt.Errorf("unknown public key for %s", meta.User())
}

func (c *Console) handleConnection(conn net.Conn) {
	defer conn.Close()
	defer c.removeConn(conn)

	sshConn, chans, reqs, err := gossh.NewServerConn(conn, c.config)
	if err != nil {
		conlog.Warn("handshake failed", "remote", conn.RemoteAddr().String(), "err", err)
		return
	}
	defer sshConn.Close()

	conlog.Info("operator connected", "remote", conn.RemoteAddr().String(), "user", sshConn.User())
	go gossh.DiscardRequests(reqs)

	for newChan := range chans {
		if newChan.ChannelType() != "session" {
			newChan.Reject(gossh.UnknownChannelType, "unsupported channel type")
			continue
		}
		ch, requests, err := newChan.Accept()
		if err != nil {
			conlog.Warn("channel accept error", "err", err)
			continue
		}
		go c.handleSession(ch, requests, sshConn.User())
	}
}

func (c *Console) handleSession(ch gossh.Channel, reqs <-chan *gossh.Request, user string) {
	defer ch.Close()

	// The terminal starts on "shell"; other requests are refused.
	for req := range reqs {
		switch req.Type {
		case "pty-req", "shell":
			if req.WantReply {
				req.Reply(true, nil)
			}
			if req.Type != "shell" {
				continue
			}
			go func() {
				for req := range reqs {
					if req.WantReply {
						req.Reply(false, nil)
					}
				}
			}()
			c.runTerminal(ch, user)
			return
		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

func (c *Console) runTerminal(ch gossh.Channel, user string) {
	terminal := term.NewTerminal(ch, prompt)
	fmt.Fprintf(terminal, "mcwire console, %d player(s) online. Type /help for commands.\r\n", len(c.admin.Players()))

	for {
		line, err := terminal.ReadLine()
		if err != nil {
			break
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			fmt.Fprint(terminal, "Commands start with / (try /help)\r\n")
			continue
		}
		conlog.Debug("command", "user", user, "line", line)
		if c.commands.Dispatch(line, user, terminal, c.admin) {
			break
		}
	}
	conlog.Info("operator left", "user", user)
}
