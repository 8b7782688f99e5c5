package server_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"mcwire/internal/client"
	"mcwire/internal/protocol"
	"mcwire/internal/server"
	"mcwire/internal/store"
	"mcwire/internal/store/bolt"
	"mcwire/internal/transport"
)

func startServer(t *testing.T, opts server.Options) *server.Server {
	t.Helper()
	opts.Listen = "127.0.0.1:0"
	if opts.Version == protocol.Undefined {
		opts.Version = protocol.V1_18
	}
	srv, err := server.New(opts)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	if err := srv.Listen(); err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return srv
}

func tempPlayers(t *testing.T) *store.Players {
	t.Helper()
	s, err := bolt.Open(filepath.Join(t.TempDir(), "players.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return store.NewPlayers(s)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func login(t *testing.T, srv *server.Server, name string, opts client.Options) *client.Session {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sess, err := client.Login(ctx, srv.Addr(), name, opts)
	if err != nil {
		t.Fatalf("login %s: %v", name, err)
	}
	t.Cleanup(func() { sess.Close() })
	return sess
}

func TestStatusAndPing(t *testing.T) {
	srv := startServer(t, server.Options{MOTD: "hello there", MaxPlayers: 5, CompressionThreshold: -1})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st, latency, err := client.Status(ctx, srv.Addr(), client.Options{})
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.Description.Text != "hello there" {
		t.Errorf("motd = %q", st.Description.Text)
	}
	if st.Version.Protocol != int32(protocol.V1_18) || st.Version.Name != protocol.V1_18.String() {
		t.Errorf("version = %+v", st.Version)
	}
	if st.Players.Max != 5 || st.Players.Online != 0 {
		t.Errorf("players = %+v", st.Players)
	}
	if latency <= 0 {
		t.Errorf("latency = %v", latency)
	}
}

func TestLoginModes(t *testing.T) {
	tests := []struct {
		name       string
		encryption bool
		threshold  int32
	}{
		{"plain", false, -1},
		{"compressed", false, 64},
		{"encrypted", true, -1},
		{"encrypted and compressed", true, 64},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := make(chan *protocol.PluginMessage, 4)
			srv := startServer(t, server.Options{
				MaxPlayers:           5,
				Encryption:           tt.encryption,
				CompressionThreshold: tt.threshold,
				OnPacket: func(s *server.Session, p protocol.Packet) {
					if pm, ok := p.(*protocol.PluginMessage); ok {
						got <- pm
						s.Send(&protocol.ClientPluginMessage{PluginMessage: *pm})
					}
				},
			})

			sess := login(t, srv, "Steve", client.Options{})
			if sess.UUID != protocol.OfflineUUID("Steve") {
				t.Fatalf("uuid = %s", sess.UUID)
			}
			waitFor(t, "session admitted", func() bool { return srv.Online() == 1 })

			// Large enough to cross the compression threshold.
			data := bytes.Repeat([]byte("mcwire"), 100)
			if err := sess.Send(&protocol.PluginMessage{Channel: "mcwire:echo", Data: data}); err != nil {
				t.Fatal(err)
			}
			select {
			case pm := <-got:
				if pm.Channel != "mcwire:echo" || !bytes.Equal(pm.Data, data) {
					t.Fatalf("server saw %q with %d bytes", pm.Channel, len(pm.Data))
				}
			case <-time.After(5 * time.Second):
				t.Fatal("plugin message never reached the server")
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			p, err := sess.Next(ctx)
			if err != nil {
				t.Fatalf("next: %v", err)
			}
			echo, ok := p.(*protocol.ClientPluginMessage)
			if !ok || !bytes.Equal(echo.Data, data) {
				t.Fatalf("echo = %#v", p)
			}
		})
	}
}

func TestLoginRecordsPlayer(t *testing.T) {
	players := tempPlayers(t)
	srv := startServer(t, server.Options{MaxPlayers: 5, CompressionThreshold: -1, Players: players})

	login(t, srv, "Alex", client.Options{})

	rec, ok, err := players.Get(protocol.OfflineUUID("Alex"))
	if err != nil || !ok {
		t.Fatalf("player record: %v, %v", ok, err)
	}
	if rec.Name != "Alex" || rec.Logins != 1 || rec.Protocol != int32(protocol.V1_18) {
		t.Fatalf("record = %+v", rec)
	}
	if !strings.HasPrefix(rec.LastAddr, "127.0.0.1:") {
		t.Fatalf("last addr = %q", rec.LastAddr)
	}
}

func TestLoginUnsupportedVersion(t *testing.T) {
	srv := startServer(t, server.Options{MaxPlayers: 5, CompressionThreshold: -1})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := client.Login(ctx, srv.Addr(), "Steve", client.Options{Version: 340})
	var dc *client.DisconnectError
	if !errors.As(err, &dc) {
		t.Fatalf("got %v, want a disconnect", err)
	}
	if !strings.Contains(dc.Reason, "Unsupported protocol version") {
		t.Fatalf("reason = %q", dc.Reason)
	}
	if srv.Online() != 0 {
		t.Fatal("rejected player was admitted")
	}
}

func TestLoginServerFull(t *testing.T) {
	srv := startServer(t, server.Options{MaxPlayers: 1, CompressionThreshold: -1})

	login(t, srv, "first", client.Options{})
	waitFor(t, "first session admitted", func() bool { return srv.Online() == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := client.Login(ctx, srv.Addr(), "second", client.Options{})
	var dc *client.DisconnectError
	if !errors.As(err, &dc) || dc.Reason != "Server is full" {
		t.Fatalf("got %v, want server full", err)
	}
}

func TestConcurrentLoginsRespectMaxPlayers(t *testing.T) {
	srv := startServer(t, server.Options{MaxPlayers: 1, Encryption: true, CompressionThreshold: 64})

	const logins = 4
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted []*client.Session
		full     int
	)
	start := make(chan struct{})
	for i := 0; i < logins; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			sess, err := client.Login(ctx, srv.Addr(), "player"+string(rune('a'+i)), client.Options{})
			mu.Lock()
			defer mu.Unlock()
			var dc *client.DisconnectError
			switch {
			case err == nil:
				admitted = append(admitted, sess)
			case errors.As(err, &dc) && dc.Reason == "Server is full":
				full++
			default:
				t.Errorf("login %d: %v", i, err)
			}
		}()
	}
	close(start)
	wg.Wait()
	for _, sess := range admitted {
		sess := sess
		t.Cleanup(func() { sess.Close() })
	}

	if len(admitted) != 1 || full != logins-1 {
		t.Fatalf("admitted %d and refused %d, want 1 and %d", len(admitted), full, logins-1)
	}
	waitFor(t, "winner admitted", func() bool { return srv.Online() == 1 })
	if n := srv.Online(); n > 1 {
		t.Fatalf("online = %d with MaxPlayers 1", n)
	}
}

func TestStatusListsOnlinePlayers(t *testing.T) {
	srv := startServer(t, server.Options{MaxPlayers: 5, CompressionThreshold: -1})
	login(t, srv, "Steve", client.Options{})
	waitFor(t, "session admitted", func() bool { return srv.Online() == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st, _, err := client.Status(ctx, srv.Addr(), client.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if st.Players.Online != 1 || len(st.Players.Sample) != 1 || st.Players.Sample[0].Name != "Steve" {
		t.Fatalf("players = %+v", st.Players)
	}
	if st.Players.Sample[0].ID != protocol.OfflineUUID("Steve").String() {
		t.Fatalf("sample id = %s", st.Players.Sample[0].ID)
	}
}

func TestStopKicksPlayers(t *testing.T) {
	srv := startServer(t, server.Options{MaxPlayers: 5, CompressionThreshold: 16, Encryption: true})
	sess := login(t, srv, "Steve", client.Options{})
	waitFor(t, "session admitted", func() bool { return srv.Online() == 1 })

	stopped := make(chan struct{})
	go func() {
		srv.Stop()
		close(stopped)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p, err := sess.Next(ctx)
	var dc *client.DisconnectError
	if !errors.As(err, &dc) || dc.Reason != "Server closed" {
		t.Fatalf("got %v, %v, want a disconnect", p, err)
	}
	if _, ok := p.(*protocol.PlayDisconnect); !ok {
		t.Fatalf("packet = %T", p)
	}

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}
	if srv.Online() != 0 {
		t.Fatalf("online after stop = %d", srv.Online())
	}
}

func TestStopClosesPendingHandshakes(t *testing.T) {
	srv := startServer(t, server.Options{MaxPlayers: 5, CompressionThreshold: -1})

	// Connects but never sends a handshake.
	nc, err := net.Dial("tcp", srv.Addr())
	if err != nil {
		t.Fatal(err)
	}
	defer nc.Close()
	waitFor(t, "connection accepted", func() bool { return srv.Connections() == 1 })

	start := time.Now()
	srv.Stop()
	if d := time.Since(start); d > 3*time.Second {
		t.Fatalf("Stop took %v", d)
	}
	nc.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := nc.Read(make([]byte, 1)); !errors.Is(err, io.EOF) {
		t.Fatalf("read after stop = %v, want EOF", err)
	}
}

func TestKickSendsReason(t *testing.T) {
	srv := startServer(t, server.Options{MaxPlayers: 5, CompressionThreshold: -1})
	sess := login(t, srv, "Steve", client.Options{})
	waitFor(t, "session admitted", func() bool { return srv.Online() == 1 })

	for _, s := range srv.Sessions() {
		if s.Name != "Steve" || s.UUID != protocol.OfflineUUID("Steve") || s.Version != protocol.V1_18 {
			t.Fatalf("session = %s %s %s", s.Name, s.UUID, s.Version)
		}
		s.Kick("bye")
		s.Kick("second kick is ignored")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := sess.Next(ctx)
	var dc *client.DisconnectError
	if !errors.As(err, &dc) || dc.Reason != "bye" {
		t.Fatalf("got %v, want kick reason", err)
	}
	waitFor(t, "session released", func() bool { return srv.Online() == 0 })
}

func TestKeepAliveHoldsIdleSession(t *testing.T) {
	answered := make(chan int64, 16)
	srv := startServer(t, server.Options{
		MaxPlayers:           5,
		CompressionThreshold: -1,
		KeepAlive:            50 * time.Millisecond,
		Transport:            transport.Options{ReadTimeout: 300 * time.Millisecond},
		OnPacket: func(_ *server.Session, p protocol.Packet) {
			if ka, ok := p.(*protocol.KeepAlive); ok {
				select {
				case answered <- ka.ID:
				default:
				}
			}
		},
	})
	sess := login(t, srv, "Steve", client.Options{})
	waitFor(t, "session admitted", func() bool { return srv.Online() == 1 })

	// Next answers keep-alives without returning them.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sess.Next(ctx)

	select {
	case id := <-answered:
		if id <= 0 {
			t.Fatalf("keep-alive id = %d", id)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no keep-alive answer reached the server")
	}

	// Several read timeouts pass; the exchange keeps the session open.
	time.Sleep(time.Second)
	if srv.Online() != 1 {
		t.Fatal("idle session was dropped despite keep-alives")
	}
}

func TestConnectionRateThrottles(t *testing.T) {
	srv := startServer(t, server.Options{MaxPlayers: 5, CompressionThreshold: -1, ConnectionRate: 0.01})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, _, err := client.Status(ctx, srv.Addr(), client.Options{}); err != nil {
		t.Fatalf("first status: %v", err)
	}
	if _, _, err := client.Status(ctx, srv.Addr(), client.Options{}); err == nil {
		t.Fatal("second status from the same host was not throttled")
	}
}
