package console_test

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	gossh "golang.org/x/crypto/ssh"

	"mcwire/internal/client"
	"mcwire/internal/console"
	"mcwire/internal/logging"
	"mcwire/internal/protocol"
	"mcwire/internal/server"
)

// writeAuthorizedKey writes a fresh client key to dir/authorized_keys and
// returns its signer.
func writeAuthorizedKey(t *testing.T, dir string) gossh.Signer {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	sshPub, err := gossh.NewPublicKey(pub)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "authorized_keys"), gossh.MarshalAuthorizedKey(sshPub), 0600); err != nil {
		t.Fatal(err)
	}
	signer, err := gossh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatal(err)
	}
	return signer
}

func startConsole(t *testing.T, admin console.Admin, dir string) *console.Console {
	t.Helper()
	hk, err := console.LoadHostKey(filepath.Join(dir, "console"))
	if err != nil {
		t.Fatalf("host key: %v", err)
	}
	c, err := console.New("127.0.0.1:0", admin, hk, filepath.Join(dir, "authorized_keys"))
	if err != nil {
		t.Fatalf("new console: %v", err)
	}
	if err := c.Listen(); err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		c.Stop()
	})
	go func() { _ = c.Serve(ctx) }()
	return c
}

func startGameServer(t *testing.T) *server.Server {
	t.Helper()
	srv, err := server.New(server.Options{
		Listen:               "127.0.0.1:0",
		Version:              protocol.V1_18,
		MaxPlayers:           5,
		CompressionThreshold: -1,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := srv.Listen(); err != nil {
		t.Fatal(err)
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

func TestConsoleSession(t *testing.T) {
	capture := logging.CaptureForTest()
	defer capture.Restore()

	dir := t.TempDir()
	signer := writeAuthorizedKey(t, dir)
	srv := startGameServer(t)
	c := startConsole(t, console.ServerAdmin{Server: srv}, dir)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	player, err := client.Login(ctx, srv.Addr(), "Steve", client.Options{})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	defer player.Close()
	deadline := time.Now().Add(5 * time.Second)
	for srv.Online() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("player never admitted")
		}
		time.Sleep(10 * time.Millisecond)
	}

	conn, err := gossh.Dial("tcp", c.Addr(), &gossh.ClientConfig{
		User:            "op",
		Auth:            []gossh.AuthMethod{gossh.PublicKeys(signer)},
		HostKeyCallback: gossh.InsecureIgnoreHostKey(),
		Timeout:         5 * time.Second,
	})
	if err != nil {
		t.Fatalf("ssh dial: %v", err)
	}
	defer conn.Close()

	session, err := conn.NewSession()
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	defer session.Close()
	if err := session.RequestPty("xterm", 40, 120, gossh.TerminalModes{}); err != nil {
		t.Fatalf("pty: %v", err)
	}
	stdin, err := session.StdinPipe()
	if err != nil {
		t.Fatal(err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		t.Fatal(err)
	}
	if err := session.Shell(); err != nil {
		t.Fatalf("shell: %v", err)
	}

	var mu sync.Mutex
	var buf strings.Builder
	go func() {
		tmp := make([]byte, 4096)
		for {
			n, err := stdout.Read(tmp)
			if n > 0 {
				mu.Lock()
				buf.Write(tmp[:n])
				mu.Unlock()
			}
			if err != nil {
				return
			}
		}
	}()

	pos := 0
	waitFor := func(substr string) {
		t.Helper()
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			mu.Lock()
			got := buf.String()
			mu.Unlock()
			if idx := strings.Index(got[pos:], substr); idx >= 0 {
				pos += idx + len(substr)
				return
			}
			time.Sleep(20 * time.Millisecond)
		}
		mu.Lock()
		got := buf.String()
		mu.Unlock()
		t.Fatalf("timeout waiting for %q in output:\n%s", substr, got[pos:])
	}
	send := func(cmd string) {
		if _, err := stdin.Write([]byte(cmd + "\r")); err != nil {
			t.Fatalf("writing %q: %v", cmd, err)
		}
	}

	waitFor("1 player(s) online")

	send("/players")
	waitFor("Online (1):")
	waitFor("Steve")
	waitFor(protocol.OfflineUUID("Steve").String())

	send("/stats")
	waitFor("Players: 1  Connections: 1")

	send("hello")
	waitFor("Commands start with /")

	send("/send Steve mcwire:motd welcome back")
	waitFor("Sent to 1 player(s)")
	p, err := player.Next(ctx)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	pm, ok := p.(*protocol.ClientPluginMessage)
	if !ok || pm.Channel != "mcwire:motd" || string(pm.Data) != "welcome back" {
		t.Fatalf("player got %#v", p)
	}

	send("/kick Steve maintenance")
	waitFor("Kicked Steve: maintenance")
	_, err = player.Next(ctx)
	var dc *client.DisconnectError
	if !errors.As(err, &dc) || dc.Reason != "maintenance" {
		t.Fatalf("player got %v, want kick", err)
	}

	send("/bogus")
	waitFor("Unknown command: /bogus")

	send("/quit")
	waitFor("Goodbye.")

	time.Sleep(100 * time.Millisecond)
	if !capture.Has(slog.LevelInfo, "operator connected") {
		t.Error("expected INFO log: operator connected")
	}
	if !capture.HasAttr("kicking player", "reason", "maintenance") {
		t.Error("expected kick to be logged with its reason")
	}
}

func TestConsoleRejectsUnknownKey(t *testing.T) {
	dir := t.TempDir()
	writeAuthorizedKey(t, dir)
	srv := startGameServer(t)
	c := startConsole(t, console.ServerAdmin{Server: srv}, dir)

	_, stranger, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	signer, err := gossh.NewSignerFromKey(stranger)
	if err != nil {
		t.Fatal(err)
	}
	_, err = gossh.Dial("tcp", c.Addr(), &gossh.ClientConfig{
		User:            "intruder",
		Auth:            []gossh.AuthMethod{gossh.PublicKeys(signer)},
		HostKeyCallback: gossh.InsecureIgnoreHostKey(),
		Timeout:         5 * time.Second,
	})
	if err == nil {
		t.Fatal("unknown key was accepted")
	}
}

func TestCommandsFrozenAfterListen(t *testing.T) {
	dir := t.TempDir()
	srv := startGameServer(t)
	c := startConsole(t, console.ServerAdmin{Server: srv}, dir)

	defer func() {
		if recover() == nil {
			t.Fatal("Register after Listen did not panic")
		}
	}()
	c.Commands().Register("/late", console.Command{Handler: func(console.CommandContext) bool { return false }})
}
