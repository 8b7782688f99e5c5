package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"mcwire/internal/client"
	"mcwire/internal/protocol"
	"mcwire/internal/server"
)

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestRouter(t *testing.T) {
	srv := startServer(t, server.Options{MaxPlayers: 3, CompressionThreshold: -1})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sess, err := client.Login(ctx, srv.Addr(), "Alex", client.Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer sess.Close()
	deadline := time.Now().Add(5 * time.Second)
	for srv.Online() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("player never admitted")
		}
		time.Sleep(10 * time.Millisecond)
	}

	h := newRouter(srv)

	rec := get(t, h, "/healthz")
	var hl health
	if err := json.NewDecoder(rec.Body).Decode(&hl); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusOK || hl.Online != 1 || hl.Connections != 1 {
		t.Fatalf("healthz = %d %+v", rec.Code, hl)
	}

	rec = get(t, h, "/players")
	var players []onlinePlayer
	if err := json.NewDecoder(rec.Body).Decode(&players); err != nil {
		t.Fatal(err)
	}
	if len(players) != 1 || players[0].Name != "Alex" || players[0].UUID != protocol.OfflineUUID("Alex").String() || players[0].Version != "1.18" {
		t.Fatalf("players = %+v", players)
	}

	rec = get(t, h, "/metrics")
	body, _ := io.ReadAll(rec.Body)
	if rec.Code != http.StatusOK || !strings.Contains(string(body), "mcwire_server_connections") {
		t.Fatalf("metrics = %d", rec.Code)
	}

	if rec := get(t, h, "/nope"); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown path = %d", rec.Code)
	}
}
