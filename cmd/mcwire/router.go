package main

import (
	"encoding/json"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"mcwire/internal/metrics"
	"mcwire/internal/server"
)

type onlinePlayer struct {
	Name    string `json:"name"`
	UUID    string `json:"uuid"`
	Version string `json:"version"`
	Addr    string `json:"addr"`
}

type health struct {
	Online      int `json:"online"`
	Connections int `json:"connections"`
}

// newRouter serves Prometheus metrics next to two small JSON views of srv.
func newRouter(srv *server.Server) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", metrics.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeHTTPJSON(w, health{Online: srv.Online(), Connections: srv.Connections()})
	})
	r.Get("/players", func(w http.ResponseWriter, r *http.Request) {
		sessions := srv.Sessions()
		out := make([]onlinePlayer, 0, len(sessions))
		for _, s := range sessions {
			out = append(out, onlinePlayer{Name: s.Name, UUID: s.UUID.String(), Version: s.Version.String(), Addr: s.RemoteAddr()})
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
		writeHTTPJSON(w, out)
	})
	return r
}

func writeHTTPJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
