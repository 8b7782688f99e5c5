package console

import (
	"sort"

	"github.com/google/uuid"

	"mcwire/internal/protocol"
	"mcwire/internal/server"
)

// PlayerInfo describes a player in play.
type PlayerInfo struct {
	Name    string
	UUID    uuid.UUID
	Version protocol.Version
	Addr    string
}

// Admin is what console commands act on.
type Admin interface {
	Players() []PlayerInfo
	Connections() int
	// Kick disconnects the named player and reports whether one was found.
	Kick(name, reason string) bool
	// SendPluginMessage sends to the named player, or to everyone when name
	// is "*", and returns how many players it was queued for.
	SendPluginMessage(name, channel string, data []byte) (int, error)
}

// ServerAdmin adapts a running server to Admin.
type ServerAdmin struct {
	Server *server.Server
}

func (a ServerAdmin) Players() []PlayerInfo {
	sessions := a.Server.Sessions()
	out := make([]PlayerInfo, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, PlayerInfo{Name: s.Name, UUID: s.UUID, Version: s.Version, Addr: s.RemoteAddr()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (a ServerAdmin) Connections() int { return a.Server.Connections() }

func (a ServerAdmin) Kick(name, reason string) bool {
	for _, s := range a.Server.Sessions() {
		if s.Name == name {
			s.Kick(reason)
			return true
		}
	}
	return false
}

func (a ServerAdmin) SendPluginMessage(name, channel string, data []byte) (int, error) {
	msg := &protocol.ClientPluginMessage{PluginMessage: protocol.PluginMessage{Channel: channel, Data: data}}
	sent := 0
	for _, s := range a.Server.Sessions() {
		if name != "*" && s.Name != name {
			continue
		}
		if err := s.Send(msg); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}
