package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

var playersBucket = []byte("players")

// Player is what the server remembers about everyone who completed login.
type Player struct {
	UUID      uuid.UUID `json:"uuid"`
	Name      string    `json:"name"`
	Protocol  int32     `json:"protocol"`
	LastAddr  string    `json:"last_addr"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
	Logins    int       `json:"logins"`
}

// Players stores Player records keyed by UUID.
type Players struct {
	s   Store
	now func() time.Time
}

func NewPlayers(s Store) *Players {
	return &Players{s: s, now: time.Now}
}

// RecordLogin creates or refreshes the record for id and returns it.
func (p *Players) RecordLogin(id uuid.UUID, name string, protocol int32, addr string) (Player, error) {
	var rec Player
	err := p.s.Update(playersBucket, id[:], func(old []byte) ([]byte, error) {
		now := p.now().UTC()
		if old != nil {
			if err := json.Unmarshal(old, &rec); err != nil {
				return nil, fmt.Errorf("decoding player %s: %w", id, err)
			}
		} else {
			rec = Player{UUID: id, FirstSeen: now}
		}
		rec.Name = name
		rec.Protocol = protocol
		rec.LastAddr = addr
		rec.LastSeen = now
		rec.Logins++
		return json.Marshal(rec)
	})
	if err != nil {
		return Player{}, fmt.Errorf("recording login: %w", err)
	}
	return rec, nil
}

// Get returns the record for id; ok is false if there is none.
func (p *Players) Get(id uuid.UUID) (rec Player, ok bool, err error) {
	raw, err := p.s.Get(playersBucket, id[:])
	if err != nil || raw == nil {
		return Player{}, false, err
	}
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Player{}, false, fmt.Errorf("decoding player %s: %w", id, err)
	}
	return rec, true, nil
}

// Forget deletes the record for id.
func (p *Players) Forget(id uuid.UUID) error {
	return p.s.Delete(playersBucket, id[:])
}

// List returns every record, most recently seen first.
func (p *Players) List() ([]Player, error) {
	var out []Player
	err := p.s.ForEach(playersBucket, func(_, v []byte) error {
		var rec Player
		if err := json.Unmarshal(v, &rec); err != nil {
			return err
		}
		out = append(out, rec)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing players: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastSeen.After(out[j].LastSeen) })
	return out, nil
}
