// Package protocol defines the packets exchanged before and during play and
// a registry that maps them to and from wire frames for each protocol version.
package protocol

import (
	"fmt"
	"strconv"
)

// Version is a protocol version number as sent in the handshake.
type Version int32

const (
	Undefined Version = 0
	V1_17_1   Version = 756
	V1_18     Version = 757
)

// Latest is the newest supported version, used when none is configured.
const Latest = V1_18

// Supported lists the versions this module can speak past the login state.
var Supported = []Version{V1_17_1, V1_18}

// Known reports whether v is one of the supported versions.
func (v Version) Known() bool {
	switch v {
	case V1_17_1, V1_18:
		return true
	}
	return false
}

func (v Version) String() string {
	switch v {
	case Undefined:
		return "undefined"
	case V1_17_1:
		return "1.17.1"
	case V1_18:
		return "1.18"
	default:
		return fmt.Sprintf("Unknown(%d)", int32(v))
	}
}

// ParseVersion accepts a release name ("1.18") or a raw protocol number ("757").
func ParseVersion(s string) (Version, error) {
	for _, v := range Supported {
		if v.String() == s {
			return v, nil
		}
	}
	n, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return Undefined, fmt.Errorf("unknown protocol version %q", s)
	}
	return Version(n), nil
}

// State is the connection phase that selects which packets are valid.
type State int

const (
	Handshaking State = iota
	Status
	Login
	Play
)

func (s State) String() string {
	switch s {
	case Handshaking:
		return "handshaking"
	case Status:
		return "status"
	case Login:
		return "login"
	case Play:
		return "play"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Direction tells which side sends a packet.
type Direction int

const (
	Serverbound Direction = iota
	Clientbound
)

func (d Direction) String() string {
	if d == Clientbound {
		return "clientbound"
	}
	return "serverbound"
}
