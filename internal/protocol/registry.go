package protocol

import (
	"errors"
	"fmt"
	"reflect"

	"mcwire/internal/transport"
	"mcwire/internal/wire"
)

var (
	ErrUnsupportedVersion = errors.New("protocol: packet not available in this version")
	ErrUnknownPacket      = errors.New("protocol: packet type not registered")
)

// anyVersion marks an entry valid for every protocol version.
const anyVersion = Undefined

type routeKey struct {
	version   Version
	state     State
	direction Direction
	id        int32
}

// Registry is a runtime dispatch table from (version, state, direction, id)
// to packet constructors, and from packet types back to their ids.
type Registry struct {
	decoders map[routeKey]func() Packet
	routes   map[reflect.Type][]routeKey
}

func NewRegistry() *Registry {
	return &Registry{
		decoders: make(map[routeKey]func() Packet),
		routes:   make(map[reflect.Type][]routeKey),
	}
}

// Register binds id to the packet type built by newPacket. With no versions
// the binding applies to every version.
func (r *Registry) Register(state State, dir Direction, id int32, newPacket func() Packet, versions ...Version) {
	if len(versions) == 0 {
		versions = []Version{anyVersion}
	}
	typ := reflect.TypeOf(newPacket())
	for _, v := range versions {
		r.decoders[routeKey{v, state, dir, id}] = newPacket
		r.routes[typ] = append(r.routes[typ], routeKey{v, state, dir, id})
	}
}

// Resolve encodes p for version v and wraps it in a frame with its packet id.
func (r *Registry) Resolve(v Version, p Packet) (*transport.WireFrame, error) {
	var id int32
	if u, ok := p.(*Unknown); ok {
		id = u.ID
	} else {
		rt, err := r.route(v, p)
		if err != nil {
			return nil, err
		}
		id = rt.id
	}

	var body wire.Buffer
	if err := p.Encode(v, &body); err != nil {
		return nil, fmt.Errorf("encoding %T: %w", p, err)
	}
	return transport.NewWireFrame(id, body.Bytes())
}

func (r *Registry) route(v Version, p Packet) (routeKey, error) {
	routes, ok := r.routes[reflect.TypeOf(p)]
	if !ok {
		return routeKey{}, fmt.Errorf("%w: %T", ErrUnknownPacket, p)
	}
	for _, rt := range routes {
		if rt.version == v || rt.version == anyVersion {
			return rt, nil
		}
	}
	return routeKey{}, fmt.Errorf("%w: %T in %s", ErrUnsupportedVersion, p, v)
}

// Decode parses a frame (packet id followed by body) received in state from
// dir. Ids with no registered packet decode to *Unknown. Ids registered only
// for other versions fail with ErrUnsupportedVersion.
func (r *Registry) Decode(v Version, state State, dir Direction, frame []byte) (Packet, error) {
	id, n, err := wire.DecodeVarInt(frame)
	if err != nil {
		return nil, fmt.Errorf("reading packet id: %w", err)
	}
	body := wire.NewBuffer(frame[n:])

	newPacket, ok := r.decoders[routeKey{v, state, dir, id}]
	if !ok {
		newPacket, ok = r.decoders[routeKey{anyVersion, state, dir, id}]
	}
	if !ok {
		if r.registeredElsewhere(state, dir, id) {
			return nil, fmt.Errorf("%w: %s %s 0x%02X in %s", ErrUnsupportedVersion, state, dir, id, v)
		}
		u := &Unknown{ID: id}
		return u, u.Decode(v, body)
	}

	p := newPacket()
	if err := p.Decode(v, body); err != nil {
		return nil, fmt.Errorf("decoding %T: %w", p, err)
	}
	return p, nil
}

func (r *Registry) registeredElsewhere(state State, dir Direction, id int32) bool {
	for k := range r.decoders {
		if k.state == state && k.direction == dir && k.id == id {
			return true
		}
	}
	return false
}

// Default holds every packet this module speaks.
var Default = newDefaultRegistry()

func newDefaultRegistry() *Registry {
	r := NewRegistry()

	r.Register(Handshaking, Serverbound, 0x00, func() Packet { return &Handshake{} })

	r.Register(Status, Serverbound, 0x00, func() Packet { return &StatusRequest{} })
	r.Register(Status, Serverbound, 0x01, func() Packet { return &Ping{} })
	r.Register(Status, Clientbound, 0x00, func() Packet { return &StatusResponse{} })
	r.Register(Status, Clientbound, 0x01, func() Packet { return &Pong{} })

	r.Register(Login, Clientbound, 0x00, func() Packet { return &LoginDisconnect{} })
	r.Register(Login, Clientbound, 0x01, func() Packet { return &EncryptionRequest{} })
	r.Register(Login, Clientbound, 0x02, func() Packet { return &LoginSuccess{} })
	r.Register(Login, Clientbound, 0x03, func() Packet { return &SetCompression{} })
	r.Register(Login, Clientbound, 0x04, func() Packet { return &LoginPluginRequest{} })
	r.Register(Login, Serverbound, 0x00, func() Packet { return &LoginStart{} })
	r.Register(Login, Serverbound, 0x01, func() Packet { return &EncryptionResponse{} })
	r.Register(Login, Serverbound, 0x02, func() Packet { return &LoginPluginResponse{} })

	r.Register(Play, Serverbound, 0x0A, func() Packet { return &PluginMessage{} }, V1_17_1, V1_18)
	r.Register(Play, Serverbound, 0x0F, func() Packet { return &KeepAlive{} }, V1_17_1, V1_18)
	r.Register(Play, Clientbound, 0x18, func() Packet { return &ClientPluginMessage{} }, V1_17_1, V1_18)
	r.Register(Play, Clientbound, 0x1A, func() Packet { return &PlayDisconnect{} }, V1_17_1, V1_18)
	r.Register(Play, Clientbound, 0x21, func() Packet { return &ClientKeepAlive{} }, V1_17_1, V1_18)

	return r
}
