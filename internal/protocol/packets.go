package protocol

import (
	"fmt"

	"github.com/google/uuid"

	"mcwire/internal/wire"
)

// Field limits, in characters unless noted.
const (
	maxAddressLen    = 255
	maxUsernameLen   = 16
	maxServerIDLen   = 20
	maxChatLen       = 262144
	maxJSONLen       = 32767
	maxIdentifierLen = 32767
	maxKeyBytes      = 1024
	maxDataBytes     = 1 << 20
)

// Packet is any message the registry knows how to encode and decode.
type Packet interface {
	Encode(v Version, b *wire.Buffer) error
	Decode(v Version, b *wire.Buffer) error
}

// NextState is the state a handshake asks for.
type NextState int32

const (
	NextStatus NextState = 1
	NextLogin  NextState = 2
)

func (n NextState) State() State {
	if n == NextLogin {
		return Login
	}
	return Status
}

// Handshake opens every connection.
type Handshake struct {
	ProtocolVersion Version
	ServerAddress   string
	ServerPort      uint16
	NextState       NextState
}

func (p *Handshake) Encode(_ Version, b *wire.Buffer) error {
	b.WriteVarInt(int32(p.ProtocolVersion))
	if err := b.WriteProtocolString(p.ServerAddress, maxAddressLen); err != nil {
		return err
	}
	b.WriteUint16(p.ServerPort)
	b.WriteVarInt(int32(p.NextState))
	return nil
}

func (p *Handshake) Decode(_ Version, b *wire.Buffer) error {
	v, err := b.ReadVarInt()
	if err != nil {
		return fmt.Errorf("protocol version: %w", err)
	}
	p.ProtocolVersion = Version(v)
	if p.ServerAddress, err = b.ReadString(maxAddressLen); err != nil {
		return fmt.Errorf("server address: %w", err)
	}
	if p.ServerPort, err = b.ReadUint16(); err != nil {
		return fmt.Errorf("server port: %w", err)
	}
	next, err := b.ReadVarInt()
	if err != nil {
		return fmt.Errorf("next state: %w", err)
	}
	switch NextState(next) {
	case NextStatus, NextLogin:
		p.NextState = NextState(next)
	default:
		return fmt.Errorf("next state: invalid value %d", next)
	}
	return nil
}

// StatusRequest asks for the server list entry.
type StatusRequest struct{}

func (*StatusRequest) Encode(Version, *wire.Buffer) error { return nil }
func (*StatusRequest) Decode(Version, *wire.Buffer) error { return nil }

// Ping carries an opaque payload the server echoes in Pong.
type Ping struct {
	Payload int64
}

func (p *Ping) Encode(_ Version, b *wire.Buffer) error {
	b.WriteInt64(p.Payload)
	return nil
}

func (p *Ping) Decode(_ Version, b *wire.Buffer) (err error) {
	p.Payload, err = b.ReadInt64()
	return err
}

// StatusResponse carries the status document as JSON.
type StatusResponse struct {
	JSON string
}

func (p *StatusResponse) Encode(_ Version, b *wire.Buffer) error {
	return b.WriteProtocolString(p.JSON, maxJSONLen)
}

func (p *StatusResponse) Decode(_ Version, b *wire.Buffer) (err error) {
	p.JSON, err = b.ReadString(maxJSONLen)
	return err
}

type Pong struct {
	Payload int64
}

func (p *Pong) Encode(_ Version, b *wire.Buffer) error {
	b.WriteInt64(p.Payload)
	return nil
}

func (p *Pong) Decode(_ Version, b *wire.Buffer) (err error) {
	p.Payload, err = b.ReadInt64()
	return err
}

// LoginDisconnect ends a connection during login. Reason is a chat component.
type LoginDisconnect struct {
	Reason string
}

func (p *LoginDisconnect) Encode(_ Version, b *wire.Buffer) error {
	return b.WriteProtocolString(p.Reason, maxChatLen)
}

func (p *LoginDisconnect) Decode(_ Version, b *wire.Buffer) (err error) {
	p.Reason, err = b.ReadString(maxChatLen)
	return err
}

// EncryptionRequest starts the key exchange.
type EncryptionRequest struct {
	ServerID    string
	PublicKey   []byte
	VerifyToken []byte
}

func (p *EncryptionRequest) Encode(_ Version, b *wire.Buffer) error {
	if err := b.WriteProtocolString(p.ServerID, maxServerIDLen); err != nil {
		return err
	}
	b.WriteByteArray(p.PublicKey)
	b.WriteByteArray(p.VerifyToken)
	return nil
}

func (p *EncryptionRequest) Decode(_ Version, b *wire.Buffer) (err error) {
	if p.ServerID, err = b.ReadString(maxServerIDLen); err != nil {
		return fmt.Errorf("server id: %w", err)
	}
	if p.PublicKey, err = b.ReadByteArray(maxKeyBytes); err != nil {
		return fmt.Errorf("public key: %w", err)
	}
	if p.VerifyToken, err = b.ReadByteArray(maxKeyBytes); err != nil {
		return fmt.Errorf("verify token: %w", err)
	}
	return nil
}

// LoginSuccess moves the connection to play.
type LoginSuccess struct {
	UUID     uuid.UUID
	Username string
}

func (p *LoginSuccess) Encode(_ Version, b *wire.Buffer) error {
	b.WriteUUID(p.UUID)
	return b.WriteProtocolString(p.Username, maxUsernameLen)
}

func (p *LoginSuccess) Decode(_ Version, b *wire.Buffer) (err error) {
	if p.UUID, err = b.ReadUUID(); err != nil {
		return err
	}
	p.Username, err = b.ReadString(maxUsernameLen)
	return err
}

// SetCompression enables compression for every frame after it. A negative
// threshold disables it.
type SetCompression struct {
	Threshold int32
}

func (p *SetCompression) Encode(_ Version, b *wire.Buffer) error {
	b.WriteVarInt(p.Threshold)
	return nil
}

func (p *SetCompression) Decode(_ Version, b *wire.Buffer) (err error) {
	p.Threshold, err = b.ReadVarInt()
	return err
}

type LoginPluginRequest struct {
	MessageID int32
	Channel   string
	Data      []byte
}

func (p *LoginPluginRequest) Encode(_ Version, b *wire.Buffer) error {
	b.WriteVarInt(p.MessageID)
	if err := b.WriteProtocolString(p.Channel, maxIdentifierLen); err != nil {
		return err
	}
	b.Write(p.Data)
	return nil
}

func (p *LoginPluginRequest) Decode(_ Version, b *wire.Buffer) (err error) {
	if p.MessageID, err = b.ReadVarInt(); err != nil {
		return err
	}
	if p.Channel, err = b.ReadString(maxIdentifierLen); err != nil {
		return err
	}
	p.Data = b.ReadRemaining()
	return nil
}

type LoginStart struct {
	Name string
}

func (p *LoginStart) Encode(_ Version, b *wire.Buffer) error {
	return b.WriteProtocolString(p.Name, maxUsernameLen)
}

func (p *LoginStart) Decode(_ Version, b *wire.Buffer) (err error) {
	p.Name, err = b.ReadString(maxUsernameLen)
	return err
}

// EncryptionResponse carries the RSA-encrypted shared secret and verify token.
type EncryptionResponse struct {
	SharedSecret []byte
	VerifyToken  []byte
}

func (p *EncryptionResponse) Encode(_ Version, b *wire.Buffer) error {
	b.WriteByteArray(p.SharedSecret)
	b.WriteByteArray(p.VerifyToken)
	return nil
}

func (p *EncryptionResponse) Decode(_ Version, b *wire.Buffer) (err error) {
	if p.SharedSecret, err = b.ReadByteArray(maxKeyBytes); err != nil {
		return fmt.Errorf("shared secret: %w", err)
	}
	if p.VerifyToken, err = b.ReadByteArray(maxKeyBytes); err != nil {
		return fmt.Errorf("verify token: %w", err)
	}
	return nil
}

type LoginPluginResponse struct {
	MessageID  int32
	Successful bool
	Data       []byte
}

func (p *LoginPluginResponse) Encode(_ Version, b *wire.Buffer) error {
	b.WriteVarInt(p.MessageID)
	b.WriteBool(p.Successful)
	b.Write(p.Data)
	return nil
}

func (p *LoginPluginResponse) Decode(_ Version, b *wire.Buffer) (err error) {
	if p.MessageID, err = b.ReadVarInt(); err != nil {
		return err
	}
	if p.Successful, err = b.ReadBool(); err != nil {
		return err
	}
	p.Data = b.ReadRemaining()
	return nil
}

// PluginMessage is a custom-channel payload sent during play.
type PluginMessage struct {
	Channel string
	Data    []byte
}

func (p *PluginMessage) Encode(_ Version, b *wire.Buffer) error {
	if err := b.WriteProtocolString(p.Channel, maxIdentifierLen); err != nil {
		return err
	}
	if len(p.Data) > maxDataBytes {
		return fmt.Errorf("plugin message of %d bytes exceeds %d", len(p.Data), maxDataBytes)
	}
	b.Write(p.Data)
	return nil
}

func (p *PluginMessage) Decode(_ Version, b *wire.Buffer) (err error) {
	if p.Channel, err = b.ReadString(maxIdentifierLen); err != nil {
		return err
	}
	p.Data = b.ReadRemaining()
	return nil
}

// ClientPluginMessage is the clientbound plugin message. It shares the wire
// layout of PluginMessage but has its own id.
type ClientPluginMessage struct {
	PluginMessage
}

// KeepAlive is the client's echo of a ClientKeepAlive.
type KeepAlive struct {
	ID int64
}

func (p *KeepAlive) Encode(_ Version, b *wire.Buffer) error {
	b.WriteInt64(p.ID)
	return nil
}

func (p *KeepAlive) Decode(_ Version, b *wire.Buffer) (err error) {
	p.ID, err = b.ReadInt64()
	return err
}

// ClientKeepAlive is sent periodically by the server; the client answers
// with a KeepAlive carrying the same ID.
type ClientKeepAlive struct {
	KeepAlive
}

// PlayDisconnect ends a connection during play.
type PlayDisconnect struct {
	Reason string
}

func (p *PlayDisconnect) Encode(_ Version, b *wire.Buffer) error {
	return b.WriteProtocolString(p.Reason, maxChatLen)
}

func (p *PlayDisconnect) Decode(_ Version, b *wire.Buffer) (err error) {
	p.Reason, err = b.ReadString(maxChatLen)
	return err
}

// Unknown holds a frame whose id has no registered packet, so it can be
// logged or passed through unchanged.
type Unknown struct {
	ID   int32
	Data []byte
}

func (p *Unknown) Encode(_ Version, b *wire.Buffer) error {
	b.Write(p.Data)
	return nil
}

func (p *Unknown) Decode(_ Version, b *wire.Buffer) error {
	p.Data = b.ReadRemaining()
	return nil
}
