package protocol

import (
	"crypto/md5"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// ServerStatus is the document carried by StatusResponse.
type ServerStatus struct {
	Version     StatusVersion `json:"version"`
	Players     StatusPlayers `json:"players"`
	Description Chat          `json:"description"`
}

type StatusVersion struct {
	Name     string `json:"name"`
	Protocol int32  `json:"protocol"`
}

type StatusPlayers struct {
	Max    int            `json:"max"`
	Online int            `json:"online"`
	Sample []StatusSample `json:"sample,omitempty"`
}

type StatusSample struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

// Chat is a plain text chat component.
type Chat struct {
	Text string `json:"text"`
}

// UnmarshalJSON also accepts the bare string form older servers send.
func (c *Chat) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		c.Text = s
		return nil
	}
	type plain Chat
	return json.Unmarshal(b, (*plain)(c))
}

// ChatJSON renders text as a chat component, as used by disconnect reasons.
func ChatJSON(text string) string {
	b, _ := json.Marshal(Chat{Text: text})
	return string(b)
}

// ParseChat extracts the text of a chat component, falling back to the raw input.
func ParseChat(raw string) string {
	var c Chat
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return raw
	}
	return c.Text
}

// EncodeStatus renders s as a StatusResponse.
func EncodeStatus(s ServerStatus) (*StatusResponse, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encoding status: %w", err)
	}
	return &StatusResponse{JSON: string(b)}, nil
}

// DecodeStatus parses the document inside a StatusResponse.
func DecodeStatus(p *StatusResponse) (ServerStatus, error) {
	var s ServerStatus
	if err := json.Unmarshal([]byte(p.JSON), &s); err != nil {
		return ServerStatus{}, fmt.Errorf("decoding status: %w", err)
	}
	return s, nil
}

// OfflineUUID derives the id an offline-mode server assigns to name: an
// MD5 name-based (version 3) UUID of "OfflinePlayer:"+name.
func OfflineUUID(name string) uuid.UUID {
	sum := md5.Sum([]byte("OfflinePlayer:" + name))
	sum[6] = sum[6]&0x0f | 0x30
	sum[8] = sum[8]&0x3f | 0x80
	return uuid.UUID(sum)
}
