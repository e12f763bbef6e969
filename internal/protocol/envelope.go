package protocol

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Envelope is the single frame shape on the wire: one UTF-8 JSON object per
// line, terminated by 0x0A.
type Envelope struct {
	T  PacketType      `json:"t"`
	ID string          `json:"id"`
	TS int64           `json:"ts"`
	D  json.RawMessage `json:"d,omitempty"`
}

// New builds an outbound envelope with a fresh id and the current timestamp.
func New(t PacketType, payload any) (*Envelope, error) {
	var raw json.RawMessage
	if payload != nil {
		d, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = d
	}
	return &Envelope{
		T:  t,
		ID: uuid.NewString(),
		TS: time.Now().UnixMilli(),
		D:  raw,
	}, nil
}

// Reply builds an outbound envelope that reuses the id of the envelope it
// answers, so the client can correlate acks with requests.
func Reply(to *Envelope, t PacketType, payload any) (*Envelope, error) {
	env, err := New(t, payload)
	if err != nil {
		return nil, err
	}
	if to != nil && to.ID != "" {
		env.ID = to.ID
	}
	return env, nil
}

// Decode unmarshals the payload into out.
func (e *Envelope) Decode(out any) error {
	if len(e.D) == 0 {
		return nil
	}
	return json.Unmarshal(e.D, out)
}

// Encode returns the wire form of e including the terminating line feed.
func (e *Envelope) Encode() ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// Parse decodes one frame (without its line feed) into an envelope.
func Parse(frame []byte) (*Envelope, error) {
	env := &Envelope{}
	if err := json.Unmarshal(frame, env); err != nil {
		return nil, err
	}
	return env, nil
}
