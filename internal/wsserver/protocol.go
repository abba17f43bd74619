// Package wsserver provides a WebSocket server that streams capture events
// (chord activations, raw key transitions, session status and warnings) to
// local clients.
//
// # Wire protocol
//
// All frames are JSON text frames.
//
// Server to client, one [Envelope] per frame:
//
//	{"type":"chord","session":"<uuid>","at":"2026-01-02T15:04:05Z","data":{...}}
//
// Type is one of the topics ("chord", "key", "status", "log") or one of the
// control types "subscribed" and "error".
//
// Client to server:
//
//	{"action":"subscribe","topics":["chord","status"]}
//	{"action":"unsubscribe","topics":["status"]}
//
// Each accepted request is answered with a "subscribed" envelope whose data
// lists the connection's full topic set afterwards.
package wsserver

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// Topics a client can subscribe to.
const (
	TopicChord  = "chord"
	TopicKey    = "key"
	TopicStatus = "status"
	TopicLog    = "log"
)

// Control envelope types.
const (
	TypeSubscribed = "subscribed"
	TypeError      = "error"
)

// Valid values for SubscribeRequest.Action.
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
)

// AllTopics lists every topic in a stable order.
var AllTopics = []string{TopicChord, TopicKey, TopicStatus, TopicLog}

// ValidTopic reports whether topic is one the hub publishes.
func ValidTopic(topic string) bool {
	return slices.Contains(AllTopics, topic)
}

// Envelope is the frame the server sends for every event.
type Envelope struct {
	Type    string          `json:"type"`
	Session string          `json:"session,omitempty"`
	At      time.Time       `json:"at"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// SubscribeRequest is the JSON payload for client subscribe/unsubscribe requests.
type SubscribeRequest struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

// errorData is the payload of an "error" envelope.
type errorData struct {
	Message string `json:"message"`
}

// subscribedData is the payload of a "subscribed" envelope.
type subscribedData struct {
	Topics []string `json:"topics"`
}

// EncodeEnvelope marshals data and wraps it in an envelope of the given type.
// A nil data produces an envelope without a data field.
func EncodeEnvelope(typ, session string, at time.Time, data any) ([]byte, error) {
	if typ == "" {
		return nil, fmt.Errorf("wsserver: encode envelope: type must not be empty")
	}
	env := Envelope{Type: typ, Session: session, At: at.UTC()}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("wsserver: encode envelope %q data: %w", typ, err)
		}
		env.Data = raw
	}
	frame, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("wsserver: encode envelope %q: %w", typ, err)
	}
	return frame, nil
}

// DecodeEnvelope parses a frame produced by EncodeEnvelope.
// The returned Data shares no memory with frame.
func DecodeEnvelope(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("wsserver: decode envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("wsserver: decode envelope: missing type")
	}
	return env, nil
}

// EncodeSubscribe builds a client request frame.
func EncodeSubscribe(action string, topics []string) ([]byte, error) {
	if action != ActionSubscribe && action != ActionUnsubscribe {
		return nil, fmt.Errorf("wsserver: unknown action %q", action)
	}
	for _, topic := range topics {
		if !ValidTopic(topic) {
			return nil, fmt.Errorf("wsserver: unknown topic %q", topic)
		}
	}
	return json.Marshal(SubscribeRequest{Action: action, Topics: topics})
}
