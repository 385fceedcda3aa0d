package realtime

import (
	"encoding/json"
	"fmt"

	"patientchat/internal/messagelog"
)

// Event names carried in Frame.Event.
const (
	EventJoinRoom       = "joinRoom"
	EventJoined         = "Joined"
	EventSendMessage    = "sendMessage"
	EventReceiveMessage = "receiveMessage"
)

// Frame is the wrapper for every websocket message in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// SendRequest is the sendMessage payload. Kind is optional: "chat" or
// "review" select the message shape explicitly, otherwise it is inferred
// from whether a review was supplied.
type SendRequest struct {
	UserID string          `json:"UserId"`
	Role   string          `json:"role"`
	Text   string          `json:"text"`
	Review json.RawMessage `json:"review,omitempty"`
	Report json.RawMessage `json:"report,omitempty"`
	Kind   string          `json:"kind,omitempty"`
}

// Entry resolves the request into a log entry.
func (r SendRequest) Entry() (messagelog.Entry, error) {
	switch r.Kind {
	case "":
		return messagelog.Infer(r.Role, r.Text, r.Review, r.Report), nil
	case "chat":
		return messagelog.Chat(r.Role, r.Text), nil
	case "review":
		return messagelog.Review(r.Review, r.Report), nil
	default:
		return messagelog.Entry{}, fmt.Errorf("%w: %q", messagelog.ErrUnknownKind, r.Kind)
	}
}

func encodeFrame(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return json.Marshal(Frame{Event: event, Data: data})
}
