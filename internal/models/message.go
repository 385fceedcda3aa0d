package models

import (
	"bytes"
	"encoding/json"
)

type Role = string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleAdmin   Role = "admin"
	RoleSystem  Role = "system"
)

// Message is one entry of a user's log. It is either a chat message
// (Role, Text) or a system review (Role "system", Review, Report); Kind
// tells them apart. Time is already formatted for display.
type Message struct {
	Role   Role            `json:"role"`
	Text   string          `json:"text,omitempty"`
	Review json.RawMessage `json:"review,omitempty"`
	Report json.RawMessage `json:"report,omitempty"`
	Time   string          `json:"time"`
}

type Kind int

const (
	KindChat Kind = iota + 1
	KindReview
)

func (k Kind) String() string {
	switch k {
	case KindChat:
		return "chat"
	case KindReview:
		return "review"
	default:
		return "unknown"
	}
}

// Kind reports the message shape.
func (m Message) Kind() Kind {
	if present(m.Review) {
		return KindReview
	}
	return KindChat
}

// MarshalJSON writes chats as {role,text,time} and reviews as
// {role,review,report,time}; an absent report is written as null.
func (m Message) MarshalJSON() ([]byte, error) {
	if m.Kind() == KindReview {
		report := m.Report
		if !present(report) {
			report = json.RawMessage("null")
		}
		return json.Marshal(struct {
			Role   Role            `json:"role"`
			Review json.RawMessage `json:"review"`
			Report json.RawMessage `json:"report"`
			Time   string          `json:"time"`
		}{m.Role, m.Review, report, m.Time})
	}
	return json.Marshal(struct {
		Role Role   `json:"role"`
		Text string `json:"text"`
		Time string `json:"time"`
	}{m.Role, m.Text, m.Time})
}

// UnmarshalJSON reads either shape; null payloads decode as absent.
func (m *Message) UnmarshalJSON(data []byte) error {
	type plain Message
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	if !present(p.Review) {
		p.Review = nil
	}
	if !present(p.Report) {
		p.Report = nil
	}
	*m = Message(p)
	return nil
}

func present(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) > 0 && string(t) != "null"
}

// Equal compares two messages, treating payloads as JSON text.
func (m Message) Equal(o Message) bool {
	return m.Role == o.Role && m.Text == o.Text && m.Time == o.Time &&
		bytes.Equal(m.Review, o.Review) && bytes.Equal(m.Report, o.Report)
}

// Clone returns a copy that shares no payload bytes with m.
func (m Message) Clone() Message {
	m.Review = cloneRaw(m.Review)
	m.Report = cloneRaw(m.Report)
	return m
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	out := make(json.RawMessage, len(raw))
	copy(out, raw)
	return out
}
