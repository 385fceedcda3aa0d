// Package messagelog builds log entries and appends them to a user record.
//
// A record's log is append-only. System reviews are additionally copied into
// the record's prediction slot, so the two always change together and are
// persisted by the same Save.
package messagelog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	_ "time/tzdata"

	"patientchat/internal/models"
)

// DefaultZone is the zone existing consumers expect timestamps in.
const DefaultZone = "Asia/Kolkata"

// timeLayout renders en-IN style "19/10/2026, 02:05:09 pm".
const timeLayout = "02/01/2006, 03:04:05 pm"

var (
	ErrUnknownKind   = errors.New("unknown message kind")
	ErrMissingReview = errors.New("review payload required")
	ErrNilRecord     = errors.New("record required")
)

// Entry is the caller's intent: a chat line or a system review.
type Entry struct {
	Kind   models.Kind
	Role   string
	Text   string
	Review json.RawMessage
	Report json.RawMessage
}

// Chat describes a chat message authored by role.
func Chat(role, text string) Entry {
	return Entry{Kind: models.KindChat, Role: role, Text: text}
}

// Review describes a system review; the author is always "system".
func Review(review, report json.RawMessage) Entry {
	return Entry{Kind: models.KindReview, Role: models.RoleSystem, Review: review, Report: report}
}

// Infer picks the entry kind the way legacy clients expect: a present review
// payload makes a system review whatever role was sent, anything else is chat.
func Infer(role, text string, review, report json.RawMessage) Entry {
	if Present(review) {
		return Review(review, nullToNil(report))
	}
	return Chat(role, text)
}

// Present reports whether a JSON payload counts as supplied. Absent, null,
// false, 0 and "" do not.
func Present(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return false
	}
	switch string(trimmed) {
	case "null", "false", `""`:
		return false
	}
	var n float64
	if err := json.Unmarshal(trimmed, &n); err == nil && n == 0 {
		return false
	}
	return true
}

func nullToNil(raw json.RawMessage) json.RawMessage {
	if t := bytes.TrimSpace(raw); len(t) == 0 || string(t) == "null" {
		return nil
	}
	return raw
}

// Engine appends entries to records, stamping them with its clock.
type Engine struct {
	now func() time.Time
	loc *time.Location
}

type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLocation sets the zone timestamps are rendered in.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) {
		if loc != nil {
			e.loc = loc
		}
	}
}

// New returns an engine rendering times in zone (DefaultZone when empty).
func New(zone string, opts ...Option) (*Engine, error) {
	if zone == "" {
		zone = DefaultZone
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("load time zone %q: %w", zone, err)
	}
	e := &Engine{now: time.Now, loc: loc}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Timestamp returns the current time in the log's display format.
func (e *Engine) Timestamp() string {
	return FormatTime(e.now(), e.loc)
}

// FormatTime renders t in loc using the log's display format.
func FormatTime(t time.Time, loc *time.Location) string {
	if loc != nil {
		t = t.In(loc)
	}
	return t.Format(timeLayout)
}

// Build turns an entry into a timestamped message without touching a record.
func (e *Engine) Build(entry Entry) (models.Message, error) {
	switch entry.Kind {
	case models.KindChat:
		return models.Message{Role: entry.Role, Text: entry.Text, Time: e.Timestamp()}, nil
	case models.KindReview:
		if !Present(entry.Review) {
			return models.Message{}, ErrMissingReview
		}
		return models.Message{
			Role:   models.RoleSystem,
			Review: entry.Review,
			Report: nullToNil(entry.Report),
			Time:   e.Timestamp(),
		}, nil
	default:
		return models.Message{}, fmt.Errorf("%w: %d", ErrUnknownKind, entry.Kind)
	}
}

// Append builds the message for entry and appends it to user. Reviews also
// overwrite the prediction slot. The record is only mutated in memory.
func (e *Engine) Append(user *models.User, entry Entry) (models.Message, error) {
	if user == nil {
		return models.Message{}, ErrNilRecord
	}
	msg, err := e.Build(entry)
	if err != nil {
		return models.Message{}, err
	}
	user.Messages = append(user.Messages, msg)
	if msg.Kind() == models.KindReview {
		slot := msg.Clone()
		user.Predictions = &slot
	}
	return msg, nil
}

// AppendChat appends a chat message authored by role.
func (e *Engine) AppendChat(user *models.User, role, text string) (models.Message, error) {
	return e.Append(user, Chat(role, text))
}

// AppendReview appends a system review and overwrites the prediction slot.
func (e *Engine) AppendReview(user *models.User, review, report json.RawMessage) (models.Message, error) {
	return e.Append(user, Review(review, report))
}
