package messagelog

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"patientchat/internal/models"
)

var fixedNow = time.Date(2026, 10, 19, 8, 35, 9, 0, time.UTC)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := New("", WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)
	return e
}

func TestTimestampFormat(t *testing.T) {
	e := newTestEngine(t)
	// 08:35:09 UTC is 14:05:09 in Kolkata
	assert.Equal(t, "19/10/2026, 02:05:09 pm", e.Timestamp())

	utc, err := New("UTC", WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)
	assert.Equal(t, "19/10/2026, 08:35:09 am", utc.Timestamp())
}

func TestNewRejectsUnknownZone(t *testing.T) {
	_, err := New("Mars/Olympus")
	assert.Error(t, err)
}

func TestAppendChat(t *testing.T) {
	e := newTestEngine(t)
	user := &models.User{Messages: []models.Message{{Role: "admin", Text: "welcome", Time: "x"}}}

	msg, err := e.AppendChat(user, models.RolePatient, "I feel better")
	require.NoError(t, err)
	require.Len(t, user.Messages, 2)
	assert.True(t, user.Messages[1].Equal(msg))
	assert.Equal(t, models.KindChat, msg.Kind())
	assert.Equal(t, "I feel better", msg.Text)
	assert.Nil(t, user.Predictions)
	assert.Equal(t, "welcome", user.Messages[0].Text)
}

func TestAppendReviewSetsPredictionSlot(t *testing.T) {
	e := newTestEngine(t)
	user := &models.User{}

	first, err := e.AppendReview(user, json.RawMessage(`{"label":"A"}`), json.RawMessage(`"r1"`))
	require.NoError(t, err)
	second, err := e.AppendReview(user, json.RawMessage(`{"label":"B"}`), nil)
	require.NoError(t, err)

	require.Len(t, user.Messages, 2)
	assert.Equal(t, models.RoleSystem, first.Role)
	assert.Equal(t, models.RoleSystem, second.Role)
	require.NotNil(t, user.Predictions)
	assert.True(t, user.Predictions.Equal(second))
	assert.True(t, user.Messages[1].Equal(*user.Predictions))

	// the slot is a copy, not an alias of the log entry
	user.Predictions.Review[2] = 'X'
	assert.Equal(t, `{"label":"B"}`, string(user.Messages[1].Review))
}

func TestReviewRoleIgnoresCaller(t *testing.T) {
	e := newTestEngine(t)
	user := &models.User{}
	entry := Infer(models.RoleDoctor, "ignored", json.RawMessage(`{"ok":true}`), json.RawMessage(`null`))
	assert.Equal(t, models.KindReview, entry.Kind)

	msg, err := e.Append(user, entry)
	require.NoError(t, err)
	assert.Equal(t, models.RoleSystem, msg.Role)
	assert.Empty(t, msg.Text)
	assert.Nil(t, msg.Report)
}

func TestInferWithoutReviewIsChat(t *testing.T) {
	for _, review := range []string{"", "null", "false", "0", `""`, " null "} {
		entry := Infer(models.RoleAdmin, "plain", json.RawMessage(review), nil)
		assert.Equal(t, models.KindChat, entry.Kind, "review %q", review)
		assert.Equal(t, models.RoleAdmin, entry.Role)
	}
	for _, review := range []string{`"x"`, "1", "true", "{}", "[]"} {
		assert.Equal(t, models.KindReview, Infer("patient", "", json.RawMessage(review), nil).Kind, "review %q", review)
	}
}

func TestBuildErrors(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Build(Entry{Kind: models.KindReview})
	assert.ErrorIs(t, err, ErrMissingReview)
	_, err = e.Build(Entry{})
	assert.ErrorIs(t, err, ErrUnknownKind)
	_, err = e.Append(nil, Chat("patient", "x"))
	assert.ErrorIs(t, err, ErrNilRecord)
}

func TestMessageJSONShapes(t *testing.T) {
	e := newTestEngine(t)
	chat, err := e.Build(Chat("patient", "hi"))
	require.NoError(t, err)
	data, err := json.Marshal(chat)
	require.NoError(t, err)
	assert.JSONEq(t, `{"role":"patient","text":"hi","time":"19/10/2026, 02:05:09 pm"}`, string(data))

	review, err := e.Build(Review(json.RawMessage(`{"p":0.9}`), json.RawMessage(`"done"`)))
	require.NoError(t, err)
	data, err = json.Marshal(review)
	require.NoError(t, err)
	assert.JSONEq(t, `{"role":"system","review":{"p":0.9},"report":"done","time":"19/10/2026, 02:05:09 pm"}`, string(data))
}
