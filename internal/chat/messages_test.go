package chat

import (
	"encoding/json"
	"testing"

	"github.com/bwise1/meetup_api/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encode(t *testing.T, msg model.ChatMessage) json.RawMessage {
	t.Helper()
	raw, err := EncodeMessage(msg)
	require.NoError(t, err)
	return raw
}

func TestParseMessages_SortsByTimestamp(t *testing.T) {
	raw := RawMessages{
		"a": encode(t, model.ChatMessage{SenderID: "u1", Text: "third", Timestamp: 300}),
		"b": encode(t, model.ChatMessage{SenderID: "u2", Text: "first", Timestamp: 100}),
		"c": encode(t, model.ChatMessage{SenderID: "u1", Text: "second", Timestamp: 200}),
	}

	msgs := ParseMessages(raw)
	require.Len(t, msgs, 3)
	assert.Equal(t, []string{"first", "second", "third"}, []string{msgs[0].Text, msgs[1].Text, msgs[2].Text})
	assert.Equal(t, "b", msgs[0].ID)
	for i := 1; i < len(msgs); i++ {
		assert.LessOrEqual(t, msgs[i-1].Timestamp, msgs[i].Timestamp)
	}
}

func TestParseMessages_DropsMalformed(t *testing.T) {
	raw := RawMessages{
		"ok":         encode(t, model.ChatMessage{SenderID: "u1", Text: "hello", Timestamp: 10}),
		"no-sender":  json.RawMessage(`{"text":"x","timestamp":5}`),
		"no-text":    json.RawMessage(`{"sender_id":"u1","timestamp":5}`),
		"no-time":    json.RawMessage(`{"sender_id":"u1","text":"x"}`),
		"zero-time":  json.RawMessage(`{"sender_id":"u1","text":"x","timestamp":0}`),
		"not-object": json.RawMessage(`"garbage"`),
		"empty-text": json.RawMessage(`{"sender_id":"u2","text":"","timestamp":7}`),
	}

	msgs := ParseMessages(raw)
	require.Len(t, msgs, 2)
	assert.Equal(t, "empty-text", msgs[0].ID)
	assert.Equal(t, "ok", msgs[1].ID)
}

func TestCountUnread(t *testing.T) {
	msgs := []model.ChatMessage{
		{SenderID: "a", Timestamp: 100},
		{SenderID: "b", Timestamp: 200},
		{SenderID: "a", Timestamp: 300},
		{SenderID: model.SystemSenderID, Timestamp: 400},
	}

	tests := []struct {
		name      string
		user      string
		watermark int64
		want      int
	}{
		{"never viewed", "b", 0, 3},
		{"own messages skipped", "a", 0, 2},
		{"watermark excludes older", "b", 200, 2},
		{"watermark equal is read", "b", 400, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CountUnread(msgs, tt.user, tt.watermark))
		})
	}
}

func TestWatermarkKey(t *testing.T) {
	assert.Equal(t, "last_viewed_act1", WatermarkKey("act1"))
}
