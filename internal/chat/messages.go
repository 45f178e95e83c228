package chat

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/bwise1/meetup_api/internal/model"
)

// ParseMessages decodes raw into a list ordered by timestamp ascending.
// Entries without a sender, text or timestamp are dropped.
func ParseMessages(raw RawMessages) []model.ChatMessage {
	msgs := make([]model.ChatMessage, 0, len(raw))
	for key, value := range raw {
		msg, ok := parseMessage(key, value)
		if !ok {
			continue
		}
		msgs = append(msgs, msg)
	}
	sort.Slice(msgs, func(i, j int) bool {
		if msgs[i].Timestamp != msgs[j].Timestamp {
			return msgs[i].Timestamp < msgs[j].Timestamp
		}
		return msgs[i].ID < msgs[j].ID
	})
	return msgs
}

func parseMessage(key string, value json.RawMessage) (model.ChatMessage, bool) {
	var w wireMessage
	if err := json.Unmarshal(value, &w); err != nil {
		return model.ChatMessage{}, false
	}
	if w.SenderID == nil || strings.TrimSpace(*w.SenderID) == "" || w.Text == nil || w.Timestamp == nil || *w.Timestamp <= 0 {
		return model.ChatMessage{}, false
	}
	return model.ChatMessage{
		ID:         key,
		SenderID:   *w.SenderID,
		SenderName: w.SenderName,
		Text:       *w.Text,
		Timestamp:  *w.Timestamp,
	}, true
}

// CountUnread counts messages from other senders newer than watermark.
func CountUnread(msgs []model.ChatMessage, currentUserID string, watermark int64) int {
	n := 0
	for _, m := range msgs {
		if m.SenderID != currentUserID && m.Timestamp > watermark {
			n++
		}
	}
	return n
}
