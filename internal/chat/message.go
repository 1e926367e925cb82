package chat

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zulandar/postavshik/internal/models"
)

// Message is one transcript entry.
type Message struct {
	ID        uint64 `json:"id"` // per-session, monotonic from 1
	Content   string `json:"content"`
	Sender    string `json:"sender"`
	Timestamp string `json:"timestamp"` // server string, displayed verbatim
}

var errMissingMessage = errors.New("frame has no message field")

// parseFrame decodes an inbound text frame. The ID is assigned by the session.
func parseFrame(data []byte) (Message, error) {
	var f models.ChatFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return Message{}, fmt.Errorf("decode frame: %w", err)
	}
	if f.Message == nil {
		return Message{}, errMissingMessage
	}
	return Message{
		Content:   *f.Message,
		Sender:    f.Sender,
		Timestamp: f.Timestamp,
	}, nil
}

// encodeOutbound builds the single frame written for a send.
func encodeOutbound(text string) ([]byte, error) {
	return json.Marshal(models.OutboundChatFrame{Message: text})
}
