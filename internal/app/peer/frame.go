package peer

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dkeye/Board/internal/domain"
)

var errMalformedFrame = errors.New("malformed frame")

// frame is the data channel wire format.
type frame struct {
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content"`
}

func encodeFrame(msgType string, content any) (string, error) {
	raw, err := json.Marshal(content)
	if err != nil {
		return "", fmt.Errorf("encode %s content: %w", msgType, err)
	}
	b, err := json.Marshal(frame{Type: msgType, Content: raw})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// decodeFrame requires a string type and a content field.
func decodeFrame(data string, from domain.Session) (domain.Message, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(data), &fields); err != nil {
		return domain.Message{}, fmt.Errorf("%w: %v", errMalformedFrame, err)
	}
	var msgType string
	if err := json.Unmarshal(fields["type"], &msgType); err != nil || msgType == "" {
		return domain.Message{}, fmt.Errorf("%w: type is not a string", errMalformedFrame)
	}
	content, ok := fields["content"]
	if !ok {
		return domain.Message{}, fmt.Errorf("%w: no content", errMalformedFrame)
	}
	return domain.Message{
		Type:            msgType,
		SenderUserID:    from.UserID,
		SenderSessionID: from.SessionID,
		Content:         content,
	}, nil
}
