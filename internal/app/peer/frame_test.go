package peer

import (
	"testing"

	"github.com/dkeye/Board/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	from := domain.Session{UserID: "@bob", SessionID: "session-b"}
	data, err := encodeFrame("present_slide", map[string]any{"view": map[string]any{"slideId": "s1"}})
	require.NoError(t, err)

	msg, err := decodeFrame(data, from)
	require.NoError(t, err)
	assert.Equal(t, "present_slide", msg.Type)
	assert.Equal(t, from, msg.Sender())
	assert.JSONEq(t, `{"view":{"slideId":"s1"}}`, string(msg.Content))
}

func TestDecodeFrameRejectsMalformed(t *testing.T) {
	for _, data := range []string{
		``,
		`not json`,
		`[]`,
		`{"content":{}}`,
		`{"type":7,"content":{}}`,
		`{"type":"","content":{}}`,
		`{"type":"x"}`,
	} {
		_, err := decodeFrame(data, domain.Session{})
		assert.ErrorIs(t, err, errMalformedFrame, data)
	}
}
