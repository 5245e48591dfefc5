package testutils

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"
)

// DefaultTimeout bounds every read the helpers perform.
const DefaultTimeout = 5 * time.Second

// Reply is one message received from the server.
type Reply struct {
	Reply     any `json:"reply"`
	MessageID any `json:"message_id"`
}

// WSStream drives one WebSocket connection the way a client would: start a command, then
// check the replies that come back for it.
type WSStream struct {
	t    testing.TB
	conn *websocket.Conn

	// MessageID is the id used by the last Start
	MessageID string
}

// DialWS connects to path on the server at serverURL. When greeted is set the server time
// greeting is read and checked before returning. The connection is closed on cleanup.
func DialWS(t testing.TB, serverURL, path string, greeted bool) *WSStream {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(serverURL, "http") + path
	conn, err := websocket.Dial(wsURL, "", serverURL)
	require.NoError(t, err, "dial websocket")
	t.Cleanup(func() {
		_ = conn.Close()
	})

	s := &WSStream{t: t, conn: conn}
	if greeted {
		first := s.Read()
		assert.Equal(t, "__server_time__", first.MessageID)
		assert.IsType(t, float64(0), first.Reply)
	}
	return s
}

// Conn returns the underlying connection.
func (s *WSStream) Conn() *websocket.Conn {
	return s.conn
}

// WriteRaw sends text as a single frame.
func (s *WSStream) WriteRaw(text string) {
	s.t.Helper()
	require.NoError(s.t, websocket.Message.Send(s.conn, text))
}

// Write sends message encoded as json.
func (s *WSStream) Write(message any) {
	s.t.Helper()
	data, err := json.Marshal(message)
	require.NoError(s.t, err)
	s.WriteRaw(string(data))
}

// Start sends body to path under a fresh message id and remembers the id for CheckReply.
func (s *WSStream) Start(path string, body any) string {
	s.t.Helper()
	s.MessageID = GenerateUUID(false)
	s.Send(path, body, s.MessageID)
	return s.MessageID
}

// Send sends body to path under messageID, which is a string or a list of strings.
func (s *WSStream) Send(path string, body any, messageID any) {
	s.t.Helper()
	s.Write(map[string]any{"path": path, "body": body, "message_id": messageID})
}

// Read returns the next message from the server.
func (s *WSStream) Read() Reply {
	s.t.Helper()
	require.NoError(s.t, s.conn.SetReadDeadline(time.Now().Add(DefaultTimeout)))

	var raw string
	require.NoError(s.t, websocket.Message.Receive(s.conn, &raw), "read from websocket")

	var got Reply
	require.NoError(s.t, json.Unmarshal([]byte(raw), &got), "decode %q", raw)
	return got
}

// CheckReply reads the next message and asserts it is reply for messageID. A nil messageID
// means the id of the last Start. It returns the reply.
func (s *WSStream) CheckReply(reply any, messageID any) any {
	s.t.Helper()
	if messageID == nil {
		messageID = s.MessageID
	}

	got := s.Read()
	assert.Equal(s.t, Normalize(s.t, Reply{Reply: reply, MessageID: messageID}), Normalize(s.t, got))
	return got.Reply
}

// CheckClosed asserts the server closed the connection.
func (s *WSStream) CheckClosed() {
	s.t.Helper()
	require.NoError(s.t, s.conn.SetReadDeadline(time.Now().Add(DefaultTimeout)))

	var raw string
	err := websocket.Message.Receive(s.conn, &raw)
	require.Error(s.t, err, "expected the connection to be closed, got %q", raw)
}

// Normalize round trips v through json so values compare the way the client sees them.
func Normalize(t testing.TB, v any) any {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	var out any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

// Put sends body as json to url with the PUT method and returns the status, the content type
// and the raw response body.
func Put(t testing.TB, url string, body any) (int, string, []byte) {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case string:
		reader = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(http.MethodPut, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Close = true

	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res.StatusCode, res.Header.Get("Content-Type"), data
}
