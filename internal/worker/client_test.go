package worker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var upgrader = websocket.Upgrader{}

// fakeWorker runs a websocket endpoint that answers every request with the
// scripted raw frames, in order.
func fakeWorker(t *testing.T, script func(request Frame) [][]byte) *Client {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var request Frame
		require.NoError(t, json.Unmarshal(data, &request))

		for _, raw := range script(request) {
			if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	return NewClient("ws"+strings.TrimPrefix(srv.URL, "http"), time.Second)
}

func frameJSON(t *testing.T, f Frame) []byte {
	t.Helper()
	data, err := json.Marshal(f)
	require.NoError(t, err)
	return data
}

func TestSendReturnsTerminalFrame(t *testing.T) {
	client := fakeWorker(t, func(req Frame) [][]byte {
		return [][]byte{
			frameJSON(t, Frame{"type": "progress", "status": "running", "id": req.ID()}),
			frameJSON(t, Frame{"type": "progress", "status": "running", "id": req.ID()}),
			frameJSON(t, Frame{
				"type": "static_analysis_result", "status": "ok", "id": req.ID(),
				"analysis": map[string]any{"tools": map[string]any{"bandit": map[string]any{"status": "completed"}}},
			}),
		}
	})

	frame := client.Send(context.Background(), map[string]any{"type": "static_analyze"}, 5*time.Second)
	assert.True(t, frame.IsTerminal())
	assert.Equal(t, StatusOK, frame.Status())
	assert.NotNil(t, frame.Analysis())
}

func TestSendMintsCorrelationToken(t *testing.T) {
	var gotID string
	client := fakeWorker(t, func(req Frame) [][]byte {
		gotID = req.ID()
		return [][]byte{frameJSON(t, Frame{"type": "x_analysis_result", "id": req.ID(), "analysis": map[string]any{"ok": true}})}
	})

	frame := client.Send(context.Background(), map[string]any{"type": "ping"}, 5*time.Second)
	require.NotEmpty(t, gotID)
	assert.Equal(t, gotID, frame.ID())
}

func TestSendFallsBackToLastProgressOnClose(t *testing.T) {
	client := fakeWorker(t, func(req Frame) [][]byte {
		return [][]byte{
			frameJSON(t, Frame{"type": "progress", "status": "running", "percent": 10.0}),
			frameJSON(t, Frame{"type": "progress", "status": "running", "percent": 60.0}),
			// connection closes without a terminal frame
		}
	})

	frame := client.Send(context.Background(), map[string]any{"type": "static_analyze"}, 5*time.Second)
	assert.Equal(t, "progress", frame.Type())
	assert.Equal(t, 60.0, frame["percent"])
}

func TestSendSyntheticErrorWhenNoFrames(t *testing.T) {
	client := fakeWorker(t, func(req Frame) [][]byte { return nil })

	frame := client.Send(context.Background(), map[string]any{"type": "static_analyze"}, 5*time.Second)
	assert.Equal(t, StatusError, frame.Status())
}

func TestSendTimeoutReturnsSyntheticTimeout(t *testing.T) {
	client := fakeWorker(t, func(req Frame) [][]byte {
		time.Sleep(300 * time.Millisecond)
		return nil
	})

	frame := client.Send(context.Background(), map[string]any{"type": "static_analyze"}, 50*time.Millisecond)
	assert.Equal(t, StatusTimeout, frame.Status())
}

func TestSendDegradesMalformedFrames(t *testing.T) {
	client := fakeWorker(t, func(req Frame) [][]byte {
		return [][]byte{[]byte("{definitely not json")}
	})

	frame := client.Send(context.Background(), map[string]any{"type": "static_analyze"}, 2*time.Second)
	assert.Equal(t, StatusError, frame.Status())
	assert.Equal(t, "invalid_json_frame", frame.Err())
	assert.Equal(t, "{definitely not json", frame["raw"])
}

func TestSendIgnoresForeignTokens(t *testing.T) {
	client := fakeWorker(t, func(req Frame) [][]byte {
		return [][]byte{
			frameJSON(t, Frame{"type": "y_analysis_result", "id": "someone-else", "analysis": map[string]any{"x": 1}}),
			frameJSON(t, Frame{"type": "y_analysis_result", "id": req.ID(), "status": "ok", "analysis": map[string]any{"mine": true}}),
		}
	})

	frame := client.Send(context.Background(), map[string]any{"type": "dynamic_analyze"}, 2*time.Second)
	assert.Equal(t, StatusOK, frame.Status())
	assert.Equal(t, true, frame.Analysis()["mine"])
}

func TestSendDialFailure(t *testing.T) {
	client := NewClient("ws://127.0.0.1:1", 200*time.Millisecond)

	frame := client.Send(context.Background(), map[string]any{"type": "ping"}, time.Second)
	assert.Equal(t, StatusError, frame.Status())
	assert.NotEmpty(t, frame.Err())
}
