package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheikhshariarnehal/cloudvault-sub001/internal/auth"
	"github.com/sheikhshariarnehal/cloudvault-sub001/internal/relay"
)

func TestUploadProgressWebSocket(t *testing.T) {
	fake := newFakeRelayClient()
	fake.setScript(func(operationID string, req relay.SendRequest) {
		fake.updates <- relay.Event{Kind: relay.EventProgress, OperationID: operationID, Uploaded: 2, Total: 5}
		fake.updates <- relay.Event{
			Kind:        relay.EventSucceeded,
			OperationID: operationID,
			Record:      &relay.RemoteFileRecord{RemoteFileID: "remote-ws", Size: 5},
		}
	})

	handler := newTestServer(t, fake)
	ts := httptest.NewServer(handler)
	defer ts.Close()

	uploadID := initUpload(t, handler, "f.bin", 5, "application/octet-stream", 1)
	require.Equal(t, http.StatusOK, sendChunk(t, handler, uploadID, 0, "AAAAA").Code)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/upload/" + uploadID + "/progress"

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	defer resp.Body.Close()

	// Give the handler a moment to register the subscription, then kick off
	// the complete while the subscriber listens.
	time.Sleep(100 * time.Millisecond)

	go func() {
		req, _ := http.NewRequest("POST", ts.URL+"/upload/complete",
			strings.NewReader(`{"upload_id":"`+uploadID+`"}`))
		req.Header.Set(auth.APIKeyHeader, testAPIKey)

		res, err := http.DefaultClient.Do(req)
		if err == nil {
			res.Body.Close()
		}
	}()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var sawProgress, sawDone bool

	for !sawDone {
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err)

		var frame progressFrame
		require.NoError(t, json.Unmarshal(raw, &frame))
		assert.Equal(t, uploadID, frame.UploadID)

		if frame.Done {
			sawDone = true
			assert.Equal(t, "completed", frame.Status)
		} else if frame.Uploaded > 0 {
			sawProgress = true
			assert.InDelta(t, 0.4, frame.Fraction, 0.01)
		}
	}

	assert.True(t, sawProgress)
}

func TestUploadProgressUnknownSession(t *testing.T) {
	fake := newFakeRelayClient()
	handler := newTestServer(t, fake)

	req := httptest.NewRequest("GET", "/upload/deadbeef/progress", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
