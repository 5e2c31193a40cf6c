package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itsneelabh/bloxgate/registry"
	"github.com/itsneelabh/bloxgate/upstream"
)

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	r := registry.NewRegistry(nil)

	require.NoError(t, r.Register(&registry.Tool{
		Name:        "echo",
		Description: "returns its arguments",
		Schema: registry.NewSchema(map[string]registry.Property{
			"limit": {Type: registry.TypeInteger, Default: 10},
		}),
		ReadOnly: true,
		Handler: func(ctx context.Context, args map[string]interface{}) (json.RawMessage, error) {
			return json.Marshal(args)
		},
	}))
	require.NoError(t, r.Register(&registry.Tool{
		Name:        "always_fails",
		Description: "fails with an upstream server error",
		Schema:      registry.NewSchema(nil),
		Handler: func(ctx context.Context, args map[string]interface{}) (json.RawMessage, error) {
			return nil, &upstream.ServerError{StatusCode: 502, Method: "GET", Path: "/x"}
		},
	}))
	return r
}

func testServer(t *testing.T) (*httptest.Server, *SessionManager) {
	t.Helper()
	sessions := NewSessionManager(8, time.Minute, nil)
	t.Cleanup(sessions.CloseAll)

	srv := httptest.NewServer(NewServer(testRegistry(t), sessions, nil).Routes())
	t.Cleanup(srv.Close)
	return srv, sessions
}

func postFrame(t *testing.T, url string, frame Frame) *http.Response {
	t.Helper()
	body, err := json.Marshal(frame)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeJSONFrame(t *testing.T, r io.Reader) Frame {
	t.Helper()
	var f Frame
	require.NoError(t, json.NewDecoder(r).Decode(&f))
	return f
}

// parseSSE extracts the data payloads from a complete event stream.
func parseSSE(t *testing.T, data []byte) []Frame {
	t.Helper()
	var frames []Frame
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		f, err := DecodeFrame([]byte(strings.TrimPrefix(line, "data: ")))
		require.NoError(t, err)
		frames = append(frames, f)
	}
	return frames
}

func initialize(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	resp := postFrame(t, srv.URL+"/mcp", Frame{Type: TypeInitialize, ID: "init-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	frame := decodeJSONFrame(t, resp.Body)
	require.Equal(t, TypeInitialized, frame.Type)
	require.Equal(t, resp.Header.Get(sessionHeader), frame.SessionID)
	require.NotEmpty(t, frame.SessionID)
	return frame.SessionID
}

func TestInitialize(t *testing.T) {
	srv, sessions := testServer(t)

	id := initialize(t, srv)
	sess, ok := sessions.Get(id)
	require.True(t, ok)
	assert.Equal(t, SessionReady, sess.State())
}

func TestListTools(t *testing.T) {
	srv, _ := testServer(t)
	id := initialize(t, srv)

	resp := postFrame(t, srv.URL+"/mcp", Frame{Type: TypeListTools, ID: "lt-1", SessionID: id})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	frame := decodeJSONFrame(t, resp.Body)
	assert.Equal(t, TypeListToolsResult, frame.Type)
	assert.Equal(t, "lt-1", frame.ID)
	require.Len(t, frame.Tools, 2)
	assert.Equal(t, "always_fails", frame.Tools[0].Name)
	assert.Equal(t, "echo", frame.Tools[1].Name)
}

func TestCallToolStreamsProgressThenResult(t *testing.T) {
	srv, _ := testServer(t)
	id := initialize(t, srv)

	resp := postFrame(t, srv.URL+"/mcp", Frame{
		Type:      TypeCallTool,
		ID:        "ct-1",
		SessionID: id,
		Tool:      "echo",
		Arguments: map[string]interface{}{"limit": 5},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	frames := parseSSE(t, body)
	require.Len(t, frames, 2)

	assert.Equal(t, TypeProgress, frames[0].Type)
	assert.Equal(t, "started", frames[0].Message)
	assert.NotEmpty(t, frames[0].CorrelationID)

	result := frames[1]
	assert.Equal(t, TypeCallToolResult, result.Type)
	assert.Equal(t, "ct-1", result.ID)
	assert.Equal(t, frames[0].CorrelationID, result.CorrelationID)
	assert.JSONEq(t, `{"limit":5}`, string(result.Result))
}

func TestCallToolErrorFrame(t *testing.T) {
	srv, _ := testServer(t)
	id := initialize(t, srv)

	resp := postFrame(t, srv.URL+"/mcp", Frame{
		Type: TypeCallTool, ID: "ct-2", SessionID: id, Tool: "always_fails",
	})
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	frames := parseSSE(t, body)
	require.Len(t, frames, 2)

	errFrame := frames[1]
	require.Equal(t, TypeError, errFrame.Type)
	require.NotNil(t, errFrame.Error)
	assert.Equal(t, KindUpstreamServerError, errFrame.Error.Kind)
	assert.NotEmpty(t, errFrame.Error.CorrelationID)
}

func TestCallToolSchemaViolation(t *testing.T) {
	srv, _ := testServer(t)
	id := initialize(t, srv)

	resp := postFrame(t, srv.URL+"/mcp", Frame{
		Type:      TypeCallTool,
		ID:        "ct-3",
		SessionID: id,
		Tool:      "echo",
		Arguments: map[string]interface{}{"unexpected": true},
	})
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	frames := parseSSE(t, body)

	errFrame := frames[len(frames)-1]
	require.Equal(t, TypeError, errFrame.Type)
	assert.Equal(t, KindSchemaViolation, errFrame.Error.Kind)
}

func TestCallToolUnknownTool(t *testing.T) {
	srv, _ := testServer(t)
	id := initialize(t, srv)

	resp := postFrame(t, srv.URL+"/mcp", Frame{
		Type: TypeCallTool, ID: "ct-4", SessionID: id, Tool: "no_such_tool",
	})
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	frames := parseSSE(t, body)

	errFrame := frames[len(frames)-1]
	require.Equal(t, TypeError, errFrame.Type)
	assert.Equal(t, KindUnknownTool, errFrame.Error.Kind)
}

func TestUnknownSessionRejected(t *testing.T) {
	srv, _ := testServer(t)

	resp := postFrame(t, srv.URL+"/mcp", Frame{Type: TypeListTools, ID: "x", SessionID: "nope"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	frame := decodeJSONFrame(t, resp.Body)
	require.Equal(t, TypeError, frame.Type)
}

func TestSessionIDFromHeader(t *testing.T) {
	srv, _ := testServer(t)
	id := initialize(t, srv)

	body, err := json.Marshal(Frame{Type: TypeListTools, ID: "lt-2"})
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/mcp", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set(sessionHeader, id)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	frame := decodeJSONFrame(t, resp.Body)
	assert.Equal(t, TypeListToolsResult, frame.Type)
}

func TestCloseFrame(t *testing.T) {
	srv, sessions := testServer(t)
	id := initialize(t, srv)

	resp := postFrame(t, srv.URL+"/mcp", Frame{Type: TypeClose, ID: "c-1", SessionID: id})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	frame := decodeJSONFrame(t, resp.Body)
	assert.Equal(t, TypeClose, frame.Type)
	_, ok := sessions.Get(id)
	assert.False(t, ok)
}

func TestDeleteClosesSession(t *testing.T) {
	srv, sessions := testServer(t)
	id := initialize(t, srv)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/mcp", nil)
	require.NoError(t, err)
	req.Header.Set(sessionHeader, id)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	_, ok := sessions.Get(id)
	assert.False(t, ok)
}

func TestMalformedFrameRejected(t *testing.T) {
	srv, _ := testServer(t)

	resp, err := http.Post(srv.URL+"/mcp", "application/json", strings.NewReader("not json"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCallToolCancelledMidFlight(t *testing.T) {
	sessions := NewSessionManager(8, time.Minute, nil)
	t.Cleanup(sessions.CloseAll)

	reg := registry.NewRegistry(nil)
	started := make(chan struct{})
	observed := make(chan error, 1)
	require.NoError(t, reg.Register(&registry.Tool{
		Name:        "slow",
		Description: "waits for cancellation",
		Schema:      registry.NewSchema(nil),
		Handler: func(ctx context.Context, args map[string]interface{}) (json.RawMessage, error) {
			close(started)
			<-ctx.Done()
			observed <- ctx.Err()
			return nil, fmt.Errorf("%w: %v", upstream.ErrCanceled, ctx.Err())
		},
	}))

	srv := httptest.NewServer(NewServer(reg, sessions, nil).Routes())
	t.Cleanup(srv.Close)

	id := initialize(t, srv)
	go func() {
		<-started
		sessions.Remove(id)
	}()

	resp := postFrame(t, srv.URL+"/mcp", Frame{Type: TypeCallTool, ID: "ct-5", SessionID: id, Tool: "slow"})
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	select {
	case err := <-observed:
		assert.ErrorIs(t, err, context.Canceled, "closing the session cancels the in-flight call")
	case <-time.After(time.Second):
		t.Fatal("handler never observed cancellation")
	}

	frames := parseSSE(t, body)
	last := frames[len(frames)-1]
	require.Equal(t, TypeError, last.Type)
	assert.Equal(t, KindCancelled, last.Error.Kind)
}

func TestCallObserverCountsClientFaults(t *testing.T) {
	sessions := NewSessionManager(8, time.Minute, nil)
	t.Cleanup(sessions.CloseAll)

	type record struct{ tool, kind string }
	var mu sync.Mutex
	var seen []record
	server := NewServer(testRegistry(t), sessions, nil)
	server.SetObserver(func(tool, errorKind string, duration time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, record{tool, errorKind})
	})
	srv := httptest.NewServer(server.Routes())
	t.Cleanup(srv.Close)

	id := initialize(t, srv)

	drain := func(frame Frame) {
		resp := postFrame(t, srv.URL+"/mcp", frame)
		_, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
	}
	drain(Frame{Type: TypeCallTool, ID: "o-1", SessionID: id, Tool: "echo"})
	drain(Frame{Type: TypeCallTool, ID: "o-2", SessionID: id, Tool: "echo",
		Arguments: map[string]interface{}{"unexpected": true}})
	drain(Frame{Type: TypeCallTool, ID: "o-3", SessionID: id, Tool: "no_such_tool"})
	drain(Frame{Type: TypeCallTool, ID: "o-4", SessionID: id, Tool: "always_fails"})

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 4)
	assert.Equal(t, record{"echo", ""}, seen[0])
	assert.Equal(t, record{"echo", KindSchemaViolation}, seen[1])
	assert.Equal(t, record{"no_such_tool", KindUnknownTool}, seen[2])
	assert.Equal(t, record{"always_fails", KindUpstreamServerError}, seen[3])
}

func TestLegacySSEFlow(t *testing.T) {
	srv, _ := testServer(t)

	resp, err := http.Get(srv.URL + "/sse")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	sessionID := resp.Header.Get(sessionHeader)
	require.NotEmpty(t, sessionID)

	reader := bufio.NewReader(resp.Body)
	readEvent := func() (string, string) {
		var event, data string
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			line = strings.TrimRight(line, "\n")
			switch {
			case strings.HasPrefix(line, "event: "):
				event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				data = strings.TrimPrefix(line, "data: ")
			case line == "" && event != "":
				return event, data
			}
		}
	}

	event, data := readEvent()
	assert.Equal(t, "endpoint", event)
	assert.Equal(t, "/sse/messages?session_id="+sessionID, data)

	post := func(frame Frame) {
		body, err := json.Marshal(frame)
		require.NoError(t, err)
		r, err := http.Post(srv.URL+data, "application/json", bytes.NewReader(body))
		require.NoError(t, err)
		r.Body.Close()
		require.Equal(t, http.StatusAccepted, r.StatusCode)
	}

	post(Frame{Type: TypeInitialize, ID: "init-1"})
	event, payload := readEvent()
	assert.Equal(t, TypeInitialized, event)
	init, err := DecodeFrame([]byte(payload))
	require.NoError(t, err)
	assert.Equal(t, ProtocolVersion, init.ProtocolVersion)

	post(Frame{Type: TypeCallTool, ID: "ct-1", Tool: "echo", Arguments: map[string]interface{}{"limit": 3}})

	event, _ = readEvent()
	assert.Equal(t, TypeProgress, event)

	event, payload = readEvent()
	assert.Equal(t, TypeCallToolResult, event)
	result, err := DecodeFrame([]byte(payload))
	require.NoError(t, err)
	assert.JSONEq(t, `{"limit":3}`, string(result.Result))
}

func TestLegacyReinitializeRejected(t *testing.T) {
	srv, sessions := testServer(t)

	resp, err := http.Get(srv.URL + "/sse")
	require.NoError(t, err)
	defer resp.Body.Close()
	sessionID := resp.Header.Get(sessionHeader)

	reader := bufio.NewReader(resp.Body)
	readEvent := func() (string, string) {
		var event, data string
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			line = strings.TrimRight(line, "\n")
			switch {
			case strings.HasPrefix(line, "event: "):
				event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				data = strings.TrimPrefix(line, "data: ")
			case line == "" && event != "":
				return event, data
			}
		}
	}
	event, endpoint := readEvent()
	require.Equal(t, "endpoint", event)

	post := func(frame Frame) {
		body, err := json.Marshal(frame)
		require.NoError(t, err)
		r, err := http.Post(srv.URL+endpoint, "application/json", bytes.NewReader(body))
		require.NoError(t, err)
		r.Body.Close()
		require.Equal(t, http.StatusAccepted, r.StatusCode)
	}

	post(Frame{Type: TypeInitialize, ID: "init-1"})
	event, _ = readEvent()
	require.Equal(t, TypeInitialized, event)

	// A second initialize on the live session is a protocol violation.
	post(Frame{Type: TypeInitialize, ID: "init-2"})
	event, payload := readEvent()
	assert.Equal(t, TypeError, event)
	errFrame, err := DecodeFrame([]byte(payload))
	require.NoError(t, err)
	require.NotNil(t, errFrame.Error)
	assert.Contains(t, errFrame.Error.Message, "already initialized")

	sess, ok := sessions.Get(sessionID)
	require.True(t, ok)
	assert.Equal(t, SessionReady, sess.State(), "rejection leaves the session usable")
}

func TestLegacyCallBeforeInitialize(t *testing.T) {
	srv, sessions := testServer(t)

	resp, err := http.Get(srv.URL + "/sse")
	require.NoError(t, err)
	defer resp.Body.Close()
	sessionID := resp.Header.Get(sessionHeader)

	sess, ok := sessions.Get(sessionID)
	require.True(t, ok)
	require.Equal(t, SessionNew, sess.State())

	reader := bufio.NewReader(resp.Body)
	readEvent := func() (string, string) {
		var event, data string
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			line = strings.TrimRight(line, "\n")
			switch {
			case strings.HasPrefix(line, "event: "):
				event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				data = strings.TrimPrefix(line, "data: ")
			case line == "" && event != "":
				return event, data
			}
		}
	}
	event, _ := readEvent()
	require.Equal(t, "endpoint", event)

	body, err := json.Marshal(Frame{Type: TypeCallTool, ID: "ct-1", Tool: "echo"})
	require.NoError(t, err)
	r, err := http.Post(srv.URL+"/sse/messages?session_id="+sessionID, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	r.Body.Close()

	// The rejection arrives on the stream, not the POST response.
	event, payload := readEvent()
	assert.Equal(t, TypeError, event)
	errFrame, err := DecodeFrame([]byte(payload))
	require.NoError(t, err)
	require.NotNil(t, errFrame.Error)
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _ := testServer(t)

	req, err := http.NewRequest(http.MethodPut, srv.URL+"/mcp", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
