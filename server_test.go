package weathermcp_test

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudpine/weathermcp"
)

func newToolServer(t *testing.T, options ...weathermcp.ServerOption) *httptest.Server {
	t.Helper()

	srv := weathermcp.NewServer(weathermcp.Info{Name: "weatherd-test", Version: "0.0.1"}, options...)
	srv.RegisterTool(weathermcp.ToolCurrentWeather, cannedCurrentWeather)

	mux := http.NewServeMux()
	mux.Handle("/sse", srv.HandleSSE())
	mux.Handle("/messages/", srv.HandleMessage())

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	return ts
}

// openRawStream opens the event stream without the client, so tests can
// inspect the frames as the server actually writes them.
func openRawStream(t *testing.T, ts *httptest.Server) *bufio.Reader {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/sse", nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	return bufio.NewReader(resp.Body)
}

// readRawEvent reads one SSE event off the stream, skipping comments and
// unknown fields.
func readRawEvent(t *testing.T, br *bufio.Reader) (name, data string) {
	t.Helper()

	for {
		line, err := br.ReadString('\n')
		require.NoError(t, err, "stream ended before a full event arrived")
		line = strings.TrimRight(line, "\r\n")

		switch {
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		case line == "":
			if name != "" || data != "" {
				return name, data
			}
		}
	}
}

func TestStreamOpensWithEndpointEvent(t *testing.T) {
	ts := newToolServer(t)
	br := openRawStream(t, ts)

	name, data := readRawEvent(t, br)
	assert.Equal(t, "endpoint", name)
	require.True(t, strings.HasPrefix(data, "/messages/?session_id="), "unexpected endpoint %q", data)

	sessionID := strings.TrimPrefix(data, "/messages/?session_id=")
	assert.NotEmpty(t, sessionID)
}

func TestEachStreamGetsItsOwnSession(t *testing.T) {
	ts := newToolServer(t)

	_, first := readRawEvent(t, openRawStream(t, ts))
	_, second := readRawEvent(t, openRawStream(t, ts))

	assert.NotEqual(t, first, second, "sessions must not share identifiers")
}

func TestMessageEndpointValidation(t *testing.T) {
	ts := newToolServer(t)

	// A live session for the cases that need one.
	_, endpoint := readRawEvent(t, openRawStream(t, ts))

	valid := `{"jsonrpc":"2.0","id":"1","method":"initialize","params":{}}`

	tests := []struct {
		name       string
		uri        string
		body       string
		wantStatus int
	}{
		{
			name:       "missing session_id",
			uri:        "/messages/",
			body:       valid,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown session",
			uri:        "/messages/?session_id=nope",
			body:       valid,
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "malformed body",
			uri:        endpoint,
			body:       `{broken`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "accepted",
			uri:        endpoint,
			body:       valid,
			wantStatus: http.StatusAccepted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := ts.Client().Post(ts.URL+tt.uri, "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.wantStatus, resp.StatusCode)
		})
	}
}

func TestInitializeAnsweredOverStream(t *testing.T) {
	ts := newToolServer(t)
	br := openRawStream(t, ts)
	_, endpoint := readRawEvent(t, br)

	body := fmt.Sprintf(`{"jsonrpc":"2.0","id":"1","method":"initialize",`+
		`"params":{"protocolVersion":%q,"capabilities":{"roots":{"listChanged":false}},`+
		`"clientInfo":{"name":"raw-test","version":"0.0.1"}}}`, weathermcp.ProtocolVersion)

	resp, err := ts.Client().Post(ts.URL+endpoint, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	name, data := readRawEvent(t, br)
	require.Equal(t, "message", name)

	var msg weathermcp.JSONRPCMessage
	require.NoError(t, json.Unmarshal([]byte(data), &msg))
	assert.Equal(t, weathermcp.MustString("1"), msg.ID)
	require.Nil(t, msg.Error)

	var result struct {
		ProtocolVersion string          `json:"protocolVersion"`
		ServerInfo      weathermcp.Info `json:"serverInfo"`
	}
	require.NoError(t, json.Unmarshal(msg.Result, &result))
	assert.Equal(t, weathermcp.ProtocolVersion, result.ProtocolVersion)
	assert.Equal(t, "weatherd-test", result.ServerInfo.Name)
}

func TestUnknownMethodGetsMethodNotFound(t *testing.T) {
	ts := newToolServer(t)
	br := openRawStream(t, ts)
	_, endpoint := readRawEvent(t, br)

	body := `{"jsonrpc":"2.0","id":"x","method":"bogus/method"}`
	resp, err := ts.Client().Post(ts.URL+endpoint, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	name, data := readRawEvent(t, br)
	require.Equal(t, "message", name)

	var msg weathermcp.JSONRPCMessage
	require.NoError(t, json.Unmarshal([]byte(data), &msg))
	assert.Equal(t, weathermcp.MustString("x"), msg.ID)
	require.NotNil(t, msg.Error)
	assert.Equal(t, -32601, msg.Error.Code)
}

func TestToolCallAnsweredOverStream(t *testing.T) {
	ts := newToolServer(t)
	br := openRawStream(t, ts)
	_, endpoint := readRawEvent(t, br)

	body := `{"jsonrpc":"2.0","id":"call-1","method":"tools/call",` +
		`"params":{"name":"query_current_weather","arguments":{"city":"Beijing"}}}`
	resp, err := ts.Client().Post(ts.URL+endpoint, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	name, data := readRawEvent(t, br)
	require.Equal(t, "message", name)

	var msg weathermcp.JSONRPCMessage
	require.NoError(t, json.Unmarshal([]byte(data), &msg))
	require.Nil(t, msg.Error)

	var result weathermcp.CallToolResult
	require.NoError(t, json.Unmarshal(msg.Result, &result))
	require.Len(t, result.Content, 1)
	assert.Equal(t, weathermcp.ContentTypeText, result.Content[0].Type)

	var report weathermcp.WeatherReport
	require.NoError(t, json.Unmarshal([]byte(result.Content[0].Text), &report))
	assert.True(t, report.Success)
	assert.Equal(t, "Beijing", report.City)
}

func TestCustomMessagePath(t *testing.T) {
	srv := weathermcp.NewServer(weathermcp.Info{Name: "weatherd-test", Version: "0.0.1"},
		weathermcp.WithMessagePath("/rpc/"))

	mux := http.NewServeMux()
	mux.Handle("/sse", srv.HandleSSE())
	mux.Handle("/rpc/", srv.HandleMessage())

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	_, endpoint := readRawEvent(t, openRawStream(t, ts))
	assert.True(t, strings.HasPrefix(endpoint, "/rpc/?session_id="), "unexpected endpoint %q", endpoint)
}
