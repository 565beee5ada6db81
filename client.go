package weathermcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Gateway failure modes. Every failed call surfaces one of these (or a
// transport error carrying the HTTP status and body), never a panic or an
// unstructured fault.
var (
	// ErrNotConnected is returned when a call is attempted before the server
	// has assigned a message endpoint. No network request is made.
	ErrNotConnected = errors.New("connection not established")

	// ErrCallTimeout is returned when no correlated response arrives within
	// the call timeout.
	ErrCallTimeout = errors.New("response timed out")

	// ErrMalformedResult is returned when a response arrives but its payload
	// cannot be unwrapped into the expected nested shape.
	ErrMalformedResult = errors.New("unable to parse response")
)

var (
	defaultEndpointTimeout   = 5 * time.Second
	defaultInitializeTimeout = 5 * time.Second
	defaultCallTimeout       = 30 * time.Second
)

// ClientOption is a function that configures a client.
type ClientOption func(*Client)

// Client speaks the weather tool protocol with a remote server: requests go
// out as HTTP POSTs to a server-assigned message endpoint, and responses come
// back asynchronously over a long-lived SSE stream, matched to their callers
// by request identifier.
//
// A Client must be created with NewClient and requires a single Connect call
// before tool calls can succeed. Connect never fails hard: when the handshake
// cannot complete, the client stays alive in a degraded state and every call
// reports ErrNotConnected until the session is torn down with Close. Calls
// from multiple goroutines are safe; each in-flight request has its own
// completion channel, so concurrent calls cannot consume each other's
// responses.
type Client struct {
	baseURL    string
	base       *url.URL
	httpClient *http.Client
	info       Info
	logger     *slog.Logger

	endpointTimeout   time.Duration
	initializeTimeout time.Duration
	callTimeout       time.Duration

	// endpoint is written once by the stream reader before endpointReady is
	// closed; everyone else reads it only after observing the close.
	endpoint      string
	endpointReady chan struct{}

	inbox        *messageQueue
	registers    chan pendingCall
	unregisters  chan string
	dispatchDone chan struct{}

	streamCtx    context.Context
	streamCancel context.CancelFunc

	connectOnce sync.Once
	closeOnce   sync.Once
}

// pendingCall registers a caller waiting for the response to a given request
// identifier. The res channel must have capacity for one message so the
// dispatch loop never blocks on a waiter.
type pendingCall struct {
	id  string
	res chan<- JSONRPCMessage
}

// WithHTTPClient sets the HTTP client used for both the event stream and the
// message POSTs. The default is http.DefaultClient.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithLogger sets the logger for the client.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithClientInfo sets the identity reported to the server during the
// initialize handshake.
func WithClientInfo(info Info) ClientOption {
	return func(c *Client) {
		c.info = info
	}
}

// WithEndpointTimeout bounds how long Connect waits for the server to assign
// a message endpoint.
func WithEndpointTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.endpointTimeout = timeout
	}
}

// WithInitializeTimeout bounds how long Connect waits for the initialize
// response.
func WithInitializeTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.initializeTimeout = timeout
	}
}

// WithCallTimeout bounds how long a tool call waits for its correlated
// response.
func WithCallTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.callTimeout = timeout
	}
}

// NewClient creates a client for the weather tool server at serverURL, e.g.
// "http://localhost:8001". The client owns no connections until Connect is
// called and should be released with Close when no longer needed.
func NewClient(serverURL string, options ...ClientOption) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	c := &Client{
		baseURL:       strings.TrimRight(serverURL, "/"),
		httpClient:    http.DefaultClient,
		info:          Info{Name: "weathermcp", Version: "1.0.0"},
		logger:        slog.Default(),
		endpointReady: make(chan struct{}),
		registers:     make(chan pendingCall),
		unregisters:   make(chan string),
		dispatchDone:  make(chan struct{}),
		streamCtx:     ctx,
		streamCancel:  cancel,
	}
	for _, opt := range options {
		opt(c)
	}

	if c.endpointTimeout == 0 {
		c.endpointTimeout = defaultEndpointTimeout
	}
	if c.initializeTimeout == 0 {
		c.initializeTimeout = defaultInitializeTimeout
	}
	if c.callTimeout == 0 {
		c.callTimeout = defaultCallTimeout
	}

	return c
}

// Connect establishes the session: it opens the event stream, starts the
// background reader, waits for the server-assigned message endpoint, and runs
// the initialize handshake. The ctx bounds only the bootstrap waits and
// requests; the stream itself lives until Close.
//
// Connect does not return an error. Transport or handshake failures are
// logged and leave the client degraded: subsequent calls fail fast with
// ErrNotConnected if the endpoint was never assigned, or at their own
// timeouts if the server stops responding. Connect must be called once.
func (c *Client) Connect(ctx context.Context) {
	started := false
	c.connectOnce.Do(func() { started = true })
	if !started {
		c.logger.Warn("connect called more than once")
		return
	}

	base, err := url.Parse(c.baseURL)
	if err != nil || base.Scheme == "" {
		c.logger.Error("invalid server address", "url", c.baseURL, "err", err)
		return
	}
	c.base = base

	c.inbox = newMessageQueue()
	go c.dispatch()

	body, err := c.openStream(c.streamCtx)
	if err != nil {
		c.logger.Error("failed to establish event stream", "url", c.baseURL, "err", err)
		c.inbox.close()
		return
	}
	go c.listenStream(body)

	select {
	case <-c.endpointReady:
	case <-time.After(c.endpointTimeout):
		c.logger.Warn("no message endpoint received", "timeout", c.endpointTimeout)
		return
	case <-ctx.Done():
		c.logger.Warn("connect aborted while waiting for endpoint", "err", ctx.Err())
		return
	}

	if err := c.initialize(ctx); err != nil {
		c.logger.Warn("protocol initialization incomplete", "err", err)
		return
	}

	c.logger.Info("session established", "endpoint", c.endpoint)
}

// Close tears down the session. Cancelling the stream request makes the
// reader exit, which drains the inbox and stops the dispatch loop; calls
// still in flight fail at their own timeouts, and later calls fail fast.
// Close is safe to call multiple times and before Connect.
func (c *Client) Close() {
	c.closeOnce.Do(c.streamCancel)
}

// CallTool invokes the named tool with the given arguments and blocks until
// its correlated response arrives, the call timeout elapses, or ctx is done.
// On success it returns the tool's inner JSON payload exactly as the server
// produced it (the parsed text of result.content[0]).
func (c *Client) CallTool(ctx context.Context, name string, arguments map[string]any) (json.RawMessage, error) {
	endpoint, ok := c.messageEndpoint()
	if !ok {
		return nil, ErrNotConnected
	}

	argsBs, err := json.Marshal(arguments)
	if err != nil {
		return nil, fmt.Errorf("marshal arguments: %w", err)
	}
	paramsBs, err := json.Marshal(CallToolParams{Name: name, Arguments: argsBs})
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}

	// A fresh identifier per call; a collision is what would let one call
	// consume another's response.
	id := uuid.New().String()

	res := make(chan JSONRPCMessage, 1)
	if !c.register(id, res) {
		return nil, ErrNotConnected
	}

	err = c.post(ctx, endpoint, JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      MustString(id),
		Method:  MethodToolsCall,
		Params:  paramsBs,
	})
	if err != nil {
		c.unregister(id)
		return nil, err
	}

	timer := time.NewTimer(c.callTimeout)
	defer timer.Stop()

	var msg JSONRPCMessage
	select {
	case msg = <-res:
	case <-timer.C:
		c.unregister(id)
		return nil, ErrCallTimeout
	case <-ctx.Done():
		c.unregister(id)
		return nil, ctx.Err()
	}

	if msg.Error != nil {
		return nil, errors.New(msg.Error.Message)
	}

	return unwrapToolResult(msg.Result)
}

// dispatch is the single consumer of the inbox. It routes each inbound
// message to the waiter registered for its identifier; messages nobody is
// waiting for, including late responses and unsolicited notifications, are
// dropped. It exits when the reader closes the inbox.
func (c *Client) dispatch() {
	defer close(c.dispatchDone)

	waiters := make(map[string]chan<- JSONRPCMessage) // map[msgID]chan

	for {
		select {
		case reg := <-c.registers:
			waiters[reg.id] = reg.res
		case id := <-c.unregisters:
			delete(waiters, id)
		case msg, ok := <-c.inbox.out:
			if !ok {
				return
			}
			res, ok := waiters[string(msg.ID)]
			if !ok {
				c.logger.Debug("dropping uncorrelated message", "id", string(msg.ID), "method", msg.Method)
				continue
			}
			res <- msg
			delete(waiters, string(msg.ID))
		}
	}
}

func (c *Client) register(id string, res chan<- JSONRPCMessage) bool {
	select {
	case c.registers <- pendingCall{id: id, res: res}:
		return true
	case <-c.dispatchDone:
		return false
	}
}

func (c *Client) unregister(id string) {
	select {
	case c.unregisters <- id:
	case <-c.dispatchDone:
	}
}

// messageEndpoint reports the session's message endpoint, if the server has
// assigned one yet.
func (c *Client) messageEndpoint() (string, bool) {
	select {
	case <-c.endpointReady:
		return c.endpoint, true
	default:
		return "", false
	}
}

func (c *Client) initialize(ctx context.Context) error {
	params := initializeParams{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    ClientCapabilities{Roots: &RootsCapability{ListChanged: false}},
		ClientInfo:      c.info,
	}
	paramsBs, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal initialize params: %w", err)
	}

	res := make(chan JSONRPCMessage, 1)
	if !c.register(initializeRequestID, res) {
		return ErrNotConnected
	}

	err = c.post(ctx, c.endpoint, JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      initializeRequestID,
		Method:  methodInitialize,
		Params:  paramsBs,
	})
	if err != nil {
		c.unregister(initializeRequestID)
		return fmt.Errorf("send initialize request: %w", err)
	}

	timer := time.NewTimer(c.initializeTimeout)
	defer timer.Stop()

	var msg JSONRPCMessage
	select {
	case msg = <-res:
	case <-timer.C:
		c.unregister(initializeRequestID)
		return errors.New("initialize response timed out")
	case <-ctx.Done():
		c.unregister(initializeRequestID)
		return ctx.Err()
	}

	if msg.Error != nil {
		return fmt.Errorf("initialize rejected: %w", msg.Error)
	}

	var result initializeResult
	if err := json.Unmarshal(msg.Result, &result); err != nil {
		c.logger.Warn("unreadable initialize result", "err", err)
	} else {
		c.logger.Debug("server identified",
			"name", result.ServerInfo.Name,
			"version", result.ServerInfo.Version,
			"protocolVersion", result.ProtocolVersion)
	}

	// Fire and forget; the server sends no reply to this notification.
	err = c.post(ctx, c.endpoint, JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		Method:  methodNotificationsInitialized,
	})
	if err != nil {
		c.logger.Warn("failed to send initialized notification", "err", err)
	}

	return nil
}

// unwrapToolResult digs the tool's real payload out of the response envelope:
// result.content[0] must be a text item whose text is itself a JSON document.
func unwrapToolResult(result json.RawMessage) (json.RawMessage, error) {
	var res CallToolResult
	if err := json.Unmarshal(result, &res); err != nil {
		return nil, ErrMalformedResult
	}
	if len(res.Content) == 0 || res.Content[0].Type != ContentTypeText {
		return nil, ErrMalformedResult
	}

	payload := json.RawMessage(res.Content[0].Text)
	if !json.Valid(payload) {
		return nil, ErrMalformedResult
	}

	return payload, nil
}
