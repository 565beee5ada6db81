package weathermcp

import (
	"encoding/json"
	"fmt"
)

const (
	// JSONRPCVersion is the protocol version carried in every envelope, as
	// required by the JSON-RPC 2.0 specification.
	JSONRPCVersion = "2.0"

	// ProtocolVersion is the MCP protocol revision this package implements.
	ProtocolVersion = "2024-11-05"

	// MethodToolsCall is the method name for invoking a named tool.
	MethodToolsCall = "tools/call"

	methodInitialize               = "initialize"
	methodNotificationsInitialized = "notifications/initialized"

	// The initialize request always uses this fixed identifier; the numeric
	// form servers echo back normalizes to the same value through MustString.
	initializeRequestID = "1"

	jsonRPCMethodNotFoundCode = -32601
	jsonRPCInvalidParamsCode  = -32602
	jsonRPCInternalErrorCode  = -32603
)

// MustString normalizes identifier fields that the wire allows to be either a
// string or a number, such as request IDs. Numeric values are converted to
// their decimal string form on unmarshal, and values always marshal as strings.
type MustString string

// JSONRPCMessage is a single JSON-RPC 2.0 envelope. Which fields are populated
// determines what it is: Method with an ID is a request, Method without an ID
// is a notification, and an ID with Result or Error is a response.
type JSONRPCMessage struct {
	JSONRPC string `json:"jsonrpc"`
	// ID correlates a response with the request that produced it. Empty for
	// notifications.
	ID MustString `json:"id,omitempty"`
	// Method names the operation for requests and notifications.
	Method string `json:"method,omitempty"`
	// Params holds the request parameters, left raw so each method can decode
	// its own shape.
	Params json.RawMessage `json:"params,omitempty"`
	// Result holds the response payload of a successful call.
	Result json.RawMessage `json:"result,omitempty"`
	// Error is set instead of Result when the call failed.
	Error *JSONRPCError `json:"error,omitempty"`
}

// JSONRPCError is the error object of a failed JSON-RPC call.
type JSONRPCError struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// CallToolParams are the parameters of a tools/call request.
type CallToolParams struct {
	// Name identifies the tool to invoke.
	Name string `json:"name"`

	// Arguments is a JSON object mapping parameter names to values, matching
	// whatever schema the named tool expects.
	Arguments json.RawMessage `json:"arguments"`
}

// CallToolResult is the envelope a server wraps around a tool's output. The
// actual payload of a text result is the JSON-encoded string in
// Content[0].Text.
type CallToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// ContentType discriminates the kinds of content a tool result can carry.
type ContentType string

// ContentTypeText marks content whose payload is in the Text field.
const ContentTypeText ContentType = "text"

// Content is a single item of a tool result.
type Content struct {
	Type ContentType `json:"type"`
	Text string      `json:"text,omitempty"`
}

// Info identifies a client or server implementation by name and version.
type Info struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ClientCapabilities declares what the client supports during initialization.
type ClientCapabilities struct {
	Roots *RootsCapability `json:"roots,omitempty"`
}

// RootsCapability declares root-listing support.
type RootsCapability struct {
	ListChanged bool `json:"listChanged"`
}

// ServerCapabilities declares what the server supports, reported in the
// initialize result.
type ServerCapabilities struct {
	Tools *ToolsCapability `json:"tools,omitempty"`
}

// ToolsCapability declares tool-invocation support.
type ToolsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

type initializeParams struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ClientCapabilities `json:"capabilities"`
	ClientInfo      Info               `json:"clientInfo"`
}

type initializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      Info               `json:"serverInfo"`
}

// UnmarshalJSON accepts both string and numeric identifiers, storing numbers
// in their decimal string form.
func (m *MustString) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}

	switch v := v.(type) {
	case string:
		*m = MustString(v)
	case float64:
		*m = MustString(fmt.Sprintf("%d", int(v)))
	default:
		return fmt.Errorf("invalid id type: %T", v)
	}

	return nil
}

// MarshalJSON always encodes the identifier as a JSON string.
func (m MustString) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(m))
}

func (j JSONRPCError) Error() string {
	return fmt.Sprintf("rpc error, code: %d, message: %s", j.Code, j.Message)
}
