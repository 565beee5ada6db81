package weathermcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/tmaxmax/go-sse"
)

// ToolFunc implements a single named tool. The returned value is marshaled to
// JSON and delivered to the caller as the text payload of the tool result; a
// returned error becomes a JSON-RPC error response instead.
type ToolFunc func(ctx context.Context, args json.RawMessage) (any, error)

// ServerOption is a function that configures a server.
type ServerOption func(*Server)

// Server is the stream-side counterpart of Client. HandleSSE upgrades GET
// requests to an event stream, assigns each connection a session, and tells
// the client where to post its messages; HandleMessage accepts those POSTs
// and pushes the responses back over the session's stream. The two handlers
// are framework-agnostic and can be mounted on any mux.
//
// Tools must be registered before the handlers are mounted.
type Server struct {
	info        Info
	messagePath string
	logger      *slog.Logger

	tools map[string]ToolFunc

	mu       sync.RWMutex
	sessions map[string]*serverSession
}

type serverSession struct {
	id   string
	send chan *sse.Message
	done chan struct{}
}

// WithServerLogger sets the logger for the server.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMessagePath sets the path clients are told to post messages to. It must
// match wherever HandleMessage is mounted. The default is "/messages/".
func WithMessagePath(path string) ServerOption {
	return func(s *Server) {
		s.messagePath = path
	}
}

// NewServer creates a server that identifies itself with the given info
// during the initialize handshake.
func NewServer(info Info, options ...ServerOption) *Server {
	s := &Server{
		info:        info,
		messagePath: "/messages/",
		logger:      slog.Default(),
		tools:       make(map[string]ToolFunc),
		sessions:    make(map[string]*serverSession),
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// RegisterTool makes fn callable via tools/call under the given name,
// replacing any previous registration. Not safe to call once the handlers
// are serving.
func (s *Server) RegisterTool(name string, fn ToolFunc) {
	s.tools[name] = fn
}

// HandleSSE returns the handler for the stream endpoint. Each GET is upgraded
// to an event stream whose first event is the session's message endpoint; the
// connection then stays open, carrying responses as message events, until the
// client goes away.
func (s *Server) HandleSSE() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := sse.Upgrade(w, r)
		if err != nil {
			s.logger.Error("failed to upgrade session", "err", err)
			http.Error(w, "failed to upgrade session", http.StatusInternalServerError)
			return
		}

		id := uuid.New().String()

		endpoint := fmt.Sprintf("%s?session_id=%s", s.messagePath, id)
		msg := sse.Message{Type: sse.Type("endpoint")}
		msg.AppendData(endpoint)
		if err := sess.Send(&msg); err != nil {
			s.logger.Error("failed to send endpoint event", "err", err)
			return
		}
		if err := sess.Flush(); err != nil {
			s.logger.Error("failed to flush endpoint event", "err", err)
			return
		}

		srvSess := &serverSession{
			id:   id,
			send: make(chan *sse.Message, 8),
			done: make(chan struct{}),
		}
		s.addSession(srvSess)
		defer s.removeSession(id)

		s.logger.Info("session connected", "sessionID", id)

		// Single writer per stream; handlers queue messages through the send
		// channel instead of touching the sse session directly.
		for {
			select {
			case m := <-srvSess.send:
				if err := sess.Send(m); err != nil {
					s.logger.Warn("failed to send message", "sessionID", id, "err", err)
					return
				}
				if err := sess.Flush(); err != nil {
					s.logger.Warn("failed to flush message", "sessionID", id, "err", err)
					return
				}
			case <-r.Context().Done():
				s.logger.Info("session disconnected", "sessionID", id)
				return
			}
		}
	})
}

// HandleMessage returns the handler for the message endpoint. Requests are
// acknowledged with 202 Accepted as soon as they decode; any response travels
// back over the session's event stream, not this connection.
func (s *Server) HandleMessage() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessID := r.URL.Query().Get("session_id")
		if sessID == "" {
			http.Error(w, "missing session_id query parameter", http.StatusBadRequest)
			return
		}

		sess, ok := s.session(sessID)
		if !ok {
			http.Error(w, "unknown session", http.StatusNotFound)
			return
		}

		var msg JSONRPCMessage
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			s.logger.Warn("rejecting malformed message", "sessionID", sessID, "err", err)
			http.Error(w, "malformed message", http.StatusBadRequest)
			return
		}

		w.WriteHeader(http.StatusAccepted)

		go s.handleMessage(context.WithoutCancel(r.Context()), sess, msg)
	})
}

func (s *Server) handleMessage(ctx context.Context, sess *serverSession, msg JSONRPCMessage) {
	switch msg.Method {
	case methodInitialize:
		s.handleInitialize(sess, msg)
	case MethodToolsCall:
		s.handleToolCall(ctx, sess, msg)
	default:
		if msg.ID == "" {
			// Notifications, notifications/initialized included, need no reply.
			return
		}
		s.respondError(sess, msg.ID, JSONRPCError{
			Code:    jsonRPCMethodNotFoundCode,
			Message: fmt.Sprintf("method not found: %s", msg.Method),
		})
	}
}

func (s *Server) handleInitialize(sess *serverSession, msg JSONRPCMessage) {
	s.respondResult(sess, msg.ID, initializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    ServerCapabilities{Tools: &ToolsCapability{}},
		ServerInfo:      s.info,
	})
}

func (s *Server) handleToolCall(ctx context.Context, sess *serverSession, msg JSONRPCMessage) {
	var params CallToolParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		s.respondError(sess, msg.ID, JSONRPCError{
			Code:    jsonRPCInvalidParamsCode,
			Message: "invalid tools/call params",
		})
		return
	}

	fn, ok := s.tools[params.Name]
	if !ok {
		s.respondError(sess, msg.ID, JSONRPCError{
			Code:    jsonRPCMethodNotFoundCode,
			Message: fmt.Sprintf("unknown tool: %s", params.Name),
		})
		return
	}

	out, err := fn(ctx, params.Arguments)
	if err != nil {
		s.respondError(sess, msg.ID, JSONRPCError{
			Code:    jsonRPCInternalErrorCode,
			Message: err.Error(),
		})
		return
	}

	payload, err := json.Marshal(out)
	if err != nil {
		s.logger.Error("failed to marshal tool result", "tool", params.Name, "err", err)
		s.respondError(sess, msg.ID, JSONRPCError{
			Code:    jsonRPCInternalErrorCode,
			Message: "unserializable tool result",
		})
		return
	}

	s.respondResult(sess, msg.ID, CallToolResult{
		Content: []Content{{Type: ContentTypeText, Text: string(payload)}},
	})
}

func (s *Server) respondResult(sess *serverSession, id MustString, result any) {
	resBs, err := json.Marshal(result)
	if err != nil {
		s.logger.Error("failed to marshal result", "err", err)
		return
	}
	s.sendToSession(sess, JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Result:  resBs,
	})
}

func (s *Server) respondError(sess *serverSession, id MustString, rpcErr JSONRPCError) {
	s.sendToSession(sess, JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Error:   &rpcErr,
	})
}

func (s *Server) sendToSession(sess *serverSession, msg JSONRPCMessage) {
	msgBs, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error("failed to marshal message", "err", err)
		return
	}

	m := &sse.Message{Type: sse.Type("message")}
	m.AppendData(string(msgBs))

	select {
	case sess.send <- m:
	case <-sess.done:
		s.logger.Warn("session closed before message could be sent", "sessionID", sess.id)
	}
}

func (s *Server) addSession(sess *serverSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.id] = sess
}

func (s *Server) removeSession(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		close(sess.done)
		delete(s.sessions, id)
	}
}

func (s *Server) session(id string) (*serverSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	return sess, ok
}
