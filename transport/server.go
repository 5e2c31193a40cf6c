package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/itsneelabh/bloxgate/core"
	"github.com/itsneelabh/bloxgate/registry"
)

// sessionHeader carries the session id outside the frame body, following the
// streamable HTTP convention.
const sessionHeader = "Mcp-Session-Id"

const maxFrameBytes = 4 << 20

// Server is the RPC transport: the streamable HTTP protocol at /mcp and the
// legacy SSE framing at /sse. Both drive the same session state machine and
// dispatch logic.
type Server struct {
	registry *registry.Registry
	sessions *SessionManager
	logger   core.Logger
	tracer   trace.Tracer
	observer RPCObserver
}

// RPCObserver receives one record per call_tool dispatch. errorKind is empty
// on success, otherwise the kind serialized into the error frame.
type RPCObserver func(tool, errorKind string, duration time.Duration)

// NewServer wires the transport to the tool registry and session table.
func NewServer(reg *registry.Registry, sessions *SessionManager, logger core.Logger) *Server {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Server{
		registry: reg,
		sessions: sessions,
		logger:   logger,
		tracer:   otel.Tracer("bloxgate/transport"),
	}
}

// SetObserver installs the request metrics hook.
func (s *Server) SetObserver(obs RPCObserver) { s.observer = obs }

// Routes returns the RPC listener's mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/mcp", s.handleMCP)
	mux.HandleFunc("/sse", s.handleSSE)
	mux.HandleFunc("/sse/messages", s.handleSSEMessage)
	return mux
}

func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleMCPPost(w, r)
	case http.MethodGet:
		s.handleMCPStream(w, r)
	case http.MethodDelete:
		s.handleMCPDelete(w, r)
	default:
		w.Header().Set("Allow", "GET, POST, DELETE")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleMCPPost serves one inbound frame. initialize, list_tools, and close
// answer with a single JSON frame; call_tool answers with an SSE stream so
// progress frames arrive before the result.
func (s *Server) handleMCPPost(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxFrameBytes))
	if err != nil {
		http.Error(w, "read error", http.StatusBadRequest)
		return
	}
	frame, err := DecodeFrame(body)
	if err != nil {
		writeJSONFrame(w, http.StatusBadRequest, ErrorFrame("", "", "", fmt.Errorf("malformed frame: %w", err)))
		return
	}

	if frame.Type == TypeInitialize {
		s.handleInitialize(w, frame)
		return
	}

	sess, ok := s.resolveSession(r, frame)
	if !ok {
		writeJSONFrame(w, http.StatusNotFound, ErrorFrame(frame.ID, frame.SessionID, "", core.ErrSessionNotFound))
		return
	}
	sess.Touch()

	switch frame.Type {
	case TypeListTools:
		writeJSONFrame(w, http.StatusOK, Frame{
			Type:      TypeListToolsResult,
			ID:        frame.ID,
			SessionID: sess.ID,
			Tools:     s.registry.List(),
		})

	case TypeCallTool:
		s.streamCallTool(w, r, sess, frame)

	case TypeClose:
		s.sessions.Remove(sess.ID)
		writeJSONFrame(w, http.StatusOK, Frame{Type: TypeClose, ID: frame.ID, SessionID: sess.ID})

	default:
		writeJSONFrame(w, http.StatusBadRequest, ErrorFrame(frame.ID, sess.ID, "",
			fmt.Errorf("unsupported frame type %q", frame.Type)))
	}
}

func (s *Server) handleInitialize(w http.ResponseWriter, frame Frame) {
	version := frame.ProtocolVersion
	if version == "" {
		version = ProtocolVersion
	}
	sess := s.sessions.Create(version)
	sess.Ready()

	s.logger.Info("client_initialized", map[string]interface{}{
		"session_id":       sess.ID,
		"protocol_version": version,
	})

	w.Header().Set(sessionHeader, sess.ID)
	writeJSONFrame(w, http.StatusOK, Frame{
		Type:            TypeInitialized,
		ID:              frame.ID,
		SessionID:       sess.ID,
		ProtocolVersion: ProtocolVersion,
	})
}

// handleMCPStream is the server-to-client channel: frames queued on the
// session drain here as SSE events.
func (s *Server) handleMCPStream(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.resolveSession(r, Frame{})
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	s.streamSession(w, r, sess)
}

func (s *Server) handleMCPDelete(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.resolveSession(r, Frame{})
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	s.sessions.Remove(sess.ID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) resolveSession(r *http.Request, frame Frame) (*Session, bool) {
	id := frame.SessionID
	if id == "" {
		id = r.Header.Get(sessionHeader)
	}
	if id == "" {
		id = r.URL.Query().Get("session_id")
	}
	if id == "" {
		return nil, false
	}
	return s.sessions.Get(id)
}

// streamCallTool executes the call and streams progress plus the terminal
// frame over SSE on the POST response.
func (s *Server) streamCallTool(w http.ResponseWriter, r *http.Request, sess *Session, frame Frame) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set(sessionHeader, sess.ID)
	w.WriteHeader(http.StatusOK)

	emit := func(f Frame) error {
		return sendEvent(w, flusher, f.Type, f)
	}

	// Closing the session or dropping the request both cancel the call.
	ctx, cancel := context.WithCancel(sess.Context())
	defer cancel()
	go func() {
		select {
		case <-r.Context().Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	s.invokeTool(ctx, sess, frame, emit)
}

// invokeTool is the shared call_tool path for both transports. Exactly one
// terminal frame goes out per call: call_tool_result on success, error
// otherwise.
func (s *Server) invokeTool(ctx context.Context, sess *Session, frame Frame, emit func(Frame) error) {
	correlationID := core.NewCorrelationID()
	start := time.Now()

	ctx, span := s.tracer.Start(ctx, "rpc.call_tool", trace.WithAttributes(
		attribute.String("tool", frame.Tool),
		attribute.String("session", sess.ID),
		attribute.String("correlation_id", correlationID),
	))
	defer span.End()

	if sess.State() != SessionReady {
		span.SetStatus(codes.Error, "session not ready")
		s.observeRPC(frame.Tool, core.ErrSessionNotInitialized, start)
		_ = emit(ErrorFrame(frame.ID, sess.ID, correlationID, core.ErrSessionNotInitialized))
		return
	}

	s.logger.Info("tool_invoked", map[string]interface{}{
		"tool":           frame.Tool,
		"session_id":     sess.ID,
		"correlation_id": correlationID,
	})

	_ = emit(Frame{
		Type:          TypeProgress,
		ID:            frame.ID,
		SessionID:     sess.ID,
		Message:       "started",
		CorrelationID: correlationID,
	})

	result, err := s.registry.Invoke(ctx, frame.Tool, frame.Arguments)
	if err != nil {
		span.RecordError(err)
		if ctx.Err() != nil {
			span.SetStatus(codes.Error, "cancelled")
		} else {
			span.SetStatus(codes.Error, classifyError(err))
		}
		s.observeRPC(frame.Tool, err, start)
		_ = emit(ErrorFrame(frame.ID, sess.ID, correlationID, err))
		return
	}

	span.SetStatus(codes.Ok, "")
	s.observeRPC(frame.Tool, nil, start)
	_ = emit(Frame{
		Type:          TypeCallToolResult,
		ID:            frame.ID,
		SessionID:     sess.ID,
		Result:        result,
		CorrelationID: correlationID,
	})
}

func (s *Server) observeRPC(tool string, err error, start time.Time) {
	if s.observer == nil {
		return
	}
	kind := ""
	if err != nil {
		kind = classifyError(err)
	}
	s.observer(tool, kind, time.Since(start))
}

// streamSession writes queued outbound frames as SSE events until the
// session closes or the client disconnects.
func (s *Server) streamSession(w http.ResponseWriter, r *http.Request, sess *Session) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-sess.Context().Done():
			return
		case frame := <-sess.Receive():
			if err := sendEvent(w, flusher, frame.Type, frame); err != nil {
				return
			}
			sess.Touch()
		}
	}
}

func writeJSONFrame(w http.ResponseWriter, status int, frame Frame) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(frame)
}

func sendEvent(w io.Writer, flusher http.Flusher, event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
