package transport

import (
	"fmt"
	"io"
	"net/http"

	"github.com/itsneelabh/bloxgate/core"
)

// Legacy SSE framing. The connection model predates the streamable
// transport: the client holds one long-lived GET stream and submits frames
// on a separate POST endpoint; all responses arrive on the stream.

// handleSSE opens the legacy event stream. The first event names the
// message submission endpoint for this session, then queued frames follow.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	sess := s.sessions.Create(ProtocolVersion)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set(sessionHeader, sess.ID)
	w.WriteHeader(http.StatusOK)

	if _, err := fmt.Fprintf(w, "event: endpoint\ndata: /sse/messages?session_id=%s\n\n", sess.ID); err != nil {
		s.sessions.Remove(sess.ID)
		return
	}
	flusher.Flush()

	defer s.sessions.Remove(sess.ID)
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

// handleSSEMessage accepts one frame for a legacy session. The response goes
// out on the session's event stream; the POST itself only acknowledges
// receipt.
func (s *Server) handleSSEMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sess, ok := s.resolveSession(r, Frame{})
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxFrameBytes))
	if err != nil {
		http.Error(w, "read error", http.StatusBadRequest)
		return
	}
	frame, err := DecodeFrame(body)
	if err != nil {
		http.Error(w, "malformed frame", http.StatusBadRequest)
		return
	}
	sess.Touch()

	emit := func(f Frame) error { return sess.Send(f) }

	switch frame.Type {
	case TypeInitialize:
		if sess.State() == SessionReady {
			_ = emit(ErrorFrame(frame.ID, sess.ID, "", core.ErrSessionAlreadyInitialized))
			break
		}
		sess.Ready()
		s.logger.Info("client_initialized", map[string]interface{}{
			"session_id":       sess.ID,
			"protocol_version": sess.ProtocolVersion,
		})
		_ = emit(Frame{
			Type:            TypeInitialized,
			ID:              frame.ID,
			SessionID:       sess.ID,
			ProtocolVersion: ProtocolVersion,
		})

	case TypeListTools:
		_ = emit(Frame{
			Type:      TypeListToolsResult,
			ID:        frame.ID,
			SessionID: sess.ID,
			Tools:     s.registry.List(),
		})

	case TypeCallTool:
		go s.invokeTool(sess.Context(), sess, frame, emit)

	case TypeClose:
		_ = emit(Frame{Type: TypeClose, ID: frame.ID, SessionID: sess.ID})
		s.sessions.Remove(sess.ID)

	default:
		_ = emit(ErrorFrame(frame.ID, sess.ID, "", fmt.Errorf("unsupported frame type %q", frame.Type)))
	}

	w.WriteHeader(http.StatusAccepted)
	_, _ = w.Write([]byte("accepted"))
}
