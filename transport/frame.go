package transport

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/itsneelabh/bloxgate/core"
	"github.com/itsneelabh/bloxgate/registry"
	"github.com/itsneelabh/bloxgate/upstream"
)

// ProtocolVersion is the agent-RPC protocol revision this gateway speaks.
const ProtocolVersion = "2024-11-05"

// Frame types.
const (
	TypeInitialize      = "initialize"
	TypeInitialized     = "initialized"
	TypeListTools       = "list_tools"
	TypeListToolsResult = "list_tools_result"
	TypeCallTool        = "call_tool"
	TypeCallToolResult  = "call_tool_result"
	TypeProgress        = "progress"
	TypeError           = "error"
	TypeClose           = "close"
)

// Frame is the single wire unit of the protocol. Fields beyond Type and ID
// are populated per frame type; omitempty keeps encoded frames minimal so a
// decode/encode round trip reproduces the original.
type Frame struct {
	Type            string                 `json:"type"`
	ID              string                 `json:"id,omitempty"`
	SessionID       string                 `json:"session_id,omitempty"`
	ProtocolVersion string                 `json:"protocol_version,omitempty"`
	Tool            string                 `json:"tool,omitempty"`
	Arguments       map[string]interface{} `json:"arguments,omitempty"`
	Tools           []registry.Descriptor  `json:"tools,omitempty"`
	Result          json.RawMessage        `json:"result,omitempty"`
	Error           *ErrorPayload          `json:"error,omitempty"`
	Message         string                 `json:"message,omitempty"`
	CorrelationID   string                 `json:"correlation_id,omitempty"`
}

// ErrorPayload is the body of an error frame.
type ErrorPayload struct {
	Kind          string  `json:"kind"`
	Message       string  `json:"message"`
	RetryAfter    float64 `json:"retry_after,omitempty"` // seconds
	CorrelationID string  `json:"correlation_id,omitempty"`
}

// DecodeFrame parses a frame and checks the type field is present.
func DecodeFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, err
	}
	if f.Type == "" {
		return Frame{}, errors.New("frame missing type")
	}
	return f, nil
}

// Error kinds surfaced to RPC clients.
const (
	KindSchemaViolation     = "SchemaViolation"
	KindUnknownTool         = "UnknownTool"
	KindUpstreamClientError = "UpstreamClientError"
	KindRateLimited         = "RateLimited"
	KindCircuitOpen         = "CircuitOpen"
	KindTimeout             = "Timeout"
	KindUpstreamServerError = "UpstreamServerError"
	KindTransportError      = "TransportError"
	KindCancelled           = "Cancelled"
	KindInternal            = "Internal"
)

// ErrorFrame translates a handler error into an error frame. Internal detail
// stays in the logs; the client sees the kind, a short message, and retry
// guidance where the upstream provided any.
func ErrorFrame(id, sessionID, correlationID string, err error) Frame {
	payload := &ErrorPayload{
		Kind:          classifyError(err),
		Message:       err.Error(),
		CorrelationID: correlationID,
	}
	if retryAfter, ok := upstream.RetryAfterHint(err); ok {
		payload.RetryAfter = retryAfter.Seconds()
	}
	return Frame{
		Type:          TypeError,
		ID:            id,
		SessionID:     sessionID,
		Error:         payload,
		CorrelationID: correlationID,
	}
}

func classifyError(err error) string {
	var cl *upstream.ClientError
	var srv *upstream.ServerError
	var rl *upstream.RateLimitedError
	var tr *upstream.TransportError
	var to *upstream.TimeoutError
	switch {
	case errors.Is(err, core.ErrSchemaViolation):
		return KindSchemaViolation
	case errors.Is(err, core.ErrUnknownTool):
		return KindUnknownTool
	case errors.Is(err, core.ErrCircuitOpen):
		return KindCircuitOpen
	case errors.Is(err, context.Canceled), errors.Is(err, upstream.ErrCanceled):
		return KindCancelled
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &to):
		return KindTimeout
	case errors.As(err, &rl):
		return KindRateLimited
	case errors.As(err, &cl):
		return KindUpstreamClientError
	case errors.As(err, &srv):
		return KindUpstreamServerError
	case errors.As(err, &tr):
		return KindTransportError
	case errors.Is(err, core.ErrMaxRetriesExceeded):
		return KindUpstreamServerError
	default:
		return KindInternal
	}
}
