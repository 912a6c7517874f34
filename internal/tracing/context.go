package tracing

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// RoomIDKey is the context key for the conversation room ID
	RoomIDKey ContextKey = "room_id"
	// AgentIDKey is the context key for agent ID
	AgentIDKey ContextKey = "agent_id"
)

// TraceContext holds tracing information
type TraceContext struct {
	TraceID string
	RoomID  string
	AgentID string
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithRoomID adds a room ID to the context
func WithRoomID(ctx context.Context, roomID string) context.Context {
	return context.WithValue(ctx, RoomIDKey, roomID)
}

// WithAgentID adds an agent ID to the context
func WithAgentID(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, AgentIDKey, agentID)
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}

// GetRoomID retrieves the room ID from the context
func GetRoomID(ctx context.Context) string {
	if roomID, ok := ctx.Value(RoomIDKey).(string); ok {
		return roomID
	}
	return ""
}

// GetAgentID retrieves the agent ID from the context
func GetAgentID(ctx context.Context) string {
	if agentID, ok := ctx.Value(AgentIDKey).(string); ok {
		return agentID
	}
	return ""
}

// FromContext extracts all tracing information from the context
func FromContext(ctx context.Context) *TraceContext {
	return &TraceContext{
		TraceID: GetTraceID(ctx),
		RoomID:  GetRoomID(ctx),
		AgentID: GetAgentID(ctx),
	}
}

// LoggerFromContext returns a logger annotated with tracing fields from the context
func LoggerFromContext(ctx context.Context, baseLogger zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)

	if tc.TraceID != "" {
		baseLogger = baseLogger.With().Str("trace_id", tc.TraceID).Logger()
	}
	if tc.RoomID != "" {
		baseLogger = baseLogger.With().Str("room_id", tc.RoomID).Logger()
	}
	if tc.AgentID != "" {
		baseLogger = baseLogger.With().Str("agent_id", tc.AgentID).Logger()
	}

	return baseLogger
}
