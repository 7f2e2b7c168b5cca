package context

import "context"

type requestIDKey struct{}

type eventKey struct{}

// EventRef identifies the provider event being handled on this context.
type EventRef struct {
	ID   string
	Type string
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey{}).(string); ok {
		return v
	}
	return ""
}

func WithEvent(ctx context.Context, id, eventType string) context.Context {
	if id == "" && eventType == "" {
		return ctx
	}
	return context.WithValue(ctx, eventKey{}, EventRef{ID: id, Type: eventType})
}

func EventFromContext(ctx context.Context) (EventRef, bool) {
	if ctx == nil {
		return EventRef{}, false
	}
	ref, ok := ctx.Value(eventKey{}).(EventRef)
	return ref, ok
}
