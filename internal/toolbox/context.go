package toolbox

import "context"

type sessionIDKey struct{}

// WithSessionID stamps ctx with the id of the session whose worker is
// dispatching a callback. The bridge itself never holds a session
// reference (per the core's cyclic-reference design note); callbacks carry
// the id through context and tools that need it read it back out.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey{}, id)
}

// SessionIDFromContext returns the session id stamped by WithSessionID, or
// "" if none was set.
func SessionIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionIDKey{}).(string)
	return id
}
