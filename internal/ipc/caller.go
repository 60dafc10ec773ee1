package ipc

import "context"

// Caller is the identity of the process that issued a request.
type Caller struct {
	UID int32
	PID int32
}

type callerKey struct{}

// WithCaller attaches the caller identity to ctx.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFrom returns the caller identity, or the zero Caller when none
// was attached.
func CallerFrom(ctx context.Context) Caller {
	if ctx == nil {
		return Caller{}
	}
	c, _ := ctx.Value(callerKey{}).(Caller)
	return c
}

// UserID derives the user id from a uid.
func UserID(uid int32) int32 {
	return uid / 200000
}
