package domain

import "context"

type callerContextKey struct{}

// Caller is the authenticated party invoking a session operation.
type Caller struct {
	UserName    string
	DN          string
	Groups      []string
	TrustedHost bool
}

// WithCaller stores the caller in ctx.
func WithCaller(ctx context.Context, caller *Caller) context.Context {
	return context.WithValue(ctx, callerContextKey{}, caller)
}

// CallerFromContext retrieves the caller stored by WithCaller.
func CallerFromContext(ctx context.Context) (*Caller, bool) {
	caller, ok := ctx.Value(callerContextKey{}).(*Caller)
	return caller, ok && caller != nil
}
