package logging

import "context"

type debugModeKey struct{}

// EnableDebugMode returns a context under which the CDebug methods log even when the logger's
// level is above DEBUG.
func EnableDebugMode(ctx context.Context) context.Context {
	return context.WithValue(ctx, debugModeKey{}, true)
}

// IsDebugMode reports whether ctx carries debug mode.
func IsDebugMode(ctx context.Context) bool {
	enabled, _ := ctx.Value(debugModeKey{}).(bool)
	return enabled
}
