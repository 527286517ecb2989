package context

import "context"

type ContextKey string

var (
	RequestIDKey = ContextKey("X-Request-Id")
	RouteKey     = ContextKey("X-Route")
	RemoteIPKey  = ContextKey("X-Remote-Ip")
	CallerKey    = ContextKey("X-Caller")
	RunIDKey     = ContextKey("X-Run-Id")
	TriggerKey   = ContextKey("X-Trigger")
)

func getString(ctx context.Context, key ContextKey) string {
	value, ok := ctx.Value(key).(string)
	if !ok {
		return ""
	}
	return value
}

func SetRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

func GetRequestID(ctx context.Context) string {
	return getString(ctx, RequestIDKey)
}

func SetRoute(ctx context.Context, route string) context.Context {
	return context.WithValue(ctx, RouteKey, route)
}

func GetRoute(ctx context.Context) string {
	return getString(ctx, RouteKey)
}

func SetRemoteIP(ctx context.Context, remoteIP string) context.Context {
	return context.WithValue(ctx, RemoteIPKey, remoteIP)
}

func GetRemoteIP(ctx context.Context) string {
	return getString(ctx, RemoteIPKey)
}

// SetCaller records the authenticated subject that triggered a run.
func SetCaller(ctx context.Context, caller string) context.Context {
	return context.WithValue(ctx, CallerKey, caller)
}

func GetCaller(ctx context.Context) string {
	return getString(ctx, CallerKey)
}

// SetRunID tags every log line and event of one pipeline run.
func SetRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

func GetRunID(ctx context.Context) string {
	return getString(ctx, RunIDKey)
}

// SetTrigger records how a run was started ("http" or "cli").
func SetTrigger(ctx context.Context, trigger string) context.Context {
	return context.WithValue(ctx, TriggerKey, trigger)
}

func GetTrigger(ctx context.Context) string {
	return getString(ctx, TriggerKey)
}
