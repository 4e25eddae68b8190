package logging

import "context"

type ctxKey int

const (
	requestIDKey ctxKey = iota
	callerKey
)

type caller struct {
	userDID string
	appDID  string
}

// ContextWithRequestID attaches a request id that loggers add to every entry.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext returns the id stored by ContextWithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// ContextWithCaller attaches the vault owner and application a request
// acts for. Loggers add them as user_did and app_did.
func ContextWithCaller(ctx context.Context, userDID, appDID string) context.Context {
	return context.WithValue(ctx, callerKey, caller{userDID: userDID, appDID: appDID})
}

// CallerFromContext returns the DIDs stored by ContextWithCaller.
func CallerFromContext(ctx context.Context) (userDID, appDID string) {
	if ctx == nil {
		return "", ""
	}
	c, _ := ctx.Value(callerKey).(caller)
	return c.userDID, c.appDID
}

// contextFields appends the request id and caller DIDs of ctx to args,
// skipping keys the entry already carries.
func contextFields(ctx context.Context, args []any) []any {
	if ctx == nil {
		return args
	}
	userDID, appDID := CallerFromContext(ctx)
	for _, f := range [...]struct{ key, value string }{
		{"request_id", RequestIDFromContext(ctx)},
		{"user_did", userDID},
		{"app_did", appDID},
	} {
		if f.value != "" && !hasKey(args, f.key) {
			args = append(args, f.key, f.value)
		}
	}
	return args
}

func hasKey(args []any, key string) bool {
	for i := 0; i+1 < len(args); i += 2 {
		if k, ok := args[i].(string); ok && k == key {
			return true
		}
	}
	return false
}
