package obs

import "context"

type contextKey int

const routePatternKey contextKey = iota

// WithRoutePattern records the matched router template on the context so
// metrics and spans label by "/api/payments/{id}" rather than raw paths.
func WithRoutePattern(ctx context.Context, pattern string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, routePatternKey, pattern)
}

// RoutePatternFromContext returns the recorded route template, if any.
func RoutePatternFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	pattern, _ := ctx.Value(routePatternKey).(string)
	return pattern
}
