package operatorctx

import "context"

type ctxKeyOperator struct{}

// Anonymous is reported when auth is optional and no token was presented.
const Anonymous = "anonymous"

func WithOperator(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, ctxKeyOperator{}, subject)
}

func Operator(ctx context.Context) string {
	v, ok := ctx.Value(ctxKeyOperator{}).(string)
	if !ok || v == "" {
		return Anonymous
	}
	return v
}
