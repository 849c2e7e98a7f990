package condition

import "context"

type localsKey struct{}

// WithLocals 挂载调用点变量，条件中通过 locals 访问
func WithLocals(ctx context.Context, locals map[string]any) context.Context {
	return context.WithValue(ctx, localsKey{}, locals)
}

// Locals 取出调用点变量，没有时返回 nil
func Locals(ctx context.Context) map[string]any {
	if ctx == nil {
		return nil
	}
	m, _ := ctx.Value(localsKey{}).(map[string]any)
	return m
}
