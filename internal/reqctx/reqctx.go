// Package reqctx 维护当前正在处理的请求上下文
package reqctx

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"

	"hookguard/internal/logger"

	"github.com/google/uuid"
)

type ctxKey struct{}

// Info 框架适配器提供的请求信息
type Info struct {
	Method     string
	Path       string
	RemoteAddr string
	Headers    map[string]string
	// TrustProxy 为 true 时客户端地址取自 X-Forwarded-For / X-Real-IP，
	// 只应在前面有会覆盖这两个头的反向代理时开启，否则客户端可任意伪造
	TrustProxy bool
}

// Record 一次请求的上下文记录
type Record struct {
	ID        string
	ClientIP  string
	Method    string
	Path      string
	Headers   map[string]string
	StartedAt time.Time

	mu      sync.Mutex
	payload map[string]any
	tags    map[string]string
}

// NewRecord 根据请求信息创建上下文记录
func NewRecord(info Info) *Record {
	headers := make(map[string]string, len(info.Headers))
	for k, v := range info.Headers {
		headers[k] = v
	}
	return &Record{
		ID:        uuid.NewString(),
		ClientIP:  clientIP(info, headers),
		Method:    info.Method,
		Path:      info.Path,
		Headers:   headers,
		StartedAt: time.Now(),
		payload:   make(map[string]any),
		tags:      make(map[string]string),
	}
}

// With 将记录挂到 context 上
func With(ctx context.Context, r *Record) context.Context {
	return context.WithValue(ctx, ctxKey{}, r)
}

// From 获取当前请求记录，不存在返回 nil
func From(ctx context.Context) *Record {
	if ctx == nil {
		return nil
	}
	r, _ := ctx.Value(ctxKey{}).(*Record)
	return r
}

// AddPayload 附加上报载荷
func (r *Record) AddPayload(key string, v any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payload[key] = v
}

// AddTag 附加标签
func (r *Record) AddTag(key, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tags[key] = value
}

// Payload 返回载荷快照
func (r *Record) Payload() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]any, len(r.payload))
	for k, v := range r.payload {
		out[k] = v
	}
	return out
}

// Tags 返回标签快照
func (r *Record) Tags() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string, len(r.tags))
	for k, v := range r.tags {
		out[k] = v
	}
	return out
}

// Bindings 返回供条件表达式使用的请求视图
func (r *Record) Bindings() map[string]any {
	headers := make(map[string]any, len(r.Headers))
	for k, v := range r.Headers {
		headers[strings.ToLower(k)] = v
	}
	return map[string]any{
		"id":        r.ID,
		"client_ip": r.ClientIP,
		"method":    r.Method,
		"path":      r.Path,
		"headers":   headers,
	}
}

// clientIP 默认取连接对端地址；信任代理时依次取 X-Forwarded-For 第一个地址、X-Real-IP
func clientIP(info Info, headers map[string]string) string {
	if info.TrustProxy {
		if v := header(headers, "X-Forwarded-For"); v != "" {
			if first := strings.TrimSpace(strings.Split(v, ",")[0]); first != "" {
				return first
			}
		}
		if v := strings.TrimSpace(header(headers, "X-Real-IP")); v != "" {
			return v
		}
	}
	if host, _, err := net.SplitHostPort(info.RemoteAddr); err == nil {
		return host
	}
	return info.RemoteAddr
}

func header(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// Middleware 框架无关的请求前后处理，由框架适配器插入框架自身的前后处理链
type Middleware struct {
	log        logger.Logger
	trustProxy bool
}

// MiddlewareOption 中间件选项
type MiddlewareOption func(*Middleware)

// WithTrustProxy 信任反向代理写入的客户端地址头
func WithTrustProxy(trust bool) MiddlewareOption {
	return func(m *Middleware) { m.trustProxy = trust }
}

// NewMiddleware 创建请求上下文中间件
func NewMiddleware(l logger.Logger, opts ...MiddlewareOption) *Middleware {
	if l == nil {
		l = logger.NewNop()
	}
	m := &Middleware{log: l}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Begin 建立请求上下文，ctx 上已有记录时沿用
func (m *Middleware) Begin(ctx context.Context, info Info) context.Context {
	if From(ctx) != nil {
		return ctx
	}
	info.TrustProxy = m.trustProxy
	return With(ctx, NewRecord(info))
}

// End 结束请求上下文
func (m *Middleware) End(ctx context.Context, status int) {
	r := From(ctx)
	if r == nil {
		return
	}
	m.log.Debug("请求处理完成", "requestID", r.ID, "path", r.Path, "status", status, "costMs", time.Since(r.StartedAt).Milliseconds())
}
