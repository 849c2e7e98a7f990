// Package webapp 一个最小的 Web 框架：路由、请求前后钩子与错误处理链
//
// 请求分发通过 webapp.app 模块中 App 类的 dispatch 方法间接调用，便于挂钩。
package webapp

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"hookguard/internal/loader"
)

const (
	ModuleName     = "webapp.app"
	ClassName      = "App"
	DispatchMethod = "dispatch"
)

// maxBodySize 读取请求体的上限
const maxBodySize = 1 << 20

// Request 框架内的请求
type Request struct {
	Method     string
	Path       string
	RemoteAddr string
	Headers    map[string]string
	Query      map[string]string
	Body       string
}

// Response 框架内的响应
type Response struct {
	Status  int
	Headers map[string]string
	Body    string
}

// Text 构造文本响应
func Text(status int, body string) *Response {
	return &Response{Status: status, Body: body, Headers: map[string]string{"Content-Type": "text/plain; charset=utf-8"}}
}

// Handler 路由处理函数
type Handler func(ctx context.Context, req *Request) (*Response, error)

// BeforeFunc 请求前钩子，返回非 nil 响应时直接结束请求
type BeforeFunc func(ctx context.Context, req *Request) (context.Context, *Response)

// AfterFunc 请求后钩子
type AfterFunc func(ctx context.Context, req *Request, resp *Response)

// ErrorHandler 处理函数返回错误时的转换，返回 nil 交给下一个
type ErrorHandler func(ctx context.Context, req *Request, err error) *Response

// App 应用实例
type App struct {
	class *loader.Class

	mu            sync.RWMutex
	routes        map[string]Handler
	before        []BeforeFunc
	after         []AfterFunc
	errorHandlers []ErrorHandler

	gotFirstRequest atomic.Bool
}

// Module 构建 webapp.app 模块，供宿主在启动时注册
func Module() *loader.Module {
	m := loader.NewModule(ModuleName)
	m.SetAttr(ClassName, loader.NewClass(ClassName, map[string]loader.Func{
		DispatchMethod: dispatch,
	}))
	return m
}

// New 通过加载器导入框架模块并创建应用
func New(l *loader.Loader) (*App, error) {
	m, err := l.Import(ModuleName)
	if err != nil {
		return nil, err
	}
	cls, ok := m.Class(ClassName)
	if !ok {
		return nil, fmt.Errorf("module %s has no class %s", ModuleName, ClassName)
	}
	return &App{class: cls, routes: make(map[string]Handler)}, nil
}

// Route 注册路由，method 为空时匹配所有方法
func (a *App) Route(method, path string, h Handler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.routes[routeKey(method, path)] = h
}

// BeforeRequest 追加请求前钩子
func (a *App) BeforeRequest(f BeforeFunc) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.before = append(a.before, f)
}

// AfterRequest 追加请求后钩子
func (a *App) AfterRequest(f AfterFunc) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.after = append(a.after, f)
}

// OnError 追加错误处理
func (a *App) OnError(f ErrorHandler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.errorHandlers = append(a.errorHandlers, f)
}

// PrependBeforeRequest 把钩子插到最前面
func (a *App) PrependBeforeRequest(f BeforeFunc) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.before = append([]BeforeFunc{f}, a.before...)
}

// PrependAfterRequest 把钩子插到最前面
func (a *App) PrependAfterRequest(f AfterFunc) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.after = append([]AfterFunc{f}, a.after...)
}

// PrependErrorHandler 把错误处理插到最前面
func (a *App) PrependErrorHandler(f ErrorHandler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.errorHandlers = append([]ErrorHandler{f}, a.errorHandlers...)
}

// GotFirstRequest 是否已开始处理请求
func (a *App) GotFirstRequest() bool { return a.gotFirstRequest.Load() }

// Handle 处理一个请求
func (a *App) Handle(ctx context.Context, req *Request) *Response {
	ret, err := a.class.Call(ctx, DispatchMethod, a, req)
	if err != nil {
		return a.handleError(ctx, req, err)
	}
	resp, ok := ret.(*Response)
	if !ok || resp == nil {
		return Text(http.StatusInternalServerError, "internal error")
	}
	return resp
}

// ServeHTTP 适配 net/http
func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	req := &Request{
		Method:     r.Method,
		Path:       r.URL.Path,
		RemoteAddr: r.RemoteAddr,
		Headers:    make(map[string]string, len(r.Header)),
		Query:      make(map[string]string),
	}
	for k := range r.Header {
		req.Headers[k] = r.Header.Get(k)
	}
	for k := range r.URL.Query() {
		req.Query[k] = r.URL.Query().Get(k)
	}
	if r.Body != nil {
		body, _ := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
		req.Body = string(body)
	}

	resp := a.Handle(r.Context(), req)
	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(resp.Status)
	_, _ = io.WriteString(w, resp.Body)
}

func (a *App) snapshot() ([]BeforeFunc, []AfterFunc) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]BeforeFunc(nil), a.before...), append([]AfterFunc(nil), a.after...)
}

func (a *App) lookup(method, path string) (Handler, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if h, ok := a.routes[routeKey(method, path)]; ok {
		return h, true
	}
	h, ok := a.routes[routeKey("", path)]
	return h, ok
}

func (a *App) handleError(ctx context.Context, req *Request, err error) *Response {
	a.mu.RLock()
	handlers := append([]ErrorHandler(nil), a.errorHandlers...)
	a.mu.RUnlock()
	for _, h := range handlers {
		if resp := h(ctx, req, err); resp != nil {
			return resp
		}
	}
	return Text(http.StatusInternalServerError, "internal error")
}

func routeKey(method, path string) string {
	return strings.ToUpper(method) + " " + path
}

// dispatch App.dispatch 的默认实现，args 为 [*App, *Request]
func dispatch(ctx context.Context, args ...any) (any, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("dispatch expects app and request, got %d args", len(args))
	}
	app, ok := args[0].(*App)
	if !ok {
		return nil, fmt.Errorf("dispatch: unexpected receiver %T", args[0])
	}
	req, ok := args[1].(*Request)
	if !ok {
		return nil, fmt.Errorf("dispatch: unexpected request %T", args[1])
	}
	app.gotFirstRequest.Store(true)

	before, after := app.snapshot()
	var resp *Response
	for _, f := range before {
		var early *Response
		if ctx, early = f(ctx, req); early != nil {
			resp = early
			break
		}
	}

	if resp == nil {
		if h, ok := app.lookup(req.Method, req.Path); !ok {
			resp = Text(http.StatusNotFound, "not found")
		} else if r, err := h(ctx, req); err != nil {
			resp = app.handleError(ctx, req, err)
		} else if r == nil {
			resp = Text(http.StatusNoContent, "")
		} else {
			resp = r
		}
	}

	for _, f := range after {
		f(ctx, req, resp)
	}
	return resp, nil
}
