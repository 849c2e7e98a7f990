// Package webapp 为 webapp 框架提供挂钩适配
package webapp

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"hookguard/internal/framework/webapp"
	"hookguard/internal/loader"
	"hookguard/internal/logger"
	"hookguard/internal/reqctx"
	"hookguard/internal/strategy"
	"hookguard/pkg/errx"
)

var (
	_ strategy.Adapter  = (*Adapter)(nil)
	_ strategy.Preparer = (*Adapter)(nil)
)

// Name 规则中引用该适配器的策略名
const Name = "webapp"

// Adapter 在首次分发请求时把请求上下文中间件插到应用前后钩子的最前面
type Adapter struct {
	log     logger.Logger
	spliced sync.Map // *webapp.App -> bool，是否插入了中间件
}

// New 创建适配器
func New(log logger.Logger) *Adapter {
	if log == nil {
		log = logger.NewNop()
	}
	return &Adapter{log: log}
}

func (a *Adapter) ModuleName() string { return webapp.ModuleName }
func (a *Adapter) HookClass() string  { return webapp.ClassName }
func (a *Adapter) HookMethod() string { return webapp.DispatchMethod }

// Wrap 生成替换 App.dispatch 的函数，每个应用最多插入一次中间件
func (a *Adapter) Wrap(original loader.Func, mw *reqctx.Middleware) loader.Func {
	return func(ctx context.Context, args ...any) (any, error) {
		if len(args) > 0 {
			if app, ok := args[0].(*webapp.App); ok {
				a.ensure(app, mw)
			}
		}
		return original(ctx, args...)
	}
}

// Prepare 在挂钩点上的规则回调之前插入中间件并建立请求上下文，
// 框架自身的前置钩子随后沿用同一条记录
func (a *Adapter) Prepare(ctx context.Context, args []any, mw *reqctx.Middleware) context.Context {
	if len(args) < 2 {
		return ctx
	}
	app, ok := args[0].(*webapp.App)
	if !ok || !a.ensure(app, mw) {
		return ctx
	}
	req, ok := args[1].(*webapp.Request)
	if !ok {
		return ctx
	}
	return mw.Begin(ctx, requestInfo(req))
}

// ensure 每个应用只判断一次，返回该应用是否已插入中间件
func (a *Adapter) ensure(app *webapp.App, mw *reqctx.Middleware) bool {
	if v, ok := a.spliced.Load(app); ok {
		return v.(bool)
	}
	ok := !app.GotFirstRequest()
	if v, loaded := a.spliced.LoadOrStore(app, ok); loaded {
		return v.(bool)
	}
	if ok {
		a.splice(app, mw)
	} else {
		a.log.Warn("应用已处理过请求，跳过中间件插入", "module", webapp.ModuleName)
	}
	return ok
}

func requestInfo(req *webapp.Request) reqctx.Info {
	return reqctx.Info{
		Method:     req.Method,
		Path:       req.Path,
		RemoteAddr: req.RemoteAddr,
		Headers:    req.Headers,
	}
}

func (a *Adapter) splice(app *webapp.App, mw *reqctx.Middleware) {
	app.PrependBeforeRequest(func(ctx context.Context, req *webapp.Request) (context.Context, *webapp.Response) {
		return mw.Begin(ctx, requestInfo(req)), nil
	})
	app.PrependAfterRequest(func(ctx context.Context, _ *webapp.Request, resp *webapp.Response) {
		status := 0
		if resp != nil {
			status = resp.Status
		}
		mw.End(ctx, status)
	})
	app.PrependErrorHandler(func(_ context.Context, _ *webapp.Request, err error) *webapp.Response {
		if errors.Is(err, errx.ErrBlocked) {
			return webapp.Text(http.StatusForbidden, "request blocked")
		}
		return nil
	})
	a.log.Info("请求上下文中间件已插入", "module", webapp.ModuleName)
}
