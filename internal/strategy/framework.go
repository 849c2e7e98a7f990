package strategy

import (
	"context"
	"fmt"
	"sync"

	"hookguard/internal/loader"
	"hookguard/internal/logger"
	"hookguard/internal/reqctx"
	"hookguard/pkg/errx"
)

// Adapter Web 框架适配器：给出挂钩点，并生成把中间件插入框架请求流程的包装函数
type Adapter interface {
	ModuleName() string
	HookClass() string
	HookMethod() string
	Wrap(original loader.Func, mw *reqctx.Middleware) loader.Func
}

// Preparer 可选接口：在挂钩点上的规则回调执行前准备本次调用，
// 通常是插入中间件并建立请求上下文，使回调能记录攻击并应用白名单
type Preparer interface {
	Prepare(ctx context.Context, args []any, mw *reqctx.Middleware) context.Context
}

var (
	adaptersMu sync.RWMutex
	adapters   = make(map[string]Adapter)
)

// RegisterAdapter 注册框架适配器，名称即规则 hookpoint.strategy 的取值
func RegisterAdapter(name string, a Adapter) {
	adaptersMu.Lock()
	defer adaptersMu.Unlock()
	adapters[name] = a
}

// AdapterFor 按名称查找框架适配器
func AdapterFor(name string) (Adapter, bool) {
	adaptersMu.RLock()
	defer adaptersMu.RUnlock()
	a, ok := adapters[name]
	return a, ok
}

// FrameworkStrategy 框架策略：用适配器生成的包装函数替换框架的入口方法
// 同一挂钩点上的规则回调包在适配器包装之外，适配器实现 Preparer 时先于回调执行
type FrameworkStrategy struct {
	base
	name    string
	adapter Adapter
	mw      *reqctx.Middleware
	watcher *loader.Watcher
}

// NewFrameworkStrategy 创建框架策略
func NewFrameworkStrategy(name string, a Adapter, mw *reqctx.Middleware, w *loader.Watcher, log logger.Logger) *FrameworkStrategy {
	if log == nil {
		log = logger.NewNop()
	}
	return &FrameworkStrategy{
		base: base{
			key: Key{Module: a.ModuleName(), Class: a.HookClass(), Method: a.HookMethod()},
			log: log,
		},
		name:    name,
		adapter: a,
		mw:      mw,
		watcher: w,
	}
}

// Hook 登记模块加载回调
func (s *FrameworkStrategy) Hook() error {
	if s.hooked {
		return nil
	}
	s.hooked = true
	s.watcher.Register(s.key.Module, s.install)
	return s.err
}

func (s *FrameworkStrategy) install(m *loader.Module) error {
	s.err = patch(m, s.key, func(orig loader.Func) loader.Func {
		wrapped := wrapLifecycle(s.key, s.adapter.Wrap(orig, s.mw), s.callbacks, s.log)
		p, ok := s.adapter.(Preparer)
		if !ok {
			return wrapped
		}
		return func(ctx context.Context, args ...any) (any, error) {
			return wrapped(p.Prepare(ctx, args, s.mw), args...)
		}
	})
	if s.err == nil {
		s.log.Info("框架挂钩完成", "framework", s.name, "hookpoint", s.key.String())
	}
	return s.err
}

// Restore 不支持还原，替换后的方法在进程生命周期内保持不变
func (s *FrameworkStrategy) Restore() error {
	return errx.ErrUnsupported
}

func (s *FrameworkStrategy) String() string {
	return fmt.Sprintf("%s(%s)", s.name, s.key)
}
