// Package strategy 负责把回调安装到挂钩点上
package strategy

import (
	"context"
	"fmt"
	"sort"

	"hookguard/internal/callback"
	"hookguard/internal/loader"
	"hookguard/internal/logger"
	"hookguard/pkg/errx"
)

// Key 挂钩点
type Key = callback.Key

// Strategy 为一个挂钩点安装拦截，Hook 只生效一次
type Strategy interface {
	Key() Key
	Hook() error
	Hooked() bool
	Add(cb callback.Callback)
	Callbacks() []callback.Callback
}

// prioritized 可选接口，用于同一挂钩点上回调的排序
type prioritized interface {
	Priority() int
}

func priorityOf(cb callback.Callback) int {
	if p, ok := cb.(prioritized); ok {
		return p.Priority()
	}
	return 0
}

// base 策略公共状态
type base struct {
	key       Key
	log       logger.Logger
	hooked    bool
	err       error
	callbacks []callback.Callback
}

func (b *base) Key() Key                       { return b.key }
func (b *base) Hooked() bool                   { return b.hooked }
func (b *base) Callbacks() []callback.Callback { return b.callbacks }

// Add 按优先级插入回调，同优先级保持加入顺序
func (b *base) Add(cb callback.Callback) {
	b.callbacks = append(b.callbacks, cb)
	sort.SliceStable(b.callbacks, func(i, j int) bool {
		return priorityOf(b.callbacks[i]) < priorityOf(b.callbacks[j])
	})
}

// patch 在已加载的模块中找到目标方法并替换
// 类名为空时目标是模块级函数
func patch(m *loader.Module, key Key, wrap func(loader.Func) loader.Func) error {
	if key.Class == "" {
		v, ok := m.Attr(key.Method)
		fn, isFunc := v.(loader.Func)
		if !ok || !isFunc || fn == nil {
			return errx.Newf(errx.CodeHookInstallation, "module %s has no function %q", m.Name, key.Method)
		}
		m.SetAttr(key.Method, wrap(fn))
		return nil
	}

	cls, ok := m.Class(key.Class)
	if !ok {
		return errx.Newf(errx.CodeHookInstallation, "module %s has no class %q", m.Name, key.Class)
	}
	orig, ok := cls.Method(key.Method)
	if !ok {
		return errx.Newf(errx.CodeHookInstallation, "class %s.%s has no method %q", m.Name, key.Class, key.Method)
	}
	cls.SetMethod(key.Method, wrap(orig))
	return nil
}

// lifecycles 安装时按阶段收集的回调方法
type lifecycles struct {
	pre, post, failing []callback.LifecycleFunc
}

func collect(cbs []callback.Callback) lifecycles {
	var ls lifecycles
	for _, cb := range cbs {
		if fn := cb.OnPre(); fn != nil {
			ls.pre = append(ls.pre, fn)
		}
		if fn := cb.OnPost(); fn != nil {
			ls.post = append(ls.post, fn)
		}
		if fn := cb.OnFailing(); fn != nil {
			ls.failing = append(ls.failing, fn)
		}
	}
	return ls
}

func (ls lifecycles) empty() bool {
	return len(ls.pre) == 0 && len(ls.post) == 0 && len(ls.failing) == 0
}

// wrapLifecycle 生成执行 pre/post/failing 回调的包装函数
//
// pre 的参数为 [inst, args...]，post 为 [inst, ret, args...]，failing 为 [inst, err, args...]。
// 回调自身的错误与 panic 只记录日志，不影响原调用。
func wrapLifecycle(key Key, orig loader.Func, cbs []callback.Callback, log logger.Logger) loader.Func {
	ls := collect(cbs)
	if ls.empty() {
		return orig
	}
	name := key.String()

	return func(ctx context.Context, args ...any) (any, error) {
		var inst any
		var callArgs []any
		hasInst := len(args) > 0
		if hasInst {
			inst, callArgs = args[0], args[1:]
		}

		for _, fn := range ls.pre {
			res := run(ctx, log, name, callback.Pre, fn, prepend(callArgs, inst))
			if res == nil {
				continue
			}
			switch res.Status {
			case callback.StatusRaise:
				return nil, raised(res)
			case callback.StatusOverride:
				return res.Value, nil
			case callback.StatusModifyArgs:
				callArgs = res.Args
			}
		}

		forward := callArgs
		if hasInst {
			forward = prepend(callArgs, inst)
		}
		ret, err := orig(ctx, forward...)
		if err != nil {
			for _, fn := range ls.failing {
				res := run(ctx, log, name, callback.Failing, fn, prepend(callArgs, inst, err))
				if res == nil {
					continue
				}
				switch res.Status {
				case callback.StatusRaise:
					err = raised(res)
				case callback.StatusOverride:
					return res.Value, nil
				}
			}
			return ret, err
		}

		for _, fn := range ls.post {
			res := run(ctx, log, name, callback.Post, fn, prepend(callArgs, inst, ret))
			if res == nil {
				continue
			}
			switch res.Status {
			case callback.StatusRaise:
				return nil, raised(res)
			case callback.StatusOverride:
				ret = res.Value
			}
		}
		return ret, nil
	}
}

// run 执行一个回调方法，错误与 panic 被吞掉
func run(ctx context.Context, log logger.Logger, name string, l callback.Lifecycle, fn callback.LifecycleFunc, args []any) (res *callback.Result) {
	defer func() {
		if r := recover(); r != nil {
			err := errx.Newf(errx.CodeLifecycleExecution, "panic: %v", r)
			log.Err(err, "回调执行异常", "hookpoint", name, "lifecycle", string(l))
			res = nil
		}
	}()
	res, err := fn(ctx, args)
	if err != nil {
		log.Err(errx.Wrap(errx.CodeLifecycleExecution, err, "lifecycle body"), "回调执行失败", "hookpoint", name, "lifecycle", string(l))
		return nil
	}
	return res
}

func raised(res *callback.Result) error {
	if res.Err != nil {
		return res.Err
	}
	return errx.ErrBlocked
}

func prepend(rest []any, head ...any) []any {
	out := make([]any, 0, len(head)+len(rest))
	out = append(out, head...)
	return append(out, rest...)
}

// ImportStrategy 通用策略：模块加载时替换目标方法为生命周期包装函数
type ImportStrategy struct {
	base
	watcher *loader.Watcher
}

// NewImportStrategy 创建通用策略
func NewImportStrategy(key Key, w *loader.Watcher, log logger.Logger) *ImportStrategy {
	if log == nil {
		log = logger.NewNop()
	}
	return &ImportStrategy{base: base{key: key, log: log}, watcher: w}
}

// Hook 登记模块加载回调，模块已加载时立即安装并返回安装错误
func (s *ImportStrategy) Hook() error {
	if s.hooked {
		return nil
	}
	s.hooked = true
	s.watcher.Register(s.key.Module, s.install)
	return s.err
}

func (s *ImportStrategy) install(m *loader.Module) error {
	s.err = patch(m, s.key, func(orig loader.Func) loader.Func {
		return wrapLifecycle(s.key, orig, s.callbacks, s.log)
	})
	if s.err == nil {
		s.log.Info("挂钩点安装完成", "hookpoint", s.key.String(), "callbacks", len(s.callbacks))
	}
	return s.err
}

func (s *ImportStrategy) String() string {
	return fmt.Sprintf("import(%s)", s.key)
}
