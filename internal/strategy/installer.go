package strategy

import (
	"hookguard/internal/callback"
	"hookguard/internal/loader"
	"hookguard/internal/logger"
	"hookguard/internal/reqctx"
	"hookguard/pkg/errx"
	"hookguard/pkg/rulespec"
)

// Installer 按挂钩点归并回调，保证每个挂钩点只有一个策略
type Installer struct {
	watcher    *loader.Watcher
	mw         *reqctx.Middleware
	log        logger.Logger
	strategies map[Key]Strategy
	order      []Key
}

// NewInstaller 创建安装器
func NewInstaller(w *loader.Watcher, mw *reqctx.Middleware, log logger.Logger) *Installer {
	if log == nil {
		log = logger.NewNop()
	}
	return &Installer{
		watcher:    w,
		mw:         mw,
		log:        log,
		strategies: make(map[Key]Strategy),
	}
}

// Add 把回调挂到对应挂钩点的策略上，kind 为 import 或已注册的框架适配器名
func (i *Installer) Add(kind string, cb callback.Callback) error {
	key := cb.HookPoint()
	s, ok := i.strategies[key]
	if !ok {
		var err error
		if s, err = i.newStrategy(kind, key); err != nil {
			return err
		}
	}
	s.Add(cb)
	return nil
}

// Framework 确保框架策略已登记，即使没有规则挂在其入口方法上
func (i *Installer) Framework(name string) (*FrameworkStrategy, error) {
	a, ok := AdapterFor(name)
	if !ok {
		return nil, errx.Newf(errx.CodeHookInstallation, "unknown framework adapter %q", name)
	}
	key := Key{Module: a.ModuleName(), Class: a.HookClass(), Method: a.HookMethod()}
	if s, ok := i.strategies[key]; ok {
		fs, isFramework := s.(*FrameworkStrategy)
		if !isFramework {
			return nil, errx.Newf(errx.CodeHookInstallation, "hookpoint %s already taken by %T", key, s)
		}
		return fs, nil
	}
	fs := NewFrameworkStrategy(name, a, i.mw, i.watcher, i.log)
	i.put(key, fs)
	return fs, nil
}

func (i *Installer) newStrategy(kind string, key Key) (Strategy, error) {
	if kind == "" || kind == rulespec.StrategyImport {
		s := NewImportStrategy(key, i.watcher, i.log)
		i.put(key, s)
		return s, nil
	}

	fs, err := i.Framework(kind)
	if err != nil {
		return nil, err
	}
	if fs.Key() != key {
		return nil, errx.Newf(errx.CodeHookInstallation, "framework %s hooks %s, rule targets %s", kind, fs.Key(), key)
	}
	return fs, nil
}

func (i *Installer) put(key Key, s Strategy) {
	i.strategies[key] = s
	i.order = append(i.order, key)
}

// HookAll 安装全部策略，单个挂钩点失败只记录日志，返回失败个数
func (i *Installer) HookAll() int {
	failed := 0
	for _, key := range i.order {
		if err := i.strategies[key].Hook(); err != nil {
			failed++
			i.log.Err(err, "挂钩点安装失败", "hookpoint", key.String())
		}
	}
	return failed
}

// Strategies 按登记顺序返回全部策略
func (i *Installer) Strategies() []Strategy {
	out := make([]Strategy, 0, len(i.order))
	for _, key := range i.order {
		out = append(out, i.strategies[key])
	}
	return out
}

// Lookup 查找挂钩点上的策略
func (i *Installer) Lookup(key Key) (Strategy, bool) {
	s, ok := i.strategies[key]
	return s, ok
}
