package loader

import (
	"fmt"
	"sync"

	"hookguard/internal/logger"
)

// OnLoad 模块加载完成回调
type OnLoad func(m *Module) error

// Watcher 模块加载观察者：目标模块可用时恰好触发一次回调
type Watcher struct {
	loader    *Loader
	log       logger.Logger
	mu        sync.Mutex
	pending   map[string][]OnLoad
	installed bool
}

// NewWatcher 创建模块加载观察者
func NewWatcher(l *Loader, log logger.Logger) *Watcher {
	if log == nil {
		log = logger.NewNop()
	}
	return &Watcher{
		loader:  l,
		log:     log,
		pending: make(map[string][]OnLoad),
	}
}

// Register 登记模块加载回调
// 模块已解析时同步执行回调，并提示此前持有的引用看不到替换结果
func (w *Watcher) Register(name string, onLoad OnLoad) {
	if m, ok := w.loader.Lookup(name); ok {
		w.log.Warn("模块已加载，延迟挂钩可能对已持有的引用无效", "module", name)
		w.invoke(name, m, onLoad)
		return
	}

	w.mu.Lock()
	w.pending[name] = append(w.pending[name], onLoad)
	install := !w.installed
	w.installed = true
	w.mu.Unlock()

	if install {
		w.loader.Prepend(w)
	}
	w.log.Debug("登记模块加载回调", "module", name)
}

// Pending 返回尚未触发回调的模块数
func (w *Watcher) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// Find 接管被观察模块的解析：先完成正常加载，再触发回调，最后交还给加载器缓存
func (w *Watcher) Find(name string, parent *Module, next Next) (*Module, error) {
	w.mu.Lock()
	callbacks, watched := w.pending[name]
	if watched {
		delete(w.pending, name)
	}
	w.mu.Unlock()

	m, err := next()
	if !watched {
		return m, err
	}
	if err != nil || m == nil {
		// 加载失败时保留回调，等待下一次成功加载
		w.mu.Lock()
		w.pending[name] = append(callbacks, w.pending[name]...)
		w.mu.Unlock()
		return m, err
	}

	for _, cb := range callbacks {
		w.invoke(name, m, cb)
	}
	return m, nil
}

// invoke 执行回调，回调失败不影响宿主加载模块
func (w *Watcher) invoke(name string, m *Module, cb OnLoad) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("模块加载回调异常", "module", name, "panic", fmt.Sprint(r))
		}
	}()
	if err := cb(m); err != nil {
		w.log.Err(err, "模块加载回调失败", "module", name)
	}
}
