package loader

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrModuleNotFound 没有任何解析器能提供该模块
var ErrModuleNotFound = errors.New("module not found")

// Next 继续执行解析链中剩余的解析器
type Next func() (*Module, error)

// Finder 模块解析器，不负责的模块应直接返回 next()
type Finder interface {
	Find(name string, parent *Module, next Next) (*Module, error)
}

// FinderFunc 函数形式的解析器
type FinderFunc func(name string, parent *Module, next Next) (*Module, error)

func (f FinderFunc) Find(name string, parent *Module, next Next) (*Module, error) {
	return f(name, parent, next)
}

// Loader 模块缓存与按优先级排列的解析链
type Loader struct {
	mu      sync.RWMutex
	cache   map[string]*Module
	finders []Finder
}

// New 创建模块加载器，finders 按优先级从高到低排列
func New(finders ...Finder) *Loader {
	return &Loader{
		cache:   make(map[string]*Module),
		finders: append([]Finder(nil), finders...),
	}
}

// Loaded 判断模块是否已解析
func (l *Loader) Loaded(name string) bool {
	_, ok := l.Lookup(name)
	return ok
}

// Lookup 仅查询缓存，不触发加载
func (l *Loader) Lookup(name string) (*Module, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	m, ok := l.cache[name]
	return m, ok
}

// Prepend 将解析器插入解析链最前端
func (l *Loader) Prepend(f Finder) {
	l.mu.Lock()
	defer l.mu.Unlock()
	finders := make([]Finder, 0, len(l.finders)+1)
	finders = append(finders, f)
	l.finders = append(finders, l.finders...)
}

// Append 将解析器追加到解析链末端
func (l *Loader) Append(f Finder) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.finders = append(l.finders, f)
}

// Import 返回已缓存的模块，否则按点分路径逐级解析祖先后加载目标模块
func (l *Loader) Import(name string) (*Module, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty name", ErrModuleNotFound)
	}
	if m, ok := l.Lookup(name); ok {
		return m, nil
	}

	var parent *Module
	if i := strings.LastIndex(name, "."); i > 0 {
		p, err := l.importAncestor(name[:i])
		if err != nil {
			return nil, err
		}
		parent = p
	}

	m, err := l.resolve(name, parent)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, name)
	}
	return l.store(name, m), nil
}

// importAncestor 祖先模块无人提供时视为空的命名空间模块
func (l *Loader) importAncestor(name string) (*Module, error) {
	m, err := l.Import(name)
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, ErrModuleNotFound) {
		return nil, err
	}
	return l.store(name, NewModule(name)), nil
}

// resolve 依次执行解析链
func (l *Loader) resolve(name string, parent *Module) (*Module, error) {
	l.mu.RLock()
	finders := append([]Finder(nil), l.finders...)
	l.mu.RUnlock()

	var step func(i int) (*Module, error)
	step = func(i int) (*Module, error) {
		if i >= len(finders) {
			return nil, nil
		}
		return finders[i].Find(name, parent, func() (*Module, error) { return step(i + 1) })
	}
	return step(0)
}

// store 写入缓存，并发加载时以先写入者为准
func (l *Loader) store(name string, m *Module) *Module {
	l.mu.Lock()
	defer l.mu.Unlock()
	if existing, ok := l.cache[name]; ok {
		return existing
	}
	l.cache[name] = m
	return m
}

// StaticFinder 启动时登记的宿主组件
type StaticFinder struct {
	mu       sync.RWMutex
	builders map[string]func() *Module
}

// NewStaticFinder 创建静态解析器
func NewStaticFinder() *StaticFinder {
	return &StaticFinder{builders: make(map[string]func() *Module)}
}

// Register 登记模块构造函数
func (s *StaticFinder) Register(name string, build func() *Module) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.builders[name] = build
}

func (s *StaticFinder) Find(name string, parent *Module, next Next) (*Module, error) {
	s.mu.RLock()
	build, ok := s.builders[name]
	s.mu.RUnlock()
	if !ok {
		return next()
	}
	m := build()
	if m == nil {
		return nil, fmt.Errorf("%w: %s builder returned nil", ErrModuleNotFound, name)
	}
	return m, nil
}
