// Package regexutil 提供带并发安全缓存的正则匹配，供条件表达式与白名单共用
package regexutil

import (
	"regexp"
	"sync"
)

// Cache 编译结果缓存，编译失败的模式同样缓存，避免每次请求重复编译
type Cache struct {
	compiled sync.Map // pattern -> entry
}

type entry struct {
	re  *regexp.Regexp
	err error
}

// New 创建正则缓存
func New() *Cache {
	return &Cache{}
}

// Default 进程级共享缓存
var Default = New()

// Get 获取编译后的正则
func (c *Cache) Get(pattern string) (*regexp.Regexp, error) {
	if v, ok := c.compiled.Load(pattern); ok {
		e := v.(entry)
		return e.re, e.err
	}
	re, err := regexp.Compile(pattern)
	v, _ := c.compiled.LoadOrStore(pattern, entry{re: re, err: err})
	e := v.(entry)
	return e.re, e.err
}

// Match 非法模式视为不匹配
func (c *Cache) Match(pattern, s string) bool {
	re, err := c.Get(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(s)
}

// MatchAny 返回第一个匹配的模式
func (c *Cache) MatchAny(patterns []string, s string) (string, bool) {
	for _, p := range patterns {
		if c.Match(p, s) {
			return p, true
		}
	}
	return "", false
}
