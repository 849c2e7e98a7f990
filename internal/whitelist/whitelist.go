// Package whitelist 判断请求路径是否命中白名单
package whitelist

import "hookguard/internal/regexutil"

// Matcher 路径白名单，模式为正则表达式
type Matcher struct {
	patterns []string
	cache    *regexutil.Cache
}

// New 创建白名单
func New(patterns []string) *Matcher {
	return &Matcher{
		patterns: append([]string(nil), patterns...),
		cache:    regexutil.Default,
	}
}

// With 合并额外的模式（规则级白名单）后返回新的匹配器
func (m *Matcher) With(patterns []string) *Matcher {
	if m == nil {
		return New(patterns)
	}
	if len(patterns) == 0 {
		return m
	}
	merged := make([]string, 0, len(m.patterns)+len(patterns))
	merged = append(merged, m.patterns...)
	merged = append(merged, patterns...)
	return &Matcher{patterns: merged, cache: m.cache}
}

// Match 返回命中的模式
func (m *Matcher) Match(path string) (string, bool) {
	if m == nil || len(m.patterns) == 0 {
		return "", false
	}
	return m.cache.MatchAny(m.patterns, path)
}
