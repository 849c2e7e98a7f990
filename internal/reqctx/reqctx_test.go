package reqctx_test

import (
	"context"
	"testing"

	"hookguard/internal/reqctx"
)

// TestMiddleware_BeginAttachesRecord 验证 Begin 建立上下文并解析客户端地址
func TestMiddleware_BeginAttachesRecord(t *testing.T) {
	mw := reqctx.NewMiddleware(nil)

	if reqctx.From(context.Background()) != nil {
		t.Fatal("空 context 不应有请求记录")
	}

	ctx := mw.Begin(context.Background(), reqctx.Info{
		Method:     "GET",
		Path:       "/login",
		RemoteAddr: "10.0.0.1:5555",
		Headers:    map[string]string{"User-Agent": "curl"},
	})
	r := reqctx.From(ctx)
	if r == nil {
		t.Fatal("Begin 后应存在请求记录")
	}
	if r.ClientIP != "10.0.0.1" {
		t.Errorf("期望 10.0.0.1, 实际 %s", r.ClientIP)
	}
	if r.ID == "" {
		t.Error("请求记录应带 ID")
	}
	if got := r.Bindings()["headers"].(map[string]any)["user-agent"]; got != "curl" {
		t.Errorf("请求头应以小写键暴露, 实际 %v", got)
	}
	mw.End(ctx, 200)
}

// TestRecord_ClientIP 只有信任代理时才读取转发头
func TestRecord_ClientIP(t *testing.T) {
	cases := []struct {
		name    string
		trust   bool
		headers map[string]string
		want    string
	}{
		{"不信任代理时忽略转发头", false, map[string]string{"X-Forwarded-For": "203.0.113.9", "X-Real-IP": "198.51.100.1"}, "127.0.0.1"},
		{"转发头取第一个地址", true, map[string]string{"x-forwarded-for": "203.0.113.9, 10.0.0.2"}, "203.0.113.9"},
		{"X-Forwarded-For 优先于 X-Real-IP", true, map[string]string{"X-Forwarded-For": "203.0.113.9", "X-Real-IP": "198.51.100.1"}, "203.0.113.9"},
		{"退回 X-Real-IP", true, map[string]string{"x-real-ip": " 198.51.100.1 "}, "198.51.100.1"},
		{"没有转发头时取对端地址", true, nil, "127.0.0.1"},
	}
	for _, tc := range cases {
		r := reqctx.NewRecord(reqctx.Info{RemoteAddr: "127.0.0.1:80", Headers: tc.headers, TrustProxy: tc.trust})
		if r.ClientIP != tc.want {
			t.Errorf("%s: 期望 %s, 实际 %s", tc.name, tc.want, r.ClientIP)
		}
	}
}

// TestMiddleware_TrustProxy 中间件选项决定是否读取转发头，已有记录时沿用
func TestMiddleware_TrustProxy(t *testing.T) {
	info := reqctx.Info{RemoteAddr: "10.0.0.1:5555", Headers: map[string]string{"X-Real-IP": "198.51.100.7"}}

	if got := reqctx.From(reqctx.NewMiddleware(nil).Begin(context.Background(), info)).ClientIP; got != "10.0.0.1" {
		t.Errorf("默认不信任代理, 实际 %s", got)
	}
	mw := reqctx.NewMiddleware(nil, reqctx.WithTrustProxy(true))
	ctx := mw.Begin(context.Background(), info)
	first := reqctx.From(ctx)
	if first.ClientIP != "198.51.100.7" {
		t.Errorf("信任代理时应取 X-Real-IP, 实际 %s", first.ClientIP)
	}
	if again := reqctx.From(mw.Begin(ctx, info)); again != first {
		t.Error("已有请求记录时应沿用")
	}
}

// TestRecord_PayloadAndTags 载荷与标签快照
func TestRecord_PayloadAndTags(t *testing.T) {
	r := reqctx.NewRecord(reqctx.Info{RemoteAddr: "127.0.0.1:80"})
	r.AddPayload("params", map[string]any{"q": "1"})
	r.AddTag("route", "/search")
	if len(r.Payload()) != 1 || r.Tags()["route"] != "/search" {
		t.Error("载荷或标签未正确记录")
	}
}
