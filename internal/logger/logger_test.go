package logger_test

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"hookguard/internal/logger"
)

// TestZeroLogger_LevelFilter 验证级别过滤与字段输出
func TestZeroLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := logger.New(logger.Options{Level: "warn", Output: &buf})

	l.Debug("调试信息")
	l.Info("一般信息")
	l.Warn("警告信息", "rule", "sqli")
	l.Err(errors.New("boom"), "错误信息")

	out := buf.String()
	if strings.Contains(out, "调试信息") || strings.Contains(out, "一般信息") {
		t.Errorf("低于 warn 的日志不应输出: %s", out)
	}
	if !strings.Contains(out, `"rule":"sqli"`) {
		t.Errorf("期望输出字段 rule=sqli, 实际: %s", out)
	}
	if !strings.Contains(out, `"error":"boom"`) {
		t.Errorf("期望输出 error 字段, 实际: %s", out)
	}
}

// TestZeroLogger_Disabled 验证 disabled 级别不输出任何内容
func TestZeroLogger_Disabled(t *testing.T) {
	var buf bytes.Buffer
	l := logger.New(logger.Options{Level: "disabled", Output: &buf})
	l.Error("不应输出")
	if buf.Len() != 0 {
		t.Errorf("disabled 时不应输出日志, 实际: %s", buf.String())
	}
}
