package db

import (
	"context"
	"errors"
	"time"

	"hookguard/internal/logger"

	"gorm.io/gorm"
	glog "gorm.io/gorm/logger"
)

// slowThreshold 慢查询阈值
const slowThreshold = 500 * time.Millisecond

// Logger 把 GORM 日志转到统一日志器
type Logger struct {
	log   logger.Logger
	level glog.LogLevel
}

// NewLogger 创建 GORM 日志桥接，默认只记录警告与错误
func NewLogger(l logger.Logger) *Logger {
	if l == nil {
		l = logger.NewNop()
	}
	return &Logger{log: l, level: glog.Warn}
}

func (l *Logger) LogMode(level glog.LogLevel) glog.Interface {
	c := *l
	c.level = level
	return &c
}

func (l *Logger) Info(_ context.Context, msg string, data ...any) {
	if l.level >= glog.Info {
		l.log.Debug(msg, "data", data)
	}
}

func (l *Logger) Warn(_ context.Context, msg string, data ...any) {
	if l.level >= glog.Warn {
		l.log.Warn(msg, "data", data)
	}
}

func (l *Logger) Error(_ context.Context, msg string, data ...any) {
	if l.level >= glog.Error {
		l.log.Error(msg, "data", data)
	}
}

// Trace 记录出错与慢查询，记录不存在不算错误
func (l *Logger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= glog.Silent {
		return
	}
	elapsed := time.Since(begin)
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && l.level >= glog.Error:
		sql, rows := fc()
		l.log.Err(err, "SQL执行错误", "sql", sql, "rows", rows, "costMs", elapsed.Milliseconds())
	case elapsed > slowThreshold && l.level >= glog.Warn:
		sql, rows := fc()
		l.log.Warn("慢SQL查询", "sql", sql, "rows", rows, "costMs", elapsed.Milliseconds())
	case l.level >= glog.Info:
		sql, rows := fc()
		l.log.Debug("SQL执行", "sql", sql, "rows", rows, "costMs", elapsed.Milliseconds())
	}
}
