package testutil

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// Entry 一条被记录的日志
type Entry struct {
	Level  string
	Msg    string
	Fields []any
}

// RecordingLogger 记录所有日志，便于断言告警次数
type RecordingLogger struct {
	mu      sync.Mutex
	entries []Entry
}

// NewRecordingLogger 创建记录型日志器
func NewRecordingLogger() *RecordingLogger {
	return &RecordingLogger{}
}

func (r *RecordingLogger) add(level, msg string, fields []any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, Entry{Level: level, Msg: msg, Fields: fields})
}

func (r *RecordingLogger) Debug(msg string, fields ...any) { r.add("debug", msg, fields) }
func (r *RecordingLogger) Info(msg string, fields ...any)  { r.add("info", msg, fields) }
func (r *RecordingLogger) Warn(msg string, fields ...any)  { r.add("warn", msg, fields) }
func (r *RecordingLogger) Error(msg string, fields ...any) { r.add("error", msg, fields) }

func (r *RecordingLogger) Err(err error, msg string, fields ...any) {
	r.add("error", fmt.Sprintf("%s: %v", msg, err), fields)
}

// Count 返回指定级别的日志条数
func (r *RecordingLogger) Count(level string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.entries {
		if e.Level == level {
			n++
		}
	}
	return n
}

// Entries 返回日志快照
func (r *RecordingLogger) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.entries...)
}

// SetupTestRedis 连接测试 Redis，未配置 TEST_REDIS_ADDR 或不可达时跳过测试
func SetupTestRedis(t testing.TB) *redis.Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set, skipping redis test")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skipf("redis not reachable at %s: %v", addr, err)
	}
	return client
}
